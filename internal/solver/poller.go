package solver

import (
	"context"
	"fmt"
	"time"
)

// DefaultPollInterval — фиксированный интервал опроса солвера.
const DefaultPollInterval = 5 * time.Second

// Poller опрашивает солвер до завершения задачи.
//
// Жёсткого лимита опросов нет: цикл ограничен только контекстом
// вызывающего (execution timeout диспетчера).
type Poller struct {
	client   Client
	interval time.Duration
}

// NewPoller создаёт Poller. interval <= 0 заменяется на
// DefaultPollInterval.
func NewPoller(client Client, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{client: client, interval: interval}
}

// Wait опрашивает задачу каждые interval, пока InProgress не станет
// false, и возвращает финальное решение.
func (p *Poller) Wait(ctx context.Context, problemID string) (*Solution, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		solution, err := p.client.Query(ctx, problemID)
		if err != nil {
			return nil, fmt.Errorf("poll problem %s: %w", problemID, err)
		}
		if !solution.InProgress {
			return solution, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
