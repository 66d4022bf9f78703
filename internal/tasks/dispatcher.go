package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
	"github.com/hyperlocal-delivery/dispatch/internal/mq"
)

// Store — хранилище задач. Реализуется repo.TaskRepo.
type Store interface {
	Create(ctx context.Context, task *domain.Task) error
}

// Publisher — публикация события о готовой задаче.
type Publisher interface {
	PublishTaskReady(ctx context.Context, payload mq.TaskReadyPayload) error
}

// Dispatcher ставит задачи worker pool'у: durable запись в БД плюс
// событие в очередь.
//
// Запись в БД — источник истины. Если публикация события не удалась,
// задача всё равно будет выполнена: worker подхватит её через polling.
type Dispatcher struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
}

// NewDispatcher создаёт Dispatcher.
func NewDispatcher(store Store, publisher Publisher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: store, publisher: publisher, logger: logger}
}

// Dispatch создаёт задачу и публикует событие tasks.ready.
func (d *Dispatcher) Dispatch(ctx context.Context, orderID *uuid.UUID, command string, payload map[string]any) (*domain.Task, error) {
	task := &domain.Task{
		ID:        uuid.New(),
		OrderID:   orderID,
		Command:   command,
		Status:    domain.TaskStatusQueued,
		Payload:   payload,
		CreatedAt: time.Now(),
	}

	if err := d.store.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task %s: %w", command, err)
	}

	if d.publisher == nil {
		// Polling-only режим: worker заберёт задачу из БД.
		return task, nil
	}

	if err := d.publisher.PublishTaskReady(ctx, mq.TaskReadyPayload{
		TaskID:  task.ID,
		OrderID: orderID,
		Command: command,
	}); err != nil {
		// Задача уже в БД — worker заберёт её через polling.
		d.logger.Warn("failed to publish task.ready",
			"task_id", task.ID,
			"command", command,
			"error", err,
		)
	}

	return task, nil
}
