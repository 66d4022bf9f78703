package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
	"github.com/hyperlocal-delivery/dispatch/internal/taskerr"
)

const defaultHTTPTimeout = 30 * time.Second

// Пути notification-шлюза по командам. Шлюз доставляет уведомления
// ресторанам и водителям и проксирует заказы внешним провайдерам.
var commandPaths = map[string]string{
	domain.CommandNotifyRestaurant: "/notify/restaurant",
	domain.CommandNotifyDriver:     "/notify/driver",
	domain.CommandSendToProvider:   "/provider/send",
	domain.CommandCancelAtProvider: "/provider/cancel",
	domain.CommandBroadcastJob:     "/notify/broadcast",
}

// Notifier — executor HTTP-команд.
//
// Выполняет POST на notification-шлюз: путь выбирается по команде,
// телом идёт task.Payload с добавленным order_id. Классификация
// ответов: 5xx и сетевые ошибки — transient (retry), 4xx — permanent.
type Notifier struct {
	baseURL string
	client  *http.Client
}

// NewNotifier создаёт Notifier для шлюза baseURL.
func NewNotifier(baseURL string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &Notifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Execute выполняет HTTP-команду.
func (n *Notifier) Execute(ctx context.Context, task *domain.Task) error {
	path, ok := commandPaths[task.Command]
	if !ok {
		return taskerr.Permanentf("%w: %s", ErrUnknownCommand, task.Command)
	}

	body := make(map[string]any, len(task.Payload)+1)
	for k, v := range task.Payload {
		body[k] = v
	}
	if task.OrderID != nil {
		body["order_id"] = task.OrderID.String()
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return taskerr.Permanentf("marshal payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return taskerr.Permanentf("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return taskerr.Transientf("%w: %v", ErrHTTPRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		if resp.StatusCode >= 500 {
			return taskerr.Transientf("%w: %s", ErrHTTPRequest, msg)
		}
		return taskerr.Permanentf("%w: %s", ErrHTTPRequest, msg)
	}

	return nil
}

// truncate обрезает строку до maxLen символов.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
