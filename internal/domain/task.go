package domain

import (
	"time"

	"github.com/google/uuid"
)

// Команды задач, выполняемых worker pool'ом.
//
// Каждая команда обязана быть идемпотентной: оркестратор может
// повторить любую из них до 5 раз.
const (
	CommandNotifyRestaurant = "notify_restaurant"
	CommandNotifyDriver     = "notify_driver"
	CommandSendToProvider   = "send_to_provider"
	CommandCancelAtProvider = "cancel_at_provider"
	CommandBroadcastJob     = "broadcast_job"
	CommandClusterOrders    = "cluster_orders"
)

// Task — единица работы для worker pool'а.
//
// Task создаётся оркестраторами (жизненный цикл, batch-диспетчеры,
// scheduler) и выполняется stateless worker'ом. Запись в БД — источник
// истины: worker подхватывает QUEUED задачи через polling, даже если
// событие в очереди потерялось.
type Task struct {
	// ID — уникальный идентификатор task.
	ID uuid.UUID `json:"id"`

	// OrderID — заказ, к которому относится задача. Nil для задач
	// уровня системы (cluster_orders).
	OrderID *uuid.UUID `json:"order_id,omitempty"`

	// Command — команда: что именно выполнить.
	Command string `json:"command"`

	// Attempt — номер попытки (начиная с 1, увеличивается при retry).
	Attempt int `json:"attempt"`

	// Status — текущий статус задачи.
	Status TaskStatus `json:"status"`

	// Payload — входные данные команды.
	Payload map[string]any `json:"payload,omitempty"`

	// Error — текст ошибки при неудаче.
	Error string `json:"error,omitempty"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания задачи.
	CreatedAt time.Time `json:"created_at"`
}

// MarkRunning переводит task в статус RUNNING.
func (t *Task) MarkRunning() {
	now := time.Now()
	t.Status = TaskStatusRunning
	t.StartedAt = &now
	t.Attempt++
}

// MarkSucceeded переводит task в статус SUCCEEDED.
func (t *Task) MarkSucceeded() {
	now := time.Now()
	t.Status = TaskStatusSucceeded
	t.FinishedAt = &now
	t.Error = ""
}

// MarkFailed переводит task в статус FAILED с ошибкой.
func (t *Task) MarkFailed(err string) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.FinishedAt = &now
	t.Error = err
}

// ResetForRetry подготавливает task к повторной попытке.
func (t *Task) ResetForRetry() {
	t.Status = TaskStatusQueued
	t.StartedAt = nil
	t.FinishedAt = nil
	t.Error = ""
	// Attempt увеличится при следующем MarkRunning()
}

// CanRetry проверяет, осталась ли попытка.
func (t *Task) CanRetry(maxAttempts int) bool {
	return t.Attempt < maxAttempts
}
