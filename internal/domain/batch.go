package domain

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus — статус батча same-day доставки.
type BatchStatus string

const (
	// BatchStatusSealed — батч запечатан, ждёт отправки солверу.
	BatchStatusSealed BatchStatus = "SEALED"

	// BatchStatusSolving — батч отправлен солверу.
	BatchStatusSolving BatchStatus = "SOLVING"

	// BatchStatusDispatched — delivery jobs разосланы водителям.
	BatchStatusDispatched BatchStatus = "DISPATCHED"

	// BatchStatusFailed — диспетчеризация батча не удалась.
	BatchStatusFailed BatchStatus = "FAILED"
)

// Batch — группа same-day заказов, запечатанная для одной отправки
// солверу.
//
// Запечатывание транзакционно переводит все заказы-члены в BATCHED,
// что исключает двойное включение заказа в разные батчи.
type Batch struct {
	// ID — уникальный идентификатор батча.
	ID uuid.UUID `json:"id"`

	// AreaID — зона, по которой собран батч.
	AreaID string `json:"area_id"`

	// Status — текущий статус батча.
	Status BatchStatus `json:"status"`

	// ProblemID — идентификатор задачи, выданный солвером.
	ProblemID string `json:"problem_id,omitempty"`

	// OrderCount — количество заказов в батче.
	OrderCount int `json:"order_count"`

	// SealedAt — время запечатывания.
	SealedAt time.Time `json:"sealed_at"`

	// CreatedAt — время создания записи.
	CreatedAt time.Time `json:"created_at"`
}

// MarkSolving фиксирует отправку батча солверу.
func (b *Batch) MarkSolving(problemID string) {
	b.Status = BatchStatusSolving
	b.ProblemID = problemID
}

// MarkDispatched фиксирует рассылку delivery jobs.
func (b *Batch) MarkDispatched() {
	b.Status = BatchStatusDispatched
}

// MarkFailed фиксирует неудачу диспетчеризации.
func (b *Batch) MarkFailed() {
	b.Status = BatchStatusFailed
}
