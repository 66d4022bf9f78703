package solver

import (
	"context"

	"github.com/google/uuid"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
)

// Problem — задача на распределение, отправляемая солверу.
type Problem struct {
	// Kind — instant или sameday: от режима зависит форма решения.
	Kind domain.DispatchMode `json:"kind"`

	// AreaID — демографическая зона задачи.
	AreaID string `json:"area_id"`

	// BatchID — batch, по которому собрана задача (same-day).
	BatchID *uuid.UUID `json:"batch_id,omitempty"`

	// Centroid — центр кластера (instant).
	Centroid domain.Coordinate `json:"centroid"`

	// Orders — заказы задачи.
	Orders []ProblemOrder `json:"orders"`
}

// ProblemOrder — заказ в составе задачи солвера.
type ProblemOrder struct {
	OrderID     uuid.UUID         `json:"order_id"`
	Origin      domain.Coordinate `json:"origin"`
	Destination domain.Coordinate `json:"destination"`
}

// Assignment — результат instant-распределения: заказ → водитель.
type Assignment struct {
	OrderID  uuid.UUID `json:"order_id"`
	DriverID string    `json:"driver_id"`
	JobID    string    `json:"job_id"`
}

// DeliveryJob — результат same-day распределения: водитель и
// упорядоченная последовательность остановок.
type DeliveryJob struct {
	JobID    string      `json:"job_id"`
	DriverID string      `json:"driver_id"`
	Stops    []uuid.UUID `json:"stops"`
}

// Solution — состояние задачи по результатам Query.
//
// Пока InProgress=true, остальные поля не заполнены. После завершения
// заполнены Assignments/Unassigned (instant) либо DeliveryJobs
// (same-day).
type Solution struct {
	InProgress   bool          `json:"in_progress"`
	Assignments  []Assignment  `json:"assignments,omitempty"`
	Unassigned   []uuid.UUID   `json:"unassigned,omitempty"`
	DeliveryJobs []DeliveryJob `json:"delivery_jobs,omitempty"`
}

// Client — контракт внешнего солвера: отправить задачу, опрашивать по id.
type Client interface {
	Submit(ctx context.Context, problem Problem) (string, error)
	Query(ctx context.Context, problemID string) (*Solution, error)
}
