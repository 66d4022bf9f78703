package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
	"github.com/hyperlocal-delivery/dispatch/internal/mq"
	"github.com/hyperlocal-delivery/dispatch/internal/solver"
	"github.com/hyperlocal-delivery/dispatch/internal/telemetry"
)

// BatchStore — операции над батчами. Реализуется repo.BatchRepo.
type BatchStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Batch, error)
	Update(ctx context.Context, batch *domain.Batch) error
	ListSealedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Batch, error)
}

// SamedayDispatcher распределяет запечатанные same-day батчи.
//
// В отличие от instant-конвейера блокировки не берутся: батч целиком
// принадлежит одному решению солвера, а двойное включение заказа
// исключено транзакционным запечатыванием. Водители получают
// broadcast delivery jobs и подтверждают назначение; зависшие
// назначения возвращает lease cleanup sweep.
type SamedayDispatcher struct {
	orders  OrderStore
	batches BatchStore
	solver  solver.Client
	poller  *solver.Poller
	stream  StreamPublisher
	tasks   TaskDispatcher
	logger  *slog.Logger
}

// SamedayConfig — конфигурация SamedayDispatcher.
type SamedayConfig struct {
	Orders  OrderStore
	Batches BatchStore
	Solver  solver.Client
	Stream  StreamPublisher
	Tasks   TaskDispatcher

	// PollInterval — интервал опроса солвера.
	PollInterval time.Duration

	Logger *slog.Logger
}

// NewSamedayDispatcher создаёт SamedayDispatcher.
func NewSamedayDispatcher(cfg SamedayConfig) *SamedayDispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SamedayDispatcher{
		orders:  cfg.Orders,
		batches: cfg.Batches,
		solver:  cfg.Solver,
		poller:  solver.NewPoller(cfg.Solver, cfg.PollInterval),
		stream:  cfg.Stream,
		tasks:   cfg.Tasks,
		logger:  logger.With("component", "sameday_dispatcher"),
	}
}

// HandleBatchSealed обрабатывает запечатанный батч: отправляет его
// солверу и рассылает построенные delivery jobs водителям.
//
// Идемпотентен относительно повторной доставки: батч не в SEALED
// пропускается без ошибки.
func (d *SamedayDispatcher) HandleBatchSealed(ctx context.Context, payload mq.BatchSealedPayload) error {
	batch, err := d.batches.GetByID(ctx, payload.BatchID)
	if err != nil {
		return fmt.Errorf("get batch %s: %w", payload.BatchID, err)
	}
	if batch.Status != domain.BatchStatusSealed {
		d.logger.Debug("batch already processed, skipping",
			"batch_id", batch.ID,
			"status", batch.Status,
		)
		return nil
	}

	members, err := d.orders.ListByBatchID(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("list batch orders: %w", err)
	}

	problem := solver.Problem{
		Kind:    domain.ModeSameDay,
		AreaID:  batch.AreaID,
		BatchID: &batch.ID,
	}
	var ids []uuid.UUID
	for _, order := range members {
		if order.DispatchStatus != domain.DispatchBatched {
			continue
		}
		ids = append(ids, order.ID)
		problem.Orders = append(problem.Orders, solver.ProblemOrder{
			OrderID:     order.ID,
			Origin:      order.Origin,
			Destination: order.Destination,
		})
	}

	if len(ids) == 0 {
		batch.MarkFailed()
		if err := d.batches.Update(ctx, batch); err != nil {
			return fmt.Errorf("mark empty batch failed: %w", err)
		}
		d.logger.Warn("sealed batch has no dispatchable orders", "batch_id", batch.ID)
		return nil
	}

	problemID, err := d.solver.Submit(ctx, problem)
	if err != nil {
		return fmt.Errorf("submit sameday problem: %w", err)
	}

	batch.MarkSolving(problemID)
	if err := d.batches.Update(ctx, batch); err != nil {
		return fmt.Errorf("mark batch solving: %w", err)
	}

	started := time.Now()
	solution, err := d.poller.Wait(ctx, problemID)
	telemetry.SolverPollDuration.WithLabelValues(string(domain.ModeSameDay)).Observe(time.Since(started).Seconds())
	if err != nil {
		batch.MarkFailed()
		if updateErr := d.batches.Update(ctx, batch); updateErr != nil {
			d.logger.Error("failed to mark batch failed", "batch_id", batch.ID, "error", updateErr)
		}
		d.revertBatch(ctx, ids, "solver unavailable")
		return fmt.Errorf("wait for sameday solution: %w", err)
	}

	for _, id := range solution.Unassigned {
		d.revertBatchOrder(ctx, id, "not assigned by solver")
	}

	for _, job := range solution.DeliveryJobs {
		d.dispatchJob(ctx, job)
	}

	batch.MarkDispatched()
	if err := d.batches.Update(ctx, batch); err != nil {
		return fmt.Errorf("mark batch dispatched: %w", err)
	}

	d.logger.Info("batch dispatched",
		"batch_id", batch.ID,
		"area_id", batch.AreaID,
		"jobs", len(solution.DeliveryJobs),
		"unassigned", len(solution.Unassigned),
	)
	return nil
}

// dispatchJob назначает водителю delivery job и рассылает broadcast.
func (d *SamedayDispatcher) dispatchJob(ctx context.Context, job solver.DeliveryJob) {
	stops := make([]string, 0, len(job.Stops))
	for _, stop := range job.Stops {
		ok, err := d.orders.MarkAwaitingAck(ctx, stop, job.DriverID, job.JobID, domain.DispatchBatched)
		if err != nil {
			d.logger.Error("failed to assign stop", "order_id", stop, "error", err)
			continue
		}
		if !ok {
			d.logger.Debug("stop already claimed, skipping", "order_id", stop)
			continue
		}
		stops = append(stops, stop.String())
	}

	if len(stops) == 0 {
		return
	}

	if _, err := d.tasks.Dispatch(ctx, nil, domain.CommandBroadcastJob, map[string]any{
		"driver_id": job.DriverID,
		"job_id":    job.JobID,
		"stops":     stops,
	}); err != nil {
		d.logger.Error("failed to dispatch broadcast_job",
			"driver_id", job.DriverID,
			"job_id", job.JobID,
			"error", err,
		)
	}
}

func (d *SamedayDispatcher) revertBatchOrder(ctx context.Context, orderID uuid.UUID, reason string) {
	if _, err := d.orders.RevertToPending(ctx, orderID); err != nil {
		d.logger.Error("failed to revert batch order", "order_id", orderID, "error", err)
		return
	}
	if d.stream == nil {
		return
	}
	if err := d.stream.PublishUnassignedOrder(ctx, orderID, reason); err != nil {
		d.logger.Warn("failed to publish unassigned order", "order_id", orderID, "error", err)
	}
}

// RecoverSealed подхватывает батчи, застрявшие в SEALED дольше age:
// polling fallback на случай потери сообщения о запечатывании.
func (d *SamedayDispatcher) RecoverSealed(ctx context.Context, age time.Duration, limit int) error {
	stuck, err := d.batches.ListSealedBefore(ctx, time.Now().Add(-age), limit)
	if err != nil {
		return fmt.Errorf("list stuck batches: %w", err)
	}

	for i := range stuck {
		d.logger.Warn("recovering stuck sealed batch", "batch_id", stuck[i].ID)
		if err := d.HandleBatchSealed(ctx, mq.BatchSealedPayload{
			BatchID: stuck[i].ID,
			AreaID:  stuck[i].AreaID,
		}); err != nil {
			d.logger.Error("failed to recover batch", "batch_id", stuck[i].ID, "error", err)
		}
	}
	return nil
}

func (d *SamedayDispatcher) revertBatch(ctx context.Context, ids []uuid.UUID, reason string) {
	for _, id := range ids {
		d.revertBatchOrder(ctx, id, reason)
	}
}
