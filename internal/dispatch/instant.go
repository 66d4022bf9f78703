package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
	"github.com/hyperlocal-delivery/dispatch/internal/locks"
	"github.com/hyperlocal-delivery/dispatch/internal/mq"
	"github.com/hyperlocal-delivery/dispatch/internal/solver"
	"github.com/hyperlocal-delivery/dispatch/internal/telemetry"
)

const defaultLockTTL = 2 * time.Minute

// OrderStore — операции над заказами, нужные диспетчерам.
// Реализуется repo.OrderRepo.
type OrderStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	MarkClustered(ctx context.Context, ids []uuid.UUID, problemID string) (int, error)
	MarkAwaitingAck(ctx context.Context, id uuid.UUID, driverID, jobID string, from domain.DispatchStatus) (bool, error)
	MarkAcknowledged(ctx context.Context, id uuid.UUID, driverID string) (bool, error)
	RevertToPending(ctx context.Context, id uuid.UUID) (bool, error)
	ListByBatchID(ctx context.Context, batchID uuid.UUID) ([]domain.Order, error)
}

// StreamPublisher — публикация в исходящие потоки заказов и конфликтов.
// Реализуется mq.Publisher.
type StreamPublisher interface {
	PublishUnassignedOrder(ctx context.Context, orderID uuid.UUID, reason string) error
	PublishConflict(ctx context.Context, payload mq.ConflictPayload) error
}

// TaskDispatcher — постановка задач worker pool'у. Реализуется
// tasks.Dispatcher.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, orderID *uuid.UUID, command string, payload map[string]any) (*domain.Task, error)
}

// InstantDispatcher распределяет instant-кластеры по водителям.
//
// Водитель закрепляется по схеме all-or-nothing: на время назначения
// берётся блокировка водителя и блокировки всех заказов его sub-batch.
// Любая неудача внутри sub-batch откатывает его целиком — частично
// назначенных sub-batch'ей не бывает. Блокировки держатся до
// подтверждения водителя; зависшие снимает lease cleanup sweep по TTL.
type InstantDispatcher struct {
	orders  OrderStore
	locks   locks.Manager
	solver  solver.Client
	poller  *solver.Poller
	stream  StreamPublisher
	tasks   TaskDispatcher
	owner   string
	lockTTL time.Duration
	logger  *slog.Logger
}

// InstantConfig — конфигурация InstantDispatcher.
type InstantConfig struct {
	Orders OrderStore
	Locks  locks.Manager
	Solver solver.Client
	Stream StreamPublisher
	Tasks  TaskDispatcher

	// Owner — идентификатор экземпляра для владения блокировками.
	// По умолчанию генерируется случайный.
	Owner string

	// PollInterval — интервал опроса солвера.
	PollInterval time.Duration

	// LockTTL — время жизни блокировок назначения.
	LockTTL time.Duration

	Logger *slog.Logger
}

// NewInstantDispatcher создаёт InstantDispatcher.
func NewInstantDispatcher(cfg InstantConfig) *InstantDispatcher {
	owner := cfg.Owner
	if owner == "" {
		owner = "dispatcher-" + uuid.NewString()
	}

	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &InstantDispatcher{
		orders:  cfg.Orders,
		locks:   cfg.Locks,
		solver:  cfg.Solver,
		poller:  solver.NewPoller(cfg.Solver, cfg.PollInterval),
		stream:  cfg.Stream,
		tasks:   cfg.Tasks,
		owner:   owner,
		lockTTL: lockTTL,
		logger:  logger.With("component", "instant_dispatcher"),
	}
}

// HandleCluster обрабатывает готовый кластер: отправляет задачу
// солверу, дожидается решения и закрепляет водителей.
func (d *InstantDispatcher) HandleCluster(ctx context.Context, payload mq.ClusterReadyPayload) error {
	problem := solver.Problem{
		Kind:     domain.ModeInstant,
		AreaID:   payload.AreaID,
		Centroid: payload.Centroid,
	}

	var ids []uuid.UUID
	for _, id := range payload.OrderIDs {
		order, err := d.orders.GetByID(ctx, id)
		if err != nil {
			d.logger.Warn("cluster member not loadable, skipping", "order_id", id, "error", err)
			continue
		}
		if order.DispatchStatus != domain.DispatchPending {
			// Заказ уже увели (другой кластер или отмена).
			continue
		}
		ids = append(ids, id)
		problem.Orders = append(problem.Orders, solver.ProblemOrder{
			OrderID:     order.ID,
			Origin:      order.Origin,
			Destination: order.Destination,
		})
	}

	if len(ids) == 0 {
		d.logger.Debug("cluster fully stale, nothing to dispatch", "area_id", payload.AreaID)
		return nil
	}

	problemID, err := d.solver.Submit(ctx, problem)
	if err != nil {
		return fmt.Errorf("submit instant problem: %w", err)
	}

	marked, err := d.orders.MarkClustered(ctx, ids, problemID)
	if err != nil {
		return fmt.Errorf("mark clustered: %w", err)
	}
	if marked == 0 {
		d.logger.Debug("lost cluster race entirely", "problem_id", problemID)
		return nil
	}
	if marked < len(ids) {
		d.logger.Warn("cluster partially claimed by a competitor",
			"problem_id", problemID,
			"marked", marked,
			"total", len(ids),
		)
	}

	started := time.Now()
	solution, err := d.poller.Wait(ctx, problemID)
	telemetry.SolverPollDuration.WithLabelValues(string(domain.ModeInstant)).Observe(time.Since(started).Seconds())
	if err != nil {
		d.revertAll(ctx, ids, "solver unavailable")
		return fmt.Errorf("wait for instant solution: %w", err)
	}

	for _, id := range solution.Unassigned {
		d.revert(ctx, id, "not assigned by solver")
	}

	byDriver := make(map[string][]solver.Assignment)
	for _, a := range solution.Assignments {
		byDriver[a.DriverID] = append(byDriver[a.DriverID], a)
	}

	var wg sync.WaitGroup
	for driverID, subBatch := range byDriver {
		wg.Add(1)
		go func(driverID string, subBatch []solver.Assignment) {
			defer wg.Done()
			d.assignDriver(ctx, driverID, subBatch)
		}(driverID, subBatch)
	}
	wg.Wait()

	d.logger.Info("cluster dispatched",
		"problem_id", problemID,
		"area_id", payload.AreaID,
		"drivers", len(byDriver),
		"unassigned", len(solution.Unassigned),
	)
	return nil
}

// assignDriver закрепляет sub-batch за водителем под блокировками.
func (d *InstantDispatcher) assignDriver(ctx context.Context, driverID string, subBatch []solver.Assignment) {
	ids := make([]uuid.UUID, len(subBatch))
	for i, a := range subBatch {
		ids[i] = a.OrderID
	}

	if err := d.locks.Acquire(ctx, domain.LockDriver, driverID, d.owner, d.lockTTL, ids...); err != nil {
		telemetry.LockAcquires.WithLabelValues(string(domain.LockDriver), lockResult(err)).Inc()
		d.loseSubBatch(ctx, driverID, ids, nil)
		return
	}
	telemetry.LockAcquires.WithLabelValues(string(domain.LockDriver), "ok").Inc()

	var lockedOrders []uuid.UUID
	for _, a := range subBatch {
		if err := d.locks.Acquire(ctx, domain.LockOrder, a.OrderID.String(), d.owner, d.lockTTL, a.OrderID); err != nil {
			telemetry.LockAcquires.WithLabelValues(string(domain.LockOrder), lockResult(err)).Inc()
			d.releaseSubBatch(ctx, driverID, lockedOrders)
			d.loseSubBatch(ctx, driverID, ids, nil)
			return
		}
		telemetry.LockAcquires.WithLabelValues(string(domain.LockOrder), "ok").Inc()
		lockedOrders = append(lockedOrders, a.OrderID)

		ok, err := d.orders.MarkAwaitingAck(ctx, a.OrderID, driverID, a.JobID, domain.DispatchClustered)
		if err != nil || !ok {
			d.releaseSubBatch(ctx, driverID, lockedOrders)
			d.loseSubBatch(ctx, driverID, ids, err)
			return
		}
	}

	for _, a := range subBatch {
		if _, err := d.tasks.Dispatch(ctx, &a.OrderID, domain.CommandNotifyDriver, map[string]any{
			"driver_id": driverID,
			"job_id":    a.JobID,
		}); err != nil {
			d.logger.Error("failed to dispatch notify_driver",
				"order_id", a.OrderID,
				"driver_id", driverID,
				"error", err,
			)
		}
	}

	d.logger.Info("driver assigned",
		"driver_id", driverID,
		"orders", len(subBatch),
	)
}

// ConfirmDriverAck фиксирует подтверждение водителя и снимает
// блокировки назначения.
//
// Подтверждение может прийти не на тот экземпляр, что брал блокировки,
// поэтому снятие принудительное.
func (d *InstantDispatcher) ConfirmDriverAck(ctx context.Context, orderID uuid.UUID, driverID string) error {
	ok, err := d.orders.MarkAcknowledged(ctx, orderID, driverID)
	if err != nil {
		return fmt.Errorf("mark acknowledged: %w", err)
	}
	if !ok {
		d.logger.Debug("stale driver ack, skipping",
			"order_id", orderID,
			"driver_id", driverID,
		)
		return nil
	}

	if err := d.locks.ForceRelease(ctx, domain.LockOrder, orderID.String()); err != nil {
		d.logger.Warn("failed to release order lock", "order_id", orderID, "error", err)
	}
	if err := d.locks.ForceRelease(ctx, domain.LockDriver, driverID); err != nil {
		d.logger.Warn("failed to release driver lock", "driver_id", driverID, "error", err)
	}

	d.logger.Info("driver acknowledged assignment",
		"order_id", orderID,
		"driver_id", driverID,
	)
	return nil
}

// loseSubBatch откатывает проигравший sub-batch целиком и пушит
// конфликт в исходящий поток.
func (d *InstantDispatcher) loseSubBatch(ctx context.Context, driverID string, ids []uuid.UUID, cause error) {
	for _, id := range ids {
		if _, err := d.orders.RevertToPending(ctx, id); err != nil {
			d.logger.Error("failed to revert order", "order_id", id, "error", err)
		}
	}

	if d.stream != nil {
		if err := d.stream.PublishConflict(ctx, mq.ConflictPayload{DriverID: driverID, OrderIDs: ids}); err != nil {
			d.logger.Warn("failed to publish conflict", "driver_id", driverID, "error", err)
		}
	}

	d.logger.Info("sub-batch lost driver race",
		"driver_id", driverID,
		"orders", len(ids),
		"cause", cause,
	)
}

// releaseSubBatch снимает уже взятые блокировки sub-batch'а.
func (d *InstantDispatcher) releaseSubBatch(ctx context.Context, driverID string, lockedOrders []uuid.UUID) {
	for _, id := range lockedOrders {
		if err := d.locks.Release(ctx, domain.LockOrder, id.String(), d.owner); err != nil {
			d.logger.Warn("failed to release order lock", "order_id", id, "error", err)
		}
	}
	if err := d.locks.Release(ctx, domain.LockDriver, driverID, d.owner); err != nil {
		d.logger.Warn("failed to release driver lock", "driver_id", driverID, "error", err)
	}
}

// revert возвращает заказ в DISPATCH_PENDING и пушит его в исходящий
// поток.
func (d *InstantDispatcher) revert(ctx context.Context, orderID uuid.UUID, reason string) {
	if _, err := d.orders.RevertToPending(ctx, orderID); err != nil {
		d.logger.Error("failed to revert order", "order_id", orderID, "error", err)
		return
	}
	if d.stream == nil {
		return
	}
	if err := d.stream.PublishUnassignedOrder(ctx, orderID, reason); err != nil {
		d.logger.Warn("failed to publish unassigned order", "order_id", orderID, "error", err)
	}
}

func (d *InstantDispatcher) revertAll(ctx context.Context, ids []uuid.UUID, reason string) {
	for _, id := range ids {
		d.revert(ctx, id, reason)
	}
}

func lockResult(err error) string {
	if errors.Is(err, locks.ErrAlreadyLocked) {
		return "conflict"
	}
	return "error"
}
