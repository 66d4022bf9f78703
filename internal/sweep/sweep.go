package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
	"github.com/hyperlocal-delivery/dispatch/internal/locks"
	"github.com/hyperlocal-delivery/dispatch/internal/telemetry"
)

const (
	defaultAckTimeout = time.Minute
	defaultIterations = 4
	defaultInterval   = 15 * time.Second
	defaultBatchSize  = 100
)

// OrderStore — операции над заказами, нужные sweep'у.
// Реализуется repo.OrderRepo.
type OrderStore interface {
	ListAwaitingAckBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
	RevertToPending(ctx context.Context, id uuid.UUID) (bool, error)
}

// StreamPublisher — публикация возвращённых заказов в исходящий поток.
// Реализуется mq.Publisher.
type StreamPublisher interface {
	PublishUnassignedOrder(ctx context.Context, orderID uuid.UUID, reason string) error
}

// Sweeper возвращает заказы, зависшие в ожидании подтверждения
// водителя: принудительно снимает блокировки назначения и откатывает
// заказ в DISPATCH_PENDING.
//
// Запускается по расписанию и делает ограниченное число итераций за
// запуск: sweep — страховка от потерянных подтверждений, а не
// постоянный фоновый процесс.
type Sweeper struct {
	orders     OrderStore
	locks      locks.Manager
	stream     StreamPublisher
	ackTimeout time.Duration
	iterations int
	interval   time.Duration
	batchSize  int
	logger     *slog.Logger
}

// Config — конфигурация Sweeper.
type Config struct {
	Orders OrderStore
	Locks  locks.Manager
	Stream StreamPublisher

	// AckTimeout — сколько заказ может ждать подтверждения водителя
	// до возврата.
	AckTimeout time.Duration

	// Iterations — число итераций за один запуск.
	Iterations int

	// Interval — пауза между итерациями.
	Interval time.Duration

	// BatchSize — максимум заказов, возвращаемых за итерацию.
	BatchSize int

	Logger *slog.Logger
}

// New создаёт Sweeper.
func New(cfg Config) *Sweeper {
	ackTimeout := cfg.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}

	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = defaultIterations
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		orders:     cfg.Orders,
		locks:      cfg.Locks,
		stream:     cfg.Stream,
		ackTimeout: ackTimeout,
		iterations: iterations,
		interval:   interval,
		batchSize:  batchSize,
		logger:     logger.With("component", "sweeper"),
	}
}

// Run выполняет один запуск sweep'а: iterations итераций с паузой
// interval, с ранним выходом по контексту.
func (s *Sweeper) Run(ctx context.Context) error {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for i := 0; i < s.iterations; i++ {
		if i > 0 {
			timer.Reset(s.interval)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}

		reclaimed, err := s.sweepOnce(ctx)
		if err != nil {
			return fmt.Errorf("sweep iteration %d: %w", i, err)
		}
		if reclaimed > 0 {
			s.logger.Info("sweep reclaimed stale assignments",
				"iteration", i,
				"reclaimed", reclaimed,
			)
		}
	}
	return nil
}

// sweepOnce возвращает просроченные назначения одной пачкой.
func (s *Sweeper) sweepOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.ackTimeout)
	stale, err := s.orders.ListAwaitingAckBefore(ctx, cutoff, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale assignments: %w", err)
	}

	reclaimed := 0
	for i := range stale {
		if s.reclaim(ctx, &stale[i]) {
			reclaimed++
		}
	}
	return reclaimed, nil
}

// reclaim возвращает один заказ: снимает блокировки и откатывает
// назначение. Блокировки снимаются принудительно — владелец неизвестен
// (назначение мог делать любой экземпляр диспетчера).
func (s *Sweeper) reclaim(ctx context.Context, order *domain.Order) bool {
	if err := s.locks.ForceRelease(ctx, domain.LockOrder, order.ID.String()); err != nil {
		s.logger.Warn("failed to force release order lock",
			"order_id", order.ID,
			"error", err,
		)
	}
	if order.DriverID != "" {
		if err := s.locks.ForceRelease(ctx, domain.LockDriver, order.DriverID); err != nil {
			s.logger.Warn("failed to force release driver lock",
				"driver_id", order.DriverID,
				"error", err,
			)
		}
	}

	ok, err := s.orders.RevertToPending(ctx, order.ID)
	if err != nil {
		s.logger.Error("failed to revert stale assignment",
			"order_id", order.ID,
			"error", err,
		)
		return false
	}
	if !ok {
		// Водитель успел подтвердить между выборкой и откатом.
		return false
	}

	telemetry.SweepReclaimed.Inc()

	if s.stream == nil {
		return true
	}

	if err := s.stream.PublishUnassignedOrder(ctx, order.ID, "driver ack timeout"); err != nil {
		s.logger.Warn("failed to publish reclaimed order",
			"order_id", order.ID,
			"error", err,
		)
	}

	s.logger.Info("stale assignment reclaimed",
		"order_id", order.ID,
		"driver_id", order.DriverID,
	)
	return true
}
