package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
	"github.com/hyperlocal-delivery/dispatch/internal/repo"
	"github.com/hyperlocal-delivery/dispatch/internal/telemetry"
)

const (
	defaultMaxBatchSize = 40
	defaultMaxBatchWait = 30 * time.Minute
	defaultScanLimit    = 1000
)

// PendingLister — выборка same-day заказов, ждущих батча.
// Реализуется repo.OrderRepo.
type PendingLister interface {
	ListDispatchPending(ctx context.Context, mode domain.DispatchMode, limit int) ([]domain.Order, error)
}

// BatchSealer — транзакционное запечатывание батча.
// Реализуется repo.BatchRepo.
type BatchSealer interface {
	Seal(ctx context.Context, batch *domain.Batch, orderIDs []uuid.UUID) error
}

// BatchPublisher — публикация запечатанных батчей диспетчеру.
// Реализуется mq.Publisher.
type BatchPublisher interface {
	PublishBatchSealed(ctx context.Context, batchID uuid.UUID, areaID string) error
}

// Sealer собирает same-day заказы в батчи по зонам.
//
// Батч запечатывается по одному из двух триггеров:
//   - size: в зоне накопилось не меньше MaxBatchSize заказов —
//     запечатывается ровно MaxBatchSize, старые первыми;
//   - age: старейший заказ зоны ждёт дольше MaxBatchWait —
//     запечатывается всё накопившееся, даже один заказ.
//
// Запечатывание транзакционно, поэтому конкурирующие экземпляры
// безопасны: проигравший получает конфликт и пропускает ход.
type Sealer struct {
	orders    PendingLister
	batches   BatchSealer
	publisher BatchPublisher
	maxSize   int
	maxWait   time.Duration
	scanLimit int
	logger    *slog.Logger
}

// SealerConfig — конфигурация Sealer.
type SealerConfig struct {
	Orders    PendingLister
	Batches   BatchSealer
	Publisher BatchPublisher

	// MaxBatchSize — целевой размер батча.
	MaxBatchSize int

	// MaxBatchWait — максимальное время ожидания заказа в зоне до
	// запечатывания неполного батча.
	MaxBatchWait time.Duration

	// ScanLimit — максимум заказов, просматриваемых за проход.
	ScanLimit int

	Logger *slog.Logger
}

// NewSealer создаёт Sealer.
func NewSealer(cfg SealerConfig) *Sealer {
	maxSize := cfg.MaxBatchSize
	if maxSize <= 0 {
		maxSize = defaultMaxBatchSize
	}

	maxWait := cfg.MaxBatchWait
	if maxWait <= 0 {
		maxWait = defaultMaxBatchWait
	}

	scanLimit := cfg.ScanLimit
	if scanLimit <= 0 {
		scanLimit = defaultScanLimit
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sealer{
		orders:    cfg.Orders,
		batches:   cfg.Batches,
		publisher: cfg.Publisher,
		maxSize:   maxSize,
		maxWait:   maxWait,
		scanLimit: scanLimit,
		logger:    logger.With("component", "sealer"),
	}
}

// Run выполняет один проход запечатывания по всем зонам.
func (s *Sealer) Run(ctx context.Context) error {
	pending, err := s.orders.ListDispatchPending(ctx, domain.ModeSameDay, s.scanLimit)
	if err != nil {
		return fmt.Errorf("list pending sameday orders: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	// Порядок внутри зоны сохраняется: выборка отсортирована старые
	// первыми, полные батчи режутся с головы.
	byArea := make(map[string][]domain.Order)
	var areas []string
	for _, order := range pending {
		if _, seen := byArea[order.AreaID]; !seen {
			areas = append(areas, order.AreaID)
		}
		byArea[order.AreaID] = append(byArea[order.AreaID], order)
	}

	now := time.Now()
	for _, areaID := range areas {
		group := byArea[areaID]

		for len(group) >= s.maxSize {
			if err := s.seal(ctx, areaID, group[:s.maxSize], "size"); err != nil {
				return err
			}
			group = group[s.maxSize:]
		}

		if len(group) > 0 && now.Sub(group[0].CreatedAt) >= s.maxWait {
			if err := s.seal(ctx, areaID, group, "age"); err != nil {
				return err
			}
		}
	}

	return nil
}

// seal запечатывает один батч и публикует его диспетчеру.
func (s *Sealer) seal(ctx context.Context, areaID string, members []domain.Order, trigger string) error {
	ids := make([]uuid.UUID, len(members))
	for i, order := range members {
		ids[i] = order.ID
	}

	now := time.Now()
	batch := &domain.Batch{
		ID:         uuid.New(),
		AreaID:     areaID,
		Status:     domain.BatchStatusSealed,
		OrderCount: len(ids),
		SealedAt:   now,
		CreatedAt:  now,
	}

	if err := s.batches.Seal(ctx, batch, ids); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			// Конкурент успел увести часть заказов — попробуем в
			// следующий проход.
			s.logger.Debug("lost seal race", "area_id", areaID, "orders", len(ids))
			return nil
		}
		return fmt.Errorf("seal batch: %w", err)
	}

	telemetry.BatchesSealed.WithLabelValues(trigger).Inc()

	if s.publisher == nil {
		// Polling-only режим: батч подберёт RecoverSealed диспетчера.
		s.logger.Info("batch sealed", "batch_id", batch.ID, "area_id", areaID, "orders", len(ids), "trigger", trigger)
		return nil
	}

	if err := s.publisher.PublishBatchSealed(ctx, batch.ID, areaID); err != nil {
		// Батч останется SEALED; его подберёт polling-проход диспетчера.
		s.logger.Warn("failed to publish sealed batch",
			"batch_id", batch.ID,
			"error", err,
		)
	}

	s.logger.Info("batch sealed",
		"batch_id", batch.ID,
		"area_id", areaID,
		"orders", len(ids),
		"trigger", trigger,
	)
	return nil
}
