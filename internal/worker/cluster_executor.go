package worker

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hyperlocal-delivery/dispatch/internal/dispatch"
	"github.com/hyperlocal-delivery/dispatch/internal/domain"
	"github.com/hyperlocal-delivery/dispatch/internal/mq"
	"github.com/hyperlocal-delivery/dispatch/internal/taskerr"
)

const defaultClusterScanLimit = 500

// PendingLister — выборка instant-заказов, ждущих кластеризации.
// Реализуется repo.OrderRepo.
type PendingLister interface {
	ListDispatchPending(ctx context.Context, mode domain.DispatchMode, limit int) ([]domain.Order, error)
}

// ClusterPublisher — публикация готовых кластеров диспетчеру.
// Реализуется mq.Publisher.
type ClusterPublisher interface {
	PublishClusterReady(ctx context.Context, payload mq.ClusterReadyPayload) error
}

// ClusterExecutor — executor команды cluster_orders.
//
// Собирает накопившиеся instant-заказы в кластеры по близости точек
// забора и публикует каждый кластер диспетчеру. Команду ставит
// scheduler по расписанию; несколько конкурентных запусков безопасны —
// двойную диспетчеризацию отсекает CAS при MarkClustered.
type ClusterExecutor struct {
	orders    PendingLister
	publisher ClusterPublisher
	cfg       dispatch.ClusterConfig
	scanLimit int
	logger    *slog.Logger
}

// NewClusterExecutor создаёт ClusterExecutor.
func NewClusterExecutor(orders PendingLister, publisher ClusterPublisher, cfg dispatch.ClusterConfig, logger *slog.Logger) *ClusterExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClusterExecutor{
		orders:    orders,
		publisher: publisher,
		cfg:       cfg,
		scanLimit: defaultClusterScanLimit,
		logger:    logger,
	}
}

// Execute выполняет один проход кластеризации.
func (e *ClusterExecutor) Execute(ctx context.Context, _ *domain.Task) error {
	pending, err := e.orders.ListDispatchPending(ctx, domain.ModeInstant, e.scanLimit)
	if err != nil {
		return taskerr.Transientf("list pending instant orders: %v", err)
	}
	if len(pending) == 0 {
		return nil
	}
	if e.publisher == nil {
		return taskerr.Transientf("cluster publisher unavailable")
	}

	clusters := dispatch.BuildClusters(pending, e.cfg)
	for _, cluster := range clusters {
		ids := make([]uuid.UUID, len(cluster.Orders))
		for i := range cluster.Orders {
			ids[i] = cluster.Orders[i].ID
		}

		if err := e.publisher.PublishClusterReady(ctx, mq.ClusterReadyPayload{
			AreaID:   cluster.AreaID,
			Centroid: cluster.Centroid,
			OrderIDs: ids,
		}); err != nil {
			return taskerr.Transientf("publish cluster: %v", err)
		}

		e.logger.Info("cluster published",
			"area_id", cluster.AreaID,
			"orders", len(ids),
		)
	}

	return nil
}
