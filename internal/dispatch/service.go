package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperlocal-delivery/dispatch/internal/mq"
)

const (
	defaultRecoverInterval = time.Minute
	defaultRecoverAge      = 5 * time.Minute
	defaultRecoverLimit    = 20
	defaultDispatchTimeout = 10 * time.Minute
)

// Service объединяет instant- и same-day-диспетчеры в один процесс:
// consumers на кластеры, запечатанные батчи и подтверждения водителей,
// плюс polling-проход по застрявшим SEALED батчам (потерянные публикации).
type Service struct {
	instant *InstantDispatcher
	sameday *SamedayDispatcher

	conn *mq.Connection

	clusterConsumer *mq.Consumer
	batchConsumer   *mq.Consumer
	ackConsumer     *mq.Consumer

	recoverInterval time.Duration
	recoverAge      time.Duration
	recoverLimit    int
	dispatchTimeout time.Duration

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// ServiceConfig — конфигурация Service.
type ServiceConfig struct {
	Instant *InstantDispatcher
	Sameday *SamedayDispatcher

	// Conn — соединение RabbitMQ. Nil допустим: Service тогда
	// выполняет только recovery-polling.
	Conn *mq.Connection

	// RecoverInterval — период проверки застрявших батчей.
	RecoverInterval time.Duration

	// RecoverAge — возраст SEALED батча, после которого он считается
	// застрявшим.
	RecoverAge time.Duration

	// RecoverLimit — максимум батчей за одну проверку.
	RecoverLimit int

	// DispatchTimeout — предел времени на один прогон диспетчеризации
	// (кластер, батч или recovery-проход). Зависший solver не должен
	// останавливать consumer с prefetch 1.
	DispatchTimeout time.Duration

	Logger *slog.Logger
}

// NewService создаёт Service.
func NewService(cfg ServiceConfig) *Service {
	recoverInterval := cfg.RecoverInterval
	if recoverInterval <= 0 {
		recoverInterval = defaultRecoverInterval
	}

	recoverAge := cfg.RecoverAge
	if recoverAge <= 0 {
		recoverAge = defaultRecoverAge
	}

	recoverLimit := cfg.RecoverLimit
	if recoverLimit <= 0 {
		recoverLimit = defaultRecoverLimit
	}

	dispatchTimeout := cfg.DispatchTimeout
	if dispatchTimeout <= 0 {
		dispatchTimeout = defaultDispatchTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		instant:         cfg.Instant,
		sameday:         cfg.Sameday,
		conn:            cfg.Conn,
		recoverInterval: recoverInterval,
		recoverAge:      recoverAge,
		recoverLimit:    recoverLimit,
		dispatchTimeout: dispatchTimeout,
		logger:          logger.With("component", "dispatch"),
	}
}

// Start запускает Service:
//   - Consumer для dispatch.clusters
//   - Consumer для dispatch.batches
//   - Consumer для callbacks.driver-acks
//   - Polling горутину восстановления застрявших батчей
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	s.logger.Info("starting dispatch service",
		"recover_interval", s.recoverInterval,
		"recover_age", s.recoverAge,
	)

	if s.conn != nil {
		s.clusterConsumer = mq.NewConsumer(s.conn, s.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueDispatchClusters),
			Handler:  s.handleCluster,
			Prefetch: 1,
		})

		s.batchConsumer = mq.NewConsumer(s.conn, s.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueDispatchBatches),
			Handler:  s.handleBatchSealed,
			Prefetch: 1,
		})

		s.ackConsumer = mq.NewConsumer(s.conn, s.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueDriverAcks),
			Handler:  s.handleDriverAck,
			Prefetch: 10,
		})

		for _, consumer := range []*mq.Consumer{s.clusterConsumer, s.batchConsumer, s.ackConsumer} {
			c := consumer
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("consumer error", "error", err)
				}
			}()
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.recoverLoop(ctx)
	}()

	s.logger.Info("dispatch service started")
	return nil
}

// Stop останавливает Service.
func (s *Service) Stop() {
	s.logger.Info("stopping dispatch service...")

	if s.cancelFunc != nil {
		s.cancelFunc()
	}

	for _, consumer := range []*mq.Consumer{s.clusterConsumer, s.batchConsumer, s.ackConsumer} {
		if consumer != nil {
			consumer.Stop()
		}
	}

	s.wg.Wait()
	s.logger.Info("dispatch service stopped")
}

// handleCluster обрабатывает готовый instant-кластер.
func (s *Service) handleCluster(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.ClusterReadyPayload](&delivery.Message)
	if err != nil {
		s.logger.Error("failed to parse cluster.ready payload", "error", err)
		return err
	}

	s.logger.Debug("received cluster.ready event",
		"area_id", payload.AreaID,
		"orders", len(payload.OrderIDs),
	)

	ctx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	defer cancel()
	return s.instant.HandleCluster(ctx, payload)
}

// handleBatchSealed обрабатывает запечатанный same-day batch.
func (s *Service) handleBatchSealed(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.BatchSealedPayload](&delivery.Message)
	if err != nil {
		s.logger.Error("failed to parse batch.sealed payload", "error", err)
		return err
	}

	s.logger.Debug("received batch.sealed event", "batch_id", payload.BatchID)

	ctx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	defer cancel()
	return s.sameday.HandleBatchSealed(ctx, payload)
}

// handleDriverAck обрабатывает подтверждение назначения водителем.
func (s *Service) handleDriverAck(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.DriverAckPayload](&delivery.Message)
	if err != nil {
		s.logger.Error("failed to parse driver-ack payload", "error", err)
		return err
	}

	s.logger.Debug("received driver ack",
		"order_id", payload.OrderID,
		"driver_id", payload.DriverID,
	)

	return s.instant.ConfirmDriverAck(ctx, payload.OrderID, payload.DriverID)
}

// recoverLoop периодически подбирает SEALED батчи, публикация которых
// потерялась.
func (s *Service) recoverLoop(ctx context.Context) {
	ticker := time.NewTicker(s.recoverInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
			if err := s.sameday.RecoverSealed(runCtx, s.recoverAge, s.recoverLimit); err != nil {
				s.logger.Error("failed to recover sealed batches", "error", err)
			}
			cancel()
		}
	}
}
