package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
	"github.com/hyperlocal-delivery/dispatch/internal/mq"
	"github.com/hyperlocal-delivery/dispatch/internal/rules"
)

// Default configuration values.
const (
	defaultPollInterval  = 10 * time.Second
	defaultBatchSize     = 100
	defaultMaxAttempts   = 5
	defaultRestaurantTTL = 5 * time.Minute
	defaultDeliveryTTL   = 90 * time.Minute
)

// OrderStore — хранилище заказов. Реализуется repo.OrderRepo.
type OrderStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	TransitionStatus(ctx context.Context, order *domain.Order, from domain.OrderStatus) error
	EnterDispatch(ctx context.Context, id uuid.UUID, mode domain.DispatchMode) error
	LeaveDispatch(ctx context.Context, id uuid.UUID) error
	ListByStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error)
	ListUnstarted(ctx context.Context, limit int) ([]domain.Order, error)
}

// TokenRegistry — реестр callback-токенов. Реализуется callback.Registry.
type TokenRegistry interface {
	Issue(ctx context.Context, orderID uuid.UUID, purpose domain.TokenPurpose, ttl time.Duration) (*domain.CallbackToken, error)
	Resume(ctx context.Context, token, outcome string) (*domain.CallbackToken, error)
	ExpireDue(ctx context.Context, now time.Time, limit int) ([]domain.CallbackToken, error)
}

// TaskDispatcher — постановка задач worker pool'у. Реализуется tasks.Dispatcher.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, orderID *uuid.UUID, command string, payload map[string]any) (*domain.Task, error)
}

// EventPublisher — fire-and-forget уведомления на шину событий.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event domain.EventType, orderID uuid.UUID, detail string) error
}

// Orchestrator управляет жизненным циклом заказов.
//
// Orchestrator — центральный компонент системы, который:
//   - Получает новые заказы из очереди RabbitMQ (event-driven)
//   - Получает callback'и внешних акторов и возобновляет по токену
//     приостановленные шаги
//   - Отслеживает завершение задач worker pool'а
//   - Периодически сканирует истёкшие heartbeat'ы и застрявшие
//     заказы (polling fallback)
//   - Выполняет переходы машины состояний заказа
type Orchestrator struct {
	orders OrderStore
	tokens TokenRegistry
	tasks  TaskDispatcher
	events EventPublisher
	engine *rules.Engine

	// areas — immutable snapshot настроек зон, загруженный при старте.
	areas map[string]*domain.DemographicArea

	// internalProviders — провайдеры, обслуживаемые собственным
	// диспетчерским конвейером, и их режим.
	internalProviders map[string]domain.DispatchMode

	conn *mq.Connection

	orderConsumer    *mq.Consumer
	callbackConsumer *mq.Consumer
	taskConsumer     *mq.Consumer

	pollInterval  time.Duration
	batchSize     int
	maxAttempts   int
	restaurantTTL time.Duration
	deliveryTTL   time.Duration

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Orchestrator.
type Config struct {
	Orders OrderStore
	Tokens TokenRegistry
	Tasks  TaskDispatcher
	Events EventPublisher
	Engine *rules.Engine

	// Areas — настройки демографических зон (snapshot).
	Areas []domain.DemographicArea

	// InternalProviders — имя провайдера → режим конвейера.
	InternalProviders map[string]domain.DispatchMode

	// Conn — соединение RabbitMQ. Nil допустим в тестах: Start тогда
	// запускает только polling.
	Conn *mq.Connection

	// PollInterval — интервал polling fallback (default: 10s).
	PollInterval time.Duration

	// BatchSize — размер выборки за один poll (default: 100).
	BatchSize int

	// MaxSearchAttempts — максимум попыток подбора/отправки (default: 5).
	MaxSearchAttempts int

	// RestaurantAckTimeout, DeliveryTimeout — heartbeat'ы ожиданий.
	RestaurantAckTimeout time.Duration
	DeliveryTimeout      time.Duration

	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	maxAttempts := cfg.MaxSearchAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	restaurantTTL := cfg.RestaurantAckTimeout
	if restaurantTTL <= 0 {
		restaurantTTL = defaultRestaurantTTL
	}

	deliveryTTL := cfg.DeliveryTimeout
	if deliveryTTL <= 0 {
		deliveryTTL = defaultDeliveryTTL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	areas := make(map[string]*domain.DemographicArea, len(cfg.Areas))
	for i := range cfg.Areas {
		areas[cfg.Areas[i].AreaID] = &cfg.Areas[i]
	}

	return &Orchestrator{
		orders:            cfg.Orders,
		tokens:            cfg.Tokens,
		tasks:             cfg.Tasks,
		events:            cfg.Events,
		engine:            cfg.Engine,
		areas:             areas,
		internalProviders: cfg.InternalProviders,
		conn:              cfg.Conn,
		pollInterval:      pollInterval,
		batchSize:         batchSize,
		maxAttempts:       maxAttempts,
		restaurantTTL:     restaurantTTL,
		deliveryTTL:       deliveryTTL,
		logger:            logger,
	}
}

// Start запускает Orchestrator.
//
// Запускает:
//   - Consumer для orders.incoming
//   - Consumer для callbacks.incoming
//   - Consumer для tasks.completed
//   - Polling горутину для heartbeat'ов и fallback
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting lifecycle orchestrator",
		"poll_interval", o.pollInterval,
		"areas", len(o.areas),
	)

	if o.conn != nil {
		o.orderConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueOrdersIncoming),
			Handler:  o.handleNewOrder,
			Prefetch: 10,
		})

		o.callbackConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueCallbacksIncoming),
			Handler:  o.handleCallback,
			Prefetch: 10,
		})

		o.taskConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueTasksCompleted),
			Handler:  o.handleTaskCompleted,
			Prefetch: 10,
		})

		for _, consumer := range []*mq.Consumer{o.orderConsumer, o.callbackConsumer, o.taskConsumer} {
			c := consumer
			o.wg.Add(1)
			go func() {
				defer o.wg.Done()
				if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					o.logger.Error("consumer error", "error", err)
				}
			}()
		}
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("lifecycle orchestrator started")
	return nil
}

// Stop останавливает Orchestrator.
func (o *Orchestrator) Stop() {
	o.logger.Info("stopping lifecycle orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}

	for _, consumer := range []*mq.Consumer{o.orderConsumer, o.callbackConsumer, o.taskConsumer} {
		if consumer != nil {
			consumer.Stop()
		}
	}

	o.wg.Wait()

	o.logger.Info("lifecycle orchestrator stopped")
}

// pollLoop — цикл polling: истёкшие heartbeat'ы и застрявшие заказы.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем то, что накопилось
	// пока были выключены).
	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (o *Orchestrator) poll(ctx context.Context) {
	// 1. Истёкшие heartbeat'ы: timeout — обычный переход машины
	// состояний, не ошибка.
	expired, err := o.tokens.ExpireDue(ctx, time.Now(), o.batchSize)
	if err != nil {
		o.logger.Error("failed to expire due tokens", "error", err)
	}
	for i := range expired {
		if err := o.handleExpiredToken(ctx, &expired[i]); err != nil {
			o.logger.Error("failed to handle expired token",
				"order_id", expired[i].OrderID,
				"purpose", expired[i].Purpose,
				"error", err,
			)
		}
	}

	// 2. Заказы, по которым жизненный цикл не запустился (потерянное
	// событие order.new, заказы, созданные напрямую в БД).
	unstarted, err := o.orders.ListUnstarted(ctx, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list unstarted orders", "error", err)
	}
	for i := range unstarted {
		if err := o.ProcessNewOrder(ctx, unstarted[i].ID); err != nil {
			o.logger.Error("failed to start order lifecycle",
				"order_id", unstarted[i].ID,
				"error", err,
			)
		}
	}

	// 3. Заказы, застрявшие в PROVIDER_SEARCH (например, после
	// рестарта посреди подбора).
	stuck, err := o.orders.ListByStatus(ctx, domain.StatusProviderSearch, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list provider-search orders", "error", err)
		return
	}
	for i := range stuck {
		order := &stuck[i]
		if err := o.runProviderSearch(ctx, order); err != nil {
			o.logger.Error("failed to resume provider search",
				"order_id", order.ID,
				"error", err,
			)
		}
	}
}

// Area возвращает настройки зоны из snapshot.
func (o *Orchestrator) Area(areaID string) (*domain.DemographicArea, bool) {
	area, ok := o.areas[areaID]
	return area, ok
}
