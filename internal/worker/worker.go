package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
	"github.com/hyperlocal-delivery/dispatch/internal/mq"
	"github.com/hyperlocal-delivery/dispatch/internal/repo"
	"github.com/hyperlocal-delivery/dispatch/internal/taskerr"
	"github.com/hyperlocal-delivery/dispatch/internal/telemetry"
)

// Значения конфигурации по умолчанию.
const (
	defaultPollInterval   = 10 * time.Second
	defaultBatchSize      = 50
	defaultPrefetch       = 5
	defaultMaxAttempts    = 5
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
)

// TaskStore — операции над задачами. Реализуется repo.TaskRepo.
type TaskStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	Update(ctx context.Context, task *domain.Task) error
	ListQueued(ctx context.Context, limit int) ([]domain.Task, error)
}

// CompletionPublisher — публикация результатов задач.
// Реализуется mq.Publisher.
type CompletionPublisher interface {
	PublishTaskCompleted(ctx context.Context, payload mq.TaskCompletedPayload) error
}

// Worker выполняет отдельные tasks.
//
// Worker — stateless компонент системы, который:
//   - Получает tasks из очереди RabbitMQ (event-driven)
//   - Периодически проверяет queued tasks в БД (polling fallback)
//   - Выполняет команду через executor из реестра
//   - Реализует retry с exponential backoff по классификации taskerr
//   - Отправляет результат обратно в очередь tasks.completed
//
// Workers масштабируются горизонтально — несколько экземпляров
// могут потреблять из одной очереди.
type Worker struct {
	tasks     TaskStore
	publisher CompletionPublisher
	conn      *mq.Connection
	registry  *Registry

	consumer *mq.Consumer

	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Worker.
type Config struct {
	Tasks     TaskStore
	Publisher CompletionPublisher
	Conn      *mq.Connection

	// Registry — реестр executor'ов (обязателен).
	Registry *Registry

	// PollInterval — интервал polling fallback.
	PollInterval time.Duration

	// BatchSize — количество tasks за один poll.
	BatchSize int

	// MaxAttempts — максимум попыток выполнения задачи.
	MaxAttempts int

	// InitialBackoff, MaxBackoff — границы exponential backoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = defaultInitialBackoff
	}

	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		tasks:          cfg.Tasks,
		publisher:      cfg.Publisher,
		conn:           cfg.Conn,
		registry:       cfg.Registry,
		pollInterval:   pollInterval,
		batchSize:      batchSize,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		logger:         logger,
	}
}

// Start запускает Worker: consumer для tasks.ready и polling fallback.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
		"max_attempts", w.maxAttempts,
	)

	if w.conn != nil {
		w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueTasksReady),
			Handler:  w.handleTaskReady,
			Prefetch: defaultPrefetch,
		})

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("task consumer error", "error", err)
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker.
func (w *Worker) Stop() {
	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	if w.consumer != nil {
		w.consumer.Stop()
	}

	w.wg.Wait()
	w.logger.Info("worker stopped")
}

// handleTaskReady обрабатывает событие о новой task.
func (w *Worker) handleTaskReady(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskReadyPayload](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse task.ready payload", "error", err)
		return err
	}

	w.logger.Debug("received task.ready event",
		"task_id", payload.TaskID,
		"command", payload.Command,
	)

	if err := w.ProcessTask(ctx, payload.TaskID); err != nil {
		// Ожидаемые ситуации — подтверждаем сообщение.
		if errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrTaskNotQueued) {
			w.logger.Debug("task not processed", "task_id", payload.TaskID, "reason", err)
			return nil
		}
		w.logger.Error("failed to process task", "task_id", payload.TaskID, "error", err)
		return err
	}

	return nil
}

// pollLoop — цикл polling fallback.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте: подхватываем tasks, созданные
	// пока воркеры были выключены.
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (w *Worker) poll(ctx context.Context) {
	tasks, err := w.tasks.ListQueued(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to list queued tasks", "error", err)
		return
	}
	if len(tasks) == 0 {
		return
	}

	w.logger.Debug("poll found queued tasks", "count", len(tasks))

	for i := range tasks {
		if err := w.ProcessTask(ctx, tasks[i].ID); err != nil {
			if errors.Is(err, ErrTaskNotQueued) {
				// Конкурентный воркер успел первым.
				continue
			}
			w.logger.Error("failed to process task from poll",
				"task_id", tasks[i].ID,
				"error", err,
			)
		}
	}
}

// ProcessTask загружает task из БД, выполняет с retry и публикует
// результат.
func (w *Worker) ProcessTask(ctx context.Context, taskID uuid.UUID) error {
	task, err := w.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return fmt.Errorf("get task: %w", err)
	}

	if task.Status != domain.TaskStatusQueued {
		return ErrTaskNotQueued
	}

	task.MarkRunning()
	if err := w.tasks.Update(ctx, task); err != nil {
		return fmt.Errorf("update task to running: %w", err)
	}

	w.logger.Info("task started",
		"task_id", task.ID,
		"command", task.Command,
		"attempt", task.Attempt,
	)

	execErr := w.executeWithRetry(ctx, task)

	if execErr == nil {
		task.MarkSucceeded()
		if err := w.tasks.Update(ctx, task); err != nil {
			return fmt.Errorf("update task to succeeded: %w", err)
		}

		telemetry.TasksExecuted.WithLabelValues(task.Command, string(domain.TaskStatusSucceeded)).Inc()
		w.logger.Info("task succeeded",
			"task_id", task.ID,
			"command", task.Command,
			"attempt", task.Attempt,
		)

		return w.publishCompletion(ctx, task, "")
	}

	task.MarkFailed(execErr.Error())
	if err := w.tasks.Update(ctx, task); err != nil {
		return fmt.Errorf("update task to failed: %w", err)
	}

	telemetry.TasksExecuted.WithLabelValues(task.Command, string(domain.TaskStatusFailed)).Inc()
	w.logger.Warn("task failed",
		"task_id", task.ID,
		"command", task.Command,
		"attempt", task.Attempt,
		"error", execErr,
	)

	return w.publishCompletion(ctx, task, execErr.Error())
}

// executeWithRetry выполняет task с retry по классификации taskerr:
// transient повторяется до maxAttempts с exponential backoff,
// permanent и отмена контекста прерывают попытки сразу.
func (w *Worker) executeWithRetry(ctx context.Context, task *domain.Task) error {
	executor, err := w.registry.Get(task.Command)
	if err != nil {
		return err
	}

	var lastErr error
	for {
		lastErr = executor.Execute(ctx, task)
		if lastErr == nil {
			return nil
		}

		if !taskerr.IsTransient(lastErr) || !task.CanRetry(w.maxAttempts) {
			return lastErr
		}

		delay := w.backoff(task.Attempt)
		w.logger.Debug("retrying task",
			"task_id", task.ID,
			"attempt", task.Attempt,
			"delay", delay,
			"error", lastErr,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		task.ResetForRetry()
		task.MarkRunning()
		if err := w.tasks.Update(ctx, task); err != nil {
			return fmt.Errorf("update task for retry: %w", err)
		}
	}
}

// backoff вычисляет задержку перед попыткой attempt+1.
func (w *Worker) backoff(attempt int) time.Duration {
	delay := w.initialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= w.maxBackoff {
			return w.maxBackoff
		}
	}
	if delay > w.maxBackoff {
		return w.maxBackoff
	}
	return delay
}

// publishCompletion публикует событие task.completed.
func (w *Worker) publishCompletion(ctx context.Context, task *domain.Task, errMsg string) error {
	if w.publisher == nil {
		w.logger.Warn("publisher not available, skipping task.completed publish",
			"task_id", task.ID,
		)
		return nil
	}

	payload := mq.TaskCompletedPayload{
		TaskID:  task.ID,
		OrderID: task.OrderID,
		Command: task.Command,
		Status:  string(task.Status),
		Error:   errMsg,
		Attempt: task.Attempt,
	}

	if err := w.publisher.PublishTaskCompleted(ctx, payload); err != nil {
		// Task обновлён в БД — оркестратор подхватит через polling.
		w.logger.Warn("failed to publish task.completed",
			"task_id", task.ID,
			"error", err,
		)
	}

	return nil
}
