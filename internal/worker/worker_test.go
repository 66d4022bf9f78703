package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
	"github.com/hyperlocal-delivery/dispatch/internal/mq"
	"github.com/hyperlocal-delivery/dispatch/internal/repo"
	"github.com/hyperlocal-delivery/dispatch/internal/taskerr"
)

// --- Fakes ---

type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
}

func (s *fakeTaskStore) put(task *domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *task
	s.tasks[task.ID] = &cp
}

func (s *fakeTaskStore) get(id uuid.UUID) domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.tasks[id]
}

func (s *fakeTaskStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *task
	return &cp, nil
}

func (s *fakeTaskStore) Update(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return repo.ErrNotFound
	}
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *fakeTaskStore) ListQueued(_ context.Context, limit int) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []domain.Task
	for _, task := range s.tasks {
		if task.Status == domain.TaskStatusQueued && len(result) < limit {
			result = append(result, *task)
		}
	}
	return result, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	completed []mq.TaskCompletedPayload
}

func (p *fakePublisher) PublishTaskCompleted(_ context.Context, payload mq.TaskCompletedPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, payload)
	return nil
}

// scriptedExecutor возвращает ошибки из errs по порядку вызовов,
// после исчерпания — nil.
type scriptedExecutor struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (e *scriptedExecutor) Execute(_ context.Context, _ *domain.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if len(e.errs) == 0 {
		return nil
	}
	err := e.errs[0]
	e.errs = e.errs[1:]
	return err
}

// --- Helpers ---

func queuedTask(command string) *domain.Task {
	orderID := uuid.New()
	return &domain.Task{
		ID:        uuid.New(),
		OrderID:   &orderID,
		Command:   command,
		Status:    domain.TaskStatusQueued,
		Payload:   map[string]any{"provider": "WebhookProvider"},
		CreatedAt: time.Now(),
	}
}

func newTestWorker(store *fakeTaskStore, publisher *fakePublisher, executor Executor) *Worker {
	registry := NewRegistry()
	registry.Register(domain.CommandSendToProvider, executor)
	return New(Config{
		Tasks:          store,
		Publisher:      publisher,
		Registry:       registry,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
}

// --- Tests ---

func TestProcessTaskSucceeds(t *testing.T) {
	store := newFakeTaskStore()
	publisher := &fakePublisher{}
	executor := &scriptedExecutor{}
	w := newTestWorker(store, publisher, executor)

	task := queuedTask(domain.CommandSendToProvider)
	store.put(task)

	if err := w.ProcessTask(context.Background(), task.ID); err != nil {
		t.Fatalf("process task: %v", err)
	}

	got := store.get(task.ID)
	if got.Status != domain.TaskStatusSucceeded {
		t.Fatalf("status = %s, want %s", got.Status, domain.TaskStatusSucceeded)
	}
	if got.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1", got.Attempt)
	}

	if len(publisher.completed) != 1 {
		t.Fatalf("completions = %d, want 1", len(publisher.completed))
	}
	if publisher.completed[0].Status != string(domain.TaskStatusSucceeded) {
		t.Fatalf("completion status = %s", publisher.completed[0].Status)
	}
}

func TestProcessTaskRetriesTransientErrors(t *testing.T) {
	store := newFakeTaskStore()
	publisher := &fakePublisher{}
	executor := &scriptedExecutor{errs: []error{
		taskerr.Transientf("gateway timeout"),
		taskerr.Transientf("gateway timeout"),
	}}
	w := newTestWorker(store, publisher, executor)

	task := queuedTask(domain.CommandSendToProvider)
	store.put(task)

	if err := w.ProcessTask(context.Background(), task.ID); err != nil {
		t.Fatalf("process task: %v", err)
	}

	got := store.get(task.ID)
	if got.Status != domain.TaskStatusSucceeded {
		t.Fatalf("status = %s, want %s", got.Status, domain.TaskStatusSucceeded)
	}
	if got.Attempt != 3 {
		t.Fatalf("attempt = %d, want 3", got.Attempt)
	}
	if executor.calls != 3 {
		t.Fatalf("executor calls = %d, want 3", executor.calls)
	}
}

func TestProcessTaskPermanentErrorFailsImmediately(t *testing.T) {
	store := newFakeTaskStore()
	publisher := &fakePublisher{}
	executor := &scriptedExecutor{errs: []error{
		taskerr.Permanentf("provider rejected the order"),
	}}
	w := newTestWorker(store, publisher, executor)

	task := queuedTask(domain.CommandSendToProvider)
	store.put(task)

	if err := w.ProcessTask(context.Background(), task.ID); err != nil {
		t.Fatalf("process task: %v", err)
	}

	got := store.get(task.ID)
	if got.Status != domain.TaskStatusFailed {
		t.Fatalf("status = %s, want %s", got.Status, domain.TaskStatusFailed)
	}
	if got.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1 (permanent error must not retry)", got.Attempt)
	}
	if executor.calls != 1 {
		t.Fatalf("executor calls = %d, want 1", executor.calls)
	}

	if len(publisher.completed) != 1 || publisher.completed[0].Status != string(domain.TaskStatusFailed) {
		t.Fatalf("completions = %+v, want one FAILED", publisher.completed)
	}
}

func TestProcessTaskExhaustsAttempts(t *testing.T) {
	store := newFakeTaskStore()
	publisher := &fakePublisher{}
	executor := &scriptedExecutor{errs: []error{
		taskerr.Transientf("down"),
		taskerr.Transientf("down"),
		taskerr.Transientf("down"),
		taskerr.Transientf("down"),
	}}
	w := newTestWorker(store, publisher, executor)

	task := queuedTask(domain.CommandSendToProvider)
	store.put(task)

	if err := w.ProcessTask(context.Background(), task.ID); err != nil {
		t.Fatalf("process task: %v", err)
	}

	got := store.get(task.ID)
	if got.Status != domain.TaskStatusFailed {
		t.Fatalf("status = %s, want %s", got.Status, domain.TaskStatusFailed)
	}
	if got.Attempt != 3 {
		t.Fatalf("attempt = %d, want 3 (max attempts)", got.Attempt)
	}
}

func TestProcessTaskUnclassifiedErrorIsRetried(t *testing.T) {
	store := newFakeTaskStore()
	publisher := &fakePublisher{}
	executor := &scriptedExecutor{errs: []error{
		errors.New("connection reset"),
	}}
	w := newTestWorker(store, publisher, executor)

	task := queuedTask(domain.CommandSendToProvider)
	store.put(task)

	if err := w.ProcessTask(context.Background(), task.ID); err != nil {
		t.Fatalf("process task: %v", err)
	}

	got := store.get(task.ID)
	if got.Status != domain.TaskStatusSucceeded {
		t.Fatalf("status = %s, want %s (unclassified error is transient)", got.Status, domain.TaskStatusSucceeded)
	}
	if got.Attempt != 2 {
		t.Fatalf("attempt = %d, want 2", got.Attempt)
	}
}

func TestProcessTaskSkipsNonQueued(t *testing.T) {
	store := newFakeTaskStore()
	w := newTestWorker(store, &fakePublisher{}, &scriptedExecutor{})

	task := queuedTask(domain.CommandSendToProvider)
	task.Status = domain.TaskStatusRunning
	store.put(task)

	err := w.ProcessTask(context.Background(), task.ID)
	if !errors.Is(err, ErrTaskNotQueued) {
		t.Fatalf("err = %v, want ErrTaskNotQueued", err)
	}
}

func TestProcessTaskUnknownCommandFails(t *testing.T) {
	store := newFakeTaskStore()
	publisher := &fakePublisher{}
	w := newTestWorker(store, publisher, &scriptedExecutor{})

	task := queuedTask(domain.CommandBroadcastJob) // не зарегистрирована
	store.put(task)

	if err := w.ProcessTask(context.Background(), task.ID); err != nil {
		t.Fatalf("process task: %v", err)
	}

	got := store.get(task.ID)
	if got.Status != domain.TaskStatusFailed {
		t.Fatalf("status = %s, want %s", got.Status, domain.TaskStatusFailed)
	}
}

func TestBackoffCappedAtMax(t *testing.T) {
	w := New(Config{
		Registry:       NewRegistry(),
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Second,
	})

	if got := w.backoff(1); got != time.Second {
		t.Fatalf("backoff(1) = %v, want 1s", got)
	}
	if got := w.backoff(2); got != 2*time.Second {
		t.Fatalf("backoff(2) = %v, want 2s", got)
	}
	if got := w.backoff(10); got != 5*time.Second {
		t.Fatalf("backoff(10) = %v, want capped 5s", got)
	}
}
