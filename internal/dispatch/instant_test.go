package dispatch

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
	"github.com/hyperlocal-delivery/dispatch/internal/locks"
	"github.com/hyperlocal-delivery/dispatch/internal/mq"
	"github.com/hyperlocal-delivery/dispatch/internal/repo"
	"github.com/hyperlocal-delivery/dispatch/internal/solver"
)

// --- Fakes ---

type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*domain.Order
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[uuid.UUID]*domain.Order)}
}

func (s *fakeOrderStore) put(order *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *order
	s.orders[order.ID] = &cp
}

func (s *fakeOrderStore) get(id uuid.UUID) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.orders[id]
}

func (s *fakeOrderStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *order
	return &cp, nil
}

func (s *fakeOrderStore) MarkClustered(_ context.Context, ids []uuid.UUID, problemID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	marked := 0
	for _, id := range ids {
		order, ok := s.orders[id]
		if !ok || order.DispatchStatus != domain.DispatchPending {
			continue
		}
		order.DispatchStatus = domain.DispatchClustered
		order.JobID = problemID
		marked++
	}
	return marked, nil
}

func (s *fakeOrderStore) MarkAwaitingAck(_ context.Context, id uuid.UUID, driverID, jobID string, from domain.DispatchStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok || order.DispatchStatus != from {
		return false, nil
	}
	now := time.Now()
	order.DispatchStatus = domain.DispatchAwaitingAck
	order.DriverID = driverID
	order.JobID = jobID
	order.AssignedAt = &now
	return true, nil
}

func (s *fakeOrderStore) MarkAcknowledged(_ context.Context, id uuid.UUID, driverID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok || order.DispatchStatus != domain.DispatchAwaitingAck || order.DriverID != driverID {
		return false, nil
	}
	order.DispatchStatus = domain.DispatchAcknowledged
	return true, nil
}

func (s *fakeOrderStore) RevertToPending(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return false, nil
	}
	switch order.DispatchStatus {
	case domain.DispatchClustered, domain.DispatchBatched, domain.DispatchAwaitingAck:
		order.DispatchStatus = domain.DispatchPending
		order.DriverID = ""
		order.JobID = ""
		order.AssignedAt = nil
		return true, nil
	}
	return false, nil
}

func (s *fakeOrderStore) ListByBatchID(_ context.Context, batchID uuid.UUID) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []domain.Order
	for _, order := range s.orders {
		if order.BatchID != nil && *order.BatchID == batchID {
			result = append(result, *order)
		}
	}
	return result, nil
}

func (s *fakeOrderStore) ListDispatchPending(_ context.Context, mode domain.DispatchMode, limit int) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []domain.Order
	for _, order := range s.orders {
		if order.DispatchStatus == domain.DispatchPending && order.DispatchMode == mode {
			result = append(result, *order)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

type fakeSolver struct {
	mu       sync.Mutex
	submits  []solver.Problem
	solution solver.Solution
}

func (s *fakeSolver) Submit(_ context.Context, problem solver.Problem) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits = append(s.submits, problem)
	return "prob-1", nil
}

func (s *fakeSolver) Query(_ context.Context, _ string) (*solver.Solution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.solution
	return &cp, nil
}

type fakeStream struct {
	mu         sync.Mutex
	unassigned map[uuid.UUID]string
	conflicts  []mq.ConflictPayload
}

func newFakeStream() *fakeStream {
	return &fakeStream{unassigned: make(map[uuid.UUID]string)}
}

func (s *fakeStream) PublishUnassignedOrder(_ context.Context, orderID uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unassigned[orderID] = reason
	return nil
}

func (s *fakeStream) PublishConflict(_ context.Context, payload mq.ConflictPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = append(s.conflicts, payload)
	return nil
}

type fakeTaskStore struct {
	mu    sync.Mutex
	tasks []*domain.Task
}

func (s *fakeTaskStore) Dispatch(_ context.Context, orderID *uuid.UUID, command string, payload map[string]any) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := &domain.Task{
		ID:      uuid.New(),
		OrderID: orderID,
		Command: command,
		Status:  domain.TaskStatusQueued,
		Payload: payload,
	}
	s.tasks = append(s.tasks, task)
	return task, nil
}

func (s *fakeTaskStore) byCommand(command string) []*domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*domain.Task
	for _, t := range s.tasks {
		if t.Command == command {
			result = append(result, t)
		}
	}
	return result
}

// --- Helpers ---

func pendingInstantOrder(areaID string) *domain.Order {
	order := domain.NewOrder("rest-1", "cust-1", areaID,
		domain.Coordinate{Lat: 55.75, Lon: 37.61},
		domain.Coordinate{Lat: 55.76, Lon: 37.64},
	)
	order.DispatchStatus = domain.DispatchPending
	order.DispatchMode = domain.ModeInstant
	return order
}

type instantEnv struct {
	dispatcher *InstantDispatcher
	orders     *fakeOrderStore
	solver     *fakeSolver
	stream     *fakeStream
	tasks      *fakeTaskStore
	locks      *locks.Memory
}

func newInstantEnv() *instantEnv {
	env := &instantEnv{
		orders: newFakeOrderStore(),
		solver: &fakeSolver{},
		stream: newFakeStream(),
		tasks:  &fakeTaskStore{},
		locks:  locks.NewMemory(),
	}
	env.dispatcher = NewInstantDispatcher(InstantConfig{
		Orders:       env.orders,
		Locks:        env.locks,
		Solver:       env.solver,
		Stream:       env.stream,
		Tasks:        env.tasks,
		Owner:        "test-dispatcher",
		PollInterval: time.Millisecond,
		LockTTL:      time.Minute,
	})
	return env
}

// --- Tests ---

func TestHandleClusterAssignsDrivers(t *testing.T) {
	env := newInstantEnv()
	ctx := context.Background()

	o1 := pendingInstantOrder("area-1")
	o2 := pendingInstantOrder("area-1")
	o3 := pendingInstantOrder("area-1")
	for _, o := range []*domain.Order{o1, o2, o3} {
		env.orders.put(o)
	}

	env.solver.solution = solver.Solution{
		Assignments: []solver.Assignment{
			{OrderID: o1.ID, DriverID: "driver-1", JobID: "job-1"},
			{OrderID: o2.ID, DriverID: "driver-1", JobID: "job-2"},
		},
		Unassigned: []uuid.UUID{o3.ID},
	}

	err := env.dispatcher.HandleCluster(ctx, mq.ClusterReadyPayload{
		AreaID:   "area-1",
		OrderIDs: []uuid.UUID{o1.ID, o2.ID, o3.ID},
	})
	if err != nil {
		t.Fatalf("handle cluster: %v", err)
	}

	for _, id := range []uuid.UUID{o1.ID, o2.ID} {
		got := env.orders.get(id)
		if got.DispatchStatus != domain.DispatchAwaitingAck {
			t.Fatalf("order %s status = %s, want %s", id, got.DispatchStatus, domain.DispatchAwaitingAck)
		}
		if got.DriverID != "driver-1" {
			t.Fatalf("order %s driver = %s, want driver-1", id, got.DriverID)
		}
	}

	// Невозможный для солвера заказ вернулся в PENDING и ушёл в поток.
	if got := env.orders.get(o3.ID); got.DispatchStatus != domain.DispatchPending {
		t.Fatalf("unassigned order status = %s, want %s", got.DispatchStatus, domain.DispatchPending)
	}
	if env.stream.unassigned[o3.ID] == "" {
		t.Fatal("unassigned order not published to stream")
	}

	if got := env.tasks.byCommand(domain.CommandNotifyDriver); len(got) != 2 {
		t.Fatalf("notify_driver tasks = %d, want 2", len(got))
	}

	// Блокировка водителя держится до подтверждения.
	held, err := env.locks.List(ctx, domain.LockDriver)
	if err != nil {
		t.Fatalf("list locks: %v", err)
	}
	if len(held) != 1 || held[0].Key != "driver-1" {
		t.Fatalf("driver locks = %+v, want one for driver-1", held)
	}
}

func TestHandleClusterDriverConflictLosesSubBatch(t *testing.T) {
	env := newInstantEnv()
	ctx := context.Background()

	o1 := pendingInstantOrder("area-1")
	o2 := pendingInstantOrder("area-1")
	env.orders.put(o1)
	env.orders.put(o2)

	// Водителя уже держит другой экземпляр.
	if err := env.locks.Acquire(ctx, domain.LockDriver, "driver-1", "rival", time.Minute); err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}

	env.solver.solution = solver.Solution{
		Assignments: []solver.Assignment{
			{OrderID: o1.ID, DriverID: "driver-1", JobID: "job-1"},
			{OrderID: o2.ID, DriverID: "driver-1", JobID: "job-2"},
		},
	}

	err := env.dispatcher.HandleCluster(ctx, mq.ClusterReadyPayload{
		AreaID:   "area-1",
		OrderIDs: []uuid.UUID{o1.ID, o2.ID},
	})
	if err != nil {
		t.Fatalf("handle cluster: %v", err)
	}

	// Sub-batch откатился целиком.
	for _, id := range []uuid.UUID{o1.ID, o2.ID} {
		if got := env.orders.get(id); got.DispatchStatus != domain.DispatchPending {
			t.Fatalf("order %s status = %s, want %s", id, got.DispatchStatus, domain.DispatchPending)
		}
	}
	if len(env.stream.conflicts) != 1 || env.stream.conflicts[0].DriverID != "driver-1" {
		t.Fatalf("conflicts = %+v, want one for driver-1", env.stream.conflicts)
	}
	if got := env.tasks.byCommand(domain.CommandNotifyDriver); len(got) != 0 {
		t.Fatalf("notify_driver tasks = %d, want 0", len(got))
	}
}

func TestHandleClusterOrderLockConflictRollsBackSubBatch(t *testing.T) {
	env := newInstantEnv()
	ctx := context.Background()

	o1 := pendingInstantOrder("area-1")
	o2 := pendingInstantOrder("area-1")
	env.orders.put(o1)
	env.orders.put(o2)

	// Второй заказ заблокирован конкурентом: all-or-nothing должен
	// откатить и первый.
	if err := env.locks.Acquire(ctx, domain.LockOrder, o2.ID.String(), "rival", time.Minute); err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}

	env.solver.solution = solver.Solution{
		Assignments: []solver.Assignment{
			{OrderID: o1.ID, DriverID: "driver-1", JobID: "job-1"},
			{OrderID: o2.ID, DriverID: "driver-1", JobID: "job-2"},
		},
	}

	err := env.dispatcher.HandleCluster(ctx, mq.ClusterReadyPayload{
		AreaID:   "area-1",
		OrderIDs: []uuid.UUID{o1.ID, o2.ID},
	})
	if err != nil {
		t.Fatalf("handle cluster: %v", err)
	}

	for _, id := range []uuid.UUID{o1.ID, o2.ID} {
		if got := env.orders.get(id); got.DispatchStatus != domain.DispatchPending {
			t.Fatalf("order %s status = %s, want %s", id, got.DispatchStatus, domain.DispatchPending)
		}
	}

	// Свои блокировки сняты, чужая осталась.
	driverLocks, _ := env.locks.List(ctx, domain.LockDriver)
	if len(driverLocks) != 0 {
		t.Fatalf("driver locks = %+v, want none", driverLocks)
	}
	orderLocks, _ := env.locks.List(ctx, domain.LockOrder)
	if len(orderLocks) != 1 || orderLocks[0].Owner != "rival" {
		t.Fatalf("order locks = %+v, want only rival's", orderLocks)
	}
}

func TestConfirmDriverAckReleasesLocks(t *testing.T) {
	env := newInstantEnv()
	ctx := context.Background()

	o1 := pendingInstantOrder("area-1")
	env.orders.put(o1)

	env.solver.solution = solver.Solution{
		Assignments: []solver.Assignment{
			{OrderID: o1.ID, DriverID: "driver-1", JobID: "job-1"},
		},
	}
	if err := env.dispatcher.HandleCluster(ctx, mq.ClusterReadyPayload{
		AreaID:   "area-1",
		OrderIDs: []uuid.UUID{o1.ID},
	}); err != nil {
		t.Fatalf("handle cluster: %v", err)
	}

	if err := env.dispatcher.ConfirmDriverAck(ctx, o1.ID, "driver-1"); err != nil {
		t.Fatalf("confirm ack: %v", err)
	}

	if got := env.orders.get(o1.ID); got.DispatchStatus != domain.DispatchAcknowledged {
		t.Fatalf("status = %s, want %s", got.DispatchStatus, domain.DispatchAcknowledged)
	}

	driverLocks, _ := env.locks.List(ctx, domain.LockDriver)
	orderLocks, _ := env.locks.List(ctx, domain.LockOrder)
	if len(driverLocks) != 0 || len(orderLocks) != 0 {
		t.Fatalf("locks not released: driver=%d order=%d", len(driverLocks), len(orderLocks))
	}

	// Повторное подтверждение — no-op.
	if err := env.dispatcher.ConfirmDriverAck(ctx, o1.ID, "driver-1"); err != nil {
		t.Fatalf("repeated ack must be noop, got %v", err)
	}
}

func TestHandleClusterSkipsStaleMembers(t *testing.T) {
	env := newInstantEnv()
	ctx := context.Background()

	o1 := pendingInstantOrder("area-1")
	o1.DispatchStatus = domain.DispatchAwaitingAck // уже увели
	env.orders.put(o1)

	err := env.dispatcher.HandleCluster(ctx, mq.ClusterReadyPayload{
		AreaID:   "area-1",
		OrderIDs: []uuid.UUID{o1.ID},
	})
	if err != nil {
		t.Fatalf("handle cluster: %v", err)
	}

	if len(env.solver.submits) != 0 {
		t.Fatalf("submits = %d, want 0 for fully stale cluster", len(env.solver.submits))
	}
}
