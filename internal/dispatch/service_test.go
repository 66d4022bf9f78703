package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
	"github.com/hyperlocal-delivery/dispatch/internal/locks"
	"github.com/hyperlocal-delivery/dispatch/internal/mq"
	"github.com/hyperlocal-delivery/dispatch/internal/solver"
)

// stuckSolver принимает задачи, но никогда их не решает.
type stuckSolver struct {
	mu      sync.Mutex
	queries int
}

func (s *stuckSolver) Submit(_ context.Context, _ solver.Problem) (string, error) {
	return "prob-stuck", nil
}

func (s *stuckSolver) Query(_ context.Context, _ string) (*solver.Solution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	return &solver.Solution{InProgress: true}, nil
}

func TestHandleClusterTimesOutOnStuckSolver(t *testing.T) {
	orders := newFakeOrderStore()
	stream := newFakeStream()
	instant := NewInstantDispatcher(InstantConfig{
		Orders:       orders,
		Locks:        locks.NewMemory(),
		Solver:       &stuckSolver{},
		Stream:       stream,
		Tasks:        &fakeTaskStore{},
		Owner:        "test-dispatcher",
		PollInterval: time.Millisecond,
		LockTTL:      time.Minute,
	})
	svc := NewService(ServiceConfig{
		Instant:         instant,
		DispatchTimeout: 25 * time.Millisecond,
	})

	order := pendingInstantOrder("area-1")
	orders.put(order)

	delivery := &mq.Delivery{Message: mq.Message{
		Type: mq.MessageTypeClusterReady,
		Payload: mq.ClusterReadyPayload{
			AreaID:   "area-1",
			OrderIDs: []uuid.UUID{order.ID},
		},
	}}

	// Зависший солвер не должен держать handler дольше таймаута:
	// consumer с prefetch 1 иначе остановился бы навсегда.
	done := make(chan error, 1)
	go func() {
		done <- svc.handleCluster(context.Background(), delivery)
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error from stuck solver, got nil")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handleCluster did not return within dispatch timeout")
	}

	// Заказ возвращён в очередь, а не оставлен в CLUSTERED.
	if got := orders.get(order.ID); got.DispatchStatus != domain.DispatchPending {
		t.Fatalf("status = %s, want %s", got.DispatchStatus, domain.DispatchPending)
	}
	if stream.unassigned[order.ID] == "" {
		t.Fatal("reverted order not published to stream")
	}
}

func TestNewServiceDefaultDispatchTimeout(t *testing.T) {
	svc := NewService(ServiceConfig{})
	if svc.dispatchTimeout != defaultDispatchTimeout {
		t.Fatalf("dispatch timeout = %s, want %s", svc.dispatchTimeout, defaultDispatchTimeout)
	}
}
