package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hyperlocal-delivery/dispatch/internal/dispatch"
	"github.com/hyperlocal-delivery/dispatch/internal/domain"
	"github.com/hyperlocal-delivery/dispatch/internal/mq"
	"github.com/hyperlocal-delivery/dispatch/internal/taskerr"
)

func TestNotifierPostsToCommandPath(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewNotifier(server.URL, time.Second)
	task := queuedTask(domain.CommandSendToProvider)

	if err := notifier.Execute(context.Background(), task); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if gotPath != "/provider/send" {
		t.Fatalf("path = %s, want /provider/send", gotPath)
	}
	if gotBody["provider"] != "WebhookProvider" {
		t.Fatalf("body provider = %v", gotBody["provider"])
	}
	if gotBody["order_id"] != task.OrderID.String() {
		t.Fatalf("body order_id = %v, want %s", gotBody["order_id"], task.OrderID)
	}
}

func TestNotifierServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	notifier := NewNotifier(server.URL, time.Second)
	err := notifier.Execute(context.Background(), queuedTask(domain.CommandNotifyDriver))
	if err == nil {
		t.Fatal("expected error for 502")
	}
	if !taskerr.IsTransient(err) {
		t.Fatalf("5xx must be transient, got %v", err)
	}
}

func TestNotifierClientErrorIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	notifier := NewNotifier(server.URL, time.Second)
	err := notifier.Execute(context.Background(), queuedTask(domain.CommandNotifyRestaurant))
	if err == nil {
		t.Fatal("expected error for 422")
	}
	if taskerr.IsTransient(err) {
		t.Fatalf("4xx must be permanent, got %v", err)
	}
}

func TestNotifierConnectionErrorIsTransient(t *testing.T) {
	notifier := NewNotifier("http://127.0.0.1:1", 100*time.Millisecond)
	err := notifier.Execute(context.Background(), queuedTask(domain.CommandNotifyDriver))
	if err == nil {
		t.Fatal("expected connection error")
	}
	if !taskerr.IsTransient(err) {
		t.Fatalf("connection error must be transient, got %v", err)
	}
}

// --- ClusterExecutor ---

type fakePendingLister struct {
	orders []domain.Order
}

func (f *fakePendingLister) ListDispatchPending(_ context.Context, _ domain.DispatchMode, _ int) ([]domain.Order, error) {
	return f.orders, nil
}

type fakeClusterPublisher struct {
	mu       sync.Mutex
	clusters []mq.ClusterReadyPayload
}

func (p *fakeClusterPublisher) PublishClusterReady(_ context.Context, payload mq.ClusterReadyPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clusters = append(p.clusters, payload)
	return nil
}

func instantOrderAt(lat, lon float64) domain.Order {
	order := domain.NewOrder("rest-1", "cust-1", "area-1",
		domain.Coordinate{Lat: lat, Lon: lon},
		domain.Coordinate{Lat: lat + 0.05, Lon: lon + 0.05},
	)
	order.DispatchStatus = domain.DispatchPending
	order.DispatchMode = domain.ModeInstant
	return *order
}

func TestClusterExecutorPublishesClusters(t *testing.T) {
	lister := &fakePendingLister{orders: []domain.Order{
		instantOrderAt(55.7500, 37.6100),
		instantOrderAt(55.7510, 37.6110),
		instantOrderAt(55.9000, 37.6100), // далеко от первых двух
	}}
	publisher := &fakeClusterPublisher{}

	executor := NewClusterExecutor(lister, publisher, dispatch.ClusterConfig{RadiusKm: 2.5, Bias: 1.0}, nil)
	task := &domain.Task{ID: uuid.New(), Command: domain.CommandClusterOrders, Status: domain.TaskStatusQueued}

	if err := executor.Execute(context.Background(), task); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(publisher.clusters) != 2 {
		t.Fatalf("clusters published = %d, want 2", len(publisher.clusters))
	}
	if len(publisher.clusters[0].OrderIDs) != 2 {
		t.Fatalf("first cluster orders = %d, want 2", len(publisher.clusters[0].OrderIDs))
	}
}

func TestClusterExecutorNoPendingIsNoop(t *testing.T) {
	publisher := &fakeClusterPublisher{}
	executor := NewClusterExecutor(&fakePendingLister{}, publisher, dispatch.ClusterConfig{RadiusKm: 2.5}, nil)

	task := &domain.Task{ID: uuid.New(), Command: domain.CommandClusterOrders}
	if err := executor.Execute(context.Background(), task); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(publisher.clusters) != 0 {
		t.Fatalf("clusters published = %d, want 0", len(publisher.clusters))
	}
}
