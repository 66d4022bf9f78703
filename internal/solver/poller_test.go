package solver

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClient отдаёт InProgress=true первые pending опросов.
type fakeClient struct {
	pending int
	queries int
	final   Solution
}

func (f *fakeClient) Submit(context.Context, Problem) (string, error) {
	return "prob-1", nil
}

func (f *fakeClient) Query(context.Context, string) (*Solution, error) {
	f.queries++
	if f.queries <= f.pending {
		return &Solution{InProgress: true}, nil
	}
	s := f.final
	return &s, nil
}

func TestPollerStopsWhenSolved(t *testing.T) {
	client := &fakeClient{
		pending: 2,
		final:   Solution{Assignments: []Assignment{{DriverID: "driver-1"}}},
	}
	p := NewPoller(client, time.Millisecond)

	solution, err := p.Wait(context.Background(), "prob-1")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if solution.InProgress {
		t.Fatal("returned solution must be final")
	}
	if len(solution.Assignments) != 1 {
		t.Fatalf("assignments = %d, want 1", len(solution.Assignments))
	}
	if client.queries != 3 {
		t.Fatalf("queries = %d, want 3", client.queries)
	}
}

func TestPollerImmediateResult(t *testing.T) {
	client := &fakeClient{final: Solution{Unassigned: nil}}
	p := NewPoller(client, time.Hour)

	start := time.Now()
	if _, err := p.Wait(context.Background(), "prob-1"); err != nil {
		t.Fatalf("wait: %v", err)
	}
	// Первый опрос до ожидания интервала.
	if time.Since(start) > time.Second {
		t.Fatal("first query must run before the interval elapses")
	}
}

func TestPollerContextBound(t *testing.T) {
	client := &fakeClient{pending: 1 << 30}
	p := NewPoller(client, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Wait(ctx, "prob-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
}
