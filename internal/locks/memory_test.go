package locks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
)

func TestMemoryAcquireMutualExclusion(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Acquire(ctx, domain.LockDriver, "driver-1", uuid.NewString(), time.Minute)
			if err == nil {
				mu.Lock()
				acquired++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrAlreadyLocked) {
				t.Errorf("unexpected acquire error: %v", err)
			}
		}()
	}
	wg.Wait()

	if acquired != 1 {
		t.Fatalf("expected exactly one successful acquire, got %d", acquired)
	}
}

func TestMemoryReacquireWhileHeld(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Acquire(ctx, domain.LockDriver, "driver-1", "owner-a", time.Minute); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	// Повторный Acquire того же владельца на занятом ключе — конфликт.
	if err := m.Acquire(ctx, domain.LockDriver, "driver-1", "owner-a", time.Minute); !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("expected ErrAlreadyLocked, got %v", err)
	}
	if err := m.Acquire(ctx, domain.LockDriver, "driver-1", "owner-b", time.Minute); !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("expected ErrAlreadyLocked for second owner, got %v", err)
	}
}

func TestMemoryReleaseIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Acquire(ctx, domain.LockOrder, "order-1", "owner-a", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := m.Release(ctx, domain.LockOrder, "order-1", "owner-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := m.Release(ctx, domain.LockOrder, "order-1", "owner-a"); err != nil {
		t.Fatalf("repeat release must be no-op, got %v", err)
	}
}

func TestMemoryReleaseWrongOwner(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Acquire(ctx, domain.LockDriver, "driver-1", "owner-a", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := m.Release(ctx, domain.LockDriver, "driver-1", "owner-b"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	// Блокировка осталась на месте.
	held, err := m.List(ctx, domain.LockDriver)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(held) != 1 || held[0].Owner != "owner-a" {
		t.Fatalf("lock must survive foreign release, got %+v", held)
	}
}

func TestMemoryExpiredLockIsReacquirable(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Acquire(ctx, domain.LockDriver, "driver-1", "owner-a", -time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := m.Acquire(ctx, domain.LockDriver, "driver-1", "owner-b", time.Minute); err != nil {
		t.Fatalf("expired lock must be reacquirable, got %v", err)
	}

	held, err := m.List(ctx, domain.LockDriver)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(held) != 1 || held[0].Owner != "owner-b" {
		t.Fatalf("expected owner-b lock, got %+v", held)
	}
}

func TestMemoryForceRelease(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	orderID := uuid.New()
	if err := m.Acquire(ctx, domain.LockDriver, "driver-1", "owner-a", time.Minute, orderID); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := m.ForceRelease(ctx, domain.LockDriver, "driver-1"); err != nil {
		t.Fatalf("force release: %v", err)
	}
	if err := m.Acquire(ctx, domain.LockDriver, "driver-1", "owner-b", time.Minute); err != nil {
		t.Fatalf("acquire after force release: %v", err)
	}
}

func TestMemoryListFiltersKindAndExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Acquire(ctx, domain.LockDriver, "driver-1", "owner-a", time.Minute); err != nil {
		t.Fatalf("acquire driver: %v", err)
	}
	if err := m.Acquire(ctx, domain.LockOrder, "order-1", "owner-a", time.Minute); err != nil {
		t.Fatalf("acquire order: %v", err)
	}
	if err := m.Acquire(ctx, domain.LockDriver, "driver-2", "owner-a", -time.Second); err != nil {
		t.Fatalf("acquire expired: %v", err)
	}

	held, err := m.List(ctx, domain.LockDriver)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(held) != 1 || held[0].Key != "driver-1" {
		t.Fatalf("expected only active driver-1 lock, got %+v", held)
	}
}
