package locks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
)

// Memory — Lock Manager в памяти процесса. Используется в тестах и в
// локальном запуске без Postgres; контракт тот же, что у Postgres.
type Memory struct {
	mu    sync.Mutex
	locks map[memKey]domain.Lock
}

type memKey struct {
	kind domain.LockKind
	key  string
}

// NewMemory создаёт пустой Lock Manager в памяти.
func NewMemory() *Memory {
	return &Memory{locks: make(map[memKey]domain.Lock)}
}

func (m *Memory) Acquire(_ context.Context, kind domain.LockKind, key, owner string, ttl time.Duration, orderIDs ...uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := memKey{kind: kind, key: key}
	now := time.Now()

	if existing, ok := m.locks[k]; ok && !existing.IsExpired(now) {
		return ErrAlreadyLocked
	}

	m.locks[k] = domain.Lock{
		Kind:       kind,
		Key:        key,
		Owner:      owner,
		OrderIDs:   append([]uuid.UUID(nil), orderIDs...),
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	return nil
}

func (m *Memory) Release(_ context.Context, kind domain.LockKind, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := memKey{kind: kind, key: key}
	existing, ok := m.locks[k]
	if !ok {
		return nil
	}
	if existing.Owner != owner {
		return ErrNotOwner
	}

	delete(m.locks, k)
	return nil
}

func (m *Memory) ForceRelease(_ context.Context, kind domain.LockKind, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.locks, memKey{kind: kind, key: key})
	return nil
}

func (m *Memory) List(_ context.Context, kind domain.LockKind) ([]domain.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var result []domain.Lock
	for k, lock := range m.locks {
		if k.kind != kind || lock.IsExpired(now) {
			continue
		}
		result = append(result, lock)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AcquiredAt.Before(result[j].AcquiredAt)
	})
	return result, nil
}
