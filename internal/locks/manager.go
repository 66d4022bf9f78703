package locks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
)

// Ошибки Lock Manager.
var (
	// ErrAlreadyLocked — на ключе уже есть неистёкшая блокировка.
	ErrAlreadyLocked = errors.New("key already locked")

	// ErrNotOwner — блокировку держит другой владелец.
	ErrNotOwner = errors.New("lock held by another owner")
)

// Manager — keyed mutual exclusion с владельцем и неявным истечением.
//
// Контракт:
//   - Acquire линеаризуем по ключу: из конкурентных попыток на один
//     ключ успешна не более одной, пока блокировка не снята или не
//     истекла;
//   - Release идемпотентен: снять уже снятую блокировку безопасно;
//     блокировку чужого владельца Release не трогает (ErrNotOwner);
//   - ForceRelease снимает блокировку независимо от владельца —
//     только для lease cleanup sweep.
type Manager interface {
	Acquire(ctx context.Context, kind domain.LockKind, key, owner string, ttl time.Duration, orderIDs ...uuid.UUID) error
	Release(ctx context.Context, kind domain.LockKind, key, owner string) error
	ForceRelease(ctx context.Context, kind domain.LockKind, key string) error
	List(ctx context.Context, kind domain.LockKind) ([]domain.Lock, error)
}
