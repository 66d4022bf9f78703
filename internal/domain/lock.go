package domain

import (
	"time"

	"github.com/google/uuid"
)

// LockKind — тип блокировки в Lock Manager.
type LockKind string

const (
	// LockDriver — блокировка водителя на время назначения.
	LockDriver LockKind = "driver"

	// LockOrder — блокировка заказа на время разрешения конфликтов (instant).
	LockOrder LockKind = "order"
)

// Lock — запись взаимного исключения с владельцем и неявным истечением.
//
// Инвариант: в любой момент на ключ существует не более одной
// неистёкшей блокировки. Создаётся batch-диспетчером при попытке
// назначения; снимается явно на каждом выходном пути или принудительно
// lease cleanup sweep'ом после таймаута подтверждения.
type Lock struct {
	// Kind — тип блокировки (driver или order).
	Kind LockKind `json:"kind"`

	// Key — ключ: driver id или order id.
	Key string `json:"key"`

	// Owner — идентификатор экземпляра-владельца. Release проверяет
	// владельца, чтобы чужой экземпляр не снял блокировку.
	Owner string `json:"owner"`

	// OrderIDs — заказы, ради которых блокировка взята.
	OrderIDs []uuid.UUID `json:"order_ids,omitempty"`

	// AcquiredAt — время взятия блокировки.
	AcquiredAt time.Time `json:"acquired_at"`

	// ExpiresAt — время неявного истечения. Истёкшая блокировка
	// считается свободной при следующем Acquire.
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired возвращает true, если блокировка истекла к моменту now.
func (l *Lock) IsExpired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}
