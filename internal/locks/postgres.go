package locks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
)

// Postgres — Lock Manager поверх таблицы locks.
//
// Acquire — одиночный conditional write: INSERT с перехватом истёкшей
// блокировки через ON CONFLICT ... DO UPDATE ... WHERE expired.
// Линеаризуемость по ключу даёт сам Postgres (row-level конфликт по
// первичному ключу), без scan-then-write.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres создаёт Lock Manager поверх пула.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Acquire берёт блокировку. ErrAlreadyLocked, если на ключе есть
// неистёкшая блокировка (в том числе наша собственная: повторный
// Acquire того же ключа в одной итерации — это конфликт, а не renew).
func (p *Postgres) Acquire(ctx context.Context, kind domain.LockKind, key, owner string, ttl time.Duration, orderIDs ...uuid.UUID) error {
	idsJSON, err := json.Marshal(orderIDs)
	if err != nil {
		return fmt.Errorf("marshal order ids: %w", err)
	}

	now := time.Now()
	query := `
		INSERT INTO locks (kind, key, owner, order_ids, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (kind, key) DO UPDATE
		SET owner = EXCLUDED.owner, order_ids = EXCLUDED.order_ids,
		    acquired_at = EXCLUDED.acquired_at, expires_at = EXCLUDED.expires_at
		WHERE locks.expires_at <= now()
	`
	result, err := p.pool.Exec(ctx, query, kind, key, owner, idsJSON, now, now.Add(ttl))
	if err != nil {
		return fmt.Errorf("acquire lock %s/%s: %w", kind, key, err)
	}
	if result.RowsAffected() == 0 {
		return ErrAlreadyLocked
	}
	return nil
}

// Release снимает блокировку владельца. Идемпотентен: отсутствие
// блокировки — не ошибка. Если ключ держит другой владелец —
// ErrNotOwner, запись не трогается.
func (p *Postgres) Release(ctx context.Context, kind domain.LockKind, key, owner string) error {
	query := `DELETE FROM locks WHERE kind = $1 AND key = $2 AND owner = $3`
	result, err := p.pool.Exec(ctx, query, kind, key, owner)
	if err != nil {
		return fmt.Errorf("release lock %s/%s: %w", kind, key, err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	// Ничего не удалили: либо блокировки нет (ok), либо чужая.
	var exists bool
	err = p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM locks WHERE kind = $1 AND key = $2)`, kind, key).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check lock %s/%s: %w", kind, key, err)
	}
	if exists {
		return ErrNotOwner
	}
	return nil
}

// ForceRelease снимает блокировку независимо от владельца.
func (p *Postgres) ForceRelease(ctx context.Context, kind domain.LockKind, key string) error {
	query := `DELETE FROM locks WHERE kind = $1 AND key = $2`
	if _, err := p.pool.Exec(ctx, query, kind, key); err != nil {
		return fmt.Errorf("force release lock %s/%s: %w", kind, key, err)
	}
	return nil
}

// List возвращает активные (неистёкшие) блокировки типа kind.
func (p *Postgres) List(ctx context.Context, kind domain.LockKind) ([]domain.Lock, error) {
	query := `
		SELECT kind, key, owner, order_ids, acquired_at, expires_at
		FROM locks
		WHERE kind = $1 AND expires_at > now()
		ORDER BY acquired_at ASC
	`
	rows, err := p.pool.Query(ctx, query, kind)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer rows.Close()

	var result []domain.Lock
	for rows.Next() {
		var lock domain.Lock
		var idsJSON []byte

		if err := rows.Scan(&lock.Kind, &lock.Key, &lock.Owner, &idsJSON, &lock.AcquiredAt, &lock.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		if idsJSON != nil {
			if err := json.Unmarshal(idsJSON, &lock.OrderIDs); err != nil {
				return nil, fmt.Errorf("unmarshal order ids: %w", err)
			}
		}

		result = append(result, lock)
	}
	return result, rows.Err()
}
