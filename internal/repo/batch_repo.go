package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
)

// BatchRepo — репозиторий батчей same-day доставки.
type BatchRepo struct {
	pool *pgxpool.Pool
}

// NewBatchRepo создаёт новый BatchRepo.
func NewBatchRepo(pool *pgxpool.Pool) *BatchRepo {
	return &BatchRepo{pool: pool}
}

// Seal запечатывает батч: в одной транзакции создаёт запись батча и
// переводит все заказы-члены DISPATCH_PENDING → BATCHED.
//
// Если хоть один заказ уже увели (другой validator успел первым),
// транзакция откатывается целиком и возвращается ErrConflict —
// защита от двойного запечатывания.
func (r *BatchRepo) Seal(ctx context.Context, batch *domain.Batch, orderIDs []uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin seal tx: %w", err)
	}
	defer tx.Rollback(ctx)

	insertQuery := `
		INSERT INTO batches (id, area_id, status, order_count, sealed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = tx.Exec(ctx, insertQuery,
		batch.ID,
		batch.AreaID,
		batch.Status,
		batch.OrderCount,
		batch.SealedAt,
		batch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	updateQuery := `
		UPDATE orders
		SET dispatch_status = $2, batch_id = $3, updated_at = now()
		WHERE id = ANY($1) AND dispatch_status = $4
	`
	result, err := tx.Exec(ctx, updateQuery, orderIDs, domain.DispatchBatched, batch.ID, domain.DispatchPending)
	if err != nil {
		return fmt.Errorf("batch orders: %w", err)
	}
	if int(result.RowsAffected()) != len(orderIDs) {
		// Часть заказов уже не PENDING — батч не собирается.
		return ErrConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit seal tx: %w", err)
	}
	return nil
}

// GetByID возвращает батч по ID.
func (r *BatchRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Batch, error) {
	query := `
		SELECT id, area_id, status, problem_id, order_count, sealed_at, created_at
		FROM batches
		WHERE id = $1
	`
	return scanBatch(r.pool.QueryRow(ctx, query, id))
}

// Update обновляет статус и problem_id батча.
func (r *BatchRepo) Update(ctx context.Context, batch *domain.Batch) error {
	query := `
		UPDATE batches
		SET status = $2, problem_id = $3
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, batch.ID, batch.Status, nullString(batch.ProblemID))
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSealedBefore возвращает батчи, застрявшие в SEALED дольше
// cutoff: запечатаны, но не подхвачены диспетчером (например, потеря
// сообщения о запечатывании). Кандидаты recovery-прохода.
func (r *BatchRepo) ListSealedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Batch, error) {
	query := `
		SELECT id, area_id, status, problem_id, order_count, sealed_at, created_at
		FROM batches
		WHERE status = $1 AND sealed_at <= $2
		ORDER BY sealed_at ASC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, domain.BatchStatusSealed, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list sealed batches: %w", err)
	}
	defer rows.Close()

	var batches []domain.Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *batch)
	}
	return batches, rows.Err()
}

// --- Helpers ---

func scanBatch(row pgx.Row) (*domain.Batch, error) {
	var b domain.Batch
	var problemID *string

	err := row.Scan(
		&b.ID,
		&b.AreaID,
		&b.Status,
		&problemID,
		&b.OrderCount,
		&b.SealedAt,
		&b.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan batch: %w", err)
	}

	if problemID != nil {
		b.ProblemID = *problemID
	}

	return &b, nil
}
