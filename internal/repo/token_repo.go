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

// TokenRepo — репозиторий callback-токенов.
//
// Consume и MarkExpired — conditional update от PENDING: ровно одна
// сторона (callback или таймер) успевает перевести токен в финальный
// статус, вторая получает конфликт.
type TokenRepo struct {
	pool *pgxpool.Pool
}

// NewTokenRepo создаёт новый TokenRepo.
func NewTokenRepo(pool *pgxpool.Pool) *TokenRepo {
	return &TokenRepo{pool: pool}
}

// Create сохраняет выданный токен.
func (r *TokenRepo) Create(ctx context.Context, token *domain.CallbackToken) error {
	query := `
		INSERT INTO callback_tokens (token, order_id, purpose, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		token.Token,
		token.OrderID,
		token.Purpose,
		token.Status,
		token.ExpiresAt,
		token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert callback token: %w", err)
	}
	return nil
}

// Consume атомарно использует токен: PENDING → CONSUMED.
//
// Возвращает токен с заполненным исходом. ErrNotFound, если токена
// нет; ErrConflict, если он уже использован или истёк. Истечение
// проверяется по дедлайну, не по статусу: опоздавший callback не
// проходит и в окне до прохода таймера.
func (r *TokenRepo) Consume(ctx context.Context, token, outcome string) (*domain.CallbackToken, error) {
	query := `
		UPDATE callback_tokens
		SET status = $2, outcome = $3, consumed_at = now()
		WHERE token = $1 AND status = $4 AND expires_at > now()
		RETURNING token, order_id, purpose, status, outcome, expires_at, consumed_at, created_at
	`
	t, err := scanToken(r.pool.QueryRow(ctx, query, token, domain.TokenStatusConsumed, outcome, domain.TokenStatusPending))
	if errors.Is(err, ErrNotFound) {
		// Либо токена нет, либо он уже не PENDING — различаем.
		if _, getErr := r.Get(ctx, token); getErr == nil {
			return nil, ErrConflict
		}
		return nil, ErrNotFound
	}
	return t, err
}

// Supersede вытесняет PENDING-токены заказа с указанным назначением.
// Вызывается перед выдачей нового токена: заказ никогда не держит
// больше одного активного токена на назначение, и чужой таймер не
// срывает здоровый шаг после failover'а.
func (r *TokenRepo) Supersede(ctx context.Context, orderID uuid.UUID, purpose domain.TokenPurpose) error {
	query := `
		UPDATE callback_tokens
		SET status = $3
		WHERE order_id = $1 AND purpose = $2 AND status = $4
	`
	_, err := r.pool.Exec(ctx, query, orderID, purpose, domain.TokenStatusSuperseded, domain.TokenStatusPending)
	if err != nil {
		return fmt.Errorf("supersede tokens for order %s: %w", orderID, err)
	}
	return nil
}

// Get возвращает токен по значению.
func (r *TokenRepo) Get(ctx context.Context, token string) (*domain.CallbackToken, error) {
	query := `
		SELECT token, order_id, purpose, status, outcome, expires_at, consumed_at, created_at
		FROM callback_tokens
		WHERE token = $1
	`
	return scanToken(r.pool.QueryRow(ctx, query, token))
}

// ListExpired возвращает PENDING-токены с истёкшим heartbeat.
func (r *TokenRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.CallbackToken, error) {
	query := `
		SELECT token, order_id, purpose, status, outcome, expires_at, consumed_at, created_at
		FROM callback_tokens
		WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at ASC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, domain.TokenStatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired tokens: %w", err)
	}
	defer rows.Close()

	var tokens []domain.CallbackToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *t)
	}
	return tokens, rows.Err()
}

// MarkExpired атомарно помечает токен истёкшим: PENDING → EXPIRED.
//
// Возвращает false, если токен успели использовать: таймер проиграл
// гонку callback'у, timeout-переход делать не нужно.
func (r *TokenRepo) MarkExpired(ctx context.Context, token string) (bool, error) {
	query := `
		UPDATE callback_tokens
		SET status = $2, outcome = $3
		WHERE token = $1 AND status = $4
	`
	result, err := r.pool.Exec(ctx, query, token, domain.TokenStatusExpired, domain.OutcomeTimeout, domain.TokenStatusPending)
	if err != nil {
		return false, fmt.Errorf("mark token expired: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// --- Helpers ---

func scanToken(row pgx.Row) (*domain.CallbackToken, error) {
	var t domain.CallbackToken
	var outcome *string

	err := row.Scan(
		&t.Token,
		&t.OrderID,
		&t.Purpose,
		&t.Status,
		&outcome,
		&t.ExpiresAt,
		&t.ConsumedAt,
		&t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan callback token: %w", err)
	}

	if outcome != nil {
		t.Outcome = *outcome
	}

	return &t, nil
}
