package callback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
	"github.com/hyperlocal-delivery/dispatch/internal/repo"
)

// TokenStore — хранилище токенов. Реализуется repo.TokenRepo.
type TokenStore interface {
	Create(ctx context.Context, token *domain.CallbackToken) error
	Consume(ctx context.Context, token, outcome string) (*domain.CallbackToken, error)
	Supersede(ctx context.Context, orderID uuid.UUID, purpose domain.TokenPurpose) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.CallbackToken, error)
	MarkExpired(ctx context.Context, token string) (bool, error)
}

// Registry выдаёт одноразовые токены корреляции и возобновляет по ним
// приостановленные шаги.
type Registry struct {
	store TokenStore
}

// NewRegistry создаёт реестр поверх хранилища токенов.
func NewRegistry(store TokenStore) *Registry {
	return &Registry{store: store}
}

// Issue выдаёт новый токен для шага заказа с heartbeat-дедлайном ttl.
// Токен непрозрачный; внешний актор возвращает его как есть.
//
// Прежние PENDING-токены того же (заказ, назначение) вытесняются:
// заказ блокирует не больше одного активного токена на назначение,
// и истечение вытесненного токена не трогает новый шаг.
func (r *Registry) Issue(ctx context.Context, orderID uuid.UUID, purpose domain.TokenPurpose, ttl time.Duration) (*domain.CallbackToken, error) {
	if err := r.store.Supersede(ctx, orderID, purpose); err != nil {
		return nil, fmt.Errorf("supersede tokens for order %s: %w", orderID, err)
	}

	now := time.Now()
	token := &domain.CallbackToken{
		Token:     uuid.NewString(),
		OrderID:   orderID,
		Purpose:   purpose,
		Status:    domain.TokenStatusPending,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := r.store.Create(ctx, token); err != nil {
		return nil, fmt.Errorf("issue token for order %s: %w", orderID, err)
	}
	return token, nil
}

// Resume атомарно использует токен и возвращает связанный с ним шаг.
//
// Ровно один Resume на токен может завершиться успешно: повторный
// callback с тем же токеном получает ErrTokenConsumed, неизвестный
// токен — ErrTokenUnknown.
func (r *Registry) Resume(ctx context.Context, token, outcome string) (*domain.CallbackToken, error) {
	t, err := r.store.Consume(ctx, token, outcome)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return nil, ErrTokenUnknown
	case errors.Is(err, repo.ErrConflict):
		return nil, ErrTokenConsumed
	case err != nil:
		return nil, fmt.Errorf("consume token: %w", err)
	}
	return t, nil
}

// ExpireDue помечает истёкшие PENDING-токены и возвращает те, что
// достались таймеру (а не успевшему callback'у). Для каждого из них
// вызывающий обязан выполнить timeout-переход шага.
func (r *Registry) ExpireDue(ctx context.Context, now time.Time, limit int) ([]domain.CallbackToken, error) {
	due, err := r.store.ListExpired(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due tokens: %w", err)
	}

	var expired []domain.CallbackToken
	for _, t := range due {
		won, err := r.store.MarkExpired(ctx, t.Token)
		if err != nil {
			return expired, fmt.Errorf("expire token %s: %w", t.Token, err)
		}
		if !won {
			// Callback успел первым — токен уже использован.
			continue
		}
		t.Status = domain.TokenStatusExpired
		t.Outcome = domain.OutcomeTimeout
		expired = append(expired, t)
	}
	return expired, nil
}
