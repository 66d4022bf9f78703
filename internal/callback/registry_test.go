package callback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
	"github.com/hyperlocal-delivery/dispatch/internal/repo"
)

// memStore — TokenStore в памяти с той же семантикой conditional
// write, что и repo.TokenRepo.
type memStore struct {
	mu     sync.Mutex
	tokens map[string]*domain.CallbackToken
}

func newMemStore() *memStore {
	return &memStore{tokens: make(map[string]*domain.CallbackToken)}
}

func (s *memStore) Create(_ context.Context, token *domain.CallbackToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *token
	s.tokens[token.Token] = &cp
	return nil
}

func (s *memStore) Consume(_ context.Context, token, outcome string) (*domain.CallbackToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return nil, repo.ErrNotFound
	}
	now := time.Now()
	if t.Status != domain.TokenStatusPending || !t.ExpiresAt.After(now) {
		return nil, repo.ErrConflict
	}
	t.Status = domain.TokenStatusConsumed
	t.Outcome = outcome
	t.ConsumedAt = &now
	cp := *t
	return &cp, nil
}

func (s *memStore) Supersede(_ context.Context, orderID uuid.UUID, purpose domain.TokenPurpose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.OrderID == orderID && t.Purpose == purpose && t.Status == domain.TokenStatusPending {
			t.Status = domain.TokenStatusSuperseded
		}
	}
	return nil
}

func (s *memStore) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.CallbackToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.CallbackToken
	for _, t := range s.tokens {
		if t.Status == domain.TokenStatusPending && !t.ExpiresAt.After(now) {
			due = append(due, *t)
			if len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

func (s *memStore) MarkExpired(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok || t.Status != domain.TokenStatusPending {
		return false, nil
	}
	t.Status = domain.TokenStatusExpired
	t.Outcome = domain.OutcomeTimeout
	return true, nil
}

func TestIssueAndResume(t *testing.T) {
	r := NewRegistry(newMemStore())
	ctx := context.Background()
	orderID := uuid.New()

	issued, err := r.Issue(ctx, orderID, domain.PurposeRestaurantAck, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.Token == "" {
		t.Fatal("issued token must be non-empty")
	}

	resumed, err := r.Resume(ctx, issued.Token, domain.OutcomeAccepted)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.OrderID != orderID {
		t.Fatalf("resumed order = %s, want %s", resumed.OrderID, orderID)
	}
	if resumed.Outcome != domain.OutcomeAccepted {
		t.Fatalf("outcome = %s, want %s", resumed.Outcome, domain.OutcomeAccepted)
	}
}

func TestResumeSingleUse(t *testing.T) {
	r := NewRegistry(newMemStore())
	ctx := context.Background()

	issued, err := r.Issue(ctx, uuid.New(), domain.PurposeDeliveryStatus, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := r.Resume(ctx, issued.Token, domain.OutcomeDelivered); err != nil {
		t.Fatalf("first resume: %v", err)
	}
	if _, err := r.Resume(ctx, issued.Token, domain.OutcomeCancelled); !errors.Is(err, ErrTokenConsumed) {
		t.Fatalf("second resume: expected ErrTokenConsumed, got %v", err)
	}
}

func TestResumeUnknownToken(t *testing.T) {
	r := NewRegistry(newMemStore())

	if _, err := r.Resume(context.Background(), "no-such-token", domain.OutcomeAccepted); !errors.Is(err, ErrTokenUnknown) {
		t.Fatalf("expected ErrTokenUnknown, got %v", err)
	}
}

func TestExpireDueTimeoutWins(t *testing.T) {
	r := NewRegistry(newMemStore())
	ctx := context.Background()
	orderID := uuid.New()

	issued, err := r.Issue(ctx, orderID, domain.PurposeRestaurantAck, -time.Second)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	expired, err := r.ExpireDue(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("expire due: %v", err)
	}
	if len(expired) != 1 || expired[0].OrderID != orderID {
		t.Fatalf("expected the issued token expired, got %+v", expired)
	}
	if expired[0].Outcome != domain.OutcomeTimeout {
		t.Fatalf("outcome = %s, want %s", expired[0].Outcome, domain.OutcomeTimeout)
	}

	// Поздний callback проигрывает гонку.
	if _, err := r.Resume(ctx, issued.Token, domain.OutcomeAccepted); !errors.Is(err, ErrTokenConsumed) {
		t.Fatalf("late callback: expected ErrTokenConsumed, got %v", err)
	}
}

func TestExpireDueCallbackWins(t *testing.T) {
	store := newMemStore()
	r := NewRegistry(store)
	ctx := context.Background()

	issued, err := r.Issue(ctx, uuid.New(), domain.PurposeDeliveryStatus, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	// Callback опережает таймер.
	if _, err := r.Resume(ctx, issued.Token, domain.OutcomeDelivered); err != nil {
		t.Fatalf("resume: %v", err)
	}

	expired, err := r.ExpireDue(ctx, time.Now().Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("expire due: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("consumed token must not expire, got %+v", expired)
	}
}

func TestIssueSupersedesStaleToken(t *testing.T) {
	r := NewRegistry(newMemStore())
	ctx := context.Background()
	orderID := uuid.New()

	stale, err := r.Issue(ctx, orderID, domain.PurposeDeliveryStatus, time.Hour)
	if err != nil {
		t.Fatalf("issue stale: %v", err)
	}
	fresh, err := r.Issue(ctx, orderID, domain.PurposeDeliveryStatus, time.Hour)
	if err != nil {
		t.Fatalf("issue fresh: %v", err)
	}

	// Вытесненный токен больше не возобновляет шаг.
	if _, err := r.Resume(ctx, stale.Token, domain.OutcomeDelivered); !errors.Is(err, ErrTokenConsumed) {
		t.Fatalf("stale resume: expected ErrTokenConsumed, got %v", err)
	}
	// И не попадает в список истёкших: таймер вытесненного токена не
	// должен срывать живой шаг.
	expired, err := r.ExpireDue(ctx, time.Now().Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("expire due: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("superseded token must not expire, got %+v", expired)
	}

	if _, err := r.Resume(ctx, fresh.Token, domain.OutcomeDelivered); err != nil {
		t.Fatalf("fresh resume: %v", err)
	}
}

func TestIssueSupersedesOnlySamePurpose(t *testing.T) {
	r := NewRegistry(newMemStore())
	ctx := context.Background()
	orderID := uuid.New()

	ack, err := r.Issue(ctx, orderID, domain.PurposeRestaurantAck, time.Hour)
	if err != nil {
		t.Fatalf("issue ack: %v", err)
	}
	if _, err := r.Issue(ctx, orderID, domain.PurposeDeliveryStatus, time.Hour); err != nil {
		t.Fatalf("issue delivery: %v", err)
	}

	if _, err := r.Resume(ctx, ack.Token, domain.OutcomeAccepted); err != nil {
		t.Fatalf("ack resume after delivery issue: %v", err)
	}
}

func TestResumePastDeadline(t *testing.T) {
	r := NewRegistry(newMemStore())
	ctx := context.Background()

	issued, err := r.Issue(ctx, uuid.New(), domain.PurposeRestaurantAck, -time.Second)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Дедлайн прошёл, но сканер ещё не пометил токен: callback всё
	// равно опоздал.
	if _, err := r.Resume(ctx, issued.Token, domain.OutcomeAccepted); !errors.Is(err, ErrTokenConsumed) {
		t.Fatalf("expected ErrTokenConsumed, got %v", err)
	}
}
