package lifecycle

import (
	"testing"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
)

func TestEveryAwaitingStateHasTimeoutTarget(t *testing.T) {
	awaiting := []domain.OrderStatus{
		domain.StatusAwaitingRestaurantAck,
		domain.StatusAwaitingDeliveryCallback,
	}

	for _, state := range awaiting {
		target, ok := TimeoutTarget(state)
		if !ok {
			t.Errorf("state %s has no timeout target", state)
			continue
		}
		if !CanTransition(state, target) {
			t.Errorf("timeout target %s -> %s is not a valid transition", state, target)
		}
	}
}

func TestTimeoutTargetsOnlyForAwaitingStates(t *testing.T) {
	nonAwaiting := []domain.OrderStatus{
		domain.StatusProviderSearch,
		domain.StatusProviderFound,
		domain.StatusDelivered,
		domain.StatusCancelled,
		domain.StatusRejected,
	}

	for _, state := range nonAwaiting {
		if _, ok := TimeoutTarget(state); ok {
			t.Errorf("state %s must not have a timeout target", state)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.OrderStatus
		want     bool
	}{
		{domain.StatusAwaitingRestaurantAck, domain.StatusProviderSearch, true},
		{domain.StatusAwaitingRestaurantAck, domain.StatusRejected, true},
		{domain.StatusAwaitingRestaurantAck, domain.StatusDelivered, false},
		{domain.StatusProviderSearch, domain.StatusProviderFound, true},
		{domain.StatusProviderSearch, domain.StatusRejected, true},
		{domain.StatusProviderFound, domain.StatusAwaitingDeliveryCallback, true},
		{domain.StatusProviderFound, domain.StatusProviderSearch, true},
		{domain.StatusAwaitingDeliveryCallback, domain.StatusDelivered, true},
		{domain.StatusAwaitingDeliveryCallback, domain.StatusCancelled, true},
		{domain.StatusAwaitingDeliveryCallback, domain.StatusRejected, true},
		{domain.StatusCancelled, domain.StatusProviderSearch, true},
		{domain.StatusDelivered, domain.StatusProviderSearch, false},
		{domain.StatusRejected, domain.StatusProviderSearch, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminalStatesHaveNoOutgoingTransitionsExceptRequeue(t *testing.T) {
	all := []domain.OrderStatus{
		domain.StatusAwaitingRestaurantAck,
		domain.StatusProviderSearch,
		domain.StatusProviderFound,
		domain.StatusAwaitingDeliveryCallback,
		domain.StatusDelivered,
		domain.StatusCancelled,
		domain.StatusRejected,
	}

	for _, to := range all {
		if CanTransition(domain.StatusDelivered, to) {
			t.Errorf("DELIVERED must have no outgoing transitions, found -> %s", to)
		}
		if CanTransition(domain.StatusRejected, to) {
			t.Errorf("REJECTED must have no outgoing transitions, found -> %s", to)
		}
		if CanTransition(domain.StatusCancelled, to) && to != domain.StatusProviderSearch {
			t.Errorf("CANCELLED may only requeue to PROVIDER_SEARCH, found -> %s", to)
		}
	}
}
