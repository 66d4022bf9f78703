package lifecycle

import "github.com/hyperlocal-delivery/dispatch/internal/domain"

// transitions — таблица допустимых переходов жизненного цикла.
//
// Машина состояний явная: переход, которого нет в таблице, не
// выполняется ни при каком событии. CANCELLED → PROVIDER_SEARCH —
// это requeue после provider failover.
var transitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.StatusAwaitingRestaurantAck: {
		domain.StatusProviderSearch,
		domain.StatusRejected,
	},
	domain.StatusProviderSearch: {
		domain.StatusProviderFound,
		domain.StatusRejected,
	},
	domain.StatusProviderFound: {
		domain.StatusAwaitingDeliveryCallback,
		domain.StatusProviderSearch, // провайдер не принял заказ, failover
		domain.StatusRejected,
	},
	domain.StatusAwaitingDeliveryCallback: {
		domain.StatusDelivered,
		domain.StatusCancelled,
		domain.StatusRejected,
	},
	domain.StatusCancelled: {
		domain.StatusProviderSearch, // requeue
	},
}

// timeoutTargets — fallback-переходы по истечению heartbeat.
//
// Каждое состояние ожидания обязано иметь timeout-переход: истечение
// heartbeat — обычный переход машины состояний, а не ошибка.
var timeoutTargets = map[domain.OrderStatus]domain.OrderStatus{
	// Ресторан не подтвердил вовремя — заказ отклоняется.
	domain.StatusAwaitingRestaurantAck: domain.StatusRejected,

	// Провайдер не прислал статус — cancel-and-failover, тот же путь,
	// что и явный CANCELLED callback.
	domain.StatusAwaitingDeliveryCallback: domain.StatusCancelled,
}

// CanTransition сообщает, допустим ли переход from → to.
func CanTransition(from, to domain.OrderStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TimeoutTarget возвращает состояние, в которое заказ уходит по
// истечению heartbeat из status. ok=false для состояний без ожидания.
func TimeoutTarget(status domain.OrderStatus) (domain.OrderStatus, bool) {
	target, ok := timeoutTargets[status]
	return target, ok
}

// AwaitingStates возвращает все состояния с heartbeat.
func AwaitingStates() []domain.OrderStatus {
	states := make([]domain.OrderStatus, 0, len(timeoutTargets))
	for s := range timeoutTargets {
		states = append(states, s)
	}
	return states
}
