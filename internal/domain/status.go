package domain

// OrderStatus — статус жизненного цикла заказа.
//
// Жизненный цикл:
//
//	AWAITING_RESTAURANT_ACK → PROVIDER_SEARCH → PROVIDER_FOUND
//	                        ↘ REJECTED
//	PROVIDER_FOUND → AWAITING_DELIVERY_CALLBACK → DELIVERED
//	                                            ↘ CANCELLED → PROVIDER_SEARCH (requeue)
//	                                            ↘ REJECTED
type OrderStatus string

const (
	// StatusAwaitingRestaurantAck — заказ создан, ждём подтверждения ресторана.
	StatusAwaitingRestaurantAck OrderStatus = "AWAITING_RESTAURANT_ACK"

	// StatusProviderSearch — идёт подбор провайдера доставки.
	StatusProviderSearch OrderStatus = "PROVIDER_SEARCH"

	// StatusProviderFound — провайдер выбран, заказ передаётся ему.
	StatusProviderFound OrderStatus = "PROVIDER_FOUND"

	// StatusAwaitingDeliveryCallback — заказ у провайдера, ждём статус доставки.
	StatusAwaitingDeliveryCallback OrderStatus = "AWAITING_DELIVERY_CALLBACK"

	// StatusDelivered — заказ доставлен.
	StatusDelivered OrderStatus = "DELIVERED"

	// StatusCancelled — доставка отменена провайдером или по таймауту.
	// Единственный терминальный статус, из которого возможен requeue
	// обратно в PROVIDER_SEARCH.
	StatusCancelled OrderStatus = "CANCELLED"

	// StatusRejected — заказ отклонён (ресторан, таймаут, исчерпаны провайдеры).
	StatusRejected OrderStatus = "REJECTED"
)

// IsTerminal возвращает true, если статус финальный.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// CanRequeue возвращает true, если из статуса возможен повторный
// подбор провайдера.
func (s OrderStatus) CanRequeue() bool {
	return s == StatusCancelled
}

// DispatchStatus — статус заказа внутри диспетчерского конвейера
// (instant и same-day провайдеры). Меняется только через conditional
// update, поскольку batch-диспетчеры работают конкурентно с жизненным
// циклом заказа.
//
// Жизненный цикл:
//
//	DISPATCH_PENDING → CLUSTERED (instant) | BATCHED (same-day)
//	                 → AWAITING_DRIVER_ACK → DRIVER_ACKNOWLEDGED
//	AWAITING_DRIVER_ACK → DISPATCH_PENDING (sweep по таймауту ack)
type DispatchStatus string

const (
	// DispatchNone — заказ не участвует в диспетчеризации (внешний провайдер).
	DispatchNone DispatchStatus = ""

	// DispatchPending — заказ ждёт кластеризации или запечатывания батча.
	DispatchPending DispatchStatus = "DISPATCH_PENDING"

	// DispatchClustered — заказ включён в кластер и отправлен солверу (instant).
	DispatchClustered DispatchStatus = "CLUSTERED"

	// DispatchBatched — заказ запечатан в батч (same-day).
	DispatchBatched DispatchStatus = "BATCHED"

	// DispatchAwaitingAck — водитель назначен, ждём подтверждения.
	DispatchAwaitingAck DispatchStatus = "AWAITING_DRIVER_ACK"

	// DispatchAcknowledged — водитель подтвердил назначение.
	DispatchAcknowledged DispatchStatus = "DRIVER_ACKNOWLEDGED"
)

// DispatchMode — режим диспетчеризации провайдера.
type DispatchMode string

const (
	// ModeInstant — моментальная доставка: кластеризация + driver locks.
	ModeInstant DispatchMode = "instant"

	// ModeSameDay — доставка в течение дня: батчи + broadcast jobs.
	ModeSameDay DispatchMode = "sameday"
)

// TaskStatus — статус задачи, выполняемой worker'ом.
//
// Жизненный цикл:
//
//	QUEUED → RUNNING → SUCCEEDED
//	                 ↘ FAILED (после всех retry)
type TaskStatus string

const (
	// TaskStatusQueued — задача в очереди, ожидает выполнения.
	TaskStatusQueued TaskStatus = "QUEUED"

	// TaskStatusRunning — задача выполняется worker'ом.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusSucceeded — задача успешно завершена.
	TaskStatusSucceeded TaskStatus = "SUCCEEDED"

	// TaskStatusFailed — задача завершилась ошибкой (после всех retry).
	TaskStatusFailed TaskStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// TokenStatus — статус callback-токена.
type TokenStatus string

const (
	// TokenStatusPending — токен выдан, ожидает callback.
	TokenStatusPending TokenStatus = "PENDING"

	// TokenStatusConsumed — токен использован (ровно один resume).
	TokenStatusConsumed TokenStatus = "CONSUMED"

	// TokenStatusExpired — heartbeat токена истёк без callback.
	TokenStatusExpired TokenStatus = "EXPIRED"

	// TokenStatusSuperseded — токен вытеснен более новым токеном того
	// же назначения (failover провайдера, повторная доставка события).
	TokenStatusSuperseded TokenStatus = "SUPERSEDED"
)
