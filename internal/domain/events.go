package domain

// EventType — тип уведомления на event bus.
//
// Уведомления fire-and-forget: их потребляют статистика и UI,
// ядро диспетчеризации их обратно не читает.
type EventType string

const (
	EventNewOrder           EventType = "NEW_ORDER"
	EventOrderUpdate        EventType = "ORDER_UPDATE"
	EventProviderFound      EventType = "PROVIDER_FOUND"
	EventOrderDelivered     EventType = "ORDER_DELIVERED"
	EventOrderCancelled     EventType = "ORDER_CANCELLED"
	EventOrderRejected      EventType = "ORDER_REJECTED"
	EventDriverStatusChange EventType = "DRIVER_STATUS_CHANGE"
)
