// Package sweep реализует lease cleanup: периодический возврат
// заказов, чьё назначение водителю не было подтверждено вовремя.
//
// Назначение держит блокировки водителя и заказа до подтверждения.
// Если подтверждение потерялось, блокировки истекут по TTL, но заказ
// останется в AWAITING_DRIVER_ACK навсегда — sweep находит такие
// заказы по времени назначения и возвращает их в DISPATCH_PENDING.
package sweep
