// Package lifecycle — оркестратор жизненного цикла заказа.
//
// Машина состояний явная: таблица переходов в transitions.go, включая
// timeout-переходы для каждого состояния ожидания. Оркестратор
// event-driven (новые заказы, callback'и, завершения задач из
// RabbitMQ) с polling fallback для истёкших heartbeat'ов и заказов,
// застрявших после рестарта.
//
// Каждый переход — conditional update от предыдущего статуса: при
// конкурентной обработке одного заказа ровно один переход проходит,
// остальные молча устаревают.
package lifecycle
