// Package mq — обвязка над RabbitMQ для всех процессов системы.
//
// Топология:
//   - dispatch.orders → orders.incoming: новые заказы для оркестратора.
//   - dispatch.callbacks → callbacks.incoming: внешние callback'и с токенами.
//   - dispatch.tasks → tasks.ready (с DLQ) и tasks.completed: очередь задач
//     worker-пула и результаты их выполнения.
//   - dispatch.dispatch → dispatch.clusters и dispatch.batches: триггеры
//     instant- и same-day диспетчеризации.
//   - dispatch.stream → stream.orders и stream.conflicts: исходящие потоки
//     (нераспределённые заказы, проигравшие sub-batch'и).
//   - dispatch.events (fanout): fire-and-forget уведомления подписчикам.
//   - dispatch.dlq → dlq.tasks: задачи после исчерпанных retry.
//
// Connection переподключается автоматически; Publisher и Consumer
// работают поверх него и переживают разрывы.
package mq
