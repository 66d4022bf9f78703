package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeOrders    Exchange = "dispatch.orders"
	ExchangeTasks     Exchange = "dispatch.tasks"
	ExchangeCallbacks Exchange = "dispatch.callbacks"
	ExchangeDispatch  Exchange = "dispatch.dispatch"
	ExchangeStream    Exchange = "dispatch.stream"
	ExchangeEvents    Exchange = "dispatch.events" // fanout, fire-and-forget
	ExchangeDLQ       Exchange = "dispatch.dlq"
)

// Queues — имена очередей.
const (
	QueueOrdersIncoming    Queue = "orders.incoming"
	QueueTasksReady        Queue = "tasks.ready"
	QueueTasksCompleted    Queue = "tasks.completed"
	QueueCallbacksIncoming Queue = "callbacks.incoming"
	QueueDriverAcks        Queue = "callbacks.driver-acks"
	QueueDispatchClusters  Queue = "dispatch.clusters"
	QueueDispatchBatches   Queue = "dispatch.batches"
	QueueStreamOrders      Queue = "stream.orders"
	QueueStreamConflicts   Queue = "stream.conflicts"
	QueueDLQTasks          Queue = "dlq.tasks"
)

// Routing keys.
const (
	RoutingKeyIncoming  RoutingKey = "incoming"
	RoutingKeyDriverAck RoutingKey = "driver-ack"
	RoutingKeyReady     RoutingKey = "ready"
	RoutingKeyCompleted RoutingKey = "completed"
	RoutingKeyClusters  RoutingKey = "clusters"
	RoutingKeyBatches   RoutingKey = "batches"
	RoutingKeyOrders    RoutingKey = "orders"
	RoutingKeyConflicts RoutingKey = "conflicts"
	RoutingKeyDLQTasks  RoutingKey = "tasks"
)

// SetupTopology объявляет обменники, очереди и привязки. Идемпотентна:
// каждый процесс вызывает её при старте.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		if err := bindQueues(ch); err != nil {
			return err
		}
		return nil
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeOrders, "direct"},
		{ExchangeTasks, "direct"},
		{ExchangeCallbacks, "direct"},
		{ExchangeDispatch, "direct"},
		{ExchangeStream, "direct"},
		{ExchangeEvents, "fanout"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Задачи уходят в DLQ после исчерпания retry.
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQTasks),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		{QueueOrdersIncoming, nil},
		{QueueTasksReady, dlqArgs},
		{QueueTasksCompleted, nil},
		{QueueCallbacksIncoming, nil},
		{QueueDriverAcks, nil},
		{QueueDispatchClusters, nil},
		{QueueDispatchBatches, nil},
		{QueueStreamOrders, nil},
		{QueueStreamConflicts, nil},
		{QueueDLQTasks, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueOrdersIncoming, RoutingKeyIncoming, ExchangeOrders},
		{QueueTasksReady, RoutingKeyReady, ExchangeTasks},
		{QueueTasksCompleted, RoutingKeyCompleted, ExchangeTasks},
		{QueueCallbacksIncoming, RoutingKeyIncoming, ExchangeCallbacks},
		{QueueDriverAcks, RoutingKeyDriverAck, ExchangeCallbacks},
		{QueueDispatchClusters, RoutingKeyClusters, ExchangeDispatch},
		{QueueDispatchBatches, RoutingKeyBatches, ExchangeDispatch},
		{QueueStreamOrders, RoutingKeyOrders, ExchangeStream},
		{QueueStreamConflicts, RoutingKeyConflicts, ExchangeStream},
		{QueueDLQTasks, RoutingKeyDLQTasks, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}
