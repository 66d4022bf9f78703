package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeNewOrder      MessageType = "order.new"
	MessageTypeCallback      MessageType = "callback.incoming"
	MessageTypeDriverAck     MessageType = "callback.driver-ack"
	MessageTypeTaskReady     MessageType = "task.ready"
	MessageTypeTaskCompleted MessageType = "task.completed"
	MessageTypeClusterReady  MessageType = "cluster.ready"
	MessageTypeBatchSealed   MessageType = "batch.sealed"
	MessageTypeOrderStream   MessageType = "stream.order"
	MessageTypeConflict      MessageType = "stream.conflict"
	MessageTypeEvent         MessageType = "event"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// NewOrderPayload — новый заказ, поступивший на оркестрацию.
type NewOrderPayload struct {
	OrderID uuid.UUID `json:"order_id"`
}

// CallbackPayload — внешний callback с одноразовым токеном.
type CallbackPayload struct {
	Token   string `json:"token"`
	Outcome string `json:"outcome"`
}

// DriverAckPayload — подтверждение водителем принятого назначения.
type DriverAckPayload struct {
	OrderID  uuid.UUID `json:"order_id"`
	DriverID string    `json:"driver_id"`
}

// TaskReadyPayload — задача, готовая к выполнению worker'ом.
type TaskReadyPayload struct {
	TaskID  uuid.UUID  `json:"task_id"`
	OrderID *uuid.UUID `json:"order_id,omitempty"`
	Command string     `json:"command"`
}

// TaskCompletedPayload — результат выполнения задачи.
type TaskCompletedPayload struct {
	TaskID  uuid.UUID  `json:"task_id"`
	OrderID *uuid.UUID `json:"order_id,omitempty"`
	Command string     `json:"command"`
	Status  string     `json:"status"` // SUCCEEDED или FAILED
	Error   string     `json:"error,omitempty"`
	Attempt int        `json:"attempt"`
}

// ClusterReadyPayload — instant-кластер, готовый к диспетчеризации.
type ClusterReadyPayload struct {
	AreaID   string            `json:"area_id"`
	Centroid domain.Coordinate `json:"centroid"`
	OrderIDs []uuid.UUID       `json:"order_ids"`
}

// BatchSealedPayload — запечатанный same-day batch.
type BatchSealedPayload struct {
	BatchID uuid.UUID `json:"batch_id"`
	AreaID  string    `json:"area_id"`
}

// UnassignedOrderPayload — заказ, ушедший в исходящий поток
// (кандидат на requeue или отмену).
type UnassignedOrderPayload struct {
	OrderID uuid.UUID `json:"order_id"`
	Reason  string    `json:"reason"`
}

// ConflictPayload — sub-batch, проигравший гонку за водителя.
type ConflictPayload struct {
	DriverID string      `json:"driver_id"`
	OrderIDs []uuid.UUID `json:"order_ids"`
}

// EventPayload — уведомление шины событий, fire-and-forget.
type EventPayload struct {
	Event   domain.EventType `json:"event"`
	OrderID uuid.UUID        `json:"order_id"`
	Detail  string           `json:"detail,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishNewOrder публикует новый заказ.
// Потребитель: Orchestrator.
func (p *Publisher) PublishNewOrder(ctx context.Context, orderID uuid.UUID) error {
	return p.publish(ctx, ExchangeOrders, RoutingKeyIncoming, MessageTypeNewOrder, NewOrderPayload{OrderID: orderID})
}

// PublishCallback публикует внешний callback.
// Потребитель: Orchestrator.
func (p *Publisher) PublishCallback(ctx context.Context, token, outcome string) error {
	return p.publish(ctx, ExchangeCallbacks, RoutingKeyIncoming, MessageTypeCallback, CallbackPayload{Token: token, Outcome: outcome})
}

// PublishDriverAck публикует подтверждение водителя.
func (p *Publisher) PublishDriverAck(ctx context.Context, orderID uuid.UUID, driverID string) error {
	return p.publish(ctx, ExchangeCallbacks, RoutingKeyDriverAck, MessageTypeDriverAck, DriverAckPayload{OrderID: orderID, DriverID: driverID})
}

// PublishTaskReady публикует задачу, готовую к выполнению.
// Потребитель: Worker.
func (p *Publisher) PublishTaskReady(ctx context.Context, payload TaskReadyPayload) error {
	return p.publish(ctx, ExchangeTasks, RoutingKeyReady, MessageTypeTaskReady, payload)
}

// PublishTaskCompleted публикует результат выполнения задачи.
// Потребитель: Orchestrator.
func (p *Publisher) PublishTaskCompleted(ctx context.Context, payload TaskCompletedPayload) error {
	return p.publish(ctx, ExchangeTasks, RoutingKeyCompleted, MessageTypeTaskCompleted, payload)
}

// PublishClusterReady публикует instant-кластер.
// Потребитель: Dispatcher.
func (p *Publisher) PublishClusterReady(ctx context.Context, payload ClusterReadyPayload) error {
	return p.publish(ctx, ExchangeDispatch, RoutingKeyClusters, MessageTypeClusterReady, payload)
}

// PublishBatchSealed публикует запечатанный batch.
// Потребитель: Dispatcher.
func (p *Publisher) PublishBatchSealed(ctx context.Context, batchID uuid.UUID, areaID string) error {
	return p.publish(ctx, ExchangeDispatch, RoutingKeyBatches, MessageTypeBatchSealed, BatchSealedPayload{BatchID: batchID, AreaID: areaID})
}

// PublishUnassignedOrder пушит заказ в исходящий поток.
func (p *Publisher) PublishUnassignedOrder(ctx context.Context, orderID uuid.UUID, reason string) error {
	return p.publish(ctx, ExchangeStream, RoutingKeyOrders, MessageTypeOrderStream, UnassignedOrderPayload{OrderID: orderID, Reason: reason})
}

// PublishConflict пушит проигравший sub-batch в поток конфликтов.
func (p *Publisher) PublishConflict(ctx context.Context, payload ConflictPayload) error {
	return p.publish(ctx, ExchangeStream, RoutingKeyConflicts, MessageTypeConflict, payload)
}

// PublishEvent публикует уведомление в fanout-шину. Fire-and-forget:
// ошибку публикации вызывающие логируют, но не прерывают работу.
func (p *Publisher) PublishEvent(ctx context.Context, event domain.EventType, orderID uuid.UUID, detail string) error {
	return p.publish(ctx, ExchangeEvents, "", MessageTypeEvent, EventPayload{Event: event, OrderID: orderID, Detail: detail})
}

func (p *Publisher) publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, exchange, routingKey, msg)
}
