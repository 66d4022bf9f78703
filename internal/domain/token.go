package domain

import (
	"time"

	"github.com/google/uuid"
)

// TokenPurpose — назначение callback-токена: какой приостановленный
// шаг оркестратора он возобновляет.
type TokenPurpose string

const (
	// PurposeRestaurantAck — ожидание подтверждения ресторана.
	PurposeRestaurantAck TokenPurpose = "restaurant_ack"

	// PurposeDeliveryStatus — ожидание статуса доставки от провайдера.
	PurposeDeliveryStatus TokenPurpose = "delivery_status"
)

// Исходы callback'ов, с которыми внешние акторы возобновляют
// приостановленные шаги.
const (
	OutcomeAccepted  = "ACCEPTED"
	OutcomeDelivered = "DELIVERED"
	OutcomeCancelled = "CANCELLED"
	OutcomeRejected  = "REJECTED"

	// OutcomeTimeout — синтетический исход: heartbeat истёк без callback.
	OutcomeTimeout = "TIMEOUT"
)

// CallbackToken — одноразовый токен корреляции.
//
// Связывает один приостановленный шаг оркестратора ровно с одним
// внешним callback'ом. Недействителен после первого использования
// или после истечения heartbeat.
type CallbackToken struct {
	// Token — непрозрачное значение, выдаваемое внешнему актору.
	Token string `json:"token"`

	// OrderID — заказ, чей шаг приостановлен.
	OrderID uuid.UUID `json:"order_id"`

	// Purpose — какой шаг возобновляет токен.
	Purpose TokenPurpose `json:"purpose"`

	// Status — PENDING / CONSUMED / EXPIRED / SUPERSEDED.
	Status TokenStatus `json:"status"`

	// Outcome — исход, с которым токен был использован.
	Outcome string `json:"outcome,omitempty"`

	// ExpiresAt — дедлайн heartbeat. После него токен считается
	// истёкшим и шаг идёт по timeout-переходу.
	ExpiresAt time.Time `json:"expires_at"`

	// ConsumedAt — время использования токена.
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`

	// CreatedAt — время выдачи.
	CreatedAt time.Time `json:"created_at"`
}
