package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Coordinate — географическая точка.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Order — заказ доставки.
//
// Order создаётся при ингестии нового заказа и дальше мутируется только
// оркестратором жизненного цикла и batch-диспетчерами. Записи никогда
// не удаляются — история нужна статистике и аудиту.
type Order struct {
	// ID — уникальный идентификатор заказа.
	ID uuid.UUID `json:"id"`

	// Status — текущий статус жизненного цикла.
	Status OrderStatus `json:"status"`

	// DispatchStatus — статус внутри диспетчерского конвейера.
	// Пустой для заказов внешних провайдеров.
	DispatchStatus DispatchStatus `json:"dispatch_status,omitempty"`

	// DispatchMode — instant или sameday, когда заказ у внутреннего провайдера.
	DispatchMode DispatchMode `json:"dispatch_mode,omitempty"`

	// RestaurantID — идентификатор ресторана-источника.
	RestaurantID string `json:"restaurant_id"`

	// CustomerID — идентификатор покупателя.
	CustomerID string `json:"customer_id"`

	// AreaID — демографическая зона, определяющая правила выбора провайдера.
	AreaID string `json:"area_id"`

	// Origin — точка забора (ресторан).
	Origin Coordinate `json:"origin"`

	// Destination — точка доставки.
	Destination Coordinate `json:"destination"`

	// Provider — выбранный провайдер доставки. Пустой до PROVIDER_FOUND.
	Provider string `json:"provider,omitempty"`

	// FailedProviders — провайдеры, уже отказавшие по этому заказу.
	// Исключаются при повторном подборе (provider failover).
	FailedProviders []string `json:"failed_providers,omitempty"`

	// SearchAttempts — количество попыток подбора провайдера.
	SearchAttempts int `json:"search_attempts,omitempty"`

	// DriverID — назначенный водитель (заполняется batch-диспетчером).
	DriverID string `json:"driver_id,omitempty"`

	// BatchID — батч same-day доставки, в который запечатан заказ.
	BatchID *uuid.UUID `json:"batch_id,omitempty"`

	// JobID — идентификатор задачи солвера (instant) или delivery job (same-day).
	JobID string `json:"job_id,omitempty"`

	// Reason — причина отклонения/отмены ("restaurant timeout" и т.п.).
	Reason string `json:"reason,omitempty"`

	// AssignedAt — время назначения водителя. Точка отсчёта для
	// таймаута подтверждения (lease cleanup sweep).
	AssignedAt *time.Time `json:"assigned_at,omitempty"`

	// CreatedAt — время создания заказа.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewOrder создаёт заказ в начальном статусе AWAITING_RESTAURANT_ACK.
func NewOrder(restaurantID, customerID, areaID string, origin, destination Coordinate) *Order {
	now := time.Now()
	return &Order{
		ID:           uuid.New(),
		Status:       StatusAwaitingRestaurantAck,
		RestaurantID: restaurantID,
		CustomerID:   customerID,
		AreaID:       areaID,
		Origin:       origin,
		Destination:  destination,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsFinished возвращает true, если жизненный цикл заказа завершён.
func (o *Order) IsFinished() bool {
	return o.Status.IsTerminal()
}

// MarkProviderSearch переводит заказ в подбор провайдера.
func (o *Order) MarkProviderSearch() {
	o.Status = StatusProviderSearch
	o.Provider = ""
	o.touch()
}

// MarkProviderFound фиксирует выбранного провайдера.
func (o *Order) MarkProviderFound(provider string) {
	o.Status = StatusProviderFound
	o.Provider = provider
	o.touch()
}

// MarkAwaitingDelivery переводит заказ в ожидание статуса доставки.
func (o *Order) MarkAwaitingDelivery() {
	o.Status = StatusAwaitingDeliveryCallback
	o.touch()
}

// MarkDelivered завершает заказ успешной доставкой.
func (o *Order) MarkDelivered() {
	o.Status = StatusDelivered
	o.touch()
}

// MarkCancelled помечает доставку отменённой с причиной.
func (o *Order) MarkCancelled(reason string) {
	o.Status = StatusCancelled
	o.Reason = reason
	o.touch()
}

// MarkRejected отклоняет заказ с причиной.
func (o *Order) MarkRejected(reason string) {
	o.Status = StatusRejected
	o.Reason = reason
	o.touch()
}

// RecordFailedProvider запоминает отказавшего провайдера, чтобы
// повторный подбор его не выбрал.
func (o *Order) RecordFailedProvider(provider string) {
	if provider == "" || slices.Contains(o.FailedProviders, provider) {
		return
	}
	o.FailedProviders = append(o.FailedProviders, provider)
}

// ExcludedProviders возвращает множество провайдеров, исключённых
// из подбора.
func (o *Order) ExcludedProviders() map[string]bool {
	if len(o.FailedProviders) == 0 {
		return nil
	}
	excluded := make(map[string]bool, len(o.FailedProviders))
	for _, p := range o.FailedProviders {
		excluded[p] = true
	}
	return excluded
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now()
}
