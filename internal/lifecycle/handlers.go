package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hyperlocal-delivery/dispatch/internal/callback"
	"github.com/hyperlocal-delivery/dispatch/internal/domain"
	"github.com/hyperlocal-delivery/dispatch/internal/mq"
	"github.com/hyperlocal-delivery/dispatch/internal/repo"
	"github.com/hyperlocal-delivery/dispatch/internal/rules"
	"github.com/hyperlocal-delivery/dispatch/internal/telemetry"
)

// handleNewOrder обрабатывает событие о новом заказе.
func (o *Orchestrator) handleNewOrder(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.NewOrderPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse order.new payload", "error", err)
		return err
	}

	o.logger.Debug("received order.new event", "order_id", payload.OrderID)

	return o.ProcessNewOrder(ctx, payload.OrderID)
}

// handleCallback обрабатывает callback внешнего актора.
func (o *Orchestrator) handleCallback(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.CallbackPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse callback payload", "error", err)
		return err
	}

	o.logger.Debug("received callback", "outcome", payload.Outcome)

	return o.ResumeCallback(ctx, payload.Token, payload.Outcome)
}

// handleTaskCompleted обрабатывает завершение задачи worker pool'а.
func (o *Orchestrator) handleTaskCompleted(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskCompletedPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse task.completed payload", "error", err)
		return err
	}

	o.logger.Debug("received task.completed event",
		"task_id", payload.TaskID,
		"command", payload.Command,
		"status", payload.Status,
	)

	return o.ProcessTaskCompleted(ctx, payload)
}

// ProcessNewOrder начинает жизненный цикл заказа: выдаёт ресторану
// callback-токен с heartbeat и ставит задачу уведомления.
//
// Идемпотентен относительно повторной доставки: заказ, уже ушедший из
// AWAITING_RESTAURANT_ACK, не трогается, а лишний токен умрёт по
// своему heartbeat без эффекта.
func (o *Orchestrator) ProcessNewOrder(ctx context.Context, orderID uuid.UUID) error {
	order, err := o.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return fmt.Errorf("get order: %w", err)
	}

	if order.Status != domain.StatusAwaitingRestaurantAck {
		o.logger.Debug("order already past restaurant ack, skipping",
			"order_id", orderID,
			"status", order.Status,
		)
		return nil
	}

	token, err := o.tokens.Issue(ctx, orderID, domain.PurposeRestaurantAck, o.restaurantTTL)
	if err != nil {
		return fmt.Errorf("issue restaurant token: %w", err)
	}

	if _, err := o.tasks.Dispatch(ctx, &orderID, domain.CommandNotifyRestaurant, map[string]any{
		"restaurant_id": order.RestaurantID,
		"token":         token.Token,
	}); err != nil {
		return fmt.Errorf("dispatch notify_restaurant: %w", err)
	}

	o.publishEvent(ctx, domain.EventNewOrder, orderID, "")

	o.logger.Info("order lifecycle started",
		"order_id", orderID,
		"restaurant_id", order.RestaurantID,
	)
	return nil
}

// ResumeCallback возобновляет приостановленный шаг по токену.
//
// Доставка callback'ов at-least-once: использованный или неизвестный
// токен — не ошибка обработки, сообщение подтверждается.
func (o *Orchestrator) ResumeCallback(ctx context.Context, token, outcome string) error {
	consumed, err := o.tokens.Resume(ctx, token, outcome)
	if err != nil {
		if errors.Is(err, callback.ErrTokenConsumed) || errors.Is(err, callback.ErrTokenUnknown) {
			o.logger.Debug("callback token not resumable", "reason", err)
			return nil
		}
		return fmt.Errorf("resume token: %w", err)
	}

	order, err := o.orders.GetByID(ctx, consumed.OrderID)
	if err != nil {
		return fmt.Errorf("get order %s: %w", consumed.OrderID, err)
	}

	switch consumed.Purpose {
	case domain.PurposeRestaurantAck:
		return o.resumeRestaurantAck(ctx, order, outcome)
	case domain.PurposeDeliveryStatus:
		return o.resumeDelivery(ctx, order, outcome)
	default:
		o.logger.Warn("unknown token purpose", "purpose", consumed.Purpose)
		return nil
	}
}

// handleExpiredToken выполняет timeout-переход по истёкшему heartbeat.
// Заказ, уже ушедший из состояния ожидания, не трогается.
func (o *Orchestrator) handleExpiredToken(ctx context.Context, token *domain.CallbackToken) error {
	order, err := o.orders.GetByID(ctx, token.OrderID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get order %s: %w", token.OrderID, err)
	}

	switch token.Purpose {
	case domain.PurposeRestaurantAck:
		return o.resumeRestaurantAck(ctx, order, domain.OutcomeTimeout)
	case domain.PurposeDeliveryStatus:
		return o.resumeDelivery(ctx, order, domain.OutcomeTimeout)
	default:
		return nil
	}
}

// resumeRestaurantAck обрабатывает исход ожидания подтверждения ресторана.
func (o *Orchestrator) resumeRestaurantAck(ctx context.Context, order *domain.Order, outcome string) error {
	if order.Status != domain.StatusAwaitingRestaurantAck {
		o.logger.Debug("stale restaurant ack outcome, skipping",
			"order_id", order.ID,
			"status", order.Status,
		)
		return nil
	}

	switch outcome {
	case domain.OutcomeAccepted:
		order.MarkProviderSearch()
		if err := o.transition(ctx, order, domain.StatusAwaitingRestaurantAck); err != nil {
			return err
		}
		return o.runProviderSearch(ctx, order)

	case domain.OutcomeRejected:
		return o.reject(ctx, order, domain.StatusAwaitingRestaurantAck, "restaurant rejected")

	case domain.OutcomeTimeout:
		return o.reject(ctx, order, domain.StatusAwaitingRestaurantAck, "restaurant timeout")

	default:
		o.logger.Warn("unexpected restaurant ack outcome",
			"order_id", order.ID,
			"outcome", outcome,
		)
		return nil
	}
}

// resumeDelivery обрабатывает исход ожидания статуса доставки.
func (o *Orchestrator) resumeDelivery(ctx context.Context, order *domain.Order, outcome string) error {
	if order.Status != domain.StatusAwaitingDeliveryCallback {
		o.logger.Debug("stale delivery outcome, skipping",
			"order_id", order.ID,
			"status", order.Status,
		)
		return nil
	}

	switch outcome {
	case domain.OutcomeDelivered:
		order.MarkDelivered()
		if err := o.transition(ctx, order, domain.StatusAwaitingDeliveryCallback); err != nil {
			return err
		}
		o.publishEvent(ctx, domain.EventOrderDelivered, order.ID, "")
		o.logger.Info("order delivered",
			"order_id", order.ID,
			"provider", order.Provider,
		)
		return nil

	case domain.OutcomeCancelled:
		return o.cancelAndFailover(ctx, order, "provider cancelled")

	case domain.OutcomeTimeout:
		return o.cancelAndFailover(ctx, order, "delivery timeout")

	case domain.OutcomeRejected:
		return o.reject(ctx, order, domain.StatusAwaitingDeliveryCallback, "provider rejected")

	default:
		o.logger.Warn("unexpected delivery outcome",
			"order_id", order.ID,
			"outcome", outcome,
		)
		return nil
	}
}

// runProviderSearch подбирает провайдера для заказа в PROVIDER_SEARCH.
//
// Подбор повторяется до maxAttempts раз; при исчерпании попыток заказ
// отклоняется. Движок детерминирован, поэтому на неизменных входах
// повтор даёт тот же результат — но множество исключённых провайдеров
// между попытками failover'а меняется.
func (o *Orchestrator) runProviderSearch(ctx context.Context, order *domain.Order) error {
	if order.Status != domain.StatusProviderSearch {
		return nil
	}

	area, ok := o.areas[order.AreaID]
	if !ok {
		// Зона без настроек — повторять бессмысленно.
		return o.reject(ctx, order, domain.StatusProviderSearch, "unknown demographic area")
	}

	in := rules.Input{
		OrderID:  order.ID,
		OriginID: order.RestaurantID,
		Date:     time.Now(),
		Exclude:  order.ExcludedProviders(),
	}

	var match rules.Match
	found := false
	for order.SearchAttempts < o.maxAttempts {
		order.SearchAttempts++
		if m, ok := o.engine.Select(area, in); ok {
			match = m
			found = true
			break
		}
	}

	if !found {
		return o.reject(ctx, order, domain.StatusProviderSearch, "no provider available")
	}

	order.MarkProviderFound(match.Provider)
	if err := o.transition(ctx, order, domain.StatusProviderSearch); err != nil {
		return err
	}

	o.publishEvent(ctx, domain.EventProviderFound, order.ID, match.Provider)

	o.logger.Info("provider selected",
		"order_id", order.ID,
		"provider", match.Provider,
		"rule", match.Rule,
		"attempts", order.SearchAttempts,
	)

	return o.sendToProvider(ctx, order)
}

// sendToProvider передаёт заказ выбранному провайдеру.
//
// Внутренний провайдер: заказ ставится в диспетчерский конвейер и
// сразу переходит в ожидание статуса доставки. Внешний: ставится
// идемпотентная задача send_to_provider, переход выполняется по её
// успешному завершению.
func (o *Orchestrator) sendToProvider(ctx context.Context, order *domain.Order) error {
	token, err := o.tokens.Issue(ctx, order.ID, domain.PurposeDeliveryStatus, o.deliveryTTL)
	if err != nil {
		return fmt.Errorf("issue delivery token: %w", err)
	}

	if mode, internal := o.internalProviders[order.Provider]; internal {
		if err := o.orders.EnterDispatch(ctx, order.ID, mode); err != nil {
			return fmt.Errorf("enter dispatch: %w", err)
		}

		order.MarkAwaitingDelivery()
		return o.transition(ctx, order, domain.StatusProviderFound)
	}

	if _, err := o.tasks.Dispatch(ctx, &order.ID, domain.CommandSendToProvider, map[string]any{
		"provider": order.Provider,
		"token":    token.Token,
	}); err != nil {
		return fmt.Errorf("dispatch send_to_provider: %w", err)
	}
	return nil
}

// ProcessTaskCompleted реагирует на завершение задач, от которых
// зависят переходы жизненного цикла.
func (o *Orchestrator) ProcessTaskCompleted(ctx context.Context, payload mq.TaskCompletedPayload) error {
	if payload.Command != domain.CommandSendToProvider || payload.OrderID == nil {
		return nil
	}

	order, err := o.orders.GetByID(ctx, *payload.OrderID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get order %s: %w", *payload.OrderID, err)
	}

	if order.Status != domain.StatusProviderFound {
		return nil
	}

	if payload.Status == string(domain.TaskStatusSucceeded) {
		order.MarkAwaitingDelivery()
		return o.transition(ctx, order, domain.StatusProviderFound)
	}

	// Провайдер не принял заказ после всех retry — failover на другого.
	o.logger.Warn("provider send failed, falling back to search",
		"order_id", order.ID,
		"provider", order.Provider,
		"error", payload.Error,
	)

	order.RecordFailedProvider(order.Provider)
	order.MarkProviderSearch()
	if err := o.transition(ctx, order, domain.StatusProviderFound); err != nil {
		return err
	}
	return o.runProviderSearch(ctx, order)
}

// cancelAndFailover — общий путь для CANCELLED callback'а и истечения
// heartbeat доставки: отмена у провайдера, запись отказа и requeue в
// повторный подбор.
func (o *Orchestrator) cancelAndFailover(ctx context.Context, order *domain.Order, reason string) error {
	failed := order.Provider

	if _, internal := o.internalProviders[failed]; internal {
		if err := o.orders.LeaveDispatch(ctx, order.ID); err != nil {
			return fmt.Errorf("leave dispatch: %w", err)
		}
	} else if failed != "" {
		if _, err := o.tasks.Dispatch(ctx, &order.ID, domain.CommandCancelAtProvider, map[string]any{
			"provider": failed,
		}); err != nil {
			return fmt.Errorf("dispatch cancel_at_provider: %w", err)
		}
	}

	order.RecordFailedProvider(failed)
	order.MarkCancelled(reason)
	if err := o.transition(ctx, order, domain.StatusAwaitingDeliveryCallback); err != nil {
		return err
	}
	o.publishEvent(ctx, domain.EventOrderCancelled, order.ID, reason)

	o.logger.Info("order cancelled, requeueing",
		"order_id", order.ID,
		"failed_provider", failed,
		"reason", reason,
	)

	// Requeue: CANCELLED → PROVIDER_SEARCH с исключением отказавшего.
	order.MarkProviderSearch()
	if err := o.transition(ctx, order, domain.StatusCancelled); err != nil {
		return err
	}
	o.publishEvent(ctx, domain.EventOrderUpdate, order.ID, "requeued")

	return o.runProviderSearch(ctx, order)
}

// reject отклоняет заказ с причиной.
func (o *Orchestrator) reject(ctx context.Context, order *domain.Order, from domain.OrderStatus, reason string) error {
	order.MarkRejected(reason)
	if err := o.transition(ctx, order, from); err != nil {
		return err
	}

	o.publishEvent(ctx, domain.EventOrderRejected, order.ID, reason)

	o.logger.Info("order rejected",
		"order_id", order.ID,
		"reason", reason,
	)
	return nil
}

// transition выполняет CAS-переход с проверкой таблицы состояний.
func (o *Orchestrator) transition(ctx context.Context, order *domain.Order, from domain.OrderStatus) error {
	if !CanTransition(from, order.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, order.Status)
	}

	if err := o.orders.TransitionStatus(ctx, order, from); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			// Конкурентный переход успел первым — наш шаг устарел.
			o.logger.Debug("transition lost the race",
				"order_id", order.ID,
				"from", from,
				"to", order.Status,
			)
			return nil
		}
		return fmt.Errorf("transition %s -> %s: %w", from, order.Status, err)
	}

	telemetry.OrderTransitions.WithLabelValues(string(order.Status)).Inc()
	return nil
}

// publishEvent публикует fire-and-forget уведомление; неудача только
// логируется.
func (o *Orchestrator) publishEvent(ctx context.Context, event domain.EventType, orderID uuid.UUID, detail string) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishEvent(ctx, event, orderID, detail); err != nil {
		o.logger.Warn("failed to publish event",
			"event", event,
			"order_id", orderID,
			"error", err,
		)
	}
}
