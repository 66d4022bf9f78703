package lifecycle

import "errors"

var (
	// ErrOrderNotFound — заказ не найден.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderFinished — жизненный цикл заказа уже завершён.
	ErrOrderFinished = errors.New("order already finished")

	// ErrInvalidTransition — переход не допускается таблицей состояний.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNoProvider — ни одно правило зоны не выбрало провайдера.
	ErrNoProvider = errors.New("no provider matched")

	// ErrUnknownArea — у заказа зона без настроек маршрутизации.
	ErrUnknownArea = errors.New("unknown demographic area")
)
