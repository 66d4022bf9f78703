// Package taskerr классифицирует ошибки выполнения шагов.
//
// Таксономия:
//   - transient — инфраструктурная/runtime ошибка, шаг повторяется
//     (до 5 попыток);
//   - permanent — бизнес-отказ или конфликт, повтор бессмысленен,
//     ошибка сразу уходит в catch-переход.
//
// Неклассифицированные ошибки считаются transient: неизвестные
// runtime-ошибки по умолчанию повторяются, явные бизнес-ошибки
// оборачиваются в Permanent на месте возникновения.
package taskerr

import (
	"context"
	"errors"
	"fmt"
)

// markerError помечает ошибку классом retry.
type markerError struct {
	err       error
	transient bool
}

func (m *markerError) Error() string { return m.err.Error() }
func (m *markerError) Unwrap() error { return m.err }

// Transient помечает ошибку как повторяемую.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &markerError{err: err, transient: true}
}

// Permanent помечает ошибку как неповторяемую.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &markerError{err: err, transient: false}
}

// Transientf — fmt.Errorf с пометкой transient.
func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}

// Permanentf — fmt.Errorf с пометкой permanent.
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

// IsTransient возвращает true, если ошибку стоит повторить.
//
// Явно помеченные ошибки классифицируются по метке. Отмена context
// никогда не повторяется. Всё остальное (неклассифицированные
// runtime-ошибки) — transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var marker *markerError
	if errors.As(err, &marker) {
		return marker.transient
	}

	return true
}
