package callback

import "errors"

var (
	// ErrTokenUnknown — токен не найден в реестре.
	ErrTokenUnknown = errors.New("callback token unknown")

	// ErrTokenConsumed — токен уже использован или истёк.
	ErrTokenConsumed = errors.New("callback token already consumed or expired")
)
