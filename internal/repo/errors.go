package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict — conditional update не прошёл: запись изменена
	// конкурентно и её состояние не совпало с ожидаемым.
	ErrConflict = errors.New("conditional update conflict")
)
