package worker

import "errors"

// Ошибки воркера.
var (
	// ErrTaskNotFound — task не найдена в БД.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskNotQueued — task не в статусе QUEUED.
	ErrTaskNotQueued = errors.New("task is not in QUEUED status")

	// ErrUnknownCommand — нет executor'а для команды.
	ErrUnknownCommand = errors.New("unknown task command")

	// ErrHTTPRequest — HTTP-запрос завершился ошибкой.
	ErrHTTPRequest = errors.New("http request failed")
)
