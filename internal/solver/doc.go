// Package solver — контракт внешнего сервиса маршрутной оптимизации.
//
// Солвер — чёрный ящик: Submit отправляет задачу и возвращает её id,
// Query опрашивает состояние по id. Poller оборачивает Query в цикл с
// фиксированным интервалом, ограниченный контекстом вызывающего.
package solver
