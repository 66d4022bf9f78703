// Package tasks — постановка задач worker pool'у.
//
// Каждая задача существует в двух местах: durable запись в таблице
// tasks (источник истины) и событие tasks.ready в очереди (быстрый
// путь доставки). Потеря события не теряет задачу: worker добирает
// QUEUED записи через polling.
package tasks
