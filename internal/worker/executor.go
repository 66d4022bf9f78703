package worker

import (
	"context"
	"fmt"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
)

// Executor — интерфейс выполнения одной команды.
//
// Реализации: Notifier (все HTTP-команды), ClusterExecutor.
//
// Ошибки классифицируются пакетом taskerr: transient повторяется
// воркером, permanent сразу проваливает задачу. Неклассифицированная
// ошибка считается transient.
type Executor interface {
	Execute(ctx context.Context, task *domain.Task) error
}

// Registry — реестр executor'ов по команде.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register добавляет executor для команды.
func (r *Registry) Register(command string, executor Executor) {
	r.executors[command] = executor
}

// Get возвращает executor для команды.
func (r *Registry) Get(command string) (Executor, error) {
	executor, ok := r.executors[command]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
	return executor, nil
}

// DefaultRegistry создаёт реестр со стандартным набором executor'ов:
// все HTTP-команды идут через notifier, кластеризация — через cluster.
func DefaultRegistry(notifier *Notifier, cluster *ClusterExecutor) *Registry {
	r := NewRegistry()
	r.Register(domain.CommandNotifyRestaurant, notifier)
	r.Register(domain.CommandNotifyDriver, notifier)
	r.Register(domain.CommandSendToProvider, notifier)
	r.Register(domain.CommandCancelAtProvider, notifier)
	r.Register(domain.CommandBroadcastJob, notifier)
	r.Register(domain.CommandClusterOrders, cluster)
	return r
}
