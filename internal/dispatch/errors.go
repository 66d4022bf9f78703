package dispatch

import "errors"

// Ошибки диспетчерского конвейера.
var (
	// ErrEmptyCluster — кластер не содержит ни одного заказа,
	// пригодного к отправке солверу.
	ErrEmptyCluster = errors.New("cluster has no dispatchable orders")

	// ErrBatchNotSealed — батч не в статусе SEALED: либо уже
	// диспетчеризован, либо провален.
	ErrBatchNotSealed = errors.New("batch is not sealed")
)
