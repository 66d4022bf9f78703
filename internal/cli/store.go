package cli

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hyperlocal-delivery/dispatch/internal/locks"
	"github.com/hyperlocal-delivery/dispatch/internal/repo"
)

// Store — доступ CLI к хранилищу. CLI работает напрямую с Postgres:
// операционные команды нужны и тогда, когда процессы системы лежат.
type Store struct {
	pool *pgxpool.Pool

	Orders  *repo.OrderRepo
	Areas   *repo.AreaRepo
	Batches *repo.BatchRepo
	Tasks   *repo.TaskRepo
	Locks   *locks.Postgres
}

// OpenStore подключается к БД (DB_URL) и собирает репозитории.
func OpenStore(ctx context.Context) (*Store, error) {
	pool, err := repo.NewPool(ctx)
	if err != nil {
		return nil, err
	}

	return &Store{
		pool:    pool,
		Orders:  repo.NewOrderRepo(pool),
		Areas:   repo.NewAreaRepo(pool),
		Batches: repo.NewBatchRepo(pool),
		Tasks:   repo.NewTaskRepo(pool),
		Locks:   locks.NewPostgres(pool),
	}, nil
}

// Close закрывает подключение.
func (s *Store) Close() {
	s.pool.Close()
}
