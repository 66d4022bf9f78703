package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
)

const orderColumns = `
	id, status, dispatch_status, dispatch_mode, restaurant_id, customer_id,
	area_id, origin_lat, origin_lon, dest_lat, dest_lon, provider,
	failed_providers, search_attempts, driver_id, batch_id, job_id, reason,
	assigned_at, created_at, updated_at`

// OrderRepo — репозиторий заказов.
//
// Все изменения статусов — conditional update (compare-and-set по
// предыдущему значению), никаких scan-then-write: конкурентные батчи
// не должны терять обновления друг друга.
type OrderRepo struct {
	pool *pgxpool.Pool
}

// NewOrderRepo создаёт новый OrderRepo.
func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

// Create создаёт новый заказ.
func (r *OrderRepo) Create(ctx context.Context, order *domain.Order) error {
	failedJSON, err := json.Marshal(order.FailedProviders)
	if err != nil {
		return fmt.Errorf("marshal failed_providers: %w", err)
	}

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`
	_, err = r.pool.Exec(ctx, query,
		order.ID,
		order.Status,
		order.DispatchStatus,
		order.DispatchMode,
		order.RestaurantID,
		order.CustomerID,
		order.AreaID,
		order.Origin.Lat,
		order.Origin.Lon,
		order.Destination.Lat,
		order.Destination.Lon,
		nullString(order.Provider),
		failedJSON,
		order.SearchAttempts,
		nullString(order.DriverID),
		order.BatchID,
		nullString(order.JobID),
		nullString(order.Reason),
		order.AssignedAt,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetByID возвращает заказ по ID.
func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return scanOrder(r.pool.QueryRow(ctx, query, id))
}

// TransitionStatus выполняет переход статуса жизненного цикла.
//
// Conditional update: проходит только если текущий статус в БД равен
// from. Записывает провайдера, причину и счётчик попыток из order.
// Возвращает ErrConflict, если заказ уже увели в другой статус.
func (r *OrderRepo) TransitionStatus(ctx context.Context, order *domain.Order, from domain.OrderStatus) error {
	failedJSON, err := json.Marshal(order.FailedProviders)
	if err != nil {
		return fmt.Errorf("marshal failed_providers: %w", err)
	}

	query := `
		UPDATE orders
		SET status = $3, provider = $4, failed_providers = $5,
		    search_attempts = $6, reason = $7, updated_at = now()
		WHERE id = $1 AND status = $2
	`
	result, err := r.pool.Exec(ctx, query,
		order.ID,
		from,
		order.Status,
		nullString(order.Provider),
		failedJSON,
		order.SearchAttempts,
		nullString(order.Reason),
	)
	if err != nil {
		return fmt.Errorf("transition order status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// EnterDispatch ставит заказ в диспетчерский конвейер внутреннего
// провайдера. Идемпотентно: повторный вызов для уже стоящего в
// конвейере заказа с тем же режимом — no-op.
func (r *OrderRepo) EnterDispatch(ctx context.Context, id uuid.UUID, mode domain.DispatchMode) error {
	query := `
		UPDATE orders
		SET dispatch_status = $2, dispatch_mode = $3, updated_at = now()
		WHERE id = $1 AND (dispatch_status = '' OR (dispatch_status = $2 AND dispatch_mode = $3))
	`
	result, err := r.pool.Exec(ctx, query, id, domain.DispatchPending, mode)
	if err != nil {
		return fmt.Errorf("enter dispatch: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// LeaveDispatch убирает заказ из конвейера (отмена у провайдера).
// Идемпотентно: повторный вызов — no-op без ошибки.
func (r *OrderRepo) LeaveDispatch(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE orders
		SET dispatch_status = '', dispatch_mode = '', driver_id = NULL,
		    batch_id = NULL, job_id = NULL, assigned_at = NULL, updated_at = now()
		WHERE id = $1 AND dispatch_status <> ''
	`
	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("leave dispatch: %w", err)
	}
	return nil
}

// MarkClustered помечает instant-заказы включёнными в кластер,
// отправленный солверу. CAS от DISPATCH_PENDING.
func (r *OrderRepo) MarkClustered(ctx context.Context, ids []uuid.UUID, problemID string) (int, error) {
	query := `
		UPDATE orders
		SET dispatch_status = $2, job_id = $3, updated_at = now()
		WHERE id = ANY($1) AND dispatch_status = $4
	`
	result, err := r.pool.Exec(ctx, query, ids, domain.DispatchClustered, problemID, domain.DispatchPending)
	if err != nil {
		return 0, fmt.Errorf("mark clustered: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// MarkAwaitingAck назначает водителя и переводит заказ в ожидание
// подтверждения. CAS от from (CLUSTERED для instant, BATCHED для
// same-day). Возвращает false без ошибки, если CAS не прошёл.
func (r *OrderRepo) MarkAwaitingAck(ctx context.Context, id uuid.UUID, driverID, jobID string, from domain.DispatchStatus) (bool, error) {
	query := `
		UPDATE orders
		SET dispatch_status = $2, driver_id = $3, job_id = $4,
		    assigned_at = now(), updated_at = now()
		WHERE id = $1 AND dispatch_status = $5
	`
	result, err := r.pool.Exec(ctx, query, id, domain.DispatchAwaitingAck, driverID, nullString(jobID), from)
	if err != nil {
		return false, fmt.Errorf("mark awaiting ack: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// MarkAcknowledged фиксирует подтверждение водителя. CAS от
// AWAITING_DRIVER_ACK.
func (r *OrderRepo) MarkAcknowledged(ctx context.Context, id uuid.UUID, driverID string) (bool, error) {
	query := `
		UPDATE orders
		SET dispatch_status = $3, updated_at = now()
		WHERE id = $1 AND driver_id = $2 AND dispatch_status = $4
	`
	result, err := r.pool.Exec(ctx, query, id, driverID, domain.DispatchAcknowledged, domain.DispatchAwaitingAck)
	if err != nil {
		return false, fmt.Errorf("mark acknowledged: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// RevertToPending возвращает заказ в DISPATCH_PENDING (кластер не
// сошёлся, конфликт блокировок или sweep по таймауту ack).
// CAS: проходит только из CLUSTERED, BATCHED или AWAITING_DRIVER_ACK.
func (r *OrderRepo) RevertToPending(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE orders
		SET dispatch_status = $2, driver_id = NULL, job_id = NULL,
		    assigned_at = NULL, updated_at = now()
		WHERE id = $1 AND dispatch_status = ANY($3)
	`
	revertible := []domain.DispatchStatus{
		domain.DispatchClustered,
		domain.DispatchBatched,
		domain.DispatchAwaitingAck,
	}
	result, err := r.pool.Exec(ctx, query, id, domain.DispatchPending, revertible)
	if err != nil {
		return false, fmt.Errorf("revert to pending: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ListDispatchPending возвращает заказы конвейера в DISPATCH_PENDING
// для режима mode, старые первыми.
func (r *OrderRepo) ListDispatchPending(ctx context.Context, mode domain.DispatchMode, limit int) ([]domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE dispatch_status = $1 AND dispatch_mode = $2
		ORDER BY created_at ASC
		LIMIT $3
	`
	return r.listOrders(ctx, query, domain.DispatchPending, mode, limit)
}

// ListAwaitingAckBefore возвращает заказы, ждущие подтверждения
// водителя дольше cutoff. Кандидаты lease cleanup sweep.
func (r *OrderRepo) ListAwaitingAckBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE dispatch_status = $1 AND assigned_at <= $2
		ORDER BY assigned_at ASC
		LIMIT $3
	`
	return r.listOrders(ctx, query, domain.DispatchAwaitingAck, cutoff, limit)
}

// ListUnstarted возвращает заказы, по которым жизненный цикл так и не
// запустился: статус начальный, а токен подтверждения ресторана не
// выпускался. Polling fallback на случай потери события order.new.
func (r *OrderRepo) ListUnstarted(ctx context.Context, limit int) ([]domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders o
		WHERE o.status = $1
		  AND NOT EXISTS (
			SELECT 1 FROM callback_tokens t
			WHERE t.order_id = o.id AND t.purpose = $2
		  )
		ORDER BY o.created_at ASC
		LIMIT $3
	`
	return r.listOrders(ctx, query, domain.StatusAwaitingRestaurantAck, domain.PurposeRestaurantAck, limit)
}

// ListByBatchID возвращает заказы батча.
func (r *OrderRepo) ListByBatchID(ctx context.Context, batchID uuid.UUID) ([]domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE batch_id = $1
		ORDER BY created_at ASC
	`
	return r.listOrders(ctx, query, batchID)
}

// ListByStatus возвращает заказы в статусе жизненного цикла,
// старые первыми. Используется polling-циклом оркестратора и CLI.
func (r *OrderRepo) ListByStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	return r.listOrders(ctx, query, status, limit)
}

// List возвращает последние заказы (для CLI).
func (r *OrderRepo) List(ctx context.Context, limit int) ([]domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		ORDER BY created_at DESC
		LIMIT $1
	`
	return r.listOrders(ctx, query, limit)
}

// --- Helpers ---

func (r *OrderRepo) listOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

// scanOrder сканирует строку в Order. Работает и для pgx.Row, и для
// pgx.Rows (обе реализуют Scan).
func scanOrder(row pgx.Row) (*domain.Order, error) {
	var order domain.Order
	var failedJSON []byte
	var provider, driverID, jobID, reason *string

	err := row.Scan(
		&order.ID,
		&order.Status,
		&order.DispatchStatus,
		&order.DispatchMode,
		&order.RestaurantID,
		&order.CustomerID,
		&order.AreaID,
		&order.Origin.Lat,
		&order.Origin.Lon,
		&order.Destination.Lat,
		&order.Destination.Lon,
		&provider,
		&failedJSON,
		&order.SearchAttempts,
		&driverID,
		&order.BatchID,
		&jobID,
		&reason,
		&order.AssignedAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if failedJSON != nil {
		if err := json.Unmarshal(failedJSON, &order.FailedProviders); err != nil {
			return nil, fmt.Errorf("unmarshal failed_providers: %w", err)
		}
	}

	if provider != nil {
		order.Provider = *provider
	}
	if driverID != nil {
		order.DriverID = *driverID
	}
	if jobID != nil {
		order.JobID = *jobID
	}
	if reason != nil {
		order.Reason = *reason
	}

	return &order, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
