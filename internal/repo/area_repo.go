package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
)

// AreaRepo — репозиторий настроек демографических зон.
//
// Настройки read-only во время работы: оркестратор загружает их один
// раз при старте (GetAll) в неизменяемый snapshot. Seed используется
// только деплоем и CLI.
type AreaRepo struct {
	pool *pgxpool.Pool
}

// NewAreaRepo создаёт новый AreaRepo.
func NewAreaRepo(pool *pgxpool.Pool) *AreaRepo {
	return &AreaRepo{pool: pool}
}

// GetAll возвращает настройки всех зон.
func (r *AreaRepo) GetAll(ctx context.Context) ([]domain.DemographicArea, error) {
	query := `SELECT area_id, rules FROM area_settings ORDER BY area_id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list area settings: %w", err)
	}
	defer rows.Close()

	var areas []domain.DemographicArea
	for rows.Next() {
		var area domain.DemographicArea
		var rulesJSON []byte

		if err := rows.Scan(&area.AreaID, &rulesJSON); err != nil {
			return nil, fmt.Errorf("scan area settings: %w", err)
		}
		if err := json.Unmarshal(rulesJSON, &area.Rules); err != nil {
			return nil, fmt.Errorf("unmarshal rules for %s: %w", area.AreaID, err)
		}

		areas = append(areas, area)
	}
	return areas, rows.Err()
}

// Seed записывает настройки зон (upsert). Вызывается деплоем/CLI.
func (r *AreaRepo) Seed(ctx context.Context, areas []domain.DemographicArea) error {
	query := `
		INSERT INTO area_settings (area_id, rules, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (area_id) DO UPDATE SET rules = EXCLUDED.rules, updated_at = EXCLUDED.updated_at
	`
	now := time.Now()

	for i := range areas {
		rulesJSON, err := json.Marshal(areas[i].Rules)
		if err != nil {
			return fmt.Errorf("marshal rules for %s: %w", areas[i].AreaID, err)
		}
		if _, err := r.pool.Exec(ctx, query, areas[i].AreaID, rulesJSON, now); err != nil {
			return fmt.Errorf("seed area %s: %w", areas[i].AreaID, err)
		}
	}
	return nil
}
