package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
)

// GrantRepository — интерфейс для таблицы module_access_grants.
// Пара (user_id, module_id) уникальна.
type GrantRepository interface {
	// Insert создаёт выдачу. Возвращает false, если выдача уже существовала.
	Insert(ctx context.Context, g *model.ModuleAccessGrant) (created bool, err error)
	// Delete удаляет выдачу. Возвращает false, если её не было.
	Delete(ctx context.Context, userID, moduleID string) (deleted bool, err error)
	// Exists проверяет наличие выдачи.
	Exists(ctx context.Context, userID, moduleID string) (bool, error)
	// ModuleIDsForUser возвращает множество модулей с явной выдачей пользователю.
	ModuleIDsForUser(ctx context.Context, userID string) (map[string]bool, error)
}

// grantRepo — реализация GrantRepository.
type grantRepo struct {
	db DBTX
}

// NewGrantRepository создаёт репозиторий явных выдач доступа.
func NewGrantRepository(db DBTX) GrantRepository {
	return &grantRepo{db: db}
}

func (r *grantRepo) Insert(ctx context.Context, g *model.ModuleAccessGrant) (bool, error) {
	// Повторная выдача — идемпотентный случай, а не конфликт
	query := `
		INSERT INTO module_access_grants (user_id, module_id, granted_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, module_id) DO NOTHING
		RETURNING created_at`

	rows, err := r.db.Query(ctx, query, g.UserID, g.ModuleID, g.GrantedBy)
	if err != nil {
		return false, fmt.Errorf("ошибка создания выдачи доступа: %w", err)
	}
	defer rows.Close()

	created := false
	for rows.Next() {
		if err := rows.Scan(&g.CreatedAt); err != nil {
			return false, fmt.Errorf("ошибка сканирования выдачи доступа: %w", err)
		}
		created = true
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("ошибка создания выдачи доступа: %w", err)
	}
	return created, nil
}

func (r *grantRepo) Delete(ctx context.Context, userID, moduleID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM module_access_grants WHERE user_id = $1 AND module_id = $2`, userID, moduleID)
	if err != nil {
		return false, fmt.Errorf("ошибка удаления выдачи доступа: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *grantRepo) Exists(ctx context.Context, userID, moduleID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM module_access_grants WHERE user_id = $1 AND module_id = $2)`,
		userID, moduleID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки выдачи доступа: %w", err)
	}
	return exists, nil
}

func (r *grantRepo) ModuleIDsForUser(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := r.db.Query(ctx,
		`SELECT module_id FROM module_access_grants WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения выдач доступа: %w", err)
	}
	defer rows.Close()

	result := make(map[string]bool)
	for rows.Next() {
		var moduleID string
		if err := rows.Scan(&moduleID); err != nil {
			return nil, fmt.Errorf("ошибка сканирования выдачи доступа: %w", err)
		}
		result[moduleID] = true
	}
	return result, rows.Err()
}
