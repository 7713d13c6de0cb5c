package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
)

// AuditFilter — фильтр выборки журнала аудита. Пустые поля не фильтруют.
type AuditFilter struct {
	EntityType string
	EntityID   string
	Action     model.AuditAction
}

// AuditRepository — интерфейс для таблицы audit_entries.
// Записи только добавляются: методов изменения и удаления нет.
type AuditRepository interface {
	// Append добавляет запись аудита.
	Append(ctx context.Context, e *model.AuditEntry) error
	// List возвращает записи, новые первыми.
	List(ctx context.Context, filter AuditFilter, limit, offset int) ([]*model.AuditEntry, error)
	// Count возвращает количество записей по фильтру.
	Count(ctx context.Context, filter AuditFilter) (int, error)
}

// auditRepo — реализация AuditRepository.
type auditRepo struct {
	db DBTX
}

// NewAuditRepository создаёт репозиторий журнала аудита.
func NewAuditRepository(db DBTX) AuditRepository {
	return &auditRepo{db: db}
}

func (r *auditRepo) Append(ctx context.Context, e *model.AuditEntry) error {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("ошибка сериализации metadata аудита: %w", err)
	}

	query := `
		INSERT INTO audit_entries (id, action, entity_type, entity_id, performed_by_user_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err = r.db.QueryRow(ctx, query,
		e.ID, e.Action, e.EntityType, e.EntityID, e.PerformedByUserID, raw,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи аудита: %w", err)
	}
	return nil
}

func (r *auditRepo) List(ctx context.Context, filter AuditFilter, limit, offset int) ([]*model.AuditEntry, error) {
	where, args := auditWhere(filter)
	argNum := len(args) + 1

	query := fmt.Sprintf(`
		SELECT id, action, entity_type, entity_id, performed_by_user_id, metadata, created_at
		FROM audit_entries
		%s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d`, where, argNum, argNum+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения журнала аудита: %w", err)
	}
	defer rows.Close()

	var result []*model.AuditEntry
	for rows.Next() {
		e := &model.AuditEntry{}
		var raw []byte
		if err := rows.Scan(
			&e.ID, &e.Action, &e.EntityType, &e.EntityID, &e.PerformedByUserID, &raw, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи аудита: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Metadata); err != nil {
				return nil, fmt.Errorf("ошибка разбора metadata аудита: %w", err)
			}
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *auditRepo) Count(ctx context.Context, filter AuditFilter) (int, error) {
	where, args := auditWhere(filter)

	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM audit_entries `+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей аудита: %w", err)
	}
	return count, nil
}

// auditWhere строит WHERE по заполненным полям фильтра.
func auditWhere(filter AuditFilter) (string, []any) {
	var conditions []string
	var args []any
	argNum := 1

	if filter.EntityType != "" {
		conditions = append(conditions, fmt.Sprintf("entity_type = $%d", argNum))
		args = append(args, filter.EntityType)
		argNum++
	}
	if filter.EntityID != "" {
		conditions = append(conditions, fmt.Sprintf("entity_id = $%d", argNum))
		args = append(args, filter.EntityID)
		argNum++
	}
	if filter.Action != "" {
		conditions = append(conditions, fmt.Sprintf("action = $%d", argNum))
		args = append(args, filter.Action)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}
