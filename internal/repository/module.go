package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
)

// ModuleRepository — интерфейс CRUD для таблицы modules.
type ModuleRepository interface {
	// Create создаёт модуль. Конфликт ключа — ErrConflict.
	Create(ctx context.Context, m *model.Module) error
	// GetByID возвращает модуль по UUID.
	GetByID(ctx context.Context, id string) (*model.Module, error)
	// GetByKey возвращает модуль по ключу.
	GetByKey(ctx context.Context, key string) (*model.Module, error)
	// GetByIDForUpdate возвращает модуль и блокирует строку до конца транзакции.
	GetByIDForUpdate(ctx context.Context, id string) (*model.Module, error)
	// Update сохраняет изменяемые поля модуля (ключ не меняется).
	Update(ctx context.Context, m *model.Module) error
	// List возвращает модули; архивные — только при includeArchived.
	List(ctx context.Context, includeArchived bool, limit, offset int) ([]*model.Module, error)
	// Count возвращает количество модулей.
	Count(ctx context.Context, includeArchived bool) (int, error)
	// ListAvailable возвращает все включённые неархивные модули.
	ListAvailable(ctx context.Context) ([]*model.Module, error)
}

// moduleColumns — колонки таблицы modules в порядке сканирования.
const moduleColumns = `id, key, name, description, min_plan, enabled, is_archived,
	activated_at, created_at, updated_at`

// moduleRepo — реализация ModuleRepository.
type moduleRepo struct {
	db DBTX
}

// NewModuleRepository создаёт репозиторий модулей.
func NewModuleRepository(db DBTX) ModuleRepository {
	return &moduleRepo{db: db}
}

func (r *moduleRepo) Create(ctx context.Context, m *model.Module) error {
	query := `
		INSERT INTO modules (id, key, name, description, min_plan, enabled, is_archived, activated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		m.ID, m.Key, m.Name, m.Description, m.MinPlan, m.Enabled, m.IsArchived, m.ActivatedAt,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: модуль с ключом %q уже существует", ErrConflict, m.Key)
		}
		return fmt.Errorf("ошибка создания модуля: %w", err)
	}
	return nil
}

func (r *moduleRepo) GetByID(ctx context.Context, id string) (*model.Module, error) {
	return r.getOne(ctx, `SELECT `+moduleColumns+` FROM modules WHERE id = $1`, id)
}

func (r *moduleRepo) GetByKey(ctx context.Context, key string) (*model.Module, error) {
	return r.getOne(ctx, `SELECT `+moduleColumns+` FROM modules WHERE key = $1`, key)
}

func (r *moduleRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.Module, error) {
	return r.getOne(ctx, `SELECT `+moduleColumns+` FROM modules WHERE id = $1 FOR UPDATE`, id)
}

func (r *moduleRepo) Update(ctx context.Context, m *model.Module) error {
	query := `
		UPDATE modules
		SET name = $2, description = $3, min_plan = $4, enabled = $5,
			is_archived = $6, activated_at = $7
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		m.ID, m.Name, m.Description, m.MinPlan, m.Enabled, m.IsArchived, m.ActivatedAt,
	).Scan(&m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления модуля: %w", err)
	}
	return nil
}

func (r *moduleRepo) List(ctx context.Context, includeArchived bool, limit, offset int) ([]*model.Module, error) {
	query := `
		SELECT ` + moduleColumns + `
		FROM modules
		WHERE ($1 OR NOT is_archived)
		ORDER BY key
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, includeArchived, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка модулей: %w", err)
	}
	return collectModules(rows)
}

func (r *moduleRepo) Count(ctx context.Context, includeArchived bool) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM modules WHERE ($1 OR NOT is_archived)`, includeArchived,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта модулей: %w", err)
	}
	return count, nil
}

func (r *moduleRepo) ListAvailable(ctx context.Context) ([]*model.Module, error) {
	query := `
		SELECT ` + moduleColumns + `
		FROM modules
		WHERE enabled AND NOT is_archived
		ORDER BY key`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения доступных модулей: %w", err)
	}
	return collectModules(rows)
}

func (r *moduleRepo) getOne(ctx context.Context, query string, args ...any) (*model.Module, error) {
	m, err := scanModule(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения модуля: %w", err)
	}
	return m, nil
}

// collectModules читает все строки и закрывает rows.
func collectModules(rows pgx.Rows) ([]*model.Module, error) {
	defer rows.Close()

	var result []*model.Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования модуля: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// scanModule сканирует строку с колонками moduleColumns.
func scanModule(row pgx.Row) (*model.Module, error) {
	m := &model.Module{}
	err := row.Scan(
		&m.ID, &m.Key, &m.Name, &m.Description, &m.MinPlan, &m.Enabled, &m.IsArchived,
		&m.ActivatedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}
