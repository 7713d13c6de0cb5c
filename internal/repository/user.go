package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
)

// UserRepository — интерфейс для таблицы users.
// Все выборки, кроме PurgeDeleted, исключают мягко удалённых пользователей.
type UserRepository interface {
	// Create создаёт пользователя. Конфликт email — ErrConflict.
	Create(ctx context.Context, u *model.User) error
	// GetByID возвращает пользователя по UUID.
	GetByID(ctx context.Context, id string) (*model.User, error)
	// GetByIDForUpdate возвращает пользователя и блокирует строку до конца транзакции.
	GetByIDForUpdate(ctx context.Context, id string) (*model.User, error)
	// GetByEmail возвращает пользователя по email без учёта регистра.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// GetByCustomerRef возвращает пользователя по ID клиента биллинга.
	GetByCustomerRef(ctx context.Context, customerRef string) (*model.User, error)
	// UpdateBilling сохраняет тариф, статус подписки и ссылки биллинга.
	UpdateBilling(ctx context.Context, u *model.User) error
	// ListWithCustomerRef возвращает пользователей с привязанным клиентом биллинга.
	ListWithCustomerRef(ctx context.Context, limit, offset int) ([]*model.User, error)
	// SoftDelete помечает пользователя удалённым.
	SoftDelete(ctx context.Context, id string, at time.Time) error
	// PurgeDeleted окончательно удаляет пользователей, удалённых раньше before.
	PurgeDeleted(ctx context.Context, before time.Time) (int64, error)
}

// userColumns — колонки таблицы users в порядке сканирования.
const userColumns = `id, email, role, plan, billing_customer_ref, billing_subscription_ref,
	subscription_status, deleted_at, created_at, updated_at`

// userRepo — реализация UserRepository.
type userRepo struct {
	db DBTX
}

// NewUserRepository создаёт репозиторий пользователей.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (id, email, role, plan, billing_customer_ref,
			billing_subscription_ref, subscription_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		u.ID, u.Email, u.Role, u.Plan, u.BillingCustomerRef,
		u.BillingSubscriptionRef, u.SubscriptionStatus,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: email уже зарегистрирован", ErrConflict)
		}
		return fmt.Errorf("ошибка создания пользователя: %w", err)
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL`
	return r.getOne(ctx, query, id)
}

func (r *userRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	return r.getOne(ctx, query, id)
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1) AND deleted_at IS NULL`
	return r.getOne(ctx, query, email)
}

func (r *userRepo) GetByCustomerRef(ctx context.Context, customerRef string) (*model.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE billing_customer_ref = $1 AND deleted_at IS NULL`
	return r.getOne(ctx, query, customerRef)
}

func (r *userRepo) UpdateBilling(ctx context.Context, u *model.User) error {
	query := `
		UPDATE users
		SET plan = $2, subscription_status = $3,
			billing_customer_ref = $4, billing_subscription_ref = $5
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		u.ID, u.Plan, u.SubscriptionStatus, u.BillingCustomerRef, u.BillingSubscriptionRef,
	).Scan(&u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: клиент биллинга привязан к другому пользователю", ErrConflict)
		}
		return fmt.Errorf("ошибка обновления биллинга пользователя: %w", err)
	}
	return nil
}

func (r *userRepo) ListWithCustomerRef(ctx context.Context, limit, offset int) ([]*model.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE billing_customer_ref IS NOT NULL AND deleted_at IS NULL
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка пользователей: %w", err)
	}
	defer rows.Close()

	var result []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования пользователя: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (r *userRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("ошибка удаления пользователя: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepo) PurgeDeleted(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM users WHERE deleted_at IS NOT NULL AND deleted_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки удалённых пользователей: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *userRepo) getOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return u, nil
}

// scanUser сканирует строку с колонками userColumns.
func scanUser(row pgx.Row) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(
		&u.ID, &u.Email, &u.Role, &u.Plan, &u.BillingCustomerRef, &u.BillingSubscriptionRef,
		&u.SubscriptionStatus, &u.DeletedAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}
