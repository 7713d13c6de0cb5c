package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
)

// SyncStateRepository — интерфейс для таблицы sync_state (одна строка).
type SyncStateRepository interface {
	// Get возвращает текущее состояние фоновых задач.
	Get(ctx context.Context) (*model.SyncState, error)
	// UpdatePlanResyncAt обновляет время последней сверки тарифов.
	UpdatePlanResyncAt(ctx context.Context, t time.Time) error
	// UpdateUserPurgeAt обновляет время последней очистки пользователей.
	UpdateUserPurgeAt(ctx context.Context, t time.Time) error
}

// syncStateRepo — реализация SyncStateRepository.
type syncStateRepo struct {
	db DBTX
}

// NewSyncStateRepository создаёт репозиторий состояния фоновых задач.
func NewSyncStateRepository(db DBTX) SyncStateRepository {
	return &syncStateRepo{db: db}
}

func (r *syncStateRepo) Get(ctx context.Context) (*model.SyncState, error) {
	query := `
		SELECT id, last_plan_resync_at, last_user_purge_at, created_at, updated_at
		FROM sync_state
		WHERE id = 1`

	s := &model.SyncState{}
	err := r.db.QueryRow(ctx, query).Scan(
		&s.ID, &s.LastPlanResyncAt, &s.LastUserPurgeAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения sync_state: %w", err)
	}
	return s, nil
}

func (r *syncStateRepo) UpdatePlanResyncAt(ctx context.Context, t time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE sync_state SET last_plan_resync_at = $1 WHERE id = 1`, t)
	if err != nil {
		return fmt.Errorf("ошибка обновления last_plan_resync_at: %w", err)
	}
	return nil
}

func (r *syncStateRepo) UpdateUserPurgeAt(ctx context.Context, t time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE sync_state SET last_user_purge_at = $1 WHERE id = 1`, t)
	if err != nil {
		return fmt.Errorf("ошибка обновления last_user_purge_at: %w", err)
	}
	return nil
}
