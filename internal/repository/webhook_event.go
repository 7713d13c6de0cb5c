package repository

import (
	"context"
	"fmt"
	"time"
)

// WebhookEventRepository — интерфейс для таблицы processed_webhook_events.
type WebhookEventRepository interface {
	// IsProcessed проверяет, обработано ли событие провайдера.
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	// MarkProcessed отмечает событие обработанным (повторная отметка — no-op).
	MarkProcessed(ctx context.Context, eventID, eventType string) error
	// DeleteOlderThan удаляет отметки старше before.
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// webhookEventRepo — реализация WebhookEventRepository.
type webhookEventRepo struct {
	db DBTX
}

// NewWebhookEventRepository создаёт репозиторий обработанных webhook-событий.
func NewWebhookEventRepository(db DBTX) WebhookEventRepository {
	return &webhookEventRepo{db: db}
}

func (r *webhookEventRepo) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_webhook_events WHERE provider_event_id = $1)`, eventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки webhook-события: %w", err)
	}
	return exists, nil
}

func (r *webhookEventRepo) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO processed_webhook_events (provider_event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (provider_event_id) DO NOTHING`, eventID, eventType)
	if err != nil {
		return fmt.Errorf("ошибка отметки webhook-события: %w", err)
	}
	return nil
}

func (r *webhookEventRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM processed_webhook_events WHERE processed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки webhook-событий: %w", err)
	}
	return tag.RowsAffected(), nil
}
