// audit.go — журнал изменений прав пользователей.
//
// AuditRecorder добавляет записи через репозиторий текущей транзакции,
// поэтому запись аудита фиксируется атомарно вместе с изменением.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
	"github.com/bigkaa/saaskit/entitlement-module/internal/repository"
)

// AuditRecorder — запись и чтение журнала аудита.
type AuditRecorder struct {
	reader repository.AuditRepository
	now    func() time.Time
	logger *slog.Logger
}

// NewAuditRecorder создаёт AuditRecorder. reader используется только для чтения.
func NewAuditRecorder(reader repository.AuditRepository, logger *slog.Logger) *AuditRecorder {
	return &AuditRecorder{
		reader: reader,
		now:    time.Now,
		logger: logger.With(slog.String("component", "audit")),
	}
}

// Record добавляет запись через sink (репозиторий транзакции).
// performedBy == nil означает системное действие или webhook.
func (a *AuditRecorder) Record(
	ctx context.Context,
	sink repository.AuditRepository,
	action model.AuditAction,
	entityType, entityID string,
	performedBy *string,
	metadata map[string]any,
) error {
	entry := &model.AuditEntry{
		ID:                uuid.New().String(),
		Action:            action,
		EntityType:        entityType,
		EntityID:          entityID,
		PerformedByUserID: performedBy,
		Metadata:          metadata,
		CreatedAt:         a.now().UTC(),
	}
	if err := sink.Append(ctx, entry); err != nil {
		return fmt.Errorf("запись аудита %s: %w", action, err)
	}

	a.logger.Debug("Запись аудита добавлена",
		slog.String("action", string(action)),
		slog.String("entity_type", entityType),
		slog.String("entity_id", entityID),
	)
	return nil
}

// List возвращает записи журнала по фильтру и общее количество.
func (a *AuditRecorder) List(ctx context.Context, filter repository.AuditFilter, limit, offset int) ([]*model.AuditEntry, int, error) {
	entries, err := a.reader.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("получение журнала аудита: %w", err)
	}
	total, err := a.reader.Count(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("подсчёт записей аудита: %w", err)
	}
	return entries, total, nil
}
