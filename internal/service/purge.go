// purge.go — фоновая очистка мягко удалённых пользователей.
//
// UserPurgeService с интервалом EM_PURGE_INTERVAL окончательно удаляет
// пользователей, помеченных удалёнными раньше, чем EM_USER_RETENTION назад.
// Явные выдачи удаляются каскадно, записи аудита сохраняются.
// Заодно удаляются отметки обработанных webhook-событий старше того же срока.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
	"github.com/bigkaa/saaskit/entitlement-module/internal/repository"
)

// UserPurgeService — фоновая очистка удалённых пользователей.
type UserPurgeService struct {
	repos     *repository.Repositories
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewUserPurgeService создаёт сервис очистки.
func NewUserPurgeService(repos *repository.Repositories, retention, interval time.Duration, logger *slog.Logger) *UserPurgeService {
	return &UserPurgeService{
		repos:     repos,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "user_purge")),
	}
}

// Start запускает фоновую горутину с периодической очисткой.
func (s *UserPurgeService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Периодическая очистка пользователей запущена",
			slog.String("interval", s.interval.String()),
			slog.String("retention", s.retention.String()),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Периодическая очистка пользователей остановлена")
				return
			case <-ticker.C:
				result, err := s.PurgeNow(ctx)
				if err != nil {
					s.logger.Error("Ошибка очистки пользователей",
						slog.String("error", err.Error()),
					)
					continue
				}
				if result.Purged > 0 {
					s.logger.Info("Очистка пользователей завершена",
						slog.Int64("purged", result.Purged),
						slog.Time("cutoff", result.Cutoff),
					)
				}
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (s *UserPurgeService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// PurgeNow выполняет очистку немедленно.
func (s *UserPurgeService) PurgeNow(ctx context.Context) (*model.UserPurgeResult, error) {
	now := s.now().UTC()
	cutoff := now.Add(-s.retention)

	purged, err := s.repos.Users.PurgeDeleted(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("очистка пользователей: %w", err)
	}

	events, err := s.repos.WebhookEvents.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("очистка webhook-событий: %w", err)
	}
	if events > 0 {
		s.logger.Debug("Удалены старые отметки webhook-событий", slog.Int64("count", events))
	}

	if err := s.repos.SyncState.UpdateUserPurgeAt(ctx, now); err != nil {
		s.logger.Warn("Не удалось сохранить время очистки", slog.String("error", err.Error()))
	}

	return &model.UserPurgeResult{
		Purged:      purged,
		Cutoff:      cutoff,
		CompletedAt: s.now().UTC(),
	}, nil
}
