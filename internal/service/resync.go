// resync.go — периодическая сверка тарифов с биллинг-провайдером.
//
// PlanResyncService раз в EM_PLAN_RESYNC_INTERVAL выполняет ручную сверку
// для всех пользователей с привязанным клиентом биллинга. Это исправляет
// состояние после потерянных или пришедших не по порядку webhook-событий.
// При EM_PLAN_RESYNC_INTERVAL=0 сервис не запускается.
//
// Prometheus-метрики:
//   - entitlement_plan_resync_duration_seconds — длительность сверки
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
	"github.com/bigkaa/saaskit/entitlement-module/internal/repository"
)

// planResyncDuration — длительность периодической сверки.
var planResyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "entitlement_plan_resync_duration_seconds",
	Help:    "Длительность периодической сверки тарифов с биллинг-провайдером",
	Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s … ~205s
})

// resyncPageSize — размер страницы пользователей при сверке.
const resyncPageSize = 100

// planSyncer — ручная сверка одного пользователя.
type planSyncer interface {
	ReconcileFromQuery(ctx context.Context, userID string, actorID *string) (*model.ReconcileResult, error)
}

// PlanResyncService — фоновая сверка тарифов.
type PlanResyncService struct {
	syncer    planSyncer
	users     repository.UserRepository
	syncState repository.SyncStateRepository
	interval  time.Duration
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPlanResyncService создаёт сервис периодической сверки.
func NewPlanResyncService(
	syncer planSyncer,
	users repository.UserRepository,
	syncState repository.SyncStateRepository,
	interval time.Duration,
	logger *slog.Logger,
) *PlanResyncService {
	return &PlanResyncService{
		syncer:    syncer,
		users:     users,
		syncState: syncState,
		interval:  interval,
		logger:    logger.With(slog.String("component", "plan_resync")),
	}
}

// Start запускает фоновую горутину с периодической сверкой.
func (s *PlanResyncService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Периодическая сверка тарифов запущена",
			slog.String("interval", s.interval.String()),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Периодическая сверка тарифов остановлена")
				return
			case <-ticker.C:
				result, err := s.SyncNow(ctx)
				if err != nil {
					s.logger.Error("Ошибка периодической сверки тарифов",
						slog.String("error", err.Error()),
					)
					continue
				}
				s.logger.Info("Периодическая сверка тарифов завершена",
					slog.Int("users_checked", result.UsersChecked),
					slog.Int("users_changed", result.UsersChanged),
					slog.Int("unmapped_prices", result.UnmappedPrices),
					slog.Int("failed", result.Failed),
				)
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (s *PlanResyncService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// SyncNow сверяет всех пользователей с клиентом биллинга.
// Ошибка провайдера для одного пользователя не прерывает обход.
func (s *PlanResyncService) SyncNow(ctx context.Context) (*model.PlanResyncResult, error) {
	startedAt := time.Now().UTC()
	timer := prometheus.NewTimer(planResyncDuration)
	defer timer.ObserveDuration()

	result := &model.PlanResyncResult{StartedAt: startedAt}

	for offset := 0; ; offset += resyncPageSize {
		users, err := s.users.ListWithCustomerRef(ctx, resyncPageSize, offset)
		if err != nil {
			return nil, err
		}

		for _, u := range users {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			result.UsersChecked++

			res, err := s.syncer.ReconcileFromQuery(ctx, u.ID, nil)
			if err != nil {
				result.Failed++
				// Пользователь мог быть удалён между страницами
				if !errors.Is(err, ErrNotFound) {
					s.logger.Warn("Ошибка сверки тарифа пользователя",
						slog.String("user_id", u.ID),
						slog.String("error", err.Error()),
					)
				}
				continue
			}
			if res.Changed {
				result.UsersChanged++
			}
			if res.UnmappedPrice {
				result.UnmappedPrices++
			}
		}

		if len(users) < resyncPageSize {
			break
		}
	}

	result.CompletedAt = time.Now().UTC()
	if err := s.syncState.UpdatePlanResyncAt(ctx, result.CompletedAt); err != nil {
		s.logger.Warn("Не удалось сохранить время сверки", slog.String("error", err.Error()))
	}
	return result, nil
}
