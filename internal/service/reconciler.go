// reconciler.go — сверка тарифа пользователя с состоянием подписки провайдера.
//
// PlanReconciler — единственный источник записи User.plan и
// User.subscription_status. Два входа сводятся к одной операции apply:
//   - ReconcileFromEvent — по одному уведомлению провайдера (webhook)
//   - ReconcileFromQuery — ручная сверка: запрос подписки у провайдера
//     с таймаутом и синхронное применение результата
//
// apply выполняется в одной транзакции с блокировкой строки пользователя:
//  1. статус провайдера → внутренний статус
//  2. статус не ACTIVE → тариф FREE
//  3. статус ACTIVE → тариф по каталогу цен; неизвестная цена не меняет тариф
//  4. тариф и статус не изменились → записи нет, аудита нет
//  5. изменились → обновление пользователя и одна запись аудита old→new
//     (PLAN_CHANGED, если изменился тариф, иначе SUBSCRIPTION_STATUS_CHANGED)
//
// Каждое событие — независимая команда «установить значение». Устаревшее
// событие, пришедшее не по порядку, может временно перезаписать более новое
// состояние; следующая доставка или ручная сверка это исправит.
//
// Prometheus-метрики:
//   - entitlement_reconciliations_total{source,outcome} — итоги сверок
//   - entitlement_unmapped_prices_total — активные подписки с ценой вне каталога
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/billing"
	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
	"github.com/bigkaa/saaskit/entitlement-module/internal/repository"
)

// Prometheus-метрики сверки тарифов.
var (
	reconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entitlement_reconciliations_total",
		Help: "Количество сверок тарифа по источнику и итогу",
	}, []string{"source", "outcome"})

	unmappedPricesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "entitlement_unmapped_prices_total",
		Help: "Активные подписки с ценой, отсутствующей в каталоге тарифов",
	})
)

// PlanReconciler — сверка тарифов пользователей с биллинг-провайдером.
type PlanReconciler struct {
	uow      UnitOfWork
	users    repository.UserRepository
	provider BillingProvider
	catalog  *billing.Catalog
	audit    *AuditRecorder
	timeout  time.Duration
	lookups  singleflight.Group
	logger   *slog.Logger
}

// NewPlanReconciler создаёт сервис сверки тарифов.
// users используется для чтения вне транзакции (поиск ссылок биллинга).
// timeout ограничивает запрос к провайдеру при ручной сверке.
func NewPlanReconciler(
	uow UnitOfWork,
	users repository.UserRepository,
	provider BillingProvider,
	catalog *billing.Catalog,
	audit *AuditRecorder,
	timeout time.Duration,
	logger *slog.Logger,
) *PlanReconciler {
	return &PlanReconciler{
		uow:      uow,
		users:    users,
		provider: provider,
		catalog:  catalog,
		audit:    audit,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "plan_reconciler")),
	}
}

// ReconcileFromEvent применяет одно уведомление провайдера.
// Корректен и без предварительной дедупликации: повтор того же события
// не меняет состояние и не пишет аудит.
func (r *PlanReconciler) ReconcileFromEvent(ctx context.Context, ev model.ReconciliationEvent) (*model.ReconcileResult, error) {
	if err := validateStruct(ev); err != nil {
		return nil, err
	}
	return r.apply(ctx, ev, model.ReconcileSourceEvent, nil)
}

// ReconcileFromQuery запрашивает текущую подписку пользователя у провайдера
// и синхронно применяет её. actorID — инициатор ручной сверки (nil — система).
// Ошибка или таймаут провайдера дают ErrProviderUnavailable без изменений.
func (r *PlanReconciler) ReconcileFromQuery(ctx context.Context, userID string, actorID *string) (*model.ReconcileResult, error) {
	if err := validateID("user_id", userID); err != nil {
		return nil, err
	}

	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return nil, mapRepoErr(err, "получение пользователя")
	}

	ev := model.ReconciliationEvent{
		UserID:     userID,
		ObservedAt: time.Now().UTC(),
	}

	// Без клиента биллинга подписки нет: это INACTIVE/FREE, а не ошибка
	if user.BillingCustomerRef != nil && *user.BillingCustomerRef != "" {
		sub, err := r.lookup(ctx, *user.BillingCustomerRef)
		if err != nil {
			reconciliationsTotal.WithLabelValues(string(model.ReconcileSourceSync), "provider_unavailable").Inc()
			r.logger.Warn("Биллинг-провайдер недоступен, тариф не изменён",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		ev.CustomerRef = *user.BillingCustomerRef
		if sub != nil {
			ev.SubscriptionRef = sub.ID
			ev.ProviderStatus = sub.Status
			ev.ProviderPriceID = sub.PriceID
		}
	}

	return r.apply(ctx, ev, model.ReconcileSourceSync, actorID)
}

// LinkBillingRefs привязывает клиента и подписку провайдера к пользователю
// после checkout. Тариф и статус не меняются, аудит не пишется.
// Возвращает true, если ссылки изменились.
func (r *PlanReconciler) LinkBillingRefs(ctx context.Context, userID, customerRef, subscriptionRef string) (bool, error) {
	if err := validateID("user_id", userID); err != nil {
		return false, err
	}

	var changed bool
	err := r.uow.Do(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		user, err := repos.Users.GetByIDForUpdate(ctx, userID)
		if err != nil {
			return mapRepoErr(err, "блокировка пользователя")
		}
		changed = applyRefs(user, model.ReconciliationEvent{
			CustomerRef:     customerRef,
			SubscriptionRef: subscriptionRef,
		}, model.ReconcileSourceEvent)
		if !changed {
			return nil
		}
		if err := repos.Users.UpdateBilling(ctx, user); err != nil {
			return mapRepoErr(err, "привязка клиента биллинга")
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if changed {
		r.logger.Info("Клиент биллинга привязан к пользователю",
			slog.String("user_id", userID),
			slog.String("customer_ref", customerRef),
			slog.String("subscription_ref", subscriptionRef),
		)
	}
	return changed, nil
}

// lookup запрашивает подписку у провайдера с таймаутом.
// Одновременные запросы по одному клиенту объединяются в один вызов.
func (r *PlanReconciler) lookup(ctx context.Context, customerRef string) (*model.ProviderSubscription, error) {
	ch := r.lookups.DoChan(customerRef, func() (any, error) {
		// Общий вызов не зависит от отмены отдельных ожидающих
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.provider.GetSubscription(lookupCtx, customerRef)
	})

	// Ожидание ограничено таймаутом даже для вызывающих без дедлайна
	waitCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	select {
	case <-waitCtx.Done():
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, waitCtx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, res.Err)
		}
		sub, _ := res.Val.(*model.ProviderSubscription)
		return sub, nil
	}
}

// apply — общая идемпотентная операция сверки.
func (r *PlanReconciler) apply(
	ctx context.Context,
	ev model.ReconciliationEvent,
	source model.ReconcileSource,
	actorID *string,
) (*model.ReconcileResult, error) {
	result := &model.ReconcileResult{}

	err := r.uow.Do(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		user, err := repos.Users.GetByIDForUpdate(ctx, ev.UserID)
		if err != nil {
			return mapRepoErr(err, "блокировка пользователя")
		}

		status := billing.MapStatus(ev.ProviderStatus)
		plan, unmapped := r.targetPlan(user.Plan, status, ev.ProviderPriceID)

		planChanged := plan != user.Plan
		statusChanged := status != user.SubscriptionStatus
		refsChanged := applyRefs(user, ev, source)

		result.Plan = plan
		result.SubscriptionStatus = status
		result.Changed = planChanged || statusChanged
		result.UnmappedPrice = unmapped

		if !planChanged && !statusChanged && !refsChanged {
			return nil
		}

		oldPlan, oldStatus := user.Plan, user.SubscriptionStatus
		user.Plan = plan
		user.SubscriptionStatus = status
		if err := repos.Users.UpdateBilling(ctx, user); err != nil {
			return mapRepoErr(err, "обновление тарифа пользователя")
		}

		metadata := map[string]any{
			"old_plan":          string(oldPlan),
			"new_plan":          string(plan),
			"old_status":        string(oldStatus),
			"new_status":        string(status),
			"subscription_ref":  ev.SubscriptionRef,
			"source":            string(source),
			"provider_status":   ev.ProviderStatus,
			"provider_event_id": ev.ProviderEventID,
		}
		if ev.ProviderPriceID != nil {
			metadata["provider_price_id"] = *ev.ProviderPriceID
		}

		if !result.Changed {
			return nil
		}
		// Одна запись на изменение: metadata содержит обе пары old→new
		action := model.AuditSubscriptionStatusChanged
		if planChanged {
			action = model.AuditPlanChanged
		}
		return r.audit.Record(ctx, repos.Audit, action, model.EntityUser, user.ID, actorID, metadata)
	})
	if err != nil {
		reconciliationsTotal.WithLabelValues(string(source), "error").Inc()
		return nil, err
	}

	outcome := "unchanged"
	if result.Changed {
		outcome = "changed"
	}
	reconciliationsTotal.WithLabelValues(string(source), outcome).Inc()

	if result.UnmappedPrice {
		unmappedPricesTotal.Inc()
		priceID := ""
		if ev.ProviderPriceID != nil {
			priceID = *ev.ProviderPriceID
		}
		r.logger.Warn("Цена активной подписки отсутствует в каталоге, тариф не изменён",
			slog.String("user_id", ev.UserID),
			slog.String("subscription_ref", ev.SubscriptionRef),
			slog.String("price_id", priceID),
			slog.String("error", ErrUnmappedPrice.Error()),
		)
	}

	if result.Changed {
		r.logger.Info("Тариф пользователя сверен",
			slog.String("user_id", ev.UserID),
			slog.String("source", string(source)),
			slog.String("plan", string(result.Plan)),
			slog.String("subscription_status", string(result.SubscriptionStatus)),
			slog.String("provider_event_id", ev.ProviderEventID),
		)
	}

	return result, nil
}

// targetPlan вычисляет тариф для статуса и цены.
// Неактивная подписка никогда не сохраняет платный тариф.
// Для активной подписки с ценой вне каталога возвращается текущий тариф.
func (r *PlanReconciler) targetPlan(current model.Plan, status model.SubscriptionStatus, priceID *string) (model.Plan, bool) {
	if status != model.SubscriptionActive {
		return model.PlanFree, false
	}
	if priceID != nil {
		if plan, ok := r.catalog.PlanForPrice(*priceID); ok {
			return plan, false
		}
	}
	return current, true
}

// applyRefs переносит ссылки биллинга из события в пользователя.
// Возвращает true, если что-то изменилось. Ручная сверка без подписки
// очищает ссылку на подписку.
func applyRefs(user *model.User, ev model.ReconciliationEvent, source model.ReconcileSource) bool {
	changed := false
	if ev.CustomerRef != "" && !refEquals(user.BillingCustomerRef, ev.CustomerRef) {
		ref := ev.CustomerRef
		user.BillingCustomerRef = &ref
		changed = true
	}
	switch {
	case ev.SubscriptionRef != "":
		if !refEquals(user.BillingSubscriptionRef, ev.SubscriptionRef) {
			ref := ev.SubscriptionRef
			user.BillingSubscriptionRef = &ref
			changed = true
		}
	case source == model.ReconcileSourceSync && user.BillingSubscriptionRef != nil:
		user.BillingSubscriptionRef = nil
		changed = true
	}
	return changed
}

// refEquals сравнивает необязательную ссылку со значением.
func refEquals(ref *string, value string) bool {
	return ref != nil && *ref == value
}
