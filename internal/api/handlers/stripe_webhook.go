// stripe_webhook.go — приём webhook-уведомлений Stripe.
// POST /api/v1/billing/stripe/webhook аутентифицируется подписью Stripe,
// а не JWT. Событие отмечается обработанным только после успешной сверки:
// при ошибке отвечаем 5xx, и Stripe повторит доставку.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	apierrors "github.com/bigkaa/saaskit/entitlement-module/internal/api/errors"
	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
	"github.com/bigkaa/saaskit/entitlement-module/internal/service"
	"github.com/bigkaa/saaskit/entitlement-module/internal/stripeclient"
)

// StripeWebhookPath — путь приёма webhook. Исключён из JWT и OpenAPI-валидации.
const StripeWebhookPath = "/api/v1/billing/stripe/webhook"

// webhookBodyLimit — максимальный размер тела webhook (1 MiB).
const webhookBodyLimit = 1 << 20

// webhookDeliveriesTotal — доставки webhook по типу события и итогу.
var webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "entitlement_webhook_deliveries_total",
	Help: "Количество доставок webhook Stripe по типу события и итогу обработки",
}, []string{"type", "outcome"})

// Итоги обработки доставки.
const (
	outcomeProcessed        = "processed"
	outcomeIgnored          = "ignored"
	outcomeDuplicate        = "duplicate"
	outcomeInFlight         = "in_flight"
	outcomeInvalidSignature = "invalid_signature"
	outcomeBadRequest       = "bad_request"
	outcomeFailed           = "failed"
)

// errIgnoredEvent — событие нельзя сопоставить с пользователем; подтверждается без изменений.
var errIgnoredEvent = errors.New("событие не относится к известному пользователю")

// WebhookDedup — дедупликация доставок по ID события.
// Реализуется service.WebhookDeduper.
type WebhookDedup interface {
	Begin(ctx context.Context, eventID string) (service.BeginResult, error)
	Complete(ctx context.Context, eventID, eventType string) error
	Abort(eventID string)
}

// EventReconciler — применение событий провайдера.
// Реализуется service.PlanReconciler.
type EventReconciler interface {
	ReconcileFromEvent(ctx context.Context, ev model.ReconciliationEvent) (*model.ReconcileResult, error)
	LinkBillingRefs(ctx context.Context, userID, customerRef, subscriptionRef string) (bool, error)
}

// CustomerResolver — поиск пользователя по ID клиента биллинга.
// Реализуется service.UserService.
type CustomerResolver interface {
	FindByCustomerRef(ctx context.Context, customerRef string) (*model.User, error)
}

// StripeWebhookHandler — обработчик webhook Stripe.
type StripeWebhookHandler struct {
	secret     string
	dedup      WebhookDedup
	reconciler EventReconciler
	users      CustomerResolver
	logger     *slog.Logger
}

// NewStripeWebhookHandler создаёт обработчик webhook.
// secret — signing secret endpoint'а (EM_STRIPE_WEBHOOK_SECRET).
func NewStripeWebhookHandler(
	secret string,
	dedup WebhookDedup,
	reconciler EventReconciler,
	users CustomerResolver,
	logger *slog.Logger,
) *StripeWebhookHandler {
	return &StripeWebhookHandler{
		secret:     secret,
		dedup:      dedup,
		reconciler: reconciler,
		users:      users,
		logger:     logger.With(slog.String("component", "stripe_webhook")),
	}
}

// webhookReceivedResponse — ответ на принятую доставку.
type webhookReceivedResponse struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// ServeHTTP проверяет подпись, отбрасывает дубли и применяет событие.
func (h *StripeWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	eventType := "unknown"
	outcome := outcomeFailed
	defer func() {
		webhookDeliveriesTotal.WithLabelValues(eventType, outcome).Inc()
	}()

	if strings.TrimSpace(h.secret) == "" {
		apierrors.WriteError(w, http.StatusServiceUnavailable, apierrors.CodeInternalError, "Webhook secret не настроен")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		outcome = outcomeBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.PayloadTooLarge(w, "Тело webhook превышает 1 MiB")
			return
		}
		apierrors.ValidationError(w, "Не удалось прочитать тело запроса")
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		outcome = outcomeInvalidSignature
		apierrors.ValidationError(w, "Отсутствует заголовок Stripe-Signature")
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		outcome = outcomeInvalidSignature
		h.logger.Warn("Подпись webhook не прошла проверку",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr),
		)
		apierrors.ValidationError(w, "Неверная подпись Stripe")
		return
	}
	eventType = string(event.Type)

	begin, err := h.dedup.Begin(r.Context(), event.ID)
	if err != nil {
		h.logger.Error("Ошибка проверки дубликата webhook",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка обработки события")
		return
	}
	switch begin {
	case service.BeginDuplicate:
		outcome = outcomeDuplicate
		writeJSON(w, http.StatusOK, webhookReceivedResponse{Received: true, Duplicate: true})
		return
	case service.BeginInFlight:
		// Параллельная доставка того же события ещё обрабатывается
		outcome = outcomeInFlight
		apierrors.Conflict(w, "Событие уже обрабатывается")
		return
	}

	err = h.handleEvent(r.Context(), &event)
	switch {
	case err == nil:
		outcome = outcomeProcessed
	case errors.Is(err, errIgnoredEvent):
		outcome = outcomeIgnored
	default:
		h.dedup.Abort(event.ID)
		h.logger.Error("Ошибка обработки webhook",
			slog.String("event_id", event.ID),
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка обработки события")
		return
	}

	if err := h.dedup.Complete(r.Context(), event.ID, eventType); err != nil {
		// Сверка уже зафиксирована и идемпотентна: повторная доставка безопасна
		outcome = outcomeFailed
		h.logger.Error("Ошибка отметки обработанного webhook",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка обработки события")
		return
	}

	writeJSON(w, http.StatusOK, webhookReceivedResponse{Received: true})
}

// handleEvent применяет событие по типу. Остальные типы подтверждаются без изменений.
func (h *StripeWebhookHandler) handleEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("разбор checkout.session: %w", err)
		}
		return h.handleCheckout(ctx, event, &session)

	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("разбор subscription: %w", err)
		}
		return h.handleSubscription(ctx, event, &sub)

	default:
		h.logger.Debug("Тип события webhook не обрабатывается",
			slog.String("event_id", event.ID),
			slog.String("type", string(event.Type)),
		)
		return errIgnoredEvent
	}
}

// handleCheckout привязывает клиента и подписку к пользователю из
// client_reference_id (или metadata.user_id). Если сессия содержит
// развёрнутую подписку со статусом, тариф сверяется сразу.
func (h *StripeWebhookHandler) handleCheckout(ctx context.Context, event *stripe.Event, session *stripe.CheckoutSession) error {
	userID := strings.TrimSpace(session.ClientReferenceID)
	if userID == "" {
		userID = strings.TrimSpace(session.Metadata["user_id"])
	}
	var customerRef string
	if session.Customer != nil {
		customerRef = session.Customer.ID
	}
	if userID == "" || customerRef == "" {
		h.logger.Warn("Checkout без пользователя или клиента, событие пропущено",
			slog.String("event_id", event.ID),
			slog.String("session_id", session.ID),
		)
		return errIgnoredEvent
	}

	var subscriptionRef string
	if session.Subscription != nil {
		subscriptionRef = session.Subscription.ID
	}

	if _, err := h.reconciler.LinkBillingRefs(ctx, userID, customerRef, subscriptionRef); err != nil {
		return h.unknownUserOrErr(event, userID, err)
	}

	if session.Subscription == nil || session.Subscription.Status == "" {
		return nil
	}
	ps := stripeclient.FromStripe(session.Subscription)
	if ps.CustomerRef == "" {
		ps.CustomerRef = customerRef
	}
	return h.reconcile(ctx, event, userID, ps)
}

// handleSubscription применяет состояние подписки к её владельцу.
// Пользователь определяется по metadata.user_id, иначе по ID клиента.
func (h *StripeWebhookHandler) handleSubscription(ctx context.Context, event *stripe.Event, sub *stripe.Subscription) error {
	ps := stripeclient.FromStripe(sub)

	userID := strings.TrimSpace(sub.Metadata["user_id"])
	if userID == "" {
		user, err := h.users.FindByCustomerRef(ctx, ps.CustomerRef)
		if err != nil {
			return h.unknownUserOrErr(event, ps.CustomerRef, err)
		}
		userID = user.ID
	}

	return h.reconcile(ctx, event, userID, ps)
}

// reconcile передаёт снимок подписки в PlanReconciler.
func (h *StripeWebhookHandler) reconcile(ctx context.Context, event *stripe.Event, userID string, ps model.ProviderSubscription) error {
	observedAt := time.Now().UTC()
	if event.Created > 0 {
		observedAt = time.Unix(event.Created, 0).UTC()
	}

	res, err := h.reconciler.ReconcileFromEvent(ctx, model.ReconciliationEvent{
		UserID:          userID,
		SubscriptionRef: ps.ID,
		CustomerRef:     ps.CustomerRef,
		ProviderStatus:  ps.Status,
		ProviderPriceID: ps.PriceID,
		ProviderEventID: event.ID,
		ObservedAt:      observedAt,
	})
	if err != nil {
		return h.unknownUserOrErr(event, userID, err)
	}

	h.logger.Info("Событие подписки применено",
		slog.String("event_id", event.ID),
		slog.String("type", string(event.Type)),
		slog.String("user_id", userID),
		slog.String("plan", string(res.Plan)),
		slog.String("subscription_status", string(res.SubscriptionStatus)),
		slog.Bool("changed", res.Changed),
	)
	return nil
}

// unknownUserOrErr превращает «пользователь не найден», невалидные данные
// и клиента, уже привязанного к другому пользователю, в пропуск события:
// повторная доставка их не исправит.
func (h *StripeWebhookHandler) unknownUserOrErr(event *stripe.Event, ref string, err error) error {
	if errors.Is(err, service.ErrNotFound) || errors.Is(err, service.ErrValidation) ||
		errors.Is(err, service.ErrConflict) {
		h.logger.Warn("Событие webhook не сопоставлено с пользователем",
			slog.String("event_id", event.ID),
			slog.String("type", string(event.Type)),
			slog.String("ref", ref),
			slog.String("error", err.Error()),
		)
		return errIgnoredEvent
	}
	return err
}
