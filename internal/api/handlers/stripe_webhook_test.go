package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
	"github.com/bigkaa/saaskit/entitlement-module/internal/service"
)

const testWebhookSecret = "whsec_test_secret"

// mockDedup — дедупликатор с фиксированным итогом Begin.
type mockDedup struct {
	begin     service.BeginResult
	beginErr  error
	completed []string
	aborted   []string
}

func (m *mockDedup) Begin(_ context.Context, _ string) (service.BeginResult, error) {
	return m.begin, m.beginErr
}

func (m *mockDedup) Complete(_ context.Context, eventID, _ string) error {
	m.completed = append(m.completed, eventID)
	return nil
}

func (m *mockDedup) Abort(eventID string) {
	m.aborted = append(m.aborted, eventID)
}

// mockReconciler запоминает применённые события.
type mockReconciler struct {
	events []model.ReconciliationEvent
	links  [][3]string
	err    error
}

func (m *mockReconciler) ReconcileFromEvent(_ context.Context, ev model.ReconciliationEvent) (*model.ReconcileResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.events = append(m.events, ev)
	return &model.ReconcileResult{Plan: model.PlanPro, SubscriptionStatus: model.SubscriptionActive, Changed: true}, nil
}

func (m *mockReconciler) LinkBillingRefs(_ context.Context, userID, customerRef, subscriptionRef string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.links = append(m.links, [3]string{userID, customerRef, subscriptionRef})
	return true, nil
}

// stripeEvent собирает JSON события Stripe.
func stripeEvent(id, eventType string, object map[string]any) []byte {
	b, _ := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     1760000000,
		"api_version": "2025-08-27.basil",
		"data":        map[string]any{"object": object},
	})
	return b
}

func subscriptionObject(metadataUserID string) map[string]any {
	obj := map[string]any{
		"id":       "sub_123",
		"object":   "subscription",
		"status":   "active",
		"customer": "cus_123",
		"items": map[string]any{
			"object": "list",
			"data": []any{
				map[string]any{"id": "si_1", "object": "subscription_item", "price": map[string]any{"id": "price_pro", "object": "price"}},
			},
		},
	}
	if metadataUserID != "" {
		obj["metadata"] = map[string]any{"user_id": metadataUserID}
	}
	return obj
}

// signedRequest подписывает тело так же, как это делает Stripe.
func signedRequest(t *testing.T, payload []byte, secret string) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  secret,
	})
	req := httptest.NewRequest(http.MethodPost, StripeWebhookPath, bytes.NewReader(signed.Payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func newTestWebhook(dedup *mockDedup, rec *mockReconciler, users *mockUsers) *StripeWebhookHandler {
	if users == nil {
		users = &mockUsers{findFn: func(context.Context, string) (*model.User, error) {
			return nil, fmt.Errorf("клиент: %w", service.ErrNotFound)
		}}
	}
	return NewStripeWebhookHandler(testWebhookSecret, dedup, rec, users, testLogger())
}

func TestStripeWebhook_SubscriptionByMetadata(t *testing.T) {
	dedup := &mockDedup{begin: service.BeginProceed}
	reconciler := &mockReconciler{}
	h := newTestWebhook(dedup, reconciler, nil)

	payload := stripeEvent("evt_1", "customer.subscription.updated", subscriptionObject(testUserID))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, payload, testWebhookSecret))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200, тело: %s", rec.Code, rec.Body.String())
	}
	if len(reconciler.events) != 1 {
		t.Fatalf("применено событий = %d, ожидается 1", len(reconciler.events))
	}
	ev := reconciler.events[0]
	if ev.UserID != testUserID || ev.SubscriptionRef != "sub_123" || ev.CustomerRef != "cus_123" {
		t.Errorf("событие = %+v", ev)
	}
	if ev.ProviderStatus != "active" || ev.ProviderPriceID == nil || *ev.ProviderPriceID != "price_pro" {
		t.Errorf("статус/цена = %s/%v", ev.ProviderStatus, ev.ProviderPriceID)
	}
	if ev.ProviderEventID != "evt_1" || ev.ObservedAt.Unix() != 1760000000 {
		t.Errorf("event_id/observed_at = %s/%v", ev.ProviderEventID, ev.ObservedAt)
	}
	if len(dedup.completed) != 1 || dedup.completed[0] != "evt_1" {
		t.Errorf("отмечены обработанными: %v", dedup.completed)
	}
}

func TestStripeWebhook_SubscriptionByCustomer(t *testing.T) {
	reconciler := &mockReconciler{}
	users := &mockUsers{findFn: func(_ context.Context, customerRef string) (*model.User, error) {
		if customerRef != "cus_123" {
			t.Errorf("поиск по %s, ожидается cus_123", customerRef)
		}
		return testUser(), nil
	}}
	h := newTestWebhook(&mockDedup{}, reconciler, users)

	payload := stripeEvent("evt_2", "customer.subscription.deleted", subscriptionObject(""))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, payload, testWebhookSecret))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", rec.Code)
	}
	if len(reconciler.events) != 1 || reconciler.events[0].UserID != testUserID {
		t.Errorf("события = %+v", reconciler.events)
	}
}

func TestStripeWebhook_CheckoutLinksRefs(t *testing.T) {
	reconciler := &mockReconciler{}
	dedup := &mockDedup{}
	h := newTestWebhook(dedup, reconciler, nil)

	payload := stripeEvent("evt_3", "checkout.session.completed", map[string]any{
		"id":                  "cs_1",
		"object":              "checkout.session",
		"client_reference_id": testUserID,
		"customer":            "cus_9",
		"subscription":        "sub_9",
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, payload, testWebhookSecret))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", rec.Code)
	}
	if len(reconciler.links) != 1 || reconciler.links[0] != [3]string{testUserID, "cus_9", "sub_9"} {
		t.Errorf("привязки = %v", reconciler.links)
	}
	if len(reconciler.events) != 0 {
		t.Errorf("без статуса подписки сверка не выполняется, применено %d", len(reconciler.events))
	}
	if len(dedup.completed) != 1 {
		t.Errorf("событие не отмечено обработанным")
	}
}

func TestStripeWebhook_Outcomes(t *testing.T) {
	subPayload := stripeEvent("evt_4", "customer.subscription.updated", subscriptionObject(testUserID))

	tests := []struct {
		name          string
		dedup         *mockDedup
		reconcileErr  error
		payload       []byte
		secret        string
		wantStatus    int
		wantCompleted int
		wantAborted   int
	}{
		{
			name:       "дубликат",
			dedup:      &mockDedup{begin: service.BeginDuplicate},
			payload:    subPayload,
			secret:     testWebhookSecret,
			wantStatus: http.StatusOK,
		},
		{
			name:       "уже обрабатывается",
			dedup:      &mockDedup{begin: service.BeginInFlight},
			payload:    subPayload,
			secret:     testWebhookSecret,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "чужая подпись",
			dedup:      &mockDedup{},
			payload:    subPayload,
			secret:     "whsec_other",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "ошибка дедупликации",
			dedup:      &mockDedup{beginErr: errors.New("db down")},
			payload:    subPayload,
			secret:     testWebhookSecret,
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:         "ошибка сверки",
			dedup:        &mockDedup{},
			reconcileErr: errors.New("db down"),
			payload:      subPayload,
			secret:       testWebhookSecret,
			wantStatus:   http.StatusInternalServerError,
			wantAborted:  1,
		},
		{
			name:          "неизвестный пользователь",
			dedup:         &mockDedup{},
			reconcileErr:  fmt.Errorf("пользователь: %w", service.ErrNotFound),
			payload:       subPayload,
			secret:        testWebhookSecret,
			wantStatus:    http.StatusOK,
			wantCompleted: 1,
		},
		{
			name:          "клиент привязан к другому пользователю",
			dedup:         &mockDedup{},
			reconcileErr:  fmt.Errorf("привязка клиента биллинга: %w", service.ErrConflict),
			payload:       subPayload,
			secret:        testWebhookSecret,
			wantStatus:    http.StatusOK,
			wantCompleted: 1,
		},
		{
			name:          "необрабатываемый тип",
			dedup:         &mockDedup{},
			payload:       stripeEvent("evt_5", "invoice.paid", map[string]any{"id": "in_1", "object": "invoice"}),
			secret:        testWebhookSecret,
			wantStatus:    http.StatusOK,
			wantCompleted: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestWebhook(tt.dedup, &mockReconciler{err: tt.reconcileErr}, nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, signedRequest(t, tt.payload, tt.secret))

			if rec.Code != tt.wantStatus {
				t.Errorf("статус = %d, ожидается %d, тело: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if len(tt.dedup.completed) != tt.wantCompleted {
				t.Errorf("Complete вызван %d раз, ожидается %d", len(tt.dedup.completed), tt.wantCompleted)
			}
			if len(tt.dedup.aborted) != tt.wantAborted {
				t.Errorf("Abort вызван %d раз, ожидается %d", len(tt.dedup.aborted), tt.wantAborted)
			}
		})
	}
}

func TestStripeWebhook_RequestErrors(t *testing.T) {
	t.Run("без подписи", func(t *testing.T) {
		h := newTestWebhook(&mockDedup{}, &mockReconciler{}, nil)
		req := httptest.NewRequest(http.MethodPost, StripeWebhookPath, bytes.NewReader([]byte(`{}`)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("статус = %d, ожидается 400", rec.Code)
		}
	})

	t.Run("слишком большое тело", func(t *testing.T) {
		h := newTestWebhook(&mockDedup{}, &mockReconciler{}, nil)
		req := httptest.NewRequest(http.MethodPost, StripeWebhookPath, bytes.NewReader(make([]byte, webhookBodyLimit+1)))
		req.Header.Set("Stripe-Signature", "t=1,v1=abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("статус = %d, ожидается 413", rec.Code)
		}
	})

	t.Run("секрет не настроен", func(t *testing.T) {
		h := NewStripeWebhookHandler("", &mockDedup{}, &mockReconciler{}, &mockUsers{}, testLogger())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, signedRequest(t, []byte(`{}`), testWebhookSecret))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("статус = %d, ожидается 503", rec.Code)
		}
	})
}
