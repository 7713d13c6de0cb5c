package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bigkaa/saaskit/entitlement-module/internal/api/handlers"
	"github.com/bigkaa/saaskit/entitlement-module/internal/api/middleware"
	"github.com/bigkaa/saaskit/entitlement-module/internal/api/openapi"
	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
)

const testUserID = "11111111-1111-4111-8111-111111111111"

type staticRoles struct {
	role model.Role
}

func (s staticRoles) Role(context.Context, string) (model.Role, error) {
	return s.role, nil
}

type okChecker struct{}

func (okChecker) CheckReady() (string, string) { return "ok", "" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRouter собирает router без JWT. Сервисы не нужны:
// проверяемые маршруты отвечают до обращения к ним.
func newTestRouter(t *testing.T, role model.Role, webhook http.Handler) http.Handler {
	t.Helper()
	logger := testLogger()
	validator, err := openapi.NewValidator(logger)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	health := handlers.NewHealthHandler(okChecker{}, okChecker{})
	api := handlers.NewAPIHandler(health, nil, nil, nil, nil, nil, logger)
	return NewRouter(logger, Deps{
		API:       api,
		Webhook:   webhook,
		Validator: validator,
		Roles:     staticRoles{role: role},
	})
}

func TestRouter_Routes(t *testing.T) {
	webhookCalled := false
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		webhookCalled = true
		w.WriteHeader(http.StatusOK)
	})
	router := newTestRouter(t, model.RoleUser, webhook)

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		sub        string
		wantStatus int
	}{
		{"liveness", http.MethodGet, "/health/live", "", "", http.StatusOK},
		{"readiness", http.MethodGet, "/health/ready", "", "", http.StatusOK},
		{"метрики", http.MethodGet, "/metrics", "", "", http.StatusOK},
		{"me без claims", http.MethodGet, "/api/v1/me", "", "", http.StatusUnauthorized},
		{"админ-маршрут без claims", http.MethodGet, "/api/v1/audit", "", "", http.StatusUnauthorized},
		{"админ-маршрут для USER", http.MethodGet, "/api/v1/modules", "", testUserID, http.StatusForbidden},
		{"невалидное тело отклоняется до аутентификации", http.MethodPost, "/api/v1/modules", `{"key":"X"}`, "", http.StatusBadRequest},
		{"неизвестный путь", http.MethodGet, "/api/v1/unknown", "", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.target, body)
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			if tt.sub != "" {
				req = req.WithContext(middleware.WithClaims(req.Context(), &middleware.AuthClaims{Subject: tt.sub}))
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s: статус = %d, ожидается %d, тело: %s", tt.method, tt.target, rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}

	t.Run("webhook", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, handlers.StripeWebhookPath, strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK || !webhookCalled {
			t.Errorf("webhook: статус = %d, вызван = %v", rec.Code, webhookCalled)
		}
	})
}
