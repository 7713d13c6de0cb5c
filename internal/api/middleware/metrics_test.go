package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestNormalizePath проверяет замену идентификаторов в пути.
func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health/live", "/health/live"},
		{"/metrics", "/metrics"},
		{"/api/v1/me", "/api/v1/me"},
		{"/api/v1/me/modules", "/api/v1/me/modules"},
		{"/api/v1/me/modules/analytics/access", "/api/v1/me/modules/{ref}/access"},
		{"/api/v1/me/modules/aaaaaaaa-0000-4000-8000-000000000001/access", "/api/v1/me/modules/{id}/access"},
		{"/api/v1/users/11111111-1111-4111-8111-111111111111", "/api/v1/users/{id}"},
		{"/api/v1/users/11111111-1111-4111-8111-111111111111/plan/sync", "/api/v1/users/{id}/plan/sync"},
		{
			"/api/v1/users/11111111-1111-4111-8111-111111111111/modules/aaaaaaaa-0000-4000-8000-000000000001/grant",
			"/api/v1/users/{id}/modules/{id}/grant",
		},
		{"/api/v1/modules/aaaaaaaa-0000-4000-8000-000000000001/enable", "/api/v1/modules/{id}/enable"},
		{"/api/v1/modules/not-a-uuid", "/api/v1/modules/not-a-uuid"},
		{"/api/v1/webhooks/stripe", "/api/v1/webhooks/stripe"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := normalizePath(tt.path); got != tt.want {
				t.Errorf("normalizePath(%q) = %q, ожидается %q", tt.path, got, tt.want)
			}
		})
	}
}

// TestMetricsMiddleware_StatusCapture проверяет перехват статус-кода.
func TestMetricsMiddleware_StatusCapture(t *testing.T) {
	handler := MetricsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("статус = %d, ожидается %d", rec.Code, http.StatusTeapot)
	}
}

// TestRequestLogger_PassThrough проверяет, что логгер не меняет ответ.
func TestRequestLogger_PassThrough(t *testing.T) {
	handler := RequestLogger(testLogger(), "/health/live")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	for _, path := range []string{"/health/live", "/api/v1/me"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != http.StatusCreated {
			t.Errorf("%s: статус = %d, ожидается 201", path, rec.Code)
		}
		if rec.Body.String() != "ok" {
			t.Errorf("%s: тело = %q, ожидается ok", path, rec.Body.String())
		}
	}
}
