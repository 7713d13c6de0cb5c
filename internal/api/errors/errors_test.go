package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestConstructors проверяет статус, код и формат тела для всех конструкторов.
func TestConstructors(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter, msg string)
		wantStatus int
		wantCode   string
	}{
		{"ValidationError", ValidationError, http.StatusBadRequest, CodeValidationError},
		{"NotFound", NotFound, http.StatusNotFound, CodeNotFound},
		{"Unauthorized", Unauthorized, http.StatusUnauthorized, CodeUnauthorized},
		{"Forbidden", Forbidden, http.StatusForbidden, CodeForbidden},
		{"Conflict", Conflict, http.StatusConflict, CodeConflict},
		{"PayloadTooLarge", PayloadTooLarge, http.StatusRequestEntityTooLarge, CodePayloadTooLarge},
		{"ProviderUnavailable", ProviderUnavailable, http.StatusBadGateway, CodeProviderUnavailable},
		{"InternalError", InternalError, http.StatusInternalServerError, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec, "сообщение")

			if rec.Code != tt.wantStatus {
				t.Errorf("статус = %d, ожидается %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}

			var body errorBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("декодирование: %v", err)
			}
			if body.Error.Code != tt.wantCode || body.Error.Message != "сообщение" {
				t.Errorf("тело = %+v", body.Error)
			}
		})
	}
}
