// Пакет openapi — встроенный OpenAPI контракт Entitlement Module
// и middleware валидации входящих запросов по нему.
package openapi

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	apierrors "github.com/bigkaa/saaskit/entitlement-module/internal/api/errors"
)

//go:embed openapi.yaml
var contract []byte

// Load разбирает и проверяет встроенный контракт.
func Load() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(contract)
	if err != nil {
		return nil, fmt.Errorf("разбор OpenAPI: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("проверка OpenAPI: %w", err)
	}
	// Маршруты сопоставляются только по пути, независимо от хоста
	doc.Servers = nil
	return doc, nil
}

// Validator проверяет запросы по контракту до вызова handlers.
// Пути вне контракта (health, metrics, webhook) пропускаются без проверки.
type Validator struct {
	router routers.Router
	logger *slog.Logger
}

// NewValidator создаёт валидатор по встроенному контракту.
func NewValidator(logger *slog.Logger) (*Validator, error) {
	doc, err := Load()
	if err != nil {
		return nil, err
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("создание OpenAPI router: %w", err)
	}
	return &Validator{
		router: router,
		logger: logger.With(slog.String("component", "openapi_validator")),
	}, nil
}

// Middleware возвращает HTTP middleware валидации запросов.
// Аутентификация здесь не проверяется: её выполняет JWT middleware.
func (v *Validator) Middleware() func(http.Handler) http.Handler {
	options := &openapi3filter.Options{
		AuthenticationFunc:  openapi3filter.NoopAuthenticationFunc,
		SkipSettingDefaults: true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := v.router.FindRoute(r)
			if err != nil {
				// Неизвестные пути и методы обрабатывает chi (404/405)
				if errors.Is(err, routers.ErrPathNotFound) || errors.Is(err, routers.ErrMethodNotAllowed) {
					next.ServeHTTP(w, r)
					return
				}
				v.logger.Warn("Ошибка поиска маршрута OpenAPI", slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options:    options,
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				v.logger.Debug("Запрос не прошёл валидацию",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				apierrors.ValidationError(w, validationMessage(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// validationMessage формирует краткое описание ошибки валидации.
func validationMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		var schemaErr *openapi3.SchemaError
		switch {
		case reqErr.Parameter != nil && errors.As(reqErr.Err, &schemaErr):
			return fmt.Sprintf("параметр %s: %s", reqErr.Parameter.Name, schemaErr.Reason)
		case reqErr.Parameter != nil:
			return fmt.Sprintf("параметр %s: %s", reqErr.Parameter.Name, reqErr.Error())
		case errors.As(reqErr.Err, &schemaErr):
			if field := schemaErr.JSONPointer(); len(field) > 0 {
				return fmt.Sprintf("поле %s: %s", joinPointer(field), schemaErr.Reason)
			}
			return "тело запроса: " + schemaErr.Reason
		case reqErr.Reason != "":
			return reqErr.Reason
		}
	}
	return err.Error()
}

// joinPointer склеивает JSON pointer в путь через точку.
func joinPointer(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "." + p
	}
	return out
}
