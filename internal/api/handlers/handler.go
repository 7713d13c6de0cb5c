// handler.go — основной обработчик API Entitlement Module.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/saaskit/entitlement-module/internal/api/errors"
	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
	"github.com/bigkaa/saaskit/entitlement-module/internal/repository"
	"github.com/bigkaa/saaskit/entitlement-module/internal/service"
)

// AccessService — решения о доступе и явные выдачи.
// Реализуется service.ModuleAccessService.
type AccessService interface {
	CanAccess(ctx context.Context, userID, moduleRef string) (*service.ModuleAccess, error)
	ListForUser(ctx context.Context, userID string) ([]service.ModuleAccess, error)
	Grant(ctx context.Context, userID, moduleID string, grantedBy *string) (service.GrantResult, error)
	Revoke(ctx context.Context, userID, moduleID string, revokedBy *string) (service.GrantResult, error)
}

// PlanSyncer — ручная сверка тарифа. Реализуется service.PlanReconciler.
type PlanSyncer interface {
	ReconcileFromQuery(ctx context.Context, userID string, actorID *string) (*model.ReconcileResult, error)
}

// ModuleManager — управление модулями. Реализуется service.ModuleService.
type ModuleManager interface {
	Create(ctx context.Context, in service.CreateModuleInput) (*model.Module, error)
	Get(ctx context.Context, ref string) (*model.Module, error)
	List(ctx context.Context, includeArchived bool, limit, offset int) ([]*model.Module, int, error)
	Update(ctx context.Context, id string, in service.UpdateModuleInput) (*model.Module, error)
	Enable(ctx context.Context, id string) (*model.Module, error)
	Disable(ctx context.Context, id string) (*model.Module, error)
	Archive(ctx context.Context, id string) (*model.Module, error)
}

// UserManager — управление пользователями. Реализуется service.UserService.
type UserManager interface {
	Create(ctx context.Context, in service.CreateUserInput) (*model.User, error)
	Get(ctx context.Context, id string) (*model.User, error)
	Delete(ctx context.Context, id string) error
}

// AuditReader — чтение журнала аудита. Реализуется service.AuditRecorder.
type AuditReader interface {
	List(ctx context.Context, filter repository.AuditFilter, limit, offset int) ([]*model.AuditEntry, int, error)
}

// APIHandler — основной обработчик API Entitlement Module.
type APIHandler struct {
	health  *HealthHandler
	access  AccessService
	syncer  PlanSyncer
	modules ModuleManager
	users   UserManager
	audit   AuditReader
	logger  *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	access AccessService,
	syncer PlanSyncer,
	modules ModuleManager,
	users UserManager,
	audit AuditReader,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:  health,
		access:  access,
		syncer:  syncer,
		modules: modules,
		users:   users,
		audit:   audit,
		logger:  logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limit *int, offset *int) (int, int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}

// queryInt разбирает необязательный целочисленный query-параметр.
func queryInt(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	var v int
	if err := runtime.BindStyledParameterWithOptions("form", name, raw, &v, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationQuery,
		Explode:       true,
	}); err != nil {
		return nil, fmt.Errorf("параметр %s: %w", name, err)
	}
	return &v, nil
}

// pathUUID извлекает UUID из параметра пути chi.
// При ошибке пишет 400 и возвращает false.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &id, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Required:      true,
	})
	if err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Неверный параметр %s: ожидается UUID", name))
		return "", false
	}
	return id.String(), true
}

// actorID возвращает sub текущего пользователя для записи в аудит.
func actorID(r *http.Request) *string {
	sub := subject(r)
	if sub == "" {
		return nil
	}
	return &sub
}

// handleServiceError переводит ошибку сервисного слоя в HTTP-ответ.
func (h *APIHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error, msg string, attrs ...slog.Attr) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrModuleArchived), errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrProviderUnavailable):
		apierrors.ProviderUnavailable(w, "Биллинг-провайдер недоступен, повторите позже")
	default:
		attrs = append(attrs, slog.String("error", err.Error()))
		h.logger.LogAttrs(r.Context(), slog.LevelError, msg, attrs...)
		apierrors.InternalError(w, msg)
	}
}
