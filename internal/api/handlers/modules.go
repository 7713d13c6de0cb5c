// modules.go — обработчики /api/v1/modules endpoints.
// Жизненный цикл модулей: DRAFT → ACTIVE ⇄ DISABLED → ARCHIVED.
// Доступ: ADMIN или FOUNDER.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/saaskit/entitlement-module/internal/api/errors"
	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
	"github.com/bigkaa/saaskit/entitlement-module/internal/service"
)

// createModuleRequest — тело POST /api/v1/modules.
type createModuleRequest struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MinPlan     string `json:"min_plan"`
	Enabled     bool   `json:"enabled"`
}

// updateModuleRequest — тело PATCH /api/v1/modules/{id}.
type updateModuleRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	MinPlan     *string `json:"min_plan"`
}

// ListModules — GET /api/v1/modules.
func (h *APIHandler) ListModules(w http.ResponseWriter, r *http.Request) {
	limitParam, err := queryInt(r, "limit")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	offsetParam, err := queryInt(r, "offset")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	limit, offset := paginationDefaults(limitParam, offsetParam)
	includeArchived := r.URL.Query().Get("include_archived") == "true"

	modules, total, err := h.modules.List(r.Context(), includeArchived, limit, offset)
	if err != nil {
		h.handleServiceError(w, r, err, "Ошибка получения списка модулей")
		return
	}

	items := make([]moduleResponse, len(modules))
	for i, m := range modules {
		items[i] = mapModule(m)
	}

	writeJSON(w, http.StatusOK, moduleListResponse{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// CreateModule — POST /api/v1/modules.
// Без enabled=true модуль создаётся черновиком.
func (h *APIHandler) CreateModule(w http.ResponseWriter, r *http.Request) {
	var req createModuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	m, err := h.modules.Create(r.Context(), service.CreateModuleInput{
		Key:         req.Key,
		Name:        req.Name,
		Description: req.Description,
		MinPlan:     req.MinPlan,
		Enabled:     req.Enabled,
	})
	if err != nil {
		h.handleServiceError(w, r, err, "Ошибка создания модуля", slog.String("key", req.Key))
		return
	}

	writeJSON(w, http.StatusCreated, mapModule(m))
}

// GetModule — GET /api/v1/modules/{id}.
func (h *APIHandler) GetModule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	m, err := h.modules.Get(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err, "Ошибка получения модуля", slog.String("module_id", id))
		return
	}

	writeJSON(w, http.StatusOK, mapModule(m))
}

// UpdateModule — PATCH /api/v1/modules/{id}.
// Ключ модуля неизменяем; архивный модуль не редактируется.
func (h *APIHandler) UpdateModule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req updateModuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	m, err := h.modules.Update(r.Context(), id, service.UpdateModuleInput{
		Name:        req.Name,
		Description: req.Description,
		MinPlan:     req.MinPlan,
	})
	if err != nil {
		h.handleServiceError(w, r, err, "Ошибка обновления модуля", slog.String("module_id", id))
		return
	}

	writeJSON(w, http.StatusOK, mapModule(m))
}

// EnableModule — POST /api/v1/modules/{id}/enable.
func (h *APIHandler) EnableModule(w http.ResponseWriter, r *http.Request) {
	h.transitionModule(w, r, h.modules.Enable, "Ошибка включения модуля")
}

// DisableModule — POST /api/v1/modules/{id}/disable.
func (h *APIHandler) DisableModule(w http.ResponseWriter, r *http.Request) {
	h.transitionModule(w, r, h.modules.Disable, "Ошибка отключения модуля")
}

// ArchiveModule — POST /api/v1/modules/{id}/archive.
// Архивирование терминально и идемпотентно.
func (h *APIHandler) ArchiveModule(w http.ResponseWriter, r *http.Request) {
	h.transitionModule(w, r, h.modules.Archive, "Ошибка архивирования модуля")
}

// transitionModule выполняет переход жизненного цикла модуля.
func (h *APIHandler) transitionModule(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, id string) (*model.Module, error),
	errMsg string,
) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	m, err := fn(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err, errMsg, slog.String("module_id", id))
		return
	}

	h.logger.Info("Состояние модуля изменено",
		slog.String("module_id", m.ID),
		slog.String("key", m.Key),
		slog.String("state", string(m.State())),
		slog.String("actor", subject(r)),
	)
	writeJSON(w, http.StatusOK, mapModule(m))
}
