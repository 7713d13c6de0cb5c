// users.go — обработчики /api/v1/users endpoints.
// Учётные записи, ручная сверка тарифа и явные выдачи доступа.
// Доступ: ADMIN или FOUNDER (проверяется middleware.RequireRole).
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/saaskit/entitlement-module/internal/api/errors"
	"github.com/bigkaa/saaskit/entitlement-module/internal/service"
)

// createUserRequest — тело POST /api/v1/users.
type createUserRequest struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// CreateUser — POST /api/v1/users.
// Регистрирует пользователя с тарифом FREE.
func (h *APIHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	user, err := h.users.Create(r.Context(), service.CreateUserInput{
		ID:    req.ID,
		Email: req.Email,
		Role:  req.Role,
	})
	if err != nil {
		h.handleServiceError(w, r, err, "Ошибка создания пользователя")
		return
	}

	writeJSON(w, http.StatusCreated, mapUser(user))
}

// GetUser — GET /api/v1/users/{id}.
func (h *APIHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err, "Ошибка получения пользователя", slog.String("user_id", id))
		return
	}

	writeJSON(w, http.StatusOK, mapUser(user))
}

// DeleteUser — DELETE /api/v1/users/{id}.
// Мягкое удаление; запись удаляется окончательно фоновой очисткой.
func (h *APIHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.users.Delete(r.Context(), id); err != nil {
		h.handleServiceError(w, r, err, "Ошибка удаления пользователя", slog.String("user_id", id))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SyncUserPlan — POST /api/v1/users/{id}/plan/sync.
// Инициатор сверки записывается в аудит.
func (h *APIHandler) SyncUserPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	res, err := h.syncer.ReconcileFromQuery(r.Context(), id, actorID(r))
	if err != nil {
		h.handleServiceError(w, r, err, "Ошибка сверки тарифа", slog.String("user_id", id))
		return
	}

	writeJSON(w, http.StatusOK, mapSyncResult(res))
}

// GrantModuleAccess — PUT /api/v1/users/{id}/modules/{moduleId}/grant.
// Идемпотентна: повторная выдача возвращает already_existed.
func (h *APIHandler) GrantModuleAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	moduleID, ok := pathUUID(w, r, "moduleId")
	if !ok {
		return
	}

	res, err := h.access.Grant(r.Context(), userID, moduleID, actorID(r))
	if err != nil {
		h.handleServiceError(w, r, err, "Ошибка выдачи доступа",
			slog.String("user_id", userID),
			slog.String("module_id", moduleID),
		)
		return
	}

	writeJSON(w, http.StatusOK, grantResponse{Result: string(res)})
}

// RevokeModuleAccess — DELETE /api/v1/users/{id}/modules/{moduleId}/grant.
// Отзыв отсутствующей выдачи возвращает not_present.
func (h *APIHandler) RevokeModuleAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	moduleID, ok := pathUUID(w, r, "moduleId")
	if !ok {
		return
	}

	res, err := h.access.Revoke(r.Context(), userID, moduleID, actorID(r))
	if err != nil {
		h.handleServiceError(w, r, err, "Ошибка отзыва доступа",
			slog.String("user_id", userID),
			slog.String("module_id", moduleID),
		)
		return
	}

	writeJSON(w, http.StatusOK, grantResponse{Result: string(res)})
}
