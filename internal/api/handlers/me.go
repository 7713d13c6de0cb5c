// me.go — обработчики /api/v1/me endpoints.
// Текущий пользователь определяется только по sub из JWT;
// роль и тариф читаются из БД.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/saaskit/entitlement-module/internal/api/errors"
	"github.com/bigkaa/saaskit/entitlement-module/internal/api/middleware"
)

// subject возвращает sub аутентифицированного пользователя.
func subject(r *http.Request) string {
	return middleware.SubjectFromContext(r.Context())
}

// GetMe — GET /api/v1/me.
func (h *APIHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	sub := subject(r)
	if sub == "" {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}

	user, err := h.users.Get(r.Context(), sub)
	if err != nil {
		h.handleServiceError(w, r, err, "Ошибка получения пользователя", slog.String("user_id", sub))
		return
	}

	writeJSON(w, http.StatusOK, mapUser(user))
}

// SyncMyPlan — POST /api/v1/me/plan/sync.
// Синхронно сверяет тариф с биллинг-провайдером. Недоступность провайдера — 502,
// состояние пользователя при этом не меняется.
func (h *APIHandler) SyncMyPlan(w http.ResponseWriter, r *http.Request) {
	sub := subject(r)
	if sub == "" {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}

	res, err := h.syncer.ReconcileFromQuery(r.Context(), sub, &sub)
	if err != nil {
		h.handleServiceError(w, r, err, "Ошибка сверки тарифа", slog.String("user_id", sub))
		return
	}

	writeJSON(w, http.StatusOK, mapSyncResult(res))
}

// ListMyModules — GET /api/v1/me/modules.
// Возвращает включённые модули с решением о доступе для текущего пользователя.
func (h *APIHandler) ListMyModules(w http.ResponseWriter, r *http.Request) {
	sub := subject(r)
	if sub == "" {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}

	list, err := h.access.ListForUser(r.Context(), sub)
	if err != nil {
		h.handleServiceError(w, r, err, "Ошибка получения модулей", slog.String("user_id", sub))
		return
	}

	writeJSON(w, http.StatusOK, mapMyModules(list))
}

// CheckMyModuleAccess — GET /api/v1/me/modules/{ref}/access.
// Отказ в доступе — штатный ответ 200 {allowed:false, reason}.
func (h *APIHandler) CheckMyModuleAccess(w http.ResponseWriter, r *http.Request) {
	sub := subject(r)
	if sub == "" {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}
	ref := chi.URLParam(r, "ref")

	res, err := h.access.CanAccess(r.Context(), sub, ref)
	if err != nil {
		h.handleServiceError(w, r, err, "Ошибка проверки доступа",
			slog.String("user_id", sub),
			slog.String("module_ref", ref),
		)
		return
	}

	writeJSON(w, http.StatusOK, res.Decision)
}
