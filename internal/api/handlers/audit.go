// audit.go — обработчик GET /api/v1/audit.
// Доступ: ADMIN или FOUNDER.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/saaskit/entitlement-module/internal/api/errors"
	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
	"github.com/bigkaa/saaskit/entitlement-module/internal/repository"
)

// ListAudit — GET /api/v1/audit.
// Фильтры entity_type, entity_id, action; записи новые первыми.
func (h *APIHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
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

	q := r.URL.Query()
	filter := repository.AuditFilter{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Action:     model.AuditAction(q.Get("action")),
	}

	entries, total, err := h.audit.List(r.Context(), filter, limit, offset)
	if err != nil {
		h.handleServiceError(w, r, err, "Ошибка получения журнала аудита")
		return
	}

	items := make([]auditEntryResponse, len(entries))
	for i, e := range entries {
		items[i] = mapAuditEntry(e)
	}

	writeJSON(w, http.StatusOK, auditListResponse{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}
