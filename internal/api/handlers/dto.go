// dto.go — представления доменных моделей в ответах API.
package handlers

import (
	"time"

	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/entitlement"
	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
	"github.com/bigkaa/saaskit/entitlement-module/internal/service"
)

type userResponse struct {
	ID                     string    `json:"id"`
	Email                  string    `json:"email"`
	Role                   string    `json:"role"`
	Plan                   string    `json:"plan"`
	SubscriptionStatus     string    `json:"subscription_status"`
	BillingCustomerRef     *string   `json:"billing_customer_ref"`
	BillingSubscriptionRef *string   `json:"billing_subscription_ref"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func mapUser(u *model.User) userResponse {
	return userResponse{
		ID:                     u.ID,
		Email:                  u.Email,
		Role:                   string(u.Role),
		Plan:                   string(u.Plan),
		SubscriptionStatus:     string(u.SubscriptionStatus),
		BillingCustomerRef:     u.BillingCustomerRef,
		BillingSubscriptionRef: u.BillingSubscriptionRef,
		CreatedAt:              u.CreatedAt,
		UpdatedAt:              u.UpdatedAt,
	}
}

type moduleResponse struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	MinPlan     string     `json:"min_plan"`
	State       string     `json:"state"`
	Enabled     bool       `json:"enabled"`
	IsArchived  bool       `json:"is_archived"`
	ActivatedAt *time.Time `json:"activated_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func mapModule(m *model.Module) moduleResponse {
	return moduleResponse{
		ID:          m.ID,
		Key:         m.Key,
		Name:        m.Name,
		Description: m.Description,
		MinPlan:     string(m.MinPlan),
		State:       string(m.State()),
		Enabled:     m.Enabled,
		IsArchived:  m.IsArchived,
		ActivatedAt: m.ActivatedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

type moduleListResponse struct {
	Items  []moduleResponse `json:"items"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

type myModuleResponse struct {
	Module moduleResponse       `json:"module"`
	Access entitlement.Decision `json:"access"`
}

type myModuleListResponse struct {
	Items []myModuleResponse `json:"items"`
}

func mapMyModules(list []service.ModuleAccess) myModuleListResponse {
	items := make([]myModuleResponse, len(list))
	for i, ma := range list {
		items[i] = myModuleResponse{Module: mapModule(ma.Module), Access: ma.Decision}
	}
	return myModuleListResponse{Items: items}
}

type syncResponse struct {
	Plan               string `json:"plan"`
	SubscriptionStatus string `json:"subscription_status"`
	Changed            bool   `json:"changed"`
	UnmappedPrice      bool   `json:"unmapped_price"`
}

func mapSyncResult(res *model.ReconcileResult) syncResponse {
	return syncResponse{
		Plan:               string(res.Plan),
		SubscriptionStatus: string(res.SubscriptionStatus),
		Changed:            res.Changed,
		UnmappedPrice:      res.UnmappedPrice,
	}
}

type grantResponse struct {
	Result string `json:"result"`
}

type auditEntryResponse struct {
	ID                string         `json:"id"`
	Action            string         `json:"action"`
	EntityType        string         `json:"entity_type"`
	EntityID          string         `json:"entity_id"`
	PerformedByUserID *string        `json:"performed_by_user_id"`
	Metadata          map[string]any `json:"metadata"`
	CreatedAt         time.Time      `json:"created_at"`
}

type auditListResponse struct {
	Items  []auditEntryResponse `json:"items"`
	Total  int                  `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

func mapAuditEntry(e *model.AuditEntry) auditEntryResponse {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return auditEntryResponse{
		ID:                e.ID,
		Action:            string(e.Action),
		EntityType:        e.EntityType,
		EntityID:          e.EntityID,
		PerformedByUserID: e.PerformedByUserID,
		Metadata:          meta,
		CreatedAt:         e.CreatedAt,
	}
}
