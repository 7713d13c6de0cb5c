package model

import "time"

// AuditAction — тип события аудита.
type AuditAction string

// События, меняющие права пользователя.
const (
	AuditAccessGranted             AuditAction = "ACCESS_GRANTED"
	AuditAccessRevoked             AuditAction = "ACCESS_REVOKED"
	AuditPlanChanged               AuditAction = "PLAN_CHANGED"
	AuditSubscriptionStatusChanged AuditAction = "SUBSCRIPTION_STATUS_CHANGED"
)

// Типы сущностей в записях аудита.
const (
	EntityUser              = "user"
	EntityModuleAccessGrant = "module_access_grant"
)

// AuditEntry — запись аудита. Только добавляется, никогда не изменяется.
type AuditEntry struct {
	// ID — UUID записи
	ID string
	// Action — тип события
	Action AuditAction
	// EntityType — тип затронутой сущности
	EntityType string
	// EntityID — идентификатор затронутой сущности
	EntityID string
	// PerformedByUserID — инициатор (nil — система или webhook)
	PerformedByUserID *string
	// Metadata — произвольные детали события
	Metadata map[string]any
	// CreatedAt — время записи
	CreatedAt time.Time
}
