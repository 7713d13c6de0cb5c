// Пакет model — доменные модели Entitlement Module.
package model

import (
	"strings"
	"time"
)

// Role — роль пользователя.
type Role string

// Роли пользователей. ADMIN и FOUNDER обходят проверки плана и модулей.
const (
	RoleUser    Role = "USER"
	RoleAdmin   Role = "ADMIN"
	RoleFounder Role = "FOUNDER"
)

// IsValid проверяет, что роль входит в допустимый набор.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleFounder:
		return true
	}
	return false
}

// IsPrivileged — роль с обходом всех проверок доступа.
func (r Role) IsPrivileged() bool {
	return r == RoleAdmin || r == RoleFounder
}

// Plan — тарифный план пользователя. Полный порядок FREE < PRO < ENTERPRISE.
type Plan string

// Тарифные планы.
const (
	PlanFree       Plan = "FREE"
	PlanPro        Plan = "PRO"
	PlanEnterprise Plan = "ENTERPRISE"
)

// planRank — вес плана для сравнения.
var planRank = map[Plan]int{
	PlanFree:       1,
	PlanPro:        2,
	PlanEnterprise: 3,
}

// Rank возвращает вес плана (FREE=1, PRO=2, ENTERPRISE=3).
// Для неизвестного значения возвращает 0.
func (p Plan) Rank() int {
	return planRank[p]
}

// IsValid проверяет, что план входит в допустимый набор.
func (p Plan) IsValid() bool {
	_, ok := planRank[p]
	return ok
}

// ParsePlan разбирает строку плана без учёта регистра.
func ParsePlan(s string) (Plan, bool) {
	p := Plan(strings.ToUpper(strings.TrimSpace(s)))
	return p, p.IsValid()
}

// SubscriptionStatus — внутренний статус подписки.
type SubscriptionStatus string

// Статусы подписки. INACTIVE — значение по умолчанию и fallback
// для любых неизвестных статусов провайдера.
const (
	SubscriptionInactive SubscriptionStatus = "INACTIVE"
	SubscriptionActive   SubscriptionStatus = "ACTIVE"
	SubscriptionPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionCanceled SubscriptionStatus = "CANCELED"
)

// IsValid проверяет, что статус входит в допустимый набор.
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionInactive, SubscriptionActive, SubscriptionPastDue, SubscriptionCanceled:
		return true
	}
	return false
}

// User — пользователь SaaS с тарифом и состоянием подписки.
// Хранится в таблице users.
type User struct {
	// ID — UUID пользователя
	ID string
	// Email — адрес электронной почты (уникален без учёта регистра)
	Email string
	// Role — роль пользователя
	Role Role
	// Plan — текущий тариф, источник истины для решений о доступе
	Plan Plan
	// BillingCustomerRef — ID клиента у биллинг-провайдера (nil до первого checkout)
	BillingCustomerRef *string
	// BillingSubscriptionRef — ID активной подписки (nil, если подписки нет)
	BillingSubscriptionRef *string
	// SubscriptionStatus — внутренний статус подписки
	SubscriptionStatus SubscriptionStatus
	// DeletedAt — время мягкого удаления (nil для живых пользователей)
	DeletedAt *time.Time
	// CreatedAt — время создания
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// IsDeleted — пользователь помечен как удалённый.
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// NormalizeEmail приводит email к каноническому виду для сравнения.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
