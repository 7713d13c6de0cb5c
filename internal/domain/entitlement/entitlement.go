// Пакет entitlement — единая функция решения о доступе к модулю.
// Порядок проверок (первое совпадение выигрывает):
// недоступный модуль → обход по роли → явная выдача → сравнение тарифов.
// Решение детерминировано и зависит только от переданного состояния.
package entitlement

import "github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"

// Reason — причина решения о доступе.
type Reason string

// Причины решения.
const (
	ReasonModuleUnavailable Reason = "MODULE_UNAVAILABLE"
	ReasonRoleBypass        Reason = "ROLE_BYPASS"
	ReasonExplicitGrant     Reason = "EXPLICIT_GRANT"
	ReasonPlanSufficient    Reason = "PLAN_SUFFICIENT"
	ReasonPlanInsufficient  Reason = "PLAN_INSUFFICIENT"
)

// Subject — минимальные данные пользователя для решения.
type Subject struct {
	Role model.Role
	Plan model.Plan
}

// Target — минимальные данные модуля для решения.
type Target struct {
	MinPlan    model.Plan
	Enabled    bool
	IsArchived bool
}

// Decision — результат проверки доступа.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

// CanAccess решает, может ли пользователь открыть модуль.
// Недоступный модуль закрыт для всех, включая ADMIN и FOUNDER.
func CanAccess(subject Subject, target Target, hasExplicitGrant bool) Decision {
	if target.IsArchived || !target.Enabled {
		return Decision{Allowed: false, Reason: ReasonModuleUnavailable}
	}
	if subject.Role.IsPrivileged() {
		return Decision{Allowed: true, Reason: ReasonRoleBypass}
	}
	if hasExplicitGrant {
		return Decision{Allowed: true, Reason: ReasonExplicitGrant}
	}
	if PlanSatisfies(subject.Plan, target.MinPlan) {
		return Decision{Allowed: true, Reason: ReasonPlanSufficient}
	}
	return Decision{Allowed: false, Reason: ReasonPlanInsufficient}
}

// PlanSatisfies — тариф пользователя не ниже минимального тарифа модуля.
// Неизвестный тариф пользователя (вес 0) не удовлетворяет ничему.
func PlanSatisfies(userPlan, minPlan model.Plan) bool {
	rank := userPlan.Rank()
	return rank > 0 && rank >= minPlan.Rank()
}

// SubjectOf собирает Subject из пользователя.
func SubjectOf(u *model.User) Subject {
	return Subject{Role: u.Role, Plan: u.Plan}
}

// TargetOf собирает Target из модуля.
func TargetOf(m *model.Module) Target {
	return Target{MinPlan: m.MinPlan, Enabled: m.Enabled, IsArchived: m.IsArchived}
}
