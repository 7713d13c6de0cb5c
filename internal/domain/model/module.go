package model

import "time"

// ModuleState — состояние жизненного цикла модуля.
// DRAFT → ACTIVE ⇄ DISABLED → ARCHIVED (терминальное).
type ModuleState string

// Состояния модуля.
const (
	ModuleStateDraft    ModuleState = "DRAFT"
	ModuleStateActive   ModuleState = "ACTIVE"
	ModuleStateDisabled ModuleState = "DISABLED"
	ModuleStateArchived ModuleState = "ARCHIVED"
)

// Module — модуль (функциональность), доступ к которому ограничен тарифом.
// Хранится в таблице modules.
type Module struct {
	// ID — UUID модуля
	ID string
	// Key — стабильный ключ, неизменяемый после создания
	Key string
	// Name — отображаемое имя
	Name string
	// Description — описание
	Description string
	// MinPlan — минимальный тариф для доступа
	MinPlan Plan
	// Enabled — модуль включён
	Enabled bool
	// IsArchived — модуль архивирован (терминальное состояние)
	IsArchived bool
	// ActivatedAt — время первого включения (nil для черновиков)
	ActivatedAt *time.Time
	// CreatedAt — время создания
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// Available — модуль может быть доступен хоть кому-то.
func (m *Module) Available() bool {
	return m.Enabled && !m.IsArchived
}

// State вычисляет состояние жизненного цикла из флагов.
func (m *Module) State() ModuleState {
	switch {
	case m.IsArchived:
		return ModuleStateArchived
	case m.Enabled:
		return ModuleStateActive
	case m.ActivatedAt == nil:
		return ModuleStateDraft
	default:
		return ModuleStateDisabled
	}
}

// ModuleAccessGrant — явная выдача доступа пользователю к модулю.
// Уникальна по паре (UserID, ModuleID). Не повышает тариф пользователя
// и не обходит enabled/isArchived.
type ModuleAccessGrant struct {
	UserID    string
	ModuleID  string
	GrantedBy *string
	CreatedAt time.Time
}
