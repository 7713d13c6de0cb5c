package model

import "time"

// SyncState — состояние фоновых задач (одна строка в БД).
// Хранится в таблице sync_state (id = 1, всегда одна запись).
type SyncState struct {
	// ID — всегда 1
	ID int
	// LastPlanResyncAt — время последней сверки тарифов с биллинг-провайдером
	LastPlanResyncAt *time.Time
	// LastUserPurgeAt — время последней очистки удалённых пользователей
	LastUserPurgeAt *time.Time
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// PlanResyncResult — результат периодической сверки тарифов.
type PlanResyncResult struct {
	// UsersChecked — пользователей с billing_customer_ref проверено
	UsersChecked int
	// UsersChanged — пользователей, у которых изменился тариф или статус
	UsersChanged int
	// UnmappedPrices — подписок с ценой вне каталога
	UnmappedPrices int
	// Failed — сверок, завершившихся ошибкой провайдера
	Failed int
	// StartedAt — время начала
	StartedAt time.Time
	// CompletedAt — время завершения
	CompletedAt time.Time
}

// UserPurgeResult — результат очистки мягко удалённых пользователей.
type UserPurgeResult struct {
	// Purged — пользователей удалено окончательно
	Purged int64
	// Cutoff — граница: удалены пользователи с deleted_at раньше этого времени
	Cutoff time.Time
	// CompletedAt — время завершения
	CompletedAt time.Time
}
