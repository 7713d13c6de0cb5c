package model

import "time"

// ReconcileSource — откуда пришёл запрос на сверку тарифа.
type ReconcileSource string

// Источники сверки.
const (
	ReconcileSourceEvent ReconcileSource = "event"
	ReconcileSourceSync  ReconcileSource = "sync"
)

// ReconciliationEvent — один факт от биллинг-провайдера.
// Доставка at-least-once, возможны дубли и нарушение порядка.
type ReconciliationEvent struct {
	// UserID — пользователь, к которому относится подписка
	UserID string `validate:"required,uuid"`
	// SubscriptionRef — ID подписки у провайдера (может быть пустым при sync без подписки)
	SubscriptionRef string `validate:"omitempty,max=255"`
	// CustomerRef — ID клиента у провайдера
	CustomerRef string `validate:"omitempty,max=255"`
	// ProviderStatus — статус подписки в терминах провайдера
	ProviderStatus string `validate:"max=64"`
	// ProviderPriceID — ID цены (nil, если неизвестна)
	ProviderPriceID *string `validate:"omitempty"`
	// ProviderEventID — ID события провайдера (пустой для sync)
	ProviderEventID string `validate:"omitempty,max=255"`
	// ObservedAt — когда факт был получен
	ObservedAt time.Time
}

// ProviderSubscription — снимок подписки, полученный у провайдера.
type ProviderSubscription struct {
	// ID — ID подписки
	ID string
	// CustomerRef — ID клиента
	CustomerRef string
	// Status — статус в терминах провайдера
	Status string
	// PriceID — ID цены первой позиции (nil, если позиций нет)
	PriceID *string
	// CreatedAt — время создания подписки
	CreatedAt time.Time
}

// ReconcileResult — итог сверки тарифа.
type ReconcileResult struct {
	// Plan — итоговый тариф
	Plan Plan
	// SubscriptionStatus — итоговый статус подписки
	SubscriptionStatus SubscriptionStatus
	// Changed — тариф или статус были изменены
	Changed bool
	// UnmappedPrice — активная подписка ссылается на цену вне каталога
	UnmappedPrice bool
}
