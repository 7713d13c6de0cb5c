package billing

import (
	"strings"

	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
)

// MapStatus переводит статус подписки провайдера во внутренний статус.
// Функция тотальная: любой неизвестный или будущий статус даёт INACTIVE,
// неизвестный статус никогда не открывает доступ.
func MapStatus(providerStatus string) model.SubscriptionStatus {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "active", "trialing":
		return model.SubscriptionActive
	case "past_due":
		return model.SubscriptionPastDue
	case "canceled", "unpaid":
		return model.SubscriptionCanceled
	default:
		return model.SubscriptionInactive
	}
}

// statusPriority — приоритет статуса при выборе одной подписки из нескольких.
var statusPriority = map[model.SubscriptionStatus]int{
	model.SubscriptionActive:   3,
	model.SubscriptionPastDue:  2,
	model.SubscriptionCanceled: 1,
	model.SubscriptionInactive: 0,
}

// SelectSubscription выбирает наиболее значимую подписку клиента:
// сначала ACTIVE, затем PAST_DUE, при равенстве — самую новую.
// Возвращает nil для пустого списка.
func SelectSubscription(subs []model.ProviderSubscription) *model.ProviderSubscription {
	var best *model.ProviderSubscription
	for i := range subs {
		s := &subs[i]
		if best == nil {
			best = s
			continue
		}
		sp, bp := statusPriority[MapStatus(s.Status)], statusPriority[MapStatus(best.Status)]
		if sp > bp || (sp == bp && s.CreatedAt.After(best.CreatedAt)) {
			best = s
		}
	}
	return best
}
