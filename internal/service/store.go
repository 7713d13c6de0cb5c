// store.go — зависимости сервисного слоя: единица работы и биллинг-провайдер.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
	"github.com/bigkaa/saaskit/entitlement-module/internal/repository"
)

// UnitOfWork выполняет fn атомарно: все изменения через repos фиксируются
// вместе или откатываются при ошибке. Реализуется repository.TxRunner.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, repos *repository.Repositories) error) error
}

// BillingProvider — запрос текущего состояния подписки у провайдера.
type BillingProvider interface {
	// GetSubscription возвращает наиболее значимую подписку клиента.
	// nil без ошибки — у клиента нет подписок.
	GetSubscription(ctx context.Context, customerRef string) (*model.ProviderSubscription, error)
}

// mapRepoErr переводит ошибки репозитория в ошибки сервисного слоя.
func mapRepoErr(err error, what string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%s: %w", what, ErrConflict)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}
