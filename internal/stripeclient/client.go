// client.go — клиент к Stripe API для ручной сверки подписок.
// Реализует service.BillingProvider поверх stripe-go: список подписок клиента
// (status=all) и выбор наиболее значимой через billing.SelectSubscription.
// Также реализует handlers.ReadinessChecker через /healthcheck Stripe.
package stripeclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/billing"
	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
)

// DefaultAPIURL — базовый URL Stripe API.
const DefaultAPIURL = "https://api.stripe.com"

// maxSubscriptions — предел просмотра подписок одного клиента.
const maxSubscriptions = 100

// Client — клиент к Stripe API.
type Client struct {
	baseURL       string
	subscriptions *subscription.Client
	httpClient    *http.Client
	logger        *slog.Logger
}

// New создаёт клиент к Stripe API.
// baseURL — базовый URL API без /v1 (пусто — api.stripe.com; в тестах — httptest).
// httpClient — HTTP-клиент с таймаутом (nil — 10s).
func New(apiKey, baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	baseURL = strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1")
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}

	logger = logger.With(slog.String("component", "stripe_client"))

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient: httpClient,
		URL:        stripe.String(baseURL),
		// Повторы выполняет вызывающая сторона (webhook-доставка или ручная сверка)
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &slogLeveledLogger{logger: logger},
	})

	return &Client{
		baseURL:       baseURL,
		subscriptions: &subscription.Client{B: backend, Key: apiKey},
		httpClient:    httpClient,
		logger:        logger,
	}
}

// GetSubscription возвращает наиболее значимую подписку клиента.
// nil без ошибки — у клиента нет подписок.
func (c *Client) GetSubscription(ctx context.Context, customerRef string) (*model.ProviderSubscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerRef),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(maxSubscriptions)

	var subs []model.ProviderSubscription
	iter := c.subscriptions.List(params)
	for iter.Next() {
		subs = append(subs, FromStripe(iter.Subscription()))
		if len(subs) >= maxSubscriptions {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("получение подписок клиента %s: %w", customerRef, err)
	}

	selected := billing.SelectSubscription(subs)
	if selected != nil {
		c.logger.Debug("Подписка клиента получена",
			slog.String("customer_ref", customerRef),
			slog.String("subscription_ref", selected.ID),
			slog.String("status", selected.Status),
			slog.Int("total", len(subs)),
		)
	}
	return selected, nil
}

// FromStripe переводит подписку stripe-go в доменный снимок.
// Цена берётся из первой позиции подписки.
func FromStripe(s *stripe.Subscription) model.ProviderSubscription {
	ps := model.ProviderSubscription{
		ID:     s.ID,
		Status: string(s.Status),
	}
	if s.Customer != nil {
		ps.CustomerRef = s.Customer.ID
	}
	if s.Created > 0 {
		ps.CreatedAt = time.Unix(s.Created, 0).UTC()
	}
	if s.Items != nil {
		for _, item := range s.Items.Data {
			if item != nil && item.Price != nil && item.Price.ID != "" {
				id := item.Price.ID
				ps.PriceID = &id
				break
			}
		}
	}
	return ps
}

// --- Readiness checker ---

// CheckReady проверяет доступность Stripe API через /healthcheck.
// Недоступность Stripe не блокирует решения о доступе, поэтому
// итоговый статус — "degraded", а не "fail".
// Реализует handlers.ReadinessChecker.
func (c *Client) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck", nil)
	if err != nil {
		return "degraded", fmt.Sprintf("создание запроса: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "degraded", fmt.Sprintf("Stripe API недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "degraded", fmt.Sprintf("Stripe API вернул статус %d", resp.StatusCode)
	}
	return "ok", "Stripe API доступен"
}

// slogLeveledLogger — адаптер stripe.LeveledLoggerInterface к slog.
type slogLeveledLogger struct {
	logger *slog.Logger
}

func (l *slogLeveledLogger) Debugf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *slogLeveledLogger) Infof(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *slogLeveledLogger) Warnf(format string, v ...any) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}

func (l *slogLeveledLogger) Errorf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
