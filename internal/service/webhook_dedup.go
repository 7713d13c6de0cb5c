// webhook_dedup.go — дедупликация webhook-событий провайдера по ID события.
//
// Двухуровневая проверка: expirable LRU в памяти перед таблицей
// processed_webhook_events. Событие отмечается обработанным только после
// успешной сверки, поэтому неудачные доставки повторяются провайдером.
// Одновременная доставка того же события, пока первая ещё обрабатывается,
// получает BeginInFlight.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/saaskit/entitlement-module/internal/repository"
)

// Prometheus-метрики дедупликации.
var (
	dedupCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "entitlement_webhook_dedup_cache_hits_total",
		Help: "Повторные webhook-события, найденные в LRU-кэше",
	})
	dedupCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "entitlement_webhook_dedup_cache_misses_total",
		Help: "Webhook-события, отсутствующие в LRU-кэше",
	})
)

// BeginResult — итог попытки начать обработку события.
type BeginResult int

// Итоги Begin.
const (
	// BeginProceed — событие новое, можно обрабатывать
	BeginProceed BeginResult = iota
	// BeginDuplicate — событие уже обработано
	BeginDuplicate
	// BeginInFlight — событие обрабатывается другой доставкой
	BeginInFlight
)

// WebhookDeduper — дедупликация webhook-событий.
type WebhookDeduper struct {
	cache  *expirable.LRU[string, struct{}]
	events repository.WebhookEventRepository
	logger *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewWebhookDeduper создаёт дедупликатор.
// size — размер LRU-кэша, ttl — время жизни записи в кэше.
func NewWebhookDeduper(events repository.WebhookEventRepository, size int, ttl time.Duration, logger *slog.Logger) *WebhookDeduper {
	return &WebhookDeduper{
		cache:    expirable.NewLRU[string, struct{}](size, nil, ttl),
		events:   events,
		logger:   logger.With(slog.String("component", "webhook_dedup")),
		inFlight: make(map[string]struct{}),
	}
}

// Begin проверяет событие и при BeginProceed резервирует его.
// После BeginProceed вызывающий обязан вызвать Complete или Abort.
func (d *WebhookDeduper) Begin(ctx context.Context, eventID string) (BeginResult, error) {
	if _, ok := d.cache.Get(eventID); ok {
		dedupCacheHits.Inc()
		return BeginDuplicate, nil
	}
	dedupCacheMisses.Inc()

	d.mu.Lock()
	if _, busy := d.inFlight[eventID]; busy {
		d.mu.Unlock()
		return BeginInFlight, nil
	}
	d.inFlight[eventID] = struct{}{}
	d.mu.Unlock()

	processed, err := d.events.IsProcessed(ctx, eventID)
	if err != nil {
		d.Abort(eventID)
		return BeginProceed, fmt.Errorf("проверка обработанного события: %w", err)
	}
	if processed {
		d.Abort(eventID)
		d.cache.Add(eventID, struct{}{})
		return BeginDuplicate, nil
	}
	return BeginProceed, nil
}

// Complete отмечает событие обработанным и снимает резерв.
func (d *WebhookDeduper) Complete(ctx context.Context, eventID, eventType string) error {
	defer d.Abort(eventID)

	if err := d.events.MarkProcessed(ctx, eventID, eventType); err != nil {
		return fmt.Errorf("отметка обработанного события: %w", err)
	}
	d.cache.Add(eventID, struct{}{})
	return nil
}

// Abort снимает резерв без отметки: следующая доставка обработает событие заново.
func (d *WebhookDeduper) Abort(eventID string) {
	d.mu.Lock()
	delete(d.inFlight, eventID)
	d.mu.Unlock()
}
