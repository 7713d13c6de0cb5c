// Пакет billing — чистые правила сопоставления данных биллинг-провайдера
// с внутренними тарифами и статусами подписки.
package billing

import (
	"fmt"
	"strings"

	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
)

// Catalog — статический каталог цен: ID цены провайдера → тариф.
// Содержит только платные тарифы. FREE — это отсутствие активной
// подписки, а не цена, поэтому в каталог не попадает.
type Catalog struct {
	prices map[string]model.Plan
}

// NewCatalog создаёт каталог из готового отображения.
// Допустимые целевые тарифы — PRO и ENTERPRISE.
func NewCatalog(prices map[string]model.Plan) (*Catalog, error) {
	c := &Catalog{prices: make(map[string]model.Plan, len(prices))}
	for priceID, plan := range prices {
		priceID = strings.TrimSpace(priceID)
		if priceID == "" {
			return nil, fmt.Errorf("пустой ID цены в каталоге")
		}
		if plan != model.PlanPro && plan != model.PlanEnterprise {
			return nil, fmt.Errorf("цена %q: недопустимый тариф %q (ожидается PRO или ENTERPRISE)", priceID, plan)
		}
		c.prices[priceID] = plan
	}
	return c, nil
}

// ParseCatalog разбирает каталог из строки вида
// "price_abc=PRO,price_xyz=ENTERPRISE".
func ParseCatalog(s string) (*Catalog, error) {
	prices := make(map[string]model.Plan)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		priceID, planStr, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("элемент каталога %q: ожидается формат price_id=PLAN", part)
		}
		plan, valid := model.ParsePlan(planStr)
		if !valid {
			return nil, fmt.Errorf("элемент каталога %q: неизвестный тариф %q", part, planStr)
		}
		priceID = strings.TrimSpace(priceID)
		if _, dup := prices[priceID]; dup {
			return nil, fmt.Errorf("цена %q указана в каталоге дважды", priceID)
		}
		prices[priceID] = plan
	}
	return NewCatalog(prices)
}

// PlanForPrice возвращает тариф для ID цены.
// Для неизвестной цены возвращает false: вызывающий код не должен
// молча назначать тариф.
func (c *Catalog) PlanForPrice(priceID string) (model.Plan, bool) {
	if c == nil {
		return "", false
	}
	plan, ok := c.prices[strings.TrimSpace(priceID)]
	return plan, ok
}

// Len возвращает количество цен в каталоге.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.prices)
}
