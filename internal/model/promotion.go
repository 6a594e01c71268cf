package model

import (
	"github.com/shopspring/decimal"
)

// DiscountKind описывает способ расчёта скидки промокода.
type DiscountKind string

const (
	DiscountPercent DiscountKind = "PERCENT"
	DiscountFixed   DiscountKind = "FIXED"
)

// PromoStatus описывает производный статус промокода. Статус никогда не хранится.
type PromoStatus string

const (
	PromoActive    PromoStatus = "ACTIVE"
	PromoScheduled PromoStatus = "SCHEDULED"
	PromoExpired   PromoStatus = "EXPIRED"
	PromoDepleted  PromoStatus = "DEPLETED"
	PromoDisabled  PromoStatus = "DISABLED"
)

// PromoStatuses перечисляет все статусы в порядке их проверки.
var PromoStatuses = []PromoStatus{PromoDisabled, PromoDepleted, PromoScheduled, PromoExpired, PromoActive}

// Promotion описывает промокод в том виде, в котором он хранится на сервере.
type Promotion struct {
	ID            string           `json:"id"`
	Code          string           `json:"code"`
	DiscountKind  DiscountKind     `json:"type"`
	DiscountValue decimal.Decimal  `json:"value"`
	UsageLimit    *int             `json:"max_uses"`
	UsedCount     int              `json:"used"`
	Active        bool             `json:"active"`
	WindowStart   Date             `json:"start_at"`
	WindowEnd     Date             `json:"end_at"`
	MinSubtotal   *decimal.Decimal `json:"min_subtotal,omitempty"`
	Categories    []string         `json:"categories,omitempty"`
	Notes         string           `json:"notes,omitempty"`
}
