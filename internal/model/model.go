// Package model содержит доменные сущности движка корзины и синхронизации витрины.
package model

import (
	"github.com/shopspring/decimal"
)

// Role описывает роль пользователя витрины.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Valid сообщает, является ли роль известной.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Session представляет локально закэшированный снимок личности, авторизации и кошелька.
// Токен хранится в отдельном ключе хранилища и в JSON пользователя не сериализуется.
type Session struct {
	PrincipalID   int64           `json:"uid"`
	DisplayName   string          `json:"username"`
	Email         string          `json:"email"`
	Role          Role            `json:"role"`
	AvatarRef     string          `json:"img,omitempty"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`
	AuthToken     string          `json:"-"`
}

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusDraft OrderStatus = "DRAFT"
	OrderStatusPaid  OrderStatus = "PAID"
)

// OrderItem описывает позицию черновика заказа. Количества нет: позиция либо есть, либо нет.
type OrderItem struct {
	CatalogItemID int64
	UnitPrice     decimal.Decimal
	DisplayName   string
	ImageRef      string
	CategoryLabel string
}

// DraftOrder описывает заказ пользователя в том виде, в котором его вернул сервер.
type DraftOrder struct {
	OrderID        int64
	Status         OrderStatus
	Items          []OrderItem
	TotalBefore    decimal.Decimal
	TotalAfter     decimal.Decimal
	AppliedPromoID *int64
}

// OrderSummary описывает строку списка заказов пользователя.
type OrderSummary struct {
	OrderID     int64
	Status      OrderStatus
	TotalBefore decimal.Decimal
	TotalAfter  decimal.Decimal
	ItemsCount  int
}

// Totals содержит итоговые суммы заказа до и после скидки.
type Totals struct {
	Before decimal.Decimal `json:"before"`
	After  decimal.Decimal `json:"after"`
}

// Discount возвращает размер скидки, никогда не отрицательный.
func (t Totals) Discount() decimal.Decimal {
	d := t.Before.Sub(t.After)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// CatalogExtras содержит вспомогательные данные позиции каталога для отображения.
type CatalogExtras struct {
	ImageRef      string `json:"image"`
	CategoryLabel string `json:"category"`
}

// Balance содержит баланс кошелька пользователя.
type Balance struct {
	PrincipalID int64           `json:"uid"`
	Amount      decimal.Decimal `json:"balance"`
}

// Credentials содержит данные для входа.
type Credentials struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}
