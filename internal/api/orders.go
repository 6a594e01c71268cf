package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront-sync/internal/model"
)

type orderSummaryDTO struct {
	OID         int64           `json:"oid"`
	Status      string          `json:"status"`
	TotalBefore decimal.Decimal `json:"total_before"`
	TotalAfter  decimal.Decimal `json:"total_after"`
	ItemsCount  int             `json:"items_count"`
}

type orderDTO struct {
	OID         int64           `json:"oid"`
	UID         int64           `json:"uid"`
	PID         *int64          `json:"pid"`
	Status      string          `json:"status"`
	TotalBefore decimal.Decimal `json:"total_before"`
	TotalAfter  decimal.Decimal `json:"total_after"`
}

type itemDTO struct {
	GID       int64           `json:"gid"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Name      string          `json:"name"`
	Image     string          `json:"image,omitempty"`
	Genre     string          `json:"genre,omitempty"`
}

type orderListResponse struct {
	Data []orderSummaryDTO `json:"data"`
}

type orderDetailResponse struct {
	Order orderDTO  `json:"order"`
	Items []itemDTO `json:"items"`
}

type orderResponse struct {
	Order orderDTO `json:"order"`
}

// Receipt описывает результат оплаты.
type Receipt struct {
	OrderID int64
	Charged decimal.Decimal
}

type payResponse struct {
	Charged *decimal.Decimal `json:"charged"`
	Order   *orderDTO        `json:"order"`
}

func (r payResponse) receipt(orderID int64) Receipt {
	rec := Receipt{OrderID: orderID}
	if r.Order != nil {
		if r.Order.OID != 0 {
			rec.OrderID = r.Order.OID
		}
		rec.Charged = r.Order.TotalAfter
	}
	if r.Charged != nil {
		rec.Charged = *r.Charged
	}
	return rec
}

func (o orderDTO) toModel(items []itemDTO) *model.DraftOrder {
	order := &model.DraftOrder{
		OrderID:        o.OID,
		Status:         model.OrderStatus(o.Status),
		TotalBefore:    o.TotalBefore,
		TotalAfter:     o.TotalAfter,
		AppliedPromoID: o.PID,
	}
	order.Items = make([]model.OrderItem, 0, len(items))
	for _, it := range items {
		order.Items = append(order.Items, model.OrderItem{
			CatalogItemID: it.GID,
			UnitPrice:     it.UnitPrice,
			DisplayName:   it.Name,
			ImageRef:      it.Image,
			CategoryLabel: it.Genre,
		})
	}
	return order
}

// ListOrders возвращает заказы пользователя с указанным статусом.
func (c *Client) ListOrders(ctx context.Context, status model.OrderStatus) ([]model.OrderSummary, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}

	var resp orderListResponse
	if err := c.do(ctx, http.MethodGet, "/orders", q, nil, &resp); err != nil {
		return nil, err
	}

	res := make([]model.OrderSummary, 0, len(resp.Data))
	for _, o := range resp.Data {
		res = append(res, model.OrderSummary{
			OrderID:     o.OID,
			Status:      model.OrderStatus(o.Status),
			TotalBefore: o.TotalBefore,
			TotalAfter:  o.TotalAfter,
			ItemsCount:  o.ItemsCount,
		})
	}
	return res, nil
}

// GetOrder возвращает заказ с позициями.
func (c *Client) GetOrder(ctx context.Context, orderID int64) (*model.DraftOrder, error) {
	var resp orderDetailResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/orders/%d", orderID), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Order.toModel(resp.Items), nil
}

// CreateOrder создаёт черновик заказа. Сервер возвращает существующий черновик, если он уже есть.
func (c *Client) CreateOrder(ctx context.Context) (*model.DraftOrder, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Order.toModel(nil), nil
}

type addItemRequest struct {
	GID int64 `json:"gid"`
}

// AddItem добавляет позицию каталога в заказ.
func (c *Client) AddItem(ctx context.Context, orderID, itemID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/orders/%d/items", orderID), nil, addItemRequest{GID: itemID}, nil)
}

// RemoveItem удаляет позицию из заказа.
func (c *Client) RemoveItem(ctx context.Context, orderID, itemID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/orders/%d/items/%d", orderID, itemID), nil, nil, nil)
}

type promoRequest struct {
	Code string `json:"code"`
}

// ApplyPromo применяет промокод к заказу.
func (c *Client) ApplyPromo(ctx context.Context, orderID int64, code string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/orders/%d/apply-promo", orderID), nil, promoRequest{Code: code}, nil)
}

// ClearPromo снимает промокод с заказа.
func (c *Client) ClearPromo(ctx context.Context, orderID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/orders/%d/clear-promo", orderID), nil, struct{}{}, nil)
}

// Recalculate пересчитывает итоги заказа на сервере.
func (c *Client) Recalculate(ctx context.Context, orderID int64) (model.Totals, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/orders/%d/recalculate", orderID), nil, struct{}{}, &resp); err != nil {
		return model.Totals{}, err
	}
	return model.Totals{Before: resp.Order.TotalBefore, After: resp.Order.TotalAfter}, nil
}

// Pay оплачивает заказ с кошелька пользователя.
func (c *Client) Pay(ctx context.Context, orderID int64) (Receipt, error) {
	var resp payResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/orders/%d/pay", orderID), nil, struct{}{}, &resp); err != nil {
		return Receipt{}, err
	}
	return resp.receipt(orderID), nil
}

type buyNowRequest struct {
	Games     []int64 `json:"games"`
	PromoCode string  `json:"promoCode,omitempty"`
}

// BuyNow покупает позиции сразу, минуя черновик заказа.
func (c *Client) BuyNow(ctx context.Context, itemIDs []int64, promoCode string) (Receipt, error) {
	var resp payResponse
	if err := c.do(ctx, http.MethodPost, "/orders/buy", nil, buyNowRequest{Games: itemIDs, PromoCode: promoCode}, &resp); err != nil {
		return Receipt{}, err
	}
	return resp.receipt(0), nil
}
