package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/mmeshcher/storefront-sync/internal/model"
)

type promotionListResponse struct {
	Data []model.Promotion `json:"data"`
}

type promotionResponse struct {
	Data model.Promotion `json:"data"`
}

// ListPromotions возвращает все промокоды.
func (c *Client) ListPromotions(ctx context.Context) ([]model.Promotion, error) {
	var resp promotionListResponse
	if err := c.do(ctx, http.MethodGet, "/promo", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// CreatePromotion создаёт промокод.
func (c *Client) CreatePromotion(ctx context.Context, p model.Promotion) (model.Promotion, error) {
	var resp promotionResponse
	if err := c.do(ctx, http.MethodPost, "/promo", nil, p, &resp); err != nil {
		return model.Promotion{}, err
	}
	return resp.Data, nil
}

// UpdatePromotion обновляет промокод.
func (c *Client) UpdatePromotion(ctx context.Context, p model.Promotion) (model.Promotion, error) {
	var resp promotionResponse
	if err := c.do(ctx, http.MethodPut, "/promo/"+url.PathEscape(p.ID), nil, p, &resp); err != nil {
		return model.Promotion{}, err
	}
	return resp.Data, nil
}

// DeletePromotion удаляет промокод.
func (c *Client) DeletePromotion(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/promo/"+url.PathEscape(id), nil, nil, nil)
}
