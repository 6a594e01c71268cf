package api

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront-sync/internal/model"
)

type loginResponse struct {
	Token string        `json:"token"`
	User  model.Session `json:"user"`
}

// Login выполняет вход и возвращает сессию с токеном.
func (c *Client) Login(ctx context.Context, creds model.Credentials) (model.Session, error) {
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, creds, &resp); err != nil {
		return model.Session{}, err
	}
	s := resp.User
	s.AuthToken = resp.Token
	return s, nil
}

type profileResponse struct {
	User model.Session `json:"user"`
}

// Profile возвращает профиль текущего пользователя.
func (c *Client) Profile(ctx context.Context) (model.Session, error) {
	var resp profileResponse
	if err := c.do(ctx, http.MethodGet, "/profile/me", nil, nil, &resp); err != nil {
		return model.Session{}, err
	}
	return resp.User, nil
}

type balanceResponse struct {
	UID     int64           `json:"uid"`
	Balance decimal.Decimal `json:"balance"`
}

// Balance возвращает баланс кошелька текущего пользователя.
func (c *Client) Balance(ctx context.Context) (model.Balance, error) {
	var resp balanceResponse
	if err := c.do(ctx, http.MethodGet, "/wallet/balance", nil, nil, &resp); err != nil {
		return model.Balance{}, err
	}
	return model.Balance{PrincipalID: resp.UID, Amount: resp.Balance}, nil
}

type topUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note"`
}

// TopUp пополняет кошелёк текущего пользователя.
func (c *Client) TopUp(ctx context.Context, amount decimal.Decimal, note string) error {
	return c.do(ctx, http.MethodPost, "/wallet/topup", nil, topUpRequest{Amount: amount, Note: note}, nil)
}
