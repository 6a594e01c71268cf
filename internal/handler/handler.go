// Package handler содержит HTTP-обработчики хоста движка витрины.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-sync/internal/api"
	"github.com/mmeshcher/storefront-sync/internal/bus"
	"github.com/mmeshcher/storefront-sync/internal/middleware"
	"github.com/mmeshcher/storefront-sync/internal/model"
	"github.com/mmeshcher/storefront-sync/internal/order"
	"github.com/mmeshcher/storefront-sync/internal/promo"
	"github.com/mmeshcher/storefront-sync/internal/session"
	"github.com/mmeshcher/storefront-sync/internal/validation"
)

// Sessions определяет контракт кэша сессии, используемый обработчиками.
type Sessions interface {
	Current() (model.Session, bool)
	CartCount() int
	SignIn(ctx context.Context, creds model.Credentials) (model.Session, error)
	SignOut(ctx context.Context)
	TopUp(ctx context.Context, amount decimal.Decimal, note string) (decimal.Decimal, error)
	RefreshBalance(ctx context.Context)
}

// Orders определяет контракт контроллера черновика заказа.
type Orders interface {
	View() order.View
	AddItem(ctx context.Context, itemID int64) error
	RemoveItem(ctx context.Context, itemID int64) error
	ApplyPromo(ctx context.Context, code string) error
	ClearPromo(ctx context.Context) error
	Recalculate(ctx context.Context) (model.Totals, error)
	Pay(ctx context.Context) (api.Receipt, error)
	BuyNow(ctx context.Context, itemID int64, code string) (api.Receipt, error)
}

// Promotions определяет контракт выборки промокодов.
type Promotions interface {
	List(ctx context.Context, query string, status model.PromoStatus) ([]promo.Listed, error)
}

// Extras отдаёт вспомогательные данные позиции каталога.
type Extras interface {
	Load(ctx context.Context, itemID int64) model.CatalogExtras
}

// Events позволяет подписаться на все сигналы шины.
type Events interface {
	SubscribeAll(h bus.Handler) *bus.Subscription
}

// Handler реализует HTTP-обработчики хоста движка витрины.
type Handler struct {
	sessions       Sessions
	orders         Orders
	promos         Promotions
	extras         Extras
	events         Events
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(sessions Sessions, orders Orders, promos Promotions, extras Extras, events Events, logger *zap.Logger) *Handler {
	return &Handler{
		sessions:       sessions,
		orders:         orders,
		promos:         promos,
		extras:         extras,
		events:         events,
		logger:         logger,
		authMiddleware: middleware.NewAuthMiddleware(sessions),
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// writeError переводит ошибку движка в HTTP-статус. Отказ сервера отдаётся с его сообщением.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, session.ErrNoSession):
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	case errors.Is(err, validation.ErrInvalidAmount), errors.Is(err, order.ErrEmptyPromoCode):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, order.ErrNoDraft), errors.Is(err, order.ErrEmptyCart):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, api.ErrRejected):
		http.Error(w, api.UserMessage(err), http.StatusUnprocessableEntity)
	case errors.Is(err, api.ErrTransport):
		h.logger.Warn(op+" error", zap.Error(err))
		http.Error(w, api.UserMessage(err), http.StatusBadGateway)
	default:
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type sessionResponse struct {
	model.Session
	CartCount int `json:"cart_count"`
}

// GetSession возвращает текущую сессию контекста.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	writeJSON(w, sessionResponse{Session: s, CartCount: h.sessions.CartCount()})
}

// Login выполняет вход и сохраняет сессию для всех контекстов профиля.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.Credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if (req.Username == "" && req.Email == "") || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	s, err := h.sessions.SignIn(r.Context(), req)
	if err != nil {
		h.writeError(w, "login", err)
		return
	}

	writeJSON(w, sessionResponse{Session: s, CartCount: h.sessions.CartCount()})
}

// SignOut завершает сессию во всех контекстах профиля.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.sessions.SignOut(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

type walletResponse struct {
	Balance   decimal.Decimal `json:"balance"`
	CartCount int             `json:"cart_count"`
}

// GetWallet перечитывает баланс с сервера и возвращает его.
// При ошибке сервера отдаётся последний известный баланс.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	h.sessions.RefreshBalance(r.Context())

	s, ok := h.sessions.Current()
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	writeJSON(w, walletResponse{Balance: s.WalletBalance, CartCount: h.sessions.CartCount()})
}

type topUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note"`
}

// TopUp пополняет кошелёк текущего пользователя.
func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	balance, err := h.sessions.TopUp(r.Context(), req.Amount, req.Note)
	if err != nil {
		h.writeError(w, "top up", err)
		return
	}
	writeJSON(w, walletResponse{Balance: balance, CartCount: h.sessions.CartCount()})
}

// GetCart возвращает снимок корзины.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.orders.View())
}

type itemRequest struct {
	ItemID int64  `json:"item_id"`
	Code   string `json:"code,omitempty"`
}

// AddItem добавляет позицию в черновик, создавая его при необходимости.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ItemID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.orders.AddItem(r.Context(), req.ItemID); err != nil {
		h.writeError(w, "add item", err)
		return
	}
	writeJSON(w, h.orders.View())
}

// RemoveItem убирает позицию из черновика.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil || itemID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.orders.RemoveItem(r.Context(), itemID); err != nil {
		h.writeError(w, "remove item", err)
		return
	}
	writeJSON(w, h.orders.View())
}

type promoRequest struct {
	Code string `json:"code"`
}

// ApplyPromo применяет промокод к черновику.
func (h *Handler) ApplyPromo(w http.ResponseWriter, r *http.Request) {
	var req promoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.orders.ApplyPromo(r.Context(), req.Code); err != nil {
		h.writeError(w, "apply promo", err)
		return
	}
	writeJSON(w, h.orders.View())
}

// ClearPromo снимает промокод с черновика.
func (h *Handler) ClearPromo(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.ClearPromo(r.Context()); err != nil {
		h.writeError(w, "clear promo", err)
		return
	}
	writeJSON(w, h.orders.View())
}

// Recalculate запрашивает у сервера актуальные итоги черновика.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	if _, err := h.orders.Recalculate(r.Context()); err != nil {
		h.writeError(w, "recalculate", err)
		return
	}
	writeJSON(w, h.orders.View())
}

type receiptResponse struct {
	OrderID int64           `json:"order_id"`
	Charged decimal.Decimal `json:"charged"`
}

// Pay оплачивает черновик.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	rec, err := h.orders.Pay(r.Context())
	if err != nil {
		h.writeError(w, "pay", err)
		return
	}
	writeJSON(w, receiptResponse{OrderID: rec.OrderID, Charged: rec.Charged})
}

// BuyNow покупает одну позицию в обход черновика.
func (h *Handler) BuyNow(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ItemID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	rec, err := h.orders.BuyNow(r.Context(), req.ItemID, req.Code)
	if err != nil {
		h.writeError(w, "buy now", err)
		return
	}
	writeJSON(w, receiptResponse{OrderID: rec.OrderID, Charged: rec.Charged})
}

// ListPromotions возвращает промокоды со статусами, отфильтрованные по коду и статусу.
func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	status, ok := promo.ParseStatusFilter(r.URL.Query().Get("status"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	list, err := h.promos.List(r.Context(), r.URL.Query().Get("q"), status)
	if err != nil {
		h.writeError(w, "list promotions", err)
		return
	}
	writeJSON(w, list)
}

// GetCatalogExtras возвращает обложку и категории позиции каталога.
func (h *Handler) GetCatalogExtras(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil || itemID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	writeJSON(w, h.extras.Load(r.Context(), itemID))
}
