// Package apitest предоставляет поддельный удалённый API витрины для тестов.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront-sync/internal/model"
)

// Game описывает позицию каталога поддельного сервера.
type Game struct {
	ID         int64
	Name       string
	Price      decimal.Decimal
	Genre      string
	Images     []string
	Categories []string
}

type order struct {
	id     int64
	status model.OrderStatus
	items  []int64
	pid    *int64
	before decimal.Decimal
	after  decimal.Decimal
}

// Server реализует подмножество удалённого API поверх httptest.Server.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	token     string
	password  string
	user      model.Session
	balance   decimal.Decimal
	games     map[int64]Game
	orders    map[int64]*order
	nextOrder int64
	promos    map[string]model.Promotion
	nextPromo int
	calls     map[string]int
	failNext  map[string]string
	now       func() time.Time

	// Before вызывается перед обработкой каждого запроса с шаблоном маршрута, например "POST /orders".
	Before func(route string)
}

// New запускает поддельный сервер с одним пользователем и пустым кошельком.
func New() *Server {
	s := &Server{
		token:    "test-token",
		password: "secret",
		user: model.Session{
			PrincipalID: 7,
			DisplayName: "alice",
			Email:       "alice@example.com",
			Role:        model.RoleUser,
		},
		games:     make(map[int64]Game),
		orders:    make(map[int64]*order),
		nextOrder: 100,
		promos:    make(map[string]model.Promotion),
		calls:     make(map[string]int),
		failNext:  make(map[string]string),
		now:       time.Now,
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

// Token возвращает токен, который сервер выдаёт при входе.
func (s *Server) Token() string {
	return s.token
}

// Password возвращает пароль тестового пользователя.
func (s *Server) Password() string {
	return s.password
}

// User возвращает тестового пользователя.
func (s *Server) User() model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user
	u.WalletBalance = s.balance
	return u
}

// SetToken задаёт токен, который сервер выдаёт и принимает.
func (s *Server) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// SetRole задаёт роль тестового пользователя.
func (s *Server) SetRole(r model.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user.Role = r
}

// SetNow подменяет часы сервера.
func (s *Server) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetBalance задаёт баланс кошелька.
func (s *Server) SetBalance(v decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = v
}

// Balance возвращает текущий баланс кошелька.
func (s *Server) Balance() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance
}

// AddGame добавляет позицию в каталог.
func (s *Server) AddGame(g Game) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[g.ID] = g
}

// AddPromotion добавляет промокод и возвращает его с присвоенным идентификатором.
func (s *Server) AddPromotion(p model.Promotion) model.Promotion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addPromotionLocked(p)
}

func (s *Server) addPromotionLocked(p model.Promotion) model.Promotion {
	if p.ID == "" {
		s.nextPromo++
		p.ID = strconv.Itoa(s.nextPromo)
	}
	s.promos[p.ID] = p
	return p
}

// Promotion возвращает промокод по коду.
func (s *Server) Promotion(code string) (model.Promotion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.promos {
		if p.Code == code {
			return p, true
		}
	}
	return model.Promotion{}, false
}

// DraftItems возвращает позиции текущего черновика или nil.
func (s *Server) DraftItems() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o := s.draftLocked(); o != nil {
		return append([]int64(nil), o.items...)
	}
	return nil
}

// Orders возвращает число заказов с указанным статусом.
func (s *Server) Orders(status model.OrderStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.orders {
		if o.status == status {
			n++
		}
	}
	return n
}

// Calls возвращает число запросов к маршруту.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// FailNext заставляет следующий запрос к маршруту вернуть success=false с сообщением.
func (s *Server) FailNext(route, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[route] = message
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/auth/login", s.handle("POST /auth/login", false, s.login))

	r.Get("/profile/me", s.handle("GET /profile/me", true, s.profile))
	r.Get("/wallet/balance", s.handle("GET /wallet/balance", true, s.walletBalance))
	r.Post("/wallet/topup", s.handle("POST /wallet/topup", true, s.topUp))

	r.Get("/orders", s.handle("GET /orders", true, s.listOrders))
	r.Post("/orders", s.handle("POST /orders", true, s.createOrder))
	r.Post("/orders/buy", s.handle("POST /orders/buy", true, s.buyNow))
	r.Get("/orders/{id}", s.handle("GET /orders/{id}", true, s.getOrder))
	r.Post("/orders/{id}/items", s.handle("POST /orders/{id}/items", true, s.addItem))
	r.Delete("/orders/{id}/items/{gid}", s.handle("DELETE /orders/{id}/items/{gid}", true, s.removeItem))
	r.Post("/orders/{id}/apply-promo", s.handle("POST /orders/{id}/apply-promo", true, s.applyPromo))
	r.Post("/orders/{id}/clear-promo", s.handle("POST /orders/{id}/clear-promo", true, s.clearPromo))
	r.Post("/orders/{id}/recalculate", s.handle("POST /orders/{id}/recalculate", true, s.recalculate))
	r.Post("/orders/{id}/pay", s.handle("POST /orders/{id}/pay", true, s.pay))

	r.Get("/catalog/{id}", s.handle("GET /catalog/{id}", false, s.catalog))

	r.Get("/promo", s.handle("GET /promo", true, s.listPromos))
	r.Post("/promo", s.handle("POST /promo", true, s.createPromo))
	r.Put("/promo/{id}", s.handle("PUT /promo/{id}", true, s.updatePromo))
	r.Delete("/promo/{id}", s.handle("DELETE /promo/{id}", true, s.deletePromo))

	return r
}

type response map[string]any

type rejection struct {
	status  int
	message string
}

type handlerFunc func(r *http.Request) (response, *rejection)

func (s *Server) handle(route string, auth bool, fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Before != nil {
			s.Before(route)
		}

		s.mu.Lock()
		s.calls[route]++
		msg, forced := s.failNext[route]
		delete(s.failNext, route)
		token := s.token
		s.mu.Unlock()

		if forced {
			writeJSON(w, http.StatusBadRequest, response{"success": false, "message": msg})
			return
		}

		if auth && r.Header.Get("Authorization") != "Bearer "+token {
			writeJSON(w, http.StatusUnauthorized, response{"success": false, "message": "Unauthorized"})
			return
		}

		resp, rej := fn(r)
		if rej != nil {
			writeJSON(w, rej.status, response{"success": false, "message": rej.message})
			return
		}
		if resp == nil {
			resp = response{}
		}
		resp["success"] = true
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func reject(status int, message string) *rejection {
	return &rejection{status: status, message: message}
}

func money(v decimal.Decimal) string {
	return v.StringFixed(2)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil
}

func (s *Server) userJSONLocked() response {
	return response{
		"uid":            s.user.PrincipalID,
		"username":       s.user.DisplayName,
		"email":          s.user.Email,
		"role":           s.user.Role,
		"img":            s.user.AvatarRef,
		"wallet_balance": money(s.balance),
	}
}

func (s *Server) login(r *http.Request) (response, *rejection) {
	var creds model.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		return nil, reject(http.StatusBadRequest, "Invalid request body")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if creds.Password != s.password || (creds.Username != s.user.DisplayName && creds.Email != s.user.Email) {
		return nil, reject(http.StatusUnauthorized, "Invalid credentials")
	}
	return response{"token": s.token, "user": s.userJSONLocked()}, nil
}

func (s *Server) profile(_ *http.Request) (response, *rejection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return response{"user": s.userJSONLocked()}, nil
}

func (s *Server) walletBalance(_ *http.Request) (response, *rejection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return response{"uid": s.user.PrincipalID, "balance": money(s.balance)}, nil
}

func (s *Server) topUp(r *http.Request) (response, *rejection) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Note   string          `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, reject(http.StatusBadRequest, "Invalid request body")
	}
	if !req.Amount.IsPositive() {
		return nil, reject(http.StatusBadRequest, "Amount must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = s.balance.Add(req.Amount)
	return response{"balance": money(s.balance)}, nil
}

func (s *Server) draftLocked() *order {
	for _, o := range s.orders {
		if o.status == model.OrderStatusDraft {
			return o
		}
	}
	return nil
}

func (s *Server) orderJSONLocked(o *order) response {
	return response{
		"oid":          o.id,
		"uid":          s.user.PrincipalID,
		"pid":          o.pid,
		"status":       o.status,
		"total_before": money(o.before),
		"total_after":  money(o.after),
	}
}

func (s *Server) listOrders(r *http.Request) (response, *rejection) {
	status := model.OrderStatus(r.URL.Query().Get("status"))

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.orders))
	for id, o := range s.orders {
		if status == "" || o.status == status {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	data := make([]response, 0, len(ids))
	for _, id := range ids {
		o := s.orders[id]
		row := s.orderJSONLocked(o)
		row["items_count"] = len(o.items)
		data = append(data, row)
	}
	return response{"data": data}, nil
}

func (s *Server) createOrder(_ *http.Request) (response, *rejection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := s.draftLocked()
	if o == nil {
		s.nextOrder++
		o = &order{id: s.nextOrder, status: model.OrderStatusDraft}
		s.orders[o.id] = o
	}
	return response{"order": s.orderJSONLocked(o)}, nil
}

func (s *Server) orderLocked(r *http.Request) (*order, *rejection) {
	id, ok := pathID(r, "id")
	if !ok {
		return nil, reject(http.StatusBadRequest, "Invalid order id")
	}
	o, ok := s.orders[id]
	if !ok {
		return nil, reject(http.StatusNotFound, "Order not found")
	}
	return o, nil
}

func (s *Server) getOrder(r *http.Request) (response, *rejection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, rej := s.orderLocked(r)
	if rej != nil {
		return nil, rej
	}

	items := make([]response, 0, len(o.items))
	for _, gid := range o.items {
		g := s.games[gid]
		image := ""
		if len(g.Images) > 0 {
			image = g.Images[0]
		}
		items = append(items, response{
			"gid":        gid,
			"unit_price": money(g.Price),
			"name":       g.Name,
			"image":      image,
			"genre":      g.Genre,
		})
	}
	return response{"order": s.orderJSONLocked(o), "items": items}, nil
}

func (s *Server) draftFromPathLocked(r *http.Request) (*order, *rejection) {
	o, rej := s.orderLocked(r)
	if rej != nil {
		return nil, rej
	}
	if o.status != model.OrderStatusDraft {
		return nil, reject(http.StatusConflict, "Order is not a draft")
	}
	return o, nil
}

func (s *Server) addItem(r *http.Request) (response, *rejection) {
	var req struct {
		GID int64 `json:"gid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, reject(http.StatusBadRequest, "Invalid request body")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, rej := s.draftFromPathLocked(r)
	if rej != nil {
		return nil, rej
	}
	if _, ok := s.games[req.GID]; !ok {
		return nil, reject(http.StatusNotFound, "Game not found")
	}
	for _, gid := range o.items {
		if gid == req.GID {
			return nil, nil
		}
	}
	o.items = append(o.items, req.GID)
	s.recalcLocked(o)
	return nil, nil
}

func (s *Server) removeItem(r *http.Request) (response, *rejection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, rej := s.draftFromPathLocked(r)
	if rej != nil {
		return nil, rej
	}
	gid, ok := pathID(r, "gid")
	if !ok {
		return nil, reject(http.StatusBadRequest, "Invalid item id")
	}

	kept := o.items[:0]
	for _, id := range o.items {
		if id != gid {
			kept = append(kept, id)
		}
	}
	o.items = kept
	s.recalcLocked(o)
	return nil, nil
}

func (s *Server) promoByCodeLocked(code string) (model.Promotion, bool) {
	for _, p := range s.promos {
		if strings.EqualFold(p.Code, code) {
			return p, true
		}
	}
	return model.Promotion{}, false
}

func (s *Server) promoUsableLocked(p model.Promotion) bool {
	if !p.Active {
		return false
	}
	if p.UsageLimit != nil && p.UsedCount >= *p.UsageLimit {
		return false
	}
	today := model.DateOf(s.now())
	if !p.WindowStart.IsZero() && today.Before(p.WindowStart) {
		return false
	}
	if !p.WindowEnd.IsZero() && today.After(p.WindowEnd) {
		return false
	}
	return true
}

func (s *Server) subtotalLocked(items []int64) decimal.Decimal {
	sum := decimal.Zero
	for _, gid := range items {
		sum = sum.Add(s.games[gid].Price)
	}
	return sum
}

func discounted(before decimal.Decimal, p model.Promotion) decimal.Decimal {
	if p.MinSubtotal != nil && before.LessThan(*p.MinSubtotal) {
		return before
	}
	var after decimal.Decimal
	switch p.DiscountKind {
	case model.DiscountPercent:
		after = before.Mul(decimal.NewFromInt(100).Sub(p.DiscountValue)).Div(decimal.NewFromInt(100)).Round(2)
	default:
		after = before.Sub(p.DiscountValue)
	}
	if after.IsNegative() {
		return decimal.Zero
	}
	return after
}

func (s *Server) promoByIDLocked(pid *int64) (model.Promotion, bool) {
	if pid == nil {
		return model.Promotion{}, false
	}
	p, ok := s.promos[strconv.FormatInt(*pid, 10)]
	return p, ok
}

func (s *Server) recalcLocked(o *order) {
	o.before = s.subtotalLocked(o.items)
	o.after = o.before
	if p, ok := s.promoByIDLocked(o.pid); ok && s.promoUsableLocked(p) {
		o.after = discounted(o.before, p)
	}
}

func (s *Server) applyPromo(r *http.Request) (response, *rejection) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, reject(http.StatusBadRequest, "Invalid request body")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, rej := s.draftFromPathLocked(r)
	if rej != nil {
		return nil, rej
	}
	p, ok := s.promoByCodeLocked(req.Code)
	if !ok || !s.promoUsableLocked(p) {
		return nil, reject(http.StatusBadRequest, "Promo code is invalid or expired")
	}
	if p.MinSubtotal != nil && s.subtotalLocked(o.items).LessThan(*p.MinSubtotal) {
		return nil, reject(http.StatusBadRequest, "Order subtotal is below the promo minimum")
	}

	pid, err := strconv.ParseInt(p.ID, 10, 64)
	if err != nil {
		return nil, reject(http.StatusInternalServerError, "Broken promo id")
	}
	o.pid = &pid
	s.recalcLocked(o)
	return response{"order": s.orderJSONLocked(o)}, nil
}

func (s *Server) clearPromo(r *http.Request) (response, *rejection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, rej := s.draftFromPathLocked(r)
	if rej != nil {
		return nil, rej
	}
	if o.pid == nil {
		return nil, reject(http.StatusBadRequest, "No promo applied")
	}
	o.pid = nil
	s.recalcLocked(o)
	return response{"order": s.orderJSONLocked(o)}, nil
}

func (s *Server) recalculate(r *http.Request) (response, *rejection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, rej := s.draftFromPathLocked(r)
	if rej != nil {
		return nil, rej
	}
	s.recalcLocked(o)
	return response{"order": s.orderJSONLocked(o)}, nil
}

func (s *Server) chargeLocked(amount decimal.Decimal) *rejection {
	if s.balance.LessThan(amount) {
		return reject(http.StatusPaymentRequired, "Insufficient wallet balance")
	}
	s.balance = s.balance.Sub(amount)
	return nil
}

func (s *Server) consumePromoLocked(pid *int64) {
	if p, ok := s.promoByIDLocked(pid); ok {
		p.UsedCount++
		s.promos[p.ID] = p
	}
}

func (s *Server) pay(r *http.Request) (response, *rejection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, rej := s.draftFromPathLocked(r)
	if rej != nil {
		return nil, rej
	}
	if len(o.items) == 0 {
		return nil, reject(http.StatusBadRequest, "Order is empty")
	}
	s.recalcLocked(o)
	if rej := s.chargeLocked(o.after); rej != nil {
		return nil, rej
	}
	s.consumePromoLocked(o.pid)
	o.status = model.OrderStatusPaid
	return response{"charged": money(o.after), "order": s.orderJSONLocked(o)}, nil
}

func (s *Server) buyNow(r *http.Request) (response, *rejection) {
	var req struct {
		Games     []int64 `json:"games"`
		PromoCode string  `json:"promoCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, reject(http.StatusBadRequest, "Invalid request body")
	}
	if len(req.Games) == 0 {
		return nil, reject(http.StatusBadRequest, "No games to buy")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, gid := range req.Games {
		if _, ok := s.games[gid]; !ok {
			return nil, reject(http.StatusNotFound, "Game not found")
		}
	}

	s.nextOrder++
	o := &order{id: s.nextOrder, status: model.OrderStatusDraft, items: append([]int64(nil), req.Games...)}
	if req.PromoCode != "" {
		p, ok := s.promoByCodeLocked(req.PromoCode)
		if !ok || !s.promoUsableLocked(p) {
			return nil, reject(http.StatusBadRequest, "Promo code is invalid or expired")
		}
		pid, _ := strconv.ParseInt(p.ID, 10, 64)
		o.pid = &pid
	}
	s.recalcLocked(o)
	if rej := s.chargeLocked(o.after); rej != nil {
		return nil, rej
	}
	s.consumePromoLocked(o.pid)
	o.status = model.OrderStatusPaid
	s.orders[o.id] = o
	return response{"charged": money(o.after), "order": s.orderJSONLocked(o)}, nil
}

func (s *Server) catalog(r *http.Request) (response, *rejection) {
	id, ok := pathID(r, "id")
	if !ok {
		return nil, reject(http.StatusBadRequest, "Invalid game id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[id]
	if !ok {
		return nil, reject(http.StatusNotFound, "Game not found")
	}

	images := make([]response, 0, len(g.Images))
	for _, u := range g.Images {
		images = append(images, response{"url": u})
	}
	cats := make([]response, 0, len(g.Categories))
	for _, c := range g.Categories {
		cats = append(cats, response{"category_name": c})
	}
	return response{"data": response{"gid": g.ID, "name": g.Name, "images": images, "categories": cats}}, nil
}

func (s *Server) requireAdminLocked() *rejection {
	if s.user.Role != model.RoleAdmin {
		return reject(http.StatusForbidden, "Admin only")
	}
	return nil
}

func (s *Server) listPromos(_ *http.Request) (response, *rejection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rej := s.requireAdminLocked(); rej != nil {
		return nil, rej
	}

	data := make([]model.Promotion, 0, len(s.promos))
	for _, p := range s.promos {
		data = append(data, p)
	}
	sort.Slice(data, func(i, j int) bool { return data[i].Code < data[j].Code })
	return response{"data": data}, nil
}

func (s *Server) createPromo(r *http.Request) (response, *rejection) {
	var p model.Promotion
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		return nil, reject(http.StatusBadRequest, "Invalid request body")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rej := s.requireAdminLocked(); rej != nil {
		return nil, rej
	}
	if _, exists := s.promoByCodeLocked(p.Code); exists {
		return nil, reject(http.StatusConflict, fmt.Sprintf("Promo code %s already exists", p.Code))
	}
	p.ID = ""
	return response{"data": s.addPromotionLocked(p)}, nil
}

func (s *Server) updatePromo(r *http.Request) (response, *rejection) {
	var p model.Promotion
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		return nil, reject(http.StatusBadRequest, "Invalid request body")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rej := s.requireAdminLocked(); rej != nil {
		return nil, rej
	}
	id := chi.URLParam(r, "id")
	if _, ok := s.promos[id]; !ok {
		return nil, reject(http.StatusNotFound, "Promo not found")
	}
	p.ID = id
	s.promos[id] = p
	return response{"data": p}, nil
}

func (s *Server) deletePromo(r *http.Request) (response, *rejection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rej := s.requireAdminLocked(); rej != nil {
		return nil, rej
	}
	id := chi.URLParam(r, "id")
	if _, ok := s.promos[id]; !ok {
		return nil, reject(http.StatusNotFound, "Promo not found")
	}
	delete(s.promos, id)
	return nil, nil
}
