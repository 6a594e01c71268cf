// Package order управляет черновиком заказа пользователя: позициями, промокодом, итогами и оплатой.
// Сервер остаётся источником истины, локально хранится только последний подтверждённый снимок.
package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-sync/internal/api"
	"github.com/mmeshcher/storefront-sync/internal/bus"
	"github.com/mmeshcher/storefront-sync/internal/derived"
	"github.com/mmeshcher/storefront-sync/internal/model"
	"github.com/mmeshcher/storefront-sync/internal/promo"
)

var (
	// ErrNoDraft возвращается операциями, которым нужен черновик заказа.
	ErrNoDraft = errors.New("no draft order")
	// ErrEmptyCart возвращается при попытке оплатить пустой черновик.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrEmptyPromoCode возвращается для пустого промокода, запрос на сервер не отправляется.
	ErrEmptyPromoCode = errors.New("promo code is empty")
)

// API описывает вызовы удалённого API заказов.
type API interface {
	ListOrders(ctx context.Context, status model.OrderStatus) ([]model.OrderSummary, error)
	GetOrder(ctx context.Context, orderID int64) (*model.DraftOrder, error)
	CreateOrder(ctx context.Context) (*model.DraftOrder, error)
	AddItem(ctx context.Context, orderID, itemID int64) error
	RemoveItem(ctx context.Context, orderID, itemID int64) error
	ApplyPromo(ctx context.Context, orderID int64, code string) error
	ClearPromo(ctx context.Context, orderID int64) error
	Recalculate(ctx context.Context, orderID int64) (model.Totals, error)
	Pay(ctx context.Context, orderID int64) (api.Receipt, error)
	BuyNow(ctx context.Context, itemIDs []int64, promoCode string) (api.Receipt, error)
}

// View описывает состояние корзины для отображения.
type View struct {
	OrderID        int64             `json:"order_id,omitempty"`
	Status         model.OrderStatus `json:"status,omitempty"`
	Items          []Item            `json:"items"`
	AppliedPromoID *int64            `json:"applied_promo_id,omitempty"`
	PromoCode      string            `json:"promo_code,omitempty"`
	// PreviewTotal считается локально и служит только подсказкой.
	PreviewTotal decimal.Decimal `json:"preview_total"`
	// Confirmed содержит последние итоги, полученные от сервера.
	Confirmed model.Totals    `json:"confirmed"`
	Discount  decimal.Decimal `json:"discount"`
}

// Item описывает позицию корзины для отображения.
type Item struct {
	CatalogItemID int64           `json:"id"`
	DisplayName   string          `json:"name"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	ImageRef      string          `json:"image"`
	CategoryLabel string          `json:"category,omitempty"`
}

// Controller ведёт черновик заказа одного контекста.
type Controller struct {
	api    API
	bus    *bus.Bus
	extras *derived.CatalogExtras
	logger *zap.Logger

	// ensureMu упорядочивает поиск и создание черновика: не более одного POST /orders на контекст.
	ensureMu sync.Mutex

	mu        sync.Mutex
	draft     *model.DraftOrder
	preview   decimal.Decimal
	confirmed model.Totals
	promoCode string
	promoSeq  uint64
	seq       uint64
	applied   uint64

	lifeMu sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	subs   []*bus.Subscription
	wg     sync.WaitGroup
}

// NewController создаёт контроллер черновика. extras может быть nil, тогда позиции не обогащаются.
func NewController(orders API, b *bus.Bus, extras *derived.CatalogExtras, logger *zap.Logger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		api:    orders,
		bus:    b,
		extras: extras,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start загружает черновик и подписывается на сигналы, после которых корзину нужно перечитать.
func (c *Controller) Start(ctx context.Context) {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.subs != nil || c.ctx.Err() != nil {
		return
	}

	if err := c.Reload(ctx); err != nil {
		c.logger.Info("initial cart load failed", zap.Error(err))
	}

	reload := func(kind model.SignalKind) {
		c.async(func(ctx context.Context) {
			if err := c.Reload(ctx); err != nil {
				c.logger.Debug("cart reload after signal failed", zap.String("kind", string(kind)), zap.Error(err))
			}
		})
	}
	c.subs = []*bus.Subscription{
		c.bus.Subscribe(model.SignalCartChanged, reload),
		c.bus.Subscribe(model.SignalOrderPaid, reload),
		c.bus.Subscribe(model.SignalAuthChanged, reload),
	}
}

// Close отписывается от сигналов и дожидается фоновых перезагрузок.
func (c *Controller) Close() {
	c.lifeMu.Lock()
	subs := c.subs
	c.subs = nil
	c.lifeMu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	c.cancel()
	c.wg.Wait()
}

func (c *Controller) async(fn func(ctx context.Context)) {
	if c.ctx.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(c.ctx)
	}()
}

func (c *Controller) next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// apply применяет ответ сервера, если с момента его запроса не был применён более свежий ответ.
func (c *Controller) apply(seq uint64, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq < c.applied {
		c.logger.Debug("stale order response discarded", zap.Uint64("seq", seq), zap.Uint64("applied", c.applied))
		return false
	}
	c.applied = seq
	fn()
	return true
}

// setDraftLocked заменяет снимок черновика ответом, запрошенным под номером seq.
// Введённый код промокода сервер не возвращает, поэтому он забывается, только если
// ответ запрошен после применения кода.
func (c *Controller) setDraftLocked(seq uint64, o *model.DraftOrder) {
	if o == nil || o.AppliedPromoID == nil {
		if seq > c.promoSeq {
			c.promoCode = ""
		}
	}
	if o == nil {
		c.draft = nil
		c.preview = decimal.Zero
		c.confirmed = model.Totals{}
		return
	}
	c.draft = o
	c.confirmed = model.Totals{Before: o.TotalBefore, After: o.TotalAfter}
	c.preview = o.TotalAfter
}

func (c *Controller) current() *model.DraftOrder {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draft == nil || c.draft.Status != model.OrderStatusDraft {
		return nil
	}
	cp := *c.draft
	cp.Items = append([]model.OrderItem(nil), c.draft.Items...)
	return &cp
}

// Reload перечитывает черновик с сервера. При ошибке сохраняется прежнее состояние,
// кроме отказа в авторизации: без сессии корзины нет.
func (c *Controller) Reload(ctx context.Context) error {
	seq := c.next()

	o, err := c.fetchDraft(ctx)
	if err != nil {
		var rej *api.RejectedError
		if errors.As(err, &rej) && rej.StatusCode == http.StatusUnauthorized {
			c.apply(seq, func() { c.setDraftLocked(seq, nil) })
		}
		return fmt.Errorf("reload order: %w", err)
	}

	c.apply(seq, func() { c.setDraftLocked(seq, o) })
	return nil
}

func (c *Controller) fetchDraft(ctx context.Context) (*model.DraftOrder, error) {
	drafts, err := c.api.ListOrders(ctx, model.OrderStatusDraft)
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, nil
	}
	return c.api.GetOrder(ctx, drafts[0].OrderID)
}

// ensureDraft возвращает идентификатор черновика, при необходимости находя или создавая его.
// Перед созданием всегда выполняется поиск: черновик мог создать другой контекст.
func (c *Controller) ensureDraft(ctx context.Context) (int64, error) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()

	if d := c.current(); d != nil {
		return d.OrderID, nil
	}

	seq := c.next()
	o, err := c.fetchDraft(ctx)
	if err != nil {
		return 0, fmt.Errorf("find draft: %w", err)
	}
	if o == nil {
		o, err = c.api.CreateOrder(ctx)
		if err != nil {
			return 0, fmt.Errorf("create draft: %w", err)
		}
		c.logger.Info("draft order created", zap.Int64("order_id", o.OrderID))
	}

	c.apply(seq, func() { c.setDraftLocked(seq, o) })
	return o.OrderID, nil
}

// resync перечитывает состояние после неудачной мутации, не пытаясь угадать результат.
func (c *Controller) resync(ctx context.Context, op string, cause error) {
	c.logger.Warn(op+" failed, reloading order", zap.Error(cause))
	if err := c.Reload(ctx); err != nil {
		c.logger.Warn("reload after failure failed", zap.Error(err))
	}
}

// AddItem добавляет позицию каталога в черновик, создавая его при необходимости.
func (c *Controller) AddItem(ctx context.Context, itemID int64) error {
	orderID, err := c.ensureDraft(ctx)
	if err != nil {
		return fmt.Errorf("add item %d: %w", itemID, err)
	}

	if err := c.api.AddItem(ctx, orderID, itemID); err != nil {
		c.resync(ctx, "add item", err)
		return fmt.Errorf("add item %d: %w", itemID, err)
	}

	if err := c.Reload(ctx); err != nil {
		c.logger.Warn("reload after add failed", zap.Error(err))
	}
	c.bus.Publish(model.SignalCartChanged)
	return nil
}

// RemoveItem удаляет позицию. Отсутствующая позиция игнорируется без запроса к серверу.
func (c *Controller) RemoveItem(ctx context.Context, itemID int64) error {
	d := c.current()
	if d == nil || !containsItem(d.Items, itemID) {
		return nil
	}

	if err := c.api.RemoveItem(ctx, d.OrderID, itemID); err != nil {
		c.resync(ctx, "remove item", err)
		return fmt.Errorf("remove item %d: %w", itemID, err)
	}

	c.mu.Lock()
	if c.draft != nil && c.draft.OrderID == d.OrderID {
		kept := make([]model.OrderItem, 0, len(c.draft.Items))
		for _, it := range c.draft.Items {
			if it.CatalogItemID != itemID {
				kept = append(kept, it)
			}
		}
		c.draft.Items = kept
		c.preview = scaledPreview(subtotal(kept), c.confirmed)
	}
	c.mu.Unlock()

	c.bus.Publish(model.SignalCartChanged)

	if _, err := c.Recalculate(ctx); err != nil {
		c.logger.Warn("recalculate after remove failed", zap.Error(err))
	}
	return nil
}

// ApplyPromo применяет промокод. Отказ сервера возвращается как *api.RejectedError с его сообщением.
func (c *Controller) ApplyPromo(ctx context.Context, code string) error {
	code = promo.NormalizeCode(code)
	if code == "" {
		return ErrEmptyPromoCode
	}

	d := c.current()
	if d == nil {
		return ErrNoDraft
	}

	if err := c.api.ApplyPromo(ctx, d.OrderID, code); err != nil {
		c.resync(ctx, "apply promo", err)
		return fmt.Errorf("apply promo %s: %w", code, err)
	}

	c.mu.Lock()
	c.seq++
	c.promoSeq = c.seq
	c.promoCode = code
	c.mu.Unlock()

	if err := c.Reload(ctx); err != nil {
		c.logger.Warn("reload after promo failed", zap.Error(err))
	}
	if _, err := c.Recalculate(ctx); err != nil {
		c.logger.Warn("recalculate after promo failed", zap.Error(err))
	}
	c.bus.Publish(model.SignalCartChanged)
	return nil
}

// ClearPromo снимает промокод. Повторный вызов и вызов без черновика ничего не делают.
func (c *Controller) ClearPromo(ctx context.Context) error {
	d := c.current()
	if d == nil {
		return nil
	}

	c.mu.Lock()
	nothingApplied := d.AppliedPromoID == nil && c.promoCode == ""
	c.mu.Unlock()

	if err := c.api.ClearPromo(ctx, d.OrderID); err != nil {
		if nothingApplied && errors.Is(err, api.ErrRejected) {
			return nil
		}
		c.resync(ctx, "clear promo", err)
		return fmt.Errorf("clear promo: %w", err)
	}

	c.mu.Lock()
	c.promoCode = ""
	if c.draft != nil && c.draft.OrderID == d.OrderID {
		c.draft.AppliedPromoID = nil
	}
	c.mu.Unlock()

	if _, err := c.Recalculate(ctx); err != nil {
		c.logger.Warn("recalculate after clearing promo failed", zap.Error(err))
	}
	c.bus.Publish(model.SignalCartChanged)
	return nil
}

// Recalculate запрашивает у сервера итоги черновика и заменяет ими подтверждённые суммы.
func (c *Controller) Recalculate(ctx context.Context) (model.Totals, error) {
	d := c.current()
	if d == nil {
		return model.Totals{}, ErrNoDraft
	}

	seq := c.next()
	t, err := c.api.Recalculate(ctx, d.OrderID)
	if err != nil {
		c.resync(ctx, "recalculate", err)
		return model.Totals{}, fmt.Errorf("recalculate: %w", err)
	}

	c.apply(seq, func() {
		if c.draft == nil || c.draft.OrderID != d.OrderID {
			return
		}
		c.draft.TotalBefore, c.draft.TotalAfter = t.Before, t.After
		c.confirmed = t
		c.preview = t.After
	})
	return t, nil
}

// Pay оплачивает черновик. После успеха корзина пуста, итоги обнулены, а все контексты
// получают по одному сигналу об изменении кошелька, сессии, корзины и об оплате.
func (c *Controller) Pay(ctx context.Context) (api.Receipt, error) {
	d := c.current()
	if d == nil {
		return api.Receipt{}, ErrNoDraft
	}
	if len(d.Items) == 0 {
		return api.Receipt{}, ErrEmptyCart
	}

	rec, err := c.api.Pay(ctx, d.OrderID)
	if err != nil {
		c.resync(ctx, "pay", err)
		return api.Receipt{}, fmt.Errorf("pay order %d: %w", d.OrderID, err)
	}

	c.mu.Lock()
	c.seq++
	c.applied = c.seq
	c.draft = &model.DraftOrder{OrderID: d.OrderID, Status: model.OrderStatusPaid}
	c.preview = decimal.Zero
	c.confirmed = model.Totals{}
	c.promoCode = ""
	c.mu.Unlock()

	c.logger.Info("order paid", zap.Int64("order_id", rec.OrderID), zap.String("charged", rec.Charged.StringFixed(2)))

	c.bus.Publish(model.SignalWalletChanged)
	c.bus.Publish(model.SignalAuthChanged)
	c.bus.Publish(model.SignalCartChanged)
	c.bus.Publish(model.SignalOrderPaid)
	return rec, nil
}

// BuyNow покупает одну позицию в обход черновика.
func (c *Controller) BuyNow(ctx context.Context, itemID int64, code string) (api.Receipt, error) {
	rec, err := c.api.BuyNow(ctx, []int64{itemID}, promo.NormalizeCode(code))
	if err != nil {
		return api.Receipt{}, fmt.Errorf("buy item %d: %w", itemID, err)
	}

	c.logger.Info("item bought", zap.Int64("item_id", itemID), zap.String("charged", rec.Charged.StringFixed(2)))

	c.bus.Publish(model.SignalWalletChanged)
	c.bus.Publish(model.SignalAuthChanged)
	return rec, nil
}

// View возвращает снимок корзины. Недостающие обложки и категории берутся из кэша каталога.
func (c *Controller) View() View {
	c.mu.Lock()
	v := View{
		PreviewTotal: c.preview,
		Confirmed:    c.confirmed,
		PromoCode:    c.promoCode,
		Items:        []Item{},
	}
	var items []model.OrderItem
	if c.draft != nil {
		v.OrderID = c.draft.OrderID
		v.Status = c.draft.Status
		v.AppliedPromoID = c.draft.AppliedPromoID
		items = append(items, c.draft.Items...)
	}
	c.mu.Unlock()

	v.Discount = v.Confirmed.Discount()
	for _, it := range items {
		item := Item{
			CatalogItemID: it.CatalogItemID,
			DisplayName:   it.DisplayName,
			UnitPrice:     it.UnitPrice,
			ImageRef:      it.ImageRef,
			CategoryLabel: it.CategoryLabel,
		}
		if c.extras != nil && (item.ImageRef == "" || item.CategoryLabel == "") {
			extras := c.extras.Get(it.CatalogItemID)
			if item.ImageRef == "" {
				item.ImageRef = extras.ImageRef
			}
			if item.CategoryLabel == "" {
				item.CategoryLabel = extras.CategoryLabel
			}
		}
		v.Items = append(v.Items, item)
	}
	return v
}

func containsItem(items []model.OrderItem, itemID int64) bool {
	for _, it := range items {
		if it.CatalogItemID == itemID {
			return true
		}
	}
	return false
}

// scaledPreview переносит долю скидки из последних подтверждённых итогов на новую сумму.
// Точную сумму для фиксированной скидки вернёт пересчёт на сервере.
func scaledPreview(sum decimal.Decimal, confirmed model.Totals) decimal.Decimal {
	if !confirmed.Before.IsPositive() || confirmed.Discount().IsZero() {
		return sum
	}
	return sum.Mul(confirmed.After).Div(confirmed.Before).Round(2)
}

func subtotal(items []model.OrderItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.UnitPrice)
	}
	return sum
}
