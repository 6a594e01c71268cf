// Package session хранит локальный снимок личности, авторизации и кошелька пользователя
// и синхронизирует его между контекстами через шину сигналов.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-sync/internal/bus"
	"github.com/mmeshcher/storefront-sync/internal/model"
	"github.com/mmeshcher/storefront-sync/internal/store"
	"github.com/mmeshcher/storefront-sync/internal/validation"
)

// Ключи долговременного хранилища.
const (
	KeyToken = "token"
	KeyUser  = "user"
)

// TopUpNote подставляется в пополнение кошелька без комментария.
const TopUpNote = "Top-up"

// ErrNoSession возвращается операциями, которым нужен вошедший пользователь.
var ErrNoSession = errors.New("no session")

// errStoreUnavailable помечает сбой чтения хранилища: в отличие от битой записи он не сбрасывает сессию.
var errStoreUnavailable = errors.New("session store unavailable")

// API описывает вызовы удалённого API, которые нужны кэшу сессии.
type API interface {
	Login(ctx context.Context, creds model.Credentials) (model.Session, error)
	Profile(ctx context.Context) (model.Session, error)
	Balance(ctx context.Context) (model.Balance, error)
	TopUp(ctx context.Context, amount decimal.Decimal, note string) error
	ListOrders(ctx context.Context, status model.OrderStatus) ([]model.OrderSummary, error)
}

// Cache хранит сессию текущего контекста. Сессия либо загружена целиком, либо отсутствует.
type Cache struct {
	store  store.Store
	api    API
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	current   *model.Session
	cartCount int

	// Порядковые номера запросов: ответ, начатый раньше уже применённого, отбрасывается.
	balanceSeq, balanceApplied uint64
	cartSeq, cartApplied       uint64

	lifeMu sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	subs   []*bus.Subscription
	wg     sync.WaitGroup
}

// New создаёт кэш сессии. Кэш начинает реагировать на сигналы только после Start.
func New(st store.Store, api API, b *bus.Bus, logger *zap.Logger) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		store:  st,
		api:    api,
		bus:    b,
		logger: logger,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start загружает сессию из хранилища, подтягивает баланс и счётчик корзины и подписывается на сигналы.
func (c *Cache) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.subs != nil {
		return nil
	}
	if c.ctx.Err() != nil {
		return fmt.Errorf("start session cache: %w", store.ErrClosed)
	}

	if s := c.Load(ctx); s != nil {
		c.RefreshBalance(ctx)
		c.RefreshCartCount(ctx)
	}

	reload := func(kind model.SignalKind) {
		c.Load(c.ctx)
		c.async(func(ctx context.Context) {
			c.RefreshBalance(ctx)
			if kind == model.SignalAuthChanged {
				c.RefreshCartCount(ctx)
			}
		})
	}
	c.subs = []*bus.Subscription{
		c.bus.Subscribe(model.SignalAuthChanged, reload),
		c.bus.Subscribe(model.SignalWalletChanged, reload),
		c.bus.Subscribe(model.SignalStorageTouched, reload),
		c.bus.Subscribe(model.SignalCartChanged, func(model.SignalKind) {
			c.async(c.RefreshCartCount)
		}),
	}
	return nil
}

// Close отписывается от сигналов и дожидается фоновых обновлений.
func (c *Cache) Close() {
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

func (c *Cache) async(fn func(ctx context.Context)) {
	if c.ctx.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(c.ctx)
	}()
}

// Load перечитывает сессию из хранилища. Отсутствующая запись, повреждённые данные
// или просроченный токен дают «нет сессии»; ошибка наружу не возвращается.
// Если хранилище недоступно, остаётся последняя известная сессия.
func (c *Cache) Load(ctx context.Context) *model.Session {
	s, err := c.read(ctx)
	if errors.Is(err, errStoreUnavailable) {
		c.logger.Warn("session reload failed, keeping last known state", zap.Error(err))
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.current == nil {
			return nil
		}
		cp := *c.current
		return &cp
	}
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			c.logger.Warn("cached session discarded", zap.Error(err))
		}
		c.mu.Lock()
		c.current = nil
		c.cartCount = 0
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	// Баланс из хранилища мог устареть: для того же пользователя оставляем значение, полученное с сервера.
	if c.current != nil && c.current.PrincipalID == s.PrincipalID {
		s.WalletBalance = c.current.WalletBalance
	}
	c.current = s
	c.mu.Unlock()

	cp := *s
	return &cp
}

func (c *Cache) read(ctx context.Context) (*model.Session, error) {
	token, ok, err := c.store.Get(ctx, KeyToken)
	if err != nil {
		return nil, fmt.Errorf("read token: %w: %w", errStoreUnavailable, err)
	}
	if !ok || token == "" {
		return nil, ErrNoSession
	}

	raw, ok, err := c.store.Get(ctx, KeyUser)
	if err != nil {
		return nil, fmt.Errorf("read user: %w: %w", errStoreUnavailable, err)
	}
	if !ok || raw == "" {
		return nil, ErrNoSession
	}

	var s model.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("parse user: %w", err)
	}
	if s.PrincipalID <= 0 || !s.Role.Valid() {
		return nil, fmt.Errorf("parse user: incomplete record (uid=%d, role=%q)", s.PrincipalID, s.Role)
	}
	if expired(token, c.now()) {
		return nil, errors.New("token expired")
	}

	s.AuthToken = token
	return &s, nil
}

// expired сообщает, что токен является JWT с истёкшим exp.
// Подпись не проверяется: это делает сервер, а здесь важно лишь не показывать заведомо мёртвую сессию.
func expired(token string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && !claims.ExpiresAt.After(now)
}

// Current возвращает копию текущей сессии.
func (c *Cache) Current() (model.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return model.Session{}, false
	}
	return *c.current, true
}

// Token возвращает токен текущей сессии или пустую строку.
func (c *Cache) Token(context.Context) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return ""
	}
	return c.current.AuthToken
}

// CartCount возвращает число позиций в черновике заказа.
func (c *Cache) CartCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cartCount
}

// RefreshBalance запрашивает баланс у сервера. При ошибке остаётся последнее известное значение.
// Баланс не пишется в хранилище, иначе контексты будили бы друг друга бесконечно.
func (c *Cache) RefreshBalance(ctx context.Context) {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return
	}
	uid := c.current.PrincipalID
	c.balanceSeq++
	seq := c.balanceSeq
	c.mu.Unlock()

	b, err := c.api.Balance(ctx)
	if err != nil {
		c.logger.Warn("balance refresh failed, keeping last known value", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq < c.balanceApplied {
		return
	}
	if c.current != nil && c.current.PrincipalID == uid {
		c.current.WalletBalance = b.Amount
		c.balanceApplied = seq
	}
}

// RefreshCartCount пересчитывает значок корзины по черновику заказа на сервере.
func (c *Cache) RefreshCartCount(ctx context.Context) {
	c.mu.Lock()
	c.cartSeq++
	seq := c.cartSeq
	if c.current == nil {
		c.cartCount = 0
		c.cartApplied = seq
		c.mu.Unlock()
		return
	}
	uid := c.current.PrincipalID
	c.mu.Unlock()

	drafts, err := c.api.ListOrders(ctx, model.OrderStatusDraft)
	if err != nil {
		c.logger.Warn("cart count refresh failed", zap.Error(err))
		return
	}

	count := 0
	if len(drafts) > 0 {
		count = drafts[0].ItemsCount
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq < c.cartApplied {
		return
	}
	if c.current != nil && c.current.PrincipalID == uid {
		c.cartCount = count
		c.cartApplied = seq
	}
}

func (c *Cache) save(ctx context.Context, s model.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	if err := c.store.Set(ctx, KeyToken, s.AuthToken); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	if err := c.store.Set(ctx, KeyUser, string(raw)); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// SignIn выполняет вход, сохраняет сессию и сообщает об этом остальным контекстам.
func (c *Cache) SignIn(ctx context.Context, creds model.Credentials) (model.Session, error) {
	s, err := c.api.Login(ctx, creds)
	if err != nil {
		return model.Session{}, fmt.Errorf("sign in: %w", err)
	}
	if s.AuthToken == "" || s.PrincipalID <= 0 {
		return model.Session{}, errors.New("sign in: server returned an incomplete session")
	}

	if err := c.save(ctx, s); err != nil {
		return model.Session{}, fmt.Errorf("sign in: %w", err)
	}

	c.mu.Lock()
	cp := s
	c.current = &cp
	c.mu.Unlock()

	c.logger.Info("signed in", zap.Int64("uid", s.PrincipalID), zap.String("role", string(s.Role)))
	c.bus.Publish(model.SignalAuthChanged)
	return s, nil
}

// SignOut удаляет сессию из хранилища, обнуляет корзину и оповещает все контексты.
func (c *Cache) SignOut(ctx context.Context) {
	for _, key := range []string{KeyToken, KeyUser} {
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("sign out: delete key failed", zap.String("key", key), zap.Error(err))
		}
	}

	c.mu.Lock()
	c.current = nil
	c.cartCount = 0
	c.mu.Unlock()

	c.bus.Publish(model.SignalAuthChanged)
	c.bus.Publish(model.SignalCartChanged)
}

// TopUp пополняет кошелёк и возвращает новый баланс.
func (c *Cache) TopUp(ctx context.Context, amount decimal.Decimal, note string) (decimal.Decimal, error) {
	if err := validation.Amount(amount); err != nil {
		return decimal.Zero, err
	}
	if _, ok := c.Current(); !ok {
		return decimal.Zero, ErrNoSession
	}
	if note == "" {
		note = TopUpNote
	}

	if err := c.api.TopUp(ctx, amount, note); err != nil {
		return decimal.Zero, fmt.Errorf("top up: %w", err)
	}

	c.RefreshBalance(ctx)
	s, _ := c.Current()

	c.bus.Publish(model.SignalWalletChanged)
	c.bus.Publish(model.SignalAuthChanged)
	return s.WalletBalance, nil
}

// RefreshProfile перечитывает профиль с сервера и сохраняет его, не трогая токен.
func (c *Cache) RefreshProfile(ctx context.Context) (model.Session, error) {
	cur, ok := c.Current()
	if !ok {
		return model.Session{}, ErrNoSession
	}

	s, err := c.api.Profile(ctx)
	if err != nil {
		return model.Session{}, fmt.Errorf("refresh profile: %w", err)
	}
	s.AuthToken = cur.AuthToken

	if err := c.save(ctx, s); err != nil {
		c.logger.Warn("profile not persisted", zap.Error(err))
	}

	c.mu.Lock()
	cp := s
	c.current = &cp
	c.mu.Unlock()
	return s, nil
}
