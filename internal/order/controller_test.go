package order

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-sync/internal/api"
	"github.com/mmeshcher/storefront-sync/internal/api/apitest"
	"github.com/mmeshcher/storefront-sync/internal/bus"
	"github.com/mmeshcher/storefront-sync/internal/derived"
	"github.com/mmeshcher/storefront-sync/internal/model"
	"github.com/mmeshcher/storefront-sync/internal/store"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newServer(t *testing.T) *apitest.Server {
	t.Helper()
	srv := apitest.New()
	t.Cleanup(srv.Close)

	srv.AddGame(apitest.Game{ID: 1, Name: "Hades", Price: dec("20.00"), Genre: "Roguelike", Images: []string{"https://cdn/hades.jpg"}})
	srv.AddGame(apitest.Game{ID: 2, Name: "Celeste", Price: dec("10.00"), Categories: []string{"Platformer", "Indie"}})
	srv.AddGame(apitest.Game{ID: 3, Name: "Tunic", Price: dec("30.00")})
	return srv
}

func newClient(srv *apitest.Server) *api.Client {
	token := srv.Token()
	c := api.NewClient(srv.URL)
	c.SetTokenFunc(func(context.Context) string { return token })
	return c
}

func newController(t *testing.T, srv *apitest.Server, profile *store.MemoryProfile) (*Controller, *bus.Bus) {
	t.Helper()

	st := profile.Open()
	b := bus.New(st, uuid.NewString(), zap.NewNop())
	require.NoError(t, b.Start(context.Background()))

	client := newClient(srv)
	extras := derived.NewCatalogExtras(client, "", zap.NewNop())
	c := NewController(client, b, extras, zap.NewNop())
	c.Start(context.Background())

	t.Cleanup(func() {
		c.Close()
		extras.Close()
		b.Close()
		st.Close()
	})
	return c, b
}

func itemIDs(v View) []int64 {
	ids := make([]int64, 0, len(v.Items))
	for _, it := range v.Items {
		ids = append(ids, it.CatalogItemID)
	}
	return ids
}

func TestAddItem_CreatesDraftOnce(t *testing.T) {
	srv := newServer(t)
	for id := int64(10); id < 20; id++ {
		srv.AddGame(apitest.Game{ID: id, Name: "Game", Price: dec("1.00")})
	}
	c, _ := newController(t, srv, store.NewMemoryProfile())

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for id := int64(10); id < 20; id++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			errs <- c.AddItem(context.Background(), id)
		}(id)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, srv.Calls("POST /orders"))
	assert.Equal(t, 1, srv.Orders(model.OrderStatusDraft))
	assert.Len(t, srv.DraftItems(), 10)

	require.NoError(t, c.Reload(context.Background()))
	v := c.View()
	assert.Len(t, v.Items, 10)
	assert.True(t, v.Confirmed.Before.Equal(dec("10")), "before = %s", v.Confirmed.Before)
}

func TestAddItem_ReusesExistingDraft(t *testing.T) {
	srv := newServer(t)

	existing, err := newClient(srv).CreateOrder(context.Background())
	require.NoError(t, err)

	c, _ := newController(t, srv, store.NewMemoryProfile())
	require.NoError(t, c.AddItem(context.Background(), 1))

	assert.Equal(t, 1, srv.Calls("POST /orders"))
	v := c.View()
	assert.Equal(t, existing.OrderID, v.OrderID)
	assert.Equal(t, []int64{1}, itemIDs(v))
	assert.True(t, v.Confirmed.After.Equal(dec("20")))
}

func TestAddItem_RejectedReloads(t *testing.T) {
	srv := newServer(t)
	c, _ := newController(t, srv, store.NewMemoryProfile())

	require.NoError(t, c.AddItem(context.Background(), 1))

	err := c.AddItem(context.Background(), 99)
	var rej *api.RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "Game not found", rej.Message)
	assert.Equal(t, []int64{1}, itemIDs(c.View()))
}

func TestRemoveItem(t *testing.T) {
	srv := newServer(t)
	c, _ := newController(t, srv, store.NewMemoryProfile())
	ctx := context.Background()

	require.NoError(t, c.RemoveItem(ctx, 1))
	assert.Zero(t, srv.Calls("DELETE /orders/{id}/items/{gid}"))

	require.NoError(t, c.AddItem(ctx, 1))
	require.NoError(t, c.AddItem(ctx, 2))

	require.NoError(t, c.RemoveItem(ctx, 3))
	assert.Zero(t, srv.Calls("DELETE /orders/{id}/items/{gid}"))

	require.NoError(t, c.RemoveItem(ctx, 1))
	assert.Equal(t, 1, srv.Calls("DELETE /orders/{id}/items/{gid}"))

	v := c.View()
	assert.Equal(t, []int64{2}, itemIDs(v))
	assert.True(t, v.PreviewTotal.Equal(dec("10")), "preview = %s", v.PreviewTotal)
	assert.True(t, v.Confirmed.After.Equal(dec("10")), "confirmed = %s", v.Confirmed.After)
	assert.Equal(t, []int64{2}, srv.DraftItems())
}

func addPromos(srv *apitest.Server) {
	srv.AddPromotion(model.Promotion{Code: "TENOFF", DiscountKind: model.DiscountPercent, DiscountValue: dec("10"), Active: true})
	srv.AddPromotion(model.Promotion{Code: "OLD", DiscountKind: model.DiscountFixed, DiscountValue: dec("5"), Active: true, WindowEnd: "2000-01-01"})
}

func TestApplyPromo(t *testing.T) {
	srv := newServer(t)
	addPromos(srv)
	c, _ := newController(t, srv, store.NewMemoryProfile())
	ctx := context.Background()

	require.ErrorIs(t, c.ApplyPromo(ctx, "TENOFF"), ErrNoDraft)

	require.NoError(t, c.AddItem(ctx, 1))
	require.NoError(t, c.AddItem(ctx, 3))

	require.ErrorIs(t, c.ApplyPromo(ctx, "   "), ErrEmptyPromoCode)
	assert.Zero(t, srv.Calls("POST /orders/{id}/apply-promo"))

	err := c.ApplyPromo(ctx, "OLD")
	require.ErrorIs(t, err, api.ErrRejected)
	assert.Equal(t, "Promo code is invalid or expired", api.UserMessage(err))
	assert.True(t, c.View().Confirmed.After.Equal(dec("50")))

	require.NoError(t, c.ApplyPromo(ctx, " tenoff "))
	v := c.View()
	assert.Equal(t, "TENOFF", v.PromoCode)
	require.NotNil(t, v.AppliedPromoID)
	assert.True(t, v.Confirmed.Before.Equal(dec("50")), "before = %s", v.Confirmed.Before)
	assert.True(t, v.Confirmed.After.Equal(dec("45")), "after = %s", v.Confirmed.After)
	assert.True(t, v.Discount.Equal(dec("5")), "discount = %s", v.Discount)
	assert.GreaterOrEqual(t, srv.Calls("POST /orders/{id}/recalculate"), 1)
}

func TestClearPromo_Idempotent(t *testing.T) {
	srv := newServer(t)
	addPromos(srv)
	c, _ := newController(t, srv, store.NewMemoryProfile())
	ctx := context.Background()

	require.NoError(t, c.ClearPromo(ctx))
	assert.Zero(t, srv.Calls("POST /orders/{id}/clear-promo"))

	require.NoError(t, c.AddItem(ctx, 1))

	require.NoError(t, c.ClearPromo(ctx))
	require.NoError(t, c.ClearPromo(ctx))

	require.NoError(t, c.ApplyPromo(ctx, "TENOFF"))
	require.True(t, c.View().Confirmed.After.Equal(dec("18")))

	require.NoError(t, c.ClearPromo(ctx))
	v := c.View()
	assert.Nil(t, v.AppliedPromoID)
	assert.Empty(t, v.PromoCode)
	assert.True(t, v.Confirmed.After.Equal(dec("20")))

	require.NoError(t, c.ClearPromo(ctx))
	assert.True(t, c.View().Confirmed.After.Equal(dec("20")))
}

type signalCounter struct {
	mu     sync.Mutex
	counts map[model.SignalKind]int
	order  []model.SignalKind
}

func countSignals(b *bus.Bus) *signalCounter {
	sc := &signalCounter{counts: make(map[model.SignalKind]int)}
	b.SubscribeAll(func(kind model.SignalKind) {
		sc.mu.Lock()
		defer sc.mu.Unlock()
		sc.counts[kind]++
		sc.order = append(sc.order, kind)
	})
	return sc
}

func (sc *signalCounter) get(kind model.SignalKind) int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.counts[kind]
}

func (sc *signalCounter) sequence() []model.SignalKind {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return append([]model.SignalKind(nil), sc.order...)
}

func TestPay(t *testing.T) {
	srv := newServer(t)
	srv.SetBalance(dec("100"))
	profile := store.NewMemoryProfile()

	c, local := newController(t, srv, profile)
	_, other := newController(t, srv, profile)
	ctx := context.Background()

	otherSignals := countSignals(other)

	require.NoError(t, c.AddItem(ctx, 1))
	require.NoError(t, c.AddItem(ctx, 2))

	localSignals := countSignals(local)

	rec, err := c.Pay(ctx)
	require.NoError(t, err)
	assert.True(t, rec.Charged.Equal(dec("30")), "charged = %s", rec.Charged)
	assert.True(t, srv.Balance().Equal(dec("70")))

	v := c.View()
	assert.Empty(t, v.Items)
	assert.True(t, v.PreviewTotal.IsZero())
	assert.True(t, v.Confirmed.Before.IsZero())
	assert.True(t, v.Confirmed.After.IsZero())

	want := []model.SignalKind{
		model.SignalWalletChanged,
		model.SignalAuthChanged,
		model.SignalCartChanged,
		model.SignalOrderPaid,
	}
	assert.Equal(t, want, localSignals.sequence())

	// Две добавления и оплата: в другом контексте три CART_CHANGED и по одному остальному сигналу.
	wantOther := map[model.SignalKind]int{
		model.SignalWalletChanged: 1,
		model.SignalAuthChanged:   1,
		model.SignalCartChanged:   3,
		model.SignalOrderPaid:     1,
	}
	for kind, n := range wantOther {
		kind, n := kind, n
		require.Eventually(t, func() bool { return otherSignals.get(kind) == n }, waitFor, tick, "kind %s", kind)
	}
	time.Sleep(50 * time.Millisecond)
	for kind, n := range wantOther {
		assert.Equal(t, n, otherSignals.get(kind), "kind %s", kind)
	}

	require.NoError(t, c.AddItem(ctx, 3))
	assert.Equal(t, 2, srv.Calls("POST /orders"))
	assert.Equal(t, []int64{3}, itemIDs(c.View()))
}

func TestPay_RejectedKeepsCart(t *testing.T) {
	srv := newServer(t)
	srv.SetBalance(dec("5"))
	c, b := newController(t, srv, store.NewMemoryProfile())
	ctx := context.Background()

	_, err := c.Pay(ctx)
	require.ErrorIs(t, err, ErrNoDraft)

	require.NoError(t, c.AddItem(ctx, 1))
	signals := countSignals(b)

	_, err = c.Pay(ctx)
	require.ErrorIs(t, err, api.ErrRejected)
	assert.Equal(t, "Insufficient wallet balance", api.UserMessage(err))
	assert.Empty(t, signals.sequence())
	assert.Equal(t, []int64{1}, itemIDs(c.View()))
	assert.True(t, srv.Balance().Equal(dec("5")))
}

func TestBuyNow(t *testing.T) {
	srv := newServer(t)
	srv.SetBalance(dec("50"))
	c, b := newController(t, srv, store.NewMemoryProfile())
	signals := countSignals(b)

	rec, err := c.BuyNow(context.Background(), 3, "")
	require.NoError(t, err)
	assert.True(t, rec.Charged.Equal(dec("30")))
	assert.True(t, srv.Balance().Equal(dec("20")))
	assert.Equal(t, []model.SignalKind{model.SignalWalletChanged, model.SignalAuthChanged}, signals.sequence())
	assert.Empty(t, c.View().Items)
}

func TestWatch_OtherContextChanges(t *testing.T) {
	srv := newServer(t)
	profile := store.NewMemoryProfile()

	a, _ := newController(t, srv, profile)
	b, _ := newController(t, srv, profile)

	require.NoError(t, b.AddItem(context.Background(), 2))

	require.Eventually(t, func() bool {
		ids := itemIDs(a.View())
		return len(ids) == 1 && ids[0] == 2
	}, waitFor, tick)
}

func TestView_EnrichesFromCatalog(t *testing.T) {
	srv := newServer(t)
	c, _ := newController(t, srv, store.NewMemoryProfile())

	require.NoError(t, c.AddItem(context.Background(), 1))
	require.NoError(t, c.AddItem(context.Background(), 2))

	first := c.View()
	require.Len(t, first.Items, 2)
	assert.Equal(t, "https://cdn/hades.jpg", first.Items[0].ImageRef)
	assert.Equal(t, "Roguelike", first.Items[0].CategoryLabel)
	assert.Equal(t, derived.DefaultCoverURL, first.Items[1].ImageRef)

	require.Eventually(t, func() bool {
		return c.View().Items[1].CategoryLabel == "Platformer, Indie"
	}, waitFor, tick)
	assert.Equal(t, 1, srv.Calls("GET /catalog/{id}"))
}

func TestReload_UnauthorizedClearsCart(t *testing.T) {
	srv := newServer(t)
	c, _ := newController(t, srv, store.NewMemoryProfile())

	require.NoError(t, c.AddItem(context.Background(), 1))
	srv.SetToken("rotated")

	err := c.Reload(context.Background())
	require.ErrorIs(t, err, api.ErrRejected)
	assert.Empty(t, c.View().Items)
	assert.Zero(t, c.View().OrderID)
}

type stubOrders struct {
	mu          sync.Mutex
	recalcCalls int
	recalc      func(call int) (model.Totals, error)
}

func (s *stubOrders) ListOrders(ctx context.Context, status model.OrderStatus) ([]model.OrderSummary, error) {
	return []model.OrderSummary{{OrderID: 1, Status: model.OrderStatusDraft, ItemsCount: 1}}, nil
}

func (s *stubOrders) GetOrder(ctx context.Context, orderID int64) (*model.DraftOrder, error) {
	return &model.DraftOrder{
		OrderID:     orderID,
		Status:      model.OrderStatusDraft,
		Items:       []model.OrderItem{{CatalogItemID: 1, UnitPrice: dec("5"), ImageRef: "x", CategoryLabel: "y"}},
		TotalBefore: dec("5"),
		TotalAfter:  dec("5"),
	}, nil
}

func (s *stubOrders) CreateOrder(ctx context.Context) (*model.DraftOrder, error) {
	return nil, errors.New("unexpected create")
}

func (s *stubOrders) AddItem(ctx context.Context, orderID, itemID int64) error { return nil }

func (s *stubOrders) RemoveItem(ctx context.Context, orderID, itemID int64) error { return nil }

func (s *stubOrders) ApplyPromo(ctx context.Context, orderID int64, code string) error { return nil }

func (s *stubOrders) ClearPromo(ctx context.Context, orderID int64) error { return nil }

func (s *stubOrders) Recalculate(ctx context.Context, orderID int64) (model.Totals, error) {
	s.mu.Lock()
	s.recalcCalls++
	call := s.recalcCalls
	s.mu.Unlock()
	return s.recalc(call)
}

func (s *stubOrders) Pay(ctx context.Context, orderID int64) (api.Receipt, error) {
	return api.Receipt{}, nil
}

func (s *stubOrders) BuyNow(ctx context.Context, itemIDs []int64, promoCode string) (api.Receipt, error) {
	return api.Receipt{}, nil
}

func TestRecalculate_StaleResponseDiscarded(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	stub := &stubOrders{recalc: func(call int) (model.Totals, error) {
		if call == 1 {
			close(entered)
			<-release
			return model.Totals{Before: dec("100"), After: dec("100")}, nil
		}
		return model.Totals{Before: dec("100"), After: dec("80")}, nil
	}}

	c := NewController(stub, bus.New(nil, "x", zap.NewNop()), nil, zap.NewNop())
	defer c.Close()
	require.NoError(t, c.Reload(context.Background()))

	var slow atomic.Value
	done := make(chan struct{})
	go func() {
		defer close(done)
		totals, err := c.Recalculate(context.Background())
		if err == nil {
			slow.Store(totals)
		}
	}()

	<-entered
	fresh, err := c.Recalculate(context.Background())
	require.NoError(t, err)
	assert.True(t, fresh.After.Equal(dec("80")))

	close(release)
	<-done

	assert.NotNil(t, slow.Load())
	assert.True(t, c.View().Confirmed.After.Equal(dec("80")), "confirmed = %s", c.View().Confirmed.After)
}

// recordingAPI хранит черновик в памяти и записывает порядок вызовов.
type recordingAPI struct {
	mu     sync.Mutex
	calls  []string
	draft  *model.DraftOrder
	nextID int64

	totals     model.Totals
	recalcGate chan struct{}
}

func (r *recordingAPI) record(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recordingAPI) log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingAPI) reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

// createElsewhere имитирует черновик, созданный другим контекстом.
func (r *recordingAPI) createElsewhere(id int64) {
	r.mu.Lock()
	r.draft = &model.DraftOrder{OrderID: id, Status: model.OrderStatusDraft}
	r.mu.Unlock()
}

func (r *recordingAPI) count(call string) int {
	n := 0
	for _, c := range r.log() {
		if c == call {
			n++
		}
	}
	return n
}

func (r *recordingAPI) ListOrders(_ context.Context, status model.OrderStatus) ([]model.OrderSummary, error) {
	r.record("ListOrders(" + string(status) + ")")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.draft == nil || status != model.OrderStatusDraft {
		return nil, nil
	}
	return []model.OrderSummary{{OrderID: r.draft.OrderID, Status: model.OrderStatusDraft}}, nil
}

func (r *recordingAPI) GetOrder(_ context.Context, orderID int64) (*model.DraftOrder, error) {
	r.record("GetOrder")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.draft == nil || r.draft.OrderID != orderID {
		return nil, &api.RejectedError{Op: "GET /orders/{id}", StatusCode: 404, Message: "Order not found"}
	}
	cp := *r.draft
	cp.Items = append([]model.OrderItem(nil), r.draft.Items...)
	return &cp, nil
}

func (r *recordingAPI) CreateOrder(context.Context) (*model.DraftOrder, error) {
	r.record("CreateOrder")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.draft = &model.DraftOrder{OrderID: 500 + r.nextID, Status: model.OrderStatusDraft}
	cp := *r.draft
	return &cp, nil
}

func (r *recordingAPI) AddItem(_ context.Context, orderID, itemID int64) error {
	r.record("AddItem")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.draft != nil && r.draft.OrderID == orderID {
		r.draft.Items = append(r.draft.Items, model.OrderItem{CatalogItemID: itemID, UnitPrice: dec("10")})
	}
	return nil
}

func (r *recordingAPI) RemoveItem(_ context.Context, orderID, itemID int64) error {
	r.record("RemoveItem")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.draft == nil || r.draft.OrderID != orderID {
		return nil
	}
	kept := r.draft.Items[:0:0]
	for _, it := range r.draft.Items {
		if it.CatalogItemID != itemID {
			kept = append(kept, it)
		}
	}
	r.draft.Items = kept
	r.draft.TotalBefore, r.draft.TotalAfter = r.totals.Before, r.totals.After
	return nil
}

func (r *recordingAPI) ApplyPromo(context.Context, int64, string) error {
	r.record("ApplyPromo")
	return nil
}

func (r *recordingAPI) ClearPromo(context.Context, int64) error {
	r.record("ClearPromo")
	return nil
}

func (r *recordingAPI) Recalculate(ctx context.Context, _ int64) (model.Totals, error) {
	r.record("Recalculate")
	if r.recalcGate != nil {
		select {
		case <-r.recalcGate:
		case <-ctx.Done():
			return model.Totals{}, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totals, nil
}

func (r *recordingAPI) Pay(context.Context, int64) (api.Receipt, error) {
	r.record("Pay")
	return api.Receipt{}, nil
}

func (r *recordingAPI) BuyNow(context.Context, []int64, string) (api.Receipt, error) {
	r.record("BuyNow")
	return api.Receipt{}, nil
}

func (r *recordingAPI) CatalogExtras(context.Context, int64) (model.CatalogExtras, error) {
	return model.CatalogExtras{}, nil
}

func newRecordingController(t *testing.T, rec *recordingAPI) *Controller {
	t.Helper()

	st := store.NewMemoryProfile().Open()
	b := bus.New(st, uuid.NewString(), zap.NewNop())
	require.NoError(t, b.Start(context.Background()))

	extras := derived.NewCatalogExtras(rec, "", zap.NewNop())
	c := NewController(rec, b, extras, zap.NewNop())
	c.Start(context.Background())

	t.Cleanup(func() {
		c.Close()
		extras.Close()
		b.Close()
		st.Close()
	})
	return c
}

func TestEnsureDraft_QueriesBeforeCreate(t *testing.T) {
	rec := &recordingAPI{}
	c := newRecordingController(t, rec)
	rec.reset()

	require.NoError(t, c.AddItem(context.Background(), 1))

	calls := rec.log()
	require.GreaterOrEqual(t, len(calls), 3)
	assert.Equal(t, []string{"ListOrders(DRAFT)", "CreateOrder", "AddItem"}, calls[:3])
	assert.Equal(t, 1, rec.count("CreateOrder"))
	assert.Equal(t, int64(501), c.View().OrderID)
}

func TestEnsureDraft_FindsDraftCreatedAfterStart(t *testing.T) {
	rec := &recordingAPI{}
	c := newRecordingController(t, rec)
	require.Zero(t, c.View().OrderID)

	rec.createElsewhere(42)
	rec.reset()

	require.NoError(t, c.AddItem(context.Background(), 1))

	assert.Zero(t, rec.count("CreateOrder"))
	calls := rec.log()
	require.GreaterOrEqual(t, len(calls), 3)
	assert.Equal(t, []string{"ListOrders(DRAFT)", "GetOrder", "AddItem"}, calls[:3])
	assert.Equal(t, int64(42), c.View().OrderID)
	assert.Equal(t, []int64{1}, itemIDs(c.View()))
}

func TestEnsureDraft_ConcurrentAddsCreateOnce(t *testing.T) {
	rec := &recordingAPI{}
	c := newRecordingController(t, rec)
	rec.reset()

	var wg sync.WaitGroup
	for i := int64(1); i <= 5; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			assert.NoError(t, c.AddItem(context.Background(), id))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, rec.count("CreateOrder"))
	calls := rec.log()
	require.NotEmpty(t, calls)
	assert.Equal(t, "ListOrders(DRAFT)", calls[0])
}

func TestRemoveItem_PreviewKeepsDiscountShare(t *testing.T) {
	rec := &recordingAPI{recalcGate: make(chan struct{})}
	rec.draft = &model.DraftOrder{
		OrderID: 7,
		Status:  model.OrderStatusDraft,
		Items: []model.OrderItem{
			{CatalogItemID: 1, UnitPrice: dec("20")},
			{CatalogItemID: 2, UnitPrice: dec("10")},
		},
		TotalBefore: dec("30"),
		TotalAfter:  dec("27"),
	}
	rec.totals = model.Totals{Before: dec("20"), After: dec("18")}

	c := newRecordingController(t, rec)
	require.True(t, c.View().PreviewTotal.Equal(dec("27")))

	done := make(chan error, 1)
	go func() { done <- c.RemoveItem(context.Background(), 2) }()

	require.Eventually(t, func() bool { return rec.count("Recalculate") == 1 }, waitFor, tick)
	v := c.View()
	assert.Equal(t, []int64{1}, itemIDs(v))
	assert.True(t, v.PreviewTotal.Equal(dec("18")), "preview = %s", v.PreviewTotal)

	close(rec.recalcGate)
	require.NoError(t, <-done)
	v = c.View()
	assert.True(t, v.PreviewTotal.Equal(dec("18")))
	assert.True(t, v.Confirmed.After.Equal(dec("18")))
}

func TestScaledPreview(t *testing.T) {
	tests := []struct {
		name      string
		sum       string
		confirmed model.Totals
		want      string
	}{
		{name: "no discount", sum: "25", confirmed: model.Totals{Before: dec("30"), After: dec("30")}, want: "25"},
		{name: "empty totals", sum: "25", confirmed: model.Totals{}, want: "25"},
		{name: "percent share", sum: "20", confirmed: model.Totals{Before: dec("30"), After: dec("27")}, want: "18"},
		{name: "rounded", sum: "10", confirmed: model.Totals{Before: dec("30"), After: dec("20")}, want: "6.67"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scaledPreview(dec(tt.sum), tt.confirmed)
			assert.True(t, got.Equal(dec(tt.want)), "got %s", got)
		})
	}
}
