package derived

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-sync/internal/api"
	"github.com/mmeshcher/storefront-sync/internal/api/apitest"
)

func TestGet_FallbackThenValue(t *testing.T) {
	release := make(chan struct{})
	var fetches atomic.Int32

	c := New(func(ctx context.Context, key int) (string, error) {
		fetches.Add(1)
		<-release
		return "cover-of-1", nil
	}, "placeholder", zap.NewNop())
	defer c.Close()

	assert.Equal(t, "placeholder", c.Get(1))
	assert.Equal(t, "placeholder", c.Get(1))

	close(release)

	require.Eventually(t, func() bool { return c.Get(1) == "cover-of-1" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), fetches.Load())
}

func TestSingleFlight_ConcurrentCallers(t *testing.T) {
	release := make(chan struct{})
	var fetches atomic.Int32

	c := New(func(ctx context.Context, key string) (int, error) {
		fetches.Add(1)
		<-release
		return len(key), nil
	}, -1, zap.NewNop())
	defer c.Close()

	var wg sync.WaitGroup
	results := make([]int, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				c.Get("hades")
			}
			results[i] = c.Load(context.Background(), "hades")
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, v := range results {
		assert.Equal(t, 5, v, "caller %d", i)
	}
	assert.Equal(t, int32(1), fetches.Load())

	c.Get("hades")
	c.Load(context.Background(), "hades")
	assert.Equal(t, int32(1), fetches.Load())
}

func TestFailure_StoresFallbackOnce(t *testing.T) {
	var fetches atomic.Int32
	c := New(func(ctx context.Context, key int) (string, error) {
		fetches.Add(1)
		return "", errors.New("boom")
	}, "placeholder", zap.NewNop())
	defer c.Close()

	assert.Equal(t, "placeholder", c.Load(context.Background(), 3))

	v, ok := c.Peek(3)
	assert.True(t, ok)
	assert.Equal(t, "placeholder", v)

	assert.Equal(t, "placeholder", c.Get(3))
	assert.Equal(t, "placeholder", c.Load(context.Background(), 3))
	assert.Equal(t, int32(1), fetches.Load())
}

func TestLoad_CallerCancelDoesNotAbortFetch(t *testing.T) {
	release := make(chan struct{})
	c := New(func(ctx context.Context, key int) (string, error) {
		<-release
		return "value", nil
	}, "placeholder", zap.NewNop())
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, "placeholder", c.Load(ctx, 1))

	close(release)
	assert.Equal(t, "value", c.Load(context.Background(), 1))
}

func TestClose_CancelsOutstandingFetches(t *testing.T) {
	started := make(chan struct{})
	c := New(func(ctx context.Context, key int) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}, "placeholder", zap.NewNop())

	c.Get(1)
	<-started

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}

	assert.Equal(t, "placeholder", c.Get(2))
	_, ok := c.Peek(2)
	assert.False(t, ok)
}

func TestCatalogExtras(t *testing.T) {
	srv := apitest.New()
	defer srv.Close()
	srv.AddGame(apitest.Game{ID: 1, Name: "Hades", Price: decimal.NewFromInt(20), Images: []string{"https://cdn/hades.jpg"}, Categories: []string{"Action", "Roguelike"}})
	srv.AddGame(apitest.Game{ID: 2, Name: "Bare", Categories: []string{"Puzzle"}})

	c := NewCatalogExtras(api.NewClient(srv.URL), "", zap.NewNop())
	defer c.Close()
	ctx := context.Background()

	got := c.Load(ctx, 1)
	assert.Equal(t, "https://cdn/hades.jpg", got.ImageRef)
	assert.Equal(t, "Action, Roguelike", got.CategoryLabel)

	bare := c.Load(ctx, 2)
	assert.Equal(t, DefaultCoverURL, bare.ImageRef)
	assert.Equal(t, "Puzzle", bare.CategoryLabel)

	missing := c.Load(ctx, 404)
	assert.Equal(t, DefaultCoverURL, missing.ImageRef)
	assert.Empty(t, missing.CategoryLabel)

	c.Load(ctx, 1)
	c.Load(ctx, 404)
	assert.Equal(t, 3, srv.Calls("GET /catalog/{id}"))
}
