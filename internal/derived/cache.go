// Package derived кэширует вспомогательные данные сущностей, которые подгружаются лениво
// и не должны запрашиваться повторно.
package derived

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Fetcher загружает значение для ключа.
type Fetcher[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Cache запоминает результат загрузки по ключу. Для каждого ключа выполняется не более одной загрузки:
// неудачная загрузка запоминает запасное значение и больше не повторяется.
// Кэш не ограничен по размеру и живёт, пока жив контекст.
type Cache[K comparable, V any] struct {
	fetch    Fetcher[K, V]
	fallback V
	logger   *zap.Logger
	group    singleflight.Group

	mu       sync.RWMutex
	resolved map[K]V
	pending  map[K]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New создаёт кэш с функцией загрузки и запасным значением.
func New[K comparable, V any](fetch Fetcher[K, V], fallback V, logger *zap.Logger) *Cache[K, V] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache[K, V]{
		fetch:    fetch,
		fallback: fallback,
		logger:   logger,
		resolved: make(map[K]V),
		pending:  make(map[K]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Fallback возвращает запасное значение кэша.
func (c *Cache[K, V]) Fallback() V {
	return c.fallback
}

// Peek возвращает значение, если оно уже загружено.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.resolved[key]
	return v, ok
}

// Get не блокируется: возвращает загруженное значение или запасное, запуская загрузку в фоне.
func (c *Cache[K, V]) Get(key K) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.resolved[key]; ok {
		return v
	}
	if _, ok := c.pending[key]; ok || c.ctx.Err() != nil {
		return c.fallback
	}

	c.pending[key] = struct{}{}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Load(c.ctx, key)
	}()

	return c.fallback
}

// Load блокируется до загрузки значения или отмены ctx. Одновременные вызовы для одного ключа
// разделяют одну загрузку; отмена ctx не прерывает загрузку для остальных.
func (c *Cache[K, V]) Load(ctx context.Context, key K) V {
	if v, ok := c.Peek(key); ok {
		return v
	}

	ch := c.group.DoChan(fmt.Sprintf("%#v", key), func() (any, error) {
		return c.resolve(key), nil
	})

	select {
	case res := <-ch:
		return res.Val.(V)
	case <-ctx.Done():
		return c.fallback
	}
}

func (c *Cache[K, V]) resolve(key K) V {
	if v, ok := c.Peek(key); ok {
		return v
	}

	v, err := c.fetch(c.ctx, key)
	if err != nil {
		c.logger.Warn("derived fetch failed, using fallback", zap.Any("key", key), zap.Error(err))
		v = c.fallback
	}

	c.mu.Lock()
	c.resolved[key] = v
	delete(c.pending, key)
	c.mu.Unlock()

	return v
}

// Len возвращает число загруженных ключей.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.resolved)
}

// Close отменяет незавершённые загрузки и дожидается фоновых горутин.
func (c *Cache[K, V]) Close() {
	c.cancel()
	c.wg.Wait()
}
