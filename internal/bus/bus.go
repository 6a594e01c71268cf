// Package bus реализует шину сигналов инвалидации между подписчиками контекста и другими контекстами профиля.
//
// Локальные подписчики вызываются синхронно в горутине издателя. Другие контексты узнают о сигнале
// через долговременное хранилище: издатель записывает меняющееся значение под ключом signal:<KIND>,
// а наблюдатели хранилища остальных контекстов доставляют сигнал своим подписчикам. Сам издатель
// своё изменение из хранилища не получает, поэтому доставляет сигнал локально напрямую.
package bus

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-sync/internal/model"
	"github.com/mmeshcher/storefront-sync/internal/store"
)

// SignalKeyPrefix задаёт префикс ключей-сигнализаторов в хранилище.
const SignalKeyPrefix = "signal:"

const writeTimeout = 2 * time.Second

// Handler обрабатывает наблюдаемый сигнал.
type Handler func(kind model.SignalKind)

type subscriber struct {
	kind    model.SignalKind
	all     bool
	handler Handler
}

// Bus доставляет сигналы инвалидации подписчикам текущего контекста и остальным контекстам профиля.
type Bus struct {
	store  store.Store
	origin string
	logger *zap.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]subscriber

	seq atomic.Uint64

	stopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New создаёт шину поверх хранилища контекста. Без хранилища шина работает только внутри контекста.
func New(st store.Store, origin string, logger *zap.Logger) *Bus {
	return &Bus{
		store:  st,
		origin: origin,
		logger: logger,
		subs:   make(map[uint64]subscriber),
	}
}

// SignalKey возвращает ключ хранилища, через который передаётся сигнал kind.
func SignalKey(kind model.SignalKind) string {
	return SignalKeyPrefix + string(kind)
}

// Subscription является дескриптором подписки. Unsubscribe можно вызывать многократно.
type Subscription struct {
	bus  *Bus
	id   uint64
	once sync.Once
}

// Unsubscribe отменяет подписку.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
	})
}

// Subscribe регистрирует обработчик сигналов вида kind.
func (b *Bus) Subscribe(kind model.SignalKind, h Handler) *Subscription {
	return b.add(subscriber{kind: kind, handler: h})
}

// SubscribeAll регистрирует обработчик всех сигналов.
func (b *Bus) SubscribeAll(h Handler) *Subscription {
	return b.add(subscriber{all: true, handler: h})
}

func (b *Bus) add(s subscriber) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs[b.nextID] = s
	return &Subscription{bus: b, id: b.nextID}
}

// Publish рассылает сигнал. Метод никогда не возвращает ошибку и не паникует:
// при недоступном хранилище сигнал доставляется только подписчикам текущего контекста.
func (b *Bus) Publish(kind model.SignalKind) {
	if !kind.Valid() {
		b.logger.Warn("skip unknown signal", zap.String("kind", string(kind)))
		return
	}

	if kind != model.SignalStorageTouched {
		b.broadcast(kind)
	}
	b.deliver(kind)
}

func (b *Bus) broadcast(kind model.SignalKind) {
	if b.store == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("signal broadcast panicked", zap.String("kind", string(kind)), zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	sentinel := fmt.Sprintf("%s:%d:%d", b.origin, b.seq.Add(1), time.Now().UnixNano())
	if err := b.store.Set(ctx, SignalKey(kind), sentinel); err != nil {
		b.logger.Warn("cross-context publish failed, delivering locally only",
			zap.String("kind", string(kind)), zap.Error(err))
	}
}

func (b *Bus) deliver(kind model.SignalKind) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.subs))
	for id, s := range b.subs {
		if s.all || s.kind == kind {
			ids = append(ids, id)
		}
	}
	handlers := make([]Handler, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		handlers = append(handlers, b.subs[id].handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(kind, h)
	}
}

func (b *Bus) invoke(kind model.SignalKind, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("signal handler panicked", zap.String("kind", string(kind)), zap.Any("panic", r))
		}
	}()
	h(kind)
}

// Start начинает наблюдение за изменениями хранилища, сделанными другими контекстами.
func (b *Bus) Start(ctx context.Context) error {
	if b.store == nil {
		return nil
	}

	b.stopMu.Lock()
	defer b.stopMu.Unlock()
	if b.cancel != nil {
		return nil
	}

	watchCtx, cancel := context.WithCancel(ctx)
	changes, err := b.store.Watch(watchCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("watch store: %w", err)
	}

	b.cancel = cancel
	b.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		for c := range changes {
			b.observe(c)
		}
	}(b.done)

	return nil
}

func (b *Bus) observe(c store.Change) {
	if !strings.HasPrefix(c.Key, SignalKeyPrefix) {
		b.deliver(model.SignalStorageTouched)
		return
	}
	if c.Deleted {
		return
	}

	kind := model.SignalKind(strings.TrimPrefix(c.Key, SignalKeyPrefix))
	if !kind.Valid() {
		b.logger.Debug("skip unknown signal key", zap.String("key", c.Key))
		return
	}
	b.deliver(kind)
}

// Close прекращает наблюдение за хранилищем и удаляет всех подписчиков.
func (b *Bus) Close() {
	b.stopMu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.stopMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	b.mu.Lock()
	b.subs = make(map[uint64]subscriber)
	b.mu.Unlock()
}
