package store

import (
	"context"
	"sync"
)

// MemoryProfile хранит данные одного профиля в памяти процесса и раздаёт представления контекстам.
type MemoryProfile struct {
	mu    sync.Mutex
	data  map[string]string
	size  int
	quota int
	views map[*Memory]struct{}
}

// MemoryOption настраивает MemoryProfile.
type MemoryOption func(*MemoryProfile)

// WithQuota ограничивает суммарный размер ключей и значений профиля в байтах.
func WithQuota(bytes int) MemoryOption {
	return func(p *MemoryProfile) {
		p.quota = bytes
	}
}

// NewMemoryProfile создаёт пустой профиль в памяти.
func NewMemoryProfile(opts ...MemoryOption) *MemoryProfile {
	p := &MemoryProfile{
		data:  make(map[string]string),
		views: make(map[*Memory]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Open создаёт представление профиля для нового контекста.
func (p *MemoryProfile) Open() *Memory {
	m := &Memory{profile: p, done: make(chan struct{})}

	p.mu.Lock()
	p.views[m] = struct{}{}
	p.mu.Unlock()

	return m
}

// Memory хранит представление профиля в памяти для одного контекста.
type Memory struct {
	profile *MemoryProfile

	mu       sync.Mutex
	watchers map[chan Change]struct{}
	closed   bool
	done     chan struct{}
}

var _ Store = (*Memory)(nil)

// Get возвращает значение ключа.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	if m.isClosed() {
		return "", false, ErrClosed
	}

	m.profile.mu.Lock()
	defer m.profile.mu.Unlock()

	v, ok := m.profile.data[key]
	return v, ok, nil
}

// Set записывает значение и уведомляет остальные контексты профиля.
func (m *Memory) Set(_ context.Context, key, value string) error {
	if m.isClosed() {
		return ErrClosed
	}

	p := m.profile
	p.mu.Lock()
	size := p.size + len(value)
	if old, ok := p.data[key]; ok {
		size -= len(old)
	} else {
		size += len(key)
	}
	if p.quota > 0 && size > p.quota {
		p.mu.Unlock()
		return ErrQuotaExceeded
	}
	p.data[key] = value
	p.size = size
	others := p.othersLocked(m)
	p.mu.Unlock()

	for _, o := range others {
		o.notify(Change{Key: key})
	}
	return nil
}

// Delete удаляет ключ. Удаление отсутствующего ключа не считается изменением.
func (m *Memory) Delete(_ context.Context, key string) error {
	if m.isClosed() {
		return ErrClosed
	}

	p := m.profile
	p.mu.Lock()
	old, ok := p.data[key]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	delete(p.data, key)
	p.size -= len(key) + len(old)
	others := p.othersLocked(m)
	p.mu.Unlock()

	for _, o := range others {
		o.notify(Change{Key: key, Deleted: true})
	}
	return nil
}

// Watch подписывает контекст на изменения, сделанные другими контекстами профиля.
func (m *Memory) Watch(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, watchBuffer)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.watchers == nil {
		m.watchers = make(map[chan Change]struct{})
	}
	m.watchers[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-m.done:
			return
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.watchers[ch]; ok {
			delete(m.watchers, ch)
			close(ch)
		}
	}()

	return ch, nil
}

// Close отключает контекст от профиля и закрывает все каналы наблюдения.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	for ch := range m.watchers {
		close(ch)
	}
	m.watchers = nil
	m.mu.Unlock()

	m.profile.mu.Lock()
	delete(m.profile.views, m)
	m.profile.mu.Unlock()
	return nil
}

func (m *Memory) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// notify доставляет изменение без блокировки: при переполненном буфере изменение теряется.
func (m *Memory) notify(c Change) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.watchers {
		select {
		case ch <- c:
		default:
		}
	}
}

func (p *MemoryProfile) othersLocked(self *Memory) []*Memory {
	others := make([]*Memory, 0, len(p.views))
	for v := range p.views {
		if v != self {
			others = append(others, v)
		}
	}
	return others
}
