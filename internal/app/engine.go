// Package app собирает один контекст движка витрины из конфигурации.
package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-sync/internal/api"
	"github.com/mmeshcher/storefront-sync/internal/bus"
	"github.com/mmeshcher/storefront-sync/internal/config"
	"github.com/mmeshcher/storefront-sync/internal/derived"
	"github.com/mmeshcher/storefront-sync/internal/order"
	"github.com/mmeshcher/storefront-sync/internal/promo"
	"github.com/mmeshcher/storefront-sync/internal/session"
	"github.com/mmeshcher/storefront-sync/internal/store"
)

// Engine владеет всеми компонентами одного контекста и закрывает их в обратном порядке.
type Engine struct {
	Origin   string
	Store    store.Store
	Bus      *bus.Bus
	API      *api.Client
	Sessions *session.Cache
	Orders   *order.Controller
	Extras   *derived.CatalogExtras
	Promos   *promo.Service

	logger *zap.Logger
}

// OpenStore открывает постоянное хранилище профиля выбранного бэкенда.
func OpenStore(ctx context.Context, cfg *config.Config, origin string, logger *zap.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		logger.Warn("memory store is not shared with other processes")
		return store.NewMemoryProfile().Open(), nil
	case config.StoreRedis:
		return store.NewRedis(ctx, cfg.RedisURL, cfg.Profile, origin, logger)
	case config.StorePostgres:
		return store.NewPostgres(cfg.DatabaseURI, cfg.Profile, origin, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// Open открывает хранилище по конфигурации и запускает контекст поверх него.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	origin := uuid.NewString()

	st, err := OpenStore(ctx, cfg, origin, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}

	e, err := New(ctx, cfg, st, origin, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	return e, nil
}

// New запускает контекст поверх уже открытого хранилища. Хранилище переходит во владение Engine.
func New(ctx context.Context, cfg *config.Config, st store.Store, origin string, logger *zap.Logger) (*Engine, error) {
	logger = logger.With(zap.String("origin", origin))

	opts := []api.Option{api.WithTimeout(cfg.RequestTimeout), api.WithLogger(logger)}
	if cfg.RequestRate > 0 {
		opts = append(opts, api.WithRateLimit(cfg.RequestRate, 1))
	}
	client := api.NewClient(cfg.APIBaseURL, opts...)

	b := bus.New(st, origin, logger)
	if err := b.Start(ctx); err != nil {
		return nil, fmt.Errorf("start bus: %w", err)
	}

	sessions := session.New(st, client, b, logger)
	client.SetTokenFunc(sessions.Token)
	if err := sessions.Start(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}

	extras := derived.NewCatalogExtras(client, cfg.FallbackCoverURL, logger)
	orders := order.NewController(client, b, extras, logger)
	orders.Start(ctx)

	return &Engine{
		Origin:   origin,
		Store:    st,
		Bus:      b,
		API:      client,
		Sessions: sessions,
		Orders:   orders,
		Extras:   extras,
		Promos:   promo.NewService(client, logger),
		logger:   logger,
	}, nil
}

// Close останавливает компоненты контекста и закрывает хранилище.
func (e *Engine) Close() error {
	e.Orders.Close()
	e.Extras.Close()
	e.Sessions.Close()
	e.Bus.Close()

	if err := e.Store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	e.logger.Debug("context closed")
	return nil
}
