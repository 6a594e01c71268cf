// Package main запускает HTTP-хост одного контекста движка витрины.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/storefront-sync/internal/app"
	"github.com/mmeshcher/storefront-sync/internal/config"
	"github.com/mmeshcher/storefront-sync/internal/handler"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := app.Open(ctx, cfg, logger)
	if err != nil {
		sugar.Fatalw("engine initialization error", "error", err.Error())
	}
	defer func() {
		if err := engine.Close(); err != nil {
			sugar.Errorw("engine close error", "error", err.Error())
		}
	}()

	h := handler.NewHandler(engine.Sessions, engine.Orders, engine.Promos, engine.Extras, engine.Bus, logger)

	g, ctx := errgroup.WithContext(ctx)

	// Потоки событий завершаются вместе с контекстом, иначе Shutdown их не дождётся.
	server := &http.Server{
		Addr:        cfg.RunAddress,
		Handler:     h.SetupRouter(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting storefront engine host",
			"addr", cfg.RunAddress,
			"api", cfg.APIBaseURL,
			"store", cfg.StoreBackend,
			"profile", cfg.Profile,
			"origin", engine.Origin,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Errorw("application terminated with error", "error", err)
	}
}
