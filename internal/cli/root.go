// Package cli содержит команды storectl: каждая открывает контекст движка, выполняет одну операцию
// и закрывает контекст.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-sync/internal/app"
	"github.com/mmeshcher/storefront-sync/internal/config"
)

// Opener открывает контекст движка по конфигурации.
type Opener func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app.Engine, error)

// RootOptions содержит глобальные флаги всех команд.
type RootOptions struct {
	Verbose bool
	Format  string

	apiBaseURL   string
	storeBackend string
	redisURL     string
	databaseURI  string
	profile      string
	timeout      time.Duration

	open   Opener
	config *config.Config
	logger *zap.Logger
}

// ValidFormats перечисляет допустимые форматы вывода.
var ValidFormats = []string{FormatText, FormatJSON}

// NewRootCommand создаёт корневую команду storectl. Пустой open означает app.Open.
func NewRootCommand(open Opener) *cobra.Command {
	if open == nil {
		open = app.Open
	}
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:           "storectl",
		Short:         "Operate a storefront engine context",
		Long:          "storectl opens one context of the storefront engine over a durable store profile, runs a single operation and exits.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.prepare(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "write engine logs to stderr")
	flags.StringVar(&opts.Format, "format", FormatText, "output format (text|json)")
	flags.StringVar(&opts.apiBaseURL, "api", "", "storefront API base URL (env API_BASE_URL)")
	flags.StringVar(&opts.storeBackend, "store", "", "durable store backend: memory, redis or postgres (env STORE_BACKEND)")
	flags.StringVar(&opts.redisURL, "redis", "", "redis URL (env REDIS_URL)")
	flags.StringVar(&opts.databaseURI, "database", "", "database URI (env DATABASE_URI)")
	flags.StringVar(&opts.profile, "profile", "", "durable store profile (env PROFILE)")
	flags.DurationVar(&opts.timeout, "timeout", 0, "storefront API request timeout (env REQUEST_TIMEOUT)")

	cmd.AddCommand(newLoginCommand(opts))
	cmd.AddCommand(newSignOutCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newPromoCommand(opts))
	cmd.AddCommand(newCartCommand(opts))

	return cmd
}

// prepare собирает конфигурацию: значения по умолчанию, затем .env и окружение, затем явные флаги.
func (o *RootOptions) prepare(cmd *cobra.Command) error {
	if !isValidFormat(o.Format) {
		return fmt.Errorf("invalid format %q: must be one of %v", o.Format, ValidFormats)
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	cfg.Override(&config.Config{
		APIBaseURL:     o.apiBaseURL,
		StoreBackend:   o.storeBackend,
		RedisURL:       o.redisURL,
		DatabaseURI:    o.databaseURI,
		Profile:        o.profile,
		RequestTimeout: o.timeout,
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.config = cfg

	o.logger = zap.NewNop()
	if o.Verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		o.logger = logger
	}
	return nil
}

// withEngine открывает контекст, выполняет fn и закрывает контекст.
func (o *RootOptions) withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *app.Engine) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	e, err := o.open(ctx, o.config, o.logger)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}

	runErr := fn(ctx, e)
	if err := e.Close(); err != nil && runErr == nil {
		return err
	}
	return runErr
}

func (o *RootOptions) output(cmd *cobra.Command) *Output {
	return &Output{Format: o.Format, Writer: cmd.OutOrStdout()}
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
