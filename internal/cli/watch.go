package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmeshcher/storefront-sync/internal/app"
	"github.com/mmeshcher/storefront-sync/internal/model"
)

type watchOptions struct {
	count    int
	duration time.Duration
}

func newWatchCommand(opts *RootOptions) *cobra.Command {
	wo := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print invalidation signals observed by this context",
		Long: `Print every invalidation signal delivered to this context, one per line.

Runs until interrupted, until --count signals were printed or until --for elapsed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				return runWatch(ctx, cmd, opts, wo, e)
			})
		},
	}

	cmd.Flags().IntVarP(&wo.count, "count", "n", 0, "exit after this many signals, 0 means no limit")
	cmd.Flags().DurationVar(&wo.duration, "for", 0, "exit after this long, 0 means no limit")

	return cmd
}

type watchEvent struct {
	Kind model.SignalKind `json:"kind"`
	At   time.Time        `json:"at"`
}

func runWatch(ctx context.Context, cmd *cobra.Command, opts *RootOptions, wo *watchOptions, e *app.Engine) error {
	if wo.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wo.duration)
		defer cancel()
	}

	signals := make(chan model.SignalKind, 64)
	sub := e.Bus.SubscribeAll(func(kind model.SignalKind) {
		select {
		case signals <- kind:
		default:
		}
	})
	defer sub.Unsubscribe()

	out := opts.output(cmd)
	if opts.Format == FormatText {
		fmt.Fprintf(cmd.ErrOrStderr(), "watching profile %s\n", opts.config.Profile)
	}

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case kind := <-signals:
			if opts.Format == FormatJSON {
				if err := out.json(watchEvent{Kind: kind, At: time.Now().UTC()}); err != nil {
					return err
				}
			} else {
				out.line("%s", kind)
			}
			seen++
			if wo.count > 0 && seen >= wo.count {
				return nil
			}
		}
	}
}
