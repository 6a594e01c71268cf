package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmeshcher/storefront-sync/internal/app"
	"github.com/mmeshcher/storefront-sync/internal/promo"
)

func newPromoCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promo",
		Short: "Inspect promotions (admin only)",
	}
	cmd.AddCommand(newPromoListCommand(opts))
	return cmd
}

func newPromoListCommand(opts *RootOptions) *cobra.Command {
	var query, status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List promotions with their derived status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, ok := promo.ParseStatusFilter(status)
			if !ok {
				return fmt.Errorf("unknown status %q", status)
			}
			return opts.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				list, err := e.Promos.List(ctx, query, st)
				if err != nil {
					return err
				}
				return opts.output(cmd).Promotions(list)
			})
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "code substring, case-insensitive")
	cmd.Flags().StringVar(&status, "status", promo.StatusAll, "status filter: all, active, scheduled, expired, depleted or disabled")

	return cmd
}
