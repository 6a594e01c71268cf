package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mmeshcher/storefront-sync/internal/app"
	"github.com/mmeshcher/storefront-sync/internal/session"
)

func newCartCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Inspect and change the draft order",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the draft order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				if _, ok := e.Sessions.Current(); !ok {
					return session.ErrNoSession
				}
				if err := e.Orders.Reload(ctx); err != nil {
					return err
				}
				return opts.output(cmd).Cart(e.Orders.View())
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <item-id>",
		Short: "Add a catalog item to the draft order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			return opts.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				if err := e.Orders.AddItem(ctx, itemID); err != nil {
					return err
				}
				return opts.output(cmd).Cart(e.Orders.View())
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <item-id>",
		Short: "Remove a catalog item from the draft order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			return opts.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				if err := e.Orders.RemoveItem(ctx, itemID); err != nil {
					return err
				}
				return opts.output(cmd).Cart(e.Orders.View())
			})
		},
	})

	var code string
	promoCmd := &cobra.Command{
		Use:   "promo",
		Short: "Apply a promo code to the draft order, or clear it with --clear",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			clearPromo, _ := cmd.Flags().GetBool("clear")
			return opts.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				var err error
				if clearPromo {
					err = e.Orders.ClearPromo(ctx)
				} else {
					err = e.Orders.ApplyPromo(ctx, code)
				}
				if err != nil {
					return err
				}
				return opts.output(cmd).Cart(e.Orders.View())
			})
		},
	}
	promoCmd.Flags().StringVar(&code, "code", "", "promo code")
	promoCmd.Flags().Bool("clear", false, "clear the applied promo code")
	cmd.AddCommand(promoCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "pay",
		Short: "Pay for the draft order from the wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				rec, err := e.Orders.Pay(ctx)
				if err != nil {
					return err
				}
				return opts.output(cmd).Message(fmt.Sprintf("Order #%d paid, charged %s", rec.OrderID, rec.Charged.StringFixed(2)))
			})
		},
	})

	return cmd
}

func parseItemID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid item id %q", s)
	}
	return id, nil
}
