package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/mmeshcher/storefront-sync/internal/app"
	"github.com/mmeshcher/storefront-sync/internal/model"
)

func newLoginCommand(opts *RootOptions) *cobra.Command {
	var creds model.Credentials

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session in the profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (creds.Username == "" && creds.Email == "") || creds.Password == "" {
				return errors.New("login requires --user or --email and --password")
			}
			return opts.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				s, err := e.Sessions.SignIn(ctx, creds)
				if err != nil {
					return err
				}
				return opts.output(cmd).Session(s)
			})
		},
	}

	cmd.Flags().StringVar(&creds.Username, "user", "", "user name")
	cmd.Flags().StringVar(&creds.Email, "email", "", "e-mail")
	cmd.Flags().StringVar(&creds.Password, "password", "", "password")

	return cmd
}

func newSignOutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out in every context of the profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				e.Sessions.SignOut(ctx)
				return opts.output(cmd).Message("Signed out")
			})
		},
	}
}
