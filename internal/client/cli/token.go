package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/famsync/internal/client/app"
)

func NewTokenCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the authority access token",
	}
	cmd.AddCommand(newTokenSetCommand(opts))
	cmd.AddCommand(newTokenClearCommand(opts))
	return cmd
}

func newTokenSetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set [token]",
		Short: "Store the access token (prompted when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				var err error
				token, err = GetSecret(cmd.InOrStdin(), "Access token", cmd.ErrOrStderr())
				if err != nil {
					return err
				}
			}

			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.SetToken(ctx, token); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "token saved")
				return nil
			})
		},
	}
}

func newTokenClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget the access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Auth.ClearToken(ctx); err != nil {
					return err
				}
				a.Remote.SetAccessToken("")
				fmt.Fprintln(cmd.OutOrStdout(), "token cleared")
				return nil
			})
		},
	}
}
