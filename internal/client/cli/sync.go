package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/famsync/internal/client/app"
)

func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Drain the sync queue once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				sum, err := a.SyncNow(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if sum.Offline {
					fmt.Fprintln(out, "offline, nothing sent")
					return nil
				}
				fmt.Fprintf(out, "processed %d: synced %d, retried %d, failed %d, conflicts %d\n",
					sum.Total, sum.Synced, sum.Retried, sum.Failed, sum.Conflicts)
				fmt.Fprintf(out, "pending %d, needs attention %d\n", sum.Pending, sum.NeedsAttention)
				return nil
			})
		},
	}
}
