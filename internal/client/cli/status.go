package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/famsync/internal/client/app"
	"github.com/dmitrijs2005/famsync/internal/client/models"
)

func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show device, queue and last sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				deviceID, err := a.Auth.DeviceID(ctx)
				if err != nil {
					return err
				}
				state, err := a.Store.LoadSyncState(ctx)
				if err != nil {
					return err
				}
				counts, err := a.Store.CountOperations(ctx)
				if err != nil {
					return err
				}
				dirty, err := a.Store.CountDirty(ctx)
				if err != nil {
					return err
				}
				token, err := a.Auth.Token(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "device:          %s\n", deviceID)
				fmt.Fprintf(out, "authority:       %s\n", opts.Config.AuthorityAddr)
				fmt.Fprintf(out, "token:           %s\n", yesNo(token != ""))
				fmt.Fprintf(out, "last sync:       %s\n", formatTime(state.LastSyncAt))
				fmt.Fprintf(out, "dirty entities:  %d\n", dirty)
				for _, s := range []models.OperationStatus{
					models.StatusPending, models.StatusSyncing, models.StatusFailed, models.StatusConflict,
				} {
					fmt.Fprintf(out, "queue %-9s  %d\n", s+":", counts[s])
				}
				return nil
			})
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "set"
	}
	return "not set"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}
