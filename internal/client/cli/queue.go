package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/famsync/internal/client/app"
	"github.com/dmitrijs2005/famsync/internal/client/models"
)

func NewQueueCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and re-arm queued operations",
	}
	cmd.AddCommand(newQueueListCommand(opts))
	cmd.AddCommand(newQueueRetryCommand(opts))
	return cmd
}

func newQueueListCommand(opts *RootOptions) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := make([]models.OperationStatus, 0, len(statuses))
			for _, s := range statuses {
				filter = append(filter, models.OperationStatus(s))
			}

			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				ops, err := a.Store.ListOperations(ctx, filter...)
				if err != nil {
					return err
				}
				if len(ops) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
					return nil
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tOP\tENTITY\tSTATUS\tRETRIES\tREV\tLAST ERROR")
				for _, op := range ops {
					fmt.Fprintf(tw, "%s\t%s\t%s/%s\t%s\t%d\t%d\t%s\n",
						op.ID, op.Type, op.EntityType, op.EntityID, op.Status, op.RetryCount, op.Revision, op.LastError)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "only show these statuses (pending, syncing, failed, conflict)")
	return cmd
}

func newQueueRetryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <operation-id>",
		Short: "Re-arm a failed or conflicted operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				op, err := a.Store.RetryOperation(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "operation %s is %s again\n", op.ID, op.Status)
				return nil
			})
		},
	}
}
