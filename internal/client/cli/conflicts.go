package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/famsync/internal/client/app"
	"github.com/dmitrijs2005/famsync/internal/client/models"
)

func NewConflictsCommand(opts *RootOptions) *cobra.Command {
	var (
		limit      int
		unresolved bool
	)

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Show the conflict log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				var (
					recs []models.ConflictRecord
					err  error
				)
				if unresolved {
					recs, err = a.Store.GetUnresolvedConflicts(ctx)
				} else {
					recs, err = a.Store.ListConflicts(ctx, limit)
				}
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no conflicts")
					return nil
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ENTITY\tLOCAL\tREMOTE\tTYPE\tSTRATEGY\tRESOLVED")
				for _, r := range recs {
					resolved := "no"
					if r.ResolvedAt != nil {
						resolved = formatTime(*r.ResolvedAt)
					}
					fmt.Fprintf(tw, "%s/%s\tv%d\tv%d\t%s\t%s\t%s\n",
						r.EntityType, r.EntityID, r.LocalVersion, r.RemoteVersion, r.ConflictType, r.Strategy, resolved)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of records")
	cmd.Flags().BoolVar(&unresolved, "unresolved", false, "only conflicts that need manual attention")
	return cmd
}
