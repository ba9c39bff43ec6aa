package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/famsync/internal/client/app"
	"github.com/dmitrijs2005/famsync/internal/client/cache"
)

func NewCacheCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and trim the payload and media cache",
	}
	cmd.AddCommand(newCacheUsageCommand(opts))
	cmd.AddCommand(newCacheCleanupCommand(opts))
	cmd.AddCommand(newCachePruneCommand(opts))
	cmd.AddCommand(newCacheInvalidateCommand(opts))
	return cmd
}

func newCacheUsageCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show cache usage per type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				u, err := a.Cache.GetCacheUsage(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TYPE\tITEMS\tBYTES")
				for _, t := range u.Types {
					fmt.Fprintf(tw, "%s\t%d\t%d\n", t.EntityType, t.Items, t.SizeBytes)
				}
				fmt.Fprintf(tw, "total\t%d\t%d of %d\n", u.TotalItems, u.TotalBytes, u.BudgetBytes)
				return tw.Flush()
			})
		},
	}
}

func printReport(cmd *cobra.Command, rep cache.Report) {
	fmt.Fprintf(cmd.OutOrStdout(), "expired %d, evicted %d, freed %d bytes\n", rep.Expired, rep.Evicted, rep.FreedBytes)
}

func newCacheCleanupCommand(opts *RootOptions) *cobra.Command {
	var entityType string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Apply TTL and size limits now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				var t *string
				if entityType != "" {
					t = &entityType
				}
				rep, err := a.Cache.PerformCleanup(ctx, t)
				if err != nil {
					return err
				}
				printReport(cmd, rep)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&entityType, "type", "t", "", "only this cache type (users, stories, media, ...)")
	return cmd
}

func newCachePruneCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Prune aggressively if the cache volume is low on space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				rep, ran, err := a.Cache.PruneBasedOnStorage(ctx)
				if err != nil {
					return err
				}
				if !ran {
					fmt.Fprintln(cmd.OutOrStdout(), "enough free space, nothing pruned")
					return nil
				}
				printReport(cmd, rep)
				return nil
			})
		},
	}
}

func newCacheInvalidateCommand(opts *RootOptions) *cobra.Command {
	var entityType, pattern string

	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Drop cached items by type or key pattern",
		Example: `  famsync cache invalidate --type stories
  famsync cache invalidate --pattern 'media/*.jpg'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (entityType == "") == (pattern == "") {
				return errors.New("exactly one of --type or --pattern is required")
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				var (
					n   int
					err error
				)
				if entityType != "" {
					n, err = a.Cache.InvalidateByType(ctx, entityType)
				} else {
					n, err = a.Cache.InvalidateByPattern(ctx, pattern)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "invalidated %d items\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&entityType, "type", "t", "", "cache type to drop")
	cmd.Flags().StringVarP(&pattern, "pattern", "p", "", "GLOB pattern over cache keys")
	return cmd
}
