package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/famsync/internal/client/app"
	"github.com/dmitrijs2005/famsync/internal/client/models"
	"github.com/dmitrijs2005/famsync/internal/client/services"
	"github.com/dmitrijs2005/famsync/internal/common"
)

func entityType(s string) (models.EntityType, error) {
	t := models.EntityType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", common.ErrUnknownEntityType, s)
	}
	return t, nil
}

// readData returns the --data value, or stdin when it is "-".
func readData(cmd *cobra.Command, data string) (json.RawMessage, error) {
	if data != "-" {
		return json.RawMessage(data), nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	return json.RawMessage(b), nil
}

func NewPutCommand(opts *RootOptions) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "put <type> [id]",
		Short: "Create an entity, or patch it when it exists",
		Long: `Create an entity, or merge --data into its top-level fields when it
already exists. The change is stored locally and queued for sync.`,
		Example: `  famsync put story --data '{"title":"Summer at the lake"}'
  famsync put event e-42 --data '{"location":"Grandma''s"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := entityType(args[0])
			if err != nil {
				return err
			}
			var id string
			if len(args) == 2 {
				id = args[1]
			}
			payload, err := readData(cmd, data)
			if err != nil {
				return err
			}

			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				e, err := put(ctx, a.Entities, t, id, payload)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), e.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "{}", `JSON object payload, or "-" for stdin`)
	return cmd
}

func put(ctx context.Context, svc *services.EntityService, t models.EntityType, id string, payload json.RawMessage) (*models.Entity, error) {
	if id != "" {
		_, err := svc.Get(ctx, t, id)
		if err == nil {
			return svc.Update(ctx, t, id, payload)
		}
		if !errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
	}
	return svc.Create(ctx, t, id, payload)
}

func NewGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <type> <id>",
		Short: "Print an entity payload",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := entityType(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				p, err := a.Entities.Payload(ctx, t, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(p))
				return nil
			})
		},
	}
}

func NewListCommand(opts *RootOptions) *cobra.Command {
	var (
		dirty   bool
		deleted bool
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "list <type>",
		Short: "List local entities of a type, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := entityType(args[0])
			if err != nil {
				return err
			}
			lo := services.ListOptions{IncludeDeleted: deleted, Limit: limit}
			if dirty {
				lo.Dirty = &dirty
			}

			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				list, err := a.Entities.List(ctx, t, lo)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tVERSION\tDIRTY\tDELETED\tUPDATED")
				for _, e := range list {
					fmt.Fprintf(tw, "%s\t%d\t%t\t%t\t%s\n", e.ID, e.SyncVersion, e.IsDirty, e.IsDeleted, formatTime(e.UpdatedAt))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&dirty, "dirty", false, "only entities with unsynced changes")
	cmd.Flags().BoolVar(&deleted, "deleted", false, "include tombstones")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of entities (0 = all)")
	return cmd
}

func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <type> <id>",
		Short: "Delete an entity and queue the deletion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := entityType(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Entities.Delete(ctx, t, args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s/%s\n", t, args[1])
				return nil
			})
		},
	}
}
