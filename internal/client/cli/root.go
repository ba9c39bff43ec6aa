package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/famsync/internal/client/app"
	"github.com/dmitrijs2005/famsync/internal/client/config"
	"github.com/dmitrijs2005/famsync/internal/logging"
)

// AppFactory builds the client from a loaded config.
type AppFactory func(ctx context.Context, cfg *config.Config, log logging.Logger) (*app.App, error)

// RootOptions is shared by every subcommand.
type RootOptions struct {
	Config *config.Config
	NewApp AppFactory
}

// NewRootCommand creates the famsync command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(func(ctx context.Context, cfg *config.Config, log logging.Logger) (*app.App, error) {
		return app.New(ctx, cfg, log)
	})
}

func newRootCommand(factory AppFactory) *cobra.Command {
	opts := &RootOptions{NewApp: factory}

	cmd := &cobra.Command{
		Use:   "famsync",
		Short: "famsync - offline-first sync for the family app",
		Long: `famsync keeps a local copy of family data (stories, events, messages,
the family tree and the vault) and synchronizes queued changes with the
sync authority whenever the device is online.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			opts.Config = cfg
			return nil
		},
	}

	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewConflictsCommand(opts))
	cmd.AddCommand(NewCacheCommand(opts))
	cmd.AddCommand(NewPutCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

func (o *RootOptions) logger(w io.Writer) logging.Logger {
	return logging.New(o.Config.LogLevel, o.Config.LogFormat, w)
}

// withApp opens the client for the duration of fn.
func (o *RootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := o.NewApp(ctx, o.Config, o.logger(cmd.ErrOrStderr()))
	if err != nil {
		return fmt.Errorf("failed to open famsync: %w", err)
	}
	defer a.Close()

	return fn(ctx, a)
}
