// Package server assembles the reference authority: the record storage
// backend, the authority service, the gRPC endpoint and the admin HTTP
// router with its presence hub. It handles graceful shutdown on signals.
package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/famsync/internal/logging"
	"github.com/dmitrijs2005/famsync/internal/server/admin"
	"github.com/dmitrijs2005/famsync/internal/server/auth"
	"github.com/dmitrijs2005/famsync/internal/server/config"
	"github.com/dmitrijs2005/famsync/internal/server/presence"
	"github.com/dmitrijs2005/famsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/famsync/internal/server/services"

	gs "github.com/dmitrijs2005/famsync/internal/server/grpc"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	repomanager repomanager.RepositoryManager
	hub         *presence.Hub
	authority   *services.AuthorityService
	grpcServer  *gs.GRPCServer
	adminServer *admin.Server
}

// NewApp opens the storage backend, applies migrations and wires the servers.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	var rm repomanager.RepositoryManager
	if c.DatabaseDSN == "" {
		logger.Warn(ctx, "no database configured, records are kept in memory")
		rm = repomanager.NewMemoryRepositoryManager()
	} else {
		pg, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		rm = pg
	}

	if err := rm.RunMigrations(ctx); err != nil {
		_ = rm.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	hub := presence.NewHub(logger)
	authority := services.NewAuthorityService(rm,
		services.WithNotifier(hub),
		services.WithLogger(logger),
	)

	app := &App{
		config:      c,
		logger:      logger,
		repomanager: rm,
		hub:         hub,
		authority:   authority,
		grpcServer:  gs.NewGRPCServer(c.EndpointAddrGRPC, logger, authority, c.SecretKey),
	}
	if c.EndpointAddrHTTP != "" {
		app.adminServer = admin.NewServer(c.EndpointAddrHTTP, admin.NewRouter(hub, c.SecretKey, logger), logger)
	}
	return app, nil
}

// MintToken writes an access token for config.MintTokenFor to w. It does
// nothing when no user id is configured.
func (app *App) MintToken(w io.Writer) error {
	if app.config.MintTokenFor == "" {
		return nil
	}
	tok, err := auth.GenerateToken(app.config.MintTokenFor, []byte(app.config.SecretKey), app.config.AccessTokenValidityDuration)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, tok)
	return err
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	done := make(chan struct{})
	go func() {
		select {
		case <-sigs:
			cancelFunc()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

// Run serves until ctx is cancelled, a signal arrives or a server fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	stop := app.initSignalHandler(cancelFunc)
	defer stop()

	app.logger.Info(ctx, "Starting authority...")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.grpcServer.Run(ctx) })
	if app.adminServer != nil {
		g.Go(func() error { return app.adminServer.Run(ctx) })
	}

	err := g.Wait()
	if cerr := app.repomanager.Close(); cerr != nil {
		app.logger.Error(ctx, "failed to close storage", "error", cerr)
	}
	app.logger.Info(ctx, "Authority stopped")
	return err
}
