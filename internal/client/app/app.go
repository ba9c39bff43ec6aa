// Package app assembles the famsync client: local store, authority
// transport, cache, connectivity monitor and sync queue processor, and runs
// them as one host loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/famsync/internal/client/cache"
	"github.com/dmitrijs2005/famsync/internal/client/client"
	"github.com/dmitrijs2005/famsync/internal/client/config"
	"github.com/dmitrijs2005/famsync/internal/client/netmon"
	"github.com/dmitrijs2005/famsync/internal/client/services"
	"github.com/dmitrijs2005/famsync/internal/client/store"
	"github.com/dmitrijs2005/famsync/internal/client/syncqueue"
	"github.com/dmitrijs2005/famsync/internal/common"
	"github.com/dmitrijs2005/famsync/internal/filex"
	"github.com/dmitrijs2005/famsync/internal/logging"
)

// staleSyncing is how long a syncing row may sit untouched before the
// maintenance sweep treats it as abandoned by a failed drain.
const staleSyncing = time.Minute

type App struct {
	cfg *config.Config
	log logging.Logger

	Store     *store.Store
	Remote    client.Client
	Auth      *services.AuthService
	Entities  *services.EntityService
	Cache     *cache.Manager
	Monitor   *netmon.Monitor
	Processor *syncqueue.Processor

	blobs     cache.BlobStore
	source    netmon.Source
	storeOpts []store.Option
}

type Option func(*App)

// WithClient replaces the gRPC transport, e.g. with a fake in tests.
func WithClient(c client.Client) Option {
	return func(a *App) { a.Remote = c }
}

// WithSource replaces the connectivity source chosen from the config.
func WithSource(s netmon.Source) Option {
	return func(a *App) { a.source = s }
}

// WithClock sets the clock the local store stamps rows with.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.storeOpts = append(a.storeOpts, store.WithClock(now)) }
}

// WithBlobStore replaces the blob store chosen from the config.
func WithBlobStore(b cache.BlobStore) Option {
	return func(a *App) { a.blobs = b }
}

// New opens the local store, applies migrations and wires every component.
// The returned App owns the store and the transport; call Close.
func New(ctx context.Context, cfg *config.Config, log logging.Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = logging.Nop()
	}
	a := &App{cfg: cfg, log: log}
	for _, o := range opts {
		o(a)
	}

	if _, err := filex.EnsureDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	st, err := store.Open(ctx, cfg.DBPath, append([]store.Option{store.WithLogger(log)}, a.storeOpts...)...)
	if err != nil {
		return nil, err
	}
	a.Store = st

	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	if err := a.Store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate local store: %w", err)
	}

	a.Auth = services.NewAuthService(a.Store, nil)
	deviceID, err := a.Auth.DeviceID(ctx)
	if err != nil {
		return err
	}
	token, err := a.Auth.Token(ctx)
	if err != nil {
		return err
	}

	if a.Remote == nil {
		a.Remote, err = client.New(a.cfg.AuthorityAddr,
			client.WithAccessToken(token),
			client.WithDeviceID(deviceID),
			client.WithLogger(a.log),
			client.WithTokenRefresher(a.Auth.Token),
		)
		if err != nil {
			return err
		}
	}
	a.Auth = services.NewAuthService(a.Store, a.Remote)

	if a.blobs == nil {
		if a.blobs, err = a.blobStore(ctx); err != nil {
			return err
		}
	}
	a.Cache = cache.NewManager(a.Store, a.blobs,
		cache.WithLogger(a.log),
		cache.WithCleanupInterval(a.cfg.CacheCleanupInterval),
		cache.WithStorageProbe(a.cfg.CacheDir, a.cfg.LowStorageThreshold, nil),
	)

	a.Entities = services.NewEntityService(a.Store,
		services.WithCache(a.Cache),
		services.WithDeviceID(deviceID),
		services.WithLogger(a.log),
	)

	if a.source == nil {
		a.source = a.connectivitySource(deviceID)
	}
	a.Monitor = netmon.New(a.source,
		netmon.WithSettleDelay(a.cfg.SettleDelay),
		netmon.WithLogger(a.log),
		netmon.WithReconnectTrigger(func(ctx context.Context) {
			if _, err := a.Processor.Tick(ctx); err != nil {
				a.log.Error(ctx, "reconnect sync failed", "error", err)
			}
		}),
	)

	a.Processor = syncqueue.New(a.Store, a.Remote,
		syncqueue.WithConfig(syncqueue.Config{
			BatchSize:   a.cfg.BatchSize,
			MaxRetries:  a.cfg.MaxRetries,
			BackoffBase: a.cfg.BackoffBase,
			MaxBackoff:  a.cfg.MaxBackoff,
			Batching:    a.cfg.Batching,
			DeviceID:    deviceID,
		}),
		syncqueue.WithNetwork(a.Monitor),
		syncqueue.WithLogger(a.log),
	)
	return nil
}

func (a *App) blobStore(ctx context.Context) (cache.BlobStore, error) {
	if a.cfg.S3.Bucket != "" {
		return cache.NewS3BlobStore(ctx, a.cfg.S3)
	}
	dir, err := filex.EnsureDir(a.cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return cache.NewFileBlobStore(dir, nil)
}

func (a *App) connectivitySource(deviceID string) netmon.Source {
	if a.cfg.PresenceURL == "" {
		return netmon.NewPollingSource(a.Remote, a.cfg.OnlineCheckInterval, 0, a.log)
	}
	return netmon.NewWebSocketSource(a.cfg.PresenceURL,
		netmon.WithSourceLogger(a.log),
		netmon.WithHeader(func() http.Header {
			h := http.Header{}
			h.Set(common.DeviceIDHTTPHeader, deviceID)
			if token, err := a.Auth.Token(context.Background()); err == nil && token != "" {
				h.Set("Authorization", "Bearer "+token)
			}
			return h
		}),
	)
}

// SetToken stores the access token and hands it to the live transport.
func (a *App) SetToken(ctx context.Context, token string) error {
	if err := a.Auth.SetToken(ctx, token); err != nil {
		return err
	}
	stored, err := a.Auth.Token(ctx)
	if err != nil {
		return err
	}
	a.Remote.SetAccessToken(stored)
	return nil
}

// SyncNow runs one foreground drain.
func (a *App) SyncNow(ctx context.Context) (syncqueue.Summary, error) {
	return a.Processor.Tick(ctx)
}

// Run recovers operations left in flight by a previous process, then runs
// the connectivity monitor, the sync ticker, the cache loop and tombstone
// collection until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if _, err := a.Store.ReclaimStale(ctx, 0); err != nil {
		return fmt.Errorf("failed to reclaim stale operations: %w", err)
	}

	if err := a.Monitor.Start(ctx); err != nil {
		return err
	}
	defer a.Monitor.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.syncLoop(ctx) })
	g.Go(func() error { return a.Cache.Start(ctx) })
	g.Go(func() error { return a.maintenanceLoop(ctx) })

	a.log.Info(ctx, "famsync client started", "authority", a.cfg.AuthorityAddr, "db", a.cfg.DBPath)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) syncLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		if _, err := a.Processor.Tick(ctx); err != nil && ctx.Err() == nil {
			a.log.Error(ctx, "sync tick failed", "error", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

func (a *App) maintenanceLoop(ctx context.Context) error {
	if a.cfg.MaintenanceInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(a.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.Maintain(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Maintain returns operations stuck in syncing to the queue and collects
// synced tombstones older than the retention period.
func (a *App) Maintain(ctx context.Context) {
	if !a.Processor.Syncing() {
		if _, err := a.Store.ReclaimStale(ctx, staleSyncing); err != nil {
			a.log.Error(ctx, "stale operation sweep failed", "error", err)
		}
	}
	if _, err := a.Store.PurgeTombstones(ctx, a.cfg.TombstoneRetention); err != nil {
		a.log.Error(ctx, "tombstone purge failed", "error", err)
	}
}

func (a *App) Close() error {
	var errs []error
	if a.Cache != nil {
		a.Cache.Close()
	}
	if a.Remote != nil {
		errs = append(errs, a.Remote.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
