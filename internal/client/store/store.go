// Package store is the durable local state of the sync engine. It owns the
// entities, sync_queue, conflict_log, cache_entries and metadata tables and
// exposes the multi-row operations that must commit atomically.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/famsync/internal/client/migrations"
	cacherepo "github.com/dmitrijs2005/famsync/internal/client/repositories/cache"
	"github.com/dmitrijs2005/famsync/internal/client/repositories/conflicts"
	"github.com/dmitrijs2005/famsync/internal/client/repositories/entities"
	"github.com/dmitrijs2005/famsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/famsync/internal/client/repositories/syncqueue"
	"github.com/dmitrijs2005/famsync/internal/dbx"
	"github.com/dmitrijs2005/famsync/internal/logging"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// Store is safe for concurrent use. The underlying pool holds a single
// connection, so writers serialize.
type Store struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
	log   logging.Logger
}

type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithIDGenerator overrides uuid.NewString for queue and conflict ids.
func WithIDGenerator(f func() string) Option {
	return func(s *Store) { s.newID = f }
}

// Open opens (creating if needed) the SQLite database at dsn. A plain file
// path gets WAL journaling, a busy timeout and foreign keys enabled.
// Migrations are not applied; call Migrate.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return New(db, opts...), nil
}

// New wraps an already opened database.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:    db,
		now:   time.Now,
		newID: uuid.NewString,
		log:   logging.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("module", "store")
	return s
}

func withPragmas(dsn string) string {
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") || strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if err := migrations.Up(ctx, s.db); err != nil {
		return err
	}
	s.log.Debug(ctx, "schema up to date")
	return nil
}

// NeedsMigration reports whether the stored schema version is behind.
func (s *Store) NeedsMigration(ctx context.Context) (bool, error) {
	return migrations.HasPending(ctx, s.db)
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) clock() time.Time {
	return s.now().UTC()
}

type repos struct {
	entities  *entities.SQLiteRepository
	queue     *syncqueue.SQLiteRepository
	conflicts *conflicts.SQLiteRepository
	cache     *cacherepo.SQLiteRepository
	meta      *metadata.SQLiteRepository
}

func reposFor(db dbx.DBTX) repos {
	return repos{
		entities:  entities.NewSQLiteRepository(db),
		queue:     syncqueue.NewSQLiteRepository(db),
		conflicts: conflicts.NewSQLiteRepository(db),
		cache:     cacherepo.NewSQLiteRepository(db),
		meta:      metadata.NewSQLiteRepository(db),
	}
}

// tx runs fn inside one transaction. fn must only use the repos it is given.
func (s *Store) tx(ctx context.Context, fn func(r repos) error) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(reposFor(tx))
	})
}

func (s *Store) direct() repos {
	return reposFor(s.db)
}
