// Package syncqueue drains the local operation queue against the remote
// authority.
//
// A Processor is driven from outside: the host calls Tick from a timer, a
// reconnect trigger or a user action. Only one drain runs per process; a Tick
// that arrives during a drain returns immediately with Summary.Coalesced set.
// Each drain takes a bounded batch of eligible operations, sends them one at
// a time (or as one batch call per entity type for updates) and records the
// outcome of every operation in the local store. Per-operation failures never
// abort a drain; only store errors do.
package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmitrijs2005/famsync/internal/client/conflict"
	"github.com/dmitrijs2005/famsync/internal/client/models"
	"github.com/dmitrijs2005/famsync/internal/client/netmon"
	"github.com/dmitrijs2005/famsync/internal/client/store"
	"github.com/dmitrijs2005/famsync/internal/common"
	"github.com/dmitrijs2005/famsync/internal/logging"
)

const instrumentationName = "github.com/dmitrijs2005/famsync/internal/client/syncqueue"

const (
	DefaultBatchSize   = 50
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 5 * time.Second
	DefaultMaxBackoff  = time.Hour
)

// Remote is the remote-call collaborator.
type Remote interface {
	Invoke(ctx context.Context, procedure string, env models.Envelope) (*models.RemoteResult, error)
}

// BatchRemote can apply several envelopes in one call. Results are matched
// to envelopes by index.
type BatchRemote interface {
	Remote
	InvokeBatch(ctx context.Context, procedure string, envs []models.Envelope) ([]models.RemoteResult, error)
}

// Network reports connectivity; *netmon.Monitor implements it.
type Network interface {
	Status() netmon.Status
}

// Store is the part of the local store the processor works with.
type Store interface {
	GetPendingOperations(ctx context.Context, limit int) ([]models.Operation, error)
	BeginSyncing(ctx context.Context, id string) (*models.Operation, error)
	Get(ctx context.Context, entityType models.EntityType, id string) (*models.Entity, error)
	ApplySuccess(ctx context.Context, op models.Operation, res models.RemoteResult) error
	ApplyResolution(ctx context.Context, op models.Operation, res store.Resolution) error
	RecordUnresolved(ctx context.Context, opID string, rec models.ConflictRecord, reason string) error
	ScheduleRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastErr string) error
	FailOperation(ctx context.Context, id string, status models.OperationStatus, lastErr string) error
	SaveSyncState(ctx context.Context, at time.Time) (store.SyncState, error)
}

type Config struct {
	BatchSize   int
	MaxRetries  int
	BackoffBase time.Duration
	MaxBackoff  time.Duration
	// Batching sends same-type updates in one InvokeBatch call when the
	// remote supports it.
	Batching bool
	// DeviceID is used for operations that carry none.
	DeviceID string
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
}

// DefaultConfig returns the stock queue settings.
func DefaultConfig() Config {
	c := Config{MaxRetries: DefaultMaxRetries}
	c.applyDefaults()
	return c
}

// Summary describes one Tick.
type Summary struct {
	Total     int
	Synced    int
	Failed    int
	Retried   int
	Conflicts int
	Skipped   int

	// Pending and NeedsAttention are the queue counts after the drain.
	Pending        int64
	NeedsAttention int64

	// Coalesced is set when another drain was running and this Tick did
	// nothing. Offline is set when the drain was skipped for lack of
	// connectivity.
	Coalesced bool
	Offline   bool

	StartedAt time.Time
	Duration  time.Duration
}

type outcome string

const (
	outcomeSynced   outcome = "synced"
	outcomeRetried  outcome = "retried"
	outcomeFailed   outcome = "failed"
	outcomeConflict outcome = "conflict"
	outcomeSkipped  outcome = "skipped"
)

func (s *Summary) count(o outcome) {
	switch o {
	case outcomeSynced:
		s.Synced++
	case outcomeRetried:
		s.Retried++
	case outcomeFailed:
		s.Failed++
	case outcomeConflict:
		s.Conflicts++
	case outcomeSkipped:
		s.Skipped++
	}
}

type Option func(*Processor)

func WithConfig(c Config) Option {
	return func(p *Processor) { p.cfg = c }
}

func WithNetwork(n Network) Option {
	return func(p *Processor) { p.net = n }
}

func WithLogger(l logging.Logger) Option {
	return func(p *Processor) { p.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(p *Processor) { p.meterProvider = mp }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Processor) { p.tracerProvider = tp }
}

type Processor struct {
	store  Store
	remote Remote
	net    Network
	cfg    Config
	log    logging.Logger
	now    func() time.Time

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	opCounter      metric.Int64Counter
	drainDuration  metric.Float64Histogram

	running atomic.Bool

	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
}

func New(st Store, remote Remote, opts ...Option) *Processor {
	p := &Processor{
		store:     st,
		remote:    remote,
		cfg:       DefaultConfig(),
		log:       logging.Nop(),
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
	for _, o := range opts {
		o(p)
	}
	p.cfg.applyDefaults()
	p.log = p.log.With("module", "syncqueue")

	if p.meterProvider == nil {
		p.meterProvider = otel.GetMeterProvider()
	}
	if p.tracerProvider == nil {
		p.tracerProvider = otel.GetTracerProvider()
	}
	p.tracer = p.tracerProvider.Tracer(instrumentationName)

	meter := p.meterProvider.Meter(instrumentationName)
	var err error
	if p.opCounter, err = meter.Int64Counter("famsync.sync.operations",
		metric.WithDescription("Sync operations processed, by outcome")); err != nil {
		p.log.Warn(context.Background(), "failed to create counter", "error", err)
	}
	if p.drainDuration, err = meter.Float64Histogram("famsync.sync.drain.duration",
		metric.WithDescription("Duration of one queue drain"), metric.WithUnit("s")); err != nil {
		p.log.Warn(context.Background(), "failed to create histogram", "error", err)
	}
	return p
}

// AddListener registers l and returns a function that removes it.
func (p *Processor) AddListener(l Listener) (remove func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// Syncing reports whether a drain is in progress.
func (p *Processor) Syncing() bool {
	return p.running.Load()
}

// Tick runs one drain if none is running and the network is not known to be
// offline. The returned error is a store failure that aborted the drain.
func (p *Processor) Tick(ctx context.Context) (Summary, error) {
	if !p.running.CompareAndSwap(false, true) {
		p.log.Debug(ctx, "drain already running, coalescing")
		return Summary{Coalesced: true}, nil
	}
	defer p.running.Store(false)

	if p.net != nil && p.net.Status() == netmon.StatusOffline {
		p.log.Debug(ctx, "offline, skipping drain")
		return Summary{Offline: true}, nil
	}

	ctx, span := p.tracer.Start(ctx, "syncqueue.drain")
	defer span.End()

	start := p.now()
	summary := Summary{StartedAt: start.UTC()}
	p.each(ctx, "OnSyncStart", func(l Listener) { l.OnSyncStart() })

	err := p.drain(ctx, &summary)

	state, serr := p.store.SaveSyncState(ctx, p.now())
	if serr != nil {
		serr = fmt.Errorf("failed to save sync state: %w", serr)
		err = errors.Join(err, serr)
	} else {
		summary.Pending = state.Pending
		summary.NeedsAttention = state.NeedsAttention
	}
	summary.Duration = p.now().Sub(start)

	if p.drainDuration != nil {
		p.drainDuration.Record(ctx, summary.Duration.Seconds())
	}
	span.SetAttributes(
		attribute.Int("sync.total", summary.Total),
		attribute.Int("sync.synced", summary.Synced),
		attribute.Int("sync.failed", summary.Failed),
		attribute.Int("sync.conflicts", summary.Conflicts),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.log.Error(ctx, "drain aborted", "error", err)
	} else if summary.Total > 0 {
		p.log.Info(ctx, "drain finished",
			"total", summary.Total, "synced", summary.Synced, "retried", summary.Retried,
			"failed", summary.Failed, "conflicts", summary.Conflicts, "pending", summary.Pending)
	}

	p.each(ctx, "OnSyncComplete", func(l Listener) { l.OnSyncComplete(summary, err) })
	return summary, err
}

func (p *Processor) drain(ctx context.Context, summary *Summary) error {
	ops, err := p.store.GetPendingOperations(ctx, p.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch pending operations: %w", err)
	}
	summary.Total = len(ops)

	processed := 0
	for _, group := range p.plan(ops) {
		var outcomes []outcome
		if len(group) == 1 {
			o, err := p.processOne(ctx, group[0])
			if err != nil {
				return err
			}
			outcomes = []outcome{o}
		} else {
			outcomes, err = p.processBatch(ctx, group)
			if err != nil {
				return err
			}
		}

		for _, o := range outcomes {
			summary.count(o)
			if p.opCounter != nil {
				p.opCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(o))))
			}
		}
		processed += len(group)
		p.each(ctx, "OnSyncProgress", func(l Listener) { l.OnSyncProgress(processed, summary.Total) })
	}
	return nil
}

// plan groups operations into dispatch units. Without batching every
// operation is its own unit. With batching, updates of the same entity type
// are collected into one unit placed at the position of the first of them.
// The queue holds one active row per entity, so grouping never reorders
// operations of the same entity.
func (p *Processor) plan(ops []models.Operation) [][]models.Operation {
	_, canBatch := p.remote.(BatchRemote)
	if !p.cfg.Batching || !canBatch {
		groups := make([][]models.Operation, len(ops))
		for i, op := range ops {
			groups[i] = []models.Operation{op}
		}
		return groups
	}

	var groups [][]models.Operation
	byType := make(map[models.EntityType]int)
	for _, op := range ops {
		if op.Type != models.OpUpdate {
			groups = append(groups, []models.Operation{op})
			continue
		}
		if i, ok := byType[op.EntityType]; ok {
			groups[i] = append(groups[i], op)
			continue
		}
		byType[op.EntityType] = len(groups)
		groups = append(groups, []models.Operation{op})
	}
	return groups
}

// begin moves op to syncing and builds its envelope. A nil operation with a
// nil error means op was skipped or already settled.
func (p *Processor) begin(ctx context.Context, op models.Operation) (*models.Operation, models.Envelope, outcome, error) {
	dispatched, err := p.store.BeginSyncing(ctx, op.ID)
	if errors.Is(err, common.ErrSyncInProgress) || errors.Is(err, common.ErrorNotFound) {
		p.log.Debug(ctx, "operation no longer pending", "op", op.ID, "error", err)
		return nil, models.Envelope{}, outcomeSkipped, nil
	}
	if err != nil {
		return nil, models.Envelope{}, "", fmt.Errorf("failed to begin syncing %s: %w", op.ID, err)
	}

	env, err := p.envelope(ctx, *dispatched)
	if errors.Is(err, common.ErrValidation) {
		o, ferr := p.fail(ctx, *dispatched, err.Error())
		return nil, models.Envelope{}, o, ferr
	}
	if err != nil {
		return nil, models.Envelope{}, "", err
	}
	return dispatched, env, "", nil
}

func (p *Processor) processOne(ctx context.Context, op models.Operation) (outcome, error) {
	dispatched, env, o, err := p.begin(ctx, op)
	if dispatched == nil {
		return o, err
	}
	res, err := p.remote.Invoke(ctx, common.ProcedureApply, env)
	return p.classify(ctx, *dispatched, res, err)
}

func (p *Processor) processBatch(ctx context.Context, group []models.Operation) ([]outcome, error) {
	var (
		outcomes   []outcome
		dispatched []models.Operation
		envs       []models.Envelope
	)
	for _, op := range group {
		d, env, o, err := p.begin(ctx, op)
		if err != nil {
			return outcomes, err
		}
		if d == nil {
			outcomes = append(outcomes, o)
			continue
		}
		dispatched = append(dispatched, *d)
		envs = append(envs, env)
	}
	if len(dispatched) == 0 {
		return outcomes, nil
	}

	results, callErr := p.remote.(BatchRemote).InvokeBatch(ctx, common.ProcedureApplyBatch, envs)
	if callErr == nil && len(results) != len(dispatched) {
		callErr = fmt.Errorf("batch returned %d results for %d operations", len(results), len(dispatched))
	}

	for i, op := range dispatched {
		var (
			o   outcome
			err error
		)
		if callErr != nil {
			o, err = p.transient(ctx, op, callErr.Error())
		} else {
			o, err = p.classify(ctx, op, &results[i], nil)
		}
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

func (p *Processor) envelope(ctx context.Context, op models.Operation) (models.Envelope, error) {
	env := models.Envelope{
		OperationType: op.Type,
		EntityType:    op.EntityType,
		EntityID:      op.EntityID,
		Data:          op.Payload,
		DeviceID:      op.DeviceID,
		Timestamp:     op.UpdatedAt,
	}
	if env.DeviceID == "" {
		env.DeviceID = p.cfg.DeviceID
	}
	if op.Type != models.OpDelete && !models.IsJSONObject(op.Payload) {
		return env, fmt.Errorf("%w: payload of %s %s/%s is not a JSON object", common.ErrValidation, op.Type, op.EntityType, op.EntityID)
	}

	e, err := p.store.Get(ctx, op.EntityType, op.EntityID)
	switch {
	case errors.Is(err, common.ErrorNotFound):
	case err != nil:
		return env, fmt.Errorf("failed to load entity: %w", err)
	default:
		env.BaseVersion = e.SyncVersion
	}
	return env, nil
}

func (p *Processor) classify(ctx context.Context, op models.Operation, res *models.RemoteResult, callErr error) (outcome, error) {
	switch {
	case callErr != nil && errors.Is(callErr, common.ErrValidation):
		return p.fail(ctx, op, callErr.Error())
	case callErr != nil:
		return p.transient(ctx, op, callErr.Error())
	case res == nil:
		return p.transient(ctx, op, "empty remote result")
	case res.Success:
		if err := p.store.ApplySuccess(ctx, op, *res); err != nil {
			return "", fmt.Errorf("failed to apply success of %s: %w", op.ID, err)
		}
		return outcomeSynced, nil
	case res.Conflict != nil:
		return p.resolve(ctx, op, res.Conflict)
	case res.Error.IsValidation():
		return p.fail(ctx, op, res.Error.Error())
	case res.Error != nil:
		return p.transient(ctx, op, res.Error.Error())
	default:
		return p.transient(ctx, op, "remote reported neither success nor conflict")
	}
}

func (p *Processor) transient(ctx context.Context, op models.Operation, reason string) (outcome, error) {
	if op.RetryCount >= p.cfg.MaxRetries {
		p.log.Warn(ctx, "retries exhausted", "op", op.ID, "entity", op.EntityID, "error", reason)
		if err := p.store.FailOperation(ctx, op.ID, models.StatusFailed, reason); err != nil {
			return "", fmt.Errorf("failed to mark %s failed: %w", op.ID, err)
		}
		return outcomeFailed, nil
	}

	next := p.now().Add(Backoff(p.cfg.BackoffBase, p.cfg.MaxBackoff, op.RetryCount))
	p.log.Debug(ctx, "scheduling retry", "op", op.ID, "retry", op.RetryCount+1, "next", next, "error", reason)
	if err := p.store.ScheduleRetry(ctx, op.ID, op.RetryCount+1, next, reason); err != nil {
		return "", fmt.Errorf("failed to schedule retry of %s: %w", op.ID, err)
	}
	return outcomeRetried, nil
}

func (p *Processor) fail(ctx context.Context, op models.Operation, reason string) (outcome, error) {
	p.log.Warn(ctx, "operation rejected", "op", op.ID, "entity", op.EntityID, "error", reason)
	if err := p.store.FailOperation(ctx, op.ID, models.StatusFailed, reason); err != nil {
		return "", fmt.Errorf("failed to mark %s failed: %w", op.ID, err)
	}
	return outcomeFailed, nil
}

func (p *Processor) resolve(ctx context.Context, op models.Operation, rc *models.RemoteConflict) (outcome, error) {
	e, err := p.store.Get(ctx, op.EntityType, op.EntityID)
	if errors.Is(err, common.ErrorNotFound) {
		e = &models.Entity{
			ID:        op.EntityID,
			Type:      op.EntityType,
			IsDeleted: op.Type == models.OpDelete,
			UpdatedAt: op.UpdatedAt,
			DeviceID:  op.DeviceID,
			Payload:   op.Payload,
		}
	} else if err != nil {
		return "", fmt.Errorf("failed to load entity: %w", err)
	}

	rec := models.ConflictRecord{
		ID:             uuid.NewString(),
		EntityType:     op.EntityType,
		EntityID:       op.EntityID,
		LocalVersion:   e.SyncVersion,
		RemoteVersion:  rc.RemoteVersion,
		LocalPayload:   e.Payload,
		RemotePayload:  rc.Data,
		LocalDeviceID:  e.DeviceID,
		RemoteDeviceID: rc.DeviceID,
	}
	if ct, st, err := conflict.Policy(op.EntityType); err == nil {
		rec.ConflictType, rec.Strategy = ct, st
	}

	res, err := p.runResolve(e, rc)
	if err != nil {
		p.log.Warn(ctx, "conflict left unresolved", "op", op.ID, "entity", op.EntityID, "error", err)
		if err := p.store.RecordUnresolved(ctx, op.ID, rec, err.Error()); err != nil {
			return "", fmt.Errorf("failed to record unresolved conflict: %w", err)
		}
		p.each(ctx, "OnConflict", func(l Listener) { l.OnConflict(rec) })
		return outcomeConflict, nil
	}

	payload, err := models.EncodePayload(res.Data)
	if err != nil {
		return "", fmt.Errorf("failed to encode resolution: %w", err)
	}
	rec.ConflictType = res.ConflictType
	rec.Strategy = res.Strategy
	rec.ResolvedPayload = payload

	err = p.store.ApplyResolution(ctx, op, store.Resolution{
		Record:        rec,
		Payload:       payload,
		Deleted:       res.Deleted,
		UpdatedAt:     res.UpdatedAt,
		RemoteVersion: rc.RemoteVersion,
		RemotePayload: rc.Data,
		RemoteDeleted: rc.Deleted,
		MatchesRemote: res.MatchesRemote,
	})
	if err != nil {
		return "", fmt.Errorf("failed to apply resolution: %w", err)
	}

	now := p.now().UTC()
	rec.CreatedAt = now
	rec.ResolvedAt = &now
	p.log.Info(ctx, "conflict resolved", "entity_type", op.EntityType, "entity", op.EntityID,
		"strategy", res.Strategy, "matches_remote", res.MatchesRemote)
	p.each(ctx, "OnConflict", func(l Listener) { l.OnConflict(rec) })
	return outcomeConflict, nil
}

func (p *Processor) runResolve(e *models.Entity, rc *models.RemoteConflict) (conflict.Resolution, error) {
	local, err := conflict.FromEntity(e)
	if err != nil {
		return conflict.Resolution{}, err
	}
	base, err := conflict.BaseOf(e)
	if err != nil {
		return conflict.Resolution{}, err
	}
	remote, err := conflict.FromRemote(e.Type, rc)
	if err != nil {
		return conflict.Resolution{}, err
	}
	return conflict.Resolve(e.Type, local, remote, base)
}

// each calls fn for every listener, recovering listener panics.
func (p *Processor) each(ctx context.Context, name string, fn func(Listener)) {
	p.mu.Lock()
	ls := make([]Listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		ls = append(ls, l)
	}
	p.mu.Unlock()

	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.log.Error(ctx, "sync listener panicked", "callback", name, "panic", r)
				}
			}()
			fn(l)
		}()
	}
}
