// Package netmon watches connectivity and wakes the sync processor when the
// device comes back online.
//
// A Monitor consumes a platform Source and turns its raw snapshots into
// network_change, connection_lost and connection_restored events.
// connection_restored is only reported after a known-offline state, so
// repeated "online" notifications never trigger a resync. After a restore
// the monitor waits SettleDelay and, if still online, calls the reconnect
// trigger.
package netmon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/famsync/internal/logging"
)

type Status string

const (
	StatusUnknown Status = "unknown"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

type EventKind string

const (
	EventNetworkChange      EventKind = "network_change"
	EventConnectionRestored EventKind = "connection_restored"
	EventConnectionLost     EventKind = "connection_lost"
)

const DefaultSettleDelay = 2 * time.Second

type Event struct {
	Kind         EventKind
	Status       Status
	Connectivity Connectivity
	At           time.Time
}

var ErrAlreadyStarted = errors.New("monitor already started")

type Option func(*Monitor)

// WithSettleDelay overrides DefaultSettleDelay.
func WithSettleDelay(d time.Duration) Option {
	return func(m *Monitor) { m.settle = d }
}

// WithReconnectTrigger sets the function called once the connection has
// been stable for the settle delay.
func WithReconnectTrigger(fn func(ctx context.Context)) Option {
	return func(m *Monitor) { m.trigger = fn }
}

func WithLogger(l logging.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

type Monitor struct {
	src     Source
	settle  time.Duration
	trigger func(ctx context.Context)
	log     logging.Logger
	now     func() time.Time

	mu          sync.Mutex
	status      Status
	wasOffline  bool
	running     bool
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	settleTimer *time.Timer
	settleGen   uint64

	subsMu  sync.Mutex
	nextSub int
	subs    map[int]func(Event)

	wg sync.WaitGroup
}

func New(src Source, opts ...Option) *Monitor {
	m := &Monitor{
		src:    src,
		settle: DefaultSettleDelay,
		log:    logging.Nop(),
		now:    time.Now,
		status: StatusUnknown,
		subs:   make(map[int]func(Event)),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With("module", "netmon")
	return m
}

// Start takes an initial snapshot and begins listening to the source.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.running = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	runCtx := m.ctx
	m.mu.Unlock()

	if c, err := m.src.Snapshot(runCtx); err != nil {
		m.log.Warn(runCtx, "initial connectivity snapshot failed", "error", err)
	} else {
		m.handle(c)
	}

	unsub := m.src.Subscribe(m.handle)
	m.mu.Lock()
	m.unsubscribe = unsub
	m.mu.Unlock()

	if r, ok := m.src.(Runner); ok {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := r.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				m.log.Error(runCtx, "connectivity source stopped", "error", err)
			}
		}()
	}
	return nil
}

// Stop cancels a pending reconnect trigger and waits for the source runner.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	unsub := m.unsubscribe
	m.unsubscribe = nil
	m.cancelSettleLocked()
	m.cancel()
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	m.wg.Wait()
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers fn for every event. Listeners run on the goroutine
// that delivered the platform notification and must not block.
func (m *Monitor) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, id)
			m.subsMu.Unlock()
		})
	}
}

func (m *Monitor) handle(c Connectivity) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}

	prev := m.status
	cur := StatusOffline
	if c.Connected {
		cur = StatusOnline
	}
	m.status = cur

	at := m.now()
	events := []Event{{Kind: EventNetworkChange, Status: cur, Connectivity: c, At: at}}

	if !c.Connected {
		if prev == StatusOnline {
			events = append(events, Event{Kind: EventConnectionLost, Status: cur, Connectivity: c, At: at})
		}
		m.wasOffline = true
		m.cancelSettleLocked()
	} else if m.wasOffline {
		m.wasOffline = false
		events = append(events, Event{Kind: EventConnectionRestored, Status: cur, Connectivity: c, At: at})
		m.scheduleSettleLocked()
	}
	ctx := m.ctx
	m.mu.Unlock()

	if prev != cur {
		m.log.Info(ctx, "connectivity changed", "from", prev, "to", cur, "transport", c.TransportType)
	}
	for _, e := range events {
		m.emit(ctx, e)
	}
}

func (m *Monitor) emit(ctx context.Context, e Event) {
	m.subsMu.Lock()
	fns := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subsMu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error(ctx, "network listener panicked", "event", e.Kind, "panic", r)
				}
			}()
			fn(e)
		}()
	}
}

func (m *Monitor) scheduleSettleLocked() {
	m.cancelSettleLocked()
	gen := m.settleGen
	m.wg.Add(1)
	m.settleTimer = time.AfterFunc(m.settle, func() {
		defer m.wg.Done()
		m.settled(gen)
	})
}

func (m *Monitor) cancelSettleLocked() {
	if m.settleTimer != nil && m.settleTimer.Stop() {
		m.wg.Done()
	}
	m.settleTimer = nil
	m.settleGen++
}

func (m *Monitor) settled(gen uint64) {
	m.mu.Lock()
	ok := gen == m.settleGen && m.running && m.status == StatusOnline
	if ok {
		m.settleTimer = nil
	}
	ctx := m.ctx
	m.mu.Unlock()

	if !ok || m.trigger == nil {
		return
	}
	m.log.Debug(ctx, "connection settled, triggering sync")
	m.trigger(ctx)
}
