package netmon

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/famsync/internal/logging"
)

// Pinger is anything that can cheaply prove the authority is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

const (
	DefaultPollInterval = 3 * time.Second
	DefaultPingTimeout  = 3 * time.Second
)

// PollingSource probes a Pinger on a fixed interval and reports a change
// whenever the result flips.
type PollingSource struct {
	fanout

	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	log      logging.Logger

	mu   sync.Mutex
	last *Connectivity
}

func NewPollingSource(p Pinger, interval, timeout time.Duration, log logging.Logger) *PollingSource {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	if log == nil {
		log = logging.Nop()
	}
	return &PollingSource{pinger: p, interval: interval, timeout: timeout, log: log}
}

func (s *PollingSource) Snapshot(ctx context.Context) (Connectivity, error) {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last != nil {
		return *last, nil
	}
	c := s.probe(ctx)
	s.mu.Lock()
	s.last = &c
	s.mu.Unlock()
	return c, nil
}

func (s *PollingSource) Subscribe(fn func(Connectivity)) func() {
	return s.subscribe(fn)
}

// Run probes until ctx is done.
func (s *PollingSource) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.poll(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *PollingSource) poll(ctx context.Context) {
	c := s.probe(ctx)
	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	changed := s.last == nil || s.last.Connected != c.Connected
	s.last = &c
	s.mu.Unlock()

	if changed {
		s.notify(c)
	}
}

func (s *PollingSource) probe(ctx context.Context) Connectivity {
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	c := Connectivity{TransportType: "grpc"}
	if err := s.pinger.Ping(pctx); err != nil {
		s.log.Debug(ctx, "ping failed", "error", err)
		c.Details = map[string]string{"error": err.Error()}
		return c
	}
	c.Connected = true
	return c
}
