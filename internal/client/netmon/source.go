package netmon

import (
	"context"
	"maps"
	"sync"
)

// Connectivity is one snapshot reported by a platform source.
type Connectivity struct {
	Connected     bool
	TransportType string
	Details       map[string]string
}

// Source is the platform collaborator that knows whether the device is
// connected.
type Source interface {
	Snapshot(ctx context.Context) (Connectivity, error)
	Subscribe(fn func(Connectivity)) (unsubscribe func())
}

// Runner is implemented by sources that have to be driven by a goroutine
// (probing, socket reads). The monitor runs them between Start and Stop.
type Runner interface {
	Run(ctx context.Context) error
}

// fanout keeps the subscriber list shared by every source.
type fanout struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Connectivity)
}

func (f *fanout) subscribe(fn func(Connectivity)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[int]func(Connectivity))
	}
	id := f.next
	f.next++
	f.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

func (f *fanout) notify(c Connectivity) {
	f.mu.Lock()
	fns := make([]func(Connectivity), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// ManualSource is pushed by the host, typically from a mobile or desktop
// bridge that already observes the OS network state.
type ManualSource struct {
	fanout

	mu      sync.Mutex
	current Connectivity
}

func NewManualSource(initial Connectivity) *ManualSource {
	return &ManualSource{current: initial}
}

func (s *ManualSource) Snapshot(_ context.Context) (Connectivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.current
	c.Details = maps.Clone(c.Details)
	return c, nil
}

func (s *ManualSource) Subscribe(fn func(Connectivity)) func() {
	return s.subscribe(fn)
}

// Set records c and delivers it to subscribers synchronously.
func (s *ManualSource) Set(c Connectivity) {
	s.mu.Lock()
	s.current = c
	s.mu.Unlock()
	s.notify(c)
}
