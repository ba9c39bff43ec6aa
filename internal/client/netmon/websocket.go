package netmon

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/famsync/internal/logging"
)

const (
	DefaultMinRedial   = 500 * time.Millisecond
	DefaultMaxRedial   = 30 * time.Second
	DefaultReadTimeout = 60 * time.Second

	controlWait = time.Second
)

// WebSocketSource treats an open presence socket to the authority as
// "connected". The socket is redialed with capped exponential backoff.
type WebSocketSource struct {
	fanout

	url       string
	header    func() http.Header
	dialer    *websocket.Dialer
	minRedial time.Duration
	maxRedial time.Duration
	readWait  time.Duration
	log       logging.Logger

	mu        sync.Mutex
	connected bool
}

type WebSocketOption func(*WebSocketSource)

// WithHeader sets a function producing the dial headers, called on every
// dial so a refreshed token is picked up.
func WithHeader(fn func() http.Header) WebSocketOption {
	return func(s *WebSocketSource) { s.header = fn }
}

func WithRedialBackoff(minDelay, maxDelay time.Duration) WebSocketOption {
	return func(s *WebSocketSource) {
		s.minRedial = minDelay
		s.maxRedial = maxDelay
	}
}

// WithReadTimeout sets how long the socket may stay silent before it is
// treated as dead. The source pings at half that interval.
func WithReadTimeout(d time.Duration) WebSocketOption {
	return func(s *WebSocketSource) { s.readWait = d }
}

func WithSourceLogger(l logging.Logger) WebSocketOption {
	return func(s *WebSocketSource) { s.log = l }
}

func NewWebSocketSource(url string, opts ...WebSocketOption) *WebSocketSource {
	s := &WebSocketSource{
		url:       url,
		header:    func() http.Header { return nil },
		dialer:    &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		minRedial: DefaultMinRedial,
		maxRedial: DefaultMaxRedial,
		readWait:  DefaultReadTimeout,
		log:       logging.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *WebSocketSource) Snapshot(_ context.Context) (Connectivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), nil
}

func (s *WebSocketSource) Subscribe(fn func(Connectivity)) func() {
	return s.subscribe(fn)
}

// Run keeps a presence socket open until ctx is done.
func (s *WebSocketSource) Run(ctx context.Context) error {
	for {
		conn, err := s.dial(ctx)
		if err != nil {
			return nil
		}

		s.set(true)
		s.readUntilClosed(ctx, conn)
		s.set(false)

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *WebSocketSource) dial(ctx context.Context) (*websocket.Conn, error) {
	b := retry.WithCappedDuration(s.maxRedial, retry.NewExponential(s.minRedial))

	var conn *websocket.Conn
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		c, resp, err := s.dialer.DialContext(ctx, s.url, s.header())
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			s.log.Debug(ctx, "presence dial failed", "url", s.url, "error", err)
			s.set(false)
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// readUntilClosed blocks until the socket fails, goes silent for longer
// than the read timeout or ctx is done. Any frame, ping or pong from the
// authority extends the deadline.
func (s *WebSocketSource) readUntilClosed(ctx context.Context, conn *websocket.Conn) {
	extend := func() error {
		return conn.SetReadDeadline(time.Now().Add(s.readWait))
	}
	_ = extend()
	conn.SetPongHandler(func(string) error { return extend() })
	conn.SetPingHandler(func(data string) error {
		_ = extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(controlWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.readWait / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(controlWait))
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWait)); err != nil {
					conn.Close()
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if ctx.Err() == nil {
				s.log.Info(ctx, "presence socket closed", "error", err)
			}
			conn.Close()
			return
		}
		_ = extend()
	}
}

func (s *WebSocketSource) set(connected bool) {
	s.mu.Lock()
	if s.connected == connected {
		s.mu.Unlock()
		return
	}
	s.connected = connected
	c := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(c)
}

func (s *WebSocketSource) snapshotLocked() Connectivity {
	return Connectivity{
		Connected:     s.connected,
		TransportType: "websocket",
		Details:       map[string]string{"url": s.url},
	}
}
