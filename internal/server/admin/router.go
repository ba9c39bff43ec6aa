// Package admin serves the authority's HTTP side: a health probe and the
// WebSocket presence endpoint clients use as their connectivity signal.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrijs2005/famsync/internal/common"
	"github.com/dmitrijs2005/famsync/internal/logging"
	"github.com/dmitrijs2005/famsync/internal/server/auth"
)

// Presence accepts authenticated presence sockets.
type Presence interface {
	Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, userID, deviceID string)
}

type handler struct {
	presence  Presence
	jwtSecret []byte
	clock     func() time.Time
	log       logging.Logger
}

type healthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter builds the admin routes.
func NewRouter(p Presence, secretKey string, l logging.Logger) http.Handler {
	h := &handler{
		presence:  p,
		jwtSecret: []byte(secretKey),
		clock:     time.Now,
		log:       l.With("module", "admin_http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Get("/ws", h.ws)
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "OK", Time: h.clock().UTC()})
}

func bearerToken(r *http.Request) string {
	if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func (h *handler) ws(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing token"})
		return
	}
	userID, err := auth.GetUserIDFromToken(token, h.jwtSecret)
	if errors.Is(err, common.ErrTokenExpired) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: common.ErrTokenExpired.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: common.ErrInvalidToken.Error()})
		return
	}

	deviceID := r.Header.Get(common.DeviceIDHTTPHeader)
	if deviceID == "" {
		deviceID = r.URL.Query().Get("device_id")
	}
	h.presence.Serve(r.Context(), w, r, userID, deviceID)
}

// Server runs the admin router on addr.
type Server struct {
	address string
	handler http.Handler
	log     logging.Logger
}

func NewServer(addr string, h http.Handler, l logging.Logger) *Server {
	return &Server{address: addr, handler: h, log: l.With("module", "admin_http")}
}

// Run listens until ctx is cancelled, then shuts down. Request contexts
// derive from ctx so hijacked presence sockets close with it.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "Starting admin HTTP server", "address", lis.Addr().String())
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info(ctx, "Stopping admin HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
