// Package httpserver hosts the dispatch coordinator behind an HTTP
// endpoint, with token auth, per-caller rate limiting, and idempotent
// replay for JSON callers.
package httpserver

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mr-tron/base58/base58"

	"switchboard/go-daemon/internal/platform/metrics"
	"switchboard/go-daemon/internal/platform/ratelimiter"
	"switchboard/go-daemon/pkg/dispatch"
)

const DefaultListenAddr = "127.0.0.1:8686"

const rpcTokenHeader = "X-Switchboard-RPC-Token"

type Server struct {
	httpServer      *http.Server
	coord           *dispatch.Coordinator
	logger          *slog.Logger
	metrics         *metrics.Set
	limiter         *ratelimiter.MapLimiter
	replays         *replayCache
	token           string
	requireAuth     bool
	allowNullOrigin bool
}

// Options carries everything New needs beyond the address and coordinator.
// Zero values are usable: no token plus no RequireAuth runs the endpoint
// open, a nil RateLimit disables limiting, a nil Metrics set gets its own
// isolated registry.
type Options struct {
	ServicePath     string
	Token           string
	RequireAuth     bool
	AllowNullOrigin bool
	RateLimit       *ratelimiter.MapLimiter
	Metrics         *metrics.Set
	Logger          *slog.Logger
}

func New(addr string, coord *dispatch.Coordinator, opts Options) *Server {
	if addr == "" {
		addr = DefaultListenAddr
	}
	servicePath := opts.ServicePath
	if servicePath == "" {
		servicePath = "/rpc"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	set := opts.Metrics
	if set == nil {
		set = metrics.NewSet()
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		coord:           coord,
		logger:          logger,
		metrics:         set,
		limiter:         opts.RateLimit,
		replays:         newReplayCache(),
		token:           strings.TrimSpace(opts.Token),
		requireAuth:     opts.RequireAuth,
		allowNullOrigin: opts.AllowNullOrigin,
	}
	if s.token == "" && !s.requireAuth {
		logger.Warn("rpc token is not set; requests are unauthenticated")
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc(servicePath, s.handleRPC)
	mux.Handle("/metrics", set.Handler())
	return s
}

// Handler exposes the mux so tests can drive the server through httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	default:
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin != "" && !s.isAllowedOrigin(origin) {
		http.Error(w, "origin is not allowed", http.StatusForbidden)
		return false
	}
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, X-Switchboard-RPC-Token, X-Switchboard-Idempotency-Key")
	return true
}

func (s *Server) isAllowedOrigin(raw string) bool {
	if raw == "null" {
		return s.allowNullOrigin
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.TrimSpace(u.Hostname())
	if host == "" {
		return false
	}
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

// authorized decides whether a request carrying token may invoke method.
// Methods tagged with a permission always need the shared token, even when
// the endpoint otherwise runs open.
func (s *Server) authorized(method, token string) bool {
	if perm := s.methodPermission(method); perm != "" {
		return s.token != "" && token == s.token
	}
	if s.token == "" && !s.requireAuth {
		return true
	}
	if s.token == "" {
		return false
	}
	return token == s.token
}

func (s *Server) methodPermission(method string) string {
	desc, ok := s.coord.Lookup(method)
	if !ok {
		return ""
	}
	return desc.Permission()
}

func (s *Server) extractToken(r *http.Request) string {
	token := strings.TrimSpace(r.Header.Get(rpcTokenHeader))
	if token != "" {
		return token
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return ""
}

// MintToken generates a fresh shared secret for the rpc endpoint.
func MintToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "rpc_" + base58.Encode(buf), nil
}
