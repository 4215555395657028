// ABOUTME: Local HTTP API server the desktop view layer talks to
// ABOUTME: Wires routes, bearer auth, rate limiting and graceful shutdown

package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/toolshell/internal/auth"
	"github.com/2389/toolshell/internal/hostapi"
	"github.com/2389/toolshell/internal/shell"
	"github.com/2389/toolshell/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Config contains the collaborators of a Server.
type Config struct {
	Shell *shell.Shell

	// Audit backs GET /api/audit; nil reports the log as disabled.
	Audit store.AuditStore

	// Notifications backs GET /api/notifications when set.
	Notifications *hostapi.Notifier

	// Verifier enables bearer auth on every /api route when set.
	Verifier auth.TokenVerifier

	// RateLimit caps requests per second across all clients; zero disables it.
	RateLimit float64
	RateBurst int

	Logger *slog.Logger
}

// Server exposes a Shell over HTTP.
type Server struct {
	shell         *shell.Shell
	audit         store.AuditStore
	notifications *hostapi.Notifier
	logger        *slog.Logger
	handler       http.Handler
}

// New builds the server and its routes.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		shell:         cfg.Shell,
		audit:         cfg.Audit,
		notifications: cfg.Notifications,
		logger:        logger.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	read := func(h http.HandlerFunc) http.Handler { return auth.RequireScope(auth.ScopeRead)(h) }
	write := func(h http.HandlerFunc) http.Handler { return auth.RequireScope(auth.ScopeWrite)(h) }

	api := http.NewServeMux()
	api.Handle("GET /api/modules", read(s.handleListModules))
	api.Handle("GET /api/modules/{id}", read(s.handleGetModule))
	api.Handle("POST /api/modules/enable-all", write(s.handleEnableAll))
	api.Handle("POST /api/modules/disable-all", write(s.handleDisableAll))
	api.Handle("POST /api/modules/{id}/enable", write(s.handleEnable))
	api.Handle("POST /api/modules/{id}/disable", write(s.handleDisable))
	api.Handle("POST /api/modules/{id}/toggle", write(s.handleToggle))
	api.Handle("POST /api/modules/{id}/run", write(s.handleRun))
	api.Handle("GET /api/modules/{id}/probe", read(s.handleProbe))
	api.Handle("GET /api/permissions", read(s.handlePermissions))
	api.Handle("GET /api/audit", read(s.handleAudit))
	api.Handle("GET /api/notifications", read(s.handleNotifications))
	api.Handle("GET /api/stats", read(s.handleStats))

	var apiHandler http.Handler = api
	if cfg.Verifier != nil {
		apiHandler = auth.HTTPAuthMiddleware(cfg.Verifier, s.logger)(apiHandler)
	} else {
		s.logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}
	mux.Handle("/api/", apiHandler)

	var root http.Handler = mux
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit) + 1
		}
		root = rateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimit), burst), root)
	}
	s.handler = s.logRequests(root)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve accepts connections on ln until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("api listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("api stopped")
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// rateLimit rejects requests beyond the limiter's budget with 429.
func rateLimit(limiter *rate.Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			sendJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
