// Package http exposes the bookkeeper over a small JSON and text API.
//
// Callers are authenticated upstream; the proxy in front of this server
// passes the resolved identity in X-Session, X-Sender-ID, X-Sender-Name and
// X-Admin headers.
package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"bookkeeper/internal/core"
	"bookkeeper/internal/log"
	"bookkeeper/internal/middleware/ratelimit"
	"bookkeeper/internal/services"
)

// Service is the bookkeeper operation set served over HTTP.
type Service interface {
	AddExpense(ctx context.Context, caller services.Caller, fact services.ExpenseFact, auto bool) (services.AddOutcome, error)
	Today(caller services.Caller) string
	Month(caller services.Caller) string
	Summary(caller services.Caller) (string, error)
	Range(caller services.Caller, start, end core.Date) (string, error)
	Delete(ctx context.Context, caller services.Caller, scope core.Scope, ordinal int) (core.ExpenseRecord, error)

	Status(caller services.Caller) (string, error)
	Schedule() core.ScheduleConfig
	SetSchedule(ctx context.Context, caller services.Caller, cfg core.ScheduleConfig) error
	SetTimezone(ctx context.Context, caller services.Caller, name string) error
	SetAutoExtract(ctx context.Context, caller services.Caller, enabled bool) error
	Whitelist(caller services.Caller) (core.Whitelist, error)
	SetWhitelist(ctx context.Context, caller services.Caller, enabled, adminBypass bool) error
	AddToWhitelist(ctx context.Context, caller services.Caller, senderID string) (bool, error)
	RemoveFromWhitelist(ctx context.Context, caller services.Caller, senderID string) (bool, error)
}

var _ Service = (*services.Bookkeeper)(nil)

// Options configures a Server.
type Options struct {
	Logger *log.Logger
	// RequestsPerMinute bounds expense writes per sender. Zero uses the
	// limiter default.
	RequestsPerMinute int
}

type Server struct {
	http.Server
	svc     Service
	limiter *ratelimit.Limiter
	logger  *log.Logger

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, svc Service, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	logger := opts.Logger.WithComponent(log.ComponentHTTP)
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RequestsPerMinute})

	s := &Server{
		svc:     svc,
		limiter: limiter,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)

	limitWrites := limiter.Middleware(senderKey)
	mux.Handle("POST /api/expenses", limitWrites(http.HandlerFunc(s.handleCreateExpense)))
	mux.HandleFunc("DELETE /api/expenses/{scope}/{ordinal}", s.handleDeleteExpense)
	mux.HandleFunc("GET /api/reports/today", s.handleToday)
	mux.HandleFunc("GET /api/reports/month", s.handleMonth)
	mux.HandleFunc("GET /api/reports/summary", s.handleSummary)
	mux.HandleFunc("GET /api/reports/range", s.handleRange)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/admin/schedule", s.handleGetSchedule)
	mux.HandleFunc("PUT /api/admin/schedule", s.handleSetSchedule)
	mux.HandleFunc("PUT /api/admin/timezone", s.handleSetTimezone)
	mux.HandleFunc("PUT /api/admin/auto-extract", s.handleSetAutoExtract)
	mux.HandleFunc("GET /api/admin/whitelist", s.handleGetWhitelist)
	mux.HandleFunc("PUT /api/admin/whitelist", s.handleSetWhitelist)
	mux.HandleFunc("POST /api/admin/whitelist/{id}", s.handleWhitelistAdd)
	mux.HandleFunc("DELETE /api/admin/whitelist/{id}", s.handleWhitelistRemove)

	var handler http.Handler = mux
	handler = withSecurityHeaders(handler)
	handler = log.AccessLog()(handler)
	handler = log.RequestIDMiddleware(requestID)(handler)
	handler = log.Middleware(logger)(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "HTTP server listening", "addr", s.Addr)
		errCh <- s.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}

// Shutdown gracefully shuts down the server and the limiter cleanup routine.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

// withSecurityHeaders sets the headers every API response carries.
func withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
