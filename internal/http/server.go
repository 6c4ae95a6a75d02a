// Package http exposes the budget facade as a JSON API next to the live
// dashboard websocket.
package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"bilancio/internal/cache"
	applog "bilancio/internal/log"
	"bilancio/internal/middleware/ratelimit"
	"bilancio/internal/middleware/security"
	"bilancio/internal/middleware/trace"
	"bilancio/internal/services"
	"bilancio/internal/websocket"
)

const maxBodyBytes = 1 << 20

// Config holds HTTP server configuration
type Config struct {
	Addr string

	// RateLimit applies per client IP to /api routes
	RateLimit ratelimit.Config

	// TrustedProxies are CIDRs, beyond the private ranges, whose forwarded
	// headers are honoured
	TrustedProxies []string

	// OriginPatterns are the extra origins accepted on /ws
	OriginPatterns []string
}

type Server struct {
	http.Server
	budget   *services.BudgetService
	hub      *websocket.Hub
	limiter  *ratelimit.Limiter
	detector *security.Detector
	logger   *applog.Logger
	now      func() time.Time

	ready        atomic.Bool
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// server. hub may be nil, in which case /ws is not served.
func NewServer(cfg Config, budget *services.BudgetService, hub *websocket.Hub, logger *applog.Logger) (*Server, error) {
	if budget == nil {
		return nil, fmt.Errorf("budget service is required")
	}
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	s := &Server{
		budget:   budget,
		hub:      hub,
		limiter:  ratelimit.NewLimiter(cfg.RateLimit),
		detector: security.NewDetector(),
		logger:   logger.WithComponent(applog.ComponentHTTP),
		now:      time.Now,
	}
	for _, cidr := range cfg.TrustedProxies {
		if err := s.detector.AddTrustedProxy(cidr); err != nil {
			return nil, err
		}
	}

	api := http.NewServeMux()
	s.routes(api)
	limited := s.limiter.Middleware(s.detector.ClientIP, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded", RequestID: trace.FromRequest(r)})
	})(api)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	if hub != nil {
		mux.Handle("GET /ws", websocket.HandleWebSocket(hub, cfg.OriginPatterns...))
	}
	mux.Handle("/api/", limited)

	var h http.Handler = mux
	h = s.detector.Middleware(h)
	h = security.Headers(security.DefaultHeadersConfig())(h)
	h = applog.Middleware(s.logger, trace.FromRequest)(h)
	h = trace.Middleware(h)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.ready.Store(true)
	return s, nil
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("GET /api/dashboard", s.handleDashboard)

	mux.HandleFunc("GET /api/categories", s.handleListCategories)
	mux.HandleFunc("POST /api/categories", s.handleCreateCategory)
	mux.HandleFunc("PUT /api/categories/{id}", s.handleUpdateCategory)
	mux.HandleFunc("DELETE /api/categories/{id}", s.handleDeleteCategory)

	mux.HandleFunc("GET /api/members", s.handleListMembers)
	mux.HandleFunc("POST /api/members", s.handleCreateMember)
	mux.HandleFunc("PUT /api/members/{id}", s.handleUpdateMember)
	mux.HandleFunc("DELETE /api/members/{id}", s.handleDeleteMember)

	mux.HandleFunc("GET /api/transactions", s.handleListTransactions)
	mux.HandleFunc("POST /api/transactions", s.handleCreateTransaction)
	mux.HandleFunc("PUT /api/transactions/{id}", s.handleUpdateTransaction)
	mux.HandleFunc("DELETE /api/transactions/{id}", s.handleDeleteTransaction)

	mux.HandleFunc("GET /api/recurring", s.handleListRecurring)
	mux.HandleFunc("POST /api/recurring", s.handleCreateRecurring)
	mux.HandleFunc("PUT /api/recurring/{id}", s.handleUpdateRecurring)
	mux.HandleFunc("DELETE /api/recurring/{id}", s.handleDeleteRecurring)

	mux.HandleFunc("GET /api/limits", s.handleListLimits)
	mux.HandleFunc("PUT /api/limits", s.handleSetLimit)
	mux.HandleFunc("DELETE /api/limits/{id}", s.handleDeleteLimit)

	mux.HandleFunc("GET /api/invites", s.handleListInvites)
	mux.HandleFunc("POST /api/invites", s.handleSendInvite)
	mux.HandleFunc("PUT /api/invites/status", s.handleUpdateInviteStatus)

	mux.HandleFunc("GET /api/reports/{kind}", s.handleReport)
	mux.HandleFunc("POST /api/reports/{kind}/export", s.handleExportReport)

	mux.HandleFunc("POST /api/sync", s.handleSync)
	mux.HandleFunc("GET /api/sync/status", s.handleSyncStatus)
}

// Cleaners returns the caches owned by the server, for a cache.Manager.
func (s *Server) Cleaners() []cache.Cleaner {
	return []cache.Cleaner{s.limiter}
}

// Shutdown marks the server not ready and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.ready.Store(false)
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
