package httpserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bot-financas/internal/metrics"
	"bot-financas/internal/repo"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is anything with a connectivity check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sweeper drops expired confirmation contexts.
type Sweeper interface {
	Sweep(ctx context.Context) int
}

// UserLinker moves an existing user, ledger included, onto another WhatsApp number.
type UserLinker interface {
	GetUserByWA(ctx context.Context, waID string) (*repo.User, error)
	LinkWhatsApp(ctx context.Context, userID, waID string) error
}

// Dependencies exposes core dependencies to handlers that need them.
// Nil fields are skipped by the readiness check.
type Dependencies struct {
	Repository Pinger
	Redis      Pinger
	WhatsApp   func() bool
	Confirm    Sweeper
	Users      UserLinker
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	deps       Dependencies
	basePath   string
	adminToken string
}

// New creates a new HTTP server listening on addr with health and metrics endpoints.
func New(addr string, logger *slog.Logger, metricRegistry *metrics.Metrics, basePath, adminToken string) *Server {
	server := &Server{
		logger:     logger.With("component", "http"),
		metrics:    metricRegistry,
		basePath:   normaliseBasePath(basePath),
		adminToken: adminToken,
	}

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mountWithBasePath(server.basePath, server.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/admin/confirmations/sweep", s.handleSweep)
	mux.HandleFunc("/admin/users/link", s.handleLink)
	return mux
}

// SetDependencies makes dependencies accessible to handlers.
func (s *Server) SetDependencies(deps Dependencies) {
	s.deps = deps
}

// Handler exposes the routed handler, base path included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true
	check := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", "check", name, "error", err)
			checks[name] = err.Error()
			ready = false
			return
		}
		checks[name] = "ok"
	}
	check("database", s.deps.Repository)
	check("redis", s.deps.Redis)
	if s.deps.WhatsApp != nil {
		if s.deps.WhatsApp() {
			checks["whatsapp"] = "ok"
		} else {
			checks["whatsapp"] = "disconnected"
			ready = false
		}
	}

	status := http.StatusOK
	body := map[string]any{"status": "ok", "checks": checks}
	if !ready {
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
	}
	writeJSONStatus(w, status, body)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorised(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.deps.Confirm == nil {
		http.Error(w, "confirmation cache unavailable", http.StatusServiceUnavailable)
		return
	}

	removed := s.deps.Confirm.Sweep(r.Context())
	if s.metrics != nil {
		s.metrics.ConfirmSwept.Add(float64(removed))
	}
	s.logger.Info("confirmation sweep requested", "removed", removed)
	writeJSON(w, map[string]any{
		"status":  "ok",
		"removed": removed,
	})
}

type linkRequest struct {
	FromWAID string `json:"from_wa_id"`
	ToWAID   string `json:"to_wa_id"`
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.adminToken == "" {
		http.Error(w, "admin token not configured", http.StatusForbidden)
		return
	}
	if !s.authorised(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.deps.Users == nil {
		http.Error(w, "user store unavailable", http.StatusServiceUnavailable)
		return
	}

	var req linkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.FromWAID = strings.TrimSpace(req.FromWAID)
	req.ToWAID = strings.TrimSpace(req.ToWAID)
	if req.FromWAID == "" || req.ToWAID == "" || req.FromWAID == req.ToWAID {
		http.Error(w, "from_wa_id and to_wa_id must be distinct and non-empty", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	user, err := s.deps.Users.GetUserByWA(ctx, req.FromWAID)
	if errors.Is(err, repo.ErrNotFound) {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("lookup user for link failed", "wa_id", req.FromWAID, "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if _, err := s.deps.Users.GetUserByWA(ctx, req.ToWAID); err == nil {
		http.Error(w, "number already linked to another user", http.StatusConflict)
		return
	} else if !errors.Is(err, repo.ErrNotFound) {
		s.logger.Error("lookup target number failed", "wa_id", req.ToWAID, "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}

	if err := s.deps.Users.LinkWhatsApp(ctx, user.ID, req.ToWAID); err != nil {
		s.logger.Error("link whatsapp failed", "user_id", user.ID, "error", err)
		http.Error(w, "link failed", http.StatusInternalServerError)
		return
	}
	s.logger.Info("whatsapp number linked", "user_id", user.ID, "from", req.FromWAID, "to", req.ToWAID)
	writeJSON(w, map[string]string{"status": "ok", "user_id": user.ID, "wa_id": req.ToWAID})
}

func (s *Server) authorised(r *http.Request) bool {
	if s.adminToken == "" {
		return true
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) == 1
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
