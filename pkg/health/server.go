package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/boxvault/boxvault/pkg/metrics"
)

// Server exposes /health, /ready, and /metrics over HTTP for cmd/boxserver,
// adapted from the teacher's api.HealthServer: /health is a liveness check
// that never depends on the checks below, /ready runs every registered
// Checker and reports 503 if any is unhealthy.
type Server struct {
	mux     *http.ServeMux
	checks  map[string]Checker
	version string
}

// NewServer creates a health server with no checks registered yet; call
// Register for each disc set and account the caller wants surfaced.
func NewServer(version string) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		checks:  make(map[string]Checker),
		version: version,
	}
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/ready", s.readyHandler)
	s.mux.Handle("/metrics", metrics.Handler())
	return s
}

// Register adds a named Checker to the readiness set.
func (s *Server) Register(name string, c Checker) {
	s.checks[name] = c
}

// Handler returns the HTTP handler for embedding or listening directly.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start runs the server until it errors or the listener closes.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

type readyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   s.version,
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.checks))
	ready := true
	for name, c := range s.checks {
		result := c.Check(ctx)
		checks[name] = result.Message
		if !result.Healthy {
			ready = false
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(readyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
	})
}
