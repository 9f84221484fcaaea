// Package health implements the local HTTP surface the spec's §1 mentions
// as an external collaborator boundary but still requires the core to
// expose: liveness/readiness probes, the Prometheus metrics endpoint, and a
// cached performance report for dashboards. Shape mirrors the teacher's
// metrics.Server (NewServer(addr, logger); StartAsync; Stop(ctx)).
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/prometheus/client_golang/prometheus"
)

// ReportFunc builds the current performance report. It may be relatively
// expensive (it walks multiple components' live state) — the server caches
// its result for ReportCacheTTL so frequent dashboard polling doesn't force
// recomputation on every request.
type ReportFunc func() (map[string]interface{}, error)

// DefaultReportCacheTTL bounds how long a cached report is served before
// ReportFunc is invoked again.
const DefaultReportCacheTTL = 5 * time.Second

// Server is the bridge's health/metrics/report HTTP surface.
type Server struct {
	addr        string
	bearerToken string
	reportFn    ReportFunc
	reportTTL   time.Duration

	registry *prometheus.Registry
	log      *logrus.Logger
	server   *http.Server

	mu           sync.Mutex
	cachedReport []byte
	cachedAt     time.Time
}

// NewServer builds a Server bound to addr (e.g. ":8080"). registry is
// exposed at /metrics; bearerToken, if non-empty, is required via
// "Authorization: Bearer <token>" on /metrics and /report (spec §6 —
// "metrics bearer token ... if set, metrics/report endpoints require it").
// reportFn supplies the cached /report payload.
func NewServer(addr string, registry *prometheus.Registry, bearerToken string, reportFn ReportFunc, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		addr:        addr,
		bearerToken: bearerToken,
		reportFn:    reportFn,
		reportTTL:   DefaultReportCacheTTL,
		registry:    registry,
		log:         logger,
	}
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.buildRouter(),
	}
	return s
}

// WithReportCacheTTL overrides the default report cache TTL and returns s
// for chaining.
func (s *Server) WithReportCacheTTL(ttl time.Duration) *Server {
	s.reportTTL = ttl
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	// External dashboards poll /report and /metrics from a browser origin
	// distinct from the bridge's own host; GET-only, no credentials needed.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealth)

	protected := chi.NewRouter()
	protected.Use(s.authMiddleware)
	if s.registry != nil {
		protected.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	protected.Get("/report", s.handleReport)
	r.Mount("/", protected)

	return r
}

// authMiddleware enforces the bearer token, when configured, for the
// endpoints it wraps. With no token configured, every request passes.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.bearerToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		if header != "Bearer "+s.bearerToken {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	body, err := s.renderReport()
	if err != nil {
		s.log.WithError(err).Warn("report generation failed")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"report unavailable"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// renderReport returns the cached report if it is still within TTL,
// otherwise calls ReportFunc and refreshes the cache.
func (s *Server) renderReport() ([]byte, error) {
	s.mu.Lock()
	if s.reportFn == nil {
		s.mu.Unlock()
		return []byte(`{}`), nil
	}
	if time.Since(s.cachedAt) < s.reportTTL && s.cachedReport != nil {
		cached := s.cachedReport
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	report, err := s.reportFn()
	if err != nil {
		return nil, fmt.Errorf("build report: %w", err)
	}
	body, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}

	s.mu.Lock()
	s.cachedReport = body
	s.cachedAt = time.Now()
	s.mu.Unlock()

	return body, nil
}

// StartAsync starts the HTTP server in a background goroutine, logging any
// error other than a clean shutdown.
func (s *Server) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("health server stopped unexpectedly")
		}
	}()
}

// Stop gracefully shuts the server down, honoring ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
