// Package web is the HTTP front end of the import pipeline.
//
// It accepts file uploads, runs them through the importer, records each run
// in the ledger history and renders the report as JSON or HTML.
package web

import (
	"context"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/pointsimport/internal/config"
	"github.com/JonMunkholm/pointsimport/internal/importer"
	"github.com/JonMunkholm/pointsimport/internal/ledger"
	"github.com/JonMunkholm/pointsimport/internal/logging"
	"github.com/JonMunkholm/pointsimport/internal/web/middleware"
)

// Deps are the collaborators the server drives.
type Deps struct {
	Coordinator *importer.Coordinator
	Runs        ledger.RunRecorder
	Entries     ledger.EntryLister
	Limiter     *importer.RunLimiter

	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP server for the import service.
type Server struct {
	cfg         *config.Config
	coordinator *importer.Coordinator
	runs        ledger.RunRecorder
	entries     ledger.EntryLister
	limiter     *importer.RunLimiter
	gatherer    prometheus.Gatherer
	validate    *validator.Validate

	router       *chi.Mux
	server       *http.Server
	rateLimiters []*rateLimiter
}

// NewServer wires routes and middleware.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:         cfg,
		coordinator: deps.Coordinator,
		runs:        deps.Runs,
		entries:     deps.Entries,
		limiter:     deps.Limiter,
		gatherer:    deps.Gatherer,
		validate:    newValidator(),
		router:      chi.NewRouter(),
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.limiter == nil {
		s.limiter = importer.NewRunLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime)
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

// newValidator reports form field names instead of Go field names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("form"); name != "" {
			return name
		}
		return fld.Name
	})
	return v
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))

	if s.cfg.Rate.Enabled {
		s.router.Use(s.newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute).middleware)
	}
}

func (s *Server) setupRoutes() {
	requestTimeout := chimw.Timeout(s.cfg.Server.RequestTimeout)

	s.router.With(requestTimeout).Get("/healthz", s.handleHealth)
	if s.cfg.Server.MetricsEnabled {
		s.router.With(requestTimeout).Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(&s.cfg.Security))

		// The upload is bounded by the import timeout, not the request timeout.
		r.Group(func(r chi.Router) {
			if s.cfg.Rate.Enabled {
				r.Use(s.newRateLimiter(s.cfg.Rate.ImportLimit, time.Minute).middleware)
			}
			r.Post("/imports", s.handleImport)
		})

		r.Group(func(r chi.Router) {
			r.Use(requestTimeout)
			r.Get("/imports", s.handleListRuns)
			r.Get("/imports/{importID}", s.handleGetRun)
			r.Get("/accounts/{accountID}/entries", s.handleListEntries)
		})
	})
}

// Start listens on the configured address until Shutdown is called. It
// returns http.ErrServerClosed after a shutdown, even one that came first.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests, waits for in-flight imports and closes
// the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, rl := range s.rateLimiters {
		rl.stop()
	}

	if status := s.limiter.Status(); status.Active > 0 {
		logger := logging.FromContext(ctx)
		logger.Info("waiting for imports to complete", "active", status.Active)
		if err := s.limiter.WaitForDrain(ctx); err != nil {
			logger.Warn("imports did not complete in time", "error", err)
		}
	}

	return s.server.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"imports": s.limiter.Status(),
		"kinds":   s.coordinator.Kinds(),
	})
}

// securityHeaders adds hardening headers to all responses.
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if enableCSP {
				h.Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimiter is a fixed-window request counter per client IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int
	window   time.Duration
	now      func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

func (s *Server) newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	s.rateLimiters = append(s.rateLimiters, rl)
	go rl.cleanup()
	return rl
}

// cleanup drops visitors idle for two windows.
func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if rl.now().Sub(v.lastReset) > 2*rl.window {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// allow consumes a token for ip and reports whether the request may proceed.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.visitors[ip]
	if !ok || now.Sub(v.lastReset) > rl.window {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: now}
		return true
	}
	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			respondError(w, r, errRateLimited, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
