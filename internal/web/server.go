// Package web provides the HTTP transport for imports, exports and purges.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/shopsheet/internal/config"
	"github.com/JonMunkholm/shopsheet/internal/core"
	"github.com/JonMunkholm/shopsheet/internal/web/middleware"
)

// Pinger reports backing store health for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP server for the product sheet service.
type Server struct {
	service *core.Service
	cfg     *config.Config
	pinger  Pinger
	router  *chi.Mux
	server  *http.Server

	// stopLimiters ends the rate limiter sweepers.
	stopLimiters context.CancelFunc
}

// NewServer wires routes and middleware. pinger may be nil.
func NewServer(service *core.Service, cfg *config.Config, pinger Pinger) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		pinger:  pinger,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopLimiters = cancel

	var general, heavy func(http.Handler) http.Handler
	if s.cfg.Rate.Enabled {
		general = middleware.NewRateLimiter(ctx, s.cfg.Rate.RequestsPerMinute, time.Minute).Handler
		heavy = middleware.NewRateLimiter(ctx, s.cfg.Rate.ImportLimit, time.Minute).Handler
	}

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.cfg.Security))
		if general != nil {
			r.Use(general)
		}

		r.Get("/formats", s.handleListFormats)
		r.Get("/template", s.handleDownloadTemplate)
		r.Get("/export", s.handleExport)
		r.Get("/import/status", s.handleImportStatus)

		r.Group(func(r chi.Router) {
			if heavy != nil {
				r.Use(heavy)
			}
			r.Post("/import", s.handleImport)
			r.Post("/purge", s.handlePurge)
		})
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully: running
// imports get ShutdownTimeout to finish before connections are closed.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", s.server.Addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.stopLimiters()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	return s.Shutdown(shutdownCtx)
}

// Shutdown waits for active imports, then stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.stopLimiters()

	if status := s.service.LimiterStatus(); status.Active > 0 {
		slog.Info("waiting for imports to complete", "active", status.Active)
		if err := s.service.WaitForImports(ctx); err != nil {
			slog.Warn("imports did not complete in time", "error", err)
		} else {
			slog.Info("all imports completed")
		}
	}

	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}
