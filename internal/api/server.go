package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/browserd/internal/session"
	"github.com/seantiz/browserd/internal/store"
)

const (
	shutdownTimeout    = 10 * time.Second
	sessionStopTimeout = 30 * time.Second
	readHeaderTimeout  = 10 * time.Second
	writeTimeout       = 30 * time.Second

	defaultLogPollInterval = 50 * time.Millisecond
)

// Options holds the optional parts of the HTTP surface.
type Options struct {
	// StaticDir holds the browser frontend. Empty or missing disables it.
	StaticDir string
	// LogPollInterval is how often /logs drains pending progress lines.
	LogPollInterval time.Duration
}

// Server wraps the chi router and application dependencies.
type Server struct {
	router  *chi.Mux
	session *session.Service
	store   store.Store
	logger  *slog.Logger
	addr    string
	opts    Options
}

// NewServer creates and configures a new HTTP server.
func NewServer(addr string, svc *session.Service, s store.Store, opts Options, logger *slog.Logger) *Server {
	if opts.LogPollInterval <= 0 {
		opts.LogPollInterval = defaultLogPollInterval
	}
	srv := &Server{
		router:  chi.NewRouter(),
		session: svc,
		store:   s,
		logger:  logger,
		addr:    addr,
		opts:    opts,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Post("/run-agent", s.handleRunAgent)
	s.router.Post("/close-browser", s.handleCloseBrowser)
	s.router.Get("/status", s.handleStatus)
	s.router.Get("/logs", s.handleLogsWS)

	s.router.Get("/v1/stats", s.handleGetStats)
	s.router.Route("/v1/tasks", func(r chi.Router) {
		r.Post("/", s.handleCreateTask)
		r.Get("/", s.handleListTasks)
		r.Get("/{id}", s.handleGetTask)
		r.Get("/{id}/logs", s.handleStreamLogs)
		r.Get("/{id}/logs/history", s.handleGetLogHistory)
	})

	s.mountFrontend()
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run starts the HTTP server and blocks until a shutdown signal is received.
// On shutdown it stops accepting requests, then stops the session so the
// in-flight task finishes and the browser is closed.
func (s *Server) Run() error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	err := s.stop(httpServer, shutdownTimeout)
	if err == nil {
		s.logger.Info("server stopped")
	}
	return err
}

// stop drains HTTP within httpTimeout, then stops the session on its own
// deadline. Held connections (a synchronous /run-agent, an attached log
// stream) are cut when the drain times out; the session still waits for
// the in-flight task and closes the browser.
func (s *Server) stop(httpServer *http.Server, httpTimeout time.Duration) error {
	var errs []error

	ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http drain timed out, closing connections", "error", err)
		errs = append(errs, fmt.Errorf("shutdown: %w", err))
		if err := httpServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
	}

	sctx, scancel := context.WithTimeout(context.Background(), sessionStopTimeout)
	defer scancel()
	if err := s.session.Shutdown(sctx); err != nil {
		errs = append(errs, fmt.Errorf("stop session: %w", err))
	}

	return errors.Join(errs...)
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// clearWriteDeadline lifts the server write timeout for responses that may
// legitimately take longer, such as a synchronous task or a log stream.
func (s *Server) clearWriteDeadline(w http.ResponseWriter) {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("clear write deadline", "error", err)
	}
}
