package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"fundrate-tracker/internal/cache"
	"fundrate-tracker/internal/metrics"
)

// Options configure the HTTP listener.
type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CacheTTL        time.Duration
}

// Deps are the collaborators behind the routes. Runner, DB, Cache, Metrics
// and Gatherer are optional.
type Deps struct {
	Analytics Analytics
	Runner    Runner
	DB        Pinger
	Cache     cache.Cache
	Metrics   *metrics.Recorder
	Gatherer  prometheus.Gatherer
}

// Server is the echo HTTP API.
type Server struct {
	echo      *echo.Echo
	opts      Options
	logger    zerolog.Logger
	analytics Analytics
	runner    Runner
	db        Pinger
	cache     cache.Cache
	cacheTTL  time.Duration
	metrics   *metrics.Recorder
}

// NewServer wires routes and middleware.
func NewServer(deps Deps, opts Options, logger zerolog.Logger) (*Server, error) {
	if deps.Analytics == nil {
		return nil, errors.New("api: analytics engine is required")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		echo:      echo.New(),
		opts:      opts,
		logger:    logger.With().Str("component", "api").Logger(),
		analytics: deps.Analytics,
		runner:    deps.Runner,
		db:        deps.DB,
		cache:     deps.Cache,
		cacheTTL:  opts.CacheTTL,
		metrics:   deps.Metrics,
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(requestLogging(s.logger, s.metrics))
	e.Use(recoverMiddleware(s.logger))

	e.GET("/", s.handleRoot)
	e.GET("/health", s.handleHealth)

	rates := e.Group("/api/rates")
	rates.GET("/latest", s.handleLatest)
	rates.GET("/historical", s.handleHistorical)
	rates.GET("/changes", s.handleChanges)

	an := e.Group("/api/analytics")
	an.GET("/summary", s.handleSummary)
	an.GET("/moving-averages", s.handleMovingAverages)
	an.GET("/volatility", s.handleVolatility)

	e.POST("/api/pipeline/trigger", s.handleTrigger)

	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler(deps.Gatherer)))
	}

	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	srv := &http.Server{
		Addr:         addr,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("http server listening")
		if err := s.echo.StartServer(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}
