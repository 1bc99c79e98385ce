package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fundrate-tracker/internal/alerting"
	"fundrate-tracker/internal/analytics"
	"fundrate-tracker/internal/api"
	"fundrate-tracker/internal/cache"
	"fundrate-tracker/internal/config"
	"fundrate-tracker/internal/events"
	"fundrate-tracker/internal/fetcher"
	"fundrate-tracker/internal/loader"
	"fundrate-tracker/internal/metrics"
	"fundrate-tracker/internal/pipeline"
	"fundrate-tracker/internal/scheduler"
	"fundrate-tracker/internal/storage"
	"fundrate-tracker/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives tabular command output.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
	}
}

// components is the wired dependency graph shared by the long-running commands.
type components struct {
	store     storage.RateStore
	engine    *analytics.Engine
	pipeline  *pipeline.Pipeline
	cache     cache.Cache
	publisher events.Publisher
	registry  *prometheus.Registry
	recorder  *metrics.Recorder
	closers   []func()
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func (a *App) newFetcher() (fetcher.SeriesFetcher, error) {
	if err := a.Config.ValidateProvider(); err != nil {
		return nil, err
	}
	p := a.Config.Provider
	return fetcher.NewAlphaVantage(fetcher.AlphaVantageOptions{
		BaseURL:   p.BaseURL,
		APIKey:    p.APIKey,
		Function:  p.Function,
		Interval:  p.Interval,
		Timeout:   p.RequestTimeout,
		UserAgent: p.UserAgent,
	}, a.Logger), nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) newEngine(store storage.RateReader) *analytics.Engine {
	return analytics.New(store, a.Logger, analytics.WithVolatilityWindow(a.Config.Analytics.VolatilityWindowDays))
}

func (a *App) openStore(ctx context.Context) (storage.RateStore, error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.Config.Database.Driver, err)
	}
	return store, nil
}

func (a *App) newCache(ctx context.Context) (cache.Cache, func(), error) {
	cfg := a.Config.Cache.Redis
	if !cfg.Enabled {
		return cache.NewMemoryCache(), func() {}, nil
	}
	rc, err := cache.NewRedisCache(ctx, cache.RedisOptions{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Prefix:   cfg.Prefix,
	})
	if err != nil {
		return nil, nil, err
	}
	return rc, func() {
		if err := rc.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close redis cache")
		}
	}, nil
}

func (a *App) newPublisher() (events.Publisher, error) {
	cfg := a.Config.Events.Kafka
	if !cfg.Enabled {
		return events.Nop{}, nil
	}
	return events.NewKafkaPublisher(events.KafkaOptions{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		WriteTimeout: cfg.WriteTimeout,
	}, a.Logger)
}

// build wires storage, pipeline, analytics and their optional side channels.
func (a *App) build(ctx context.Context) (*components, error) {
	c := &components{}

	f, err := a.newFetcher()
	if err != nil {
		return nil, err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	c.store = store
	c.closers = append(c.closers, store.Close)

	respCache, closeCache, err := a.newCache(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.cache = respCache
	c.closers = append(c.closers, closeCache)

	publisher, err := a.newPublisher()
	if err != nil {
		c.Close()
		return nil, err
	}
	c.publisher = publisher
	c.closers = append(c.closers, func() {
		if err := publisher.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close event publisher")
		}
	})

	c.registry = metrics.NewRegistry()
	c.recorder = metrics.New(c.registry)
	c.engine = a.newEngine(store)

	opts := pipeline.Options{
		Series:    a.Config.Provider.Function,
		Publisher: publisher,
		Notifier:  a.newNotifier(),
		Cache:     respCache,
		Metrics:   c.recorder,
		LockKey:   a.Config.Scheduler.AdvisoryLockKey,
	}
	if locker, ok := store.(storage.AdvisoryLocker); ok {
		opts.Locker = locker
	}

	ld := loader.New(store, loader.Options{AnchorRateChange: a.Config.Pipeline.AnchorRateChange}, a.Logger)
	c.pipeline = pipeline.New(f, ld, opts, a.Logger)
	return c, nil
}

func (a *App) newScheduler() (*scheduler.Scheduler, error) {
	return scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)
}

// Serve runs the HTTP API and the ingestion scheduler until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	sched, err := a.newScheduler()
	if err != nil {
		return err
	}

	srv := a.Config.Server
	server, err := api.NewServer(api.Deps{
		Analytics: c.engine,
		Runner:    c.pipeline,
		DB:        c.store,
		Cache:     c.cache,
		Metrics:   c.recorder,
		Gatherer:  c.registry,
	}, api.Options{
		Host:            srv.Host,
		Port:            srv.Port,
		ReadTimeout:     srv.ReadTimeout,
		WriteTimeout:    srv.WriteTimeout,
		ShutdownTimeout: srv.ShutdownTimeout,
		CacheTTL:        a.Config.Analytics.CacheTTL,
	}, a.Logger)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Str("build", version.String()).
		Str("addr", fmt.Sprintf("%s:%d", srv.Host, srv.Port)).
		Msg("starting rate tracker")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx, c.pipeline.RunScheduled) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("rate tracker stopped")
	return nil
}

// Run executes scheduled ingestion without the HTTP surface.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	sched, err := a.newScheduler()
	if err != nil {
		return err
	}

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting ingestion scheduler")
	err = sched.Run(ctx, c.pipeline.RunScheduled)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("scheduler terminated with error")
		return err
	}

	a.Logger.Info().Msg("ingestion scheduler stopped")
	return nil
}

// Migrate creates the schema on the configured backend.
func (a *App) Migrate(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	a.Logger.Info().Str("driver", a.Config.Database.Driver).Msg("schema ready")
	return nil
}

// ExportOptions hold parameters for exporting stored rates.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// IngestOptions configure a one-shot pipeline run.
type IngestOptions struct {
	DryRun bool
}
