// Package app wires the eventdeck components together and manages their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/eventdeck/eventdeck/internal/analytics"
	grpcapi "github.com/eventdeck/eventdeck/internal/api/grpc"
	httpapi "github.com/eventdeck/eventdeck/internal/api/http"
	"github.com/eventdeck/eventdeck/internal/cache"
	"github.com/eventdeck/eventdeck/internal/config"
	"github.com/eventdeck/eventdeck/internal/core"
	"github.com/eventdeck/eventdeck/internal/data"
	"github.com/eventdeck/eventdeck/internal/maintenance"
	"github.com/eventdeck/eventdeck/internal/notify"
	"github.com/eventdeck/eventdeck/internal/observability"
	"github.com/eventdeck/eventdeck/internal/processing"
	"github.com/eventdeck/eventdeck/internal/render"
	"github.com/eventdeck/eventdeck/internal/server"
	"github.com/eventdeck/eventdeck/internal/storage"
	"github.com/eventdeck/eventdeck/internal/store"
)

type analyticsStore interface {
	analytics.Store
	io.Closer
}

// App owns every eventdeck component.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// Shared resources
	events      *store.SQLiteStore
	notifier    *notify.Notifier
	memory      *cache.MemoryTier
	persistent  *cache.SQLiteTier
	cache       *cache.Tiered
	invalidator *notify.Invalidator
	changes     *notify.ChangeLog
	filterStats *observability.FilterStats
	records     analyticsStore
	objects     storage.ObjectStorage

	// Service components
	engine       *analytics.Engine
	orchestrator *core.Orchestrator
	daemon       *maintenance.Daemon
	shutdown     *server.ShutdownManager
	httpServer   *http.Server
	grpcServer   *grpc.Server

	// Lifecycle
	mu      sync.Mutex
	running bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New validates cfg and wires every component. Nothing listens until Start.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	a := &App{
		cfg:    cfg,
		logger: observability.NewLogger(cfg.LogFormat),
	}
	if err := a.wire(ctx); err != nil {
		a.cleanup()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	var err error
	loc := a.cfg.Location()
	metrics := observability.NewMetricsRecorder()

	// Events and change notification
	a.notifier = notify.NewNotifier(64)
	a.events, err = store.Open(a.cfg.EventsPath(), a.notifier)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}

	// Cache tiers
	a.memory = cache.NewMemoryTier(cache.MemoryOptions{
		MaxEntries:    a.cfg.Cache.MemoryMaxEntries,
		SweepInterval: a.cfg.Cache.SweepInterval,
	})
	var persistent cache.Tier
	if a.cfg.Cache.Persistent {
		a.persistent, err = cache.OpenSQLiteTier(a.cfg.Cache.Path)
		if err != nil {
			return fmt.Errorf("failed to open cache tier: %w", err)
		}
		persistent = a.persistent
	}
	a.cache = cache.NewTiered(a.memory, persistent, a.cfg.Cache.TTL,
		cache.WithLogger(a.logger), cache.WithMetrics(metrics))
	a.invalidator = notify.NewInvalidator(a.cache, a.cfg.Cache.Namespace, a.logger)
	a.invalidator.Attach(a.notifier)
	a.changes = notify.NewChangeLog(a.notifier)
	a.logger.Info("cache initialized",
		"namespace", a.cfg.Cache.Namespace, "ttl", a.cfg.Cache.TTL, "persistent", a.cfg.Cache.Persistent)

	// Display pipeline
	a.filterStats = observability.NewFilterStats(time.Hour)
	repo := data.NewRepository(a.events, a.cache, data.Config{
		Namespace: a.cfg.Cache.Namespace,
		TTL:       a.cfg.Cache.TTL,
		Location:  loc,
	}, a.filterStats, a.logger)
	processor := processing.NewProcessor(processing.Config{
		DateFormat:   a.cfg.Display.DateFormat,
		TimeFormat:   a.cfg.Display.TimeFormat,
		ExcerptWords: a.cfg.Display.ExcerptWords,
		BaseURL:      a.cfg.Display.BaseURL,
		Location:     loc,
	})
	renderer, err := render.NewRenderer()
	if err != nil {
		return fmt.Errorf("failed to parse templates: %w", err)
	}

	// Object storage for export and purge archives
	a.objects, err = a.openStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Analytics
	a.records, err = a.openAnalyticsStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open analytics store: %w", err)
	}
	opts := []analytics.Option{
		analytics.WithTitles(a.events),
		analytics.WithArchiver(a.objects),
		analytics.WithMetrics(metrics),
		analytics.WithLogger(a.logger),
	}
	if geo := a.cfg.Analytics.Geo; geo.Enabled {
		resolver := analytics.NewMemoGeoResolver(
			analytics.NewHTTPGeoResolver(geo.Endpoint, geo.Timeout), geo.CacheTTL)
		opts = append(opts, analytics.WithGeoResolver(resolver))
	}
	a.engine = analytics.NewEngine(a.records, analytics.Config{
		RetentionDays: a.cfg.Analytics.RetentionDays,
		QueueSize:     a.cfg.Analytics.QueueSize,
		GeoTimeout:    a.cfg.Analytics.Geo.Timeout,
		Location:      loc,
	}, opts...)

	a.orchestrator = core.New(repo, processor, renderer, a.engine, a.logger)

	// Maintenance
	mopts := []maintenance.Option{
		maintenance.WithOptimizer("events", a.events),
		maintenance.WithArchiver(a.objects),
		maintenance.WithLogger(a.logger),
	}
	if a.persistent != nil {
		mopts = append(mopts,
			maintenance.WithOptimizer("cache", a.persistent),
			maintenance.WithSweeper("cache", a.persistent))
	}
	a.daemon = maintenance.NewDaemon(maintenance.Config{
		RetentionDays:      a.cfg.Analytics.RetentionDays,
		PurgeInterval:      a.cfg.Maintenance.PurgeInterval,
		OptimizeInterval:   a.cfg.Maintenance.OptimizeInterval,
		ArchiveBeforePurge: a.cfg.Maintenance.ArchiveBeforePurge,
	}, a.engine, mopts...)

	return nil
}

func (a *App) openStorage(ctx context.Context) (storage.ObjectStorage, error) {
	switch a.cfg.Storage.Type {
	case "local":
		local, err := storage.NewLocalStorage(a.cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		a.logger.Info("storage initialized", "type", "local", "path", a.cfg.Storage.Path)
		return local, nil
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = a.cfg.Storage.S3.Region
		}
		if a.cfg.Storage.S3.Endpoint != "" {
			s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
			s3Cfg.UsePathStyle = true
		}
		a.logger.Info("storage initialized", "type", "s3",
			"bucket", a.cfg.Storage.S3.Bucket, "region", s3Cfg.Region, "endpoint", s3Cfg.Endpoint)
		remote, err := storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3Cfg)
		if err != nil {
			return nil, err
		}
		return remote, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
}

func (a *App) openAnalyticsStore(ctx context.Context) (analyticsStore, error) {
	switch a.cfg.Analytics.Backend {
	case "postgres":
		s, err := analytics.ConnectPostgres(ctx, a.cfg.Analytics.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.logger.Info("analytics store initialized", "backend", "postgres")
		return s, nil
	default:
		s, err := analytics.OpenSQLiteStore(a.cfg.Analytics.Path)
		if err != nil {
			return nil, err
		}
		a.logger.Info("analytics store initialized", "backend", "sqlite", "path", a.cfg.Analytics.Path)
		return s, nil
	}
}

// Handler returns the HTTP handler serving every route.
func (a *App) Handler() http.Handler {
	api := httpapi.NewServer(httpapi.Deps{
		Display:     a.orchestrator,
		Analytics:   a.engine,
		Writer:      a.events,
		Invalidator: a.invalidator,
		Cache:       a.cache,
		Changes:     a.changes,
		FilterStats: a.filterStats,
		APIKeys:     a.cfg.APIKeys,
		Logger:      a.logger,
	})
	return api.Router()
}

// Start launches the HTTP server, the optional gRPC server and the
// maintenance daemon. After a failed Start, call Stop to release what did
// start.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	sdCfg := server.DefaultShutdownConfig()
	sdCfg.Logger = a.logger
	a.shutdown = server.NewShutdownManager(sdCfg)
	a.shutdown.RegisterCloser("resources", server.CloserFunc(func() error {
		a.cleanup()
		return nil
	}))
	a.shutdown.RegisterCloser("maintenance", server.CloserFunc(a.daemon.Stop))

	a.httpServer = &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      server.ShutdownMiddleware(a.shutdown)(a.Handler()),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	lis, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP address: %w", err)
	}
	a.shutdown.RegisterCloser("http", server.HTTPServerCloser{Server: a.httpServer, Timeout: 10 * time.Second})
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("HTTP server listening", "addr", lis.Addr().String())
		if err := a.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", "error", err)
		}
	}()

	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(); err != nil {
			return err
		}
	}

	if a.cfg.Maintenance.Enabled {
		if err := a.daemon.Start(ctx); err != nil {
			return fmt.Errorf("failed to start maintenance daemon: %w", err)
		}
		a.logger.Info("maintenance daemon started",
			"purge_interval", a.cfg.Maintenance.PurgeInterval,
			"optimize_interval", a.cfg.Maintenance.OptimizeInterval)
	}

	a.logger.Info("eventdeck started")
	return nil
}

func (a *App) startGRPC() error {
	a.grpcServer = grpc.NewServer()
	grpcapi.NewAnalyticsServer(a.engine, a.logger).Register(a.grpcServer)

	lis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC address: %w", err)
	}
	a.shutdown.RegisterCloser("grpc", server.CloserFunc(func() error {
		a.grpcServer.GracefulStop()
		return nil
	}))
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("gRPC server listening", "addr", lis.Addr().String())
		if err := a.grpcServer.Serve(lis); err != nil {
			a.logger.Error("gRPC server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully stops every service and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		a.cleanup()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}
	err := a.shutdown.Shutdown(ctx, "stop requested")

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("shutdown timeout, some goroutines may not have finished")
	}
	a.logger.Info("eventdeck stopped")
	return err
}

// WaitForShutdown blocks until a termination signal or ctx cancellation.
func (a *App) WaitForShutdown(ctx context.Context) error {
	err := a.shutdown.ListenForSignals(ctx)
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	a.wg.Wait()
	return err
}

// cleanup releases shared resources. The analytics engine drains its queue
// before its store closes.
func (a *App) cleanup() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	if a.engine != nil {
		a.engine.Close()
	}
	if a.changes != nil {
		a.changes.Close()
	}
	if a.records != nil {
		if err := a.records.Close(); err != nil {
			a.logger.Warn("close analytics store", "error", err)
		}
	}
	if a.memory != nil {
		a.memory.Close()
	}
	if a.persistent != nil {
		if err := a.persistent.Close(); err != nil {
			a.logger.Warn("close cache tier", "error", err)
		}
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.logger.Warn("close event store", "error", err)
		}
	}
}

// Close releases resources without starting or stopping servers. It is for
// callers that used New only to reach the components.
func (a *App) Close() error {
	a.cleanup()
	return nil
}

// Engine returns the analytics engine.
func (a *App) Engine() *analytics.Engine { return a.engine }

// Maintenance returns the maintenance daemon.
func (a *App) Maintenance() *maintenance.Daemon { return a.daemon }

// Events returns the event store.
func (a *App) Events() *store.SQLiteStore { return a.events }

// Objects returns the archive object storage.
func (a *App) Objects() storage.ObjectStorage { return a.objects }

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger { return a.logger }
