package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/driveseek/driveseek/internal/config"
	seekerrors "github.com/driveseek/driveseek/internal/errors"
	"github.com/driveseek/driveseek/internal/lifecycle"
	"github.com/driveseek/driveseek/internal/query"
	"github.com/driveseek/driveseek/internal/scanner"
	"github.com/driveseek/driveseek/internal/search"
	"github.com/driveseek/driveseek/internal/snapshot"
	"github.com/driveseek/driveseek/internal/telemetry"
	"github.com/driveseek/driveseek/internal/watcher"
)

// Engine owns every long-lived component of a driveseek instance. Its
// drive set is fixed at construction from the configuration; per-drive
// index state lives behind it and changes through builds and deltas.
type Engine struct {
	cfg       *config.Config
	logger    *slog.Logger
	now       func() time.Time
	eventSink lifecycle.EventSink

	scanOpts    scanner.Options
	registry    *lifecycle.Registry
	manager     *lifecycle.Manager
	coordinator *search.Coordinator

	catalog *snapshot.Catalog       // nil when snapshots are disabled
	teleDB  *sql.DB                 // standalone telemetry db, nil when shared or disabled
	metrics *telemetry.QueryMetrics // nil when telemetry is disabled

	watchMu     sync.Mutex
	watchCancel context.CancelFunc
	watchers    []watcher.Watcher
	watchWG     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEventSink registers a callback for lifecycle events (build
// started, generation published, build failed, delta applied). The
// sink runs on the build goroutine and must not block.
func WithEventSink(sink lifecycle.EventSink) Option {
	return func(e *Engine) {
		e.eventSink = sink
	}
}

// WithClock overrides the wall clock. Relative date filters
// (dm:today, dm:thisweek) resolve against it, as do the elapsed
// timings the engine reports.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New assembles an engine from cfg. The configuration is validated;
// the drive roots it names become the engine's drive set. Snapshot
// persistence and telemetry are wired in when their sections enable
// them. No indexes are built here: call BuildIndex or WarmStart next.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, seekerrors.ConfigError("configuration is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, seekerrors.ConfigError("invalid configuration", err)
	}
	roots := cfg.Roots()
	if len(roots) == 0 {
		return nil, seekerrors.ConfigError("no drive roots configured and no home directory to fall back to", nil).
			WithSuggestion("add at least one directory to drives.roots")
	}

	e := &Engine{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.scanOpts = scanner.Options{
		Excludes:       cfg.Drives.Exclude,
		SkipHidden:     cfg.Scan.SkipHidden,
		FollowSymlinks: cfg.Scan.FollowSymlinks,
	}
	e.registry = lifecycle.NewRegistry(roots)

	if cfg.Index.Snapshot.Enabled {
		catalog, err := snapshot.New(cfg.SnapshotPath())
		if err != nil {
			return nil, seekerrors.SnapshotError("open snapshot catalog", err).
				WithDetail("path", cfg.SnapshotPath())
		}
		e.catalog = catalog
	}

	if cfg.Telemetry.Enabled {
		e.openMetrics()
	}

	mgrOpts := []lifecycle.Option{
		lifecycle.WithLogger(e.logger),
		lifecycle.WithMaxConcurrentBuilds(cfg.Index.MaxConcurrentBuilds),
	}
	if e.catalog != nil {
		mgrOpts = append(mgrOpts, lifecycle.WithCatalog(e.catalog))
	}
	if e.eventSink != nil {
		mgrOpts = append(mgrOpts, lifecycle.WithEventSink(e.eventSink))
	}
	e.manager = lifecycle.NewManager(e.registry, scanner.New(e.scanOpts), mgrOpts...)

	coordOpts := []search.CoordinatorOption{
		search.WithLogger(e.logger),
		search.WithLimit(cfg.Search.MaxResults),
		search.WithBatchSize(cfg.Search.BatchSize),
		search.WithQueryCache(query.NewCache(cfg.Search.QueryCacheSize, query.WithClock(e.now))),
	}
	if e.metrics != nil {
		coordOpts = append(coordOpts, search.WithMetrics(e.metrics))
	}
	e.coordinator = search.NewCoordinator(e.manager, coordOpts...)

	e.logger.Debug("engine_initialized",
		slog.Int("drives", len(roots)),
		slog.Bool("snapshot", e.catalog != nil),
		slog.Bool("telemetry", e.metrics != nil))
	return e, nil
}

// openMetrics wires the query metrics collector. Persistence rides in
// the snapshot catalog's database when there is one, in a standalone
// database otherwise. A store that cannot open degrades to in-memory
// collection; telemetry never fails the engine.
func (e *Engine) openMetrics() {
	var ms telemetry.MetricsStore

	if e.catalog != nil {
		if err := telemetry.InitTelemetrySchema(e.catalog.DB()); err != nil {
			e.logger.Warn("telemetry_schema_failed", slog.String("error", err.Error()))
		} else if st, err := telemetry.NewSQLiteMetricsStore(e.catalog.DB()); err == nil {
			ms = st
		}
	} else {
		db, err := telemetry.Open(e.cfg.TelemetryPath())
		if err != nil {
			e.logger.Warn("telemetry_store_unavailable",
				slog.String("path", e.cfg.TelemetryPath()),
				slog.String("error", err.Error()))
		} else {
			e.teleDB = db
			if st, err := telemetry.NewSQLiteMetricsStore(db); err == nil {
				ms = st
			}
		}
	}

	mcfg := telemetry.DefaultQueryMetricsConfig()
	if e.cfg.Telemetry.RecentQueries > 0 {
		mcfg.RecentQueriesCapacity = e.cfg.Telemetry.RecentQueries
	}
	e.metrics = telemetry.NewQueryMetricsWithConfig(ms, mcfg)
}

// Drives returns the configured drive roots in configuration order.
func (e *Engine) Drives() []string {
	return e.registry.Roots()
}

// MetricsSnapshot returns the current telemetry counters, or nil when
// telemetry is disabled.
func (e *Engine) MetricsSnapshot() *telemetry.QueryMetricsSnapshot {
	if e.metrics == nil {
		return nil
	}
	return e.metrics.Snapshot()
}

// Close stops the watchers, flushes telemetry and releases the
// catalog. Idempotent; later calls return the first outcome. In-flight
// searches drain normally: their stores stay valid until dropped.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.stopWatching()

		var errs []error
		if e.metrics != nil {
			if err := e.metrics.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close metrics: %w", err))
			}
		}
		if e.teleDB != nil {
			if err := e.teleDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close telemetry database: %w", err))
			}
		}
		if e.catalog != nil {
			if err := e.catalog.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close snapshot catalog: %w", err))
			}
		}
		e.closeErr = errors.Join(errs...)

		e.logger.Debug("engine_closed")
	})
	return e.closeErr
}
