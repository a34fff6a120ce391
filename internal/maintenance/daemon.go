// Package maintenance runs the recurring analytics retention purge and the
// storage optimize pass.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/golang/snappy"

	"github.com/eventdeck/eventdeck/internal/observability"
	"github.com/eventdeck/eventdeck/pkg/types"
)

// Config holds configuration for the maintenance daemon.
type Config struct {
	// RetentionDays is the age after which analytics rows are purged (default: 365).
	RetentionDays int

	// PurgeInterval is how often the purge runs (default: 24h).
	PurgeInterval time.Duration

	// OptimizeInterval is how often stores are compacted (default: 7 days).
	OptimizeInterval time.Duration

	// ArchiveBeforePurge writes rows about to be purged to the archiver first.
	ArchiveBeforePurge bool
}

// DefaultConfig returns the default maintenance configuration.
func DefaultConfig() Config {
	return Config{
		RetentionDays:    365,
		PurgeInterval:    24 * time.Hour,
		OptimizeInterval: 7 * 24 * time.Hour,
	}
}

// Analytics is the part of the analytics engine the daemon drives.
type Analytics interface {
	Cutoff(days int) time.Time
	RowsBefore(ctx context.Context, cutoff time.Time) ([]types.AnalyticsEvent, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Optimize(ctx context.Context) error
}

// Optimizer compacts a store.
type Optimizer interface {
	Optimize(ctx context.Context) error
}

// Sweeper drops expired entries.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Archiver stores pre-purge snapshots.
type Archiver interface {
	Put(ctx context.Context, objectPath string, data []byte) error
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithOptimizer adds a named store to the optimize pass.
func WithOptimizer(name string, o Optimizer) Option {
	return func(d *Daemon) { d.optimizers[name] = o }
}

// WithSweeper adds a named store to the purge pass.
func WithSweeper(name string, s Sweeper) Option {
	return func(d *Daemon) { d.sweepers[name] = s }
}

// WithArchiver sets where pre-purge snapshots go.
func WithArchiver(a Archiver) Option {
	return func(d *Daemon) { d.archive = a }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Daemon) { d.logger = l }
}

// PurgeResult describes one purge pass.
type PurgeResult struct {
	Cutoff   time.Time `json:"cutoff"`
	Deleted  int64     `json:"deleted"`
	Archived int       `json:"archived"`
	Archive  string    `json:"archive,omitempty"`
	Swept    int       `json:"swept"`
}

// Daemon manages background maintenance.
type Daemon struct {
	config     Config
	analytics  Analytics
	optimizers map[string]Optimizer
	sweepers   map[string]Sweeper
	archive    Archiver
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDaemon creates a new maintenance daemon.
func NewDaemon(config Config, analytics Analytics, opts ...Option) *Daemon {
	def := DefaultConfig()
	if config.RetentionDays <= 0 {
		config.RetentionDays = def.RetentionDays
	}
	if config.PurgeInterval <= 0 {
		config.PurgeInterval = def.PurgeInterval
	}
	if config.OptimizeInterval <= 0 {
		config.OptimizeInterval = def.OptimizeInterval
	}

	d := &Daemon{
		config:     config,
		analytics:  analytics,
		optimizers: make(map[string]Optimizer),
		sweepers:   make(map[string]Sweeper),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = observability.Component(d.logger, "maintenance")
	return d
}

// Start begins the maintenance loop. It runs until the context is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("maintenance: daemon is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.run(ctx)
	return nil
}

// Stop gracefully stops the daemon, waiting for an in-flight pass.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	d.cancel()
	<-d.done
	d.running = false
	return nil
}

func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)

	// Purge immediately on start; optimize waits for its first tick.
	d.purgeLogged(ctx)

	purge := time.NewTicker(d.config.PurgeInterval)
	defer purge.Stop()
	optimize := time.NewTicker(d.config.OptimizeInterval)
	defer optimize.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-purge.C:
			d.purgeLogged(ctx)
		case <-optimize.C:
			if err := d.Optimize(ctx); err != nil {
				d.logger.Warn("optimize pass failed", "error", err)
			}
		}
	}
}

func (d *Daemon) purgeLogged(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := d.Purge(ctx)
	if err != nil {
		d.logger.Warn("purge pass failed", "error", err)
		return
	}
	d.logger.Info("purge pass complete",
		"cutoff", res.Cutoff, "deleted", res.Deleted, "archived", res.Archived, "swept", res.Swept)
}

// Purge deletes analytics rows older than the retention window and sweeps
// expired cache entries. When archiving is enabled the expiring rows are
// written to the archiver first and nothing is deleted if that write fails.
func (d *Daemon) Purge(ctx context.Context) (PurgeResult, error) {
	cutoff := d.analytics.Cutoff(d.config.RetentionDays)
	res := PurgeResult{Cutoff: cutoff}

	if d.config.ArchiveBeforePurge && d.archive != nil {
		rows, err := d.analytics.RowsBefore(ctx, cutoff)
		if err != nil {
			return res, fmt.Errorf("maintenance: read expiring rows: %w", err)
		}
		if len(rows) > 0 {
			data, err := EncodeArchive(rows)
			if err != nil {
				return res, err
			}
			path := ArchivePath(cutoff, d.now())
			if err := d.archive.Put(ctx, path, data); err != nil {
				return res, fmt.Errorf("maintenance: archive expiring rows: %w", err)
			}
			res.Archived = len(rows)
			res.Archive = path
		}
	}

	n, err := d.analytics.PurgeBefore(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("maintenance: purge: %w", err)
	}
	res.Deleted = n

	for _, name := range sortedKeys(d.sweepers) {
		swept, err := d.sweepers[name].Sweep(ctx)
		if err != nil {
			d.logger.Warn("sweep failed", "store", name, "error", err)
			continue
		}
		res.Swept += swept
	}
	return res, nil
}

// Optimize compacts the analytics store and every registered store. A failing
// store does not stop the others.
func (d *Daemon) Optimize(ctx context.Context) error {
	var errs []error
	if err := d.analytics.Optimize(ctx); err != nil {
		errs = append(errs, fmt.Errorf("analytics: %w", err))
	}
	for _, name := range sortedKeys(d.optimizers) {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		started := time.Now()
		if err := d.optimizers[name].Optimize(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		d.logger.Info("store optimized", "store", name, "duration", time.Since(started))
	}
	return errors.Join(errs...)
}

// ArchivePath names a pre-purge snapshot.
func ArchivePath(cutoff, now time.Time) string {
	return fmt.Sprintf("purge/%s/%s.json.sz",
		cutoff.UTC().Format("2006-01-02"), now.UTC().Format("20060102T150405Z"))
}

// EncodeArchive serializes rows as snappy-compressed JSON.
func EncodeArchive(rows []types.AnalyticsEvent) ([]byte, error) {
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("maintenance: encode archive: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

// DecodeArchive reverses EncodeArchive.
func DecodeArchive(data []byte) ([]types.AnalyticsEvent, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("maintenance: decompress archive: %w", err)
	}
	var rows []types.AnalyticsEvent
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("maintenance: decode archive: %w", err)
	}
	return rows, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
