package analytics

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	apperrors "github.com/eventdeck/eventdeck/internal/errors"
	"github.com/eventdeck/eventdeck/internal/observability"
	"github.com/eventdeck/eventdeck/pkg/types"
)

const (
	topEventsLimit    = 5
	recentLimit       = 20
	defaultQueueSize  = 1024
	defaultGeoWorkers = 8
)

// ExportHeader is the fixed CSV column order.
var ExportHeader = []string{"Date", "Event ID", "Event Title", "Action", "IP Address", "User Agent", "Payload"}

// Archiver stores export archives.
type Archiver interface {
	Put(ctx context.Context, objectPath string, data []byte) error
}

// Config holds engine configuration.
type Config struct {
	// RetentionDays is used by Purge when the caller passes no positive value
	RetentionDays int

	// QueueSize bounds RecordAsync; a full queue drops rows
	QueueSize int

	// GeoTimeout bounds the whole Geographic call
	GeoTimeout time.Duration

	// GeoWorkers bounds concurrent lookups
	GeoWorkers int

	// Location decides calendar-day boundaries for the daily series
	Location *time.Location

	// Now overrides the clock in tests
	Now func() time.Time
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		RetentionDays: 365,
		QueueSize:     defaultQueueSize,
		GeoTimeout:    3 * time.Second,
		GeoWorkers:    defaultGeoWorkers,
		Location:      time.UTC,
		Now:           time.Now,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithTitles sets the event title lookup used by feeds and exports.
func WithTitles(t TitleLookup) Option { return func(e *Engine) { e.titles = t } }

// WithIdentitySource sets where caller identity comes from.
func WithIdentitySource(s IdentitySource) Option { return func(e *Engine) { e.identity = s } }

// WithGeoResolver sets the IP to country resolver.
func WithGeoResolver(g GeoResolver) Option { return func(e *Engine) { e.geo = g } }

// WithArchiver sets the destination for ArchiveExport.
func WithArchiver(a Archiver) Option { return func(e *Engine) { e.archive = a } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option { return func(e *Engine) { e.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// Engine records actions and computes aggregates over a Store.
type Engine struct {
	store    Store
	titles   TitleLookup
	identity IdentitySource
	geo      GeoResolver
	archive  Archiver
	metrics  observability.MetricsRecorder
	logger   *slog.Logger
	cfg      Config

	queue   chan types.AnalyticsEvent
	wg      sync.WaitGroup
	closeMu sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewEngine creates an engine and starts its background writer.
func NewEngine(store Store, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = def.RetentionDays
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.GeoTimeout <= 0 {
		cfg.GeoTimeout = def.GeoTimeout
	}
	if cfg.GeoWorkers <= 0 {
		cfg.GeoWorkers = def.GeoWorkers
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	e := &Engine{
		store:    store,
		identity: ContextIdentity{},
		metrics:  observability.NoopMetrics{},
		cfg:      cfg,
		queue:    make(chan types.AnalyticsEvent, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = observability.Component(e.logger, "analytics")

	e.wg.Add(1)
	go e.writer()
	return e
}

// Record appends one row stamped with the caller identity from ctx. The
// payload is stored verbatim.
func (e *Engine) Record(ctx context.Context, action types.Action, eventID int64, payload []byte) (int64, error) {
	row, err := e.newRow(ctx, action, eventID, payload)
	if err != nil {
		return 0, err
	}
	id, err := e.store.Append(ctx, &row)
	e.metrics.RecordAnalyticsWrite(ctx, string(action), err)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// RecordAsync queues a row and returns immediately. Failures are logged and
// never reach the caller.
func (e *Engine) RecordAsync(ctx context.Context, action types.Action, eventID int64, payload []byte) {
	row, err := e.newRow(ctx, action, eventID, payload)
	if err != nil {
		observability.LogSwallowed(e.logger, "analytics record rejected", err, "event_id", eventID)
		return
	}

	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		e.dropped.Add(1)
		return
	}
	select {
	case e.queue <- row:
	default:
		e.dropped.Add(1)
		err := apperrors.NewAnalyticsError(apperrors.CodeRecordDropped, "record queue full", nil)
		e.metrics.RecordAnalyticsWrite(ctx, string(action), err)
		observability.LogSwallowed(e.logger, "analytics record dropped", err,
			"action", string(action), "event_id", eventID)
	}
}

// Dropped returns the number of rows RecordAsync discarded.
func (e *Engine) Dropped() int64 {
	return e.dropped.Load()
}

func (e *Engine) newRow(ctx context.Context, action types.Action, eventID int64, payload []byte) (types.AnalyticsEvent, error) {
	if !action.Valid() {
		return types.AnalyticsEvent{}, apperrors.NewValidationError(apperrors.CodeInvalidAction,
			fmt.Sprintf("unknown action %q", action))
	}
	if eventID < 0 {
		return types.AnalyticsEvent{}, apperrors.NewValidationError(apperrors.CodeInvalidInput,
			fmt.Sprintf("negative event id %d", eventID))
	}
	id := e.identity.Identity(ctx)
	row := types.AnalyticsEvent{
		EventID:   eventID,
		Action:    action,
		IPAddress: id.IP,
		UserAgent: id.UserAgent,
		UserID:    id.UserID,
		SessionID: id.SessionID,
		CreatedAt: e.cfg.Now().UTC(),
	}
	if len(payload) > 0 {
		row.Payload = append(types.Payload(nil), payload...)
	}
	return row, nil
}

func (e *Engine) writer() {
	defer e.wg.Done()
	for row := range e.queue {
		ctx := context.Background()
		_, err := e.store.Append(ctx, &row)
		e.metrics.RecordAnalyticsWrite(ctx, string(row.Action), err)
		if err != nil {
			observability.LogSwallowed(e.logger, "analytics append failed", err,
				"action", string(row.Action), "event_id", row.EventID)
		}
	}
}

// Close stops accepting asynchronous rows and waits for queued ones to be
// written. It does not close the Store.
func (e *Engine) Close() {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.closeMu.Unlock()
	e.wg.Wait()
}

// window resolves a period to a half-open store window that includes now.
func (e *Engine) window(period types.Period) (time.Time, time.Time) {
	start, end := period.Window(e.cfg.Now())
	return start, end.Add(time.Nanosecond)
}

// ConversionRate is registrations/views*100 rounded to two decimals, or 0
// when there are no views.
func ConversionRate(views, registrations int64) float64 {
	if views == 0 {
		return 0
	}
	return math.Round(float64(registrations)/float64(views)*100*100) / 100
}

// Overview holds per-action totals for a window.
type Overview struct {
	TotalViews             int64   `json:"total_views"`
	TotalRegistrations     int64   `json:"total_registrations"`
	TotalShares            int64   `json:"total_shares"`
	TotalCalendarDownloads int64   `json:"total_calendar_downloads"`
	ConversionRate         float64 `json:"conversion_rate"`
}

// Dashboard is the aggregate returned by Engine.Dashboard.
type Dashboard struct {
	Period    types.Period           `json:"period"`
	Start     time.Time              `json:"start"`
	End       time.Time              `json:"end"`
	Overview  Overview               `json:"overview"`
	Daily     []DailyPoint           `json:"daily"`
	TopEvents []EventCount           `json:"top_events"`
	Recent    []types.AnalyticsEvent `json:"recent"`
}

// Dashboard computes overview counts, the daily series, the top five events
// by views and the twenty newest rows, all over the period's window.
func (e *Engine) Dashboard(ctx context.Context, period types.Period) (*Dashboard, error) {
	period = types.ParsePeriod(string(period))
	start, end := e.window(period)

	counts, err := e.store.CountByAction(ctx, start, end, nil)
	if err != nil {
		return nil, err
	}
	daily, err := e.store.Daily(ctx, start, end, e.cfg.Location)
	if err != nil {
		return nil, err
	}
	top, err := e.store.TopEvents(ctx, types.ActionView, start, end, topEventsLimit)
	if err != nil {
		return nil, err
	}
	recent, err := e.store.Recent(ctx, start, end, recentLimit)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(top)+len(recent))
	for _, t := range top {
		ids = append(ids, t.EventID)
	}
	for _, r := range recent {
		ids = append(ids, r.EventID)
	}
	titles := e.lookupTitles(ctx, ids)
	for i := range top {
		top[i].Title = titles[top[i].EventID]
	}
	for i := range recent {
		recent[i].EventTitle = titles[recent[i].EventID]
	}
	if top == nil {
		top = []EventCount{}
	}

	views, regs := counts[types.ActionView], counts[types.ActionRegister]
	return &Dashboard{
		Period: period,
		Start:  start,
		End:    end.Add(-time.Nanosecond),
		Overview: Overview{
			TotalViews:             views,
			TotalRegistrations:     regs,
			TotalShares:            counts[types.ActionShare],
			TotalCalendarDownloads: counts[types.ActionCalendarDownload],
			ConversionRate:         ConversionRate(views, regs),
		},
		Daily:     fillDays(daily, start, end, e.cfg.Location),
		TopEvents: top,
		Recent:    recent,
	}, nil
}

// fillDays returns one point per calendar day in [start, end), zero-filled.
func fillDays(points []DailyPoint, start, end time.Time, loc *time.Location) []DailyPoint {
	byDate := make(map[string]DailyPoint, len(points))
	for _, p := range points {
		byDate[p.Date] = p
	}
	s := start.In(loc)
	day := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
	last := end.Add(-time.Nanosecond).In(loc)
	out := []DailyPoint{}
	for !day.After(last) {
		key := day.Format("2006-01-02")
		p, ok := byDate[key]
		if !ok {
			p = DailyPoint{Date: key}
		}
		out = append(out, p)
		day = day.AddDate(0, 0, 1)
	}
	return out
}

func (e *Engine) lookupTitles(ctx context.Context, ids []int64) map[int64]string {
	if e.titles == nil || len(ids) == 0 {
		return map[int64]string{}
	}
	seen := make(map[int64]bool, len(ids))
	uniq := ids[:0:0]
	for _, id := range ids {
		if id > 0 && !seen[id] {
			seen[id] = true
			uniq = append(uniq, id)
		}
	}
	if len(uniq) == 0 {
		return map[int64]string{}
	}
	titles, err := e.titles.Titles(ctx, uniq)
	if err != nil {
		observability.LogSwallowed(e.logger, "title lookup failed", err, "ids", len(uniq))
		return map[int64]string{}
	}
	return titles
}

// Funnel holds per-action counts for one event.
type Funnel struct {
	Views             int64 `json:"views"`
	Shares            int64 `json:"shares"`
	CalendarDownloads int64 `json:"calendarDownloads"`
	Registrations     int64 `json:"registrations"`
}

// Funnel returns the action counts for eventID over period. Missing actions
// count as zero.
func (e *Engine) Funnel(ctx context.Context, eventID int64, period types.Period) (Funnel, error) {
	start, end := e.window(types.ParsePeriod(string(period)))
	counts, err := e.store.CountByAction(ctx, start, end, &eventID)
	if err != nil {
		return Funnel{}, err
	}
	return Funnel{
		Views:             counts[types.ActionView],
		Shares:            counts[types.ActionShare],
		CalendarDownloads: counts[types.ActionCalendarDownload],
		Registrations:     counts[types.ActionRegister],
	}, nil
}

// Conversion is the view to registration rate for one event.
type Conversion struct {
	EventID        int64   `json:"event_id"`
	Views          int64   `json:"views"`
	Registrations  int64   `json:"registrations"`
	ConversionRate float64 `json:"conversion_rate"`
}

// EventConversion returns views, registrations and their rate for eventID.
func (e *Engine) EventConversion(ctx context.Context, eventID int64, period types.Period) (Conversion, error) {
	f, err := e.Funnel(ctx, eventID, period)
	if err != nil {
		return Conversion{}, err
	}
	return Conversion{
		EventID:        eventID,
		Views:          f.Views,
		Registrations:  f.Registrations,
		ConversionRate: ConversionRate(f.Views, f.Registrations),
	}, nil
}

type geoResult struct {
	ip      string
	country string
}

// Geographic counts rows per resolved country. The call is bounded by the
// configured geo timeout; IPs that fail or are still pending when it expires
// are counted as UnknownCountry. Only the store read can fail the call.
func (e *Engine) Geographic(ctx context.Context, period types.Period) (map[string]int64, error) {
	start, end := e.window(types.ParsePeriod(string(period)))
	perIP, err := e.store.IPCounts(ctx, start, end)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	if len(perIP) == 0 {
		return out, nil
	}
	if e.geo == nil {
		for _, n := range perIP {
			out[UnknownCountry] += n
		}
		return out, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, e.cfg.GeoTimeout)
	defer cancel()

	ips := make([]string, 0, len(perIP))
	for ip := range perIP {
		ips = append(ips, ip)
	}

	// At most GeoWorkers lookups run at once. The dispatcher gives up when
	// the deadline passes; unresolved addresses count as unknown below.
	results := make(chan geoResult, len(ips))
	sem := semaphore.NewWeighted(int64(e.cfg.GeoWorkers))
	go func() {
		for _, ip := range ips {
			if err := sem.Acquire(lookupCtx, 1); err != nil {
				return
			}
			go func(ip string) {
				defer sem.Release(1)
				results <- geoResult{ip: ip, country: e.resolve(lookupCtx, ip)}
			}(ip)
		}
	}()

	resolved := make(map[string]string, len(perIP))
collect:
	for len(resolved) < len(perIP) {
		select {
		case r := <-results:
			resolved[r.ip] = r.country
		case <-lookupCtx.Done():
			break collect
		}
	}
	if len(resolved) < len(perIP) {
		e.logger.Warn("geo lookups timed out", "resolved", len(resolved), "total", len(perIP))
	}

	for ip, n := range perIP {
		country, ok := resolved[ip]
		if !ok {
			country = UnknownCountry
		}
		out[country] += n
	}
	return out, nil
}

func (e *Engine) resolve(ctx context.Context, ip string) string {
	started := time.Now()
	country, err := e.geo.Country(ctx, ip)
	e.metrics.RecordGeoLookup(ctx, time.Since(started), err == nil)
	if err != nil || country == "" {
		if err != nil && ctx.Err() == nil {
			observability.LogSwallowed(e.logger, "geo lookup failed", err, "ip", ip)
		}
		return UnknownCountry
	}
	return country
}

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Export serializes every row in period as csv or json, oldest first.
func (e *Engine) Export(ctx context.Context, format string, period types.Period) ([]byte, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format != FormatCSV && format != FormatJSON {
		return nil, apperrors.NewValidationError(apperrors.CodeUnsupportedFormat,
			fmt.Sprintf("unsupported export format %q", format)).
			WithDetails(map[string]interface{}{"format": format})
	}

	start, end := e.window(types.ParsePeriod(string(period)))
	rows, err := e.store.Rows(ctx, start, end)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.EventID
	}
	titles := e.lookupTitles(ctx, ids)
	for i := range rows {
		rows[i].EventTitle = titles[rows[i].EventID]
	}

	if format == FormatJSON {
		data, err := json.Marshal(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("encode json export", err)
		}
		return data, nil
	}
	return e.encodeCSV(rows)
}

func (e *Engine) encodeCSV(rows []types.AnalyticsEvent) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(ExportHeader); err != nil {
		return nil, apperrors.NewInternalError("encode csv header", err)
	}
	for _, r := range rows {
		record := []string{
			r.CreatedAt.In(e.cfg.Location).Format("2006-01-02 15:04:05"),
			strconv.FormatInt(r.EventID, 10),
			r.EventTitle,
			string(r.Action),
			r.IPAddress,
			r.UserAgent,
			r.Payload.String(),
		}
		if err := w.Write(record); err != nil {
			return nil, apperrors.NewInternalError("encode csv row", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, apperrors.NewInternalError("flush csv", err)
	}
	return buf.Bytes(), nil
}

// ArchiveExport writes an export to the archiver under
// exports/<period>/<timestamp>.<format> and returns the object path.
func (e *Engine) ArchiveExport(ctx context.Context, format string, period types.Period) (string, error) {
	if e.archive == nil {
		return "", apperrors.NewValidationError(apperrors.CodeInvalidInput, "no archive storage configured")
	}
	period = types.ParsePeriod(string(period))
	data, err := e.Export(ctx, format, period)
	if err != nil {
		return "", err
	}
	objectPath := fmt.Sprintf("exports/%s/%s.%s", period,
		e.cfg.Now().UTC().Format("20060102T150405Z"), strings.ToLower(strings.TrimSpace(format)))
	if err := e.archive.Put(ctx, objectPath, data); err != nil {
		return "", err
	}
	return objectPath, nil
}

// Cutoff returns the purge boundary for days of retention. Non-positive
// values use the configured retention.
func (e *Engine) Cutoff(days int) time.Time {
	if days <= 0 {
		days = e.cfg.RetentionDays
	}
	return e.cfg.Now().AddDate(0, 0, -days)
}

// RowsBefore returns every row strictly older than cutoff, oldest first.
func (e *Engine) RowsBefore(ctx context.Context, cutoff time.Time) ([]types.AnalyticsEvent, error) {
	return e.store.Rows(ctx, time.Unix(0, 0), cutoff)
}

// Purge deletes rows strictly older than now minus days.
func (e *Engine) Purge(ctx context.Context, days int) (int64, error) {
	return e.PurgeBefore(ctx, e.Cutoff(days))
}

// PurgeBefore deletes rows strictly older than cutoff.
func (e *Engine) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := e.store.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	e.logger.Info("analytics purge", "cutoff", cutoff.UTC(), "deleted", n)
	return n, nil
}

// Optimize reclaims space in the underlying store.
func (e *Engine) Optimize(ctx context.Context) error {
	return e.store.Optimize(ctx)
}

// Countries returns the keys of a geographic aggregate sorted by count,
// highest first.
func Countries(geo map[string]int64) []string {
	out := make([]string, 0, len(geo))
	for c := range geo {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if geo[out[i]] != geo[out[j]] {
			return geo[out[i]] > geo[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
