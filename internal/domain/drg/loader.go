package drg

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// versionLayout has nanosecond resolution and sorts lexicographically in time order.
const versionLayout = "20060102T150405.000000000Z"

// ErrNoCatalog is returned by operations that need a published catalog before one exists.
var ErrNoCatalog = errors.New("drg catalog not loaded")

// LoadStats describes the build of the currently published snapshot.
type LoadStats struct {
	Version      string        `json:"version"`
	Rows         int           `json:"rows"`
	Records      int           `json:"records"`
	Diagnoses    int           `json:"diagnoses"`
	Procedures   int           `json:"procedures"`
	SkippedLines int           `json:"skipped_lines"`
	Duration     time.Duration `json:"duration"`
}

// Loader builds catalog snapshots from a RecordStore and publishes them. Readers get the
// current snapshot with a single atomic load and never wait for a reload; a reload
// builds its snapshot off to the side and swaps it in with one atomic store.
type Loader struct {
	store  RecordStore
	parser *Parser
	logger zerolog.Logger
	now    func() time.Time

	current atomic.Pointer[Catalog]
	stats   atomic.Pointer[LoadStats]

	refreshCount atomic.Int64
	lastRefresh  atomic.Int64 // unix nanoseconds, 0 until the first reload

	// loadMu serializes builds and guards lastVersion.
	loadMu      sync.Mutex
	lastVersion time.Time

	histMu   sync.RWMutex
	previous string
	history  []string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) LoaderOption {
	return func(l *Loader) { l.now = now }
}

// NewLoader creates a loader and performs the initial load. A store failure is returned
// and no loader is created.
func NewLoader(ctx context.Context, store RecordStore, logger zerolog.Logger, opts ...LoaderOption) (*Loader, error) {
	l := &Loader{
		store:  store,
		parser: NewParser(logger),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.LoadCatalog(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// LoadCatalog builds a snapshot and publishes it without touching the reload history.
func (l *Loader) LoadCatalog(ctx context.Context) error {
	l.loadMu.Lock()
	defer l.loadMu.Unlock()

	cat, stats, err := l.build(ctx)
	if err != nil {
		return err
	}
	l.publish(cat, stats)
	return nil
}

// Reload builds a fresh snapshot and atomically replaces the current one. On failure the
// current snapshot stays published and the error is returned.
func (l *Loader) Reload(ctx context.Context) error {
	l.loadMu.Lock()
	defer l.loadMu.Unlock()

	cat, stats, err := l.build(ctx)
	if err != nil {
		l.logger.Error().Err(err).Str("current_version", l.Version()).Msg("drg catalog reload failed")
		return err
	}

	if old := l.current.Load(); old != nil {
		l.histMu.Lock()
		l.history = append(l.history, old.version)
		l.previous = old.version
		l.histMu.Unlock()
	}
	l.publish(cat, stats)
	l.refreshCount.Add(1)
	l.lastRefresh.Store(cat.builtAt.UnixNano())
	return nil
}

func (l *Loader) publish(cat *Catalog, stats *LoadStats) {
	l.current.Store(cat)
	l.stats.Store(stats)
	l.logger.Info().
		Str("version", cat.version).
		Int("records", stats.Records).
		Int("skipped_lines", stats.SkippedLines).
		Dur("duration", stats.Duration).
		Msg("drg catalog published")
}

// build runs with l.loadMu held.
func (l *Loader) build(ctx context.Context) (*Catalog, *LoadStats, error) {
	start := l.now()
	rows, err := l.store.FetchAllDrgRows(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch drg rows: %w", err)
	}

	stats := &LoadStats{Rows: len(rows)}
	var parse ParseStats
	records := make([]*Record, 0, len(rows))
	for _, row := range rows {
		rec, ps := l.buildRecord(row)
		parse.Add(ps)
		stats.Diagnoses += len(rec.diagnoses)
		stats.Procedures += len(rec.procedures)
		records = append(records, rec)
	}

	builtAt := l.nextVersionTime()
	version := builtAt.Format(versionLayout)
	cat := NewCatalog(version, builtAt, records)

	stats.Version = version
	stats.Records = cat.RecordCount()
	stats.SkippedLines = parse.Skipped
	stats.Duration = l.now().Sub(start)
	return cat, stats, nil
}

func (l *Loader) buildRecord(row Row) (*Record, ParseStats) {
	diagnoses, stats := l.parser.ParseDiagnosesWithStats(row.MainDiagnosesText)
	procedures := []ProcedureEntry{}
	if !isNoProcedures(row.MainProceduresText) {
		var ps ParseStats
		procedures, ps = l.parser.ParseProceduresWithStats(row.MainProceduresText)
		stats.Add(ps)
	}
	meta := RecordMeta{
		Code:             row.Code,
		Name:             row.Name,
		Weight:           row.Weight,
		InsurancePayment: row.InsurancePayment,
	}
	return NewRecord(row.ID, meta, diagnoses, procedures), stats
}

// nextVersionTime returns a UTC instant strictly after the previous version's, even when
// the clock has not advanced. Runs with l.loadMu held.
func (l *Loader) nextVersionTime() time.Time {
	t := l.now().UTC().Round(0)
	if !t.After(l.lastVersion) {
		t = l.lastVersion.Add(time.Nanosecond)
	}
	l.lastVersion = t
	return t
}

// CurrentCatalog returns the published snapshot. Callers should fetch it once per request
// and work against that value.
func (l *Loader) CurrentCatalog() *Catalog {
	return l.current.Load()
}

// Version returns the published snapshot's version, or "" before the first load.
func (l *Loader) Version() string {
	if c := l.current.Load(); c != nil {
		return c.version
	}
	return ""
}

// PreviousVersion returns the version that the last successful reload replaced.
func (l *Loader) PreviousVersion() string {
	l.histMu.RLock()
	defer l.histMu.RUnlock()
	return l.previous
}

// RefreshCount returns the number of successful reloads.
func (l *Loader) RefreshCount() int64 {
	return l.refreshCount.Load()
}

// LastRefreshTime returns when the last successful reload was published, or the zero
// time if there has been none.
func (l *Loader) LastRefreshTime() time.Time {
	ns := l.lastRefresh.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// VersionHistory returns the replaced versions, oldest first.
func (l *Loader) VersionHistory() []string {
	l.histMu.RLock()
	defer l.histMu.RUnlock()
	return copyStrings(l.history)
}

// LastLoadStats describes the build of the published snapshot.
func (l *Loader) LastLoadStats() LoadStats {
	if s := l.stats.Load(); s != nil {
		return *s
	}
	return LoadStats{}
}

// StartAutoReload reloads the catalog every interval until ctx is done. Failed reloads
// are logged and the current snapshot is kept. A non-positive interval does nothing.
func (l *Loader) StartAutoReload(ctx context.Context, interval time.Duration, onReload func(version string)) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.Reload(ctx); err != nil {
					continue
				}
				if onReload != nil {
					onReload(l.Version())
				}
			}
		}
	}()
}
