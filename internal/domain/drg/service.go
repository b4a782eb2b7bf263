package drg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrRecordNotFound is returned when a DRG id is not in the current catalog.
var ErrRecordNotFound = errors.New("drg record not found")

// DefaultBatchLimit bounds the goroutines used by MatchBatch.
const DefaultBatchLimit = 8

// ReloadNotifier is told about every successful local reload so other instances can
// follow. Implementations must not block for long.
type ReloadNotifier interface {
	NotifyReload(ctx context.Context, version string) error
}

// CatalogInfo summarizes the loader state.
type CatalogInfo struct {
	Version         string     `json:"version"`
	PreviousVersion string     `json:"previous_version,omitempty"`
	RecordCount     int        `json:"record_count"`
	RefreshCount    int64      `json:"refresh_count"`
	LastRefreshTime *time.Time `json:"last_refresh_time,omitempty"`
	VersionHistory  []string   `json:"version_history"`
	LastLoad        LoadStats  `json:"last_load"`
}

// RecordView is the JSON form of a catalog record.
type RecordView struct {
	ID               string      `json:"id"`
	Code             string      `json:"code"`
	Name             string      `json:"name"`
	Weight           string      `json:"weight"`
	InsurancePayment string      `json:"insurance_payment"`
	Diagnoses        []EntryView `json:"diagnoses"`
	Procedures       []EntryView `json:"procedures"`
}

// EntryView is the JSON form of a diagnosis or procedure entry.
type EntryView struct {
	Code    string   `json:"code"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
}

// NewRecordView converts a record for output.
func NewRecordView(r *Record) RecordView {
	v := RecordView{
		ID:               r.id,
		Code:             r.code,
		Name:             r.name,
		Weight:           r.weight.String(),
		InsurancePayment: r.insurancePayment.StringFixed(2),
		Diagnoses:        make([]EntryView, 0, len(r.diagnoses)),
		Procedures:       make([]EntryView, 0, len(r.procedures)),
	}
	for _, d := range r.diagnoses {
		v.Diagnoses = append(v.Diagnoses, EntryView{Code: d.code, Name: d.name, Aliases: copyStrings(d.aliases)})
	}
	for _, p := range r.procedures {
		v.Procedures = append(v.Procedures, EntryView{Code: p.code, Name: p.name})
	}
	return v
}

// Service exposes matching and catalog administration over a Loader.
type Service struct {
	loader     *Loader
	matcher    *Matcher
	notifier   ReloadNotifier
	batchLimit int
	logger     zerolog.Logger
}

// NewService creates a new DRG service. notifier may be nil.
func NewService(loader *Loader, matcher *Matcher, notifier ReloadNotifier, batchLimit int, logger zerolog.Logger) *Service {
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	return &Service{loader: loader, matcher: matcher, notifier: notifier, batchLimit: batchLimit, logger: logger}
}

func (s *Service) snapshot() (*Catalog, error) {
	cat := s.loader.CurrentCatalog()
	if cat == nil {
		return nil, ErrNoCatalog
	}
	return cat, nil
}

// Match matches one patient against the current snapshot.
func (s *Service) Match(ctx context.Context, patient *PatientData) (Result, string, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, "", err
	}
	cat, err := s.snapshot()
	if err != nil {
		return Result{}, "", err
	}
	return s.matcher.Match(patient, cat), cat.version, nil
}

// Explain matches one patient and returns the per-record trace.
func (s *Service) Explain(ctx context.Context, patient *PatientData) (Explanation, error) {
	if err := ctx.Err(); err != nil {
		return Explanation{}, err
	}
	cat, err := s.snapshot()
	if err != nil {
		return Explanation{}, err
	}
	return s.matcher.Explain(patient, cat), nil
}

// MatchBatch matches every patient against the same snapshot in parallel. Results are
// in input order.
func (s *Service) MatchBatch(ctx context.Context, patients []*PatientData) ([]Result, string, error) {
	cat, err := s.snapshot()
	if err != nil {
		return nil, "", err
	}

	results := make([]Result, len(patients))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchLimit)
	for i, p := range patients {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.matcher.Match(p, cat)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", fmt.Errorf("match batch: %w", err)
	}
	return results, cat.version, nil
}

// Reload reloads the catalog and, on success, tells the notifier.
func (s *Service) Reload(ctx context.Context) (CatalogInfo, error) {
	if err := s.loader.Reload(ctx); err != nil {
		return s.Info(), err
	}
	s.notify(ctx, s.loader.Version())
	return s.Info(), nil
}

// ReloadFromPeer reloads in response to another instance's reload. The notifier is not
// called again.
func (s *Service) ReloadFromPeer(ctx context.Context, peerVersion string) error {
	if err := s.loader.Reload(ctx); err != nil {
		return err
	}
	s.logger.Info().Str("peer_version", peerVersion).Str("version", s.loader.Version()).Msg("drg catalog reloaded from peer")
	return nil
}

func (s *Service) notify(ctx context.Context, version string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyReload(ctx, version); err != nil {
		s.logger.Warn().Err(err).Str("version", version).Msg("drg reload notification failed")
	}
}

// StartAutoReload reloads on a timer and notifies peers after each success.
func (s *Service) StartAutoReload(ctx context.Context, interval time.Duration) {
	s.loader.StartAutoReload(ctx, interval, func(version string) {
		s.notify(ctx, version)
	})
}

// Info returns the loader bookkeeping.
func (s *Service) Info() CatalogInfo {
	info := CatalogInfo{
		Version:         s.loader.Version(),
		PreviousVersion: s.loader.PreviousVersion(),
		RecordCount:     s.loader.CurrentCatalog().RecordCount(),
		RefreshCount:    s.loader.RefreshCount(),
		VersionHistory:  s.loader.VersionHistory(),
		LastLoad:        s.loader.LastLoadStats(),
	}
	if t := s.loader.LastRefreshTime(); !t.IsZero() {
		info.LastRefreshTime = &t
	}
	return info
}

// ListRecords returns a page of the current catalog and its total size.
func (s *Service) ListRecords(limit, offset int) ([]RecordView, int, error) {
	cat, err := s.snapshot()
	if err != nil {
		return nil, 0, err
	}
	total := len(cat.records)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit < 0 || end > total {
		end = total
	}
	views := make([]RecordView, 0, end-offset)
	for _, r := range cat.records[offset:end] {
		views = append(views, NewRecordView(r))
	}
	return views, total, nil
}

// GetRecord returns one record of the current catalog.
func (s *Service) GetRecord(id string) (RecordView, error) {
	cat, err := s.snapshot()
	if err != nil {
		return RecordView{}, err
	}
	r, ok := cat.FindByID(id)
	if !ok {
		return RecordView{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return NewRecordView(r), nil
}

// CurrentCatalog exposes the published snapshot, for export.
func (s *Service) CurrentCatalog() *Catalog { return s.loader.CurrentCatalog() }
