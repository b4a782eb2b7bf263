package drg

import (
	"github.com/rs/zerolog"
)

// MatchVia names the rule that satisfied a predicate.
type MatchVia string

const (
	ViaNone  MatchVia = ""
	ViaCode  MatchVia = "code"
	ViaName  MatchVia = "name"
	ViaAlias MatchVia = "alias"
)

// RecordMatch describes how one candidate record matched a patient.
type RecordMatch struct {
	DrgID            string   `json:"drg_id"`
	DrgCode          string   `json:"drg_code"`
	DrgName          string   `json:"drg_name"`
	DiagnosisMatched bool     `json:"diagnosis_matched"`
	DiagnosisVia     MatchVia `json:"diagnosis_via,omitempty"`
	ProcedureMatched bool     `json:"procedure_matched"`
	ProcedureVia     MatchVia `json:"procedure_via,omitempty"`
}

// Explanation is the per-record trace behind a Result.
type Explanation struct {
	CatalogVersion string        `json:"catalog_version"`
	Candidates     int           `json:"candidates"`
	Matches        []RecordMatch `json:"matches"`
	Result         Result        `json:"result"`
}

// Matcher runs the matching pipeline: triage on procedure presence, then code and name
// comparison for every surviving record, then name aggregation. A Matcher holds only
// configuration and may be shared between goroutines.
type Matcher struct {
	topK     int
	codeMode CodeMatchMode
	logger   zerolog.Logger
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithTopK caps each result list at k names. A negative k means no cap.
func WithTopK(k int) MatcherOption {
	return func(m *Matcher) { m.topK = k }
}

// WithCodeMatchMode sets how codes are compared.
func WithCodeMatchMode(mode CodeMatchMode) MatcherOption {
	return func(m *Matcher) { m.codeMode = mode }
}

// WithLogger sets the logger used for debug tracing.
func WithLogger(logger zerolog.Logger) MatcherOption {
	return func(m *Matcher) { m.logger = logger }
}

// NewMatcher creates a matcher with exact code comparison and no Top-K cap by default.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{topK: NoTopK, codeMode: CodeMatchExact, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match returns the canonical names patient should be labelled with according to
// catalog. Absent inputs, an empty catalog or no triage survivors yield an empty result.
func (m *Matcher) Match(patient *PatientData, catalog *Catalog) Result {
	exp := m.run(patient, catalog, false)
	return exp.Result
}

// Explain is Match with the per-record trace.
func (m *Matcher) Explain(patient *PatientData, catalog *Catalog) Explanation {
	return m.run(patient, catalog, true)
}

func (m *Matcher) run(patient *PatientData, catalog *Catalog, trace bool) Explanation {
	exp := Explanation{Matches: []RecordMatch{}, Result: EmptyResult()}
	if catalog != nil {
		exp.CatalogVersion = catalog.version
	}
	if patient == nil || catalog == nil || catalog.RecordCount() == 0 {
		return exp
	}

	candidates := FilterByProcedurePresence(patient, catalog.records)
	exp.Candidates = len(candidates)
	if len(candidates) == 0 {
		return exp
	}

	collector := NewTopKNameCollector(m.topK)
	for _, rec := range candidates {
		dxVia := m.matchDiagnoses(patient, rec)
		pxVia := m.matchProcedures(patient, rec)
		if dxVia == ViaNone && pxVia == ViaNone {
			continue
		}
		collector.Collect(rec, dxVia != ViaNone, pxVia != ViaNone)
		if trace {
			exp.Matches = append(exp.Matches, RecordMatch{
				DrgID:            rec.id,
				DrgCode:          rec.code,
				DrgName:          rec.name,
				DiagnosisMatched: dxVia != ViaNone,
				DiagnosisVia:     dxVia,
				ProcedureMatched: pxVia != ViaNone,
				ProcedureVia:     pxVia,
			})
		}
	}

	exp.Result = collector.Result()
	m.logger.Debug().
		Str("catalog_version", exp.CatalogVersion).
		Int("candidates", exp.Candidates).
		Int("diagnoses", len(exp.Result.PrimaryDiagnoses)).
		Int("procedures", len(exp.Result.PrimaryProcedures)).
		Msg("drg match")
	return exp
}

func (m *Matcher) matchDiagnoses(patient *PatientData, rec *Record) MatchVia {
	if !patient.HasDiagnoses() || !rec.HasDiagnoses() {
		return ViaNone
	}
	for _, pd := range patient.Diagnoses {
		for _, cd := range rec.diagnoses {
			if m.codeMode.Match(pd.Code, cd.code) {
				return ViaCode
			}
			if IsMatchDefault(pd.Name, cd.name) {
				return ViaName
			}
			for _, alias := range cd.aliases {
				if IsMatchDefault(pd.Name, alias) {
					return ViaAlias
				}
			}
		}
	}
	return ViaNone
}

func (m *Matcher) matchProcedures(patient *PatientData, rec *Record) MatchVia {
	if !patient.HasProcedures() || !rec.HasProcedures() {
		return ViaNone
	}
	for _, pp := range patient.Procedures {
		for _, cp := range rec.procedures {
			if m.codeMode.Match(pp.Code, cp.code) {
				return ViaCode
			}
			if IsMatchDefault(pp.Name, cp.name) {
				return ViaName
			}
		}
	}
	return ViaNone
}
