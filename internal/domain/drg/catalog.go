package drg

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record is one parsed DRG: its identifying metadata plus the main diagnoses and
// procedures that qualify a patient for it. A Record never changes after construction.
type Record struct {
	id               string
	code             string
	name             string
	weight           decimal.Decimal
	insurancePayment decimal.Decimal
	diagnoses        []DiagnosisEntry
	procedures       []ProcedureEntry
}

// RecordMeta carries the non-clinical fields of a record.
type RecordMeta struct {
	Code             string
	Name             string
	Weight           decimal.Decimal
	InsurancePayment decimal.Decimal
}

// NewRecord builds a record, copying both entry slices. A blank id becomes UnknownDrgID.
func NewRecord(id string, meta RecordMeta, diagnoses []DiagnosisEntry, procedures []ProcedureEntry) *Record {
	if !IsValidCode(id) {
		id = UnknownDrgID
	}
	dx := make([]DiagnosisEntry, len(diagnoses))
	for i, d := range diagnoses {
		dx[i] = NewDiagnosisEntry(d.code, d.name, d.aliases)
	}
	px := make([]ProcedureEntry, len(procedures))
	copy(px, procedures)
	return &Record{
		id:               id,
		code:             meta.Code,
		name:             meta.Name,
		weight:           meta.Weight,
		insurancePayment: meta.InsurancePayment,
		diagnoses:        dx,
		procedures:       px,
	}
}

func (r *Record) ID() string                        { return r.id }
func (r *Record) Code() string                      { return r.code }
func (r *Record) Name() string                      { return r.name }
func (r *Record) Weight() decimal.Decimal           { return r.weight }
func (r *Record) InsurancePayment() decimal.Decimal { return r.insurancePayment }

// Diagnoses returns a copy of the record's main diagnoses.
func (r *Record) Diagnoses() []DiagnosisEntry {
	out := make([]DiagnosisEntry, len(r.diagnoses))
	for i, d := range r.diagnoses {
		out[i] = NewDiagnosisEntry(d.code, d.name, d.aliases)
	}
	return out
}

// Procedures returns a copy of the record's main procedures.
func (r *Record) Procedures() []ProcedureEntry {
	out := make([]ProcedureEntry, len(r.procedures))
	copy(out, r.procedures)
	return out
}

func (r *Record) HasDiagnoses() bool  { return len(r.diagnoses) > 0 }
func (r *Record) HasProcedures() bool { return len(r.procedures) > 0 }

// Catalog is an immutable snapshot of every DRG record, tagged with a version. Any
// number of goroutines may read a Catalog without synchronization.
type Catalog struct {
	version string
	builtAt time.Time
	records []*Record
	byID    map[string]*Record
}

// NewCatalog assembles a snapshot. The record slice is copied; the records themselves
// are already immutable.
func NewCatalog(version string, builtAt time.Time, records []*Record) *Catalog {
	recs := make([]*Record, 0, len(records))
	byID := make(map[string]*Record, len(records))
	for _, r := range records {
		if r == nil {
			continue
		}
		recs = append(recs, r)
		if _, dup := byID[r.id]; !dup {
			byID[r.id] = r
		}
	}
	return &Catalog{version: version, builtAt: builtAt, records: recs, byID: byID}
}

func (c *Catalog) Version() string    { return c.version }
func (c *Catalog) BuiltAt() time.Time { return c.builtAt }

// RecordCount returns the number of records in the snapshot.
func (c *Catalog) RecordCount() int {
	if c == nil {
		return 0
	}
	return len(c.records)
}

// Records returns the snapshot's records in load order. The returned slice is a copy.
func (c *Catalog) Records() []*Record {
	if c == nil {
		return nil
	}
	out := make([]*Record, len(c.records))
	copy(out, c.records)
	return out
}

// FindByID returns the first record loaded with the given id.
func (c *Catalog) FindByID(id string) (*Record, bool) {
	if c == nil {
		return nil, false
	}
	r, ok := c.byID[id]
	return r, ok
}
