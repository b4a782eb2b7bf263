package drg

import (
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// =========== Triage ===========

func TestFilterByProcedurePresence_KeepsMatchingPresence(t *testing.T) {
	p := NewParser(zerolog.Nop())
	surgical := NewRecord("S1", RecordMeta{}, p.ParseDiagnoses("I48.000 房颤"), p.ParseProcedures("37.9000x001 封堵术"))
	medical := NewRecord("M1", RecordMeta{}, p.ParseDiagnoses("I10.x00 高血压"), nil)
	records := []*Record{surgical, medical, nil}

	patients := []*PatientData{
		{},
		{Diagnoses: []PatientDiagnosis{{Code: "I10.x00"}}},
		{Procedures: []PatientProcedure{{Code: "37.9000x001"}}},
	}
	for _, patient := range patients {
		for _, r := range FilterByProcedurePresence(patient, records) {
			if r.HasProcedures() != patient.HasProcedures() {
				t.Errorf("record %s procedure presence %v disagrees with patient %v", r.ID(), r.HasProcedures(), patient.HasProcedures())
			}
		}
	}

	if got := FilterByProcedurePresence(patients[0], records); len(got) != 1 || got[0].ID() != "M1" {
		t.Errorf("expected only M1 for patient without procedures, got %d records", len(got))
	}
	if got := FilterByProcedurePresence(patients[2], records); len(got) != 1 || got[0].ID() != "S1" {
		t.Errorf("expected only S1 for patient with procedures, got %d records", len(got))
	}
}

func TestFilterByProcedurePresence_EmptyInputs(t *testing.T) {
	if got := FilterByProcedurePresence(&PatientData{}, nil); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
	if got := FilterByProcedurePresence(nil, []*Record{NewRecord("X", RecordMeta{}, nil, nil)}); len(got) != 0 {
		t.Errorf("expected empty result for nil patient, got %d", len(got))
	}
}

// =========== Name Collector ===========

func collectorRecord() *Record {
	return NewRecord("R1", RecordMeta{},
		[]DiagnosisEntry{
			NewDiagnosisEntry("A", " 阵发性心房颤动 ", []string{"房颤"}),
			NewDiagnosisEntry("B", "持续性心房颤动", nil),
			NewDiagnosisEntry("C", "   ", nil),
		},
		[]ProcedureEntry{NewProcedureEntry("P", "经皮左心耳封堵术")})
}

func TestNameCollector_CollectsMainNamesOnly(t *testing.T) {
	c := NewNameCollector()
	c.Collect(collectorRecord(), true, false)

	want := []string{"阵发性心房颤动", "持续性心房颤动"}
	if got := c.PrimaryDiagnoses(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if got := c.PrimaryProcedures(); len(got) != 0 {
		t.Errorf("expected no procedures, got %v", got)
	}
}

func TestNameCollector_Deduplicates(t *testing.T) {
	c := NewNameCollector()
	c.Collect(collectorRecord(), true, true)
	c.Collect(collectorRecord(), true, true)

	if got := c.PrimaryDiagnoses(); len(got) != 2 {
		t.Errorf("expected 2 unique diagnoses, got %v", got)
	}
	if got := c.PrimaryProcedures(); len(got) != 1 {
		t.Errorf("expected 1 unique procedure, got %v", got)
	}
}

func TestNameCollector_TopK(t *testing.T) {
	c := NewTopKNameCollector(1)
	if !c.TopKEnabled() {
		t.Fatal("expected top-k enabled")
	}
	c.Collect(collectorRecord(), true, true)

	if got := c.PrimaryDiagnoses(); !reflect.DeepEqual(got, []string{"阵发性心房颤动"}) {
		t.Errorf("expected first-seen diagnosis only, got %v", got)
	}
}

func TestNameCollector_TopKZero(t *testing.T) {
	c := NewTopKNameCollector(0)
	c.Collect(collectorRecord(), true, true)

	if got := c.PrimaryDiagnoses(); got == nil || len(got) != 0 {
		t.Errorf("expected empty diagnoses, got %#v", got)
	}
	if got := c.PrimaryProcedures(); got == nil || len(got) != 0 {
		t.Errorf("expected empty procedures, got %#v", got)
	}
}

func TestNameCollector_NegativeKDisablesCap(t *testing.T) {
	c := NewTopKNameCollector(-5)
	if c.TopKEnabled() {
		t.Error("expected negative k to disable top-k")
	}
	c.Collect(collectorRecord(), true, false)
	if got := c.PrimaryDiagnoses(); len(got) != 2 {
		t.Errorf("expected 2 diagnoses, got %v", got)
	}
}

func TestNameCollector_NilRecord(t *testing.T) {
	c := NewNameCollector()
	c.Collect(nil, true, true)
	if !c.Result().IsEmpty() {
		t.Error("expected empty result")
	}
}

// =========== Catalog ===========

func TestNewRecord_BlankIDBecomesUnknown(t *testing.T) {
	r := NewRecord("  ", RecordMeta{}, nil, nil)
	if r.ID() != UnknownDrgID {
		t.Errorf("expected %s, got %q", UnknownDrgID, r.ID())
	}
}

func TestRecord_AccessorsReturnCopies(t *testing.T) {
	r := collectorRecord()
	dx := r.Diagnoses()
	dx[0] = NewDiagnosisEntry("Z", "changed", nil)
	if r.Diagnoses()[0].Code() != "A" {
		t.Error("expected record diagnoses to be unaffected by caller mutation")
	}
	aliases := r.Diagnoses()[0].Aliases()
	aliases[0] = "changed"
	if r.Diagnoses()[0].Aliases()[0] != "房颤" {
		t.Error("expected aliases to be unaffected by caller mutation")
	}
}

func TestCatalog_FindByID(t *testing.T) {
	first := NewRecord("D1", RecordMeta{Code: "first"}, nil, nil)
	dup := NewRecord("D1", RecordMeta{Code: "dup"}, nil, nil)
	cat := NewCatalog("v", time.Now(), []*Record{first, nil, dup})

	if cat.RecordCount() != 2 {
		t.Errorf("expected 2 records, got %d", cat.RecordCount())
	}
	r, ok := cat.FindByID("D1")
	if !ok || r.Code() != "first" {
		t.Error("expected first record with id D1")
	}
	if _, ok := cat.FindByID("missing"); ok {
		t.Error("expected missing id not found")
	}

	var nilCat *Catalog
	if nilCat.RecordCount() != 0 || nilCat.Records() != nil {
		t.Error("expected nil catalog to be empty")
	}
}

// =========== Matcher ===========

func TestMatcher_PatientWithoutProceduresExcludedBySurgicalRecord(t *testing.T) {
	m := NewMatcher()
	patient := &PatientData{
		Diagnoses: []PatientDiagnosis{{Code: "I48.000", Name: "心房颤动"}},
	}

	result := m.Match(patient, singleAfibCatalog())

	if !result.IsEmpty() {
		t.Errorf("expected empty result, got %+v", result)
	}
	if result.PrimaryDiagnoses == nil || result.PrimaryProcedures == nil {
		t.Error("expected non-nil name lists")
	}
}

func TestMatcher_ExactCodeMatch(t *testing.T) {
	m := NewMatcher()
	patient := &PatientData{
		Diagnoses:  []PatientDiagnosis{{Code: "I48.000", Name: "阵发性心房颤动"}},
		Procedures: []PatientProcedure{{Code: "37.9000x001", Name: "经皮左心耳封堵术"}},
	}

	result := m.Match(patient, singleAfibCatalog())

	if !reflect.DeepEqual(result.PrimaryDiagnoses, []string{"阵发性心房颤动"}) {
		t.Errorf("unexpected diagnoses %v", result.PrimaryDiagnoses)
	}
	if !reflect.DeepEqual(result.PrimaryProcedures, []string{"经皮左心耳封堵术"}) {
		t.Errorf("unexpected procedures %v", result.PrimaryProcedures)
	}
}

func TestMatcher_AbsentInputs(t *testing.T) {
	m := NewMatcher()
	if !m.Match(nil, singleAfibCatalog()).IsEmpty() {
		t.Error("expected empty result for nil patient")
	}
	if !m.Match(&PatientData{}, nil).IsEmpty() {
		t.Error("expected empty result for nil catalog")
	}
	empty := NewCatalog("v", time.Now(), nil)
	if !m.Match(&PatientData{}, empty).IsEmpty() {
		t.Error("expected empty result for empty catalog")
	}
}

func newMixedCatalog(t *testing.T) *Catalog {
	t.Helper()
	loader, err := NewLoader(t.Context(), newMockRecordStore(afibRow(), pregnancyRow()), zerolog.Nop())
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return loader.CurrentCatalog()
}

func TestMatcher_AliasMatch(t *testing.T) {
	m := NewMatcher()
	patient := &PatientData{
		Diagnoses:  []PatientDiagnosis{{Code: "X", Name: "心房纤颤"}},
		Procedures: []PatientProcedure{{Code: "Y", Name: "其他手术"}},
	}

	exp := m.Explain(patient, newMixedCatalog(t))

	if len(exp.Matches) != 1 {
		t.Fatalf("expected 1 matching record, got %d", len(exp.Matches))
	}
	match := exp.Matches[0]
	if match.DrgID != "FM1" || match.DiagnosisVia != ViaAlias || match.ProcedureMatched {
		t.Errorf("unexpected match %+v", match)
	}
	if !reflect.DeepEqual(exp.Result.PrimaryDiagnoses, []string{"阵发性心房颤动"}) {
		t.Errorf("expected main name rather than alias, got %v", exp.Result.PrimaryDiagnoses)
	}
	if len(exp.Result.PrimaryProcedures) != 0 {
		t.Errorf("expected no procedures, got %v", exp.Result.PrimaryProcedures)
	}
}

func TestMatcher_NameMatchOnMedicalRecord(t *testing.T) {
	m := NewMatcher()
	patient := &PatientData{
		Diagnoses: []PatientDiagnosis{{Code: "O14.901", Name: "子痫前期"}},
	}

	exp := m.Explain(patient, newMixedCatalog(t))

	if exp.Candidates != 1 {
		t.Errorf("expected 1 candidate after triage, got %d", exp.Candidates)
	}
	if len(exp.Matches) != 1 || exp.Matches[0].DiagnosisVia != ViaName {
		t.Fatalf("expected a name match, got %+v", exp.Matches)
	}
	want := []string{"妊娠[妊娠引起的]高血压", "子痫前期"}
	if !reflect.DeepEqual(exp.Result.PrimaryDiagnoses, want) {
		t.Errorf("expected %v, got %v", want, exp.Result.PrimaryDiagnoses)
	}
}

func TestMatcher_CodeMatchMode(t *testing.T) {
	patient := &PatientData{
		Diagnoses:  []PatientDiagnosis{{Code: "i48.000"}},
		Procedures: []PatientProcedure{{Code: "37.9000X001"}},
	}

	if !NewMatcher().Match(patient, singleAfibCatalog()).IsEmpty() {
		t.Error("expected exact mode to reject differently cased codes")
	}
	result := NewMatcher(WithCodeMatchMode(CodeMatchIgnoreCase)).Match(patient, singleAfibCatalog())
	if len(result.PrimaryDiagnoses) != 1 || len(result.PrimaryProcedures) != 1 {
		t.Errorf("expected ignore-case mode to match, got %+v", result)
	}
}

func TestMatcher_TopK(t *testing.T) {
	patient := &PatientData{
		Diagnoses: []PatientDiagnosis{{Code: "O13.x00"}},
	}
	result := NewMatcher(WithTopK(1)).Match(patient, newMixedCatalog(t))
	if len(result.PrimaryDiagnoses) != 1 {
		t.Errorf("expected 1 diagnosis under top-k, got %v", result.PrimaryDiagnoses)
	}
}

func TestMatcher_ExplainOmitsNonMatching(t *testing.T) {
	patient := &PatientData{
		Diagnoses: []PatientDiagnosis{{Code: "S72.000", Name: "股骨颈骨折"}},
	}
	exp := NewMatcher().Explain(patient, newMixedCatalog(t))

	if exp.Candidates != 1 {
		t.Errorf("expected 1 candidate, got %d", exp.Candidates)
	}
	if len(exp.Matches) != 0 || !exp.Result.IsEmpty() {
		t.Errorf("expected no matches, got %+v", exp)
	}
	if exp.CatalogVersion == "" {
		t.Error("expected catalog version in explanation")
	}
}
