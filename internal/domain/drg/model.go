package drg

import (
	"strings"

	"github.com/shopspring/decimal"
)

// UnknownDrgID is the identifier given to catalog rows that arrive without one.
const UnknownDrgID = "UNKNOWN"

// DiagnosisEntry is one main diagnosis of a DRG, with the alternative names it may be
// recorded under.
type DiagnosisEntry struct {
	code    string
	name    string
	aliases []string
}

// NewDiagnosisEntry builds a diagnosis entry. The alias slice is copied.
func NewDiagnosisEntry(code, name string, aliases []string) DiagnosisEntry {
	return DiagnosisEntry{code: code, name: name, aliases: copyStrings(aliases)}
}

func (e DiagnosisEntry) Code() string { return e.code }
func (e DiagnosisEntry) Name() string { return e.name }

// Aliases returns a copy of the entry's aliases in catalog order.
func (e DiagnosisEntry) Aliases() []string { return copyStrings(e.aliases) }

// ProcedureEntry is one main procedure of a DRG.
type ProcedureEntry struct {
	code string
	name string
}

// NewProcedureEntry builds a procedure entry.
func NewProcedureEntry(code, name string) ProcedureEntry {
	return ProcedureEntry{code: code, name: name}
}

func (e ProcedureEntry) Code() string { return e.code }
func (e ProcedureEntry) Name() string { return e.name }

// Row is a raw catalog row as supplied by a RecordStore.
type Row struct {
	ID                 string          `db:"id" json:"id" yaml:"id"`
	Code               string          `db:"drg_code" json:"code" yaml:"code"`
	Name               string          `db:"drg_name" json:"name" yaml:"name"`
	MainDiagnosesText  string          `db:"main_diagnoses" json:"main_diagnoses" yaml:"main_diagnoses"`
	MainProceduresText string          `db:"main_procedures" json:"main_procedures" yaml:"main_procedures"`
	Weight             decimal.Decimal `db:"weight" json:"weight" yaml:"weight"`
	InsurancePayment   decimal.Decimal `db:"insurance_payment" json:"insurance_payment" yaml:"insurance_payment"`
}

// PatientDiagnosis is a diagnosis reported on a patient record.
type PatientDiagnosis struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// PatientProcedure is a procedure reported on a patient record.
type PatientProcedure struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// PatientData holds the diagnoses and procedures of one encounter.
type PatientData struct {
	Diagnoses  []PatientDiagnosis `json:"diagnoses"`
	Procedures []PatientProcedure `json:"procedures"`
}

func (p *PatientData) HasDiagnoses() bool  { return p != nil && len(p.Diagnoses) > 0 }
func (p *PatientData) HasProcedures() bool { return p != nil && len(p.Procedures) > 0 }

// Result holds the canonical diagnosis and procedure names a patient record should be
// labelled with.
type Result struct {
	PrimaryDiagnoses  []string `json:"primary_diagnoses"`
	PrimaryProcedures []string `json:"primary_procedures"`
}

// EmptyResult returns a result with empty, non-nil name lists.
func EmptyResult() Result {
	return Result{PrimaryDiagnoses: []string{}, PrimaryProcedures: []string{}}
}

// IsEmpty reports whether neither list holds a name.
func (r Result) IsEmpty() bool {
	return len(r.PrimaryDiagnoses) == 0 && len(r.PrimaryProcedures) == 0
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// isNoProcedures reports whether a procedures text field means "this DRG has no
// procedures". Catalog exports use "/" as an explicit placeholder.
func isNoProcedures(text string) bool {
	t := strings.TrimSpace(text)
	return t == "" || t == "/"
}
