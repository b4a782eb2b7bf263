package drg

// FilterByProcedurePresence keeps the records that agree with the patient on whether
// procedures were performed. Surgical DRGs are never offered to patients without
// procedures, and the reverse.
func FilterByProcedurePresence(patient *PatientData, records []*Record) []*Record {
	out := []*Record{}
	if patient == nil || len(records) == 0 {
		return out
	}
	want := patient.HasProcedures()
	for _, r := range records {
		if r != nil && r.HasProcedures() == want {
			out = append(out, r)
		}
	}
	return out
}
