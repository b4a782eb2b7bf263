package drg

import "strings"

// NoTopK disables truncation in a NameCollector.
const NoTopK = -1

// orderedSet is a string set that remembers first-insertion order.
type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(v string) {
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}

func (s *orderedSet) first(n int) []string {
	if n < 0 || n > len(s.items) {
		n = len(s.items)
	}
	out := make([]string, n)
	copy(out, s.items[:n])
	return out
}

// NameCollector accumulates the deduplicated main diagnosis and procedure names of the
// records a patient matched. Names are kept in first-seen order, and in Top-K mode the
// first K names seen are the ones returned. Callers should not read any ranking into
// that order. A NameCollector is not safe for concurrent use; use one per match call.
type NameCollector struct {
	topK       int
	diagnoses  *orderedSet
	procedures *orderedSet
}

// NewNameCollector returns a collector without a size cap.
func NewNameCollector() *NameCollector {
	return NewTopKNameCollector(NoTopK)
}

// NewTopKNameCollector returns a collector whose outputs hold at most k names each.
// A negative k disables the cap.
func NewTopKNameCollector(k int) *NameCollector {
	if k < 0 {
		k = NoTopK
	}
	return &NameCollector{
		topK:       k,
		diagnoses:  newOrderedSet(),
		procedures: newOrderedSet(),
	}
}

// Collect adds the main names of record: its diagnoses when matchedDiagnosis is set and
// its procedures when matchedProcedure is set. Aliases are never collected.
func (c *NameCollector) Collect(record *Record, matchedDiagnosis, matchedProcedure bool) {
	if record == nil {
		return
	}
	if matchedDiagnosis {
		for _, d := range record.diagnoses {
			if name := strings.TrimSpace(d.name); name != "" {
				c.diagnoses.add(name)
			}
		}
	}
	if matchedProcedure {
		for _, p := range record.procedures {
			if name := strings.TrimSpace(p.name); name != "" {
				c.procedures.add(name)
			}
		}
	}
}

// TopKEnabled reports whether the collector truncates its outputs.
func (c *NameCollector) TopKEnabled() bool { return c.topK != NoTopK }

// PrimaryDiagnoses returns the collected diagnosis names.
func (c *NameCollector) PrimaryDiagnoses() []string { return c.diagnoses.first(c.topK) }

// PrimaryProcedures returns the collected procedure names.
func (c *NameCollector) PrimaryProcedures() []string { return c.procedures.first(c.topK) }

// Result packages the collected names.
func (c *NameCollector) Result() Result {
	return Result{
		PrimaryDiagnoses:  c.PrimaryDiagnoses(),
		PrimaryProcedures: c.PrimaryProcedures(),
	}
}
