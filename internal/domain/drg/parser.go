package drg

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// RE2's \s is ASCII only. [\pZ\s] also takes the full-width space (U+3000) that
// catalogs typed with CJK input methods put between code and name.
var (
	// A bracket-free name followed by an alias block that closes the line.
	aliasLineRe = regexp.MustCompile(`^([^\pZ\s]+)[\pZ\s]+([^\[\]]+?)[\pZ\s]*\[([^\[\]]*)\]$`)
	// Any name, brackets allowed, no alias block.
	plainLineRe = regexp.MustCompile(`^([^\pZ\s]+)[\pZ\s]+(.+)$`)
)

// ParseStats counts what a single parse call did with its input.
type ParseStats struct {
	Lines   int `json:"lines"`
	Entries int `json:"entries"`
	Skipped int `json:"skipped"`
}

// Add accumulates other into s.
func (s *ParseStats) Add(other ParseStats) {
	s.Lines += other.Lines
	s.Entries += other.Entries
	s.Skipped += other.Skipped
}

// Parser turns the encoded catalog text (one "<code> <name>[aliases]" per line) into
// entries. It keeps no state between calls and may be shared between goroutines.
type Parser struct {
	logger zerolog.Logger
}

// NewParser creates a parser that reports skipped lines to logger.
func NewParser(logger zerolog.Logger) *Parser {
	return &Parser{logger: logger}
}

type parsedLine struct {
	code    string
	name    string
	aliases []string
}

// ParseDiagnoses parses a main-diagnoses text blob.
func (p *Parser) ParseDiagnoses(text string) []DiagnosisEntry {
	entries, _ := p.ParseDiagnosesWithStats(text)
	return entries
}

// ParseDiagnosesWithStats is ParseDiagnoses plus line accounting.
func (p *Parser) ParseDiagnosesWithStats(text string) ([]DiagnosisEntry, ParseStats) {
	lines, stats := p.parse(text, "diagnosis")
	entries := make([]DiagnosisEntry, 0, len(lines))
	for _, l := range lines {
		entries = append(entries, DiagnosisEntry{code: l.code, name: l.name, aliases: l.aliases})
	}
	return entries, stats
}

// ParseProcedures parses a main-procedures text blob. A trailing alias block on a
// procedure line is accepted but not kept.
func (p *Parser) ParseProcedures(text string) []ProcedureEntry {
	entries, _ := p.ParseProceduresWithStats(text)
	return entries
}

// ParseProceduresWithStats is ParseProcedures plus line accounting.
func (p *Parser) ParseProceduresWithStats(text string) ([]ProcedureEntry, ParseStats) {
	lines, stats := p.parse(text, "procedure")
	entries := make([]ProcedureEntry, 0, len(lines))
	for _, l := range lines {
		entries = append(entries, ProcedureEntry{code: l.code, name: l.name})
	}
	return entries, stats
}

func (p *Parser) parse(text, kind string) ([]parsedLine, ParseStats) {
	var stats ParseStats
	if strings.TrimSpace(text) == "" {
		return nil, stats
	}

	var out []parsedLine
	for i, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if line == "" {
			continue
		}
		stats.Lines++

		parsed, ok := parseLine(line)
		if !ok {
			stats.Skipped++
			p.logger.Warn().
				Str("kind", kind).
				Int("line", i+1).
				Str("text", line).
				Msg("skipping malformed catalog line")
			continue
		}
		out = append(out, parsed)
		stats.Entries++
	}
	return out, stats
}

func parseLine(line string) (parsedLine, bool) {
	if m := aliasLineRe.FindStringSubmatch(line); m != nil {
		return parsedLine{
			code:    m[1],
			name:    strings.TrimSpace(m[2]),
			aliases: splitAliases(m[3]),
		}, true
	}
	if m := plainLineRe.FindStringSubmatch(line); m != nil {
		return parsedLine{
			code:    m[1],
			name:    strings.TrimSpace(m[2]),
			aliases: []string{},
		}, true
	}
	return parsedLine{}, false
}

func splitAliases(block string) []string {
	aliases := []string{}
	for _, a := range strings.Split(block, ",") {
		if a = strings.TrimSpace(a); a != "" {
			aliases = append(aliases, a)
		}
	}
	return aliases
}
