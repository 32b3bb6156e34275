// Package diagnostics turns raw build-tool output into typed failures.
//
// Each surface form is recognized by an independent Matcher that returns
// ranked candidates; Parse merges them by (file, line), keeping the most
// specific match and folding in details from the others.
package diagnostics

import (
	"regexp"
	"sort"
	"strings"

	"github.com/lexcodex/testforge/framework"
)

// Specificity ranks. Higher ranks win when two matchers report the same
// location.
const (
	rankBare = iota
	rankLocated
	rankLocatedColumn
	rankStructured
	rankSymbolBlock
)

// Candidate is a failure proposed by a matcher.
type Candidate struct {
	Failure framework.Failure
	// Rank orders competing candidates for the same location.
	Rank int
	// Order is the index of the line where the candidate starts.
	Order int
	// Evidence is extra text (nested causes, symbol lines) used only for
	// root-cause categorization.
	Evidence string
}

// Matcher scans the whole output and returns zero or more candidates.
type Matcher func(lines []Line) []Candidate

// Line is one output line split into its log level and text.
type Line struct {
	Raw      string
	Level    string
	Text     string
	Indented bool
}

// Parser holds the matcher table.
type Parser struct {
	Matchers []Matcher
}

// NewParser returns a parser with every built-in matcher.
func NewParser() *Parser {
	return &Parser{Matchers: DefaultMatchers()}
}

// DefaultMatchers lists the built-in matchers.
func DefaultMatchers() []Matcher {
	return []Matcher{
		matchLocatedCompileErrors,
		matchMissingPackages,
		matchSymbolBlocks,
		matchBareCompileBlock,
		matchAssertionExceptions,
		matchRuntimeErrors,
		matchSurefireSummary,
		matchGradleFailures,
	}
}

var defaultParser = NewParser()

// Parse parses raw with the default matcher table.
func Parse(raw string) []framework.Failure {
	return defaultParser.Parse(raw)
}

// Parse converts raw output into de-duplicated failures in order of first
// appearance. It performs no I/O.
func (p *Parser) Parse(raw string) []framework.Failure {
	lines := SplitLines(raw)
	if len(lines) == 0 {
		return nil
	}
	var candidates []Candidate
	for _, m := range p.Matchers {
		candidates = append(candidates, m(lines)...)
	}
	return merge(candidates)
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)
var levelPattern = regexp.MustCompile(`^\[(ERROR|WARNING|WARN|INFO|DEBUG)\]\s?`)

// SplitLines normalizes line endings, strips ANSI colour codes and splits
// the Maven log level prefix from each line.
func SplitLines(raw string) []Line {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = ansiPattern.ReplaceAllString(raw, "")
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, "\n")
	lines := make([]Line, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimRight(part, "\r")
		line := Line{Raw: part}
		rest := part
		if m := levelPattern.FindStringSubmatch(part); m != nil {
			line.Level = m[1]
			rest = part[len(m[0]):]
		}
		line.Indented = strings.HasPrefix(rest, " ") || strings.HasPrefix(rest, "\t")
		line.Text = strings.TrimSpace(rest)
		lines = append(lines, line)
	}
	return lines
}

type mergedEntry struct {
	failure  framework.Failure
	rank     int
	evidence []string
}

func merge(candidates []Candidate) []framework.Failure {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Order < candidates[j].Order
	})
	index := make(map[string]int, len(candidates))
	entries := make([]mergedEntry, 0, len(candidates))
	for _, c := range candidates {
		key := c.Failure.Key()
		if i, ok := index[key]; ok {
			entries[i] = combine(entries[i], c)
			continue
		}
		index[key] = len(entries)
		entry := mergedEntry{failure: c.Failure, rank: c.Rank}
		if c.Evidence != "" {
			entry.evidence = append(entry.evidence, c.Evidence)
		}
		entries = append(entries, entry)
	}
	failures := make([]framework.Failure, 0, len(entries))
	for _, e := range entries {
		f := e.failure
		if f.RootCause == nil {
			text := strings.Join(append([]string{f.Message, f.Symbol, f.Location}, e.evidence...), "\n")
			f.RootCause = Categorize(text, f.Kind)
		}
		failures = append(failures, f)
	}
	return failures
}

func combine(existing mergedEntry, c Candidate) mergedEntry {
	if c.Evidence != "" {
		existing.evidence = append(existing.evidence, c.Evidence)
	}
	if c.Rank > existing.rank {
		base := c.Failure
		fillMissing(&base, existing.failure)
		existing.failure = base
		existing.rank = c.Rank
		return existing
	}
	fillMissing(&existing.failure, c.Failure)
	return existing
}

// fillMissing copies optional detail fields from src into dst where dst has
// none. Kind, position and message stay those of dst.
func fillMissing(dst *framework.Failure, src framework.Failure) {
	if dst.Column == 0 {
		dst.Column = src.Column
	}
	if dst.Symbol == "" {
		dst.Symbol = src.Symbol
	}
	if dst.Location == "" {
		dst.Location = src.Location
	}
	if dst.Expected == "" {
		dst.Expected = src.Expected
	}
	if dst.Actual == "" {
		dst.Actual = src.Actual
	}
	if dst.TestClass == "" {
		dst.TestClass = src.TestClass
	}
	if dst.TestMethod == "" {
		dst.TestMethod = src.TestMethod
	}
	if dst.RootCause == nil {
		dst.RootCause = src.RootCause
	}
}

// Tail returns at most n trailing lines of raw output.
func Tail(raw string, n int) string {
	raw = strings.TrimRight(ansiPattern.ReplaceAllString(raw, ""), "\n")
	lines := strings.Split(raw, "\n")
	if len(lines) <= n {
		return raw
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
