package diagnostics

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/lexcodex/testforge/framework"
)

type locatedForm struct {
	pattern   *regexp.Regexp
	hasColumn bool
}

// Tried in order; column-bearing forms precede their line-only variants.
var locatedForms = []locatedForm{
	{regexp.MustCompile(`^(\S.*?\.(?:java|kt|groovy)):\[(\d+),(\d+)\]\s*(.*)$`), true},
	{regexp.MustCompile(`^(\S.*?\.(?:java|kt|groovy)):\[(\d+)\]\s*(.*)$`), false},
	{regexp.MustCompile(`^(\S.*?\.(?:java|kt|groovy)):(\d+):(\d+):\s*(.*)$`), true},
	{regexp.MustCompile(`^(\S.*?\.(?:java|kt|groovy)):(\d+):\s*(.*)$`), false},
}

var (
	missingPackagePattern = regexp.MustCompile(`package ([\w.]+) does not exist`)
	errorCountPattern     = regexp.MustCompile(`^\d+ errors?$`)
)

type located struct {
	file    string
	line    int
	column  int
	message string
	rank    int
}

// parseLocated recognizes the file-qualified compiler error forms.
func parseLocated(l Line) (located, bool) {
	if l.Level != "" && l.Level != "ERROR" {
		return located{}, false
	}
	if strings.HasPrefix(l.Text, "at ") {
		return located{}, false
	}
	for _, form := range locatedForms {
		m := form.pattern.FindStringSubmatch(l.Text)
		if m == nil {
			continue
		}
		loc := located{file: m[1], rank: rankLocated}
		loc.line, _ = strconv.Atoi(m[2])
		msg := m[len(m)-1]
		if form.hasColumn {
			loc.column, _ = strconv.Atoi(m[3])
			loc.rank = rankLocatedColumn
		}
		lower := strings.ToLower(msg)
		if strings.HasPrefix(lower, "warning:") {
			return located{}, false
		}
		if strings.HasPrefix(lower, "error:") {
			msg = strings.TrimSpace(msg[len("error:"):])
		}
		loc.message = strings.TrimSpace(msg)
		return loc, true
	}
	return located{}, false
}

func (l located) failure() framework.Failure {
	return framework.Failure{
		Kind:    framework.FailureCompilation,
		File:    l.file,
		Line:    l.line,
		Column:  l.column,
		Message: l.message,
	}
}

// matchLocatedCompileErrors covers file:[line,col], file:[line],
// file:line:col: and file:line: forms.
func matchLocatedCompileErrors(lines []Line) []Candidate {
	var out []Candidate
	for i, l := range lines {
		loc, ok := parseLocated(l)
		if !ok {
			continue
		}
		out = append(out, Candidate{Failure: loc.failure(), Rank: loc.rank, Order: i})
	}
	return out
}

// matchMissingPackages records the missing package as the failure symbol.
func matchMissingPackages(lines []Line) []Candidate {
	var out []Candidate
	for i, l := range lines {
		loc, ok := parseLocated(l)
		if !ok {
			continue
		}
		m := missingPackagePattern.FindStringSubmatch(loc.message)
		if m == nil {
			continue
		}
		f := loc.failure()
		f.Symbol = m[1]
		out = append(out, Candidate{Failure: f, Rank: rankStructured, Order: i})
	}
	return out
}

// matchSymbolBlocks reads the symbol:/location: lines following a
// "cannot find symbol" error. javac may print the offending source line and
// a caret in between.
func matchSymbolBlocks(lines []Line) []Candidate {
	var out []Candidate
	for i, l := range lines {
		loc, ok := parseLocated(l)
		if !ok || !strings.Contains(loc.message, "cannot find symbol") {
			continue
		}
		f := loc.failure()
		for j := i + 1; j < len(lines) && j <= i+6; j++ {
			next := lines[j]
			if _, ok := parseLocated(next); ok || next.Level == "INFO" {
				break
			}
			switch {
			case strings.HasPrefix(next.Text, "symbol:"):
				f.Symbol = strings.TrimSpace(strings.TrimPrefix(next.Text, "symbol:"))
			case strings.HasPrefix(next.Text, "location:"):
				f.Location = strings.TrimSpace(strings.TrimPrefix(next.Text, "location:"))
			}
		}
		if f.Symbol == "" && f.Location == "" {
			continue
		}
		out = append(out, Candidate{
			Failure:  f,
			Rank:     rankSymbolBlock,
			Order:    i,
			Evidence: f.Symbol + " " + f.Location,
		})
	}
	return out
}

// matchBareCompileBlock collects [ERROR] lines without a file position that
// appear under a COMPILATION ERROR banner.
func matchBareCompileBlock(lines []Line) []Candidate {
	var out []Candidate
	for i := 0; i < len(lines); i++ {
		if !strings.Contains(lines[i].Text, "COMPILATION ERROR") {
			continue
		}
		for j := i + 1; j < len(lines); j++ {
			l := lines[j]
			if errorCountPattern.MatchString(l.Text) || strings.Contains(l.Text, "BUILD FAILURE") || strings.Contains(l.Text, "Failed to execute goal") {
				i = j
				break
			}
			if l.Level != "ERROR" || l.Text == "" || strings.Contains(l.Text, "COMPILATION ERROR") {
				continue
			}
			if _, ok := parseLocated(l); ok {
				continue
			}
			if strings.HasPrefix(l.Text, "symbol:") || strings.HasPrefix(l.Text, "location:") || strings.HasPrefix(l.Text, "->") {
				continue
			}
			out = append(out, Candidate{
				Failure: framework.Failure{Kind: framework.FailureCompilation, Message: l.Text},
				Rank:    rankBare,
				Order:   j,
			})
		}
	}
	return out
}
