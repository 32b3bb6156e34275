package diagnostics

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/lexcodex/testforge/framework"
)

var (
	assertionExceptionPattern = regexp.MustCompile(`^(org\.opentest4j\.(?:AssertionFailedError|MultipleFailuresError)|java\.lang\.AssertionError|junit\.framework\.AssertionFailedError|org\.junit\.ComparisonFailure)(?::\s*(.*))?$`)
	expectedActualPattern     = regexp.MustCompile(`^(?:(.*?) ==> )?expected: <(.*)> but was: <(.*)>$`)
	notNullPattern            = regexp.MustCompile(`^(?:(.*?) ==> )?expected: not <null>$`)
	stackFramePattern         = regexp.MustCompile(`^at (?:[\w.@$-]+//?)?([\w$.]+)\.([\w$<>]+)\(([\w$]+\.(?:java|kt|groovy)):(\d+)\)`)
	exceptionLinePattern      = regexp.MustCompile(`^([\w$.]+(?:Exception|Error|Failure))(?::\s*(.*))?$`)
	causedByPattern           = regexp.MustCompile(`^Caused by: ([\w$.]+)(?::\s*(.*))?$`)
	modernHeaderPattern       = regexp.MustCompile(`^([\w$.]+)\.([\w$<>\[\]]+)\s+--\s+Time elapsed`)
	legacyHeaderPattern       = regexp.MustCompile(`^([\w$<>\[\]]+)\(([\w$.]+)\)\s+Time elapsed`)
	summaryEntryPattern       = regexp.MustCompile(`^([\w$.]+)\.([\w$<>\[\]]+):(\d+)((?:->\S+)?)\s+(.*)$`)
	summaryHopPattern         = regexp.MustCompile(`^(?:([\w$.]+)\.)?([\w$<>\[\]]+):(\d+)$`)
)

// Frames from these packages belong to the test framework, the build tool or
// the runtime and never point at the failing test.
var frameworkFramePrefixes = []string{
	"org.junit.",
	"org.opentest4j.",
	"org.assertj.",
	"org.mockito.",
	"org.apache.maven.",
	"org.gradle.",
	"worker.org.gradle.",
	"org.hibernate.",
	"org.springframework.",
	"net.bytebuddy.",
	"com.sun.",
	"java.",
	"javax.",
	"jdk.",
	"sun.",
}

const maxStackScan = 60

type stackFrame struct {
	class  string
	method string
	file   string
	line   int
}

// firstUserFrame returns the first frame after start that does not belong
// to the test framework or the standard library.
func firstUserFrame(lines []Line, start int) (stackFrame, bool) {
	for j := start; j < len(lines) && j < start+maxStackScan; j++ {
		text := lines[j].Text
		if text == "" {
			continue
		}
		if !lines[j].Indented && !strings.HasPrefix(text, "at ") && !strings.HasPrefix(text, "Caused by:") && !strings.HasPrefix(text, "...") {
			return stackFrame{}, false
		}
		m := stackFramePattern.FindStringSubmatch(text)
		if m == nil || isFrameworkFrame(m[1]) {
			continue
		}
		line, _ := strconv.Atoi(m[4])
		return stackFrame{class: m[1], method: m[2], file: m[3], line: line}, true
	}
	return stackFrame{}, false
}

func isFrameworkFrame(class string) bool {
	for _, prefix := range frameworkFramePrefixes {
		if strings.HasPrefix(class, prefix) {
			return true
		}
	}
	return false
}

// parseTestHeader reads the surefire per-test header in either the
// "Class.method -- Time elapsed" or the "method(Class)  Time elapsed" form.
func parseTestHeader(text string) (class, method string, ok bool) {
	if m := modernHeaderPattern.FindStringSubmatch(text); m != nil {
		return m[1], m[2], true
	}
	if m := legacyHeaderPattern.FindStringSubmatch(text); m != nil {
		return m[2], m[1], true
	}
	return "", "", false
}

// headerBefore looks a few lines back for the test header of an exception.
func headerBefore(lines []Line, i int) (string, string) {
	for j := i - 1; j >= 0 && j >= i-3; j-- {
		if class, method, ok := parseTestHeader(lines[j].Text); ok {
			return class, method
		}
	}
	return "", ""
}

func attachContext(f *framework.Failure, lines []Line, i int) {
	f.TestClass, f.TestMethod = headerBefore(lines, i)
	frame, ok := firstUserFrame(lines, i+1)
	if !ok {
		return
	}
	f.File = frame.file
	f.Line = frame.line
	f.TestClass = frame.class
	f.TestMethod = frame.method
}

// matchAssertionExceptions recognizes the opentest4j assertion family.
func matchAssertionExceptions(lines []Line) []Candidate {
	var out []Candidate
	for i, l := range lines {
		if l.Indented {
			continue
		}
		m := assertionExceptionPattern.FindStringSubmatch(l.Text)
		if m == nil {
			continue
		}
		exception, message := m[1], strings.TrimSpace(m[2])
		f := framework.Failure{Kind: framework.FailureAssertion, Message: message}
		rank := rankLocatedColumn
		var evidence string
		switch {
		case strings.HasSuffix(exception, "MultipleFailuresError"):
			nested := nestedFailures(lines, i+1)
			if len(nested) > 0 {
				f.Message = message + ": " + strings.Join(nested, "; ")
				evidence = strings.Join(nested, "\n")
			}
		default:
			if mm := expectedActualPattern.FindStringSubmatch(message); mm != nil {
				f.Expected, f.Actual = mm[2], mm[3]
				rank = rankStructured
			} else if notNullPattern.MatchString(message) {
				f.Expected, f.Actual = "not <null>", "null"
				rank = rankStructured
			}
		}
		if f.Message == "" {
			f.Message = exception
		}
		attachContext(&f, lines, i)
		out = append(out, Candidate{Failure: f, Rank: rank, Order: i, Evidence: evidence})
	}
	return out
}

// nestedFailures collects the indented assertion lines a MultipleFailuresError
// prints before its stack trace.
func nestedFailures(lines []Line, start int) []string {
	var nested []string
	for j := start; j < len(lines); j++ {
		l := lines[j]
		if !l.Indented || l.Text == "" || strings.HasPrefix(l.Text, "at ") {
			break
		}
		text := l.Text
		if m := assertionExceptionPattern.FindStringSubmatch(text); m != nil && m[2] != "" {
			text = m[2]
		}
		nested = append(nested, text)
	}
	return nested
}

// matchRuntimeErrors recognizes tests that errored with an unexpected
// exception. The deepest "Caused by" is folded into the message since it
// usually names the real problem.
func matchRuntimeErrors(lines []Line) []Candidate {
	var out []Candidate
	for i, l := range lines {
		if !strings.Contains(l.Text, "<<< ERROR!") {
			continue
		}
		j := i + 1
		for j < len(lines) && lines[j].Text == "" {
			j++
		}
		if j >= len(lines) {
			continue
		}
		m := exceptionLinePattern.FindStringSubmatch(lines[j].Text)
		if m == nil {
			continue
		}
		message := m[1]
		if m[2] != "" {
			message += ": " + strings.TrimSpace(m[2])
		}
		causes := causeChain(lines, j+1)
		if n := len(causes); n > 0 {
			message += " (caused by " + causes[n-1] + ")"
		}
		f := framework.Failure{Kind: framework.FailureUnknown, Message: message}
		f.TestClass, f.TestMethod = parseTestHeaderOr(l.Text)
		if frame, ok := firstUserFrame(lines, j+1); ok {
			f.File = frame.file
			f.Line = frame.line
			f.TestClass = frame.class
			f.TestMethod = frame.method
		}
		out = append(out, Candidate{
			Failure:  f,
			Rank:     rankLocatedColumn,
			Order:    j,
			Evidence: strings.Join(causes, "\n"),
		})
	}
	return out
}

func parseTestHeaderOr(text string) (string, string) {
	class, method, _ := parseTestHeader(text)
	return class, method
}

func causeChain(lines []Line, start int) []string {
	var causes []string
	for j := start; j < len(lines) && j < start+maxStackScan*4; j++ {
		l := lines[j]
		if l.Text == "" {
			continue
		}
		if m := causedByPattern.FindStringSubmatch(l.Text); m != nil {
			cause := m[1]
			if m[2] != "" {
				cause += ": " + strings.TrimSpace(m[2])
			}
			causes = append(causes, cause)
			continue
		}
		if !l.Indented && !strings.HasPrefix(l.Text, "at ") && !strings.HasPrefix(l.Text, "...") {
			break
		}
	}
	return causes
}

// matchSurefireSummary reads the "Failures:" and "Errors:" sections Maven
// prints after the test run. Entries point at the test class and line, which
// lets them merge with the detailed stack-trace matches above.
func matchSurefireSummary(lines []Line) []Candidate {
	var out []Candidate
	kind := framework.FailureKind("")
	for i, l := range lines {
		switch l.Text {
		case "Failures:":
			kind = framework.FailureAssertion
			continue
		case "Errors:":
			kind = framework.FailureUnknown
			continue
		}
		if kind == "" {
			continue
		}
		if !l.Indented || l.Level == "INFO" {
			kind = ""
			continue
		}
		m := summaryEntryPattern.FindStringSubmatch(l.Text)
		if m == nil {
			continue
		}
		line, _ := strconv.Atoi(m[3])
		message := strings.TrimSpace(strings.TrimPrefix(m[5], "»"))
		f := framework.Failure{
			Kind:       kind,
			File:       sourceFileFor(m[1]),
			Line:       line,
			Message:    message,
			TestClass:  m[1],
			TestMethod: m[2],
		}
		lastHop(&f, m[4])
		if kind == framework.FailureAssertion {
			if mm := expectedActualPattern.FindStringSubmatch(message); mm != nil {
				f.Expected, f.Actual = mm[2], mm[3]
			}
		}
		out = append(out, Candidate{Failure: f, Rank: rankLocated, Order: i})
	}
	return out
}

// lastHop moves the entry to the innermost "->method:line" hop, which is the
// line the stack trace reports for an assertion inside a helper.
func lastHop(f *framework.Failure, hops string) {
	if hops == "" {
		return
	}
	parts := strings.Split(hops, "->")
	m := summaryHopPattern.FindStringSubmatch(parts[len(parts)-1])
	if m == nil {
		return
	}
	f.Line, _ = strconv.Atoi(m[3])
	if m[1] != "" {
		f.File = sourceFileFor(m[1])
	}
}

// sourceFileFor maps a possibly qualified or nested class name to its file.
func sourceFileFor(class string) string {
	if idx := strings.LastIndex(class, "."); idx >= 0 {
		class = class[idx+1:]
	}
	if idx := strings.Index(class, "$"); idx >= 0 {
		class = class[:idx]
	}
	return class + ".java"
}
