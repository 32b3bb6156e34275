package diagnostics

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/lexcodex/testforge/framework"
)

var (
	gradleHeaderPattern    = regexp.MustCompile(`^([\w$.]+) > (.+?) FAILED$`)
	gradleShortFormPattern = regexp.MustCompile(`^([\w$.]+(?:Exception|Error|Failure)) at ([\w$]+\.(?:java|kt|groovy)):(\d+)$`)
)

// matchGradleFailures reads Gradle's console test report. Each failed test
// prints a "Class > method() FAILED" header followed by the indented
// exception, either in the short "Exception at File.java:N" form or with a
// message and full stack trace.
func matchGradleFailures(lines []Line) []Candidate {
	var out []Candidate
	for i, l := range lines {
		if l.Indented {
			continue
		}
		h := gradleHeaderPattern.FindStringSubmatch(l.Text)
		if h == nil {
			continue
		}
		j := i + 1
		for j < len(lines) && lines[j].Text == "" {
			j++
		}
		if j >= len(lines) || !lines[j].Indented {
			continue
		}
		f := framework.Failure{
			TestClass:  h[1],
			TestMethod: strings.TrimSuffix(h[2], "()"),
		}
		text := lines[j].Text
		rank := rankLocatedColumn
		var evidence string
		if m := gradleShortFormPattern.FindStringSubmatch(text); m != nil {
			f.Kind = gradleKind(m[1])
			f.Message = m[1]
			f.File = m[2]
			f.Line, _ = strconv.Atoi(m[3])
			out = append(out, Candidate{Failure: f, Rank: rankLocated, Order: j})
			continue
		}
		m := exceptionLinePattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		exception, message := m[1], strings.TrimSpace(m[2])
		f.Kind = gradleKind(exception)
		if f.Kind == framework.FailureAssertion {
			f.Message = message
			if mm := expectedActualPattern.FindStringSubmatch(message); mm != nil {
				f.Expected, f.Actual = mm[2], mm[3]
				rank = rankStructured
			} else if notNullPattern.MatchString(message) {
				f.Expected, f.Actual = "not <null>", "null"
				rank = rankStructured
			}
			if f.Message == "" {
				f.Message = exception
			}
		} else {
			f.Message = exception
			if message != "" {
				f.Message += ": " + message
			}
			causes := causeChain(lines, j+1)
			if n := len(causes); n > 0 {
				f.Message += " (caused by " + causes[n-1] + ")"
			}
			evidence = strings.Join(causes, "\n")
		}
		if frame, ok := firstUserFrame(lines, j+1); ok {
			f.File = frame.file
			f.Line = frame.line
			f.TestClass = frame.class
			f.TestMethod = frame.method
		}
		out = append(out, Candidate{Failure: f, Rank: rank, Order: j, Evidence: evidence})
	}
	return out
}

func gradleKind(exception string) framework.FailureKind {
	if assertionExceptionPattern.MatchString(exception) {
		return framework.FailureAssertion
	}
	return framework.FailureUnknown
}
