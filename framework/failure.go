package framework

import (
	"fmt"
	"strings"
)

// FailureKind classifies a diagnosed problem.
type FailureKind string

const (
	FailureCompilation FailureKind = "compilation"
	FailureAssertion   FailureKind = "assertion"
	FailureUnknown     FailureKind = "unknown"
)

// Diagnosis categorizes a recognized error signature. It is derived from the
// failure message at parse time and never stored on its own.
type Diagnosis struct {
	Category       string `json:"category"`
	Description    string `json:"description"`
	Fix            string `json:"fix"`
	RequiredImport string `json:"required_import,omitempty"`
}

// Failure is one problem reported by the test runner.
type Failure struct {
	Kind       FailureKind `json:"kind"`
	File       string      `json:"file,omitempty"`
	Line       int         `json:"line,omitempty"`
	Column     int         `json:"column,omitempty"`
	Message    string      `json:"message"`
	Symbol     string      `json:"symbol,omitempty"`
	Location   string      `json:"location,omitempty"`
	Expected   string      `json:"expected,omitempty"`
	Actual     string      `json:"actual,omitempty"`
	TestClass  string      `json:"test_class,omitempty"`
	TestMethod string      `json:"test_method,omitempty"`
	RootCause  *Diagnosis  `json:"root_cause,omitempty"`
}

// Key identifies the failure for de-duplication. Located failures collapse on
// (file, line); unlocated ones only collapse when kind and message agree.
func (f Failure) Key() string {
	if f.File != "" {
		return fmt.Sprintf("%s:%d", f.File, f.Line)
	}
	return string(f.Kind) + "|" + strings.TrimSpace(f.Message)
}

// HasLocation reports whether the failure points at a file.
func (f Failure) HasLocation() bool {
	return f.File != ""
}

// String renders a compact single-line form for logs.
func (f Failure) String() string {
	var b strings.Builder
	b.WriteString(string(f.Kind))
	if f.File != "" {
		fmt.Fprintf(&b, " %s:%d", f.File, f.Line)
		if f.Column > 0 {
			fmt.Fprintf(&b, ":%d", f.Column)
		}
	}
	if f.TestMethod != "" {
		fmt.Fprintf(&b, " %s.%s", f.TestClass, f.TestMethod)
	}
	b.WriteString(" ")
	b.WriteString(f.Message)
	if f.RootCause != nil {
		fmt.Fprintf(&b, " [%s]", f.RootCause.Category)
	}
	return b.String()
}
