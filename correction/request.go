package correction

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lexcodex/testforge/framework"
)

// DefaultRules are the remediation rules appended to every request.
var DefaultRules = []string{
	"Never call setId() or otherwise assign an identifier the persistence framework generates; inject it with ReflectionTestUtils.setField(entity, \"id\", value) when a test needs a fixed id.",
	"Prefer value-typed assertions: compare primitives or cast both sides to the same type instead of passing mixed boxed types to assertEquals.",
	"Match numeric literal suffixes to the declared field type (1L for Long, 1.0 for Double, 1.0f for Float).",
	"Only call methods, constructors and fields that exist in the production source shown or referenced in the errors.",
	"Keep the package declaration, class name and file location of every test unchanged.",
	"Use JUnit 5 (org.junit.jupiter.api) annotations and assertions.",
}

// RequestBuilder renders failures and current file contents into a single
// correction prompt.
type RequestBuilder struct {
	Grammar *Grammar
	Rules   []string
	// MaxMessage truncates very long failure messages; zero keeps them whole.
	MaxMessage int
}

// NewRequestBuilder returns a builder with the default rules.
func NewRequestBuilder(g *Grammar) *RequestBuilder {
	return &RequestBuilder{Grammar: g, Rules: DefaultRules, MaxMessage: 2000}
}

// Build returns the prompt text. files maps a path to its current content.
func (b *RequestBuilder) Build(failures []framework.Failure, files map[string]string) string {
	lang := "java"
	if b.Grammar != nil {
		lang = b.Grammar.Name
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "The following %s test files fail. Fix every problem listed below.\n\n", lang)

	sb.WriteString("## Failures\n\n")
	for i, f := range failures {
		fmt.Fprintf(&sb, "### Failure %d (%s)\n", i+1, f.Kind)
		b.writeFailure(&sb, f)
		sb.WriteString("\n")
	}

	sb.WriteString("## Files under repair\n\n")
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		fmt.Fprintf(&sb, "File: %s\n```%s\n%s\n```\n\n", path, lang, strings.TrimRight(files[path], "\n"))
	}

	if len(b.Rules) > 0 {
		sb.WriteString("## Rules\n\n")
		for _, rule := range b.Rules {
			fmt.Fprintf(&sb, "- %s\n", rule)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Respond with the COMPLETE corrected content of every file above, each in its own ```%s fenced block. Do not send diffs or partial snippets.\n", lang)
	return sb.String()
}

func (b *RequestBuilder) writeFailure(sb *strings.Builder, f framework.Failure) {
	switch f.Kind {
	case framework.FailureCompilation:
		if f.HasLocation() {
			fmt.Fprintf(sb, "Location: %s line %d", f.File, f.Line)
			if f.Column > 0 {
				fmt.Fprintf(sb, " column %d", f.Column)
			}
			sb.WriteString("\n")
		}
		fmt.Fprintf(sb, "Error: %s\n", b.truncate(f.Message))
		if f.Symbol != "" {
			fmt.Fprintf(sb, "Symbol: %s\n", f.Symbol)
		}
		if f.Location != "" {
			fmt.Fprintf(sb, "In: %s\n", f.Location)
		}
	default:
		if f.TestClass != "" || f.TestMethod != "" {
			fmt.Fprintf(sb, "Test: %s#%s\n", f.TestClass, f.TestMethod)
		}
		if f.HasLocation() {
			fmt.Fprintf(sb, "Location: %s line %d\n", f.File, f.Line)
		}
		if f.Expected != "" || f.Actual != "" {
			fmt.Fprintf(sb, "Expected: %s\nActual: %s\n", f.Expected, f.Actual)
		}
		fmt.Fprintf(sb, "Message: %s\n", b.truncate(f.Message))
	}
	if d := f.RootCause; d != nil {
		fmt.Fprintf(sb, "Diagnosis (%s): %s\n", d.Category, d.Description)
		fmt.Fprintf(sb, "Fix: %s\n", d.Fix)
		if d.RequiredImport != "" {
			fmt.Fprintf(sb, "Required import: %s\n", d.RequiredImport)
		}
	}
}

func (b *RequestBuilder) truncate(msg string) string {
	if b.MaxMessage <= 0 || len(msg) <= b.MaxMessage {
		return msg
	}
	return msg[:b.MaxMessage] + "...(truncated)"
}
