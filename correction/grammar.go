package correction

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Grammar describes the lexical and structural conventions of a target
// language that code validation and extraction depend on.
type Grammar struct {
	Name string
	// FenceTags are the markdown fence info strings naming the language.
	FenceTags []string
	// SourceSet is the directory under src/test holding sources.
	SourceSet string
	Extension string

	LineComment       string
	BlockCommentStart string
	BlockCommentEnd   string
	// TextBlock is a multi-line string delimiter, checked before Quotes.
	TextBlock string
	// Quotes are single-character string and character literal delimiters.
	Quotes string
	Escape byte

	Namespace   *regexp.Regexp
	Import      *regexp.Regexp
	TypeDecl    *regexp.Regexp
	SourceStart *regexp.Regexp
	TestMarkers []string
}

// Java is the grammar for JUnit tests written in Java.
var Java = &Grammar{
	Name:              "java",
	FenceTags:         []string{"java"},
	SourceSet:         "java",
	Extension:         ".java",
	LineComment:       "//",
	BlockCommentStart: "/*",
	BlockCommentEnd:   "*/",
	TextBlock:         `"""`,
	Quotes:            `"'`,
	Escape:            '\\',
	Namespace:         regexp.MustCompile(`(?m)^\s*package\s+([\w.]+)\s*;`),
	Import:            regexp.MustCompile(`(?m)^\s*import\s+(?:static\s+)?([\w.]+)(?:\.\*)?\s*;`),
	TypeDecl:          regexp.MustCompile(`(?m)^\s*(?:@\w+(?:\([^)]*\))?\s+)*(?:(?:public|protected|private|abstract|final|static|sealed)\s+)*(?:class|interface|enum|record)\s+(\w+)`),
	SourceStart:       regexp.MustCompile(`^\s*(?:package\s|import\s|@\w|(?:(?:public|final|abstract)\s+)*class\s)`),
	TestMarkers:       []string{"@Test", "@ParameterizedTest", "@RepeatedTest", "@TestFactory"},
}

// Kotlin is the grammar for JUnit tests written in Kotlin.
var Kotlin = &Grammar{
	Name:              "kotlin",
	FenceTags:         []string{"kotlin", "kt"},
	SourceSet:         "kotlin",
	Extension:         ".kt",
	LineComment:       "//",
	BlockCommentStart: "/*",
	BlockCommentEnd:   "*/",
	TextBlock:         `"""`,
	Quotes:            `"'`,
	Escape:            '\\',
	Namespace:         regexp.MustCompile(`(?m)^\s*package\s+([\w.]+)`),
	Import:            regexp.MustCompile(`(?m)^\s*import\s+([\w.]+)`),
	TypeDecl:          regexp.MustCompile(`(?m)^\s*(?:(?:internal|open|abstract|data|private|public)\s+)*(?:class|object|interface)\s+(\w+)`),
	SourceStart:       regexp.MustCompile(`^\s*(?:package\s|import\s|@\w|(?:(?:internal|open|abstract|data)\s+)*class\s)`),
	TestMarkers:       []string{"@Test", "@ParameterizedTest"},
}

// GrammarFor returns the grammar registered under name or fence tag.
func GrammarFor(name string) (*Grammar, bool) {
	for _, g := range []*Grammar{Java, Kotlin} {
		if strings.EqualFold(g.Name, name) || g.HasFenceTag(name) {
			return g, true
		}
	}
	return nil, false
}

// HasFenceTag reports whether tag names this language, ignoring case.
func (g *Grammar) HasFenceTag(tag string) bool {
	for _, t := range g.FenceTags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// DeclaredNamespace returns the package declared in code.
func (g *Grammar) DeclaredNamespace(code string) string {
	if m := g.Namespace.FindStringSubmatch(code); m != nil {
		return m[1]
	}
	return ""
}

// ClassName returns the first public type declared in code, or the first
// type when none is public.
func (g *Grammar) ClassName(code string) string {
	matches := g.TypeDecl.FindAllStringSubmatch(code, -1)
	if len(matches) == 0 {
		return ""
	}
	for _, m := range matches {
		if strings.Contains(m[0], "public ") {
			return m[1]
		}
	}
	return matches[0][1]
}

// Imports lists imported names in declaration order.
func (g *Grammar) Imports(code string) []string {
	var out []string
	for _, m := range g.Import.FindAllStringSubmatch(code, -1) {
		out = append(out, m[1])
	}
	return out
}

// RelativePath is the conventional module-relative test path for a class.
func (g *Grammar) RelativePath(namespace, className string) string {
	parts := []string{"src", "test", g.SourceSet}
	if namespace != "" {
		parts = append(parts, strings.Split(namespace, ".")...)
	}
	parts = append(parts, className+g.Extension)
	return filepath.Join(parts...)
}

// HasTestMarker reports whether code carries at least one test marker.
func (g *Grammar) HasTestMarker(code string) bool {
	for _, marker := range g.TestMarkers {
		if strings.Contains(code, marker) {
			return true
		}
	}
	return false
}

// IsValidTestCode accepts code that declares a type, carries a test marker
// and has structurally balanced braces.
func (g *Grammar) IsValidTestCode(code string) bool {
	if !g.TypeDecl.MatchString(code) || !g.HasTestMarker(code) {
		return false
	}
	s := g.NewBraceScanner()
	s.Feed(code)
	return s.Opened() && s.Balanced()
}
