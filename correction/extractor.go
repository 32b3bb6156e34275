package correction

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/lexcodex/testforge/framework"
)

// SyntaxChecker performs a full parse of candidate code.
type SyntaxChecker interface {
	Check(ctx context.Context, code string) error
}

// Extractor pulls corrected source files out of free-form engine responses.
type Extractor struct {
	Grammar *Grammar
	// Checker, when set, must accept code before it is used.
	Checker SyntaxChecker
	Logger  *slog.Logger
}

// NewExtractor returns an extractor for grammar g.
func NewExtractor(g *Grammar) *Extractor {
	return &Extractor{Grammar: g}
}

type strategy struct {
	name string
	find func(e *Extractor, response string) []string
}

// Strategies are tried in order; the first producing valid code wins.
var strategies = []strategy{
	{name: "tagged_fence", find: (*Extractor).taggedFences},
	{name: "untagged_fence", find: (*Extractor).untaggedFences},
	{name: "json_fragment", find: (*Extractor).jsonFragments},
	{name: "raw_scan", find: (*Extractor).rawScan},
}

var fencePattern = regexp.MustCompile("(?s)```[ \t]*([A-Za-z0-9_+#.-]*)[^\n]*\n(.*?)```")

// Extract returns the corrected files found in response, matched against
// prior by class name and namespace. Matches keep their resolved path;
// others get the conventional path and are placed on the next write.
func (e *Extractor) Extract(ctx context.Context, response string, prior []framework.CandidateFile) []framework.CandidateFile {
	if strings.TrimSpace(response) == "" {
		return nil
	}
	for _, s := range strategies {
		var codes []string
		for _, code := range s.find(e, response) {
			if e.accept(ctx, code) {
				codes = append(codes, code)
			}
		}
		if len(codes) == 0 {
			continue
		}
		files := e.toCandidates(codes, prior)
		e.logger().Debug("extracted corrections", "strategy", s.name, "files", len(files))
		return files
	}
	e.logger().Debug("no correction extracted", "response_bytes", len(response))
	return nil
}

func (e *Extractor) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Extractor) grammar() *Grammar {
	if e.Grammar == nil {
		return Java
	}
	return e.Grammar
}

func (e *Extractor) accept(ctx context.Context, code string) bool {
	if !e.grammar().IsValidTestCode(code) {
		return false
	}
	if e.Checker != nil {
		if err := e.Checker.Check(ctx, code); err != nil {
			e.logger().Debug("rejected candidate", "error", err)
			return false
		}
	}
	return true
}

func (e *Extractor) toCandidates(codes []string, prior []framework.CandidateFile) []framework.CandidateFile {
	g := e.grammar()
	seen := make(map[string]int, len(codes))
	var files []framework.CandidateFile
	for _, code := range codes {
		code = strings.TrimSpace(code) + "\n"
		file := framework.CandidateFile{
			DeclaredNamespace: g.DeclaredNamespace(code),
			ClassName:         g.ClassName(code),
			Content:           code,
			WriteState:        framework.WriteStateNotWritten,
		}
		file.RelativePath = g.RelativePath(file.DeclaredNamespace, file.ClassName)
		for _, p := range prior {
			if p.SameClass(file) {
				file.RelativePath = p.RelativePath
				file.ResolvedPath = p.ResolvedPath
				break
			}
		}
		// A response repeating a class keeps the last version.
		if idx, ok := seen[file.Identity()]; ok {
			files[idx] = file
			continue
		}
		seen[file.Identity()] = len(files)
		files = append(files, file)
	}
	return files
}

func (e *Extractor) taggedFences(response string) []string {
	var out []string
	for _, m := range fencePattern.FindAllStringSubmatch(response, -1) {
		if e.grammar().HasFenceTag(m[1]) {
			out = append(out, m[2])
		}
	}
	return out
}

func (e *Extractor) untaggedFences(response string) []string {
	g := e.grammar()
	var out []string
	for _, m := range fencePattern.FindAllStringSubmatch(response, -1) {
		if m[1] != "" {
			continue
		}
		if g.TypeDecl.MatchString(m[2]) && g.HasTestMarker(m[2]) {
			out = append(out, m[2])
		}
	}
	return out
}

// Keys that carry file content in tool-call style payloads.
var codeFields = []string{"code", "content", "file_content", "new_content", "source", "test_code"}

func (e *Extractor) jsonFragments(response string) []string {
	var out []string
	for i := 0; i < len(response); i++ {
		if response[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(response[i:]))
		var value interface{}
		if err := dec.Decode(&value); err != nil {
			continue
		}
		out = append(out, collectCode(value)...)
		i += int(dec.InputOffset()) - 1
	}
	return out
}

func collectCode(value interface{}) []string {
	var out []string
	switch v := value.(type) {
	case map[string]interface{}:
		for _, key := range codeFields {
			if s, ok := v[key].(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, stripCodeFence(s))
			}
		}
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if _, isString := v[key].(string); isString {
				continue
			}
			out = append(out, collectCode(v[key])...)
		}
	case []interface{}:
		for _, item := range v {
			out = append(out, collectCode(item)...)
		}
	}
	return out
}

// rawScan starts at the first source-like line and accumulates until the
// structural brace depth returns to zero.
func (e *Extractor) rawScan(response string) []string {
	g := e.grammar()
	lines := strings.Split(response, "\n")
	var out []string
	for i := 0; i < len(lines); i++ {
		if !g.SourceStart.MatchString(lines[i]) {
			continue
		}
		scanner := g.NewBraceScanner()
		var b strings.Builder
		j := i
		for ; j < len(lines); j++ {
			if strings.HasPrefix(strings.TrimSpace(lines[j]), "```") {
				continue
			}
			b.WriteString(lines[j])
			b.WriteByte('\n')
			scanner.Feed(lines[j] + "\n")
			if scanner.Opened() && scanner.Depth() <= 0 {
				break
			}
		}
		if scanner.Opened() {
			out = append(out, b.String())
		}
		i = j
	}
	return out
}

func stripCodeFence(body string) string {
	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```")
		if newline := strings.IndexRune(body, '\n'); newline >= 0 {
			body = body[newline+1:]
		}
		if idx := strings.LastIndex(body, "```"); idx >= 0 {
			body = body[:idx]
		}
	}
	return strings.TrimSpace(body)
}
