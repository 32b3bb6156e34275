package server

import (
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.lsp.dev/protocol"

	"github.com/lexcodex/testforge/framework"
)

// DiagnosticSource tags every diagnostic this package produces.
const DiagnosticSource = "testforge"

// ToDiagnostics groups located failures by document. Failures without a file
// are dropped since an editor has nowhere to show them. Relative paths are
// resolved against root.
func ToDiagnostics(root string, failures []framework.Failure) map[protocol.DocumentURI][]protocol.Diagnostic {
	out := make(map[protocol.DocumentURI][]protocol.Diagnostic)
	for _, f := range failures {
		if !f.HasLocation() {
			continue
		}
		path := f.File
		if !filepath.IsAbs(path) && root != "" {
			path = filepath.Join(root, path)
		}
		uri := protocol.DocumentURI(pathToURI(path))
		out[uri] = append(out[uri], toDiagnostic(f))
	}
	return out
}

func toDiagnostic(f framework.Failure) protocol.Diagnostic {
	line := zeroBased(f.Line)
	col := zeroBased(f.Column)
	diag := protocol.Diagnostic{
		Range: protocol.Range{
			Start: protocol.Position{Line: line, Character: col},
			End:   protocol.Position{Line: line, Character: col},
		},
		Severity: protocol.DiagnosticSeverityError,
		Source:   DiagnosticSource,
		Message:  diagnosticMessage(f),
	}
	if f.RootCause != nil {
		diag.Code = f.RootCause.Category
	} else {
		diag.Code = string(f.Kind)
	}
	return diag
}

func diagnosticMessage(f framework.Failure) string {
	parts := []string{f.Message}
	if f.Symbol != "" {
		parts = append(parts, "symbol: "+f.Symbol)
	}
	if f.Expected != "" || f.Actual != "" {
		parts = append(parts, "expected: "+f.Expected+", actual: "+f.Actual)
	}
	if f.RootCause != nil && f.RootCause.Fix != "" {
		parts = append(parts, "fix: "+f.RootCause.Fix)
	}
	return strings.Join(parts, "\n")
}

func zeroBased(n int) uint32 {
	if n <= 1 {
		return 0
	}
	return uint32(n - 1)
}

func sortedURIs(m map[protocol.DocumentURI][]protocol.Diagnostic) []protocol.DocumentURI {
	uris := make([]protocol.DocumentURI, 0, len(m))
	for uri := range m {
		uris = append(uris, uri)
	}
	sort.Slice(uris, func(i, j int) bool { return uris[i] < uris[j] })
	return uris
}

func pathToURI(path string) string {
	path = filepath.Clean(path)
	if runtime.GOOS == "windows" {
		path = strings.ReplaceAll(path, "\\", "/")
		return "file:///" + strings.ReplaceAll(path, ":", "%3A")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "file://" + path
}
