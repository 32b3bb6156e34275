package modules

import (
	"path/filepath"
	"strings"

	"github.com/lexcodex/testforge/correction"
)

// Imports from these namespaces never identify a project module.
var libraryPrefixes = []string{
	"java.", "javax.", "jakarta.", "jdk.", "sun.",
	"org.junit.", "org.mockito.", "org.assertj.", "org.hamcrest.",
	"org.springframework.", "org.hibernate.", "lombok.", "com.fasterxml.",
	"org.slf4j.", "org.apache.", "kotlin.",
}

// Namespace segments too common to say anything about module names.
var genericSegments = map[string]bool{
	"com": true, "org": true, "net": true, "io": true, "dev": true,
	"example": true, "examples": true, "test": true, "tests": true,
	"main": true, "java": true, "src": true,
}

// Resolver maps test sources to modules. It never touches the filesystem;
// the module list comes from Scan.
type Resolver struct {
	Grammar *correction.Grammar
}

// NewResolver returns a resolver for grammar g.
func NewResolver(g *correction.Grammar) *Resolver {
	return &Resolver{Grammar: g}
}

// Resolve picks the module content belongs to. With no known modules the
// project root is returned; when modules exist but none can hold tests the
// second result is false.
func (r *Resolver) Resolve(projectRoot string, known []ModulePath, content string) (ModulePath, bool) {
	if len(known) == 0 {
		return ModulePath{Name: filepath.Base(projectRoot), Root: projectRoot}, true
	}
	g := r.Grammar
	if g == nil {
		g = correction.Java
	}
	namespace := g.DeclaredNamespace(content)
	if namespace != "" {
		for _, m := range known {
			if m.HasPackage(namespace) {
				return m, true
			}
		}
	}
	for _, imp := range g.Imports(content) {
		if isLibrary(imp) {
			continue
		}
		for _, pkg := range enclosingPackages(imp) {
			for _, m := range known {
				if m.HasPackage(pkg) {
					return m, true
				}
			}
		}
	}
	if m, ok := keywordMatch(namespace, known); ok {
		return m, true
	}
	for _, m := range known {
		if m.HasTestRoot() {
			return m, true
		}
	}
	return ModulePath{}, false
}

func isLibrary(name string) bool {
	for _, prefix := range libraryPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// enclosingPackages returns the parents of a qualified name, innermost
// first: a.b.C.m yields a.b.C, a.b, a.
func enclosingPackages(name string) []string {
	var out []string
	for i := strings.LastIndex(name, "."); i > 0; i = strings.LastIndex(name, ".") {
		name = name[:i]
		out = append(out, name)
	}
	return out
}

// keywordMatch compares namespace segments, most specific first, against
// module directory names.
func keywordMatch(namespace string, known []ModulePath) (ModulePath, bool) {
	if namespace == "" {
		return ModulePath{}, false
	}
	segments := strings.Split(strings.ToLower(namespace), ".")
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if len(seg) < 3 || genericSegments[seg] {
			continue
		}
		for _, m := range known {
			if strings.Contains(strings.ToLower(filepath.Base(m.Root)), seg) {
				return m, true
			}
		}
	}
	return ModulePath{}, false
}
