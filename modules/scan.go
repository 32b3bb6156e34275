// Package modules discovers the buildable modules of a multi-module project
// and decides which module a test source belongs to.
package modules

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ModulePath is one independently buildable subtree of a project.
type ModulePath struct {
	Name       string   `json:"name"`
	Root       string   `json:"root"`
	SourceRoot string   `json:"source_root,omitempty"`
	TestRoot   string   `json:"test_root,omitempty"`
	Packages   []string `json:"packages,omitempty"`
}

// HasPackage reports whether the module's source trees contain namespace.
func (m ModulePath) HasPackage(namespace string) bool {
	i := sort.SearchStrings(m.Packages, namespace)
	return i < len(m.Packages) && m.Packages[i] == namespace
}

// HasTestRoot reports whether the module has a test source tree.
func (m ModulePath) HasTestRoot() bool {
	return m.TestRoot != ""
}

// Layout names the build descriptors and source directories to scan for.
type Layout struct {
	BuildFiles []string
	SourceSet  string
	Extension  string
}

// MavenLayout covers Maven and Gradle projects with Java sources.
var MavenLayout = Layout{
	BuildFiles: []string{"pom.xml", "build.gradle", "build.gradle.kts"},
	SourceSet:  "java",
	Extension:  ".java",
}

var skipDirs = map[string]bool{
	".git":         true,
	".idea":        true,
	".gradle":      true,
	"target":       true,
	"build":        true,
	"out":          true,
	"node_modules": true,
}

const scanWorkers = 4

// Scan walks root for module directories and indexes the packages of each
// module concurrently. The result is sorted by name.
func Scan(ctx context.Context, root string, layout Layout) ([]ModulePath, error) {
	if layout.SourceSet == "" {
		layout = MavenLayout
	}
	root = filepath.Clean(root)
	var found []ModulePath
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		if d.Name() == "src" {
			return filepath.SkipDir
		}
		if isModuleDir(path, layout) {
			found = append(found, newModule(root, path, layout))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanWorkers)
	for i := range found {
		g.Go(func() error {
			pkgs, err := indexPackages(gctx, layout.Extension, found[i].SourceRoot, found[i].TestRoot)
			if err != nil {
				return err
			}
			found[i].Packages = pkgs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(found, func(a, b int) bool { return found[a].Name < found[b].Name })
	return found, nil
}

func isModuleDir(dir string, layout Layout) bool {
	if info, err := os.Stat(filepath.Join(dir, "src")); err != nil || !info.IsDir() {
		return false
	}
	for _, name := range layout.BuildFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

func newModule(root, dir string, layout Layout) ModulePath {
	name, err := filepath.Rel(root, dir)
	if err != nil || name == "." {
		name = filepath.Base(dir)
	}
	m := ModulePath{Name: filepath.ToSlash(name), Root: dir}
	if src := filepath.Join(dir, "src", "main", layout.SourceSet); isDir(src) {
		m.SourceRoot = src
	}
	if test := filepath.Join(dir, "src", "test", layout.SourceSet); isDir(test) {
		m.TestRoot = test
	}
	return m
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// indexPackages lists the dotted package names of directories holding at
// least one source file.
func indexPackages(ctx context.Context, ext string, roots ...string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, root := range roots {
		if root == "" {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), ext) {
				return nil
			}
			rel, err := filepath.Rel(root, filepath.Dir(path))
			if err != nil || rel == "." {
				return nil
			}
			seen[strings.ReplaceAll(filepath.ToSlash(rel), "/", ".")] = struct{}{}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	pkgs := make([]string, 0, len(seen))
	for pkg := range seen {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)
	return pkgs, nil
}
