package cliutils

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lexcodex/testforge/correction"
	"github.com/lexcodex/testforge/framework"
	"github.com/lexcodex/testforge/persistence"
)

// NewLogger builds the process logger from config. Output goes to the
// configured file when set, otherwise to fallback. The returned cleanup
// closes the file.
func NewLogger(cfg framework.LoggingConfig, fallback io.Writer) (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}
	out := fallback
	cleanup := func() {}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		out = f
		cleanup = func() { _ = f.Close() }
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(out, opts)
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler), cleanup, nil
}

// AuditSinks holds the configured audit stores.
type AuditSinks struct {
	Sink   framework.AuditSink
	SQLite *persistence.SQLiteAuditStore
	Memory *framework.InMemoryAuditLogger
}

// Close releases the database handle.
func (a *AuditSinks) Close() {
	if a != nil && a.SQLite != nil {
		_ = a.SQLite.Close()
	}
}

// BuildAuditSinks opens every configured audit store. An in-memory log is
// always present so the current run can be inspected.
func BuildAuditSinks(cfg framework.AuditConfig, extra ...framework.AuditSink) (*AuditSinks, error) {
	out := &AuditSinks{Memory: framework.NewInMemoryAuditLogger(0)}
	sinks := framework.MultiAuditSink{out.Memory}
	if cfg.SQLitePath != "" {
		store, err := persistence.NewSQLiteAuditStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open audit db: %w", err)
		}
		out.SQLite = store
		sinks = append(sinks, store)
	}
	if cfg.JSONDir != "" {
		store, err := persistence.NewFileAuditStore(cfg.JSONDir)
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("open audit dir: %w", err)
		}
		sinks = append(sinks, store)
	}
	sinks = append(sinks, extra...)
	out.Sink = sinks
	return out, nil
}

// BuildTelemetry fans events out to the logger, the optional JSON events
// file, Prometheus (when reg is non-nil) and any extra sinks.
func BuildTelemetry(cfg *framework.Config, logger *slog.Logger, reg prometheus.Registerer, extra ...framework.Telemetry) (framework.Telemetry, func(), error) {
	sinks := []framework.Telemetry{framework.LoggerTelemetry{Logger: logger}}
	cleanup := func() {}
	if cfg.Audit.EventsFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Audit.EventsFile), 0o755); err != nil {
			return nil, nil, err
		}
		jsonTelemetry, err := framework.NewJSONFileTelemetry(cfg.Audit.EventsFile)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, jsonTelemetry)
		cleanup = func() { _ = jsonTelemetry.Close() }
	}
	if reg != nil {
		sinks = append(sinks, framework.NewMetricsTelemetry(reg))
	}
	sinks = append(sinks, extra...)
	return framework.MultiplexTelemetry{Sinks: sinks}, cleanup, nil
}

// GrammarForPath picks the grammar from a file extension, defaulting to Java.
func GrammarForPath(path string) *correction.Grammar {
	if g, ok := correction.GrammarFor(strings.TrimPrefix(filepath.Ext(path), ".")); ok {
		return g
	}
	return correction.Java
}

// LoadCandidates reads existing test sources. Their current location is
// kept as the resolved path so repairs happen in place.
func LoadCandidates(g *correction.Grammar, paths []string) ([]framework.CandidateFile, error) {
	files := make([]framework.CandidateFile, 0, len(paths))
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("read candidate: %w", err)
		}
		content := string(data)
		file := framework.CandidateFile{
			DeclaredNamespace: g.DeclaredNamespace(content),
			ClassName:         g.ClassName(content),
			ResolvedPath:      abs,
			Content:           content,
			WriteState:        framework.WriteStateNotWritten,
		}
		if file.ClassName == "" {
			file.ClassName = strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
		}
		file.RelativePath = g.RelativePath(file.DeclaredNamespace, file.ClassName)
		files = append(files, file)
	}
	return files, nil
}
