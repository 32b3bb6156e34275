package cliutils

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/testforge/correction"
	"github.com/lexcodex/testforge/framework"
)

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := NewLogger(framework.LoggingConfig{Level: "warn"}, &buf)
	require.NoError(t, err)
	defer cleanup()
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "testforge.log")
	logger, cleanup, err := NewLogger(framework.LoggingConfig{Level: "bogus", File: path, JSON: true}, nil)
	require.NoError(t, err)
	logger.Info("hello", "k", "v")
	cleanup()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestBuildAuditSinks(t *testing.T) {
	dir := t.TempDir()
	sinks, err := BuildAuditSinks(framework.AuditConfig{
		SQLitePath: filepath.Join(dir, "audit.db"),
		JSONDir:    filepath.Join(dir, "json"),
	})
	require.NoError(t, err)
	defer sinks.Close()
	require.NotNil(t, sinks.SQLite)

	ctx := context.Background()
	event := framework.AuditEvent{Type: framework.AuditEventResult, SessionID: "s1", Result: &framework.LoopResult{SessionID: "s1"}}
	require.NoError(t, sinks.Sink.Record(ctx, event))

	memory, err := sinks.Memory.Query(ctx, framework.AuditQuery{SessionID: "s1"})
	require.NoError(t, err)
	assert.Len(t, memory, 1)
	stored, err := sinks.SQLite.Query(ctx, framework.AuditQuery{SessionID: "s1"})
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	assert.FileExists(t, filepath.Join(dir, "json", "s1.audit.json"))
}

func TestBuildTelemetryWritesEventsFile(t *testing.T) {
	cfg := framework.DefaultConfig()
	cfg.Audit.EventsFile = filepath.Join(t.TempDir(), "events", "events.jsonl")
	var buf bytes.Buffer
	logger, _, err := NewLogger(framework.LoggingConfig{Level: "info"}, &buf)
	require.NoError(t, err)

	telemetry, cleanup, err := BuildTelemetry(cfg, logger, prometheus.NewRegistry())
	require.NoError(t, err)
	telemetry.Emit(framework.Event{Type: framework.EventLoopStart, SessionID: "s1", Message: "go"})
	cleanup()

	data, err := os.ReadFile(cfg.Audit.EventsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_id":"s1"`)
	assert.Contains(t, buf.String(), "loop_start")
}

func TestLoadCandidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "OwnerTest.java")
	src := "package com.example.owner;\n\nclass OwnerTest {\n  @Test void ok() {}\n}\n"
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	files, err := LoadCandidates(correction.Java, []string{path})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "com.example.owner", files[0].DeclaredNamespace)
	assert.Equal(t, "OwnerTest", files[0].ClassName)
	assert.Equal(t, path, files[0].ResolvedPath)
	assert.Equal(t, filepath.Join("src", "test", "java", "com", "example", "owner", "OwnerTest.java"), files[0].RelativePath)

	_, err = LoadCandidates(correction.Java, []string{filepath.Join(t.TempDir(), "missing.java")})
	assert.Error(t, err)
}

func TestGrammarForPath(t *testing.T) {
	assert.Same(t, correction.Kotlin, GrammarForPath("OwnerTest.kt"))
	assert.Same(t, correction.Java, GrammarForPath("OwnerTest.java"))
	assert.Same(t, correction.Java, GrammarForPath("README"))
}
