package framework

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// EventType categorizes telemetry events.
type EventType string

const (
	EventLoopStart       EventType = "loop_start"
	EventStateChange     EventType = "state_change"
	EventFileWritten     EventType = "file_written"
	EventWriteFailed     EventType = "write_failed"
	EventTestRun         EventType = "test_run"
	EventIterationFinish EventType = "iteration_finish"
	EventCorrection      EventType = "correction"
	EventLoopFinish      EventType = "loop_finish"
	EventEnginePrompt    EventType = "engine_prompt"
	EventEngineResponse  EventType = "engine_response"
)

// Event captures structured telemetry data.
type Event struct {
	Type      EventType              `json:"type"`
	SessionID string                 `json:"session_id,omitempty"`
	Iteration int                    `json:"iteration,omitempty"`
	State     LoopState              `json:"state,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Telemetry captures execution traces emitted by the repair loop. Tests
// typically swap in lightweight recorders.
type Telemetry interface {
	Emit(event Event)
}

// MultiplexTelemetry broadcasts events to multiple sinks.
type MultiplexTelemetry struct {
	Sinks []Telemetry
}

// Emit forwards the event to all registered sinks.
func (m MultiplexTelemetry) Emit(event Event) {
	for _, s := range m.Sinks {
		if s != nil {
			s.Emit(event)
		}
	}
}

// NopTelemetry drops every event.
type NopTelemetry struct{}

// Emit implements Telemetry.
func (NopTelemetry) Emit(Event) {}

// JSONFileTelemetry writes events as newline-delimited JSON to a file.
// This allows external tools to tail and process the stream in real-time.
type JSONFileTelemetry struct {
	path string
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewJSONFileTelemetry opens (or creates) the log file.
func NewJSONFileTelemetry(path string) (*JSONFileTelemetry, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONFileTelemetry{
		path: path,
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

// Emit writes the JSON record.
func (j *JSONFileTelemetry) Emit(event Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.enc != nil {
		_ = j.enc.Encode(event)
	}
}

// Close releases the file handle.
func (j *JSONFileTelemetry) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		return j.file.Close()
	}
	return nil
}

// LoggerTelemetry renders events through slog so every state transition is
// visible without extra tooling.
type LoggerTelemetry struct {
	Logger *slog.Logger
}

// Emit logs the event.
func (t LoggerTelemetry) Emit(event Event) {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"session", event.SessionID,
		"iteration", event.Iteration,
	}
	if event.State != "" {
		attrs = append(attrs, "state", event.State)
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, k, v)
	}
	level := slog.LevelInfo
	switch event.Type {
	case EventWriteFailed:
		level = slog.LevelWarn
	case EventFileWritten, EventTestRun:
		level = slog.LevelDebug
	}
	logger.Log(context.Background(), level, string(event.Type)+": "+event.Message, attrs...)
}
