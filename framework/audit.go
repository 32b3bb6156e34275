package framework

import (
	"context"
	"errors"
	"sync"
	"time"
)

// AuditEventType categorizes records for downstream processing.
type AuditEventType string

const (
	AuditEventIteration AuditEventType = "iteration"
	AuditEventResult    AuditEventType = "result"
)

// AuditEvent is handed to the audit sink: one per loop iteration plus the
// terminal result.
type AuditEvent struct {
	Type      AuditEventType   `json:"type"`
	SessionID string           `json:"session_id"`
	Timestamp time.Time        `json:"timestamp"`
	Iteration *IterationRecord `json:"iteration,omitempty"`
	Result    *LoopResult      `json:"result,omitempty"`
}

// AuditSink receives audit events synchronously.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

// AuditQuery filters audit entries.
type AuditQuery struct {
	SessionID string
	Type      AuditEventType
	TimeStart time.Time
	TimeEnd   time.Time
}

// Matches reports whether the event passes the filter.
func (q AuditQuery) Matches(event AuditEvent) bool {
	if q.SessionID != "" && event.SessionID != q.SessionID {
		return false
	}
	if q.Type != "" && event.Type != q.Type {
		return false
	}
	if !q.TimeStart.IsZero() && event.Timestamp.Before(q.TimeStart) {
		return false
	}
	if !q.TimeEnd.IsZero() && event.Timestamp.After(q.TimeEnd) {
		return false
	}
	return true
}

// InMemoryAuditLogger appends events to a bounded buffer.
type InMemoryAuditLogger struct {
	mu     sync.RWMutex
	buffer []AuditEvent
	limit  int
}

// NewInMemoryAuditLogger builds a default logger.
func NewInMemoryAuditLogger(limit int) *InMemoryAuditLogger {
	if limit == 0 {
		limit = 2048
	}
	return &InMemoryAuditLogger{
		buffer: make([]AuditEvent, 0, limit),
		limit:  limit,
	}
}

// Record appends the event to the buffer.
func (l *InMemoryAuditLogger) Record(_ context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buffer) == l.limit {
		l.buffer = l.buffer[1:]
	}
	l.buffer = append(l.buffer, event)
	return nil
}

// Query filters based on the supplied query.
func (l *InMemoryAuditLogger) Query(_ context.Context, filter AuditQuery) ([]AuditEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var result []AuditEvent
	for _, event := range l.buffer {
		if filter.Matches(event) {
			result = append(result, event)
		}
	}
	return result, nil
}

// Sessions lists distinct session ids, most recently active first.
func (l *InMemoryAuditLogger) Sessions(_ context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seen := make(map[string]bool)
	var sessions []string
	for i := len(l.buffer) - 1; i >= 0; i-- {
		id := l.buffer[i].SessionID
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		sessions = append(sessions, id)
	}
	return sessions, nil
}

// MultiAuditSink forwards every event to all sinks and joins their errors.
type MultiAuditSink []AuditSink

// Record implements AuditSink.
func (m MultiAuditSink) Record(ctx context.Context, event AuditEvent) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
