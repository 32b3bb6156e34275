package framework

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryAuditLoggerQuery(t *testing.T) {
	ctx := context.Background()
	logger := NewInMemoryAuditLogger(0)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, logger.Record(ctx, AuditEvent{Type: AuditEventIteration, SessionID: "a", Timestamp: base}))
	require.NoError(t, logger.Record(ctx, AuditEvent{Type: AuditEventIteration, SessionID: "b", Timestamp: base.Add(time.Minute)}))
	require.NoError(t, logger.Record(ctx, AuditEvent{Type: AuditEventResult, SessionID: "a", Timestamp: base.Add(2 * time.Minute)}))

	events, err := logger.Query(ctx, AuditQuery{SessionID: "a"})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = logger.Query(ctx, AuditQuery{Type: AuditEventResult})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].SessionID)

	events, err = logger.Query(ctx, AuditQuery{TimeStart: base.Add(30 * time.Second), TimeEnd: base.Add(90 * time.Second)})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "b", events[0].SessionID)

	sessions, err := logger.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, sessions)
}

func TestInMemoryAuditLoggerStampsAndBounds(t *testing.T) {
	ctx := context.Background()
	logger := NewInMemoryAuditLogger(2)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, logger.Record(ctx, AuditEvent{Type: AuditEventIteration, SessionID: id}))
	}
	events, err := logger.Query(ctx, AuditQuery{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].SessionID)
	assert.False(t, events[0].Timestamp.IsZero())
}

type failingSink struct{ err error }

func (f failingSink) Record(context.Context, AuditEvent) error { return f.err }

func TestMultiAuditSinkJoinsErrors(t *testing.T) {
	memory := NewInMemoryAuditLogger(0)
	boom := errors.New("disk full")
	sink := MultiAuditSink{failingSink{err: boom}, nil, memory}

	err := sink.Record(context.Background(), AuditEvent{Type: AuditEventResult, SessionID: "s"})
	assert.ErrorIs(t, err, boom)

	events, _ := memory.Query(context.Background(), AuditQuery{})
	assert.Len(t, events, 1)
}
