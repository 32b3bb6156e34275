package persistence

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/testforge/framework"
)

func recordSleeps(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestWriteVerifierRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "src", "test", "java", "OwnerTest.java")
	w := NewWriteVerifier(framework.DefaultConfig().Write)

	res := w.Write(context.Background(), path, "class OwnerTest {}\n")
	require.True(t, res.Success)
	assert.True(t, res.Verified)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, framework.OutcomeNone, res.Kind)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "class OwnerTest {}\n", string(data))
}

type mismatchFS struct {
	OSFileSystem
}

func (mismatchFS) ReadFile(string) ([]byte, error) { return []byte("truncated"), nil }

func TestWriteVerifierRetriesMismatch(t *testing.T) {
	var delays []time.Duration
	w := &WriteVerifier{
		MaxRetries:  3,
		BackoffBase: 500 * time.Millisecond,
		BackoffCap:  5 * time.Second,
		FS:          mismatchFS{},
		Sleep:       recordSleeps(&delays),
	}
	res := w.Write(context.Background(), filepath.Join(t.TempDir(), "A.java"), "class A {}")
	assert.False(t, res.Success)
	assert.False(t, res.Verified)
	assert.Equal(t, 3, res.Attempts)
	assert.ErrorIs(t, res.Err, ErrContentMismatch)
	assert.Equal(t, framework.OutcomeWriteTransientError, res.Kind)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, delays)
}

type deniedFS struct {
	OSFileSystem
	writes int
}

func (d *deniedFS) WriteFile(path string, _ []byte, _ fs.FileMode) error {
	d.writes++
	return &fs.PathError{Op: "open", Path: path, Err: fs.ErrPermission}
}

func TestWriteVerifierDoesNotRetryPermissionErrors(t *testing.T) {
	var delays []time.Duration
	denied := &deniedFS{}
	w := &WriteVerifier{MaxRetries: 3, BackoffBase: time.Second, FS: denied, Sleep: recordSleeps(&delays)}

	res := w.Write(context.Background(), filepath.Join(t.TempDir(), "A.java"), "class A {}")
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, denied.writes)
	assert.Equal(t, framework.OutcomeWritePermanentError, res.Kind)
	assert.Empty(t, delays)
}

func TestWriteVerifierStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := &WriteVerifier{MaxRetries: 3, BackoffBase: time.Hour, FS: mismatchFS{}}
	res := w.Write(ctx, filepath.Join(t.TempDir(), "A.java"), "class A {}")
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestBackoffIsCapped(t *testing.T) {
	w := &WriteVerifier{BackoffBase: 500 * time.Millisecond, BackoffCap: 5 * time.Second}
	assert.Equal(t, 500*time.Millisecond, w.Backoff(1))
	assert.Equal(t, 2*time.Second, w.Backoff(3))
	assert.Equal(t, 4*time.Second, w.Backoff(4))
	assert.Equal(t, 5*time.Second, w.Backoff(5))
	assert.Equal(t, 5*time.Second, w.Backoff(30))
}

func sampleEvents(session string) []framework.AuditEvent {
	return []framework.AuditEvent{
		{
			Type:      framework.AuditEventIteration,
			SessionID: session,
			Iteration: &framework.IterationRecord{
				SessionID: session,
				Index:     1,
				Failures:  []framework.Failure{{Kind: framework.FailureCompilation, File: "A.java", Line: 3, Message: "boom"}},
				RawOutput: "[ERROR] A.java:[3,1] boom",
			},
		},
		{
			Type:      framework.AuditEventResult,
			SessionID: session,
			Result:    &framework.LoopResult{SessionID: session, Success: true, Iterations: 2, State: framework.StateSucceeded},
		},
	}
}

func TestSQLiteAuditStore(t *testing.T) {
	store, err := NewSQLiteAuditStore(filepath.Join(t.TempDir(), "audit", "audit.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	for _, event := range append(sampleEvents("s1"), sampleEvents("s2")...) {
		require.NoError(t, store.Record(ctx, event))
	}

	events, err := store.Query(ctx, framework.AuditQuery{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.NotNil(t, events[0].Iteration)
	assert.Equal(t, "boom", events[0].Iteration.Failures[0].Message)
	require.NotNil(t, events[1].Result)
	assert.True(t, events[1].Result.Success)

	results, err := store.Query(ctx, framework.AuditQuery{Type: framework.AuditEventResult})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	sessions, err := store.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s2", "s1"}, sessions)
}

func TestFileAuditStore(t *testing.T) {
	store, err := NewFileAuditStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	for _, event := range sampleEvents("s1") {
		require.NoError(t, store.Record(ctx, event))
	}
	history, err := store.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, framework.AuditEventIteration, history[0].Type)
	assert.False(t, history[0].Timestamp.IsZero())

	empty, err := store.History(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)

	assert.Error(t, store.Record(ctx, framework.AuditEvent{}))
}
