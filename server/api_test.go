package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/testforge/framework"
)

func seededStore(t *testing.T) *framework.InMemoryAuditLogger {
	t.Helper()
	store := framework.NewInMemoryAuditLogger(0)
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, framework.AuditEvent{
		Type:      framework.AuditEventIteration,
		SessionID: "s1",
		Iteration: &framework.IterationRecord{SessionID: "s1", Index: 1},
	}))
	require.NoError(t, store.Record(ctx, framework.AuditEvent{
		Type:      framework.AuditEventResult,
		SessionID: "s1",
		Result:    &framework.LoopResult{SessionID: "s1", Success: true, Iterations: 1, State: framework.StateSucceeded},
	}))
	return store
}

func TestAPIServerSessions(t *testing.T) {
	api := &APIServer{Store: seededStore(t)}
	handler := api.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Sessions []string `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, []string{"s1"}, list.Sessions)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/s1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Events, 2)
	require.NotNil(t, resp.Result)
	assert.True(t, resp.Result.Success)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIServerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	framework.NewMetricsTelemetry(reg).Emit(framework.Event{Type: framework.EventLoopStart})
	api := &APIServer{Gatherer: reg}

	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "testforge_"))
}
