package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/animus-labs/flowsync/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSpecs struct {
	calls  int
	ctxErr error
}

func (f *fakeSpecs) SyncFromSource(ctx context.Context) reconcile.Report {
	f.calls++
	f.ctxErr = ctx.Err()
	return reconcile.Report{ID: "spec-pass", Reconciler: "specsync", Processed: 2, Created: 2}
}

type runCall struct {
	SourceID  string
	Lookback  time.Duration
	BatchSize int
	Threshold time.Duration
}

type fakeRuns struct {
	mu    sync.Mutex
	calls []runCall
}

func (f *fakeRuns) record(c runCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeRuns) SyncAllActiveSources(_ context.Context, lookback time.Duration, batchSize int) reconcile.MultiSourceReport {
	f.record(runCall{SourceID: "*", Lookback: lookback, BatchSize: batchSize})
	return reconcile.MultiSourceReport{ID: "multi", TotalSources: 1, SucceededSources: 1}
}

func (f *fakeRuns) SyncOneSource(_ context.Context, sourceID string, lookback time.Duration, batchSize int) reconcile.SourceOutcome {
	f.record(runCall{SourceID: sourceID, Lookback: lookback, BatchSize: batchSize})
	return reconcile.SourceOutcome{SourceID: sourceID, SourceName: "prod"}
}

func (f *fakeRuns) SyncStaleRuns(_ context.Context, threshold time.Duration) reconcile.Report {
	f.record(runCall{Threshold: threshold})
	return reconcile.Report{ID: "stale", Reconciler: "runsync_stale"}
}

func testSyncConfig() syncConfig {
	return syncConfig{
		CallTimeout:       time.Second,
		SourceConcurrency: 2,
		RunLookback:       24 * time.Hour,
		RunBatchSize:      100,
		StaleThreshold:    time.Hour,
		StaleLimit:        10,
	}
}

func newTestMux(specs specReconciler, runs runReconciler) *http.ServeMux {
	mux := http.NewServeMux()
	newSyncAPI(nil, specs, runs, testSyncConfig()).register(mux)
	return mux
}

func TestSyncSpecsReturnsReport(t *testing.T) {
	specs := &fakeSpecs{}
	mux := newTestMux(specs, &fakeRuns{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync/specs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got reconcile.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "spec-pass", got.ID)
	assert.Equal(t, 2, got.Created)
	assert.Equal(t, 1, specs.calls)
}

func TestSyncSpecsRejectsGet(t *testing.T) {
	mux := newTestMux(&fakeSpecs{}, &fakeRuns{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sync/specs", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSyncPassSurvivesCallerCancellation(t *testing.T) {
	specs := &fakeSpecs{}
	mux := newTestMux(specs, &fakeRuns{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/sync/specs", nil).WithContext(ctx)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, specs.ctxErr)
}

func TestSyncRunsUsesDefaultsAndOverrides(t *testing.T) {
	runs := &fakeRuns{}
	mux := newTestMux(&fakeSpecs{}, runs)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync/runs?lookback=2h&batch_size=7", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got reconcile.MultiSourceReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "multi", got.ID)

	assert.Equal(t, []runCall{
		{SourceID: "*", Lookback: 24 * time.Hour, BatchSize: 100},
		{SourceID: "*", Lookback: 2 * time.Hour, BatchSize: 7},
	}, runs.calls)
}

func TestSyncOneSourceUsesPathValue(t *testing.T) {
	runs := &fakeRuns{}
	mux := newTestMux(&fakeSpecs{}, runs)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync/runs/src-1?batch_size=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got reconcile.SourceOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "src-1", got.SourceID)
	assert.Equal(t, []runCall{{SourceID: "src-1", Lookback: 24 * time.Hour, BatchSize: 5}}, runs.calls)
}

func TestSyncStaleThreshold(t *testing.T) {
	runs := &fakeRuns{}
	mux := newTestMux(&fakeSpecs{}, runs)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync/stale?threshold=15m", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []runCall{{Threshold: 15 * time.Minute}}, runs.calls)
}

func TestSyncRejectsBadParams(t *testing.T) {
	cases := []struct {
		name string
		path string
		code string
	}{
		{name: "lookback", path: "/v1/sync/runs?lookback=yesterday", code: "invalid_lookback"},
		{name: "negative lookback", path: "/v1/sync/runs?lookback=-1h", code: "invalid_lookback"},
		{name: "batch size", path: "/v1/sync/runs/src-1?batch_size=0", code: "invalid_batch_size"},
		{name: "threshold", path: "/v1/sync/stale?threshold=soon", code: "invalid_threshold"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runs := &fakeRuns{}
			mux := newTestMux(&fakeSpecs{}, runs)

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tc.path, nil))

			require.Equal(t, http.StatusBadRequest, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body["error"])
			assert.Empty(t, runs.calls)
		})
	}
}
