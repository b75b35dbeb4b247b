package main

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/flowsync/internal/platform/httpserver"
	"github.com/animus-labs/flowsync/internal/reconcile"
	"golang.org/x/sync/singleflight"
)

type specReconciler interface {
	SyncFromSource(ctx context.Context) reconcile.Report
}

type runReconciler interface {
	SyncAllActiveSources(ctx context.Context, lookback time.Duration, batchSize int) reconcile.MultiSourceReport
	SyncOneSource(ctx context.Context, sourceID string, lookback time.Duration, batchSize int) reconcile.SourceOutcome
	SyncStaleRuns(ctx context.Context, threshold time.Duration) reconcile.Report
}

// syncAPI triggers passes on demand. Concurrent requests for the same pass
// share one execution and receive the same report.
type syncAPI struct {
	logger *slog.Logger
	specs  specReconciler
	runs   runReconciler
	cfg    syncConfig
	group  singleflight.Group
}

func newSyncAPI(logger *slog.Logger, specs specReconciler, runs runReconciler, cfg syncConfig) *syncAPI {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &syncAPI{logger: logger, specs: specs, runs: runs, cfg: cfg}
}

func (api *syncAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sync/specs", api.handleSyncSpecs)
	mux.HandleFunc("POST /v1/sync/runs", api.handleSyncRuns)
	mux.HandleFunc("POST /v1/sync/runs/{source_id}", api.handleSyncSource)
	mux.HandleFunc("POST /v1/sync/stale", api.handleSyncStale)
}

func (api *syncAPI) handleSyncSpecs(w http.ResponseWriter, r *http.Request) {
	api.share(w, r, "specs", func(ctx context.Context) any {
		return api.specs.SyncFromSource(ctx)
	})
}

func (api *syncAPI) handleSyncRuns(w http.ResponseWriter, r *http.Request) {
	lookback, batchSize, ok := api.runParams(w, r)
	if !ok {
		return
	}
	api.share(w, r, "runs:*", func(ctx context.Context) any {
		return api.runs.SyncAllActiveSources(ctx, lookback, batchSize)
	})
}

func (api *syncAPI) handleSyncSource(w http.ResponseWriter, r *http.Request) {
	sourceID := strings.TrimSpace(r.PathValue("source_id"))
	if sourceID == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "source_id_required")
		return
	}
	lookback, batchSize, ok := api.runParams(w, r)
	if !ok {
		return
	}
	api.share(w, r, "runs:"+sourceID, func(ctx context.Context) any {
		return api.runs.SyncOneSource(ctx, sourceID, lookback, batchSize)
	})
}

func (api *syncAPI) handleSyncStale(w http.ResponseWriter, r *http.Request) {
	threshold, err := durationParam(r, "threshold", api.cfg.StaleThreshold)
	if err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_threshold")
		return
	}
	api.share(w, r, "stale", func(ctx context.Context) any {
		return api.runs.SyncStaleRuns(ctx, threshold)
	})
}

func (api *syncAPI) runParams(w http.ResponseWriter, r *http.Request) (time.Duration, int, bool) {
	lookback, err := durationParam(r, "lookback", api.cfg.RunLookback)
	if err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_lookback")
		return 0, 0, false
	}
	batchSize, err := intParam(r, "batch_size", api.cfg.RunBatchSize)
	if err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_batch_size")
		return 0, 0, false
	}
	return lookback, batchSize, true
}

// share runs fn at most once per key at a time. The pass is detached from the
// request so a disconnecting caller does not cancel it for the others.
func (api *syncAPI) share(w http.ResponseWriter, r *http.Request, key string, fn func(context.Context) any) {
	ctx := context.WithoutCancel(r.Context())
	result, _, shared := api.group.Do(key, func() (any, error) {
		return fn(ctx), nil
	})
	if shared {
		api.logger.Debug("sync request joined running pass", "pass", key)
	}
	httpserver.WriteJSON(w, http.StatusOK, result)
}

func durationParam(r *http.Request, name string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, strconv.ErrRange
	}
	return d, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
