package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/animus-labs/flowsync/internal/orchestrator"
	"github.com/animus-labs/flowsync/internal/platform/auditlog"
	platformstore "github.com/animus-labs/flowsync/internal/platform/objectstore"
	"github.com/animus-labs/flowsync/internal/platform/postgres"
	pgrepo "github.com/animus-labs/flowsync/internal/repo/postgres"
	"github.com/animus-labs/flowsync/internal/service/runsync"
	"github.com/animus-labs/flowsync/internal/service/specsync"
	"github.com/animus-labs/flowsync/internal/specdoc"
	"github.com/animus-labs/flowsync/internal/storage/objectstore"
	"github.com/minio/minio-go/v7"
)

// app is the wired object graph shared by every command.
type app struct {
	db       *sql.DB
	minio    *minio.Client
	storeCfg platformstore.Config
	specs    *specsync.Service
	runs     *runsync.Service
}

func (a *app) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// openDB is shared by migrate, which needs no other collaborators.
func openDB(ctx context.Context) (*sql.DB, error) {
	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, usageError{fmt.Errorf("invalid database config: %w", err)}
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("database unavailable: %w", err)
	}
	return db, nil
}

func newApp(ctx context.Context, logger *slog.Logger, cfg syncConfig) (*app, error) {
	storeCfg, err := platformstore.ConfigFromEnv()
	if err != nil {
		return nil, usageError{fmt.Errorf("invalid object store config: %w", err)}
	}

	db, err := openDB(ctx)
	if err != nil {
		return nil, err
	}

	client, err := platformstore.NewMinIOClient(storeCfg)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("object store client init failed: %w", err)
	}
	store, err := objectstore.NewMinioStoreWithClient(client)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	specSource, err := specsync.NewObjectStoreSource(store, storeCfg.BucketSpecs, storeCfg.SpecPrefix)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	auditor := auditlog.NewRecorder(db)

	specs, err := specsync.New(specSource, specdoc.NewParser(), pgrepo.NewWorkflowStore(db),
		specsync.WithLogger(logger.With("component", specsync.ReconcilerName)),
		specsync.WithCallTimeout(cfg.CallTimeout),
		specsync.WithAuditor(auditor),
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	registry, err := orchestrator.NewRegistry(pgrepo.NewSourceStore(db),
		orchestrator.WithClientFactory(orchestrator.AirflowFactory(&http.Client{Timeout: cfg.CallTimeout + 5*time.Second}, nil)),
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	runs, err := runsync.New(registry, pgrepo.NewRunStore(db),
		runsync.WithLogger(logger.With("component", runsync.ReconcilerName)),
		runsync.WithCallTimeout(cfg.CallTimeout),
		runsync.WithConcurrency(cfg.SourceConcurrency),
		runsync.WithDefaults(cfg.RunLookback, cfg.RunBatchSize, cfg.StaleThreshold),
		runsync.WithStaleLimit(cfg.StaleLimit),
		runsync.WithAuditor(auditor),
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &app{db: db, minio: client, storeCfg: storeCfg, specs: specs, runs: runs}, nil
}
