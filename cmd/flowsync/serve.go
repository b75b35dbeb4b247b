package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/animus-labs/flowsync/internal/platform/httpserver"
	platformstore "github.com/animus-labs/flowsync/internal/platform/objectstore"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const serviceName = "flowsync"

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the sync API, health probes and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root)
		},
	}
}

func runServe(ctx context.Context, root *rootOptions) error {
	logger := root.logger

	httpCfg, err := httpserver.ConfigFromEnv(serviceName)
	if err != nil {
		return usageError{fmt.Errorf("invalid http config: %w", err)}
	}
	syncCfg, err := syncConfigFromEnv()
	if err != nil {
		return usageError{fmt.Errorf("invalid sync config: %w", err)}
	}

	a, err := newApp(ctx, logger, syncCfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			serviceName,
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return a.db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
					defer cancel()
					return platformstore.CheckBucket(checkCtx, a.minio, a.storeCfg)
				},
			},
		),
	)
	mux.Handle("/metrics", promhttp.Handler())

	newSyncAPI(logger, a.specs, a.runs, syncCfg).register(mux)

	logger.Info("starting", "service", serviceName, "addr", httpCfg.Addr)
	return httpserver.Run(ctx, logger, httpCfg, httpserver.Wrap(logger, serviceName, mux))
}
