package main

import (
	"errors"
	"time"

	"github.com/animus-labs/flowsync/internal/platform/env"
)

// syncConfig holds the reconciliation knobs shared by serve and the one-shot commands.
type syncConfig struct {
	CallTimeout       time.Duration
	SourceConcurrency int
	RunLookback       time.Duration
	RunBatchSize      int
	StaleThreshold    time.Duration
	StaleLimit        int
}

func syncConfigFromEnv() (syncConfig, error) {
	var (
		cfg syncConfig
		err error
	)
	if cfg.CallTimeout, err = env.Duration("FLOWSYNC_CALL_TIMEOUT", 30*time.Second); err != nil {
		return syncConfig{}, err
	}
	if cfg.SourceConcurrency, err = env.Int("FLOWSYNC_SOURCE_CONCURRENCY", 4); err != nil {
		return syncConfig{}, err
	}
	if cfg.RunLookback, err = env.Duration("FLOWSYNC_RUN_LOOKBACK", 24*time.Hour); err != nil {
		return syncConfig{}, err
	}
	if cfg.RunBatchSize, err = env.Int("FLOWSYNC_RUN_BATCH_SIZE", 100); err != nil {
		return syncConfig{}, err
	}
	if cfg.StaleThreshold, err = env.Duration("FLOWSYNC_STALE_THRESHOLD", time.Hour); err != nil {
		return syncConfig{}, err
	}
	if cfg.StaleLimit, err = env.Int("FLOWSYNC_STALE_LIMIT", 500); err != nil {
		return syncConfig{}, err
	}
	return cfg, cfg.Validate()
}

func (c syncConfig) Validate() error {
	if c.CallTimeout <= 0 {
		return errors.New("FLOWSYNC_CALL_TIMEOUT must be > 0")
	}
	if c.SourceConcurrency <= 0 {
		return errors.New("FLOWSYNC_SOURCE_CONCURRENCY must be > 0")
	}
	if c.RunLookback <= 0 {
		return errors.New("FLOWSYNC_RUN_LOOKBACK must be > 0")
	}
	if c.RunBatchSize <= 0 {
		return errors.New("FLOWSYNC_RUN_BATCH_SIZE must be > 0")
	}
	if c.StaleThreshold <= 0 {
		return errors.New("FLOWSYNC_STALE_THRESHOLD must be > 0")
	}
	if c.StaleLimit <= 0 {
		return errors.New("FLOWSYNC_STALE_LIMIT must be > 0")
	}
	return nil
}
