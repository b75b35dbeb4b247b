package runsync

import (
	"log/slog"
	"time"

	"github.com/animus-labs/flowsync/internal/reconcile"
)

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCallTimeout bounds every orchestrator and store call.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithConcurrency caps how many sources sync at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithDefaults sets the window used when a caller passes a non-positive
// lookback, batch size or stale threshold.
func WithDefaults(lookback time.Duration, batchSize int, staleThreshold time.Duration) Option {
	return func(s *Service) {
		if lookback > 0 {
			s.defaultLookback = lookback
		}
		if batchSize > 0 {
			s.defaultBatchSize = batchSize
		}
		if staleThreshold > 0 {
			s.defaultStaleThreshold = staleThreshold
		}
	}
}

// WithStaleLimit caps how many stale runs one repair pass examines.
func WithStaleLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.staleLimit = n
		}
	}
}

func WithAuditor(a reconcile.PassAuditor) Option {
	return func(s *Service) {
		s.auditor = a
	}
}
