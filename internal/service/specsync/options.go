package specsync

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

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCallTimeout bounds every call to the document source and the store.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithIDGenerator overrides how new definition ids are minted.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func WithAuditor(a reconcile.PassAuditor) Option {
	return func(s *Service) {
		s.auditor = a
	}
}
