package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/flowsync/internal/domain"
	"github.com/animus-labs/flowsync/internal/platform/auth"
	"github.com/animus-labs/flowsync/internal/repo"
	"golang.org/x/sync/singleflight"
)

// RunSource is the read contract of one orchestrator.
type RunSource interface {
	ListRecentRuns(ctx context.Context, since time.Time, limit int) ([]RunSnapshot, error)
	FetchRun(ctx context.Context, workflowExternalID, externalRunID string) (RunSnapshot, error)
	ListTaskStates(ctx context.Context, workflowExternalID, externalRunID string) (map[string]string, error)
}

// ClientFactory builds the RunSource for a registered source.
type ClientFactory func(ctx context.Context, src domain.RunSource) (RunSource, error)

// Registry resolves registered sources and caches one client per source.
type Registry struct {
	sources repo.SourceRepository
	factory ClientFactory

	mu      sync.Mutex
	clients map[string]cachedClient
	group   singleflight.Group
}

type cachedClient struct {
	src    domain.RunSource
	client RunSource
}

type RegistryOption func(*Registry)

// WithClientFactory replaces the Airflow client factory.
func WithClientFactory(f ClientFactory) RegistryOption {
	return func(r *Registry) {
		if f != nil {
			r.factory = f
		}
	}
}

func NewRegistry(sources repo.SourceRepository, opts ...RegistryOption) (*Registry, error) {
	if sources == nil {
		return nil, errors.New("source repository is required")
	}
	r := &Registry{
		sources: sources,
		factory: AirflowFactory(&http.Client{Timeout: 15 * time.Second}, nil),
		clients: map[string]cachedClient{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// AirflowFactory authenticates each source per its auth mode.
func AirflowFactory(base *http.Client, lookup auth.LookupEnv) ClientFactory {
	return func(ctx context.Context, src domain.RunSource) (RunSource, error) {
		httpClient, err := auth.HTTPClient(ctx, src, base, lookup)
		if err != nil {
			return nil, err
		}
		return NewClient(src.BaseURL, src.UIURL, httpClient)
	}
}

// ActiveSources lists active sources in registration order.
func (r *Registry) ActiveSources(ctx context.Context) ([]domain.RunSource, error) {
	return r.sources.ListSources(ctx, true)
}

// Source returns repo.ErrNotFound for an unknown id.
func (r *Registry) Source(ctx context.Context, id string) (domain.RunSource, error) {
	return r.sources.GetSource(ctx, strings.TrimSpace(id))
}

// Client returns the cached client for src, rebuilding it when the
// registration changed. Concurrent first calls for one source share a build.
func (r *Registry) Client(ctx context.Context, src domain.RunSource) (RunSource, error) {
	r.mu.Lock()
	cached, ok := r.clients[src.ID]
	r.mu.Unlock()
	if ok && sameSource(cached.src, src) {
		return cached.client, nil
	}

	v, err, _ := r.group.Do(src.ID, func() (any, error) {
		// Token refresh outlives the pass that first built the client.
		client, err := r.factory(context.WithoutCancel(ctx), src)
		if err != nil {
			return nil, fmt.Errorf("build client for source %s: %w", src.ID, err)
		}
		r.mu.Lock()
		r.clients[src.ID] = cachedClient{src: src, client: client}
		r.mu.Unlock()
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(RunSource), nil
}

func sameSource(a, b domain.RunSource) bool {
	return a.ID == b.ID &&
		a.BaseURL == b.BaseURL &&
		a.UIURL == b.UIURL &&
		a.AuthMode == b.AuthMode &&
		a.TokenEnv == b.TokenEnv &&
		a.OIDCIssuer == b.OIDCIssuer &&
		a.ClientID == b.ClientID &&
		a.ClientSecretEnv == b.ClientSecretEnv &&
		slices.Equal(a.Scopes, b.Scopes)
}
