// Package auth builds authenticated HTTP clients for registered run sources.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/animus-labs/flowsync/internal/domain"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var ErrMissingSecret = errors.New("source secret is not set")

// LookupEnv resolves secret references. os.LookupEnv satisfies it.
type LookupEnv func(key string) (string, bool)

// HTTPClient returns a client that attaches credentials for src to every
// request. ctx scopes issuer discovery and later token refreshes, so it should
// live as long as the client does.
func HTTPClient(ctx context.Context, src domain.RunSource, base *http.Client, lookup LookupEnv) (*http.Client, error) {
	if base == nil {
		base = http.DefaultClient
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	switch src.AuthMode {
	case "", domain.SourceAuthNone:
		return base, nil
	case domain.SourceAuthBearer:
		token, err := secret(lookup, src.TokenEnv)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.ID, err)
		}
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
		return withTimeout(oauth2.NewClient(ctx, ts), base), nil
	case domain.SourceAuthClientCredentials:
		clientSecret, err := secret(lookup, src.ClientSecretEnv)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.ID, err)
		}
		provider, err := oidc.NewProvider(oidc.ClientContext(ctx, base), strings.TrimSpace(src.OIDCIssuer))
		if err != nil {
			return nil, fmt.Errorf("source %s: oidc provider: %w", src.ID, err)
		}
		cfg := clientcredentials.Config{
			ClientID:     strings.TrimSpace(src.ClientID),
			ClientSecret: clientSecret,
			TokenURL:     provider.Endpoint().TokenURL,
			Scopes:       src.Scopes,
		}
		return withTimeout(cfg.Client(ctx), base), nil
	default:
		return nil, fmt.Errorf("source %s: unknown auth mode %q", src.ID, src.AuthMode)
	}
}

func secret(lookup LookupEnv, key string) (string, error) {
	key = strings.TrimSpace(key)
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingSecret, key)
	}
	return strings.TrimSpace(v), nil
}

func withTimeout(c *http.Client, base *http.Client) *http.Client {
	c.Timeout = base.Timeout
	return c
}
