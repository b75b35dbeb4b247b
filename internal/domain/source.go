package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// SourceAuthMode selects how a run source's API is authenticated.
type SourceAuthMode string

const (
	SourceAuthNone              SourceAuthMode = "none"
	SourceAuthBearer            SourceAuthMode = "bearer"
	SourceAuthClientCredentials SourceAuthMode = "client_credentials"
)

// RunSource is a registered external orchestrator. Secrets are referenced by
// environment variable name, never stored.
type RunSource struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	BaseURL         string         `json:"base_url"`
	UIURL           string         `json:"ui_url,omitempty"`
	AuthMode        SourceAuthMode `json:"auth_mode"`
	TokenEnv        string         `json:"token_env,omitempty"`
	OIDCIssuer      string         `json:"oidc_issuer,omitempty"`
	ClientID        string         `json:"client_id,omitempty"`
	ClientSecretEnv string         `json:"client_secret_env,omitempty"`
	Scopes          []string       `json:"scopes,omitempty"`
	Active          bool           `json:"active"`
}

func (s RunSource) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("source id is required")
	}
	u, err := url.Parse(strings.TrimSpace(s.BaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("source %s: base url must be absolute: %q", s.ID, s.BaseURL)
	}
	switch s.AuthMode {
	case "", SourceAuthNone:
	case SourceAuthBearer:
		if strings.TrimSpace(s.TokenEnv) == "" {
			return fmt.Errorf("source %s: bearer auth requires token_env", s.ID)
		}
	case SourceAuthClientCredentials:
		if strings.TrimSpace(s.OIDCIssuer) == "" || strings.TrimSpace(s.ClientID) == "" || strings.TrimSpace(s.ClientSecretEnv) == "" {
			return fmt.Errorf("source %s: client_credentials auth requires oidc_issuer, client_id and client_secret_env", s.ID)
		}
	default:
		return fmt.Errorf("source %s: unknown auth mode %q", s.ID, s.AuthMode)
	}
	return nil
}

// DisplayName falls back to the id when no name is registered.
func (s RunSource) DisplayName() string {
	if name := strings.TrimSpace(s.Name); name != "" {
		return name
	}
	return s.ID
}
