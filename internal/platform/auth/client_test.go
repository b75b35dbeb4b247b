package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/animus-labs/flowsync/internal/domain"
)

func envMap(m map[string]string) LookupEnv {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestHTTPClientNoneReturnsBase(t *testing.T) {
	base := &http.Client{}
	got, err := HTTPClient(context.Background(), domain.RunSource{ID: "a", BaseURL: "http://airflow:8080"}, base, envMap(nil))
	if err != nil {
		t.Fatalf("HTTPClient: %v", err)
	}
	if got != base {
		t.Fatalf("expected base client for auth mode none")
	}
}

func TestHTTPClientBearer(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	src := domain.RunSource{ID: "a", BaseURL: srv.URL, AuthMode: domain.SourceAuthBearer, TokenEnv: "AIRFLOW_TOKEN"}
	client, err := HTTPClient(context.Background(), src, srv.Client(), envMap(map[string]string{"AIRFLOW_TOKEN": " tok-1 "}))
	if err != nil {
		t.Fatalf("HTTPClient: %v", err)
	}
	resp, err := client.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("Authorization=%q, want Bearer tok-1", gotAuth)
	}
}

func TestHTTPClientBearerMissingSecret(t *testing.T) {
	src := domain.RunSource{ID: "a", BaseURL: "http://airflow", AuthMode: domain.SourceAuthBearer, TokenEnv: "AIRFLOW_TOKEN"}
	_, err := HTTPClient(context.Background(), src, nil, envMap(map[string]string{"AIRFLOW_TOKEN": "  "}))
	if !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestHTTPClientClientCredentials(t *testing.T) {
	var (
		srv       *httptest.Server
		gotAuth   string
		gotGrant  string
		gotScopes string
	)
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"issuer":                 srv.URL,
				"authorization_endpoint": srv.URL + "/authorize",
				"token_endpoint":         srv.URL + "/token",
				"jwks_uri":               srv.URL + "/jwks",
			})
		case "/token":
			_ = r.ParseForm()
			gotGrant = r.Form.Get("grant_type")
			gotScopes = r.Form.Get("scope")
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "cc-token",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		default:
			gotAuth = r.Header.Get("Authorization")
		}
	}))
	defer srv.Close()

	src := domain.RunSource{
		ID:              "b",
		BaseURL:         srv.URL,
		AuthMode:        domain.SourceAuthClientCredentials,
		OIDCIssuer:      srv.URL,
		ClientID:        "flowsync",
		ClientSecretEnv: "AIRFLOW_CLIENT_SECRET",
		Scopes:          []string{"airflow.read", "airflow.dags"},
	}
	client, err := HTTPClient(context.Background(), src, srv.Client(), envMap(map[string]string{"AIRFLOW_CLIENT_SECRET": "s3cret"}))
	if err != nil {
		t.Fatalf("HTTPClient: %v", err)
	}
	resp, err := client.Get(srv.URL + "/api/v1/dags")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()

	if gotGrant != "client_credentials" {
		t.Fatalf("grant_type=%q", gotGrant)
	}
	if !strings.Contains(gotScopes, "airflow.read") {
		t.Fatalf("scope=%q", gotScopes)
	}
	if gotAuth != "Bearer cc-token" {
		t.Fatalf("Authorization=%q, want Bearer cc-token", gotAuth)
	}
}

func TestHTTPClientRejectsInvalidSource(t *testing.T) {
	src := domain.RunSource{ID: "c", BaseURL: "not a url"}
	if _, err := HTTPClient(context.Background(), src, nil, envMap(nil)); err == nil {
		t.Fatalf("expected validation error")
	}
}
