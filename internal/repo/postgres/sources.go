package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/animus-labs/flowsync/internal/domain"
	"github.com/animus-labs/flowsync/internal/repo"
)

const (
	sourceColumns = `source_id, name, base_url, ui_url, auth_mode, token_env, oidc_issuer, client_id, client_secret_env, scopes, active`

	listSourcesQuery = `SELECT ` + sourceColumns + `
	 FROM run_sources
	 ORDER BY created_at ASC, source_id ASC`

	listActiveSourcesQuery = `SELECT ` + sourceColumns + `
	 FROM run_sources
	 WHERE active
	 ORDER BY created_at ASC, source_id ASC`

	selectSourceQuery = `SELECT ` + sourceColumns + `
	 FROM run_sources
	 WHERE source_id = $1`
)

type SourceStore struct {
	db DB
}

func NewSourceStore(db DB) *SourceStore {
	if db == nil {
		return nil
	}
	return &SourceStore{db: db}
}

var _ repo.SourceRepository = (*SourceStore)(nil)

func (s *SourceStore) ListSources(ctx context.Context, activeOnly bool) ([]domain.RunSource, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("source store not initialized")
	}
	query := listSourcesQuery
	if activeOnly {
		query = listActiveSourcesQuery
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RunSource, 0)
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return out, nil
}

func (s *SourceStore) GetSource(ctx context.Context, id string) (domain.RunSource, error) {
	if s == nil || s.db == nil {
		return domain.RunSource{}, fmt.Errorf("source store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.RunSource{}, fmt.Errorf("source id is required")
	}
	src, err := scanSource(s.db.QueryRowContext(ctx, selectSourceQuery, id))
	if err != nil {
		return domain.RunSource{}, handleNotFound(err)
	}
	return src, nil
}

func scanSource(row rowScanner) (domain.RunSource, error) {
	var src domain.RunSource
	var authMode, scopes string
	if err := row.Scan(&src.ID, &src.Name, &src.BaseURL, &src.UIURL, &authMode, &src.TokenEnv,
		&src.OIDCIssuer, &src.ClientID, &src.ClientSecretEnv, &scopes, &src.Active); err != nil {
		return domain.RunSource{}, err
	}
	src.AuthMode = domain.SourceAuthMode(authMode)
	src.Scopes = splitScopes(scopes)
	return src, nil
}

func splitScopes(raw string) []string {
	fields := strings.Fields(strings.ReplaceAll(raw, ",", " "))
	if len(fields) == 0 {
		return nil
	}
	return fields
}
