// Package orchestrator reads run state from external workflow orchestrators.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("orchestrator resource not found")
	ErrUnauthorized  = errors.New("orchestrator request unauthorized")
	ErrForbidden     = errors.New("orchestrator request forbidden")
	ErrUnexpectedAPI = errors.New("orchestrator unexpected response")
)

// Airflow caps page_limit at 100 unless maximum_page_limit is raised.
const maxPageSize = 100

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("orchestrator api error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("orchestrator api error (status=%d): %s", e.StatusCode, body)
}

// RunSnapshot is the orchestrator's view of one run. State is the raw
// orchestrator vocabulary; domain.RunStatusFromExternal maps it.
type RunSnapshot struct {
	ExternalRunID      string
	WorkflowExternalID string
	State              string
	StartedAt          *time.Time
	EndedAt            *time.Time
	StatusURL          string
}

// Client talks to the Airflow stable REST API.
type Client struct {
	baseURL string
	uiURL   string
	http    *http.Client
}

func NewClient(baseURL, uiURL string, httpClient *http.Client) (*Client, error) {
	base, err := normalizeURL(baseURL)
	if err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}
	ui := base
	if strings.TrimSpace(uiURL) != "" {
		if ui, err = normalizeURL(uiURL); err != nil {
			return nil, fmt.Errorf("ui url: %w", err)
		}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: base, uiURL: ui, http: httpClient}, nil
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%q is not absolute", raw)
	}
	return raw, nil
}

type dagRun struct {
	DagRunID  string     `json:"dag_run_id"`
	DagID     string     `json:"dag_id"`
	State     *string    `json:"state"`
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

type dagRunList struct {
	DagRuns      []dagRun `json:"dag_runs"`
	TotalEntries int      `json:"total_entries"`
}

type taskInstance struct {
	TaskID   string  `json:"task_id"`
	State    *string `json:"state"`
	MapIndex *int    `json:"map_index"`
}

type taskInstanceList struct {
	TaskInstances []taskInstance `json:"task_instances"`
	TotalEntries  int            `json:"total_entries"`
}

// ListRecentRuns returns runs of every workflow whose state changed at or
// after since, most recently updated first, capped at limit. Filtering on
// update time keeps runs that started before since but finished after it.
func (c *Client) ListRecentRuns(ctx context.Context, since time.Time, limit int) ([]RunSnapshot, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	out := make([]RunSnapshot, 0, min(limit, maxPageSize))
	for offset := 0; len(out) < limit; {
		page := min(limit-len(out), maxPageSize)
		q := url.Values{}
		q.Set("updated_at_gte", since.UTC().Format(time.RFC3339))
		q.Set("order_by", "-updated_at")
		q.Set("limit", strconv.Itoa(page))
		q.Set("offset", strconv.Itoa(offset))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/dags/~/dagRuns?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}

		var resp dagRunList
		if err := c.do(req, &resp); err != nil {
			return nil, fmt.Errorf("list dag runs: %w", err)
		}
		for _, run := range resp.DagRuns {
			out = append(out, c.snapshot(run))
		}
		offset += len(resp.DagRuns)
		if len(resp.DagRuns) < page || offset >= resp.TotalEntries {
			break
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FetchRun returns ErrNotFound when the orchestrator no longer knows the run.
func (c *Client) FetchRun(ctx context.Context, workflowExternalID, externalRunID string) (RunSnapshot, error) {
	dag, run, err := requireIDs(workflowExternalID, externalRunID)
	if err != nil {
		return RunSnapshot{}, err
	}
	path := fmt.Sprintf("/api/v1/dags/%s/dagRuns/%s", url.PathEscape(dag), url.PathEscape(run))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return RunSnapshot{}, err
	}
	var out dagRun
	if err := c.do(req, &out); err != nil {
		return RunSnapshot{}, fmt.Errorf("get dag run %s/%s: %w", dag, run, err)
	}
	return c.snapshot(out), nil
}

// ListTaskStates returns task id to state for one run. Mapped task instances
// are keyed task_id[map_index].
func (c *Client) ListTaskStates(ctx context.Context, workflowExternalID, externalRunID string) (map[string]string, error) {
	dag, run, err := requireIDs(workflowExternalID, externalRunID)
	if err != nil {
		return nil, err
	}
	states := map[string]string{}
	for offset := 0; ; {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(maxPageSize))
		q.Set("offset", strconv.Itoa(offset))
		path := fmt.Sprintf("/api/v1/dags/%s/dagRuns/%s/taskInstances?%s", url.PathEscape(dag), url.PathEscape(run), q.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		var resp taskInstanceList
		if err := c.do(req, &resp); err != nil {
			return nil, fmt.Errorf("list task instances %s/%s: %w", dag, run, err)
		}
		for _, ti := range resp.TaskInstances {
			key := ti.TaskID
			if ti.MapIndex != nil && *ti.MapIndex >= 0 {
				key = fmt.Sprintf("%s[%d]", ti.TaskID, *ti.MapIndex)
			}
			states[key] = stateOrNone(ti.State)
		}
		offset += len(resp.TaskInstances)
		if len(resp.TaskInstances) < maxPageSize || offset >= resp.TotalEntries {
			return states, nil
		}
	}
}

// StatusURL links to the grid view of one run.
func (c *Client) StatusURL(workflowExternalID, externalRunID string) string {
	return fmt.Sprintf("%s/dags/%s/grid?dag_run_id=%s", c.uiURL, url.PathEscape(workflowExternalID), url.QueryEscape(externalRunID))
}

func (c *Client) snapshot(run dagRun) RunSnapshot {
	return RunSnapshot{
		ExternalRunID:      run.DagRunID,
		WorkflowExternalID: run.DagID,
		State:              stateOrNone(run.State),
		StartedAt:          utcPtr(run.StartDate),
		EndedAt:            utcPtr(run.EndDate),
		StatusURL:          c.StatusURL(run.DagID, run.DagRunID),
	}
}

func (c *Client) do(req *http.Request, out any) error {
	if req == nil {
		return errors.New("request is required")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrUnexpectedAPI, err)
		}
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	default:
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}

func requireIDs(workflowExternalID, externalRunID string) (string, string, error) {
	dag := strings.TrimSpace(workflowExternalID)
	run := strings.TrimSpace(externalRunID)
	if dag == "" {
		return "", "", errors.New("workflow external id is required")
	}
	if run == "" {
		return "", "", errors.New("external run id is required")
	}
	return dag, run, nil
}

func stateOrNone(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return "none"
	}
	return strings.TrimSpace(*s)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}
