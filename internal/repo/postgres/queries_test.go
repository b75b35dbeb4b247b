package postgres

import (
	"strings"
	"testing"

	"github.com/animus-labs/flowsync/internal/domain"
)

func TestRunQueriesExcludeTerminalStatuses(t *testing.T) {
	parts := make([]string, 0, len(domain.TerminalRunStatuses))
	for _, s := range domain.TerminalRunStatuses {
		parts = append(parts, "'"+string(s)+"'")
	}
	clause := "NOT IN (" + strings.Join(parts, ",") + ")"
	for name, q := range map[string]string{
		"active": listActiveRunsBySourceQuery,
		"stale":  listStaleRunsQuery,
	} {
		if !strings.Contains(q, clause) {
			t.Fatalf("%s query must exclude terminal statuses with %q", name, clause)
		}
	}
}

func TestStaleQueryIsStrictlyBeforeThreshold(t *testing.T) {
	if !strings.Contains(listStaleRunsQuery, "r.updated_at < $1") {
		t.Fatalf("expected strict updated_at predicate in stale query")
	}
	if !strings.Contains(listStaleRunsQuery, "LIMIT $2") {
		t.Fatalf("expected LIMIT in stale query")
	}
}

func TestActiveQueryWindowsOnRefreshTime(t *testing.T) {
	if !strings.Contains(listActiveRunsBySourceQuery, "r.updated_at >= $2") {
		t.Fatalf("expected updated_at window in active query")
	}
	if strings.Contains(listActiveRunsBySourceQuery, "started_at") {
		t.Fatalf("active query must not window on start time: %s", listActiveRunsBySourceQuery)
	}
}

func TestRunQueriesResolveWorkflowExternalRef(t *testing.T) {
	for _, q := range []string{selectRunQuery, selectRunByExternalRefQuery, listActiveRunsBySourceQuery, listStaleRunsQuery} {
		if !strings.Contains(q, "LEFT JOIN workflow_definitions d ON d.name = r.workflow_name") {
			t.Fatalf("expected definition join in query: %s", q)
		}
	}
}

func TestUpdateQueriesAreSingleRow(t *testing.T) {
	if !strings.Contains(updateRunQuery, "WHERE run_id = $1") {
		t.Fatalf("run update must target one run")
	}
	if !strings.Contains(updateWorkflowQuery, "WHERE name = $1") {
		t.Fatalf("workflow update must target one name")
	}
	if strings.Contains(updateWorkflowQuery, "created_at") || strings.Contains(updateWorkflowQuery, "definition_id =") {
		t.Fatalf("workflow update must not rewrite identity or creation time")
	}
}

func TestSplitScopes(t *testing.T) {
	got := splitScopes("read:runs, read:tasks  admin")
	if len(got) != 3 || got[0] != "read:runs" || got[2] != "admin" {
		t.Fatalf("splitScopes()=%v", got)
	}
	if splitScopes("  ") != nil {
		t.Fatalf("expected nil for blank scopes")
	}
}
