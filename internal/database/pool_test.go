package database

import (
	"strings"
	"testing"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/policy"
)

// ---------------------------------------------------------------------------
// AppMigrations
// ---------------------------------------------------------------------------

func TestAppMigrations_OrderedAndUnique(t *testing.T) {
	seen := map[string]bool{}
	prev := ""
	for _, m := range AppMigrations() {
		if seen[m.Name] {
			t.Errorf("duplicate migration %q", m.Name)
		}
		seen[m.Name] = true
		if m.Name <= prev {
			t.Errorf("migration %q is out of order after %q", m.Name, prev)
		}
		prev = m.Name
		if strings.TrimSpace(m.SQL) == "" {
			t.Errorf("migration %q has no SQL", m.Name)
		}
	}
}

func TestAppMigrations_CreateEveryWhitelistedTable(t *testing.T) {
	schema := AppMigrations()[0].SQL
	for _, tbl := range policy.Tables() {
		if !strings.Contains(schema, "public."+tbl.Name+" (") {
			t.Errorf("no CREATE TABLE for whitelisted table %q", tbl.Name)
		}
	}
}

// ---------------------------------------------------------------------------
// Note: NewPool and RunMigrations require a real PostgreSQL connection.
// ---------------------------------------------------------------------------

func TestNewPool_Documentation(t *testing.T) {
	t.Skip("requires database connection -- integration test")
	// Would test:
	// - Valid connection URL creates a pool
	// - Invalid URL returns error
	// - Unreachable host returns error
}

func TestRunMigrations_Documentation(t *testing.T) {
	t.Skip("requires database connection -- integration test")
	// Would test:
	// - Already-executed migrations are skipped
	// - A failing migration is rolled back and not recorded
}
