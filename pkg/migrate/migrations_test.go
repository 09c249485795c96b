package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/varga-labs/gridbroker-backend/pkg/migrate"
)

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("migrations dir invalid: %v", err)
	}
}

func TestComputeResourcesMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_compute_resources.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS compute_resources",
		"CHECK (total_units >= 0)",
		"CHECK (reserved_units >= 0)",
		"CHECK (reserved_units <= total_units)",
		"DROP TABLE IF EXISTS compute_resources",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestTransactionsMigrationEnforcesIdempotencyUniqueness(t *testing.T) {
	content := readMigration(t, "*_create_transactions.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS transactions",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_tx_quote_provider_key ON transactions(quote_id, provider, idempotency_key)",
		"FOREIGN KEY (quote_id) REFERENCES quotes(id) ON DELETE CASCADE",
		"DROP TABLE IF EXISTS transactions",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestNegotiationRoundsMigrationEnforcesSeqUniqueness(t *testing.T) {
	content := readMigration(t, "*_create_negotiation_rounds.sql")

	if !strings.Contains(content, "CREATE UNIQUE INDEX IF NOT EXISTS idx_round_quote_seq ON negotiation_rounds(quote_id, seq)") {
		t.Errorf("missing unique (quote_id, seq) index")
	}
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration file matching %q", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}
