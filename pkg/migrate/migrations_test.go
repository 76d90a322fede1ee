package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/paycore/pkg/migrate"
)

func TestMigrationsDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("ValidateDir: %v", err)
	}
}

func TestEmbeddedMigrationsMatchDisk(t *testing.T) {
	if err := migrate.ValidateFS(migrate.Embedded()); err != nil {
		t.Fatalf("ValidateFS: %v", err)
	}
	embedded, err := fs.Glob(migrate.Embedded(), "*.sql")
	if err != nil {
		t.Fatalf("glob embedded: %v", err)
	}
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob disk: %v", err)
	}
	if len(embedded) == 0 || len(embedded) != len(onDisk) {
		t.Fatalf("embedded %d migrations, disk has %d", len(embedded), len(onDisk))
	}
}

func TestPaymentIntentMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_payment_intents.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS payment_intents",
		"CONSTRAINT payment_intents_idempotency_key_key UNIQUE (idempotency_key)",
		"paid_total_cents = base_total_cents + commission_amount_cents",
		"CHECK (installment_number BETWEEN 1 AND 12)",
		"DROP TABLE IF EXISTS payment_intents",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestReviewQueueMigrationDedupes(t *testing.T) {
	content := readMigration(t, "*_create_payment_manual_review_queue.sql")
	if !strings.Contains(content, "UNIQUE (dedupe_key)") {
		t.Fatal("review queue must enforce a unique dedupe key")
	}
}

func TestCaptureOperationAllowed(t *testing.T) {
	content := readMigration(t, "*_allow_capture_transactions.sql")
	if !strings.Contains(content, "'refund', 'capture'") {
		t.Fatal("transaction log must accept capture operations")
	}
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %s", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}
