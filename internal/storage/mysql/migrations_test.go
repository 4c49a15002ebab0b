package mysql

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSplitStatementsSkipsComments(t *testing.T) {
	got := splitStatements(`-- execution log; first cut
CREATE TABLE a (id INT);
-- index; added later
CREATE INDEX idx_a ON a (id); ALTER TABLE a ADD COLUMN b INT;
`)
	want := []string{"CREATE TABLE a (id INT)", "CREATE INDEX idx_a ON a (id)", "ALTER TABLE a ADD COLUMN b INT"}
	if len(got) != len(want) {
		t.Fatalf("expected %d statements, got %q", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statement %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestMigratorOrdersAndRejectsDuplicates(t *testing.T) {
	m := &migrator{files: fstest.MapFS{
		"0002_index.sql":         {Data: []byte("CREATE INDEX i ON execution_log (target_id);")},
		"0001_execution_log.sql": {Data: []byte("CREATE TABLE execution_log (id INT);")},
		"README.md":              {Data: []byte("not a migration")},
		"0003_empty.sql":         {Data: []byte("-- nothing yet\n")},
	}}
	files, err := m.load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 2 || files[0].version != "0001" || files[1].version != "0002" {
		t.Fatalf("unexpected migrations %+v", files)
	}
	if files[0].checksum == files[1].checksum || len(files[0].checksum) != 64 {
		t.Fatalf("unexpected checksums %q %q", files[0].checksum, files[1].checksum)
	}

	dup := &migrator{files: fstest.MapFS{
		"0001_a.sql": {Data: []byte("SELECT 1;")},
		"0001_b.sql": {Data: []byte("SELECT 2;")},
	}}
	if _, err := dup.load(); err == nil {
		t.Fatal("duplicate versions must be rejected")
	}
}

func TestMigratorRejectsEditedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("open sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version, checksum FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version", "checksum"}).AddRow("0001", strings.Repeat("0", 64)))

	err = newMigrator(db).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "0001_execution_log.sql") {
		t.Fatalf("expected edited migration error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
