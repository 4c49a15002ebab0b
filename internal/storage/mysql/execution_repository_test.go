package mysql

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"ProcessMCP/internal/config"
)

func TestMemoryRepositorySaveAndRestore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo, err := NewMemoryRepository(dir)
	if err != nil {
		t.Fatalf("failed to create memory repo: %v", err)
	}

	ctx := context.Background()
	now := time.Now().Unix()
	first := ExecutionRecord{ID: "a", TargetID: "proc-1", Request: "balance", Approach: "protocol", Success: true, CreatedAt: now}
	second := ExecutionRecord{
		ID:         "b",
		TargetID:   "proc-1",
		Request:    "transfer 100 tokens to alice-456",
		Approach:   "protocol",
		Action:     "Transfer",
		Parameters: map[string]any{"Target": "alice-456", "Quantity": "100"},
		RiskLevel:  "medium",
		Success:    true,
		CreatedAt:  now + 1,
	}
	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := repo.Save(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	list, err := repo.ListLatest(ctx, 1)
	if err != nil {
		t.Fatalf("list latest: %v", err)
	}
	if len(list) != 1 || list[0].ID != "b" {
		t.Fatalf("unexpected list result: %+v", list)
	}

	restored, err := NewMemoryRepository(dir)
	if err != nil {
		t.Fatalf("reopen memory repo: %v", err)
	}
	all, err := restored.ListLatest(ctx, 0)
	if err != nil {
		t.Fatalf("list restored: %v", err)
	}
	if len(all) != 2 || all[0].ID != "b" || all[1].ID != "a" {
		t.Fatalf("unexpected restored records: %+v", all)
	}
	if all[0].Parameters["Target"] != "alice-456" {
		t.Fatalf("parameters not restored: %+v", all[0].Parameters)
	}
}

func TestMemoryRepositoryKeepsRecentRecords(t *testing.T) {
	t.Parallel()

	repo, err := NewMemoryRepository(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create memory repo: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < memoryCapacity+10; i++ {
		if err := repo.Save(ctx, ExecutionRecord{ID: "r", CreatedAt: int64(i)}); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	list, _ := repo.ListLatest(ctx, 0)
	if len(list) != memoryCapacity {
		t.Fatalf("expected %d records, got %d", memoryCapacity, len(list))
	}
	if list[0].CreatedAt != int64(memoryCapacity+9) {
		t.Fatalf("expected newest first, got %d", list[0].CreatedAt)
	}
}

func expectMigrations(t *testing.T, mock sqlmock.Sqlmock, applied ...string) {
	t.Helper()
	files, err := newMigrator(nil).load()
	if err != nil || len(files) == 0 {
		t.Fatalf("load migrations: %v", err)
	}
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows([]string{"version", "checksum"})
	for _, v := range applied {
		rows.AddRow(v, files[0].checksum)
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version, checksum FROM schema_migrations")).WillReturnRows(rows)
	if len(applied) > 0 {
		return
	}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS execution_log")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations")).
		WithArgs("0001", "0001_execution_log.sql", files[0].checksum, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

func TestSQLRepositoryRunsMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("open sqlmock: %v", err)
	}
	defer db.Close()

	expectMigrations(t, mock)
	if _, err := NewSQLRepositoryWithDB(context.Background(), db); err != nil {
		t.Fatalf("new repository: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLRepositorySkipsAppliedMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("open sqlmock: %v", err)
	}
	defer db.Close()

	expectMigrations(t, mock, "0001")
	if _, err := NewSQLRepositoryWithDB(context.Background(), db); err != nil {
		t.Fatalf("new repository: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLRepositorySaveAndList(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("open sqlmock: %v", err)
	}
	defer db.Close()

	expectMigrations(t, mock, "0001")
	repo, err := NewSQLRepositoryWithDB(context.Background(), db)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}

	record := ExecutionRecord{
		ID:         "exec-1",
		TargetID:   "proc-1",
		Request:    "burn 50 tokens",
		Approach:   "protocol",
		Action:     "Burn",
		Parameters: map[string]any{"Quantity": "50"},
		Strategy:   "tags",
		RiskLevel:  "high",
		ErrorKind:  "DispatchFailed",
		Error:      "connection refused",
		CreatedAt:  1700000000,
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO execution_log")).
		WithArgs("exec-1", "proc-1", "burn 50 tokens", "protocol", "Burn", `{"Quantity":"50"}`, "tags", "high", false, "DispatchFailed", "connection refused", int64(1700000000)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := repo.Save(context.Background(), record); err != nil {
		t.Fatalf("save: %v", err)
	}

	rows := sqlmock.NewRows([]string{"id", "target_id", "request", "approach", "action", "parameters", "strategy", "risk_level", "success", "error_kind", "error", "created_at"}).
		AddRow("exec-1", "proc-1", "burn 50 tokens", "protocol", "Burn", `{"Quantity":"50"}`, "tags", "high", false, "DispatchFailed", "connection refused", int64(1700000000))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, target_id")).WithArgs(5).WillReturnRows(rows)

	list, err := repo.ListLatest(context.Background(), 5)
	if err != nil {
		t.Fatalf("list latest: %v", err)
	}
	if len(list) != 1 || list[0].Parameters["Quantity"] != "50" || list[0].ErrorKind != "DispatchFailed" {
		t.Fatalf("unexpected records: %+v", list)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.ExecutionLogConfig{Driver: "sqlite"}, t.TempDir()); err == nil {
		t.Fatal("expected unsupported driver error")
	}
	repo, err := Open(context.Background(), config.ExecutionLogConfig{Driver: "memory"}, t.TempDir())
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := repo.(*MemoryRepository); !ok {
		t.Fatalf("expected memory repository, got %T", repo)
	}
}
