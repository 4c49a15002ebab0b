package task

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
)

var taskRowColumns = []string{
	"id", "batch_id", "step", "total", "target_id", "request", "mode", "confirmed", "parameters", "status",
	"attempts", "max_retries", "last_error", "error_code", "result", "created_at", "updated_at", "submitted_by",
}

func newMockStore(t *testing.T) (*MySQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS batch_tasks").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewMySQLStoreWithDB(context.Background(), db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return store, mock
}

func TestMySQLStoreCreateAndGet(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	task := &Task{
		ID: "b-1", BatchID: "b", Step: 1, Total: 2, TargetID: "proc-1", Request: "transfer 5 tokens to bob",
		Parameters: map[string]any{"Quantity": "5"}, Status: StatusPending, MaxRetries: 3, SubmittedBy: "ops",
	}
	mock.ExpectExec("INSERT INTO batch_tasks").
		WithArgs("b-1", "b", 1, 2, "proc-1", "transfer 5 tokens to bob", "", false, `{"Quantity":"5"}`, StatusPending, 0, 3, sqlmock.AnyArg(), sqlmock.AnyArg(), "ops").
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	rows := sqlmock.NewRows(taskRowColumns).AddRow(
		"b-1", "b", 1, 2, "proc-1", "transfer 5 tokens to bob", "", false, `{"Quantity":"5"}`, "succeeded",
		1, 3, "", "", `{"request_id":"r1","status":"executed","handler":"Transfer"}`, 100, 200, "ops",
	)
	mock.ExpectQuery("SELECT (.+) FROM batch_tasks WHERE id = ?").WithArgs("b-1").WillReturnRows(rows)
	got, err := store.Get(ctx, "b-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusSucceeded || got.Parameters["Quantity"] != "5" {
		t.Fatalf("unexpected task %+v", got)
	}
	if got.SubmittedBy != "ops" {
		t.Fatalf("submitter not restored: %+v", got)
	}
	if got.Result == nil || got.Result.Handler != "Transfer" {
		t.Fatalf("unexpected result %+v", got.Result)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMySQLStoreDuplicateIsConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO batch_tasks").WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err := store.Create(context.Background(), &Task{ID: "dup", TargetID: "p", Request: "r", Status: StatusPending})
	if !IsTaskError(err, CodeTaskConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMySQLStoreClaimCompleted(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE batch_tasks SET status = \\?, attempts = attempts \\+ 1").
		WithArgs(StatusRunning, sqlmock.AnyArg(), "t1", StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows(taskRowColumns).AddRow(
		"t1", "", 0, 0, "proc-1", "check balance", "", false, nil, "succeeded",
		1, 3, nil, nil, nil, 100, 200, "",
	)
	mock.ExpectQuery("SELECT (.+) FROM batch_tasks WHERE id = ?").WithArgs("t1").WillReturnRows(rows)

	task, err := store.Claim(context.Background(), "t1")
	if !IsTaskError(err, CodeTaskCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}
	if task == nil || task.Result != nil || task.Parameters != nil {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestMySQLStoreMarkFailedRetry(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE batch_tasks SET status = \\?, last_error = \\?").
		WithArgs(StatusPending, "dial tcp: connection refused", "DISPATCH_FAILED", sqlmock.AnyArg(), sqlmock.AnyArg(), "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.MarkFailed(context.Background(), "t1", "DISPATCH_FAILED", "dial tcp: connection refused", false, &ExecutionResult{Status: "failed"}); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	mock.ExpectExec("UPDATE batch_tasks SET status = \\?, last_error = \\?").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.MarkFailed(context.Background(), "gone", CodeTaskProcessing, "x", true, nil); !IsTaskError(err, CodeTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMySQLStoreListBatch(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows(taskRowColumns).
		AddRow("b-1", "b", 1, 2, "proc-1", "check balance", "", false, nil, "succeeded", 1, 3, "", "", nil, 100, 200, "").
		AddRow("b-2", "b", 2, 2, "proc-1", "transfer 5 tokens to bob", "", false, nil, "pending", 0, 3, "", "", nil, 100, 100, "")
	mock.ExpectQuery("FROM batch_tasks WHERE batch_id = \\? ORDER BY step ASC").
		WithArgs("b", maxBatchSteps, 0).
		WillReturnRows(rows)

	tasks, err := store.List(context.Background(), buildListOptions([]ListOption{WithBatch("b"), WithSortOrder(SortByStep)}))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 || tasks[1].Step != 2 {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestBuildFilterClauseTargetAndSubmitter(t *testing.T) {
	opts := buildListOptions([]ListOption{WithTarget(" proc-1 "), WithSubmitter("ops"), WithStatuses(StatusFailed)})
	clause, args := buildFilterClause(opts)
	if clause != "target_id = ? AND submitted_by = ? AND status IN (?)" {
		t.Fatalf("unexpected clause %q", clause)
	}
	if len(args) != 3 || args[0] != "proc-1" || args[1] != "ops" || args[2] != StatusFailed {
		t.Fatalf("unexpected args %v", args)
	}
}
