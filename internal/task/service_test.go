package task

import (
	"context"
	"errors"
	"testing"

	"ProcessMCP/internal/auth"
)

type failingProducer struct{}

func (failingProducer) Publish(context.Context, Message) error { return errors.New("broker down") }
func (failingProducer) Close() error                           { return nil }

func TestSubmitValidatesAndDeduplicates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	service := NewService(store, queue, 0)

	if _, err := service.Submit(ctx, Request{Request: "check balance"}); !IsValidationError(err) {
		t.Fatalf("expected validation error for missing target, got %v", err)
	}
	if _, err := service.Submit(ctx, Request{TargetID: "proc-1"}); !IsValidationError(err) {
		t.Fatalf("expected validation error for missing text, got %v", err)
	}

	first, err := service.Submit(ctx, Request{ID: "fixed", TargetID: "proc-1", Request: "check balance"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if first.MaxRetries != 3 {
		t.Fatalf("expected default retries, got %d", first.MaxRetries)
	}
	again, err := service.Submit(ctx, Request{ID: "fixed", TargetID: "proc-2", Request: "other"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if again.TargetID != "proc-1" {
		t.Fatalf("resubmitting an id must return the original task, got %+v", again)
	}
}

func TestSubmitBatchPublishesFirstStepOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	service := NewService(store, queue, 2)

	batch, err := service.SubmitBatch(ctx, BatchRequest{
		ID:        "batch-1",
		TargetID:  "proc-1",
		Confirmed: true,
		Steps:     []Request{{Request: "check balance"}, {Request: "burn 5 tokens"}},
	})
	if err != nil {
		t.Fatalf("submit batch: %v", err)
	}
	if len(batch.Tasks) != 2 || batch.Tasks[0].ID != "batch-1-1" || batch.Tasks[1].Step != 2 {
		t.Fatalf("unexpected batch %+v", batch.Tasks)
	}
	if !batch.Tasks[1].Confirmed || batch.Tasks[1].TargetID != "proc-1" {
		t.Fatalf("batch defaults not applied: %+v", batch.Tasks[1])
	}
	if queue.Pending() != 1 {
		t.Fatalf("only the first step should be queued, got %d", queue.Pending())
	}
	if msg := <-queue.ch; msg != (Message{TaskID: "batch-1-1", BatchID: "batch-1", Step: 1, Total: 2}) {
		t.Fatalf("unexpected first message %+v", msg)
	}

	same, err := service.SubmitBatch(ctx, BatchRequest{ID: "batch-1", Steps: []Request{{TargetID: "x", Request: "y"}}})
	if err != nil || len(same.Tasks) != 2 {
		t.Fatalf("resubmitting a batch id must return the original batch: %+v %v", same, err)
	}

	if _, err := service.SubmitBatch(ctx, BatchRequest{Steps: []Request{{Request: "no target"}}}); !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := service.SubmitBatch(ctx, BatchRequest{}); !IsValidationError(err) {
		t.Fatalf("expected validation error for empty batch, got %v", err)
	}
	if _, err := service.ListBatch(ctx, "missing"); !IsTaskError(err, CodeTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSubmitPublishFailureMarksTask(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	service := NewService(store, failingProducer{}, 3)

	if _, err := service.Submit(ctx, Request{ID: "t", TargetID: "proc-1", Request: "check balance"}); err == nil {
		t.Fatal("expected publish error")
	}
	task, err := store.Get(ctx, "t")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Status != StatusFailed || task.ErrorCode != string(CodeTaskPublish) {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestSubmitRecordsSubmitter(t *testing.T) {
	store := NewMemoryStore()
	service := NewService(store, NewMemoryQueue(8), 1)
	ops := auth.WithSubject(context.Background(), &auth.Subject{Name: "ops", Permissions: []string{auth.PermTasks}})

	if _, err := service.Submit(ops, Request{ID: "t1", TargetID: "proc-1", Request: "check balance"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := service.Submit(context.Background(), Request{ID: "t2", TargetID: "proc-2", Request: "check balance"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	batch, err := service.SubmitBatch(ops, BatchRequest{ID: "b", TargetID: "proc-1", Steps: []Request{{Request: "check balance"}}})
	if err != nil {
		t.Fatalf("submit batch: %v", err)
	}
	if batch.Tasks[0].SubmittedBy != "ops" {
		t.Fatalf("batch steps should record the submitter: %+v", batch.Tasks[0])
	}

	mine, err := service.List(context.Background(), WithSubmitter("ops"), WithSortOrder(SortByUpdatedAsc))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 2 || mine[0].ID == "t2" || mine[1].ID == "t2" {
		t.Fatalf("unexpected tasks for ops: %+v", mine)
	}
	other, err := service.List(context.Background(), WithTarget("proc-2"))
	if err != nil || len(other) != 1 || other[0].SubmittedBy != "" {
		t.Fatalf("unexpected tasks for proc-2: %+v (%v)", other, err)
	}
}
