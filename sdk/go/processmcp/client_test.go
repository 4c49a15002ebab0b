package processmcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestCompileSendsTokenAndPayload(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/compile" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Fatalf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		var req CompileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if req.TargetID != "proc-1" || !req.Confirmed {
			t.Fatalf("unexpected payload: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(CompileResult{
			Success:     true,
			Status:      "executed",
			HandlerUsed: "Transfer",
			Tags:        []Tag{{Name: "Action", Value: "Transfer"}},
		})
	}))
	client.SetAccessToken("token")

	res, err := client.Compile(context.Background(), CompileRequest{TargetID: "proc-1", Request: "transfer 5 tokens to bob", Confirmed: true})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !res.Success || res.Tags[0].Value != "Transfer" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCompileFailureIsAResult(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(CompileResult{
			Status: "failed",
			Error:  &Failure{Kind: "ExtractionFailed", Message: "missing Quantity"},
		})
	}))

	res, err := client.Simulate(context.Background(), CompileRequest{TargetID: "proc-1", Request: "transfer tokens"})
	if err != nil {
		t.Fatalf("pipeline failures are not transport errors: %v", err)
	}
	if res.Error == nil || res.Error.Kind != "ExtractionFailed" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCompileAPIError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}))

	_, err := client.Compile(context.Background(), CompileRequest{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected APIError, got %v", err)
	}
}

func TestGetTaskError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/tasks/task-404" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(struct {
				Error APIError `json:"error"`
			}{Error: APIError{Code: "TASK_NOT_FOUND", Message: "missing"}})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.GetTask(context.Background(), "task-404")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "TASK_NOT_FOUND" || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestWaitForBatchPolls(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/batches":
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(Batch{ID: "b1", Stats: BatchStats{Total: 2, Pending: 2}})
		case r.URL.Path == "/api/v1/batches/b1":
			stats := BatchStats{Total: 2, Running: 1, Succeeded: 1}
			if calls.Add(1) >= 3 {
				stats = BatchStats{Total: 2, Succeeded: 2}
			}
			_ = json.NewEncoder(w).Encode(Batch{ID: "b1", Stats: stats})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := client.SubmitBatch(ctx, BatchRequest{TargetID: "proc-1", Steps: []BatchStep{{Request: "check balance"}, {Request: "burn 5"}}})
	if err != nil || batch.ID != "b1" {
		t.Fatalf("submit batch: %+v %v", batch, err)
	}
	done, err := client.WaitForBatch(ctx, batch.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Stats.Succeeded != 2 || calls.Load() != 3 {
		t.Fatalf("unexpected batch %+v after %d polls", done.Stats, calls.Load())
	}
}

func TestClearDiscoveryCache(t *testing.T) {
	var cleared bool
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete && r.URL.Path == "/api/v1/discovery/cache" {
			cleared = true
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	if err := client.ClearDiscoveryCache(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !cleared {
		t.Fatal("cache endpoint not called")
	}
}
