package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"ProcessMCP/internal/auth"
	"ProcessMCP/internal/compiler"
	"ProcessMCP/internal/observability/metrics"
	"ProcessMCP/internal/protocol"
	"ProcessMCP/internal/task"
	"ProcessMCP/internal/transport"
)

const tokenDocument = `{
  "protocolVersion": "1.0",
  "name": "Demo Token",
  "handlers": [
    {"action": "Info", "description": "Token info", "isWrite": false},
    {"action": "Transfer", "description": "Transfer tokens to a recipient", "isWrite": true,
     "parameters": [
       {"name": "Target", "type": "address", "required": true},
       {"name": "Quantity", "type": "string", "required": true}
     ]},
    {"action": "Burn", "description": "Destroy supply", "isWrite": true,
     "parameters": [{"name": "Quantity", "type": "string", "required": true}]}
  ]
}`

type stubTransport struct {
	mu       sync.Mutex
	writers  []string
	writeErr error
}

func (s *stubTransport) QueryReadOnly(_ context.Context, targetID string, tags []transport.Tag) (*transport.ReadResult, error) {
	if action, _ := transport.TagValue(tags, "Action"); action == "Info" && targetID == "proc-1" {
		return &transport.ReadResult{Data: tokenDocument}, nil
	}
	return &transport.ReadResult{Data: "{}"}, nil
}

func (s *stubTransport) QueryWrite(_ context.Context, cred transport.Credential, _ string, _ []transport.Tag, _ *string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return nil, s.writeErr
	}
	s.writers = append(s.writers, cred.Address)
	return `{"ok":true}`, nil
}

func (s *stubTransport) writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writers...)
}

func newTestServer(t *testing.T, stub *stubTransport) (*Server, *task.Service) {
	t.Helper()
	svc := task.NewService(task.NewMemoryStore(), task.NewMemoryQueue(16), 3)
	server := NewServer(":0", compiler.New(stub),
		WithTaskService(svc),
		WithMetrics(metrics.New()),
		WithCredential(transport.Credential{Address: "default-wallet"}),
	)
	return server, svc
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestCompileExecutesTransfer(t *testing.T) {
	stub := &stubTransport{}
	server, _ := newTestServer(t, stub)
	h := server.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/compile", map[string]any{
		"targetId": "proc-1",
		"request":  "transfer 100 tokens to alice-456",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d body %s", rec.Code, rec.Body.String())
	}
	got := decode[compiler.Result](t, rec)
	if got.Status != compiler.StatusExecuted || got.HandlerUsed != "Transfer" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if writers := stub.writes(); len(writers) != 1 || writers[0] != "default-wallet" {
		t.Fatalf("expected default credential, got %v", writers)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/compile", map[string]any{
		"targetId":      "proc-1",
		"request":       "transfer 5 tokens to bob-1",
		"walletAddress": "override-wallet",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d", rec.Code)
	}
	if writers := stub.writes(); writers[len(writers)-1] != "override-wallet" {
		t.Fatalf("wallet override ignored: %v", writers)
	}
}

func TestCompileStatusCodes(t *testing.T) {
	cases := []struct {
		name     string
		body     any
		writeErr error
		want     int
		kind     compiler.Kind
	}{
		{name: "missing target", body: map[string]any{"request": "transfer 1 token to bob"}, want: http.StatusBadRequest, kind: compiler.KindInvalidRequest},
		{name: "extraction failure", body: map[string]any{"targetId": "proc-1", "request": "transfer tokens"}, want: http.StatusUnprocessableEntity, kind: compiler.KindExtractionFailed},
		{
			name:     "dispatch failure",
			body:     map[string]any{"targetId": "proc-1", "request": "transfer 100 tokens to alice-456"},
			writeErr: errors.New("dial tcp 127.0.0.1:80: connection refused"),
			want:     http.StatusBadGateway,
			kind:     compiler.KindDispatchFailed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server, _ := newTestServer(t, &stubTransport{writeErr: tc.writeErr})
			rec := do(t, server.Handler(), http.MethodPost, "/api/v1/compile", tc.body)
			if rec.Code != tc.want {
				t.Fatalf("unexpected status code: got %d want %d (%s)", rec.Code, tc.want, rec.Body.String())
			}
			got := decode[compiler.Result](t, rec)
			if got.Error == nil || got.Error.Kind != tc.kind {
				t.Fatalf("unexpected failure: %+v", got.Error)
			}
		})
	}
}

func TestConfirmationAndSimulation(t *testing.T) {
	stub := &stubTransport{}
	server, _ := newTestServer(t, stub)
	h := server.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/compile", map[string]any{"targetId": "proc-1", "request": "burn 50 tokens"})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirmation prompts are not errors, got %d", rec.Code)
	}
	if got := decode[compiler.Result](t, rec); got.Status != compiler.StatusConfirmationRequired || got.Confirmation == nil {
		t.Fatalf("expected confirmation prompt, got %+v", got)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/simulate", map[string]any{"targetId": "proc-1", "request": "burn 50 tokens"})
	if got := decode[compiler.Result](t, rec); got.Status != compiler.StatusSimulated || got.Simulation == nil {
		t.Fatalf("expected simulation, got %+v", got)
	}
	if len(stub.writes()) != 0 {
		t.Fatalf("nothing should be dispatched, got %v", stub.writes())
	}
}

func TestMalformedBody(t *testing.T) {
	server, _ := newTestServer(t, &stubTransport{})
	h := server.Handler()

	for _, body := range []any{"{not json", ""} {
		rec := do(t, h, http.MethodPost, "/api/v1/compile", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("unexpected status code for %q: %d", body, rec.Code)
		}
		got := decode[map[string]errorBody](t, rec)
		if got["error"].Code != "INVALID_ARGUMENT" {
			t.Fatalf("unexpected error body: %+v", got)
		}
	}

	big := `{"targetId":"proc-1","request":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	if rec := do(t, h, http.MethodPost, "/api/v1/compile", big); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestDiscoveryCacheEndpoints(t *testing.T) {
	server, _ := newTestServer(t, &stubTransport{})
	h := server.Handler()

	do(t, h, http.MethodPost, "/api/v1/compile", map[string]any{"targetId": "proc-1", "request": "transfer 5 tokens to bob-1"})

	stats := decode[protocol.CacheStats](t, do(t, h, http.MethodGet, "/api/v1/discovery/cache", nil))
	if stats.Size != 1 || stats.TargetIDs[0] != "proc-1" {
		t.Fatalf("unexpected cache stats: %+v", stats)
	}
	prefs := decode[map[string]any](t, do(t, h, http.MethodGet, "/api/v1/encoding/preferences", nil))
	if prefs["size"] != float64(1) {
		t.Fatalf("expected a learned preference, got %+v", prefs)
	}

	if rec := do(t, h, http.MethodDelete, "/api/v1/discovery/cache", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/v1/encoding/preferences", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	stats = decode[protocol.CacheStats](t, do(t, h, http.MethodGet, "/api/v1/discovery/cache", nil))
	if stats.Size != 0 {
		t.Fatalf("cache should be empty, got %+v", stats)
	}
}

func TestHandleTaskDetail(t *testing.T) {
	server, svc := newTestServer(t, &stubTransport{})
	h := server.Handler()

	created, err := svc.Submit(context.Background(), task.Request{ID: "task-1", TargetID: "proc-1", Request: "check balance"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	rec := do(t, h, http.MethodGet, "/api/v1/tasks/task-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	if got := decode[task.Task](t, rec); got.ID != created.ID || got.Status != task.StatusPending {
		t.Fatalf("unexpected task: %+v", got)
	}

	t.Run("not found", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/v1/tasks/missing", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusNotFound)
		}
	})
	t.Run("method not allowed", func(t *testing.T) {
		rec := do(t, h, http.MethodPut, "/api/v1/tasks/task-1", nil)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusMethodNotAllowed)
		}
	})
}

func TestTaskSubmissionAndListing(t *testing.T) {
	server, _ := newTestServer(t, &stubTransport{})
	h := server.Handler()

	if rec := do(t, h, http.MethodPost, "/api/v1/tasks", map[string]any{"request": "check balance"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing target should be rejected, got %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/v1/tasks", map[string]any{"target_id": "proc-1", "request": "check balance"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status code: %d (%s)", rec.Code, rec.Body.String())
	}

	list := decode[taskList](t, do(t, h, http.MethodGet, "/api/v1/tasks?status=pending&limit=5", nil))
	if len(list.Tasks) != 1 || list.Stats.Pending != 1 {
		t.Fatalf("unexpected listing: %+v", list)
	}
	for _, query := range []string{"status=bogus", "limit=-1", "since=yesterday", "order=sideways"} {
		if rec := do(t, h, http.MethodGet, "/api/v1/tasks?"+query, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rec.Code)
		}
	}
}

func TestBatchEndpoints(t *testing.T) {
	server, _ := newTestServer(t, &stubTransport{})
	h := server.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/batches", map[string]any{
		"id":        "batch-1",
		"target_id": "proc-1",
		"steps": []map[string]any{
			{"request": "check balance"},
			{"request": "transfer 5 tokens to bob-1"},
		},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status code: %d (%s)", rec.Code, rec.Body.String())
	}

	batch := decode[task.Batch](t, do(t, h, http.MethodGet, "/api/v1/batches/batch-1", nil))
	if batch.ID != "batch-1" || len(batch.Tasks) != 2 || batch.Tasks[1].Step != 2 {
		t.Fatalf("unexpected batch: %+v", batch)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/batches/nope", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/batches", map[string]any{"steps": []any{}}); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty batch should be rejected, got %d", rec.Code)
	}
}

func TestUnconfiguredDependencies(t *testing.T) {
	h := NewServer(":0", compiler.New(&stubTransport{})).Handler()

	if rec := do(t, h, http.MethodGet, "/api/v1/executions", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("execution log is not configured, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/tasks", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("task service is not configured, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("unexpected health status: %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t, &stubTransport{})
	h := server.Handler()

	do(t, h, http.MethodGet, "/healthz", nil)
	rec := do(t, h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	// 文本格式按标签名排序输出。
	if !strings.Contains(rec.Body.String(), `processmcp_http_requests_total{code="200",handler="healthz",method="GET"} 1`) {
		t.Fatalf("missing request metric:\n%s", rec.Body.String())
	}
}

func TestWithContextRejectsAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := withContext(ctx, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
}

func TestAuthGuardsAPIRoutes(t *testing.T) {
	guard, err := auth.NewService(auth.Config{Tokens: []auth.Token{
		{Name: "reader", Token: "reader-secret", Permissions: []string{auth.PermRead}},
	}})
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	svc := task.NewService(task.NewMemoryStore(), task.NewMemoryQueue(4), 3)
	h := NewServer(":0", compiler.New(&stubTransport{}), WithTaskService(svc), WithAuth(guard)).Handler()

	if rec := do(t, h, http.MethodGet, "/api/v1/tasks", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("health check must stay public, got %d", rec.Code)
	}

	authed := func(method, path string) int {
		req := httptest.NewRequest(method, path, strings.NewReader(`{"targetId":"proc-1","request":"check balance"}`))
		req.Header.Set("Authorization", "Bearer reader-secret")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := authed(http.MethodGet, "/api/v1/tasks"); code != http.StatusOK {
		t.Fatalf("reader should list tasks, got %d", code)
	}
	if code := authed(http.MethodPost, "/api/v1/compile"); code != http.StatusForbidden {
		t.Fatalf("reader must not compile, got %d", code)
	}
	if code := authed(http.MethodDelete, "/api/v1/discovery/cache"); code != http.StatusForbidden {
		t.Fatalf("reader must not clear caches, got %d", code)
	}
}

func TestTasksRecordSubmittingToken(t *testing.T) {
	guard, err := auth.NewService(auth.Config{Tokens: []auth.Token{
		{Name: "ops", Token: "ops-secret", Permissions: []string{auth.PermTasks, auth.PermRead}},
	}})
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	svc := task.NewService(task.NewMemoryStore(), task.NewMemoryQueue(4), 3)
	h := NewServer(":0", compiler.New(&stubTransport{}), WithTaskService(svc), WithAuth(guard)).Handler()

	send := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer ops-secret")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	if rec := send(http.MethodPost, "/api/v1/tasks", `{"target_id":"proc-1","request":"check balance"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status code: %d (%s)", rec.Code, rec.Body.String())
	}

	list := decode[taskList](t, send(http.MethodGet, "/api/v1/tasks?submitted_by=ops&target=proc-1", ""))
	if len(list.Tasks) != 1 || list.Tasks[0].SubmittedBy != "ops" {
		t.Fatalf("unexpected listing: %+v", list.Tasks)
	}
	none := decode[taskList](t, send(http.MethodGet, "/api/v1/tasks?submitted_by=someone-else", ""))
	if len(none.Tasks) != 0 {
		t.Fatalf("expected no tasks for another token, got %+v", none.Tasks)
	}
}
