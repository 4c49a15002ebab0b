package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	sum := sha256.Sum256([]byte("reader-secret"))
	svc, err := NewService(Config{Tokens: []Token{
		{Name: "ops", Token: "ops-secret", Permissions: []string{PermAdmin}},
		{Name: "reader", TokenSHA256: hex.EncodeToString(sum[:]), Permissions: []string{"READ"}},
		{Name: "retired", Token: "old-secret", Permissions: []string{PermCompile}, Disabled: true},
	}})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestAuthenticateRequest(t *testing.T) {
	svc := newTestService(t)

	cases := []struct {
		header string
		want   string
		err    error
	}{
		{header: "Bearer ops-secret", want: "ops"},
		{header: "bearer reader-secret", want: "reader"},
		{header: "", err: ErrMissingToken},
		{header: "Basic abc", err: ErrMissingToken},
		{header: "Bearer nope", err: ErrInvalidToken},
		{header: "Bearer old-secret", err: ErrSubjectRevoked},
	}
	for _, tc := range cases {
		subject, err := svc.AuthenticateRequest(tc.header)
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Fatalf("%q: expected %v, got %v", tc.header, tc.err, err)
			}
			continue
		}
		if err != nil || subject.Name != tc.want {
			t.Fatalf("%q: unexpected subject %+v (%v)", tc.header, subject, err)
		}
	}
}

func TestPermissions(t *testing.T) {
	svc := newTestService(t)
	reader, _ := svc.AuthenticateRequest("Bearer reader-secret")
	if err := reader.Authorize(PermRead); err != nil {
		t.Fatalf("permissions should be case-insensitive: %v", err)
	}
	if err := reader.Authorize(PermCompile); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	ops, _ := svc.AuthenticateRequest("Bearer ops-secret")
	if err := ops.Authorize(PermCompile, PermTasks); err != nil {
		t.Fatalf("admin implies every permission: %v", err)
	}
}

func TestNewServiceRejectsBadConfig(t *testing.T) {
	bad := []Config{
		{Tokens: []Token{{Name: "empty"}}},
		{Tokens: []Token{{Name: "short", TokenSHA256: "abcd"}}},
		{Tokens: []Token{{Name: "a", Token: "same"}, {Name: "b", Token: "same"}}},
	}
	for i, cfg := range bad {
		if _, err := NewService(cfg); err == nil {
			t.Fatalf("config %d should be rejected", i)
		}
	}
}

func TestMiddleware(t *testing.T) {
	svc := newTestService(t)
	var seen *Subject
	h := svc.Middleware(PermCompile)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	cases := []struct {
		header string
		status int
	}{
		{header: "", status: http.StatusUnauthorized},
		{header: "Bearer reader-secret", status: http.StatusForbidden},
		{header: "Bearer old-secret", status: http.StatusForbidden},
		{header: "Bearer ops-secret", status: http.StatusAccepted},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/compile", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("%q: unexpected status %d want %d", tc.header, rec.Code, tc.status)
		}
	}
	if seen == nil || seen.Name != "ops" {
		t.Fatalf("subject not stored in context: %+v", seen)
	}
}

func TestDisabledServicePassesThrough(t *testing.T) {
	svc, err := NewService(Config{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if svc.Enabled() {
		t.Fatal("no tokens means authentication is off")
	}
	h := svc.Middleware(PermAdmin)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/discovery/cache", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var nilSvc *Service
	if _, err := nilSvc.AuthenticateRequest("Bearer x"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected disabled, got %v", err)
	}
}

func TestActor(t *testing.T) {
	if got := Actor(context.Background()); got != "" {
		t.Fatalf("anonymous context should have no actor, got %q", got)
	}
	ctx := WithSubject(context.Background(), &Subject{Name: "ops"})
	if got := Actor(ctx); got != "ops" {
		t.Fatalf("unexpected actor %q", got)
	}
	if WithSubject(ctx, nil) != ctx {
		t.Fatal("a nil subject must leave the context unchanged")
	}
}
