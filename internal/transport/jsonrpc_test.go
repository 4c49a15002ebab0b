package transport

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"ProcessMCP/internal/config"
)

type gatewayService struct {
	dryRuns  int
	messages []MessageRequest
}

func (s *gatewayService) DryRun(_ context.Context, req MessageRequest) (*ReadResult, error) {
	s.dryRuns++
	if req.Process == "silent" {
		return nil, nil
	}
	action, _ := TagValue(req.Tags, "Action")
	return &ReadResult{Data: `{"action":"` + action + `"}`, Tags: []Tag{{Name: "Process", Value: req.Process}}}, nil
}

func (s *gatewayService) Message(_ context.Context, req MessageRequest) (any, error) {
	if req.Signer == "" {
		return nil, errors.New("unauthorized: missing signer")
	}
	s.messages = append(s.messages, req)
	return map[string]any{"ok": true, "process": req.Process}, nil
}

func newGateway(t *testing.T) (*JSONRPCClient, *gatewayService, string) {
	t.Helper()
	svc := &gatewayService{}
	server := gethrpc.NewServer()
	if err := server.RegisterName("ao", svc); err != nil {
		t.Fatalf("register service: %v", err)
	}
	httpServer := httptest.NewServer(server)
	t.Cleanup(func() {
		httpServer.Close()
		server.Stop()
	})

	client, err := DialJSONRPC(context.Background(), ClientConfig{Name: "test", URL: httpServer.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	t.Cleanup(client.Close)
	return client, svc, httpServer.URL
}

func TestJSONRPCClientQueryReadOnly(t *testing.T) {
	client, svc, _ := newGateway(t)

	result, err := client.QueryReadOnly(context.Background(), "proc-1", []Tag{{Name: "Action", Value: "Info"}})
	if err != nil {
		t.Fatalf("query read only: %v", err)
	}
	if result == nil || result.Data != `{"action":"Info"}` {
		t.Fatalf("unexpected result: %+v", result)
	}
	if svc.dryRuns != 1 {
		t.Fatalf("expected one dry run, got %d", svc.dryRuns)
	}

	empty, err := client.QueryReadOnly(context.Background(), "silent", nil)
	if err != nil {
		t.Fatalf("query silent target: %v", err)
	}
	if empty != nil {
		t.Fatalf("expected nil result for silent target, got %+v", empty)
	}
}

func TestJSONRPCClientQueryWrite(t *testing.T) {
	client, svc, _ := newGateway(t)

	data := `{"Quantity":"5"}`
	reply, err := client.QueryWrite(context.Background(), Credential{Address: "wallet-1"}, "proc-1",
		[]Tag{{Name: "Action", Value: "Transfer"}}, &data)
	if err != nil {
		t.Fatalf("query write: %v", err)
	}
	decoded, ok := reply.(map[string]any)
	if !ok || decoded["ok"] != true {
		t.Fatalf("unexpected reply: %#v", reply)
	}
	if len(svc.messages) != 1 || svc.messages[0].Data == nil || *svc.messages[0].Data != data {
		t.Fatalf("message not forwarded: %+v", svc.messages)
	}

	if _, err := client.QueryWrite(context.Background(), Credential{}, "proc-1", nil, nil); err == nil {
		t.Fatalf("expected authorization error")
	}
}

func TestClosedClientFails(t *testing.T) {
	client, _, _ := newGateway(t)
	client.Close()
	if _, err := client.QueryReadOnly(context.Background(), "proc-1", nil); err == nil {
		t.Fatalf("expected error from closed client")
	}
}

func TestNewRegistryFromDefinitions(t *testing.T) {
	_, _, url := newGateway(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "gateways.yaml")
	content := "default: main\ngateways:\n  main:\n    type: jsonrpc\n    url: " + url + "\n    rate_limit: 50\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write definitions: %v", err)
	}

	registry, err := NewRegistry(context.Background(), config.TransportConfig{GatewaysFile: path, TimeoutSeconds: 5})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(registry.Close)

	gw, err := registry.Default()
	if err != nil {
		t.Fatalf("default gateway: %v", err)
	}
	if _, err := gw.QueryReadOnly(context.Background(), "proc-1", nil); err != nil {
		t.Fatalf("query via registry: %v", err)
	}
	if names := registry.Names(); len(names) != 1 || names[0] != "main" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestNewRegistryRequiresGateway(t *testing.T) {
	if _, err := NewRegistry(context.Background(), config.TransportConfig{}); err == nil {
		t.Fatalf("expected error without gateways")
	}
}
