package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "processmcp.json")
	content := `{"transport":{"gateways_file":"gateways.yaml"},"discovery":{"ttl_seconds":60}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address)
	}
	if cfg.Discovery.TTLSeconds != 60 {
		t.Fatalf("explicit ttl overwritten: %d", cfg.Discovery.TTLSeconds)
	}
	if cfg.Discovery.VersionConstraint != ">=1.0.0, <2.0.0" {
		t.Fatalf("unexpected version constraint: %s", cfg.Discovery.VersionConstraint)
	}
	if cfg.Transport.GatewaysFile != filepath.Join(dir, "gateways.yaml") {
		t.Fatalf("gateways file not resolved: %s", cfg.Transport.GatewaysFile)
	}
	if cfg.Extraction.MaxAttempts != 5 {
		t.Fatalf("unexpected max attempts: %d", cfg.Extraction.MaxAttempts)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("unexpected data dir: %s", cfg.Runtime.DataDir)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PROCESSMCP_EXECUTION_LOG_DSN", "user:pass@tcp(localhost:3306)/processmcp")
	t.Setenv("PROCESSMCP_TASK_WORKERS", "7")
	t.Setenv("PROCESSMCP_API_TOKEN", "s3cret")

	cfg := Default()
	if cfg.Storage.ExecutionLog.Driver != "mysql" {
		t.Fatalf("expected mysql driver, got %s", cfg.Storage.ExecutionLog.Driver)
	}
	if cfg.TaskQueue.Workers != 7 {
		t.Fatalf("expected 7 workers, got %d", cfg.TaskQueue.Workers)
	}
	if cfg.TaskQueue.RabbitMQ.Prefetch != 7 {
		t.Fatalf("prefetch should follow workers, got %d", cfg.TaskQueue.RabbitMQ.Prefetch)
	}
	if len(cfg.Server.Auth.Tokens) != 1 || cfg.Server.Auth.Tokens[0].Permissions[0] != "admin" {
		t.Fatalf("expected admin token from env, got %+v", cfg.Server.Auth.Tokens)
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	if got := ResolvePath(""); got != DefaultPath {
		t.Fatalf("unexpected default path: %s", got)
	}
	t.Setenv(EnvConfigPath, "/etc/processmcp.json")
	if got := ResolvePath(""); got != "/etc/processmcp.json" {
		t.Fatalf("env path ignored: %s", got)
	}
	if got := ResolvePath("local.json"); got != "local.json" {
		t.Fatalf("explicit path ignored: %s", got)
	}
}
