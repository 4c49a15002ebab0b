package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"ProcessMCP/internal/protocol"
)

func actions(handlers []protocol.HandlerMetadata) []string {
	out := make([]string, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, h.Action)
	}
	return out
}

func TestDefaultCatalogMatchesText(t *testing.T) {
	c := Default()
	got := actions(c.Query("proc-legacy", "transfer 100 tokens to alice-456"))
	want := []string{"Info", "Balance", "Transfer", "Mint", "Burn"}
	if len(got) != len(want) {
		t.Fatalf("unexpected handlers %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("handler %d: want %s, got %s", i, want[i], got[i])
		}
	}
}

func TestDefaultCatalogMatchesTarget(t *testing.T) {
	c := Default()
	got := c.Query("my-calculator-01", "5 and 3")
	if len(got) != 4 || got[0].Action != "Add" {
		t.Fatalf("unexpected handlers %v", actions(got))
	}
	if got[0].Category != protocol.CategoryMath {
		t.Fatalf("expected math category, got %s", got[0].Category)
	}
}

func TestQueryDoesNotMatchInsideWords(t *testing.T) {
	c := Default()
	if got := c.Query("proc-1", "show the address"); len(got) != 0 {
		t.Fatalf("expected no templates, got %v", actions(got))
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.json")
	content := `[{"name":"dao","keywords":["vote"],"handlers":[{"action":"Vote","isWrite":true,"parameters":[{"name":"Proposal","type":"string","required":true}]}]}]`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write templates: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := c.Query("dao-1", "vote on proposal 7")
	if len(got) != 1 || got[0].Action != "Vote" {
		t.Fatalf("unexpected handlers %v", actions(got))
	}
	if byTarget := c.Query("vote-registry", ""); len(byTarget) != 1 {
		t.Fatalf("keyword in the target id should match, got %v", actions(byTarget))
	}
	if none := c.Query("dao-1", ""); len(none) != 0 {
		t.Fatalf("expected no templates without a keyword, got %v", actions(none))
	}
	if got[0].Category != protocol.CategoryGeneric {
		t.Fatalf("expected generic category, got %s", got[0].Category)
	}
}

func TestLoadRejectsUnnamedHandler(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte(`[{"name":"x","handlers":[{"action":""}]}]`), 0o600); err != nil {
		t.Fatalf("write templates: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unnamed handler")
	}
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if names := c.Templates(); len(names) != 2 {
		t.Fatalf("unexpected templates %v", names)
	}
}
