package fileadapter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/authz-engine/pdp/internal/adapter"
)

func TestAdapter_SaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.csv")
	a := New(path, nil)

	policies := adapter.PolicySet{
		"p": {
			{"alice", "data1", "read"},
			{"bob", "data2", "write"},
		},
		"g": {
			{"alice", "admin"},
		},
	}
	if err := a.SavePolicy(policies); err != nil {
		t.Fatalf("SavePolicy failed: %v", err)
	}

	loaded, err := a.LoadPolicy(nil)
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}
	if len(loaded["p"]) != 2 {
		t.Fatalf("expected 2 p rules, got %d", len(loaded["p"]))
	}
	if len(loaded["g"]) != 1 || loaded["g"][0][0] != "alice" {
		t.Fatalf("unexpected g rules: %v", loaded["g"])
	}
}

func TestAdapter_SkipsBlankAndCommentLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.csv")
	content := "# comment line\n\np, alice, data1, read\n   \n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing policy file failed: %v", err)
	}
	a := New(path, nil)

	loaded, err := a.LoadPolicy(nil)
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}
	if len(loaded["p"]) != 1 {
		t.Fatalf("expected exactly 1 rule, got %d", len(loaded["p"]))
	}
}

func TestAdapter_LoadMissingFileFails(t *testing.T) {
	a := New(filepath.Join(t.TempDir(), "missing.csv"), nil)
	if _, err := a.LoadPolicy(nil); err == nil {
		t.Fatalf("expected loading a missing file to fail")
	}
}
