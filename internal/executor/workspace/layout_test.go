package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLayoutLifecycle(t *testing.T) {
	root := filepath.Join(t.TempDir(), "scratch")
	l := New(root, "sess-1")

	if err := l.Ensure(); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := l.Ensure(); err != nil {
		t.Fatalf("ensure should be idempotent: %v", err)
	}

	if err := l.WriteSource("solution.py", []byte("def main(x): return x")); err != nil {
		t.Fatalf("write source: %v", err)
	}
	rel, err := l.WriteInput(3, []byte("5"))
	if err != nil {
		t.Fatalf("write input: %v", err)
	}
	if rel != filepath.Join("tests", "3", "input.json") {
		t.Fatalf("unexpected input path %q", rel)
	}
	data, err := os.ReadFile(filepath.Join(l.Dir(), rel))
	if err != nil || string(data) != "5" {
		t.Fatalf("read back input: %q %v", data, err)
	}

	if err := l.Purge(); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, err := os.Stat(l.Dir()); !os.IsNotExist(err) {
		t.Fatalf("expected session dir removed, stat err = %v", err)
	}
	if _, err := os.Stat(root); err != nil {
		t.Fatalf("scratch root should survive purge: %v", err)
	}
}

func TestLayoutRejectsNestedSourceNames(t *testing.T) {
	l := New(t.TempDir(), "sess-2")
	if err := l.Ensure(); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := l.WriteSource("../escape.js", nil); err == nil {
		t.Fatalf("expected nested name to be rejected")
	}
}

func TestLayoutEnsureRequiresIDs(t *testing.T) {
	if err := New("", "x").Ensure(); err == nil {
		t.Fatalf("expected error for empty root")
	}
}
