package merge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gentoo-go/emerge/internal/installdb"
	"github.com/gentoo-go/emerge/internal/version"
)

func mustPID(t *testing.T, s string) version.PID {
	t.Helper()
	p, err := version.SplitPID(s)
	if err != nil {
		t.Fatalf("SplitPID(%q): %v", s, err)
	}
	return p
}

func newEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	db, err := installdb.Open(root, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewEngine(root, db, 2), root
}

func writeStaged(t *testing.T, rel, content string) string {
	t.Helper()
	stage := t.TempDir()
	path := filepath.Join(stage, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return stage
}

func TestRunInstallsCopiesFilesAndRecordsEntry(t *testing.T) {
	e, root := newEngine(t)
	stage := writeStaged(t, "usr/bin/rustc", "binary")
	pid := mustPID(t, "dev-lang/rust-1.75.0")
	plan := []PlanItem{{PID: pid, StageDir: stage, Slot: "0"}}

	result, err := e.Run(context.Background(), plan, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Installed) != 1 {
		t.Fatalf("got %+v", result)
	}
	if _, err := os.Stat(filepath.Join(root, "usr/bin/rustc")); err != nil {
		t.Errorf("expected file copied into root: %v", err)
	}
	entry, ok, err := e.DB.Lookup(pid)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || len(entry.Contents) != 1 {
		t.Errorf("got %+v ok=%v", entry, ok)
	}
}

func TestRunProtectsExistingConfigFile(t *testing.T) {
	e, root := newEngine(t)
	if err := os.MkdirAll(filepath.Join(root, "etc"), 0o755); err != nil {
		t.Fatal(err)
	}
	existing := filepath.Join(root, "etc/app.conf")
	if err := os.WriteFile(existing, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	stage := writeStaged(t, "etc/app.conf", "new")
	pid := mustPID(t, "app-misc/foo-1.0")

	if _, err := e.Run(context.Background(), []PlanItem{{PID: pid, StageDir: stage, Slot: "0"}}, false); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(existing)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "old" {
		t.Errorf("expected existing config left untouched, got %q", got)
	}
	newVersion, err := os.ReadFile(existing + ".new")
	if err != nil {
		t.Fatalf("expected .new file: %v", err)
	}
	if string(newVersion) != "new" {
		t.Errorf("got %q", newVersion)
	}
}

func TestRunRemovesNonConfigFiles(t *testing.T) {
	e, root := newEngine(t)
	stage := writeStaged(t, "usr/bin/tool", "binary")
	pid := mustPID(t, "app-misc/foo-1.0")
	if _, err := e.Run(context.Background(), []PlanItem{{PID: pid, StageDir: stage, Slot: "0"}}, false); err != nil {
		t.Fatal(err)
	}
	result, err := e.Run(context.Background(), []PlanItem{{PID: pid, Remove: true}}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Removed) != 1 {
		t.Fatalf("got %+v", result)
	}
	if _, err := os.Stat(filepath.Join(root, "usr/bin/tool")); !os.IsNotExist(err) {
		t.Errorf("expected file removed, got err=%v", err)
	}
	if _, ok, _ := e.DB.Lookup(pid); ok {
		t.Error("expected entry removed from installdb")
	}
}

func TestPretendDoesNotTouchFilesystem(t *testing.T) {
	e, root := newEngine(t)
	stage := writeStaged(t, "usr/bin/rustc", "binary")
	pid := mustPID(t, "dev-lang/rust-1.75.0")
	if _, err := e.Run(context.Background(), []PlanItem{{PID: pid, StageDir: stage, Slot: "0"}}, true); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "usr/bin/rustc")); !os.IsNotExist(err) {
		t.Error("expected no filesystem changes in pretend mode")
	}
}

func TestCheckReverseDependencies(t *testing.T) {
	deps := map[string][]string{
		"app-misc/bar": {"dev-lang/rust"},
		"app-misc/baz": {"dev-libs/openssl"},
	}
	got := CheckReverseDependencies("dev-lang/rust", deps)
	if len(got) != 1 || got[0] != "app-misc/bar" {
		t.Errorf("got %v", got)
	}
}

func TestResumeStateRoundTrip(t *testing.T) {
	e, _ := newEngine(t)
	state := ResumeState{OperationID: "merge-1", Items: []string{"dev-lang/rust-1.75.0"}}
	if err := e.SaveResumeState(state); err != nil {
		t.Fatal(err)
	}
	got, ok, err := e.LoadResumeState()
	if err != nil {
		t.Fatal(err)
	}
	if !ok || got.OperationID != "merge-1" {
		t.Errorf("got %+v ok=%v", got, ok)
	}
	if err := e.ClearResumeState(); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := e.LoadResumeState(); ok {
		t.Error("expected state cleared")
	}
}
