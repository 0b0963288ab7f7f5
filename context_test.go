package emerge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gentoo-go/emerge/internal/sets"
)

func TestExpandTargetsBareAtom(t *testing.T) {
	c := &Ctx{Sets: sets.NewResolver(t.TempDir(), nil, nil)}
	atoms, err := c.ExpandTargets([]string{"app-editors/vim", ">=dev-lang/go-1.21"})
	if err != nil {
		t.Fatal(err)
	}
	if len(atoms) != 2 {
		t.Fatalf("got %d atoms, want 2", len(atoms))
	}
	if atoms[0].Key() != "app-editors/vim" {
		t.Errorf("got %s", atoms[0].Key())
	}
	if atoms[1].Key() != "dev-lang/go" {
		t.Errorf("got %s", atoms[1].Key())
	}
}

func TestExpandTargetsSet(t *testing.T) {
	root := t.TempDir()
	worldDir := filepath.Join(root, "var/lib/portage")
	if err := os.MkdirAll(worldDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(worldDir, "world"), []byte("app-editors/vim\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := &Ctx{Sets: sets.NewResolver(root, nil, nil)}
	atoms, err := c.ExpandTargets([]string{"@world"})
	if err != nil {
		t.Fatal(err)
	}
	if len(atoms) != 1 || atoms[0].Key() != "app-editors/vim" {
		t.Fatalf("got %+v", atoms)
	}
}

func TestExpandTargetsInvalidAtom(t *testing.T) {
	c := &Ctx{Sets: sets.NewResolver(t.TempDir(), nil, nil)}
	if _, err := c.ExpandTargets([]string{"not a valid atom!!"}); err == nil {
		t.Fatal("expected an error for a malformed atom")
	}
}

func TestSplitFields(t *testing.T) {
	got := splitFields("  x264  -gtk  \tqt5 ")
	want := []string{"x264", "-gtk", "qt5"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSplitKey(t *testing.T) {
	category, name, ok := splitKey("dev-lang/go")
	if !ok || category != "dev-lang" || name != "go" {
		t.Fatalf("got %q %q %v", category, name, ok)
	}
	if _, _, ok := splitKey("nonsense"); ok {
		t.Fatal("expected ok=false for a key with no slash")
	}
}
