package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestProfileChainDepthFirstDedup(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "base")
	mid := filepath.Join(root, "mid")
	leaf := filepath.Join(root, "leaf")

	writeFile(t, filepath.Join(base, "make.defaults"), `ARCH="amd64"`)
	writeFile(t, filepath.Join(mid, "parent"), "../base\n")
	writeFile(t, filepath.Join(mid, "make.defaults"), `USE="jit"`)
	writeFile(t, filepath.Join(leaf, "parent"), "../mid\n../base\n")
	writeFile(t, filepath.Join(leaf, "make.defaults"), `USE="lto"`)

	chain, err := profileChain(leaf)
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected 3 unique profiles in chain, got %d: %v", len(chain), chain)
	}
	if filepath.Base(chain[len(chain)-1]) != "leaf" {
		t.Errorf("expected leaf last, got %v", chain)
	}
}

func TestLoadMergesAndExpands(t *testing.T) {
	root := t.TempDir()
	profileDir := filepath.Join(root, "profile")
	writeFile(t, filepath.Join(profileDir, "make.defaults"), "ARCH=\"amd64\"\nCFLAGS=\"-O2\"\n")

	mainConf := filepath.Join(root, "make.conf")
	writeFile(t, mainConf, `CFLAGS="${CFLAGS} -pipe"`+"\n")

	dropIn := filepath.Join(root, "dropins")
	writeFile(t, filepath.Join(dropIn, "package.use"), "dev-lang/rust jit lto\n")
	writeFile(t, filepath.Join(dropIn, "package.mask"), ">=dev-lang/rust-2.0\n")

	cfg, err := Load(profileDir, mainConf, dropIn)
	if err != nil {
		t.Fatal(err)
	}
	cflags, _ := cfg.AsString("CFLAGS")
	if cflags != "-O2 -pipe" {
		t.Errorf("CFLAGS expansion: got %q", cflags)
	}
	if flags := cfg.UseFlags("dev-lang/rust"); len(flags) != 2 || flags[0] != "jit" || flags[1] != "lto" {
		t.Errorf("UseFlags: got %v", flags)
	}
	if masks := cfg.Masks(); len(masks) != 1 || masks[0] != ">=dev-lang/rust-2.0" {
		t.Errorf("Masks: got %v", masks)
	}
}

func TestUnionFlagsRemoval(t *testing.T) {
	got := unionFlags([]string{"jit", "lto"}, []string{"-jit", "debug"})
	want := []string{"lto", "debug"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %v want %v", i, got, want)
		}
	}
}

func TestCircularExpansionDetected(t *testing.T) {
	vars := map[string]string{
		"A": "${B}",
		"B": "${A}",
	}
	if _, err := expandValue(vars, "A", 0); err == nil {
		t.Fatal("expected circular expansion error")
	}
}

func TestAsBoolRejectsGarbage(t *testing.T) {
	c := &Config{vars: map[string]string{"FLAG": "maybe"}}
	if _, err := c.AsBool("FLAG"); err == nil {
		t.Fatal("expected error for unrecognized boolean token")
	}
}
