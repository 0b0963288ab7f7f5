package recipe

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleEbuild = `# sample recipe
inherit cargo meson

DESCRIPTION="A fast systems language toolchain"
HOMEPAGE="https://example.invalid/rust"
SRC_URI="https://example.invalid/rust-${PV}.tar.gz"
LICENSE="Apache-2.0 MIT"
SLOT="0/1"
KEYWORDS="amd64 ~arm64"
IUSE="jit +lto test"
DEPEND="dev-libs/openssl:="
RDEPEND="${DEPEND}
	jit? ( dev-lang/llvm )"
BDEPEND="virtual/rust"
`

func writeEbuild(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rust-1.75.0.ebuild")
	if err := os.WriteFile(path, []byte(sampleEbuild), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseHeader(t *testing.T) {
	path := writeEbuild(t)
	m, err := Parse(path, "dev-lang", "rust", "1.75.0")
	if err != nil {
		t.Fatal(err)
	}
	if m.Description != "A fast systems language toolchain" {
		t.Errorf("DESCRIPTION: got %q", m.Description)
	}
	if m.Slot != "0/1" {
		t.Errorf("SLOT: got %q", m.Slot)
	}
	if len(m.Keywords) != 2 || m.Keywords[1] != "~arm64" {
		t.Errorf("KEYWORDS: got %v", m.Keywords)
	}
	if len(m.IUSE) != 3 {
		t.Errorf("IUSE: got %v", m.IUSE)
	}
	if len(m.Inherits) != 2 || m.Inherits[0] != "cargo" {
		t.Errorf("Inherits: got %v", m.Inherits)
	}
	if m.BDepend != "virtual/rust" {
		t.Errorf("BDEPEND: got %q", m.BDepend)
	}
}

func TestParseDependClassUsesUseMap(t *testing.T) {
	res, err := ParseDependClass("jit? ( dev-lang/llvm )", map[string]bool{"jit": true})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Atoms) != 1 {
		t.Fatalf("got %+v", res.Atoms)
	}
}

func TestBaseVersionDropsRevision(t *testing.T) {
	m := Metadata{Version: "1.75.0-r2"}
	if got := m.BaseVersion(); got != "1.75.0" {
		t.Errorf("BaseVersion: got %q", got)
	}
}
