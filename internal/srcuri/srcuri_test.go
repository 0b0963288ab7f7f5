package srcuri

import "testing"

func baseEnv() map[string]string {
	return map[string]string{
		"PN": "rust",
		"PV": "1.75.0",
		"P":  "rust-1.75.0",
		"PF": "rust-1.75.0",
	}
}

func TestParseSimpleVariableExpansion(t *testing.T) {
	entries, err := Parse("https://example.invalid/${P}.tar.gz", baseEnv(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].URL != "https://example.invalid/rust-1.75.0.tar.gz" {
		t.Fatalf("got %+v", entries)
	}
}

func TestParseRename(t *testing.T) {
	entries, err := Parse("https://example.invalid/${P}.tar.gz -> ${P}-renamed.tar.gz", baseEnv(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Filename != "rust-1.75.0-renamed.tar.gz" {
		t.Fatalf("got %+v", entries)
	}
}

func TestParseUseConditionalGroup(t *testing.T) {
	raw := "https://example.invalid/base.tar.gz jit? ( https://example.invalid/jit-extra.tar.gz )"
	entries, err := Parse(raw, baseEnv(), map[string]bool{"jit": false})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected disabled group dropped, got %+v", entries)
	}
	entries, err = Parse(raw, baseEnv(), map[string]bool{"jit": true})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected enabled group included, got %+v", entries)
	}
}

func TestExpandDefaultOperator(t *testing.T) {
	env := map[string]string{}
	out, err := expandParams("${MIRROR:-https://default.invalid}/x.tar.gz", env)
	if err != nil {
		t.Fatal(err)
	}
	if out != "https://default.invalid/x.tar.gz" {
		t.Errorf("got %q", out)
	}
}

func TestExpandSuffixTrim(t *testing.T) {
	env := map[string]string{"P": "rust-1.75.0.tar.gz"}
	out, err := expandParams("${P%.tar.gz}", env)
	if err != nil {
		t.Fatal(err)
	}
	if out != "rust-1.75.0" {
		t.Errorf("got %q", out)
	}
}

func TestVerCut(t *testing.T) {
	got, err := VerCut("1-2", "1.75.0")
	if err != nil {
		t.Fatal(err)
	}
	if got != "1.75" {
		t.Errorf("got %q", got)
	}
}

func TestVerRs(t *testing.T) {
	got, err := VerRs("2", "-", "1.75.0")
	if err != nil {
		t.Fatal(err)
	}
	if got != "1.75-0" {
		t.Errorf("got %q", got)
	}
}

func TestUnsafeCommandRejected(t *testing.T) {
	if err := validateCommand("rm"); err == nil {
		t.Fatal("expected UnsafeSubstitution for non-whitelisted command")
	}
}
