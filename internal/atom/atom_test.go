package atom

import "testing"

func TestParseBasic(t *testing.T) {
	a, err := Parse("dev-lang/rust")
	if err != nil {
		t.Fatal(err)
	}
	if a.Category != "dev-lang" || a.Name != "rust" || a.Operator != OpNone {
		t.Errorf("got %+v", a)
	}
}

func TestParseVersioned(t *testing.T) {
	a, err := Parse("=dev-lang/rust-1.75.0-r1")
	if err != nil {
		t.Fatal(err)
	}
	if a.Operator != OpEqual || a.Category != "dev-lang" || a.Name != "rust" || a.Version != "1.75.0-r1" {
		t.Errorf("got %+v", a)
	}
}

func TestParseSlotAndRepo(t *testing.T) {
	a, err := Parse("dev-lang/rust:1/2=::gentoo")
	if err != nil {
		t.Fatal(err)
	}
	if a.Slot != "1" || a.SubSlot != "2" || a.SlotOp != SlotOpSubslotRebuild || a.Repo != "gentoo" {
		t.Errorf("got %+v", a)
	}
}

func TestParseUseConstraints(t *testing.T) {
	a, err := Parse("dev-lang/rust[flag1,-flag2,flag3?,!flag4?,flag5=,!flag6=,flag7(+),flag8(-)]")
	if err != nil {
		t.Fatal(err)
	}
	want := []UseConstraint{
		{"flag1", UseRequired},
		{"flag2", UseForbidden},
		{"flag3", UseRequiredIf},
		{"flag4", UseRequiredIfNot},
		{"flag5", UseEquivalence},
		{"flag6", UseEquivalenceNot},
		{"flag7", UseDefaultMissingEnabled},
		{"flag8", UseDefaultMissingDisabled},
	}
	if len(a.UseConstraints) != len(want) {
		t.Fatalf("got %+v", a.UseConstraints)
	}
	for i, w := range want {
		if a.UseConstraints[i] != w {
			t.Errorf("constraint %d: got %+v, want %+v", i, a.UseConstraints[i], w)
		}
	}
}

func TestParseBlockers(t *testing.T) {
	a, err := Parse("!!dev-lang/rust")
	if err != nil {
		t.Fatal(err)
	}
	if a.Blocker != BlockerStrong {
		t.Errorf("got %+v", a)
	}
	a, err = Parse("!dev-lang/rust")
	if err != nil {
		t.Fatal(err)
	}
	if a.Blocker != BlockerWeak {
		t.Errorf("got %+v", a)
	}
}

func TestMatches(t *testing.T) {
	a, _ := Parse("=dev-lang/rust-1.0.0")
	if !a.Matches(Candidate{Category: "dev-lang", Name: "rust", Version: "1.0.0"}) {
		t.Errorf("expected exact match")
	}
	if a.Matches(Candidate{Category: "dev-lang", Name: "rust", Version: "1.1.0"}) {
		t.Errorf("expected no match on different version")
	}
	if a.Matches(Candidate{Category: "dev-lang", Name: "python", Version: "1.0.0"}) {
		t.Errorf("expected no match on different package")
	}
}

func TestMatchesWildcard(t *testing.T) {
	a, err := Parse("=dev-lang/rust-1.2*")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Matches(Candidate{Category: "dev-lang", Name: "rust", Version: "1.2.5"}) {
		t.Errorf("expected wildcard prefix match")
	}
	if a.Matches(Candidate{Category: "dev-lang", Name: "rust", Version: "1.3.0"}) {
		t.Errorf("expected wildcard mismatch")
	}
}

func TestMatchesSlot(t *testing.T) {
	a, _ := Parse("dev-lang/rust:2")
	if a.Matches(Candidate{Category: "dev-lang", Name: "rust", Version: "1.0", Slot: "1"}) {
		t.Errorf("expected slot mismatch to fail")
	}
	if !a.Matches(Candidate{Category: "dev-lang", Name: "rust", Version: "1.0", Slot: "2"}) {
		t.Errorf("expected slot match to succeed")
	}
}

func TestMatchesTildeOperator(t *testing.T) {
	a, _ := Parse("~dev-lang/rust-1.0.0")
	if !a.Matches(Candidate{Category: "dev-lang", Name: "rust", Version: "1.0.0-r5"}) {
		t.Errorf("expected ~ to match any revision")
	}
	if a.Matches(Candidate{Category: "dev-lang", Name: "rust", Version: "1.0.1"}) {
		t.Errorf("expected ~ to reject different base version")
	}
}

func TestInvalidAtoms(t *testing.T) {
	for _, s := range []string{"", "no-slash", "=cat/name-notaversion", "cat/name["} {
		if _, err := Parse(s); err == nil {
			t.Errorf("expected error for %q", s)
		}
	}
}

// TestMatchesMonotonicity covers the property that:
// if atom1's operator admits every version atom2 admits (same key), every
// PID matching atom2 also matches atom1. Here atom1 = ">=pkg-1.0" is a
// weaker constraint than atom2 = "=pkg-1.5", so pkg-1.5 matching atom2
// must also match atom1.
func TestMatchesMonotonicity(t *testing.T) {
	weak, _ := Parse(">=dev-lang/rust-1.0")
	strong, _ := Parse("=dev-lang/rust-1.5")
	c := Candidate{Category: "dev-lang", Name: "rust", Version: "1.5"}
	if !strong.Matches(c) {
		t.Fatal("expected strong atom to match")
	}
	if !weak.Matches(c) {
		t.Errorf("expected weaker atom to also match")
	}
}
