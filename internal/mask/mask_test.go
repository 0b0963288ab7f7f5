package mask

import "testing"

func TestMaskedByPackageMask(t *testing.T) {
	e, err := NewEvaluator([]string{">=dev-lang/rust-2.0"}, nil, []string{"amd64"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	c := Candidate{Category: "dev-lang", Name: "rust", Version: "2.5.0", Keywords: []string{"amd64"}}
	masked, reason, err := e.Evaluate(c, "dev-lang/rust")
	if err != nil {
		t.Fatal(err)
	}
	if !masked || reason != MaskedByPackageMask {
		t.Errorf("got masked=%v reason=%v", masked, reason)
	}
}

func TestUnmaskOverridesMask(t *testing.T) {
	e, err := NewEvaluator([]string{">=dev-lang/rust-2.0"}, []string{"=dev-lang/rust-2.5.0"}, []string{"amd64"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	c := Candidate{Category: "dev-lang", Name: "rust", Version: "2.5.0", Keywords: []string{"amd64"}}
	masked, _, err := e.Evaluate(c, "dev-lang/rust")
	if err != nil {
		t.Fatal(err)
	}
	if masked {
		t.Error("expected unmask to clear package.mask")
	}
}

func TestKeywordMaskedUnstableNotImpliedByStable(t *testing.T) {
	e, err := NewEvaluator(nil, nil, []string{"amd64"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	c := Candidate{Category: "dev-lang", Name: "rust", Version: "1.0", Keywords: []string{"~amd64"}}
	masked, reason, err := e.Evaluate(c, "dev-lang/rust")
	if err != nil {
		t.Fatal(err)
	}
	if !masked || reason != MaskedByKeyword {
		t.Errorf("expected keyword-masked since stable acceptance does not imply unstable, got masked=%v reason=%v", masked, reason)
	}
}

func TestPackageKeywordOverrideExtendsAcceptance(t *testing.T) {
	e, err := NewEvaluator(nil, nil, []string{"amd64"}, map[string][]string{
		"dev-lang/rust": {"~amd64"},
	})
	if err != nil {
		t.Fatal(err)
	}
	c := Candidate{Category: "dev-lang", Name: "rust", Version: "1.0", Keywords: []string{"~amd64"}}
	masked, _, err := e.Evaluate(c, "dev-lang/rust")
	if err != nil {
		t.Fatal(err)
	}
	if masked {
		t.Error("expected package.keywords override to accept ~amd64")
	}
}

func TestCheckOrErrorReturnsTypedErrors(t *testing.T) {
	e, err := NewEvaluator([]string{"dev-lang/rust"}, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	c := Candidate{Category: "dev-lang", Name: "rust", Version: "1.0", Keywords: []string{"amd64"}}
	if err := e.CheckOrError(c, "dev-lang/rust"); err == nil {
		t.Fatal("expected MaskedPackage error")
	}
}
