package version

import "testing"

func TestCompareBasic(t *testing.T) {
	cases := []struct {
		a, b string
		want Ordering
	}{
		{"1.0.0", "1.0.0", Equal},
		{"1.0.0", "1.0.1", Less},
		{"1.0.1", "1.0.0", Greater},
		{"1.0", "1.0.0", Less},
		{"1.2", "1.10", Less},
		{"1.0_alpha1", "1.0", Less},
		{"1.0_beta", "1.0_alpha", Greater},
		{"1.0_pre", "1.0_beta", Greater},
		{"1.0_rc1", "1.0_pre1", Greater},
		{"1.0_p1", "1.0_rc1", Greater},
		{"1.0", "1.0_p1", Less},
		{"1.0a", "1.0", Greater},
		{"1.0-r1", "1.0", Greater},
		{"1.0-r1", "1.0-r2", Less},
		{"1.0_alpha", "1.0_alpha1", Less}, // a suffix without digits compares as 0
	}
	for _, c := range cases {
		if got := Compare(c.a, c.b); got != c.want {
			t.Errorf("Compare(%q,%q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestCompareAntisymmetric(t *testing.T) {
	vers := []string{"1.0.0", "1.0.1", "1.0", "2.0_pre3", "1.0a", "1.0-r4", "0.01", "0.1"}
	for _, a := range vers {
		for _, b := range vers {
			ab := Compare(a, b)
			ba := Compare(b, a)
			if ab == Equal && ba != Equal {
				t.Errorf("antisymmetry broken for %s,%s", a, b)
			}
			if ab == Less && ba != Greater {
				t.Errorf("antisymmetry broken for %s,%s: %v vs %v", a, b, ab, ba)
			}
		}
	}
}

func TestLeadingZeroLexical(t *testing.T) {
	// "01" vs "1" carry a leading zero on the left -> lexical compare path,
	// but equal-value padded strings still compare equal.
	if Compare("1.01", "1.1") != Equal {
		t.Errorf("expected 1.01 == 1.1 under padded comparison")
	}
	if Compare("1.010", "1.01") != Greater {
		t.Errorf("expected 1.010 > 1.01")
	}
}

func TestIncomparable(t *testing.T) {
	if Compare("not-a-version", "1.0") != Incomparable {
		t.Errorf("expected Incomparable for invalid input")
	}
}

func TestSplitJoinRoundTrip(t *testing.T) {
	ids := []string{
		"dev-lang/rust-1.75.0",
		"dev-lang/rust-1.75.0-r1",
		"sys-libs/glibc-2.38",
		"app-misc/foo-bar-1.2.3",
		"net-misc/curl-8.4.0_p1",
	}
	for _, raw := range ids {
		pid, err := SplitPID(raw)
		if err != nil {
			t.Fatalf("SplitPID(%q): %v", raw, err)
		}
		if got := JoinPID(pid); got != raw {
			t.Errorf("round trip mismatch: SplitPID/JoinPID(%q) = %q", raw, got)
		}
	}
}

func TestSplitPIDInvalid(t *testing.T) {
	for _, raw := range []string{"", "noslash-nofoo", "cat/", "cat/name-notaversion"} {
		if _, err := SplitPID(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestMatchesTilde(t *testing.T) {
	if !MatchesTilde("1.2.3-r5", "1.2.3") {
		t.Errorf("expected tilde match regardless of revision")
	}
	if MatchesTilde("1.2.4", "1.2.3") {
		t.Errorf("expected tilde mismatch on differing base")
	}
}
