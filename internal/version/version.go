// Package version implements VersionAlgebra: parsing, comparing, and
// splitting/joining Gentoo-style version strings and package identifiers.
//
// Ported from the reference Python-derived algorithm (see
// the reference ververify/vercmp/catpkgsplit/pkgsplit algorithm),
// generalized to Gentoo's own version ordering rules. These
// are pure functions; none of them panic on malformed input.
package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gentoo-go/emerge/internal/errkind"
)

// SuffixKind is one of the five release-suffix kinds Gentoo versions
// recognize, ordered (from least to greatest) alpha < beta < pre < rc <
// (no suffix) < p.
type SuffixKind int

const (
	SuffixAlpha SuffixKind = iota
	SuffixBeta
	SuffixPre
	SuffixRC
	SuffixP
)

// suffixRank mirrors the reference SUFFIX_VALUE table. "No suffix" is
// modeled as an implicit SuffixP with Num -1 when padding shorter suffix
// lists (see compareSuffixes).
var suffixRank = map[SuffixKind]int{
	SuffixAlpha: -4,
	SuffixBeta:  -3,
	SuffixPre:   -2,
	SuffixRC:    -1,
	SuffixP:     0,
}

func (k SuffixKind) String() string {
	switch k {
	case SuffixAlpha:
		return "alpha"
	case SuffixBeta:
		return "beta"
	case SuffixPre:
		return "pre"
	case SuffixRC:
		return "rc"
	case SuffixP:
		return "p"
	default:
		return "?"
	}
}

func parseSuffixKind(s string) (SuffixKind, bool) {
	switch s {
	case "alpha":
		return SuffixAlpha, true
	case "beta":
		return SuffixBeta, true
	case "pre":
		return SuffixPre, true
	case "rc":
		return SuffixRC, true
	case "p":
		return SuffixP, true
	default:
		return 0, false
	}
}

// Suffix is one ordered (kind, number) release-suffix component, e.g.
// "_alpha3" => {SuffixAlpha, 3}. A Num of -1 means the suffix had no
// explicit digits (e.g. "_alpha" alone).
type Suffix struct {
	Kind SuffixKind
	Num  int
}

func (s Suffix) String() string {
	if s.Num < 0 {
		return "_" + s.Kind.String()
	}
	return fmt.Sprintf("_%s%d", s.Kind, s.Num)
}

// Version is a parsed Gentoo version: dotted numeric components (kept as
// raw strings so leading-zero comparisons can fall back to lexical
// ordering), an optional single trailing letter, an ordered list of
// release suffixes, and a revision (0 meaning "no revision").
type Version struct {
	Components []string
	Letter     byte // 0 if absent
	Suffixes   []Suffix
	Revision   int
}

// String renders the canonical form, e.g. "1.2.3b_pre2-r1". Revision 0 is
// omitted, per the invariant that r0 must not appear in a canonical
// identifier.
func (v Version) String() string {
	var b strings.Builder
	b.WriteString(strings.Join(v.Components, "."))
	if v.Letter != 0 {
		b.WriteByte(v.Letter)
	}
	for _, s := range v.Suffixes {
		b.WriteString(s.String())
	}
	if v.Revision > 0 {
		fmt.Fprintf(&b, "-r%d", v.Revision)
	}
	return b.String()
}

// BaseString renders the version without its revision, used by the `~`
// operator which matches any revision of a stated base version.
func (v Version) BaseString() string {
	v2 := v
	v2.Revision = 0
	return v2.String()
}

var suffixOrder = []string{"alpha", "beta", "pre", "rc", "p"}

func isSuffixWord(w string) bool {
	for _, s := range suffixOrder {
		if strings.HasPrefix(w, s) {
			return true
		}
	}
	return false
}

// Parse parses a raw Gentoo version string such as "1.2.3b_pre2-r1".
func Parse(raw string) (Version, error) {
	if raw == "" {
		return Version{}, &errkind.InvalidVersion{Version: raw, Reason: "empty version"}
	}

	s := raw
	rev := 0
	if i := strings.LastIndex(s, "-r"); i >= 0 {
		tail := s[i+2:]
		if tail != "" && isAllDigits(tail) {
			n, err := strconv.Atoi(tail)
			if err != nil {
				return Version{}, &errkind.InvalidVersion{Version: raw, Reason: "bad revision"}
			}
			rev = n
			s = s[:i]
		}
	}

	// Split off release suffixes, innermost (rightmost) first, each
	// introduced by '_'.
	var suffixes []Suffix
	for {
		i := strings.LastIndexByte(s, '_')
		if i < 0 {
			break
		}
		word := s[i+1:]
		if !isSuffixWord(word) {
			break
		}
		kindStr := word
		numStr := ""
		for _, k := range suffixOrder {
			if strings.HasPrefix(word, k) {
				kindStr = k
				numStr = word[len(k):]
				break
			}
		}
		if numStr != "" && !isAllDigits(numStr) {
			break
		}
		kind, ok := parseSuffixKind(kindStr)
		if !ok {
			break
		}
		num := -1
		if numStr != "" {
			n, err := strconv.Atoi(numStr)
			if err != nil {
				return Version{}, &errkind.InvalidVersion{Version: raw, Reason: "bad suffix number"}
			}
			num = n
		}
		suffixes = append([]Suffix{{Kind: kind, Num: num}}, suffixes...)
		s = s[:i]
	}

	// Optional single trailing letter.
	var letter byte
	if len(s) > 0 {
		last := s[len(s)-1]
		if last >= 'a' && last <= 'z' {
			// only a letter if what precedes is a digit (end of the
			// dotted numeric run), not itself a lone alpha version.
			if len(s) >= 2 && isDigit(s[len(s)-2]) {
				letter = last
				s = s[:len(s)-1]
			}
		}
	}

	if s == "" {
		return Version{}, &errkind.InvalidVersion{Version: raw, Reason: "missing numeric component"}
	}
	parts := strings.Split(s, ".")
	for _, p := range parts {
		if p == "" || !isAllDigits(p) {
			return Version{}, &errkind.InvalidVersion{Version: raw, Reason: "non-numeric component " + p}
		}
	}

	return Version{
		Components: parts,
		Letter:     letter,
		Suffixes:   suffixes,
		Revision:   rev,
	}, nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

// Ordering is the result of Compare.
type Ordering int

const (
	Less Ordering = iota - 1
	Equal
	Greater
	Incomparable
)

func (o Ordering) String() string {
	switch o {
	case Less:
		return "<"
	case Equal:
		return "="
	case Greater:
		return ">"
	default:
		return "incomparable"
	}
}

// Compare implements the full ordering rule: numeric
// (or lexical, on leading zero) dotted components, then trailing letter,
// then ordered release suffixes, then revision. Returns Incomparable only
// when either input fails to parse.
func Compare(a, b string) Ordering {
	va, erra := Parse(a)
	vb, errb := Parse(b)
	if erra != nil || errb != nil {
		return Incomparable
	}
	return va.Compare(vb)
}

// Compare orders two already-parsed versions.
func (v Version) Compare(o Version) Ordering {
	n := len(v.Components)
	if len(o.Components) > n {
		n = len(o.Components)
	}
	for i := 0; i < n; i++ {
		presentA := i < len(v.Components)
		presentB := i < len(o.Components)
		var c int
		switch {
		case presentA && presentB:
			c = compareComponent(v.Components[i], o.Components[i])
		case presentA:
			// o is missing this trailing component: treat as -1, per
			// the reference padding rule (a missing dotted part is -1,
			// not 0 — "1.0" < "1.0.0").
			c = compareInt(parseIntOrZero(v.Components[i]), -1)
		default:
			c = compareInt(-1, parseIntOrZero(o.Components[i]))
		}
		if c != 0 {
			return ordFromInt(c)
		}
	}

	// Trailing letter, compared as a byte value (0 when absent).
	if v.Letter != o.Letter {
		if v.Letter < o.Letter {
			return Less
		}
		return Greater
	}

	if c := compareSuffixes(v.Suffixes, o.Suffixes); c != 0 {
		return ordFromInt(c)
	}

	if v.Revision != o.Revision {
		if v.Revision < o.Revision {
			return Less
		}
		return Greater
	}
	return Equal
}

func ordFromInt(c int) Ordering {
	if c < 0 {
		return Less
	}
	return Greater
}

func parseIntOrZero(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareComponent implements the leading-zero rule: if either side has a
// leading zero, pad both to equal width and compare lexically; otherwise
// compare numerically. A missing component (empty string) compares as the
// numeric value 0 unless the other component has a leading zero, in which
// case it is treated as "0" padded to the same width.
// compareComponent compares two always-present dotted numeric components.
func compareComponent(a, b string) int {
	aHasZero := len(a) > 1 && a[0] == '0'
	bHasZero := len(b) > 1 && b[0] == '0'
	if aHasZero || bHasZero {
		width := len(a)
		if len(b) > width {
			width = len(b)
		}
		pa := strings.Repeat("0", width-len(a)) + a
		pb := strings.Repeat("0", width-len(b)) + b
		return strings.Compare(pa, pb)
	}
	na, _ := strconv.ParseInt(a, 10, 64)
	nb, _ := strconv.ParseInt(b, 10, 64)
	switch {
	case na < nb:
		return -1
	case na > nb:
		return 1
	default:
		return 0
	}
}

// compareSuffixes compares two ordered suffix lists position by position.
// A missing position on either side is treated as an implicit {SuffixP,
// -1} (i.e. equivalent in kind-rank to "p" but with the lowest possible
// number), matching the reference padding of ("p", "-1"). A suffix written
// without digits (Num -1) compares as number 0, so "_p" still orders above
// the padding.
func compareSuffixes(a, b []Suffix) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	implicit := Suffix{Kind: SuffixP, Num: -1}
	for i := 0; i < n; i++ {
		sa := implicit
		if i < len(a) {
			sa = a[i]
			if sa.Num < 0 {
				sa.Num = 0
			}
		}
		sb := implicit
		if i < len(b) {
			sb = b[i]
			if sb.Num < 0 {
				sb.Num = 0
			}
		}
		if sa.Kind != sb.Kind {
			ra, rb := suffixRank[sa.Kind], suffixRank[sb.Kind]
			if ra < rb {
				return -1
			}
			return 1
		}
		if sa.Num != sb.Num {
			if sa.Num < sb.Num {
				return -1
			}
			return 1
		}
	}
	return 0
}

// MatchesTilde reports whether candidate's base (version sans revision)
// equals the atom's stated base version, implementing the `~` operator.
func MatchesTilde(candidate, atomBase string) bool {
	vc, err := Parse(candidate)
	if err != nil {
		return false
	}
	va, err := Parse(atomBase)
	if err != nil {
		return false
	}
	return vc.BaseString() == va.BaseString()
}
