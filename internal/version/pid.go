package version

import (
	"fmt"
	"strings"

	"github.com/gentoo-go/emerge/internal/errkind"
)

// PID is a parsed PackageIdentifier: (category, name, version, revision).
// String form is "category/name-version[-rRev]"; "category/name" alone is
// the package's Key.
type PID struct {
	Category string
	Name     string
	Ver      Version
}

// Key returns "category/name".
func (p PID) Key() string { return p.Category + "/" + p.Name }

// String renders the canonical "category/name-version[-rRev]" form.
func (p PID) String() string {
	return fmt.Sprintf("%s/%s-%s", p.Category, p.Name, p.Ver.String())
}

var catCharset = charClass("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789+_.-")
var nameCharset = charClass("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789+_-")

func charClass(allowed string) map[byte]bool {
	m := make(map[byte]bool, len(allowed))
	for i := 0; i < len(allowed); i++ {
		m[allowed[i]] = true
	}
	return m
}

func validRun(s string, allowed map[byte]bool) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !allowed[s[i]] {
			return false
		}
	}
	return true
}

// SplitPID parses "category/name-version[-rRev]" into its PID tuple.
// Fails with *errkind.InvalidPackageId when any component violates its
// character class or no valid name/version split exists.
//
// The name/version boundary is ambiguous in general (names may contain
// digits and dashes); this picks the leftmost split point — scanning
// dash positions left to right — whose remainder parses as a full
// version, matching the non-greedy PN_RE grammar used by
// the reference implementation's catpkgsplit/pkgsplit.
func SplitPID(raw string) (PID, error) {
	cat := ""
	rest := raw
	if i := strings.IndexByte(raw, '/'); i >= 0 {
		cat = raw[:i]
		rest = raw[i+1:]
		if !validRun(cat, catCharset) {
			return PID{}, &errkind.InvalidPackageId{Raw: raw, Reason: "invalid category " + cat}
		}
	}
	if rest == "" {
		return PID{}, &errkind.InvalidPackageId{Raw: raw, Reason: "missing name-version"}
	}

	name, verStr, ok := splitNameVersion(rest)
	if !ok {
		return PID{}, &errkind.InvalidPackageId{Raw: raw, Reason: "could not split name and version in " + rest}
	}
	if !validRun(name, nameCharset) {
		return PID{}, &errkind.InvalidPackageId{Raw: raw, Reason: "invalid name " + name}
	}
	ver, err := Parse(verStr)
	if err != nil {
		return PID{}, &errkind.InvalidPackageId{Raw: raw, Reason: err.Error()}
	}

	return PID{Category: cat, Name: name, Ver: ver}, nil
}

// splitNameVersion finds the leftmost dash such that everything after it
// parses as a version string.
func splitNameVersion(s string) (name, ver string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] != '-' {
			continue
		}
		candName := s[:i]
		candVer := s[i+1:]
		if candName == "" || candVer == "" {
			continue
		}
		if _, err := Parse(candVer); err == nil {
			return candName, candVer, true
		}
	}
	return "", "", false
}

// JoinPID renders a PID tuple back to its canonical string form. Together
// with SplitPID this satisfies the parse round-trip property of
// JoinPID(SplitPID(s)) == s for canonical s.
func JoinPID(p PID) string {
	return p.String()
}
