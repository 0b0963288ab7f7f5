// Package mask implements MaskEvaluator: deciding whether a candidate
// package is forbidden given the merged mask/unmask sets and keyword
// acceptance rules.
package mask

import (
	"strings"

	"github.com/gentoo-go/emerge/internal/atom"
	"github.com/gentoo-go/emerge/internal/errkind"
)

// Candidate is the minimal view of a package MaskEvaluator needs.
type Candidate struct {
	Category string
	Name     string
	Version  string
	Slot     string
	Keywords []string // as declared by the recipe, e.g. "amd64", "~arm64"
}

func (c Candidate) asMatchCandidate() atom.Candidate {
	return atom.Candidate{Category: c.Category, Name: c.Name, Version: c.Version, Slot: c.Slot}
}

// Evaluator holds the merged configuration state MaskEvaluator consults.
type Evaluator struct {
	Masks            []atom.Atom
	Unmasks          []atom.Atom
	AcceptedKeywords map[string]bool    // global ACCEPT_KEYWORDS tokens, e.g. "amd64", "~amd64"
	PackageKeywords  map[string][]string // atom string -> extra accepted keyword tokens for that atom
}

// NewEvaluator parses the raw mask/unmask atom strings and builds the
// evaluator; parse failures propagate as InvalidAtom.
func NewEvaluator(maskRaw, unmaskRaw []string, acceptedKeywords []string, packageKeywords map[string][]string) (*Evaluator, error) {
	e := &Evaluator{
		AcceptedKeywords: map[string]bool{},
		PackageKeywords:  packageKeywords,
	}
	for _, s := range maskRaw {
		a, err := atom.Parse(s)
		if err != nil {
			return nil, err
		}
		e.Masks = append(e.Masks, a)
	}
	for _, s := range unmaskRaw {
		a, err := atom.Parse(s)
		if err != nil {
			return nil, err
		}
		e.Unmasks = append(e.Unmasks, a)
	}
	for _, kw := range acceptedKeywords {
		e.AcceptedKeywords[kw] = true
	}
	return e, nil
}

// Reason names which rule produced a mask decision, for diagnostics.
type Reason int

const (
	NotMasked Reason = iota
	MaskedByPackageMask
	MaskedByKeyword
	MaskedByPackageKeywordRule
)

// Evaluate decides whether c is masked, per the three mask rules
// and the unmask override.
func (e *Evaluator) Evaluate(c Candidate, matchingAtom string) (bool, Reason, error) {
	mc := c.asMatchCandidate()

	maskMatched := false
	for _, m := range e.Masks {
		if m.Matches(mc) {
			maskMatched = true
			break
		}
	}
	if maskMatched {
		unmasked := false
		for _, u := range e.Unmasks {
			if u.Matches(mc) {
				unmasked = true
				break
			}
		}
		if !unmasked {
			return true, MaskedByPackageMask, nil
		}
	}

	extra := e.PackageKeywords[matchingAtom]
	if len(extra) > 0 {
		if !anyKeywordAccepted(c.Keywords, e.AcceptedKeywords, extra) {
			return true, MaskedByPackageKeywordRule, nil
		}
		return false, NotMasked, nil
	}

	if !anyKeywordAccepted(c.Keywords, e.AcceptedKeywords, nil) {
		return true, MaskedByKeyword, nil
	}

	return false, NotMasked, nil
}

// anyKeywordAccepted implements the keyword acceptance rule:
// stable acceptance of KW does not imply acceptance of ~KW, and vice
// versa; each token must be explicitly present in the accepted set
// (global or, when non-empty, the per-package override list).
func anyKeywordAccepted(declared []string, global map[string]bool, packageOverride []string) bool {
	accept := func(kw string) bool {
		if global != nil && global[kw] {
			return true
		}
		for _, o := range packageOverride {
			if o == kw {
				return true
			}
		}
		return false
	}
	for _, kw := range declared {
		if accept(kw) {
			return true
		}
	}
	return false
}

// CheckOrError is a convenience wrapper returning MaskedPackage /
// KeywordMasked errors directly, for callers that want the
// typed-error surface rather than the (bool, Reason) pair.
func (e *Evaluator) CheckOrError(c Candidate, matchingAtom string) error {
	pid := c.Category + "/" + c.Name + "-" + c.Version
	masked, reason, err := e.Evaluate(c, matchingAtom)
	if err != nil {
		return err
	}
	if !masked {
		return nil
	}
	switch reason {
	case MaskedByPackageMask:
		return &errkind.MaskedPackage{PID: pid, Reason: "matched package.mask with no unmask override"}
	case MaskedByKeyword, MaskedByPackageKeywordRule:
		return &errkind.KeywordMasked{PID: pid, Keywords: c.Keywords}
	default:
		return nil
	}
}

// StableKeyword reports whether kw is a stable (non "~"-prefixed) keyword
// token.
func StableKeyword(kw string) bool { return !strings.HasPrefix(kw, "~") }
