// Package atom implements AtomEngine: parsing dependency atoms and
// deciding whether an atom matches a concrete package identifier, per
// an atom and its matching rule against a candidate package.
package atom

import (
	"strings"

	"github.com/gentoo-go/emerge/internal/errkind"
	"github.com/gentoo-go/emerge/internal/version"
)

// Operator is the version-comparison operator an atom may carry.
type Operator int

const (
	OpNone Operator = iota
	OpEqual
	OpGreater
	OpGreaterEqual
	OpLess
	OpLessEqual
	OpTilde      // ~: matches any revision of the stated base version
	OpTildeGreat // ~>: matched as >= the stated version, with no upper bound
)

func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpGreater:
		return ">"
	case OpGreaterEqual:
		return ">="
	case OpLess:
		return "<"
	case OpLessEqual:
		return "<="
	case OpTilde:
		return "~"
	case OpTildeGreat:
		return "~>"
	default:
		return ""
	}
}

// Blocker is the blocker strength an atom may carry.
type Blocker int

const (
	BlockerNone Blocker = iota
	BlockerWeak
	BlockerStrong
)

// SlotOp is the slot operator suffix, which influences rebuild decisions
// in DepGraph but never visibility matching.
type SlotOp int

const (
	SlotOpNone SlotOp = iota
	SlotOpRebuildOnChange // :=
	SlotOpAny             // :*
	SlotOpSubslotRebuild  // /=
)

// UseConstraintKind classifies a USE-flag predicate carried by an atom.
type UseConstraintKind int

const (
	UseRequired UseConstraintKind = iota
	UseForbidden
	UseRequiredIf             // flag?
	UseRequiredIfNot          // !flag?
	UseEquivalence            // flag=
	UseEquivalenceNot         // !flag=
	UseDefaultMissingEnabled  // flag(+)
	UseDefaultMissingDisabled // flag(-)
)

// UseConstraint is a single USE-flag predicate from an atom's [..] suffix.
type UseConstraint struct {
	Flag string
	Kind UseConstraintKind
}

// Atom is a fully parsed dependency atom.
type Atom struct {
	Blocker    Blocker
	Operator   Operator
	Category   string
	Name       string
	Version    string // raw version literal; "" when Operator == OpNone
	Wildcard   bool   // true when Operator == OpEqual and the literal ended in "*"
	Slot       string // "" if unconstrained
	SubSlot    string
	SlotOp     SlotOp
	Repo       string
	UseConstraints []UseConstraint
	Raw        string
}

// Key returns "category/name".
func (a Atom) Key() string { return a.Category + "/" + a.Name }

var opPrefixes = []struct {
	s  string
	op Operator
}{
	{"~>", OpTildeGreat},
	{">=", OpGreaterEqual},
	{"<=", OpLessEqual},
	{">", OpGreater},
	{"<", OpLess},
	{"~", OpTilde},
	{"=", OpEqual},
}

// Parse parses a dependency atom string into its structured form.
func Parse(raw string) (Atom, error) {
	s := raw
	a := Atom{Raw: raw}

	if strings.HasPrefix(s, "!!") {
		a.Blocker = BlockerStrong
		s = s[2:]
	} else if strings.HasPrefix(s, "!") {
		a.Blocker = BlockerWeak
		s = s[1:]
	}

	for _, p := range opPrefixes {
		if strings.HasPrefix(s, p.s) {
			a.Operator = p.op
			s = s[len(p.s):]
			break
		}
	}

	// Split off USE constraints "[...]" from the end, if present.
	if i := strings.IndexByte(s, '['); i >= 0 {
		if !strings.HasSuffix(s, "]") {
			return Atom{}, &errkind.InvalidAtom{Atom: raw, Reason: "unterminated USE constraint list"}
		}
		useBody := s[i+1 : len(s)-1]
		s = s[:i]
		constraints, err := parseUseConstraints(useBody)
		if err != nil {
			return Atom{}, &errkind.InvalidAtom{Atom: raw, Reason: err.Error()}
		}
		a.UseConstraints = constraints
	}

	// Split off "::repo" from the end.
	if i := strings.Index(s, "::"); i >= 0 {
		a.Repo = s[i+2:]
		s = s[:i]
		if a.Repo == "" {
			return Atom{}, &errkind.InvalidAtom{Atom: raw, Reason: "empty repository qualifier"}
		}
	}

	// Split off ":slot[/subslot][=|*]" from the end.
	if i := strings.IndexByte(s, ':'); i >= 0 {
		slotPart := s[i+1:]
		s = s[:i]
		if slotPart == "*" {
			a.SlotOp = SlotOpAny
		} else {
			if strings.HasSuffix(slotPart, "=") {
				a.SlotOp = SlotOpRebuildOnChange
				slotPart = slotPart[:len(slotPart)-1]
			}
			if j := strings.IndexByte(slotPart, '/'); j >= 0 {
				a.Slot = slotPart[:j]
				a.SubSlot = slotPart[j+1:]
				if a.SlotOp == SlotOpRebuildOnChange {
					a.SlotOp = SlotOpSubslotRebuild
				}
			} else {
				a.Slot = slotPart
			}
			if a.Slot == "" {
				return Atom{}, &errkind.InvalidAtom{Atom: raw, Reason: "empty slot"}
			}
		}
	}

	catName := s
	if a.Operator != OpNone {
		// catName is actually "category/name-version[-rRev]"; use
		// VersionAlgebra's PID splitter to separate the trailing version.
		verLit := catName
		wildcard := false
		if strings.HasSuffix(verLit, "*") {
			wildcard = true
			verLit = verLit[:len(verLit)-1]
		}
		pid, err := version.SplitPID(verLit)
		if err != nil {
			return Atom{}, &errkind.InvalidAtom{Atom: raw, Reason: "bad category/name-version: " + err.Error()}
		}
		a.Category = pid.Category
		a.Name = pid.Name
		a.Version = pid.Ver.String()
		a.Wildcard = wildcard
		if wildcard && a.Operator != OpEqual {
			return Atom{}, &errkind.InvalidAtom{Atom: raw, Reason: "wildcard version requires = operator"}
		}
	} else {
		parts := strings.SplitN(catName, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return Atom{}, &errkind.InvalidAtom{Atom: raw, Reason: "atom must contain category/name"}
		}
		a.Category = parts[0]
		a.Name = parts[1]
	}

	return a, nil
}

func parseUseConstraints(body string) ([]UseConstraint, error) {
	if body == "" {
		return nil, nil
	}
	var out []UseConstraint
	for _, tok := range strings.Split(body, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		neg := false
		if strings.HasPrefix(tok, "!") {
			neg = true
			tok = tok[1:]
		}
		kind := UseRequired
		if strings.HasSuffix(tok, "(+)") {
			kind = UseDefaultMissingEnabled
			tok = tok[:len(tok)-3]
		} else if strings.HasSuffix(tok, "(-)") {
			kind = UseDefaultMissingDisabled
			tok = tok[:len(tok)-3]
		} else if strings.HasSuffix(tok, "?") {
			tok = tok[:len(tok)-1]
			if neg {
				kind = UseRequiredIfNot
			} else {
				kind = UseRequiredIf
			}
		} else if strings.HasSuffix(tok, "=") {
			tok = tok[:len(tok)-1]
			if neg {
				kind = UseEquivalenceNot
			} else {
				kind = UseEquivalence
			}
		} else if strings.HasPrefix(tok, "-") {
			kind = UseForbidden
			tok = tok[1:]
		} else if neg {
			// bare "!flag" with no trailing modifier isn't meaningful;
			// treat as forbidden for symmetry with "-flag".
			kind = UseForbidden
		}
		if tok == "" {
			return nil, &errkind.InvalidAtom{Atom: body, Reason: "empty USE flag name"}
		}
		out = append(out, UseConstraint{Flag: tok, Kind: kind})
	}
	return out, nil
}

// Candidate is the minimal view of a concrete package Matches needs.
type Candidate struct {
	Category string
	Name     string
	Version  string
	Slot     string
	SubSlot  string
}

// Matches implements the matching rule: key equality is
// required; with no operator any version matches; otherwise the operator
// is applied to the versions. SLOT/sub-SLOT constraints, when present,
// must equal the candidate's declared values. Slot operators never affect
// matching. USE constraints never affect visibility matching (they affect
// satisfaction once a candidate is chosen — see DependencyParser/DepGraph).
func (a Atom) Matches(c Candidate) bool {
	if a.Category != c.Category || a.Name != c.Name {
		return false
	}
	if a.Slot != "" && a.Slot != c.Slot {
		return false
	}
	if a.SubSlot != "" && a.SubSlot != c.SubSlot {
		return false
	}
	if a.Operator == OpNone {
		return true
	}
	if a.Wildcard {
		return strings.HasPrefix(c.Version, a.Version)
	}
	switch a.Operator {
	case OpEqual:
		return version.Compare(c.Version, a.Version) == version.Equal
	case OpGreater:
		return version.Compare(c.Version, a.Version) == version.Greater
	case OpGreaterEqual:
		cmp := version.Compare(c.Version, a.Version)
		return cmp == version.Greater || cmp == version.Equal
	case OpLess:
		return version.Compare(c.Version, a.Version) == version.Less
	case OpLessEqual:
		cmp := version.Compare(c.Version, a.Version)
		return cmp == version.Less || cmp == version.Equal
	case OpTilde:
		return version.MatchesTilde(c.Version, a.Version)
	case OpTildeGreat:
		cmp := version.Compare(c.Version, a.Version)
		return cmp == version.Greater || cmp == version.Equal
	default:
		return false
	}
}
