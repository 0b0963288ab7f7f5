// Package depstring implements DependencyParser: tokenizing a
// dependency-class string into a flat atom list and a parallel blocker
// list, handling USE-conditional groups, any-of groups, and blockers, per
// conditional USE-flag groups.
package depstring

import (
	"strings"

	"github.com/gentoo-go/emerge/internal/atom"
	"github.com/gentoo-go/emerge/internal/errkind"
)

// wellKnownOptionalFlags are skipped at parse time by default, per
// well-known optional flags such as the test flag.
var wellKnownOptionalFlags = map[string]bool{
	"test": true,
}

// Node is one parsed dependency edge: an atom plus the USE-conditional
// chain of flags that gated its inclusion (outermost first), empty when
// unconditional.
type Node struct {
	Atom        atom.Atom
	Conditional []string
}

// Result is DependencyParser's output: the flat atom list plus blockers
// split out, and any-of groups recorded separately since they resolve
// against candidate satisfaction rather than simple inclusion.
type Result struct {
	Atoms    []Node
	Blockers []Node
	AnyOf    [][]Node // each inner slice is one "|| ( ... )" group's alternatives
}

type tokenizer struct {
	tokens []string
	pos    int
}

func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch r {
		case '(', ')':
			flush()
			tokens = append(tokens, string(r))
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// Parse parses a dependency-class string, evaluating flag? ( ... ) groups
// against useFlags (the effective USE set) and dropping well-known
// optional flags' groups unconditionally.
func Parse(raw string, useFlags map[string]bool) (Result, error) {
	t := &tokenizer{tokens: tokenize(raw)}
	var res Result
	if err := t.parseGroup(nil, useFlags, &res); err != nil {
		return Result{}, err
	}
	if t.pos != len(t.tokens) {
		return Result{}, &errkind.InvalidAtom{Atom: raw, Reason: "unbalanced parentheses in dependency string"}
	}
	return res, nil
}

func (t *tokenizer) peek() (string, bool) {
	if t.pos >= len(t.tokens) {
		return "", false
	}
	return t.tokens[t.pos], true
}

// parseGroup consumes tokens until a matching ")" or EOF, appending
// resolved atoms/blockers into res. cond is the chain of enclosing
// USE-conditional flag names, outermost first.
func (t *tokenizer) parseGroup(cond []string, useFlags map[string]bool, res *Result) error {
	for {
		tok, ok := t.peek()
		if !ok {
			return nil
		}
		if tok == ")" {
			return nil
		}
		t.pos++

		switch {
		case tok == "(":
			if err := t.parseGroup(cond, useFlags, res); err != nil {
				return err
			}
			if _, ok := t.peek(); !ok {
				return &errkind.InvalidAtom{Atom: tok, Reason: "unterminated group"}
			}
			t.pos++ // consume ")"

		case tok == "||":
			open, ok := t.peek()
			if !ok || open != "(" {
				return &errkind.InvalidAtom{Atom: tok, Reason: "|| must be followed by ( ... )"}
			}
			t.pos++
			var alt Result
			if err := t.parseGroup(cond, useFlags, &alt); err != nil {
				return err
			}
			if _, ok := t.peek(); !ok {
				return &errkind.InvalidAtom{Atom: tok, Reason: "unterminated || group"}
			}
			t.pos++
			res.AnyOf = append(res.AnyOf, alt.Atoms)

		case strings.HasSuffix(tok, "?"):
			flag := strings.TrimSuffix(tok, "?")
			neg := false
			if strings.HasPrefix(flag, "!") {
				neg = true
				flag = flag[1:]
			}
			open, ok := t.peek()
			if !ok || open != "(" {
				return &errkind.InvalidAtom{Atom: tok, Reason: "USE conditional must be followed by ( ... )"}
			}
			t.pos++

			skip := wellKnownOptionalFlags[flag]
			if !skip {
				enabled := useFlags[flag]
				if neg {
					enabled = !enabled
				}
				skip = !enabled
			}

			if skip {
				var discard Result
				if err := t.parseGroup(cond, useFlags, &discard); err != nil {
					return err
				}
			} else {
				if err := t.parseGroup(append(append([]string(nil), cond...), flag), useFlags, res); err != nil {
					return err
				}
			}
			if _, ok := t.peek(); !ok {
				return &errkind.InvalidAtom{Atom: tok, Reason: "unterminated USE conditional group"}
			}
			t.pos++

		default:
			node, blocker, err := parseAtomToken(tok, cond)
			if err != nil {
				return err
			}
			if blocker {
				res.Blockers = append(res.Blockers, node)
			} else {
				res.Atoms = append(res.Atoms, node)
			}
		}
	}
}

func parseAtomToken(tok string, cond []string) (Node, bool, error) {
	a, err := atom.Parse(tok)
	if err != nil {
		return Node{}, false, err
	}
	return Node{Atom: a, Conditional: cond}, a.Blocker != atom.BlockerNone, nil
}
