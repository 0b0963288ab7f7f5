// Package recipe implements RecipeParser: extracting structured metadata
// from a build-recipe file's header assignments. The
// full shell evaluator PhaseEngine uses for phase bodies
// is out of scope here; this package only line-scans variable assignments.
package recipe

import (
	"bufio"
	"os"
	"strings"

	"github.com/gentoo-go/emerge/internal/depstring"
	"github.com/gentoo-go/emerge/internal/version"
)

// Metadata is a recipe's parsed header. It is serializable (used by
// repoindex's metadata cache), so every field is an exported plain value.
type Metadata struct {
	Category    string
	Name        string
	Version     string
	Description string
	Homepage    string
	SrcURI      string
	License     string
	Slot        string
	Keywords    []string
	IUSE        []string // flag names; a leading "+" marks default-enabled
	Depend      string
	RDepend     string
	PDepend     string
	BDepend     string
	Inherits    []string
}

// Parse reads recipePath and line-scans recognized header assignments. The
// PID (category/name/version) is supplied by the caller since it is
// derived from the file's location and name, not its contents.
func Parse(recipePath, category, name, ver string) (Metadata, error) {
	f, err := os.Open(recipePath)
	if err != nil {
		return Metadata{}, err
	}
	defer f.Close()

	m := Metadata{Category: category, Name: name, Version: ver}

	sc := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 1024*1024)

	var pendingVar, pendingValue string
	var collecting bool

	flush := func() {
		if pendingVar == "" {
			return
		}
		assign(&m, pendingVar, pendingValue)
		pendingVar = ""
		pendingValue = ""
	}

	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		if collecting {
			pendingValue += "\n" + line
			if strings.Contains(line, ")") || strings.Contains(line, `"`) {
				if closesAssignment(pendingValue) {
					collecting = false
					flush()
				}
			}
			continue
		}

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if strings.HasPrefix(trimmed, "inherit ") {
			m.Inherits = append(m.Inherits, strings.Fields(strings.TrimPrefix(trimmed, "inherit "))...)
			continue
		}

		key, val, ok := splitAssignment(trimmed)
		if !ok {
			continue
		}

		if !closesAssignment(val) {
			pendingVar = key
			pendingValue = val
			collecting = true
			continue
		}
		assign(&m, key, stripQuotesAndParens(val))
	}
	if err := sc.Err(); err != nil {
		return Metadata{}, err
	}
	flush()
	return m, nil
}

// splitAssignment recognizes "KEY=value", "KEY=\"value\"" at the start of
// a line (ignoring leading "export ").
func splitAssignment(line string) (key, val string, ok bool) {
	line = strings.TrimPrefix(line, "export ")
	eq := strings.IndexByte(line, '=')
	if eq < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:eq])
	if key == "" || !isUpperIdent(key) {
		return "", "", false
	}
	return key, line[eq+1:], true
}

func isUpperIdent(s string) bool {
	for _, r := range s {
		if !((r >= 'A' && r <= 'Z') || r == '_' || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// closesAssignment reports whether val already contains a balanced
// quoted string or parenthesized list on one line.
func closesAssignment(val string) bool {
	val = strings.TrimSpace(val)
	if strings.HasPrefix(val, `"`) {
		return strings.Count(val, `"`) >= 2
	}
	if strings.HasPrefix(val, "(") {
		return strings.Count(val, "(") <= strings.Count(val, ")")
	}
	return true
}

func stripQuotesAndParens(val string) string {
	val = strings.TrimSpace(val)
	val = strings.Trim(val, `"`)
	val = strings.TrimPrefix(val, "(")
	val = strings.TrimSuffix(val, ")")
	return strings.TrimSpace(val)
}

func assign(m *Metadata, key, val string) {
	switch key {
	case "DESCRIPTION":
		m.Description = val
	case "HOMEPAGE":
		m.Homepage = val
	case "SRC_URI":
		m.SrcURI = val
	case "LICENSE":
		m.License = val
	case "SLOT":
		m.Slot = val
	case "KEYWORDS":
		m.Keywords = strings.Fields(val)
	case "IUSE":
		m.IUSE = strings.Fields(val)
	case "DEPEND":
		m.Depend = val
	case "RDEPEND":
		m.RDepend = val
	case "PDEPEND":
		m.PDepend = val
	case "BDEPEND":
		m.BDepend = val
	}
}

// ParseDependClass hands a dependency-class string field off to
// DependencyParser with the supplied USE environment.
func ParseDependClass(raw string, useFlags map[string]bool) (depstring.Result, error) {
	return depstring.Parse(raw, useFlags)
}

// BaseVersion returns the recipe's version with any revision suffix
// dropped, useful for BuildSystemDetector and phase environments.
func (m Metadata) BaseVersion() string {
	v, err := version.Parse(m.Version)
	if err != nil {
		return m.Version
	}
	return v.BaseString()
}
