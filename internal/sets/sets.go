// Package sets implements SetResolver: expanding a set name (prefixed
// with "@") into a package atom list, covering the built-in world,
// system, selected, and profile sets plus user-defined sets, per
// grounded on the reference set-resolution semantics.
package sets

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/gentoo-go/emerge/internal/errkind"
)

// Resolver resolves "@name" set references against the live root and a
// map of user-defined sets (sourced from ConfigStack's sets.conf layer).
type Resolver struct {
	root     string
	userSets map[string][]string
	profiles []string // profile chain, deepest-parent first, current profile last
}

// NewResolver builds a Resolver rooted at root, with the profile chain in
// the same depth-first-then-current order ConfigStack produces, and the
// merged user-defined sets from sets.conf drop-ins.
func NewResolver(root string, profiles []string, userSets map[string][]string) *Resolver {
	return &Resolver{root: root, profiles: profiles, userSets: userSets}
}

// Resolve expands a set reference (with or without its leading "@") into
// an atom list.
func (r *Resolver) Resolve(name string) ([]string, error) {
	name = strings.TrimPrefix(name, "@")
	switch name {
	case "world":
		return r.worldPackages()
	case "system":
		return r.systemPackages()
	case "selected":
		return r.selectedPackages()
	case "profile":
		return r.profilePackages()
	default:
		if atoms, ok := r.userSets[name]; ok {
			return atoms, nil
		}
		return nil, &errkind.NoCandidate{Atom: "@" + name}
	}
}

func (r *Resolver) worldFile() string    { return filepath.Join(r.root, "var/lib/portage/world") }
func (r *Resolver) selectedFile() string { return filepath.Join(r.root, "var/lib/portage/selected") }

func (r *Resolver) worldPackages() ([]string, error) {
	return readAtomLines(r.worldFile())
}

func (r *Resolver) selectedPackages() ([]string, error) {
	return readAtomLines(r.selectedFile())
}

// systemPackages reads each profile's "packages" file in inheritance
// order (parent first, current profile last), taking only lines prefixed
// with "*" (required system packages); child profiles override parents by
// re-declaring the same atom, moving it to the end.
func (r *Resolver) systemPackages() ([]string, error) {
	var all []string
	for _, profile := range r.profiles {
		path := filepath.Join(profile, "packages")
		lines, err := readLines(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, line := range lines {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if !strings.HasPrefix(line, "*") {
				continue
			}
			pkg := line[1:]
			all = removeString(all, pkg)
			all = append(all, pkg)
		}
	}
	return all, nil
}

// profilePackages is the current (last) profile's own packages file,
// required entries only.
func (r *Resolver) profilePackages() ([]string, error) {
	if len(r.profiles) == 0 {
		return nil, nil
	}
	path := filepath.Join(r.profiles[len(r.profiles)-1], "packages")
	lines, err := readLines(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "*") {
			out = append(out, line[1:])
		}
	}
	return out, nil
}

// AddToWorld appends packages to the world file (creating it and its
// parent directory if needed) and mirrors them into selected, matching
// the original's "adding to world also selects it" behavior.
func (r *Resolver) AddToWorld(packages []string) error {
	if err := appendUnique(r.worldFile(), packages); err != nil {
		return err
	}
	return appendUnique(r.selectedFile(), packages)
}

// RemoveFromWorld removes packages from the world file.
func (r *Resolver) RemoveFromWorld(packages []string) error {
	return removeFromFile(r.worldFile(), packages)
}

func readAtomLines(path string) ([]string, error) {
	lines, err := readLines(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

func appendUnique(path string, packages []string) error {
	existing, err := readAtomLines(path)
	if err != nil {
		return err
	}
	for _, pkg := range packages {
		if !contains(existing, pkg) {
			existing = append(existing, pkg)
		}
	}
	sort.Strings(existing)
	return writeLines(path, existing)
}

func removeFromFile(path string, packages []string) error {
	existing, err := readAtomLines(path)
	if err != nil {
		return err
	}
	for _, pkg := range packages {
		existing = removeString(existing, pkg)
	}
	return writeLines(path, existing)
}

func writeLines(path string, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating directory for %s", path)
	}
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	return errors.Wrapf(os.WriteFile(path, []byte(content), 0o644), "writing %s", path)
}

func contains(ss []string, s string) bool {
	for _, e := range ss {
		if e == s {
			return true
		}
	}
	return false
}

func removeString(ss []string, s string) []string {
	out := ss[:0]
	for _, e := range ss {
		if e != s {
			out = append(out, e)
		}
	}
	return out
}
