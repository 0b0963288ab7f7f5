// Package world implements WorldTracker: the user-requested atom set
// recorded at var/lib/portage/world, as a deduplicated, validated
// collection distinct from SetResolver's ordered expansion of "@world"
// (internal/sets) into a plain atom list for DepGraph seeding.
//
// Grounded on the reference WorldManager (HashSet
// load/save, sorted-on-write) generalized with an atom-validity check
// Clean uses that the original's clean() explicitly deferred ("In the
// future, we could validate atoms against the portage tree").
package world

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/gentoo-go/emerge/internal/atom"
)

// Tracker manages the world file under root.
type Tracker struct {
	path string
}

// New returns a Tracker for root's var/lib/portage/world.
func New(root string) *Tracker {
	return &Tracker{path: filepath.Join(root, "var/lib/portage/world")}
}

// Load reads the current atom set, ignoring blank lines and comments.
func (t *Tracker) Load() (map[string]bool, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, errors.Wrapf(err, "reading %s", t.path)
	}
	atoms := map[string]bool{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		atoms[line] = true
	}
	return atoms, nil
}

// Save writes the atom set back, one per line in sorted order so the
// file diffs cleanly between runs.
func (t *Tracker) Save(atoms map[string]bool) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(t.path))
	}
	sorted := make([]string, 0, len(atoms))
	for a := range atoms {
		sorted = append(sorted, a)
	}
	sort.Strings(sorted)
	content := strings.Join(sorted, "\n")
	if len(sorted) > 0 {
		content += "\n"
	}
	return errors.Wrapf(os.WriteFile(t.path, []byte(content), 0o644), "writing %s", t.path)
}

// AddAtom records atom as user-requested.
func (t *Tracker) AddAtom(a string) error {
	atoms, err := t.Load()
	if err != nil {
		return err
	}
	atoms[a] = true
	return t.Save(atoms)
}

// RemoveAtom drops atom from the world set.
func (t *Tracker) RemoveAtom(a string) error {
	atoms, err := t.Load()
	if err != nil {
		return err
	}
	delete(atoms, a)
	return t.Save(atoms)
}

// Contains reports whether atom is currently in the world set.
func (t *Tracker) Contains(a string) (bool, error) {
	atoms, err := t.Load()
	if err != nil {
		return false, err
	}
	return atoms[a], nil
}

// Clean rewrites the world file, dropping entries that no longer parse
// as a valid atom (e.g. left over from a hand edit) and deduplicating,
// returning the atoms that were dropped.
func (t *Tracker) Clean() (dropped []string, err error) {
	atoms, err := t.Load()
	if err != nil {
		return nil, err
	}
	kept := map[string]bool{}
	for a := range atoms {
		if _, err := atom.Parse(a); err != nil {
			dropped = append(dropped, a)
			continue
		}
		kept[a] = true
	}
	sort.Strings(dropped)
	return dropped, t.Save(kept)
}
