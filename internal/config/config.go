// Package config implements ConfigStack: the layered configuration reader
// combining a profile chain, the main config file, and user drop-in
// directories into one merged view.
//
// Following a raw/typed config-layer idiom, raw parsed layers
// (rawLayer) are merged first and normalized into a typed Config only at
// the end, via toTypedConfig-style accessors.
package config

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gentoo-go/emerge/internal/errkind"
	"github.com/pkg/errors"
)

const maxExpansionDepth = 32

// rawLayer is one source in the precedence chain: a flat KEY=value map
// plus the three list-shaped drop-in categories.
type rawLayer struct {
	vars     map[string]string
	use      map[string][]string // atom -> flags, from package.use
	keywords map[string][]string
	masks    []string
	unmasks  []string
	sets     map[string][]string
}

func newRawLayer() rawLayer {
	return rawLayer{
		vars:     map[string]string{},
		use:      map[string][]string{},
		keywords: map[string][]string{},
		sets:     map[string][]string{},
	}
}

// Config is the fully merged, variable-expanded configuration view.
type Config struct {
	vars     map[string]string
	use      map[string][]string
	keywords map[string][]string
	masks    []string
	unmasks  []string
	sets     map[string][]string
}

// Load walks the profile chain rooted at profileDir, reads mainConfigPath,
// and layers the drop-in directories found under dropInRoot
// (package.use, package.keywords, package.mask, package.unmask, sets.conf),
// returning the fully merged and expanded Config.
func Load(profileDir, mainConfigPath, dropInRoot string) (*Config, error) {
	var layers []rawLayer

	chain, err := profileChain(profileDir)
	if err != nil {
		return nil, err
	}
	for _, dir := range chain {
		layer, err := loadProfileDir(dir)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}

	if mainConfigPath != "" {
		mainLayer := newRawLayer()
		vars, err := parseKeyValueFile(mainConfigPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "reading main config %s", mainConfigPath)
		}
		mainLayer.vars = vars
		layers = append(layers, mainLayer)
	}

	if dropInRoot != "" {
		dropLayer, err := loadDropIns(dropInRoot)
		if err != nil {
			return nil, err
		}
		layers = append(layers, dropLayer)
	}

	merged := mergeLayers(layers)
	if err := expandAll(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// profileChain resolves the "parent" file depth-first traversal, current
// profile last, duplicates skipped.
func profileChain(profileDir string) ([]string, error) {
	if profileDir == "" {
		return nil, nil
	}
	visited := map[string]bool{}
	var order []string

	var visit func(dir string) error
	visit = func(dir string) error {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return errors.Wrapf(err, "resolving profile path %s", dir)
		}
		if visited[abs] {
			return nil
		}
		visited[abs] = true

		parentFile := filepath.Join(dir, "parent")
		if data, err := os.ReadFile(parentFile); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				line = strings.TrimSpace(line)
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}
				if err := visit(filepath.Join(dir, line)); err != nil {
					return err
				}
			}
		} else if !os.IsNotExist(err) {
			return errors.Wrapf(err, "reading parent file in %s", dir)
		}

		order = append(order, abs)
		return nil
	}
	if err := visit(profileDir); err != nil {
		return nil, err
	}
	return order, nil
}

func loadProfileDir(dir string) (rawLayer, error) {
	layer := newRawLayer()
	makeDefaults := filepath.Join(dir, "make.defaults")
	vars, err := parseKeyValueFile(makeDefaults)
	if err != nil && !os.IsNotExist(err) {
		return layer, errors.Wrapf(err, "reading %s", makeDefaults)
	}
	layer.vars = vars
	return layer, nil
}

// loadDropIns reads package.use, package.keywords, package.mask,
// package.unmask, and sets.conf from dropInRoot; each may be a single file
// or a directory concatenated in lexicographic order.
func loadDropIns(dropInRoot string) (rawLayer, error) {
	layer := newRawLayer()

	useLines, err := readConcatenated(filepath.Join(dropInRoot, "package.use"))
	if err != nil {
		return layer, err
	}
	layer.use = parseAtomFlagLines(useLines)

	kwLines, err := readConcatenated(filepath.Join(dropInRoot, "package.keywords"))
	if err != nil {
		return layer, err
	}
	layer.keywords = parseAtomFlagLines(kwLines)

	maskLines, err := readConcatenated(filepath.Join(dropInRoot, "package.mask"))
	if err != nil {
		return layer, err
	}
	layer.masks = nonEmptyLines(maskLines)

	unmaskLines, err := readConcatenated(filepath.Join(dropInRoot, "package.unmask"))
	if err != nil {
		return layer, err
	}
	layer.unmasks = nonEmptyLines(unmaskLines)

	setLines, err := readConcatenated(filepath.Join(dropInRoot, "sets.conf"))
	if err != nil {
		return layer, err
	}
	layer.sets = parseSetLines(setLines)

	return layer, nil
}

// readConcatenated reads path as a single file, or if it is a directory,
// concatenates its entries in lexicographic order.
func readConcatenated(path string) ([]string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", path)
		}
		return strings.Split(string(data), "\n"), nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading directory %s", path)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(path, name))
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", filepath.Join(path, name))
		}
		lines = append(lines, strings.Split(string(data), "\n")...)
	}
	return lines, nil
}

func nonEmptyLines(lines []string) []string {
	var out []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		out = append(out, l)
	}
	return out
}

// parseAtomFlagLines parses "atom flag1 flag2 ..." lines into atom->flags.
func parseAtomFlagLines(lines []string) map[string][]string {
	out := map[string][]string{}
	for _, line := range nonEmptyLines(lines) {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		out[fields[0]] = append(out[fields[0]], fields[1:]...)
	}
	return out
}

// parseSetLines parses "set_name atom1 atom2 ..." lines into name->atoms.
func parseSetLines(lines []string) map[string][]string {
	out := map[string][]string{}
	for _, line := range nonEmptyLines(lines) {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		out[fields[0]] = append(out[fields[0]], fields[1:]...)
	}
	return out
}

// parseKeyValueFile parses KEY="value" or KEY=value assignments, one per
// line, as used by make.conf and make.defaults.
func parseKeyValueFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		val = strings.Trim(val, `"'`)
		out[key] = val
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// mergeLayers applies the merge rules: scalars from a higher
// layer (later in the slice) replace lower; USE/keyword lists are unioned
// first-seen-order with a leading "-" removing a previously enabled flag.
func mergeLayers(layers []rawLayer) *Config {
	c := &Config{
		vars:     map[string]string{},
		use:      map[string][]string{},
		keywords: map[string][]string{},
		sets:     map[string][]string{},
	}
	for _, l := range layers {
		for k, v := range l.vars {
			if prev, ok := c.vars[k]; ok {
				// "${KEY}" inside a higher layer's KEY names the value
				// inherited from the layers below it.
				v = strings.ReplaceAll(v, "${"+k+"}", prev)
			}
			c.vars[k] = v
		}
		for atom, flags := range l.use {
			c.use[atom] = unionFlags(c.use[atom], flags)
		}
		for atom, flags := range l.keywords {
			c.keywords[atom] = unionFlags(c.keywords[atom], flags)
		}
		c.masks = append(c.masks, l.masks...)
		c.unmasks = append(c.unmasks, l.unmasks...)
		for name, atoms := range l.sets {
			c.sets[name] = append(c.sets[name], atoms...)
		}
	}
	return c
}

// unionFlags unions existing with incoming, preserving first-seen order; a
// leading "-" on an incoming flag removes a matching existing entry instead
// of adding one.
func unionFlags(existing, incoming []string) []string {
	present := map[string]bool{}
	out := append([]string(nil), existing...)
	for _, f := range out {
		present[f] = true
	}
	for _, f := range incoming {
		if strings.HasPrefix(f, "-") {
			target := f[1:]
			filtered := out[:0]
			for _, e := range out {
				if e != target {
					filtered = append(filtered, e)
				}
			}
			out = filtered
			delete(present, target)
			continue
		}
		if !present[f] {
			out = append(out, f)
			present[f] = true
		}
	}
	return out
}

// expandAll performs ${VAR}/$VAR expansion over every variable value,
// after all layers are merged.
func expandAll(c *Config) error {
	for k := range c.vars {
		expanded, err := expandValue(c.vars, k, 0)
		if err != nil {
			return err
		}
		c.vars[k] = expanded
	}
	return nil
}

func expandValue(vars map[string]string, key string, depth int) (string, error) {
	if depth > maxExpansionDepth {
		return "", &errkind.InvalidConfigValue{Key: key, Origin: "profile/make.conf", Reason: "circular variable expansion"}
	}
	raw := vars[key]
	var out strings.Builder
	i := 0
	for i < len(raw) {
		if raw[i] == '$' && i+1 < len(raw) {
			if raw[i+1] == '{' {
				end := strings.IndexByte(raw[i+2:], '}')
				if end < 0 {
					out.WriteByte(raw[i])
					i++
					continue
				}
				name := raw[i+2 : i+2+end]
				val, err := expandValue(vars, name, depth+1)
				if err != nil {
					return "", err
				}
				out.WriteString(val)
				i += 2 + end + 1
				continue
			}
			j := i + 1
			for j < len(raw) && isIdentByte(raw[j]) {
				j++
			}
			if j > i+1 {
				name := raw[i+1 : j]
				val, err := expandValue(vars, name, depth+1)
				if err != nil {
					return "", err
				}
				out.WriteString(val)
				i = j
				continue
			}
		}
		out.WriteByte(raw[i])
		i++
	}
	return out.String(), nil
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// AsString returns the raw, expanded value for key.
func (c *Config) AsString(key string) (string, bool) {
	v, ok := c.vars[key]
	return v, ok
}

// AsList splits a variable's value on whitespace.
func (c *Config) AsList(key string) []string {
	v, ok := c.vars[key]
	if !ok {
		return nil
	}
	return strings.Fields(v)
}

// AsBool parses a variable as a boolean, accepting the usual truthy/falsy
// tokens. Returns InvalidConfigValue for anything else.
func (c *Config) AsBool(key string) (bool, error) {
	v, ok := c.vars[key]
	if !ok {
		return false, nil
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	default:
		return false, &errkind.InvalidConfigValue{Key: key, Origin: "merged config", Reason: "not a recognized boolean"}
	}
}

// UseFlags returns the merged package.use flags recorded for atom. The
// global USE value is a plain variable, read with AsString("USE").
func (c *Config) UseFlags(atom string) []string { return c.use[atom] }

// Keywords returns the merged accepted-keyword overrides recorded for atom.
func (c *Config) Keywords(atom string) []string { return c.keywords[atom] }

// Masks returns every mask atom across all layers, in layer order.
func (c *Config) Masks() []string { return c.masks }

// Unmasks returns every unmask atom across all layers, in layer order.
func (c *Config) Unmasks() []string { return c.unmasks }

// Set returns the atom list for a named set, or nil if undefined.
func (c *Config) Set(name string) []string { return c.sets[name] }
