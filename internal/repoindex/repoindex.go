// Package repoindex implements RepoIndex: enumerating repositories from
// repos.conf, resolving a package identifier to its recipe file in
// priority order, and caching parsed recipe metadata.
package repoindex

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/gentoo-go/emerge/internal/errkind"
	"github.com/gentoo-go/emerge/internal/recipe"
)

// Repo describes one entry from repos.conf.
type Repo struct {
	Name     string
	Location string
	SyncType string
	SyncURI  string
	AutoSync bool
	Depth    int
}

// Index holds the repositories in priority order: the [DEFAULT] repo (the
// main repository) first, then every named section in file order.
type Index struct {
	repos   []Repo
	cacheAt string // directory holding per-repo metadata-cache.toml files
}

// LoadReposConf parses an INI-style repos.conf: a single [DEFAULT] section
// naming the main repository, followed by any number of named sections
// each giving root path, sync type, sync URI, and optional auto-sync/depth.
func LoadReposConf(path, cacheDir string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening repos.conf %s", path)
	}
	defer f.Close()

	idx := &Index{cacheAt: cacheDir}
	var cur *Repo
	var defaultName string

	flush := func() {
		if cur != nil && cur.Name != "__default__" {
			idx.repos = append(idx.repos, *cur)
		}
		cur = nil
	}

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			flush()
			name := strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
			if name == "DEFAULT" {
				cur = nil
				defaultName = ""
				// DEFAULT section only ever sets "main-repo"; the actual
				// repo data lives in that repo's own section.
				cur = &Repo{Name: "__default__"}
				continue
			}
			cur = &Repo{Name: name}
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 || cur == nil {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if cur.Name == "__default__" {
			if key == "main-repo" {
				defaultName = val
			}
			continue
		}
		switch key {
		case "location":
			cur.Location = val
		case "sync-type":
			cur.SyncType = val
		case "sync-uri":
			cur.SyncURI = val
		case "auto-sync":
			cur.AutoSync = val == "yes" || val == "true"
		case "sync-depth":
			if n, err := strconv.Atoi(val); err == nil {
				cur.Depth = n
			}
		}
	}
	flush()
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "scanning repos.conf")
	}

	if defaultName != "" {
		for i, r := range idx.repos {
			if r.Name == defaultName && i != 0 {
				main := idx.repos[i]
				copy(idx.repos[1:i+1], idx.repos[:i])
				idx.repos[0] = main
				break
			}
		}
	}
	return idx, nil
}

// Repos returns the configured repositories in priority order.
func (idx *Index) Repos() []Repo { return idx.repos }

// Resolve finds the recipe file for category/name-version across the
// configured repositories, checking each in priority order at
// <root>/<category>/<name>/<name>-<version>.ebuild.
func (idx *Index) Resolve(category, name, version string) (string, *Repo, error) {
	fileName := name + "-" + version + ".ebuild"
	for i := range idx.repos {
		r := &idx.repos[i]
		candidate := filepath.Join(r.Location, category, name, fileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, r, nil
		}
	}
	return "", nil, &errkind.NoCandidate{Atom: category + "/" + name + "-" + version}
}

// Enumerate walks a repository's category/name directories and returns
// every recipe file found, using godirwalk for its lower-allocation
// readdir path relative to filepath.Walk.
func (idx *Index) Enumerate(r Repo) ([]string, error) {
	var files []string
	err := godirwalk.Walk(r.Location, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			if strings.HasSuffix(path, ".ebuild") {
				files = append(files, path)
			}
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "enumerating repository %s", r.Name)
	}
	return files, nil
}

// metadataCacheEntry is the on-disk, non-contractual shape cached per
// recipe to avoid re-parsing the ebuild header on every lookup.
type metadataCacheEntry struct {
	Recipe  recipe.Metadata `toml:"recipe"`
	ModTime int64           `toml:"mod_time"`
}

type metadataCacheFile struct {
	Entries map[string]metadataCacheEntry `toml:"entries"`
}

// LookupCached returns cached metadata for recipePath if the cache entry's
// recorded mtime still matches the file on disk.
func (idx *Index) LookupCached(repoName, recipePath string) (recipe.Metadata, bool) {
	if idx.cacheAt == "" {
		return recipe.Metadata{}, false
	}
	cache, err := idx.readCache(repoName)
	if err != nil {
		return recipe.Metadata{}, false
	}
	entry, ok := cache.Entries[recipePath]
	if !ok {
		return recipe.Metadata{}, false
	}
	info, err := os.Stat(recipePath)
	if err != nil || info.ModTime().Unix() != entry.ModTime {
		return recipe.Metadata{}, false
	}
	return entry.Recipe, true
}

// StoreCached writes parsed metadata into the repository's
// metadata-cache.toml, merging with any existing entries.
func (idx *Index) StoreCached(repoName, recipePath string, meta recipe.Metadata) error {
	if idx.cacheAt == "" {
		return nil
	}
	cache, err := idx.readCache(repoName)
	if err != nil {
		cache = &metadataCacheFile{Entries: map[string]metadataCacheEntry{}}
	}
	info, err := os.Stat(recipePath)
	if err != nil {
		return errors.Wrapf(err, "stat %s", recipePath)
	}
	cache.Entries[recipePath] = metadataCacheEntry{Recipe: meta, ModTime: info.ModTime().Unix()}

	data, err := toml.Marshal(cache)
	if err != nil {
		return errors.Wrap(err, "marshaling metadata cache")
	}
	cachePath := idx.cachePath(repoName)
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return errors.Wrap(err, "creating metadata cache directory")
	}
	return errors.Wrap(os.WriteFile(cachePath, data, 0o644), "writing metadata cache")
}

func (idx *Index) cachePath(repoName string) string {
	return filepath.Join(idx.cacheAt, repoName+"-metadata-cache.toml")
}

func (idx *Index) readCache(repoName string) (*metadataCacheFile, error) {
	data, err := os.ReadFile(idx.cachePath(repoName))
	if err != nil {
		return nil, err
	}
	var cache metadataCacheFile
	if err := toml.Unmarshal(data, &cache); err != nil {
		return nil, errors.Wrap(err, "parsing metadata cache")
	}
	if cache.Entries == nil {
		cache.Entries = map[string]metadataCacheEntry{}
	}
	return &cache, nil
}
