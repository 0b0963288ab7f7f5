// Package installdb implements InstalledDB: the on-disk record of what
// is currently merged into a root, one directory per installed PID
// under dbpath, plus a BoltDB index cache for fast key/slot lookups.
//
// Grounded on the reference VarTree/VarPkg
// (category/pkg-version directory layout, CONTENTS/SLOT files) and a
// bolt-backed source-cache idiom
// (bucket-per-concern, os.MkdirAll'd cache directory, Timeout'd Open).
package installdb

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/boltdb/bolt"
	"github.com/jmank88/nuts"
	"github.com/pkg/errors"

	"github.com/gentoo-go/emerge/internal/errkind"
	"github.com/gentoo-go/emerge/internal/version"
)

var (
	indexBucket = []byte("pid-by-key-slot")
	orderBucket = []byte("install-order")
)

// Entry is one installed package's recorded metadata.
type Entry struct {
	PID      version.PID
	Slot     string
	SubSlot  string
	Contents []string // installed file paths, relative to root
	UseFlags []string // USE flags enabled at merge time
}

// Key returns the cat/name this entry is keyed under.
func (e Entry) Key() string { return e.PID.Key() }

// DB is the installed-package database rooted at root's
// var/db/pkg directory, with an optional Bolt-backed lookup index.
type DB struct {
	root   string
	dbpath string
	index  *bolt.DB
}

// Open opens (creating if absent) the database at root, along with its
// index cache file under cacheDir.
func Open(root, cacheDir string) (*DB, error) {
	dbpath := filepath.Join(root, "var/db/pkg")
	if err := os.MkdirAll(dbpath, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating %s", dbpath)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating cache directory %s", cacheDir)
	}
	idx, err := bolt.Open(filepath.Join(cacheDir, "installdb-index.db"), 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "opening installdb index cache")
	}
	err = idx.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(indexBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(orderBucket)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "initializing index bucket")
	}
	return &DB{root: root, dbpath: dbpath, index: idx}, nil
}

// Close releases the index cache file.
func (d *DB) Close() error {
	return errors.Wrap(d.index.Close(), "closing installdb index")
}

func (d *DB) pkgDir(p version.PID) string {
	return filepath.Join(d.dbpath, p.Category, p.Name+"-"+p.Ver.String())
}

// ListAll enumerates every installed PID, walking category then
// package-version directories exactly as get_all_installed does.
func (d *DB) ListAll() ([]version.PID, error) {
	cats, err := os.ReadDir(d.dbpath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []version.PID
	for _, cat := range cats {
		if !cat.IsDir() {
			continue
		}
		pkgs, err := os.ReadDir(filepath.Join(d.dbpath, cat.Name()))
		if err != nil {
			return nil, err
		}
		for _, pkg := range pkgs {
			if !pkg.IsDir() {
				continue
			}
			cpv := cat.Name() + "/" + pkg.Name()
			pid, err := version.SplitPID(cpv)
			if err != nil {
				continue // not a valid cpv directory, skip
			}
			out = append(out, pid)
		}
	}
	return out, nil
}

// Lookup reads one installed package's recorded Entry, or ok=false if
// it is not installed.
func (d *DB) Lookup(p version.PID) (Entry, bool, error) {
	dir := d.pkgDir(p)
	if _, err := os.Stat(dir); err != nil {
		return Entry{}, false, nil
	}
	entry := Entry{PID: p}
	if slot, err := readTrimmed(filepath.Join(dir, "SLOT")); err == nil {
		parts := strings.SplitN(slot, "/", 2)
		entry.Slot = parts[0]
		if len(parts) == 2 {
			entry.SubSlot = parts[1]
		}
	} else {
		entry.Slot = "0"
	}
	if lines, err := readLines(filepath.Join(dir, "CONTENTS")); err == nil {
		entry.Contents = lines
	}
	if use, err := readTrimmed(filepath.Join(dir, "USE")); err == nil && use != "" {
		entry.UseFlags = strings.Fields(use)
	}
	return entry, true, nil
}

// PkgForKeySlot returns the installed PID occupying (key, slot), using
// the Bolt index when warm and falling back to a directory scan (which
// repopulates the index) on a miss.
func (d *DB) PkgForKeySlot(key, slot string) (version.PID, bool, error) {
	cacheKey := indexKey(key, slot)
	var cached string
	err := d.index.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(indexBucket).Get(cacheKey); v != nil {
			cached = string(v)
		}
		return nil
	})
	if err != nil {
		return version.PID{}, false, errors.Wrap(err, "reading installdb index")
	}
	if cached != "" {
		pid, err := version.SplitPID(cached)
		if err == nil {
			return pid, true, nil
		}
	}
	all, err := d.ListAll()
	if err != nil {
		return version.PID{}, false, err
	}
	for _, pid := range all {
		if pid.Key() != key {
			continue
		}
		entry, ok, err := d.Lookup(pid)
		if err != nil {
			return version.PID{}, false, err
		}
		if ok && entry.Slot == slot {
			d.reindex(all)
			return pid, true, nil
		}
	}
	return version.PID{}, false, nil
}

func (d *DB) reindex(all []version.PID) {
	_ = d.index.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(indexBucket)
		for _, pid := range all {
			entry, ok, err := d.Lookup(pid)
			if err != nil || !ok {
				continue
			}
			if err := b.Put(indexKey(pid.Key(), entry.Slot), []byte(pid.String())); err != nil {
				return err
			}
		}
		return nil
	})
}

func indexKey(key, slot string) []byte {
	return []byte(key + ":" + slot)
}

// recordOrder appends pid to the install-order log, keyed by a
// monotonically increasing sequence number encoded with nuts.Key at a
// fixed 8-byte width, so that a bolt forward scan over orderBucket
// yields installs oldest first.
func (d *DB) recordOrder(pid version.PID) error {
	return d.index.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(orderBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		k := make(nuts.Key, 8)
		k.Put(seq)
		return b.Put(k, []byte(pid.String()))
	})
}

// InstallOrder returns every recorded PID in the order it was merged.
func (d *DB) InstallOrder() ([]version.PID, error) {
	var out []version.PID
	err := d.index.View(func(tx *bolt.Tx) error {
		return tx.Bucket(orderBucket).ForEach(func(k, v []byte) error {
			pid, err := version.SplitPID(string(v))
			if err != nil {
				return nil
			}
			out = append(out, pid)
			return nil
		})
	})
	return out, errors.Wrap(err, "reading install order")
}

// Write records an Entry, creating its package directory and the
// SLOT/CONTENTS/USE files, and refreshes the index for its key/slot.
func (d *DB) Write(e Entry) error {
	dir := d.pkgDir(e.PID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}
	slotLine := e.Slot
	if e.SubSlot != "" {
		slotLine += "/" + e.SubSlot
	}
	if err := os.WriteFile(filepath.Join(dir, "SLOT"), []byte(slotLine+"\n"), 0o644); err != nil {
		return errors.Wrap(err, "writing SLOT")
	}
	content := strings.Join(e.Contents, "\n")
	if len(e.Contents) > 0 {
		content += "\n"
	}
	if err := os.WriteFile(filepath.Join(dir, "CONTENTS"), []byte(content), 0o644); err != nil {
		return errors.Wrap(err, "writing CONTENTS")
	}
	if err := os.WriteFile(filepath.Join(dir, "USE"), []byte(strings.Join(e.UseFlags, " ")+"\n"), 0o644); err != nil {
		return errors.Wrap(err, "writing USE")
	}
	if err := d.index.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(indexBucket).Put(indexKey(e.Key(), e.Slot), []byte(e.PID.String()))
	}); err != nil {
		return err
	}
	return d.recordOrder(e.PID)
}

// Remove deletes an installed package's record and its index entry.
func (d *DB) Remove(p version.PID) error {
	entry, ok, err := d.Lookup(p)
	if err != nil {
		return err
	}
	if !ok {
		return &errkind.NoCandidate{Atom: p.String()}
	}
	if err := os.RemoveAll(d.pkgDir(p)); err != nil {
		return errors.Wrapf(err, "removing %s", d.pkgDir(p))
	}
	return d.index.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(indexBucket).Delete(indexKey(entry.Key(), entry.Slot))
	})
}

// Contents returns the installed file-path manifest for p.
func (d *DB) Contents(p version.PID) ([]string, error) {
	entry, ok, err := d.Lookup(p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &errkind.NoCandidate{Atom: p.String()}
	}
	return entry.Contents, nil
}

// snapshot is a JSON-serializable view of an Entry, used only by
// callers that need to hand installed-package metadata across a
// process boundary (e.g. a resume-state file written by MergeEngine).
type snapshot struct {
	PID      string   `json:"pid"`
	Slot     string   `json:"slot"`
	SubSlot  string   `json:"sub_slot,omitempty"`
	Contents []string `json:"contents,omitempty"`
	UseFlags []string `json:"use,omitempty"`
}

// MarshalJSON renders an Entry in the snapshot shape.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshot{
		PID:      e.PID.String(),
		Slot:     e.Slot,
		SubSlot:  e.SubSlot,
		Contents: e.Contents,
		UseFlags: e.UseFlags,
	})
}

func readTrimmed(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
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
		line := sc.Text()
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}
