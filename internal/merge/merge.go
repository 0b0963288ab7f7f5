// Package merge implements MergeEngine: executing a resolved DepGraph
// order against a root filesystem, copying a package's staged image
// into place with config-file protection, removing packages in
// reverse dependency order, and persisting resumable transaction
// state.
//
// Grounded on the reference Merger (ResumeState,
// copy_files_to_root's is_config_file "save as .new" rule,
// remove_package's reverse-dependency-checked removal), with parallel
// job scheduling added, generalized with
// sdboyer/constext (cancellation composition across workers) and
// theckman/go-flock (single-writer transaction lock).
package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sdboyer/constext"
	"github.com/termie/go-shutil"
	"github.com/theckman/go-flock"

	"github.com/gentoo-go/emerge/internal/atom"
	"github.com/gentoo-go/emerge/internal/errkind"
	"github.com/gentoo-go/emerge/internal/installdb"
	"github.com/gentoo-go/emerge/internal/version"
)

// PlanItem is one entry of a merge plan: a package to install from a
// staged image directory, or to remove.
type PlanItem struct {
	PID      version.PID
	StageDir string // populated for installs; empty for removals
	Remove   bool
	Slot     string
	SubSlot  string
	UseFlags []string
}

// Result reports what a Run call actually did.
type Result struct {
	Installed []string
	Removed   []string
	Failed    []string
}

// ResumeState is the durable record of an in-progress transaction,
// written before each PlanItem and cleared on success, mirroring
// the reference ResumeState.
type ResumeState struct {
	OperationID string    `json:"operation_id"`
	Items       []string  `json:"packages"`
	Completed   []string  `json:"completed"`
	Failed      []string  `json:"failed"`
	InProgress  string    `json:"in_progress,omitempty"`
	StartTime   time.Time `json:"start_time"`
}

// Engine executes merge plans against root, using db to record
// installed state.
type Engine struct {
	Root       string
	DB         *installdb.DB
	Jobs       int // bounded parallelism for independent install items
	ConfigDirs []string // paths under Root treated as CONFIG_PROTECT-able (default /etc)
}

// NewEngine builds an Engine with the conventional /etc config
// protection directory.
func NewEngine(root string, db *installdb.DB, jobs int) *Engine {
	if jobs < 1 {
		jobs = 1
	}
	return &Engine{Root: root, DB: db, Jobs: jobs, ConfigDirs: []string{filepath.Join(root, "etc")}}
}

func (e *Engine) resumeStatePath() string {
	return filepath.Join(e.Root, "var/cache/edb/emerge.state")
}

func (e *Engine) lockPath() string {
	return filepath.Join(e.Root, "var/cache/edb/emerge.lock")
}

// SaveResumeState atomically persists state via temp-file write plus
// rename, so a crash mid-write never leaves a truncated state file.
func (e *Engine) SaveResumeState(state ResumeState) error {
	path := e.resumeStatePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(path))
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling resume state")
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "creating %s", tmp)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrapf(err, "syncing %s", tmp)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmp)
	}
	return errors.Wrap(renameWithFallback(tmp, path), "renaming resume state into place")
}

// renameWithFallback renames a single file, falling back to a copy-then-
// remove when the rename crosses a device boundary (var/cache/edb and the
// live root are not always the same filesystem).
func renameWithFallback(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	linkErr, ok := err.(*os.LinkError)
	if !ok || linkErr.Err != syscall.EXDEV {
		return errors.Wrapf(err, "renaming %s to %s", src, dst)
	}
	if _, cerr := shutil.Copy(src, dst, false); cerr != nil {
		return errors.Wrapf(cerr, "copying %s to %s as rename fallback", src, dst)
	}
	return errors.Wrapf(os.Remove(src), "removing %s after copy fallback", src)
}

// LoadResumeState returns the previous transaction's state, or
// ok=false if none is recorded.
func (e *Engine) LoadResumeState() (ResumeState, bool, error) {
	data, err := os.ReadFile(e.resumeStatePath())
	if err != nil {
		if os.IsNotExist(err) {
			return ResumeState{}, false, nil
		}
		return ResumeState{}, false, err
	}
	var state ResumeState
	if err := json.Unmarshal(data, &state); err != nil {
		return ResumeState{}, false, errors.Wrap(err, "parsing resume state")
	}
	return state, true, nil
}

// ClearResumeState removes the resume-state file after a transaction
// finishes cleanly.
func (e *Engine) ClearResumeState() error {
	err := os.Remove(e.resumeStatePath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Run executes plan against root, acquiring the transaction lock so
// concurrent emerge invocations serialize, installing items with up to
// e.Jobs workers (independent PlanItems only — callers must not submit
// two items whose dependency order matters in the same Run call unless
// Jobs is 1), and removing items strictly in the order given (callers
// pass removals in reverse-topological order, since Engine does not
// reorder them).
func (e *Engine) Run(ctx context.Context, plan []PlanItem, pretend bool) (Result, error) {
	if err := os.MkdirAll(filepath.Dir(e.lockPath()), 0o755); err != nil {
		return Result{}, errors.Wrapf(err, "creating %s", filepath.Dir(e.lockPath()))
	}
	lock := flock.NewFlock(e.lockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return Result{}, errors.Wrap(err, "acquiring transaction lock")
	}
	if !locked {
		return Result{}, &errkind.TransactionAborted{Reason: "another emerge transaction holds the lock"}
	}
	defer lock.Unlock()

	operationID := fmt.Sprintf("merge-%d", time.Now().UnixNano())
	state := ResumeState{OperationID: operationID, StartTime: time.Now()}
	for _, item := range plan {
		state.Items = append(state.Items, itemKey(item))
	}

	var result Result
	installs, removals := splitPlan(plan)

	if !pretend {
		if err := e.SaveResumeState(state); err != nil {
			return result, err
		}
	}

	installed, failed, err := e.runInstalls(ctx, installs, pretend, &state)
	result.Installed = installed
	result.Failed = failed
	if err != nil {
		return result, err
	}

	for _, item := range removals {
		state.InProgress = itemKey(item)
		if !pretend {
			_ = e.SaveResumeState(state)
		}
		if err := e.removeOne(item, pretend); err != nil {
			result.Failed = append(result.Failed, itemKey(item))
			state.Failed = append(state.Failed, itemKey(item))
			continue
		}
		result.Removed = append(result.Removed, itemKey(item))
		state.Completed = append(state.Completed, itemKey(item))
	}

	if !pretend {
		return result, e.ClearResumeState()
	}
	return result, nil
}

func splitPlan(plan []PlanItem) (installs, removals []PlanItem) {
	for _, item := range plan {
		if item.Remove {
			removals = append(removals, item)
		} else {
			installs = append(installs, item)
		}
	}
	return installs, removals
}

func itemKey(item PlanItem) string { return item.PID.String() }

// runInstalls installs items with up to e.Jobs concurrent workers,
// joining ctx with a cancellation the first hard failure trips so the
// remaining in-flight workers stop promptly, mirroring constext's
// multi-parent cancellation composition.
func (e *Engine) runInstalls(ctx context.Context, items []PlanItem, pretend bool, state *ResumeState) (installed, failed []string, err error) {
	if len(items) == 0 {
		return nil, nil, nil
	}
	jobCtx, jobCancel := context.WithCancel(ctx)
	defer jobCancel()
	combined, combinedCancel := constext.Cons(jobCtx, context.Background())
	defer combinedCancel()

	sem := make(chan struct{}, e.Jobs)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, item := range items {
		item := item
		if combined.Err() != nil {
			mu.Lock()
			failed = append(failed, itemKey(item))
			state.Failed = append(state.Failed, itemKey(item))
			mu.Unlock()
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if combined.Err() != nil {
				return
			}
			mu.Lock()
			state.InProgress = itemKey(item)
			if !pretend {
				_ = e.SaveResumeState(*state)
			}
			mu.Unlock()

			installErr := e.installOne(item, pretend)

			mu.Lock()
			defer mu.Unlock()
			if installErr != nil {
				failed = append(failed, itemKey(item))
				state.Failed = append(state.Failed, itemKey(item))
				jobCancel()
				return
			}
			installed = append(installed, itemKey(item))
			state.Completed = append(state.Completed, itemKey(item))
		}()
	}
	wg.Wait()
	if len(failed) > 0 {
		return installed, failed, errors.Errorf("merge failed for %s", strings.Join(failed, ", "))
	}
	return installed, failed, nil
}

func (e *Engine) installOne(item PlanItem, pretend bool) error {
	if pretend {
		return nil
	}
	if item.StageDir == "" {
		return errors.Errorf("%s: no staged image to install", item.PID)
	}
	if err := e.copyTree(item.StageDir, e.Root); err != nil {
		return &errkind.BuildPhaseFailed{PID: item.PID.String(), Phase: "merge", Cause: err}
	}
	contents, err := e.recordedContents(item.StageDir)
	if err != nil {
		return err
	}
	return e.DB.Write(installdb.Entry{
		PID:      item.PID,
		Slot:     item.Slot,
		SubSlot:  item.SubSlot,
		Contents: contents,
		UseFlags: item.UseFlags,
	})
}

func (e *Engine) removeOne(item PlanItem, pretend bool) error {
	if pretend {
		return nil
	}
	contents, err := e.DB.Contents(item.PID)
	if err != nil {
		return err
	}
	for i := len(contents) - 1; i >= 0; i-- {
		path := filepath.Join(e.Root, contents[i])
		if e.isConfigFile(path) {
			continue // config files are left in place for the admin to reconcile
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "removing %s", path)
		}
	}
	return e.DB.Remove(item.PID)
}

// copyTree stages one package's files into root, applying config-file
// protection: an existing file under a ConfigDirs prefix is left
// untouched and the incoming version is written alongside as ".new",
// matching is_config_file's /etc-rooted rule. The walk is hand-rolled
// because root is a live, already-populated tree across many merges in
// a row; go-shutil's CopyTree (used by PhaseEngine's StageTree, where
// the destination is always a fresh per-build directory) refuses to
// copy into a destination that already exists. Each regular file is
// still copied through go-shutil's Copy, which preserves mode and
// clones rather than follows symlinks.
func (e *Engine) copyTree(src, root string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		dst := filepath.Join(root, rel)
		if info.IsDir() {
			return os.MkdirAll(dst, info.Mode().Perm())
		}
		if info.Mode()&os.ModeSymlink == 0 && e.isConfigFile(dst) {
			if _, err := os.Stat(dst); err == nil {
				dst += ".new"
			}
		} else if info.Mode()&os.ModeSymlink != 0 {
			_ = os.Remove(dst)
		}
		_, err = shutil.Copy(path, dst, false)
		return err
	})
}

func (e *Engine) isConfigFile(path string) bool {
	for _, dir := range e.ConfigDirs {
		if strings.HasPrefix(path, dir+string(filepath.Separator)) || path == dir {
			return true
		}
	}
	return false
}

// recordedContents walks a staged image and returns the root-relative
// paths that will end up installed, for writing into CONTENTS.
func (e *Engine) recordedContents(stageDir string) ([]string, error) {
	var out []string
	err := filepath.Walk(stageDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(stageDir, path)
		if err != nil {
			return err
		}
		out = append(out, "/"+filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(out)
	return out, err
}

// CheckReverseDependencies reports the installed keys that still
// depend on target, so a removal can be refused (or the caller can
// choose --unmerge anyway). installedDeps maps a key to the raw runtime
// dependency strings of its installed version; this is intentionally
// a pure function over data the caller assembles from InstalledDB plus
// DependencyParser, keeping MergeEngine itself free of a RecipeParser
// dependency.
func CheckReverseDependencies(target string, installedDeps map[string][]string) []string {
	var dependents []string
	for key, deps := range installedDeps {
		for _, dep := range deps {
			a, err := atom.Parse(dep)
			if err != nil {
				continue
			}
			if a.Key() == target {
				dependents = append(dependents, key)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}
