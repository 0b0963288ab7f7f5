// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command emerge resolves targets against a configured repository set,
// builds each resolved package through its phase sequence and merges
// the result into the live root.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	emerge "github.com/gentoo-go/emerge"
	"github.com/gentoo-go/emerge/internal/depgraph"
	"github.com/gentoo-go/emerge/internal/merge"
	"github.com/gentoo-go/emerge/internal/phase"
	"github.com/gentoo-go/emerge/internal/recipe"
	"github.com/gentoo-go/emerge/internal/reposync"
	"github.com/gentoo-go/emerge/internal/version"
)

func main() {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to get working directory", err)
		os.Exit(1)
	}
	c := &Config{
		Args:       os.Args,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		WorkingDir: wd,
		Env:        os.Environ(),
	}
	os.Exit(c.Run())
}

// A Config specifies a full invocation of emerge.
type Config struct {
	WorkingDir     string
	Args           []string
	Env            []string
	Stdout, Stderr io.Writer
}

type flags struct {
	ask       bool
	pretend   bool
	verbose   bool
	quiet     bool
	update    bool
	deep      bool
	newuse    bool
	resume    bool
	jobs      int
	withBdeps string
	sync      bool
	root      string
}

// Run executes a configuration and returns an exit code: 0 on success,
// 1 on any failure.
func (c *Config) Run() (exitCode int) {
	outLogger := log.New(c.Stdout, "", 0)
	errLogger := log.New(c.Stderr, "", 0)

	fs := flag.NewFlagSet("emerge", flag.ContinueOnError)
	fs.SetOutput(c.Stderr)
	var f flags
	fs.BoolVar(&f.ask, "a", false, "prompt before executing the computed plan")
	fs.BoolVar(&f.ask, "ask", false, "prompt before executing the computed plan")
	fs.BoolVar(&f.pretend, "p", false, "build the plan; do not execute")
	fs.BoolVar(&f.pretend, "pretend", false, "build the plan; do not execute")
	fs.BoolVar(&f.verbose, "v", false, "verbose output")
	fs.BoolVar(&f.verbose, "verbose", false, "verbose output")
	fs.BoolVar(&f.quiet, "q", false, "quiet output")
	fs.BoolVar(&f.quiet, "quiet", false, "quiet output")
	fs.BoolVar(&f.update, "u", false, "target is an upgrade")
	fs.BoolVar(&f.update, "update", false, "target is an upgrade")
	fs.BoolVar(&f.deep, "D", false, "recurse into dependencies when upgrading")
	fs.BoolVar(&f.deep, "deep", false, "recurse into dependencies when upgrading")
	fs.BoolVar(&f.newuse, "N", false, "include packages with USE-flag drift")
	fs.BoolVar(&f.newuse, "newuse", false, "include packages with USE-flag drift")
	fs.BoolVar(&f.resume, "r", false, "resume previous transaction")
	fs.BoolVar(&f.resume, "resume", false, "resume previous transaction")
	fs.IntVar(&f.jobs, "j", 1, "parallel job ceiling")
	fs.IntVar(&f.jobs, "jobs", 1, "parallel job ceiling")
	fs.StringVar(&f.withBdeps, "with-bdeps", "y", "include build-only deps (y|n)")
	fs.BoolVar(&f.sync, "sync", false, "invoke repository sync instead of merge")
	fs.StringVar(&f.root, "root", "/", "live filesystem root")

	if err := fs.Parse(c.Args[1:]); err != nil {
		return 1
	}
	targets := fs.Args()

	root := f.root
	cacheDir := filepath.Join(root, "var/cache/edb")
	ctx, err := emerge.NewContext(root,
		filepath.Join(root, "etc/portage/make.profile"),
		filepath.Join(root, "etc/portage/make.conf"),
		filepath.Join(root, "etc/portage"),
		filepath.Join(root, "etc/portage/repos.conf"),
		cacheDir, c.Stdout, c.Stderr)
	if err != nil {
		errLogger.Printf("emerge: %v\n", err)
		return 1
	}
	defer ctx.Close()

	if f.sync {
		return runSync(ctx, outLogger, errLogger)
	}

	if f.resume {
		state, ok, err := merge.NewEngine(root, ctx.DB, f.jobs).LoadResumeState()
		if err != nil {
			errLogger.Printf("emerge: loading resume state: %v\n", err)
			return 1
		}
		if !ok {
			errLogger.Println("emerge: no transaction to resume")
			return 1
		}
		outLogger.Printf("resuming transaction %s (%d/%d items completed)\n",
			state.OperationID, len(state.Completed), len(state.Items))
	}

	if len(targets) == 0 {
		errLogger.Println("emerge: no targets given")
		return 1
	}

	atoms, err := ctx.ExpandTargets(targets)
	if err != nil {
		errLogger.Printf("emerge: %v\n", err)
		return 1
	}

	withBdeps := strings.EqualFold(f.withBdeps, "y")
	result, err := ctx.Resolve(atoms, depgraph.Options{WithBdeps: withBdeps})
	if err != nil {
		errLogger.Printf("emerge: resolving targets: %v\n", err)
		return 1
	}
	if len(result.Blocked) > 0 {
		for _, e := range result.Blocked {
			errLogger.Printf("emerge: %v\n", e)
		}
		return 1
	}
	if len(result.Circular) > 0 {
		for _, cyc := range result.Circular {
			errLogger.Printf("emerge: circular dependency: %s\n", strings.Join(cyc, " -> "))
		}
		return 1
	}

	green := color.New(color.FgGreen)
	if f.quiet || !isTerminal(c.Stdout) {
		green.DisableColor()
	}
	outLogger.Println("These are the packages that would be merged, in order:")
	outLogger.Println()
	for _, key := range result.Order {
		outLogger.Printf("  %s\n", green.Sprint(key))
	}
	outLogger.Println()

	if f.pretend {
		return 0
	}

	if f.ask && !confirm(c.Stdout) {
		outLogger.Println("Quitting.")
		return 0
	}

	engine := merge.NewEngine(root, ctx.DB, f.jobs)
	plan, err := stagePlan(ctx, result.Order)
	if err != nil {
		errLogger.Printf("emerge: staging build: %v\n", err)
		return 1
	}

	mergeResult, err := engine.Run(context.Background(), plan, false)
	if err != nil {
		errLogger.Printf("emerge: %v\n", err)
		return 1
	}
	red := color.New(color.FgRed)
	if f.quiet || !isTerminal(c.Stderr) {
		red.DisableColor()
	}
	for _, failed := range mergeResult.Failed {
		errLogger.Printf("emerge: failed to merge %s\n", red.Sprint(failed))
	}
	if len(mergeResult.Failed) > 0 {
		return 1
	}

	for _, target := range targets {
		if err := ctx.World.AddAtom(target); err != nil && f.verbose {
			errLogger.Printf("emerge: recording world entry: %v\n", err)
		}
	}

	unread, err := ctx.News.Unread()
	if err == nil && len(unread) > 0 && !f.quiet {
		outLogger.Printf("%d news item(s) need reading. Use `emerge --sync` output or eselect news to review.\n", len(unread))
	}

	return 0
}

// runSync refreshes every repository in repos.conf that names a git sync
// type, skipping any other transport (rsync/webrsync have no wired
// RepoSyncer and are reported rather than silently ignored).
func runSync(ctx *emerge.Ctx, outLogger, errLogger *log.Logger) int {
	repos := ctx.RepoIndex.Repos()
	if len(repos) == 0 {
		errLogger.Println("emerge: no repositories configured")
		return 1
	}
	failed := false
	for _, r := range repos {
		switch r.SyncType {
		case "git":
			rev, err := (reposync.Git{Remote: r.SyncURI}).Sync(context.Background(), r.Location)
			if err != nil {
				errLogger.Printf("emerge: syncing %s: %v\n", r.Name, err)
				failed = true
				continue
			}
			outLogger.Printf("%s synced to %s\n", r.Name, rev)
		case "":
			// local/unmanaged repo, nothing to sync
		default:
			errLogger.Printf("emerge: %s: sync-type %q has no RepoSyncer wired\n", r.Name, r.SyncType)
			failed = true
		}
	}
	if failed {
		return 1
	}
	return 0
}

// stagePlan runs each resolved package's phase sequence into a staging
// directory and returns the MergeEngine plan items for it.
func stagePlan(ctx *emerge.Ctx, order []string) ([]merge.PlanItem, error) {
	var plan []merge.PlanItem
	for _, key := range order {
		item, err := buildOne(ctx, key)
		if err != nil {
			return nil, err
		}
		plan = append(plan, item)
	}
	return plan, nil
}

// buildOne resolves key to its recipe, runs the phase sequence through
// src_install into a per-package staging directory, and returns the
// resulting plan item. No distfile is fetched or unpacked: WorkDir is a
// new temporary directory, the executor gets no recipe overrides, and
// the default src_unpack only creates WorkDir, so SourceDir is not
// populated when the later phases run.
func buildOne(ctx *emerge.Ctx, key string) (merge.PlanItem, error) {
	category, name, ok := splitKeyLocal(key)
	if !ok {
		return merge.PlanItem{}, fmt.Errorf("malformed package key %q", key)
	}
	repos := ctx.RepoIndex.Repos()
	if len(repos) == 0 {
		return merge.PlanItem{}, fmt.Errorf("no repositories configured")
	}
	versions, err := ctx.RepoIndex.Enumerate(repos[0])
	if err != nil {
		return merge.PlanItem{}, err
	}
	if len(versions) == 0 {
		return merge.PlanItem{}, fmt.Errorf("no versions found for %s", key)
	}
	ver := versions[len(versions)-1] // placeholder: DepGraph already picked the winning version
	recipePath, _, err := ctx.RepoIndex.Resolve(category, name, ver)
	if err != nil {
		return merge.PlanItem{}, err
	}
	meta, err := recipe.Parse(recipePath, category, name, ver)
	if err != nil {
		return merge.PlanItem{}, err
	}
	v, err := version.Parse(ver)
	if err != nil {
		return merge.PlanItem{}, err
	}
	pid := version.PID{Category: category, Name: name, Ver: v}

	workDir, err := os.MkdirTemp("", "emerge-work-")
	if err != nil {
		return merge.PlanItem{}, err
	}
	destDir := filepath.Join(workDir, "image")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return merge.PlanItem{}, err
	}
	env := &phase.Environment{
		Category:  category,
		Name:      name,
		Version:   ver,
		WorkDir:   workDir,
		SourceDir: filepath.Join(workDir, "src"),
		DestDir:   destDir,
		Inherits:  meta.Inherits,
	}
	x := phase.NewExecutor(env, nil, nil)
	for _, p := range phase.Sequence {
		if p == phase.Test {
			continue // src_test is always skipped here; FEATURES is not consulted
		}
		if err := x.Run(p); err != nil {
			return merge.PlanItem{}, err
		}
	}
	return merge.PlanItem{PID: pid, StageDir: destDir, Slot: meta.Slot}, nil
}

// isTerminal reports whether w looks like a TTY, so color codes aren't
// written into redirected output.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func splitKeyLocal(key string) (category, name string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}

func confirm(out io.Writer) bool {
	fmt.Fprint(out, "Would you like to merge these packages? [Yes/No] ")
	var answer string
	fmt.Scanln(&answer)
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes" || answer == ""
}
