// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package emerge ties the internal packages together behind the
// single Ctx type cmd/emerge drives: locating the live root, loading
// configuration, resolving targets, and handing the result to
// MergeEngine.
package emerge

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/gentoo-go/emerge/internal/atom"
	"github.com/gentoo-go/emerge/internal/config"
	"github.com/gentoo-go/emerge/internal/depgraph"
	"github.com/gentoo-go/emerge/internal/depstring"
	"github.com/gentoo-go/emerge/internal/installdb"
	"github.com/gentoo-go/emerge/internal/mask"
	"github.com/gentoo-go/emerge/internal/news"
	"github.com/gentoo-go/emerge/internal/recipe"
	"github.com/gentoo-go/emerge/internal/repoindex"
	"github.com/gentoo-go/emerge/internal/sets"
	"github.com/gentoo-go/emerge/internal/version"
	"github.com/gentoo-go/emerge/internal/world"
)

// Ctx defines the supporting context of the tool: the live root and the
// loaded configuration/index state every subcommand operates against.
type Ctx struct {
	Root string // live filesystem root, usually "/"
	Out  io.Writer
	Err  io.Writer

	Config    *config.Config
	RepoIndex *repoindex.Index
	Sets      *sets.Resolver
	World     *world.Tracker
	News      *news.Tracker
	DB        *installdb.DB
}

// NewContext loads configuration and opens InstalledDB rooted at root.
// profileDir, mainConfigPath and reposConfPath name the profile directory,
// make.conf and repos.conf on disk.
func NewContext(root, profileDir, mainConfigPath, dropInRoot, reposConfPath, cacheDir string, out, err io.Writer) (*Ctx, error) {
	cfg, e := config.Load(profileDir, mainConfigPath, dropInRoot)
	if e != nil {
		return nil, errors.Wrap(e, "loading configuration")
	}
	idx, e := repoindex.LoadReposConf(reposConfPath, cacheDir)
	if e != nil {
		return nil, errors.Wrap(e, "loading repos.conf")
	}
	db, e := installdb.Open(root, cacheDir)
	if e != nil {
		return nil, errors.Wrap(e, "opening installed package database")
	}
	return &Ctx{
		Root:      root,
		Out:       out,
		Err:       err,
		Config:    cfg,
		RepoIndex: idx,
		Sets:      sets.NewResolver(root, nil, map[string][]string{}),
		World:     world.New(root),
		News:      news.New(root),
		DB:        db,
	}, nil
}

// Close releases Ctx's open resources.
func (c *Ctx) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

// ExpandTargets turns the command-line target list (bare atoms and @set
// references) into a flat list of atoms, expanding sets via Ctx.Sets.
func (c *Ctx) ExpandTargets(targets []string) ([]atom.Atom, error) {
	var atoms []atom.Atom
	for _, t := range targets {
		if len(t) > 0 && t[0] == '@' {
			members, err := c.Sets.Resolve(t[1:])
			if err != nil {
				return nil, errors.Wrapf(err, "resolving set %s", t)
			}
			for _, m := range members {
				a, err := atom.Parse(m)
				if err != nil {
					return nil, errors.Wrapf(err, "parsing set member %s", m)
				}
				atoms = append(atoms, a)
			}
			continue
		}
		a, err := atom.Parse(t)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing target %s", t)
		}
		atoms = append(atoms, a)
	}
	return atoms, nil
}

// repoSource adapts RepoIndex, RecipeParser and MaskEvaluator into the
// depgraph.Source a Resolve call needs.
type repoSource struct {
	idx      *repoindex.Index
	cfg      *config.Config
	useFlags map[string]bool
	maskEval *mask.Evaluator
}

func (c *Ctx) newSource(maskEval *mask.Evaluator) *repoSource {
	useFlags := map[string]bool{}
	if v, ok := c.Config.AsString("USE"); ok {
		for _, f := range splitFields(v) {
			useFlags[f] = true
		}
	}
	return &repoSource{idx: c.RepoIndex, cfg: c.Config, useFlags: useFlags, maskEval: maskEval}
}

func splitFields(s string) []string {
	var out []string
	start := -1
	for i := 0; i <= len(s); i++ {
		if i < len(s) && s[i] != ' ' && s[i] != '\t' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, s[start:i])
			start = -1
		}
	}
	return out
}

func (s *repoSource) Candidates(key string) ([]depgraph.CandidatePID, error) {
	category, name, ok := splitKey(key)
	if !ok {
		return nil, errors.Errorf("malformed package key %q", key)
	}
	var out []depgraph.CandidatePID
	for _, r := range s.idx.Repos() {
		versions, err := s.idx.Enumerate(r)
		if err != nil {
			return nil, err
		}
		for _, v := range versions {
			pid := version.PID{Category: category, Name: name}
			var verr error
			pid.Ver, verr = version.Parse(v)
			if verr != nil {
				continue
			}
			recipePath, _, err := s.idx.Resolve(category, name, v)
			if err != nil {
				continue
			}
			meta, cached := s.idx.LookupCached(r.Name, recipePath)
			if !cached {
				meta, err = recipe.Parse(recipePath, category, name, v)
				if err != nil {
					continue
				}
				_ = s.idx.StoreCached(r.Name, recipePath, meta)
			}
			if s.maskEval != nil {
				masked, _, err := s.maskEval.Evaluate(mask.Candidate{
					Category: category,
					Name:     name,
					Version:  v,
					Slot:     meta.Slot,
					Keywords: meta.Keywords,
				}, key)
				if err != nil {
					continue
				}
				if masked {
					continue
				}
			}
			out = append(out, depgraph.CandidatePID{PID: pid, Slot: meta.Slot})
		}
	}
	return out, nil
}

func (s *repoSource) Dependencies(pid version.PID, class string) (depstring.Result, error) {
	recipePath, _, err := s.idx.Resolve(pid.Category, pid.Name, pid.Ver.String())
	if err != nil {
		return depstring.Result{}, err
	}
	meta, err := recipe.Parse(recipePath, pid.Category, pid.Name, pid.Ver.String())
	if err != nil {
		return depstring.Result{}, err
	}
	var raw string
	switch class {
	case "build":
		raw = meta.Depend
	case "runtime":
		raw = meta.RDepend
	case "post":
		raw = meta.PDepend
	}
	return recipe.ParseDependClass(raw, s.useFlags)
}

func splitKey(key string) (category, name string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}

// Resolve builds a DepGraph over targets, dropping every candidate the
// mask evaluator built from Ctx.Config (package.mask, package.unmask and
// ACCEPT_KEYWORDS) reports as masked. package.keywords overrides are not
// applied, and licenses are not checked.
func (c *Ctx) Resolve(targets []atom.Atom, opts depgraph.Options) (depgraph.Result, error) {
	maskEval, err := mask.NewEvaluator(c.Config.Masks(), c.Config.Unmasks(), c.Config.AsList("ACCEPT_KEYWORDS"), nil)
	if err != nil {
		return depgraph.Result{}, errors.Wrap(err, "building mask evaluator")
	}
	src := c.newSource(maskEval)
	if opts.Installed == nil {
		opts.Installed = func(key string) bool {
			all, err := c.DB.ListAll()
			if err != nil {
				return false
			}
			for _, p := range all {
				if p.Key() == key {
					return true
				}
			}
			return false
		}
	}
	return depgraph.Resolve(targets, src, opts)
}

// IsDir reports whether path names an existing directory.
func IsDir(path string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return fi.IsDir(), nil
}
