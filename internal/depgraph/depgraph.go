// Package depgraph implements DepGraph: building and resolving the
// dependency graph with SLOT assignment, blocker checking, cycle
// detection, and bounded backtracking.
package depgraph

import (
	"sort"

	radix "github.com/armon/go-radix"

	"github.com/gentoo-go/emerge/internal/atom"
	"github.com/gentoo-go/emerge/internal/depstring"
	"github.com/gentoo-go/emerge/internal/errkind"
	"github.com/gentoo-go/emerge/internal/version"
)

const defaultMaxDepth = 50
const defaultMaxBacktracks = 50

// CandidatePID is one resolvable version of a package key, as reported by
// a Source.
type CandidatePID struct {
	PID      version.PID
	Slot     string
	SubSlot  string
	Masked   bool
}

// Source is the collaborator DepGraph queries for candidates and their
// dependency-class strings; RepoIndex/RecipeParser/MaskEvaluator sit
// behind this interface in the full pipeline.
type Source interface {
	// Candidates returns every visibility-eligible version known for
	// "category/name", in no particular order; DepGraph picks the best by
	// VersionAlgebra itself.
	Candidates(key string) ([]CandidatePID, error)
	// Dependencies returns the parsed dependency edges for pid's given
	// class ("build", "runtime", "post"); DependencyParser has already
	// evaluated USE conditionals.
	Dependencies(pid version.PID, class string) (depstring.Result, error)
}

// Edge is one outgoing dependency edge from a node.
type Edge struct {
	TargetKey string
	Class     string // "build", "runtime", "post"
	SubAtom   atom.Atom
}

// Node is one resolved package in the graph, keyed by "category/name".
type Node struct {
	Key      string
	PID      version.PID
	Slot     string
	SubSlot  string
	Edges    []Edge
	Blockers []atom.Atom
	// Replacing marks this node as scheduled to replace an installed PID
	// of the same key in this transaction, which weak blockers tolerate.
	Replacing bool
}

// Result is DepGraph's output.
type Result struct {
	Order         []string // topologically sorted node keys
	Blocked       []error
	Circular      [][]string
	BacktrackCount int
}

// Options configures a Resolve run.
type Options struct {
	MaxDepth       int
	MaxBacktracks  int
	WithBdeps      bool
	// Installed reports whether key is already installed in the live
	// root, used by the blocker check's "scheduled to be replaced" rule.
	Installed func(key string) bool
}

type graph struct {
	src       Source
	opts      Options
	nodes     map[string]*Node
	radixKeys *radix.Tree
	excluded  map[string]map[string]bool // key -> version string -> excluded from bestCandidate
}

// Resolve runs the full seed → expand → slot-assign → blocker-check →
// cycle-detect → topo-sort → backtrack pipeline for the given target
// atoms.
func Resolve(targets []atom.Atom, src Source, opts Options) (Result, error) {
	if opts.MaxDepth == 0 {
		opts.MaxDepth = defaultMaxDepth
	}
	if opts.MaxBacktracks == 0 {
		opts.MaxBacktracks = defaultMaxBacktracks
	}
	g := &graph{src: src, opts: opts, nodes: map[string]*Node{}, radixKeys: radix.New(), excluded: map[string]map[string]bool{}}

	backtracks := 0
	for {
		g.nodes = map[string]*Node{}
		g.radixKeys = radix.New()

		if err := g.seed(targets); err != nil {
			return Result{}, err
		}
		if err := g.expand(); err != nil {
			return Result{}, err
		}
		g.markReplacing()

		conflicts := g.checkSlots()
		blockViolations := g.checkBlockers()

		if len(conflicts) == 0 && len(blockViolations) == 0 {
			break
		}
		backtracks++
		if backtracks > opts.MaxBacktracks {
			var blocked []error
			blocked = append(blocked, conflicts...)
			blocked = append(blocked, blockViolations...)
			return Result{Blocked: blocked, BacktrackCount: backtracks}, nil
		}
		if !g.substituteNextBest(conflicts, blockViolations) {
			var blocked []error
			blocked = append(blocked, conflicts...)
			blocked = append(blocked, blockViolations...)
			return Result{Blocked: blocked, BacktrackCount: backtracks}, nil
		}
	}

	cycles := g.detectCycles()
	order, err := g.topoSort()
	if err != nil {
		return Result{Circular: cycles, BacktrackCount: backtracks}, err
	}

	return Result{Order: order, Circular: cycles, BacktrackCount: backtracks}, nil
}

// seed resolves each target atom to its best visible candidate.
func (g *graph) seed(targets []atom.Atom) error {
	for _, a := range targets {
		key := a.Key()
		cand, err := g.bestCandidate(key, a)
		if err != nil {
			return err
		}
		g.addNode(cand)
	}
	return nil
}

// bestCandidate returns the maximum-by-VersionAlgebra candidate matching
// a, among those the Source reports as visible (not masked).
func (g *graph) bestCandidate(key string, a atom.Atom) (CandidatePID, error) {
	candidates, err := g.src.Candidates(key)
	if err != nil {
		return CandidatePID{}, err
	}
	skip := g.excluded[key]
	var best *CandidatePID
	for i := range candidates {
		c := &candidates[i]
		if c.Masked {
			continue
		}
		if skip != nil && skip[c.PID.Ver.String()] {
			continue
		}
		mc := atom.Candidate{Category: c.PID.Category, Name: c.PID.Name, Version: c.PID.Ver.String(), Slot: c.Slot, SubSlot: c.SubSlot}
		if !a.Matches(mc) {
			continue
		}
		if best == nil || c.PID.Ver.Compare(best.PID.Ver) == version.Greater {
			best = c
		}
	}
	if best == nil {
		return CandidatePID{}, &errkind.NoCandidate{Atom: a.Raw}
	}
	return *best, nil
}

func (g *graph) addNode(c CandidatePID) *Node {
	key := c.PID.Key()
	if n, ok := g.nodes[key]; ok {
		return n
	}
	n := &Node{Key: key, PID: c.PID, Slot: c.Slot, SubSlot: c.SubSlot}
	g.nodes[key] = n
	g.radixKeys.Insert(key, n)
	return n
}

// expand performs breadth-first dependency expansion up to MaxDepth.
func (g *graph) expand() error {
	type frontierItem struct {
		key   string
		depth int
	}
	var frontier []frontierItem
	for k := range g.nodes {
		frontier = append(frontier, frontierItem{key: k, depth: 0})
	}
	sort.Slice(frontier, func(i, j int) bool { return frontier[i].key < frontier[j].key })

	visited := map[string]bool{}
	for len(frontier) > 0 {
		item := frontier[0]
		frontier = frontier[1:]
		if visited[item.key] || item.depth > g.opts.MaxDepth {
			continue
		}
		visited[item.key] = true
		node := g.nodes[item.key]

		classes := []string{"runtime", "post"}
		if g.opts.WithBdeps {
			classes = append([]string{"build"}, classes...)
		}
		for _, class := range classes {
			res, err := g.src.Dependencies(node.PID, class)
			if err != nil {
				return err
			}
			for _, n := range res.Atoms {
				targetKey := n.Atom.Key()
				cand, err := g.bestCandidate(targetKey, n.Atom)
				if err != nil {
					return err
				}
				targetNode := g.addNode(cand)
				node.Edges = append(node.Edges, Edge{TargetKey: targetNode.Key, Class: class, SubAtom: n.Atom})
				if !visited[targetNode.Key] {
					frontier = append(frontier, frontierItem{key: targetNode.Key, depth: item.depth + 1})
				}
			}
			for _, group := range res.AnyOf {
				// Any-of dependency groups: pick the first alternative
				// already satisfiable by an existing or resolvable
				// candidate, else skip the group entirely. A known
				// simplification; see the backtracking resolver design
				// notes for the stronger alternative.
				for _, n := range group {
					targetKey := n.Atom.Key()
					cand, err := g.bestCandidate(targetKey, n.Atom)
					if err != nil {
						continue
					}
					targetNode := g.addNode(cand)
					node.Edges = append(node.Edges, Edge{TargetKey: targetNode.Key, Class: class, SubAtom: n.Atom})
					if !visited[targetNode.Key] {
						frontier = append(frontier, frontierItem{key: targetNode.Key, depth: item.depth + 1})
					}
					break
				}
			}
			for _, n := range res.Blockers {
				node.Blockers = append(node.Blockers, n.Atom)
			}
		}
	}
	return nil
}

// checkSlots enforces at most one candidate per (key, slot). The node map
// holds a single node per "category/name", so conflicts are found from
// the edges instead: every edge atom that names a slot records that slot
// as demanded for its target key, and a key demanded in two or more
// different slots is reported as a SlotConflict naming the first two
// slots in sorted order. Seed target atoms and edge atoms without a slot
// demand nothing.
func (g *graph) checkSlots() []error {
	var conflicts []error
	demanded := map[string]map[string]atom.Atom{} // key -> slot -> demanding atom

	record := func(key, slot string, a atom.Atom) {
		if slot == "" {
			return
		}
		if demanded[key] == nil {
			demanded[key] = map[string]atom.Atom{}
		}
		demanded[key][slot] = a
	}

	for _, n := range g.nodes {
		for _, e := range n.Edges {
			record(e.TargetKey, e.SubAtom.Slot, e.SubAtom)
		}
	}

	for key, bySlot := range demanded {
		if len(bySlot) <= 1 {
			continue
		}
		var slots []string
		for s := range bySlot {
			slots = append(slots, s)
		}
		sort.Strings(slots)
		conflicts = append(conflicts, &errkind.SlotConflict{
			Key:   key,
			SlotA: slots[0],
			SlotB: slots[1],
			AtomA: bySlot[slots[0]].Raw,
			AtomB: bySlot[slots[1]].Raw,
		})
	}
	return conflicts
}

// markReplacing sets Node.Replacing for every node whose key already has
// an installed PID, so checkBlockers' weak-blocker tolerance reflects
// this transaction actually scheduling that package for replacement.
func (g *graph) markReplacing() {
	if g.opts.Installed == nil {
		return
	}
	for key, n := range g.nodes {
		n.Replacing = g.opts.Installed(key)
	}
}

// checkBlockers implements step 4: strong blockers always fail; weak
// blockers fail only if the blocked node isn't scheduled for replacement.
func (g *graph) checkBlockers() []error {
	var violations []error
	for _, n := range g.nodes {
		for _, b := range n.Blockers {
			for _, target := range g.nodes {
				mc := atom.Candidate{Category: target.PID.Category, Name: target.PID.Name, Version: target.PID.Ver.String(), Slot: target.Slot, SubSlot: target.SubSlot}
				if !b.Matches(mc) {
					continue
				}
				strong := b.Blocker == atom.BlockerStrong
				replacing := target.Replacing
				if strong || !replacing {
					violations = append(violations, &errkind.BlockerViolation{
						Blocker: b.Raw,
						Target:  target.Key,
						Strong:  strong,
					})
				}
			}
		}
	}
	return violations
}

// detectCycles runs depth-first search over every edge except build
// edges (that is, runtime and post edges); build edges may legally cycle
// since phase ordering breaks them.
func (g *graph) detectCycles() [][]string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var cycles [][]string

	var stack []string
	var visit func(key string)
	visit = func(key string) {
		color[key] = gray
		stack = append(stack, key)
		node := g.nodes[key]
		for _, e := range node.Edges {
			if e.Class == "build" {
				continue
			}
			switch color[e.TargetKey] {
			case white:
				visit(e.TargetKey)
			case gray:
				// found a back-edge; record the cycle portion of the stack
				for i, k := range stack {
					if k == e.TargetKey {
						cycle := append([]string(nil), stack[i:]...)
						cycle = append(cycle, e.TargetKey)
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[key] = black
	}

	var keys []string
	for k := range g.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if color[k] == white {
			visit(k)
		}
	}
	return cycles
}

// topoSort runs Kahn's algorithm over every edge except build edges,
// placing each dependency before the packages that depend on it and
// breaking ties by key via the radix tree's sorted iteration order
// (step 6). indegree counts each node's dependency edges whose target is
// not yet ordered.
func (g *graph) topoSort() ([]string, error) {
	indegree := map[string]int{}
	for k := range g.nodes {
		indegree[k] = 0
	}
	for _, n := range g.nodes {
		for _, e := range n.Edges {
			if e.Class == "build" {
				continue
			}
			indegree[n.Key]++
		}
	}

	var order []string
	for len(order) < len(g.nodes) {
		var ready []string
		g.radixKeys.Walk(func(k string, v interface{}) bool {
			if indegree[k] == 0 {
				if !containsStr(order, k) {
					ready = append(ready, k)
				}
			}
			return false
		})
		if len(ready) == 0 {
			return nil, &errkind.CircularDependency{Cycle: remainingKeys(indegree, order)}
		}
		sort.Strings(ready)
		pick := ready[0]
		order = append(order, pick)
		indegree[pick] = -1 // mark consumed
		for _, n := range g.nodes {
			for _, e := range n.Edges {
				if e.Class == "build" || e.TargetKey != pick {
					continue
				}
				if indegree[n.Key] > 0 {
					indegree[n.Key]--
				}
			}
		}
	}
	return order, nil
}

func containsStr(ss []string, s string) bool {
	for _, e := range ss {
		if e == s {
			return true
		}
	}
	return false
}

func remainingKeys(indegree map[string]int, done []string) []string {
	var remaining []string
	for k, v := range indegree {
		if v >= 0 && !containsStr(done, k) {
			remaining = append(remaining, k)
		}
	}
	sort.Strings(remaining)
	return remaining
}

// substituteNextBest implements step 7's bounded backtracking: it excludes
// the currently-resolved candidate for the first conflicting key so the
// next rebuild picks the runner-up, and signals the caller to retry.
// Returns false once a key's candidates are exhausted without resolving
// the conflict, at which point the caller reports it instead.
func (g *graph) substituteNextBest(conflicts, blockers []error) bool {
	var key string
	switch {
	case len(conflicts) > 0:
		if sc, ok := conflicts[0].(*errkind.SlotConflict); ok {
			key = sc.Key
		}
	case len(blockers) > 0:
		if bv, ok := blockers[0].(*errkind.BlockerViolation); ok {
			key = bv.Target
		}
	}
	if key == "" {
		return false
	}
	node, ok := g.nodes[key]
	if !ok {
		return false
	}
	if g.excluded[key] == nil {
		g.excluded[key] = map[string]bool{}
	}
	g.excluded[key][node.PID.Ver.String()] = true

	candidates, err := g.src.Candidates(key)
	if err != nil {
		return false
	}
	for _, c := range candidates {
		if c.Masked || g.excluded[key][c.PID.Ver.String()] {
			continue
		}
		return true
	}
	return false
}
