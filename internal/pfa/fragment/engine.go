// Package fragment implements fragment removal: neutral clusters that are
// split-off pieces of a charged shower are merged back into it.
//
// The Engine is an incremental greedy contraction. Each step scores every
// (daughter, parent) pair whose state changed since it was last scored,
// merges the single best-scoring pair and invalidates only the pairs the
// merge could have affected. Original cluster indices are resolved to the
// surviving cluster through a union-find, so the neighbour cache built at
// start-up never needs rebuilding.
//
// An Engine processes one event and is not safe for concurrent use.
package fragment

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"

	"github.com/banshee-data/particleflow/internal/pfa"
	"github.com/banshee-data/particleflow/internal/pfa/contact"
	"github.com/banshee-data/particleflow/internal/pfa/event"
	"github.com/banshee-data/particleflow/internal/pfa/kdtree"
	"github.com/banshee-data/particleflow/internal/pfa/unionfind"
)

// ErrNotInitialized is returned by Step before Initialize has succeeded.
var ErrNotInitialized = errors.New("fragment: engine not initialized")

// State is the engine lifecycle state.
type State int

const (
	Running State = iota
	Done
)

func (s State) String() string {
	if s == Done {
		return "done"
	}
	return "running"
}

// Merge records one performed merge.
type Merge struct {
	Step           int
	Parent         event.ClusterHandle
	Daughter       event.ClusterHandle
	Evidence       float64
	Required       float64
	Excess         float64
	ParentEnergy   float64 // before the merge
	DaughterEnergy float64
}

// Result summarises one engine run.
type Result struct {
	RunID          string
	ClustersBefore int
	ClustersAfter  int
	PairsScored    int
	Merges         []Merge
}

type candidate struct {
	parent int
	contact.Candidate
}

// Engine is the incremental merge engine for one event.
type Engine struct {
	store ObjectStore
	cfg   Config
	state State
	runID string

	initialized bool
	handles     []event.ClusterHandle
	clusters    []*contact.Cluster // by original index; nil once merged away
	uf          *unionfind.UnionFind
	hitIndex    *kdtree.Tree[int]

	// neighbors[i] holds original indices within NeighborRadius of i. The
	// relation is symmetric, so it also lists the clusters that cache i.
	neighbors []*roaring.Bitmap
	// scoredBy[p] holds daughters with a current record against parent p;
	// parentsOf[d] is the reverse.
	scoredBy  []*roaring.Bitmap
	parentsOf []*roaring.Bitmap

	candidates [][]candidate
	pending    *roaring.Bitmap // daughters holding candidates
	dirty      *roaring.Bitmap // daughters to rescore

	pairsScored int
	before      int
	merges      []Merge
}

// NewEngine validates cfg and returns an engine bound to store.
func NewEngine(store ObjectStore, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil object store", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		store: store,
		cfg:   cfg,
		runID: uuid.NewString(),
	}, nil
}

// RunID identifies this engine run in logs and persisted history.
func (e *Engine) RunID() string { return e.runID }

// State returns the lifecycle state.
func (e *Engine) State() State { return e.state }

// Count returns the number of live clusters the engine is tracking.
func (e *Engine) Count() int {
	if e.uf == nil {
		return 0
	}
	return e.uf.Count()
}

// Initialize fetches the current cluster collection and builds the local
// and global indices, the neighbour cache and the union-find.
func (e *Engine) Initialize() error {
	handles, err := e.store.CurrentClusters()
	if err != nil {
		pfa.Opsf("[FragmentRemoval] run=%s fetch clusters failed: %v", e.runID, err)
		return fmt.Errorf("fetch current clusters: %w", err)
	}

	n := len(handles)
	e.handles = handles
	e.clusters = make([]*contact.Cluster, n)
	e.neighbors = make([]*roaring.Bitmap, n)
	e.scoredBy = make([]*roaring.Bitmap, n)
	e.parentsOf = make([]*roaring.Bitmap, n)
	e.candidates = make([][]candidate, n)
	e.pending = roaring.New()
	e.dirty = roaring.New()
	e.merges = nil
	e.pairsScored = 0
	e.before = n

	var points []kdtree.Point[int]
	for i, h := range handles {
		c, err := e.load(h)
		if err != nil {
			return err
		}
		e.clusters[i] = c
		e.scoredBy[i] = roaring.New()
		e.parentsOf[i] = roaring.New()
		for _, hit := range c.Hits {
			points = append(points, kdtree.Point[int]{
				Coords:  []float64{hit.Position[0], hit.Position[1], hit.Position[2]},
				Payload: i,
			})
		}
	}

	e.hitIndex, err = kdtree.Build(points, kdtree.Region{})
	if err != nil {
		return fmt.Errorf("global hit index: %w", err)
	}

	radius := e.cfg.NeighborRadius()
	for i, c := range e.clusters {
		nb := roaring.New()
		for _, hit := range c.Hits {
			for _, q := range e.hitIndex.SearchRadius(hit.Position[:], radius) {
				if q.Payload != i {
					nb.Add(uint32(q.Payload))
				}
			}
		}
		e.neighbors[i] = nb
	}

	e.uf = unionfind.New(n)
	e.dirty.AddRange(0, uint64(n))
	e.initialized = true
	e.state = Running
	if n == 0 {
		e.state = Done
	}

	pfa.Opsf("[FragmentRemoval] run=%s init clusters=%d hits=%d radius=%.0f", e.runID, n, len(points), radius)
	return nil
}

// load reads one cluster's current state from the store.
func (e *Engine) load(h event.ClusterHandle) (*contact.Cluster, error) {
	hits, err := e.store.Hits(h)
	if err != nil {
		return nil, fmt.Errorf("load cluster %s hits: %w", h, err)
	}
	trs, err := e.store.AssociatedTrajectories(h)
	if err != nil {
		return nil, fmt.Errorf("load cluster %s trajectories: %w", h, err)
	}
	return contact.NewCluster(h, hits, trs)
}

// Step performs at most one merge. It returns false once no candidate
// remains, at which point the engine is Done.
func (e *Engine) Step() (bool, error) {
	if !e.initialized {
		return false, ErrNotInitialized
	}
	if e.state == Done {
		return false, nil
	}

	for it := e.dirty.Iterator(); it.HasNext(); {
		if err := e.score(int(it.Next())); err != nil {
			return false, err
		}
	}
	e.dirty.Clear()

	d, best, ok := e.best()
	if !ok {
		e.state = Done
		return false, nil
	}
	if err := e.merge(d, best); err != nil {
		return false, err
	}
	return true, nil
}

// Run initializes the engine and steps it until Done. On a store failure
// the merges already performed are reported alongside the error.
func (e *Engine) Run() (Result, error) {
	if err := e.Initialize(); err != nil {
		return e.result(), err
	}
	for e.state == Running {
		if _, err := e.Step(); err != nil {
			pfa.Opsf("[FragmentRemoval] run=%s aborted after %d merges: %v", e.runID, len(e.merges), err)
			return e.result(), err
		}
	}
	res := e.result()
	pfa.Opsf("[FragmentRemoval] run=%s done clusters=%d->%d merges=%d pairs=%d",
		e.runID, res.ClustersBefore, res.ClustersAfter, len(res.Merges), res.PairsScored)
	return res, nil
}

func (e *Engine) result() Result {
	return Result{
		RunID:          e.runID,
		ClustersBefore: e.before,
		ClustersAfter:  e.Count(),
		PairsScored:    e.pairsScored,
		Merges:         append([]Merge(nil), e.merges...),
	}
}

// eligible reports whether cluster d may be absorbed as a daughter.
func (e *Engine) eligible(d int) (bool, error) {
	h := e.handles[d]
	tracked, err := e.store.IsTrackAssociated(h)
	if err != nil {
		return false, fmt.Errorf("daughter %s: %w", h, err)
	}
	if tracked {
		return false, nil
	}
	s, err := e.store.Summary(h)
	if err != nil {
		return false, fmt.Errorf("daughter %s: %w", h, err)
	}
	return s.NHits >= e.cfg.MinDaughterHits && s.HadEnergy >= e.cfg.MinDaughterEnergy, nil
}

// forget drops every record held for daughter d.
func (e *Engine) forget(d int) {
	for it := e.parentsOf[d].Iterator(); it.HasNext(); {
		e.scoredBy[it.Next()].Remove(uint32(d))
	}
	e.parentsOf[d].Clear()
	e.candidates[d] = nil
	e.pending.Remove(uint32(d))
}

// score recomputes every contact of daughter d against its current
// candidate parents and keeps those that pass.
func (e *Engine) score(d int) error {
	e.forget(d)
	if e.clusters[d] == nil || e.uf.Find(d) != d {
		return nil
	}
	ok, err := e.eligible(d)
	if err != nil || !ok {
		return err
	}

	parents := roaring.New()
	for it := e.neighbors[d].Iterator(); it.HasNext(); {
		p := e.uf.Find(int(it.Next()))
		if p == d || parents.Contains(uint32(p)) {
			continue
		}
		tracked, err := e.store.IsTrackAssociated(e.handles[p])
		if err != nil {
			return fmt.Errorf("parent %s: %w", e.handles[p], err)
		}
		if tracked {
			parents.Add(uint32(p))
		}
	}

	var kept []candidate
	for it := parents.Iterator(); it.HasNext(); {
		p := int(it.Next())
		c, outcome := contact.Score(e.clusters[d], e.clusters[p], e.cfg.Contact)
		e.pairsScored++
		e.scoredBy[p].Add(uint32(d))
		e.parentsOf[d].Add(uint32(p))
		if pfa.TraceEnabled() {
			pfa.Tracef("[FragmentRemoval] pair d=%s p=%s outcome=%s layers=%d cone=%.2f trk=%.1f closest=%.1f evidence=%.3f required=%.3f",
				c.Daughter, c.Parent, outcome, c.Record.NContactLayers, c.Record.ConeFraction1,
				c.Record.ClosestTrajectoryDistance, c.Record.ClosestHitDistance, c.Evidence.Total(), c.Required)
		}
		if outcome == contact.Accepted {
			kept = append(kept, candidate{parent: p, Candidate: c})
		}
	}

	if len(kept) == 0 {
		return nil
	}
	if !e.preselect(d, kept) {
		pfa.Diagf("[FragmentRemoval] run=%s daughter=%s rejected by energy preselection (%d candidates)",
			e.runID, e.handles[d], len(kept))
		return nil
	}
	e.candidates[d] = kept
	e.pending.Add(uint32(d))
	return nil
}

// preselect keeps a daughter if merging it with any single candidate
// parent, or with all of them together, is energy consistent.
func (e *Engine) preselect(d int, kept []candidate) bool {
	daughterEnergy := e.clusters[d].HadEnergy
	var sumEnergy, sumMomentum float64
	for _, c := range kept {
		p := e.clusters[c.parent]
		if e.cfg.consistent(p.HadEnergy, daughterEnergy, p.TrajectoryMomentum()) {
			return true
		}
		sumEnergy += p.HadEnergy
		sumMomentum += p.TrajectoryMomentum()
	}
	return e.cfg.consistent(sumEnergy, daughterEnergy, sumMomentum)
}

// best returns the candidate with the largest excess. Ties go to the more
// energetic parent, then to the lower daughter and parent indices.
func (e *Engine) best() (int, candidate, bool) {
	var (
		bestD int
		best  candidate
		found bool
	)
	for it := e.pending.Iterator(); it.HasNext(); {
		d := int(it.Next())
		for _, c := range e.candidates[d] {
			if !found || better(c, best) {
				bestD, best, found = d, c, true
			}
		}
	}
	return bestD, best, found
}

func better(a, b candidate) bool {
	if a.Excess != b.Excess {
		return a.Excess > b.Excess
	}
	return a.ParentEnergy > b.ParentEnergy
}

// merge folds daughter d into best.parent and invalidates the affected
// records.
func (e *Engine) merge(d int, best candidate) error {
	p := best.parent
	ph, dh := e.handles[p], e.handles[d]

	if err := e.store.MergeAndDelete(ph, dh); err != nil {
		return fmt.Errorf("merge %s into %s: %w", dh, ph, err)
	}
	e.uf.Unite(d, p)

	affected := roaring.Or(e.scoredBy[p], e.scoredBy[d])
	affected.Or(e.neighbors[d])
	affected.Add(uint32(d))
	for it := affected.Iterator(); it.HasNext(); {
		e.forget(int(it.Next()))
	}
	e.dirty.Or(affected)

	m := Merge{
		Step:           len(e.merges) + 1,
		Parent:         ph,
		Daughter:       dh,
		Evidence:       best.Evidence.Total(),
		Required:       best.Required,
		Excess:         best.Excess,
		ParentEnergy:   e.clusters[p].HadEnergy,
		DaughterEnergy: e.clusters[d].HadEnergy,
	}

	rebuilt, err := e.load(ph)
	if err != nil {
		return err
	}
	e.clusters[p] = rebuilt
	e.clusters[d] = nil
	e.neighbors[p].Or(e.neighbors[d])
	e.neighbors[p].Remove(uint32(p))
	e.neighbors[d].Clear()

	e.merges = append(e.merges, m)
	pfa.Diagf("[FragmentRemoval] run=%s merge=%d %s <- %s excess=%.3f evidence=%.3f required=%.3f E=%.3f+%.3f affected=%d",
		e.runID, m.Step, ph, dh, m.Excess, m.Evidence, m.Required, m.ParentEnergy, m.DaughterEnergy, affected.GetCardinality())
	return nil
}
