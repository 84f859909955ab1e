package fragment

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/particleflow/internal/pfa/association"
	"github.com/banshee-data/particleflow/internal/pfa/contact"
	"github.com/banshee-data/particleflow/internal/pfa/event"
	"github.com/banshee-data/particleflow/internal/pfa/synthetic"
)

const collection = "Clusters"

func showerHits(n int, energy float64) []event.Hit {
	hits := make([]event.Hit, n)
	for i := range hits {
		hits[i] = event.Hit{
			Position:  [3]float64{float64(10 * (i%3 - 1)), 0, 2000 + 25*float64(i)},
			Layer:     i,
			HadEnergy: energy,
		}
	}
	return hits
}

func fragmentHits(first, n int, x, energy float64) []event.Hit {
	hits := make([]event.Hit, n)
	for i := range hits {
		layer := first + i
		hits[i] = event.Hit{
			Position:  [3]float64{x, 0, 2000 + 25*float64(layer)},
			Layer:     layer,
			HadEnergy: energy,
		}
	}
	return hits
}

func addTracked(t *testing.T, ev *event.Event, hits []event.Hit, momentum float64) event.ClusterHandle {
	t.Helper()
	h := ev.AddCluster(collection, hits)
	id := ev.AddTrajectory(event.Trajectory{
		Origin:    [3]float64{0, 0, 2000},
		Direction: [3]float64{0, 0, 1},
		Momentum:  momentum,
		Charge:    1,
	})
	require.NoError(t, ev.AssociateTrajectory(h, id))
	return h
}

// scenario builds a tracked shower A (50 hits, 10 GeV), a 0.3 GeV fragment B
// 30 mm from A's trajectory and an identical fragment C 5 m away.
func scenario(t *testing.T) (ev *event.Event, a, b, c event.ClusterHandle) {
	t.Helper()
	ev = event.New("scenario")
	a = addTracked(t, ev, showerHits(50, 0.2), 10)
	b = ev.AddCluster(collection, fragmentHits(10, 4, 30, 0.075))
	c = ev.AddCluster(collection, fragmentHits(10, 4, 5000, 0.075))
	return ev, a, b, c
}

func mustEngine(t *testing.T, store ObjectStore, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(store, cfg)
	require.NoError(t, err)
	return e
}

func TestScenario_HitFloorExcludesFragment(t *testing.T) {
	ev, _, _, _ := scenario(t)
	cfg := DefaultConfig()
	require.Equal(t, 750.0, cfg.Contact.CutMaxDistance)
	require.Equal(t, 5, cfg.MinDaughterHits)

	res, err := mustEngine(t, ev, cfg).Run()
	require.NoError(t, err)

	assert.Empty(t, res.Merges)
	assert.Zero(t, res.PairsScored)
	assert.Equal(t, 3, res.ClustersBefore)
	assert.Equal(t, 3, res.ClustersAfter)
	assert.Equal(t, 3, ev.NumClusters())
}

func TestScenario_FragmentMergesIntoShower(t *testing.T) {
	ev, a, b, c := scenario(t)
	cfg := DefaultConfig()
	cfg.MinDaughterHits = 3

	e := mustEngine(t, ev, cfg)
	res, err := e.Run()
	require.NoError(t, err)

	require.Len(t, res.Merges, 1)
	m := res.Merges[0]
	assert.Equal(t, a, m.Parent)
	assert.Equal(t, b, m.Daughter)
	assert.Greater(t, m.Excess, 0.0)
	assert.InDelta(t, 10.0, m.ParentEnergy, 1e-9)
	assert.InDelta(t, 0.3, m.DaughterEnergy, 1e-9)

	// C is outside the neighbour radius of every tracked cluster, so only
	// (B, A) is ever scored.
	assert.Equal(t, 1, res.PairsScored)
	assert.Equal(t, 2, res.ClustersAfter)
	assert.Equal(t, Done, e.State())
	assert.NotEmpty(t, res.RunID)

	assert.False(t, ev.Valid(b))
	assert.True(t, ev.Valid(c))
	s, err := ev.Summary(a)
	require.NoError(t, err)
	assert.Equal(t, 54, s.NHits)
	assert.InDelta(t, 10.3, s.HadEnergy, 1e-9)
}

func TestScenario_NeighborCacheExcludesFarCluster(t *testing.T) {
	ev, _, _, _ := scenario(t)
	cfg := DefaultConfig()
	cfg.MinDaughterHits = 3

	e := mustEngine(t, ev, cfg)
	require.NoError(t, e.Initialize())

	assert.True(t, e.neighbors[0].Contains(1), "A and B are neighbours")
	assert.True(t, e.neighbors[1].Contains(0))
	assert.True(t, e.neighbors[2].IsEmpty(), "C has no neighbours")
	assert.False(t, e.neighbors[0].Contains(2))
}

// fragmentedShower is a tracked shower with several nearby fragments.
func fragmentedShower(t *testing.T, nFragments int) *event.Event {
	t.Helper()
	ev := event.New("fragmented")
	addTracked(t, ev, showerHits(50, 0.2), 10)
	for k := 0; k < nFragments; k++ {
		x := 20 + 12*float64(k)
		if k%2 == 1 {
			x = -x
		}
		ev.AddCluster(collection, fragmentHits(5+7*k, 5, x, 0.1))
	}
	return ev
}

func TestEngine_TerminationAndMonotonicity(t *testing.T) {
	ev := fragmentedShower(t, 6)
	e := mustEngine(t, ev, DefaultConfig())
	require.NoError(t, e.Initialize())

	n := e.Count()
	require.Equal(t, 7, n)

	steps := 0
	for {
		before := e.Count()
		merged, err := e.Step()
		require.NoError(t, err)
		if !merged {
			assert.Equal(t, before, e.Count())
			break
		}
		steps++
		assert.Equal(t, before-1, e.Count(), "each merge removes exactly one cluster")
		require.LessOrEqual(t, steps, n-1)
	}

	assert.Equal(t, Done, e.State())
	assert.Greater(t, steps, 0)
	assert.Equal(t, n-steps, ev.NumClusters())

	merged, err := e.Step()
	assert.NoError(t, err)
	assert.False(t, merged, "Step after Done is a no-op")
}

// A fragment that only neighbours another fragment becomes reachable once
// that fragment is absorbed, and must be rescored against the survivor.
func TestEngine_ChainThroughAbsorbedNeighbor(t *testing.T) {
	ev := event.New("chain")
	p := addTracked(t, ev, showerHits(50, 0.2), 10)
	d := ev.AddCluster(collection, fragmentHits(10, 6, 80, 0.1))
	x := ev.AddCluster(collection, fragmentHits(10, 6, 160, 0.1))

	cfg := DefaultConfig()
	cfg.MaxNeighborDistance = 100

	e := mustEngine(t, ev, cfg)
	require.NoError(t, e.Initialize())
	require.True(t, e.neighbors[1].Contains(0), "D neighbours P")
	require.True(t, e.neighbors[2].Contains(1), "X neighbours D")
	require.False(t, e.neighbors[2].Contains(0), "X is out of reach of P")

	for {
		merged, err := e.Step()
		require.NoError(t, err)
		if !merged {
			break
		}
	}

	require.Len(t, e.merges, 2)
	first, second := e.merges[0], e.merges[1]
	assert.Equal(t, p, first.Parent)
	assert.Equal(t, d, first.Daughter)
	assert.InDelta(t, 2.289, first.Excess, 1e-3)
	assert.Equal(t, p, second.Parent)
	assert.Equal(t, x, second.Daughter)
	assert.InDelta(t, 0.784, second.Excess, 1e-3)

	assert.Equal(t, 1, ev.NumClusters())
	s, err := ev.Summary(p)
	require.NoError(t, err)
	assert.Equal(t, 62, s.NHits)
}

type mergePair struct {
	parent, daughter event.ClusterHandle
}

// freshEngineMerges replays the event one merge at a time, each with a new
// engine that scores every pair from scratch.
func freshEngineMerges(t *testing.T, ev *event.Event, cfg Config) []mergePair {
	t.Helper()
	var out []mergePair
	for {
		e := mustEngine(t, ev, cfg)
		require.NoError(t, e.Initialize())
		merged, err := e.Step()
		require.NoError(t, err)
		if !merged {
			return out
		}
		m := e.merges[0]
		out = append(out, mergePair{m.Parent, m.Daughter})
	}
}

func TestEngine_IncrementalMatchesFreshEngine(t *testing.T) {
	cfg := DefaultConfig()
	total := 0
	for _, ev := range synthetic.Events(12, 2024, synthetic.DefaultConfig()) {
		_, err := association.Run(ev, association.DefaultConfig())
		require.NoError(t, err)
		ref := ev.Clone()

		res, err := mustEngine(t, ev, cfg).Run()
		require.NoError(t, err)
		got := make([]mergePair, len(res.Merges))
		for i, m := range res.Merges {
			got[i] = mergePair{m.Parent, m.Daughter}
		}

		want := freshEngineMerges(t, ref, cfg)
		assert.Equal(t, want, got, "event %s", ev.ID)
		assert.Equal(t, ref.NumClusters(), ev.NumClusters(), "event %s", ev.ID)
		total += len(got)
	}
	assert.Greater(t, total, 0, "synthetic events produce merges")
}

func TestEngine_Conservation(t *testing.T) {
	ev := fragmentedShower(t, 4)
	e := mustEngine(t, ev, DefaultConfig())
	require.NoError(t, e.Initialize())

	summaries := func() map[event.ClusterHandle]event.ClusterSummary {
		hs, err := ev.CurrentClusters()
		require.NoError(t, err)
		out := make(map[event.ClusterHandle]event.ClusterSummary, len(hs))
		for _, h := range hs {
			s, err := ev.Summary(h)
			require.NoError(t, err)
			out[h] = s
		}
		return out
	}

	for {
		prior := summaries()
		merged, err := e.Step()
		require.NoError(t, err)
		if !merged {
			break
		}
		m := e.merges[len(e.merges)-1]
		p, d := prior[m.Parent], prior[m.Daughter]

		after, err := ev.Summary(m.Parent)
		require.NoError(t, err)
		assert.Equal(t, p.NHits+d.NHits, after.NHits)
		assert.InDelta(t, p.HadEnergy+d.HadEnergy, after.HadEnergy, 1e-9)
		assert.InDelta(t, p.EMEnergy+d.EMEnergy, after.EMEnergy, 1e-9)
		assert.InDelta(t, p.HadEnergy, m.ParentEnergy, 1e-9)
		assert.InDelta(t, d.HadEnergy, m.DaughterEnergy, 1e-9)
	}
	assert.NotEmpty(t, e.merges)
}

func TestEngine_FixedPoint(t *testing.T) {
	ev := event.New("isolated")
	addTracked(t, ev, showerHits(50, 0.2), 10)
	ev.AddCluster(collection, fragmentHits(10, 6, 2000, 0.2))
	ev.AddCluster(collection, fragmentHits(20, 6, -2000, 0.2))
	before := ev.Clone()

	res, err := mustEngine(t, ev, DefaultConfig()).Run()
	require.NoError(t, err)
	assert.Empty(t, res.Merges)

	hs, err := ev.CurrentClusters()
	require.NoError(t, err)
	for _, h := range hs {
		want, err := before.Summary(h)
		require.NoError(t, err)
		got, err := ev.Summary(h)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Running again on a merged-out event also changes nothing.
	ev2 := fragmentedShower(t, 3)
	_, err = mustEngine(t, ev2, DefaultConfig()).Run()
	require.NoError(t, err)
	n := ev2.NumClusters()
	res, err = mustEngine(t, ev2, DefaultConfig()).Run()
	require.NoError(t, err)
	assert.Empty(t, res.Merges)
	assert.Equal(t, n, ev2.NumClusters())
}

func TestEngine_EnergyPreselection(t *testing.T) {
	ev := event.New("preselect")
	addTracked(t, ev, showerHits(50, 0.2), 10)
	ev.AddCluster(collection, fragmentHits(10, 4, 30, 5))

	cfg := DefaultConfig()
	cfg.MinDaughterHits = 3
	res, err := mustEngine(t, ev, cfg).Run()
	require.NoError(t, err)

	assert.Equal(t, 1, res.PairsScored, "pair is scored")
	assert.Empty(t, res.Merges, "20 GeV on a 10 GeV track is inconsistent")
}

func TestEngine_EmptyInput(t *testing.T) {
	ev := event.New("empty")
	ev.CreateCollection(collection)
	require.NoError(t, ev.SetCurrentCollection(collection))

	e := mustEngine(t, ev, DefaultConfig())
	res, err := e.Run()
	require.NoError(t, err)
	assert.Equal(t, Done, e.State())
	assert.Zero(t, res.ClustersBefore)
	assert.Empty(t, res.Merges)
}

func TestEngine_NoEligibleDaughters(t *testing.T) {
	ev := event.New("tracks-only")
	addTracked(t, ev, showerHits(50, 0.2), 10)
	addTracked(t, ev, fragmentHits(10, 10, 30, 0.2), 2)

	res, err := mustEngine(t, ev, DefaultConfig()).Run()
	require.NoError(t, err)
	assert.Empty(t, res.Merges)
	assert.Zero(t, res.PairsScored)
}

func TestEngine_NoCurrentCollection(t *testing.T) {
	e := mustEngine(t, event.New("none"), DefaultConfig())
	_, err := e.Run()
	assert.ErrorIs(t, err, event.ErrNoCurrentCollection)
}

func TestEngine_StepBeforeInitialize(t *testing.T) {
	ev, _, _, _ := scenario(t)
	_, err := mustEngine(t, ev, DefaultConfig()).Step()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

var errStoreDown = errors.New("store down")

// flakyStore fails the n-th merge request.
type flakyStore struct {
	*event.Event
	failAt int
	calls  int
}

func (s *flakyStore) MergeAndDelete(parent, daughter event.ClusterHandle) error {
	s.calls++
	if s.calls == s.failAt {
		return errStoreDown
	}
	return s.Event.MergeAndDelete(parent, daughter)
}

func TestEngine_StoreFailurePropagates(t *testing.T) {
	ev := event.New("flaky")
	addTracked(t, ev, showerHits(50, 0.2), 10)
	ev.AddCluster(collection, fragmentHits(10, 4, 30, 0.075))
	ev.AddCluster(collection, fragmentHits(20, 4, -30, 0.075))

	cfg := DefaultConfig()
	cfg.MinDaughterHits = 3
	store := &flakyStore{Event: ev, failAt: 2}

	res, err := mustEngine(t, store, cfg).Run()
	require.Error(t, err)
	assert.ErrorIs(t, err, errStoreDown)

	// The first merge is kept; nothing is rolled back.
	assert.Len(t, res.Merges, 1)
	assert.Equal(t, 2, ev.NumClusters())
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	ev, _, _, _ := scenario(t)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero hit floor", func(c *Config) { c.MinDaughterHits = 0 }},
		{"negative energy floor", func(c *Config) { c.MinDaughterEnergy = -1 }},
		{"zero resolution", func(c *Config) { c.ChiResolution = 0 }},
		{"zero chi2", func(c *Config) { c.MaxChi2 = 0 }},
		{"negative neighbour cap", func(c *Config) { c.MaxNeighborDistance = -1 }},
		{"bad contact params", func(c *Config) { c.Contact.CutMaxDistance = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewEngine(ev, cfg)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("NewEngine() error = %v, want ErrInvalidConfig", err)
			}
		})
	}

	t.Run("contact error is also wrapped", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Contact.ContactDistance = math.NaN()
		_, err := NewEngine(ev, cfg)
		assert.ErrorIs(t, err, contact.ErrInvalidParams)
	})

	t.Run("nil store", func(t *testing.T) {
		_, err := NewEngine(nil, DefaultConfig())
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestConfig_NeighborRadius(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 750.0, cfg.NeighborRadius())
	cfg.MaxNeighborDistance = 300
	assert.Equal(t, 300.0, cfg.NeighborRadius())
	cfg.MaxNeighborDistance = 1000
	assert.Equal(t, 750.0, cfg.NeighborRadius())
}

func TestConfig_Consistent(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name          string
		cluster, d, p float64
		want          bool
	}{
		{"small addition", 10, 0.3, 10, true},
		{"large addition", 10, 20, 10, false},
		{"brings deficit closer", 2, 5, 20, true},
		{"no momentum", 10, 100, 0, true},
	}
	for _, tt := range tests {
		if got := cfg.consistent(tt.cluster, tt.d, tt.p); got != tt.want {
			t.Errorf("%s: consistent(%v, %v, %v) = %v, want %v", tt.name, tt.cluster, tt.d, tt.p, got, tt.want)
		}
	}
}

func TestBetter_TieBreaks(t *testing.T) {
	mk := func(excess, parentEnergy float64) candidate {
		return candidate{Candidate: contact.Candidate{Excess: excess, ParentEnergy: parentEnergy}}
	}
	assert.True(t, better(mk(2, 1), mk(1, 5)))
	assert.True(t, better(mk(1, 5), mk(1, 1)))
	assert.False(t, better(mk(1, 1), mk(1, 1)), "equal candidates keep the first found")
}
