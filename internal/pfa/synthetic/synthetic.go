// Package synthetic generates reproducible calorimeter events for tests,
// demos and benchmarks.
//
// Each charged shower comes with an unassociated trajectory entering it
// and a few split-off fragments alongside it. Neutral clusters are placed
// uniformly. The same seed always produces the same event.
package synthetic

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/banshee-data/particleflow/internal/pfa/event"
)

// Collection is the name of the generated cluster collection.
const Collection = "Clusters"

// Config describes the generated event.
type Config struct {
	Showers            int
	MaxFragments       int     // per shower, at least one
	Neutrals           int
	Layers             int     // instrumented pseudo-layers
	LayerPitch         float64 // mm
	FrontFace          float64 // z of layer 0, mm
	HalfWidth          float64 // |x|,|y| extent of shower entry points, mm
	LateralSpread      float64 // sigma of shower hits around the axis, mm
	MinMomentum        float64 // GeV
	MaxMomentum        float64
	FragmentEnergyFrac float64 // fraction of shower energy carried by fragments
}

// DefaultConfig returns a moderately busy event.
func DefaultConfig() Config {
	return Config{
		Showers:            4,
		MaxFragments:       2,
		Neutrals:           3,
		Layers:             60,
		LayerPitch:         25,
		FrontFace:          2000,
		HalfWidth:          1500,
		LateralSpread:      12,
		MinMomentum:        4,
		MaxMomentum:        20,
		FragmentEnergyFrac: 0.1,
	}
}

// Generate builds event id from seed.
func Generate(id string, seed uint64, cfg Config) *event.Event {
	g := generator{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		ev:  event.New(id),
	}
	g.ev.CreateCollection(Collection)
	_ = g.ev.SetCurrentCollection(Collection)
	for i := 0; i < cfg.Showers; i++ {
		g.shower()
	}
	for i := 0; i < cfg.Neutrals; i++ {
		g.neutral()
	}
	return g.ev
}

// Events generates n events with consecutive seeds.
func Events(n int, seed uint64, cfg Config) []*event.Event {
	evs := make([]*event.Event, n)
	for i := range evs {
		evs[i] = Generate(fmt.Sprintf("synthetic-%d-%04d", seed, i), seed+uint64(i), cfg)
	}
	return evs
}

type generator struct {
	cfg Config
	rng *rand.Rand
	ev  *event.Event
}

func (g *generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

func (g *generator) z(layer int) float64 {
	return g.cfg.FrontFace + float64(layer)*g.cfg.LayerPitch
}

// along returns the point on the line (origin, dir) at the given layer.
func (g *generator) along(origin, dir [3]float64, layer int) [3]float64 {
	s := (g.z(layer) - origin[2]) / dir[2]
	return event.Add(origin, event.Scale(dir, s))
}

func (g *generator) shower() {
	momentum := g.uniform(g.cfg.MinMomentum, g.cfg.MaxMomentum)
	origin := [3]float64{
		g.uniform(-g.cfg.HalfWidth, g.cfg.HalfWidth),
		g.uniform(-g.cfg.HalfWidth, g.cfg.HalfWidth),
		g.cfg.FrontFace - g.cfg.LayerPitch/2,
	}
	dir, _ := event.Normalize([3]float64{g.rng.NormFloat64() * 0.05, g.rng.NormFloat64() * 0.05, 1})

	g.ev.AddTrajectory(event.Trajectory{
		Origin:    origin,
		Direction: dir,
		Momentum:  momentum,
		Charge:    1 - 2*g.rng.IntN(2),
	})

	depth := min(20+g.rng.IntN(25), g.cfg.Layers)
	perLayer := 3
	coreEnergy := momentum * (1 - g.cfg.FragmentEnergyFrac)
	hitEnergy := coreEnergy / float64(depth*perLayer)

	var hits []event.Hit
	for layer := 0; layer < depth; layer++ {
		axis := g.along(origin, dir, layer)
		for k := 0; k < perLayer; k++ {
			hits = append(hits, event.Hit{
				Position: [3]float64{
					axis[0] + g.rng.NormFloat64()*g.cfg.LateralSpread,
					axis[1] + g.rng.NormFloat64()*g.cfg.LateralSpread,
					axis[2],
				},
				Layer:     layer,
				HadEnergy: hitEnergy,
				EMEnergy:  hitEnergy * 0.7,
			})
		}
	}
	g.ev.AddCluster(Collection, hits)

	nFragments := 1 + g.rng.IntN(max(g.cfg.MaxFragments, 1))
	fragmentEnergy := momentum * g.cfg.FragmentEnergyFrac / float64(nFragments)
	for i := 0; i < nFragments; i++ {
		g.fragment(origin, dir, depth, fragmentEnergy)
	}
}

// fragment places a short column of hits 40-80 mm off the shower axis.
func (g *generator) fragment(origin, dir [3]float64, depth int, energy float64) {
	n := 5 + g.rng.IntN(3)
	first := 8 + g.rng.IntN(max(depth-n-8, 1))
	offset := g.uniform(40, 80)
	phi := g.uniform(0, 2*math.Pi)
	dx, dy := offset*math.Cos(phi), offset*math.Sin(phi)

	hits := make([]event.Hit, n)
	for i := range hits {
		layer := first + i
		axis := g.along(origin, dir, layer)
		hits[i] = event.Hit{
			Position:  [3]float64{axis[0] + dx, axis[1] + dy, axis[2]},
			Layer:     layer,
			HadEnergy: energy / float64(n),
			EMEnergy:  energy / float64(n) * 0.5,
		}
	}
	g.ev.AddCluster(Collection, hits)
}

// neutral places a compact cluster with no trajectory.
func (g *generator) neutral() {
	center := [2]float64{
		g.uniform(-g.cfg.HalfWidth, g.cfg.HalfWidth),
		g.uniform(-g.cfg.HalfWidth, g.cfg.HalfWidth),
	}
	first := g.rng.IntN(max(g.cfg.Layers-10, 1))
	n := 6 + g.rng.IntN(10)
	energy := g.uniform(0.5, 5)

	hits := make([]event.Hit, n)
	for i := range hits {
		layer := first + i/2
		hits[i] = event.Hit{
			Position: [3]float64{
				center[0] + g.rng.NormFloat64()*g.cfg.LateralSpread,
				center[1] + g.rng.NormFloat64()*g.cfg.LateralSpread,
				g.z(layer),
			},
			Layer:     layer,
			HadEnergy: energy / float64(n),
			EMEnergy:  energy / float64(n) * 0.9,
		}
	}
	g.ev.AddCluster(Collection, hits)
}
