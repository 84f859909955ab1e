// Package contact computes the spatial relationship between a daughter
// and a parent cluster and turns it into merge evidence.
//
// Every feature is a pure function of the two clusters' current hits and
// trajectories and is obtained through the parent's local spatial index.
// A feature that cannot be computed (no usable axis, degenerate
// trajectory) is reported as absent instead of failing the pair.
package contact

import (
	"math"

	"github.com/banshee-data/particleflow/internal/pfa/event"
)

// Record holds the contact features of one (daughter, parent) pair.
type Record struct {
	Daughter event.ClusterHandle
	Parent   event.ClusterHandle

	NContactLayers  int
	ContactFraction float64

	HasConeAxis   bool
	ConeFraction1 float64
	ConeFraction2 float64
	ConeFraction3 float64

	HasTrajectoryDistance     bool
	ClosestTrajectoryDistance float64
	MeanTrajectoryDistance    float64

	ClosestHitDistance float64
	CloseHitFraction1  float64
	CloseHitFraction2  float64
}

// Compute evaluates every contact feature of daughter relative to parent.
func Compute(daughter, parent *Cluster, p Params) Record {
	r := Record{
		Daughter:                  daughter.Handle,
		Parent:                    parent.Handle,
		ClosestTrajectoryDistance: math.Inf(1),
		MeanTrajectoryDistance:    math.Inf(1),
		ClosestHitDistance:        math.Inf(1),
	}
	if len(daughter.Hits) == 0 || len(parent.Hits) == 0 {
		return r
	}

	contactLayers(&r, daughter, parent, p)
	coneFractions(&r, daughter, parent, p)
	trajectoryDistances(&r, daughter, parent, p)
	closestHits(&r, daughter, parent, p)
	return r
}

// contactLayers counts the layers, within the overlap of both clusters,
// where a daughter hit has a same-layer parent hit within ContactDistance.
func contactLayers(r *Record, daughter, parent *Cluster, p Params) {
	lo := max(daughter.InnerLayer, parent.InnerLayer)
	hi := min(daughter.OuterLayer, parent.OuterLayer)
	if lo > hi {
		return
	}

	overlap := 0
	for layer := lo; layer <= hi; layer++ {
		if daughter.HasLayer(layer) && parent.HasLayer(layer) {
			overlap++
		}
	}
	if overlap == 0 {
		return
	}

	inContact := make(map[int]bool)
	for _, hit := range daughter.Hits {
		if hit.Layer < lo || hit.Layer > hi || inContact[hit.Layer] || !parent.HasLayer(hit.Layer) {
			continue
		}
		for _, q := range parent.Index().SearchRadius(hit.Position[:], p.ContactDistance) {
			if parent.Hits[q.Payload].Layer == hit.Layer {
				inContact[hit.Layer] = true
				break
			}
		}
	}
	r.NContactLayers = len(inContact)
	r.ContactFraction = float64(len(inContact)) / float64(overlap)
}

// coneFractions measures how much of the daughter lies inside cones of
// increasing half-angle around the parent's projected direction.
func coneFractions(r *Record, daughter, parent *Cluster, p Params) {
	apex, dir, ok := parent.ConeAxis()
	if !ok {
		return
	}
	r.HasConeAxis = true

	var n1, n2, n3 int
	for _, hit := range daughter.Hits {
		v := event.Sub(hit.Position, apex)
		u, ok := event.Normalize(v)
		if !ok {
			// A hit on the apex is inside every cone.
			n1++
			n2++
			n3++
			continue
		}
		cos := event.Dot(u, dir)
		if cos > p.ConeCosineHalfAngle1 {
			n1++
		}
		if cos > p.ConeCosineHalfAngle2 {
			n2++
		}
		if cos > p.ConeCosineHalfAngle3 {
			n3++
		}
	}
	n := float64(len(daughter.Hits))
	r.ConeFraction1 = float64(n1) / n
	r.ConeFraction2 = float64(n2) / n
	r.ConeFraction3 = float64(n3) / n
}

// trajectoryDistances measures daughter hits in its first
// TrajectorySearchLayers layers against each parent trajectory, ignoring
// layers the trajectory is not followed through.
func trajectoryDistances(r *Record, daughter, parent *Cluster, p Params) {
	lastLayer := min(daughter.InnerLayer+p.TrajectorySearchLayers-1, p.TrajectoryMaxLayersCrossed)

	for _, tr := range parent.Trajectories {
		var sum float64
		n := 0
		for _, hit := range daughter.Hits {
			if hit.Layer > lastLayer {
				continue
			}
			d, ok := tr.DistanceTo(hit.Position)
			if !ok {
				break
			}
			sum += d
			n++
			r.ClosestTrajectoryDistance = math.Min(r.ClosestTrajectoryDistance, d)
		}
		if n == 0 {
			continue
		}
		r.HasTrajectoryDistance = true
		r.MeanTrajectoryDistance = math.Min(r.MeanTrajectoryDistance, sum/float64(n))
	}
}

// closestHits finds, for every daughter hit, the nearest parent hit.
func closestHits(r *Record, daughter, parent *Cluster, p Params) {
	var n1, n2 int
	for _, hit := range daughter.Hits {
		_, d, ok := parent.Index().FindNearest(hit.Position[:])
		if !ok {
			continue
		}
		r.ClosestHitDistance = math.Min(r.ClosestHitDistance, d)
		if d < p.CloseHitDistance1 {
			n1++
		}
		if d < p.CloseHitDistance2 {
			n2++
		}
	}
	n := float64(len(daughter.Hits))
	r.CloseHitFraction1 = float64(n1) / n
	r.CloseHitFraction2 = float64(n2) / n
}

// PassesContactCuts is the cheap pre-filter applied before scoring. The
// closest hit distance is a hard gate; beyond it any single test passes.
func PassesContactCuts(r Record, p Params) bool {
	if !(r.ClosestHitDistance < p.CutMaxDistance) {
		return false
	}
	if r.NContactLayers >= p.CutMinContactLayers {
		return true
	}
	if r.HasConeAxis && r.ConeFraction1 > p.CutConeFraction1 {
		return true
	}
	if r.CloseHitFraction1 > p.CutCloseHitFraction1 || r.CloseHitFraction2 > p.CutCloseHitFraction2 {
		return true
	}
	if r.HasTrajectoryDistance &&
		(r.ClosestTrajectoryDistance < p.CutClosestTrajectoryDistance || r.MeanTrajectoryDistance < p.CutMeanTrajectoryDistance) {
		return true
	}
	return false
}
