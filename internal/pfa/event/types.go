package event

import (
	"fmt"
	"math"
)

// Hit is a single calorimeter cell measurement.
type Hit struct {
	Position  [3]float64 // mm
	Layer     int        // pseudo-layer, increasing with depth
	HadEnergy float64    // hadronic energy scale, GeV
	EMEnergy  float64    // electromagnetic energy scale, GeV
}

// TrajectoryID identifies a trajectory within one event.
type TrajectoryID int

// Trajectory is the projection of a charged particle into the calorimeter,
// modelled as a straight line from the calorimeter entry point.
type Trajectory struct {
	ID        TrajectoryID
	Origin    [3]float64 // entry point, mm
	Direction [3]float64 // momentum direction at entry, any length
	Momentum  float64    // GeV
	Charge    int
}

// UnitDirection returns the normalised direction. ok is false when the
// direction has zero length and no projection can be made.
func (tr Trajectory) UnitDirection() (u [3]float64, ok bool) {
	return Normalize(tr.Direction)
}

// PositionAt returns the point at path length s along the trajectory.
// A degenerate trajectory stays at its origin.
func (tr Trajectory) PositionAt(s float64) [3]float64 {
	u, ok := tr.UnitDirection()
	if !ok {
		return tr.Origin
	}
	return [3]float64{
		tr.Origin[0] + s*u[0],
		tr.Origin[1] + s*u[1],
		tr.Origin[2] + s*u[2],
	}
}

// DistanceTo returns the distance from p to the forward half-line of the
// trajectory. Points behind the origin are measured to the origin itself.
// ok is false for a degenerate trajectory.
func (tr Trajectory) DistanceTo(p [3]float64) (float64, bool) {
	u, ok := tr.UnitDirection()
	if !ok {
		return math.Inf(1), false
	}
	d := Sub(p, tr.Origin)
	s := Dot(d, u)
	if s <= 0 {
		return Norm(d), true
	}
	return Norm(Sub(d, Scale(u, s))), true
}

// ClusterHandle is an opaque reference to a cluster in an Event arena. A
// handle becomes stale once its cluster is destroyed.
type ClusterHandle struct {
	Index      uint32
	Generation uint32
}

func (h ClusterHandle) String() string {
	return fmt.Sprintf("c%d.%d", h.Index, h.Generation)
}

// Cluster owns a set of hits, running energy sums and the trajectories
// associated with it.
type Cluster struct {
	Hits         []Hit
	HadEnergy    float64
	EMEnergy     float64
	Trajectories []TrajectoryID
}

// ClusterSummary is a read-only view of a cluster's aggregate state.
type ClusterSummary struct {
	Handle        ClusterHandle
	NHits         int
	HadEnergy     float64
	EMEnergy      float64
	InnerLayer    int
	OuterLayer    int
	NTrajectories int
}

func (c *Cluster) summary(h ClusterHandle) ClusterSummary {
	s := ClusterSummary{
		Handle:        h,
		NHits:         len(c.Hits),
		HadEnergy:     c.HadEnergy,
		EMEnergy:      c.EMEnergy,
		NTrajectories: len(c.Trajectories),
	}
	for i, hit := range c.Hits {
		if i == 0 || hit.Layer < s.InnerLayer {
			s.InnerLayer = hit.Layer
		}
		if i == 0 || hit.Layer > s.OuterLayer {
			s.OuterLayer = hit.Layer
		}
	}
	return s
}

// Vector helpers shared by the contact and association code.

// Sub returns a-b.
func Sub(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

// Add returns a+b.
func Add(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

// Scale returns a*s.
func Scale(a [3]float64, s float64) [3]float64 {
	return [3]float64{a[0] * s, a[1] * s, a[2] * s}
}

// Dot returns the scalar product of a and b.
func Dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

// Norm returns the Euclidean length of a.
func Norm(a [3]float64) float64 {
	return math.Sqrt(Dot(a, a))
}

// Normalize returns a scaled to unit length. ok is false for a zero or
// non-finite vector.
func Normalize(a [3]float64) ([3]float64, bool) {
	n := Norm(a)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return [3]float64{}, false
	}
	return Scale(a, 1/n), true
}
