package contact

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/particleflow/internal/pfa/event"
	"github.com/banshee-data/particleflow/internal/pfa/kdtree"
)

// Cluster is the contact model's view of one cluster: its hits, a local
// spatial index over them and the derived quantities the features need.
// It is rebuilt whenever the underlying cluster changes.
type Cluster struct {
	Handle       event.ClusterHandle
	Hits         []event.Hit
	Trajectories []event.Trajectory

	HadEnergy  float64
	EMEnergy   float64
	InnerLayer int
	OuterLayer int

	Centroid      [3]float64
	InnerCentroid [3]float64
	OuterCentroid [3]float64

	index     *kdtree.Tree[int]
	layerHits map[int]int
	axis      [3]float64
	hasAxis   bool
}

// NewCluster builds the contact view of a cluster.
func NewCluster(h event.ClusterHandle, hits []event.Hit, trajectories []event.Trajectory) (*Cluster, error) {
	c := &Cluster{
		Handle:       h,
		Hits:         hits,
		Trajectories: trajectories,
		layerHits:    make(map[int]int),
	}

	points := make([]kdtree.Point[int], len(hits))
	for i, hit := range hits {
		points[i] = kdtree.Point[int]{
			Coords:  []float64{hit.Position[0], hit.Position[1], hit.Position[2]},
			Payload: i,
		}
		c.HadEnergy += hit.HadEnergy
		c.EMEnergy += hit.EMEnergy
		c.layerHits[hit.Layer]++
		if i == 0 || hit.Layer < c.InnerLayer {
			c.InnerLayer = hit.Layer
		}
		if i == 0 || hit.Layer > c.OuterLayer {
			c.OuterLayer = hit.Layer
		}
	}

	index, err := kdtree.Build(points, kdtree.Region{})
	if err != nil {
		return nil, fmt.Errorf("cluster %s local index: %w", h, err)
	}
	c.index = index

	if len(hits) > 0 {
		c.Centroid = centroid(hits, func(event.Hit) bool { return true })
		c.InnerCentroid = centroid(hits, func(hit event.Hit) bool { return hit.Layer == c.InnerLayer })
		c.OuterCentroid = centroid(hits, func(hit event.Hit) bool { return hit.Layer == c.OuterLayer })
	}
	c.axis, c.hasAxis = c.fitAxis()
	return c, nil
}

func centroid(hits []event.Hit, keep func(event.Hit) bool) [3]float64 {
	var sum [3]float64
	n := 0
	for _, hit := range hits {
		if keep(hit) {
			sum = event.Add(sum, hit.Position)
			n++
		}
	}
	if n == 0 {
		return sum
	}
	return event.Scale(sum, 1/float64(n))
}

// fitAxis returns the principal axis of the hit positions, oriented from
// the inner layers outwards (or away from the origin when the cluster
// sits in one layer). ok is false when the hits do not define a direction.
func (c *Cluster) fitAxis() ([3]float64, bool) {
	if len(c.Hits) < 2 {
		return [3]float64{}, false
	}

	data := mat.NewDense(len(c.Hits), 3, nil)
	for i, hit := range c.Hits {
		data.SetRow(i, hit.Position[:])
	}

	var pc stat.PC
	if !pc.PrincipalComponents(data, nil) {
		return [3]float64{}, false
	}
	vars := pc.VarsTo(nil)
	if len(vars) == 0 || !(vars[0] > 0) {
		return [3]float64{}, false
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	axis, ok := event.Normalize([3]float64{vecs.At(0, 0), vecs.At(1, 0), vecs.At(2, 0)})
	if !ok {
		return [3]float64{}, false
	}

	ref := event.Sub(c.OuterCentroid, c.InnerCentroid)
	if c.InnerLayer == c.OuterLayer {
		ref = c.Centroid
	}
	if event.Dot(axis, ref) < 0 {
		axis = event.Scale(axis, -1)
	}
	return axis, true
}

// Index returns the local spatial index over the cluster's hits. Point
// payloads index into Hits.
func (c *Cluster) Index() *kdtree.Tree[int] { return c.index }

// Axis returns the fitted principal axis.
func (c *Cluster) Axis() ([3]float64, bool) { return c.axis, c.hasAxis }

// HasLayer reports whether the cluster has at least one hit in layer.
func (c *Cluster) HasLayer(layer int) bool { return c.layerHits[layer] > 0 }

// TrajectoryMomentum returns the summed momentum of associated trajectories.
func (c *Cluster) TrajectoryMomentum() float64 {
	var sum float64
	for _, tr := range c.Trajectories {
		sum += tr.Momentum
	}
	return sum
}

// ConeAxis returns the apex and unit direction used to project cones from
// this cluster. Associated trajectories take precedence: the direction is
// their momentum-weighted mean and the apex the origin of the hardest one.
// Otherwise the principal axis is used from the inner-layer centroid.
func (c *Cluster) ConeAxis() (apex, dir [3]float64, ok bool) {
	var sum [3]float64
	bestMomentum := -1.0
	for _, tr := range c.Trajectories {
		u, valid := tr.UnitDirection()
		if !valid {
			continue
		}
		sum = event.Add(sum, event.Scale(u, tr.Momentum))
		if tr.Momentum > bestMomentum {
			bestMomentum = tr.Momentum
			apex = tr.Origin
		}
	}
	if bestMomentum >= 0 {
		if dir, ok = event.Normalize(sum); ok {
			return apex, dir, true
		}
	}

	if c.hasAxis {
		return c.InnerCentroid, c.axis, true
	}
	return [3]float64{}, [3]float64{}, false
}
