// Package kdtree implements an immutable KD-tree over D-dimensional points.
//
// A Tree is a snapshot: it is built once from a slice of points and never
// mutated, only rebuilt. Nodes live in a flat arena and every node covers a
// contiguous range of the reordered point slice, so a subtree whose region
// lies inside a query box is accepted without per-point tests.
//
// Empty and degenerate inputs are not errors. An empty tree answers every
// query with an empty result, and FindNearest reports ok=false.
package kdtree

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// ErrDimensionMismatch is returned by Build when a point has a different
// number of coordinates than the bounding region.
var ErrDimensionMismatch = errors.New("kdtree: point dimension does not match region")

// Seeds for the quickselect pivot generator. Fixed so that the same input
// always produces the same tree shape.
const (
	pivotSeed1 = 0x9e3779b97f4a7c15
	pivotSeed2 = 0xbf58476d1ce4e5b9
)

// Point is a position in D dimensions with an opaque payload. Coords must
// not be modified once the point has been placed in a tree.
type Point[T any] struct {
	Coords  []float64
	Payload T
}

// node is either a leaf (left == -1, exactly one point) or an internal node
// with two children. lo/hi index the tree's point slice.
type node struct {
	region Region
	lo, hi int32
	left   int32
	right  int32
	axis   int32
	split  float64
}

// Tree is an immutable KD-tree snapshot.
type Tree[T any] struct {
	dim    int
	region Region
	points []Point[T]
	nodes  []node
	rng    *rand.Rand
}

// Build constructs a tree from points inside region. The region is widened
// to cover every point. If region is the zero Region its dimension is taken
// from the first point. The input slice is copied, not retained.
//
// Partitioning uses the true median on axis depth mod D, found with an
// expected-linear quickselect, for O(n log n) total build time.
func Build[T any](points []Point[T], region Region) (*Tree[T], error) {
	if region.Dim() == 0 && len(points) > 0 {
		region = NewRegion(points[0].Coords, points[0].Coords)
	} else {
		region = region.clone()
	}

	t := &Tree[T]{
		dim:    region.Dim(),
		region: region,
		points: make([]Point[T], len(points)),
		rng:    rand.New(rand.NewPCG(pivotSeed1, pivotSeed2)),
	}
	copy(t.points, points)

	if t.dim == 0 && len(t.points) > 0 {
		return nil, fmt.Errorf("%d points have no coordinates: %w", len(t.points), ErrDimensionMismatch)
	}

	for i, p := range t.points {
		if len(p.Coords) != t.dim {
			return nil, fmt.Errorf("point %d has %d coordinates, region has %d: %w",
				i, len(p.Coords), t.dim, ErrDimensionMismatch)
		}
		t.region.extend(p.Coords)
	}

	if len(t.points) == 0 {
		return t, nil
	}

	t.nodes = make([]node, 0, 2*len(t.points)-1)
	t.build(0, int32(len(t.points)), 0, t.region)
	return t, nil
}

func (t *Tree[T]) build(lo, hi int32, depth int, region Region) int32 {
	idx := int32(len(t.nodes))
	t.nodes = append(t.nodes, node{region: region, lo: lo, hi: hi, left: -1, right: -1})
	if hi-lo == 1 {
		return idx
	}

	axis := depth % t.dim
	mid := lo + (hi-lo)/2
	t.selectNth(int(lo), int(hi), int(mid), axis)
	split := t.points[mid].Coords[axis]

	leftRegion := region.clone()
	leftRegion.Max[axis] = split
	rightRegion := region.clone()
	rightRegion.Min[axis] = split

	left := t.build(lo, mid, depth+1, leftRegion)
	right := t.build(mid, hi, depth+1, rightRegion)

	n := &t.nodes[idx]
	n.left = left
	n.right = right
	n.axis = int32(axis)
	n.split = split
	return idx
}

// selectNth reorders points[lo:hi] so that points[n] holds the value that
// would be there if the range were sorted on axis, with nothing greater
// before it and nothing smaller after it. Three-way partitioning keeps
// runs of equal coordinates linear.
func (t *Tree[T]) selectNth(lo, hi, n, axis int) {
	for hi-lo > 1 {
		pivot := t.points[lo+t.rng.IntN(hi-lo)].Coords[axis]
		lt, i, gt := lo, lo, hi
		for i < gt {
			v := t.points[i].Coords[axis]
			switch {
			case v < pivot:
				t.points[lt], t.points[i] = t.points[i], t.points[lt]
				lt++
				i++
			case v > pivot:
				gt--
				t.points[i], t.points[gt] = t.points[gt], t.points[i]
			default:
				i++
			}
		}
		switch {
		case n < lt:
			hi = lt
		case n >= gt:
			lo = gt
		default:
			return
		}
	}
}

// Len returns the number of points in the tree.
func (t *Tree[T]) Len() int { return len(t.points) }

// Dim returns the dimension of the tree.
func (t *Tree[T]) Dim() int { return t.dim }

// Region returns the covering region of the tree.
func (t *Tree[T]) Region() Region { return t.region.clone() }

// Height returns the number of levels in the tree, zero when empty.
func (t *Tree[T]) Height() int {
	if len(t.nodes) == 0 {
		return 0
	}
	return t.height(0)
}

func (t *Tree[T]) height(i int32) int {
	n := &t.nodes[i]
	if n.left < 0 {
		return 1
	}
	return 1 + max(t.height(n.left), t.height(n.right))
}

// Search returns every point inside box. The order is unspecified and no
// point is returned twice. A box of the wrong dimension matches nothing.
func (t *Tree[T]) Search(box Region) []Point[T] {
	if len(t.nodes) == 0 || box.Dim() != t.dim {
		return nil
	}
	var out []Point[T]
	t.search(0, box, &out)
	return out
}

func (t *Tree[T]) search(i int32, box Region, out *[]Point[T]) {
	n := &t.nodes[i]
	if !box.Intersects(n.region) {
		return
	}
	if box.ContainsRegion(n.region) {
		*out = append(*out, t.points[n.lo:n.hi]...)
		return
	}
	if n.left < 0 {
		if p := t.points[n.lo]; box.Contains(p.Coords) {
			*out = append(*out, p)
		}
		return
	}
	t.search(n.left, box, out)
	t.search(n.right, box, out)
}

// SearchRadius returns every point within Euclidean distance r of center.
func (t *Tree[T]) SearchRadius(center []float64, r float64) []Point[T] {
	if r < 0 || len(center) != t.dim {
		return nil
	}
	candidates := t.Search(Cube(center, r))
	r2 := r * r
	out := candidates[:0]
	for _, p := range candidates {
		if sqDist(p.Coords, center) <= r2 {
			out = append(out, p)
		}
	}
	return out
}

// FindNearest returns the point closest to q and its Euclidean distance.
// ok is false for an empty tree or a query of the wrong dimension. When
// several points are equally close, the first one visited wins.
func (t *Tree[T]) FindNearest(q []float64) (p Point[T], dist float64, ok bool) {
	if len(t.nodes) == 0 || len(q) != t.dim {
		return p, math.Inf(1), false
	}
	best := int32(-1)
	bestD2 := math.Inf(1)
	t.nearest(0, q, &best, &bestD2)
	if best < 0 {
		return p, math.Inf(1), false
	}
	return t.points[best], math.Sqrt(bestD2), true
}

func (t *Tree[T]) nearest(i int32, q []float64, best *int32, bestD2 *float64) {
	n := &t.nodes[i]
	if n.left < 0 {
		if d2 := sqDist(t.points[n.lo].Coords, q); d2 < *bestD2 {
			*bestD2 = d2
			*best = n.lo
		}
		return
	}

	diff := q[n.axis] - n.split
	near, far := n.left, n.right
	if diff >= 0 {
		near, far = n.right, n.left
	}
	t.nearest(near, q, best, bestD2)
	if diff*diff < *bestD2 {
		t.nearest(far, q, best, bestD2)
	}
}
