package kdtree

import "math"

// Region is an axis-aligned box with closed bounds in every dimension.
type Region struct {
	Min []float64
	Max []float64
}

// NewRegion returns a Region with copies of min and max.
func NewRegion(min, max []float64) Region {
	return Region{
		Min: append([]float64(nil), min...),
		Max: append([]float64(nil), max...),
	}
}

// Cube returns the region [center-half, center+half] in every dimension.
func Cube(center []float64, half float64) Region {
	r := Region{Min: make([]float64, len(center)), Max: make([]float64, len(center))}
	for i, c := range center {
		r.Min[i] = c - half
		r.Max[i] = c + half
	}
	return r
}

// BoundingRegion returns the tightest region covering every point. The
// zero Region is returned for an empty slice.
func BoundingRegion[T any](points []Point[T]) Region {
	if len(points) == 0 {
		return Region{}
	}
	r := NewRegion(points[0].Coords, points[0].Coords)
	for _, p := range points[1:] {
		r.extend(p.Coords)
	}
	return r
}

// Dim returns the number of dimensions of the region.
func (r Region) Dim() int { return len(r.Min) }

// Contains reports whether c lies inside the region, boundaries included.
func (r Region) Contains(c []float64) bool {
	if len(c) != len(r.Min) {
		return false
	}
	for i, v := range c {
		if v < r.Min[i] || v > r.Max[i] {
			return false
		}
	}
	return true
}

// ContainsRegion reports whether o lies entirely inside r.
func (r Region) ContainsRegion(o Region) bool {
	if len(o.Min) != len(r.Min) {
		return false
	}
	for i := range r.Min {
		if o.Min[i] < r.Min[i] || o.Max[i] > r.Max[i] {
			return false
		}
	}
	return true
}

// Intersects reports whether r and o share at least one point.
func (r Region) Intersects(o Region) bool {
	if len(o.Min) != len(r.Min) {
		return false
	}
	for i := range r.Min {
		if o.Max[i] < r.Min[i] || o.Min[i] > r.Max[i] {
			return false
		}
	}
	return true
}

func (r Region) clone() Region {
	return NewRegion(r.Min, r.Max)
}

func (r *Region) extend(c []float64) {
	for i, v := range c {
		r.Min[i] = math.Min(r.Min[i], v)
		r.Max[i] = math.Max(r.Max[i], v)
	}
}

func sqDist(a, b []float64) float64 {
	var d2 float64
	for i := range a {
		d := a[i] - b[i]
		d2 += d * d
	}
	return d2
}
