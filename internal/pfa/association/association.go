// Package association attaches trajectories to the clusters they enter.
//
// It runs before fragment removal: the merge engine only treats clusters
// with an associated trajectory as parents.
package association

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/particleflow/internal/pfa"
	"github.com/banshee-data/particleflow/internal/pfa/event"
	"github.com/banshee-data/particleflow/internal/pfa/kdtree"
)

// ErrInvalidConfig wraps association configuration failures.
var ErrInvalidConfig = errors.New("association: invalid config")

// Config gates which hit a trajectory may be matched to.
type Config struct {
	// MaxDistance is the largest distance, in mm, from a trajectory's
	// calorimeter entry point to the matched hit.
	MaxDistance float64 `json:"max_distance"`
	// MaxLayer excludes hits deeper than this pseudo-layer from matching.
	MaxLayer int `json:"max_layer"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{MaxDistance: 100, MaxLayer: 10}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !(c.MaxDistance > 0) || math.IsInf(c.MaxDistance, 0) {
		return fmt.Errorf("%w: max_distance must be positive and finite, got %v", ErrInvalidConfig, c.MaxDistance)
	}
	if c.MaxLayer < 0 {
		return fmt.Errorf("%w: max_layer must be non-negative, got %d", ErrInvalidConfig, c.MaxLayer)
	}
	return nil
}

// Store is the part of the event the association step needs.
type Store interface {
	CurrentClusters() ([]event.ClusterHandle, error)
	Hits(h event.ClusterHandle) ([]event.Hit, error)
	Trajectories() []event.Trajectory
	TrajectoryOwner(id event.TrajectoryID) (event.ClusterHandle, bool)
	AssociateTrajectory(h event.ClusterHandle, id event.TrajectoryID) error
}

var _ Store = (*event.Event)(nil)

// Result counts what one association pass did.
type Result struct {
	Associated int
	Unmatched  int
	Skipped    int // already associated before the pass
}

// Run associates every unassociated trajectory with the cluster owning the
// hit nearest to its entry point, within cfg's gates.
func Run(store Store, cfg Config) (Result, error) {
	var res Result
	if err := cfg.Validate(); err != nil {
		return res, err
	}

	handles, err := store.CurrentClusters()
	if err != nil {
		return res, fmt.Errorf("fetch current clusters: %w", err)
	}

	var points []kdtree.Point[event.ClusterHandle]
	for _, h := range handles {
		hits, err := store.Hits(h)
		if err != nil {
			return res, fmt.Errorf("cluster %s hits: %w", h, err)
		}
		for _, hit := range hits {
			if hit.Layer > cfg.MaxLayer {
				continue
			}
			points = append(points, kdtree.Point[event.ClusterHandle]{
				Coords:  []float64{hit.Position[0], hit.Position[1], hit.Position[2]},
				Payload: h,
			})
		}
	}

	index, err := kdtree.Build(points, kdtree.Region{})
	if err != nil {
		return res, fmt.Errorf("association hit index: %w", err)
	}

	for _, tr := range store.Trajectories() {
		if _, owned := store.TrajectoryOwner(tr.ID); owned {
			res.Skipped++
			continue
		}
		nearest, dist, ok := index.FindNearest(tr.Origin[:])
		if !ok || dist > cfg.MaxDistance {
			res.Unmatched++
			pfa.Diagf("[TrackClusterAssociation] trajectory=%d unmatched nearest=%.1f", tr.ID, dist)
			continue
		}
		if err := store.AssociateTrajectory(nearest.Payload, tr.ID); err != nil {
			return res, fmt.Errorf("associate trajectory %d with %s: %w", tr.ID, nearest.Payload, err)
		}
		res.Associated++
		pfa.Tracef("[TrackClusterAssociation] trajectory=%d cluster=%s distance=%.1f", tr.ID, nearest.Payload, dist)
	}

	pfa.Opsf("[TrackClusterAssociation] associated=%d unmatched=%d skipped=%d", res.Associated, res.Unmatched, res.Skipped)
	return res, nil
}
