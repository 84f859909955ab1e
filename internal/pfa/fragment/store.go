package fragment

import "github.com/banshee-data/particleflow/internal/pfa/event"

// ObjectStore is the engine's view of the event. Every mutation of the
// cluster collection goes through MergeAndDelete.
type ObjectStore interface {
	CurrentClusters() ([]event.ClusterHandle, error)
	MergeAndDelete(parent, daughter event.ClusterHandle) error
	IsTrackAssociated(h event.ClusterHandle) (bool, error)
	AssociatedTrajectories(h event.ClusterHandle) ([]event.Trajectory, error)
	Hits(h event.ClusterHandle) ([]event.Hit, error)
	Summary(h event.ClusterHandle) (event.ClusterSummary, error)
}

var _ ObjectStore = (*event.Event)(nil)
