// Package event is the arena object store for one reconstruction event.
//
// Clusters live in a slot arena and are addressed by generation-checked
// handles, so a handle to a merged-away cluster fails cleanly instead of
// aliasing a reused slot. Cluster collections are named lists of handles;
// exactly one may be current, and algorithms operate on the current list.
//
// An Event is not safe for concurrent use. One event is processed by one
// goroutine; separate events share nothing.
package event

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrStaleHandle is returned for a handle whose cluster no longer exists.
	ErrStaleHandle = errors.New("event: stale cluster handle")
	// ErrNoCurrentCollection is returned when no cluster collection is current.
	ErrNoCurrentCollection = errors.New("event: no current cluster collection")
	// ErrUnknownCollection is returned for a collection name never created.
	ErrUnknownCollection = errors.New("event: unknown cluster collection")
	// ErrUnknownTrajectory is returned for a trajectory ID not in the event.
	ErrUnknownTrajectory = errors.New("event: unknown trajectory")
	// ErrAlreadyAssociated is returned when a trajectory already belongs to
	// another cluster.
	ErrAlreadyAssociated = errors.New("event: trajectory already associated")
	// ErrSelfMerge is returned when parent and daughter are the same cluster.
	ErrSelfMerge = errors.New("event: cannot merge a cluster into itself")
)

type slot struct {
	generation uint32
	alive      bool
	cluster    Cluster
}

// Event holds every object of one reconstruction event.
type Event struct {
	ID string

	slots        []slot
	trajectories []Trajectory
	owner        map[TrajectoryID]ClusterHandle
	collections  map[string][]ClusterHandle
	current      string
}

// New returns an empty event.
func New(id string) *Event {
	return &Event{
		ID:          id,
		owner:       make(map[TrajectoryID]ClusterHandle),
		collections: make(map[string][]ClusterHandle),
	}
}

// AddTrajectory stores tr and returns its ID. Any ID already set on tr is
// replaced by the event-assigned one.
func (e *Event) AddTrajectory(tr Trajectory) TrajectoryID {
	tr.ID = TrajectoryID(len(e.trajectories))
	e.trajectories = append(e.trajectories, tr)
	return tr.ID
}

// Trajectories returns every trajectory in the event, ordered by ID.
func (e *Event) Trajectories() []Trajectory {
	return append([]Trajectory(nil), e.trajectories...)
}

// Trajectory returns the trajectory with the given ID.
func (e *Event) Trajectory(id TrajectoryID) (Trajectory, error) {
	if id < 0 || int(id) >= len(e.trajectories) {
		return Trajectory{}, fmt.Errorf("trajectory %d: %w", id, ErrUnknownTrajectory)
	}
	return e.trajectories[id], nil
}

// TrajectoryOwner returns the cluster a trajectory is associated with.
func (e *Event) TrajectoryOwner(id TrajectoryID) (ClusterHandle, bool) {
	h, ok := e.owner[id]
	return h, ok
}

// CreateCollection creates an empty named collection if it does not exist.
func (e *Event) CreateCollection(name string) {
	if _, ok := e.collections[name]; !ok {
		e.collections[name] = nil
	}
}

// Collections returns the collection names in sorted order.
func (e *Event) Collections() []string {
	names := make([]string, 0, len(e.collections))
	for name := range e.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetCurrentCollection makes name the collection algorithms operate on.
func (e *Event) SetCurrentCollection(name string) error {
	if _, ok := e.collections[name]; !ok {
		return fmt.Errorf("collection %q: %w", name, ErrUnknownCollection)
	}
	e.current = name
	return nil
}

// CurrentCollection returns the name of the current collection, or "".
func (e *Event) CurrentCollection() string { return e.current }

// AddCluster creates a cluster from hits in the named collection, creating
// the collection if needed. The first collection to receive a cluster
// becomes current when none has been selected.
func (e *Event) AddCluster(collection string, hits []Hit) ClusterHandle {
	c := Cluster{Hits: append([]Hit(nil), hits...)}
	for _, h := range hits {
		c.HadEnergy += h.HadEnergy
		c.EMEnergy += h.EMEnergy
	}

	idx := uint32(len(e.slots))
	e.slots = append(e.slots, slot{alive: true, cluster: c})
	h := ClusterHandle{Index: idx}

	e.collections[collection] = append(e.collections[collection], h)
	if e.current == "" {
		e.current = collection
	}
	return h
}

// Clusters returns the handles in the named collection.
func (e *Event) Clusters(collection string) ([]ClusterHandle, error) {
	handles, ok := e.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection %q: %w", collection, ErrUnknownCollection)
	}
	return append([]ClusterHandle(nil), handles...), nil
}

// CurrentClusters returns the handles in the current collection.
func (e *Event) CurrentClusters() ([]ClusterHandle, error) {
	if e.current == "" {
		return nil, ErrNoCurrentCollection
	}
	return e.Clusters(e.current)
}

func (e *Event) lookup(h ClusterHandle) (*Cluster, error) {
	if int(h.Index) >= len(e.slots) {
		return nil, fmt.Errorf("cluster %s: %w", h, ErrStaleHandle)
	}
	s := &e.slots[h.Index]
	if !s.alive || s.generation != h.Generation {
		return nil, fmt.Errorf("cluster %s: %w", h, ErrStaleHandle)
	}
	return &s.cluster, nil
}

// Valid reports whether h refers to a live cluster.
func (e *Event) Valid(h ClusterHandle) bool {
	_, err := e.lookup(h)
	return err == nil
}

// Hits returns a copy of the cluster's hits.
func (e *Event) Hits(h ClusterHandle) ([]Hit, error) {
	c, err := e.lookup(h)
	if err != nil {
		return nil, err
	}
	return append([]Hit(nil), c.Hits...), nil
}

// Summary returns the cluster's aggregate state.
func (e *Event) Summary(h ClusterHandle) (ClusterSummary, error) {
	c, err := e.lookup(h)
	if err != nil {
		return ClusterSummary{}, err
	}
	return c.summary(h), nil
}

// IsTrackAssociated reports whether any trajectory is associated with h.
func (e *Event) IsTrackAssociated(h ClusterHandle) (bool, error) {
	c, err := e.lookup(h)
	if err != nil {
		return false, err
	}
	return len(c.Trajectories) > 0, nil
}

// AssociatedTrajectories returns the trajectories associated with h.
func (e *Event) AssociatedTrajectories(h ClusterHandle) ([]Trajectory, error) {
	c, err := e.lookup(h)
	if err != nil {
		return nil, err
	}
	out := make([]Trajectory, 0, len(c.Trajectories))
	for _, id := range c.Trajectories {
		out = append(out, e.trajectories[id])
	}
	return out, nil
}

// AssociateTrajectory attaches trajectory id to cluster h. Re-associating
// with the same cluster is a no-op.
func (e *Event) AssociateTrajectory(h ClusterHandle, id TrajectoryID) error {
	c, err := e.lookup(h)
	if err != nil {
		return err
	}
	if _, err := e.Trajectory(id); err != nil {
		return err
	}
	if prev, ok := e.owner[id]; ok {
		if prev == h {
			return nil
		}
		return fmt.Errorf("trajectory %d owned by %s: %w", id, prev, ErrAlreadyAssociated)
	}
	c.Trajectories = append(c.Trajectories, id)
	e.owner[id] = h
	return nil
}

// MergeAndDelete moves the daughter's hits, energy and trajectory
// associations into parent, then destroys the daughter and removes it from
// every collection.
func (e *Event) MergeAndDelete(parent, daughter ClusterHandle) error {
	if parent == daughter {
		return fmt.Errorf("cluster %s: %w", parent, ErrSelfMerge)
	}
	p, err := e.lookup(parent)
	if err != nil {
		return fmt.Errorf("merge parent: %w", err)
	}
	d, err := e.lookup(daughter)
	if err != nil {
		return fmt.Errorf("merge daughter: %w", err)
	}

	p.Hits = append(p.Hits, d.Hits...)
	p.HadEnergy += d.HadEnergy
	p.EMEnergy += d.EMEnergy
	for _, id := range d.Trajectories {
		p.Trajectories = append(p.Trajectories, id)
		e.owner[id] = parent
	}

	s := &e.slots[daughter.Index]
	s.alive = false
	s.generation++
	s.cluster = Cluster{}

	for name, handles := range e.collections {
		for i, h := range handles {
			if h == daughter {
				e.collections[name] = append(handles[:i:i], handles[i+1:]...)
				break
			}
		}
	}
	return nil
}

// NumClusters returns the number of live clusters in the event.
func (e *Event) NumClusters() int {
	n := 0
	for i := range e.slots {
		if e.slots[i].alive {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the event. Handles remain valid in the copy.
func (e *Event) Clone() *Event {
	c := &Event{
		ID:           e.ID,
		slots:        make([]slot, len(e.slots)),
		trajectories: append([]Trajectory(nil), e.trajectories...),
		owner:        make(map[TrajectoryID]ClusterHandle, len(e.owner)),
		collections:  make(map[string][]ClusterHandle, len(e.collections)),
		current:      e.current,
	}
	for i, s := range e.slots {
		s.cluster.Hits = append([]Hit(nil), s.cluster.Hits...)
		s.cluster.Trajectories = append([]TrajectoryID(nil), s.cluster.Trajectories...)
		c.slots[i] = s
	}
	for id, h := range e.owner {
		c.owner[id] = h
	}
	for name, handles := range e.collections {
		c.collections[name] = append([]ClusterHandle(nil), handles...)
	}
	return c
}
