package event

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func hitsAt(layer0 int, energy float64, positions ...[3]float64) []Hit {
	hits := make([]Hit, len(positions))
	for i, p := range positions {
		hits[i] = Hit{Position: p, Layer: layer0 + i, HadEnergy: energy, EMEnergy: energy / 2}
	}
	return hits
}

func TestEvent_CurrentCollection(t *testing.T) {
	ev := New("evt-1")

	if _, err := ev.CurrentClusters(); !errors.Is(err, ErrNoCurrentCollection) {
		t.Fatalf("CurrentClusters() on fresh event error = %v, want ErrNoCurrentCollection", err)
	}

	a := ev.AddCluster("Input", hitsAt(0, 1, [3]float64{0, 0, 0}))
	b := ev.AddCluster("Input", hitsAt(0, 1, [3]float64{1, 0, 0}))
	ev.CreateCollection("Empty")

	got, err := ev.CurrentClusters()
	if err != nil {
		t.Fatalf("CurrentClusters() error = %v", err)
	}
	if diff := cmp.Diff([]ClusterHandle{a, b}, got); diff != "" {
		t.Errorf("CurrentClusters() mismatch (-want +got):\n%s", diff)
	}

	if err := ev.SetCurrentCollection("Empty"); err != nil {
		t.Fatalf("SetCurrentCollection() error = %v", err)
	}
	got, err = ev.CurrentClusters()
	if err != nil || len(got) != 0 {
		t.Errorf("CurrentClusters() on empty collection = (%v, %v), want empty", got, err)
	}

	if err := ev.SetCurrentCollection("Missing"); !errors.Is(err, ErrUnknownCollection) {
		t.Errorf("SetCurrentCollection(Missing) error = %v, want ErrUnknownCollection", err)
	}
	if diff := cmp.Diff([]string{"Empty", "Input"}, ev.Collections()); diff != "" {
		t.Errorf("Collections() mismatch (-want +got):\n%s", diff)
	}
}

func TestEvent_MergeAndDelete(t *testing.T) {
	ev := New("evt-merge")
	parent := ev.AddCluster("Input", hitsAt(0, 2, [3]float64{0, 0, 0}, [3]float64{0, 0, 10}, [3]float64{0, 0, 20}))
	daughter := ev.AddCluster("Input", hitsAt(5, 0.5, [3]float64{5, 0, 0}, [3]float64{5, 0, 10}))
	other := ev.AddCluster("Input", hitsAt(0, 1, [3]float64{500, 0, 0}))

	tr := ev.AddTrajectory(Trajectory{Direction: [3]float64{0, 0, 1}, Momentum: 7})
	tr2 := ev.AddTrajectory(Trajectory{Direction: [3]float64{0, 1, 0}, Momentum: 1})
	if err := ev.AssociateTrajectory(parent, tr); err != nil {
		t.Fatalf("AssociateTrajectory() error = %v", err)
	}
	if err := ev.AssociateTrajectory(daughter, tr2); err != nil {
		t.Fatalf("AssociateTrajectory() error = %v", err)
	}

	before, _ := ev.Summary(parent)
	dBefore, _ := ev.Summary(daughter)

	if err := ev.MergeAndDelete(parent, daughter); err != nil {
		t.Fatalf("MergeAndDelete() error = %v", err)
	}

	after, err := ev.Summary(parent)
	if err != nil {
		t.Fatalf("Summary(parent) error = %v", err)
	}
	if after.NHits != before.NHits+dBefore.NHits {
		t.Errorf("NHits = %d, want %d", after.NHits, before.NHits+dBefore.NHits)
	}
	if math.Abs(after.HadEnergy-(before.HadEnergy+dBefore.HadEnergy)) > 1e-12 {
		t.Errorf("HadEnergy = %v, want %v", after.HadEnergy, before.HadEnergy+dBefore.HadEnergy)
	}
	if after.OuterLayer != 6 || after.InnerLayer != 0 {
		t.Errorf("layers = [%d, %d], want [0, 6]", after.InnerLayer, after.OuterLayer)
	}
	if after.NTrajectories != 2 {
		t.Errorf("NTrajectories = %d, want 2", after.NTrajectories)
	}
	if owner, ok := ev.TrajectoryOwner(tr2); !ok || owner != parent {
		t.Errorf("TrajectoryOwner(tr2) = %v, want %v", owner, parent)
	}

	if ev.Valid(daughter) {
		t.Error("daughter handle still valid after merge")
	}
	if _, err := ev.Hits(daughter); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("Hits(daughter) error = %v, want ErrStaleHandle", err)
	}
	if err := ev.MergeAndDelete(parent, daughter); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("second MergeAndDelete() error = %v, want ErrStaleHandle", err)
	}

	got, _ := ev.CurrentClusters()
	if diff := cmp.Diff([]ClusterHandle{parent, other}, got); diff != "" {
		t.Errorf("CurrentClusters() after merge mismatch (-want +got):\n%s", diff)
	}
	if ev.NumClusters() != 2 {
		t.Errorf("NumClusters() = %d, want 2", ev.NumClusters())
	}
}

func TestEvent_SelfMerge(t *testing.T) {
	ev := New("evt")
	a := ev.AddCluster("Input", hitsAt(0, 1, [3]float64{0, 0, 0}))
	if err := ev.MergeAndDelete(a, a); !errors.Is(err, ErrSelfMerge) {
		t.Errorf("MergeAndDelete(a, a) error = %v, want ErrSelfMerge", err)
	}
}

func TestEvent_AssociateTrajectory(t *testing.T) {
	ev := New("evt")
	a := ev.AddCluster("Input", hitsAt(0, 1, [3]float64{0, 0, 0}))
	b := ev.AddCluster("Input", hitsAt(0, 1, [3]float64{1, 0, 0}))
	tr := ev.AddTrajectory(Trajectory{Direction: [3]float64{1, 0, 0}, Momentum: 3})

	if ok, _ := ev.IsTrackAssociated(a); ok {
		t.Error("IsTrackAssociated(a) = true before association")
	}
	if err := ev.AssociateTrajectory(a, tr); err != nil {
		t.Fatalf("AssociateTrajectory() error = %v", err)
	}
	if err := ev.AssociateTrajectory(a, tr); err != nil {
		t.Errorf("re-associating with the same cluster error = %v", err)
	}
	if err := ev.AssociateTrajectory(b, tr); !errors.Is(err, ErrAlreadyAssociated) {
		t.Errorf("AssociateTrajectory(b) error = %v, want ErrAlreadyAssociated", err)
	}
	if err := ev.AssociateTrajectory(b, 99); !errors.Is(err, ErrUnknownTrajectory) {
		t.Errorf("AssociateTrajectory(unknown) error = %v, want ErrUnknownTrajectory", err)
	}

	trs, err := ev.AssociatedTrajectories(a)
	if err != nil || len(trs) != 1 || trs[0].Momentum != 3 {
		t.Errorf("AssociatedTrajectories(a) = (%v, %v)", trs, err)
	}
}

func TestEvent_Clone(t *testing.T) {
	ev := New("evt")
	a := ev.AddCluster("Input", hitsAt(0, 1, [3]float64{0, 0, 0}))
	b := ev.AddCluster("Input", hitsAt(0, 1, [3]float64{1, 0, 0}))

	c := ev.Clone()
	if err := c.MergeAndDelete(a, b); err != nil {
		t.Fatalf("MergeAndDelete() on clone error = %v", err)
	}
	if !ev.Valid(b) {
		t.Error("merging in the clone destroyed a cluster of the original")
	}
	if hits, _ := ev.Hits(a); len(hits) != 1 {
		t.Errorf("original cluster has %d hits after clone merge, want 1", len(hits))
	}
}

func TestTrajectory_DistanceTo(t *testing.T) {
	tr := Trajectory{Origin: [3]float64{0, 0, 100}, Direction: [3]float64{0, 0, 2}}

	tests := []struct {
		name string
		p    [3]float64
		want float64
	}{
		{"on line", [3]float64{0, 0, 150}, 0},
		{"perpendicular", [3]float64{30, 40, 500}, 50},
		{"behind origin", [3]float64{0, 3, 96}, 5},
	}
	for _, tt := range tests {
		got, ok := tr.DistanceTo(tt.p)
		if !ok || math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: DistanceTo() = (%v, %v), want %v", tt.name, got, ok, tt.want)
		}
	}

	degenerate := Trajectory{Origin: [3]float64{1, 2, 3}}
	if d, ok := degenerate.DistanceTo([3]float64{0, 0, 0}); ok || !math.IsInf(d, 1) {
		t.Errorf("degenerate DistanceTo() = (%v, %v), want (+Inf, false)", d, ok)
	}
	if p := degenerate.PositionAt(10); p != degenerate.Origin {
		t.Errorf("degenerate PositionAt() = %v, want origin", p)
	}
}
