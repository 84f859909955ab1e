package contact

import (
	"math"

	"github.com/banshee-data/particleflow/internal/pfa/event"
)

// Evidence is the breakdown of the merge evidence for one pair.
type Evidence struct {
	Contact    float64
	Cone       float64
	Trajectory float64
	Closest    float64
}

// Total returns the weighted sum of the four contributions.
func (e Evidence) Total() float64 {
	return e.Contact + e.Cone + e.Trajectory + e.Closest
}

// ramp rises linearly from 0 at lo to 1 at hi.
func ramp(x, lo, hi float64) float64 {
	if hi <= lo {
		if x >= hi {
			return 1
		}
		return 0
	}
	return clamp01((x - lo) / (hi - lo))
}

// taper falls linearly from 1 at near to 0 at far. Non-finite input is 0.
func taper(x, near, far float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return 1 - ramp(x, near, far)
}

func clamp01(x float64) float64 {
	switch {
	case x < 0 || math.IsNaN(x):
		return 0
	case x > 1:
		return 1
	}
	return x
}

// TotalEvidence scores a contact record.
func TotalEvidence(r Record, p Params) Evidence {
	var e Evidence
	if r.NContactLayers > 0 {
		e.Contact = p.ContactWeight * ramp(float64(r.NContactLayers), 0, float64(p.ContactEvidenceLayers)) * (1 + r.ContactFraction)
	}
	if r.HasConeAxis {
		e.Cone = p.ConeWeight * ramp(r.ConeFraction1, p.ConeEvidenceFraction, 1)
	}
	if r.HasTrajectoryDistance {
		e.Trajectory = p.TrajectoryWeight * taper(r.ClosestTrajectoryDistance, p.TrajectoryEvidenceNear, p.TrajectoryEvidenceFar)
	}
	e.Closest = p.ClosestWeight * taper(r.ClosestHitDistance, p.ClosestEvidenceNear, p.ClosestEvidenceFar)
	return e
}

// RequiredEvidence is the threshold TotalEvidence must exceed for the
// daughter to be merged into the parent.
func RequiredEvidence(daughter, parent *Cluster, p Params) float64 {
	required := p.BaseRequiredEvidence

	// Fragments starting deep in the calorimeter are easier to accept.
	depth := float64(p.DepthCorrectionLayers-daughter.InnerLayer) / float64(p.DepthCorrectionLayers)
	required += p.DepthCorrection * clamp01(depth)

	if parent.OuterLayer >= p.LastInstrumentedLayer-p.LeavingMarginLayers {
		required += p.LeavingCorrection
	}

	daughterEnergy := daughter.HadEnergy
	required -= p.LowEnergyCorrection * clamp01((p.LowEnergyDaughter-daughterEnergy)/p.LowEnergyDaughter)

	if apex, dir, ok := parent.ConeAxis(); ok {
		if u, ok := event.Normalize(event.Sub(daughter.Centroid, apex)); ok {
			cos := event.Dot(u, dir)
			required += p.AngularCorrection * clamp01((p.AngularCosineRef-cos)/(1+p.AngularCosineRef))
		}
	}

	// Early, electromagnetic daughters look like photons, not fragments.
	if daughter.HadEnergy > 0 && daughter.EMEnergy/daughter.HadEnergy >= p.PhotonEMFraction &&
		daughter.InnerLayer <= p.PhotonMaxInnerLayer {
		required += p.PhotonCorrection
	}

	return math.Max(required, p.MinRequiredEvidence)
}

// Outcome classifies how far a pair got through the model.
type Outcome int

const (
	FailedCuts Outcome = iota
	InsufficientEvidence
	Accepted
)

func (o Outcome) String() string {
	switch o {
	case FailedCuts:
		return "failed_cuts"
	case InsufficientEvidence:
		return "insufficient_evidence"
	case Accepted:
		return "accepted"
	}
	return "unknown"
}

// Candidate is a scored (daughter, parent) pair.
type Candidate struct {
	Daughter     event.ClusterHandle
	Parent       event.ClusterHandle
	Record       Record
	Evidence     Evidence
	Required     float64
	Excess       float64
	ParentEnergy float64
}

// Score runs the full model on one pair. The candidate is only meaningful
// when the outcome is Accepted.
func Score(daughter, parent *Cluster, p Params) (Candidate, Outcome) {
	r := Compute(daughter, parent, p)
	c := Candidate{
		Daughter:     daughter.Handle,
		Parent:       parent.Handle,
		Record:       r,
		ParentEnergy: parent.HadEnergy,
	}
	if !PassesContactCuts(r, p) {
		return c, FailedCuts
	}

	c.Evidence = TotalEvidence(r, p)
	c.Required = RequiredEvidence(daughter, parent, p)
	c.Excess = c.Evidence.Total() - c.Required
	if !(c.Evidence.Total() > c.Required) {
		return c, InsufficientEvidence
	}
	return c, Accepted
}
