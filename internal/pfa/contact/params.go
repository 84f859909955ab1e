package contact

import (
	"errors"
	"fmt"
	"math"
)

// Params holds every threshold and weight used by the contact model.
// Distances are in mm, energies in GeV.
type Params struct {
	// Feature extraction.
	ContactDistance            float64 `json:"contact_distance"`
	ConeCosineHalfAngle1       float64 `json:"cone_cosine_half_angle_1"`
	ConeCosineHalfAngle2       float64 `json:"cone_cosine_half_angle_2"`
	ConeCosineHalfAngle3       float64 `json:"cone_cosine_half_angle_3"`
	CloseHitDistance1          float64 `json:"close_hit_distance_1"`
	CloseHitDistance2          float64 `json:"close_hit_distance_2"`
	TrajectorySearchLayers     int     `json:"trajectory_search_layers"`
	TrajectoryMaxLayersCrossed int     `json:"trajectory_max_layers_crossed"`

	// Contact cuts. CutMaxDistance is a hard gate; the rest are OR'ed.
	CutMaxDistance               float64 `json:"cut_max_distance"`
	CutMinContactLayers          int     `json:"cut_min_contact_layers"`
	CutConeFraction1             float64 `json:"cut_cone_fraction_1"`
	CutCloseHitFraction1         float64 `json:"cut_close_hit_fraction_1"`
	CutCloseHitFraction2         float64 `json:"cut_close_hit_fraction_2"`
	CutClosestTrajectoryDistance float64 `json:"cut_closest_trajectory_distance"`
	CutMeanTrajectoryDistance    float64 `json:"cut_mean_trajectory_distance"`

	// Evidence.
	ContactEvidenceLayers  int     `json:"contact_evidence_layers"`
	ContactWeight          float64 `json:"contact_weight"`
	ConeEvidenceFraction   float64 `json:"cone_evidence_fraction"`
	ConeWeight             float64 `json:"cone_weight"`
	TrajectoryEvidenceNear float64 `json:"trajectory_evidence_near"`
	TrajectoryEvidenceFar  float64 `json:"trajectory_evidence_far"`
	TrajectoryWeight       float64 `json:"trajectory_weight"`
	ClosestEvidenceNear    float64 `json:"closest_evidence_near"`
	ClosestEvidenceFar     float64 `json:"closest_evidence_far"`
	ClosestWeight          float64 `json:"closest_weight"`

	// Required evidence.
	BaseRequiredEvidence  float64 `json:"base_required_evidence"`
	MinRequiredEvidence   float64 `json:"min_required_evidence"`
	DepthCorrectionLayers int     `json:"depth_correction_layers"`
	DepthCorrection       float64 `json:"depth_correction"`
	LastInstrumentedLayer int     `json:"last_instrumented_layer"`
	LeavingMarginLayers   int     `json:"leaving_margin_layers"`
	LeavingCorrection     float64 `json:"leaving_correction"`
	LowEnergyDaughter     float64 `json:"low_energy_daughter"`
	LowEnergyCorrection   float64 `json:"low_energy_correction"`
	AngularCosineRef      float64 `json:"angular_cosine_ref"`
	AngularCorrection     float64 `json:"angular_correction"`
	PhotonEMFraction      float64 `json:"photon_em_fraction"`
	PhotonMaxInnerLayer   int     `json:"photon_max_inner_layer"`
	PhotonCorrection      float64 `json:"photon_correction"`
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		ContactDistance:            100,
		ConeCosineHalfAngle1:       0.9,
		ConeCosineHalfAngle2:       0.95,
		ConeCosineHalfAngle3:       0.985,
		CloseHitDistance1:          100,
		CloseHitDistance2:          50,
		TrajectorySearchLayers:     20,
		TrajectoryMaxLayersCrossed: 100,

		CutMaxDistance:               750,
		CutMinContactLayers:          2,
		CutConeFraction1:             0.5,
		CutCloseHitFraction1:         0.5,
		CutCloseHitFraction2:         0.2,
		CutClosestTrajectoryDistance: 150,
		CutMeanTrajectoryDistance:    250,

		ContactEvidenceLayers:  10,
		ContactWeight:          1,
		ConeEvidenceFraction:   0.5,
		ConeWeight:             1,
		TrajectoryEvidenceNear: 20,
		TrajectoryEvidenceFar:  200,
		TrajectoryWeight:       1,
		ClosestEvidenceNear:    20,
		ClosestEvidenceFar:     200,
		ClosestWeight:          1,

		BaseRequiredEvidence:  1.5,
		MinRequiredEvidence:   0.5,
		DepthCorrectionLayers: 10,
		DepthCorrection:       0.5,
		LastInstrumentedLayer: 60,
		LeavingMarginLayers:   3,
		LeavingCorrection:     -0.5,
		LowEnergyDaughter:     1,
		LowEnergyCorrection:   0.5,
		AngularCosineRef:      0.9,
		AngularCorrection:     1,
		PhotonEMFraction:      0.9,
		PhotonMaxInnerLayer:   5,
		PhotonCorrection:      1,
	}
}

// ErrInvalidParams wraps every validation failure.
var ErrInvalidParams = errors.New("contact: invalid parameters")

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidParams, fmt.Sprintf(format, args...))
}

// Validate checks that every value is present and usable.
func (p Params) Validate() error {
	positive := []struct {
		name string
		v    float64
	}{
		{"contact_distance", p.ContactDistance},
		{"close_hit_distance_1", p.CloseHitDistance1},
		{"close_hit_distance_2", p.CloseHitDistance2},
		{"cut_max_distance", p.CutMaxDistance},
		{"cut_closest_trajectory_distance", p.CutClosestTrajectoryDistance},
		{"cut_mean_trajectory_distance", p.CutMeanTrajectoryDistance},
		{"trajectory_evidence_far", p.TrajectoryEvidenceFar},
		{"closest_evidence_far", p.ClosestEvidenceFar},
		{"low_energy_daughter", p.LowEnergyDaughter},
	}
	for _, f := range positive {
		if !(f.v > 0) || math.IsInf(f.v, 0) {
			return invalid("%s must be positive and finite, got %v", f.name, f.v)
		}
	}

	finite := map[string]float64{
		"contact_weight":         p.ContactWeight,
		"cone_weight":            p.ConeWeight,
		"trajectory_weight":      p.TrajectoryWeight,
		"closest_weight":         p.ClosestWeight,
		"base_required_evidence": p.BaseRequiredEvidence,
		"min_required_evidence":  p.MinRequiredEvidence,
		"depth_correction":       p.DepthCorrection,
		"leaving_correction":     p.LeavingCorrection,
		"low_energy_correction":  p.LowEnergyCorrection,
		"angular_correction":     p.AngularCorrection,
		"photon_correction":      p.PhotonCorrection,
	}
	for name, v := range finite {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return invalid("%s must be finite, got %v", name, v)
		}
	}
	for name, v := range map[string]float64{
		"contact_weight":    p.ContactWeight,
		"cone_weight":       p.ConeWeight,
		"trajectory_weight": p.TrajectoryWeight,
		"closest_weight":    p.ClosestWeight,
	} {
		if v < 0 {
			return invalid("%s must be non-negative, got %v", name, v)
		}
	}
	if p.MinRequiredEvidence < 0 {
		return invalid("min_required_evidence must be non-negative, got %v", p.MinRequiredEvidence)
	}

	c1, c2, c3 := p.ConeCosineHalfAngle1, p.ConeCosineHalfAngle2, p.ConeCosineHalfAngle3
	if !(c1 > 0 && c1 < c2 && c2 < c3 && c3 < 1) {
		return invalid("cone cosines must satisfy 0 < c1 < c2 < c3 < 1, got %v, %v, %v", c1, c2, c3)
	}
	if !(p.AngularCosineRef > -1 && p.AngularCosineRef < 1) {
		return invalid("angular_cosine_ref must be in (-1, 1), got %v", p.AngularCosineRef)
	}

	for name, v := range map[string]float64{
		"cut_cone_fraction_1":      p.CutConeFraction1,
		"cut_close_hit_fraction_1": p.CutCloseHitFraction1,
		"cut_close_hit_fraction_2": p.CutCloseHitFraction2,
		"cone_evidence_fraction":   p.ConeEvidenceFraction,
		"photon_em_fraction":       p.PhotonEMFraction,
	} {
		if !(v > 0 && v < 1) {
			return invalid("%s must be in (0, 1), got %v", name, v)
		}
	}

	if p.TrajectoryEvidenceNear < 0 || p.TrajectoryEvidenceNear >= p.TrajectoryEvidenceFar {
		return invalid("trajectory evidence range [%v, %v] is empty", p.TrajectoryEvidenceNear, p.TrajectoryEvidenceFar)
	}
	if p.ClosestEvidenceNear < 0 || p.ClosestEvidenceNear >= p.ClosestEvidenceFar {
		return invalid("closest evidence range [%v, %v] is empty", p.ClosestEvidenceNear, p.ClosestEvidenceFar)
	}

	for name, v := range map[string]int{
		"trajectory_search_layers":      p.TrajectorySearchLayers,
		"trajectory_max_layers_crossed": p.TrajectoryMaxLayersCrossed,
		"cut_min_contact_layers":        p.CutMinContactLayers,
		"contact_evidence_layers":       p.ContactEvidenceLayers,
		"depth_correction_layers":       p.DepthCorrectionLayers,
		"last_instrumented_layer":       p.LastInstrumentedLayer,
	} {
		if v <= 0 {
			return invalid("%s must be positive, got %d", name, v)
		}
	}
	if p.LeavingMarginLayers < 0 || p.PhotonMaxInnerLayer < 0 {
		return invalid("layer margins must be non-negative")
	}
	return nil
}
