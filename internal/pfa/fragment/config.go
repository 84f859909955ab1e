package fragment

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/particleflow/internal/pfa/contact"
)

// ErrInvalidConfig wraps every engine configuration failure.
var ErrInvalidConfig = errors.New("fragment: invalid config")

// Config controls which clusters are considered fragments and how merges
// are scored.
type Config struct {
	Contact contact.Params `json:"contact"`

	// Daughters below either floor are never considered for merging.
	MinDaughterHits   int     `json:"min_daughter_hits"`
	MinDaughterEnergy float64 `json:"min_daughter_energy"`

	// Energy consistency of cluster energy against track momentum:
	// chi = (E - p) / (ChiResolution * sqrt(p)).
	ChiResolution float64 `json:"chi_resolution"`
	MaxChi2       float64 `json:"max_chi2"`

	// MaxNeighborDistance caps the neighbour cache radius. Zero means use
	// the contact cut distance alone.
	MaxNeighborDistance float64 `json:"max_neighbor_distance"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Contact:           contact.DefaultParams(),
		MinDaughterHits:   5,
		MinDaughterEnergy: 0.1,
		ChiResolution:     0.6,
		MaxChi2:           9,
	}
}

// Validate checks the engine settings and the contact parameters.
func (c Config) Validate() error {
	if err := c.Contact.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.MinDaughterHits < 1 {
		return fmt.Errorf("%w: min_daughter_hits must be at least 1, got %d", ErrInvalidConfig, c.MinDaughterHits)
	}
	if c.MinDaughterEnergy < 0 || math.IsNaN(c.MinDaughterEnergy) || math.IsInf(c.MinDaughterEnergy, 0) {
		return fmt.Errorf("%w: min_daughter_energy must be finite and non-negative, got %v", ErrInvalidConfig, c.MinDaughterEnergy)
	}
	if !(c.ChiResolution > 0) || math.IsInf(c.ChiResolution, 0) {
		return fmt.Errorf("%w: chi_resolution must be positive, got %v", ErrInvalidConfig, c.ChiResolution)
	}
	if !(c.MaxChi2 > 0) {
		return fmt.Errorf("%w: max_chi2 must be positive, got %v", ErrInvalidConfig, c.MaxChi2)
	}
	if c.MaxNeighborDistance < 0 || math.IsNaN(c.MaxNeighborDistance) {
		return fmt.Errorf("%w: max_neighbor_distance must be non-negative, got %v", ErrInvalidConfig, c.MaxNeighborDistance)
	}
	return nil
}

// NeighborRadius is the neighbour cache search radius. No pair further
// apart than the contact cut distance can pass the cuts, so nothing beyond
// it is cached.
func (c Config) NeighborRadius() float64 {
	r := c.Contact.CutMaxDistance
	if c.MaxNeighborDistance > 0 && c.MaxNeighborDistance < r {
		r = c.MaxNeighborDistance
	}
	return r
}

// consistent reports whether adding daughterEnergy to a cluster of
// clusterEnergy keeps it compatible with the track momentum, or brings it
// closer. Clusters without momentum are always compatible.
func (c Config) consistent(clusterEnergy, daughterEnergy, momentum float64) bool {
	if !(momentum > 0) {
		return true
	}
	sigma := c.ChiResolution * math.Sqrt(momentum)
	chiOld := (clusterEnergy - momentum) / sigma
	chiNew := (clusterEnergy + daughterEnergy - momentum) / sigma
	return chiNew*chiNew < c.MaxChi2 || chiNew*chiNew < chiOld*chiOld
}
