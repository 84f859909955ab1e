package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/particleflow/internal/pfa/association"
	"github.com/banshee-data/particleflow/internal/pfa/contact"
	"github.com/banshee-data/particleflow/internal/pfa/fragment"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// DefaultCollection is the cluster collection the pipeline operates on
// when none is configured.
const DefaultCollection = "Clusters"

// TuningConfig represents the root configuration for reconstruction
// parameters. Every field is optional; the Get* methods supply defaults.
type TuningConfig struct {
	// Pipeline
	Algorithms      []string `json:"algorithms,omitempty"`
	InputCollection *string  `json:"input_collection,omitempty"`
	Workers         *int     `json:"workers,omitempty"`

	// Track-cluster association
	AssociationMaxDistance *float64 `json:"association_max_distance,omitempty"`
	AssociationMaxLayer    *int     `json:"association_max_layer,omitempty"`

	// Fragment removal
	MinDaughterHits     *int     `json:"min_daughter_hits,omitempty"`
	MinDaughterEnergy   *float64 `json:"min_daughter_energy,omitempty"`
	ChiResolution       *float64 `json:"chi_resolution,omitempty"`
	MaxChi2             *float64 `json:"max_chi2,omitempty"`
	MaxNeighborDistance *float64 `json:"max_neighbor_distance,omitempty"`

	// Contact holds overrides for individual contact.Params fields, keyed
	// by their JSON names. Unlisted fields keep contact.DefaultParams.
	Contact json.RawMessage `json:"contact,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/pfa/fragment/
		"../../../../" + DefaultConfigPath, // from internal/pfa/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Engine and
// contact settings are validated through the configs they produce.
func (c *TuningConfig) Validate() error {
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	if c.InputCollection != nil && *c.InputCollection == "" {
		return fmt.Errorf("input_collection must not be empty")
	}
	for i, name := range c.Algorithms {
		if name == "" {
			return fmt.Errorf("algorithms[%d] is empty", i)
		}
	}

	if err := c.AssociationConfig().Validate(); err != nil {
		return err
	}
	fc, err := c.FragmentConfig()
	if err != nil {
		return err
	}
	return fc.Validate()
}

// GetAlgorithms returns the configured algorithm sequence or the default.
func (c *TuningConfig) GetAlgorithms() []string {
	if len(c.Algorithms) == 0 {
		return []string{"TrackClusterAssociation", "FragmentRemoval"}
	}
	return append([]string(nil), c.Algorithms...)
}

// GetInputCollection returns the input_collection value or the default.
func (c *TuningConfig) GetInputCollection() string {
	if c.InputCollection == nil {
		return DefaultCollection
	}
	return *c.InputCollection
}

// GetWorkers returns the workers value or the default.
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil {
		return 4
	}
	return *c.Workers
}

// GetAssociationMaxDistance returns the association_max_distance value or the default.
func (c *TuningConfig) GetAssociationMaxDistance() float64 {
	if c.AssociationMaxDistance == nil {
		return association.DefaultConfig().MaxDistance
	}
	return *c.AssociationMaxDistance
}

// GetAssociationMaxLayer returns the association_max_layer value or the default.
func (c *TuningConfig) GetAssociationMaxLayer() int {
	if c.AssociationMaxLayer == nil {
		return association.DefaultConfig().MaxLayer
	}
	return *c.AssociationMaxLayer
}

// GetMinDaughterHits returns the min_daughter_hits value or the default.
func (c *TuningConfig) GetMinDaughterHits() int {
	if c.MinDaughterHits == nil {
		return fragment.DefaultConfig().MinDaughterHits
	}
	return *c.MinDaughterHits
}

// GetMinDaughterEnergy returns the min_daughter_energy value or the default.
func (c *TuningConfig) GetMinDaughterEnergy() float64 {
	if c.MinDaughterEnergy == nil {
		return fragment.DefaultConfig().MinDaughterEnergy
	}
	return *c.MinDaughterEnergy
}

// GetChiResolution returns the chi_resolution value or the default.
func (c *TuningConfig) GetChiResolution() float64 {
	if c.ChiResolution == nil {
		return fragment.DefaultConfig().ChiResolution
	}
	return *c.ChiResolution
}

// GetMaxChi2 returns the max_chi2 value or the default.
func (c *TuningConfig) GetMaxChi2() float64 {
	if c.MaxChi2 == nil {
		return fragment.DefaultConfig().MaxChi2
	}
	return *c.MaxChi2
}

// GetMaxNeighborDistance returns the max_neighbor_distance value or 0 (no cap).
func (c *TuningConfig) GetMaxNeighborDistance() float64 {
	if c.MaxNeighborDistance == nil {
		return 0
	}
	return *c.MaxNeighborDistance
}

// ContactParams returns contact.DefaultParams with the configured
// overrides applied. Unknown keys are an error.
func (c *TuningConfig) ContactParams() (contact.Params, error) {
	p := contact.DefaultParams()
	if len(c.Contact) == 0 {
		return p, nil
	}
	dec := json.NewDecoder(bytes.NewReader(c.Contact))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("invalid contact overrides: %w", err)
	}
	return p, nil
}

// AssociationConfig builds the association step configuration.
func (c *TuningConfig) AssociationConfig() association.Config {
	return association.Config{
		MaxDistance: c.GetAssociationMaxDistance(),
		MaxLayer:    c.GetAssociationMaxLayer(),
	}
}

// FragmentConfig builds the merge engine configuration.
func (c *TuningConfig) FragmentConfig() (fragment.Config, error) {
	p, err := c.ContactParams()
	if err != nil {
		return fragment.Config{}, err
	}
	return fragment.Config{
		Contact:             p,
		MinDaughterHits:     c.GetMinDaughterHits(),
		MinDaughterEnergy:   c.GetMinDaughterEnergy(),
		ChiResolution:       c.GetChiResolution(),
		MaxChi2:             c.GetMaxChi2(),
		MaxNeighborDistance: c.GetMaxNeighborDistance(),
	}, nil
}
