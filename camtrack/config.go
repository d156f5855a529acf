package camtrack

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ReconstructionConfig holds every tunable of the reconstruction.
// The same JSON schema is accepted by LoadReconstructionConfig
type ReconstructionConfig struct {
	// Sweep params
	DefaultStep   int  `json:"default_step"`
	MinStep       int  `json:"min_step"`
	MinSeedSpan   int  `json:"min_seed_span"`
	BackwardSweep bool `json:"backward_sweep"`
	// Reprojection threshold for poses solved while growing the cloud (pixels)
	SweepReprojectionError float64 `json:"sweep_reprojection_error"`

	// Final pose resolution params (pixels)
	StandardReprojectionError  float64 `json:"standard_reprojection_error"`
	MaxReprojectionError       float64 `json:"max_reprojection_error"`
	ReprojectionErrorIncrement float64 `json:"reprojection_error_increment"`

	// Pose solver params
	PnPMaxIterations   int     `json:"pnp_max_iterations"`
	PnPConfidence      float64 `json:"pnp_confidence"`
	MinCorrespondences int     `json:"min_correspondences"`
	Seed               uint64  `json:"seed"`

	// Triangulation gates
	BootstrapTriangulation TriangulationParameters `json:"bootstrap_triangulation"`
	ExpansionTriangulation TriangulationParameters `json:"expansion_triangulation"`

	// Retriangulation params
	Retriangulate            bool `json:"retriangulate"`
	RetriangulationGroupSize int  `json:"retriangulation_group_size"`

	// Max distance between projected point and its track observation to take the pixel color (pixels)
	ColorMaxReprojectionError float64 `json:"color_max_reprojection_error"`
}

// DefaultReconstructionConfig returns configuration with default values
func DefaultReconstructionConfig() ReconstructionConfig {
	return ReconstructionConfig{
		DefaultStep:                50,
		MinStep:                    4,
		MinSeedSpan:                5,
		BackwardSweep:              true,
		SweepReprojectionError:     2.0,
		StandardReprojectionError:  2.0,
		MaxReprojectionError:       9.0,
		ReprojectionErrorIncrement: 1.0,
		PnPMaxIterations:           100,
		PnPConfidence:              0.99,
		MinCorrespondences:         5,
		Seed:                       42,
		BootstrapTriangulation: TriangulationParameters{
			MaxReprojectionError:     4.0,
			MinTriangulationAngleDeg: 1.0,
			MinDepth:                 0.1,
		},
		ExpansionTriangulation: TriangulationParameters{
			MaxReprojectionError:     8.0,
			MinTriangulationAngleDeg: 0.5,
			MinDepth:                 0.1,
		},
		Retriangulate:             false,
		RetriangulationGroupSize:  4,
		ColorMaxReprojectionError: 5.0,
	}
}

// LoadReconstructionConfig loads configuration from JSON file.
// Fields omitted in the file keep their default values, so partial configs are safe
func LoadReconstructionConfig(path string) (ReconstructionConfig, error) {
	cfg := DefaultReconstructionConfig()
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return cfg, errors.Errorf("config file must have .json extension, got %q", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return cfg, errors.Wrap(err, "failed to stat config file")
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return cfg, errors.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return cfg, errors.Wrap(err, "failed to read config file")
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to parse config JSON")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Validate checks that configuration values are consistent
func (cfg ReconstructionConfig) Validate() error {
	if cfg.MinStep < 1 {
		return errors.Errorf("min_step must be positive, got %d", cfg.MinStep)
	}
	if cfg.DefaultStep < cfg.MinStep {
		return errors.Errorf("default_step (%d) must not be less than min_step (%d)", cfg.DefaultStep, cfg.MinStep)
	}
	if cfg.MinSeedSpan < 0 {
		return errors.Errorf("min_seed_span must not be negative, got %d", cfg.MinSeedSpan)
	}
	if cfg.SweepReprojectionError <= 0 || cfg.StandardReprojectionError <= 0 {
		return errors.New("reprojection errors must be positive")
	}
	if cfg.MaxReprojectionError < cfg.StandardReprojectionError {
		return errors.Errorf("max_reprojection_error (%.2f) must not be less than standard_reprojection_error (%.2f)", cfg.MaxReprojectionError, cfg.StandardReprojectionError)
	}
	if cfg.ReprojectionErrorIncrement <= 0 {
		return errors.Errorf("reprojection_error_increment must be positive, got %.2f", cfg.ReprojectionErrorIncrement)
	}
	if cfg.PnPMaxIterations < 1 {
		return errors.Errorf("pnp_max_iterations must be positive, got %d", cfg.PnPMaxIterations)
	}
	if cfg.PnPConfidence <= 0 || cfg.PnPConfidence >= 1 {
		return errors.Errorf("pnp_confidence must be in (0, 1), got %.3f", cfg.PnPConfidence)
	}
	if cfg.MinCorrespondences < 4 {
		return errors.Errorf("min_correspondences must be at least 4, got %d", cfg.MinCorrespondences)
	}
	for name, params := range map[string]TriangulationParameters{
		"bootstrap_triangulation": cfg.BootstrapTriangulation,
		"expansion_triangulation": cfg.ExpansionTriangulation,
	} {
		if params.MaxReprojectionError <= 0 {
			return errors.Errorf("%s.max_reprojection_error must be positive", name)
		}
		if params.MinTriangulationAngleDeg < 0 || params.MinTriangulationAngleDeg >= 90 {
			return errors.Errorf("%s.min_triangulation_angle_deg must be in [0, 90)", name)
		}
	}
	if cfg.RetriangulationGroupSize < 2 {
		return errors.Errorf("retriangulation_group_size must be at least 2, got %d", cfg.RetriangulationGroupSize)
	}
	if cfg.ColorMaxReprojectionError <= 0 {
		return errors.Errorf("color_max_reprojection_error must be positive, got %.2f", cfg.ColorMaxReprojectionError)
	}
	return nil
}
