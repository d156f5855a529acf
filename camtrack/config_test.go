package camtrack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultReconstructionConfig(t *testing.T) {
	cfg := DefaultReconstructionConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.DefaultStep)
	assert.Equal(t, 4, cfg.MinStep)
	assert.Equal(t, 2.0, cfg.StandardReprojectionError)
	assert.Equal(t, 9.0, cfg.MaxReprojectionError)
	assert.Equal(t, 5, cfg.MinCorrespondences)
	assert.False(t, cfg.Retriangulate)
}

func TestLoadReconstructionConfig(t *testing.T) {
	t.Run("partial config keeps defaults", func(t *testing.T) {
		path := writeConfig(t, "camtrack.json", `{
			"default_step": 20,
			"retriangulate": true,
			"expansion_triangulation": {"max_reprojection_error": 6.5, "min_triangulation_angle_deg": 0.75, "min_depth": 0.2}
		}`)
		cfg, err := LoadReconstructionConfig(path)
		require.NoError(t, err)

		expected := DefaultReconstructionConfig()
		expected.DefaultStep = 20
		expected.Retriangulate = true
		expected.ExpansionTriangulation = TriangulationParameters{MaxReprojectionError: 6.5, MinTriangulationAngleDeg: 0.75, MinDepth: 0.2}
		assert.Equal(t, expected, cfg)
	})

	t.Run("wrong extension", func(t *testing.T) {
		path := writeConfig(t, "camtrack.yaml", `default_step: 20`)
		_, err := LoadReconstructionConfig(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadReconstructionConfig(filepath.Join(t.TempDir(), "missing.json"))
		assert.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		path := writeConfig(t, "camtrack.json", `{"default_step": `)
		_, err := LoadReconstructionConfig(path)
		assert.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		path := writeConfig(t, "camtrack.json", `{"default_step": 2, "min_step": 4}`)
		_, err := LoadReconstructionConfig(path)
		assert.Error(t, err)
	})
}

func TestReconstructionConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		modify func(cfg *ReconstructionConfig)
	}{
		{"zero min step", func(cfg *ReconstructionConfig) { cfg.MinStep = 0 }},
		{"negative seed span", func(cfg *ReconstructionConfig) { cfg.MinSeedSpan = -1 }},
		{"max threshold below standard", func(cfg *ReconstructionConfig) { cfg.MaxReprojectionError = 1.0 }},
		{"zero increment", func(cfg *ReconstructionConfig) { cfg.ReprojectionErrorIncrement = 0 }},
		{"confidence out of range", func(cfg *ReconstructionConfig) { cfg.PnPConfidence = 1.0 }},
		{"too few correspondences", func(cfg *ReconstructionConfig) { cfg.MinCorrespondences = 3 }},
		{"right angle gate", func(cfg *ReconstructionConfig) { cfg.BootstrapTriangulation.MinTriangulationAngleDeg = 90 }},
		{"zero expansion error", func(cfg *ReconstructionConfig) { cfg.ExpansionTriangulation.MaxReprojectionError = 0 }},
		{"single frame group", func(cfg *ReconstructionConfig) { cfg.RetriangulationGroupSize = 1 }},
		{"zero color threshold", func(cfg *ReconstructionConfig) { cfg.ColorMaxReprojectionError = 0 }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := DefaultReconstructionConfig()
			c.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
