package svopg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 6, cfg.MaxDepth())
}

func TestConfigValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"non power of two":  func(c *Config) { c.Voxel.Count = 48 },
		"too many views":    func(c *Config) { c.Voxel.Views = 4 },
		"clustering deep":   func(c *Config) { c.Octree.ClusteringLevel = 7 },
		"clustering zero":   func(c *Config) { c.Octree.ClusteringLevel = 0 },
		"entropy inverted":  func(c *Config) { c.Octree.EntropyMin, c.Octree.EntropyMax = 0.5, 0.1 },
		"ratio zero":        func(c *Config) { c.Octree.IrradianceRatio = 0 },
		"frames zero":       func(c *Config) { c.Trace.MaxFrames = 0 },
		"guide above one":   func(c *Config) { c.Trace.GuideProbability = 1.5 },
		"debug level":       func(c *Config) { c.Octree.DebugLevels = []int{9} },
		"negative exposure": func(c *Config) { c.Trace.Exposure = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svopg.yaml")
	data := []byte(`
voxel:
  count: 32
octree:
  clustering_level: 2
trace:
  max_frames: 4
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(32), cfg.Voxel.Count)
	assert.Equal(t, 2, cfg.Octree.ClusteringLevel)
	assert.Equal(t, 4, cfg.Trace.MaxFrames)
	// untouched fields keep their defaults
	assert.Equal(t, 3, cfg.Voxel.Views)
	assert.Equal(t, float32(0.5), cfg.Octree.IrradianceRatio)
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("voxel:\n  count: 100\n"), 0o644))
	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
