package svopg

import (
	"errors"
	"fmt"
	"math/bits"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

// WorkgroupSize is the fixed compute workgroup width. WebGPU guarantees 256 invocations per workgroup.
const WorkgroupSize = 256

type VoxelConfig struct {
	Count uint32 `yaml:"count"`
	Views int    `yaml:"views"`
	// Padding is the relative growth applied to the scene bounds before voxelization.
	Padding float32 `yaml:"padding"`
}

type OctreeConfig struct {
	ClusteringLevel int     `yaml:"clustering_level"`
	EntropyMin      float32 `yaml:"entropy_min"`
	EntropyMax      float32 `yaml:"entropy_max"`
	IrradianceRatio float32 `yaml:"irradiance_ratio"`
	DebugLevels     []int   `yaml:"debug_levels"`
	// DebugTree selects which octree ("G" or "E") the wireframe overlay draws.
	DebugTree string `yaml:"debug_tree"`
}

type InjectConfig struct {
	Samples int  `yaml:"samples"`
	NEE     bool `yaml:"nee"`
}

type TraceConfig struct {
	Width            uint32  `yaml:"width"`
	Height           uint32  `yaml:"height"`
	MaxFrames        int     `yaml:"max_frames"`
	MaxDepth         int     `yaml:"max_depth"`
	GuideProbability float32 `yaml:"guide_probability"`
	NEE              bool    `yaml:"nee"`
	Exposure         float32 `yaml:"exposure"`
}

type DebugConfig struct {
	Enabled          bool `yaml:"enabled"`
	ValidateBarriers bool `yaml:"validate_barriers"`
	Overlay          bool `yaml:"overlay"`
}

type Config struct {
	Voxel  VoxelConfig  `yaml:"voxel"`
	Octree OctreeConfig `yaml:"octree"`
	Inject InjectConfig `yaml:"inject"`
	Trace  TraceConfig  `yaml:"trace"`
	Debug  DebugConfig  `yaml:"debug"`
}

func DefaultConfig() Config {
	return Config{
		Voxel: VoxelConfig{
			Count:   64,
			Views:   3,
			Padding: 0.1,
		},
		Octree: OctreeConfig{
			ClusteringLevel: 3,
			EntropyMin:      0.05,
			EntropyMax:      0.2,
			IrradianceRatio: 0.5,
			DebugTree:       "E",
		},
		Inject: InjectConfig{
			Samples: 8,
			NEE:     true,
		},
		Trace: TraceConfig{
			Width:            1280,
			Height:           720,
			MaxFrames:        256,
			MaxDepth:         4,
			GuideProbability: 0.5,
			NEE:              true,
			Exposure:         1.0,
		},
	}
}

// LoadConfig reads a YAML file over the defaults and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// MaxDepth is log2 of the voxel count: the octree level that maps 1:1 onto the voxel grid.
func (c Config) MaxDepth() int {
	return bits.TrailingZeros32(c.Voxel.Count)
}

func (c Config) Validate() error {
	n := c.Voxel.Count
	if n < 4 || n > 256 || n&(n-1) != 0 {
		return fmt.Errorf("%w: voxel count %d must be a power of two in [4,256]", ErrInvalidConfig, n)
	}
	if c.Voxel.Views < 1 || c.Voxel.Views > 3 {
		return fmt.Errorf("%w: voxel views %d must be 1..3", ErrInvalidConfig, c.Voxel.Views)
	}
	if c.Voxel.Padding < 0 {
		return fmt.Errorf("%w: negative voxel padding", ErrInvalidConfig)
	}
	if d := c.MaxDepth(); c.Octree.ClusteringLevel < 1 || c.Octree.ClusteringLevel > d {
		return fmt.Errorf("%w: clustering level %d outside [1,%d]", ErrInvalidConfig, c.Octree.ClusteringLevel, d)
	}
	if c.Octree.EntropyMin < 0 || c.Octree.EntropyMax > 1 || c.Octree.EntropyMin > c.Octree.EntropyMax {
		return fmt.Errorf("%w: entropy thresholds [%v,%v]", ErrInvalidConfig, c.Octree.EntropyMin, c.Octree.EntropyMax)
	}
	if c.Octree.IrradianceRatio <= 0 || c.Octree.IrradianceRatio > 1 {
		return fmt.Errorf("%w: irradiance ratio %v must be in (0,1]", ErrInvalidConfig, c.Octree.IrradianceRatio)
	}
	if c.Octree.DebugTree != "G" && c.Octree.DebugTree != "E" {
		return fmt.Errorf("%w: debug tree %q must be G or E", ErrInvalidConfig, c.Octree.DebugTree)
	}
	for _, lvl := range c.Octree.DebugLevels {
		if lvl < 0 || lvl > c.MaxDepth() {
			return fmt.Errorf("%w: debug level %d", ErrInvalidConfig, lvl)
		}
	}
	if c.Inject.Samples < 1 {
		return fmt.Errorf("%w: injection samples must be positive", ErrInvalidConfig)
	}
	if c.Trace.Width == 0 || c.Trace.Height == 0 {
		return fmt.Errorf("%w: empty trace resolution", ErrInvalidConfig)
	}
	if c.Trace.MaxFrames < 1 {
		return fmt.Errorf("%w: max frames must be >= 1", ErrInvalidConfig)
	}
	if c.Trace.MaxDepth < 1 {
		return fmt.Errorf("%w: max bounce depth must be >= 1", ErrInvalidConfig)
	}
	if c.Trace.GuideProbability < 0 || c.Trace.GuideProbability > 1 {
		return fmt.Errorf("%w: guide probability %v", ErrInvalidConfig, c.Trace.GuideProbability)
	}
	if c.Trace.Exposure < 0 {
		return fmt.Errorf("%w: negative exposure %v", ErrInvalidConfig, c.Trace.Exposure)
	}
	return nil
}
