package octree

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	svopg "github.com/gekko3d/svopg"
	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
	"github.com/gekko3d/svopg/voxelgi/rt/voxelize"
)

// Tree selects one of the two octrees.
type Tree int

const (
	// TreeG aggregates geometry only.
	TreeG Tree = iota
	// TreeE also aggregates injected irradiance and splits on irradiance spread.
	TreeE
)

func (t Tree) String() string {
	if t == TreeG {
		return "G"
	}
	return "E"
}

// ParseTree maps "G" and "E" to their tree.
func ParseTree(s string) (Tree, error) {
	switch s {
	case "G", "g":
		return TreeG, nil
	case "E", "e":
		return TreeE, nil
	}
	return 0, fmt.Errorf("unknown octree %q", s)
}

// Builder owns both trees and records their bottom-up construction from the VGB.
type Builder struct {
	dev    gpu.Device
	log    svopg.Logger
	params Params

	G *gpu.Buffer
	E *gpu.Buffer
}

func New(dev gpu.Device, log svopg.Logger, params Params) (*Builder, error) {
	if params.MaxDepth < 1 || params.ClusteringLevel < 1 || params.ClusteringLevel > params.MaxDepth {
		return nil, fmt.Errorf("octree: clustering level %d outside [1,%d]", params.ClusteringLevel, params.MaxDepth)
	}
	b := &Builder{dev: dev, log: svopg.OrNop(log), params: params}
	size := uint64(NodeCount(params.MaxDepth)) * NodeSize
	var err error
	if b.G, err = dev.CreateBuffer(gpu.BufferDesc{Label: "OctreeG", Size: size, Usage: gpu.BufferUsageStorage | gpu.BufferUsageCopySrc}); err != nil {
		return nil, fmt.Errorf("octree: G: %w", err)
	}
	if b.E, err = dev.CreateBuffer(gpu.BufferDesc{Label: "OctreeE", Size: size, Usage: gpu.BufferUsageStorage | gpu.BufferUsageCopySrc}); err != nil {
		dev.DestroyBuffer(b.G)
		return nil, fmt.Errorf("octree: E: %w", err)
	}
	b.log.Debugf("octree depth %d, clustering level %d, %d nodes per tree", params.MaxDepth, params.ClusteringLevel, NodeCount(params.MaxDepth))
	return b, nil
}

func (b *Builder) Params() Params { return b.params }

func (b *Builder) Buffer(t Tree) *gpu.Buffer {
	if t == TreeG {
		return b.G
	}
	return b.E
}

func (b *Builder) push(grid voxelize.Grid) Push {
	return Push{
		Count:      grid.Count,
		MaxDepth:   uint32(b.params.MaxDepth),
		GridMin:    grid.Min,
		VoxelSize:  grid.VoxelSize,
		EntropyMin: b.params.EntropyMin,
		EntropyMax: b.params.EntropyMax,
		Ratio:      b.params.IrradianceRatio,
	}
}

// Record builds both trees from vgb. The caller must have made the injection writes visible to the
// compute stage. Every pass reads what the previous one wrote, so each is followed by a
// compute-to-compute barrier; the trees are complete, labels included, once Record returns.
func (b *Builder) Record(l *gpu.CommandList, grid voxelize.Grid, vgb *gpu.Buffer) {
	if grid.Count != uint32(1)<<uint(b.params.MaxDepth) {
		panic(fmt.Sprintf("octree: grid of %d voxels does not match depth %d", grid.Count, b.params.MaxDepth))
	}
	d, cl := b.params.MaxDepth, b.params.ClusteringLevel
	p := b.push(grid)

	l.Dispatch(LeafKernel, gpu.StageComputeShader, gpu.Groups1D(grid.Cells(), svopg.WorkgroupSize), p.Bytes(),
		gpu.Write(b.G), gpu.Write(b.E), gpu.Read(vgb))
	l.Barrier(gpu.StageComputeShader, gpu.StageComputeShader)

	for depth := d; depth >= 1; depth-- {
		p.Depth = uint32(depth)
		// Levels at or above the clustering level are cluster candidates.
		p.Cluster = depth-1 <= cl
		l.Dispatch(ReduceKernel, gpu.StageComputeShader, gpu.Groups1D(LevelSize(depth-1), svopg.WorkgroupSize), p.Bytes(),
			gpu.ReadWrite(b.G), gpu.ReadWrite(b.E))
		l.Barrier(gpu.StageComputeShader, gpu.StageComputeShader)
	}

	p.Cluster = false
	for level := 0; level <= cl; level++ {
		p.Depth = uint32(level)
		l.Dispatch(LabelKernel, gpu.StageComputeShader, gpu.Groups1D(LevelSize(level), svopg.WorkgroupSize), p.Bytes(),
			gpu.ReadWrite(b.G), gpu.ReadWrite(b.E))
		if level < cl {
			l.Barrier(gpu.StageComputeShader, gpu.StageComputeShader)
		}
	}
}

// Barriers is the number of barriers Record emits.
func (b *Builder) Barriers() int { return 1 + b.params.MaxDepth + b.params.ClusteringLevel }

// Level reads one level of a tree back from the device.
func (b *Builder) Level(t Tree, d int) ([]Node, error) {
	if d < 0 || d > b.params.MaxDepth {
		return nil, fmt.Errorf("octree: level %d outside [0,%d]", d, b.params.MaxDepth)
	}
	raw, err := b.dev.ReadBuffer(b.Buffer(t))
	if err != nil {
		return nil, fmt.Errorf("octree: read %s: %w", t, err)
	}
	return DecodeLevel(raw, d), nil
}

// Box is an occupied node's bounds, coloured by cluster for the debug overlay.
type Box struct {
	Min, Max mgl32.Vec3
	Level    int
	Label    uint32
}

// Boxes collects the occupied nodes of the given levels of tree t.
func (b *Builder) Boxes(t Tree, levels []int) ([]Box, error) {
	raw, err := b.dev.ReadBuffer(b.Buffer(t))
	if err != nil {
		return nil, fmt.Errorf("octree: read %s: %w", t, err)
	}
	var out []Box
	for _, d := range levels {
		if d < 0 || d > b.params.MaxDepth {
			continue
		}
		for _, n := range DecodeLevel(raw, d) {
			if n.Occupied() {
				out = append(out, Box{Min: n.Min, Max: n.Max, Level: d, Label: n.Label})
			}
		}
	}
	return out, nil
}

// Clusters counts the distinct non-zero labels on level cl of tree t.
func (b *Builder) Clusters(t Tree) (int, error) {
	nodes, err := b.Level(t, b.params.ClusteringLevel)
	if err != nil {
		return 0, err
	}
	seen := map[uint32]struct{}{}
	for _, n := range nodes {
		if n.Label != 0 {
			seen[n.Label] = struct{}{}
		}
	}
	return len(seen), nil
}

func (b *Builder) Destroy() {
	b.dev.DestroyBuffer(b.G)
	b.dev.DestroyBuffer(b.E)
	b.G, b.E = nil, nil
}
