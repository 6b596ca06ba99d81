package accel

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	svopg "github.com/gekko3d/svopg"
	"github.com/gekko3d/svopg/voxelgi/rt/bvh"
	"github.com/gekko3d/svopg/voxelgi/rt/core"
	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
)

var ErrBuild = errors.New("acceleration structure build failed")

// BLASLeafSize is the triangle count per BLAS leaf. The median split assigns every triangle to
// exactly one leaf, so a ray never reports the same triangle twice.
const BLASLeafSize = 4

// Manager owns the bottom- and top-level acceleration structures and the pooled mesh buffers
// they reference.
type Manager struct {
	dev gpu.Device
	log svopg.Logger

	scene *core.Scene
	pool  *core.MeshPool

	blas []*bvh.BVH
	refs []BLASRef
	tlas *bvh.BVH

	order        []*core.Instance
	staticCount  int
	staticRecord []byte

	Accel    *gpu.Buffer
	Vertices *gpu.Buffer
	Indices  *gpu.Buffer

	header [HeaderWords]uint32

	Stats struct {
		BLASBuilds  int
		TLASBuilds  int
		TLASUpdates int
	}
}

func NewManager(dev gpu.Device, log svopg.Logger) *Manager {
	return &Manager{dev: dev, log: svopg.OrNop(log)}
}

// Init builds one BLAS per mesh and the TLAS over every instance, uploads them and blocks until
// the device is idle.
func (m *Manager) Init(scene *core.Scene) error {
	if err := scene.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrBuild, err)
	}
	m.Destroy()
	m.scene = scene
	m.pool = core.NewMeshPool(scene.Meshes)

	m.blas = m.blas[:0]
	m.refs = m.refs[:0]
	var nodeBase, primBase uint32
	for i, mesh := range scene.Meshes {
		if mesh.TriangleCount() == 0 {
			return fmt.Errorf("%w: mesh %d (%s) has no triangles", ErrBuild, i, mesh.Name)
		}
		aabbs := make([][2]mgl32.Vec3, mesh.TriangleCount())
		for t := range aabbs {
			aabbs[t] = triangleAABB(mesh.Triangle(t))
		}
		tree := (&bvh.Builder{MaxLeafSize: BLASLeafSize}).Build(aabbs)
		m.blas = append(m.blas, tree)
		m.refs = append(m.refs, BLASRef{NodeBase: nodeBase, PrimBase: primBase})
		nodeBase += uint32(len(tree.Nodes))
		primBase += uint32(len(tree.Prims))
		m.Stats.BLASBuilds++
	}

	m.order = m.order[:0]
	m.order = append(m.order, scene.StaticInstances()...)
	m.staticCount = len(m.order)
	m.order = append(m.order, scene.DynamicInstances()...)

	w := core.NewWriter(m.staticCount * RecordSize)
	for _, inst := range m.order[:m.staticCount] {
		NewRecord(inst, m.refs[inst.Mesh]).AppendTo(w)
	}
	m.staticRecord = w.Bytes()

	m.tlas = (&bvh.Builder{MaxLeafSize: 1}).Build(m.instanceAABBs())
	m.Stats.TLASBuilds++

	if err := m.upload(nodeBase, primBase); err != nil {
		return fmt.Errorf("%w: %v", ErrBuild, err)
	}
	if err := m.dev.WaitIdle(); err != nil {
		return fmt.Errorf("%w: %v", ErrBuild, err)
	}
	m.log.Infof("acceleration structures: %d BLAS (%d nodes), TLAS over %d instances (%d static)",
		len(m.blas), nodeBase, len(m.order), m.staticCount)
	return nil
}

// Rebuild rebuilds everything from the current scene, e.g. after a pipeline feature toggle.
func (m *Manager) Rebuild() error {
	if m.scene == nil {
		return fmt.Errorf("%w: manager not initialised", ErrBuild)
	}
	return m.Init(m.scene)
}

func triangleAABB(tri [3]mgl32.Vec3) [2]mgl32.Vec3 {
	minB, maxB := tri[0], tri[0]
	for _, p := range tri[1:] {
		for k := 0; k < 3; k++ {
			minB[k] = min(minB[k], p[k])
			maxB[k] = max(maxB[k], p[k])
		}
	}
	return [2]mgl32.Vec3{minB, maxB}
}

func (m *Manager) instanceAABBs() [][2]mgl32.Vec3 {
	out := make([][2]mgl32.Vec3, len(m.order))
	for i, inst := range m.order {
		out[i] = inst.WorldAABB(m.scene.Meshes[inst.Mesh])
	}
	return out
}

func (m *Manager) layout(blasNodes, blasPrims uint32) uint32 {
	n := uint32(len(m.order))
	h := &m.header
	h[HdrTLASNodes] = HeaderWords
	h[HdrTLASNodeCount] = uint32(len(m.tlas.Nodes))
	h[HdrTLASPrims] = h[HdrTLASNodes] + h[HdrTLASNodeCount]*bvh.NodeWords
	h[HdrInstances] = h[HdrTLASPrims] + uint32(max(len(m.tlas.Prims), 1))
	h[HdrInstanceCount] = n
	h[HdrInverses] = h[HdrInstances] + n*RecordWords
	h[HdrInfos] = h[HdrInverses] + n*InverseWords
	h[HdrBLASNodes] = h[HdrInfos] + n*InfoWords
	h[HdrBLASPrims] = h[HdrBLASNodes] + blasNodes*bvh.NodeWords
	h[HdrStaticCount] = uint32(m.staticCount)
	h[HdrBLASCount] = uint32(len(m.blas))
	return h[HdrBLASPrims] + max(blasPrims, 1)
}

func (m *Manager) upload(blasNodes, blasPrims uint32) error {
	size := uint64(m.layout(blasNodes, blasPrims)) * 4

	var err error
	if m.Accel, err = m.dev.CreateBuffer(gpu.BufferDesc{Label: "AccelBuf", Size: size,
		Usage: gpu.BufferUsageStorage | gpu.BufferUsageCopyDst}); err != nil {
		return err
	}
	vb := m.pool.VertexBytes()
	if m.Vertices, err = m.dev.CreateBuffer(gpu.BufferDesc{Label: "VertexPool", Size: uint64(max(len(vb), core.VertexStride)),
		Usage: gpu.BufferUsageStorage | gpu.BufferUsageVertex | gpu.BufferUsageCopyDst}); err != nil {
		return err
	}
	ib := m.pool.IndexBytes()
	if m.Indices, err = m.dev.CreateBuffer(gpu.BufferDesc{Label: "IndexPool", Size: uint64(max(len(ib), 4)),
		Usage: gpu.BufferUsageStorage | gpu.BufferUsageIndex | gpu.BufferUsageCopyDst}); err != nil {
		return err
	}
	if err := m.dev.WriteBuffer(m.Vertices, 0, vb); err != nil {
		return err
	}
	if err := m.dev.WriteBuffer(m.Indices, 0, ib); err != nil {
		return err
	}

	w := core.NewWriter(int(size))
	for _, v := range m.header {
		w.U32(v)
	}
	w.Raw(m.topLevelBytes())
	for _, inst := range m.order {
		r := m.pool.Ranges[inst.Mesh]
		w.U32(uint32(inst.Material)).U32(uint32(inst.Mesh)).U32(r.FirstIndex).U32(r.VertexOffset)
	}
	for _, tree := range m.blas {
		for i := range tree.Nodes {
			appendNode(w, &tree.Nodes[i])
		}
	}
	for _, tree := range m.blas {
		for _, p := range tree.Prims {
			w.U32(uint32(p))
		}
	}
	return m.dev.WriteBuffer(m.Accel, 0, w.Pad(int(size)).Bytes())
}

// topLevelBytes packs the contiguous TLAS section: nodes, prims, instance records and inverse
// transforms. Its size only depends on the instance count, so updates rewrite it in place.
func (m *Manager) topLevelBytes() []byte {
	w := core.NewWriter(int(m.header[HdrInfos]-m.header[HdrTLASNodes]) * 4)
	for i := range m.tlas.Nodes {
		appendNode(w, &m.tlas.Nodes[i])
	}
	for _, p := range m.tlas.Prims {
		w.U32(uint32(p))
	}
	if len(m.tlas.Prims) == 0 {
		w.U32(0)
	}
	w.Raw(m.InstanceRecords())
	for _, inst := range m.order {
		for _, f := range RowMajor3x4(inst.Transform.WorldToObject()) {
			w.F32(f)
		}
	}
	return w.Bytes()
}

func appendNode(w *core.Writer, n *bvh.Node) {
	w.Vec4(n.Min, 0).Vec4(n.Max, 0)
	w.U32(uint32(n.Left)).U32(uint32(n.Right)).U32(uint32(n.LeafFirst)).U32(uint32(n.LeafCount))
	w.U32(0).U32(0).U32(0).U32(0)
}

// InstanceRecords is the cached static records followed by freshly computed dynamic records.
func (m *Manager) InstanceRecords() []byte {
	out := make([]byte, 0, len(m.order)*RecordSize)
	out = append(out, m.staticRecord...)
	for _, inst := range m.order[m.staticCount:] {
		out = append(out, NewRecord(inst, m.refs[inst.Mesh]).Bytes()...)
	}
	return out
}

// StaticRecords returns a copy of the cached static instance records.
func (m *Manager) StaticRecords() []byte {
	return append([]byte(nil), m.staticRecord...)
}

func (m *Manager) InstanceCount() int { return len(m.order) }

func (m *Manager) StaticCount() int { return m.staticCount }

func (m *Manager) DynamicCount() int { return len(m.order) - m.staticCount }

// Instance returns the scene instance behind record index i.
func (m *Manager) Instance(i int) *core.Instance { return m.order[i] }

func (m *Manager) MeshRange(mesh int) core.MeshRange { return m.pool.Ranges[mesh] }

func (m *Manager) VertexBuffer() *gpu.Buffer { return m.Vertices }

func (m *Manager) IndexBuffer() *gpu.Buffer { return m.Indices }

// UpdateTopLevelAS refreshes the dynamic instance records and refits the TLAS in place. It is a
// no-op without dynamic instances. Otherwise it waits for the device to go idle first, since the
// previous frame may still be reading the structure.
func (m *Manager) UpdateTopLevelAS() error {
	if m.tlas == nil || m.DynamicCount() == 0 {
		return nil
	}
	if err := m.dev.WaitIdle(); err != nil {
		return fmt.Errorf("%w: wait idle: %v", ErrBuild, err)
	}
	m.tlas.Refit(m.instanceAABBs())
	if err := m.dev.WriteBuffer(m.Accel, uint64(m.header[HdrTLASNodes])*4, m.topLevelBytes()); err != nil {
		return fmt.Errorf("%w: tlas update: %v", ErrBuild, err)
	}
	m.Stats.TLASUpdates++
	return nil
}

// Destroy releases every buffer the manager owns.
func (m *Manager) Destroy() {
	if m.dev == nil {
		return
	}
	for _, b := range []*gpu.Buffer{m.Accel, m.Vertices, m.Indices} {
		if b != nil {
			m.dev.DestroyBuffer(b)
		}
	}
	m.Accel, m.Vertices, m.Indices = nil, nil, nil
}

// HostView wraps the manager's buffers for host-side traversal outside of a kernel.
func (m *Manager) HostView() (View, error) {
	acc, err := m.dev.ReadBuffer(m.Accel)
	if err != nil {
		return View{}, err
	}
	vb, err := m.dev.ReadBuffer(m.Vertices)
	if err != nil {
		return View{}, err
	}
	ib, err := m.dev.ReadBuffer(m.Indices)
	if err != nil {
		return View{}, err
	}
	return View{
		Accel:    gpu.HostResource{Words: gpu.BytesToWords(acc)},
		Vertices: gpu.HostResource{Words: gpu.BytesToWords(vb)},
		Indices:  gpu.HostResource{Words: gpu.BytesToWords(ib)},
	}, nil
}

func f32frombits(w uint32) float32 { return math.Float32frombits(w) }
