package core

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svopg "github.com/gekko3d/svopg"
)

func TestTransformComposition(t *testing.T) {
	tr := NewTransform()
	tr.Position = mgl32.Vec3{1, 2, 3}
	tr.Rotation = mgl32.QuatRotate(0.7, mgl32.Vec3{0, 0, 1})
	tr.Scale = mgl32.Vec3{2, 3, 4}

	id := tr.ObjectToWorld().Mul4(tr.WorldToObject())
	for i := 0; i < 16; i++ {
		assert.InDelta(t, mgl32.Ident4()[i], id[i], 1e-5, "element %d", i)
	}
}

func TestCubeBoundsAndTriangles(t *testing.T) {
	m := NewCube()
	minB, maxB := m.Bounds()
	assert.Equal(t, mgl32.Vec3{-0.5, -0.5, -0.5}, minB)
	assert.Equal(t, mgl32.Vec3{0.5, 0.5, 0.5}, maxB)
	assert.Equal(t, 12, m.TriangleCount())
	assert.Len(t, m.Vertices, 24)
}

func TestMeshPoolOffsets(t *testing.T) {
	pool := NewMeshPool([]*Mesh{NewCube(), NewQuad(1, 1)})
	require.Len(t, pool.Ranges, 2)
	assert.Equal(t, MeshRange{FirstIndex: 36, IndexCount: 6, VertexOffset: 24, VertexCount: 4}, pool.Ranges[1])
	assert.Len(t, pool.VertexBytes(), 28*VertexStride)
	assert.Len(t, pool.IndexBytes(), 42*4)
}

func TestStaticDynamicPartition(t *testing.T) {
	s := NewCornellScene()
	assert.False(t, s.HasDynamicContent())
	assert.Len(t, s.DynamicInstances(), 0)

	o := NewOrbitScene()
	assert.True(t, o.HasDynamicContent())
	assert.Len(t, o.DynamicInstances(), 1)
	assert.Len(t, o.StaticInstances(), len(o.Instances)-1)
}

func TestPeriodMotionMovesInstance(t *testing.T) {
	s := NewOrbitScene()
	orb := s.DynamicInstances()[0]
	start := orb.Transform.Position
	s.Update(1) // quarter period: full amplitude
	assert.InDelta(t, start.X()+0.5, orb.Transform.Position.X(), 1e-5)
	s.Update(2)
	assert.InDelta(t, start.X(), orb.Transform.Position.X(), 1e-5)

	// bounds include the whole sweep
	minB, maxB := s.Bounds()
	assert.LessOrEqual(t, minB.X(), float32(-1))
	assert.GreaterOrEqual(t, maxB.X(), float32(1))
}

func TestRandomMotionIsDeterministicPerStep(t *testing.T) {
	m := Motion{Type: MotionRandom, Amplitude: 0.3, Seed: 7}
	a := m.Offset(0.1)
	assert.Equal(t, a, m.Offset(0.2), "same step keeps the same offset")
	assert.NotEqual(t, a, m.Offset(0.3))
	for k := 0; k < 3; k++ {
		assert.LessOrEqual(t, float32(math.Abs(float64(a[k]))), float32(0.3))
	}
}

func TestParseSceneSoftErrors(t *testing.T) {
	rec := &svopg.RecordingLogger{}
	s, err := ParseScene([]byte(`
materials:
  - name: red
    bsdf: diffuse
    albedo: [0.8, 0.1, 0.1]
  - name: odd
    bsdf: velvet
meshes:
  - name: box
    primitive: cube
instances:
  - name: a
    mesh: box
    material: red
  - name: b
    mesh: box
    material: missing
  - name: c
    mesh: teapot
    material: red
  - name: d
    mesh: box
    material: red
    motion:
      type: wobble
lights:
  - type: point
    position: [0, 0, 3]
    color: [1, 1, 1]
    intensity: 5
`), rec)
	require.NoError(t, err)

	require.Len(t, s.Instances, 3, "unknown mesh is skipped")
	assert.Equal(t, 1, s.Instances[0].Material)
	assert.Equal(t, 0, s.Instances[1].Material, "unknown material falls back to index 0")
	assert.Equal(t, MotionStatic, s.Instances[2].Motion.Type, "unknown motion falls back to static")
	assert.Equal(t, BSDFDiffuse, s.Materials[2].Kind)
	assert.Equal(t, 4, rec.Count("WARN"))
	assert.Len(t, s.Lights, 1)
}

func TestPackSceneInfoLayout(t *testing.T) {
	s := NewOccluderScene()
	data := PackSceneInfo(s, FrameParams{Width: 64, Height: 32, Frame: 3, MaxDepth: 4, Flags: SceneFlagNEE})
	require.Len(t, data, SceneInfoSize)

	u32 := func(off int) uint32 { return binary.LittleEndian.Uint32(data[off:]) }
	f32 := func(off int) float32 { return math.Float32frombits(u32(off)) }
	assert.Equal(t, uint32(1), u32(224))
	assert.Equal(t, uint32(2), u32(228))
	assert.Equal(t, uint32(3), u32(236))
	assert.Equal(t, uint32(64), u32(240))
	// first light: position (0,0,2), point
	assert.Equal(t, float32(2), f32(256+8))
	assert.Equal(t, uint32(LightPoint), u32(256+12))
	assert.Equal(t, float32(8), f32(256+16))
}

func TestBuiltinScenes(t *testing.T) {
	for _, name := range BuiltinSceneNames() {
		s, err := BuiltinScene(name)
		require.NoError(t, err, name)
		assert.NoError(t, s.Validate(), name)
	}
	_, err := BuiltinScene("nope")
	assert.Error(t, err)
}

func TestTextAtlas(t *testing.T) {
	ta, err := NewTextAtlas(14)
	require.NoError(t, err)
	verts := ta.BuildVertices([]TextItem{{Text: "ab\nc", Scale: 1, Color: [4]float32{1, 1, 1, 1}}}, 640, 480)
	assert.Len(t, verts, 18)
	assert.Greater(t, ta.LineHeight(1), float32(0))
}
