package guide

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	svopg "github.com/gekko3d/svopg"
	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
	"github.com/gekko3d/svopg/voxelgi/rt/shaders"
)

// Display selects what the tonemap pass shows.
type Display uint32

const (
	// DisplayTraced is the accumulated path-traced image.
	DisplayTraced Display = iota
	// DisplayCache is the octree-cached radiance at the primary hits.
	DisplayCache
	// DisplayMerged averages both.
	DisplayMerged
)

var displayNames = []string{"traced", "cache", "merged"}

func (d Display) String() string {
	if int(d) < len(displayNames) {
		return displayNames[d]
	}
	return fmt.Sprintf("display(%d)", uint32(d))
}

func ParseDisplay(s string) (Display, error) {
	for i, n := range displayNames {
		if n == s {
			return Display(i), nil
		}
	}
	return 0, fmt.Errorf("unknown display mode %q", s)
}

// TonemapKernel converts the accumulator to an RGBA8 image with exposure, ACES-fitted tone mapping
// and sRGB encoding.
var TonemapKernel = &gpu.Kernel{
	Name:          "tonemap",
	WGSL:          shaders.Kernel(shaders.TonemapWGSL),
	Entry:         "tonemap",
	WorkgroupSize: svopg.WorkgroupSize,
	Host:          hostTonemap,
}

type TonemapPush struct {
	Width, Height uint32
	Exposure      float32
	Display       Display
}

func (p TonemapPush) Bytes() []byte {
	return gpu.NewPush().U32(p.Width).U32(p.Height).F32(p.Exposure).U32(uint32(p.Display)).Bytes()
}

func ReadTonemapPush(b []byte) TonemapPush {
	r := gpu.NewPushReader(b)
	return TonemapPush{Width: r.U32(), Height: r.U32(), Exposure: r.F32(), Display: Display(r.U32())}
}

func aces(x float32) float32 {
	const a, b, c, d, e = 2.51, 0.03, 2.43, 0.59, 0.14
	return mgl32.Clamp(x*(a*x+b)/(x*(c*x+d)+e), 0, 1)
}

func srgb(x float32) float32 {
	if x <= 0.0031308 {
		return 12.92 * x
	}
	return 1.055*float32(math.Pow(float64(x), 1/2.4)) - 0.055
}

// PackRGBA8 packs a display-referred colour the way WGSL pack4x8unorm does.
func PackRGBA8(c mgl32.Vec3) uint32 {
	q := func(v float32) uint32 { return uint32(mgl32.Clamp(v, 0, 1)*255 + 0.5) }
	return q(c[0]) | q(c[1])<<8 | q(c[2])<<16 | 255<<24
}

// Tonemap maps linear radiance to the packed output pixel.
func Tonemap(c mgl32.Vec3, exposure float32) uint32 {
	var out mgl32.Vec3
	for k := range out {
		out[k] = srgb(aces(max(c[k], 0) * exposure))
	}
	return PackRGBA8(out)
}

func hostTonemap(push []byte, res []gpu.HostResource) func(uint32) {
	p := ReadTonemapPush(push)
	accum, secondary, out := res[0], res[1], res[2]
	pixels := p.Width * p.Height
	return func(id uint32) {
		if id >= pixels {
			return
		}
		base := id * PixelWords
		var c mgl32.Vec3
		switch p.Display {
		case DisplayCache:
			c = secondary.Vec3(base)
		case DisplayMerged:
			c = accum.Vec3(base).Add(secondary.Vec3(base)).Mul(0.5)
		default:
			c = accum.Vec3(base)
		}
		out.StoreU32(id, Tonemap(c, p.Exposure))
	}
}
