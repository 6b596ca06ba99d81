package core

import "github.com/go-gl/mathgl/mgl32"

// BSDFKind selects the scattering model of a material. The values are shared with the WGSL switch.
type BSDFKind uint32

const (
	BSDFDiffuse BSDFKind = iota
	BSDFConductor
	BSDFDielectric
	BSDFRoughConductor
	BSDFRoughDielectric
)

var bsdfNames = map[string]BSDFKind{
	"diffuse":          BSDFDiffuse,
	"conductor":        BSDFConductor,
	"dielectric":       BSDFDielectric,
	"rough_conductor":  BSDFRoughConductor,
	"rough_dielectric": BSDFRoughDielectric,
}

func (k BSDFKind) String() string {
	for name, v := range bsdfNames {
		if v == k {
			return name
		}
	}
	return "unknown"
}

// Delta reports whether the BSDF is a Dirac distribution, which path guiding cannot sample.
func (k BSDFKind) Delta() bool {
	return k == BSDFConductor || k == BSDFDielectric || k == BSDFRoughDielectric
}

type Material struct {
	Name      string
	Kind      BSDFKind
	Albedo    mgl32.Vec3
	Emission  mgl32.Vec3
	Roughness float32
	IOR       float32
}

// MaterialWords is the GPU stride of a material: albedo.rgb+kind, emission.rgb+roughness, ior+pad.
const MaterialWords = 12

func DefaultMaterial() Material {
	return Material{
		Name:      "default",
		Kind:      BSDFDiffuse,
		Albedo:    mgl32.Vec3{0.8, 0.8, 0.8},
		Roughness: 1.0,
		IOR:       1.5,
	}
}
