package shading

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/svopg/voxelgi/rt/core"
	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
)

// Material is the shading view of a GPU material record.
type Material struct {
	Kind      core.BSDFKind
	Albedo    mgl32.Vec3
	Emission  mgl32.Vec3
	Roughness float32
	IOR       float32
}

// LoadMaterial decodes material i from a bound material buffer (core.MaterialWords per entry).
func LoadMaterial(r gpu.HostResource, i uint32) Material {
	base := i * core.MaterialWords
	if base+core.MaterialWords > r.Len() {
		base = 0
	}
	return Material{
		Kind:      core.BSDFKind(r.U32(base + 3)),
		Albedo:    r.Vec3(base),
		Emission:  r.Vec3(base + 4),
		Roughness: r.F32(base + 7),
		IOR:       r.F32(base + 8),
	}
}

// Guidable reports whether path guiding may replace BSDF sampling at this material.
func (m Material) Guidable() bool { return !m.Kind.Delta() }

// BSDFSample is a sampled scattering direction. Weight is f*|cos|/pdf; for delta lobes Pdf is 0.
type BSDFSample struct {
	Dir    mgl32.Vec3
	Weight mgl32.Vec3
	Pdf    float32
	Delta  bool
}

const minRoughness = 0.02

func alpha(r float32) float32 {
	r = max(r, minRoughness)
	return r * r
}

// ggxD is the GGX normal distribution for a half vector at cosine cosH with the normal.
func ggxD(cosH, a float32) float32 {
	if cosH <= 0 {
		return 0
	}
	a2 := a * a
	d := cosH*cosH*(a2-1) + 1
	return a2 / (Pi * d * d)
}

func smithG1(cosV, a float32) float32 {
	if cosV <= 0 {
		return 0
	}
	a2 := a * a
	return 2 * cosV / (cosV + float32(math.Sqrt(float64(a2+(1-a2)*cosV*cosV))))
}

// sampleGGXHalf draws a half vector from D(h)*cos(h).
func sampleGGXHalf(n mgl32.Vec3, a, u1, u2 float32) mgl32.Vec3 {
	phi := 2 * Pi * u1
	cos2 := (1 - u2) / (1 + (a*a-1)*u2)
	cosT := float32(math.Sqrt(float64(cos2)))
	sinT := float32(math.Sqrt(math.Max(0, float64(1-cos2))))
	return ToWorld(mgl32.Vec3{sinT * cos32(phi), sinT * sin32(phi), cosT}, n)
}

// Eval returns f(wo, wi) and the solid-angle pdf Sample would produce wi with. wo and wi point
// away from the surface; n faces wo. Delta lobes evaluate to zero.
func Eval(m Material, n, wo, wi mgl32.Vec3) (mgl32.Vec3, float32) {
	cosI := n.Dot(wi)
	cosO := n.Dot(wo)
	if cosI <= 0 || cosO <= 0 {
		return mgl32.Vec3{}, 0
	}
	switch m.Kind {
	case core.BSDFDiffuse:
		return m.Albedo.Mul(InvPi), cosI * InvPi
	case core.BSDFRoughConductor:
		a := alpha(m.Roughness)
		h := wo.Add(wi).Normalize()
		cosH := n.Dot(h)
		oh := max(wo.Dot(h), 1e-6)
		d := ggxD(cosH, a)
		g := smithG1(cosO, a) * smithG1(cosI, a)
		f := SchlickF(m.Albedo, oh)
		pdf := d * cosH / (4 * oh)
		return f.Mul(d * g / (4 * cosI * cosO)), pdf
	}
	return mgl32.Vec3{}, 0
}

// Sample draws wi for the material's BSDF; the switch mirrors the WGSL bsdf_sample. front is false
// when the ray hit the back of the surface, i.e. travels inside a dielectric.
func Sample(m Material, n, wo mgl32.Vec3, front bool, s Sampler) (BSDFSample, bool) {
	switch m.Kind {
	case core.BSDFDiffuse:
		dir, pdf := CosineHemisphere(n, s.Float32(), s.Float32())
		if pdf <= 0 {
			return BSDFSample{}, false
		}
		return BSDFSample{Dir: dir, Weight: m.Albedo, Pdf: pdf}, true

	case core.BSDFConductor:
		dir := Reflect(wo.Mul(-1), n)
		return BSDFSample{Dir: dir, Weight: SchlickF(m.Albedo, n.Dot(wo)), Delta: true}, true

	case core.BSDFRoughConductor:
		a := alpha(m.Roughness)
		h := sampleGGXHalf(n, a, s.Float32(), s.Float32())
		dir := Reflect(wo.Mul(-1), h)
		f, pdf := Eval(m, n, wo, dir)
		if pdf <= 0 {
			return BSDFSample{}, false
		}
		return BSDFSample{Dir: dir, Weight: f.Mul(n.Dot(dir) / pdf), Pdf: pdf}, true

	case core.BSDFDielectric:
		return sampleDielectric(m, n, n, wo, front, s)

	case core.BSDFRoughDielectric:
		h := sampleGGXHalf(n, alpha(m.Roughness), s.Float32(), s.Float32())
		return sampleDielectric(m, n, h, wo, front, s)
	}
	return BSDFSample{}, false
}

// sampleDielectric chooses reflection or refraction through the (micro)normal h by Fresnel.
func sampleDielectric(m Material, n, h, wo mgl32.Vec3, front bool, s Sampler) (BSDFSample, bool) {
	eta := 1 / max(m.IOR, 1)
	if !front {
		eta = 1 / eta
	}
	cosI := wo.Dot(h)
	if cosI <= 0 {
		h = n
		cosI = wo.Dot(n)
	}
	fr := FresnelDielectric(cosI, eta)
	if s.Float32() < fr {
		return BSDFSample{Dir: Reflect(wo.Mul(-1), h), Weight: m.Albedo, Delta: true}, true
	}
	dir, ok := Refract(wo.Mul(-1), h, eta)
	if !ok {
		return BSDFSample{Dir: Reflect(wo.Mul(-1), h), Weight: m.Albedo, Delta: true}, true
	}
	return BSDFSample{Dir: dir, Weight: m.Albedo, Delta: true}, true
}
