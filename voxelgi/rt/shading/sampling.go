package shading

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"pgregory.net/rand"
)

const (
	Pi    = float32(math.Pi)
	InvPi = float32(1 / math.Pi)
)

// Sampler supplies uniform numbers in [0,1).
type Sampler interface {
	Float32() float32
}

// NewSampler seeds a per-invocation generator from the invocation id, the frame index and a
// stage salt so that frames and stages draw independent sequences.
func NewSampler(id, frame, salt uint32) *rand.Rand {
	return rand.New(uint64(id), uint64(frame)<<32|uint64(salt))
}

func Luminance(c mgl32.Vec3) float32 {
	return 0.2126*c[0] + 0.7152*c[1] + 0.0722*c[2]
}

// Basis builds an orthonormal frame around n (Duff et al. 2017).
func Basis(n mgl32.Vec3) (mgl32.Vec3, mgl32.Vec3) {
	sign := float32(1)
	if n.Z() < 0 {
		sign = -1
	}
	a := -1 / (sign + n.Z())
	b := n.X() * n.Y() * a
	t := mgl32.Vec3{1 + sign*n.X()*n.X()*a, sign * b, -sign * n.X()}
	bt := mgl32.Vec3{b, sign + n.Y()*n.Y()*a, -n.Y()}
	return t, bt
}

func ToWorld(local, n mgl32.Vec3) mgl32.Vec3 {
	t, b := Basis(n)
	return t.Mul(local.X()).Add(b.Mul(local.Y())).Add(n.Mul(local.Z()))
}

func CosineHemisphere(n mgl32.Vec3, u1, u2 float32) (mgl32.Vec3, float32) {
	r := float32(math.Sqrt(float64(u1)))
	phi := 2 * Pi * u2
	z := float32(math.Sqrt(math.Max(0, float64(1-u1))))
	local := mgl32.Vec3{r * cos32(phi), r * sin32(phi), z}
	return ToWorld(local, n), z * InvPi
}

// UniformCone samples a direction within the cone of half-angle acos(cosMax) around axis.
func UniformCone(axis mgl32.Vec3, cosMax, u1, u2 float32) mgl32.Vec3 {
	cosT := 1 - u1*(1-cosMax)
	sinT := float32(math.Sqrt(math.Max(0, float64(1-cosT*cosT))))
	phi := 2 * Pi * u2
	return ToWorld(mgl32.Vec3{sinT * cos32(phi), sinT * sin32(phi), cosT}, axis)
}

func ConePdf(cosMax float32) float32 {
	if cosMax >= 1 {
		return 0
	}
	return 1 / (2 * Pi * (1 - cosMax))
}

// SphereCone returns the axis and cosine of the cone subtended by a sphere seen from p. Points
// inside the sphere get the whole sphere of directions (cosMax = -1).
func SphereCone(p, centre mgl32.Vec3, radius float32) (mgl32.Vec3, float32) {
	d := centre.Sub(p)
	dist2 := d.Dot(d)
	if dist2 <= radius*radius || dist2 == 0 {
		if dist2 == 0 {
			return mgl32.Vec3{0, 0, 1}, -1
		}
		return d.Normalize(), -1
	}
	sin2 := radius * radius / dist2
	return d.Normalize(), float32(math.Sqrt(float64(1 - sin2)))
}

func Reflect(v, n mgl32.Vec3) mgl32.Vec3 {
	return v.Sub(n.Mul(2 * v.Dot(n)))
}

// Refract bends the incident direction v (pointing towards the surface) through n with relative
// index eta; ok is false on total internal reflection.
func Refract(v, n mgl32.Vec3, eta float32) (mgl32.Vec3, bool) {
	cosI := -v.Dot(n)
	k := 1 - eta*eta*(1-cosI*cosI)
	if k < 0 {
		return mgl32.Vec3{}, false
	}
	return v.Mul(eta).Add(n.Mul(eta*cosI - float32(math.Sqrt(float64(k))))), true
}

// FresnelDielectric is the unpolarised Fresnel reflectance for cosine cosI and relative index eta
// (outside over inside).
func FresnelDielectric(cosI, eta float32) float32 {
	sin2T := eta * eta * (1 - cosI*cosI)
	if sin2T >= 1 {
		return 1
	}
	cosT := float32(math.Sqrt(float64(1 - sin2T)))
	rs := (eta*cosI - cosT) / (eta*cosI + cosT)
	rp := (cosI - eta*cosT) / (cosI + eta*cosT)
	return 0.5 * (rs*rs + rp*rp)
}

func SchlickF(f0 mgl32.Vec3, cosT float32) mgl32.Vec3 {
	m := float32(math.Pow(float64(1-clamp01(cosT)), 5))
	one := mgl32.Vec3{1, 1, 1}
	return f0.Add(one.Sub(f0).Mul(m))
}

func clamp01(v float32) float32 { return mgl32.Clamp(v, 0, 1) }

func cos32(v float32) float32 { return float32(math.Cos(float64(v))) }
func sin32(v float32) float32 { return float32(math.Sin(float64(v))) }

// Mul is the component-wise product.
func Mul(a, b mgl32.Vec3) mgl32.Vec3 { return mgl32.Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]} }
