package octree

import (
	"github.com/go-gl/mathgl/mgl32"

	svopg "github.com/gekko3d/svopg"
	"github.com/gekko3d/svopg/voxelgi/rt/shading"
)

// Params are the reduction and clustering parameters shared by every dispatch of a build.
type Params struct {
	MaxDepth        int
	ClusteringLevel int
	EntropyMin      float32
	EntropyMax      float32
	IrradianceRatio float32
}

func ParamsFromConfig(cfg svopg.Config) Params {
	return Params{
		MaxDepth:        cfg.MaxDepth(),
		ClusteringLevel: cfg.Octree.ClusteringLevel,
		EntropyMin:      cfg.Octree.EntropyMin,
		EntropyMax:      cfg.Octree.EntropyMax,
		IrradianceRatio: cfg.Octree.IrradianceRatio,
	}
}

// EntropyThreshold interpolates the dispersion threshold for nodes on level d: coarse levels use
// EntropyMin, the leaf level EntropyMax.
func (p Params) EntropyThreshold(d int) float32 {
	if p.MaxDepth <= 0 {
		return p.EntropyMin
	}
	return p.EntropyMin + (p.EntropyMax-p.EntropyMin)*float32(d)/float32(p.MaxDepth)
}

// Similar is the merge test. Both bounds are exclusive: a dispersion equal to the threshold, or an
// irradiance spread equal to the ratio, keeps the node indivisible. The spread only applies to the
// E tree.
func Similar(dispersion, threshold float32, useSpread bool, spread, ratio float32) bool {
	if dispersion >= threshold {
		return false
	}
	return !useSpread || spread < ratio
}

// Reduce aggregates eight children into their parent on level d. energy selects E tree semantics.
// Children flagged indivisible make the parent indivisible too.
func Reduce(children *[8]Node, d int, i uint32, energy bool, p Params) Node {
	n := emptyNode(d, i)
	var normal, irr mgl32.Vec3
	var notIgnore float32
	minLum, maxLum := float32(0), float32(0)
	anyIndivisible := false
	first := true

	for c := range children {
		ch := &children[c]
		for k := 0; k < 3; k++ {
			n.Min[k] = min(n.Min[k], ch.Min[k])
			n.Max[k] = max(n.Max[k], ch.Max[k])
		}
		notIgnore += ch.NotIgnore
		if !ch.Occupied() {
			continue
		}
		n.ChildMask |= 1 << uint(c)
		n.Weight += ch.Weight
		normal = normal.Add(ch.Normal.Mul(ch.Weight))
		irr = irr.Add(ch.Irradiance.Mul(ch.Weight))
		anyIndivisible = anyIndivisible || ch.Indivisible()

		lum := shading.Luminance(ch.Irradiance)
		if first {
			minLum, maxLum = lum, lum
			first = false
		} else {
			minLum, maxLum = min(minLum, lum), max(maxLum, lum)
		}
	}
	n.NotIgnore = notIgnore / 8
	if n.Weight <= 0 {
		return n
	}

	inv := 1 / n.Weight
	n.Normal = normal.Mul(inv)
	n.Irradiance = irr.Mul(inv)
	n.Dispersion = 1 - n.Normal.Len()
	var spread float32
	if maxLum > 0 {
		spread = (maxLum - minLum) / maxLum
	}
	n.Flags = FlagOccupied
	if anyIndivisible || !Similar(n.Dispersion, p.EntropyThreshold(d), energy, spread, p.IrradianceRatio) {
		n.Flags |= FlagIndivisible
	}
	return n
}
