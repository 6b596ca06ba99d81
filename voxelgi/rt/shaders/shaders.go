package shaders

import (
	_ "embed"
	"strings"
)

//go:embed prelude.wgsl
var PreludeWGSL string

//go:embed scene.wgsl
var SceneWGSL string

//go:embed accel.wgsl
var AccelWGSL string

//go:embed bsdf.wgsl
var BSDFWGSL string

//go:embed clear.wgsl
var ClearWGSL string

//go:embed voxelize.wgsl
var VoxelizeWGSL string

//go:embed inject.wgsl
var InjectWGSL string

//go:embed octree.wgsl
var OctreeWGSL string

//go:embed trace.wgsl
var TraceWGSL string

//go:embed tonemap.wgsl
var TonemapWGSL string

//go:embed fullscreen.wgsl
var FullscreenWGSL string

//go:embed gizmo.wgsl
var GizmoWGSL string

//go:embed text.wgsl
var TextWGSL string

// Compose concatenates shader sources in order. WGSL has no include directive, so stages that share
// helpers are assembled from the prelude and the libraries they need.
func Compose(parts ...string) string {
	return strings.Join(parts, "\n")
}

// Kernel returns a compute source with the shared prelude in front.
func Kernel(parts ...string) string {
	return Compose(append([]string{PreludeWGSL}, parts...)...)
}

// RayTracing returns a compute source that can trace rays against the packed acceleration buffer
// and evaluate materials.
func RayTracing(parts ...string) string {
	return Kernel(append([]string{SceneWGSL, AccelWGSL, BSDFWGSL}, parts...)...)
}
