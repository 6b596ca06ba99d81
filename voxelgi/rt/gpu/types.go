package gpu

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrHazard         = errors.New("missing barrier")
	ErrMissingFeature = errors.New("missing required GPU feature")
	ErrTooLarge       = errors.New("buffer exceeds device limit")
	ErrReleased       = errors.New("resource already released")
)

// Stage is a pipeline stage mask. Barriers are expressed between stage masks.
type Stage uint32

const (
	StageHost Stage = 1 << iota
	StageTransfer
	StageComputeShader
	StageVertexShader
	StageFragmentShader
	StageColorAttachmentOutput
	StageRayTracingShader

	StageAllCommands = StageTransfer | StageComputeShader | StageVertexShader | StageFragmentShader |
		StageColorAttachmentOutput | StageRayTracingShader
)

var stageNames = []struct {
	s    Stage
	name string
}{
	{StageHost, "host"},
	{StageTransfer, "transfer"},
	{StageComputeShader, "compute"},
	{StageVertexShader, "vertex"},
	{StageFragmentShader, "fragment"},
	{StageColorAttachmentOutput, "color-output"},
	{StageRayTracingShader, "ray-tracing"},
}

func (s Stage) String() string {
	if s == 0 {
		return "none"
	}
	var parts []string
	for _, n := range stageNames {
		if s&n.s != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

type Access uint8

const (
	AccessRead Access = iota + 1
	AccessWrite
	AccessReadWrite
	// AccessAtomicAdd marks order-independent accumulation. Two atomic-add commands in the same
	// stage may touch a resource without a barrier between them.
	AccessAtomicAdd
)

func (a Access) writes() bool { return a != AccessRead }

type BufferUsage uint32

const (
	BufferUsageStorage BufferUsage = 1 << iota
	BufferUsageUniform
	BufferUsageVertex
	BufferUsageIndex
	BufferUsageCopySrc
	BufferUsageCopyDst
)

type BufferDesc struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// Buffer is a device buffer handle. The host backend keeps its contents as 32-bit words so kernels
// can use word-granular atomics; GPU backends keep their native handle in Native.
type Buffer struct {
	Label string
	Size  uint64
	Usage BufferUsage

	words    []uint32
	Native   any
	released bool
}

func (b *Buffer) String() string { return b.Label }

type ImageFormat int

const (
	ImageFormatRGBA8Unorm ImageFormat = iota
	ImageFormatR8Unorm
)

type ImageDesc struct {
	Label  string
	Width  uint32
	Height uint32
	Format ImageFormat
	// Attachment marks images used as render targets rather than storage images.
	Attachment bool
}

type Image struct {
	Label  string
	Width  uint32
	Height uint32
	Format ImageFormat

	words    []uint32
	Native   any
	released bool
}

func (i *Image) String() string { return i.Label }

// Binding attaches a buffer or a storage image to a kernel or raster pipeline, in declaration order
// (WGSL @group(1) @binding(i)).
type Binding struct {
	Buffer *Buffer
	Image  *Image
	Access Access
	// Uniform binds a read-only buffer as var<uniform> instead of storage.
	Uniform bool
}

func Read(b *Buffer) Binding      { return Binding{Buffer: b, Access: AccessRead} }
func Write(b *Buffer) Binding     { return Binding{Buffer: b, Access: AccessWrite} }
func ReadWrite(b *Buffer) Binding { return Binding{Buffer: b, Access: AccessReadWrite} }
func AtomicAdd(b *Buffer) Binding { return Binding{Buffer: b, Access: AccessAtomicAdd} }
func WriteImage(i *Image) Binding { return Binding{Image: i, Access: AccessWrite} }
func Uniform(b *Buffer) Binding   { return Binding{Buffer: b, Access: AccessRead, Uniform: true} }

func (b Binding) resource() any {
	if b.Buffer != nil {
		return b.Buffer
	}
	return b.Image
}

func (b Binding) name() string {
	if b.Buffer != nil {
		return b.Buffer.Label
	}
	if b.Image != nil {
		return b.Image.Label
	}
	return "<nil>"
}

// HostKernelFunc prepares one dispatch on the host backend and returns the per-invocation body.
// Invocations run concurrently; the body must only write through atomics or to cells it owns.
type HostKernelFunc func(push []byte, res []HostResource) func(id uint32)

// Kernel is a compute shader: WGSL source for GPU backends and its host twin.
type Kernel struct {
	Name          string
	WGSL          string
	Entry         string
	WorkgroupSize uint32
	Host          HostKernelFunc
}

type VertexIn struct {
	Position [3]float32
	Normal   [3]float32
	Index    uint32
}

type VertexOut struct {
	Clip     [4]float32
	Varyings [8]float32
}

type Fragment struct {
	// Pixel centre in framebuffer coordinates.
	X, Y     float32
	Depth    float32
	Varyings [8]float32
}

// RasterPipeline draws indexed triangles from the pooled vertex buffer (vec4 position, vec4 normal)
// with culling and depth testing disabled. Its colour target is a placeholder; fragments write
// their results into storage buffers.
type RasterPipeline struct {
	Name          string
	WGSL          string
	VertexEntry   string
	FragmentEntry string
	TargetFormat  ImageFormat
	HostVertex    func(push []byte, res []HostResource) func(v VertexIn) VertexOut
	HostFragment  func(push []byte, res []HostResource) func(f Fragment)
}

type Capabilities struct {
	MaxStorageBuffersPerStage uint32
	MaxComputeInvocations     uint32
	// Byte limits of the device, not the adapter it was requested from.
	MaxStorageBufferBindingSize uint64
	MaxBufferSize               uint64
	TimestampQuery              bool
}

// Device is the resource-allocation and submission collaborator every stage is built on.
type Device interface {
	Name() string
	Capabilities() Capabilities
	CreateBuffer(desc BufferDesc) (*Buffer, error)
	CreateImage(desc ImageDesc) (*Image, error)
	// WriteBuffer stages host data; it is visible to every command of the next submission.
	WriteBuffer(buf *Buffer, offset uint64, data []byte) error
	// ReadBuffer blocks until all submitted work finished and returns a copy of the contents.
	ReadBuffer(buf *Buffer) ([]byte, error)
	ReadImage(img *Image) ([]uint32, error)
	Submit(list *CommandList) error
	// WaitIdle blocks the host until the device finished all submitted work.
	WaitIdle() error
	DestroyBuffer(buf *Buffer)
	DestroyImage(img *Image)
}

// CommandTimer is implemented by devices that can attribute execution time to the commands they ran.
type CommandTimer interface {
	CommandTimes() map[string]time.Duration
}

// SubmitAndWait is the temporary command-buffer path: submit, then block until the device is idle.
func SubmitAndWait(dev Device, list *CommandList) error {
	if err := dev.Submit(list); err != nil {
		return err
	}
	return dev.WaitIdle()
}

// RequireStorageBuffers fails fast when the device cannot bind n storage buffers in one stage.
func RequireStorageBuffers(dev Device, n uint32) error {
	caps := dev.Capabilities()
	if caps.MaxStorageBuffersPerStage < n {
		return fmt.Errorf("%w: %s supports %d storage buffers per stage, need %d",
			ErrMissingFeature, dev.Name(), caps.MaxStorageBuffersPerStage, n)
	}
	return nil
}

// RequireStorageSize fails when a storage buffer of size bytes cannot be created or bound as a whole.
func RequireStorageSize(dev Device, label string, size uint64) error {
	caps := dev.Capabilities()
	limit := min(caps.MaxStorageBufferBindingSize, caps.MaxBufferSize)
	if size > limit {
		return fmt.Errorf("%w: %s needs %d bytes, %s binds at most %d",
			ErrTooLarge, label, size, dev.Name(), limit)
	}
	return nil
}
