package gpu

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	svopg "github.com/gekko3d/svopg"
)

// HostStats counts executed commands since the device was created.
type HostStats struct {
	Submits    int
	Dispatches int
	Draws      int
	Barriers   int
	Triangles  int
}

// HostDevice executes command lists on the CPU. Kernels run their Go twin with workgroups spread
// over a bounded goroutine pool; draws go through a software rasterizer.
type HostDevice struct {
	mu       sync.Mutex
	log      svopg.Logger
	caps     Capabilities
	workers  int
	validate bool
	stats    HostStats
	times    map[string]time.Duration
}

type HostOption func(*HostDevice)

func WithHostLogger(l svopg.Logger) HostOption { return func(d *HostDevice) { d.log = l } }

// WithValidation makes Submit reject lists with barrier hazards before executing them.
func WithValidation(on bool) HostOption { return func(d *HostDevice) { d.validate = on } }

func WithWorkers(n int) HostOption { return func(d *HostDevice) { d.workers = n } }

func WithCapabilities(c Capabilities) HostOption { return func(d *HostDevice) { d.caps = c } }

func NewHostDevice(opts ...HostOption) *HostDevice {
	d := &HostDevice{
		caps: Capabilities{
			MaxStorageBuffersPerStage:   8,
			MaxComputeInvocations:       256,
			MaxStorageBufferBindingSize: 1 << 32,
			MaxBufferSize:               1 << 32,
			TimestampQuery:              true,
		},
		workers:  runtime.GOMAXPROCS(0),
		validate: true,
		times:    make(map[string]time.Duration),
	}
	for _, o := range opts {
		o(d)
	}
	d.log = svopg.OrNop(d.log)
	if d.workers < 1 {
		d.workers = 1
	}
	return d
}

func (d *HostDevice) Name() string { return "host" }

func (d *HostDevice) Capabilities() Capabilities { return d.caps }

func (d *HostDevice) Stats() HostStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *HostDevice) CreateBuffer(desc BufferDesc) (*Buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("buffer %q: zero size", desc.Label)
	}
	return &Buffer{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: desc.Usage,
		words: make([]uint32, (desc.Size+3)/4),
	}, nil
}

func (d *HostDevice) CreateImage(desc ImageDesc) (*Image, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("image %q: empty extent", desc.Label)
	}
	return &Image{
		Label:  desc.Label,
		Width:  desc.Width,
		Height: desc.Height,
		Format: desc.Format,
		words:  make([]uint32, int(desc.Width)*int(desc.Height)),
	}, nil
}

func (d *HostDevice) WriteBuffer(buf *Buffer, offset uint64, data []byte) error {
	if buf.released {
		return fmt.Errorf("write %q: %w", buf.Label, ErrReleased)
	}
	if offset%4 != 0 {
		return fmt.Errorf("write %q: offset %d not word aligned", buf.Label, offset)
	}
	if offset+uint64(len(data)) > buf.Size {
		return fmt.Errorf("write %q: %d bytes at %d overflow size %d", buf.Label, len(data), offset, buf.Size)
	}
	copy(buf.words[offset/4:], BytesToWords(data))
	return nil
}

func (d *HostDevice) ReadBuffer(buf *Buffer) ([]byte, error) {
	if buf.released {
		return nil, fmt.Errorf("read %q: %w", buf.Label, ErrReleased)
	}
	return WordsToBytes(buf.words)[:buf.Size], nil
}

func (d *HostDevice) ReadImage(img *Image) ([]uint32, error) {
	if img.released {
		return nil, fmt.Errorf("read %q: %w", img.Label, ErrReleased)
	}
	out := make([]uint32, len(img.words))
	copy(out, img.words)
	return out, nil
}

func (d *HostDevice) DestroyBuffer(buf *Buffer) {
	if buf == nil {
		return
	}
	buf.released = true
	buf.words = nil
}

func (d *HostDevice) DestroyImage(img *Image) {
	if img == nil {
		return
	}
	img.released = true
	img.words = nil
}

// WaitIdle returns immediately: Submit only returns after the list finished executing.
func (d *HostDevice) WaitIdle() error { return nil }

func (d *HostDevice) Submit(list *CommandList) error {
	if d.validate {
		if err := list.Validate(); err != nil {
			return fmt.Errorf("submit %q: %w", list.Name, err)
		}
	}
	d.mu.Lock()
	d.stats.Submits++
	d.mu.Unlock()

	for i, c := range list.Commands() {
		var err error
		start := time.Now()
		switch cmd := c.(type) {
		case *DispatchCmd:
			err = d.dispatch(cmd)
		case *DrawCmd:
			err = d.draw(cmd)
		case *BarrierCmd:
			// Each command completes before the next one starts, so barriers only need counting.
			d.mu.Lock()
			d.stats.Barriers++
			d.mu.Unlock()
		}
		if err != nil {
			return fmt.Errorf("submit %q command %d (%s): %w", list.Name, i, c.Label(), err)
		}
		if _, barrier := c.(*BarrierCmd); !barrier {
			d.mu.Lock()
			d.times[c.Label()] += time.Since(start)
			d.mu.Unlock()
		}
	}
	return nil
}

// CommandTimes returns the execution time spent per kernel or pipeline name since the last call.
func (d *HostDevice) CommandTimes() map[string]time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.times
	d.times = make(map[string]time.Duration)
	return out
}

func bindResources(bindings []Binding) ([]HostResource, error) {
	res := make([]HostResource, len(bindings))
	for i, b := range bindings {
		switch {
		case b.Buffer != nil:
			if b.Buffer.released {
				return nil, fmt.Errorf("binding %d %q: %w", i, b.Buffer.Label, ErrReleased)
			}
			res[i] = HostResource{Words: b.Buffer.words}
		case b.Image != nil:
			if b.Image.released {
				return nil, fmt.Errorf("binding %d %q: %w", i, b.Image.Label, ErrReleased)
			}
			res[i] = HostResource{Words: b.Image.words, Width: b.Image.Width, Height: b.Image.Height}
		default:
			return nil, fmt.Errorf("binding %d is empty", i)
		}
	}
	return res, nil
}

func (d *HostDevice) dispatch(cmd *DispatchCmd) error {
	k := cmd.Kernel
	if k.Host == nil {
		return fmt.Errorf("kernel %s has no host implementation", k.Name)
	}
	res, err := bindResources(cmd.Bindings)
	if err != nil {
		return err
	}
	body := k.Host(cmd.Push, res)
	wg := k.WorkgroupSize
	if wg == 0 {
		wg = 1
	}
	total := cmd.Groups.Total()

	// Workgroups are independent; chunk them so each goroutine runs a contiguous range.
	chunk := (total + uint32(d.workers) - 1) / uint32(d.workers)
	var g errgroup.Group
	g.SetLimit(d.workers)
	for start := uint32(0); start < total; start += chunk {
		first, last := start, min(start+chunk, total)
		g.Go(func() error {
			for group := first; group < last; group++ {
				base := group * wg
				for local := uint32(0); local < wg; local++ {
					body(base + local)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	d.mu.Lock()
	d.stats.Dispatches++
	d.mu.Unlock()
	return nil
}
