package app

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"

	svopg "github.com/gekko3d/svopg"
	"github.com/gekko3d/svopg/voxelgi/rt/core"
	"github.com/gekko3d/svopg/voxelgi/rt/gpu/webgpu"
	"github.com/gekko3d/svopg/voxelgi/rt/guide"
	"github.com/gekko3d/svopg/voxelgi/rt/octree"
)

// guideSteps are the guide probabilities cycled by the G key.
var guideSteps = []float32{0, 0.25, 0.5, 0.75, 1}

// exposureStep is half a stop per key press.
const exposureStep = 1.4142135

// App is the interactive front end: a glfw window whose surface shows the tonemapped output with the
// octree debug boxes and the profiler text on top.
type App struct {
	Window   *glfw.Window
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Surface  *wgpu.Surface
	Config   *wgpu.SurfaceConfiguration

	Device   *webgpu.Device
	Renderer *Renderer
	Overlay  *webgpu.Overlay

	log   svopg.Logger
	cfg   svopg.Config
	scene *core.Scene

	MouseCaptured bool
	MouseX        float64
	MouseY        float64
	ShowOverlay   bool

	LastTime float64
	FPS      float64
	fpsTime  float64
	fpsCount int
}

func NewApp(window *glfw.Window, log svopg.Logger, cfg svopg.Config, scene *core.Scene) *App {
	return &App{
		Window:      window,
		log:         svopg.OrNop(log),
		cfg:         cfg,
		scene:       scene,
		ShowOverlay: cfg.Debug.Overlay,
	}
}

func (a *App) Init() error {
	a.Instance = wgpu.CreateInstance(nil)
	a.Surface = a.Instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(a.Window))

	adapter, err := a.Instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: a.Surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return fmt.Errorf("request adapter: %w", err)
	}
	a.Adapter = adapter
	device, err := webgpu.RequestDevice(adapter)
	if err != nil {
		return fmt.Errorf("request device: %w", err)
	}
	a.Device = webgpu.Wrap(adapter, device,
		webgpu.WithLogger(a.log),
		webgpu.WithValidation(a.cfg.Debug.ValidateBarriers))

	width, height := a.Window.GetFramebufferSize()
	caps := a.Surface.GetCapabilities(adapter)
	a.Config = &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	}
	a.Surface.Configure(adapter, device, a.Config)

	a.cfg.Trace.Width, a.cfg.Trace.Height = uint32(width), uint32(height)
	if a.Renderer, err = NewRenderer(a.Device, a.log, a.cfg, a.scene); err != nil {
		return err
	}

	atlas, err := core.NewTextAtlas(16)
	if err != nil {
		a.log.Warnf("text overlay disabled: %v", err)
		atlas = nil
	}
	if a.Overlay, err = webgpu.NewOverlay(a.Device, a.Config.Format, atlas); err != nil {
		return err
	}
	a.LastTime = glfw.GetTime()
	return nil
}

func (a *App) Resize(w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	a.Config.Width, a.Config.Height = uint32(w), uint32(h)
	a.Surface.Configure(a.Adapter, a.Device.Device, a.Config)
	if err := a.Renderer.Resize(uint32(w), uint32(h)); err != nil {
		a.log.Errorf("resize %dx%d: %v", w, h, err)
	}
}

// HandleKey applies the key bindings. Every binding that changes what is traced restarts accumulation.
func (a *App) HandleKey(key glfw.Key, action glfw.Action) {
	if action != glfw.Press {
		return
	}
	r := a.Renderer
	switch key {
	case glfw.KeyEscape:
		a.Window.SetShouldClose(true)
	case glfw.KeyTab:
		a.MouseCaptured = !a.MouseCaptured
		if a.MouseCaptured {
			a.Window.SetInputMode(glfw.CursorMode, glfw.CursorDisabled)
			a.MouseX, a.MouseY = a.Window.GetCursorPos()
		} else {
			a.Window.SetInputMode(glfw.CursorMode, glfw.CursorNormal)
		}
	case glfw.KeyN:
		if err := r.SetNEE(!r.Config().Trace.NEE); err != nil {
			a.log.Errorf("toggle next-event estimation: %v", err)
		}
	case glfw.KeyG:
		cur := r.Config().Trace.GuideProbability
		next := guideSteps[0]
		for _, s := range guideSteps {
			if s > cur+1e-3 {
				next = s
				break
			}
		}
		r.SetGuideProbability(next)
	case glfw.KeyEqual:
		r.SetExposure(r.Config().Trace.Exposure * exposureStep)
	case glfw.KeyMinus:
		r.SetExposure(r.Config().Trace.Exposure / exposureStep)
	case glfw.KeyV:
		r.SetDisplay((r.Tracer.Display + 1) % 3)
	case glfw.KeyO:
		a.ShowOverlay = !a.ShowOverlay
	}
}

// HandleCursor turns mouse motion into yaw and pitch while the cursor is captured.
func (a *App) HandleCursor(x, y float64) {
	dx, dy := float32(x-a.MouseX), float32(y-a.MouseY)
	a.MouseX, a.MouseY = x, y
	if !a.MouseCaptured {
		return
	}
	cam := a.scene.Camera
	cam.Yaw += dx * cam.Sensitivity
	cam.Pitch = mgl32.Clamp(cam.Pitch-dy*cam.Sensitivity, -1.5, 1.5)
}

func (a *App) move(dt float32) {
	cam := a.scene.Camera
	var dir mgl32.Vec3
	if a.Window.GetKey(glfw.KeyW) == glfw.Press {
		dir = dir.Add(cam.Forward())
	}
	if a.Window.GetKey(glfw.KeyS) == glfw.Press {
		dir = dir.Sub(cam.Forward())
	}
	if a.Window.GetKey(glfw.KeyD) == glfw.Press {
		dir = dir.Add(cam.Right())
	}
	if a.Window.GetKey(glfw.KeyA) == glfw.Press {
		dir = dir.Sub(cam.Right())
	}
	if a.Window.GetKey(glfw.KeySpace) == glfw.Press {
		dir = dir.Add(mgl32.Vec3{0, 0, 1})
	}
	if a.Window.GetKey(glfw.KeyLeftShift) == glfw.Press {
		dir = dir.Sub(mgl32.Vec3{0, 0, 1})
	}
	if dir.Len() > 0 {
		cam.Position = cam.Position.Add(dir.Normalize().Mul(cam.Speed * dt))
	}
}

// boxColor gives cluster roots a color derived from their label and other nodes a dim gray.
func boxColor(b octree.Box) [4]float32 {
	if b.Label == 0 {
		return [4]float32{0.4, 0.4, 0.4, 0.6}
	}
	h := b.Label * 2654435761
	return [4]float32{
		0.3 + 0.7*float32(h&0xff)/255,
		0.3 + 0.7*float32((h>>8)&0xff)/255,
		0.3 + 0.7*float32((h>>16)&0xff)/255,
		1,
	}
}

func (a *App) updateOverlay() {
	r := a.Renderer
	w, h := int(a.Config.Width), int(a.Config.Height)
	if !a.ShowOverlay {
		a.Overlay.SetText(nil, w, h)
		a.Overlay.SetBoxes(nil, mgl32.Ident4())
		return
	}
	white := [4]float32{1, 1, 1, 1}
	items := []core.TextItem{
		{Text: fmt.Sprintf("%.1f fps  %s", a.FPS, r.Summary()), Position: [2]float32{10, 10}, Scale: 1, Color: white},
		{Text: r.Profiler.Overlay(), Position: [2]float32{10, 34}, Scale: 1, Color: [4]float32{1, 1, 0, 1}},
	}
	for i, warn := range r.Warnings {
		items = append(items, core.TextItem{
			Text:     warn,
			Position: [2]float32{10, float32(h - 24*(i+1))},
			Scale:    1,
			Color:    [4]float32{1, 0.4, 0.3, 1},
		})
	}
	a.Overlay.SetText(items, w, h)

	boxes, err := r.DebugBoxes()
	if err != nil {
		a.log.Warnf("octree debug boxes: %v", err)
		return
	}
	out := make([]webgpu.Box, len(boxes))
	for i, b := range boxes {
		out[i] = webgpu.Box{Min: b.Min, Max: b.Max, Color: boxColor(b)}
	}
	cam := a.scene.Camera
	aspect := float32(w) / float32(max(h, 1))
	a.Overlay.SetBoxes(out, cam.ProjectionMatrix(aspect).Mul4(cam.ViewMatrix()))
}

// Render advances and renders one frame, then presents it with the overlay.
func (a *App) Render() {
	now := glfw.GetTime()
	dt := float32(now - a.LastTime)
	a.LastTime = now
	a.fpsCount++
	a.fpsTime += float64(dt)
	if a.fpsTime >= 1 {
		a.FPS = float64(a.fpsCount) / a.fpsTime
		a.fpsCount, a.fpsTime = 0, 0
	}

	a.move(dt)
	if err := a.Renderer.Frame(dt); err != nil {
		a.log.Errorf("frame: %v", err)
		return
	}

	next, err := a.Surface.GetCurrentTexture()
	if err != nil {
		a.log.Errorf("GetCurrentTexture failed: %v", err)
		return
	}
	defer next.Release()
	view, err := next.CreateView(nil)
	if err != nil {
		a.log.Errorf("CreateView failed: %v", err)
		return
	}
	defer view.Release()

	a.Renderer.Profiler.BeginScope("present")
	a.updateOverlay()
	if err := a.Overlay.Present(view, a.Renderer.Tracer.Output); err != nil {
		a.log.Errorf("present: %v", err)
	}
	a.Surface.Present()
	a.Renderer.Profiler.EndScope("present")
}

// SetDisplayMode is used by the command line to pick the initial display.
func (a *App) SetDisplayMode(d guide.Display) { a.Renderer.SetDisplay(d) }

func (a *App) Destroy() {
	if a.Overlay != nil {
		a.Overlay.Release()
	}
	if a.Renderer != nil {
		a.Renderer.Destroy()
	}
	if a.Device != nil {
		a.Device.Release()
	}
	if a.Surface != nil {
		a.Surface.Release()
	}
	if a.Instance != nil {
		a.Instance.Release()
	}
}

// Run installs the input callbacks and drives the frame loop until the window closes.
func (a *App) Run() {
	a.Window.SetFramebufferSizeCallback(func(_ *glfw.Window, w, h int) { a.Resize(w, h) })
	a.Window.SetKeyCallback(func(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		a.HandleKey(key, action)
	})
	a.Window.SetCursorPosCallback(func(_ *glfw.Window, x, y float64) { a.HandleCursor(x, y) })
	for !a.Window.ShouldClose() {
		glfw.PollEvents()
		a.Render()
	}
}
