package main

import (
	"fmt"
	"image/png"
	"os"
	"strings"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/urfave/cli"

	svopg "github.com/gekko3d/svopg"
	"github.com/gekko3d/svopg/voxelgi/rt/app"
	"github.com/gekko3d/svopg/voxelgi/rt/core"
	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
	"github.com/gekko3d/svopg/voxelgi/rt/gpu/webgpu"
	"github.com/gekko3d/svopg/voxelgi/rt/guide"
)

var logger = svopg.NewDefaultLogger("voxelgi", false)

func setup(ctx *cli.Context) (svopg.Config, *core.Scene, error) {
	logger.SetDebug(ctx.GlobalBool("v"))

	cfg := svopg.DefaultConfig()
	if path := ctx.GlobalString("config"); path != "" {
		var err error
		if cfg, err = svopg.LoadConfig(path); err != nil {
			return cfg, nil, err
		}
	}
	if w := ctx.Int("width"); w > 0 {
		cfg.Trace.Width = uint32(w)
	}
	if h := ctx.Int("height"); h > 0 {
		cfg.Trace.Height = uint32(h)
	}
	switch strings.ToLower(ctx.String("nee")) {
	case "":
	case "on", "true", "1":
		cfg.Trace.NEE, cfg.Inject.NEE = true, true
	case "off", "false", "0":
		cfg.Trace.NEE, cfg.Inject.NEE = false, false
	default:
		return cfg, nil, fmt.Errorf("invalid --nee value %q", ctx.String("nee"))
	}
	if g := ctx.Float64("guide"); g >= 0 {
		cfg.Trace.GuideProbability = float32(g)
	}
	if e := ctx.Float64("exposure"); e >= 0 {
		cfg.Trace.Exposure = float32(e)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}

	name := ctx.GlobalString("scene")
	var scene *core.Scene
	var err error
	if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
		scene, err = core.LoadSceneFile(name, logger.Named("scene"))
	} else {
		scene, err = core.BuiltinScene(name)
	}
	if err != nil {
		return cfg, nil, err
	}
	return cfg, scene, nil
}

func runHeadless(ctx *cli.Context) error {
	cfg, scene, err := setup(ctx)
	if err != nil {
		logger.Errorf("%v", err)
		return err
	}
	display, err := guide.ParseDisplay(ctx.String("display"))
	if err != nil {
		logger.Errorf("%v", err)
		return err
	}

	dev, release, err := openDevice(cfg, ctx.Bool("webgpu"))
	if err != nil {
		logger.Errorf("open device: %v", err)
		return err
	}
	defer release()

	r, err := app.NewRenderer(dev, logger, cfg, scene)
	if err != nil {
		return err
	}
	defer r.Destroy()
	r.SetDisplay(display)

	frames := ctx.Int("frames")
	for i := 0; i < frames; i++ {
		if err := r.Frame(1.0 / 60); err != nil {
			return err
		}
		logger.Debugf("%s", r.Summary())
	}

	out := ctx.String("out")
	if err := writePNG(r, out); err != nil {
		logger.Errorf("%v", err)
		return err
	}
	logger.Infof("wrote %s after %d frames: %s", out, frames, r.Summary())
	fmt.Print(r.Profiler.Table())
	return nil
}

// openDevice picks the backend. The host backend always rejects lists with barrier hazards; the
// debug switch only turns the check on for WebGPU.
func openDevice(cfg svopg.Config, useWebGPU bool) (gpu.Device, func(), error) {
	if !useWebGPU {
		return gpu.NewHostDevice(gpu.WithHostLogger(logger.Named("host"))), func() {}, nil
	}
	wd, err := webgpu.Open(webgpu.WithLogger(logger.Named("webgpu")), webgpu.WithValidation(cfg.Debug.ValidateBarriers))
	if err != nil {
		return nil, nil, fmt.Errorf("open webgpu: %w", err)
	}
	return wd, wd.Release, nil
}

func writePNG(r *app.Renderer, path string) error {
	img, err := r.Image()
	if err != nil {
		return fmt.Errorf("read back image: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

func runInteractive(ctx *cli.Context) error {
	cfg, scene, err := setup(ctx)
	if err != nil {
		logger.Errorf("%v", err)
		return err
	}
	display, err := guide.ParseDisplay(ctx.String("display"))
	if err != nil {
		logger.Errorf("%v", err)
		return err
	}

	if err := glfw.Init(); err != nil {
		logger.Errorf("glfw init: %v", err)
		return err
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(int(cfg.Trace.Width), int(cfg.Trace.Height), "VoxelGI", nil, nil)
	if err != nil {
		logger.Errorf("create window: %v", err)
		return err
	}
	defer window.Destroy()

	application := app.NewApp(window, logger, cfg, scene)
	defer application.Destroy()
	if err := application.Init(); err != nil {
		logger.Errorf("init: %v", err)
		return err
	}
	application.SetDisplayMode(display)
	application.Run()
	return nil
}

func listScenes(_ *cli.Context) error {
	for _, name := range core.BuiltinSceneNames() {
		fmt.Println(name)
	}
	return nil
}
