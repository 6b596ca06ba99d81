package main

import (
	"os"
	"runtime"

	"github.com/urfave/cli"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "voxelgi"
	app.Usage = "render scenes with sparse-voxel-octree path guiding"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "YAML configuration file read over the defaults",
		},
		cli.StringFlag{
			Name:  "scene, s",
			Value: "cornell",
			Usage: "builtin scene name or YAML scene file",
		},
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable debug logging",
		},
	}
	renderFlags := []cli.Flag{
		cli.IntFlag{
			Name:  "width",
			Usage: "frame width (0 keeps the configured value)",
		},
		cli.IntFlag{
			Name:  "height",
			Usage: "frame height (0 keeps the configured value)",
		},
		cli.StringFlag{
			Name:  "nee",
			Usage: "force next-event estimation on or off",
		},
		cli.Float64Flag{
			Name:  "guide",
			Value: -1,
			Usage: "probability of sampling bounces from the octree guide distribution",
		},
		cli.Float64Flag{
			Name:  "exposure",
			Value: -1,
			Usage: "tonemap exposure multiplier (negative keeps the configured value)",
		},
		cli.StringFlag{
			Name:  "display",
			Value: "traced",
			Usage: "what the tonemap shows: traced, cache or merged",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "interactive",
			Usage:  "render the scene in a window",
			Flags:  renderFlags,
			Action: runInteractive,
		},
		{
			Name:  "headless",
			Usage: "render a number of frames offscreen and write the result",
			Description: `
Render the scene without a window, accumulating up to --frames frames, then
write the tonemapped image as PNG and print the per-stage timings.`,
			Flags: append([]cli.Flag{
				cli.IntFlag{
					Name:  "frames, n",
					Value: 16,
					Usage: "number of frames to render",
				},
				cli.StringFlag{
					Name:  "out, o",
					Value: "frame.png",
					Usage: "image filename for the rendered frame",
				},
				cli.BoolFlag{
					Name:  "webgpu",
					Usage: "render on a WebGPU adapter instead of the host backend",
				},
			}, renderFlags...),
			Action: runHeadless,
		},
		{
			Name:   "scenes",
			Usage:  "list the builtin scenes",
			Action: listScenes,
		},
	}
	return app
}
