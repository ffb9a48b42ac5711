// Command guidedtrace renders a small embedded scene through the guiding
// cache for a handful of progressive passes and writes the resulting
// SD-tree to disk in the visualizer's binary format.
package main

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"reflect"
	"syscall"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	json "github.com/segmentio/encoding/json"

	"go-sdguide/pkg/core"
	"go-sdguide/pkg/guidedtracer"
	"go-sdguide/pkg/guiding"
	"go-sdguide/pkg/guiding/dump"
)

// garble, if enabled in a release build, strips unreferenced struct field
// names; this keeps config's field names (and its cli/env tags) intact.
var _ = reflect.TypeOf(config{})

type config struct {
	Width  int `cli:"" env:"GUIDEDTRACE_WIDTH"  help:"Image width in pixels."`
	Height int `cli:"" env:"GUIDEDTRACE_HEIGHT" help:"Image height in pixels."`

	SpatialFilter             string  `cli:"" env:"GUIDEDTRACE_SPATIAL_FILTER"               help:"Spatial splat filter: nearest|stochastic|box."`
	DirectionalFilter         string  `cli:"" env:"GUIDEDTRACE_DIRECTIONAL_FILTER"           help:"Directional splat filter: nearest|box."`
	BSDFSamplingFractionMode  string  `cli:"" env:"GUIDEDTRACE_BSDF_SAMPLING_FRACTION_MODE"  help:"BSDF sampling fraction mode: fixed|learn."`
	FixedBSDFSamplingFraction float64 `cli:"" env:"GUIDEDTRACE_FIXED_BSDF_SAMPLING_FRACTION" help:"BSDF sampling fraction used when the mode is fixed."`
	LearningRate              float64 `cli:"" env:"GUIDEDTRACE_LEARNING_RATE"                help:"ADAM learning rate for the mixing optimizer."`
	GuidedBounceMode          string  `cli:"" env:"GUIDEDTRACE_GUIDED_BOUNCE_MODE"           help:"Scattering-mode relabeling: learn|strictly_diffuse|strictly_glossy|prefer_diffuse|prefer_glossy."`
	GuidingMode               string  `cli:"" env:"GUIDEDTRACE_GUIDING_MODE"                 help:"Proposal mixture: path_guiding|product_guiding|combined."`
	IterationProgression      string  `cli:"" env:"GUIDEDTRACE_ITERATION_PROGRESSION"        help:"Iteration schedule: automatic|combine."`
	SamplesPerPass            int     `cli:"" env:"GUIDEDTRACE_SAMPLES_PER_PASS"             help:"Samples per pixel the pass controller counts for every pass."`
	SampleBudget              int     `cli:"" env:"GUIDEDTRACE_SAMPLE_BUDGET"                help:"Sample-per-pixel budget; stored in the guiding config but not read by the pass controller, which stops after max passes."`
	MaxPasses                 int     `cli:"" env:"GUIDEDTRACE_MAX_PASSES"                   help:"Maximum number of progressive passes."`

	SavePath   string `cli:"" env:"GUIDEDTRACE_SAVE_PATH"   help:"Path to write the SD-tree binary dump to. Empty disables the dump."`
	OutputPath string `cli:"" env:"GUIDEDTRACE_OUTPUT_PATH" help:"Path to write the rendered PNG to. Empty disables the image."`
	ConfigFile string `cli:"" env:"GUIDEDTRACE_CONFIG_FILE" help:"Optional JSON file pre-populating these same options."`

	LogLevel  string `cli:"" env:"GUIDEDTRACE_LOG_LEVEL"  help:"Log level (debug|info|warning|error)."`
	LogIndent bool   `cli:"" env:"GUIDEDTRACE_LOG_INDENT" help:"Indent logs."`

	Version bool `cli:"" env:"-" help:"Show version."`
	Help    bool `cli:"" env:"-" help:"Show help."`
}

const version = "0.1.0"

func defaultConfig() config {
	guideCfg := guiding.DefaultConfig()
	return config{
		Width:                     320,
		Height:                    240,
		SpatialFilter:             "nearest",
		DirectionalFilter:         "nearest",
		BSDFSamplingFractionMode:  "learn",
		FixedBSDFSamplingFraction: guideCfg.FixedBSDFSamplingFraction,
		LearningRate:              guideCfg.LearningRate,
		GuidedBounceMode:          "learn",
		GuidingMode:               "path_guiding",
		IterationProgression:      "automatic",
		SamplesPerPass:            guideCfg.SamplesPerPass,
		SampleBudget:              guideCfg.SampleBudget,
		MaxPasses:                 guideCfg.MaxPasses,
		SavePath:                  "",
		OutputPath:                "render.png",
		LogLevel:                  logs.InfoLevel.String(),
	}
}

func main() {
	conf := defaultConfig()

	ctx, cancel := cli.ContextWithSignals(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli.Register().
		Help("Renders an embedded scene through the guiding cache and writes its SD-tree dump.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		logs.Info(version)
		os.Exit(0)
	}

	if conf.ConfigFile != "" {
		if err := loadConfigFile(conf.ConfigFile, &conf); err != nil {
			logs.Fatal(errors.New("error loading config file").Wrap(err))
		}
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}
	errors.Encoder = json.Marshal

	guideCfg, err := toGuidingConfig(conf)
	if err != nil {
		logs.Fatal(errors.New("invalid configuration").Wrap(err))
	}

	scene := embeddedScene()
	tree := guiding.NewSpatTree(scene.Bounds(), guideCfg)
	integrator := guidedtracer.NewIntegrator(scene, tree, guideCfg, 8)

	render(ctx, conf, guideCfg, scene, tree, integrator)
}

func loadConfigFile(path string, conf *config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(conf)
}

func toGuidingConfig(conf config) (guiding.Config, error) {
	cfg := guiding.DefaultConfig()

	switch conf.SpatialFilter {
	case "nearest":
		cfg.SpatialFilter = guiding.SpatialFilterNearest
	case "stochastic":
		cfg.SpatialFilter = guiding.SpatialFilterStochastic
	case "box":
		cfg.SpatialFilter = guiding.SpatialFilterBox
	default:
		return cfg, errors.Newf("unknown spatial_filter %q", conf.SpatialFilter)
	}

	switch conf.DirectionalFilter {
	case "nearest":
		cfg.DirectionalFilter = guiding.DirectionalFilterNearest
	case "box":
		cfg.DirectionalFilter = guiding.DirectionalFilterBox
	default:
		return cfg, errors.Newf("unknown directional_filter %q", conf.DirectionalFilter)
	}

	switch conf.BSDFSamplingFractionMode {
	case "fixed":
		cfg.BSDFSamplingFractionMode = guiding.BSDFSamplingFractionFixed
	case "learn":
		cfg.BSDFSamplingFractionMode = guiding.BSDFSamplingFractionLearn
	default:
		return cfg, errors.Newf("unknown bsdf_sampling_fraction_mode %q", conf.BSDFSamplingFractionMode)
	}
	cfg.FixedBSDFSamplingFraction = conf.FixedBSDFSamplingFraction

	switch conf.GuidedBounceMode {
	case "learn":
		cfg.GuidedBounceMode = guiding.GuidedBounceLearn
	case "strictly_diffuse":
		cfg.GuidedBounceMode = guiding.GuidedBounceStrictlyDiffuse
	case "strictly_glossy":
		cfg.GuidedBounceMode = guiding.GuidedBounceStrictlyGlossy
	case "prefer_diffuse":
		cfg.GuidedBounceMode = guiding.GuidedBouncePreferDiffuse
	case "prefer_glossy":
		cfg.GuidedBounceMode = guiding.GuidedBouncePreferGlossy
	default:
		return cfg, errors.Newf("unknown guided_bounce_mode %q", conf.GuidedBounceMode)
	}

	switch conf.GuidingMode {
	case "path_guiding":
		cfg.GuidingMode = guiding.GuidingModePathGuiding
	case "product_guiding":
		cfg.GuidingMode = guiding.GuidingModeProductGuiding
	case "combined":
		cfg.GuidingMode = guiding.GuidingModeCombined
	default:
		return cfg, errors.Newf("unknown guiding_mode %q", conf.GuidingMode)
	}

	switch conf.IterationProgression {
	case "automatic":
		cfg.IterationProgression = guiding.IterationProgressionAutomatic
	case "combine":
		cfg.IterationProgression = guiding.IterationProgressionCombine
	default:
		return cfg, errors.Newf("unknown iteration_progression %q", conf.IterationProgression)
	}

	cfg.LearningRate = conf.LearningRate
	cfg.SamplesPerPass = conf.SamplesPerPass
	cfg.SampleBudget = conf.SampleBudget
	cfg.MaxPasses = conf.MaxPasses
	cfg.SavePath = conf.SavePath
	cfg.AllowPathGuiding = true

	return cfg, nil
}

// embeddedScene is the tiny scene the cache is exercised against: a
// diffuse floor, one diffuse and two glossy spheres, and an emissive
// sphere as the light, standing in for the
// full renderer the Non-goals put out of scope.
func embeddedScene() guidedtracer.Scene {
	return guidedtracer.Scene{
		Background: core.NewVec3(0.05, 0.06, 0.09),
		Spheres: []guidedtracer.Sphere{
			{Center: core.NewVec3(0, -100.5, -1), Radius: 100, Albedo: core.NewVec3(0.5, 0.5, 0.5), Kind: guidedtracer.MaterialDiffuse},
			{Center: core.NewVec3(-1.1, 0, -1), Radius: 0.5, Albedo: core.NewVec3(0.8, 0.3, 0.3), Kind: guidedtracer.MaterialDiffuse},
			{Center: core.NewVec3(1.1, 0, -1), Radius: 0.5, Albedo: core.NewVec3(0.8, 0.8, 0.9), Roughness: 0.05, Kind: guidedtracer.MaterialGlossy},
			{Center: core.NewVec3(0, 0, -1), Radius: 0.5, Albedo: core.NewVec3(0.7, 0.7, 0.3), Roughness: 0.3, Kind: guidedtracer.MaterialGlossy},
			{Center: core.NewVec3(0, 5, -1), Radius: 1.5, Emission: core.NewVec3(8, 8, 7.5)},
		},
	}
}

func render(ctx context.Context, conf config, cfg guiding.Config, scene guidedtracer.Scene, tree *guiding.SpatTree, integrator *guidedtracer.Integrator) {
	controller := guiding.NewPassController(cfg, tree, conf.Width, conf.Height)
	rng := rand.New(rand.NewSource(1))

	var frame [][]core.Vec3
	for {
		select {
		case <-ctx.Done():
			logs.Info("render interrupted")
			return
		default:
		}

		controller.OnPassBegin()
		frame = renderPass(conf, scene, tree, integrator, controller, rng)

		if controller.OnPassEnd(frame, false) {
			break
		}
	}

	if cfg.IterationProgression == guiding.IterationProgressionCombine {
		frame = controller.Combine(conf.Width, conf.Height)
	}

	logs.WithTag("width", conf.Width).WithTag("height", conf.Height).Info("render finished")

	if conf.OutputPath != "" {
		if err := writePNG(conf.OutputPath, frame); err != nil {
			logs.WithTag("path", conf.OutputPath).Warn(err)
		}
	}

	if conf.SavePath != "" {
		camera := dump.NewCameraMatrixFromLookAt(
			core.NewVec3(0, 1, 2),
			core.NewVec3(1, 0, 0),
			core.NewVec3(0, 1, 0),
			core.NewVec3(0, 0, -1),
		)
		dump.WriteToDisk(conf.SavePath, tree, camera)
	}
}

func renderPass(conf config, scene guidedtracer.Scene, tree *guiding.SpatTree, integrator *guidedtracer.Integrator, controller *guiding.PassController, rng *rand.Rand) [][]core.Vec3 {
	frame := make([][]core.Vec3, conf.Height)
	camera := simpleCamera{width: conf.Width, height: conf.Height}

	for y := 0; y < conf.Height; y++ {
		frame[y] = make([]core.Vec3, conf.Width)
		for x := 0; x < conf.Width; x++ {
			sampler := core.NewRandomSampler(rng)
			ray := camera.rayThrough(x, y, sampler)
			radiance := integrator.Trace(ray, sampler)
			frame[y][x] = radiance
			controller.AddVarianceSample(x, y, radiance.Luminance())
		}
	}
	return frame
}

// simpleCamera is a fixed pinhole looking down -Z, just enough to shoot
// primary rays through the embedded scene.
type simpleCamera struct {
	width, height int
}

func (c simpleCamera) rayThrough(x, y int, sampler core.Sampler) core.Ray {
	jitter := sampler.Get2D()
	u := (float64(x) + jitter.X) / float64(c.width)
	v := (float64(y) + jitter.Y) / float64(c.height)

	aspect := float64(c.width) / float64(c.height)
	px := (2*u - 1) * aspect
	py := 1 - 2*v

	origin := core.NewVec3(0, 0.2, 2.5)
	direction := core.NewVec3(px, py, -1.5).Normalize()
	return core.Ray{Origin: origin, Direction: direction}
}

func writePNG(path string, pixels [][]core.Vec3) error {
	if len(pixels) == 0 {
		return nil
	}
	height := len(pixels)
	width := len(pixels[0])

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := pixels[y][x]
			img.Set(x, y, color.NRGBA{
				R: toSRGB8(c.X),
				G: toSRGB8(c.Y),
				B: toSRGB8(c.Z),
				A: 255,
			})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func toSRGB8(channel float64) uint8 {
	if channel < 0 {
		channel = 0
	}
	if channel > 1 {
		channel = 1
	}
	v := channel * 255
	return uint8(v + 0.5)
}
