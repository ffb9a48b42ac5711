package main

import (
	"os"
	"testing"

	"go-sdguide/pkg/core"
	"go-sdguide/pkg/guiding"
	"github.com/stretchr/testify/require"
)

func TestToGuidingConfigMapsEveryValidOption(t *testing.T) {
	conf := defaultConfig()
	conf.SpatialFilter = "box"
	conf.DirectionalFilter = "box"
	conf.BSDFSamplingFractionMode = "fixed"
	conf.GuidedBounceMode = "strictly_glossy"
	conf.GuidingMode = "combined"
	conf.IterationProgression = "combine"

	cfg, err := toGuidingConfig(conf)
	require.NoError(t, err)
	require.Equal(t, guiding.SpatialFilterBox, cfg.SpatialFilter)
	require.Equal(t, guiding.DirectionalFilterBox, cfg.DirectionalFilter)
	require.Equal(t, guiding.BSDFSamplingFractionFixed, cfg.BSDFSamplingFractionMode)
	require.Equal(t, guiding.GuidedBounceStrictlyGlossy, cfg.GuidedBounceMode)
	require.Equal(t, guiding.GuidingModeCombined, cfg.GuidingMode)
	require.Equal(t, guiding.IterationProgressionCombine, cfg.IterationProgression)
	require.True(t, cfg.AllowPathGuiding)
}

func TestToGuidingConfigRejectsUnknownValue(t *testing.T) {
	conf := defaultConfig()
	conf.SpatialFilter = "bogus"

	_, err := toGuidingConfig(conf)
	require.Error(t, err)
}

func TestDefaultConfigProducesValidGuidingConfig(t *testing.T) {
	cfg, err := toGuidingConfig(defaultConfig())
	require.NoError(t, err)
	require.Greater(t, cfg.MaxPasses, 0)
}

func TestLoadConfigFileOverridesFields(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "cfg-*.json")
	require.NoError(t, err)
	_, err = f.WriteString(`{"Width": 640, "Height": 480}`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	conf := defaultConfig()
	require.NoError(t, loadConfigFile(f.Name(), &conf))
	require.Equal(t, 640, conf.Width)
	require.Equal(t, 480, conf.Height)
}

func TestLoadConfigFileReturnsErrorForMissingFile(t *testing.T) {
	conf := defaultConfig()
	err := loadConfigFile("/nonexistent/path.json", &conf)
	require.Error(t, err)
}

func TestToSRGB8ClampsToByteRange(t *testing.T) {
	require.Equal(t, uint8(0), toSRGB8(-1))
	require.Equal(t, uint8(255), toSRGB8(2))
	require.Equal(t, uint8(128), toSRGB8(0.5))
}

func TestSimpleCameraRayThroughPointsForward(t *testing.T) {
	cam := simpleCamera{width: 100, height: 100}

	ray := cam.rayThrough(50, 50, fixedCameraSampler{})
	require.InDelta(t, 1.0, ray.Direction.Length(), 1e-9)
	require.Less(t, ray.Direction.Z, 0.0)
}

func TestEmbeddedSceneHasNonEmptyBounds(t *testing.T) {
	scene := embeddedScene()
	bounds := scene.Bounds()
	require.True(t, bounds.IsValid())
	require.NotEmpty(t, scene.Spheres)
}

func TestWritePNGWithNoPixelsIsNoop(t *testing.T) {
	require.NoError(t, writePNG(t.TempDir()+"/out.png", nil))
}

type fixedCameraSampler struct{}

func (fixedCameraSampler) Get1D() float64   { return 0.5 }
func (fixedCameraSampler) Get2D() core.Vec2 { return core.NewVec2(0.5, 0.5) }
func (fixedCameraSampler) Get3D() core.Vec3 { return core.NewVec3(0.5, 0.5, 0.5) }
