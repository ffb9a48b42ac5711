package guidedtracer

import (
	"math/rand"
	"testing"

	"go-sdguide/pkg/core"
	"go-sdguide/pkg/guiding"
	"github.com/stretchr/testify/require"
)

func testScene() Scene {
	return Scene{
		Background: core.NewVec3(0.2, 0.3, 0.5),
		Spheres: []Sphere{
			{Center: core.NewVec3(0, 0, 5), Radius: 1, Albedo: core.NewVec3(0.7, 0.7, 0.7)},
			{Center: core.NewVec3(0, -101, 5), Radius: 100, Albedo: core.NewVec3(0.5, 0.5, 0.5), Emission: core.NewVec3(2, 2, 2)},
		},
	}
}

func TestIntegratorTraceReturnsBackgroundOnMiss(t *testing.T) {
	sc := Scene{Background: core.NewVec3(0.4, 0.5, 0.6)}
	tree := guiding.NewSpatTree(sc.Bounds(), guiding.DefaultConfig())
	ig := NewIntegrator(sc, tree, guiding.DefaultConfig(), 4)

	ray := core.Ray{Origin: core.NewVec3(0, 0, 0), Direction: core.NewVec3(0, 0, 1)}
	rng := core.NewRandomSampler(rand.New(rand.NewSource(1)))
	got := ig.Trace(ray, rng)
	require.Equal(t, sc.Background, got)
}

func TestIntegratorTraceAtMaxDepthReturnsOnlyEmission(t *testing.T) {
	sc := testScene()
	tree := guiding.NewSpatTree(sc.Bounds(), guiding.DefaultConfig())
	ig := NewIntegrator(sc, tree, guiding.DefaultConfig(), 0)

	ray := core.Ray{Origin: core.NewVec3(0, 0, 0), Direction: core.NewVec3(0, 0, 1)}
	rng := core.NewRandomSampler(rand.New(rand.NewSource(2)))
	got := ig.Trace(ray, rng)
	require.Equal(t, core.Vec3{}, got) // first hit sphere has no emission
}

func TestIntegratorTraceProducesFiniteNonNegativeRadiance(t *testing.T) {
	sc := testScene()
	tree := guiding.NewSpatTree(sc.Bounds(), guiding.DefaultConfig())
	ig := NewIntegrator(sc, tree, guiding.DefaultConfig(), 4)

	rng := core.NewRandomSampler(rand.New(rand.NewSource(42)))
	for i := 0; i < 64; i++ {
		ray := core.Ray{Origin: core.NewVec3(0, 0, 0), Direction: core.NewVec3(0, 0, 1)}
		got := ig.Trace(ray, rng)
		require.GreaterOrEqual(t, got.X, 0.0)
		require.GreaterOrEqual(t, got.Y, 0.0)
		require.GreaterOrEqual(t, got.Z, 0.0)
		require.False(t, isNaNOrInf(got.X) || isNaNOrInf(got.Y) || isNaNOrInf(got.Z))
	}
}

func TestIntegratorTraceRecordsIntoGuidingTree(t *testing.T) {
	sc := testScene()
	cfg := guiding.DefaultConfig()
	tree := guiding.NewSpatTree(sc.Bounds(), cfg)
	ig := NewIntegrator(sc, tree, cfg, 4)

	rng := core.NewRandomSampler(rand.New(rand.NewSource(7)))
	for i := 0; i < 32; i++ {
		ray := core.Ray{Origin: core.NewVec3(0, 0, 0), Direction: core.NewVec3(0, 0, 1)}
		ig.Trace(ray, rng)
	}

	stats := tree.Build(0)
	require.Greater(t, stats.LeafCount, 0)
}

func isNaNOrInf(x float64) bool {
	return x != x || x > 1e18 || x < -1e18
}
