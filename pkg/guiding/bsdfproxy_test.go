package guiding

import (
	"math"
	"testing"

	"go-sdguide/pkg/core"
	"github.com/stretchr/testify/require"
)

func TestBSDFProxyIsZeroBeforeAnyWeight(t *testing.T) {
	b := NewBSDFProxy(1.5)
	require.True(t, b.IsZero())

	b.AddDiffuseWeight(0.5)
	require.True(t, b.IsZero(), "IsZero only updates after FinishParameterization")

	b.FinishParameterization(core.NewVec3(0, 0, 1), core.NewVec3(0, 0, 1))
	require.False(t, b.IsZero())
}

func TestBSDFProxyDiffuseEvaluate(t *testing.T) {
	b := NewBSDFProxy(1.5)
	b.AddDiffuseWeight(1.0)
	normal := core.NewVec3(0, 0, 1)
	b.FinishParameterization(core.NewVec3(0, 0, 1), normal)

	// Cosine-weighted: straight up the normal gives full weight.
	require.InDelta(t, 1.0, b.Evaluate(core.NewVec3(0, 0, 1)), 1e-9)

	// Below the surface (negative cosine) contributes nothing.
	require.Equal(t, 0.0, b.Evaluate(core.NewVec3(0, 0, -1)))
}

func TestBSDFProxyTranslucencyEvaluate(t *testing.T) {
	b := NewBSDFProxy(1.5)
	b.AddTranslucencyWeight(1.0)
	normal := core.NewVec3(0, 0, 1)
	b.FinishParameterization(core.NewVec3(0, 0, 1), normal)

	require.InDelta(t, 1.0, b.Evaluate(core.NewVec3(0, 0, -1)), 1e-9)
	require.Equal(t, 0.0, b.Evaluate(core.NewVec3(0, 0, 1)))
}

func TestBSDFProxyReflectionWeightedRoughnessAverage(t *testing.T) {
	b := NewBSDFProxy(1.5)
	b.AddReflectionWeight(1.0, 0.2)
	b.AddReflectionWeight(3.0, 0.6)

	require.InDelta(t, 4.0, b.reflectionWeight, 1e-9)
	// Weighted average: (1*0.2 + 3*0.6) / 4 = 0.5
	require.InDelta(t, 0.5, b.reflectionRoughness, 1e-9)
}

func TestBSDFProxyReflectionLobePeaksAtMirrorDirection(t *testing.T) {
	b := NewBSDFProxy(1.5)
	b.AddReflectionWeight(1.0, 0.1)
	normal := core.NewVec3(0, 0, 1)
	outgoing := core.NewVec3(0, 0, 1)
	b.FinishParameterization(outgoing, normal)

	mirror := b.Evaluate(b.reflectionLobe)
	off := b.Evaluate(core.NewVec3(1, 0, 0))
	require.Greater(t, mirror, off)
}

func TestBSDFProxyRefractionFallsBackToReflectionUnderTIR(t *testing.T) {
	normal := core.NewVec3(0, 0, 1)
	// A grazing outgoing direction below the normal (inside the high-ior
	// medium, so the ratio becomes 1/ior) should hit total internal
	// reflection, falling back to the mirror direction.
	outgoing := core.NewVec3(math.Sqrt(1-0.0001), 0, -0.01).Normalize()
	refracted := refractDirection(outgoing, normal, 2.0)
	reflected := reflectDirection(outgoing, normal)

	require.InDelta(t, reflected.X, refracted.X, 1e-6)
	require.InDelta(t, reflected.Y, refracted.Y, 1e-6)
	require.InDelta(t, reflected.Z, refracted.Z, 1e-6)
}

func TestPhongLobeIsNonNegative(t *testing.T) {
	dir := core.NewVec3(0, 0, 1)
	for _, roughness := range []float64{0.01, 0.1, 0.5, 1.0} {
		for _, cos := range []float64{1.0, 0.5, 0.0, -0.5} {
			incoming := core.NewVec3(math.Sqrt(1-cos*cos), 0, cos)
			v := phongLobe(incoming, dir, roughness)
			require.GreaterOrEqual(t, v, 0.0)
		}
	}
}
