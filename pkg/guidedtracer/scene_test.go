package guidedtracer

import (
	"testing"

	"go-sdguide/pkg/core"
	"github.com/stretchr/testify/require"
)

func unitSphere() Sphere {
	return Sphere{Center: core.NewVec3(0, 0, 0), Radius: 1, Albedo: core.NewVec3(0.8, 0.8, 0.8)}
}

func TestSphereHitMissesWhenRayPassesAside(t *testing.T) {
	s := unitSphere()
	ray := core.Ray{Origin: core.NewVec3(0, 5, -5), Direction: core.NewVec3(0, 0, 1)}
	_, ok := s.hit(ray, 1e-4, 1e9)
	require.False(t, ok)
}

func TestSphereHitSelectsNearerRootWithinRange(t *testing.T) {
	s := unitSphere()
	ray := core.Ray{Origin: core.NewVec3(0, 0, -5), Direction: core.NewVec3(0, 0, 1)}
	tHit, ok := s.hit(ray, 1e-4, 1e9)
	require.True(t, ok)
	require.InDelta(t, 4.0, tHit, 1e-9)
}

func TestSphereHitFallsBackToFarRootWhenNearRootOutOfRange(t *testing.T) {
	s := unitSphere()
	// Origin inside the sphere: near root is negative, behind tMin, so the
	// far root (exiting the sphere) should be returned instead.
	ray := core.Ray{Origin: core.NewVec3(0, 0, 0), Direction: core.NewVec3(0, 0, 1)}
	tHit, ok := s.hit(ray, 1e-4, 1e9)
	require.True(t, ok)
	require.InDelta(t, 1.0, tHit, 1e-9)
}

func TestSphereBSDFAtDispatchesByKind(t *testing.T) {
	diffuse := unitSphere()
	diffuse.Kind = MaterialDiffuse
	_, ok := diffuse.BSDFAt(core.NewVec3(0, 0, 1)).(*DiffuseBSDF)
	require.True(t, ok)

	glossy := unitSphere()
	glossy.Kind = MaterialGlossy
	glossy.Roughness = 0.2
	_, ok = glossy.BSDFAt(core.NewVec3(0, 0, 1)).(*GlossyBSDF)
	require.True(t, ok)
}

func TestSceneBoundsEmptyFallback(t *testing.T) {
	sc := Scene{}
	b := sc.Bounds()
	require.Equal(t, core.NewVec3(-1, -1, -1), b.Min)
	require.Equal(t, core.NewVec3(1, 1, 1), b.Max)
}

func TestSceneBoundsUnionsAllSpheres(t *testing.T) {
	sc := Scene{Spheres: []Sphere{
		{Center: core.NewVec3(-5, 0, 0), Radius: 1},
		{Center: core.NewVec3(5, 0, 0), Radius: 1},
	}}
	b := sc.Bounds()
	require.LessOrEqual(t, b.Min.X, -6.0)
	require.GreaterOrEqual(t, b.Max.X, 6.0)
}

func TestSceneIntersectPicksNearestSphere(t *testing.T) {
	sc := Scene{
		Background: core.NewVec3(0.1, 0.1, 0.1),
		Spheres: []Sphere{
			{Center: core.NewVec3(0, 0, 5), Radius: 1, Emission: core.NewVec3(1, 0, 0)},
			{Center: core.NewVec3(0, 0, 10), Radius: 1, Emission: core.NewVec3(0, 1, 0)},
		},
	}
	ray := core.Ray{Origin: core.NewVec3(0, 0, 0), Direction: core.NewVec3(0, 0, 1)}
	hit, ok := sc.Intersect(ray)
	require.True(t, ok)
	require.Equal(t, core.NewVec3(1, 0, 0), hit.Emission)
}

func TestSceneIntersectFlipsNormalTowardRay(t *testing.T) {
	sc := Scene{Spheres: []Sphere{{Center: core.NewVec3(0, 0, 5), Radius: 1}}}
	ray := core.Ray{Origin: core.NewVec3(0, 0, 0), Direction: core.NewVec3(0, 0, 1)}
	hit, ok := sc.Intersect(ray)
	require.True(t, ok)
	require.Less(t, hit.Normal.Dot(ray.Direction), 0.0)
}

func TestSceneIntersectMissReturnsFalse(t *testing.T) {
	sc := Scene{Background: core.NewVec3(0.5, 0.5, 0.5)}
	ray := core.Ray{Origin: core.NewVec3(0, 0, 0), Direction: core.NewVec3(0, 0, 1)}
	_, ok := sc.Intersect(ray)
	require.False(t, ok)
}
