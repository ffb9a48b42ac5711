package guidedtracer

import (
	"math"

	"go-sdguide/pkg/core"
)

// MaterialKind selects which BSDF a Sphere presents at its surface.
type MaterialKind int

const (
	MaterialDiffuse MaterialKind = iota
	MaterialGlossy
)

// Sphere is the scene's only primitive, enough to exercise the guiding
// cache over a handful of surfaces with different BSDFs and positions.
type Sphere struct {
	Center    core.Vec3
	Radius    float64
	Albedo    core.Vec3
	Emission  core.Vec3
	Kind      MaterialKind
	Roughness float64
}

// BSDFAt returns the shading-point-local BSDF for a hit on this sphere.
func (s Sphere) BSDFAt(normal core.Vec3) BSDF {
	switch s.Kind {
	case MaterialGlossy:
		return &GlossyBSDF{Albedo: s.Albedo, Normal: normal, Roughness: s.Roughness}
	default:
		return &DiffuseBSDF{Albedo: s.Albedo, Normal: normal}
	}
}

func (s Sphere) bounds() core.AABB {
	r := core.NewVec3(s.Radius, s.Radius, s.Radius)
	return core.AABB{Min: s.Center.Subtract(r), Max: s.Center.Add(r)}
}

// hit intersects a ray with the sphere, returning the nearer root within
// [tMin, tMax].
func (s Sphere) hit(ray core.Ray, tMin, tMax float64) (t float64, ok bool) {
	oc := ray.Origin.Subtract(s.Center)
	a := ray.Direction.Dot(ray.Direction)
	halfB := oc.Dot(ray.Direction)
	c := oc.Dot(oc) - s.Radius*s.Radius
	discriminant := halfB*halfB - a*c
	if discriminant < 0 {
		return 0, false
	}
	sqrtD := math.Sqrt(discriminant)

	root := (-halfB - sqrtD) / a
	if root < tMin || root > tMax {
		root = (-halfB + sqrtD) / a
		if root < tMin || root > tMax {
			return 0, false
		}
	}
	return root, true
}

// Hit is the result of intersecting a ray with the scene.
type Hit struct {
	Point    core.Vec3
	Normal   core.Vec3
	Emission core.Vec3
	Sphere   Sphere
}

// Scene is an unordered list of spheres plus a constant-color background
// used as the path tracer's escape radiance.
type Scene struct {
	Spheres    []Sphere
	Background core.Vec3
}

// Bounds returns the union of every sphere's bounding box, what SpatTree
// grows into a cube at construction.
func (sc Scene) Bounds() core.AABB {
	if len(sc.Spheres) == 0 {
		return core.AABB{Min: core.NewVec3(-1, -1, -1), Max: core.NewVec3(1, 1, 1)}
	}
	bounds := sc.Spheres[0].bounds()
	for _, s := range sc.Spheres[1:] {
		bounds = bounds.Union(s.bounds())
	}
	return bounds
}

// Intersect finds the nearest sphere hit along ray, if any.
func (sc Scene) Intersect(ray core.Ray) (Hit, bool) {
	const tMin, epsilon = 1e-4, 1e-4
	closestT := math.Inf(1)
	var hitSphere Sphere
	found := false

	for _, s := range sc.Spheres {
		if t, ok := s.hit(ray, tMin, closestT); ok {
			closestT = t
			hitSphere = s
			found = true
		}
	}
	if !found {
		return Hit{}, false
	}

	point := ray.At(closestT)
	normal := point.Subtract(hitSphere.Center).Multiply(1 / hitSphere.Radius)
	if normal.Dot(ray.Direction) > 0 {
		normal = normal.Negate()
	}
	point = point.Add(normal.Multiply(epsilon))

	return Hit{Point: point, Normal: normal, Emission: hitSphere.Emission, Sphere: hitSphere}, true
}
