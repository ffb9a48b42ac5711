package guiding

import (
	"math"

	"go-sdguide/pkg/core"
	"gonum.org/v1/gonum/spatial/r2"
)

const invFourPi = 1.0 / (4.0 * math.Pi)

// cartesianToCylindrical maps a world direction to the equal-area
// cylindrical parameterization in [0,1)^2: u tracks height along the polar
// axis, v tracks azimuth.
func cartesianToCylindrical(d core.Vec3) r2.Vec {
	u := (d.Z + 1) / 2
	v := math.Atan2(d.Y, d.X) / (2 * math.Pi)
	if v < 0 {
		v += 1
	}
	return clampUnit(r2.Vec{X: u, Y: v})
}

// cylindricalToCartesian is the inverse map, producing a unit-length world
// direction from a point in [0,1)^2.
func cylindricalToCartesian(p r2.Vec) core.Vec3 {
	z := 2*p.X - 1
	phi := p.Y * 2 * math.Pi
	r := math.Sqrt(math.Max(0, 1-z*z))
	return core.NewVec3(r*math.Cos(phi), r*math.Sin(phi), z)
}

// clampUnit keeps a cylindrical-parameterization point inside [0, 1-eps],
// the same guard the reference renderer applies before addressing a fixed
// pixel grid with it.
func clampUnit(p r2.Vec) r2.Vec {
	const eps = 1e-9
	return r2.Vec{
		X: math.Min(math.Max(p.X, 0), 1-eps),
		Y: math.Min(math.Max(p.Y, 0), 1-eps),
	}
}
