// Package guidedtracer is a minimal path tracer that exercises the
// guiding cache end to end: a tiny sphere scene, a diffuse/glossy BSDF
// pair, and a unidirectional integrator that records observations and
// draws guided bounces exactly the way a production path tracer would.
package guidedtracer

import (
	"math"

	"go-sdguide/pkg/core"
	"go-sdguide/pkg/guiding"
)

// BSDF is the guiding package's sampler contract, reused directly so
// every surface shader here is plugged straight into PathGuidedSampler.
type BSDF = guiding.BSDF

// DiffuseBSDF is a Lambertian lobe, shading-point-local: constructed
// fresh with the local normal at each hit the way the reference
// renderer's Lambertian.Scatter captures hit.Normal per call.
type DiffuseBSDF struct {
	Albedo core.Vec3
	Normal core.Vec3
}

func (b *DiffuseBSDF) Sample(outgoing core.Vec3, rng core.Sampler) (core.Vec3, core.Vec3, float64, bool) {
	incoming := core.SampleCosineHemisphere(b.Normal, rng.Get2D())
	pdf := b.cosinePdf(incoming)
	return incoming, b.value(), pdf, false
}

func (b *DiffuseBSDF) Evaluate(outgoing, incoming core.Vec3) core.Vec3 {
	if incoming.Dot(b.Normal) <= 0 {
		return core.Vec3{}
	}
	return b.value()
}

func (b *DiffuseBSDF) PDF(outgoing, incoming core.Vec3) float64 {
	return b.cosinePdf(incoming)
}

func (b *DiffuseBSDF) cosinePdf(incoming core.Vec3) float64 {
	cosTheta := incoming.Dot(b.Normal)
	if cosTheta <= 0 {
		return 0
	}
	return cosTheta / math.Pi
}

func (b *DiffuseBSDF) value() core.Vec3 {
	return b.Albedo.Multiply(1.0 / math.Pi)
}

func (b *DiffuseBSDF) IsPurelySpecular() bool { return false }

func (b *DiffuseBSDF) ProxyLobes() guiding.BSDFProxyLobes {
	return guiding.BSDFProxyLobes{DiffuseWeight: b.Albedo.Luminance()}
}

// GlossyBSDF is a normalized Phong-style lobe around the mirror
// direction: roughness near zero degenerates to a specular mirror
// (IsPurelySpecular), otherwise it's a regular importance-samplable lobe.
type GlossyBSDF struct {
	Albedo    core.Vec3
	Normal    core.Vec3
	Roughness float64
}

const specularRoughnessThreshold = 1e-4

func (b *GlossyBSDF) mirror(outgoing core.Vec3) core.Vec3 {
	return b.Normal.Multiply(2 * outgoing.Dot(b.Normal)).Subtract(outgoing)
}

func (b *GlossyBSDF) exponent() float64 {
	r := math.Max(b.Roughness, 1e-3)
	return 2/(r*r) - 2
}

func (b *GlossyBSDF) Sample(outgoing core.Vec3, rng core.Sampler) (core.Vec3, core.Vec3, float64, bool) {
	mirror := b.mirror(outgoing)
	if b.IsPurelySpecular() {
		return mirror, b.Albedo, 1, true
	}

	incoming := samplePhongLobe(mirror, b.exponent(), rng.Get2D())
	pdf := b.PDF(outgoing, incoming)
	return incoming, b.Evaluate(outgoing, incoming), pdf, false
}

func (b *GlossyBSDF) Evaluate(outgoing, incoming core.Vec3) core.Vec3 {
	if incoming.Dot(b.Normal) <= 0 {
		return core.Vec3{}
	}
	lobe := phongLobeValue(b.mirror(outgoing), incoming, b.exponent())
	return b.Albedo.Multiply(lobe)
}

func (b *GlossyBSDF) PDF(outgoing, incoming core.Vec3) float64 {
	if incoming.Dot(b.Normal) <= 0 {
		return 0
	}
	return phongLobeValue(b.mirror(outgoing), incoming, b.exponent())
}

func (b *GlossyBSDF) IsPurelySpecular() bool {
	return b.Roughness <= specularRoughnessThreshold
}

func (b *GlossyBSDF) ProxyLobes() guiding.BSDFProxyLobes {
	return guiding.BSDFProxyLobes{
		ReflectionWeight:    b.Albedo.Luminance(),
		ReflectionRoughness: b.Roughness,
		IOR:                 1.0,
	}
}

// phongLobeValue is the normalized cosine-power lobe around dir, mapping
// roughness to exponent via the standard Blinn-Phong correspondence.
func phongLobeValue(dir, incoming core.Vec3, exponent float64) float64 {
	cos := math.Max(dir.Dot(incoming), 0)
	return (exponent + 2) / (2 * math.Pi) * math.Pow(cos, exponent)
}

// samplePhongLobe draws a direction from the normalized cosine-power lobe
// around dir by the standard inverse-CDF construction in the lobe's own
// local frame, then rotates into world space.
func samplePhongLobe(dir core.Vec3, exponent float64, s core.Vec2) core.Vec3 {
	cosTheta := math.Pow(s.X, 1/(exponent+1))
	sinTheta := math.Sqrt(math.Max(0, 1-cosTheta*cosTheta))
	phi := 2 * math.Pi * s.Y

	x := sinTheta * math.Cos(phi)
	y := sinTheta * math.Sin(phi)
	z := cosTheta

	var tangentSeed core.Vec3
	if math.Abs(dir.X) > 0.1 {
		tangentSeed = core.NewVec3(0, 1, 0)
	} else {
		tangentSeed = core.NewVec3(1, 0, 0)
	}
	tangent := tangentSeed.Cross(dir).Normalize()
	bitangent := dir.Cross(tangent)

	return tangent.Multiply(x).Add(bitangent.Multiply(y)).Add(dir.Multiply(z))
}
