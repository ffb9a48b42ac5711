package guidedtracer

import (
	"math"

	"go-sdguide/pkg/core"
	"go-sdguide/pkg/guiding"
)

// Integrator is a unidirectional path tracer driving the guiding cache:
// every bounce below maxDepth asks a PathGuidedSampler for a direction,
// then records the realized incident-radiance estimate back into the
// shading point's DirTree once the rest of the path has been traced.
type Integrator struct {
	Scene     Scene
	Tree      *guiding.SpatTree
	Config    guiding.Config
	MaxDepth  int
}

// NewIntegrator creates an integrator over scene, guided by tree under cfg.
func NewIntegrator(scene Scene, tree *guiding.SpatTree, cfg guiding.Config, maxDepth int) *Integrator {
	return &Integrator{Scene: scene, Tree: tree, Config: cfg, MaxDepth: maxDepth}
}

// Trace renders one camera ray, returning the estimated radiance along it.
func (ig *Integrator) Trace(ray core.Ray, rng core.Sampler) core.Vec3 {
	return ig.trace(ray, rng, 0)
}

func (ig *Integrator) trace(ray core.Ray, rng core.Sampler, depth int) core.Vec3 {
	hit, ok := ig.Scene.Intersect(ray)
	if !ok {
		return ig.Scene.Background
	}

	emitted := hit.Emission
	if depth >= ig.MaxDepth {
		return emitted
	}

	outgoing := ray.Direction.Negate().Normalize()
	bsdf := hit.Sphere.BSDFAt(hit.Normal)

	dTree, _ := ig.Tree.GetDTree(hit.Point)
	sampler := guiding.NewPathGuidedSampler(ig.Config, dTree, bsdf, outgoing, hit.Normal, ig.Config.AllowPathGuiding)

	result, ok := sampler.Sample(rng)
	if !ok {
		return emitted
	}

	cosTheta := math.Abs(result.Direction.Dot(hit.Normal))
	if result.Pdf <= 0 || cosTheta <= 0 {
		return emitted
	}

	incidentRay := core.Ray{Origin: hit.Point, Direction: result.Direction}
	incomingRadiance := ig.trace(incidentRay, rng, depth+1)

	contribution := result.Value.Multiply(cosTheta / result.Pdf).MultiplyVec(incomingRadiance)
	outgoingRadiance := emitted.Add(contribution)

	if !result.IsSpecular {
		densityEstimate := incomingRadiance.Luminance() / result.Pdf
		ig.Tree.Record(hit.Point, result.Direction, densityEstimate, 1, rng)

		productEstimate := result.Value.Multiply(cosTheta).Luminance() * incomingRadiance.Luminance()
		dTree.Optimize(guiding.DTreeRecord{
			BSDFPdf:       result.BSDFPdf,
			DirTreePdf:    result.DirTreePdf,
			ProductPdf:    result.ProductPdf,
			WiPdf:         result.Pdf,
			Product:       productEstimate,
			SampleWeight:  1,
			IsDelta:       result.IsSpecular,
			GuidingMethod: result.GuidingMethod,
		}, ig.Config)
	}

	return outgoingRadiance
}
