package guiding

import (
	"go-sdguide/pkg/core"
)

// BSDFProxyLobes is the coarse lobe decomposition a BSDF reports for
// building a product-guiding distribution: a weight (and, for the
// directional lobes, a roughness) per additive term. Zero weight means
// the lobe contributes nothing.
type BSDFProxyLobes struct {
	DiffuseWeight       float64
	TranslucencyWeight  float64
	ReflectionWeight     float64
	ReflectionRoughness  float64
	RefractionWeight     float64
	RefractionRoughness  float64
	IOR                  float64
}

// BSDF is the contract the path-guided sampler needs from a surface
// shader: the same sample/evaluate/pdf shape the renderer's own Material
// interface exposes, reframed in outgoing/incoming order with an explicit
// specular flag, plus the lobe decomposition the radiance proxy's product
// build needs.
type BSDF interface {
	// Sample draws one direction from the BSDF's own proposal distribution.
	Sample(outgoing core.Vec3, rng core.Sampler) (incoming core.Vec3, value core.Vec3, pdf float64, isSpecular bool)
	// Evaluate returns the BSDF value for a known direction pair.
	Evaluate(outgoing, incoming core.Vec3) core.Vec3
	// PDF returns the BSDF's own sampling density for a known direction pair.
	PDF(outgoing, incoming core.Vec3) float64
	// IsPurelySpecular reports whether every lobe is a delta function, in
	// which case path guiding never engages.
	IsPurelySpecular() bool
	// ProxyLobes returns the lobe weights feeding the radiance proxy's
	// product build.
	ProxyLobes() BSDFProxyLobes
}

// SampleResult is what PathGuidedSampler.Sample hands back: the chosen
// direction, the BSDF's attenuation at that direction, the mixture pdf
// used for MIS, and the bookkeeping the caller needs to later build a
// DTreeRecord once the path's contribution is known.
type SampleResult struct {
	Direction  core.Vec3
	Value      core.Vec3
	Pdf        float64
	IsSpecular bool

	BSDFPdf    float64
	DirTreePdf float64
	ProductPdf float64

	GuidingMethod GuidingMethod
	ScatterMode   ScatteringMode
}

// PathGuidedSampler mixes a BSDF's own proposal with the learned
// directional density (and, in product/combined mode, the BSDF-weighted
// radiance proxy) into a single sampling and evaluation surface, per
// DirTree for the current shading point.
type PathGuidedSampler struct {
	cfg  Config
	tree *DirTree
	bsdf BSDF

	outgoing      core.Vec3
	shadingNormal core.Vec3

	active bool
	alpha  float64
	beta   float64

	proxyBuilt bool
}

// NewPathGuidedSampler captures everything Sample/Evaluate need for one
// shading point: the guiding mode, the DirTree owning this point, the
// BSDF, and whether guiding is globally allowed. Path guiding is active
// only when the tree has been built at least once, the BSDF isn't purely
// specular, and guiding is allowed; otherwise it degenerates to the bare
// BSDF (alpha=1, beta=0).
func NewPathGuidedSampler(cfg Config, tree *DirTree, bsdf BSDF, outgoing, shadingNormal core.Vec3, allowPathGuiding bool) *PathGuidedSampler {
	s := &PathGuidedSampler{cfg: cfg, tree: tree, bsdf: bsdf, outgoing: outgoing, shadingNormal: shadingNormal}

	s.active = tree.Built() && !bsdf.IsPurelySpecular() && allowPathGuiding && cfg.AllowPathGuiding
	if !s.active {
		s.alpha, s.beta = 1, 0
		return s
	}

	switch cfg.GuidingMode {
	case GuidingModeProductGuiding:
		s.alpha = tree.BSDFSamplingFraction(cfg)
		s.beta = 1
	case GuidingModeCombined:
		s.alpha, s.beta = tree.BSDFSamplingFractionProduct(cfg)
	default: // GuidingModePathGuiding
		s.alpha = tree.BSDFSamplingFraction(cfg)
		s.beta = 0
	}
	return s
}

// ensureProxy lazily parameterizes and builds the product-guiding
// distribution the first time this sampler needs it; a sampler instance
// is scoped to one shading point so this runs at most once per point.
func (s *PathGuidedSampler) ensureProxy() {
	if s.proxyBuilt {
		return
	}
	s.proxyBuilt = true

	lobes := s.bsdf.ProxyLobes()
	proxy := NewBSDFProxy(lobes.IOR)
	proxy.AddDiffuseWeight(lobes.DiffuseWeight)
	proxy.AddTranslucencyWeight(lobes.TranslucencyWeight)
	proxy.AddReflectionWeight(lobes.ReflectionWeight, lobes.ReflectionRoughness)
	proxy.AddRefractionWeight(lobes.RefractionWeight, lobes.RefractionRoughness)

	s.tree.Proxy().BuildProduct(proxy, s.outgoing, s.shadingNormal)
}

// usesProduct reports whether this sampler's configuration ever needs a
// product-guiding pdf.
func (s *PathGuidedSampler) usesProduct() bool {
	return s.cfg.GuidingMode == GuidingModeProductGuiding || s.cfg.GuidingMode == GuidingModeCombined
}

// Sample implements the mixture draw: BSDF with probability alpha, else
// product-guided with probability beta of the remainder, else
// directional-guided. Rejects (returns ok=false) only when the chosen
// direction's BSDF pdf is zero.
func (s *PathGuidedSampler) Sample(rng core.Sampler) (SampleResult, bool) {
	u := rng.Get1D()

	if u < s.alpha {
		direction, value, bsdfPdf, isSpecular := s.bsdf.Sample(s.outgoing, rng)
		if isSpecular {
			return SampleResult{
				Direction:     direction,
				Value:         value,
				Pdf:           s.alpha,
				IsSpecular:    true,
				BSDFPdf:       bsdfPdf,
				GuidingMethod: GuidingMethodBSDF,
				ScatterMode:   s.classify(GuidingMethodBSDF),
			}, true
		}

		dTreePdf := s.tree.Pdf(direction)
		productPdf := 0.0
		if s.usesProduct() {
			s.ensureProxy()
			productPdf = s.tree.Proxy().Pdf(direction)
		}

		mixPdf := s.mix(bsdfPdf, dTreePdf, productPdf)
		return SampleResult{
			Direction: direction, Value: value, Pdf: mixPdf,
			BSDFPdf: bsdfPdf, DirTreePdf: dTreePdf, ProductPdf: productPdf,
			GuidingMethod: GuidingMethodBSDF, ScatterMode: s.classify(GuidingMethodBSDF),
		}, true
	}

	remainder := (u - s.alpha) / (1 - s.alpha)

	var direction core.Vec3
	var dTreePdf, productPdf float64
	var method GuidingMethod

	if remainder < s.beta {
		s.ensureProxy()
		direction, productPdf = s.tree.Proxy().Sample(rng.Get2D(), rng.Get2D())
		dTreePdf = s.tree.Pdf(direction)
		method = GuidingMethodProduct
	} else {
		direction, dTreePdf = s.tree.Sample(rng.Get2D())
		if s.usesProduct() {
			s.ensureProxy()
			productPdf = s.tree.Proxy().Pdf(direction)
		}
		method = GuidingMethodDirectional
	}

	bsdfPdf := s.bsdf.PDF(s.outgoing, direction)
	if bsdfPdf <= 0 {
		return SampleResult{}, false
	}
	value := s.bsdf.Evaluate(s.outgoing, direction)

	mixPdf := s.mix(bsdfPdf, dTreePdf, productPdf)
	return SampleResult{
		Direction: direction, Value: value, Pdf: mixPdf,
		BSDFPdf: bsdfPdf, DirTreePdf: dTreePdf, ProductPdf: productPdf,
		GuidingMethod: method, ScatterMode: s.classify(method),
	}, true
}

// Evaluate computes the mixture density for a direction already chosen by
// some other means (e.g. a light sample), for MIS weighting. It must use
// exactly the same combination Sample does.
func (s *PathGuidedSampler) Evaluate(incoming core.Vec3) float64 {
	bsdfPdf := s.bsdf.PDF(s.outgoing, incoming)
	dTreePdf := s.tree.Pdf(incoming)
	productPdf := 0.0
	if s.usesProduct() {
		s.ensureProxy()
		productPdf = s.tree.Proxy().Pdf(incoming)
	}
	return s.mix(bsdfPdf, dTreePdf, productPdf)
}

func (s *PathGuidedSampler) mix(bsdfPdf, dTreePdf, productPdf float64) float64 {
	return s.alpha*bsdfPdf + (1-s.alpha)*(s.beta*productPdf+(1-s.beta)*dTreePdf)
}

// classify relabels the scattering mode the tree has settled into per
// guided_bounce_mode, so learned bounces don't leak into caustic-only
// BSDF channels. "prefer" modes only override the learned classification
// for guided (non-BSDF-proposed) bounces, leaving BSDF-proposed bounces
// to report the tree's own classification.
func (s *PathGuidedSampler) classify(method GuidingMethod) ScatteringMode {
	learned := s.tree.ScatteringMode()

	switch s.cfg.GuidedBounceMode {
	case GuidedBounceStrictlyDiffuse:
		return ScatteringModeDiffuse
	case GuidedBounceStrictlyGlossy:
		return ScatteringModeGlossy
	case GuidedBouncePreferDiffuse:
		if method == GuidingMethodBSDF {
			return learned
		}
		return ScatteringModeDiffuse
	case GuidedBouncePreferGlossy:
		if method == GuidingMethodBSDF {
			return learned
		}
		return ScatteringModeGlossy
	default: // GuidedBounceLearn
		return learned
	}
}
