package guiding

import (
	"image"
	"image/color"
	"math"
	"sort"

	"go-sdguide/pkg/core"
	"github.com/nfnt/resize"
	"gonum.org/v1/gonum/spatial/r2"
)

const proxyEndLevel = 4 // log2(ProxyWidth), since ProxyWidth == 16

// distribution2D is a piecewise-constant discrete distribution over the
// ProxyWidth*ProxyWidth pixel grid, rebuilt whenever the proxy's pixel
// map changes. No third-party image-importance-sampler was found in the
// retrieved corpus, so this is a from-scratch stdlib implementation — see
// DESIGN.md for why no example library covers it.
type distribution2D struct {
	values []float64
	prefix []float64
	total  float64
}

func newDistribution2D(values []float64) *distribution2D {
	prefix := make([]float64, len(values))
	sum := 0.0
	for i, v := range values {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		sum += v
		prefix[i] = sum
	}
	return &distribution2D{values: values, prefix: prefix, total: sum}
}

// sample draws a discrete pixel index weighted by value, returning its
// probability mass.
func (d *distribution2D) sample(s float64) (index int, pdf float64) {
	n := len(d.values)
	if d.total <= 0 {
		index = int(s * float64(n))
		if index >= n {
			index = n - 1
		}
		return index, 1.0 / float64(n)
	}
	target := s * d.total
	index = sort.Search(n, func(i int) bool { return d.prefix[i] >= target })
	if index >= n {
		index = n - 1
	}
	return index, d.values[index] / d.total
}

func (d *distribution2D) pdf(index int) float64 {
	if d.total <= 0 {
		return 1.0 / float64(len(d.values))
	}
	return d.values[index] / d.total
}

// RadianceProxy is a low-resolution equal-area image of a DirTree,
// optionally multiplied by a BSDF proxy to form a product-guiding
// distribution. Owned by exactly one DirTree; invalidated and rebuilt
// whenever that tree restructures.
type RadianceProxy struct {
	owner *DirTree

	mapValues [ProxyWidth * ProxyWidth]float64
	strata    [ProxyWidth * ProxyWidth]*DirTreeNode

	dist *distribution2D

	isBuilt        bool
	productIsBuilt bool
}

func newRadianceProxy(owner *DirTree) *RadianceProxy {
	return &RadianceProxy{owner: owner}
}

// invalidate discards the proxy after a restructure; the back-pointer
// array is only valid for the lifetime of the snapshot it was built from.
func (p *RadianceProxy) invalidate() {
	p.isBuilt = false
	p.productIsBuilt = false
	p.dist = nil
}

// IsBuilt reports whether the pixel map reflects the current snapshot.
func (p *RadianceProxy) IsBuilt() bool {
	return p.isBuilt
}

// ProductIsBuilt reports whether BuildProduct has run since the last
// invalidation.
func (p *RadianceProxy) ProductIsBuilt() bool {
	return p.productIsBuilt
}

// Build walks the owning DirTree into the fixed-size pixel grid. Every
// node at depth d contributes radiance 4^d * previous * scale to every
// pixel its subtree covers, where scale = 1/(4*pi*previousSampleWeight).
// Non-finite or negative pixels are scrubbed to zero.
func (p *RadianceProxy) Build() {
	scale := 0.0
	if p.owner.previousSampleWeight > 0 {
		scale = invFourPi / p.owner.previousSampleWeight
	}
	p.fillNode(p.owner.root, scale, 0, 0, 0)
	for i, v := range p.mapValues {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			p.mapValues[i] = 0
		}
	}
	p.dist = newDistribution2D(p.mapValues[:])
	p.isBuilt = true
}

func (p *RadianceProxy) fillNode(node *DirTreeNode, factor float64, depth, originX, originY int) {
	if depth == proxyEndLevel || node.isLeaf() {
		width := 1 << (proxyEndLevel - depth)
		radiance := factor * node.previous
		pixelOriginX, pixelOriginY := originX*width, originY*width
		for y := 0; y < width; y++ {
			for x := 0; x < width; x++ {
				px, py := pixelOriginX+x, pixelOriginY+y
				idx := py*ProxyWidth + px
				p.mapValues[idx] = radiance
				if !node.isLeaf() {
					p.strata[idx] = node
				} else {
					p.strata[idx] = nil
				}
			}
		}
		return
	}

	subX, subY := 2*originX, 2*originY
	p.fillNode(node.children[quadUpperLeft], factor*4, depth+1, subX, subY)
	p.fillNode(node.children[quadUpperRight], factor*4, depth+1, subX+1, subY)
	p.fillNode(node.children[quadLowerLeft], factor*4, depth+1, subX, subY+1)
	p.fillNode(node.children[quadLowerRight], factor*4, depth+1, subX+1, subY+1)
}

// BuildProduct multiplies the pixel map by a parameterized BSDF proxy
// evaluated at each pixel center and rebuilds the image importance
// sampler over the product. Idempotent until the next invalidate: a
// second call in the same snapshot is a no-op.
func (p *RadianceProxy) BuildProduct(bsdf *BSDFProxy, outgoing, shadingNormal core.Vec3) {
	if !p.isBuilt {
		p.Build()
	}
	if p.productIsBuilt {
		return
	}

	bsdf.FinishParameterization(outgoing, shadingNormal)
	p.productIsBuilt = true

	const invWidth = 1.0 / ProxyWidth
	for y := 0; y < ProxyWidth; y++ {
		for x := 0; x < ProxyWidth; x++ {
			cyl := r2.Vec{X: (float64(x) + 0.5) * invWidth, Y: (float64(y) + 0.5) * invWidth}
			incoming := cylindricalToCartesian(cyl)
			idx := y*ProxyWidth + x
			p.mapValues[idx] *= bsdf.Evaluate(incoming)
		}
	}

	p.dist = newDistribution2D(p.mapValues[:])
}

// Sample draws a direction from the importance map: first a pixel via
// the image importance sampler, then (if the pixel straddles a deeper
// subtree) a sub-pixel offset from that subtree, else a uniform
// sub-pixel offset. s1 selects the pixel, s2 the sub-pixel offset.
func (p *RadianceProxy) Sample(s1, s2 core.Vec2) (core.Vec3, float64) {
	if !p.isBuilt {
		p.Build()
	}

	index, pixelPdf := p.dist.sample(s1.X)
	px, py := index%ProxyWidth, index/ProxyWidth

	cyl := r2.Vec{X: float64(px), Y: float64(py)}
	subPdf := 1.0
	if sub := p.strata[index]; sub != nil {
		offset, treePdf := sub.sampleAsSubRoot(r2.Vec{X: s2.X, Y: s2.Y})
		cyl.X += offset.X
		cyl.Y += offset.Y
		subPdf = treePdf
	} else {
		cyl.X += s2.X
		cyl.Y += s2.Y
	}

	pdf := pixelPdf * subPdf * ProxyWidth * ProxyWidth * invFourPi
	cyl.X /= ProxyWidth
	cyl.Y /= ProxyWidth
	cyl = clampUnit(cyl)

	return cylindricalToCartesian(cyl), pdf
}

// Pdf is the inverse of Sample: locate direction's pixel, look up its
// pixel pdf, and if it straddles a subtree, ask that subtree for the
// sub-pixel pdf.
func (p *RadianceProxy) Pdf(direction core.Vec3) float64 {
	if !p.isBuilt {
		return invFourPi
	}

	cyl := cartesianToCylindrical(direction)
	scaledX := cyl.X * ProxyWidth
	scaledY := cyl.Y * ProxyWidth
	px := minInt(int(scaledX), ProxyWidth-1)
	py := minInt(int(scaledY), ProxyWidth-1)
	index := py*ProxyWidth + px

	pixelPdf := p.dist.pdf(index)
	subPdf := 1.0
	if sub := p.strata[index]; sub != nil {
		offset := r2.Vec{X: scaledX - float64(px), Y: scaledY - float64(py)}
		subPdf = sub.pdfAsSubRoot(offset)
	}

	return pixelPdf * subPdf * ProxyWidth * ProxyWidth * invFourPi
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// sampleAsSubRoot samples this node as though it were a tree root,
// matching the reference's reuse of the quadtree sample entry point on
// an interior node reached through the proxy's back-pointer.
func (n *DirTreeNode) sampleAsSubRoot(s r2.Vec) (r2.Vec, float64) {
	if n.previous <= 0 {
		return s, 1
	}
	pdf := 1.0 / n.previous
	p := n.sampleRecursive(s, &pdf)
	return p, pdf
}

func (n *DirTreeNode) pdfAsSubRoot(p r2.Vec) float64 {
	if n.previous <= 0 {
		return 1
	}
	return n.pdfRecursive(p) / n.previous
}

// DebugImage renders the pixel map upsampled to size*size via
// nfnt/resize, for visual inspection of the learned radiance density.
// This is the debugging accessor the reference leaves as a zero stub;
// here it actually does what a debugging accessor is for.
func (p *RadianceProxy) DebugImage(size int) image.Image {
	src := image.NewGray16(image.Rect(0, 0, ProxyWidth, ProxyWidth))
	maxVal := 0.0
	for _, v := range p.mapValues {
		if v > maxVal {
			maxVal = v
		}
	}
	for y := 0; y < ProxyWidth; y++ {
		for x := 0; x < ProxyWidth; x++ {
			v := p.mapValues[y*ProxyWidth+x]
			level := uint16(0)
			if maxVal > 0 {
				level = uint16(65535 * (v / maxVal))
			}
			src.Set(x, y, color.Gray16{Y: level})
		}
	}
	return resize.Resize(uint(size), uint(size), src, resize.Bilinear)
}
