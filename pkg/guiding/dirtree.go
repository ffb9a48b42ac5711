package guiding

import (
	"math"

	"go-sdguide/pkg/core"
	"gonum.org/v1/gonum/spatial/r2"
)

// quadrant child indices, matching the order the on-disk dump (and every
// other depth-first walk of the tree) expects: upper-left, upper-right,
// lower-right, lower-left.
const (
	quadUpperLeft  = 0
	quadUpperRight = 1
	quadLowerRight = 2
	quadLowerLeft  = 3
)

// DirTreeNode is one node of the per-leaf directional quadtree: either a
// leaf holding a radiance estimate, or an interior node owning exactly
// four children. A node never holds both a radiance leaf and children.
type DirTreeNode struct {
	children [4]*DirTreeNode // nil when this node is a leaf

	current  atomicFloat64 // mutated concurrently during a pass
	previous float64       // snapshot taken at build/restructure time
}

func newDirTreeLeaf(previous float64) *DirTreeNode {
	n := &DirTreeNode{previous: previous}
	return n
}

func (n *DirTreeNode) isLeaf() bool {
	return n.children[quadUpperLeft] == nil
}

// chooseChild descends geometrically (not by energy): x<0.5 is the left
// half, y<0.5 is the upper half. Used by record (nearest filter) and pdf.
// p is renormalized in place to the child's local [0,1)^2 frame.
func (n *DirTreeNode) chooseChild(p *r2.Vec) *DirTreeNode {
	if p.X < 0.5 {
		p.X *= 2
		if p.Y < 0.5 {
			p.Y *= 2
			return n.children[quadUpperLeft]
		}
		p.Y = p.Y*2 - 1
		return n.children[quadLowerLeft]
	}
	p.X = p.X*2 - 1
	if p.Y < 0.5 {
		p.Y *= 2
		return n.children[quadUpperRight]
	}
	p.Y = p.Y*2 - 1
	return n.children[quadLowerRight]
}

// addRadianceNearest walks to the leaf containing p and atomically adds
// radiance to it.
func (n *DirTreeNode) addRadianceNearest(p r2.Vec, radiance float64) {
	node := n
	for !node.isLeaf() {
		node = node.chooseChild(&p)
	}
	node.current.add(radiance)
}

// quadRegion is an axis-aligned box in [0,1)^2 describing a node's region,
// used only by the box-filter splat.
type quadRegion struct {
	min, max r2.Vec
}

func (r quadRegion) intersectArea(other quadRegion) float64 {
	x0 := math.Max(r.min.X, other.min.X)
	y0 := math.Max(r.min.Y, other.min.Y)
	x1 := math.Min(r.max.X, other.max.X)
	y1 := math.Min(r.max.Y, other.max.Y)
	if x1 <= x0 || y1 <= y0 {
		return 0
	}
	return (x1 - x0) * (y1 - y0)
}

func (r quadRegion) children() [4]quadRegion {
	mid := r2.Vec{X: (r.min.X + r.max.X) / 2, Y: (r.min.Y + r.max.Y) / 2}
	var out [4]quadRegion
	out[quadUpperLeft] = quadRegion{min: r2.Vec{X: r.min.X, Y: r.min.Y}, max: r2.Vec{X: mid.X, Y: mid.Y}}
	out[quadUpperRight] = quadRegion{min: r2.Vec{X: mid.X, Y: r.min.Y}, max: r2.Vec{X: r.max.X, Y: mid.Y}}
	out[quadLowerRight] = quadRegion{min: r2.Vec{X: mid.X, Y: mid.Y}, max: r2.Vec{X: r.max.X, Y: r.max.Y}}
	out[quadLowerLeft] = quadRegion{min: r2.Vec{X: r.min.X, Y: mid.Y}, max: r2.Vec{X: mid.X, Y: r.max.Y}}
	return out
}

// addRadianceBox splats radiance*intersectionArea into every leaf whose
// region overlaps box.
func (n *DirTreeNode) addRadianceBox(box quadRegion, region quadRegion, radiance float64) {
	area := region.intersectArea(box)
	if area <= 0 {
		return
	}
	if n.isLeaf() {
		n.current.add(radiance * area)
		return
	}
	childRegions := region.children()
	for i, c := range n.children {
		c.addRadianceBox(box, childRegions[i], radiance)
	}
}

// buildRadianceSums snapshots current into previous, bottom-up, and
// returns the node's total mass.
func (n *DirTreeNode) buildRadianceSums() float64 {
	if n.isLeaf() {
		n.previous = n.current.load()
		return n.previous
	}
	sum := 0.0
	for _, c := range n.children {
		sum += c.buildRadianceSums()
	}
	n.previous = sum
	return sum
}

// resetCurrent zeroes every node's live accumulator after a restructure.
func (n *DirTreeNode) resetCurrent() {
	n.current.store(0)
	if !n.isLeaf() {
		for _, c := range n.children {
			c.resetCurrent()
		}
	}
}

// energyRatio is one (areaFraction, energyFraction) sample gathered per
// just-collapsed-to-leaf quadrant during restructure, feeding the
// scattering-mode classification.
type energyRatio struct {
	areaFraction   float64
	energyFraction float64
}

// restructure implements Algorithm 4 of the practical-path-guiding
// supplemental: subdivide a leaf whose mass fraction exceeds the
// threshold, or collapse an interior node none of whose children would
// clear it. Appends one energyRatio per freshly-collapsed quadrant of
// leaves to ratios (nil disables classification bookkeeping).
func (n *DirTreeNode) restructure(totalMass, threshold float64, depth int, ratios *[]energyRatio) {
	fraction := 0.0
	if totalMass > 0 {
		fraction = n.previous / totalMass
	}

	if fraction > threshold && depth < DTreeMaxDepth {
		if n.isLeaf() {
			quarter := n.previous / 4
			for i := range n.children {
				n.children[i] = newDirTreeLeaf(quarter)
			}
		}
		for _, c := range n.children {
			c.restructure(totalMass, threshold, depth+1, ratios)
		}
	} else if !n.isLeaf() {
		for i := range n.children {
			n.children[i] = nil
		}
	}

	if ratios != nil && !n.isLeaf() && n.children[quadUpperLeft].isLeaf() && depth >= 1 {
		*ratios = append(*ratios, energyRatio{
			areaFraction:   math.Pow(0.25, float64(depth-1)),
			energyFraction: 4 * n.children[quadUpperLeft].previous / totalMass,
		})
	}
}

// pdfRecursive mirrors sample's descent without consuming entropy: it
// walks geometrically to p's leaf, multiplying by 4 per level, and
// returns the leaf's previous mass.
func (n *DirTreeNode) pdfRecursive(p r2.Vec) float64 {
	if n.isLeaf() {
		return n.previous
	}
	child := n.chooseChild(&p)
	return 4 * child.pdfRecursive(p)
}

// sampleRecursive implements Algorithm 1: descend choosing each quadrant
// with probability proportional to its mass, renormalizing the sample
// into the chosen child's frame, and returning the leaf-local point
// scaled back up into the node's own [0,1)^2 frame.
func (n *DirTreeNode) sampleRecursive(s r2.Vec, pdf *float64) r2.Vec {
	if s.X >= 1 {
		s.X = math.Nextafter(1, 0)
	}
	if s.Y >= 1 {
		s.Y = math.Nextafter(1, 0)
	}

	if n.isLeaf() {
		*pdf *= n.previous
		return s
	}

	ul := n.children[quadUpperLeft].previous
	ur := n.children[quadUpperRight].previous
	lr := n.children[quadLowerRight].previous
	ll := n.children[quadLowerLeft].previous
	sumLeft := ul + ll
	sumRight := ur + lr

	*pdf *= 4

	factor := sumLeft / n.previous
	if s.X < factor {
		s.X /= factor
		factor = ul / sumLeft
		if s.Y < factor {
			s.Y /= factor
			p := n.children[quadUpperLeft].sampleRecursive(s, pdf)
			return r2.Vec{X: 0.5 * p.X, Y: 0.5 * p.Y}
		}
		s.Y = (s.Y - factor) / (1 - factor)
		p := n.children[quadLowerLeft].sampleRecursive(s, pdf)
		return r2.Vec{X: 0.5 * p.X, Y: 0.5 + 0.5*p.Y}
	}

	s.X = (s.X - factor) / (1 - factor)
	factor = ur / sumRight
	if s.Y < factor {
		s.Y /= factor
		p := n.children[quadUpperRight].sampleRecursive(s, pdf)
		return r2.Vec{X: 0.5 + 0.5*p.X, Y: 0.5 * p.Y}
	}
	s.Y = (s.Y - factor) / (1 - factor)
	p := n.children[quadLowerRight].sampleRecursive(s, pdf)
	return r2.Vec{X: 0.5 + 0.5*p.X, Y: 0.5 + 0.5*p.Y}
}

func (n *DirTreeNode) nodeCount() int {
	if n.isLeaf() {
		return 1
	}
	total := 1
	for _, c := range n.children {
		total += c.nodeCount()
	}
	return total
}

func (n *DirTreeNode) maxDepth() int {
	if n.isLeaf() {
		return 1
	}
	best := 0
	for _, c := range n.children {
		if d := c.maxDepth(); d > best {
			best = d
		}
	}
	return best + 1
}

// DirTree is the per-leaf adaptive directional density: a quadtree over
// the cylindrical parameterization of the sphere, plus the two online
// mixing optimizers and the radiance proxy for that spatial leaf.
type DirTree struct {
	root *DirTreeNode

	currentSampleWeight  atomicFloat64
	previousSampleWeight float64

	built          bool
	scatteringMode ScatteringMode

	proxy *RadianceProxy

	mix        adamScalar
	mixLock    spinLock
	product    adamVec2
	productLock spinLock
}

// NewDirTree creates an empty DirTree: a single leaf with zero mass.
func NewDirTree() *DirTree {
	t := &DirTree{
		root:           newDirTreeLeaf(0),
		scatteringMode: ScatteringModeDiffuse,
	}
	t.proxy = newRadianceProxy(t)
	t.mix = newAdamScalar()
	t.product = newAdamVec2()
	return t
}

// copyForSubdivide deep-copies the tree, the shape SpatTreeNode.Subdivide
// needs when it hands each spatial child its own DirTree seeded from the
// parent's learned state. The ADAM state and sample weight are preserved;
// callers halve the sample weight afterward per the subdivision rule.
func (t *DirTree) copyForSubdivide() *DirTree {
	clone := &DirTree{
		root:                  cloneDirTreeNode(t.root),
		previousSampleWeight:  t.previousSampleWeight,
		built:                 t.built,
		scatteringMode:        t.scatteringMode,
		mix:                   t.mix,
		product:               t.product,
	}
	clone.currentSampleWeight.store(t.currentSampleWeight.load())
	clone.proxy = newRadianceProxy(clone)
	return clone
}

func cloneDirTreeNode(n *DirTreeNode) *DirTreeNode {
	c := &DirTreeNode{previous: n.previous}
	c.current.store(n.current.load())
	if !n.isLeaf() {
		for i, child := range n.children {
			c.children[i] = cloneDirTreeNode(child)
		}
	}
	return c
}

// SampleWeight returns the accumulated sample weight as of the last build.
func (t *DirTree) SampleWeight() float64 {
	return t.previousSampleWeight
}

// HalveSampleWeight halves the live accumulator, applied to both children
// of a spatial subdivision so the two halves' densities stay comparable.
func (t *DirTree) HalveSampleWeight() {
	t.currentSampleWeight.store(0.5 * t.currentSampleWeight.load())
}

// Record ingests one observation. Non-finite or negative radiance is
// silently dropped, per the error-handling design: storage invariants
// (radiance >= 0, finite) are never violated by a bad record.
func (t *DirTree) Record(direction core.Vec3, radiance, sampleWeight float64, filter DirectionalFilter) {
	if !isFiniteNonNegative(radiance) || !isFiniteNonNegative(sampleWeight) {
		return
	}
	t.currentSampleWeight.add(sampleWeight)

	p := cartesianToCylindrical(direction)
	switch filter {
	case DirectionalFilterBox:
		leafSize := t.leafSizeAt(p)
		half := leafSize / 2
		box := quadRegion{
			min: r2.Vec{X: math.Max(0, p.X-half), Y: math.Max(0, p.Y-half)},
			max: r2.Vec{X: math.Min(1, p.X+half), Y: math.Min(1, p.Y+half)},
		}
		t.root.addRadianceBox(box, quadRegion{min: r2.Vec{X: 0, Y: 0}, max: r2.Vec{X: 1, Y: 1}}, radiance)
	default:
		t.root.addRadianceNearest(p, radiance)
	}
}

// leafSizeAt returns the side length of the leaf square covering p, used
// to size the box filter's splat so it matches local quadtree resolution.
func (t *DirTree) leafSizeAt(p r2.Vec) float64 {
	node := t.root
	size := 1.0
	for !node.isLeaf() {
		node = node.chooseChild(&p)
		size /= 2
	}
	return size
}

func isFiniteNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// Build snapshots the live accumulators into the read-mostly previous
// fields that sampling and restructure consult for the rest of the
// iteration.
func (t *DirTree) Build() {
	t.previousSampleWeight = t.currentSampleWeight.load()
	t.root.buildRadianceSums()
}

// Restructure performs one adaptive refinement pass (subdivide leaves
// whose mass fraction exceeds threshold, collapse interior nodes that no
// longer clear it), reclassifies the scattering mode, and zeroes every
// live accumulator for the next iteration.
func (t *DirTree) Restructure(threshold float64) {
	total := t.root.previous
	var ratios []energyRatio
	t.root.restructure(total, threshold, 0, &ratios)
	t.classifyScatteringMode(ratios, total)
	t.root.resetCurrent()
	t.currentSampleWeight.store(0)
	t.proxy.invalidate()
	t.built = true
}

// classifyScatteringMode implements the glossy/diffuse sweep: walking
// leaves from smallest area upward, accumulating area and energy; if
// cumulative area stays below DTreeGlossyAreaFraction while cumulative
// energy already exceeds DTreeGlossyEnergyThreshold, the tree is glossy.
func (t *DirTree) classifyScatteringMode(ratios []energyRatio, total float64) {
	if total <= 0 || len(ratios) == 0 {
		t.scatteringMode = ScatteringModeDiffuse
		return
	}
	sortEnergyRatios(ratios)
	areaAccum, energyAccum := 0.0, 0.0
	mode := ScatteringModeDiffuse
	for _, r := range ratios {
		areaAccum += r.areaFraction
		energyAccum += r.energyFraction
		if areaAccum < DTreeGlossyAreaFraction && energyAccum > DTreeGlossyEnergyThreshold {
			mode = ScatteringModeGlossy
			break
		}
	}
	t.scatteringMode = mode
}

func sortEnergyRatios(ratios []energyRatio) {
	for i := 1; i < len(ratios); i++ {
		for j := i; j > 0 && ratios[j-1].areaFraction > ratios[j].areaFraction; j-- {
			ratios[j-1], ratios[j] = ratios[j], ratios[j-1]
		}
	}
}

// ScatteringMode returns the classification produced by the last restructure.
func (t *DirTree) ScatteringMode() ScatteringMode {
	return t.scatteringMode
}

// Built reports whether Build/Restructure has run at least once.
func (t *DirTree) Built() bool {
	return t.built
}

// Sample draws a world direction from the learned density, falling back
// to uniform-on-sphere when the tree carries no mass. s must be in
// [0,1)^2.
func (t *DirTree) Sample(s core.Vec2) (core.Vec3, float64) {
	if t.root.previous <= 0 {
		d := core.SampleOnUnitSphere(s)
		return d, invFourPi
	}
	pdf := 1.0 / t.root.previous
	p := t.root.sampleRecursive(r2.Vec{X: s.X, Y: s.Y}, &pdf)
	return cylindricalToCartesian(p), pdf * invFourPi
}

// Pdf evaluates the learned density at direction, with the same
// zero-mass uniform fallback as Sample.
func (t *DirTree) Pdf(direction core.Vec3) float64 {
	if t.root.previous <= 0 {
		return invFourPi
	}
	p := cartesianToCylindrical(direction)
	return t.root.pdfRecursive(p) / t.root.previous * invFourPi
}

// NodeCount returns the number of quadtree nodes (Invariant used by
// subdivision scenarios; a freshly subdivided single quadrant has 5).
func (t *DirTree) NodeCount() int {
	return t.root.nodeCount()
}

// MaxDepth returns the deepest leaf's depth, 1-based (a single-leaf tree
// has depth 1).
func (t *DirTree) MaxDepth() int {
	return t.root.maxDepth()
}

// RadianceSum returns the root's total learned mass as of the last build.
func (t *DirTree) RadianceSum() float64 {
	return t.root.previous
}

// Proxy returns the owned radiance proxy without building it; the proxy
// builds its map on its first Sample or BuildProduct call.
func (t *DirTree) Proxy() *RadianceProxy {
	return t.proxy
}

// QuadNodeDump is one flattened interior quadtree node's on-disk
// representation: its four children's masses and, for each, either 0
// (the child is a leaf) or the 1-based index of the child's own entry in
// the flattened interior-node list.
type QuadNodeDump struct {
	ChildSum   [4]float64
	ChildIndex [4]int
}

// DumpNodes flattens the quadtree's interior nodes in depth-first,
// quadrant order, assigning each a 1-based index as it's first visited.
// Mean is the root's mass divided by total sample weight, sampleWeight is
// the tree's previousSampleWeight, and nodeCount is the total node count
// (interior plus leaf) exactly as NodeCount reports - the layout the
// on-disk visualizer format needs.
func (t *DirTree) DumpNodes() (nodes []QuadNodeDump, mean float64, sampleWeight float64, nodeCount int) {
	var flatten func(n *DirTreeNode) int
	flatten = func(n *DirTreeNode) int {
		idx := len(nodes) + 1
		nodes = append(nodes, QuadNodeDump{})
		entry := QuadNodeDump{}
		for i, c := range n.children {
			entry.ChildSum[i] = c.previous
			if c.isLeaf() {
				entry.ChildIndex[i] = 0
			} else {
				entry.ChildIndex[i] = flatten(c)
			}
		}
		nodes[idx-1] = entry
		return idx
	}

	if !t.root.isLeaf() {
		flatten(t.root)
	}

	if t.previousSampleWeight > 0 {
		mean = t.root.previous / t.previousSampleWeight
	}
	return nodes, mean, t.previousSampleWeight, t.root.nodeCount()
}
