package guiding

import (
	"math"

	"go-sdguide/pkg/core"
)

// SpatTreeNode is one node of the spatial binary tree: either a leaf
// owning exactly one DirTree, or an interior node owning exactly two
// children split along axis and rotating to (axis+1)%3 for its children,
// matching the reference's alternating kd-tree-style subdivision.
type SpatTreeNode struct {
	axis     int
	dirTree  *DirTree        // non-nil only on a leaf
	children [2]*SpatTreeNode // non-nil only on an interior node
}

func newSpatTreeLeaf(axis int) *SpatTreeNode {
	return &SpatTreeNode{axis: axis, dirTree: NewDirTree()}
}

func (n *SpatTreeNode) isLeaf() bool {
	return n.dirTree != nil
}

// subdivide splits a leaf into two children along its axis, handing each
// half a deep copy of the parent's DirTree with its sample weight halved
// so the two halves' densities stay comparable until they diverge.
func (n *SpatTreeNode) subdivide() {
	childAxis := (n.axis + 1) % 3
	left := n.dirTree.copyForSubdivide()
	left.HalveSampleWeight()
	right := n.dirTree.copyForSubdivide()
	right.HalveSampleWeight()

	n.children[0] = &SpatTreeNode{axis: childAxis, dirTree: left}
	n.children[1] = &SpatTreeNode{axis: childAxis, dirTree: right}
	n.dirTree = nil
}

// subdivideRequired recursively splits any leaf whose accumulated sample
// weight exceeds requiredSamples, then checks the new children in turn -
// a single call can cascade through several levels in one build.
func (n *SpatTreeNode) subdivideRequired(requiredSamples float64) {
	if n.isLeaf() {
		if n.dirTree.currentSampleWeight.load() > requiredSamples {
			n.subdivide()
			n.children[0].subdivideRequired(requiredSamples)
			n.children[1].subdivideRequired(requiredSamples)
		}
		return
	}
	n.children[0].subdivideRequired(requiredSamples)
	n.children[1].subdivideRequired(requiredSamples)
}

// buildAll snapshots every leaf's DirTree sequentially (phase 1 of
// SpatTree.Build); cheap enough that parallelizing it isn't worth the
// coordination cost.
func (n *SpatTreeNode) buildAll() {
	if n.isLeaf() {
		n.dirTree.Build()
		return
	}
	n.children[0].buildAll()
	n.children[1].buildAll()
}

// scheduleRestructure submits one restructure job per leaf to the queue;
// SpatTree.Build waits for the queue to drain before gathering statistics.
func (n *SpatTreeNode) scheduleRestructure(queue *restructureJobQueue, threshold float64) {
	if n.isLeaf() {
		dTree := n.dirTree
		queue.Submit(func() { dTree.Restructure(threshold) })
		return
	}
	n.children[0].scheduleRestructure(queue, threshold)
	n.children[1].scheduleRestructure(queue, threshold)
}

func (n *SpatTreeNode) nodeCount() int {
	if n.isLeaf() {
		return 1
	}
	return 1 + n.children[0].nodeCount() + n.children[1].nodeCount()
}

func (n *SpatTreeNode) maxDepth() int {
	if n.isLeaf() {
		return 1
	}
	l, r := n.children[0].maxDepth(), n.children[1].maxDepth()
	if l > r {
		return l + 1
	}
	return r + 1
}

func vec3Component(v core.Vec3, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

func withComponent(v core.Vec3, axis int, value float64) core.Vec3 {
	switch axis {
	case 0:
		v.X = value
	case 1:
		v.Y = value
	default:
		v.Z = value
	}
	return v
}

func aabbIntersect(a, b core.AABB) core.AABB {
	return core.AABB{
		Min: core.NewVec3(math.Max(a.Min.X, b.Min.X), math.Max(a.Min.Y, b.Min.Y), math.Max(a.Min.Z, b.Min.Z)),
		Max: core.NewVec3(math.Min(a.Max.X, b.Max.X), math.Min(a.Max.Y, b.Max.Y), math.Min(a.Max.Z, b.Max.Z)),
	}
}

func aabbVolume(a core.AABB) float64 {
	if !a.IsValid() {
		return 0
	}
	size := a.Size()
	if size.X <= 0 || size.Y <= 0 || size.Z <= 0 {
		return 0
	}
	return size.X * size.Y * size.Z
}

// SpatTreeStatistics summarizes one build, logged and exported to
// Prometheus at the end of SpatTree.Build.
type SpatTreeStatistics struct {
	Iteration      int
	LeafCount      int
	NodeCount      int
	MaxSpatialDepth int
	MaxDirectionalDepth int
	TotalSampleWeight float64
}

// SpatTree is the spatial half of the guiding cache: a cube-shaped binary
// tree over the scene bounds, each leaf owning a DirTree. GetDTree maps a
// shading point to its leaf's DirTree; Record splats one observation into
// the hierarchy per the configured spatial filter; Build runs one
// sequential-then-parallel refinement pass per rendering iteration.
type SpatTree struct {
	root   *SpatTreeNode
	bounds core.AABB
	cfg    Config

	built          bool
	finalIteration bool
	iteration      int

	lastStats SpatTreeStatistics
}

// NewSpatTree grows sceneBounds into a cube (the reference pads the
// bounding box so every spatial split halves a true cube, keeping the
// cylindrical parameterization's density comparable across leaves) and
// seeds a single-leaf tree.
func NewSpatTree(sceneBounds core.AABB, cfg Config) *SpatTree {
	size := sceneBounds.Size()
	longest := math.Max(size.X, math.Max(size.Y, size.Z))
	center := sceneBounds.Center()
	half := core.NewVec3(longest/2, longest/2, longest/2)
	cube := core.AABB{Min: center.Subtract(half), Max: center.Add(half)}

	return &SpatTree{
		root:   newSpatTreeLeaf(0),
		bounds: cube,
		cfg:    cfg,
	}
}

// GetDTree walks down from the root choosing the half containing point at
// each axis-aligned split, returning the covering leaf's DirTree and the
// longest side of its bounding box (used to size stochastic/box filter
// splats).
func (t *SpatTree) GetDTree(point core.Vec3) (*DirTree, float64) {
	node := t.root
	box := t.bounds
	for !node.isLeaf() {
		axis := node.axis
		mid := (vec3Component(box.Min, axis) + vec3Component(box.Max, axis)) / 2
		if vec3Component(point, axis) < mid {
			box = core.AABB{Min: box.Min, Max: withComponent(box.Max, axis, mid)}
			node = node.children[0]
		} else {
			box = core.AABB{Min: withComponent(box.Min, axis, mid), Max: box.Max}
			node = node.children[1]
		}
	}
	size := box.Size()
	voxelSize := math.Max(size.X, math.Max(size.Y, size.Z))
	return node.dirTree, voxelSize
}

// Record ingests one path-vertex observation at a world point, dispatching
// to the spatial filter configured for this tree.
func (t *SpatTree) Record(point core.Vec3, direction core.Vec3, radiance, sampleWeight float64, rng core.Sampler) {
	switch t.cfg.SpatialFilter {
	case SpatialFilterStochastic:
		_, voxelSize := t.GetDTree(point)
		jitter := rng.Get3D()
		jittered := core.NewVec3(
			point.X+(jitter.X-0.5)*voxelSize,
			point.Y+(jitter.Y-0.5)*voxelSize,
			point.Z+(jitter.Z-0.5)*voxelSize,
		)
		jittered = t.clampToBounds(jittered)
		dTree, _ := t.GetDTree(jittered)
		dTree.Record(direction, radiance, sampleWeight, t.cfg.DirectionalFilter)
	case SpatialFilterBox:
		_, voxelSize := t.GetDTree(point)
		if voxelSize <= 0 {
			return
		}
		half := voxelSize / 2
		splatBox := core.AABB{
			Min: core.NewVec3(point.X-half, point.Y-half, point.Z-half),
			Max: core.NewVec3(point.X+half, point.Y+half, point.Z+half),
		}
		density := sampleWeight / (voxelSize * voxelSize * voxelSize)
		t.recordBox(t.root, t.bounds, splatBox, direction, radiance, density)
	default:
		dTree, _ := t.GetDTree(point)
		dTree.Record(direction, radiance, sampleWeight, t.cfg.DirectionalFilter)
	}
}

func (t *SpatTree) clampToBounds(p core.Vec3) core.Vec3 {
	return core.NewVec3(
		math.Min(math.Max(p.X, t.bounds.Min.X), t.bounds.Max.X),
		math.Min(math.Max(p.Y, t.bounds.Min.Y), t.bounds.Max.Y),
		math.Min(math.Max(p.Z, t.bounds.Min.Z), t.bounds.Max.Z),
	)
}

func (t *SpatTree) recordBox(node *SpatTreeNode, box, splatBox core.AABB, direction core.Vec3, radiance, density float64) {
	intersection := aabbIntersect(box, splatBox)
	volume := aabbVolume(intersection)
	if volume <= 0 {
		return
	}
	if node.isLeaf() {
		node.dirTree.Record(direction, radiance, density*volume, t.cfg.DirectionalFilter)
		return
	}
	axis := node.axis
	mid := (vec3Component(box.Min, axis) + vec3Component(box.Max, axis)) / 2
	leftBox := core.AABB{Min: box.Min, Max: withComponent(box.Max, axis, mid)}
	rightBox := core.AABB{Min: withComponent(box.Min, axis, mid), Max: box.Max}
	t.recordBox(node.children[0], leftBox, splatBox, direction, radiance, density)
	t.recordBox(node.children[1], rightBox, splatBox, direction, radiance, density)
}

// Build runs one full refinement pass: sequentially snapshot every leaf's
// DirTree, subdivide spatial leaves whose sample weight has outgrown the
// iteration's threshold, then restructure every leaf's DirTree in
// parallel through a job queue before gathering statistics.
func (t *SpatTree) Build(iteration int) SpatTreeStatistics {
	t.iteration = iteration
	t.root.buildAll()

	requiredSamples := SpatialSubdivisionThreshold * math.Pow(2, float64(iteration)/2)
	t.root.subdivideRequired(requiredSamples)

	queue := newRestructureJobQueue(0)
	t.root.scheduleRestructure(queue, DTreeThreshold)
	queue.Wait()

	t.built = true
	t.lastStats = t.gatherStatistics()
	logSpatTreeStatistics(t.lastStats)
	recordSpatTreeMetrics(t.lastStats)
	return t.lastStats
}

func (t *SpatTree) gatherStatistics() SpatTreeStatistics {
	stats := SpatTreeStatistics{
		Iteration:           t.iteration,
		NodeCount:           t.root.nodeCount(),
		MaxSpatialDepth:     t.root.maxDepth(),
		MaxDirectionalDepth: 0,
	}
	t.walkLeaves(t.root, &stats)
	return stats
}

func (t *SpatTree) walkLeaves(node *SpatTreeNode, stats *SpatTreeStatistics) {
	if node.isLeaf() {
		stats.LeafCount++
		stats.TotalSampleWeight += node.dirTree.SampleWeight()
		if d := node.dirTree.MaxDepth(); d > stats.MaxDirectionalDepth {
			stats.MaxDirectionalDepth = d
		}
		return
	}
	t.walkLeaves(node.children[0], stats)
	t.walkLeaves(node.children[1], stats)
}

// StartFinalIteration marks this tree as having entered its last
// refinement pass. The flag is reported by IsFinalIteration only; Build
// does not read it and keeps subdividing and restructuring.
func (t *SpatTree) StartFinalIteration() {
	t.finalIteration = true
}

// IsFinalIteration reports whether StartFinalIteration has been called.
func (t *SpatTree) IsFinalIteration() bool {
	return t.finalIteration
}

// Built reports whether Build has run at least once.
func (t *SpatTree) Built() bool {
	return t.built
}

// Bounds returns the cube-shaped scene bounds this tree subdivides.
func (t *SpatTree) Bounds() core.AABB {
	return t.bounds
}

// Statistics returns the snapshot gathered by the most recent Build.
func (t *SpatTree) Statistics() SpatTreeStatistics {
	return t.lastStats
}

// Leaves returns every leaf's bounding box and DirTree in depth-first
// order, the shape the on-disk dump and debugging tools need.
func (t *SpatTree) Leaves() []SpatTreeLeaf {
	var leaves []SpatTreeLeaf
	t.collectLeaves(t.root, t.bounds, &leaves)
	return leaves
}

// SpatTreeLeaf pairs a leaf's world-space bounding box with its DirTree.
type SpatTreeLeaf struct {
	Bounds  core.AABB
	DirTree *DirTree
}

func (t *SpatTree) collectLeaves(node *SpatTreeNode, box core.AABB, out *[]SpatTreeLeaf) {
	if node.isLeaf() {
		*out = append(*out, SpatTreeLeaf{Bounds: box, DirTree: node.dirTree})
		return
	}
	axis := node.axis
	mid := (vec3Component(box.Min, axis) + vec3Component(box.Max, axis)) / 2
	leftBox := core.AABB{Min: box.Min, Max: withComponent(box.Max, axis, mid)}
	rightBox := core.AABB{Min: withComponent(box.Min, axis, mid), Max: box.Max}
	t.collectLeaves(node.children[0], leftBox, out)
	t.collectLeaves(node.children[1], rightBox, out)
}
