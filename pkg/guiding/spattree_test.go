package guiding

import (
	"testing"

	"go-sdguide/pkg/core"
	"github.com/stretchr/testify/require"
)

func testBounds() core.AABB {
	return core.AABB{Min: core.NewVec3(-1, -2, -3), Max: core.NewVec3(1, 2, 3)}
}

func TestNewSpatTreeGrowsToCube(t *testing.T) {
	tree := NewSpatTree(testBounds(), DefaultConfig())
	size := tree.Bounds().Size()
	require.InDelta(t, size.X, size.Y, 1e-9)
	require.InDelta(t, size.Y, size.Z, 1e-9)
	require.GreaterOrEqual(t, size.X, 6.0)
}

func TestSpatTreeGetDTreeReturnsSingleLeafInitially(t *testing.T) {
	tree := NewSpatTree(testBounds(), DefaultConfig())
	dTree, voxelSize := tree.GetDTree(core.NewVec3(0, 0, 0))
	require.NotNil(t, dTree)
	require.Greater(t, voxelSize, 0.0)
	require.Equal(t, 1, tree.root.nodeCount())
}

func TestSpatTreeRecordNearestFilter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpatialFilter = SpatialFilterNearest
	tree := NewSpatTree(testBounds(), cfg)

	tree.Record(core.NewVec3(0, 0, 0), core.NewVec3(0, 0, 1), 1.0, 1.0, nil)

	dTree, _ := tree.GetDTree(core.NewVec3(0, 0, 0))
	dTree.Build()
	require.Greater(t, dTree.RadianceSum(), 0.0)
}

func TestSpatTreeRecordBoxFilterSplatsAcrossLeaves(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpatialFilter = SpatialFilterBox
	tree := NewSpatTree(testBounds(), cfg)

	// Subdivide manually so the box splat has more than one leaf to
	// potentially spread across.
	tree.root.subdivide()

	tree.Record(core.NewVec3(0, 0, 0), core.NewVec3(0, 0, 1), 1.0, 1.0, nil)

	total := 0.0
	for _, leaf := range tree.Leaves() {
		leaf.DirTree.Build()
		total += leaf.DirTree.RadianceSum()
	}
	require.Greater(t, total, 0.0)
}

func TestSpatTreeSubdivideRequiredCascades(t *testing.T) {
	tree := NewSpatTree(testBounds(), DefaultConfig())
	tree.root.dirTree.currentSampleWeight.store(1_000_000)

	tree.root.subdivideRequired(100)
	require.Greater(t, tree.root.nodeCount(), 1)
}

func TestSpatTreeBuildGathersStatistics(t *testing.T) {
	tree := NewSpatTree(testBounds(), DefaultConfig())
	tree.Record(core.NewVec3(0, 0, 0), core.NewVec3(0, 0, 1), 1.0, 1.0, nil)

	stats := tree.Build(0)
	require.Equal(t, 1, stats.LeafCount)
	require.Equal(t, 1, stats.NodeCount)
	require.True(t, tree.Built())
	require.Equal(t, stats, tree.Statistics())
}

func TestSpatTreeFinalIterationFlag(t *testing.T) {
	tree := NewSpatTree(testBounds(), DefaultConfig())
	require.False(t, tree.IsFinalIteration())
	tree.StartFinalIteration()
	require.True(t, tree.IsFinalIteration())
}

func TestSpatTreeLeavesCoverWholeBounds(t *testing.T) {
	tree := NewSpatTree(testBounds(), DefaultConfig())
	tree.root.subdivide()

	leaves := tree.Leaves()
	require.Len(t, leaves, 2)
	union := leaves[0].Bounds.Union(leaves[1].Bounds)
	require.InDelta(t, tree.Bounds().Min.X, union.Min.X, 1e-9)
	require.InDelta(t, tree.Bounds().Max.X, union.Max.X, 1e-9)
}
