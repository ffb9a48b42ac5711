package guiding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogisticBounds(t *testing.T) {
	require.InDelta(t, 0.5, logistic(0), 1e-9)
	require.Greater(t, logistic(10), 0.99)
	require.Less(t, logistic(-10), 0.01)
}

func TestAdamScalarStepMovesTowardHigherPdfProposal(t *testing.T) {
	a := newAdamScalar()
	initialAlpha := a.alpha()
	require.InDelta(t, 0.5, initialAlpha, 1e-9)

	rec := DTreeRecord{
		BSDFPdf:      2.0,
		DirTreePdf:   0.5,
		WiPdf:        1.0,
		Product:      1.0,
		SampleWeight: 1.0,
	}

	for i := 0; i < 200; i++ {
		a.step(rec, 0.05)
	}

	require.Greater(t, a.alpha(), initialAlpha)
}

func TestAdamScalarStepSkipsDegenerateRecord(t *testing.T) {
	a := newAdamScalar()
	before := a.theta

	a.step(DTreeRecord{BSDFPdf: 0, DirTreePdf: 0, WiPdf: 1, Product: 1}, 0.05)
	require.Equal(t, before, a.theta)

	a.step(DTreeRecord{BSDFPdf: 1, DirTreePdf: 1, WiPdf: 0, Product: 1}, 0.05)
	require.Equal(t, before, a.theta)
}

func TestAdamVec2AlphaBetaConverges(t *testing.T) {
	a := newAdamVec2()
	alpha0, beta0 := a.alphaBeta()
	require.InDelta(t, 0.5, alpha0, 1e-9)
	require.InDelta(t, 0.5, beta0, 1e-9)

	rec := DTreeRecord{
		BSDFPdf:      0.1,
		DirTreePdf:   2.0,
		ProductPdf:   0.2,
		WiPdf:        1.0,
		Product:      1.0,
		SampleWeight: 1.0,
	}

	for i := 0; i < 200; i++ {
		a.step(rec, 0.05)
	}

	// beta is the product share of the non-BSDF remainder; the tree pdf
	// (2.0) beats the product pdf (0.2), so beta must fall.
	alpha1, beta1 := a.alphaBeta()
	require.Less(t, alpha1, alpha0)
	require.Less(t, beta1, beta0)
}

func TestClampFloat(t *testing.T) {
	require.Equal(t, 1.0, clampFloat(5, 0, 1))
	require.Equal(t, 0.0, clampFloat(-5, 0, 1))
	require.Equal(t, 0.5, clampFloat(0.5, 0, 1))
}

func TestThetaStaysWithinClamp(t *testing.T) {
	a := newAdamScalar()
	rec := DTreeRecord{BSDFPdf: 100, DirTreePdf: 0.001, WiPdf: 1, Product: 1, SampleWeight: 1}
	for i := 0; i < 5000; i++ {
		a.step(rec, 1.0)
	}
	require.LessOrEqual(t, math.Abs(a.theta), thetaClamp+1e-6)
}

func TestDirTreeBSDFSamplingFractionFixedMode(t *testing.T) {
	tree := NewDirTree()
	cfg := DefaultConfig()
	cfg.BSDFSamplingFractionMode = BSDFSamplingFractionFixed
	cfg.FixedBSDFSamplingFraction = 0.75

	require.Equal(t, 0.75, tree.BSDFSamplingFraction(cfg))

	alpha, beta := tree.BSDFSamplingFractionProduct(cfg)
	require.Equal(t, 0.33333, alpha)
	require.Equal(t, 0.5, beta)
}

func TestDirTreeBSDFSamplingFractionLearnModeStartsAtHalf(t *testing.T) {
	tree := NewDirTree()
	cfg := DefaultConfig()
	cfg.BSDFSamplingFractionMode = BSDFSamplingFractionLearn

	require.InDelta(t, 0.5, tree.BSDFSamplingFraction(cfg), 1e-9)
}

func TestDirTreeOptimizeSkipsWhenFixedMode(t *testing.T) {
	tree := NewDirTree()
	cfg := DefaultConfig()
	cfg.BSDFSamplingFractionMode = BSDFSamplingFractionFixed

	before := tree.mix.theta
	tree.Optimize(DTreeRecord{BSDFPdf: 2, DirTreePdf: 0.1, WiPdf: 1, Product: 1, SampleWeight: 1}, cfg)
	require.Equal(t, before, tree.mix.theta)
}

func TestDirTreeOptimizeSkipsDeltaAndZeroProduct(t *testing.T) {
	tree := NewDirTree()
	cfg := DefaultConfig()
	cfg.BSDFSamplingFractionMode = BSDFSamplingFractionLearn

	before := tree.mix.theta
	tree.Optimize(DTreeRecord{BSDFPdf: 2, DirTreePdf: 0.1, WiPdf: 1, Product: 1, SampleWeight: 1, IsDelta: true}, cfg)
	require.Equal(t, before, tree.mix.theta)

	tree.Optimize(DTreeRecord{BSDFPdf: 2, DirTreePdf: 0.1, WiPdf: 1, Product: 0, SampleWeight: 1}, cfg)
	require.Equal(t, before, tree.mix.theta)
}

func TestDirTreeOptimizeDispatchesByGuidingMethod(t *testing.T) {
	tree := NewDirTree()
	cfg := DefaultConfig()
	cfg.BSDFSamplingFractionMode = BSDFSamplingFractionLearn

	mixBefore := tree.mix.theta
	tree.Optimize(DTreeRecord{
		BSDFPdf: 2, DirTreePdf: 0.1, WiPdf: 1, Product: 1, SampleWeight: 1,
		GuidingMethod: GuidingMethodDirectional,
	}, cfg)
	require.NotEqual(t, mixBefore, tree.mix.theta)

	productBefore := tree.product.thetaX
	tree.Optimize(DTreeRecord{
		BSDFPdf: 0.1, DirTreePdf: 2, ProductPdf: 0.2, WiPdf: 1, Product: 1, SampleWeight: 1,
		GuidingMethod: GuidingMethodProduct,
	}, cfg)
	require.NotEqual(t, productBefore, tree.product.thetaX)
}
