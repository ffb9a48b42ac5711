package guiding

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"go-sdguide/pkg/core"
	"gonum.org/v1/gonum/stat"
)

// combineImageEntry is one ring-buffer slot of a combine-mode iteration:
// the iteration's assembled image plus its inverse variance weight.
type combineImageEntry struct {
	image       [][]core.Vec3
	invVariance float64
}

// PassController drives the doubling-pass iteration schedule described in
// the renderer-facing API: it decides when to fold the remaining pass
// budget into a final iteration, when to rebuild the guiding cache
// between iterations, and (in combine mode) how to blend the per-iteration
// images into a single result weighted by their estimated variance.
type PassController struct {
	cfg  Config
	tree *SpatTree

	variance *varianceFramebuffer

	iter             int
	remainingPasses  int
	passesThisIter   int
	remainingAtStart int

	totalPassesRendered  int
	totalSamplesRendered int

	lastExtrapolatedVariance float64
	varianceIncreasing       bool
	finalIteration           bool

	ringBuffer []combineImageEntry
}

// NewPassController creates a controller for a render of width x height
// pixels with the given configuration and guiding cache, with a pass
// budget of cfg.MaxPasses.
func NewPassController(cfg Config, tree *SpatTree, width, height int) *PassController {
	return &PassController{
		cfg:                      cfg,
		tree:                     tree,
		variance:                 newVarianceFramebuffer(width, height),
		remainingPasses:          cfg.MaxPasses,
		lastExtrapolatedVariance: math.Inf(1),
	}
}

// AddVarianceSample records one rendered sample's luminance at (x, y),
// feeding the variance estimate OnPassEnd consults at iteration
// boundaries. Callers add a sample for every pixel rendered in a pass.
func (pc *PassController) AddVarianceSample(x, y int, luminance float64) {
	pc.variance.addSample(x, y, luminance)
}

// FinalIteration reports whether the pass controller has folded the
// remaining pass budget into the current iteration.
func (pc *PassController) FinalIteration() bool {
	return pc.finalIteration
}

// OnPassBegin is called before every pass and returns at once while the
// current iteration (one or more passes rendered against a fixed guiding
// cache snapshot) still has passes left. At an iteration start it decides how many passes this iteration gets, whether to fold the tail
// of the budget into a final iteration, and whether to rebuild the
// guiding cache before starting.
func (pc *PassController) OnPassBegin() {
	if pc.passesThisIter > 0 {
		return
	}

	passesThisIter := 1 << pc.iter
	if passesThisIter > pc.remainingPasses {
		passesThisIter = pc.remainingPasses
	}
	pc.remainingAtStart = pc.remainingPasses

	if pc.remainingPasses-passesThisIter < 2*passesThisIter {
		passesThisIter = pc.remainingPasses
		pc.finalIteration = true
		pc.tree.StartFinalIteration()
	}

	if !pc.varianceIncreasing && pc.iter > 0 {
		pc.variance.clear()
		pc.tree.Build(pc.iter)
	}

	pc.passesThisIter = passesThisIter
	pc.iter++

	passControllerPassesScheduled.Add(float64(passesThisIter))
}

// OnPassEnd runs once per rendered pass. It returns true when rendering is
// complete: either the pass budget is exhausted or aborted is set. On an
// iteration boundary it computes the extrapolated end-of-iteration
// variance, may mark the render as entering its final iteration in
// automatic mode, and in combine mode pushes this iteration's image onto
// the bounded combine ring buffer.
func (pc *PassController) OnPassEnd(currentImage [][]core.Vec3, aborted bool) bool {
	pc.totalPassesRendered++
	pc.totalSamplesRendered += pc.cfg.SamplesPerPass
	pc.remainingPasses--
	pc.passesThisIter--

	if pc.remainingPasses <= 0 || aborted {
		variance := pc.variance.average()
		passControllerVariance.WithLabelValues("raw").Set(variance)
		logs.WithTag("variance", variance).WithTag("aborted", aborted).Info("guided render finished")
		if pc.cfg.IterationProgression == IterationProgressionCombine {
			pc.pushCombine(currentImage, variance)
		}
		return true
	}

	if pc.passesThisIter == 0 {
		variance := pc.variance.average()
		extrapolated := pc.extrapolatedVariance(variance)

		passControllerVariance.WithLabelValues("raw").Set(variance)
		passControllerVariance.WithLabelValues("extrapolated").Set(extrapolated)

		logs.WithTag("iteration", pc.iter-1).
			WithTag("variance", variance).
			WithTag("extrapolatedVariance", extrapolated).
			Info("guided render iteration complete")

		increasing := extrapolated > pc.lastExtrapolatedVariance
		pc.lastExtrapolatedVariance = extrapolated
		pc.varianceIncreasing = increasing

		if pc.cfg.IterationProgression == IterationProgressionAutomatic &&
			pc.totalSamplesRendered > 256 && increasing {
			pc.finalIteration = true
			pc.tree.StartFinalIteration()
		}

		if pc.cfg.IterationProgression == IterationProgressionCombine {
			pc.pushCombine(currentImage, variance)
		}
	}

	return false
}

// extrapolatedVariance projects the just-finished iteration's variance
// forward to what it would be if the entire remaining budget (as of this
// iteration's start) had been spent entirely on this iteration's pass
// count, per the controller's extrapolation rule.
func (pc *PassController) extrapolatedVariance(currentVariance float64) float64 {
	completedThisIter := 1 << (pc.iter - 1)
	if completedThisIter > pc.remainingAtStart {
		completedThisIter = pc.remainingAtStart
	}
	if pc.remainingAtStart <= 0 {
		return currentVariance
	}
	return currentVariance * float64(completedThisIter) / float64(pc.remainingAtStart)
}

func (pc *PassController) pushCombine(image [][]core.Vec3, variance float64) {
	invVariance := 1.0
	if variance > 0 {
		invVariance = 1 / variance
	}
	pc.ringBuffer = append(pc.ringBuffer, combineImageEntry{image: image, invVariance: invVariance})
	if len(pc.ringBuffer) > ImageBufferCapacity {
		pc.ringBuffer = pc.ringBuffer[len(pc.ringBuffer)-ImageBufferCapacity:]
	}
}

// Combine blends every iteration's image in the ring buffer, weighting
// each by its inverse variance, using gonum's weighted mean so every
// channel of every pixel gets the same Σ xᵢwᵢ/Σwᵢ combination the spec
// describes for the whole framebuffer, not just one value.
func (pc *PassController) Combine(width, height int) [][]core.Vec3 {
	out := make([][]core.Vec3, height)
	for y := range out {
		out[y] = make([]core.Vec3, width)
	}
	if len(pc.ringBuffer) == 0 {
		return out
	}

	weights := make([]float64, len(pc.ringBuffer))
	for i, e := range pc.ringBuffer {
		weights[i] = e.invVariance
	}

	reds := make([]float64, len(pc.ringBuffer))
	greens := make([]float64, len(pc.ringBuffer))
	blues := make([]float64, len(pc.ringBuffer))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			for i, e := range pc.ringBuffer {
				c := e.image[y][x]
				reds[i], greens[i], blues[i] = c.X, c.Y, c.Z
			}
			out[y][x] = core.NewVec3(
				stat.Mean(reds, weights),
				stat.Mean(greens, weights),
				stat.Mean(blues, weights),
			)
		}
	}
	return out
}
