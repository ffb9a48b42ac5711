package guiding

import (
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the guiding cache, following the same
// promauto package-level gauge/counter pattern the transport layer uses
// for its connection and message metrics.
var (
	spatTreeLeafCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "guiding",
		Subsystem: "spattree",
		Name:      "leaf_count",
		Help:      "Number of spatial leaves in the guiding cache after the most recent build.",
	})

	spatTreeNodeCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "guiding",
		Subsystem: "spattree",
		Name:      "node_count",
		Help:      "Number of spatial tree nodes after the most recent build.",
	})

	spatTreeMaxSpatialDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "guiding",
		Subsystem: "spattree",
		Name:      "max_spatial_depth",
		Help:      "Deepest spatial leaf depth after the most recent build.",
	})

	spatTreeMaxDirectionalDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "guiding",
		Subsystem: "spattree",
		Name:      "max_directional_depth",
		Help:      "Deepest directional quadtree depth across all leaves.",
	})

	spatTreeSampleWeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "guiding",
		Subsystem: "spattree",
		Name:      "total_sample_weight",
		Help:      "Sum of every leaf's accumulated sample weight after the most recent build.",
	})

	spatTreeIteration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "guiding",
		Subsystem: "spattree",
		Name:      "iteration",
		Help:      "The rendering iteration index of the most recent build.",
	})

	passControllerVariance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "guiding",
		Subsystem: "passcontroller",
		Name:      "estimated_variance",
		Help:      "Estimated per-pixel luminance variance, labeled raw or extrapolated to the full remaining budget.",
	}, []string{"channel"})

	passControllerPassesScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "guiding",
		Subsystem: "passcontroller",
		Name:      "passes_scheduled_total",
		Help:      "Total number of render passes the pass controller has scheduled.",
	})
)

func recordSpatTreeMetrics(stats SpatTreeStatistics) {
	spatTreeLeafCount.Set(float64(stats.LeafCount))
	spatTreeNodeCount.Set(float64(stats.NodeCount))
	spatTreeMaxSpatialDepth.Set(float64(stats.MaxSpatialDepth))
	spatTreeMaxDirectionalDepth.Set(float64(stats.MaxDirectionalDepth))
	spatTreeSampleWeight.Set(stats.TotalSampleWeight)
	spatTreeIteration.Set(float64(stats.Iteration))
}

func logSpatTreeStatistics(stats SpatTreeStatistics) {
	logs.WithTag("iteration", stats.Iteration).
		WithTag("leaves", stats.LeafCount).
		WithTag("nodes", stats.NodeCount).
		WithTag("maxSpatialDepth", stats.MaxSpatialDepth).
		WithTag("maxDirectionalDepth", stats.MaxDirectionalDepth).
		WithTag("totalSampleWeight", stats.TotalSampleWeight).
		Info("guiding cache rebuilt")
}
