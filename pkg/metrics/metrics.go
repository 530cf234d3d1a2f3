package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	SliceLabel = "slice"
	KindLabel  = "kind"
	Outcome    = "outcome"
	Sat        = "sat"
	Unsat      = "unsat"
	Cancelled  = "cancelled"
	Failed     = "failed"
)

// To add new metrics:
// 1. Register new metrics in Register() below.
// 2. Add appropriate metric updates where the encoder or solver runs.
var (
	sliceCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cpverify_slice_count",
			Help: "Number of slices in the current encoding, including next-hop slices",
		},
	)

	encodingSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cpverify_encoding_size",
			Help: "Size of the current encoding by kind: variables, gates, hard and soft assertions",
		},
		[]string{KindLabel},
	)

	sliceBuildSummary = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "cpverify_slice_build_duration_seconds",
			Help:       "The duration of building the constraints of one slice",
			Objectives: map[float64]float64{0.95: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{SliceLabel},
	)

	solveSummary = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "cpverify_solve_duration_seconds",
			Help:       "The duration of a solver run",
			Objectives: map[float64]float64{0.95: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{Outcome},
	)

	// exported since it is updated outside this package
	RepairEditCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cpverify_repair_edits_total",
			Help: "Monotonic count of configuration edits suggested by repair",
		},
		[]string{KindLabel},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. It is safe to
// call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(sliceCount)
		prometheus.MustRegister(encodingSize)
		prometheus.MustRegister(sliceBuildSummary)
		prometheus.MustRegister(solveSummary)
		prometheus.MustRegister(RepairEditCount)
	})
}

func SetSliceCount(n int) {
	sliceCount.Set(float64(n))
}

// EmitEncodingSize records the size of an encoding.
func EmitEncodingSize(variables, gates, hard, soft int) {
	encodingSize.WithLabelValues("variables").Set(float64(variables))
	encodingSize.WithLabelValues("gates").Set(float64(gates))
	encodingSize.WithLabelValues("hard").Set(float64(hard))
	encodingSize.WithLabelValues("soft").Set(float64(soft))
}

func RegisterSliceBuild(slice string, duration time.Duration) {
	sliceBuildSummary.WithLabelValues(slice).Observe(duration.Seconds())
}

func RegisterSolve(outcome string, duration time.Duration) {
	solveSummary.WithLabelValues(outcome).Observe(duration.Seconds())
}

func EmitRepairEdit(kind string) {
	RepairEditCount.WithLabelValues(kind).Inc()
}
