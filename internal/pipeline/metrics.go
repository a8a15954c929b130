package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("cpgraph.pipeline")

var (
	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cpgraph_pipeline_phase_duration_seconds",
		Help:    "Duration of pipeline phases",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
	}, []string{"phase"})

	unitOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpgraph_pipeline_units_total",
		Help: "Program units by lowering outcome",
	}, []string{"phase", "outcome"})
)
