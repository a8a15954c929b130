package driver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("cpgraph.driver")

var (
	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cpgraph_driver_operation_duration_seconds",
		Help:    "Duration of storage driver operations",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"backend", "op"})

	bulkChunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpgraph_driver_bulk_chunks_total",
		Help: "Chunks written by bulk transactions",
	}, []string{"backend", "kind"})

	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpgraph_driver_mutations_total",
		Help: "Mutations applied to the backend after filtering",
	}, []string{"backend", "kind"})
)

// observe records the duration of op since start.
func observe(backend, op string, start time.Time) {
	operationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}
