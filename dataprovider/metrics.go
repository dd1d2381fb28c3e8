package dataprovider

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "dataprovider"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of data requests, labeled by outcome.
	Requests metrics.Counter
	// Time to build and sign an attestation.
	RequestDuration metrics.Histogram
	// Size of the inclusion proofs served.
	ProofSizeBytes metrics.Histogram
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Requests: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "requests",
			Help:      "Number of data requests, labeled by outcome.",
		}, append(labels, "outcome")).With(labelsAndValues...),
		RequestDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "request_duration_seconds",
			Help:      "Time to build and sign an attestation.",
			Buckets:   stdprometheus.ExponentialBuckets(0.005, 2, 10),
		}, labels).With(labelsAndValues...),
		ProofSizeBytes: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "proof_size_bytes",
			Help:      "Size of the inclusion proofs served.",
			Buckets:   stdprometheus.ExponentialBuckets(256, 2, 10),
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Requests:        discard.NewCounter(),
		RequestDuration: discard.NewHistogram(),
		ProofSizeBytes:  discard.NewHistogram(),
	}
}
