package watcher

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "watcher"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of checks, labeled by outcome.
	Checks metrics.Counter
	// Time to complete a check.
	CheckDuration metrics.Histogram
	// Number of slash calls that failed.
	SlashFailures metrics.Counter
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
		Checks: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "checks",
			Help:      "Number of checks, labeled by outcome.",
		}, append(labels, "outcome")).With(labelsAndValues...),
		CheckDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "check_duration_seconds",
			Help:      "Time to complete a check.",
			Buckets:   stdprometheus.ExponentialBuckets(0.005, 2, 10),
		}, labels).With(labelsAndValues...),
		SlashFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "slash_failures",
			Help:      "Number of slash calls that failed.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Checks:        discard.NewCounter(),
		CheckDuration: discard.NewHistogram(),
		SlashFailures: discard.NewCounter(),
	}
}
