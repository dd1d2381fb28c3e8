package light

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "light"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of queries, labeled by outcome.
	Queries metrics.Counter
	// Time from request to decision, alert window included.
	QueryDuration metrics.Histogram
	// Providers left out of a round, labeled by reason.
	ExcludedProviders metrics.Counter
	// Rounds aborted because providers disagreed.
	InconsistentQuorums metrics.Counter
	// Alerts received from watchers.
	FraudAlerts metrics.Counter
	// Number of successful bootstraps.
	Bootstraps metrics.Counter
	// Block number of the trusted head.
	TrustedHeight metrics.Gauge
	// Number of eligible providers in the directory.
	DirectorySize metrics.Gauge
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
		Queries: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "queries",
			Help:      "Number of queries, labeled by outcome.",
		}, append(labels, "outcome")).With(labelsAndValues...),
		QueryDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "query_duration_seconds",
			Help:      "Time from request to decision, alert window included.",
			Buckets:   stdprometheus.ExponentialBuckets(0.05, 2, 10),
		}, labels).With(labelsAndValues...),
		ExcludedProviders: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "excluded_providers",
			Help:      "Providers left out of a round, labeled by reason.",
		}, append(labels, "reason")).With(labelsAndValues...),
		InconsistentQuorums: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "inconsistent_quorums",
			Help:      "Rounds aborted because providers disagreed.",
		}, labels).With(labelsAndValues...),
		FraudAlerts: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "fraud_alerts",
			Help:      "Alerts received from watchers.",
		}, labels).With(labelsAndValues...),
		Bootstraps: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "bootstraps",
			Help:      "Number of successful bootstraps.",
		}, labels).With(labelsAndValues...),
		TrustedHeight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "trusted_height",
			Help:      "Block number of the trusted head.",
		}, labels).With(labelsAndValues...),
		DirectorySize: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "directory_size",
			Help:      "Number of eligible providers in the directory.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Queries:             discard.NewCounter(),
		QueryDuration:       discard.NewHistogram(),
		ExcludedProviders:   discard.NewCounter(),
		InconsistentQuorums: discard.NewCounter(),
		FraudAlerts:         discard.NewCounter(),
		Bootstraps:          discard.NewCounter(),
		TrustedHeight:       discard.NewGauge(),
		DirectorySize:       discard.NewGauge(),
	}
}
