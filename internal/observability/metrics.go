package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "weather_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for an ingestion run.
type Metrics struct {
	MembersProcessed *prometheus.CounterVec // labels: status={ok,skipped,failed}
	MemberFailures   *prometheus.CounterVec // labels: reason
	RowsParsed       prometheus.Counter
	RowsRejected     *prometheus.CounterVec // labels: reason
	Observations     prometheus.Counter
	Duplicates       prometheus.Counter
	PipelineRunning  prometheus.Gauge

	MemberDuration prometheus.Histogram
	RunDuration    prometheus.Gauge

	// Sink metrics.
	SinkWrites   *prometheus.CounterVec   // labels: sink={csv,parquet,sqlite,kafka,s3}, outcome={success,error}
	SinkDuration *prometheus.HistogramVec // labels: sink

	ArchiveFetches *prometheus.CounterVec // labels: outcome={cached,downloaded,error}
}

func newMetrics() *Metrics {
	return &Metrics{
		MembersProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "members_processed_total",
			Help:      "Archive members processed by outcome status.",
		}, []string{"status"}),
		MemberFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "member_failures_total",
			Help:      "Archive members that failed, by reason.",
		}, []string{"reason"}),
		RowsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_parsed_total",
			Help:      "Data rows read from station files.",
		}),
		RowsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_rejected_total",
			Help:      "Data rows rejected by the parser or normalizer, by reason.",
		}, []string{"reason"}),
		Observations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_consolidated_total",
			Help:      "Observations in consolidated datasets.",
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_observations_total",
			Help:      "Rows dropped because their (station, timestamp) was already present.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		MemberDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "member_processing_duration_seconds",
			Help:      "Time to sniff, parse and normalize one member.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the most recent run.",
		}),
		SinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_writes_total",
			Help:      "Dataset writes to output sinks by sink and outcome.",
		}, []string{"sink", "outcome"}),
		SinkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sink_write_duration_seconds",
			Help:      "Time to write a dataset to an output sink.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"sink"}),
		ArchiveFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_fetches_total",
			Help:      "Yearly archive acquisitions by outcome.",
		}, []string{"outcome"}),
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.MembersProcessed,
		m.MemberFailures,
		m.RowsParsed,
		m.RowsRejected,
		m.Observations,
		m.Duplicates,
		m.PipelineRunning,
		m.MemberDuration,
		m.RunDuration,
		m.SinkWrites,
		m.SinkDuration,
		m.ArchiveFetches,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
