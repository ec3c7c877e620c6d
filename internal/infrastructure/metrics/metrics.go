package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "card_ingest"

// Metrics holds the migration pipeline collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	jobsStarted      *prometheus.CounterVec
	jobsFinished     *prometheus.CounterVec
	recordsProcessed *prometheus.CounterVec
	recordsFailed    *prometheus.CounterVec
	jobsRunning      prometheus.Gauge
	lockContended    prometheus.Counter
	lockReclaimed    prometheus.Counter
	validationFailed *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Total number of migration jobs started.",
		}, []string{"kind"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of migration jobs that reached a terminal status.",
		}, []string{"kind", "status"}),
		recordsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_processed_total",
			Help:      "Total number of source records processed.",
		}, []string{"kind"}),
		recordsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_failed_total",
			Help:      "Total number of source records that could not be written.",
		}, []string{"kind"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Number of migration jobs currently running.",
		}),
		lockContended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_lock_contended_total",
			Help:      "Total number of start requests rejected because an import was running.",
		}),
		lockReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_lock_stale_reclaims_total",
			Help:      "Total number of stale import locks removed.",
		}),
		validationFailed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "validation_failed_rows",
			Help:      "Failed rows per category in the last validation run.",
		}, []string{"category"}),
	}

	reg.MustRegister(
		m.jobsStarted,
		m.jobsFinished,
		m.recordsProcessed,
		m.recordsFailed,
		m.jobsRunning,
		m.lockContended,
		m.lockReclaimed,
		m.validationFailed,
	)
	return m
}

func (m *Metrics) JobStarted(kind string) {
	if m == nil {
		return
	}
	m.jobsStarted.WithLabelValues(kind).Inc()
	m.jobsRunning.Inc()
}

func (m *Metrics) JobFinished(kind, status string, processed, failed int64) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(kind, status).Inc()
	m.jobsRunning.Dec()
	m.recordsProcessed.WithLabelValues(kind).Add(float64(processed))
	m.recordsFailed.WithLabelValues(kind).Add(float64(failed))
}

func (m *Metrics) LockContended() {
	if m == nil {
		return
	}
	m.lockContended.Inc()
}

func (m *Metrics) StaleLockReclaimed() {
	if m == nil {
		return
	}
	m.lockReclaimed.Inc()
}

func (m *Metrics) ValidationFailures(category string, failed int64) {
	if m == nil {
		return
	}
	m.validationFailed.WithLabelValues(category).Set(float64(failed))
}
