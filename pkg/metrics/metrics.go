package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	Registry *prometheus.Registry

	// Sync layer metrics
	SyncLoads      *prometheus.CounterVec
	SyncRetries    prometheus.Counter
	SyncLatency    prometheus.Histogram
	SyncSuperseded prometheus.Counter
	StorePatients  prometheus.Gauge

	// Attendance metrics
	Transitions *prometheus.CounterVec
	QueueSize   *prometheus.GaugeVec

	// Remote API metrics
	RemoteRequests *prometheus.CounterVec
	RemoteLatency  *prometheus.HistogramVec

	// Redis metrics
	BusRelayed *prometheus.CounterVec
}

// NewMetrics creates all application metrics on a private registry, so
// several instances can coexist in one process (tests, CLI subcommands).
func NewMetrics(namespace, subsystem string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		SyncLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_loads_total",
			Help:      "Total number of patient list loads by outcome",
		}, []string{"result"}),
		SyncRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_retry_attempts_total",
			Help:      "Total number of retry attempts for patient list loads",
		}),
		SyncLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_load_duration_seconds",
			Help:      "Time spent loading the patient list, retries included",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		SyncSuperseded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_superseded_total",
			Help:      "Total number of loads cancelled by a newer load",
		}),
		StorePatients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "store_patients",
			Help:      "Current number of patients in the local store",
		}),

		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transitions_total",
			Help:      "Total number of attendance transitions by target status and outcome",
		}, []string{"to", "result"}),
		QueueSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_size",
			Help:      "Current number of patients waiting per desk",
		}, []string{"desk"}),

		RemoteRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "remote_requests_total",
			Help:      "Total number of backend API requests",
		}, []string{"method", "route", "status"}),
		RemoteLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "remote_request_duration_seconds",
			Help:      "Duration of backend API requests",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route"}),

		BusRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bus_signals_total",
			Help:      "Total number of patientsChanged signals by direction",
		}, []string{"direction"}),
	}
}
