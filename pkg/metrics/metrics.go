package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "interpreter"

// Metrics holds the Prometheus collectors of the runtime. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	processStarts     *prometheus.CounterVec
	processStops      *prometheus.CounterVec
	liveProcesses     *prometheus.GaugeVec
	interpretTotal    *prometheus.CounterVec
	interpretDuration *prometheus.HistogramVec
	schedulerJobs     *prometheus.CounterVec
	schedulerWaiting  *prometheus.GaugeVec
	schedulerRunning  *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		processStarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "process_starts_total",
				Help:      "Worker process start attempts by outcome",
			},
			[]string{"setting", "result"},
		),
		processStops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "process_stops_total",
				Help:      "Worker process terminations by reason",
			},
			[]string{"setting", "reason"},
		),
		liveProcesses: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "processes_running",
				Help:      "Worker processes currently running",
			},
			[]string{"setting"},
		),
		interpretTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interpret_total",
				Help:      "Interpret calls by result code",
			},
			[]string{"setting", "capability", "code"},
		),
		interpretDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "interpret_duration_seconds",
				Help:      "Interpret call latency including scheduler wait",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"setting", "capability"},
		),
		schedulerJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_jobs_total",
				Help:      "Scheduler jobs by final status",
			},
			[]string{"kind", "status"},
		),
		schedulerWaiting: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduler_jobs_waiting",
				Help:      "Jobs queued and not yet started",
			},
			[]string{"kind"},
		),
		schedulerRunning: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduler_jobs_running",
				Help:      "Jobs currently executing",
			},
			[]string{"kind"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.processStarts,
			m.processStops,
			m.liveProcesses,
			m.interpretTotal,
			m.interpretDuration,
			m.schedulerJobs,
			m.schedulerWaiting,
			m.schedulerRunning,
		)
	}
	return m
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ProcessStarted records a successful worker start
func (m *Metrics) ProcessStarted(setting string) {
	if m == nil {
		return
	}
	m.processStarts.WithLabelValues(setting, "ok").Inc()
	m.liveProcesses.WithLabelValues(setting).Inc()
}

// ProcessStartFailed records a failed worker start
func (m *Metrics) ProcessStartFailed(setting string) {
	if m == nil {
		return
	}
	m.processStarts.WithLabelValues(setting, "failed").Inc()
}

// ProcessStopped records a worker termination
func (m *Metrics) ProcessStopped(setting, reason string) {
	if m == nil {
		return
	}
	m.processStops.WithLabelValues(setting, reason).Inc()
	m.liveProcesses.WithLabelValues(setting).Dec()
}

// ObserveInterpret records one interpret call
func (m *Metrics) ObserveInterpret(setting, capability, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.interpretTotal.WithLabelValues(setting, capability, code).Inc()
	m.interpretDuration.WithLabelValues(setting, capability).Observe(d.Seconds())
}

// JobQueued records a job entering a scheduler queue
func (m *Metrics) JobQueued(kind string) {
	if m == nil {
		return
	}
	m.schedulerWaiting.WithLabelValues(kind).Inc()
}

// JobStarted records a job leaving the queue and starting
func (m *Metrics) JobStarted(kind string) {
	if m == nil {
		return
	}
	m.schedulerWaiting.WithLabelValues(kind).Dec()
	m.schedulerRunning.WithLabelValues(kind).Inc()
}

// JobFinished records a job that ran to completion with the given status
func (m *Metrics) JobFinished(kind, status string) {
	if m == nil {
		return
	}
	m.schedulerRunning.WithLabelValues(kind).Dec()
	m.schedulerJobs.WithLabelValues(kind, status).Inc()
}

// JobAborted records a queued job that never started
func (m *Metrics) JobAborted(kind string) {
	if m == nil {
		return
	}
	m.schedulerWaiting.WithLabelValues(kind).Dec()
	m.schedulerJobs.WithLabelValues(kind, "ABORTED").Inc()
}
