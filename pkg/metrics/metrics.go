package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Instance lifecycle metrics
	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sagent_instances_total",
			Help: "Total number of instances by status",
		},
		[]string{"status"},
	)

	VacantPorts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sagent_vacant_ports",
			Help: "Number of released port pairs available for reuse",
		},
	)

	InstanceCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sagent_instance_create_duration_seconds",
			Help:    "Time taken to create an instance (host user, contract directory, container)",
			Buckets: prometheus.DefBuckets,
		},
	)

	InstanceInitiateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sagent_instance_initiate_duration_seconds",
			Help:    "Time taken to initiate an instance (config patch, filesystem services, container start)",
			Buckets: prometheus.DefBuckets,
		},
	)

	InstanceStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sagent_instance_start_duration_seconds",
			Help:    "Time taken to start a stopped or exited instance",
			Buckets: prometheus.DefBuckets,
		},
	)

	InstanceStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sagent_instance_stop_duration_seconds",
			Help:    "Time taken to stop a running instance",
			Buckets: prometheus.DefBuckets,
		},
	)

	InstanceDestroyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sagent_instance_destroy_duration_seconds",
			Help:    "Time taken to destroy an instance and release its resources",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Supervisor metrics
	SupervisorScansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sagent_supervisor_scans_total",
			Help: "Total number of supervisor reconciliation scans completed",
		},
	)

	SupervisorRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sagent_supervisor_restarts_total",
			Help: "Total number of instances restarted by the supervisor after an unexpected exit",
		},
	)

	SupervisorExitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sagent_supervisor_exits_total",
			Help: "Total number of running instances observed to have exited unexpectedly",
		},
	)

	// Local control socket metrics
	LocalRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sagent_local_requests_total",
			Help: "Total number of requests handled over the local control socket, by message type and outcome",
		},
		[]string{"type", "outcome"},
	)

	LocalRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sagent_local_request_duration_seconds",
			Help:    "Local control socket request handling duration in seconds, by message type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// Remote session metrics
	RemoteSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sagent_remote_sessions_active",
			Help: "Number of remote sessions currently in the active state",
		},
	)

	RemoteRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sagent_remote_requests_total",
			Help: "Total number of requests handled over remote sessions, by message type and outcome",
		},
		[]string{"type", "outcome"},
	)

	RemoteInboundDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sagent_remote_inbound_dropped_total",
			Help: "Total number of inbound remote messages dropped because the session's inbound queue was full",
		},
	)
)

func init() {
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(VacantPorts)
	prometheus.MustRegister(InstanceCreateDuration)
	prometheus.MustRegister(InstanceInitiateDuration)
	prometheus.MustRegister(InstanceStartDuration)
	prometheus.MustRegister(InstanceStopDuration)
	prometheus.MustRegister(InstanceDestroyDuration)
	prometheus.MustRegister(SupervisorScansTotal)
	prometheus.MustRegister(SupervisorRestartsTotal)
	prometheus.MustRegister(SupervisorExitsTotal)
	prometheus.MustRegister(LocalRequestsTotal)
	prometheus.MustRegister(LocalRequestDuration)
	prometheus.MustRegister(RemoteSessionsActive)
	prometheus.MustRegister(RemoteRequestsTotal)
	prometheus.MustRegister(RemoteInboundDroppedTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
