/*
Package metrics provides Prometheus metrics collection and exposition for
the agent.

The metrics package defines and registers all agent metrics using the
Prometheus client library, providing observability into instance lifecycle
counts, port pool exhaustion, supervisor reconciliation activity, and
request handling on both the local control socket and remote sessions.
Metrics are exposed via an HTTP endpoint for scraping by Prometheus
servers.

# Metrics Catalog

Instance Metrics:

sagent_instances_total{status}:
  - Type: Gauge
  - Description: Total instances by lifecycle status (created/running/stopped/exited/destroyed)
  - Labels: status
  - Example: sagent_instances_total{status="running"} 12

sagent_vacant_ports:
  - Type: Gauge
  - Description: Number of released ports available for reuse before the allocator must mint new ones
  - Example: sagent_vacant_ports 3

sagent_instance_create_duration_seconds:
  - Type: Histogram
  - Description: Time to create an instance (host user, contract directory, container)

sagent_instance_initiate_duration_seconds:
  - Type: Histogram
  - Description: Time to initiate an instance (config patch, filesystem services, container start)

sagent_instance_start_duration_seconds / sagent_instance_stop_duration_seconds / sagent_instance_destroy_duration_seconds:
  - Type: Histogram
  - Description: Time for the corresponding lifecycle transition

Supervisor Metrics:

sagent_supervisor_scans_total:
  - Type: Counter
  - Description: Total reconciliation scans completed

sagent_supervisor_restarts_total:
  - Type: Counter
  - Description: Total instances restarted after an unexpected exit

sagent_supervisor_exits_total:
  - Type: Counter
  - Description: Total running instances observed to have exited unexpectedly

Local Control Socket Metrics:

sagent_local_requests_total{type, outcome}:
  - Type: Counter
  - Description: Total requests handled over the local SOCK_SEQPACKET socket
  - Labels: type (create/initiate/start/stop/destroy/inspect/list), outcome (ok/error)

sagent_local_request_duration_seconds{type}:
  - Type: Histogram
  - Description: Request handling duration by message type

Remote Session Metrics:

sagent_remote_sessions_active:
  - Type: Gauge
  - Description: Number of remote sessions currently in the active state

sagent_remote_requests_total{type, outcome}:
  - Type: Counter
  - Description: Total requests handled over remote (hpws-carried) sessions

sagent_remote_inbound_dropped_total:
  - Type: Counter
  - Description: Total inbound remote messages dropped because a session's bounded inbound queue was full

# Usage

	import "github.com/evernode/sashimono-agent/pkg/metrics"

	metrics.InstancesTotal.WithLabelValues("running").Set(12)
	metrics.SupervisorRestartsTotal.Inc()

	timer := metrics.NewTimer()
	// ... create instance ...
	timer.ObserveDuration(metrics.InstanceCreateDuration)

	http.Handle("/metrics", metrics.Handler())

# Collector

Collector polls a Lister (the instance store) on an interval and refreshes
the point-in-time gauges (sagent_instances_total, sagent_vacant_ports).
The counters, histograms and sagent_remote_sessions_active are not
updated by Collector, and no other package of the agent updates them
either: they are registered and exported, and stay at zero.

# Health and Readiness

HealthHandler, ReadyHandler, and LivenessHandler expose /health, /ready,
and /live endpoints respectively. Readiness additionally requires the
"store", "containers", and "localsocket" components to be registered and
healthy via RegisterComponent.
*/
package metrics
