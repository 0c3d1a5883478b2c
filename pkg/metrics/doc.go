/*
Package metrics provides Prometheus metrics collection and exposition for
the coordinator.

Metrics are defined as package-level variables, registered once in init(),
and exposed over HTTP via Handler() for scraping. Counters, histograms and
most gauges are updated inline by the components that observe the event;
the daemon's metrics collector (pkg/daemon/metrics_collector.go) sets
ProjectsTotal from the project registry on a fixed interval.

# Usage

	http.Handle("/metrics", metrics.Handler())

	timer := metrics.NewTimer()
	task, err := sched.Select()
	timer.ObserveDuration(metrics.SchedulingLatency)

# Health

GetHealth/GetReadiness/HealthHandler/ReadyHandler/LivenessHandler track a
small set of named components ("store", "scheduler", "protocol") registered
via RegisterComponent. The daemon's health.check command and /healthz
endpoint are served by pkg/health, not by this registry.
*/
package metrics
