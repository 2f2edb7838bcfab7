package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	serverReady = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "serverlaunch",
		Name:      "server_ready",
		Help:      "Readiness state of the supervised server (1=ready, 0=not ready).",
	}, []string{"server"})

	serverStarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "serverlaunch",
		Name:      "server_starts_total",
		Help:      "Total number of server start attempts, labelled by outcome.",
	}, []string{"server", "outcome"})

	serverRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "serverlaunch",
		Name:      "server_retries_total",
		Help:      "Total number of user-initiated retries.",
	}, []string{"server"})

	readinessFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "serverlaunch",
		Name:      "readiness_failures_total",
		Help:      "Readiness checks that resolved to not ready, labelled by reason.",
	}, []string{"server", "reason"})

	probeLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "serverlaunch",
		Name:      "probe_latency_seconds",
		Help:      "Latency of readiness probe attempts in seconds.",
	}, []string{"server"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "serverlaunch",
		Name:      "build_info",
		Help:      "Build metadata for the running serverlaunch binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(serverReady, serverStarts, serverRetries, readinessFailures, probeLatency, buildInfo)
}

// Registry returns the Prometheus registry containing all serverlaunch metrics.
func Registry() *prometheus.Registry {
	return registry
}

// SetServerReady records the readiness state for the provided server.
func SetServerReady(server string, ready bool) {
	if server == "" {
		return
	}
	value := 0.0
	if ready {
		value = 1.0
	}
	serverReady.WithLabelValues(server).Set(value)
}

// IncrementStart counts a start attempt. Outcome is "spawned" or "spawn_failed".
func IncrementStart(server, outcome string) {
	if server == "" {
		return
	}
	serverStarts.WithLabelValues(server, outcome).Inc()
}

// IncrementRetry counts a user-initiated retry.
func IncrementRetry(server string) {
	if server == "" {
		return
	}
	serverRetries.WithLabelValues(server).Inc()
}

// IncrementReadinessFailure counts a readiness check that resolved to not ready.
func IncrementReadinessFailure(server, reason string) {
	if server == "" {
		return
	}
	readinessFailures.WithLabelValues(server, reason).Inc()
}

// ObserveProbeLatency records the latency of a readiness probe attempt.
func ObserveProbeLatency(server string, d time.Duration) {
	label := server
	if label == "" {
		label = "unknown"
	}
	probeLatency.WithLabelValues(label).Observe(d.Seconds())
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}

// Version returns the main module version recorded in the binary, or "devel".
func Version() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "devel"
}

// ResetServer clears all series for a server.
func ResetServer(server string) {
	if server == "" {
		return
	}
	serverReady.DeleteLabelValues(server)
	serverRetries.DeleteLabelValues(server)
	probeLatency.DeleteLabelValues(server)
	serverStarts.DeletePartialMatch(prometheus.Labels{"server": server})
	readinessFailures.DeletePartialMatch(prometheus.Labels{"server": server})
}
