// Package metrics defines the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive tracks the current registry size.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sshmux_sessions_active",
		Help: "Number of sessions currently held in the registry.",
	})

	// SessionsCreated counts admissions into the registry.
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sshmux_sessions_created_total",
		Help: "Total sessions admitted into the registry.",
	})

	// SessionsTerminated counts terminal transitions by notification reason.
	SessionsTerminated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sshmux_sessions_terminated_total",
		Help: "Total sessions terminated, labeled by reason.",
	}, []string{"reason"})

	// PeersAttached tracks currently attached WebSocket peers across sessions.
	PeersAttached = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sshmux_peers_attached",
		Help: "Number of WebSocket peers currently attached.",
	})

	// NotificationsPublished counts bus publications.
	NotificationsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sshmux_notifications_published_total",
		Help: "Total notification summaries published.",
	})

	// ShellBytes counts bytes relayed between shells and peers by direction
	// (stdin: peer to shell, stdout: shell to peers).
	ShellBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sshmux_shell_bytes_total",
		Help: "Total bytes relayed, labeled by direction (stdin or stdout).",
	}, []string{"direction"})
)
