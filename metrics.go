package go_chat_relay

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    registerOnce sync.Once

    metricIdentitiesRegistered = prometheus.NewCounter(
        prometheus.CounterOpts {
            Namespace: "relay",
            Subsystem: "directory",
            Name: "identities_registered_total",
            Help: "Identities registered since the process started.",
        },
    )
    metricChannelsActive = prometheus.NewGauge(
        prometheus.GaugeOpts {
            Namespace: "relay",
            Subsystem: "registry",
            Name: "channels_active",
            Help: "Authenticated channels currently registered.",
        },
    )
    metricHandshakes = prometheus.NewCounterVec(
        prometheus.CounterOpts {
            Namespace: "relay",
            Subsystem: "handshake",
            Name: "total",
            Help: "Finished handshakes, by result.",
        },
        []string{"result"},
    )
    metricHeartbeats = prometheus.NewCounter(
        prometheus.CounterOpts {
            Namespace: "relay",
            Subsystem: "liveness",
            Name: "heartbeats_total",
            Help: "Heartbeats answered.",
        },
    )
    metricRoutes = prometheus.NewCounterVec(
        prometheus.CounterOpts {
            Namespace: "relay",
            Subsystem: "router",
            Name: "routes_total",
            Help: "Routed messages, by result.",
        },
        []string{"result"},
    )
    metricPushes = prometheus.NewCounterVec(
        prometheus.CounterOpts {
            Namespace: "relay",
            Subsystem: "router",
            Name: "pushes_total",
            Help: "Deliveries pushed to individual channels, by result.",
        },
        []string{"result"},
    )
)

// RegisterMetrics register the relay's collectors on `reg`. Only the
// first call has any effect.
func RegisterMetrics(reg prometheus.Registerer) {
    registerOnce.Do(func() {
        reg.MustRegister(metricIdentitiesRegistered, metricChannelsActive,
                metricHandshakes, metricHeartbeats, metricRoutes,
                metricPushes)
    })
}
