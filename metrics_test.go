package go_chat_relay

import (
    "testing"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/testutil"
    "github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
    reg := prometheus.NewRegistry()
    RegisterMetrics(reg)
    // Registering again must be harmless.
    RegisterMetrics(reg)

    s := newTestServer(t)
    alice := mustRegister(t, s, "alice")

    active := testutil.ToFloat64(metricChannelsActive)
    heartbeats := testutil.ToFloat64(metricHeartbeats)
    handshakes := testutil.ToFloat64(metricHandshakes.WithLabelValues("ok"))

    conn := newMockConn()
    connectAs(t, s, alice.ID, conn)
    require.Equal(t, active + 1, testutil.ToFloat64(metricChannelsActive))
    require.Equal(t, handshakes + 1, testutil.ToFloat64(metricHandshakes.WithLabelValues("ok")))

    require.NoError(t, conn.TestSend(""))
    _, err := conn.TestRecv(testWait)
    require.NoError(t, err)
    require.Equal(t, heartbeats + 1, testutil.ToFloat64(metricHeartbeats))

    families, err := reg.Gather()
    require.NoError(t, err)

    var names []string
    for _, f := range families {
        names = append(names, f.GetName())
    }
    require.Contains(t, names, "relay_registry_channels_active")
    require.Contains(t, names, "relay_directory_identities_registered_total")
}
