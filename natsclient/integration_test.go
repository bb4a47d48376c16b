//go:build integration

package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yhegen/thin-edge.io/metric"
)

func TestIntegration_ConnectToRealNATS(t *testing.T) {
	tc := NewTestClient(t, WithFastStartup())

	assert.True(t, tc.IsReady())
	assert.Equal(t, StatusConnected, tc.Client.Status())

	rtt, err := tc.Client.RTT()
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
	assert.NotNil(t, tc.GetNativeConnection())
}

func TestIntegration_PublishSubscribe(t *testing.T) {
	tc := NewTestClient(t, WithFastStartup())
	ctx := context.Background()

	received := make(chan *Msg, 1)
	sub, err := tc.Client.Subscribe(ctx, "dvs.>", func(_ context.Context, msg *Msg) {
		received <- msg
	})
	require.NoError(t, err)

	require.NoError(t, tc.Client.Publish(ctx, "dvs.host1.temperature.living_room", []byte("1617877800:32.5")))

	select {
	case msg := <-received:
		assert.Equal(t, "dvs.host1.temperature.living_room", msg.Subject)
		assert.Equal(t, "dvs/host1/temperature/living_room", msg.Topic())
		assert.Equal(t, []byte("1617877800:32.5"), msg.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("Message not received")
	}

	require.NoError(t, sub.Unsubscribe())
	// Close tolerates subscriptions that were already removed.
	assert.NoError(t, tc.Client.Close(ctx))
}

func TestIntegration_EnsureStreamAndPublish(t *testing.T) {
	tc := NewTestClient(t, WithIntegrationDefaults())
	ctx := context.Background()

	stream, err := tc.Client.EnsureStream(ctx, jetstreamConfig("TEDGE_ERRORS", "tedge.errors"))
	require.NoError(t, err)

	// Idempotent for an unchanged config.
	_, err = tc.Client.EnsureStream(ctx, jetstreamConfig("TEDGE_ERRORS", "tedge.errors"))
	require.NoError(t, err)

	require.NoError(t, tc.Client.PublishToStream(ctx, "tedge.errors", []byte(`{"error":"x"}`)))

	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.State.Msgs)

	got, err := tc.Client.GetStream(ctx, "TEDGE_ERRORS")
	require.NoError(t, err)
	assert.Equal(t, "TEDGE_ERRORS", got.CachedInfo().Config.Name)
}

func TestIntegration_JetStreamMetrics(t *testing.T) {
	tc := NewTestClient(t, WithIntegrationDefaults())
	ctx := context.Background()

	registry := metric.NewMetricsRegistry()
	client, err := NewClient(tc.URL, WithMetrics(registry), WithHealthInterval(0))
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))
	defer client.Close(ctx)

	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CoreMetrics().NATSConnected))

	_, err = client.EnsureStream(ctx, jetstreamConfig("METRICS_TEST", "metrics.test"))
	require.NoError(t, err)
	require.NoError(t, client.PublishToStream(ctx, "metrics.test", []byte("a")))
	require.NoError(t, client.PublishToStream(ctx, "metrics.test", []byte("b")))

	client.jsMetrics.updateStats(ctx)
	assert.Equal(t, 2.0, testutil.ToFloat64(client.jsMetrics.streamMessages.WithLabelValues("METRICS_TEST")))
	assert.Equal(t, 1.0, testutil.ToFloat64(client.jsMetrics.streamState.WithLabelValues("METRICS_TEST")))
}

func TestIntegration_PublishToStreamWithoutStream(t *testing.T) {
	tc := NewTestClient(t, WithIntegrationDefaults())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := tc.Client.PublishToStream(ctx, "no.stream.here", []byte("x"))
	require.Error(t, err)
	assert.Equal(t, int32(1), tc.Client.Failures())
}
