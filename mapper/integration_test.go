//go:build integration

package mapper

import (
	"context"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yhegen/thin-edge.io/natsclient"
)

func TestIntegration_MapperRoundTrip(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithFastStartup())
	ctx := context.Background()

	m := newTestMapper(t, DefaultConfig(), tc.Client)
	require.NoError(t, m.Start(ctx))
	defer func() { _ = m.Stop(5 * time.Second) }()

	out := make(chan *natsclient.Msg, 1)
	sub, err := tc.Client.Subscribe(ctx, "tedge.measurements", func(_ context.Context, msg *natsclient.Msg) {
		out <- msg
	})
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	require.NoError(t, tc.Client.Publish(ctx,
		natsclient.TopicToSubject("dvs/host1/temperature/living_room"),
		[]byte("1617877800:32.5")))

	select {
	case msg := <-out:
		assert.JSONEq(t,
			`{"temperature":{"living_room":32.5},"time":"2021-04-08T10:30:00Z"}`,
			string(msg.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("converted message not received")
	}
}

func TestIntegration_ErrorReportsToStream(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithIntegrationDefaults())
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.ErrorStream = "TEDGE_ERRORS"
	m := newTestMapper(t, cfg, tc.Client)
	require.NoError(t, m.Start(ctx))
	defer func() { _ = m.Stop(5 * time.Second) }()

	require.NoError(t, tc.Client.Publish(ctx, "dvs.host1.temperature", []byte("1617877800:32.5")))

	stream, err := tc.Client.GetStream(ctx, "TEDGE_ERRORS")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		info, err := stream.Info(ctx)
		return err == nil && info.State.Msgs == 1
	}, 5*time.Second, 50*time.Millisecond)

	raw, err := stream.GetLastMsgForSubject(ctx, "tedge.errors")
	require.NoError(t, err)

	var report map[string]string
	require.NoError(t, gojson.Unmarshal(raw.Data, &report))
	assert.Equal(t, "dvs/host1/temperature", report["topic"])
	assert.Equal(t, int64(1), m.Stats().Rejected)
}
