package mapper

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yhegen/thin-edge.io/errors"
	"github.com/yhegen/thin-edge.io/metric"
	"github.com/yhegen/thin-edge.io/natsclient"
)

var testTime = time.Date(2021, 4, 8, 10, 30, 0, 0, time.UTC)

type fakeTransport struct {
	mu           sync.Mutex
	handler      natsclient.Handler
	subject      string
	published    []natsclient.Msg
	streamed     []natsclient.Msg
	streams      []jetstream.StreamConfig
	unsubscribed bool

	subscribeErr error
	publishErr   error
	streamErr    error
	ensureErr    error

	// blockPublish makes Publish wait for its context to end
	blockPublish bool
}

type fakeSubscription struct {
	t *fakeTransport
}

func (s fakeSubscription) Unsubscribe() error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	s.t.unsubscribed = true
	return nil
}

func (f *fakeTransport) Subscribe(_ context.Context, subject string, handler natsclient.Handler) (natsclient.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.subject = subject
	f.handler = handler
	return fakeSubscription{t: f}, nil
}

func (f *fakeTransport) Publish(ctx context.Context, subject string, data []byte) error {
	f.mu.Lock()
	block := f.blockPublish
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, natsclient.Msg{Subject: subject, Data: data})
	return nil
}

func (f *fakeTransport) PublishToStream(ctx context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.streamErr != nil {
		return f.streamErr
	}
	f.streamed = append(f.streamed, natsclient.Msg{Subject: subject, Data: data})
	return nil
}

func (f *fakeTransport) EnsureStream(_ context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams = append(f.streams, cfg)
	return nil, f.ensureErr
}

// deliver hands a message to the subscribed handler as the broker would
func (f *fakeTransport) deliver(subject, payload string) {
	f.deliverWithContext(context.Background(), subject, payload)
}

func (f *fakeTransport) deliverWithContext(ctx context.Context, subject, payload string) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	handler(ctx, &natsclient.Msg{Subject: subject, Data: []byte(payload)})
}

// allPublished returns core and stream publishes in order of kind
func (f *fakeTransport) allPublished() []natsclient.Msg {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]natsclient.Msg(nil), f.published...)
	return append(out, f.streamed...)
}

func (f *fakeTransport) publishedOn(subject string) []natsclient.Msg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []natsclient.Msg
	for _, msg := range f.published {
		if msg.Subject == subject {
			out = append(out, msg)
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMapper(t *testing.T, cfg Config, transport Transport, opts ...Option) *Mapper {
	t.Helper()
	opts = append([]Option{
		WithLogger(discardLogger()),
		WithClock(func() time.Time { return testTime }),
	}, opts...)
	m, err := New(cfg, transport, opts...)
	require.NoError(t, err)
	return m
}

func startTestMapper(t *testing.T, cfg Config, opts ...Option) (*Mapper, *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{}
	m := newTestMapper(t, cfg, transport, opts...)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop(time.Second) })
	return m, transport
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no input", func(c *Config) { c.InputSubject = "" }},
		{"no output", func(c *Config) { c.OutputSubject = "" }},
		{"no error subject", func(c *Config) { c.ErrorSubject = "" }},
		{"output loops to input", func(c *Config) { c.OutputSubject = c.InputSubject }},
		{"error equals input", func(c *Config) {
			c.InputSubject = "dvs.raw"
			c.ErrorSubject = "dvs.raw"
		}},
		{"full wildcard input", func(c *Config) { c.InputSubject = ">" }},
		{"input covers output", func(c *Config) { c.InputSubject = "tedge.>" }},
		{"input covers error subject", func(c *Config) {
			c.InputSubject = "tedge.*"
			c.OutputSubject = "c8y.measurements"
		}},
		{"wildcard error subject", func(c *Config) { c.ErrorSubject = "tedge.errors.>" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))

			_, err = New(cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestMapper_PublishedSubjectsNeverReachInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorSubject = "dvs_errors"

	m, transport := startTestMapper(t, cfg)
	transport.deliver("dvs.h.g.m", "1:1")
	transport.deliver("dvs.h.g", "1:2")

	// Feed everything the mapper published back as the broker would if
	// the subscription matched it.
	for _, msg := range transport.allPublished() {
		if natsclient.SubjectMatches(cfg.InputSubject, msg.Subject) {
			transport.deliver(msg.Subject, string(msg.Data))
		}
	}

	stats := m.Stats()
	assert.Equal(t, int64(2), stats.Received)
	assert.Equal(t, int64(1), stats.Converted)
	assert.Equal(t, int64(1), stats.Rejected)
}

func TestConvert(t *testing.T) {
	tests := []struct {
		name      string
		subject   string
		payload   string
		timestamp bool
		want      string
	}{
		{
			name:      "timestamped",
			subject:   "dvs.host1.temperature.living_room",
			payload:   "1617877800:32.5",
			timestamp: true,
			want:      `{"temperature":{"living_room":32.5},"time":"2021-04-08T10:30:00Z"}`,
		},
		{
			name:    "untimed",
			subject: "dvs.host1.temperature.living_room",
			payload: "1617877800:32.5",
			want:    `{"temperature":{"living_room":32.5}}`,
		},
		{
			name:    "nul terminated payload",
			subject: "dvs.host1.battery.voltage",
			payload: "1617877800:12\x00",
			want:    `{"battery":{"voltage":12}}`,
		},
		{
			name:    "bridged dot in group key",
			subject: "dvs.host1.env//sensor.temp",
			payload: "1617877800:-4.25",
			want:    `{"env.sensor":{"temp":-4.25}}`,
		},
		{
			name:    "scientific notation",
			subject: "dvs.host1.radiation.dose",
			payload: "1617877800:1.5e-3",
			want:    `{"radiation":{"dose":0.0015}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.DefaultTimestamp = tt.timestamp
			m := newTestMapper(t, cfg, nil)

			out, err := m.Convert(natsclient.Msg{Subject: tt.subject, Data: []byte(tt.payload)})
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
		})
	}
}

func TestConvert_Errors(t *testing.T) {
	tests := []struct {
		name     string
		subject  string
		payload  string
		wantKind string
	}{
		{"three segments", "dvs.host1.temperature", "1617877800:1", KindInvalidTopic},
		{"five segments", "dvs.host1.a.b.c", "1617877800:1", KindInvalidTopic},
		{"missing separator", "dvs.host1.a.b", "1617877800", KindInvalidPayload},
		{"bad value", "dvs.host1.a.b", "1617877800:warm", KindInvalidPayload},
		{"bad timestamp", "dvs.host1.a.b", "yesterday:1", KindInvalidPayload},
		{"overflowing value", "dvs.host1.a.b", "1617877800:1e400", KindSerialize},
	}

	m := newTestMapper(t, DefaultConfig(), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := m.Convert(natsclient.Msg{Subject: tt.subject, Data: []byte(tt.payload)})
			require.Error(t, err)
			assert.Nil(t, out)
			assert.Equal(t, tt.wantKind, ErrorKind(err))
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestErrorKind_Unknown(t *testing.T) {
	assert.Equal(t, KindInternal, ErrorKind(stderrors.New("boom")))
}

func TestMapper_PublishesConverted(t *testing.T) {
	m, transport := startTestMapper(t, DefaultConfig())
	assert.Equal(t, "dvs.>", transport.subject)

	transport.deliver("dvs.host1.temperature.living_room", "1617877800:32.5")

	out := transport.publishedOn("tedge.measurements")
	require.Len(t, out, 1)
	assert.JSONEq(t,
		`{"temperature":{"living_room":32.5},"time":"2021-04-08T10:30:00Z"}`,
		string(out[0].Data))
	assert.Empty(t, transport.publishedOn("tedge.errors"))

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Received)
	assert.Equal(t, int64(1), stats.Converted)
	assert.Equal(t, int64(0), stats.Rejected)
}

func TestMapper_ReportsRejected(t *testing.T) {
	m, transport := startTestMapper(t, DefaultConfig())

	transport.deliver("dvs.host1.temperature", "1617877800:32.5")

	assert.Empty(t, transport.publishedOn("tedge.measurements"))
	reports := transport.publishedOn("tedge.errors")
	require.Len(t, reports, 1)

	var report map[string]string
	require.NoError(t, gojson.Unmarshal(reports[0].Data, &report))
	assert.Equal(t, "dvs/host1/temperature", report["topic"])
	assert.Contains(t, report["error"], "invalid dvs topic: dvs/host1/temperature")
	assert.Contains(t, report["error"], "<prefix>/<host>/<metric_group_key>/<metric_key>")

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Received)
	assert.Equal(t, int64(0), stats.Converted)
	assert.Equal(t, int64(1), stats.Rejected)
	assert.True(t, m.Health().IsHealthy(), "bad input does not affect health")
}

func TestMapper_ErrorStream(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorStream = "TEDGE_ERRORS"
	_, transport := startTestMapper(t, cfg)

	require.Len(t, transport.streams, 1)
	assert.Equal(t, "TEDGE_ERRORS", transport.streams[0].Name)
	assert.Equal(t, []string{"tedge.errors"}, transport.streams[0].Subjects)

	transport.deliver("dvs.host1.a.b", "not a payload")

	assert.Empty(t, transport.publishedOn("tedge.errors"))
	require.Len(t, transport.streamed, 1)
	assert.Equal(t, "tedge.errors", transport.streamed[0].Subject)
}

func TestMapper_ErrorStreamSetupFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorStream = "TEDGE_ERRORS"
	transport := &fakeTransport{ensureErr: stderrors.New("jetstream not enabled")}
	m := newTestMapper(t, cfg, transport)

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.False(t, m.IsRunning())
	assert.Nil(t, transport.handler)
}

func TestMapper_PublishFailureDegrades(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m, transport := startTestMapper(t, DefaultConfig(), WithMetrics(registry))

	transport.publishErr = natsclient.ErrNotConnected
	transport.deliver("dvs.host1.temperature.living_room", "1617877800:32.5")

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.PublishFailures)
	assert.Equal(t, int64(0), stats.Converted)

	status := m.Health()
	assert.True(t, status.IsDegraded())
	assert.Contains(t, status.Message, "publish failed")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.publishFailures.WithLabelValues(targetOutput)))
}

func TestMapper_ErrorReportPublishFailure(t *testing.T) {
	m, transport := startTestMapper(t, DefaultConfig())

	transport.publishErr = stderrors.New("broker gone")
	transport.deliver("dvs.bad", "1:1")

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Rejected)
	assert.Equal(t, int64(1), stats.PublishFailures)
}

func TestMapper_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m, transport := startTestMapper(t, DefaultConfig(), WithMetrics(registry))

	transport.deliver("dvs.h.g.m", "1:1")
	transport.deliver("dvs.h.g.m", "1:2")
	transport.deliver("dvs.h.g", "1:3")
	transport.deliver("dvs.h.g.m", "1:x")

	assert.Equal(t, 4.0, testutil.ToFloat64(m.metrics.received))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.metrics.converted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.rejected.WithLabelValues(KindInvalidTopic)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.rejected.WithLabelValues(KindInvalidPayload)))

	count, err := testutil.GatherAndCount(registry.PrometheusRegistry(),
		"tedge_dvs_mapper_output_size_bytes",
		"tedge_dvs_mapper_conversion_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	core := registry.CoreMetrics()
	assert.Equal(t, 2.0, testutil.ToFloat64(core.ErrorsTotal.WithLabelValues("dvs_mapper", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.ComponentStatus.WithLabelValues("dvs_mapper")))

	require.NoError(t, m.Stop(time.Second))
	assert.Equal(t, 0.0, testutil.ToFloat64(core.ComponentStatus.WithLabelValues("dvs_mapper")))
}

func TestMapper_DuplicateMetricsRegistration(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	_, err := New(DefaultConfig(), nil, WithMetrics(registry))
	require.NoError(t, err)

	_, err = New(DefaultConfig(), nil, WithMetrics(registry))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestMapper_WarnLimit(t *testing.T) {
	m, transport := startTestMapper(t, DefaultConfig(), WithWarnLimit(0, 1))

	for i := 0; i < 3; i++ {
		transport.deliver("dvs.h.g", "1:1")
	}

	stats := m.Stats()
	assert.Equal(t, int64(3), stats.Rejected)
	assert.Equal(t, int64(2), stats.SuppressedWarnings)
	assert.Len(t, transport.publishedOn("tedge.errors"), 3, "reports are never rate limited")
}

func TestMapper_Lifecycle(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestMapper(t, DefaultConfig(), transport)

	assert.True(t, m.Health().IsUnhealthy())
	assert.NotEmpty(t, m.InstanceID())

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	assert.True(t, m.IsRunning())
	assert.True(t, m.Health().IsHealthy())

	err := m.Start(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)

	require.NoError(t, m.Stop(time.Second))
	assert.True(t, transport.unsubscribed)
	assert.False(t, m.IsRunning())
	assert.True(t, m.Health().IsUnhealthy())

	// Late deliveries after Stop are dropped
	transport.deliver("dvs.h.g.m", "1:1")
	assert.Equal(t, int64(0), m.Stats().Received)

	assert.NoError(t, m.Stop(time.Second))
}

func TestMapper_StartErrors(t *testing.T) {
	m := newTestMapper(t, DefaultConfig(), nil)
	err := m.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))

	transport := &fakeTransport{subscribeErr: natsclient.ErrNotConnected}
	m = newTestMapper(t, DefaultConfig(), transport)
	err = m.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.False(t, m.IsRunning())
}

func TestMapper_ConcurrentDelivery(t *testing.T) {
	m, transport := startTestMapper(t, DefaultConfig())

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				transport.deliver("dvs.h.g.m", "1:1")
			}
		}()
	}
	wg.Wait()

	require.NoError(t, m.Stop(time.Second))
	stats := m.Stats()
	assert.Equal(t, int64(workers*perWorker), stats.Received)
	assert.Equal(t, int64(workers*perWorker), stats.Converted)
	assert.Len(t, transport.publishedOn("tedge.measurements"), workers*perWorker)
}

func TestMapper_PublishesAfterSubscriptionContextEnds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorStream = "TEDGE_ERRORS"
	m, transport := startTestMapper(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	transport.deliverWithContext(ctx, "dvs.h.g.m", "1:1")
	transport.deliverWithContext(ctx, "dvs.h.g", "1:1")

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Converted)
	assert.Equal(t, int64(1), stats.Rejected)
	assert.Zero(t, stats.PublishFailures)
	assert.Len(t, transport.publishedOn("tedge.measurements"), 1)

	transport.mu.Lock()
	assert.Len(t, transport.streamed, 1)
	transport.mu.Unlock()
}

func TestMapper_StopTimeoutThenRestart(t *testing.T) {
	transport := &fakeTransport{blockPublish: true}
	m := newTestMapper(t, DefaultConfig(), transport, WithPublishTimeout(100*time.Millisecond))
	require.NoError(t, m.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		transport.deliver("dvs.h.g.m", "1:1")
	}()
	require.Eventually(t, func() bool { return m.Stats().Received == 1 }, time.Second, time.Millisecond)

	err := m.Stop(10 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))

	// The stuck publish is bounded, so the handler still finishes.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not finish after publish timeout")
	}
	assert.Equal(t, int64(1), m.Stats().PublishFailures)

	transport.mu.Lock()
	transport.blockPublish = false
	transport.mu.Unlock()

	require.NoError(t, m.Start(context.Background()))
	transport.deliver("dvs.h.g.m", "1:2")
	assert.Equal(t, int64(1), m.Stats().Converted)
	require.NoError(t, m.Stop(time.Second))
}

func TestEncodeErrorReport(t *testing.T) {
	out := encodeErrorReport("dvs/h/g", stderrors.New(`bad "quoted" value`))
	assert.Equal(t, `{"topic":"dvs/h/g","error":"bad \"quoted\" value"}`, string(out))
	assert.True(t, gojson.Valid(out))
}

func BenchmarkConvert(b *testing.B) {
	m, err := New(DefaultConfig(), nil, WithLogger(discardLogger()))
	require.NoError(b, err)
	msg := natsclient.Msg{Subject: "dvs.host1.temperature.living_room", Data: []byte("1617877800:32.5")}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := m.Convert(msg); err != nil {
			b.Fatal(err)
		}
	}
}
