package mapper

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/time/rate"

	"github.com/yhegen/thin-edge.io/dvs"
	"github.com/yhegen/thin-edge.io/errors"
	"github.com/yhegen/thin-edge.io/health"
	"github.com/yhegen/thin-edge.io/metric"
	"github.com/yhegen/thin-edge.io/natsclient"
	"github.com/yhegen/thin-edge.io/thinedge"
)

// Error kinds used in metrics labels and logs
const (
	KindInvalidTopic   = "invalid_topic"
	KindInvalidPayload = "invalid_payload"
	KindSerialize      = "serialize"
	KindInternal       = "internal"
)

// publish targets
const (
	targetOutput      = "output"
	targetErrorReport = "error_report"
)

// degradedWindow is how long a publish failure keeps the mapper degraded.
const degradedWindow = 30 * time.Second

// defaultPublishTimeout bounds each publish, including during shutdown.
const defaultPublishTimeout = 5 * time.Second

var reportConfig = jsoniter.Config{EscapeHTML: true}.Froze()

// Transport is the broker connection the mapper runs on. *natsclient.Client
// implements it.
type Transport interface {
	Subscribe(ctx context.Context, subject string, handler natsclient.Handler) (natsclient.Subscription, error)
	Publish(ctx context.Context, subject string, data []byte) error
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// streamProvisioner is implemented by transports that can create the error
// stream on start.
type streamProvisioner interface {
	EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// Stats is a snapshot of the mapper counters
type Stats struct {
	Received           int64
	Converted          int64
	Rejected           int64
	PublishFailures    int64
	SuppressedWarnings int64
}

// Mapper converts DVS messages into Thin Edge JSON documents. It subscribes
// to the input subject, publishes each converted document to the output
// subject and reports each rejected message on the error subject.
type Mapper struct {
	name       string
	instanceID string
	config     Config
	transport  Transport
	logger     *slog.Logger
	clock      func() time.Time
	warnLimit  *rate.Limiter

	publishTimeout time.Duration

	// Lifecycle management
	lifecycleMu sync.Mutex
	mu          sync.RWMutex
	running     bool
	startTime   time.Time
	sub         natsclient.Subscription
	inflight    sync.WaitGroup
	drained     chan struct{} // closed once the last Stop's in-flight messages finished

	lastActivity       time.Time
	lastPublishFailure time.Time
	lastError          string

	received           atomic.Int64
	converted          atomic.Int64
	rejected           atomic.Int64
	publishFailures    atomic.Int64
	suppressedWarnings atomic.Int64

	registry *metric.MetricsRegistry
	metrics  *mapperMetrics
}

// Option configures a Mapper
type Option func(*Mapper)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mapper) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock sets the time source used for default timestamps
func WithClock(clock func() time.Time) Option {
	return func(m *Mapper) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithMetrics registers the mapper metrics with registry
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(m *Mapper) {
		m.registry = registry
	}
}

// WithWarnLimit limits how often rejected messages are logged. Rejections
// beyond the limit are still counted and reported on the error subject.
func WithWarnLimit(limit rate.Limit, burst int) Option {
	return func(m *Mapper) {
		m.warnLimit = rate.NewLimiter(limit, burst)
	}
}

// WithPublishTimeout bounds every publish of a document or error report.
// Publishes are detached from the subscription context so messages already
// in flight at shutdown are still delivered.
func WithPublishTimeout(timeout time.Duration) Option {
	return func(m *Mapper) {
		if timeout > 0 {
			m.publishTimeout = timeout
		}
	}
}

// New creates a mapper. transport may be nil when only Convert is used.
func New(cfg Config, transport Transport, opts ...Option) (*Mapper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Mapper{
		name:       "dvs-mapper",
		instanceID: uuid.NewString(),
		config:     cfg,
		transport:  transport,
		logger:     slog.Default(),
		clock:      time.Now,
		warnLimit:  rate.NewLimiter(rate.Every(time.Second), 10),

		publishTimeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}

	metrics, err := newMapperMetrics(m.registry)
	if err != nil {
		return nil, errors.WrapFatal(err, "Mapper", "New", "register metrics")
	}
	m.metrics = metrics
	m.logger = m.logger.With("component", m.name, "instance", m.instanceID)

	return m, nil
}

// InstanceID returns the unique id of this mapper instance
func (m *Mapper) InstanceID() string {
	return m.instanceID
}

// Convert decodes one bridged DVS message and renders it as Thin Edge JSON.
// The subject is mapped back to its MQTT topic before decoding, and trailing
// NUL terminators are stripped from the payload.
func (m *Mapper) Convert(msg natsclient.Msg) ([]byte, error) {
	topic := msg.Topic()

	decoded, err := dvs.Decode(topic, dvs.TrimPayload(msg.Data))
	if err != nil {
		return nil, err
	}

	var out []byte
	if m.config.DefaultTimestamp {
		out, err = thinedge.FromDVS(decoded, m.clock())
	} else {
		out, err = thinedge.FromDVSUntimed(decoded)
	}
	if err != nil {
		return nil, errors.Classified(errors.ErrorInvalid,
			fmt.Errorf("serialize message from %s: %w", topic, err), "Mapper", "Convert")
	}
	return out, nil
}

// Start subscribes to the input subject. When an error stream is configured
// and the transport supports it, the stream is created first.
func (m *Mapper) Start(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	m.mu.RLock()
	running := m.running
	m.mu.RUnlock()
	if running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Mapper", "Start", "check running state")
	}

	if m.transport == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "Mapper", "Start", "transport required")
	}

	// A Stop that timed out may still have handlers finishing.
	m.mu.RLock()
	drained := m.drained
	m.mu.RUnlock()
	if drained != nil {
		select {
		case <-drained:
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Mapper", "Start", "wait for previous shutdown")
		}
	}

	if m.config.ErrorStream != "" {
		if err := m.ensureErrorStream(ctx); err != nil {
			return err
		}
	}

	// Mark running before subscribing so no early delivery is dropped.
	m.mu.Lock()
	m.running = true
	m.startTime = time.Now()
	m.mu.Unlock()

	sub, err := m.transport.Subscribe(ctx, m.config.InputSubject, m.handleMessage)
	if err != nil {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		m.metrics.recordStatus(statusFailed)
		m.logger.Error("Failed to subscribe to input subject",
			"subject", m.config.InputSubject,
			"error", err)
		return errors.WrapTransient(err, "Mapper", "Start",
			fmt.Sprintf("subscribe to %s", m.config.InputSubject))
	}

	m.mu.Lock()
	m.sub = sub
	m.mu.Unlock()
	m.metrics.recordStatus(statusRunning)

	m.logger.Info("DVS mapper started",
		"input_subject", m.config.InputSubject,
		"output_subject", m.config.OutputSubject,
		"error_subject", m.config.ErrorSubject,
		"error_stream", m.config.ErrorStream,
		"default_timestamp", m.config.DefaultTimestamp)

	return nil
}

func (m *Mapper) ensureErrorStream(ctx context.Context) error {
	provisioner, ok := m.transport.(streamProvisioner)
	if !ok {
		m.logger.Warn("Transport cannot create streams, expecting error stream to exist",
			"stream", m.config.ErrorStream)
		return nil
	}

	_, err := provisioner.EnsureStream(ctx, jetstream.StreamConfig{
		Name:        m.config.ErrorStream,
		Description: "Rejected DVS messages",
		Subjects:    []string{m.config.ErrorSubject},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Discard:     jetstream.DiscardOld,
	})
	if err != nil {
		return errors.WrapTransient(err, "Mapper", "Start",
			fmt.Sprintf("ensure error stream %s", m.config.ErrorStream))
	}
	return nil
}

// Stop unsubscribes and waits up to timeout for in-flight messages.
func (m *Mapper) Stop(timeout time.Duration) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	sub := m.sub
	m.sub = nil
	waitCh := make(chan struct{})
	m.drained = waitCh
	m.mu.Unlock()

	m.metrics.recordStatus(statusStopped)

	var unsubErr error
	if sub != nil {
		unsubErr = sub.Unsubscribe()
	}

	// Handlers finish within publishTimeout, so this goroutine ends even
	// when Stop gives up first.
	go func() {
		m.inflight.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"Mapper", "Stop", "graceful shutdown")
	}

	stats := m.Stats()
	m.logger.Info("DVS mapper stopped",
		"received", stats.Received,
		"converted", stats.Converted,
		"rejected", stats.Rejected,
		"publish_failures", stats.PublishFailures)

	if unsubErr != nil {
		return errors.WrapTransient(unsubErr, "Mapper", "Stop", "unsubscribe")
	}
	return nil
}

// IsRunning reports whether the mapper is subscribed
func (m *Mapper) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Stats returns a snapshot of the mapper counters
func (m *Mapper) Stats() Stats {
	return Stats{
		Received:           m.received.Load(),
		Converted:          m.converted.Load(),
		Rejected:           m.rejected.Load(),
		PublishFailures:    m.publishFailures.Load(),
		SuppressedWarnings: m.suppressedWarnings.Load(),
	}
}

// Health reports the mapper status: unhealthy when stopped, degraded for a
// while after a failed publish, healthy otherwise. Rejected input does not
// affect health.
func (m *Mapper) Health() health.Status {
	m.mu.RLock()
	running := m.running
	startTime := m.startTime
	lastActivity := m.lastActivity
	lastPublishFailure := m.lastPublishFailure
	lastError := m.lastError
	m.mu.RUnlock()

	stats := m.Stats()
	metrics := &health.Metrics{
		ErrorCount:        stats.Rejected + stats.PublishFailures,
		MessagesProcessed: stats.Received,
		LastActivity:      lastActivity,
	}

	if !running {
		return health.NewUnhealthy(m.name, "not running").WithMetrics(metrics)
	}
	metrics.Uptime = time.Since(startTime)

	if !lastPublishFailure.IsZero() && time.Since(lastPublishFailure) < degradedWindow {
		return health.NewDegraded(m.name, "publish failed: "+lastError).WithMetrics(metrics)
	}
	return health.NewHealthy(m.name, "running").WithMetrics(metrics)
}

// handleMessage converts one message and publishes the result or an error report
func (m *Mapper) handleMessage(ctx context.Context, msg *natsclient.Msg) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.inflight.Add(1)
	m.lastActivity = time.Now()
	m.mu.Unlock()
	defer m.inflight.Done()

	m.received.Add(1)
	m.metrics.recordReceived()

	start := time.Now()
	out, err := m.Convert(*msg)

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.publishTimeout)
	defer cancel()

	if err != nil {
		m.reject(pubCtx, msg, err)
		return
	}
	m.metrics.recordConversion(time.Since(start), len(out))

	if err := m.transport.Publish(pubCtx, m.config.OutputSubject, out); err != nil {
		m.publishFailed(targetOutput, err)
		return
	}

	m.converted.Add(1)
	m.metrics.recordConverted()
}

// reject counts a message that could not be converted and reports it
func (m *Mapper) reject(ctx context.Context, msg *natsclient.Msg, cause error) {
	m.rejected.Add(1)

	kind := ErrorKind(cause)
	m.metrics.recordRejected(kind)
	m.metrics.recordError(errors.Classify(cause).String())

	topic := msg.Topic()
	if m.warnLimit.Allow() {
		m.logger.Warn("Rejected DVS message",
			"topic", topic,
			"kind", kind,
			"error", cause)
	} else {
		m.suppressedWarnings.Add(1)
	}

	report := encodeErrorReport(topic, cause)

	var err error
	if m.config.ErrorStream != "" {
		err = m.transport.PublishToStream(ctx, m.config.ErrorSubject, report)
	} else {
		err = m.transport.Publish(ctx, m.config.ErrorSubject, report)
	}
	if err != nil {
		m.publishFailed(targetErrorReport, err)
	}
}

func (m *Mapper) publishFailed(target string, err error) {
	m.publishFailures.Add(1)
	m.metrics.recordPublishFailure(target)
	m.metrics.recordError(errors.Classify(err).String())

	m.mu.Lock()
	m.lastPublishFailure = time.Now()
	m.lastError = err.Error()
	m.mu.Unlock()

	if m.warnLimit.Allow() {
		m.logger.Error("Failed to publish",
			"target", target,
			"error", err)
	} else {
		m.suppressedWarnings.Add(1)
	}
}

// ErrorKind classifies a Convert error for metrics and logs
func ErrorKind(err error) string {
	var me *dvs.MeasurementError
	if stderrors.As(err, &me) {
		switch me.Kind {
		case dvs.InvalidMeasurementTopic:
			return KindInvalidTopic
		case dvs.InvalidMeasurementPayload:
			return KindInvalidPayload
		}
	}

	var we *thinedge.WriterError
	if stderrors.As(err, &we) {
		return KindSerialize
	}

	return KindInternal
}

// encodeErrorReport renders {"topic":...,"error":...}
func encodeErrorReport(topic string, cause error) []byte {
	stream := reportConfig.BorrowStream(nil)
	defer reportConfig.ReturnStream(stream)

	stream.WriteObjectStart()
	stream.WriteObjectField("topic")
	stream.WriteStringWithHTMLEscaped(topic)
	stream.WriteMore()
	stream.WriteObjectField("error")
	stream.WriteStringWithHTMLEscaped(cause.Error())
	stream.WriteObjectEnd()

	return bytes.Clone(stream.Buffer())
}
