package mapper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yhegen/thin-edge.io/metric"
)

const metricsComponent = "dvs_mapper"

// mapperMetrics holds Prometheus metrics for the mapper. A nil
// *mapperMetrics records nothing.
type mapperMetrics struct {
	received           prometheus.Counter
	converted          prometheus.Counter
	rejected           *prometheus.CounterVec // by kind
	publishFailures    *prometheus.CounterVec // by target: output, error_report
	conversionDuration prometheus.Histogram
	outputSize         prometheus.Histogram

	core *metric.Metrics
}

// Component status values exported through tedge_component_status
const (
	statusStopped = 0
	statusRunning = 1
	statusFailed  = 2
)

// newMapperMetrics creates and registers mapper metrics with the provided registry.
func newMapperMetrics(registry *metric.MetricsRegistry) (*mapperMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &mapperMetrics{
		core: registry.CoreMetrics(),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: metricsComponent,
			Name:      "messages_received_total",
			Help:      "Total number of DVS messages received",
		}),
		converted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: metricsComponent,
			Name:      "messages_converted_total",
			Help:      "Total number of DVS messages converted and published",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: metricsComponent,
			Name:      "messages_rejected_total",
			Help:      "Total number of DVS messages rejected, by error kind",
		}, []string{"kind"}), // invalid_topic, invalid_payload, serialize
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: metricsComponent,
			Name:      "publish_failures_total",
			Help:      "Total number of failed publishes, by target",
		}, []string{"target"}),
		conversionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: metricsComponent,
			Name:      "conversion_duration_seconds",
			Help:      "Time to decode and serialize one message",
			Buckets:   []float64{0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
		outputSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: metricsComponent,
			Name:      "output_size_bytes",
			Help:      "Distribution of Thin Edge JSON document sizes in bytes",
			Buckets:   prometheus.ExponentialBuckets(32, 2, 8), // 32B to 4KB
		}),
	}

	if err := registry.RegisterCounter(metricsComponent, "received", m.received); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(metricsComponent, "converted", m.converted); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(metricsComponent, "rejected", m.rejected); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(metricsComponent, "publish_failures", m.publishFailures); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram(metricsComponent, "conversion_duration", m.conversionDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram(metricsComponent, "output_size", m.outputSize); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *mapperMetrics) recordReceived() {
	if m == nil {
		return
	}
	m.received.Inc()
}

// recordConversion records a successful conversion.
func (m *mapperMetrics) recordConversion(duration time.Duration, outputSizeBytes int) {
	if m == nil {
		return
	}
	m.conversionDuration.Observe(duration.Seconds())
	m.outputSize.Observe(float64(outputSizeBytes))
}

func (m *mapperMetrics) recordConverted() {
	if m == nil {
		return
	}
	m.converted.Inc()
}

func (m *mapperMetrics) recordRejected(kind string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(kind).Inc()
}

func (m *mapperMetrics) recordPublishFailure(target string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(target).Inc()
}

func (m *mapperMetrics) recordStatus(status int) {
	if m == nil {
		return
	}
	m.core.RecordComponentStatus(metricsComponent, status)
}

// recordError counts an error against the process-wide errors_total series
func (m *mapperMetrics) recordError(class string) {
	if m == nil {
		return
	}
	m.core.RecordError(metricsComponent, class)
}
