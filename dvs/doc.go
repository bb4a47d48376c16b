// Package dvs decodes DVS telemetry messages.
//
// A DVS message is a (topic, payload) pair:
//
//	topic:   <prefix>/<host>/<metric_group_key>/<metric_key>
//	payload: <timestamp>:<value>
//
// For example topic "dvs/localhost/temperature/value" with payload
// "123456789:32.5" decodes to:
//
//	dvs.Message{GroupKey: "temperature", MetricKey: "value", Value: 32.5}
//
// # Grammar
//
// The topic must split into exactly four segments. The prefix and host are
// required but unused; the group and metric keys are accepted verbatim.
//
// The payload must be valid UTF-8 and split into exactly two numeric fields.
// The timestamp field is validated and then dropped: the decoded message is
// stamped by whoever converts it, not by the publisher. Numbers follow
// IEEE-754 double semantics; literals beyond the representable range become
// ±Inf, and the textual forms NaN, Inf and Infinity are accepted.
//
// Payloads are parsed as delivered. Publishers that append a NUL terminator
// must be trimmed with TrimPayload before decoding.
//
// # Errors
//
// ParseTopic returns *TopicError (errors.Is ErrInvalidTopic). ParsePayload
// returns *PayloadError, matching one of ErrNonUTF8Payload,
// ErrInvalidPayloadFormat, ErrInvalidTimestamp or ErrInvalidMeasurementValue.
// Decode wraps either in a *MeasurementError carrying the raw topic, so a
// single errors.As gives the failing topic and errors.Is still reaches the
// precise cause:
//
//	msg, err := dvs.Decode(topic, payload)
//	var merr *dvs.MeasurementError
//	if errors.As(err, &merr) && errors.Is(err, dvs.ErrInvalidTimestamp) {
//	    // merr.Topic names the offending publisher
//	}
//
// All functions are pure and safe for concurrent use.
package dvs
