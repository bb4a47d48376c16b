package dvs

import (
	"fmt"

	"github.com/yhegen/thin-edge.io/errors"
)

// Message is a single decoded DVS measurement.
type Message struct {
	GroupKey  string
	MetricKey string
	Value     float64
}

// MeasurementErrorKind tells whether decoding failed on the topic or the payload.
type MeasurementErrorKind int

// Measurement error kinds
const (
	InvalidMeasurementTopic MeasurementErrorKind = iota
	InvalidMeasurementPayload
)

// String returns the string representation of MeasurementErrorKind
func (k MeasurementErrorKind) String() string {
	switch k {
	case InvalidMeasurementTopic:
		return "invalid_topic"
	case InvalidMeasurementPayload:
		return "invalid_payload"
	default:
		return "unknown"
	}
}

// MeasurementError is returned by Decode. Topic is always the raw topic the
// message arrived on, even when the payload was at fault.
type MeasurementError struct {
	Kind  MeasurementErrorKind
	Topic string
	Err   error
}

// Error implements the error interface
func (e *MeasurementError) Error() string {
	if e.Kind == InvalidMeasurementTopic {
		return fmt.Sprintf(
			"Message received on invalid dvs topic: %s. "+
				"Dvs message topics must be in the format <prefix>/<host>/<metric_group_key>/<metric_key>",
			e.Topic)
	}
	return fmt.Sprintf("Invalid payload received on topic: %s. Error: %v", e.Topic, e.Err)
}

// Unwrap returns the topic or payload error
func (e *MeasurementError) Unwrap() error {
	return e.Err
}

// Decode parses a (topic, payload) pair into a Message. The topic is checked
// first; the payload is only parsed once the topic is known to be valid.
//
// Errors are *MeasurementError values classified as invalid input.
func Decode(topic string, payload []byte) (Message, error) {
	t, err := ParseTopic(topic)
	if err != nil {
		return Message{}, errors.Classified(errors.ErrorInvalid,
			&MeasurementError{Kind: InvalidMeasurementTopic, Topic: topic, Err: err}, "dvs", "Decode")
	}

	value, err := ParsePayload(payload)
	if err != nil {
		return Message{}, errors.Classified(errors.ErrorInvalid,
			&MeasurementError{Kind: InvalidMeasurementPayload, Topic: topic, Err: err}, "dvs", "Decode")
	}

	return Message{
		GroupKey:  t.GroupKey,
		MetricKey: t.MetricKey,
		Value:     value,
	}, nil
}
