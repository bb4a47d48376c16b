package thinedge

import (
	"bytes"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/yhegen/thin-edge.io/errors"
	"github.com/yhegen/thin-edge.io/measurement"
)

// TimeKey is the document key holding the RFC 3339 timestamp.
const TimeKey = "time"

// initialCapacity covers a typical single-group document without growing.
const initialCapacity = 1024

// writerConfig is the JSON writer used for every document. HTML-safe string
// escaping also replaces invalid UTF-8, so any key produces valid JSON.
var writerConfig = jsoniter.Config{EscapeHTML: true}.Froze()

// WriterError reports a failure of the underlying JSON writer, such as a
// non-finite float. The rejected event leaves the document unchanged.
type WriterError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *WriterError) Error() string {
	return fmt.Sprintf("json writer: %s: %v", e.Op, e.Err)
}

// Unwrap returns the writer's error
func (e *WriterError) Unwrap() error {
	return e.Err
}

// Serializer builds one Thin Edge JSON document from a measurement stream.
// It implements measurement.GroupedVisitor.
//
// Bytes finalizes the document. A Serializer is single-use: once Bytes has
// been called every further call fails with measurement.ErrFinalized.
type Serializer struct {
	stream           *jsoniter.Stream
	tracker          measurement.Tracker
	needsSeparator   bool
	defaultTimestamp *time.Time
}

// NewSerializer creates a serializer whose document has a "time" entry only
// if Timestamp is called.
func NewSerializer() *Serializer {
	return newSerializer(nil)
}

// NewSerializerWithTimestamp creates a serializer that writes ts as the
// document time when the stream does not provide one.
func NewSerializerWithTimestamp(ts time.Time) *Serializer {
	return newSerializer(&ts)
}

func newSerializer(defaultTimestamp *time.Time) *Serializer {
	stream := writerConfig.BorrowStream(nil)
	if cap(stream.Buffer()) < initialCapacity {
		stream.SetBuffer(make([]byte, 0, initialCapacity))
	}
	stream.WriteObjectStart()

	return &Serializer{
		stream:           stream,
		defaultTimestamp: defaultTimestamp,
	}
}

// State returns the current group state.
func (s *Serializer) State() measurement.GroupState {
	return s.tracker.State()
}

// Timestamp implements measurement.GroupedVisitor
func (s *Serializer) Timestamp(ts time.Time) error {
	if s.stream == nil {
		return finalizedError("Timestamp")
	}

	saved := s.tracker
	if err := s.tracker.OnTimestamp(); err != nil {
		return err
	}

	err := s.write("Timestamp", func(st *jsoniter.Stream) {
		s.writeKey(st, TimeKey)
		st.WriteString(ts.Format(time.RFC3339Nano))
	})
	if err != nil {
		s.tracker = saved
		return err
	}

	s.needsSeparator = true
	return nil
}

// Measurement implements measurement.GroupedVisitor
func (s *Serializer) Measurement(name string, value float64) error {
	if s.stream == nil {
		return finalizedError("Measurement")
	}

	err := s.write("Measurement", func(st *jsoniter.Stream) {
		s.writeKey(st, name)
		st.WriteFloat64(value)
	})
	if err != nil {
		return err
	}

	s.needsSeparator = true
	return nil
}

// StartGroup implements measurement.GroupedVisitor
func (s *Serializer) StartGroup(group string) error {
	if s.stream == nil {
		return finalizedError("StartGroup")
	}

	saved := s.tracker
	if err := s.tracker.OnStartGroup(); err != nil {
		return err
	}

	err := s.write("StartGroup", func(st *jsoniter.Stream) {
		s.writeKey(st, group)
		st.WriteObjectStart()
	})
	if err != nil {
		s.tracker = saved
		return err
	}

	s.needsSeparator = false
	return nil
}

// EndGroup implements measurement.GroupedVisitor
func (s *Serializer) EndGroup() error {
	if s.stream == nil {
		return finalizedError("EndGroup")
	}

	if err := s.tracker.OnEndGroup(); err != nil {
		return err
	}

	s.stream.WriteObjectEnd()
	s.needsSeparator = true
	return nil
}

// Bytes finalizes the document and returns it. On error nothing is returned:
// the partial document is discarded. Either way the serializer is spent.
func (s *Serializer) Bytes() ([]byte, error) {
	if s.stream == nil {
		return nil, finalizedError("Bytes")
	}
	defer s.release()

	if err := s.tracker.OnEnd(); err != nil {
		return nil, err
	}

	if !s.tracker.TimestampPresent() && s.defaultTimestamp != nil {
		if err := s.Timestamp(*s.defaultTimestamp); err != nil {
			return nil, err
		}
	}

	s.stream.WriteObjectEnd()
	if err := s.stream.Error; err != nil {
		return nil, &WriterError{Op: "Bytes", Err: err}
	}

	return bytes.Clone(s.stream.Buffer()), nil
}

// write runs fn against the stream, preceded by a separator when needed.
// If the writer reports an error the buffer is rolled back so the document
// is exactly as it was before the call.
func (s *Serializer) write(op string, fn func(*jsoniter.Stream)) error {
	mark := len(s.stream.Buffer())

	if s.needsSeparator {
		s.stream.WriteMore()
	}
	fn(s.stream)

	if err := s.stream.Error; err != nil {
		s.stream.Error = nil
		s.stream.SetBuffer(s.stream.Buffer()[:mark])
		return &WriterError{Op: op, Err: err}
	}
	return nil
}

// writeKey writes an escaped object key and the key separator.
func (s *Serializer) writeKey(st *jsoniter.Stream, key string) {
	st.WriteStringWithHTMLEscaped(key)
	st.WriteRaw(":")
}

func (s *Serializer) release() {
	writerConfig.ReturnStream(s.stream)
	s.stream = nil
}

func finalizedError(op string) error {
	return errors.Classified(errors.ErrorFatal, measurement.ErrFinalized, "Serializer", op)
}
