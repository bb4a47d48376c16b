package thinedge

import (
	"time"

	"github.com/yhegen/thin-edge.io/dvs"
	"github.com/yhegen/thin-edge.io/measurement"
)

// FromDVS renders a decoded DVS message as a Thin Edge JSON document with a
// single group holding a single measurement, timestamped with ts:
//
//	{"<group>":{"<metric>":<value>},"time":"<ts>"}
func FromDVS(msg dvs.Message, ts time.Time) ([]byte, error) {
	return encodeDVS(NewSerializerWithTimestamp(ts), msg)
}

// FromDVSUntimed renders msg without a "time" entry, leaving the consumer
// to stamp it on arrival.
func FromDVSUntimed(msg dvs.Message) ([]byte, error) {
	return encodeDVS(NewSerializer(), msg)
}

func encodeDVS(s *Serializer, msg dvs.Message) ([]byte, error) {
	if err := s.StartGroup(msg.GroupKey); err != nil {
		s.release()
		return nil, err
	}
	if err := s.Measurement(msg.MetricKey, msg.Value); err != nil {
		s.release()
		return nil, err
	}
	if err := s.EndGroup(); err != nil {
		s.release()
		return nil, err
	}

	return s.Bytes()
}

// Marshal renders a collected measurement stream as Thin Edge JSON.
func Marshal(m *measurement.Measurements) ([]byte, error) {
	s := NewSerializer()
	if err := measurement.Replay(m, s); err != nil {
		s.release()
		return nil, err
	}
	return s.Bytes()
}
