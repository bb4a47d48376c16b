// Package measurement defines the grouped measurement protocol: the events a
// producer emits to describe one batch of measurements, and the rules for
// ordering them.
//
// A stream is a sequence of Timestamp, Measurement, StartGroup and EndGroup
// events followed by an end of stream. Groups nest exactly one level deep:
//
//	Timestamp(t)
//	Measurement("temperature", 25.5)
//	StartGroup("location")
//	    Measurement("alti", 2100.4)
//	    Measurement("longi", 2200.4)
//	EndGroup()
//	<end>
//
// The rules, enforced by Tracker and therefore by every GroupedVisitor in
// this repository:
//
//   - a timestamp inside a group fails with ErrUnexpectedTimestamp
//   - a second timestamp fails with ErrDuplicateTimestamp
//   - a group inside a group fails with ErrUnexpectedStartOfGroup
//   - EndGroup outside a group fails with ErrUnexpectedEndOfGroup
//   - ending the stream inside a group fails with ErrUnexpectedEndOfData
//
// A rejected event leaves the state untouched. An unterminated group is never
// closed on the producer's behalf.
//
// Collector is an in-memory GroupedVisitor; Replay feeds a collected stream
// into any other visitor, such as the JSON serializer in package thinedge.
package measurement
