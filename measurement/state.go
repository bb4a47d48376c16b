package measurement

import (
	stderrors "errors"
)

// Protocol errors. The messages are part of the mapper's output contract.
var (
	ErrUnexpectedTimestamp    = stderrors.New("Unexpected time stamp within a group")
	ErrUnexpectedStartOfGroup = stderrors.New("Unexpected start of group")
	ErrUnexpectedEndOfGroup   = stderrors.New("Unexpected end of group")
	ErrUnexpectedEndOfData    = stderrors.New("Unexpected end of data")
	ErrDuplicateTimestamp     = stderrors.New("Unexpected second time stamp")

	// ErrFinalized is returned when a visitor is driven after it produced
	// its result. It indicates a programming error in the caller.
	ErrFinalized = stderrors.New("measurement stream already finalized")
)

// GroupState is the nesting state of a measurement stream.
type GroupState int

// Group states. TopLevel is the zero value and the initial state.
const (
	TopLevel GroupState = iota
	WithinGroup
)

// String returns the string representation of GroupState
func (s GroupState) String() string {
	switch s {
	case TopLevel:
		return "top_level"
	case WithinGroup:
		return "within_group"
	default:
		return "unknown"
	}
}

// Tracker is the state machine shared by GroupedVisitor implementations.
// Each On* method validates the event against the current state and applies
// the transition only when it is legal; a rejected event leaves the state
// unchanged.
//
// The zero value is a tracker at the top level with no timestamp.
type Tracker struct {
	state            GroupState
	timestampPresent bool
}

// State returns the current group state.
func (t *Tracker) State() GroupState {
	return t.state
}

// TimestampPresent reports whether a timestamp has been recorded.
func (t *Tracker) TimestampPresent() bool {
	return t.timestampPresent
}

// OnTimestamp validates a timestamp event and marks the timestamp present.
func (t *Tracker) OnTimestamp() error {
	if t.state == WithinGroup {
		return ErrUnexpectedTimestamp
	}
	if t.timestampPresent {
		return ErrDuplicateTimestamp
	}
	t.timestampPresent = true
	return nil
}

// OnStartGroup validates a group start and enters the group. Groups may
// follow one another but never nest.
func (t *Tracker) OnStartGroup() error {
	if t.state == WithinGroup {
		return ErrUnexpectedStartOfGroup
	}
	t.state = WithinGroup
	return nil
}

// OnEndGroup validates a group end and returns to the top level.
func (t *Tracker) OnEndGroup() error {
	if t.state != WithinGroup {
		return ErrUnexpectedEndOfGroup
	}
	t.state = TopLevel
	return nil
}

// OnEnd validates the end of the stream.
func (t *Tracker) OnEnd() error {
	if t.state == WithinGroup {
		return ErrUnexpectedEndOfData
	}
	return nil
}
