package measurement

import (
	"time"
)

// GroupedVisitor receives a stream of measurement events.
//
// Legal orderings are enforced by every implementation:
//   - Timestamp only at the top level, at most once
//   - Measurement anywhere
//   - StartGroup only at the top level
//   - EndGroup only inside a group
//
// Implementations are single-owner and not safe for concurrent use.
type GroupedVisitor interface {
	// Timestamp records the time of the measurements.
	Timestamp(ts time.Time) error

	// Measurement records a single named value in the current scope.
	Measurement(name string, value float64) error

	// StartGroup opens a named group of measurements.
	StartGroup(group string) error

	// EndGroup closes the open group.
	EndGroup() error
}
