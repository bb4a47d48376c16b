// Package thinedge writes Thin Edge JSON, the canonical measurement document
// of the edge agent.
//
// A document is a single JSON object. Top-level keys are single-value
// measurements, nested objects are groups of measurements, and the optional
// "time" key carries an RFC 3339 timestamp:
//
//	{"time":"2021-04-08T10:30:00Z","temperature":25.5,"location":{"alti":2100.4}}
//
// Serializer is a measurement.GroupedVisitor, so it enforces the same
// ordering rules as every other visitor. Keys appear in the order the events
// arrive; a default timestamp is appended last when the stream has none.
package thinedge
