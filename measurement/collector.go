package measurement

import (
	"time"
)

// ItemKind distinguishes the entries of a collected stream.
type ItemKind int

// Item kinds
const (
	KindMeasurement ItemKind = iota
	KindGroup
	KindTimestamp
)

// Entry is a named scalar value.
type Entry struct {
	Name  string
	Value float64
}

// Item is one top-level event of a collected stream. Only the fields that
// belong to its Kind are set.
type Item struct {
	Kind    ItemKind
	Name    string
	Value   float64
	Time    time.Time
	Entries []Entry
}

// Measurements is a completed, validated measurement stream in arrival order.
type Measurements struct {
	Items []Item
}

// Timestamp returns the stream's timestamp, if any.
func (m *Measurements) Timestamp() (time.Time, bool) {
	for _, item := range m.Items {
		if item.Kind == KindTimestamp {
			return item.Time, true
		}
	}
	return time.Time{}, false
}

// Value returns a top-level measurement by name.
func (m *Measurements) Value(name string) (float64, bool) {
	for _, item := range m.Items {
		if item.Kind == KindMeasurement && item.Name == name {
			return item.Value, true
		}
	}
	return 0, false
}

// Group returns the entries of a group by name.
func (m *Measurements) Group(name string) ([]Entry, bool) {
	for _, item := range m.Items {
		if item.Kind == KindGroup && item.Name == name {
			return item.Entries, true
		}
	}
	return nil, false
}

// Collector is a GroupedVisitor that keeps the stream in memory.
type Collector struct {
	tracker          Tracker
	items            []Item
	defaultTimestamp *time.Time
	finished         bool
}

// NewCollector creates a collector without a default timestamp.
func NewCollector() *Collector {
	return &Collector{}
}

// NewCollectorWithTimestamp creates a collector that adds ts when the stream
// ends without a timestamp of its own.
func NewCollectorWithTimestamp(ts time.Time) *Collector {
	return &Collector{defaultTimestamp: &ts}
}

// Timestamp implements GroupedVisitor
func (c *Collector) Timestamp(ts time.Time) error {
	if c.finished {
		return ErrFinalized
	}
	if err := c.tracker.OnTimestamp(); err != nil {
		return err
	}
	c.items = append(c.items, Item{Kind: KindTimestamp, Time: ts})
	return nil
}

// Measurement implements GroupedVisitor
func (c *Collector) Measurement(name string, value float64) error {
	if c.finished {
		return ErrFinalized
	}
	entry := Entry{Name: name, Value: value}
	if c.tracker.State() == WithinGroup {
		group := &c.items[len(c.items)-1]
		group.Entries = append(group.Entries, entry)
		return nil
	}
	c.items = append(c.items, Item{Kind: KindMeasurement, Name: name, Value: value})
	return nil
}

// StartGroup implements GroupedVisitor
func (c *Collector) StartGroup(group string) error {
	if c.finished {
		return ErrFinalized
	}
	if err := c.tracker.OnStartGroup(); err != nil {
		return err
	}
	c.items = append(c.items, Item{Kind: KindGroup, Name: group, Entries: []Entry{}})
	return nil
}

// EndGroup implements GroupedVisitor
func (c *Collector) EndGroup() error {
	if c.finished {
		return ErrFinalized
	}
	return c.tracker.OnEndGroup()
}

// Finish ends the stream and returns the collected measurements. It may be
// called once; the collector is spent afterwards whether or not it succeeded.
func (c *Collector) Finish() (*Measurements, error) {
	if c.finished {
		return nil, ErrFinalized
	}
	c.finished = true
	items := c.items
	c.items = nil

	if err := c.tracker.OnEnd(); err != nil {
		return nil, err
	}

	if !c.tracker.TimestampPresent() && c.defaultTimestamp != nil {
		items = append(items, Item{Kind: KindTimestamp, Time: *c.defaultTimestamp})
	}

	return &Measurements{Items: items}, nil
}

// Replay drives v with the events of m, in their original order.
func Replay(m *Measurements, v GroupedVisitor) error {
	for _, item := range m.Items {
		var err error
		switch item.Kind {
		case KindTimestamp:
			err = v.Timestamp(item.Time)
		case KindMeasurement:
			err = v.Measurement(item.Name, item.Value)
		case KindGroup:
			err = replayGroup(item, v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func replayGroup(item Item, v GroupedVisitor) error {
	if err := v.StartGroup(item.Name); err != nil {
		return err
	}
	for _, entry := range item.Entries {
		if err := v.Measurement(entry.Name, entry.Value); err != nil {
			return err
		}
	}
	return v.EndGroup()
}
