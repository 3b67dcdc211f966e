// Package timing collects nested render timings for a single request.
//
// A Collector keeps an explicit stack of open spans. Start pushes a frame,
// Stop pops it and records two views of the completed span: a per-name
// Aggregate and a TraceEvent appended in completion order. Each span also
// records how far a CounterSource (usually the number of executed SQL
// statements) advanced while it was open.
//
// A Collector belongs to exactly one request and is not safe for concurrent
// use. Give every request its own instance and thread it through the request
// context with NewContext.
package timing

import "time"

// CounterSource reports a cumulative count that never decreases within one
// request, such as the number of executed database statements.
type CounterSource interface {
	Current() int64
}

// CounterFunc adapts a plain function to CounterSource.
type CounterFunc func() int64

// Current implements CounterSource.
func (f CounterFunc) Current() int64 { return f() }

// frame is one open span on the collector stack.
type frame struct {
	name       string
	kind       string
	start      time.Time
	startTime  float64 // unix milliseconds
	startCount int64
}

// Collector tracks open spans and the metrics of completed ones.
// All methods are no-ops on a nil *Collector.
type Collector struct {
	counter CounterSource
	now     func() time.Time

	stack      []frame
	aggregates map[string]*Aggregate
	order      []string // aggregate names in first-completion order
	trace      []TraceEvent
}

// Option configures a Collector.
type Option func(*Collector)

// WithClock replaces time.Now as the collector clock.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCollector creates an empty collector reading resource counts from src.
// A nil src is allowed and records a resource delta of 0 for every span.
func NewCollector(src CounterSource, opts ...Option) *Collector {
	c := &Collector{
		counter:    src,
		now:        time.Now,
		aggregates: make(map[string]*Aggregate),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start opens a span for name. An empty kind means the span has no kind.
func (c *Collector) Start(name, kind string) {
	if c == nil {
		return
	}

	now := c.now()
	c.stack = append(c.stack, frame{
		name:       name,
		kind:       kind,
		start:      now,
		startTime:  unixMillis(now),
		startCount: c.currentCount(),
	})
}

// Stop closes the innermost open span if it is named name.
//
// Stop never fails. On an empty stack it does nothing. If the innermost span
// has a different name the frame is dropped without recording anything.
func (c *Collector) Stop(name string) {
	if c == nil || len(c.stack) == 0 {
		return
	}

	top := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]

	if top.name != name {
		return
	}

	duration := float64(c.now().Sub(top.start)) / float64(time.Millisecond)
	if duration < 0 {
		duration = 0
	}
	delta := c.currentCount() - top.startCount
	if delta < 0 {
		delta = 0
	}

	agg, ok := c.aggregates[name]
	if !ok {
		agg = &Aggregate{Name: name}
		c.aggregates[name] = agg
		c.order = append(c.order, name)
	}
	agg.add(duration, delta)

	c.trace = append(c.trace, TraceEvent{
		Name:          name,
		Kind:          top.kind,
		StartTime:     top.startTime,
		Duration:      duration,
		Depth:         len(c.stack),
		ResourceDelta: delta,
	})
}

// Depth returns the number of currently open spans.
func (c *Collector) Depth() int {
	if c == nil {
		return 0
	}
	return len(c.stack)
}

// Aggregates returns a copy of the per-name statistics in the order names
// first completed.
func (c *Collector) Aggregates() []Aggregate {
	if c == nil || len(c.order) == 0 {
		return nil
	}

	result := make([]Aggregate, len(c.order))
	for i, name := range c.order {
		result[i] = *c.aggregates[name]
	}
	return result
}

// Aggregate returns the statistics for name, if any span with that name has
// completed.
func (c *Collector) Aggregate(name string) (Aggregate, bool) {
	if c == nil {
		return Aggregate{}, false
	}
	agg, ok := c.aggregates[name]
	if !ok {
		return Aggregate{}, false
	}
	return *agg, true
}

// Trace returns a copy of the completed spans in completion order. Children
// complete, and therefore appear, before their parents.
func (c *Collector) Trace() []TraceEvent {
	if c == nil || len(c.trace) == 0 {
		return nil
	}

	result := make([]TraceEvent, len(c.trace))
	copy(result, c.trace)
	return result
}

// Timings returns the serialized per-name rows, rounded for output.
func (c *Collector) Timings() []Timing {
	aggs := c.Aggregates()
	if len(aggs) == 0 {
		return nil
	}

	rows := make([]Timing, len(aggs))
	for i, agg := range aggs {
		rows[i] = agg.Timing()
	}
	return rows
}

// currentCount reads the counter source; a missing source counts as zero.
func (c *Collector) currentCount() int64 {
	if c.counter == nil {
		return 0
	}
	return c.counter.Current()
}

func unixMillis(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Millisecond)
}
