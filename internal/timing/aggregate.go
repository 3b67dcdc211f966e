package timing

import "math"

// Aggregate accumulates every completion of one span name within a request.
type Aggregate struct {
	Name               string
	Count              int
	TotalTime          float64 // milliseconds
	MaxTime            float64 // milliseconds
	TotalResourceCount int64
}

func (a *Aggregate) add(duration float64, delta int64) {
	a.Count++
	a.TotalTime += duration
	a.TotalResourceCount += delta
	if duration > a.MaxTime {
		a.MaxTime = duration
	}
}

// AvgTime returns TotalTime / Count, or 0 when nothing was recorded.
func (a Aggregate) AvgTime() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.TotalTime / float64(a.Count)
}

// Timing converts the aggregate to its serialized form with times rounded
// to two decimals.
func (a Aggregate) Timing() Timing {
	return Timing{
		Name:               a.Name,
		Count:              a.Count,
		TotalTime:          Round2(a.TotalTime),
		MaxTime:            Round2(a.MaxTime),
		AvgTime:            Round2(a.AvgTime()),
		TotalResourceCount: a.TotalResourceCount,
	}
}

// Timing is the per-name row handed to viewers.
type Timing struct {
	Name               string  `json:"name"`
	Count              int     `json:"count"`
	TotalTime          float64 `json:"totalTime"`
	MaxTime            float64 `json:"maxTime"`
	AvgTime            float64 `json:"avgTime"`
	TotalResourceCount int64   `json:"totalResourceCount"`
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// AggregateEvents folds completed spans into timing rows, in the order names
// first completed. Applied to a collector's trace it yields the same rows as
// the collector's Timings.
func AggregateEvents(events []TraceEvent) []Timing {
	if len(events) == 0 {
		return nil
	}

	index := make(map[string]int)
	var aggs []Aggregate
	for _, ev := range events {
		i, ok := index[ev.Name]
		if !ok {
			i = len(aggs)
			index[ev.Name] = i
			aggs = append(aggs, Aggregate{Name: ev.Name})
		}
		aggs[i].add(ev.Duration, ev.ResourceDelta)
	}

	rows := make([]Timing, len(aggs))
	for i, agg := range aggs {
		rows[i] = agg.Timing()
	}
	return rows
}
