package timing

import "encoding/json"

// TraceEvent records one completed span.
type TraceEvent struct {
	Name          string  // render path
	Kind          string  // empty when the span had no kind
	StartTime     float64 // unix milliseconds
	Duration      float64 // milliseconds
	Depth         int     // open spans left after this one was popped
	ResourceDelta int64
}

type traceEventJSON struct {
	Name          string  `json:"name"`
	Kind          *string `json:"kind"`
	StartTime     float64 `json:"startTime"`
	Duration      float64 `json:"duration"`
	Depth         int     `json:"depth"`
	ResourceDelta int64   `json:"resourceDelta"`
}

// MarshalJSON encodes an empty Kind as null.
func (e TraceEvent) MarshalJSON() ([]byte, error) {
	out := traceEventJSON{
		Name:          e.Name,
		StartTime:     e.StartTime,
		Duration:      e.Duration,
		Depth:         e.Depth,
		ResourceDelta: e.ResourceDelta,
	}
	if e.Kind != "" {
		kind := e.Kind
		out.Kind = &kind
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts null or a string for kind.
func (e *TraceEvent) UnmarshalJSON(data []byte) error {
	var in traceEventJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = TraceEvent{
		Name:          in.Name,
		StartTime:     in.StartTime,
		Duration:      in.Duration,
		Depth:         in.Depth,
		ResourceDelta: in.ResourceDelta,
	}
	if in.Kind != nil {
		e.Kind = *in.Kind
	}
	return nil
}
