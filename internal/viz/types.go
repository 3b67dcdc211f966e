package viz

// Default time classes for timing rows, in milliseconds.
const (
	DefaultSlowMs = 100.0
	DefaultWarnMs = 50.0
)

// ReportSummary describes one stored report for the recent-reports table.
// Decoupled from storage types so viz stays a pure rendering package.
type ReportSummary struct {
	ID         string
	Method     string
	Path       string
	RenderMs   float64
	QueryCount int
	SpanCount  int
}

// BufferStats describes the report buffer for the stats overview.
type BufferStats struct {
	ReportCount     int
	ReportCapacity  int
	Published       int64
	Evicted         int64
	SnapshotCount   int
	AvgRenderMs     float64
	SlowestRenderMs float64
	SlowestID       string
}

// TimeClass buckets a duration for highlighting.
type TimeClass int

const (
	TimeNormal TimeClass = iota
	TimeWarn
	TimeSlow
)

// Thresholds sets the time class boundaries. Zero fields use the defaults.
type Thresholds struct {
	SlowMs float64
	WarnMs float64
}

// Classify returns the class of ms: above SlowMs is slow, above WarnMs warn.
func (t Thresholds) Classify(ms float64) TimeClass {
	slow, warn := t.SlowMs, t.WarnMs
	if slow <= 0 {
		slow = DefaultSlowMs
	}
	if warn <= 0 {
		warn = DefaultWarnMs
	}
	switch {
	case ms > slow:
		return TimeSlow
	case ms > warn:
		return TimeWarn
	default:
		return TimeNormal
	}
}

// String returns the class name used by the web UI.
func (c TimeClass) String() string {
	switch c {
	case TimeSlow:
		return "slow"
	case TimeWarn:
		return "warn"
	default:
		return ""
	}
}
