package viewer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tobert/render-trace/internal/timing"
)

const (
	// DefaultCategory is the trace category for spans without a kind.
	DefaultCategory = "render"

	// ExportPrefix starts every exported trace file name.
	ExportPrefix = "render-trace-"

	phaseComplete = "X"
	exportPID     = 1
)

// ChromeTrace is a chronological trace document in the Trace Event Format
// understood by chrome://tracing, Perfetto and speedscope.
type ChromeTrace struct {
	TraceEvents []ChromeEvent `json:"traceEvents"`
}

// ChromeEvent is one complete ("X") event. Times are in microseconds.
type ChromeEvent struct {
	Name      string     `json:"name"`
	Category  string     `json:"cat"`
	Phase     string     `json:"ph"`
	Timestamp float64    `json:"ts"`
	Duration  float64    `json:"dur"`
	ProcessID int        `json:"pid"`
	ThreadID  int        `json:"tid"`
	Args      ChromeArgs `json:"args"`
}

// ChromeArgs carries the original span data on each exported event.
type ChromeArgs struct {
	Name          string  `json:"name"`
	Kind          *string `json:"kind"`
	ResourceDelta int64   `json:"resourceDelta"`
}

// ExportTrace converts trace events to a ChromeTrace. It reports false when
// there is nothing to export.
func ExportTrace(events []timing.TraceEvent) (*ChromeTrace, bool) {
	if len(events) == 0 {
		return nil, false
	}

	doc := &ChromeTrace{TraceEvents: make([]ChromeEvent, len(events))}
	for i, ev := range events {
		var kind *string
		if ev.Kind != "" {
			k := ev.Kind
			kind = &k
		}

		doc.TraceEvents[i] = ChromeEvent{
			Name:      DisplayName(ev),
			Category:  category(ev),
			Phase:     phaseComplete,
			Timestamp: ev.StartTime * 1000,
			Duration:  ev.Duration * 1000,
			ProcessID: exportPID,
			ThreadID:  ev.Depth,
			Args: ChromeArgs{
				Name:          ev.Name,
				Kind:          kind,
				ResourceDelta: ev.ResourceDelta,
			},
		}
	}
	return doc, true
}

// DisplayName is "Kind (last path segment)" for spans with a kind and the
// plain name otherwise.
func DisplayName(ev timing.TraceEvent) string {
	if ev.Kind == "" {
		return ev.Name
	}
	return fmt.Sprintf("%s (%s)", ev.Kind, lastSegment(ev.Name))
}

func category(ev timing.TraceEvent) string {
	if ev.Kind == "" {
		return DefaultCategory
	}
	return ev.Kind
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// ExportFilename returns the file name for a trace exported at now.
func ExportFilename(now time.Time) string {
	return fmt.Sprintf("%s%d.json", ExportPrefix, now.UnixMilli())
}

// WriteExport writes the exported trace for events into dir and returns the
// file path. It writes nothing and returns an empty path when events is empty.
func WriteExport(dir string, events []timing.TraceEvent, now time.Time) (string, error) {
	doc, ok := ExportTrace(events)
	if !ok {
		return "", nil
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode trace: %w", err)
	}

	path := filepath.Join(dir, ExportFilename(now))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write trace %s: %w", path, err)
	}
	return path, nil
}
