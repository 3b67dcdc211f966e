// Package report assembles the per-request debug payload handed from a
// traced request to the viewers, and encodes it as JSON lines.
package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tobert/render-trace/internal/querylog"
	"github.com/tobert/render-trace/internal/timing"
)

// maxLineSize bounds one encoded report when reading JSON lines.
const maxLineSize = 16 * 1024 * 1024

// Report is everything recorded while one request rendered. Times are unix
// milliseconds; RenderTime is milliseconds rounded to two decimals.
type Report struct {
	ID            string              `json:"id"`
	Method        string              `json:"method"`
	Path          string              `json:"path"`
	StartRenderAt float64             `json:"startRenderAt"`
	EndRenderAt   float64             `json:"endRenderAt"`
	RenderTime    float64             `json:"renderTime"`
	SQLData       querylog.Summary    `json:"sqlData"`
	Timings       []timing.Timing     `json:"timings"`
	TraceEvents   []timing.TraceEvent `json:"traceEvents"`
}

// Meta describes the request a report belongs to.
type Meta struct {
	ID     string // generated when empty
	Method string
	Path   string
	Start  time.Time
	End    time.Time
}

// NewID returns a fresh report identifier.
func NewID() string {
	return uuid.NewString()
}

// Build assembles a report from a finished collector and query log. Either
// may be nil; the corresponding sections are then empty.
func Build(meta Meta, c *timing.Collector, q *querylog.Log) *Report {
	start := float64(meta.Start.UnixMicro()) / 1000
	end := float64(meta.End.UnixMicro()) / 1000

	timings := c.Timings()
	if timings == nil {
		timings = []timing.Timing{}
	}
	trace := c.Trace()
	if trace == nil {
		trace = []timing.TraceEvent{}
	}
	id := meta.ID
	if id == "" {
		id = NewID()
	}

	return &Report{
		ID:            id,
		Method:        meta.Method,
		Path:          meta.Path,
		StartRenderAt: start,
		EndRenderAt:   end,
		RenderTime:    timing.Round2(float64(meta.End.Sub(meta.Start)) / float64(time.Millisecond)),
		SQLData:       q.Summary(),
		Timings:       timings,
		TraceEvents:   trace,
	}
}

// Encode writes r as a single JSON line.
func Encode(w io.Writer, r *Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report %s: %w", r.ID, err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write report %s: %w", r.ID, err)
	}
	return nil
}

// Decode parses one JSON line.
func Decode(line []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(line, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	if r.ID == "" {
		return nil, fmt.Errorf("report has no id")
	}
	return &r, nil
}

// ReadAll decodes every non-blank line of r. Malformed lines are reported
// through skip (when non-nil) and otherwise ignored.
func ReadAll(r io.Reader, skip func(lineNo int, err error)) ([]*Report, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var reports []*Report
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		rep, err := Decode(line)
		if err != nil {
			if skip != nil {
				skip(lineNo, err)
			}
			continue
		}
		reports = append(reports, rep)
	}
	if err := scanner.Err(); err != nil {
		return reports, fmt.Errorf("failed to read reports: %w", err)
	}
	return reports, nil
}

// MarshalMsgpack encodes r in the compact archive format used for object
// storage. Field names match the JSON encoding.
func MarshalMsgpack(r *Report) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("failed to pack report %s: %w", r.ID, err)
	}
	return buf.Bytes(), nil
}

// UnmarshalMsgpack decodes a report written by MarshalMsgpack.
func UnmarshalMsgpack(data []byte) (*Report, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	var r Report
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to unpack report: %w", err)
	}
	return &r, nil
}
