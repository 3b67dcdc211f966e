// Package otlpexport converts request reports to OpenTelemetry spans and
// back, and ships them to an OTLP collector or a JSONL file.
//
// Each report becomes one trace: a SERVER span for the request with one
// INTERNAL child span per render span, parented the way the render nested.
package otlpexport

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"fortio.org/safecast"
	"github.com/google/uuid"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/tobert/render-trace/internal/report"
	"github.com/tobert/render-trace/internal/timing"
	"github.com/tobert/render-trace/internal/viewer"
)

// ScopeName is the instrumentation scope of exported spans.
const ScopeName = "github.com/tobert/render-trace"

// Span attribute keys.
const (
	AttrPath          = "render.path"
	AttrKind          = "render.kind"
	AttrDepth         = "render.depth"
	AttrSeq           = "render.seq" // completion order within the request
	AttrResourceDelta = "render.sql.count"
	AttrReportID      = "render.report_id"
	AttrRenderTime    = "render.render_time_ms"
	AttrQueryCount    = "render.sql.query_count"
	AttrQueryTime     = "render.sql.execution_ms"
	AttrMethod        = "http.request.method"
	AttrURLPath       = "url.path"
)

// requestSpanID is reserved for the request span; render spans count from 2.
const requestSpanID = 1

// TraceID derives a 16 byte trace id from a report id. UUID ids map
// directly; anything else is hashed into a name-based UUID.
func TraceID(reportID string) []byte {
	id, err := uuid.Parse(reportID)
	if err != nil {
		id = uuid.NewSHA1(uuid.NameSpaceURL, []byte("render-trace:"+reportID))
	}
	return id[:]
}

// spanID is deterministic so a re-exported report produces identical spans.
func spanID(n int) ([]byte, error) {
	v, err := safecast.Conv[uint64](n)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b, nil
}

// unixNanos converts unix milliseconds to unsigned nanoseconds. The whole
// milliseconds are scaled as integers; a float64 cannot hold current unix
// time in nanoseconds exactly.
func unixNanos(ms float64) (uint64, error) {
	whole := math.Floor(ms)
	ns, err := safecast.Conv[uint64](int64(whole)*1e6 + int64(math.Round((ms-whole)*1e6)))
	if err != nil {
		return 0, fmt.Errorf("time %.3f ms out of range: %w", ms, err)
	}
	return ns, nil
}

// ToResourceSpans converts one request's trace events into spans under
// traceID. Parents are reconstructed from completion order and depth;
// top-level spans get parent, which may be nil.
func ToResourceSpans(serviceName string, traceID []byte, events []timing.TraceEvent) (*tracepb.ResourceSpans, error) {
	spans, err := renderSpans(traceID, nil, events)
	if err != nil {
		return nil, err
	}
	return wrap(serviceName, spans), nil
}

// ReportSpans converts a report into a request span plus its render spans.
func ReportSpans(serviceName string, r *report.Report) (*tracepb.ResourceSpans, error) {
	traceID := TraceID(r.ID)
	reqID, _ := spanID(requestSpanID)

	start, err := unixNanos(r.StartRenderAt)
	if err != nil {
		return nil, err
	}
	end, err := unixNanos(r.EndRenderAt)
	if err != nil {
		return nil, err
	}

	name := r.Method + " " + r.Path
	if r.Method == "" && r.Path == "" {
		name = "render"
	}
	request := &tracepb.Span{
		TraceId:           traceID,
		SpanId:            reqID,
		Name:              name,
		Kind:              tracepb.Span_SPAN_KIND_SERVER,
		StartTimeUnixNano: start,
		EndTimeUnixNano:   max(start, end),
		Attributes: []*commonpb.KeyValue{
			stringAttr(AttrReportID, r.ID),
			stringAttr(AttrMethod, r.Method),
			stringAttr(AttrURLPath, r.Path),
			doubleAttr(AttrRenderTime, r.RenderTime),
			intAttr(AttrQueryCount, int64(r.SQLData.QueryCount)),
			doubleAttr(AttrQueryTime, r.SQLData.ExecutionTime),
		},
	}

	children, err := renderSpans(traceID, reqID, r.TraceEvents)
	if err != nil {
		return nil, fmt.Errorf("report %s: %w", r.ID, err)
	}
	return wrap(serviceName, append([]*tracepb.Span{request}, children...)), nil
}

func renderSpans(traceID, parent []byte, events []timing.TraceEvent) ([]*tracepb.Span, error) {
	if len(events) == 0 {
		return nil, nil
	}

	ids := make([][]byte, len(events))
	for i := range events {
		id, err := spanID(i + requestSpanID + 1)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}

	spans := make([]*tracepb.Span, len(events))
	var convErr error
	timing.Walk(timing.BuildTree(events), func(n *timing.SpanNode, _ int) {
		if convErr != nil {
			return
		}
		ev := n.Event
		start, err := unixNanos(ev.StartTime)
		if err != nil {
			convErr = err
			return
		}
		end, err := unixNanos(ev.StartTime + max(ev.Duration, 0))
		if err != nil {
			convErr = err
			return
		}

		parentID := parent
		if n.Parent >= 0 {
			parentID = ids[n.Parent]
		}

		attrs := []*commonpb.KeyValue{
			stringAttr(AttrPath, ev.Name),
			intAttr(AttrDepth, int64(ev.Depth)),
			intAttr(AttrSeq, int64(n.Index)),
			intAttr(AttrResourceDelta, ev.ResourceDelta),
		}
		if ev.Kind != "" {
			attrs = append(attrs, stringAttr(AttrKind, ev.Kind))
		}

		spans[n.Index] = &tracepb.Span{
			TraceId:           traceID,
			SpanId:            ids[n.Index],
			ParentSpanId:      parentID,
			Name:              viewer.DisplayName(ev),
			Kind:              tracepb.Span_SPAN_KIND_INTERNAL,
			StartTimeUnixNano: start,
			EndTimeUnixNano:   end,
			Attributes:        attrs,
		}
	})
	if convErr != nil {
		return nil, convErr
	}
	return spans, nil
}

func wrap(serviceName string, spans []*tracepb.Span) *tracepb.ResourceSpans {
	return &tracepb.ResourceSpans{
		Resource: &resourcepb.Resource{
			Attributes: []*commonpb.KeyValue{stringAttr("service.name", serviceName)},
		},
		ScopeSpans: []*tracepb.ScopeSpans{{
			Scope: &commonpb.InstrumentationScope{Name: ScopeName},
			Spans: spans,
		}},
	}
}

// FromResourceSpans rebuilds reports from spans produced by ReportSpans.
// Spans are grouped by trace id; traces without render spans are ignored.
// Only the SQL totals survive the round trip, not the per-statement detail.
func FromResourceSpans(all []*tracepb.ResourceSpans) []*report.Report {
	type pending struct {
		rep    *report.Report
		events []seqEvent
	}
	byTrace := make(map[string]*pending)
	var order []string

	for _, rs := range all {
		for _, ss := range rs.GetScopeSpans() {
			for _, span := range ss.GetSpans() {
				key := hex.EncodeToString(span.GetTraceId())
				p, ok := byTrace[key]
				if !ok {
					p = &pending{rep: &report.Report{ID: key}}
					byTrace[key] = p
					order = append(order, key)
				}

				attrs := attrMap(span.GetAttributes())
				if id, ok := attrs[AttrReportID]; ok {
					applyRequest(p.rep, span, attrs, id.GetStringValue())
					continue
				}
				if path, ok := attrs[AttrPath]; ok {
					p.events = append(p.events, toEvent(span, attrs, path.GetStringValue()))
				}
			}
		}
	}

	reports := make([]*report.Report, 0, len(order))
	for _, key := range order {
		p := byTrace[key]
		if len(p.events) == 0 {
			continue
		}
		sort.SliceStable(p.events, func(i, j int) bool { return p.events[i].seq < p.events[j].seq })

		events := make([]timing.TraceEvent, len(p.events))
		for i, e := range p.events {
			events[i] = e.ev
		}
		p.rep.TraceEvents = events
		p.rep.Timings = timing.AggregateEvents(events)
		if p.rep.StartRenderAt == 0 {
			fillTimesFromEvents(p.rep)
		}
		reports = append(reports, p.rep)
	}
	return reports
}

type seqEvent struct {
	seq int64
	ev  timing.TraceEvent
}

func applyRequest(r *report.Report, span *tracepb.Span, attrs map[string]*commonpb.AnyValue, id string) {
	if id != "" {
		r.ID = id
	}
	r.Method = attrs[AttrMethod].GetStringValue()
	r.Path = attrs[AttrURLPath].GetStringValue()
	r.StartRenderAt = nanosToMillis(span.GetStartTimeUnixNano())
	r.EndRenderAt = nanosToMillis(span.GetEndTimeUnixNano())
	r.RenderTime = attrs[AttrRenderTime].GetDoubleValue()
	r.SQLData.QueryCount = int(attrs[AttrQueryCount].GetIntValue())
	r.SQLData.ExecutionTime = attrs[AttrQueryTime].GetDoubleValue()
}

func toEvent(span *tracepb.Span, attrs map[string]*commonpb.AnyValue, path string) seqEvent {
	start := span.GetStartTimeUnixNano()
	end := max(span.GetEndTimeUnixNano(), start)
	return seqEvent{
		seq: attrs[AttrSeq].GetIntValue(),
		ev: timing.TraceEvent{
			Name:          path,
			Kind:          attrs[AttrKind].GetStringValue(),
			StartTime:     nanosToMillis(start),
			Duration:      float64(end-start) / 1e6,
			Depth:         int(attrs[AttrDepth].GetIntValue()),
			ResourceDelta: attrs[AttrResourceDelta].GetIntValue(),
		},
	}
}

// fillTimesFromEvents covers traces that arrived without a request span.
func fillTimesFromEvents(r *report.Report) {
	for i, ev := range r.TraceEvents {
		end := ev.StartTime + ev.Duration
		if i == 0 || ev.StartTime < r.StartRenderAt {
			r.StartRenderAt = ev.StartTime
		}
		if end > r.EndRenderAt {
			r.EndRenderAt = end
		}
	}
	r.RenderTime = timing.Round2(r.EndRenderAt - r.StartRenderAt)
}

func nanosToMillis(ns uint64) float64 {
	return float64(ns) / 1e6
}

func attrMap(kvs []*commonpb.KeyValue) map[string]*commonpb.AnyValue {
	m := make(map[string]*commonpb.AnyValue, len(kvs))
	for _, kv := range kvs {
		m[kv.GetKey()] = kv.GetValue()
	}
	return m
}

func stringAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: key, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}}}
}

func intAttr(key string, value int64) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: key, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: value}}}
}

func doubleAttr(key string, value float64) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: key, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: value}}}
}
