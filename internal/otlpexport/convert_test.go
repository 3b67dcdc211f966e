package otlpexport

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/tobert/render-trace/internal/report"
	"github.com/tobert/render-trace/internal/timing"
)

// events in completion order: head, item, body, page
func sampleEvents() []timing.TraceEvent {
	return []timing.TraceEvent{
		{Name: "page/head", StartTime: 1000.5, Duration: 1, Depth: 1},
		{Name: "page/body/item", Kind: "Site:Item", StartTime: 1003, Duration: 2, Depth: 2, ResourceDelta: 1},
		{Name: "page/body", StartTime: 1002, Duration: 4, Depth: 1, ResourceDelta: 1},
		{Name: "page", Kind: "Site:Page", StartTime: 1000, Duration: 7, Depth: 0, ResourceDelta: 1},
	}
}

func spansOf(rs *tracepb.ResourceSpans) []*tracepb.Span {
	return rs.GetScopeSpans()[0].GetSpans()
}

func attr(span *tracepb.Span, key string) string {
	for _, kv := range span.GetAttributes() {
		if kv.GetKey() == key {
			return kv.GetValue().GetStringValue()
		}
	}
	return ""
}

func TestToResourceSpansParents(t *testing.T) {
	traceID := TraceID("req-1")
	rs, err := ToResourceSpans("blog", traceID, sampleEvents())
	require.NoError(t, err)

	spans := spansOf(rs)
	require.Len(t, spans, 4)
	assert.Equal(t, ScopeName, rs.GetScopeSpans()[0].GetScope().GetName())
	assert.Equal(t, "blog", rs.GetResource().GetAttributes()[0].GetValue().GetStringValue())

	head, item, body, page := spans[0], spans[1], spans[2], spans[3]
	assert.Empty(t, page.GetParentSpanId(), "top-level span has no parent without a request span")
	assert.Equal(t, page.GetSpanId(), head.GetParentSpanId())
	assert.Equal(t, page.GetSpanId(), body.GetParentSpanId())
	assert.Equal(t, body.GetSpanId(), item.GetParentSpanId())

	assert.Equal(t, "Site:Page (page)", page.GetName())
	assert.Equal(t, "page/head", head.GetName())
	assert.Equal(t, uint64(1_000_500_000), head.GetStartTimeUnixNano())
	assert.Equal(t, uint64(1_001_500_000), head.GetEndTimeUnixNano())
	for _, s := range spans {
		assert.Equal(t, traceID, s.GetTraceId())
		assert.Len(t, s.GetSpanId(), 8)
	}
}

func TestToResourceSpansDeterministic(t *testing.T) {
	a, err := ToResourceSpans("svc", TraceID("x"), sampleEvents())
	require.NoError(t, err)
	b, err := ToResourceSpans("svc", TraceID("x"), sampleEvents())
	require.NoError(t, err)
	for i := range spansOf(a) {
		assert.Equal(t, spansOf(a)[i].GetSpanId(), spansOf(b)[i].GetSpanId())
	}
}

func TestToResourceSpansRejectsNegativeTime(t *testing.T) {
	_, err := ToResourceSpans("svc", TraceID("x"), []timing.TraceEvent{{Name: "a", StartTime: -5}})
	assert.Error(t, err)
}

func TestTraceID(t *testing.T) {
	id := "3f2504e0-4f89-41d3-9a0c-0305e82c3301"
	assert.Equal(t, "3f2504e04f8941d39a0c0305e82c3301", hex.EncodeToString(TraceID(id)))
	assert.Len(t, TraceID("not-a-uuid"), 16)
	assert.Equal(t, TraceID("not-a-uuid"), TraceID("not-a-uuid"))
	assert.NotEqual(t, TraceID("a"), TraceID("b"))
}

func TestReportRoundTrip(t *testing.T) {
	events := sampleEvents()
	in := &report.Report{
		ID:            "req-7",
		Method:        "POST",
		Path:          "/comment",
		StartRenderAt: 1000,
		EndRenderAt:   1007.25,
		RenderTime:    7.25,
		Timings:       timing.AggregateEvents(events),
		TraceEvents:   events,
	}
	in.SQLData.QueryCount = 1

	rs, err := ReportSpans("blog", in)
	require.NoError(t, err)
	spans := spansOf(rs)
	require.Len(t, spans, 5)
	assert.Equal(t, tracepb.Span_SPAN_KIND_SERVER, spans[0].GetKind())
	assert.Equal(t, "POST /comment", spans[0].GetName())
	assert.Equal(t, spans[0].GetSpanId(), spans[4].GetParentSpanId(), "render root hangs off the request span")

	out := FromResourceSpans([]*tracepb.ResourceSpans{rs})
	require.Len(t, out, 1)
	got := out[0]
	assert.Equal(t, "req-7", got.ID)
	assert.Equal(t, "/comment", got.Path)
	assert.Equal(t, 7.25, got.RenderTime)
	assert.InDelta(t, 1007.25, got.EndRenderAt, 1e-6)
	assert.Equal(t, 1, got.SQLData.QueryCount)
	assert.Equal(t, events, got.TraceEvents)
	assert.Equal(t, in.Timings, got.Timings)
}

func TestFromResourceSpansWithoutRequestSpan(t *testing.T) {
	rs, err := ToResourceSpans("svc", TraceID("bare"), sampleEvents())
	require.NoError(t, err)

	out := FromResourceSpans([]*tracepb.ResourceSpans{rs})
	require.Len(t, out, 1)
	assert.Equal(t, hex.EncodeToString(TraceID("bare")), out[0].ID)
	assert.Equal(t, 1000.0, out[0].StartRenderAt)
	assert.Equal(t, 7.0, out[0].RenderTime)
}

func TestJSONLRoundTrip(t *testing.T) {
	a, err := ToResourceSpans("svc", TraceID("a"), sampleEvents())
	require.NoError(t, err)
	b, err := ToResourceSpans("svc", TraceID("b"), sampleEvents()[:1])
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteJSONL(&buf, a, b))
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))
	assert.Contains(t, buf.String(), `"resourceSpans"`)

	back, err := ReadJSONL(&buf)
	require.NoError(t, err)
	require.Len(t, back, 2)
	assert.Len(t, spansOf(back[0]), 4)
	assert.Equal(t, "page/head", attr(spansOf(back[1])[0], AttrPath))

	_, err = ReadJSONL(bytes.NewBufferString("{not json}\n"))
	assert.Error(t, err)
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)
}
