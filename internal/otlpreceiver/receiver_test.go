package otlpreceiver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tobert/render-trace/internal/otlpexport"
	"github.com/tobert/render-trace/internal/report"
	"github.com/tobert/render-trace/internal/timing"
)

// mockPublisher is a test implementation of Publisher that records reports.
type mockPublisher struct {
	mu      sync.Mutex
	reports []*report.Report
	err     error // error to return from Publish
}

func (m *mockPublisher) Publish(ctx context.Context, r *report.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.reports = append(m.reports, r)
	return nil
}

func (m *mockPublisher) getReports() []*report.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*report.Report(nil), m.reports...)
}

// startServer runs a receiver on an ephemeral port until the test ends.
func startServer(t *testing.T, pub Publisher) *Server {
	t.Helper()
	server, err := NewServer(Config{Host: "127.0.0.1", Port: 0}, pub)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := server.Start(ctx); err != nil {
			t.Logf("Server error: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		server.Stop()
	})
	return server
}

func sampleReport() *report.Report {
	events := []timing.TraceEvent{
		{Name: "page/head", StartTime: 1_700_000_000_001, Duration: 2, Depth: 1},
		{Name: "page/body/item", Kind: "Site:Item", StartTime: 1_700_000_000_004, Duration: 1.5, Depth: 2, ResourceDelta: 1},
		{Name: "page/body/item", Kind: "Site:Item", StartTime: 1_700_000_000_006, Duration: 1.5, Depth: 2, ResourceDelta: 1},
		{Name: "page/body", StartTime: 1_700_000_000_003, Duration: 6, Depth: 1, ResourceDelta: 2},
		{Name: "page", Kind: "Site:Page", StartTime: 1_700_000_000_000, Duration: 10, Depth: 0, ResourceDelta: 2},
	}
	r := &report.Report{
		ID:            "3f2504e0-4f89-41d3-9a0c-0305e82c3301",
		Method:        "GET",
		Path:          "/blog",
		StartRenderAt: 1_700_000_000_000,
		EndRenderAt:   1_700_000_000_010,
		RenderTime:    10,
		Timings:       timing.AggregateEvents(events),
		TraceEvents:   events,
	}
	r.SQLData.QueryCount = 2
	r.SQLData.ExecutionTime = 0.75
	return r
}

// TestNewServer verifies server creation.
func TestNewServer(t *testing.T) {
	server, err := NewServer(Config{Host: "127.0.0.1", Port: 0}, &mockPublisher{})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Stop()

	if server.Endpoint() == "" {
		t.Fatal("endpoint is empty")
	}
}

// TestNewServerNilPublisher verifies that NewServer rejects nil publishers.
func TestNewServerNilPublisher(t *testing.T) {
	if _, err := NewServer(Config{Host: "127.0.0.1", Port: 0}, nil); err == nil {
		t.Fatal("expected error for nil publisher, got nil")
	}
}

// TestServerStartStop verifies the server can start and stop cleanly.
func TestServerStartStop(t *testing.T) {
	server, err := NewServer(Config{Host: "127.0.0.1", Port: 0}, &mockPublisher{})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(context.Background())
	}()

	time.Sleep(100 * time.Millisecond)
	server.Stop()

	select {
	case err := <-errChan:
		if err != nil {
			t.Logf("Server stopped with error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop in time")
	}
}

// TestClientRoundTrip sends a report through the OTLP exporter and expects
// the same report out of the receiver.
func TestClientRoundTrip(t *testing.T) {
	pub := &mockPublisher{}
	server := startServer(t, pub)

	client, err := otlpexport.NewClient(otlpexport.ClientConfig{Endpoint: server.Endpoint(), ServiceName: "blog"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	want := sampleReport()
	if err := client.Publish(context.Background(), want); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	got := pub.getReports()
	if len(got) != 1 {
		t.Fatalf("expected 1 report, got %d", len(got))
	}
	r := got[0]
	if r.ID != want.ID || r.Method != "GET" || r.Path != "/blog" || r.RenderTime != 10 {
		t.Errorf("request fields lost: %+v", r)
	}
	if r.SQLData.QueryCount != 2 || r.SQLData.ExecutionTime != 0.75 {
		t.Errorf("sql totals lost: %+v", r.SQLData)
	}
	if len(r.TraceEvents) != len(want.TraceEvents) {
		t.Fatalf("expected %d events, got %d", len(want.TraceEvents), len(r.TraceEvents))
	}
	for i, ev := range r.TraceEvents {
		w := want.TraceEvents[i]
		if ev.Name != w.Name || ev.Kind != w.Kind || ev.Depth != w.Depth || ev.ResourceDelta != w.ResourceDelta {
			t.Errorf("event %d: got %+v, want %+v", i, ev, w)
		}
		if d := ev.Duration - w.Duration; d > 1e-3 || d < -1e-3 {
			t.Errorf("event %d: duration %v, want %v", i, ev.Duration, w.Duration)
		}
	}
	if len(r.Timings) != 4 || r.Timings[1].Name != "page/body/item" || r.Timings[1].Count != 2 {
		t.Errorf("unexpected timings %+v", r.Timings)
	}
}

// TestExportIgnoresForeignSpans accepts spans that carry no render data.
func TestExportIgnoresForeignSpans(t *testing.T) {
	pub := &mockPublisher{}
	server := startServer(t, pub)

	conn, err := grpc.NewClient(server.Endpoint(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to create grpc client: %v", err)
	}
	defer conn.Close()

	req := &collectortrace.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{{
			ScopeSpans: []*tracepb.ScopeSpans{{
				Spans: []*tracepb.Span{{
					TraceId: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
					SpanId:  []byte{1, 2, 3, 4, 5, 6, 7, 8},
					Name:    "SELECT users",
					Attributes: []*commonpb.KeyValue{{
						Key:   "db.system",
						Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "postgresql"}},
					}},
				}},
			}},
		}},
	}

	resp, err := collectortrace.NewTraceServiceClient(conn).Export(context.Background(), req)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if resp == nil {
		t.Fatal("response is nil")
	}
	if n := len(pub.getReports()); n != 0 {
		t.Fatalf("expected no reports, got %d", n)
	}
}

// TestPublishErrorFailsExport surfaces publisher errors to the client.
func TestPublishErrorFailsExport(t *testing.T) {
	server := startServer(t, &mockPublisher{err: errors.New("store full")})

	client, err := otlpexport.NewClient(otlpexport.ClientConfig{Endpoint: server.Endpoint(), Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	if err := client.Publish(context.Background(), sampleReport()); err == nil {
		t.Fatal("expected export error")
	}
}
