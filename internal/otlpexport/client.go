package otlpexport

import (
	"context"
	"fmt"
	"log"
	"time"

	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tobert/render-trace/internal/report"
)

// DefaultServiceName labels exported spans when none is configured.
const DefaultServiceName = "render-trace"

// ClientConfig configures the OTLP gRPC exporter.
type ClientConfig struct {
	Endpoint    string        // host:port of an OTLP gRPC receiver
	ServiceName string        // service.name resource attribute
	Timeout     time.Duration // per export call; 0 means 10s
	Verbose     bool
}

// Client pushes reports to an OTLP collector. It implements
// renderhttp.Publisher.
type Client struct {
	conn    *grpc.ClientConn
	traces  collectortrace.TraceServiceClient
	service string
	timeout time.Duration
	verbose bool
}

// NewClient creates a client for cfg.Endpoint. The connection is
// established lazily on the first export.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("OTLP endpoint cannot be empty")
	}

	conn, err := grpc.NewClient(cfg.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP client for %s: %w", cfg.Endpoint, err)
	}

	c := &Client{
		conn:    conn,
		traces:  collectortrace.NewTraceServiceClient(conn),
		service: cfg.ServiceName,
		timeout: cfg.Timeout,
		verbose: cfg.Verbose,
	}
	if c.service == "" {
		c.service = DefaultServiceName
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	return c, nil
}

// Publish exports r as one trace.
func (c *Client) Publish(ctx context.Context, r *report.Report) error {
	rs, err := ReportSpans(c.service, r)
	if err != nil {
		return err
	}
	return c.Export(ctx, rs)
}

// Export sends already converted spans.
func (c *Client) Export(ctx context.Context, spans ...*tracepb.ResourceSpans) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.traces.Export(ctx, &collectortrace.ExportTraceServiceRequest{ResourceSpans: spans})
	if err != nil {
		return fmt.Errorf("OTLP export failed: %w", err)
	}
	if ps := resp.GetPartialSuccess(); ps != nil && ps.GetRejectedSpans() > 0 {
		log.Printf("⚠️  otlpexport: collector rejected %d spans: %s\n", ps.GetRejectedSpans(), ps.GetErrorMessage())
	} else if c.verbose {
		log.Printf("📤 exported %d resource spans\n", len(spans))
	}
	return nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
