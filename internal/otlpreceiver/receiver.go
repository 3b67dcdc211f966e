// Package otlpreceiver accepts render traces pushed by otlpexport clients
// over OTLP gRPC and publishes them as reports.
package otlpreceiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/grpc"

	"github.com/tobert/render-trace/internal/otlpexport"
	"github.com/tobert/render-trace/internal/report"
)

// Publisher is the interface for storing received reports.
// Implementations should be thread-safe as Export may be called concurrently.
type Publisher interface {
	Publish(ctx context.Context, r *report.Report) error
}

// Config holds configuration for the OTLP receiver.
type Config struct {
	Host string // e.g., "127.0.0.1"
	Port int    // 0 for ephemeral port assignment
}

// Server is the OTLP gRPC server that receives render traces.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	publisher  Publisher
	stopOnce   sync.Once
	stopChan   chan struct{}
	stopDone   chan struct{}
}

// NewServer creates a new OTLP gRPC server.
// The server will bind to the configured host and port (use port 0 for ephemeral).
// Received traces are converted to reports and passed to pub.
func NewServer(cfg Config, pub Publisher) (*Server, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher cannot be nil")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer()

	server := &Server{
		listener:   listener,
		grpcServer: grpcServer,
		publisher:  pub,
		stopChan:   make(chan struct{}),
		stopDone:   make(chan struct{}, 1),
	}

	collectortrace.RegisterTraceServiceServer(grpcServer, &traceServiceImpl{publisher: pub})

	return server, nil
}

// Start begins serving OTLP requests. This method blocks until Stop is called.
// It should typically be run in a goroutine.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stopChan:
		}
	}()

	err := s.grpcServer.Serve(s.listener)
	s.stopDone <- struct{}{}
	return err
}

// Stop initiates graceful shutdown of the server.
// Safe to call multiple times.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.grpcServer.GracefulStop()
		close(s.stopChan)
	})
}

// StopWait stops the server and waits for shutdown to complete.
func (s *Server) StopWait() {
	s.Stop()
	<-s.stopDone
}

// Endpoint returns the actual listening address, e.g. "127.0.0.1:54321".
func (s *Server) Endpoint() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// traceServiceImpl implements the OTLP TraceService gRPC interface.
type traceServiceImpl struct {
	collectortrace.UnimplementedTraceServiceServer
	publisher Publisher
}

// Export handles incoming trace export requests from OTLP clients.
// Traces that carry no render spans are accepted and dropped.
func (t *traceServiceImpl) Export(
	ctx context.Context,
	req *collectortrace.ExportTraceServiceRequest,
) (*collectortrace.ExportTraceServiceResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}

	var errs []error
	for _, r := range otlpexport.FromResourceSpans(req.ResourceSpans) {
		if err := t.publisher.Publish(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("report %s: %w", r.ID, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("failed to publish reports: %w", err)
	}

	return &collectortrace.ExportTraceServiceResponse{}, nil
}
