package mcpserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/render-trace/internal/reportreader"
	"github.com/tobert/render-trace/internal/sink"
	"github.com/tobert/render-trace/internal/storage"
	"github.com/tobert/render-trace/internal/viz"
)

// Server wraps the MCP server with report storage.
// It provides snapshot-aware tools for agents to inspect request render timings.
type Server struct {
	mcpServer *mcp.Server
	storage   *storage.ReportStorage
	snapshots *storage.SnapshotManager
	exports   sink.Sink

	// File sources - directories being watched for report JSONL files
	fileSourcesMu sync.RWMutex
	fileSources   map[string]*reportreader.Source

	thresholds viz.Thresholds
	now        func() time.Time
	verbose    bool
}

// ServerOptions configures the MCP server.
type ServerOptions struct {
	Verbose    bool           // Enable verbose logging
	Thresholds viz.Thresholds // Slow and warn classes in text output
	Now        func() time.Time
}

// NewServer creates a new MCP server over stored reports. Exported traces are
// written to exports.
func NewServer(reports *storage.ReportStorage, exports sink.Sink, opts ...ServerOptions) (*Server, error) {
	if reports == nil {
		return nil, fmt.Errorf("report storage cannot be nil")
	}
	if exports == nil {
		return nil, fmt.Errorf("export sink cannot be nil")
	}

	var opt ServerOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}

	s := &Server{
		storage:     reports,
		snapshots:   storage.NewSnapshotManager(),
		exports:     exports,
		fileSources: make(map[string]*reportreader.Source),
		thresholds:  opt.Thresholds,
		now:         opt.Now,
		verbose:     opt.Verbose,
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "render-trace",
		Title:   "Per-request Render Timings for Agents",
		Version: "0.1.0",
	}, &mcp.ServerOptions{
		Instructions: `Render timing server. Keeps the most recent request reports in memory: aggregated timings per render path, the span trace and SQL statistics.

Workflow: create_snapshot -> exercise the app -> list_reports(since_snapshot) -> get_timings / get_waterfall -> export_trace.

Report ids accept "latest" for the newest report.
Resources: render://stats, render://reports, render://reports/{id}, render://snapshots, render://file-sources.`,
		SubscribeHandler:   func(_ context.Context, _ *mcp.SubscribeRequest) error { return nil },
		UnsubscribeHandler: func(_ context.Context, _ *mcp.UnsubscribeRequest) error { return nil },
	})

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	s.registerResources()

	return s, nil
}

// Run starts the MCP server on stdio transport.
// This method blocks until the context is cancelled or EOF is received on stdin.
func (s *Server) Run(ctx context.Context) error {
	err := s.mcpServer.Run(ctx, &mcp.StdioTransport{})
	s.stopAllFileSources()
	return err
}

// MCPServer returns the underlying mcp.Server for use with alternative transports.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

// Shutdown performs cleanup when using non-stdio transports.
func (s *Server) Shutdown() {
	s.stopAllFileSources()
}

// Snapshots returns the snapshot bookmarks over the report buffer.
func (s *Server) Snapshots() *storage.SnapshotManager {
	return s.snapshots
}

// AddFileSource starts loading report JSONL files from a directory.
// Returns an error if the directory is already being watched.
func (s *Server) AddFileSource(ctx context.Context, directory string) error {
	s.fileSourcesMu.Lock()
	defer s.fileSourcesMu.Unlock()

	if _, exists := s.fileSources[directory]; exists {
		return fmt.Errorf("directory %s is already being watched", directory)
	}

	src, err := reportreader.New(reportreader.Config{
		Directory: directory,
		Verbose:   s.verbose,
	}, s.storage)
	if err != nil {
		return fmt.Errorf("failed to create file source: %w", err)
	}

	if err := src.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file source: %w", err)
	}

	s.fileSources[directory] = src
	return nil
}

// RemoveFileSource stops and removes a file source.
// The source is stopped outside the lock so Stop cannot block other operations.
func (s *Server) RemoveFileSource(directory string) error {
	s.fileSourcesMu.Lock()
	src, exists := s.fileSources[directory]
	if !exists {
		s.fileSourcesMu.Unlock()
		return fmt.Errorf("directory %s is not being watched", directory)
	}
	delete(s.fileSources, directory)
	s.fileSourcesMu.Unlock()

	src.Stop()
	return nil
}

// FileSourceStats returns stats for all file sources.
func (s *Server) FileSourceStats() []reportreader.Stats {
	s.fileSourcesMu.RLock()
	defer s.fileSourcesMu.RUnlock()

	stats := make([]reportreader.Stats, 0, len(s.fileSources))
	for _, src := range s.fileSources {
		stats = append(stats, src.Stats())
	}
	return stats
}

func (s *Server) stopAllFileSources() {
	s.fileSourcesMu.Lock()
	sources := make([]*reportreader.Source, 0, len(s.fileSources))
	for _, src := range s.fileSources {
		sources = append(sources, src)
	}
	clear(s.fileSources)
	s.fileSourcesMu.Unlock()

	for _, src := range sources {
		src.Stop()
	}
}
