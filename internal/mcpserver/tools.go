package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/render-trace/internal/report"
	"github.com/tobert/render-trace/internal/storage"
	"github.com/tobert/render-trace/internal/timing"
	"github.com/tobert/render-trace/internal/viewer"
	"github.com/tobert/render-trace/internal/viz"
)

// ═══════════════════════════════════════════════════════════════════════════
// REPORT TOOLS
//
// 1. list_reports - Recent request reports, optionally since a snapshot
// 2. get_timings - Filtered and sorted per-path timings of one report
// 3. get_waterfall - ASCII call tree of one report's spans
// 4. export_trace - Write a Trace Event Format file for one report
// 5. create_snapshot - Bookmark the report buffer position
// 6. manage_snapshots - List and delete snapshots
// 7. get_stats - Buffer health dashboard
// 8. clear_reports - Reset everything
// ═══════════════════════════════════════════════════════════════════════════

// Tool 1: list_reports

type ListReportsInput struct {
	Method        string  `json:"method,omitempty" jsonschema:"Filter by HTTP method (case-insensitive)"`
	PathContains  string  `json:"path_contains,omitempty" jsonschema:"Filter by substring of the request path (case-insensitive)"`
	MinRenderMs   float64 `json:"min_render_ms,omitempty" jsonschema:"Only reports whose render time is at least this many milliseconds"`
	MinQueries    int     `json:"min_queries,omitempty" jsonschema:"Only reports that issued at least this many SQL statements"`
	Span          string  `json:"span,omitempty" jsonschema:"Only reports containing a timing for this exact render path"`
	SinceSnapshot string  `json:"since_snapshot,omitempty" jsonschema:"Only reports published after this snapshot was created"`
	Limit         int     `json:"limit,omitempty" jsonschema:"Maximum reports returned, most recent kept (0 = no limit)"`
}

type ListReportsOutput struct {
	Reports []ReportSummary `json:"reports" jsonschema:"Matching reports, newest first"`
	Count   int             `json:"count" jsonschema:"Number of reports returned"`
}

type ReportSummary struct {
	ID          string  `json:"id" jsonschema:"Report ID"`
	Method      string  `json:"method" jsonschema:"HTTP method"`
	Path        string  `json:"path" jsonschema:"Request path"`
	RenderMs    float64 `json:"render_ms" jsonschema:"Total render time in milliseconds"`
	Class       string  `json:"class,omitempty" jsonschema:"slow or warn when above the thresholds"`
	QueryCount  int     `json:"query_count" jsonschema:"SQL statements issued"`
	SpanCount   int     `json:"span_count" jsonschema:"Trace events recorded"`
	UniquePaths int     `json:"unique_paths" jsonschema:"Distinct render paths"`
}

func (s *Server) summarize(r *report.Report) ReportSummary {
	return ReportSummary{
		ID:          r.ID,
		Method:      r.Method,
		Path:        r.Path,
		RenderMs:    r.RenderTime,
		Class:       s.thresholds.Classify(r.RenderTime).String(),
		QueryCount:  r.SQLData.QueryCount,
		SpanCount:   len(r.TraceEvents),
		UniquePaths: len(r.Timings),
	}
}

func (s *Server) handleListReports(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ListReportsInput,
) (*mcp.CallToolResult, ListReportsOutput, error) {
	candidates := s.storage.List()
	if input.SinceSnapshot != "" {
		snap, err := s.snapshots.Get(input.SinceSnapshot)
		if err != nil {
			return nil, ListReportsOutput{}, fmt.Errorf("since_snapshot: %w", err)
		}
		candidates, _ = s.storage.Since(snap.Position)
	}

	matched := storage.FilterReports(candidates, storage.ReportFilter{
		Method:       input.Method,
		PathContains: input.PathContains,
		MinRenderMs:  input.MinRenderMs,
		MinQueries:   input.MinQueries,
		Span:         input.Span,
		Limit:        input.Limit,
	})

	out := ListReportsOutput{Reports: make([]ReportSummary, 0, len(matched))}
	for i := len(matched) - 1; i >= 0; i-- {
		out.Reports = append(out.Reports, s.summarize(matched[i]))
	}
	out.Count = len(out.Reports)
	return &mcp.CallToolResult{}, out, nil
}

// Tool 2: get_timings

type GetTimingsInput struct {
	ReportID string `json:"report_id,omitempty" jsonschema:"Report ID or 'latest' (default latest)"`
	Query    string `json:"query,omitempty" jsonschema:"Case-insensitive substring filter on the render path"`
	HideFast bool   `json:"hide_fast,omitempty" jsonschema:"Hide paths whose total time is at most 0.5 ms"`
	SortBy   string `json:"sort_by,omitempty" jsonschema:"name, count, totalTime, maxTime, avgTime or totalResourceCount (default name)"`
	SortDir  string `json:"sort_dir,omitempty" jsonschema:"asc or desc (default asc)"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum rows returned after sorting (0 = no limit)"`
}

type GetTimingsOutput struct {
	ReportID   string          `json:"report_id" jsonschema:"Resolved report ID"`
	Method     string          `json:"method" jsonschema:"HTTP method"`
	Path       string          `json:"path" jsonschema:"Request path"`
	RenderMs   float64         `json:"render_ms" jsonschema:"Total render time in milliseconds"`
	Timings    []timing.Timing `json:"timings" jsonschema:"Timing rows per render path"`
	Shown      int             `json:"shown" jsonschema:"Rows after filtering"`
	Total      int             `json:"total" jsonschema:"Rows before filtering"`
	Summary    string          `json:"summary" jsonschema:"Human readable summary line"`
	SQLQueries int             `json:"sql_queries" jsonschema:"SQL statements issued by the request"`
}

func (s *Server) handleGetTimings(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetTimingsInput,
) (*mcp.CallToolResult, GetTimingsOutput, error) {
	rep, err := s.report(input.ReportID)
	if err != nil {
		return nil, GetTimingsOutput{}, err
	}

	state := viewer.DefaultSortState()
	if input.SortBy != "" {
		if state.Key, err = viewer.ParseSortKey(input.SortBy); err != nil {
			return nil, GetTimingsOutput{}, err
		}
	}
	if input.SortDir != "" {
		if state.Dir, err = viewer.ParseDirection(input.SortDir); err != nil {
			return nil, GetTimingsOutput{}, err
		}
	}

	opts := viewer.FilterOptions{Query: input.Query}
	if input.HideFast {
		opts.AboveMs = viewer.HideNegligible()
	}
	rows := state.Apply(viewer.Filter(rep.Timings, opts))
	shown := len(rows)
	if input.Limit > 0 && len(rows) > input.Limit {
		rows = rows[:input.Limit]
	}

	return &mcp.CallToolResult{}, GetTimingsOutput{
		ReportID:   rep.ID,
		Method:     rep.Method,
		Path:       rep.Path,
		RenderMs:   rep.RenderTime,
		Timings:    rows,
		Shown:      shown,
		Total:      len(rep.Timings),
		Summary:    viz.Summary(shown, len(rep.Timings), rep.RenderTime),
		SQLQueries: rep.SQLData.QueryCount,
	}, nil
}

// Tool 3: get_waterfall

type GetWaterfallInput struct {
	ReportID string `json:"report_id,omitempty" jsonschema:"Report ID or 'latest' (default latest)"`
	Width    int    `json:"width,omitempty" jsonschema:"Line width in columns (default 100)"`
}

type GetWaterfallOutput struct {
	ReportID  string `json:"report_id" jsonschema:"Resolved report ID"`
	SpanCount int    `json:"span_count" jsonschema:"Trace events in the report"`
	Waterfall string `json:"waterfall" jsonschema:"ASCII call tree with timing bars"`
}

func (s *Server) handleGetWaterfall(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetWaterfallInput,
) (*mcp.CallToolResult, GetWaterfallOutput, error) {
	rep, err := s.report(input.ReportID)
	if err != nil {
		return nil, GetWaterfallOutput{}, err
	}
	width := input.Width
	if width <= 0 {
		width = 100
	}
	return &mcp.CallToolResult{}, GetWaterfallOutput{
		ReportID:  rep.ID,
		SpanCount: len(rep.TraceEvents),
		Waterfall: viz.Waterfall(rep.TraceEvents, width),
	}, nil
}

// Tool 4: export_trace

type ExportTraceInput struct {
	ReportID string `json:"report_id,omitempty" jsonschema:"Report ID or 'latest' (default latest)"`
}

type ExportTraceOutput struct {
	ReportID string `json:"report_id" jsonschema:"Resolved report ID"`
	Exported bool   `json:"exported" jsonschema:"False when the report has no trace events"`
	Location string `json:"location,omitempty" jsonschema:"Where the trace file was written"`
	Events   int    `json:"events" jsonschema:"Events in the exported file"`
	Message  string `json:"message" jsonschema:"Status message"`
}

func (s *Server) handleExportTrace(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ExportTraceInput,
) (*mcp.CallToolResult, ExportTraceOutput, error) {
	rep, err := s.report(input.ReportID)
	if err != nil {
		return nil, ExportTraceOutput{}, err
	}

	doc, ok := viewer.ExportTrace(rep.TraceEvents)
	if !ok {
		return &mcp.CallToolResult{}, ExportTraceOutput{
			ReportID: rep.ID,
			Message:  "report has no trace events, nothing exported",
		}, nil
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, ExportTraceOutput{}, fmt.Errorf("failed to encode trace: %w", err)
	}
	location, err := s.exports.PutFile(ctx, viewer.ExportFilename(s.now()), "application/json", data)
	if err != nil {
		return nil, ExportTraceOutput{}, fmt.Errorf("failed to write trace: %w", err)
	}

	return &mcp.CallToolResult{}, ExportTraceOutput{
		ReportID: rep.ID,
		Exported: true,
		Location: location,
		Events:   len(doc.TraceEvents),
		Message:  fmt.Sprintf("Exported %d events; open in chrome://tracing or ui.perfetto.dev", len(doc.TraceEvents)),
	}, nil
}

// Tool 5: create_snapshot

type CreateSnapshotInput struct {
	Name string `json:"name" jsonschema:"Snapshot name (e.g. 'before-fix', 'warm-cache')"`
}

type CreateSnapshotOutput struct {
	Name     string `json:"name" jsonschema:"Snapshot name"`
	Position int    `json:"position" jsonschema:"Report buffer position"`
	Message  string `json:"message" jsonschema:"Success message"`
}

func (s *Server) handleCreateSnapshot(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input CreateSnapshotInput,
) (*mcp.CallToolResult, CreateSnapshotOutput, error) {
	if input.Name == "" {
		return nil, CreateSnapshotOutput{}, fmt.Errorf("snapshot name cannot be empty")
	}

	pos := s.storage.Position()
	if err := s.snapshots.Create(input.Name, pos); err != nil {
		return nil, CreateSnapshotOutput{}, fmt.Errorf("failed to create snapshot: %w", err)
	}

	return &mcp.CallToolResult{}, CreateSnapshotOutput{
		Name:     input.Name,
		Position: pos,
		Message:  fmt.Sprintf("Created snapshot '%s' at report position %d", input.Name, pos),
	}, nil
}

// Tool 6: manage_snapshots

type ManageSnapshotsInput struct {
	Action string `json:"action" jsonschema:"Action: 'list', 'delete', or 'clear'"`
	Name   string `json:"name,omitempty" jsonschema:"Snapshot name (required for 'delete')"`
}

type ManageSnapshotsOutput struct {
	Action    string   `json:"action" jsonschema:"Action performed"`
	Snapshots []string `json:"snapshots,omitempty" jsonschema:"List of snapshot names (for 'list')"`
	Message   string   `json:"message" jsonschema:"Status message"`
}

func (s *Server) handleManageSnapshots(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ManageSnapshotsInput,
) (*mcp.CallToolResult, ManageSnapshotsOutput, error) {
	switch input.Action {
	case "list":
		snapshots := s.snapshots.List()
		return &mcp.CallToolResult{}, ManageSnapshotsOutput{
			Action:    "list",
			Snapshots: snapshots,
			Message:   fmt.Sprintf("Found %d snapshots", len(snapshots)),
		}, nil

	case "delete":
		if input.Name == "" {
			return nil, ManageSnapshotsOutput{}, fmt.Errorf("snapshot name required for delete action")
		}
		if err := s.snapshots.Delete(input.Name); err != nil {
			return nil, ManageSnapshotsOutput{}, fmt.Errorf("failed to delete snapshot: %w", err)
		}
		return &mcp.CallToolResult{}, ManageSnapshotsOutput{
			Action:  "delete",
			Message: fmt.Sprintf("Deleted snapshot '%s'", input.Name),
		}, nil

	case "clear":
		s.snapshots.Clear()
		return &mcp.CallToolResult{}, ManageSnapshotsOutput{
			Action:  "clear",
			Message: "Cleared all snapshots",
		}, nil

	default:
		return nil, ManageSnapshotsOutput{}, fmt.Errorf("invalid action: %s (must be 'list', 'delete', or 'clear')", input.Action)
	}
}

// Tool 7: get_stats

type GetStatsInput struct{}

type GetStatsOutput struct {
	Storage   storage.StorageStats `json:"storage" jsonschema:"Report buffer statistics"`
	Snapshots int                  `json:"snapshot_count" jsonschema:"Number of snapshots"`
	Sources   int                  `json:"file_source_count" jsonschema:"Directories watched for report files"`
}

func (s *Server) handleGetStats(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetStatsInput,
) (*mcp.CallToolResult, GetStatsOutput, error) {
	return &mcp.CallToolResult{}, GetStatsOutput{
		Storage:   s.storage.Stats(),
		Snapshots: s.snapshots.Count(),
		Sources:   len(s.FileSourceStats()),
	}, nil
}

// Tool 8: clear_reports

type ClearReportsInput struct{}

type ClearReportsOutput struct {
	Message string `json:"message" jsonschema:"Confirmation message"`
}

func (s *Server) handleClearReports(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ClearReportsInput,
) (*mcp.CallToolResult, ClearReportsOutput, error) {
	s.storage.Clear()
	s.snapshots.Clear()

	return &mcp.CallToolResult{}, ClearReportsOutput{
		Message: "Cleared all reports and snapshots (complete reset)",
	}, nil
}

// report resolves an id, defaulting to the newest report.
func (s *Server) report(id string) (*report.Report, error) {
	if id == "" {
		id = storage.LatestID
	}
	rep, ok := s.storage.Get(id)
	if !ok {
		if id == storage.LatestID {
			return nil, fmt.Errorf("no reports captured yet")
		}
		return nil, fmt.Errorf("report %q not found", id)
	}
	return rep, nil
}

// Register all tools

func (s *Server) registerTools() error {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_reports",
		Description: "List captured request reports, newest first. Filter by method, path substring, minimum render time, minimum SQL query count or a render path that must appear. Pass since_snapshot to see only requests made after a bookmark, e.g. after reproducing a slow page.",
	}, s.handleListReports)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_timings",
		Description: "Per render path timings of one request: call count, total, max and average milliseconds, and SQL statements issued inside the path. Filter with a path substring, hide negligible paths (≤ 0.5 ms) and sort by any column. Sort by totalTime desc to find the hot spots.",
	}, s.handleGetTimings)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_waterfall",
		Description: "ASCII call tree of one request's render spans with start-offset bars and per-span durations and SQL counts. Shows where in the render the time went and which components nest inside which.",
	}, s.handleGetWaterfall)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "export_trace",
		Description: "Write one request's spans as a Trace Event Format file (render-trace-<unixms>.json) that chrome://tracing, Perfetto and speedscope open directly. Reports without spans export nothing.",
	}, s.handleExportTrace)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "create_snapshot",
		Description: "Bookmark the current report buffer position with a name (e.g. 'before-fix'). Then list_reports(since_snapshot) shows only requests captured afterwards.",
	}, s.handleCreateSnapshot)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "manage_snapshots",
		Description: "List ('list'), delete ('delete') or clear ('clear') snapshot bookmarks. Reports are not affected.",
	}, s.handleManageSnapshots)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_stats",
		Description: "Report buffer health: reports held versus capacity, lifetime published and evicted counts, average and slowest render time, SQL statements across held reports.",
	}, s.handleGetStats)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "clear_reports",
		Description: "Nuclear option - wipes ALL stored reports and snapshots. For normal cleanup, delete individual snapshots with manage_snapshots instead.",
	}, s.handleClearReports)

	return nil
}
