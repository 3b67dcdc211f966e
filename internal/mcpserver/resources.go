package mcpserver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/render-trace/internal/viewer"
	"github.com/tobert/render-trace/internal/viz"
)

// recentLimit bounds the render://reports listing.
const recentLimit = 25

// registerResources registers all MCP resources and resource templates.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "render://stats",
		Name:        "stats",
		Description: "Report buffer usage, lifetime counters, average and slowest render time.",
		MIMEType:    "text/plain",
	}, s.handleStatsResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "render://reports",
		Name:        "reports",
		Description: "The most recent request reports with render time and SQL counts.",
		MIMEType:    "text/plain",
	}, s.handleReportsResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "render://snapshots",
		Name:        "snapshots",
		Description: "All snapshots with timestamps and report buffer positions.",
		MIMEType:    "text/plain",
	}, s.handleSnapshotsResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "render://file-sources",
		Name:        "file-sources",
		Description: "Directories being watched for report JSONL files.",
		MIMEType:    "text/plain",
	}, s.handleFileSourcesResource)

	s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "render://reports/{id}",
		Name:        "report-detail",
		Description: "One request report: timing table sorted by total time and the span waterfall. 'latest' selects the newest.",
		MIMEType:    "text/plain",
	}, s.handleReportDetailResource)
}

// ─── Static resource handlers ───────────────────────────────────────────

func (s *Server) handleStatsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	stats := s.storage.Stats()

	text := viz.StatsOverview(viz.BufferStats{
		ReportCount:     stats.Reports,
		ReportCapacity:  stats.Capacity,
		Published:       stats.Published,
		Evicted:         stats.Evicted,
		SnapshotCount:   s.snapshots.Count(),
		AvgRenderMs:     stats.AvgRenderMs,
		SlowestRenderMs: stats.SlowestRenderMs,
		SlowestID:       stats.SlowestID,
	})
	text += fmt.Sprintf("  Queries:   %s across held reports\n", fmtNum(stats.Queries))

	return textResult(req.Params.URI, text), nil
}

func (s *Server) handleReportsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	recent := s.storage.Recent(recentLimit)
	if len(recent) == 0 {
		return textResult(req.Params.URI, "Recent Reports (0)\n  (none)\n"), nil
	}

	summaries := make([]viz.ReportSummary, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		r := recent[i]
		summaries = append(summaries, viz.ReportSummary{
			ID:         r.ID,
			Method:     r.Method,
			Path:       r.Path,
			RenderMs:   r.RenderTime,
			QueryCount: r.SQLData.QueryCount,
			SpanCount:  len(r.TraceEvents),
		})
	}
	return textResult(req.Params.URI, viz.RecentReports(summaries, s.thresholds)), nil
}

func (s *Server) handleSnapshotsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	names := s.snapshots.List()

	var b strings.Builder
	fmt.Fprintf(&b, "Snapshots (%d)\n", len(names))
	b.WriteString("═════════════\n")

	if len(names) == 0 {
		b.WriteString("  (none)\n")
		return textResult(req.Params.URI, b.String()), nil
	}

	nameW := 4
	for _, name := range names {
		nameW = max(nameW, len(name))
	}

	fmt.Fprintf(&b, "  %-*s  %-19s  %8s\n", nameW, "Name", "Created", "Position")
	fmt.Fprintf(&b, "  %-*s  %-19s  %8s\n", nameW, strings.Repeat("─", nameW), strings.Repeat("─", 19), "────────")
	for _, name := range names {
		snap, err := s.snapshots.Get(name)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "  %-*s  %-19s  %8d\n",
			nameW, snap.Name, snap.CreatedAt.Format("2006-01-02 15:04:05"), snap.Position)
	}

	return textResult(req.Params.URI, b.String()), nil
}

func (s *Server) handleFileSourcesResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	stats := s.FileSourceStats()

	var b strings.Builder
	fmt.Fprintf(&b, "File Sources (%d)\n", len(stats))
	b.WriteString("═════════════════\n")

	if len(stats) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, stat := range stats {
		fmt.Fprintf(&b, "  %s\n", stat.Directory)
		fmt.Fprintf(&b, "    Files tracked:  %d\n", stat.FilesTracked)
		fmt.Fprintf(&b, "    Reports loaded: %s\n", fmtNum(stat.ReportsLoaded))
	}

	return textResult(req.Params.URI, b.String()), nil
}

// ─── Resource template handlers ─────────────────────────────────────────

func (s *Server) handleReportDetailResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	id, err := extractURIParam(req.Params.URI, "render://reports/")
	if err != nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	rep, ok := s.storage.Get(id)
	if !ok {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	var b strings.Builder
	title := fmt.Sprintf("Report: %s %s", rep.Method, rep.Path)
	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("═", len([]rune(title))) + "\n")
	fmt.Fprintf(&b, "  ID:       %s\n", rep.ID)
	fmt.Fprintf(&b, "  Render:   %.2f ms\n", rep.RenderTime)
	fmt.Fprintf(&b, "  Queries:  %d (%.2f ms)\n", rep.SQLData.QueryCount, rep.SQLData.ExecutionTime)
	if n := len(rep.SQLData.SlowQueries); n > 0 {
		fmt.Fprintf(&b, "  Slow SQL: %d\n", n)
	}
	b.WriteString("\n")

	state := viewer.SortState{Key: viewer.SortTotalTime, Dir: viewer.Descending}
	rows := state.Apply(rep.Timings)
	b.WriteString(viz.TimingTable(rows, viz.TableOptions{
		Width:      100,
		Thresholds: s.thresholds,
		Sort:       state,
	}))
	b.WriteString(viz.Summary(len(rows), len(rep.Timings), rep.RenderTime))
	b.WriteString("\n")

	if wf := viz.Waterfall(rep.TraceEvents, 100); wf != "" {
		b.WriteString("\n")
		b.WriteString(wf)
	}

	return textResult(req.Params.URI, b.String()), nil
}

// ─── Helpers ────────────────────────────────────────────────────────────

// extractURIParam extracts the parameter value from a URI by stripping the prefix
// and URL-decoding the remainder.
func extractURIParam(uri, prefix string) (string, error) {
	if !strings.HasPrefix(uri, prefix) {
		return "", fmt.Errorf("invalid URI: %s", uri)
	}
	param := strings.TrimPrefix(uri, prefix)
	if param == "" {
		return "", fmt.Errorf("empty parameter in URI: %s", uri)
	}
	decoded, err := url.PathUnescape(param)
	if err != nil {
		return "", fmt.Errorf("invalid encoding in URI: %w", err)
	}
	return decoded, nil
}

// textResult wraps a string in a ReadResourceResult.
func textResult(uri, text string) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:  uri,
			Text: text,
		}},
	}
}

// fmtNum formats an integer with comma separators (e.g. 10,000).
func fmtNum(n int) string {
	if n < 0 {
		return "-" + fmtNum(-n)
	}
	s := fmt.Sprintf("%d", n)
	if n < 1000 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}
