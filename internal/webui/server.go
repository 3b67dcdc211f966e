package webui

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/golang/groupcache/lru"

	"github.com/tobert/render-trace/internal/report"
	"github.com/tobert/render-trace/internal/storage"
	"github.com/tobert/render-trace/internal/timing"
	"github.com/tobert/render-trace/internal/viewer"
	"github.com/tobert/render-trace/internal/viz"
)

//go:embed static/index.html
var staticFiles embed.FS

// exportCacheSize is the number of encoded trace exports kept in memory.
const exportCacheSize = 32

// Server serves the embedded web viewer, its JSON API and WebSocket updates.
type Server struct {
	storage    *storage.ReportStorage
	thresholds viz.Thresholds
	now        func() time.Time

	exportMu    sync.Mutex
	exportCache *lru.Cache // report id -> encoded ChromeTrace
}

// Option configures a Server.
type Option func(*Server)

// WithThresholds sets the slow and warn time classes reported to the UI.
func WithThresholds(th viz.Thresholds) Option {
	return func(s *Server) { s.thresholds = th }
}

// WithClock replaces time.Now for export file names.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a new web UI server.
func New(s *storage.ReportStorage, opts ...Option) *Server {
	srv := &Server{
		storage:     s,
		now:         time.Now,
		exportCache: lru.New(exportCacheSize),
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// RegisterRoutes attaches web UI routes to an existing ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ui/", s.handleUI)
	mux.HandleFunc("GET /ui", s.handleUIRedirect)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/reports", s.handleReports)
	mux.HandleFunc("GET /api/reports/{id}", s.handleReport)
	mux.HandleFunc("GET /api/reports/{id}/timings", s.handleTimings)
	mux.HandleFunc("GET /api/reports/{id}/trace", s.handleTrace)
	mux.HandleFunc("GET /api/reports/{id}/waterfall", s.handleWaterfall)
	mux.HandleFunc("GET /api/reports/{id}/export", s.handleExport)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// Handler returns a mux serving all web UI routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// ListenAndServe starts a standalone HTTP server for the web UI.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleUIRedirect redirects /ui to /ui/ for consistent routing.
func (s *Server) handleUIRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/ui/", http.StatusMovedPermanently)
}

// handleUI serves the embedded index.html.
func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	data, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "UI not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// handleStatus returns storage statistics.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.storage.Stats())
}

// reportSummary is the list entry for one report.
type reportSummary struct {
	ID         string  `json:"id"`
	Method     string  `json:"method"`
	Path       string  `json:"path"`
	StartedAt  float64 `json:"startRenderAt"`
	RenderTime float64 `json:"renderTime"`
	Class      string  `json:"class,omitempty"`
	Queries    int     `json:"queryCount"`
	Spans      int     `json:"spanCount"`
	Paths      int     `json:"pathCount"`
}

func (s *Server) summarize(r *report.Report) reportSummary {
	return reportSummary{
		ID:         r.ID,
		Method:     r.Method,
		Path:       r.Path,
		StartedAt:  r.StartRenderAt,
		RenderTime: r.RenderTime,
		Class:      s.thresholds.Classify(r.RenderTime).String(),
		Queries:    r.SQLData.QueryCount,
		Spans:      len(r.TraceEvents),
		Paths:      len(r.Timings),
	}
}

// handleReports lists stored reports, newest first.
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := storage.ReportFilter{
		Method:       q.Get("method"),
		PathContains: q.Get("path"),
		Span:         q.Get("span"),
	}
	if v := q.Get("min_ms"); v != "" {
		ms, err := strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, "invalid min_ms", http.StatusBadRequest)
			return
		}
		filter.MinRenderMs = ms
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	reports := s.storage.Filter(filter)
	out := make([]reportSummary, 0, len(reports))
	for i := len(reports) - 1; i >= 0; i-- {
		out = append(out, s.summarize(reports[i]))
	}
	writeJSON(w, out)
}

// lookup resolves the {id} path value, writing a 404 when it is unknown.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*report.Report, bool) {
	rep, ok := s.storage.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "report not found", http.StatusNotFound)
		return nil, false
	}
	return rep, true
}

// handleReport returns one full report.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, rep)
}

// timingRow is a timing with its highlight class.
type timingRow struct {
	timing.Timing
	Class string `json:"class,omitempty"`
}

// timingsResponse is the JSON shape for /api/reports/{id}/timings.
type timingsResponse struct {
	ReportID   string      `json:"reportId"`
	Rows       []timingRow `json:"rows"`
	Sort       sortJSON    `json:"sort"`
	Shown      int         `json:"shown"`
	Total      int         `json:"total"`
	RenderTime float64     `json:"renderTime"`
	Summary    string      `json:"summary"`
}

type sortJSON struct {
	Key viewer.SortKey   `json:"key"`
	Dir viewer.Direction `json:"dir"`
}

// sortFromQuery reads the client's sort state and applies an optional
// column toggle.
func sortFromQuery(q map[string][]string) (viewer.SortState, error) {
	get := func(k string) string {
		if v := q[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	state := viewer.DefaultSortState()
	if v := get("sort"); v != "" {
		key, err := viewer.ParseSortKey(v)
		if err != nil {
			return state, err
		}
		state.Key = key
	}
	if v := get("dir"); v != "" {
		dir, err := viewer.ParseDirection(v)
		if err != nil {
			return state, err
		}
		state.Dir = dir
	}
	if v := get("toggle"); v != "" {
		key, err := viewer.ParseSortKey(v)
		if err != nil {
			return state, err
		}
		state = state.Toggle(key)
	}
	return state, nil
}

// handleTimings returns filtered, sorted timing rows.
func (s *Server) handleTimings(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.lookup(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	state, err := sortFromQuery(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	opts := viewer.FilterOptions{Query: q.Get("q")}
	if hide, _ := strconv.ParseBool(q.Get("hide_fast")); hide {
		opts.AboveMs = viewer.HideNegligible()
	}

	rows := state.Apply(viewer.Filter(rep.Timings, opts))
	out := make([]timingRow, len(rows))
	for i, row := range rows {
		out[i] = timingRow{Timing: row, Class: s.thresholds.Classify(row.TotalTime).String()}
	}

	writeJSON(w, timingsResponse{
		ReportID:   rep.ID,
		Rows:       out,
		Sort:       sortJSON{Key: state.Key, Dir: state.Dir},
		Shown:      len(rows),
		Total:      len(rep.Timings),
		RenderTime: rep.RenderTime,
		Summary:    viz.Summary(len(rows), len(rep.Timings), rep.RenderTime),
	})
}

// traceNode is one span of the reconstructed call tree.
type traceNode struct {
	timing.TraceEvent
	Label    string      `json:"label"`
	Offset   float64     `json:"offset"` // ms since the earliest span started
	Children []traceNode `json:"children,omitempty"`
}

// MarshalJSON flattens the embedded event next to the tree fields.
func (n traceNode) MarshalJSON() ([]byte, error) {
	ev, err := json.Marshal(n.TraceEvent)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(ev, &fields); err != nil {
		return nil, err
	}
	fields["label"] = n.Label
	fields["offset"] = n.Offset
	if len(n.Children) > 0 {
		fields["children"] = n.Children
	}
	return json.Marshal(fields)
}

func toTraceNodes(nodes []*timing.SpanNode, origin float64) []traceNode {
	out := make([]traceNode, len(nodes))
	for i, n := range nodes {
		out[i] = traceNode{
			TraceEvent: n.Event,
			Label:      viewer.DisplayName(n.Event),
			Offset:     timing.Round2(n.Event.StartTime - origin),
			Children:   toTraceNodes(n.Children, origin),
		}
	}
	return out
}

// handleTrace returns the trace events as a call tree.
func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.lookup(w, r)
	if !ok {
		return
	}

	origin := 0.0
	for i, ev := range rep.TraceEvents {
		if i == 0 || ev.StartTime < origin {
			origin = ev.StartTime
		}
	}
	writeJSON(w, map[string]any{
		"reportId": rep.ID,
		"spans":    toTraceNodes(timing.BuildTree(rep.TraceEvents), origin),
	})
}

// handleWaterfall returns the ASCII waterfall as plain text.
func (s *Server) handleWaterfall(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.lookup(w, r)
	if !ok {
		return
	}
	width := 100
	if v, err := strconv.Atoi(r.URL.Query().Get("width")); err == nil && v > 0 {
		width = v
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, viz.Waterfall(rep.TraceEvents, width))
}

// handleExport downloads the trace in Trace Event Format. Reports without
// trace events answer 204 and no file.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.lookup(w, r)
	if !ok {
		return
	}

	data, ok, err := s.exportJSON(rep)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", viewer.ExportFilename(s.now())))
	w.Write(data)
}

func (s *Server) exportJSON(rep *report.Report) ([]byte, bool, error) {
	s.exportMu.Lock()
	cached, hit := s.exportCache.Get(rep.ID)
	s.exportMu.Unlock()
	if hit {
		return cached.([]byte), true, nil
	}

	doc, ok := viewer.ExportTrace(rep.TraceEvents)
	if !ok {
		return nil, false, nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode trace: %w", err)
	}

	s.exportMu.Lock()
	s.exportCache.Add(rep.ID, data)
	s.exportMu.Unlock()
	return data, true, nil
}

// wsUpdate is the server-sent update message on the WebSocket.
type wsUpdate struct {
	Generation uint64          `json:"generation"`
	Reports    int             `json:"reports"`
	Published  int64           `json:"published"`
	New        []reportSummary `json:"new,omitempty"`
	Reset      bool            `json:"reset,omitempty"`
}

// handleWebSocket upgrades to WebSocket and pushes newly published reports.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for localhost dev
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())

	notifyCh, unsubscribe := s.storage.Subscribe()
	defer unsubscribe()

	// Back up to include recent history on connect
	const backfill = 20
	lastPos := max(0, s.storage.Position()-backfill)

	s.sendWSUpdate(ctx, conn, &lastPos)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-notifyCh:
			if !s.sendWSUpdate(ctx, conn, &lastPos) {
				return
			}
		case <-keepalive.C:
			if !s.sendWSUpdate(ctx, conn, &lastPos) {
				return
			}
		}
	}
}

// sendWSUpdate sends reports published since *lastPos. It reports false when
// the connection is gone.
func (s *Server) sendWSUpdate(ctx context.Context, conn *websocket.Conn, lastPos *int) bool {
	update := wsUpdate{Generation: s.storage.Generation()}

	pos := s.storage.Position()
	if pos < *lastPos {
		// store was cleared
		update.Reset = true
		*lastPos = 0
	}

	reports, next := s.storage.Since(*lastPos)
	*lastPos = next
	for _, rep := range reports {
		update.New = append(update.New, s.summarize(rep))
	}

	stats := s.storage.Stats()
	update.Reports = stats.Reports
	update.Published = stats.Published

	data, err := json.Marshal(update)
	if err != nil {
		log.Printf("webui: failed to marshal update: %v", err)
		return true
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data) == nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "")
	if err := enc.Encode(v); err != nil {
		log.Printf("webui: failed to write JSON: %v", err)
	}
}
