// Package renderhttp instruments HTTP handlers: every request gets its own
// timing collector and query log, and a report is published once the
// handler returns.
package renderhttp

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/tobert/render-trace/internal/querylog"
	"github.com/tobert/render-trace/internal/report"
	"github.com/tobert/render-trace/internal/timing"
)

// HeaderReportID carries the report identifier on instrumented responses.
const HeaderReportID = "X-Render-Trace-Id"

// Publisher receives finished reports.
type Publisher interface {
	Publish(ctx context.Context, r *report.Report) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, r *report.Report) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, r *report.Report) error {
	return f(ctx, r)
}

// Options configures the middleware.
type Options struct {
	// Skip excludes requests from tracing when it returns true.
	Skip func(r *http.Request) bool

	// SlowQueryThreshold is passed to each request's query log.
	SlowQueryThreshold time.Duration

	// PublishTimeout bounds each Publish call. Zero means 5s.
	PublishTimeout time.Duration

	// Now replaces time.Now for the collector and request timestamps.
	Now func() time.Time

	Verbose bool
}

// Middleware returns a handler wrapper that traces every request and hands
// the resulting report to pub. Publish failures are logged and never change
// the response.
func Middleware(pub Publisher, opts Options) func(http.Handler) http.Handler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	publishTimeout := opts.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = 5 * time.Second
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if pub == nil || (opts.Skip != nil && opts.Skip(r)) {
				next.ServeHTTP(w, r)
				return
			}

			queries := querylog.New(querylog.Options{SlowThreshold: opts.SlowQueryThreshold})
			collector := timing.NewCollector(queries, timing.WithClock(now))

			ctx := timing.NewContext(r.Context(), collector)
			ctx = querylog.NewContext(ctx, queries)

			id := report.NewID()
			w.Header().Set(HeaderReportID, id)

			start := now()
			next.ServeHTTP(w, r.WithContext(ctx))
			end := now()

			rep := report.Build(report.Meta{
				ID:     id,
				Method: r.Method,
				Path:   r.URL.Path,
				Start:  start,
				End:    end,
			}, collector, queries)

			pubCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), publishTimeout)
			defer cancel()
			if err := pub.Publish(pubCtx, rep); err != nil {
				log.Printf("⚠️  renderhttp: failed to publish report %s: %v", rep.ID, err)
				return
			}
			if opts.Verbose {
				log.Printf("🧭 %s %s rendered in %.2fms (%d spans, %d queries)",
					rep.Method, rep.Path, rep.RenderTime, len(rep.TraceEvents), rep.SQLData.QueryCount)
			}
		})
	}
}
