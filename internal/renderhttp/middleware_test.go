package renderhttp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/render-trace/internal/querylog"
	"github.com/tobert/render-trace/internal/report"
	"github.com/tobert/render-trace/internal/rendertree"
	"github.com/tobert/render-trace/internal/timing"
)

type capturePublisher struct {
	mu      sync.Mutex
	reports []*report.Report
	err     error
}

func (p *capturePublisher) Publish(_ context.Context, r *report.Report) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, r)
	return p.err
}

func renderHandler(t *testing.T) http.Handler {
	t.Helper()
	tree := &rendertree.Node{
		Path: "page",
		Children: []*rendertree.Node{
			rendertree.Leaf("page/body", "Neos.Fusion:Tag", func(ctx context.Context) (string, error) {
				querylog.FromContext(ctx).Record(querylog.Query{SQL: "SELECT 1", Table: "nodes"})
				return "body", nil
			}),
		},
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out, err := rendertree.Evaluate(r.Context(), tree)
		require.NoError(t, err)
		w.Write([]byte(out))
	})
}

func TestMiddlewarePublishesReport(t *testing.T) {
	pub := &capturePublisher{}
	clock := time.UnixMilli(1_700_000_000_000)
	now := func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}

	handler := Middleware(pub, Options{Now: now})(renderHandler(t))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/about", nil))

	assert.Equal(t, "body", rec.Body.String())
	require.Len(t, pub.reports, 1)

	rep := pub.reports[0]
	assert.Equal(t, rec.Header().Get(HeaderReportID), rep.ID)
	assert.Equal(t, "GET", rep.Method)
	assert.Equal(t, "/about", rep.Path)
	assert.Equal(t, 1, rep.SQLData.QueryCount)
	require.Len(t, rep.TraceEvents, 2)
	assert.Equal(t, "page/body", rep.TraceEvents[0].Name)
	assert.Equal(t, int64(1), rep.TraceEvents[0].ResourceDelta)
	assert.Greater(t, rep.RenderTime, 0.0)
}

func TestMiddlewareIsolatesRequests(t *testing.T) {
	pub := &capturePublisher{}
	handler := Middleware(pub, Options{})(renderHandler(t))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		}()
	}
	wg.Wait()

	require.Len(t, pub.reports, 8)
	for _, rep := range pub.reports {
		assert.Len(t, rep.TraceEvents, 2)
		assert.Equal(t, 1, rep.SQLData.QueryCount)
	}
}

func TestMiddlewareSkip(t *testing.T) {
	pub := &capturePublisher{}
	var sawCollector bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawCollector = timing.FromContext(r.Context()) != nil
	})

	handler := Middleware(pub, Options{
		Skip: func(r *http.Request) bool { return r.URL.Path == "/health" },
	})(inner)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.False(t, sawCollector)
	assert.Empty(t, rec.Header().Get(HeaderReportID))
	assert.Empty(t, pub.reports)
}

func TestMiddlewarePublishErrorDoesNotAffectResponse(t *testing.T) {
	pub := &capturePublisher{err: errors.New("full")}
	handler := Middleware(pub, Options{})(renderHandler(t))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body", rec.Body.String())
	assert.Len(t, pub.reports, 1)
}

func TestMiddlewareNilPublisherPassesThrough(t *testing.T) {
	handler := Middleware(nil, Options{})(renderHandler(t))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "body", rec.Body.String())
}

func TestPublisherFunc(t *testing.T) {
	var got string
	pub := PublisherFunc(func(_ context.Context, r *report.Report) error {
		got = r.ID
		return nil
	})
	require.NoError(t, pub.Publish(context.Background(), &report.Report{ID: "abc"}))
	assert.Equal(t, "abc", got)
}
