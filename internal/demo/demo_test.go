package demo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/render-trace/internal/renderhttp"
	"github.com/tobert/render-trace/internal/report"
	"github.com/tobert/render-trace/internal/rendertree"
)

func openSite(t *testing.T, posts int) *Site {
	t.Helper()
	site, err := Open(Config{Posts: posts})
	require.NoError(t, err)
	return site
}

func TestRenderHomeCountsQueries(t *testing.T) {
	site := openSite(t, 3)

	r, err := site.Render(context.Background(), "/", site.Home())
	require.NoError(t, err)

	assert.Equal(t, "/", r.Path)
	assert.Len(t, r.TraceEvents, rendertree.Count(site.Home()))
	// sidebar + post list + (post + comment count) per teaser
	assert.Equal(t, 2+3*2, r.SQLData.QueryCount)

	root := r.TraceEvents[len(r.TraceEvents)-1]
	assert.Equal(t, "home", root.Name)
	assert.Equal(t, 0, root.Depth)
	assert.Equal(t, int64(8), root.ResourceDelta)

	var teasers int
	for _, row := range r.Timings {
		if row.Name == "home/body/posts/post" {
			teasers = row.Count
			assert.Equal(t, int64(6), row.TotalResourceCount)
		}
	}
	assert.Equal(t, 3, teasers)
}

func TestRenderArticle(t *testing.T) {
	site := openSite(t, 0)

	r, err := site.Render(context.Background(), "/posts/4", site.Article(4))
	require.NoError(t, err)
	assert.Equal(t, 4, r.SQLData.QueryCount)
	assert.Contains(t, r.SQLData.Tables, "comments")
}

func TestHandlerThroughMiddleware(t *testing.T) {
	site := openSite(t, 2)

	var (
		mu  sync.Mutex
		got []*report.Report
	)
	pub := renderhttp.PublisherFunc(func(_ context.Context, r *report.Report) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, r)
		return nil
	})
	srv := httptest.NewServer(renderhttp.Middleware(pub, renderhttp.Options{})(site.Handler()))
	defer srv.Close()

	for _, path := range []string{"/", "/posts/2", "/posts/zero"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	assert.Equal(t, "/posts/2", got[1].Path)
	assert.NotEmpty(t, got[1].TraceEvents)
	assert.Empty(t, got[2].TraceEvents)
}

func TestCanceledRenderFails(t *testing.T) {
	site := openSite(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := site.Render(ctx, "/", site.Home())
	assert.ErrorIs(t, err, context.Canceled)
}
