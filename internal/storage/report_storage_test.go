package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/render-trace/internal/querylog"
	"github.com/tobert/render-trace/internal/report"
	"github.com/tobert/render-trace/internal/timing"
)

func newReport(id, method, path string, renderMs float64, queries int) *report.Report {
	return &report.Report{
		ID:         id,
		Method:     method,
		Path:       path,
		RenderTime: renderMs,
		SQLData:    querylog.Summary{QueryCount: queries},
		Timings:    []timing.Timing{{Name: "page", Count: 1, TotalTime: renderMs}},
	}
}

func publish(t *testing.T, rs *ReportStorage, reports ...*report.Report) {
	t.Helper()
	for _, r := range reports {
		require.NoError(t, rs.Publish(context.Background(), r))
	}
}

func TestReportStoragePublishAndGet(t *testing.T) {
	rs := NewReportStorage(10)
	publish(t, rs, newReport("a", "GET", "/", 10, 1), newReport("b", "GET", "/about", 20, 2))

	r, ok := rs.Get("a")
	require.True(t, ok)
	assert.Equal(t, "/", r.Path)

	latest, ok := rs.Get(LatestID)
	require.True(t, ok)
	assert.Equal(t, "b", latest.ID)

	latest, ok = rs.Get("")
	require.True(t, ok)
	assert.Equal(t, "b", latest.ID)

	_, ok = rs.Get("missing")
	assert.False(t, ok)
}

func TestReportStorageRejectsInvalid(t *testing.T) {
	rs := NewReportStorage(10)
	ctx := context.Background()

	assert.Error(t, rs.Publish(ctx, nil))
	assert.Error(t, rs.Publish(ctx, &report.Report{}))
	assert.Error(t, rs.Publish(ctx, &report.Report{ID: LatestID}))
	assert.Equal(t, int64(3), rs.Stats().Rejected)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, rs.Publish(canceled, newReport("x", "GET", "/", 1, 0)), context.Canceled)
}

func TestReportStorageEvictionUpdatesIndex(t *testing.T) {
	rs := NewReportStorage(2)
	publish(t, rs,
		newReport("a", "GET", "/", 1, 0),
		newReport("b", "GET", "/", 1, 0),
		newReport("c", "GET", "/", 1, 0),
	)

	_, ok := rs.Get("a")
	assert.False(t, ok, "evicted report must not be reachable by id")

	ids := make([]string, 0)
	for _, r := range rs.List() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"b", "c"}, ids)

	stats := rs.Stats()
	assert.Equal(t, 2, stats.Reports)
	assert.Equal(t, int64(3), stats.Published)
	assert.Equal(t, int64(1), stats.Evicted)
}

func TestReportStorageSince(t *testing.T) {
	rs := NewReportStorage(10)
	publish(t, rs, newReport("a", "GET", "/", 1, 0))
	pos := rs.Position()

	publish(t, rs, newReport("b", "GET", "/", 1, 0), newReport("c", "GET", "/", 1, 0))

	got, next := rs.Since(pos)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, 3, next)

	got, next = rs.Since(next)
	assert.Empty(t, got)
	assert.Equal(t, 3, next)
}

func TestReportStorageStats(t *testing.T) {
	rs := NewReportStorage(10)
	publish(t, rs,
		newReport("a", "GET", "/", 10, 3),
		newReport("b", "GET", "/slow", 90, 7),
		newReport("c", "POST", "/form", 20, 0),
	)

	stats := rs.Stats()
	assert.Equal(t, 3, stats.Reports)
	assert.Equal(t, 10, stats.Capacity)
	assert.Equal(t, 10, stats.Queries)
	assert.Equal(t, 40.0, stats.AvgRenderMs)
	assert.Equal(t, 90.0, stats.SlowestRenderMs)
	assert.Equal(t, "b", stats.SlowestID)
	assert.Equal(t, uint64(3), stats.Generation)
}

func TestReportStorageClear(t *testing.T) {
	rs := NewReportStorage(10)
	publish(t, rs, newReport("a", "GET", "/", 1, 0))
	gen := rs.Generation()

	rs.Clear()

	assert.Empty(t, rs.List())
	_, ok := rs.Get("a")
	assert.False(t, ok)
	_, ok = rs.Get(LatestID)
	assert.False(t, ok)
	assert.Greater(t, rs.Generation(), gen)
	assert.Equal(t, 0, rs.Position())
}

func TestReportStorageSubscribeCoalesces(t *testing.T) {
	rs := NewReportStorage(10)
	ch, unsubscribe := rs.Subscribe()

	publish(t, rs, newReport("a", "GET", "/", 1, 0), newReport("b", "GET", "/", 1, 0))

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a notification")
	}
	select {
	case <-ch:
		t.Fatal("expected notifications to coalesce")
	default:
	}

	unsubscribe()
	assert.Equal(t, 0, rs.ActivityCache().SubscriberCount())
	publish(t, rs, newReport("c", "GET", "/", 1, 0))
	select {
	case <-ch:
		t.Fatal("unsubscribed channel must not be signalled")
	default:
	}
}

func TestReportStorageConcurrentPublish(t *testing.T) {
	rs := NewReportStorage(50)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_ = rs.Publish(context.Background(), newReport(fmt.Sprintf("%d-%d", w, i), "GET", "/", 1, 0))
				_, _ = rs.Get(LatestID)
				_ = rs.Stats()
			}
		}(w)
	}
	wg.Wait()

	stats := rs.Stats()
	assert.Equal(t, 50, stats.Reports)
	assert.Equal(t, int64(100), stats.Published)
	assert.Equal(t, int64(50), stats.Evicted)
}

func TestFilterReports(t *testing.T) {
	reports := []*report.Report{
		newReport("a", "GET", "/shop/cart", 10, 3),
		newReport("b", "POST", "/shop/checkout", 90, 12),
		newReport("c", "GET", "/about", 40, 1),
	}
	reports[2].Timings = append(reports[2].Timings, timing.Timing{Name: "page/body/team"})

	testCases := []struct {
		name     string
		filter   ReportFilter
		expected []string
	}{
		{"empty", ReportFilter{}, []string{"a", "b", "c"}},
		{"method", ReportFilter{Method: "get"}, []string{"a", "c"}},
		{"path", ReportFilter{PathContains: "SHOP"}, []string{"a", "b"}},
		{"min_render", ReportFilter{MinRenderMs: 40}, []string{"b", "c"}},
		{"min_queries", ReportFilter{MinQueries: 3}, []string{"a", "b"}},
		{"span", ReportFilter{Span: "page/body/team"}, []string{"c"}},
		{"limit_keeps_recent", ReportFilter{Limit: 2}, []string{"b", "c"}},
		{"combined", ReportFilter{Method: "GET", MinRenderMs: 20}, []string{"c"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := FilterReports(reports, tc.filter)
			ids := make([]string, 0, len(got))
			for _, r := range got {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tc.expected, ids)
		})
	}
}

func TestSnapshotManager(t *testing.T) {
	sm := NewSnapshotManager()

	require.NoError(t, sm.Create("before-deploy", 4))
	assert.Error(t, sm.Create("before-deploy", 9))
	assert.Error(t, sm.Create("", 1))
	require.NoError(t, sm.Create("after", 9))

	snap, err := sm.Get("before-deploy")
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Position)

	assert.Equal(t, []string{"after", "before-deploy"}, sm.List())

	require.NoError(t, sm.Delete("after"))
	assert.Error(t, sm.Delete("after"))
	assert.Equal(t, 1, sm.Count())

	sm.Clear()
	assert.Equal(t, 0, sm.Count())
	_, err = sm.Get("before-deploy")
	assert.Error(t, err)
}
