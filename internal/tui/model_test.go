package tui

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/render-trace/internal/report"
	"github.com/tobert/render-trace/internal/storage"
	"github.com/tobert/render-trace/internal/timing"
	"github.com/tobert/render-trace/internal/viewer"
)

func sampleReport(id string) *report.Report {
	return &report.Report{
		ID:         id,
		Method:     "GET",
		Path:       "/about",
		RenderTime: 80,
		Timings: []timing.Timing{
			{Name: "page", Count: 1, TotalTime: 80, MaxTime: 80, AvgTime: 80},
			{Name: "page/body", Count: 1, TotalTime: 60, MaxTime: 60, AvgTime: 60},
			{Name: "page/head/meta", Count: 4, TotalTime: 0.4, MaxTime: 0.1, AvgTime: 0.1},
		},
		TraceEvents: []timing.TraceEvent{
			{Name: "page/body", StartTime: 1, Duration: 60, Depth: 1},
			{Name: "page", StartTime: 0, Duration: 80, Depth: 0},
		},
	}
}

func newStore(t *testing.T, reports ...*report.Report) *storage.ReportStorage {
	t.Helper()
	store := storage.NewReportStorage(10)
	for _, r := range reports {
		require.NoError(t, store.Publish(context.Background(), r))
	}
	return store
}

func press(m *Model, keys ...string) {
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		case "down":
			msg = tea.KeyMsg{Type: tea.KeyDown}
		case "up":
			msg = tea.KeyMsg{Type: tea.KeyUp}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		m.Update(msg)
	}
}

func rowNames(m *Model) []string {
	var names []string
	for _, r := range m.Rows() {
		names = append(names, r.Name)
	}
	return names
}

func TestDefaultSortIsNameAscending(t *testing.T) {
	m := New(newStore(t, sampleReport("a")), Options{})
	assert.Equal(t, []string{"page", "page/body", "page/head/meta"}, rowNames(m))
	assert.Equal(t, viewer.DefaultSortState(), m.SortState())
}

func TestFilterInput(t *testing.T) {
	m := New(newStore(t, sampleReport("a")), Options{})

	press(m, "/", "B", "o", "d", "y", "enter")
	assert.Equal(t, []string{"page/body"}, rowNames(m))
	assert.False(t, m.filtering)

	// keys after leaving the input act as commands again
	press(m, "3")
	assert.Equal(t, viewer.SortTotalTime, m.SortState().Key)
}

func TestHideNegligibleToggle(t *testing.T) {
	m := New(newStore(t, sampleReport("a")), Options{})

	press(m, "h")
	assert.NotContains(t, rowNames(m), "page/head/meta")

	press(m, "h")
	assert.Contains(t, rowNames(m), "page/head/meta")
}

func TestSortKeysToggle(t *testing.T) {
	m := New(newStore(t, sampleReport("a")), Options{})

	press(m, "3")
	assert.Equal(t, viewer.SortState{Key: viewer.SortTotalTime, Dir: viewer.Descending}, m.SortState())
	assert.Equal(t, "page", rowNames(m)[0])

	press(m, "3")
	assert.Equal(t, viewer.Ascending, m.SortState().Dir)
	assert.Equal(t, "page/head/meta", rowNames(m)[0])

	press(m, "2")
	assert.Equal(t, viewer.SortState{Key: viewer.SortCount, Dir: viewer.Descending}, m.SortState())
	assert.Equal(t, "page/head/meta", rowNames(m)[0])
}

func TestExport(t *testing.T) {
	dir := t.TempDir()
	now := time.UnixMilli(1_712_000_000_000)
	m := New(newStore(t, sampleReport("a")), Options{ExportDir: dir, Now: func() time.Time { return now }})

	press(m, "e")
	path := filepath.Join(dir, "render-trace-1712000000000.json")
	assert.Equal(t, "exported "+path, m.Status())
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestExportWithoutEvents(t *testing.T) {
	rep := sampleReport("a")
	rep.TraceEvents = nil
	dir := t.TempDir()
	m := New(newStore(t, rep), Options{ExportDir: dir})

	press(m, "e")
	assert.Equal(t, "nothing to export", m.Status())
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestFollowsLatest(t *testing.T) {
	store := newStore(t, sampleReport("a"))
	m := New(store, Options{})
	assert.Equal(t, "a", m.rep.ID)

	require.NoError(t, store.Publish(context.Background(), sampleReport("b")))
	m.Update(reportUpdatedMsg{})
	assert.Equal(t, "b", m.rep.ID)

	pinned := New(store, Options{ReportID: "a"})
	require.NoError(t, store.Publish(context.Background(), sampleReport("c")))
	pinned.Update(reportUpdatedMsg{})
	assert.Equal(t, "a", pinned.rep.ID)
}

func TestScrollIsClamped(t *testing.T) {
	m := New(newStore(t, sampleReport("a")), Options{})
	m.Update(tea.WindowSizeMsg{Width: 100, Height: chrome + 2})

	press(m, "down", "down", "down", "down")
	assert.Equal(t, 1, m.offset)

	press(m, "up", "up")
	assert.Equal(t, 0, m.offset)
}

func TestViewAndQuit(t *testing.T) {
	m := New(newStore(t, sampleReport("a")), Options{})
	view := m.View()
	assert.Contains(t, view, "GET /about")
	assert.Contains(t, view, "Showing 3 of 3 unique paths")
	assert.True(t, strings.Contains(view, "Name ▲"))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestViewWithoutReport(t *testing.T) {
	m := New(newStore(t), Options{})
	assert.Contains(t, m.View(), "waiting for a report")
	assert.Nil(t, m.Rows())
}
