package reportreader

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/render-trace/internal/report"
	"github.com/tobert/render-trace/internal/storage"
)

func encodeLines(t *testing.T, ids ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, id := range ids {
		require.NoError(t, report.Encode(&buf, &report.Report{ID: id, Method: "GET", Path: "/" + id}))
	}
	return buf.Bytes()
}

func appendFile(t *testing.T, path string, data []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestNewValidation(t *testing.T) {
	store := storage.NewReportStorage(10)

	_, err := New(Config{}, store)
	assert.Error(t, err)

	_, err = New(Config{Directory: t.TempDir()}, nil)
	assert.Error(t, err)

	_, err = New(Config{Directory: filepath.Join(t.TempDir(), "missing")}, store)
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file.jsonl")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = New(Config{Directory: file}, store)
	assert.Error(t, err)
}

func TestInitialLoad(t *testing.T) {
	dir := t.TempDir()
	appendFile(t, filepath.Join(dir, "reports.jsonl"), encodeLines(t, "a", "b"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	store := storage.NewReportStorage(10)
	src, err := New(Config{Directory: dir}, store)
	require.NoError(t, err)
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	assert.Len(t, store.List(), 2)
	stats := src.Stats()
	assert.Equal(t, 1, stats.FilesTracked)
	assert.Equal(t, 2, stats.ReportsLoaded)
	assert.Equal(t, dir, src.Directory())
}

func TestPartialLineIsDeferred(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reports.jsonl")

	full := encodeLines(t, "a", "b")
	split := bytes.IndexByte(full, '\n') + 10
	appendFile(t, path, full[:split])

	store := storage.NewReportStorage(10)
	src, err := New(Config{Directory: dir}, store)
	require.NoError(t, err)

	count, err := src.processFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	appendFile(t, path, full[split:])
	count, err = src.processFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, ok := store.Get("b")
	assert.True(t, ok)
}

func TestBadLinesAreSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reports.jsonl")
	appendFile(t, path, []byte("{not json}\n\n"))
	appendFile(t, path, encodeLines(t, "ok"))

	store := storage.NewReportStorage(10)
	src, err := New(Config{Directory: dir}, store)
	require.NoError(t, err)

	count, err := src.processFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTruncatedFileIsReread(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reports.jsonl")
	appendFile(t, path, encodeLines(t, "a", "b", "c"))

	store := storage.NewReportStorage(10)
	src, err := New(Config{Directory: dir}, store)
	require.NoError(t, err)

	_, err = src.processFile(context.Background(), path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, encodeLines(t, "d"), 0o644))
	count, err := src.processFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWatchPicksUpAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reports.jsonl")
	appendFile(t, path, encodeLines(t, "a"))

	store := storage.NewReportStorage(10)
	src, err := New(Config{Directory: dir}, store)
	require.NoError(t, err)
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	appendFile(t, path, encodeLines(t, "b"))
	appendFile(t, filepath.Join(dir, "other.jsonl"), encodeLines(t, "c"))

	require.Eventually(t, func() bool {
		return len(store.List()) == 3
	}, 5*time.Second, 20*time.Millisecond)
}
