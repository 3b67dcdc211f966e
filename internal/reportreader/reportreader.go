// Package reportreader loads request reports from JSONL files written by an
// instrumented application (see sink.Dir) and keeps following them, so a
// viewer process can run separately from the traced one.
package reportreader

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tobert/render-trace/internal/report"
)

// Buffer size for reading report lines. A report carries the full trace of
// one request and can be large for deep render trees.
const jsonlBufferInitial = 256 * 1024

// Publisher receives the reports read from disk.
type Publisher interface {
	Publish(ctx context.Context, r *report.Report) error
}

// Source reads reports from a directory of JSONL files and watches it for
// appended lines and new files.
type Source struct {
	directory string
	publisher Publisher
	verbose   bool

	watcher *fsnotify.Watcher

	mu          sync.Mutex
	fileOffsets map[string]int64
	loaded      int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds configuration for a Source.
type Config struct {
	Directory string
	Verbose   bool
}

// New creates a Source for cfg.Directory. The directory must exist.
func New(cfg Config, pub Publisher) (*Source, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("directory is required")
	}
	if pub == nil {
		return nil, fmt.Errorf("publisher cannot be nil")
	}

	info, err := os.Stat(cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("cannot access directory %s: %w", cfg.Directory, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", cfg.Directory)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Source{
		directory:   cfg.Directory,
		publisher:   pub,
		verbose:     cfg.Verbose,
		watcher:     watcher,
		fileOffsets: make(map[string]int64),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start loads the existing files and then follows the directory in the
// background until Stop is called.
func (s *Source) Start(ctx context.Context) error {
	if s.verbose {
		log.Printf("📁 reportreader: starting with directory %s\n", s.directory)
	}

	if err := s.watcher.Add(s.directory); err != nil {
		return fmt.Errorf("could not watch %s: %w", s.directory, err)
	}

	files, err := s.findReportFiles()
	if err != nil {
		return fmt.Errorf("initial report load failed: %w", err)
	}
	for _, file := range files {
		count, err := s.processFile(ctx, file)
		if err != nil {
			log.Printf("⚠️  reportreader: error loading %s: %v\n", file, err)
			continue
		}
		if s.verbose && count > 0 {
			log.Printf("📁 reportreader: loaded %d reports from %s\n", count, filepath.Base(file))
		}
	}

	s.wg.Add(1)
	go s.watchLoop()

	return nil
}

// Stop stops watching and waits for the background goroutine.
func (s *Source) Stop() {
	s.cancel()
	s.watcher.Close()
	s.wg.Wait()
}

// Directory returns the directory being followed.
func (s *Source) Directory() string {
	return s.directory
}

// findReportFiles returns the directory's .jsonl files, oldest first.
func (s *Source) findReportFiles() ([]string, error) {
	entries, err := os.ReadDir(s.directory)
	if err != nil {
		return nil, err
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo

	for _, entry := range entries {
		if entry.IsDir() || !isReportFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(s.directory, entry.Name()), modTime: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	result := make([]string, len(files))
	for i, f := range files {
		result[i] = f.path
	}
	return result, nil
}

func isReportFile(name string) bool {
	return strings.HasSuffix(name, ".jsonl")
}

// processFile publishes every complete line after the last known offset.
// A trailing line without a newline is left for the next read, since the
// writer may still be appending to it.
func (s *Source) processFile(ctx context.Context, path string) (int, error) {
	s.mu.Lock()
	offset := s.fileOffsets[path]
	s.mu.Unlock()

	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	if info, err := file.Stat(); err == nil && info.Size() < offset {
		// Truncated or replaced; start over.
		offset = 0
	}
	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			offset = 0
		}
	}

	reader := bufio.NewReaderSize(file, jsonlBufferInitial)
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("reading %s: %w", path, err)
		}
		offset += int64(len(line))

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		rep, err := report.Decode(line)
		if err != nil {
			if s.verbose {
				log.Printf("⚠️  reportreader: skipping bad line in %s: %v\n", filepath.Base(path), err)
			}
			continue
		}
		if err := s.publisher.Publish(ctx, rep); err != nil {
			log.Printf("⚠️  reportreader: failed to store report %s: %v\n", rep.ID, err)
			continue
		}
		count++
	}

	s.mu.Lock()
	s.fileOffsets[path] = offset
	s.loaded += count
	s.mu.Unlock()

	return count, nil
}

// watchLoop runs the file watcher event loop.
func (s *Source) watchLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !isReportFile(event.Name) {
				continue
			}

			count, err := s.processFile(s.ctx, event.Name)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Printf("⚠️  reportreader: error reading %s: %v\n", event.Name, err)
				}
			} else if s.verbose && count > 0 {
				log.Printf("📁 reportreader: loaded %d new reports from %s\n", count, filepath.Base(event.Name))
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  reportreader: watcher error: %v\n", err)
		}
	}
}

// Stats describes what the source has read so far.
type Stats struct {
	Directory     string `json:"directory"`
	FilesTracked  int    `json:"files_tracked"`
	ReportsLoaded int    `json:"reports_loaded"`
}

// Stats returns current statistics.
func (s *Source) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Directory:     s.directory,
		FilesTracked:  len(s.fileOffsets),
		ReportsLoaded: s.loaded,
	}
}
