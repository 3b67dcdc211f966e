package sink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tobert/render-trace/internal/report"
)

// ReportsFile is the JSONL file Dir appends reports to. The report reader
// picks it up when watching the same directory.
const ReportsFile = "reports.jsonl"

// Dir writes reports and files into a local directory.
type Dir struct {
	root string
	mu   sync.Mutex // serializes appends to ReportsFile
}

// NewDir creates the directory if needed.
func NewDir(root string) (*Dir, error) {
	if root == "" {
		return nil, fmt.Errorf("directory cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", root, err)
	}
	return &Dir{root: root}, nil
}

// Root returns the directory written to.
func (d *Dir) Root() string {
	return d.root
}

// Publish appends r as one line to ReportsFile.
func (d *Dir) Publish(ctx context.Context, r *report.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(d.root, ReportsFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open reports file: %w", err)
	}

	// One buffered write per report, so a watcher never sees half a line
	// from us unless the disk is full.
	w := bufio.NewWriter(f)
	if err := report.Encode(w, r); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Close()
}

// PutFile writes data to root/name.
func (d *Dir) PutFile(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validName(name); err != nil {
		return "", err
	}

	path := filepath.Join(d.root, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
