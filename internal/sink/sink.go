// Package sink persists request reports and exported trace files outside the
// process: to a local directory or to an S3 compatible bucket.
package sink

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/tobert/render-trace/internal/report"
)

// Sink stores reports and named files. It implements renderhttp.Publisher.
type Sink interface {
	Publish(ctx context.Context, r *report.Report) error
	// PutFile stores data under name and returns where it was written.
	PutFile(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// Publisher is the subset of Sink that accepts reports.
type Publisher interface {
	Publish(ctx context.Context, r *report.Report) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, r *report.Report) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, r *report.Report) error { return f(ctx, r) }

// Tee publishes every report to all publishers. Every publisher is tried;
// the errors are joined.
func Tee(pubs ...Publisher) Publisher {
	return tee(pubs)
}

type tee []Publisher

func (t tee) Publish(ctx context.Context, r *report.Report) error {
	var errs []error
	for _, p := range t {
		if err := p.Publish(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// validName rejects names that would escape the sink's root.
func validName(name string) error {
	if name == "" {
		return fmt.Errorf("file name cannot be empty")
	}
	if strings.ContainsAny(name, `/\`) || name != path.Clean(name) || name == ".." {
		return fmt.Errorf("invalid file name %q", name)
	}
	return nil
}
