package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tobert/render-trace/internal/otlpexport"
	"github.com/tobert/render-trace/internal/report"
	"github.com/tobert/render-trace/internal/viewer"
)

// Export formats.
const (
	exportChrome = "chrome"
	exportOTLP   = "otlp"
)

// ExportCommand converts reports to trace files or pushes them to a collector.
func ExportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Export a report as a Chrome trace or OTLP spans",
		ArgsUsage: "[reports.jsonl]",
		Description: `chrome writes one report as a trace event file loadable in
chrome://tracing or Perfetto, named render-trace-<unix ms>.json.
otlp writes every report as OTLP JSON lines, or pushes them to a collector
with --push.`,
		Flags: append(inputFlags(),
			configFlag(),
			&cli.StringFlag{
				Name:  "format",
				Usage: "chrome or otlp",
				Value: exportChrome,
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output directory (chrome) or file (otlp, default stdout)",
			},
			&cli.StringFlag{
				Name:  "push",
				Usage: "OTLP gRPC endpoint (host:port) to push to instead of writing",
			},
			&cli.StringFlag{
				Name:  "service-name",
				Usage: "Service name on OTLP spans",
			},
		),
		Action: runExport,
	}
}

func runExport(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := loadStore(ctx, cmd)
	if err != nil {
		return err
	}

	switch cmd.String("format") {
	case exportChrome:
		r, err := selectReport(cmd, store)
		if err != nil {
			return err
		}
		dir := cmd.String("out")
		if dir == "" {
			dir = cfg.ExportDir
		}
		path, err := exportChromeTrace(dir, r, time.Now())
		if err != nil {
			return err
		}
		if path == "" {
			log.Printf("⚠️  report %s has no trace events, nothing exported\n", r.ID)
			return nil
		}
		log.Printf("✅ Exported %d spans to %s\n", len(r.TraceEvents), path)
		return nil

	case exportOTLP:
		reports := store.List()
		if endpoint := cmd.String("push"); endpoint != "" {
			return pushReports(ctx, endpoint, cfg.ServiceName, reports)
		}
		var w io.Writer = os.Stdout
		if out := cmd.String("out"); out != "" {
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			defer f.Close()
			w = f
		}
		return writeOTLP(w, cfg.ServiceName, reports)

	default:
		return fmt.Errorf("unknown export format %q (want %s or %s)", cmd.String("format"), exportChrome, exportOTLP)
	}
}

func exportChromeTrace(dir string, r *report.Report, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return viewer.WriteExport(filepath.Clean(dir), r.TraceEvents, now)
}

func writeOTLP(w io.Writer, serviceName string, reports []*report.Report) error {
	for _, r := range reports {
		spans, err := otlpexport.ReportSpans(serviceName, r)
		if err != nil {
			return err
		}
		if err := otlpexport.WriteJSONL(w, spans); err != nil {
			return err
		}
	}
	return nil
}

func pushReports(ctx context.Context, endpoint, serviceName string, reports []*report.Report) error {
	client, err := otlpexport.NewClient(otlpexport.ClientConfig{Endpoint: endpoint, ServiceName: serviceName})
	if err != nil {
		return err
	}
	defer client.Close()

	for _, r := range reports {
		if err := client.Publish(ctx, r); err != nil {
			return err
		}
	}
	log.Printf("📤 Pushed %d reports to %s\n", len(reports), endpoint)
	return nil
}
