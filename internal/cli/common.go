package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/tobert/render-trace/internal/otlpexport"
	"github.com/tobert/render-trace/internal/report"
	"github.com/tobert/render-trace/internal/storage"
)

// configFlag is shared by every command that reads the config file.
func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "config",
		Usage: "Config file (.json, .yaml, .yml or .toml); default is global + project config",
	}
}

func verboseFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "Enable verbose logging",
	}
}

// loadConfig resolves the config file layers and then applies any flag the
// user set explicitly on cmd.
func loadConfig(cmd *cli.Command) (*Config, error) {
	cfg, err := LoadEffectiveConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	overlay := &Config{}
	set := func(name string) bool { return hasFlag(cmd, name) && cmd.IsSet(name) }

	if set("buffer-size") {
		overlay.ReportBufferSize = cmd.Int("buffer-size")
	}
	if set("watch-dir") {
		overlay.WatchDir = cmd.String("watch-dir")
	}
	if set("webui-host") {
		overlay.WebUIHost = cmd.String("webui-host")
	}
	if set("webui-port") {
		overlay.WebUIPort = cmd.Int("webui-port")
	}
	if set("no-mcp") {
		overlay.NoMCP = cmd.Bool("no-mcp")
	}
	if set("otlp-receiver") {
		overlay.OTLPReceiver = cmd.Bool("otlp-receiver")
	}
	if set("otlp-host") {
		overlay.OTLPHost = cmd.String("otlp-host")
	}
	if set("otlp-port") {
		overlay.OTLPPort = cmd.Int("otlp-port")
	}
	if set("otlp-endpoint") {
		overlay.OTLPEndpoint = cmd.String("otlp-endpoint")
	}
	if set("otel-config") {
		overlay.OtelConfig = cmd.String("otel-config")
	}
	if set("service-name") {
		overlay.ServiceName = cmd.String("service-name")
	}
	if set("slow-ms") {
		overlay.SlowMs = cmd.Float("slow-ms")
	}
	if set("warn-ms") {
		overlay.WarnMs = cmd.Float("warn-ms")
	}
	if set("export-dir") {
		overlay.ExportDir = cmd.String("export-dir")
	}
	if set("verbose") {
		overlay.Verbose = cmd.Bool("verbose")
	}

	return MergeConfigs(cfg, overlay), nil
}

// hasFlag reports whether cmd defines a flag called name.
func hasFlag(cmd *cli.Command, name string) bool {
	for _, f := range cmd.Flags {
		for _, n := range f.Names() {
			if n == name {
				return true
			}
		}
	}
	return false
}

// inputFlags select the report file and report shared by view, tui and export.
func inputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "otlp",
			Usage: "Input is OTLP JSON (collector file exporter) instead of report JSONL",
		},
		&cli.StringFlag{
			Name:  "id",
			Usage: "Report ID to show (default: the last report in the file)",
			Value: "latest",
		},
	}
}

// openInput opens the file named by the first argument, or stdin for "" and "-".
func openInput(cmd *cli.Command) (io.ReadCloser, string, error) {
	path := cmd.Args().First()
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), "stdin", nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, path, nil
}

// readReports decodes every report in r. Report JSONL skips bad lines with
// a warning; OTLP JSON is strict.
func readReports(r io.Reader, name string, otlp bool) ([]*report.Report, error) {
	if otlp {
		spans, err := otlpexport.ReadJSONL(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return otlpexport.FromResourceSpans(spans), nil
	}
	return report.ReadAll(r, func(lineNo int, err error) {
		log.Printf("⚠️  %s:%d: skipping line: %v\n", name, lineNo, err)
	})
}

// loadStore reads the command's input into a new report store sized to fit.
func loadStore(ctx context.Context, cmd *cli.Command) (*storage.ReportStorage, error) {
	in, name, err := openInput(cmd)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	reports, err := readReports(in, name, cmd.Bool("otlp"))
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, fmt.Errorf("no reports found in %s", name)
	}

	store := storage.NewReportStorage(len(reports))
	for _, r := range reports {
		if err := store.Publish(ctx, r); err != nil {
			log.Printf("⚠️  skipping report %s: %v\n", r.ID, err)
		}
	}
	return store, nil
}

// selectReport resolves the --id flag against store.
func selectReport(cmd *cli.Command, store *storage.ReportStorage) (*report.Report, error) {
	id := strings.TrimSpace(cmd.String("id"))
	if id == "" {
		id = "latest"
	}
	r, ok := store.Get(id)
	if !ok {
		return nil, fmt.Errorf("report %q not found", id)
	}
	return r, nil
}
