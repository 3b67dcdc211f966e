package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/tobert/render-trace/internal/demo"
	"github.com/tobert/render-trace/internal/mcpserver"
	"github.com/tobert/render-trace/internal/otlpexport"
	"github.com/tobert/render-trace/internal/otlpreceiver"
	"github.com/tobert/render-trace/internal/renderhttp"
	"github.com/tobert/render-trace/internal/sink"
	"github.com/tobert/render-trace/internal/storage"
	"github.com/tobert/render-trace/internal/webui"
)

// ServeCommand returns the CLI command definition for the 'serve' subcommand.
// This command starts the web UI, the MCP stdio server and any configured
// report sources.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Collect request reports and serve them to the web UI and MCP",
		Description: `Keeps recent request reports in memory and serves them through a web
UI and an MCP server on stdio. Reports arrive from a watched directory of
JSONL files, from applications pushing OTLP spans, or from the built-in
demo blog mounted at /demo/.`,
		Flags: []cli.Flag{
			configFlag(),
			&cli.IntFlag{
				Name:  "buffer-size",
				Usage: "Number of reports to keep in memory",
				Value: 500,
			},
			&cli.StringFlag{
				Name:  "watch-dir",
				Usage: "Directory of report JSONL files to load and follow",
			},
			&cli.StringFlag{
				Name:  "webui-host",
				Usage: "Web UI bind address",
				Value: "127.0.0.1",
			},
			&cli.IntFlag{
				Name:  "webui-port",
				Usage: "Web UI port",
				Value: 4390,
			},
			&cli.BoolFlag{
				Name:  "no-mcp",
				Usage: "Do not serve MCP on stdio; run until interrupted",
			},
			&cli.BoolFlag{
				Name:  "otlp-receiver",
				Usage: "Accept render traces pushed over OTLP gRPC",
			},
			&cli.StringFlag{
				Name:  "otlp-host",
				Usage: "OTLP receiver bind address",
				Value: "127.0.0.1",
			},
			&cli.IntFlag{
				Name:  "otlp-port",
				Usage: "OTLP receiver port (0 for ephemeral)",
				Value: 0,
			},
			&cli.StringFlag{
				Name:  "otlp-endpoint",
				Usage: "Forward captured reports to this OTLP collector (host:port)",
			},
			&cli.StringFlag{
				Name:  "otel-config",
				Usage: "OpenTelemetry Collector config; traces from its file exporters are imported",
			},
			&cli.StringFlag{
				Name:  "service-name",
				Usage: "Service name on forwarded spans",
			},
			&cli.StringFlag{
				Name:  "export-dir",
				Usage: "Directory for exported trace files",
			},
			&cli.FloatFlag{
				Name:  "slow-ms",
				Usage: "Render time above which rows are marked slow",
			},
			&cli.FloatFlag{
				Name:  "warn-ms",
				Usage: "Render time above which rows are marked warn",
			},
			&cli.BoolFlag{
				Name:  "demo",
				Usage: "Mount the demo blog at /demo/ and trace its requests",
			},
			&cli.StringFlag{
				Name:  "demo-dsn",
				Usage: "Postgres DSN for the demo blog (default: dry run, no database)",
			},
			verboseFlag(),
		},
		Action: runServe,
	}
}

// runServe is the action handler for the serve command.
// It wires together all components: storage, sources, sinks, web UI and MCP.
func runServe(cliCtx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if cfg.Verbose {
		log.Println("🔧 Configuration:")
		log.Printf("  Report buffer: %d reports\n", cfg.ReportBufferSize)
		log.Printf("  Web UI: %s:%d\n", cfg.WebUIHost, cfg.WebUIPort)
		log.Printf("  Thresholds: warn %.0fms, slow %.0fms\n", cfg.WarnMs, cfg.SlowMs)
		if cfg.WatchDir != "" {
			log.Printf("  Watch dir: %s\n", cfg.WatchDir)
		}
		log.Println()
	}

	ctx, cancel := signal.NotifyContext(cliCtx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// 1. Report storage
	reports := storage.NewReportStorage(cfg.ReportBufferSize)
	if cfg.Verbose {
		log.Printf("✅ Created report storage (capacity: %d reports)\n", cfg.ReportBufferSize)
	}

	// 2. Sinks: exports, persistence and forwarding
	exports, persist, closeSinks, err := openSinks(ctx, cfg, reports)
	if err != nil {
		return err
	}
	defer closeSinks()
	ingest := sink.Tee(append([]sink.Publisher{reports}, persist...)...)

	// 3. One-shot import of collector file exports
	if cfg.OtelConfig != "" {
		n, err := importOtelConfig(ctx, cfg.OtelConfig, reports)
		if err != nil {
			return err
		}
		log.Printf("📥 Imported %d reports from %s\n", n, cfg.OtelConfig)
	}

	// 4. MCP server, which also owns the watched directories
	mcpServer, err := mcpserver.NewServer(reports, exports, mcpserver.ServerOptions{
		Verbose:    cfg.Verbose,
		Thresholds: cfg.Thresholds(),
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer mcpServer.Shutdown()

	if cfg.WatchDir != "" {
		if err := mcpServer.AddFileSource(ctx, cfg.WatchDir); err != nil {
			return err
		}
		log.Printf("📁 Watching %s for reports\n", cfg.WatchDir)
	}

	g, gctx := errgroup.WithContext(ctx)

	// 5. OTLP receiver
	if cfg.OTLPReceiver {
		otlpServer, err := otlpreceiver.NewServer(otlpreceiver.Config{Host: cfg.OTLPHost, Port: cfg.OTLPPort}, ingest)
		if err != nil {
			return fmt.Errorf("failed to create OTLP server: %w", err)
		}
		g.Go(func() error {
			if err := otlpServer.Start(gctx); err != nil {
				return fmt.Errorf("OTLP receiver error: %w", err)
			}
			return nil
		})
		log.Printf("🌐 OTLP gRPC receiver listening on %s\n", otlpServer.Endpoint())
	}

	// 6. Web UI, with the demo blog mounted alongside
	mux := http.NewServeMux()
	webui.New(reports, webui.WithThresholds(cfg.Thresholds())).RegisterRoutes(mux)
	if cmd.Bool("demo") {
		site, err := demo.Open(demo.Config{DSN: cmd.String("demo-dsn"), Work: time.Millisecond})
		if err != nil {
			return err
		}
		traced := renderhttp.Middleware(ingest, renderhttp.Options{
			SlowQueryThreshold: cfg.SlowQueryThreshold(),
			Verbose:            cfg.Verbose,
		})
		mux.Handle("/demo/", traced(http.StripPrefix("/demo", site.Handler())))
	}

	addr := net.JoinHostPort(cfg.WebUIHost, strconv.Itoa(cfg.WebUIPort))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("web UI error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	log.Printf("🖥️  Web UI at http://%s/ui/\n", addr)
	if cmd.Bool("demo") {
		log.Printf("📰 Demo blog at http://%s/demo/\n", addr)
	}

	// 7. MCP on stdio; when it ends the whole server ends
	if cfg.NoMCP {
		log.Println("🎯 Serving until interrupted")
	} else {
		g.Go(func() error {
			defer cancel()
			log.Println("🎯 MCP server ready on stdio")
			if err := mcpServer.Run(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("MCP server error: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	if cfg.Verbose {
		log.Println("📡 Shut down")
	}
	return err
}

// openSinks builds the export sink and the persistent publishers. Reports
// already in the object store are loaded into reports before it is used.
func openSinks(ctx context.Context, cfg *Config, reports *storage.ReportStorage) (sink.Sink, []sink.Publisher, func(), error) {
	var (
		exports sink.Sink
		persist []sink.Publisher
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Printf("⚠️  close: %v\n", err)
			}
		}
	}

	if cfg.ObjectStore.Enabled() {
		o := cfg.ObjectStore
		store, err := sink.NewObject(ctx, sink.ObjectConfig{
			Endpoint:  o.Endpoint,
			AccessKey: o.AccessKey,
			SecretKey: o.SecretKey,
			Bucket:    o.Bucket,
			Secure:    o.Secure,
			Prefix:    o.Prefix,
			Format:    o.Format,
			Verbose:   cfg.Verbose,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open object store: %w", err)
		}
		n, err := store.Load(ctx, reports)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to load reports from object store: %w", err)
		}
		log.Printf("🪣 Loaded %d reports from %s/%s\n", n, o.Endpoint, o.Bucket)
		exports = store
		persist = append(persist, store)
	} else {
		dir, err := sink.NewDir(cfg.ExportDir)
		if err != nil {
			return nil, nil, nil, err
		}
		exports = dir
	}

	if cfg.OTLPEndpoint != "" {
		client, err := otlpexport.NewClient(otlpexport.ClientConfig{
			Endpoint:    cfg.OTLPEndpoint,
			ServiceName: cfg.ServiceName,
			Verbose:     cfg.Verbose,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		persist = append(persist, client)
		closers = append(closers, client.Close)
		log.Printf("📤 Forwarding reports to %s\n", cfg.OTLPEndpoint)
	}

	return exports, persist, closeAll, nil
}
