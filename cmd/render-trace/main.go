package main

import (
	"context"
	"fmt"
	"os"

	cliframework "github.com/urfave/cli/v3"

	"github.com/tobert/render-trace/internal/cli"
)

const version = "0.1.0-dev"

func main() {
	app := &cliframework.Command{
		Name:    "render-trace",
		Usage:   "Per-request render timing viewer for AI agents and humans",
		Version: version,
		Commands: []*cliframework.Command{
			cli.ServeCommand(),
			cli.ViewCommand(),
			cli.TUICommand(),
			cli.ExportCommand(),
			cli.DemoCommand(),
			cli.DoctorCommand(version),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "❌ error: %v\n", err)
		os.Exit(1)
	}
}
