package cli

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/tobert/render-trace/internal/tui"
)

// TUICommand opens the interactive viewer on a report file.
func TUICommand() *cli.Command {
	return &cli.Command{
		Name:      "tui",
		Usage:     "Browse a report interactively",
		ArgsUsage: "<reports.jsonl>",
		Description: `Opens the interactive timing viewer on one report of the file:
/ filters, h hides negligible paths, 1-6 sort by column, e exports the
trace to the export directory.`,
		Flags: append(inputFlags(), configFlag()),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := loadStore(ctx, cmd)
			if err != nil {
				return err
			}
			r, err := selectReport(cmd, store)
			if err != nil {
				return err
			}
			return tui.Run(store, tui.Options{
				ReportID:   r.ID,
				ExportDir:  cfg.ExportDir,
				Thresholds: cfg.Thresholds(),
			})
		},
	}
}
