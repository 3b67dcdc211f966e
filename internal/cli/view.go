package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/tobert/render-trace/internal/report"
	"github.com/tobert/render-trace/internal/viewer"
	"github.com/tobert/render-trace/internal/viz"
)

// ViewCommand prints the timing table of one report.
func ViewCommand() *cli.Command {
	return &cli.Command{
		Name:      "view",
		Usage:     "Print the timing table of a report",
		ArgsUsage: "[reports.jsonl]",
		Description: `Reads report JSONL (or OTLP JSON with --otlp) from the file argument or
stdin and prints the timings of one report, filtered and sorted.`,
		Flags: append(inputFlags(),
			configFlag(),
			&cli.StringFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "Only paths containing this text (case-insensitive)",
			},
			&cli.BoolFlag{
				Name:  "hide-fast",
				Usage: "Hide paths with a total time at or below the negligible threshold",
			},
			&cli.StringFlag{
				Name:  "sort",
				Usage: "Sort column: name, count, totalTime, maxTime, avgTime, totalResourceCount",
				Value: string(viewer.SortName),
			},
			&cli.StringFlag{
				Name:  "dir",
				Usage: "Sort direction: asc or desc (default: asc for name, desc otherwise)",
			},
			&cli.BoolFlag{
				Name:  "waterfall",
				Usage: "Also print the span waterfall",
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "Disable colors even on a terminal",
			},
		),
		Action: runView,
	}
}

type viewOptions struct {
	Filter    viewer.FilterOptions
	Sort      viewer.SortState
	Table     viz.TableOptions
	Waterfall bool
}

func runView(ctx context.Context, cmd *cli.Command) error {
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

	state, err := sortFromFlags(cmd.String("sort"), cmd.String("dir"))
	if err != nil {
		return err
	}

	opts := viewOptions{
		Filter:    viewer.FilterOptions{Query: cmd.String("query")},
		Sort:      state,
		Waterfall: cmd.Bool("waterfall"),
		Table: viz.TableOptions{
			Width:      100,
			Thresholds: cfg.Thresholds(),
		},
	}
	if cmd.Bool("hide-fast") {
		threshold := cfg.NegligibleMs
		opts.Filter.AboveMs = &threshold
	}

	fd := int(os.Stdout.Fd())
	if term.IsTerminal(fd) {
		opts.Table.Color = !cmd.Bool("no-color")
		if w, _, err := term.GetSize(fd); err == nil && w > 40 {
			opts.Table.Width = w
		}
	}

	return renderView(os.Stdout, r, opts)
}

// sortFromFlags turns --sort and --dir into a sort state. Without --dir the
// name column sorts ascending and numeric columns descending, the same
// result as clicking a column header once.
func sortFromFlags(key, dir string) (viewer.SortState, error) {
	state := viewer.DefaultSortState()
	if key != "" {
		k, err := viewer.ParseSortKey(key)
		if err != nil {
			return state, err
		}
		if k != state.Key {
			state = state.Toggle(k)
		}
	}
	if dir != "" {
		d, err := viewer.ParseDirection(dir)
		if err != nil {
			return state, err
		}
		state.Dir = d
	}
	return state, nil
}

func renderView(w io.Writer, r *report.Report, opts viewOptions) error {
	rows := opts.Sort.Apply(viewer.Filter(r.Timings, opts.Filter))
	opts.Table.Sort = opts.Sort

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s  (%s, %d queries)\n\n", r.Method, r.Path, r.ID, r.SQLData.QueryCount)
	b.WriteString(viz.TimingTable(rows, opts.Table))
	b.WriteString("\n")
	b.WriteString(viz.Summary(len(rows), len(r.Timings), r.RenderTime))
	b.WriteString("\n")
	if opts.Waterfall {
		b.WriteString("\n")
		b.WriteString(viz.Waterfall(r.TraceEvents, opts.Table.Width))
	}

	_, err := io.WriteString(w, b.String())
	return err
}
