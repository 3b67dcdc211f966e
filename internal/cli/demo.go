package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/tobert/render-trace/internal/demo"
	"github.com/tobert/render-trace/internal/report"
	"github.com/tobert/render-trace/internal/rendertree"
	"github.com/tobert/render-trace/internal/sink"
)

// DemoCommand renders the demo blog and writes the reports.
func DemoCommand() *cli.Command {
	return &cli.Command{
		Name:  "demo",
		Usage: "Render the demo blog and emit its reports",
		Description: `Renders the home page and a few posts of the built-in blog and writes
one report per page as JSONL, to stdout or to <out>/reports.jsonl. The
output can be piped into view, tui and export, or dropped into a
directory watched by serve.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "posts",
				Usage: "Posts on the home page; each one is also rendered on its own",
				Value: 3,
			},
			&cli.StringFlag{
				Name:  "dsn",
				Usage: "Postgres DSN (default: dry run, no database)",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Directory to append reports.jsonl to (default stdout)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			site, err := demo.Open(demo.Config{DSN: cmd.String("dsn"), Posts: cmd.Int("posts")})
			if err != nil {
				return err
			}

			var pub sink.Publisher = stdoutPublisher{w: os.Stdout}
			if out := cmd.String("out"); out != "" {
				dir, err := sink.NewDir(out)
				if err != nil {
					return err
				}
				pub = dir
			}

			n, err := renderDemo(ctx, site, cmd.Int("posts"), pub)
			if err != nil {
				return err
			}
			log.Printf("📰 Rendered %d demo pages\n", n)
			return nil
		},
	}
}

type stdoutPublisher struct{ w io.Writer }

func (p stdoutPublisher) Publish(_ context.Context, r *report.Report) error {
	return report.Encode(p.w, r)
}

type demoPage struct {
	path string
	tree *rendertree.Node
}

// renderDemo renders the home page and then every post page.
func renderDemo(ctx context.Context, site *demo.Site, posts int, pub sink.Publisher) (int, error) {
	pages := []demoPage{{"/", site.Home()}}
	for i := 1; i <= posts; i++ {
		pages = append(pages, demoPage{fmt.Sprintf("/posts/%d", i), site.Article(uint(i))})
	}

	for i, p := range pages {
		r, err := site.Render(ctx, p.path, p.tree)
		if err != nil {
			return i, err
		}
		if err := pub.Publish(ctx, r); err != nil {
			return i, err
		}
	}
	return len(pages), nil
}
