package viz

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/tobert/render-trace/internal/timing"
	"github.com/tobert/render-trace/internal/viewer"
)

// TableOptions controls TimingTable output.
type TableOptions struct {
	Width      int  // total line width; 0 uses 100
	Color      bool // highlight slow and warn times with ANSI colors
	Thresholds Thresholds
	Sort       viewer.SortState
}

var columnTitles = map[viewer.SortKey]string{
	viewer.SortName:          "Name",
	viewer.SortCount:         "Count",
	viewer.SortTotalTime:     "Total (ms)",
	viewer.SortMaxTime:       "Max (ms)",
	viewer.SortAvgTime:       "Avg (ms)",
	viewer.SortResourceCount: "SQL",
}

// ColumnTitle returns the header text of a sort column.
func ColumnTitle(key viewer.SortKey) string {
	return columnTitles[key]
}

const numWidth = 13 // widest numeric header plus sort arrow

// TimingTable renders timing rows as an aligned table. Rows are rendered in
// the order given; callers sort and filter with the viewer package first.
// The header marks the active sort column.
func TimingTable(rows []timing.Timing, opts TableOptions) string {
	width := opts.Width
	if width <= 0 {
		width = 100
	}

	numeric := viewer.Columns[1:]
	nameWidth := max(width-len(numeric)*(numWidth+1), 16)

	slow := color.New(color.FgRed, color.Bold)
	warn := color.New(color.FgYellow)
	header := color.New(color.Bold)
	if opts.Color {
		slow.EnableColor()
		warn.EnableColor()
		header.EnableColor()
	} else {
		slow.DisableColor()
		warn.DisableColor()
		header.DisableColor()
	}

	var b strings.Builder

	title := ColumnTitle(viewer.SortName) + opts.Sort.Indicator(viewer.SortName)
	line := runewidth.FillRight(title, nameWidth)
	for _, key := range numeric {
		line += " " + runewidth.FillLeft(ColumnTitle(key)+opts.Sort.Indicator(key), numWidth)
	}
	b.WriteString(header.Sprint(line))
	b.WriteByte('\n')
	b.WriteString(strings.Repeat("─", runewidth.StringWidth(line)))
	b.WriteByte('\n')

	for _, r := range rows {
		name := runewidth.Truncate(r.Name, nameWidth, "…")
		b.WriteString(runewidth.FillRight(name, nameWidth))

		fmt.Fprintf(&b, " %*d", numWidth, r.Count)
		for _, v := range []float64{r.TotalTime, r.MaxTime, r.AvgTime} {
			cell := fmt.Sprintf("%*.2f", numWidth, v)
			switch opts.Thresholds.Classify(v) {
			case TimeSlow:
				cell = slow.Sprint(cell)
			case TimeWarn:
				cell = warn.Sprint(cell)
			}
			b.WriteByte(' ')
			b.WriteString(cell)
		}
		fmt.Fprintf(&b, " %*d\n", numWidth, r.TotalResourceCount)
	}

	return b.String()
}

// Summary renders the viewer footer line.
func Summary(shown, total int, totalRenderMs float64) string {
	return fmt.Sprintf("Showing %d of %d unique paths, total render time %.2f ms", shown, total, totalRenderMs)
}
