package viz

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
)

// RecentReports renders a compact table of recent reports, newest last.
func RecentReports(reports []ReportSummary, th Thresholds) string {
	if len(reports) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Recent Reports (%d)\n", len(reports))

	for _, r := range reports {
		label := runewidth.Truncate(r.Method+" "+r.Path, 40, "…")
		durStr := fmt.Sprintf("%.1fms", r.RenderMs)

		fmt.Fprintf(&b, "  %s %s  %s  %9s  %4d spans  %3d sql\n",
			classIcon(th.Classify(r.RenderMs)), shortID(r.ID),
			runewidth.FillRight(label, 40), durStr, r.SpanCount, r.QueryCount)
	}

	return b.String()
}

func classIcon(c TimeClass) string {
	switch c {
	case TimeSlow:
		return "✗"
	case TimeWarn:
		return "!"
	default:
		return "·"
	}
}
