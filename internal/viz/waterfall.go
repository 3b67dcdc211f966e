package viz

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/tobert/render-trace/internal/timing"
	"github.com/tobert/render-trace/internal/viewer"
)

const (
	maxSpansPerTrace = 200
	defaultBarWidth  = 20
)

// Waterfall renders an ASCII waterfall of one request's trace events.
// Width controls the total line width; 0 uses a sensible default (80).
func Waterfall(events []timing.TraceEvent, width int) string {
	if len(events) == 0 {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	minStart := events[0].StartTime
	maxEnd := minStart
	for _, ev := range events {
		minStart = min(minStart, ev.StartTime)
	}
	for _, ev := range events {
		maxEnd = max(maxEnd, ev.StartTime+max(ev.Duration, 0))
	}
	totalDur := maxEnd - minStart

	order := flatten(timing.BuildTree(events))

	var b strings.Builder
	fmt.Fprintf(&b, "Render trace (%d spans, %s)\n", len(events), formatMillis(totalDur))

	spanOverflow := 0
	if len(order) > maxSpansPerTrace {
		spanOverflow = len(order) - maxSpansPerTrace
		order = order[:maxSpansPerTrace]
	}

	// Pass 1: widest duration + query suffix, for a consistent right edge
	maxSuffixLen := 0
	for _, entry := range order {
		maxSuffixLen = max(maxSuffixLen, runewidth.StringWidth(rowSuffix(entry.node.Event)))
	}

	// Pass 2: rows
	for _, entry := range order {
		renderSpanRow(&b, entry, minStart, totalDur, width, maxSuffixLen)
	}

	if spanOverflow > 0 {
		fmt.Fprintf(&b, "  ... +%d more spans\n", spanOverflow)
	}
	return b.String()
}

type treeEntry struct {
	node   *timing.SpanNode
	depth  int
	isLast []bool // at each depth level, whether this node is the last child
}

func flatten(roots []*timing.SpanNode) []treeEntry {
	var result []treeEntry
	for ri, root := range roots {
		walkTree(&result, root, 0, []bool{ri == len(roots)-1})
	}
	return result
}

func walkTree(result *[]treeEntry, n *timing.SpanNode, depth int, isLast []bool) {
	*result = append(*result, treeEntry{node: n, depth: depth, isLast: isLast})
	for ci, child := range n.Children {
		childIsLast := append(append([]bool{}, isLast...), ci == len(n.Children)-1)
		walkTree(result, child, depth+1, childIsLast)
	}
}

func rowSuffix(ev timing.TraceEvent) string {
	s := formatMillis(ev.Duration)
	if ev.ResourceDelta > 0 {
		s += fmt.Sprintf(" %dq", ev.ResourceDelta)
	}
	return s
}

func renderSpanRow(b *strings.Builder, entry treeEntry, minStart, totalDur float64, width, maxSuffixLen int) {
	barWidth := defaultBarWidth

	// Tree-drawing characters are multi-byte but one column wide, so the
	// prefix width is counted in columns.
	var prefix strings.Builder
	prefix.WriteString(" ")
	for d := 0; d < entry.depth; d++ {
		if d < len(entry.isLast)-1 {
			if entry.isLast[d] {
				prefix.WriteString("  ")
			} else {
				prefix.WriteString("│ ")
			}
		}
	}
	if entry.depth > 0 {
		if entry.isLast[len(entry.isLast)-1] {
			prefix.WriteString("└─ ")
		} else {
			prefix.WriteString("├─ ")
		}
	}
	prefixStr := prefix.String()
	prefixCols := runewidth.StringWidth(prefixStr)

	ev := entry.node.Event
	label := viewer.DisplayName(ev)

	// Layout: prefix + label + " [" + bar + "] " + suffix
	fixedCols := prefixCols + 2 + barWidth + 2 + maxSuffixLen
	labelBudget := max(width-fixedCols, 8)
	label = runewidth.Truncate(label, labelBudget, "…")
	paddedLabel := runewidth.FillRight(label, labelBudget)

	bar := buildBar(ev.StartTime, ev.StartTime+max(ev.Duration, 0), minStart, totalDur, barWidth)

	paddedSuffix := runewidth.FillRight(rowSuffix(ev), maxSuffixLen)

	fmt.Fprintf(b, "%s%s [%s] %s\n", prefixStr, paddedLabel, bar, paddedSuffix)
}

func buildBar(start, end, minStart, totalDur float64, barWidth int) string {
	if totalDur <= 0 {
		return strings.Repeat("#", barWidth)
	}

	startPos := int((start - minStart) * float64(barWidth) / totalDur)
	endPos := int((end - minStart) * float64(barWidth) / totalDur)

	startPos = min(max(startPos, 0), barWidth-1)
	endPos = max(endPos, startPos+1)
	endPos = min(endPos, barWidth)

	bar := make([]byte, barWidth)
	for i := range bar {
		if i >= startPos && i < endPos {
			bar[i] = '#'
		} else {
			bar[i] = '.'
		}
	}
	return string(bar)
}

// formatMillis formats a millisecond duration with a unit that keeps it short.
func formatMillis(ms float64) string {
	if ms <= 0 {
		return "0ms"
	}
	if ms < 1 {
		return fmt.Sprintf("%.0fµs", ms*1000)
	}
	if ms < 1000 {
		return fmt.Sprintf("%.1fms", ms)
	}
	return fmt.Sprintf("%.2fs", ms/1000)
}
