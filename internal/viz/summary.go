package viz

import (
	"fmt"
	"strings"
)

// StatsOverview renders the report buffer fill level and render totals.
func StatsOverview(stats BufferStats) string {
	var b strings.Builder

	b.WriteString("Report Buffer\n")
	writeBar(&b, "Reports", stats.ReportCount, stats.ReportCapacity)
	fmt.Fprintf(&b, "  Published: %s  Evicted: %s  Snapshots: %d\n",
		formatCount(int(stats.Published)), formatCount(int(stats.Evicted)), stats.SnapshotCount)
	if stats.ReportCount > 0 {
		fmt.Fprintf(&b, "  Avg render: %.2f ms  Slowest: %.2f ms", stats.AvgRenderMs, stats.SlowestRenderMs)
		if stats.SlowestID != "" {
			fmt.Fprintf(&b, " (%s)", shortID(stats.SlowestID))
		}
		b.WriteByte('\n')
	}

	return b.String()
}

func writeBar(b *strings.Builder, label string, count, capacity int) {
	barWidth := 20
	filled := 0
	if capacity > 0 {
		filled = count * barWidth / capacity
	}
	if filled > barWidth {
		filled = barWidth
	}

	bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)

	paddedLabel := fmt.Sprintf("%-8s", label)
	fmt.Fprintf(b, "  %s [%s]  %s / %s\n", paddedLabel, bar, formatCount(count), formatCount(capacity))
}

func formatCount(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1_000_000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1_000_000, (n%1_000_000)/1000, n%1000)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
