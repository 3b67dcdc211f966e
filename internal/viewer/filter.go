// Package viewer implements the data transforms behind the timing viewers:
// name and threshold filtering, column sorting and chronological trace export.
// Every function is pure and works on the serialized report data.
package viewer

import (
	"strings"

	"github.com/tobert/render-trace/internal/timing"
)

// NegligibleThresholdMs is the fixed cut-off used by "hide negligible":
// rows whose total time does not exceed it are hidden.
const NegligibleThresholdMs = 0.5

// FilterOptions selects timing rows. Zero values disable a filter.
type FilterOptions struct {
	// Query is matched case-insensitively as a substring of the row name.
	Query string

	// AboveMs keeps only rows whose TotalTime is strictly greater than it.
	AboveMs *float64
}

// HideNegligible returns FilterOptions.AboveMs set to NegligibleThresholdMs.
func HideNegligible() *float64 {
	threshold := NegligibleThresholdMs
	return &threshold
}

// Filter returns the rows matching opts using AND logic. The input slice is
// not modified.
func Filter(rows []timing.Timing, opts FilterOptions) []timing.Timing {
	query := strings.ToLower(opts.Query)

	result := make([]timing.Timing, 0, len(rows))
	for _, row := range rows {
		if opts.AboveMs != nil && !(row.TotalTime > *opts.AboveMs) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(row.Name), query) {
			continue
		}
		result = append(result, row)
	}
	return result
}
