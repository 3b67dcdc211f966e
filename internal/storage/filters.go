package storage

import (
	"strings"

	"github.com/tobert/render-trace/internal/report"
)

// ReportFilter selects stored reports. Zero values match everything; set
// fields combine with AND logic.
type ReportFilter struct {
	Method       string  // exact, case-insensitive
	PathContains string  // case-insensitive substring
	MinRenderMs  float64 // RenderTime >= MinRenderMs
	MinQueries   int     // SQLData.QueryCount >= MinQueries
	Span         string  // at least one timing row has this exact name
	Limit        int     // keep only the most recent Limit matches
}

// FilterReportsByMethod returns reports with the given HTTP method.
func FilterReportsByMethod(reports []*report.Report, method string) []*report.Report {
	if method == "" {
		return reports
	}

	result := make([]*report.Report, 0, len(reports))
	for _, r := range reports {
		if strings.EqualFold(r.Method, method) {
			result = append(result, r)
		}
	}
	return result
}

// FilterReportsByPath returns reports whose request path contains needle.
func FilterReportsByPath(reports []*report.Report, needle string) []*report.Report {
	if needle == "" {
		return reports
	}

	needle = strings.ToLower(needle)
	result := make([]*report.Report, 0, len(reports)/2)
	for _, r := range reports {
		if strings.Contains(strings.ToLower(r.Path), needle) {
			result = append(result, r)
		}
	}
	return result
}

// FilterReportsBySpan returns reports that timed a span named name.
func FilterReportsBySpan(reports []*report.Report, name string) []*report.Report {
	if name == "" {
		return reports
	}

	result := make([]*report.Report, 0, len(reports)/2)
	for _, r := range reports {
		for _, t := range r.Timings {
			if t.Name == name {
				result = append(result, r)
				break
			}
		}
	}
	return result
}

// FilterReports applies every set field of f using AND logic.
func FilterReports(reports []*report.Report, f ReportFilter) []*report.Report {
	result := FilterReportsByMethod(reports, f.Method)
	result = FilterReportsByPath(result, f.PathContains)
	result = FilterReportsBySpan(result, f.Span)

	if f.MinRenderMs > 0 || f.MinQueries > 0 {
		kept := make([]*report.Report, 0, len(result))
		for _, r := range result {
			if r.RenderTime < f.MinRenderMs || r.SQLData.QueryCount < f.MinQueries {
				continue
			}
			kept = append(kept, r)
		}
		result = kept
	}

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[len(result)-f.Limit:]
	}
	return result
}
