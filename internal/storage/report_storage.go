package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/tobert/render-trace/internal/report"
)

// LatestID resolves to the most recently published report.
const LatestID = "latest"

// DefaultReportCapacity is the number of reports kept when no size is configured.
const DefaultReportCapacity = 100

// ReportStorage keeps the most recent request reports for the viewers.
// It implements renderhttp.Publisher.
type ReportStorage struct {
	reports  *RingBuffer[*report.Report]
	index    map[string]*report.Report // id -> report
	mu       sync.RWMutex              // protects index
	activity *ActivityCache
}

// NewReportStorage creates a report store holding at most capacity reports.
func NewReportStorage(capacity int) *ReportStorage {
	if capacity <= 0 {
		capacity = DefaultReportCapacity
	}

	rs := &ReportStorage{
		reports:  NewRingBuffer[*report.Report](capacity),
		index:    make(map[string]*report.Report),
		activity: NewActivityCache(),
	}

	// The index is only touched under rs.mu, and Add is always called with
	// rs.mu held, so the eviction hook can update it directly.
	rs.reports.OnEvict(func(old *report.Report) {
		if old == nil {
			return
		}
		if cur, ok := rs.index[old.ID]; ok && cur == old {
			delete(rs.index, old.ID)
		}
		rs.activity.RecordEviction()
	})

	return rs
}

// Publish stores r. Reports without an ID are rejected.
func (rs *ReportStorage) Publish(ctx context.Context, r *report.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r == nil {
		rs.activity.RecordRejected()
		return fmt.Errorf("report cannot be nil")
	}
	if r.ID == "" {
		rs.activity.RecordRejected()
		return fmt.Errorf("report has no id")
	}
	if r.ID == LatestID {
		rs.activity.RecordRejected()
		return fmt.Errorf("report id %q is reserved", LatestID)
	}

	rs.mu.Lock()
	rs.reports.Add(r)
	rs.index[r.ID] = r
	rs.mu.Unlock()

	rs.activity.RecordPublish()
	return nil
}

// Get returns the report with the given id. The id "latest" (or an empty id)
// resolves to the most recently published report.
func (rs *ReportStorage) Get(id string) (*report.Report, bool) {
	if id == "" || id == LatestID {
		return rs.reports.Newest()
	}

	rs.mu.RLock()
	defer rs.mu.RUnlock()
	r, ok := rs.index[id]
	return r, ok
}

// List returns all stored reports, oldest first.
func (rs *ReportStorage) List() []*report.Report {
	return rs.reports.GetAll()
}

// Recent returns the n most recent reports, oldest first.
func (rs *ReportStorage) Recent(n int) []*report.Report {
	return rs.reports.GetRecent(n)
}

// Since returns reports published at or after absolute position pos, and the
// position to pass on the next call.
func (rs *ReportStorage) Since(pos int) ([]*report.Report, int) {
	cur := rs.reports.CurrentPosition()
	if pos < 0 {
		pos = 0
	}
	if pos >= cur {
		return nil, cur
	}
	return rs.reports.GetRange(pos, cur-1), cur
}

// Position returns the absolute publish position.
func (rs *ReportStorage) Position() int {
	return rs.reports.CurrentPosition()
}

// Filter returns stored reports matching f, oldest first.
func (rs *ReportStorage) Filter(f ReportFilter) []*report.Report {
	return FilterReports(rs.reports.GetAll(), f)
}

// Stats returns current storage statistics.
func (rs *ReportStorage) Stats() StorageStats {
	all := rs.reports.GetAll()

	stats := StorageStats{
		Reports:    len(all),
		Capacity:   rs.reports.Capacity(),
		Published:  rs.activity.Published(),
		Evicted:    rs.activity.Evicted(),
		Rejected:   rs.activity.Rejected(),
		Generation: rs.activity.Generation(),
		Uptime:     rs.activity.UptimeSeconds(),
	}

	var total float64
	for _, r := range all {
		total += r.RenderTime
		stats.Queries += r.SQLData.QueryCount
		if r.RenderTime > stats.SlowestRenderMs {
			stats.SlowestRenderMs = r.RenderTime
			stats.SlowestID = r.ID
		}
	}
	if len(all) > 0 {
		stats.AvgRenderMs = total / float64(len(all))
	}
	return stats
}

// Clear removes all stored reports.
func (rs *ReportStorage) Clear() {
	rs.mu.Lock()
	rs.reports.Clear()
	rs.index = make(map[string]*report.Report)
	rs.mu.Unlock()

	rs.activity.Reset()
}

// Subscribe returns a coalescing notification channel signalled on every
// publish and clear, plus its unsubscribe function.
func (rs *ReportStorage) Subscribe() (<-chan struct{}, func()) {
	return rs.activity.Subscribe()
}

// Generation changes whenever the stored set changes.
func (rs *ReportStorage) Generation() uint64 {
	return rs.activity.Generation()
}

// ActivityCache returns the activity counters.
func (rs *ReportStorage) ActivityCache() *ActivityCache {
	return rs.activity
}

// StorageStats contains statistics about report storage.
type StorageStats struct {
	Reports         int     `json:"reports"`    // reports currently held
	Capacity        int     `json:"capacity"`   // maximum reports held
	Published       int64   `json:"published"`  // lifetime publishes
	Evicted         int64   `json:"evicted"`    // lifetime capacity evictions
	Rejected        int64   `json:"rejected"`   // lifetime invalid publishes
	Generation      uint64  `json:"generation"` // change counter
	Queries         int     `json:"queries"`    // SQL statements across held reports
	AvgRenderMs     float64 `json:"avgRenderMs"`
	SlowestRenderMs float64 `json:"slowestRenderMs"`
	SlowestID       string  `json:"slowestId,omitempty"`
	Uptime          float64 `json:"uptimeSeconds"`
}
