// Package querylog counts and groups the database statements executed while
// one request renders. A Log is the resource counter sampled by the timing
// collector; Plugin feeds it from gorm callbacks.
package querylog

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tobert/render-trace/internal/timing"
)

// DefaultSlowThreshold marks statements worth listing individually.
const DefaultSlowThreshold = 10 * time.Millisecond

// Query is one executed statement.
type Query struct {
	SQL      string
	Table    string
	Params   []any
	Duration time.Duration
}

// Options configures a Log.
type Options struct {
	SlowThreshold time.Duration // 0 uses DefaultSlowThreshold
}

// Log records the statements of a single request. Current is lock-free so
// the collector can sample it on every span boundary.
type Log struct {
	count         atomic.Int64
	slowThreshold time.Duration

	mu      sync.Mutex
	queries []Query
}

// New creates an empty query log.
func New(opts ...Options) *Log {
	l := &Log{slowThreshold: DefaultSlowThreshold}
	if len(opts) > 0 && opts[0].SlowThreshold > 0 {
		l.slowThreshold = opts[0].SlowThreshold
	}
	return l
}

var _ timing.CounterSource = (*Log)(nil)

// Current returns the number of statements recorded so far.
func (l *Log) Current() int64 {
	if l == nil {
		return 0
	}
	return l.count.Load()
}

// Record appends a statement and advances the counter.
func (l *Log) Record(q Query) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.queries = append(l.queries, q)
	l.mu.Unlock()
	l.count.Add(1)
}

// Queries returns a copy of the recorded statements in execution order.
func (l *Log) Queries() []Query {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	result := make([]Query, len(l.queries))
	copy(result, l.queries)
	return result
}

// TableStats summarizes the statements against one table.
type TableStats struct {
	QueryCount    int     `json:"queryCount"`
	ExecutionTime float64 `json:"executionTime"`
}

// SlowQuery is a statement that exceeded the slow threshold.
type SlowQuery struct {
	SQL         string  `json:"sql"`
	Table       string  `json:"table"`
	Params      []any   `json:"params"`
	ExecutionMS float64 `json:"executionMS"`
}

// QueryDetails groups executions of one SQL string. Params counts how often
// each distinct parameter set was used.
type QueryDetails struct {
	ExecutionTimeSum float64        `json:"executionTimeSum"`
	Count            int            `json:"count"`
	Params           map[string]int `json:"params"`
}

// QueryGroup groups the statements of one table by SQL string.
type QueryGroup struct {
	Queries          map[string]*QueryDetails `json:"queries"`
	ExecutionTimeSum float64                  `json:"executionTimeSum"`
	Count            int                      `json:"count"`
}

// Summary is the per-request SQL overview attached to a report.
type Summary struct {
	QueryCount     int                    `json:"queryCount"`
	ExecutionTime  float64                `json:"executionTime"`
	Tables         map[string]TableStats  `json:"tables"`
	SlowQueries    []SlowQuery            `json:"slowQueries"`
	GroupedQueries map[string]*QueryGroup `json:"groupedQueries"`
}

// Summary aggregates the recorded statements. Times are milliseconds rounded
// to two decimals.
func (l *Log) Summary() Summary {
	queries := l.Queries()

	s := Summary{
		QueryCount:     len(queries),
		Tables:         make(map[string]TableStats),
		SlowQueries:    []SlowQuery{},
		GroupedQueries: make(map[string]*QueryGroup),
	}

	var total float64
	for _, q := range queries {
		ms := float64(q.Duration) / float64(time.Millisecond)
		total += ms

		ts := s.Tables[q.Table]
		ts.QueryCount++
		ts.ExecutionTime += ms
		s.Tables[q.Table] = ts

		if l.slowThreshold > 0 && q.Duration >= l.slowThreshold {
			s.SlowQueries = append(s.SlowQueries, SlowQuery{
				SQL:         q.SQL,
				Table:       q.Table,
				Params:      q.Params,
				ExecutionMS: timing.Round2(ms),
			})
		}

		group, ok := s.GroupedQueries[q.Table]
		if !ok {
			group = &QueryGroup{Queries: make(map[string]*QueryDetails)}
			s.GroupedQueries[q.Table] = group
		}
		group.Count++
		group.ExecutionTimeSum += ms

		details, ok := group.Queries[q.SQL]
		if !ok {
			details = &QueryDetails{Params: make(map[string]int)}
			group.Queries[q.SQL] = details
		}
		details.Count++
		details.ExecutionTimeSum += ms
		details.Params[paramKey(q.Params)]++
	}

	s.ExecutionTime = timing.Round2(total)
	for name, ts := range s.Tables {
		ts.ExecutionTime = timing.Round2(ts.ExecutionTime)
		s.Tables[name] = ts
	}
	for _, group := range s.GroupedQueries {
		group.ExecutionTimeSum = timing.Round2(group.ExecutionTimeSum)
		for _, details := range group.Queries {
			details.ExecutionTimeSum = timing.Round2(details.ExecutionTimeSum)
		}
	}
	sort.SliceStable(s.SlowQueries, func(i, j int) bool {
		return s.SlowQueries[i].ExecutionMS > s.SlowQueries[j].ExecutionMS
	})

	return s
}

// paramKey renders a parameter set as JSON so equal sets group together.
func paramKey(params []any) string {
	if len(params) == 0 {
		return "[]"
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "[?]"
	}
	return string(data)
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying l.
func NewContext(ctx context.Context, l *Log) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the log carried by ctx, or nil.
func FromContext(ctx context.Context) *Log {
	if ctx == nil {
		return nil
	}
	l, _ := ctx.Value(contextKey{}).(*Log)
	return l
}
