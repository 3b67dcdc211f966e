package viewer

import (
	"cmp"
	"fmt"
	"slices"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/tobert/render-trace/internal/timing"
)

// SortKey names a sortable timing column.
type SortKey string

const (
	SortName          SortKey = "name"
	SortCount         SortKey = "count"
	SortTotalTime     SortKey = "totalTime"
	SortMaxTime       SortKey = "maxTime"
	SortAvgTime       SortKey = "avgTime"
	SortResourceCount SortKey = "totalResourceCount"
)

// Columns lists the sort keys in table column order.
var Columns = []SortKey{SortName, SortCount, SortTotalTime, SortMaxTime, SortAvgTime, SortResourceCount}

// ParseSortKey validates a sort key received from a client.
func ParseSortKey(s string) (SortKey, error) {
	for _, k := range Columns {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown sort key %q", s)
}

// Direction is a sort direction.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// ParseDirection validates a direction received from a client.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Ascending, Descending:
		return Direction(s), nil
	}
	return "", fmt.Errorf("unknown sort direction %q", s)
}

// SortState is the active sort column and direction of a table view.
type SortState struct {
	Key SortKey
	Dir Direction
}

// DefaultSortState sorts by name, ascending.
func DefaultSortState() SortState {
	return SortState{Key: SortName, Dir: Ascending}
}

// Toggle returns the state after the column header for key is activated:
// the active key flips direction, any other key becomes active descending.
func (s SortState) Toggle(key SortKey) SortState {
	if s.Key == key {
		if s.Dir == Descending {
			return SortState{Key: key, Dir: Ascending}
		}
		return SortState{Key: key, Dir: Descending}
	}
	return SortState{Key: key, Dir: Descending}
}

// Indicator returns the header suffix for key: an arrow on the active column.
func (s SortState) Indicator(key SortKey) string {
	if s.Key != key {
		return ""
	}
	if s.Dir == Descending {
		return " ▼"
	}
	return " ▲"
}

// Apply sorts rows by the state's key and direction.
func (s SortState) Apply(rows []timing.Timing) []timing.Timing {
	return Sort(rows, s.Key, s.Dir)
}

// Sort returns a stably sorted copy of rows. Names compare with locale-aware
// collation, every other key numerically.
func Sort(rows []timing.Timing, key SortKey, dir Direction) []timing.Timing {
	result := slices.Clone(rows)

	var compare func(a, b timing.Timing) int
	if key == SortName {
		col := collate.New(language.English)
		compare = func(a, b timing.Timing) int {
			return col.CompareString(a.Name, b.Name)
		}
	} else {
		value := numericField(key)
		compare = func(a, b timing.Timing) int {
			return cmp.Compare(value(a), value(b))
		}
	}

	if dir == Descending {
		slices.SortStableFunc(result, func(a, b timing.Timing) int { return compare(b, a) })
	} else {
		slices.SortStableFunc(result, compare)
	}
	return result
}

func numericField(key SortKey) func(timing.Timing) float64 {
	switch key {
	case SortCount:
		return func(t timing.Timing) float64 { return float64(t.Count) }
	case SortMaxTime:
		return func(t timing.Timing) float64 { return t.MaxTime }
	case SortAvgTime:
		return func(t timing.Timing) float64 { return t.AvgTime }
	case SortResourceCount:
		return func(t timing.Timing) float64 { return float64(t.TotalResourceCount) }
	default:
		return func(t timing.Timing) float64 { return t.TotalTime }
	}
}
