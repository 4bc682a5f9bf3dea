package ledger

import (
	"strings"
	"time"
)

// Filter selects scans by a window relative to now
type Filter string

const (
	FilterAll   Filter = "all"
	FilterToday Filter = "today"
	FilterWeek  Filter = "week"
	FilterMonth Filter = "month"
)

const (
	weekWindow  = 7 * 24 * time.Hour
	monthWindow = 30 * 24 * time.Hour
)

// ParseFilter maps a query value to a Filter. The empty string means all.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FilterAll:
		return FilterAll, nil
	case FilterToday, FilterWeek, FilterMonth:
		return f, nil
	default:
		return "", invalidInput("unknown filter %q", s)
	}
}

// Valid reports whether f is one of the known windows. The empty Filter
// means all.
func (f Filter) Valid() bool {
	switch f {
	case "", FilterAll, FilterToday, FilterWeek, FilterMonth:
		return true
	}
	return false
}

// Match reports whether ts falls inside the filter window as of now.
// "today" compares calendar dates in now's location.
func (f Filter) Match(ts, now time.Time) bool {
	switch f {
	case FilterToday:
		y1, m1, d1 := ts.In(now.Location()).Date()
		y2, m2, d2 := now.Date()
		return y1 == y2 && m1 == m2 && d1 == d2
	case FilterWeek:
		return !ts.Before(now.Add(-weekWindow))
	case FilterMonth:
		return !ts.Before(now.Add(-monthWindow))
	default:
		return true
	}
}

func filterScans(scans []ScanRecord, f Filter, now time.Time) []ScanRecord {
	if f == FilterAll || f == "" {
		return scans
	}
	out := make([]ScanRecord, 0, len(scans))
	for _, s := range scans {
		if f.Match(s.Timestamp, now) {
			out = append(out, s)
		}
	}
	return out
}
