package aggregation

import (
	"fmt"
	"time"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
)

// Period is one calendar bucket: [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// PeriodStart truncates t to the start of its UTC calendar period.
// Weeks start on Monday (ISO 8601).
func PeriodStart(t time.Time, g v1.Granularity) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch g {
	case v1.GranularityWeek:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case v1.GranularityMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case v1.GranularityYear:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return day
	}
}

// PeriodEnd returns the exclusive end of the period that begins at start.
func PeriodEnd(start time.Time, g v1.Granularity) time.Time {
	switch g {
	case v1.GranularityWeek:
		return start.AddDate(0, 0, 7)
	case v1.GranularityMonth:
		return start.AddDate(0, 1, 0)
	case v1.GranularityYear:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// Periods enumerates every period intersecting [from, to), in order.
// The first period may start before from and the last may end after to.
func Periods(from, to time.Time, g v1.Granularity) []Period {
	if !to.After(from) {
		return nil
	}
	var out []Period
	for start := PeriodStart(from, g); start.Before(to); {
		end := PeriodEnd(start, g)
		out = append(out, Period{Start: start, End: end})
		start = end
	}
	return out
}

// IsRealTime reports whether any part of the period falls inside the last
// `days` UTC days, so with days=2 a week or month holding today or yesterday
// stays live along with those days themselves.
func (p Period) IsRealTime(now time.Time, days int) bool {
	if days <= 0 {
		days = 1
	}
	cutoff := PeriodStart(now, v1.GranularityDay).AddDate(0, 0, -(days - 1))
	return p.End.After(cutoff)
}

// Elapsed reports whether the period has fully ended at now.
func (p Period) Elapsed(now time.Time) bool {
	return !p.End.After(now)
}

// Clipped reports whether the window [from, to) cuts the period short.
func (p Period) Clipped(from, to time.Time) bool {
	return p.Start.Before(from) || p.End.After(to)
}

// ParseGranularity validates a user-supplied granularity string.
func ParseGranularity(s string) (v1.Granularity, error) {
	g := v1.Granularity(s)
	if !g.Valid() {
		return "", fmt.Errorf("unsupported granularity %q", s)
	}
	return g, nil
}
