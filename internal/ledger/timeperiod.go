package ledger

import (
	"fmt"
	"time"
)

// TimePeriod is the granularity of a score bucket.
type TimePeriod string

const (
	Week    TimePeriod = "week"
	Month   TimePeriod = "month"
	Quarter TimePeriod = "quarter"
	Year    TimePeriod = "year"
	AllTime TimePeriod = "all-time"
)

// AllTimeString is the single bucket of the AllTime period.
const AllTimeString = "all-time"

// Periods lists every period in the order aggregates are folded.
var Periods = []TimePeriod{Week, Month, Quarter, Year, AllTime}

func ParseTimePeriod(s string) (TimePeriod, error) {
	for _, p := range Periods {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown time period %q", s)
}

// TimeString maps an instant to its bucket key. Buckets are computed in UTC.
//
// Week combines the calendar year with the ISO week number, so the last days
// of December can land in "2024W1". Existing ledgers are keyed that way and
// the format is kept.
func (p TimePeriod) TimeString(t time.Time) string {
	t = t.UTC()
	switch p {
	case Week:
		_, week := t.ISOWeek()
		return fmt.Sprintf("%dW%d", t.Year(), week)
	case Month:
		return fmt.Sprintf("%02d%04d", int(t.Month()), t.Year())
	case Quarter:
		return fmt.Sprintf("%dQ%d", t.Year(), (int(t.Month())-1)/3+1)
	case Year:
		return fmt.Sprintf("%d", t.Year())
	case AllTime:
		return AllTimeString
	default:
		panic(fmt.Sprintf("unknown time period %q", string(p)))
	}
}

// Previous returns an instant inside the bucket before the one holding t.
// AllTime has no previous bucket.
func (p TimePeriod) Previous(t time.Time) (time.Time, bool) {
	t = t.UTC()
	switch p {
	case Week:
		return t.AddDate(0, 0, -7), true
	case Month:
		return addMonths(t, -1), true
	case Quarter:
		return addMonths(t, -3), true
	case Year:
		return addMonths(t, -12), true
	default:
		return time.Time{}, false
	}
}

// PreviousString is the bucket key before the one holding t, "" for AllTime.
func (p TimePeriod) PreviousString(t time.Time) string {
	prev, ok := p.Previous(t)
	if !ok {
		return ""
	}
	return p.TimeString(prev)
}

// next returns an instant inside the bucket after the one holding t.
func (p TimePeriod) next(t time.Time) time.Time {
	switch p {
	case Week:
		return t.AddDate(0, 0, 7)
	case Month:
		return addMonths(t, 1)
	case Quarter:
		return addMonths(t, 3)
	default:
		return addMonths(t, 12)
	}
}

// after reports whether the bucket key ts comes after the bucket holding at.
// The search stops at the bucket holding until.
func (p TimePeriod) after(ts string, at, until time.Time) bool {
	if ts == "" || p == AllTime {
		return false
	}
	end := p.TimeString(until)
	for t := p.next(at.UTC()); ; t = p.next(t) {
		key := p.TimeString(t)
		if key == ts {
			return true
		}
		if key == end || t.After(until) {
			return false
		}
	}
}

// addMonths moves by whole months and clamps the day to the target month,
// so Mar 31 minus one month is the last day of February. time.AddDate would
// normalise it into March instead.
func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
