package domain

import (
	"fmt"
	"path"
	"time"
)

const dayLayout = "2006-01-02"

// CalendarDay is an immutable date with no time-of-day component. It is the
// unit of partitioning for remote objects, cache files, and the ingestion
// manifest. Values are comparable with == and usable as map keys.
type CalendarDay struct {
	t time.Time // always midnight UTC
}

// NewCalendarDay returns the day for the given year, month, and day of month.
// Out-of-range values are normalised the same way time.Date does.
func NewCalendarDay(year int, month time.Month, day int) CalendarDay {
	return CalendarDay{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf returns the calendar day of t in t's own location.
func DayOf(t time.Time) CalendarDay {
	y, m, d := t.Date()
	return NewCalendarDay(y, m, d)
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (CalendarDay, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return CalendarDay{}, fmt.Errorf("parsing day %q: %w", s, err)
	}
	return CalendarDay{t: t}, nil
}

func (d CalendarDay) Year() int { return d.t.Year() }
func (d CalendarDay) Month() time.Month { return d.t.Month() }
func (d CalendarDay) Day() int { return d.t.Day() }
func (d CalendarDay) IsZero() bool { return d.t.IsZero() }
func (d CalendarDay) Time() time.Time { return d.t }
func (d CalendarDay) String() string { return d.t.Format(dayLayout) }

// AddDays returns the day n days after d (before, for negative n).
func (d CalendarDay) AddDays(n int) CalendarDay {
	return CalendarDay{t: d.t.AddDate(0, 0, n)}
}

func (d CalendarDay) Before(o CalendarDay) bool { return d.t.Before(o.t) }
func (d CalendarDay) After(o CalendarDay) bool { return d.t.After(o.t) }

// MonthOf returns the month containing d.
func (d CalendarDay) MonthOf() Month {
	return Month{Year: d.Year(), Month: d.Month()}
}

// FlatFileKey returns the slash-separated partition path shared by remote
// object keys and local cache files:
//
//	{symbolSet}/{YYYY}/{MM}/{YYYY-MM-DD}.csv.gz
func FlatFileKey(symbolSet string, d CalendarDay) string {
	return path.Join(symbolSet,
		fmt.Sprintf("%04d", d.Year()),
		fmt.Sprintf("%02d", int(d.Month())),
		d.String()+".csv.gz",
	)
}

// DaysBetween returns every day in [start, end], inclusive, in order. It
// returns nil when end is before start.
func DaysBetween(start, end CalendarDay) []CalendarDay {
	if end.Before(start) {
		return nil
	}
	var days []CalendarDay
	for d := start; !d.After(end); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

// MinDay returns the earlier of a and b.
func MinDay(a, b CalendarDay) CalendarDay {
	if b.Before(a) {
		return b
	}
	return a
}

// MaxDay returns the later of a and b.
func MaxDay(a, b CalendarDay) CalendarDay {
	if b.After(a) {
		return b
	}
	return a
}

// Month identifies one calendar month.
type Month struct {
	Year  int
	Month time.Month
}

func (m Month) String() string { return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month)) }

// First returns the first day of the month.
func (m Month) First() CalendarDay { return NewCalendarDay(m.Year, m.Month, 1) }

// Last returns the last day of the month.
func (m Month) Last() CalendarDay { return NewCalendarDay(m.Year, m.Month+1, 0) }

// Next returns the following month.
func (m Month) Next() Month {
	return NewCalendarDay(m.Year, m.Month+1, 1).MonthOf()
}

// DaysWithin returns the days of m intersected with [start, end].
func (m Month) DaysWithin(start, end CalendarDay) []CalendarDay {
	return DaysBetween(MaxDay(m.First(), start), MinDay(m.Last(), end))
}

// MonthsBetween returns every month touching [start, end], in order.
func MonthsBetween(start, end CalendarDay) []Month {
	if end.Before(start) {
		return nil
	}
	var months []Month
	last := end.MonthOf()
	for m := start.MonthOf(); ; m = m.Next() {
		months = append(months, m)
		if m == last {
			break
		}
	}
	return months
}
