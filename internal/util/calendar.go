package util

import (
	"fmt"
	"time"

	"marketlab/internal/domain"
)

// PublicationCalendar answers "which day is it" questions for a market whose
// daily files are published after the session closes. Providers do not
// publish the current day, so the latest day worth requesting is yesterday.
type PublicationCalendar struct {
	loc *time.Location
	now func() time.Time
}

// NewPublicationCalendar creates a calendar for the named IANA location,
// e.g. "America/New_York". An empty name means UTC.
func NewPublicationCalendar(location string) (*PublicationCalendar, error) {
	loc := time.UTC
	if location != "" {
		l, err := time.LoadLocation(location)
		if err != nil {
			return nil, fmt.Errorf("loading location %q: %w", location, err)
		}
		loc = l
	}
	return &PublicationCalendar{loc: loc, now: time.Now}, nil
}

// NewFixedCalendar returns a calendar whose clock always reads now. It is
// meant for tests and replaying past runs.
func NewFixedCalendar(now time.Time) *PublicationCalendar {
	return &PublicationCalendar{loc: now.Location(), now: func() time.Time { return now }}
}

// Today returns the current calendar day in the calendar's location.
func (c *PublicationCalendar) Today() domain.CalendarDay {
	return domain.DayOf(c.now().In(c.loc))
}

// LastPublishedDay returns the most recent day a provider could have
// published: yesterday.
func (c *PublicationCalendar) LastPublishedDay() domain.CalendarDay {
	return c.Today().AddDays(-1)
}

// HistoryStart returns the first day to request when nothing is cached:
// maxYears*366 days before today. Days older than the provider's history
// window come back access-denied and are counted as missing.
func (c *PublicationCalendar) HistoryStart(maxYears int) domain.CalendarDay {
	return c.Today().AddDays(-maxYears * 366)
}
