// Package gather holds the data-gathering processes that move market data
// from external providers into local storage.
package gather

import (
	"context"
	"fmt"

	"marketlab/internal/domain"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass and returns when it is complete or
	// ctx is cancelled.
	Run(ctx context.Context) error
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start domain.CalendarDay
	End   domain.CalendarDay
}

// ParseDateRange parses a YYYY-MM-DD start and end. End must not be
// before start.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := domain.ParseDay(start)
	if err != nil {
		return DateRange{}, err
	}
	e, err := domain.ParseDay(end)
	if err != nil {
		return DateRange{}, err
	}
	if e.Before(s) {
		return DateRange{}, fmt.Errorf("end %s is before start %s", e, s)
	}
	return DateRange{Start: s, End: e}, nil
}

// Days returns every day in the range in order.
func (r DateRange) Days() []domain.CalendarDay {
	return domain.DaysBetween(r.Start, r.End)
}

func (r DateRange) String() string {
	return r.Start.String() + ".." + r.End.String()
}
