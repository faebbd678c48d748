package flatfile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"marketlab/internal/domain"
)

// TradingCalendar knows which exchange sessions have finished.
type TradingCalendar interface {
	LatestFinishedTradingDay(ctx context.Context) (domain.CalendarDay, error)
}

// A session's extended-hours data is final at 20:05 exchange time.
const sessionSettleHour, sessionSettleMinute = 20, 5

// AlpacaCalendar implements TradingCalendar with the Alpaca trading
// calendar API.
type AlpacaCalendar struct {
	client *alpaca.Client
	loc    *time.Location
	now    func() time.Time
}

// NewAlpacaCalendar returns a calendar using the given Alpaca credentials.
func NewAlpacaCalendar(apiKey, apiSecret, baseURL string) (*AlpacaCalendar, error) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("loading ET timezone: %w", err)
	}
	return &AlpacaCalendar{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		loc: et,
		now: time.Now,
	}, nil
}

// LatestFinishedTradingDay returns the most recent trading day whose
// session has ended (after 20:05 ET, once extended-hours data has settled).
func (c *AlpacaCalendar) LatestFinishedTradingDay(ctx context.Context) (domain.CalendarDay, error) {
	if err := ctx.Err(); err != nil {
		return domain.CalendarDay{}, err
	}
	now := c.now().In(c.loc)
	calendar, err := c.client.GetCalendar(alpaca.GetCalendarRequest{
		Start: now.AddDate(0, 0, -7),
		End:   now,
	})
	if err != nil {
		return domain.CalendarDay{}, fmt.Errorf("GetCalendar: %w", err)
	}
	dates := make([]string, len(calendar))
	for i, d := range calendar {
		dates[i] = d.Date
	}
	return latestFinished(dates, now)
}

// latestFinished picks the latest finished session from calendar dates
// (YYYY-MM-DD, ascending) given the current time in exchange local time.
func latestFinished(dates []string, now time.Time) (domain.CalendarDay, error) {
	if len(dates) == 0 {
		return domain.CalendarDay{}, errors.New("no trading days returned from calendar")
	}

	today := domain.DayOf(now)
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), sessionSettleHour, sessionSettleMinute, 0, 0, now.Location())

	for i := len(dates) - 1; i >= 0; i-- {
		day, err := domain.ParseDay(dates[i])
		if err != nil {
			continue
		}
		if day == today {
			if now.After(cutoff) {
				return day, nil
			}
			continue
		}
		if day.Before(today) {
			return day, nil
		}
	}
	return domain.CalendarDay{}, errors.New("could not determine latest finished trading day")
}
