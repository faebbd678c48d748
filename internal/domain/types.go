// Package domain defines the core value types shared by the download,
// ingestion, and storage layers: calendar days, raw daily records, stored
// bars, and the summaries each pipeline step reports.
package domain

import (
	"fmt"
	"time"
)

// Bar is one OHLCV row of a stored series. Timestamps are UTC.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// RawDayRecord is a single row of a daily flat file.
type RawDayRecord struct {
	Ticker      string
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	WindowStart int64 // Unix epoch, nanoseconds
}

// Timestamp converts WindowStart to a UTC time.
func (r RawDayRecord) Timestamp() time.Time {
	return time.Unix(0, r.WindowStart).UTC()
}

// Bar returns the record as a stored bar.
func (r RawDayRecord) Bar() Bar {
	return Bar{
		Timestamp: r.Timestamp(),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
	}
}

// DownloadRangeResult summarises one range fill. Checked always equals
// Downloaded + SkippedExisting + MissingRemote.
type DownloadRangeResult struct {
	Checked         int
	Downloaded      int
	SkippedExisting int
	MissingRemote   int
	DownloadedDays  []CalendarDay
}

func (r DownloadRangeResult) String() string {
	return fmt.Sprintf("checked=%d downloaded=%d skipped_existing=%d missing_remote=%d",
		r.Checked, r.Downloaded, r.SkippedExisting, r.MissingRemote)
}

// DayIngestResult reports the outcome of ingesting one cached day.
type DayIngestResult struct {
	Day       CalendarDay
	File      string
	Symbols   int
	RowsRead  int
	RowsTotal int // rows committed to the store
	Skipped   bool
}

// MonthIngestResult reports the outcome of one monthly batch.
type MonthIngestResult struct {
	Month          Month
	DaysFound      int
	DaysIngested   int
	SymbolsWritten int
	RowsRead       int
	RowsAppended   int
	Skipped        bool
	IngestedDays   []CalendarDay
}

// UpdateResult combines the download and ingestion summaries of one
// update-to-latest run.
type UpdateResult struct {
	Start    CalendarDay
	End      CalendarDay
	Download DownloadRangeResult
	Days     []DayIngestResult
	Months   []MonthIngestResult
}

// DaysIngested counts days that were newly committed by the run.
func (r *UpdateResult) DaysIngested() int {
	n := 0
	for _, d := range r.Days {
		if !d.Skipped {
			n++
		}
	}
	for _, m := range r.Months {
		n += m.DaysIngested
	}
	return n
}
