package flatfile

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketlab/internal/domain"
	"marketlab/internal/remote"
	"marketlab/internal/remote/remotetest"
	"marketlab/internal/util"
)

type fixedTradingCalendar struct {
	day domain.CalendarDay
	err error
}

func (c fixedTradingCalendar) LatestFinishedTradingDay(context.Context) (domain.CalendarDay, error) {
	return c.day, c.err
}

func newTestUpdater(t *testing.T, f *fixture, rs remote.ObjectStore, now time.Time, monthly bool) *Updater {
	t.Helper()
	icfg := IngestConfig{SymbolSet: testSet}
	d := NewDownloader(rs, f.cache, DownloaderConfig{Bucket: testBucket, SymbolSet: testSet, Workers: 2})
	return NewUpdater(UpdateConfig{
		SymbolSet:    testSet,
		MaxYearsBack: 1,
		LookbackDays: 3,
		Monthly:      monthly,
	}, d, f.cache,
		NewDayIngestor(f.cache, f.bars, f.manifest, icfg),
		NewBatchIngestor(f.cache, f.bars, f.manifest, icfg),
		util.NewFixedCalendar(now))
}

func TestUpdaterWindowWithEmptyCache(t *testing.T) {
	f := newFixture(t)
	u := newTestUpdater(t, f, remotetest.NewMemoryStore(), time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), false)

	start, end, err := u.Window(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if start != domain.NewCalendarDay(2023, 3, 1) {
		t.Errorf("start = %v, want 2023-03-01 (366 days back)", start)
	}
	if end != domain.NewCalendarDay(2024, 2, 29) {
		t.Errorf("end = %v, want yesterday 2024-02-29", end)
	}
}

func TestUpdaterWindowUsesLookback(t *testing.T) {
	f := newFixture(t)
	cacheDay(t, f.cache, domain.NewCalendarDay(2024, 1, 10), header)
	u := newTestUpdater(t, f, remotetest.NewMemoryStore(), time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC), false)

	start, end, err := u.Window(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if start != domain.NewCalendarDay(2024, 1, 7) || end != domain.NewCalendarDay(2024, 1, 19) {
		t.Errorf("window = %v..%v, want 2024-01-07..2024-01-19", start, end)
	}
}

func TestUpdaterWindowTradingCalendarClamp(t *testing.T) {
	f := newFixture(t)
	cacheDay(t, f.cache, domain.NewCalendarDay(2024, 1, 10), header)
	u := newTestUpdater(t, f, remotetest.NewMemoryStore(), time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), false)

	u.SetTradingCalendar(fixedTradingCalendar{day: domain.NewCalendarDay(2024, 1, 12)})
	_, end, _ := u.Window(context.Background(), 0)
	if end != domain.NewCalendarDay(2024, 1, 12) {
		t.Errorf("end = %v, want trading-day clamp 2024-01-12", end)
	}

	u.SetTradingCalendar(fixedTradingCalendar{err: errors.New("unauthorized")})
	_, end, _ = u.Window(context.Background(), 0)
	if end != domain.NewCalendarDay(2024, 1, 14) {
		t.Errorf("end = %v, want yesterday when the calendar fails", end)
	}
}

func TestUpdateToLatest(t *testing.T) {
	for _, monthly := range []bool{false, true} {
		ctx := context.Background()
		f := newFixture(t)
		rs := remotetest.NewMemoryStore()

		// Cached already: 2024-01-02. Remote also has 2024-01-03; 2024-01-04
		// is today and not published.
		cacheDay(t, f.cache, jan2, header,
			row("AAA", jan2, 10, 11, 9, 10.5, 1000),
			row("BBB", jan2, 5, 5.5, 4.8, 5.2, 500),
		)
		rs.Put(testBucket, domain.FlatFileKey(testSet, jan3), gzipCSV(t, header,
			row("AAA", jan3, 10.5, 11, 10, 10.8, 1200),
		))

		u := newTestUpdater(t, f, rs, time.Date(2024, 1, 4, 9, 0, 0, 0, time.UTC), monthly)
		res, err := u.UpdateToLatest(ctx, 1)
		if err != nil {
			t.Fatalf("monthly=%v: UpdateToLatest: %v", monthly, err)
		}
		if res.Start != domain.NewCalendarDay(2024, 1, 1) || res.End != jan3 {
			t.Errorf("monthly=%v: window = %v..%v, want 2024-01-01..2024-01-03", monthly, res.Start, res.End)
		}
		if res.Download.Checked != 3 || res.Download.Downloaded != 1 || res.Download.SkippedExisting != 1 || res.Download.MissingRemote != 1 {
			t.Errorf("monthly=%v: download = %v", monthly, res.Download)
		}
		if got := res.DaysIngested(); got != 2 {
			t.Errorf("monthly=%v: DaysIngested = %d, want 2", monthly, got)
		}
		if got := f.series(t, "AAA"); len(got) != 2 {
			t.Errorf("monthly=%v: AAA has %d rows, want 2", monthly, len(got))
		}

		// A second run finds nothing new.
		again, err := u.UpdateToLatest(ctx, 1)
		if err != nil {
			t.Fatalf("monthly=%v: second UpdateToLatest: %v", monthly, err)
		}
		if again.DaysIngested() != 0 || again.Download.Downloaded != 0 {
			t.Errorf("monthly=%v: second run = %+v, want no work", monthly, again)
		}
		if got := f.series(t, "AAA"); len(got) != 2 {
			t.Errorf("monthly=%v: AAA has %d rows after second run, want 2", monthly, len(got))
		}
	}
}

func TestUpdaterRunPropagatesRemoteFailure(t *testing.T) {
	f := newFixture(t)
	rs := remotetest.NewMemoryStore()
	boom := errors.New("tls handshake timeout")
	rs.Fail(testBucket, domain.FlatFileKey(testSet, jan3), boom)
	cacheDay(t, f.cache, jan2, header)

	u := newTestUpdater(t, f, rs, time.Date(2024, 1, 4, 9, 0, 0, 0, time.UTC), false)
	if err := u.Run(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Run err = %v, want %v", err, boom)
	}
	if u.Name() == "" {
		t.Error("Name() is empty")
	}
}
