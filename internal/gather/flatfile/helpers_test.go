package flatfile

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"marketlab/internal/cache"
	"marketlab/internal/domain"
	"marketlab/internal/store"
	"marketlab/internal/store/storetest"
)

const (
	testSet    = "us_stocks_sip/day_aggs_v1"
	testBucket = "flatfiles"
	header     = "ticker,volume,open,close,high,low,window_start,transactions"
)

// row formats one flat-file line for ticker on day (window start at
// midnight New York time, 05:00 UTC in January).
func row(ticker string, day domain.CalendarDay, o, h, l, c, v float64) string {
	ws := day.Time().Add(5 * time.Hour).UnixNano()
	return fmt.Sprintf("%s,%g,%g,%g,%g,%g,%d,10", ticker, v, o, c, h, l, ws)
}

func gzipCSV(t *testing.T, lines ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(strings.Join(lines, "\n") + "\n")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func cacheDay(t *testing.T, c *cache.Cache, day domain.CalendarDay, lines ...string) {
	t.Helper()
	if _, _, err := c.WriteAtomic(testSet, day, bytes.NewReader(gzipCSV(t, lines...))); err != nil {
		t.Fatalf("caching %s: %v", day, err)
	}
}

type fixture struct {
	cache    *cache.Cache
	barLib   *storetest.MemoryLibrary[store.BarRecord]
	manLib   *storetest.MemoryLibrary[store.ManifestRecord]
	bars     *store.BarStore
	manifest *store.Manifest
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cache:  cache.New(t.TempDir()),
		barLib: storetest.NewMemoryLibrary[store.BarRecord](),
		manLib: storetest.NewMemoryLibrary[store.ManifestRecord](),
	}
	f.bars = store.NewBarStore(f.barLib, "1d")
	f.manifest = store.NewManifest(f.manLib)
	return f
}

func (f *fixture) series(t *testing.T, symbol string) []domain.Bar {
	t.Helper()
	bars, _, err := f.bars.Read(context.Background(), symbol)
	if err != nil {
		t.Fatalf("reading %s: %v", symbol, err)
	}
	return bars
}

func (f *fixture) ingested(t *testing.T, day domain.CalendarDay) bool {
	t.Helper()
	ok, err := f.manifest.IsIngested(context.Background(), testSet, day)
	if err != nil {
		t.Fatalf("IsIngested(%s): %v", day, err)
	}
	return ok
}

func assertStrictlyIncreasing(t *testing.T, symbol string, bars []domain.Bar) {
	t.Helper()
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			t.Errorf("%s: timestamp %d (%v) not after %v", symbol, i, bars[i].Timestamp, bars[i-1].Timestamp)
		}
	}
}

var (
	jan2 = domain.NewCalendarDay(2024, 1, 2)
	jan3 = domain.NewCalendarDay(2024, 1, 3)
)

// cacheScenario caches the two-day AAA/BBB scenario.
func cacheScenario(t *testing.T, c *cache.Cache) {
	t.Helper()
	cacheDay(t, c, jan2, header,
		row("AAA", jan2, 10, 11, 9, 10.5, 1000),
		row("BBB", jan2, 5, 5.5, 4.8, 5.2, 500),
	)
	cacheDay(t, c, jan3, header,
		row("AAA", jan3, 10.5, 11, 10, 10.8, 1200),
	)
}
