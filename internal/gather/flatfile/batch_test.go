package flatfile

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketlab/internal/domain"
	"marketlab/internal/store"
)

var january = domain.Month{Year: 2024, Month: time.January}

func TestIngestMonthScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cacheScenario(t, f.cache)
	bi := NewBatchIngestor(f.cache, f.bars, f.manifest, IngestConfig{SymbolSet: testSet})

	res, err := bi.IngestMonth(ctx, january, jan2, jan3)
	if err != nil {
		t.Fatalf("IngestMonth: %v", err)
	}
	if res.DaysIngested != 2 || res.SymbolsWritten != 2 || res.RowsAppended != 3 {
		t.Errorf("result = %+v, want days_ingested=2 symbols_written=2 rows_appended=3", res)
	}
	if res.DaysFound != 2 || res.RowsRead != 3 || res.Skipped {
		t.Errorf("result = %+v, want days_found=2 rows_read=3", res)
	}

	aaa := f.series(t, "AAA")
	if len(aaa) != 2 {
		t.Fatalf("bars/1d/AAA has %d rows, want 2", len(aaa))
	}
	if aaa[0].Close != 10.5 || aaa[1].Close != 10.8 {
		t.Errorf("AAA closes = %v, %v; want 10.5, 10.8 in date order", aaa[0].Close, aaa[1].Close)
	}
	assertStrictlyIncreasing(t, "AAA", aaa)

	bbb := f.series(t, "BBB")
	if len(bbb) != 1 || bbb[0].Open != 5 || bbb[0].High != 5.5 || bbb[0].Low != 4.8 || bbb[0].Close != 5.2 || bbb[0].Volume != 500 {
		t.Errorf("bars/1d/BBB = %+v", bbb)
	}

	if !f.ingested(t, jan2) || !f.ingested(t, jan3) {
		t.Error("both days should be marked")
	}

	// One store write per symbol for the whole month.
	if f.barLib.Version(store.BarsKey("1d", "AAA")) != 1 {
		t.Errorf("AAA has %d versions, want 1", f.barLib.Version(store.BarsKey("1d", "AAA")))
	}
}

func TestIngestMonthSkipsWhenNothingNew(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cacheScenario(t, f.cache)
	bi := NewBatchIngestor(f.cache, f.bars, f.manifest, IngestConfig{SymbolSet: testSet})

	if _, err := bi.IngestMonth(ctx, january, jan2, jan3); err != nil {
		t.Fatal(err)
	}
	writes := f.barLib.Writes + f.barLib.Appends

	res, err := bi.IngestMonth(ctx, january, jan2, jan3)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped || res.DaysFound != 2 || res.DaysIngested != 0 {
		t.Errorf("second run = %+v, want skipped with 2 days found", res)
	}
	if n := f.barLib.Writes + f.barLib.Appends; n != writes {
		t.Errorf("skipped month issued %d writes", n-writes)
	}
}

func TestIngestMonthMarksOnlyBufferedDays(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cacheScenario(t, f.cache)
	if err := f.manifest.MarkIngested(ctx, testSet, jan2); err != nil {
		t.Fatal(err)
	}
	bi := NewBatchIngestor(f.cache, f.bars, f.manifest, IngestConfig{SymbolSet: testSet})

	res, err := bi.IngestMonth(ctx, january, january.First(), january.Last())
	if err != nil {
		t.Fatal(err)
	}
	if res.DaysIngested != 1 || len(res.IngestedDays) != 1 || res.IngestedDays[0] != jan3 {
		t.Errorf("IngestedDays = %v, want [2024-01-03]", res.IngestedDays)
	}
	if _, found, _ := f.bars.Read(ctx, "BBB"); found {
		t.Error("BBB only traded on the already-marked day and should not be written")
	}
}

func TestIngestMonthCrashMidWriteLeavesManifestUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cacheScenario(t, f.cache)
	bi := NewBatchIngestor(f.cache, f.bars, f.manifest, IngestConfig{SymbolSet: testSet})

	// AAA is committed, then BBB fails.
	f.barLib.FailKey(store.BarsKey("1d", "BBB"), errors.New("disk full"))
	if _, err := bi.IngestMonth(ctx, january, jan2, jan3); err == nil {
		t.Fatal("IngestMonth should fail")
	}
	if f.ingested(t, jan2) || f.ingested(t, jan3) {
		t.Fatal("manifest marked despite failed write")
	}

	// Re-running after recovery applies BBB and leaves AAA without duplicates.
	f.barLib.FailKey(store.BarsKey("1d", "BBB"), nil)
	res, err := bi.IngestMonth(ctx, january, jan2, jan3)
	if err != nil {
		t.Fatalf("re-run: %v", err)
	}
	if res.DaysIngested != 2 || res.RowsAppended != 1 {
		t.Errorf("re-run = %+v, want 2 days and 1 new row", res)
	}
	if got := f.series(t, "AAA"); len(got) != 2 {
		t.Errorf("AAA has %d rows, want 2", len(got))
	}
	if got := f.series(t, "BBB"); len(got) != 1 {
		t.Errorf("BBB has %d rows, want 1", len(got))
	}
}

func TestIngestMonthSchemaErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cacheScenario(t, f.cache)
	jan4 := domain.NewCalendarDay(2024, 1, 4)
	cacheDay(t, f.cache, jan4, "ticker,volume,open,high,low,window_start", "AAA,1,1,1,1,1")
	bi := NewBatchIngestor(f.cache, f.bars, f.manifest, IngestConfig{SymbolSet: testSet})

	_, err := bi.IngestMonth(ctx, january, jan2, jan4)
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want SchemaError", err)
	}
	if f.barLib.Writes+f.barLib.Appends != 0 {
		t.Error("store written despite schema error")
	}
	if f.ingested(t, jan2) {
		t.Error("manifest marked despite schema error")
	}
}

func TestBackfillAcrossMonths(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cacheScenario(t, f.cache)
	feb1 := domain.NewCalendarDay(2024, 2, 1)
	cacheDay(t, f.cache, feb1, header, row("AAA", feb1, 11, 12, 10, 11.5, 900))
	bi := NewBatchIngestor(f.cache, f.bars, f.manifest, IngestConfig{SymbolSet: testSet})

	results, err := bi.Backfill(ctx, domain.NewCalendarDay(2023, 12, 15), domain.NewCalendarDay(2024, 2, 10))
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d month results, want 3", len(results))
	}
	if !results[0].Skipped || results[1].DaysIngested != 2 || results[2].DaysIngested != 1 {
		t.Errorf("results = %+v", results)
	}
	aaa := f.series(t, "AAA")
	if len(aaa) != 3 {
		t.Errorf("AAA has %d rows, want 3", len(aaa))
	}
	assertStrictlyIncreasing(t, "AAA", aaa)
}
