package flatfile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"marketlab/internal/cache"
	"marketlab/internal/domain"
	"marketlab/internal/store"
)

// BatchIngestor folds a month of cached days into the bar store with one
// append per symbol, instead of one per symbol per day.
type BatchIngestor struct {
	cache    *cache.Cache
	bars     *store.BarStore
	manifest *store.Manifest
	cfg      IngestConfig
	universe *universeWriter
	log      *slog.Logger
}

// NewBatchIngestor returns a BatchIngestor reading from c and committing to
// bars, with days tracked in m.
func NewBatchIngestor(c *cache.Cache, bars *store.BarStore, m *store.Manifest, cfg IngestConfig) *BatchIngestor {
	return &BatchIngestor{
		cache:    c,
		bars:     bars,
		manifest: m,
		cfg:      cfg,
		universe: newUniverseWriter(cfg.UniverseDir),
		log:      slog.Default().With("component", "batch-ingestor", "symbol_set", cfg.SymbolSet),
	}
}

// IngestMonth ingests the cached, unmarked days of month that fall within
// [start, end].
//
// Rows are buffered per ticker across all of those days, then each
// ticker's rows are appended once. The days are marked in the manifest
// only after every append has succeeded, and exactly the days that were
// buffered are marked. If nothing new was buffered the month is reported
// as skipped and nothing is written.
func (b *BatchIngestor) IngestMonth(ctx context.Context, month domain.Month, start, end domain.CalendarDay) (domain.MonthIngestResult, error) {
	res := domain.MonthIngestResult{Month: month}

	marked, err := b.manifest.IngestedDays(ctx, b.cfg.SymbolSet)
	if err != nil {
		return res, err
	}

	rows := make(map[string][]domain.Bar)
	var buffered []domain.CalendarDay
	tickersByDay := make(map[domain.CalendarDay][]string)

	for _, day := range month.DaysWithin(start, end) {
		if !b.cache.Exists(b.cfg.SymbolSet, day) {
			continue
		}
		res.DaysFound++
		if marked[day] {
			continue
		}

		df, err := readDayFile(b.cache.PathFor(b.cfg.SymbolSet, day))
		if err != nil {
			return res, fmt.Errorf("reading %s: %w", day, err)
		}
		for sym, bars := range df.bars {
			rows[sym] = append(rows[sym], bars...)
		}
		res.RowsRead += df.rowsRead
		tickersByDay[day] = df.tickers()
		buffered = append(buffered, day)
	}

	if len(buffered) == 0 {
		res.Skipped = true
		b.log.Info("month skipped", "month", month, "days_found", res.DaysFound)
		return res, nil
	}

	symbols := make([]string, 0, len(rows))
	for sym := range rows {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if len(rows[sym]) == 0 {
			continue
		}
		n, err := b.bars.Append(ctx, sym, rows[sym])
		if err != nil {
			return res, fmt.Errorf("appending %s for %s: %w", sym, month, err)
		}
		res.SymbolsWritten++
		res.RowsAppended += n
	}

	if err := b.manifest.MarkIngested(ctx, b.cfg.SymbolSet, buffered...); err != nil {
		return res, err
	}
	res.DaysIngested = len(buffered)
	res.IngestedDays = buffered

	for _, day := range buffered {
		b.universe.Add(day, tickersByDay[day])
	}
	if err := b.universe.Finalize(); err != nil {
		return res, fmt.Errorf("recording universe: %w", err)
	}

	b.log.Info("month ingested", "month", month, "days_found", res.DaysFound,
		"days_ingested", res.DaysIngested, "symbols_written", res.SymbolsWritten,
		"rows_read", res.RowsRead, "rows_appended", res.RowsAppended)
	return res, nil
}

// Backfill runs IngestMonth for every month touching [start, end]. A
// failing month stops the backfill; earlier months stay committed.
func (b *BatchIngestor) Backfill(ctx context.Context, start, end domain.CalendarDay) ([]domain.MonthIngestResult, error) {
	var results []domain.MonthIngestResult
	for _, m := range domain.MonthsBetween(start, end) {
		res, err := b.IngestMonth(ctx, m, start, end)
		if err != nil {
			return results, fmt.Errorf("backfilling %s: %w", m, err)
		}
		results = append(results, res)
	}
	return results, nil
}
