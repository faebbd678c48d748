package flatfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"marketlab/internal/cache"
	"marketlab/internal/domain"
	"marketlab/internal/store"
)

// ErrNotCached is returned when a day's file is not in the local cache.
var ErrNotCached = errors.New("flatfile: day not cached")

// IngestConfig configures the ingestors.
type IngestConfig struct {
	SymbolSet   string
	UniverseDir string // where to record daily ticker lists; empty disables
}

// DayIngestor folds one cached day at a time into the bar store.
type DayIngestor struct {
	cache    *cache.Cache
	bars     *store.BarStore
	manifest *store.Manifest
	cfg      IngestConfig
	universe *universeWriter
	log      *slog.Logger
}

// NewDayIngestor returns a DayIngestor reading from c and committing to
// bars, with days tracked in m.
func NewDayIngestor(c *cache.Cache, bars *store.BarStore, m *store.Manifest, cfg IngestConfig) *DayIngestor {
	return &DayIngestor{
		cache:    c,
		bars:     bars,
		manifest: m,
		cfg:      cfg,
		universe: newUniverseWriter(cfg.UniverseDir),
		log:      slog.Default().With("component", "day-ingestor", "symbol_set", cfg.SymbolSet),
	}
}

// IngestDay commits the rows of day's cached file, one series per ticker,
// and then marks the day in the manifest.
//
// In append mode (rewrite false) a day that is already marked is skipped
// without reading the file, and rows whose timestamp is already stored are
// dropped. In rewrite mode each ticker's series is replaced by the day's
// rows.
//
// If any write fails the day is left unmarked, so re-running it is safe.
func (i *DayIngestor) IngestDay(ctx context.Context, day domain.CalendarDay, rewrite bool) (domain.DayIngestResult, error) {
	res, err := i.ingestDay(ctx, day, rewrite)
	if ferr := i.universe.Finalize(); err == nil && ferr != nil {
		return res, fmt.Errorf("recording universe: %w", ferr)
	}
	return res, err
}

// IngestRange ingests every cached day in [start, end]. Days without a
// cached file are skipped. The first failure stops the range; days before
// it stay committed and marked.
func (i *DayIngestor) IngestRange(ctx context.Context, start, end domain.CalendarDay, rewrite bool) ([]domain.DayIngestResult, error) {
	var results []domain.DayIngestResult
	var err error
	for _, day := range domain.DaysBetween(start, end) {
		if !i.cache.Exists(i.cfg.SymbolSet, day) {
			i.log.Debug("not cached, skipping", "day", day)
			continue
		}
		var res domain.DayIngestResult
		res, err = i.ingestDay(ctx, day, rewrite)
		if err != nil {
			break
		}
		results = append(results, res)
	}
	if ferr := i.universe.Finalize(); err == nil && ferr != nil {
		err = fmt.Errorf("recording universe: %w", ferr)
	}
	return results, err
}

func (i *DayIngestor) ingestDay(ctx context.Context, day domain.CalendarDay, rewrite bool) (domain.DayIngestResult, error) {
	path := i.cache.PathFor(i.cfg.SymbolSet, day)
	res := domain.DayIngestResult{Day: day, File: path}

	if !i.cache.Exists(i.cfg.SymbolSet, day) {
		return res, fmt.Errorf("%w: %s", ErrNotCached, path)
	}

	if !rewrite {
		done, err := i.manifest.IsIngested(ctx, i.cfg.SymbolSet, day)
		if err != nil {
			return res, err
		}
		if done {
			i.log.Debug("already ingested", "day", day)
			res.Skipped = true
			return res, nil
		}
	}

	df, err := readDayFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return res, fmt.Errorf("%w: %s", ErrNotCached, path)
	}
	if err != nil {
		return res, err
	}
	res.RowsRead = df.rowsRead

	tickers := df.tickers()
	for _, sym := range tickers {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var n int
		if rewrite {
			n, err = i.bars.Write(ctx, sym, df.bars[sym])
		} else {
			n, err = i.bars.Append(ctx, sym, df.bars[sym])
		}
		if err != nil {
			return res, fmt.Errorf("ingesting %s for %s: %w", sym, day, err)
		}
		res.Symbols++
		res.RowsTotal += n
	}

	if err := i.manifest.MarkIngested(ctx, i.cfg.SymbolSet, day); err != nil {
		return res, err
	}
	i.universe.Add(day, tickers)

	i.log.Info("day ingested", "day", day, "symbols", res.Symbols,
		"rows_read", res.RowsRead, "rows_total", res.RowsTotal, "rewrite", rewrite)
	return res, nil
}
