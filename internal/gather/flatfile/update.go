package flatfile

import (
	"context"
	"fmt"
	"log/slog"

	"marketlab/internal/cache"
	"marketlab/internal/domain"
	"marketlab/internal/gather"
	"marketlab/internal/util"
)

var _ gather.Gatherer = (*Updater)(nil)

// UpdateConfig configures an Updater.
type UpdateConfig struct {
	SymbolSet    string
	MaxYearsBack int
	LookbackDays int
	Monthly      bool // ingest with BatchIngestor instead of DayIngestor
}

// Updater brings the cache and the bar store up to the latest published
// day: download the missing days, then ingest every cached day of the same
// window that is not yet in the manifest.
type Updater struct {
	cfg        UpdateConfig
	downloader *Downloader
	cache      *cache.Cache
	days       *DayIngestor
	months     *BatchIngestor
	clock      *util.PublicationCalendar
	trading    TradingCalendar
	log        *slog.Logger
}

// NewUpdater wires an Updater from its parts. days is used in daily mode,
// months in monthly mode; the other may be nil.
func NewUpdater(cfg UpdateConfig, d *Downloader, c *cache.Cache, days *DayIngestor, months *BatchIngestor, clock *util.PublicationCalendar) *Updater {
	return &Updater{
		cfg:        cfg,
		downloader: d,
		cache:      c,
		days:       days,
		months:     months,
		clock:      clock,
		log:        slog.Default().With("component", "updater", "symbol_set", cfg.SymbolSet),
	}
}

// SetTradingCalendar makes updates stop at the latest finished trading day
// when that is earlier than yesterday.
func (u *Updater) SetTradingCalendar(tc TradingCalendar) { u.trading = tc }

// Name returns the gatherer identifier.
func (u *Updater) Name() string { return "massive-daily-update" }

// Run performs one update with the configured lookback.
func (u *Updater) Run(ctx context.Context) error {
	_, err := u.UpdateToLatest(ctx, u.cfg.LookbackDays)
	return err
}

// Window returns the day range an update would cover. With nothing cached
// it starts MaxYearsBack years ago; otherwise it starts lookbackDays
// before the latest cached day so short gaps left by earlier partial runs
// are filled again.
func (u *Updater) Window(ctx context.Context, lookbackDays int) (start, end domain.CalendarDay, err error) {
	end = u.clock.LastPublishedDay()
	if u.trading != nil {
		td, err := u.trading.LatestFinishedTradingDay(ctx)
		if err != nil {
			u.log.Warn("trading calendar unavailable, using yesterday", "error", err)
		} else {
			end = domain.MinDay(end, td)
		}
	}

	latest, ok, err := u.cache.FindLatestDay(u.cfg.SymbolSet)
	if err != nil {
		return start, end, err
	}
	if !ok {
		start = u.clock.HistoryStart(u.cfg.MaxYearsBack)
	} else {
		start = latest.AddDays(-lookbackDays)
	}
	return domain.MinDay(start, end), end, nil
}

// UpdateToLatest downloads and ingests the update window.
func (u *Updater) UpdateToLatest(ctx context.Context, lookbackDays int) (domain.UpdateResult, error) {
	start, end, err := u.Window(ctx, lookbackDays)
	if err != nil {
		return domain.UpdateResult{}, err
	}
	res := domain.UpdateResult{Start: start, End: end}
	u.log.Info("update starting", "start", start, "end", end, "lookback_days", lookbackDays)

	res.Download, err = u.downloader.DownloadRange(ctx, start, end, false)
	if err != nil {
		return res, err
	}

	if u.cfg.Monthly {
		res.Months, err = u.months.Backfill(ctx, start, end)
	} else {
		res.Days, err = u.days.IngestRange(ctx, start, end, false)
	}
	if err != nil {
		return res, fmt.Errorf("ingesting %s..%s: %w", start, end, err)
	}

	u.log.Info("update complete", "start", start, "end", end,
		"downloaded", res.Download.Downloaded, "days_ingested", res.DaysIngested())
	return res, nil
}
