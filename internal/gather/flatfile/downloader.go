// Package flatfile mirrors a provider's daily flat files into a local cache
// and folds the cached files into the bar store, tracking ingested days in
// a manifest so that every step can be re-run safely.
package flatfile

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"marketlab/internal/cache"
	"marketlab/internal/domain"
	"marketlab/internal/remote"
)

type dayOutcome int

const (
	daySkipped dayOutcome = iota
	dayDownloaded
	dayMissing
)

// DownloaderConfig configures a Downloader.
type DownloaderConfig struct {
	Bucket    string
	SymbolSet string
	Workers   int // concurrent day downloads; <= 1 is sequential
}

// Downloader fills gaps in the local cache from the remote store.
type Downloader struct {
	remote remote.ObjectStore
	cache  *cache.Cache
	cfg    DownloaderConfig
	log    *slog.Logger
}

// NewDownloader returns a Downloader copying from rs into c.
func NewDownloader(rs remote.ObjectStore, c *cache.Cache, cfg DownloaderConfig) *Downloader {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Downloader{
		remote: rs,
		cache:  c,
		cfg:    cfg,
		log:    slog.Default().With("component", "downloader", "symbol_set", cfg.SymbolSet),
	}
}

// DownloadRange makes sure every day in [start, end] that the provider has
// published is cached. Cached days are skipped unless overwrite is set.
// Days the provider does not have, or refuses to serve, are counted as
// missing. Any other failure aborts the range; days already downloaded stay
// cached.
//
// Days are independent, so with Workers > 1 they are fetched concurrently.
// Counts and DownloadedDays are reported in range order regardless.
func (d *Downloader) DownloadRange(ctx context.Context, start, end domain.CalendarDay, overwrite bool) (domain.DownloadRangeResult, error) {
	days := domain.DaysBetween(start, end)
	outcomes := make([]dayOutcome, len(days))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for i, day := range days {
		g.Go(func() error {
			o, err := d.downloadDay(gctx, day, overwrite)
			if err != nil {
				return err
			}
			outcomes[i] = o
			if n := done.Add(1); n%50 == 0 {
				d.log.Info("download progress", "done", n, "total", len(days))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.DownloadRangeResult{}, fmt.Errorf("downloading %s..%s: %w", start, end, err)
	}

	res := domain.DownloadRangeResult{Checked: len(days)}
	for i, o := range outcomes {
		switch o {
		case daySkipped:
			res.SkippedExisting++
		case dayDownloaded:
			res.Downloaded++
			res.DownloadedDays = append(res.DownloadedDays, days[i])
		case dayMissing:
			res.MissingRemote++
		}
	}
	d.log.Info("download range complete", "start", start, "end", end,
		"checked", res.Checked, "downloaded", res.Downloaded,
		"skipped_existing", res.SkippedExisting, "missing_remote", res.MissingRemote)
	return res, nil
}

// DownloadDay caches a single day.
func (d *Downloader) downloadDay(ctx context.Context, day domain.CalendarDay, overwrite bool) (dayOutcome, error) {
	if !overwrite && d.cache.Exists(d.cfg.SymbolSet, day) {
		d.log.Debug("already cached", "day", day)
		return daySkipped, nil
	}

	key := domain.FlatFileKey(d.cfg.SymbolSet, day)
	exists, err := d.remote.Exists(ctx, d.cfg.Bucket, key)
	if err != nil {
		return 0, fmt.Errorf("checking %s: %w", key, err)
	}
	if exists.Missing() {
		d.logMissing(day, key, exists)
		return dayMissing, nil
	}

	res, err := d.remote.Fetch(ctx, d.cfg.Bucket, key)
	if err != nil {
		return 0, fmt.Errorf("fetching %s: %w", key, err)
	}
	if res.Outcome.Missing() {
		// Listed but gone by the time we fetched it.
		d.logMissing(day, key, res.Outcome)
		return dayMissing, nil
	}
	defer res.Body.Close()

	path, n, err := d.cache.WriteAtomic(d.cfg.SymbolSet, day, res.Body)
	if err != nil {
		return 0, fmt.Errorf("caching %s: %w", key, err)
	}
	d.log.Debug("downloaded", "day", day, "path", path, "bytes", n)
	return dayDownloaded, nil
}

func (d *Downloader) logMissing(day domain.CalendarDay, key string, o remote.Outcome) {
	if o == remote.AccessDenied {
		d.log.Warn("access denied", "day", day, "key", key)
		return
	}
	d.log.Debug("not published", "day", day, "key", key)
}
