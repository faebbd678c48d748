package flatfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"marketlab/internal/cache"
	"marketlab/internal/config"
	"marketlab/internal/remote"
	"marketlab/internal/store"
	"marketlab/internal/util"
)

// orphanGrace is how old an unreferenced segment file must be before Open
// removes it.
const orphanGrace = time.Hour

// Pipeline holds the components built from a Config.
type Pipeline struct {
	Cache      *cache.Cache
	Bars       *store.BarStore
	Manifest   *store.Manifest
	Days       *DayIngestor
	Months     *BatchIngestor
	Downloader *Downloader // nil unless remote access was requested
	Updater    *Updater    // nil unless remote access was requested

	catalog *store.Catalog
}

// Open builds the pipeline. With withRemote set, the S3 client, Downloader,
// and Updater are built too, which requires credentials.
func Open(ctx context.Context, cfg *config.Config, withRemote bool) (*Pipeline, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.CatalogPath()), 0o755); err != nil {
		return nil, fmt.Errorf("creating catalog dir: %w", err)
	}
	catalog, err := store.OpenCatalog(cfg.CatalogPath())
	if err != nil {
		return nil, err
	}

	bars := store.NewParquetLibrary[store.BarRecord](cfg.Storage.DataDir, catalog)
	// Both libraries share one segment directory and catalog, so a single
	// sweep covers them.
	if _, err := bars.Sweep(ctx, time.Now().Add(-orphanGrace)); err != nil {
		catalog.Close()
		return nil, err
	}

	p := &Pipeline{
		Cache:    cache.New(cfg.Storage.CacheDir),
		Bars:     store.NewBarStore(bars, cfg.Ingest.Timeframe),
		Manifest: store.NewManifest(store.NewParquetLibrary[store.ManifestRecord](cfg.Storage.DataDir, catalog)),
		catalog:  catalog,
	}

	icfg := IngestConfig{SymbolSet: cfg.Massive.SymbolSet}
	if cfg.Ingest.RecordUniverse {
		icfg.UniverseDir = filepath.Join(cfg.Storage.DataDir, "universe")
	}
	p.Days = NewDayIngestor(p.Cache, p.Bars, p.Manifest, icfg)
	p.Months = NewBatchIngestor(p.Cache, p.Bars, p.Manifest, icfg)

	if !withRemote {
		return p, nil
	}

	ak, sk, err := cfg.RequireMassiveCredentials()
	if err != nil {
		p.Close()
		return nil, err
	}
	rs, err := remote.NewS3Store(ctx, remote.S3Config{
		Endpoint:        cfg.Massive.Endpoint,
		Region:          cfg.Massive.Region,
		AccessKey:       ak,
		SecretKey:       sk,
		RateLimitPerMin: cfg.Massive.RateLimitPerMin,
		MaxRetries:      cfg.Massive.MaxRetries,
	})
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Downloader = NewDownloader(rs, p.Cache, DownloaderConfig{
		Bucket:    cfg.Massive.Bucket,
		SymbolSet: cfg.Massive.SymbolSet,
		Workers:   cfg.Ingest.DownloadWorkers,
	})

	clock, err := util.NewPublicationCalendar(cfg.Ingest.Location)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Updater = NewUpdater(UpdateConfig{
		SymbolSet:    cfg.Massive.SymbolSet,
		MaxYearsBack: cfg.Ingest.MaxYearsBack,
		LookbackDays: cfg.Ingest.LookbackDays,
		Monthly:      cfg.Ingest.Mode == config.ModeMonthly,
	}, p.Downloader, p.Cache, p.Days, p.Months, clock)

	if cfg.HasAlpaca() {
		tc, err := NewAlpacaCalendar(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("trading calendar: %w", err)
		}
		p.Updater.SetTradingCalendar(tc)
	}
	return p, nil
}

// Close releases the catalog.
func (p *Pipeline) Close() error {
	return p.catalog.Close()
}
