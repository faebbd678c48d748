// Command massive-download fills the local flat-file cache for a date range.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"marketlab/internal/config"
	"marketlab/internal/gather"
	"marketlab/internal/gather/flatfile"
	"marketlab/internal/util"
)

func main() {
	start := flag.String("start", "", "first day to download (YYYY-MM-DD)")
	end := flag.String("end", "", "last day to download (YYYY-MM-DD)")
	overwrite := flag.Bool("overwrite", false, "re-download days that are already cached")
	flag.Parse()

	cfgPath := "config/marketlab.yaml"
	if p := os.Getenv("MARKETLAB_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	r, err := gather.ParseDateRange(*start, *end)
	if err != nil {
		log.Fatalf("invalid range: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := flatfile.Open(ctx, cfg, true)
	if err != nil {
		log.Fatalf("failed to open pipeline: %v", err)
	}
	defer p.Close()

	res, err := p.Downloader.DownloadRange(ctx, r.Start, r.End, *overwrite)
	if err != nil {
		log.Fatalf("download error: %v", err)
	}
	fmt.Println(res)
}
