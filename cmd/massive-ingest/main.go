// Command massive-ingest folds cached days into the bar store one day at a
// time.
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
	start := flag.String("start", "", "first day to ingest (YYYY-MM-DD)")
	end := flag.String("end", "", "last day to ingest (YYYY-MM-DD)")
	rewrite := flag.Bool("rewrite", false, "replace each symbol's series instead of appending")
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

	p, err := flatfile.Open(ctx, cfg, false)
	if err != nil {
		log.Fatalf("failed to open pipeline: %v", err)
	}
	defer p.Close()

	results, err := p.Days.IngestRange(ctx, r.Start, r.End, *rewrite)
	for _, res := range results {
		fmt.Printf("date=%s symbols=%d rows_read=%d rows_total=%d skipped=%v\n",
			res.Day, res.Symbols, res.RowsRead, res.RowsTotal, res.Skipped)
	}
	if err != nil {
		log.Fatalf("ingest error: %v", err)
	}
}
