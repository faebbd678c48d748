// Command massive-backfill folds cached days into the bar store one month at
// a time, with a single append per symbol per month.
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
	start := flag.String("start", "", "first day to backfill (YYYY-MM-DD)")
	end := flag.String("end", "", "last day to backfill (YYYY-MM-DD)")
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

	results, err := p.Months.Backfill(ctx, r.Start, r.End)
	for _, m := range results {
		if m.Skipped {
			fmt.Printf("month=%s days_found=%d skipped=true\n", m.Month, m.DaysFound)
			continue
		}
		fmt.Printf("month=%s days_found=%d days_ingested=%d symbols_written=%d rows_read=%d rows_appended=%d\n",
			m.Month, m.DaysFound, m.DaysIngested, m.SymbolsWritten, m.RowsRead, m.RowsAppended)
	}
	if err != nil {
		log.Fatalf("backfill error: %v", err)
	}
}
