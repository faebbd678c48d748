// Command massive-update downloads and ingests everything up to the latest
// published day. With -daemon it repeats on the configured cron schedule and
// serves gRPC health.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"marketlab/internal/api"
	"marketlab/internal/config"
	"marketlab/internal/gather/flatfile"
	"marketlab/internal/scheduler"
	"marketlab/internal/util"
)

func main() {
	lookback := flag.Int("lookback-days", -1, "days before the latest cached day to re-check (default from config)")
	daemon := flag.Bool("daemon", false, "run on schedule.update_cron and serve gRPC health")
	flag.Parse()

	cfgPath := "config/marketlab.yaml"
	if p := os.Getenv("MARKETLAB_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *lookback >= 0 {
		cfg.Ingest.LookbackDays = *lookback
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := flatfile.Open(ctx, cfg, true)
	if err != nil {
		log.Fatalf("failed to open pipeline: %v", err)
	}
	defer p.Close()

	if !*daemon {
		res, err := p.Updater.UpdateToLatest(ctx, cfg.Ingest.LookbackDays)
		if err != nil {
			log.Fatalf("update error: %v", err)
		}
		fmt.Printf("start=%s end=%s %s days_ingested=%d\n", res.Start, res.End, res.Download, res.DaysIngested())
		return
	}

	if err := runDaemon(ctx, cfg, p.Updater); err != nil {
		log.Fatalf("daemon error: %v", err)
	}
}

func runDaemon(ctx context.Context, cfg *config.Config, u *flatfile.Updater) error {
	srv := api.NewServer(cfg.Server.Host, cfg.Server.GRPCPort)
	sched := scheduler.New(ctx, srv.Report)
	if err := sched.Register(cfg.Schedule.UpdateCron, u); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	g.Go(func() error {
		// Catch up once at startup, then follow the schedule.
		sched.RunNow(u)
		sched.Start()
		<-gctx.Done()
		sched.Stop()
		return nil
	})

	slog.Info("massive-update daemon started", "cron", cfg.Schedule.UpdateCron, "grpc", srv.Addr())
	return g.Wait()
}
