package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiotdata/retail-ingest/internal/api"
	"github.com/kiotdata/retail-ingest/internal/config"
	"github.com/kiotdata/retail-ingest/internal/dedup"
	"github.com/kiotdata/retail-ingest/internal/pipeline"
	"github.com/kiotdata/retail-ingest/internal/sink"
)

func main() {
	var (
		inputDir   = flag.String("input", "", "input directory (default /csv_input)")
		outputDir  = flag.String("output", "", "output directory for cleaned files (default /csv_output)")
		continuous = flag.Bool("continuous", false, "run continuously and watch for new files")
		interval   = flag.Int("interval", 0, "scan interval in seconds (default 60)")
		configPath = flag.String("config", "", "path to yaml config file")
		port       = flag.Int("port", 0, "status API port (0 = disabled)")
	)
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("[main] Failed to load config: %v", err)
	}
	if *inputDir != "" {
		cfg.Pipeline.InputDir = *inputDir
	}
	if *outputDir != "" {
		cfg.Pipeline.OutputDir = *outputDir
	}
	if *interval > 0 {
		cfg.Pipeline.IntervalSeconds = *interval
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("[main] Connecting to Redis at %s", cfg.Redis.Addr())
	store, err := dedup.Connect(ctx, cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("[main] Failed to connect to Redis: %v", err)
	}
	defer store.Close()

	log.Printf("[main] Connecting to PostgreSQL at %s:%d", cfg.Postgres.Host, cfg.Postgres.Port)
	pg, err := sink.OpenPostgres(ctx, cfg.Postgres.DSN())
	if err != nil {
		log.Fatalf("[main] Failed to connect to PostgreSQL: %v", err)
	}
	defer pg.Close()
	if err := pg.InitSchema(ctx); err != nil {
		log.Fatalf("[main] Failed to initialize schema: %v", err)
	}

	log.Printf("[main] Connecting to warehouse (%s)", cfg.Warehouse.Driver)
	wh, err := sink.OpenWarehouse(ctx, cfg.Warehouse.Driver, cfg.Warehouse.DSN())
	if err != nil {
		log.Fatalf("[main] Failed to connect to warehouse: %v", err)
	}
	defer wh.Close()

	orch, err := pipeline.New(pipeline.Config{
		InputDir:  cfg.Pipeline.InputDir,
		OutputDir: cfg.Pipeline.OutputDir,
		LockTTL:   cfg.Pipeline.LockTTL(),
		DedupTTL:  cfg.Pipeline.DedupTTL(),
	}, store, pg, wh)
	if err != nil {
		log.Fatalf("[main] Failed to initialize pipeline: %v", err)
	}

	if cfg.Server.Port > 0 {
		srv := api.NewServer(store, pg, wh)
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		go func() {
			log.Printf("[main] Status API listening on %s", addr)
			if err := http.ListenAndServe(addr, srv.Routes()); err != nil {
				log.Printf("[main] Status API stopped: %v", err)
			}
		}()
	}

	mode := "one-time"
	if *continuous {
		mode = "continuous"
	}
	log.Printf("[main] CSV processor started: input=%s output=%s mode=%s",
		cfg.Pipeline.InputDir, cfg.Pipeline.OutputDir, mode)

	stats, err := orch.Run(ctx, *continuous, time.Duration(cfg.Pipeline.IntervalSeconds)*time.Second)
	if err != nil {
		log.Fatalf("[main] Pipeline failed: %v", err)
	}

	log.Printf("[main] Done: found=%d processed=%d skipped=%d errors=%d",
		stats.Found, stats.Processed, stats.Skipped, stats.Errors)
	if stats.Errors > 0 {
		os.Exit(1)
	}
}
