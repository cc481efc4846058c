package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/deal-scraper/internal/app"
	"github.com/maltedev/deal-scraper/internal/config"
	"github.com/maltedev/deal-scraper/internal/database"
	"github.com/maltedev/deal-scraper/internal/housekeeping"
	"github.com/maltedev/deal-scraper/internal/logger"
)

func main() {
	var (
		url          = flag.String("url", "", "Product URL to fetch metadata for")
		stats        = flag.Bool("stats", false, "Print cache statistics")
		clearExpired = flag.Bool("clear-expired", false, "Remove expired cache entries")
		clearAll     = flag.Bool("clear-all", false, "Remove every cache entry")
		housekeep    = flag.Bool("housekeeping", false, "Run one housekeeping pass and exit")
		noBrowser    = flag.Bool("no-browser", false, "Disable the browser fallback")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *noBrowser {
		cfg.Browser.Enabled = false
	}

	// logs go to stderr so stdout stays valid JSON
	log := logger.NewWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pipeline, err := app.NewPipeline(cfg, nil, log)
	if err != nil {
		log.Error("failed to build metadata pipeline", "error", err)
		os.Exit(1)
	}

	switch {
	case *url != "":
		printJSON(pipeline.Metadata.FetchMetadata(ctx, *url))

	case *stats:
		s := pipeline.Cache.Stats()
		printJSON(map[string]interface{}{
			"dir":         pipeline.Cache.Dir(),
			"total":       s.Total,
			"valid":       s.Valid,
			"expired":     s.Expired,
			"ttl_seconds": s.TTL.Seconds(),
		})

	case *clearExpired:
		printJSON(map[string]int{"removed": pipeline.Cache.ClearExpired()})

	case *clearAll:
		printJSON(map[string]int{"removed": pipeline.Cache.ClearAll()})

	case *housekeep:
		report, err := runHousekeeping(ctx, cfg, pipeline.Cache, log)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		printJSON(report)
		if report.FailedTasks > 0 {
			os.Exit(1)
		}

	default:
		flag.Usage()
		os.Exit(2)
	}
}

// runHousekeeping runs one janitor pass. The database pool, when enabled,
// is closed before it returns.
func runHousekeeping(ctx context.Context, cfg *config.Config, cache housekeeping.CacheCleaner, log *slog.Logger) (housekeeping.Report, error) {
	opts := []housekeeping.Option{}
	if cfg.Database.Enabled {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return housekeeping.Report{}, err
		}
		defer db.Close()
		opts = append(opts,
			housekeeping.WithDeals(database.NewDealRepository(db, cfg.Redis.Stream)),
			housekeeping.WithOutbox(database.NewOutboxRepository(db)))
	}

	janitor := housekeeping.NewJanitor(cache, housekeeping.Config{
		Interval:    cfg.Housekeeping.Interval,
		ExpireAfter: cfg.Housekeeping.ExpireAfter,
		DeleteAfter: cfg.Housekeeping.DeleteAfter,
	}, log, opts...)

	return janitor.RunOnce(ctx), nil
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode output: %v\n", err)
		os.Exit(1)
	}
}
