package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/deal-scraper/internal/api"
	"github.com/maltedev/deal-scraper/internal/app"
	"github.com/maltedev/deal-scraper/internal/config"
	"github.com/maltedev/deal-scraper/internal/database"
	"github.com/maltedev/deal-scraper/internal/deals"
	"github.com/maltedev/deal-scraper/internal/housekeeping"
	"github.com/maltedev/deal-scraper/internal/logger"
	"github.com/maltedev/deal-scraper/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "json").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m := metrics.New(prometheus.DefaultRegisterer)

	pipeline, err := app.NewPipeline(cfg, m, log)
	if err != nil {
		log.Error("failed to build metadata pipeline", "error", err)
		os.Exit(1)
	}

	handlerOpts := []api.HandlerOption{}
	janitorOpts := []housekeeping.Option{housekeeping.WithMetrics(m)}

	if cfg.Database.Enabled {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.EnsureSchema(ctx); err != nil {
			log.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}

		dealRepo := database.NewDealRepository(db, cfg.Redis.Stream)
		outbox := database.NewOutboxRepository(db)

		dealService := deals.NewService(dealRepo, pipeline.Metadata, deals.AffiliateConfig{
			AmazonTag:  cfg.Affiliate.AmazonTag,
			FlipkartID: cfg.Affiliate.FlipkartID,
		}, m, log)

		handlerOpts = append(handlerOpts, api.WithDeals(dealService, dealRepo), api.WithBacklog(outbox))
		janitorOpts = append(janitorOpts, housekeeping.WithDeals(dealRepo), housekeeping.WithOutbox(outbox))

		if cfg.Redis.Enabled {
			redisClient := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer redisClient.Close()

			if err := redisClient.Ping(ctx).Err(); err != nil {
				log.Error("failed to connect to Redis", "error", err)
				os.Exit(1)
			}

			relay := database.NewRelay(outbox, redisClient, m, log, database.RelayConfig{
				PollInterval: cfg.Redis.RelayInterval,
				BatchSize:    cfg.Redis.RelayBatchSize,
			})
			go func() {
				if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("relay stopped with error", "error", err)
				}
			}()
		}
	}

	janitor := housekeeping.NewJanitor(pipeline.Cache, housekeeping.Config{
		Interval:    cfg.Housekeeping.Interval,
		ExpireAfter: cfg.Housekeeping.ExpireAfter,
		DeleteAfter: cfg.Housekeeping.DeleteAfter,
	}, log, janitorOpts...)
	go janitor.Run(ctx)

	lookupTimeout := app.LookupBudget(cfg)
	writeTimeout := cfg.Server.WriteTimeout
	if writeTimeout < lookupTimeout+time.Second {
		writeTimeout = lookupTimeout + time.Second
	}

	handlers := api.NewHandlers(pipeline.Metadata, pipeline.Cache, log, handlerOpts...)
	router := api.NewRouter(handlers, api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.WriteTimeout,
		LookupTimeout:  lookupTimeout,
	}, m, prometheus.DefaultGatherer)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting",
		"addr", server.Addr,
		"browser_fallback", cfg.Browser.Enabled,
		"deals", cfg.Database.Enabled,
		"relay", cfg.Redis.Enabled,
		"lookup_timeout", lookupTimeout)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
