package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/deal-scraper/internal/browser"
	"github.com/maltedev/deal-scraper/internal/config"
	"github.com/maltedev/deal-scraper/internal/metadata"
	"github.com/maltedev/deal-scraper/internal/metrics"
	"github.com/maltedev/deal-scraper/internal/parser"
	"github.com/maltedev/deal-scraper/internal/ratelimit"
	"github.com/maltedev/deal-scraper/internal/scraper"
	"github.com/maltedev/deal-scraper/internal/storage"
)

// Pipeline is the metadata lookup stack shared by the server and the CLI.
type Pipeline struct {
	Cache    *storage.MetadataCache
	Metadata *metadata.Service
}

// NewPipeline builds cache, HTTP strategy, extractor and, when enabled, the
// browser fallback from cfg. m may be nil.
func NewPipeline(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*Pipeline, error) {
	cache, err := storage.NewMetadataCache(cfg.Cache.Dir, cfg.Cache.TTL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	httpFetcher := scraper.NewHTTPFetcher(HTTPOptions(cfg.Scraper), logger,
		scraper.WithHostLimiter(ratelimit.NewHostLimiter(cfg.Scraper.HostRate, cfg.Scraper.HostBurst)))

	opts := []metadata.Option{metadata.WithMetrics(m)}

	if cfg.Browser.Enabled {
		launcher, err := browser.NewLauncher(cfg.Browser.Engine, browser.LaunchConfig{
			Headless:          cfg.Browser.Headless,
			DisableImages:     cfg.Browser.DisableImages,
			DisableJavaScript: cfg.Browser.DisableJavaScript,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, metadata.WithBrowser(
			browser.NewFetcher(launcher, BrowserOptions(cfg.Browser), logger)))
	}

	return &Pipeline{
		Cache:    cache,
		Metadata: metadata.NewService(cache, parser.NewMetadataParser(), httpFetcher, logger, opts...),
	}, nil
}

// lookupSlack covers extraction, cache writes and response encoding.
const lookupSlack = 15 * time.Second

// LookupBudget is the longest a metadata lookup can run with cfg: the full
// HTTP cycle, then the browser fallback when enabled.
func LookupBudget(cfg *config.Config) time.Duration {
	budget := HTTPOptions(cfg.Scraper).WorstCase() + lookupSlack
	if cfg.Browser.Enabled {
		budget += BrowserOptions(cfg.Browser).WorstCase()
	}
	return budget
}

// HTTPOptions maps the scraper section onto the HTTP strategy. Unset fields
// keep the strategy defaults.
func HTTPOptions(c config.ScraperConfig) scraper.Options {
	return scraper.Options{
		RequestTimeout:  c.RequestTimeout,
		BackoffMin:      c.BackoffMin,
		BackoffMax:      c.BackoffMax,
		MinBodySize:     c.MinBodySize,
		BlockIndicators: c.BlockIndicators,
	}
}

func BrowserOptions(c config.BrowserConfig) browser.Options {
	return browser.Options{
		MaxAttempts:       c.MaxAttempts,
		NavigationTimeout: c.NavigationTimeout,
		BodyTimeout:       c.BodyTimeout,
		SettleMin:         c.SettleMin,
		SettleMax:         c.SettleMax,
	}
}
