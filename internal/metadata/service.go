package metadata

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/deal-scraper/internal/metrics"
	"github.com/maltedev/deal-scraper/internal/models"
	"github.com/maltedev/deal-scraper/internal/scraper"
)

type Cache interface {
	Get(url string) (*models.Metadata, bool)
	Set(url string, md *models.Metadata)
}

type PageFetcher interface {
	Fetch(ctx context.Context, url string) models.FetchResult
}

type Extractor interface {
	Extract(html string, sourceURL string) (*models.Metadata, error)
}

const (
	stageHTTP    = "http"
	stageBrowser = "browser"
)

// Service resolves a product URL to normalized metadata: cache first, then
// plain HTTP, then a real browser. FetchMetadata never fails; total failure
// is reported through the sentinel titles in models.
type Service struct {
	cache     Cache
	extractor Extractor
	http      PageFetcher
	browser   PageFetcher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Option func(*Service)

// WithBrowser enables the browser fallback stage.
func WithBrowser(f PageFetcher) Option {
	return func(s *Service) {
		s.browser = f
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(cache Cache, extractor Extractor, httpFetcher PageFetcher, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		cache:     cache,
		extractor: extractor,
		http:      httpFetcher,
		logger:    logger.With("component", "metadata_service"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) FetchMetadata(ctx context.Context, rawURL string) (md *models.Metadata) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("metadata lookup panicked", "url", rawURL, "panic", r)
			s.metrics.Extraction("error")
			md = models.ErrorMetadata()
		}
	}()

	url := strings.TrimSpace(rawURL)
	if err := scraper.ValidateURL(url); err != nil {
		s.logger.Warn("rejecting malformed url", "url", rawURL, "error", err)
		s.metrics.Extraction("error")
		return models.ErrorMetadata()
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(url); ok {
			s.logger.Debug("using cached metadata", "url", url)
			s.metrics.CacheLookup(true)
			s.metrics.Extraction("cached")
			return cached
		}
		s.metrics.CacheLookup(false)
	}

	if md := s.runStage(ctx, stageHTTP, s.http, url); md != nil {
		s.store(url, md)
		s.metrics.Extraction(stageHTTP)
		return md
	}

	if s.browser != nil && ctx.Err() == nil {
		s.logger.Info("escalating to browser", "url", url)
		if md := s.runStage(ctx, stageBrowser, s.browser, url); md != nil {
			s.store(url, md)
			s.metrics.Extraction(stageBrowser)
			return md
		}
	}

	s.logger.Warn("all fetch methods failed", "url", url)
	s.metrics.Extraction("failed")
	return models.FailedMetadata()
}

// runStage fetches and extracts with one strategy. It returns nil when the
// stage did not produce a usable product title.
func (s *Service) runStage(ctx context.Context, stage string, fetcher PageFetcher, url string) *models.Metadata {
	if fetcher == nil {
		return nil
	}

	started := time.Now()
	result := fetcher.Fetch(ctx, url)
	if !result.OK() {
		s.metrics.ObserveStage(stage, result.Status.String(), started)
		s.logger.Warn("fetch stage failed",
			"stage", stage,
			"url", url,
			"status", result.Status.String(),
			"attempts", len(result.Attempts),
			"reason", result.Reason(),
			"error", result.Err)
		return nil
	}

	md, err := s.extractor.Extract(result.HTML, url)
	if err != nil {
		s.metrics.ObserveStage(stage, "parse_error", started)
		s.logger.Warn("failed to extract metadata", "stage", stage, "url", url, "error", err)
		return nil
	}
	if !md.Usable() {
		s.metrics.ObserveStage(stage, "unusable", started)
		s.logger.Info("no usable title extracted", "stage", stage, "url", url, "title", md.Title)
		return nil
	}

	s.metrics.ObserveStage(stage, models.FetchSuccess.String(), started)
	s.logger.Info("extracted metadata",
		"stage", stage,
		"url", url,
		"title", md.Title,
		"has_price", md.HasPrice(),
		"duration", time.Since(started))
	return md
}

func (s *Service) store(url string, md *models.Metadata) {
	if s.cache == nil {
		return
	}
	s.cache.Set(url, md)
}
