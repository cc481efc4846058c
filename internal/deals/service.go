package deals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/deal-scraper/internal/metrics"
	"github.com/maltedev/deal-scraper/internal/models"
)

var (
	ErrURLRequired       = errors.New("affiliate URL is required")
	ErrInvalidURL        = errors.New("invalid deal URL")
	ErrDuplicateDeal     = models.ErrDuplicateDeal
	ErrPriceUndetermined = errors.New("price could not be determined, enter it manually")
	ErrInvalidPrice      = errors.New("price must be between 1 and 200000")
	ErrTitleUndetermined = errors.New("title could not be determined, enter it manually")
)

// Admission bounds are wider than the extraction bounds in models so that a
// manually entered price for an expensive item is still accepted.
const (
	MinDealPrice = 1.0
	MaxDealPrice = 200000.0

	maxTitleLength = 200
)

func ValidatePrice(p *float64) bool {
	return p != nil && *p >= MinDealPrice && *p <= MaxDealPrice
}

type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, url string) *models.Metadata
}

// Repository persists deals. FindByCanonicalURL returns nil, nil when absent.
type Repository interface {
	FindByCanonicalURL(ctx context.Context, canonicalURL string) (*models.Deal, error)
	CreateWithEvent(ctx context.Context, deal *models.Deal) error
}

// DealRequest is a deal submission. Every field but URL is an optional
// manual override of the fetched metadata.
type DealRequest struct {
	URL      string   `json:"url"`
	Title    string   `json:"title,omitempty"`
	Summary  string   `json:"summary,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
	Category string   `json:"category,omitempty"`
	Price    *float64 `json:"price,omitempty"`
}

type Service struct {
	repo      Repository
	metadata  MetadataFetcher
	affiliate AffiliateConfig
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *slog.Logger
}

func NewService(repo Repository, metadata MetadataFetcher, affiliate AffiliateConfig, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		metadata:  metadata,
		affiliate: affiliate,
		metrics:   m,
		now:       time.Now,
		logger:    logger.With("component", "deal_service"),
	}
}

// CreateDeal admits a submitted product URL as a new deal.
func (s *Service) CreateDeal(ctx context.Context, req DealRequest) (*models.Deal, error) {
	deal, err := s.createDeal(ctx, req)
	s.metrics.DealCreated(resultLabel(err))
	return deal, err
}

func (s *Service) createDeal(ctx context.Context, req DealRequest) (*models.Deal, error) {
	rawURL := strings.TrimSpace(req.URL)
	if rawURL == "" {
		return nil, ErrURLRequired
	}

	canonical, err := Canonicalize(rawURL)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByCanonicalURL(ctx, canonical)
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicates: %w", err)
	}
	if existing != nil {
		s.logger.Info("duplicate deal rejected", "canonical_url", canonical, "deal_id", existing.ID)
		return nil, ErrDuplicateDeal
	}

	affiliateURL := AddAffiliateTag(rawURL, s.affiliate)

	md := s.metadata.FetchMetadata(ctx, canonical)

	title := strings.TrimSpace(req.Title)
	if title == "" && md.Usable() {
		title = md.Title
	}
	if title == "" {
		return nil, ErrTitleUndetermined
	}
	if len([]rune(title)) > maxTitleLength {
		title = string([]rune(title)[:maxTitleLength])
	}

	summary := strings.TrimSpace(req.Summary)
	if summary == "" {
		summary = md.Description
	}

	image := strings.TrimSpace(req.ImageURL)
	if image == "" {
		image = md.ImageURL
	}

	price := req.Price
	if price == nil {
		price = md.Price
	}
	if price == nil {
		return nil, ErrPriceUndetermined
	}
	if !ValidatePrice(price) {
		return nil, fmt.Errorf("%w: got %.2f", ErrInvalidPrice, *price)
	}

	category := strings.TrimSpace(req.Category)
	if category == "" {
		category = models.DefaultCategory
	}

	deal := &models.Deal{
		Title:        title,
		AffiliateURL: affiliateURL,
		OriginalURL:  canonical,
		CanonicalURL: canonical,
		Price:        *price,
		ImageURL:     image,
		Summary:      summary,
		Category:     category,
		PubDate:      s.now().UTC(),
	}

	if problems := deal.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid deal: %s", strings.Join(problems, ", "))
	}

	if err := s.repo.CreateWithEvent(ctx, deal); err != nil {
		return nil, fmt.Errorf("failed to save deal: %w", err)
	}

	s.logger.Info("deal created",
		"deal_id", deal.ID,
		"title", deal.Title,
		"price", deal.Price,
		"canonical_url", canonical)

	return deal, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, ErrDuplicateDeal):
		return "duplicate"
	case errors.Is(err, ErrPriceUndetermined), errors.Is(err, ErrTitleUndetermined):
		return "needs_input"
	case errors.Is(err, ErrURLRequired), errors.Is(err, ErrInvalidURL), errors.Is(err, ErrInvalidPrice):
		return "invalid"
	default:
		return "error"
	}
}
