package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/maltedev/deal-scraper/internal/models"
)

const (
	AggregateDeal    = "deal"
	EventDealCreated = "DEAL_CREATED"

	uniqueViolation = "23505"
)

// DealCreatedPayload is the event body consumers of the deal stream receive.
type DealCreatedPayload struct {
	DealID       int64     `json:"deal_id"`
	Title        string    `json:"title"`
	Price        float64   `json:"price"`
	AffiliateURL string    `json:"affiliate_url"`
	ImageURL     string    `json:"image_url,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	Category     string    `json:"category"`
	PubDate      time.Time `json:"pub_date"`
}

type DealRepository struct {
	db     *DB
	outbox *OutboxRepository
	stream string
}

// NewDealRepository publishes creation events to stream, or DefaultStream
// when stream is empty.
func NewDealRepository(db *DB, stream string) *DealRepository {
	if stream == "" {
		stream = DefaultStream
	}
	return &DealRepository{
		db:     db,
		outbox: NewOutboxRepository(db),
		stream: stream,
	}
}

const dealColumns = `id, title, affiliate_url, original_url, canonical_url, price,
	image_url, summary, category, pub_date, is_expired`

func scanDeal(row pgx.Row) (*models.Deal, error) {
	d := &models.Deal{}
	err := row.Scan(
		&d.ID, &d.Title, &d.AffiliateURL, &d.OriginalURL, &d.CanonicalURL, &d.Price,
		&d.ImageURL, &d.Summary, &d.Category, &d.PubDate, &d.IsExpired,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// FindByCanonicalURL returns nil, nil when no deal has the URL.
func (r *DealRepository) FindByCanonicalURL(ctx context.Context, canonicalURL string) (*models.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE canonical_url = $1`

	deal, err := scanDeal(r.db.pool.QueryRow(ctx, query, canonicalURL))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get deal by url: %w", err)
	}
	return deal, nil
}

// GetByID returns nil, nil when the deal does not exist.
func (r *DealRepository) GetByID(ctx context.Context, id int64) (*models.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE id = $1`

	deal, err := scanDeal(r.db.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get deal: %w", err)
	}
	return deal, nil
}

// CreateWithEvent inserts the deal and its DEAL_CREATED outbox event in one
// transaction and sets deal.ID. A canonical URL collision yields
// models.ErrDuplicateDeal.
func (r *DealRepository) CreateWithEvent(ctx context.Context, deal *models.Deal) error {
	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO deals (
				title, affiliate_url, original_url, canonical_url, price,
				image_url, summary, category, pub_date, is_expired
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id`

		err := tx.QueryRow(ctx, query,
			deal.Title, deal.AffiliateURL, deal.OriginalURL, deal.CanonicalURL, deal.Price,
			deal.ImageURL, deal.Summary, deal.Category, deal.PubDate, deal.IsExpired,
		).Scan(&deal.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return models.ErrDuplicateDeal
			}
			return fmt.Errorf("failed to insert deal: %w", err)
		}

		event, err := dealCreatedEvent(deal, r.stream)
		if err != nil {
			return err
		}
		return r.outbox.InsertWithTx(ctx, tx, event)
	})
}

// MarkExpired flags deals published before olderThan.
func (r *DealRepository) MarkExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.pool.Exec(ctx,
		"UPDATE deals SET is_expired = TRUE WHERE pub_date < $1 AND NOT is_expired",
		olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to mark deals expired: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *DealRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.pool.Exec(ctx, "DELETE FROM deals WHERE pub_date < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old deals: %w", err)
	}
	return result.RowsAffected(), nil
}

func dealCreatedEvent(deal *models.Deal, stream string) (*OutboxEvent, error) {
	payload, err := json.Marshal(DealCreatedPayload{
		DealID:       deal.ID,
		Title:        deal.Title,
		Price:        deal.Price,
		AffiliateURL: deal.AffiliateURL,
		ImageURL:     deal.ImageURL,
		Summary:      deal.Summary,
		Category:     deal.Category,
		PubDate:      deal.PubDate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal deal event: %w", err)
	}

	return &OutboxEvent{
		AggregateType: AggregateDeal,
		AggregateID:   strconv.FormatInt(deal.ID, 10),
		EventType:     EventDealCreated,
		Payload:       payload,
		TargetStream:  stream,
	}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
