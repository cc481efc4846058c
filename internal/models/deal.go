package models

import (
	"errors"
	"time"
)

const DefaultCategory = "General"

// ErrDuplicateDeal is returned when a deal with the same canonical URL exists.
var ErrDuplicateDeal = errors.New("deal already exists with this URL")

type Deal struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	AffiliateURL string    `json:"affiliate_url"`
	OriginalURL  string    `json:"original_url"`
	CanonicalURL string    `json:"canonical_url"`
	Price        float64   `json:"price"`
	ImageURL     string    `json:"image_url,omitempty"`
	Summary      string    `json:"summary"`
	Category     string    `json:"category"`
	PubDate      time.Time `json:"pub_date"`
	IsExpired    bool      `json:"is_expired"`
}

func (d *Deal) Validate() []string {
	var problems []string

	if d.Title == "" {
		problems = append(problems, "Title is required")
	}

	if d.AffiliateURL == "" {
		problems = append(problems, "Affiliate URL is required")
	}

	if d.CanonicalURL == "" {
		problems = append(problems, "Canonical URL is required")
	}

	if d.Price <= 0 {
		problems = append(problems, "Invalid price")
	}

	return problems
}
