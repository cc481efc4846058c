package models

import (
	"strings"
)

const (
	NoTitle       = "No title found"
	NoDescription = "No description found"

	ErrorTitle       = "Error fetching title"
	ErrorDescription = "Error fetching description"

	FailedTitle       = "Unable to fetch title (all methods failed)"
	FailedDescription = "Unable to fetch description (all methods failed)"
)

// Extraction-time price bounds. Deal admission re-validates with its own, wider bounds.
const (
	MinExtractedPrice = 1.0
	MaxExtractedPrice = 100000.0
)

var failureTitles = map[string]struct{}{
	strings.ToLower(NoTitle):     {},
	strings.ToLower(ErrorTitle):  {},
	strings.ToLower(FailedTitle): {},
}

// Bare site names some retailers serve as the document title on interstitial pages.
var placeholderTitles = map[string]struct{}{
	"amazon.in": {},
	"flipkart":  {},
	"error":     {},
}

// Metadata is the normalized result of extracting a retailer product page.
type Metadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ImageURL    string   `json:"image_url,omitempty"`
	Price       *float64 `json:"price"`
}

// IsFailureTitle reports whether title is empty or one of the absent/failure sentinels.
func IsFailureTitle(title string) bool {
	t := strings.ToLower(strings.TrimSpace(title))
	if t == "" {
		return true
	}
	_, ok := failureTitles[t]
	return ok
}

// IsPlaceholderTitle reports whether title is a generic site name rather than a product title.
func IsPlaceholderTitle(title string) bool {
	_, ok := placeholderTitles[strings.ToLower(strings.TrimSpace(title))]
	return ok
}

// Usable reports whether the extraction produced a real product title.
func (m *Metadata) Usable() bool {
	if m == nil {
		return false
	}
	return !IsFailureTitle(m.Title) && !IsPlaceholderTitle(m.Title)
}

// HasPrice reports whether a price was extracted.
func (m *Metadata) HasPrice() bool {
	return m != nil && m.Price != nil
}

// Clone returns a deep copy so cached values can't be mutated by callers.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	c := *m
	if m.Price != nil {
		p := *m.Price
		c.Price = &p
	}
	return &c
}

// FailedMetadata is returned when every fetch strategy has been exhausted.
func FailedMetadata() *Metadata {
	return &Metadata{
		Title:       FailedTitle,
		Description: FailedDescription,
	}
}

// ErrorMetadata is returned when the lookup could not be attempted at all.
func ErrorMetadata() *Metadata {
	return &Metadata{
		Title:       ErrorTitle,
		Description: ErrorDescription,
	}
}

// PriceInRange reports whether p lies within the extraction bounds.
func PriceInRange(p float64) bool {
	return p >= MinExtractedPrice && p <= MaxExtractedPrice
}

func Float64(v float64) *float64 {
	return &v
}
