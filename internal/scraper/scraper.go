package scraper

import (
	"context"
	"errors"
	"time"

	"github.com/maltedev/deal-scraper/internal/models"
)

var (
	ErrInvalidURL = errors.New("invalid product URL")
	ErrBlocked    = errors.New("blocked by anti-bot protection")
	ErrExhausted  = errors.New("all identities exhausted")
)

// Fetcher retrieves the raw HTML of a product page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) models.FetchResult
}

// Options tunes the HTTP strategy. Zero values are replaced by the defaults.
type Options struct {
	Identities      []Identity
	RequestTimeout  time.Duration
	BackoffMin      time.Duration
	BackoffMax      time.Duration
	MinBodySize     int
	MaxBodySize     int64
	BlockIndicators []string
	BlockStatuses   []int
	Referer         string
}

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultBackoffMin     = 2 * time.Second
	DefaultBackoffMax     = 5 * time.Second
	DefaultMinBodySize    = 5000
	DefaultMaxBodySize    = 10 << 20
	DefaultReferer        = "https://www.google.com/"
)

// DefaultBlockIndicators are phrases that mark an anti-bot interstitial.
var DefaultBlockIndicators = []string{
	"robot",
	"captcha",
	"blocked",
	"access denied",
	"forbidden",
	"rate limit",
	"too many requests",
	"security check",
	"verify you are human",
	"cloudflare",
}

var DefaultBlockStatuses = []int{403, 429, 503}

func DefaultOptions() Options {
	return Options{
		Identities:      DefaultIdentities(),
		RequestTimeout:  DefaultRequestTimeout,
		BackoffMin:      DefaultBackoffMin,
		BackoffMax:      DefaultBackoffMax,
		MinBodySize:     DefaultMinBodySize,
		MaxBodySize:     DefaultMaxBodySize,
		BlockIndicators: DefaultBlockIndicators,
		BlockStatuses:   DefaultBlockStatuses,
		Referer:         DefaultReferer,
	}
}

// WorstCase is the longest a Fetch can take when every identity times out
// after the longest backoff.
func (o Options) WorstCase() time.Duration {
	o = o.withDefaults()
	n := len(o.Identities)
	total := time.Duration(n) * o.RequestTimeout
	for i := 1; i < n; i++ {
		total += time.Duration(i+1) * o.BackoffMax
	}
	return total
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if len(o.Identities) == 0 {
		o.Identities = d.Identities
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = d.RequestTimeout
	}
	if o.BackoffMin <= 0 && o.BackoffMax <= 0 {
		o.BackoffMin, o.BackoffMax = d.BackoffMin, d.BackoffMax
	}
	if o.MinBodySize <= 0 {
		o.MinBodySize = d.MinBodySize
	}
	if o.MaxBodySize <= 0 {
		o.MaxBodySize = d.MaxBodySize
	}
	if o.BlockIndicators == nil {
		o.BlockIndicators = d.BlockIndicators
	}
	if o.BlockStatuses == nil {
		o.BlockStatuses = d.BlockStatuses
	}
	if o.Referer == "" {
		o.Referer = d.Referer
	}
	return o
}
