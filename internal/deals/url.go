package deals

import (
	"fmt"
	"net/url"
	"strings"
)

// trackingParams are stripped before deduplication. Affiliate parameters are
// included so the same product submitted with different tags collides.
var trackingParams = []string{
	"tag",
	"affid",
	"ref",
	"utm_source",
	"utm_medium",
	"utm_campaign",
	"utm_term",
	"utm_content",
	"gclid",
	"fbclid",
	"msclkid",
}

type AffiliateConfig struct {
	AmazonTag  string
	FlipkartID string
}

// Canonicalize drops tracking parameters and the fragment. Remaining query
// parameters are re-encoded in sorted order so equivalent URLs compare equal.
func Canonicalize(rawURL string) (string, error) {
	u, err := parseDealURL(rawURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	for _, p := range trackingParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), nil
}

// AddAffiliateTag adds the retailer's affiliate parameter when it is missing.
// URLs of other retailers are returned unchanged.
func AddAffiliateTag(rawURL string, cfg AffiliateConfig) string {
	u, err := parseDealURL(rawURL)
	if err != nil {
		return rawURL
	}

	host := strings.ToLower(u.Host)
	q := u.Query()

	switch {
	case strings.Contains(host, "amazon.") && cfg.AmazonTag != "":
		if q.Has("tag") {
			return rawURL
		}
		q.Set("tag", cfg.AmazonTag)
	case strings.Contains(host, "flipkart.") && cfg.FlipkartID != "":
		if q.Has("affid") {
			return rawURL
		}
		q.Set("affid", cfg.FlipkartID)
	default:
		return rawURL
	}

	u.RawQuery = q.Encode()
	return u.String()
}

func parseDealURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}
	return u, nil
}
