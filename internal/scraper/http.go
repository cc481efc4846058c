package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/maltedev/deal-scraper/internal/models"
	"github.com/maltedev/deal-scraper/internal/ratelimit"
)

// HTTPFetcher fetches product pages over plain HTTP, rotating through browser
// identities until one response looks like a real product page.
type HTTPFetcher struct {
	opts      Options
	transport http.RoundTripper
	backoff   *ratelimit.Backoff
	hosts     *ratelimit.HostLimiter
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger
}

type HTTPOption func(*HTTPFetcher)

// WithTransport replaces the round tripper used for every request.
func WithTransport(rt http.RoundTripper) HTTPOption {
	return func(f *HTTPFetcher) {
		f.transport = rt
	}
}

// WithHostLimiter paces requests per retailer host.
func WithHostLimiter(h *ratelimit.HostLimiter) HTTPOption {
	return func(f *HTTPFetcher) {
		f.hosts = h
	}
}

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) HTTPOption {
	return func(f *HTTPFetcher) {
		f.sleep = sleep
	}
}

func NewHTTPFetcher(opts Options, logger *slog.Logger, options ...HTTPOption) *HTTPFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	f := &HTTPFetcher{
		opts:      opts,
		transport: http.DefaultTransport,
		backoff:   ratelimit.NewBackoff(opts.BackoffMin, opts.BackoffMax),
		sleep:     ratelimit.Sleep,
		logger:    logger.With("component", "http_fetcher"),
	}
	for _, o := range options {
		o(f)
	}
	return f
}

func (f *HTTPFetcher) Options() Options {
	return f.opts
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) models.FetchResult {
	if _, err := parseTarget(rawURL); err != nil {
		return models.FetchResult{Status: models.FetchNetworkError, Err: err}
	}

	// One jar per call so cookies set by an interstitial carry over to the
	// next identity, as a browser session would.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return models.FetchResult{Status: models.FetchNetworkError, Err: fmt.Errorf("failed to create cookie jar: %w", err)}
	}
	client := &http.Client{
		Transport: f.transport,
		Jar:       jar,
		Timeout:   f.opts.RequestTimeout,
	}

	result := models.FetchResult{Status: models.FetchNetworkError}

	for i, id := range f.opts.Identities {
		if i > 0 {
			delay := f.backoff.Delay(i)
			f.logger.Debug("backing off before next identity", "url", rawURL, "attempt", i+1, "delay", delay)
			if err := f.sleep(ctx, delay); err != nil {
				result.Err = err
				return result
			}
		}
		if err := f.hosts.Wait(ctx, rawURL); err != nil {
			result.Err = err
			return result
		}

		html, attempt := f.try(ctx, client, rawURL, id)
		result.Attempts = append(result.Attempts, attempt)

		if attempt.Status == models.FetchSuccess {
			f.logger.Info("fetched page", "url", rawURL, "identity", id.Name, "attempt", i+1, "bytes", len(html))
			return models.FetchResult{HTML: html, Status: models.FetchSuccess, Attempts: result.Attempts}
		}

		f.logger.Warn("attempt failed",
			"url", rawURL,
			"identity", id.Name,
			"attempt", i+1,
			"status", attempt.Status.String(),
			"reason", attempt.Reason,
			"error", attempt.Err)

		result.Status = attempt.Status
		result.Err = attempt.Err

		if ctx.Err() != nil {
			result.Err = ctx.Err()
			return result
		}
	}

	if result.Err == nil {
		result.Err = ErrExhausted
	}
	return result
}

func (f *HTTPFetcher) try(ctx context.Context, client *http.Client, rawURL string, id Identity) (string, models.FetchAttempt) {
	attempt := models.FetchAttempt{Identity: id.Name}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		attempt.Status = models.FetchNetworkError
		attempt.Err = fmt.Errorf("failed to create request: %w", err)
		return "", attempt
	}
	id.apply(req, f.opts.Referer)

	resp, err := client.Do(req)
	if err != nil {
		attempt.Status = models.FetchNetworkError
		attempt.Reason = "transport error"
		attempt.Err = fmt.Errorf("failed to fetch page: %w", err)
		return "", attempt
	}
	defer resp.Body.Close()

	attempt.StatusCode = resp.StatusCode

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodySize))
	if err != nil {
		attempt.Status = models.FetchNetworkError
		attempt.Reason = "body read error"
		attempt.Err = fmt.Errorf("failed to read body: %w", err)
		return "", attempt
	}

	if slices.Contains(f.opts.BlockStatuses, resp.StatusCode) {
		return "", blockedAttempt(attempt, fmt.Sprintf("status %d", resp.StatusCode))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		attempt.Status = models.FetchNetworkError
		attempt.Reason = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		attempt.Err = fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		return "", attempt
	}

	if reason, blocked := f.detectBlock(resp, body); blocked {
		return "", blockedAttempt(attempt, reason)
	}

	attempt.Status = models.FetchSuccess
	return string(body), attempt
}

func blockedAttempt(attempt models.FetchAttempt, reason string) models.FetchAttempt {
	attempt.Status = models.FetchBlocked
	attempt.Reason = reason
	attempt.Err = fmt.Errorf("%w: %s", ErrBlocked, reason)
	return attempt
}

// detectBlock applies the content heuristics to a 2xx response and returns
// the first one that fires.
func (f *HTTPFetcher) detectBlock(resp *http.Response, body []byte) (string, bool) {
	if len(body) < f.opts.MinBodySize {
		return fmt.Sprintf("body too small (%d bytes)", len(body)), true
	}
	if ct := strings.ToLower(resp.Header.Get("Content-Type")); !strings.Contains(ct, "text/html") {
		return fmt.Sprintf("unexpected content type %q", ct), true
	}
	if phrase, ok := ContainsIndicator(string(body), f.opts.BlockIndicators); ok {
		return fmt.Sprintf("block indicator %q", phrase), true
	}
	return "", false
}

// ContainsIndicator reports the first phrase found in text, ignoring case.
func ContainsIndicator(text string, phrases []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}

func parseTarget(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}
	return u, nil
}

// ValidateURL reports whether rawURL is an absolute http(s) URL.
func ValidateURL(rawURL string) error {
	_, err := parseTarget(rawURL)
	return err
}
