package browser

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/deal-scraper/internal/models"
	"github.com/maltedev/deal-scraper/internal/ratelimit"
)

type Options struct {
	MaxAttempts       int
	MinBodySize       int
	RejectIndicators  []string
	UserAgents        []string
	Viewports         []Viewport
	PreDelayMin       time.Duration
	PreDelayMax       time.Duration
	RetryDelayMin     time.Duration
	RetryDelayMax     time.Duration
	NavigationTimeout time.Duration
	BodyTimeout       time.Duration
	SettleMin         time.Duration
	SettleMax         time.Duration
}

// DefaultUserAgents deliberately differ from the HTTP identities so a
// blocked HTTP fingerprint is not replayed by the browser.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.6261.95 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.6261.95 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.6261.95 Safari/537.36",
}

var DefaultViewports = []Viewport{
	{Width: 1920, Height: 1080},
	{Width: 1366, Height: 768},
	{Width: 1440, Height: 900},
	{Width: 1536, Height: 864},
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:       2,
		MinBodySize:       5000,
		RejectIndicators:  []string{"captcha"},
		UserAgents:        DefaultUserAgents,
		Viewports:         DefaultViewports,
		PreDelayMin:       1 * time.Second,
		PreDelayMax:       3 * time.Second,
		RetryDelayMin:     3 * time.Second,
		RetryDelayMax:     6 * time.Second,
		NavigationTimeout: 30 * time.Second,
		BodyTimeout:       15 * time.Second,
		SettleMin:         2 * time.Second,
		SettleMax:         4 * time.Second,
	}
}

// WorstCase is the longest a Fetch can take with every wait at its upper
// bound and every attempt running into its timeouts.
func (o Options) WorstCase() time.Duration {
	o = o.withDefaults()
	perAttempt := o.PreDelayMax + o.NavigationTimeout + o.BodyTimeout + o.SettleMax
	return time.Duration(o.MaxAttempts)*perAttempt + time.Duration(o.MaxAttempts-1)*o.RetryDelayMax
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.MinBodySize <= 0 {
		o.MinBodySize = d.MinBodySize
	}
	if o.RejectIndicators == nil {
		o.RejectIndicators = d.RejectIndicators
	}
	if len(o.UserAgents) == 0 {
		o.UserAgents = d.UserAgents
	}
	if len(o.Viewports) == 0 {
		o.Viewports = d.Viewports
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = d.NavigationTimeout
	}
	if o.BodyTimeout <= 0 {
		o.BodyTimeout = d.BodyTimeout
	}
	// a range with no upper bound takes the default range as a whole
	if o.PreDelayMax <= 0 {
		o.PreDelayMin, o.PreDelayMax = d.PreDelayMin, d.PreDelayMax
	}
	if o.RetryDelayMax <= 0 {
		o.RetryDelayMin, o.RetryDelayMax = d.RetryDelayMin, d.RetryDelayMax
	}
	if o.SettleMax <= 0 {
		o.SettleMin, o.SettleMax = d.SettleMin, d.SettleMax
	}
	return o
}

// Fetcher renders a page in a real browser when plain HTTP was blocked.
// Each attempt runs in a fresh session that is always torn down.
type Fetcher struct {
	launcher Launcher
	opts     Options
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

type FetcherOption func(*Fetcher)

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) FetcherOption {
	return func(f *Fetcher) {
		f.sleep = sleep
	}
}

func WithRand(rng *rand.Rand) FetcherOption {
	return func(f *Fetcher) {
		f.rng = rng
	}
}

func NewFetcher(launcher Launcher, opts Options, logger *slog.Logger, options ...FetcherOption) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}

	f := &Fetcher{
		launcher: launcher,
		opts:     opts.withDefaults(),
		sleep:    ratelimit.Sleep,
		logger:   logger.With("component", "browser_fetcher"),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range options {
		o(f)
	}
	return f
}

func (f *Fetcher) Fetch(ctx context.Context, url string) models.FetchResult {
	result := models.FetchResult{Status: models.FetchNetworkError}

	for i := 0; i < f.opts.MaxAttempts; i++ {
		if i > 0 {
			if err := f.sleep(ctx, f.between(f.opts.RetryDelayMin, f.opts.RetryDelayMax)); err != nil {
				result.Err = err
				return result
			}
		}

		profile := f.pickProfile()
		attempt := models.FetchAttempt{Identity: profile.UserAgent}

		html, err := f.attempt(ctx, url, profile)
		switch {
		case err != nil:
			attempt.Status = models.FetchNetworkError
			attempt.Reason = "browser error"
			attempt.Err = err
		default:
			if reason, rejected := f.reject(html); rejected {
				attempt.Status = models.FetchBlocked
				attempt.Reason = reason
				attempt.Err = fmt.Errorf("%w: %s", ErrRejected, reason)
			} else {
				attempt.Status = models.FetchSuccess
			}
		}
		result.Attempts = append(result.Attempts, attempt)

		if attempt.Status == models.FetchSuccess {
			f.logger.Info("rendered page", "url", url, "attempt", i+1, "viewport", profile.Viewport.String(), "bytes", len(html))
			return models.FetchResult{HTML: html, Status: models.FetchSuccess, Attempts: result.Attempts}
		}

		f.logger.Warn("browser attempt failed",
			"url", url,
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

	return result
}

// attempt runs one isolated session. The session is closed on every path,
// including a panic inside the driver.
func (f *Fetcher) attempt(ctx context.Context, url string, profile Profile) (html string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("browser session panicked: %v", r)
		}
	}()

	if err := f.sleep(ctx, f.between(f.opts.PreDelayMin, f.opts.PreDelayMax)); err != nil {
		return "", err
	}

	session, err := f.launcher.Launch(ctx, profile)
	if err != nil {
		return "", fmt.Errorf("failed to launch browser: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			f.logger.Warn("failed to close browser session", "url", url, "error", cerr)
		}
	}()

	html, err = session.Render(ctx, url, RenderOptions{
		NavigationTimeout: f.opts.NavigationTimeout,
		BodyTimeout:       f.opts.BodyTimeout,
		Settle:            f.between(f.opts.SettleMin, f.opts.SettleMax),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render page: %w", err)
	}
	return html, nil
}

func (f *Fetcher) reject(html string) (string, bool) {
	if len(html) <= f.opts.MinBodySize {
		return fmt.Sprintf("body too small (%d bytes)", len(html)), true
	}
	lower := strings.ToLower(html)
	for _, phrase := range f.opts.RejectIndicators {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return fmt.Sprintf("reject indicator %q", phrase), true
		}
	}
	return "", false
}

func (f *Fetcher) pickProfile() Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Profile{
		UserAgent: f.opts.UserAgents[f.rng.Intn(len(f.opts.UserAgents))],
		Viewport:  f.opts.Viewports[f.rng.Intn(len(f.opts.Viewports))],
	}
}

func (f *Fetcher) between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return min + time.Duration(f.rng.Int63n(int64(max-min)))
}
