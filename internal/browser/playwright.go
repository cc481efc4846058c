package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightLauncher starts a dedicated Playwright driver and Chromium process
// for every session.
type PlaywrightLauncher struct {
	cfg LaunchConfig
}

func NewPlaywrightLauncher(cfg LaunchConfig) *PlaywrightLauncher {
	return &PlaywrightLauncher{cfg: cfg}
}

func (l *PlaywrightLauncher) Launch(ctx context.Context, profile Profile) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	args := append(stealthArgs(),
		"--window-size="+profile.Viewport.String(),
		"--user-agent="+profile.UserAgent,
	)
	if l.cfg.DisableImages {
		args = append(args, "--blink-settings=imagesEnabled=false")
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless:          playwright.Bool(l.cfg.Headless),
		Args:              args,
		IgnoreDefaultArgs: []string{"--enable-automation"},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(profile.UserAgent),
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(!l.cfg.DisableJavaScript),
		Locale:            playwright.String("en-IN"),
		TimezoneId:        playwright.String("Asia/Kolkata"),
		Viewport: &playwright.Size{
			Width:  profile.Viewport.Width,
			Height: profile.Viewport.Height,
		},
		ExtraHttpHeaders: map[string]string{
			"Accept-Language": "en-US,en;q=0.9,hi;q=0.8",
			"DNT":             "1",
		},
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	s := &playwrightSession{pw: pw, browser: browser, context: bctx}

	page, err := bctx.NewPage()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	s.page = page

	if l.cfg.DisableImages {
		if err := page.Route("**/*", abortHeavyResources); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to install request filter: %w", err)
		}
	}

	return s, nil
}

func abortHeavyResources(route playwright.Route) {
	switch route.Request().ResourceType() {
	case "image", "media", "font":
		route.Abort()
	default:
		route.Continue()
	}
}

type playwrightSession struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

func (s *playwrightSession) Render(ctx context.Context, url string, opts RenderOptions) (string, error) {
	if _, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(millis(ctx, opts.NavigationTimeout)),
	}); err != nil {
		return "", fmt.Errorf("failed to navigate: %w", err)
	}

	if err := s.page.Locator("body").WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(millis(ctx, opts.BodyTimeout)),
	}); err != nil {
		return "", fmt.Errorf("body did not appear: %w", err)
	}

	if opts.Settle > 0 {
		timer := time.NewTimer(opts.Settle)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	content, err := s.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}
	return content, nil
}

func (s *playwrightSession) Close() error {
	var errs []error

	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}

// millis converts d to Playwright's millisecond timeout, capped by the
// context deadline.
func millis(ctx context.Context, d time.Duration) float64 {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < d {
			d = left
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return float64(d.Milliseconds())
}
