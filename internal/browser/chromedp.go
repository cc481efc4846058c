package browser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// ChromedpLauncher drives Chromium over the DevTools protocol directly,
// without the Playwright driver.
type ChromedpLauncher struct {
	cfg LaunchConfig
}

func NewChromedpLauncher(cfg LaunchConfig) *ChromedpLauncher {
	return &ChromedpLauncher{cfg: cfg}
}

func (l *ChromedpLauncher) Launch(ctx context.Context, profile Profile) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(profile.Viewport.Width, profile.Viewport.Height),
		chromedp.UserAgent(profile.UserAgent),
	)
	for _, arg := range stealthArgs() {
		opts = append(opts, flagFromArg(arg))
	}
	if l.cfg.DisableImages {
		opts = append(opts, chromedp.Flag("blink-settings", "imagesEnabled=false"))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(slog.Debug))

	// Start the browser now so launch failures surface here, not in Render.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &chromedpSession{
		ctx:               browserCtx,
		cancel:            browserCancel,
		allocCancel:       allocCancel,
		disableJavaScript: l.cfg.DisableJavaScript,
	}, nil
}

type chromedpSession struct {
	ctx               context.Context
	cancel            context.CancelFunc
	allocCancel       context.CancelFunc
	disableJavaScript bool
}

func (s *chromedpSession) Render(ctx context.Context, url string, opts RenderOptions) (string, error) {
	taskCtx, cancel := context.WithTimeout(s.ctx, opts.NavigationTimeout+opts.BodyTimeout+opts.Settle)
	defer cancel()

	// Tie the browser task to the caller's cancellation.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html string
	tasks := chromedp.Tasks{}
	if s.disableJavaScript {
		tasks = append(tasks, emulation.SetScriptExecutionDisabled(true))
	}
	tasks = append(tasks,
		chromedp.Navigate(url),
		chromedp.ActionFunc(func(ctx context.Context) error {
			waitCtx, cancel := context.WithTimeout(ctx, opts.BodyTimeout)
			defer cancel()
			return chromedp.WaitReady("body", chromedp.ByQuery).Do(waitCtx)
		}),
		chromedp.Sleep(opts.Settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(taskCtx, tasks); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("failed to render with chromedp: %w", err)
	}
	return html, nil
}

func (s *chromedpSession) Close() error {
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	s.allocCancel()
	if err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

// flagFromArg turns "--name=value" or "--name" into an allocator flag.
func flagFromArg(arg string) chromedp.ExecAllocatorOption {
	name := arg[2:]
	for i := 0; i < len(name); i++ {
		if name[i] == '=' {
			return chromedp.Flag(name[:i], name[i+1:])
		}
	}
	return chromedp.Flag(name, true)
}
