package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrRejected      = errors.New("rendered page rejected")
	ErrUnknownEngine = errors.New("unknown browser engine")
)

const (
	EnginePlaywright = "playwright"
	EngineChromedp   = "chromedp"
)

// Viewport is a browser window size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

func (v Viewport) String() string {
	return fmt.Sprintf("%d,%d", v.Width, v.Height)
}

// Profile is the fingerprint a single browser session runs with.
type Profile struct {
	UserAgent string
	Viewport  Viewport
}

type RenderOptions struct {
	NavigationTimeout time.Duration
	// BodyTimeout bounds the wait for the document body to exist.
	BodyTimeout time.Duration
	// Settle is slept after the body appears so deferred markup can land.
	Settle time.Duration
}

// Launcher starts an isolated browser session. Every session must be closed
// by the caller.
type Launcher interface {
	Launch(ctx context.Context, profile Profile) (Session, error)
}

type Session interface {
	Render(ctx context.Context, url string, opts RenderOptions) (string, error)
	Close() error
}

// LaunchConfig holds the process level settings shared by the launchers.
type LaunchConfig struct {
	Headless bool
	// DisableImages skips image, media and font downloads.
	DisableImages bool
	// DisableJavaScript renders the server markup only.
	DisableJavaScript bool
}

func DefaultLaunchConfig() LaunchConfig {
	return LaunchConfig{
		Headless:          true,
		DisableImages:     true,
		DisableJavaScript: true,
	}
}

// NewLauncher returns the launcher for engine.
func NewLauncher(engine string, cfg LaunchConfig) (Launcher, error) {
	switch engine {
	case "", EnginePlaywright:
		return NewPlaywrightLauncher(cfg), nil
	case EngineChromedp:
		return NewChromedpLauncher(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, engine)
	}
}

// stealthArgs are passed to Chromium by both launchers.
func stealthArgs() []string {
	return []string{
		"--disable-blink-features=AutomationControlled",
		"--disable-dev-shm-usage",
		"--no-sandbox",
		"--disable-setuid-sandbox",
		"--disable-extensions",
		"--disable-plugins",
	}
}
