package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/competitor-price-scraper/internal/retry"
)

type Options struct {
	Headless          bool              `mapstructure:"headless"`
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout" validate:"gt=0"`
	ElementTimeout    time.Duration     `mapstructure:"element_timeout" validate:"gt=0"`
	SettleDelay       time.Duration     `mapstructure:"settle_delay"`
	UserAgent         string            `mapstructure:"user_agent"`
	ViewportWidth     int               `mapstructure:"viewport_width"`
	ViewportHeight    int               `mapstructure:"viewport_height"`
	Locale            string            `mapstructure:"locale"`
	TimezoneID        string            `mapstructure:"timezone_id"`
	ExtraHeaders      map[string]string `mapstructure:"extra_headers"`
}

func DefaultOptions() Options {
	return Options{
		Headless:          true,
		NavigationTimeout: 30 * time.Second,
		ElementTimeout:    10 * time.Second,
		SettleDelay:       time.Second,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		Locale:            "en-US",
		TimezoneID:        "America/New_York",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
		},
	}
}

// page is the part of playwright.Page a Session drives.
type page interface {
	Goto(url string, options ...playwright.PageGotoOptions) (playwright.Response, error)
	Content() (string, error)
	Locator(selector string, options ...playwright.PageLocatorOptions) playwright.Locator
	Close(options ...playwright.PageCloseOptions) error
}

// Session owns one browser process and its single active page. It is not
// safe for concurrent use.
type Session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    page

	opts   Options
	policy retry.Policy
	logger *slog.Logger
}

// New launches Chromium and opens the session page.
func New(ctx context.Context, opts Options, policy retry.Policy, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		ExtraHttpHeaders:  opts.ExtraHeaders,
	}
	if opts.UserAgent != "" {
		contextOpts.UserAgent = playwright.String(opts.UserAgent)
	}
	if opts.Locale != "" {
		contextOpts.Locale = playwright.String(opts.Locale)
	}
	if opts.TimezoneID != "" {
		contextOpts.TimezoneId = playwright.String(opts.TimezoneID)
	}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		contextOpts.Viewport = &playwright.Size{Width: opts.ViewportWidth, Height: opts.ViewportHeight}
	}

	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	p, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	p.SetDefaultTimeout(float64(opts.ElementTimeout.Milliseconds()))
	p.SetDefaultNavigationTimeout(float64(opts.NavigationTimeout.Milliseconds()))

	return &Session{
		pw:      pw,
		browser: browser,
		context: bctx,
		page:    p,
		opts:    opts,
		policy:  policy,
		logger:  logger.With("component", "browser"),
	}, nil
}

// Navigate loads url with the session's retry policy and waits the settle
// delay after a successful load.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return retry.Do(ctx, s.policy, "navigate "+url, func(ctx context.Context) error {
		_, err := s.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(s.opts.NavigationTimeout.Milliseconds())),
		})
		if err != nil {
			return err
		}

		s.logger.Debug("navigated", "url", url)
		return retry.Sleep(ctx, s.opts.SettleDelay)
	})
}

// Content returns the current page HTML.
func (s *Session) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	html, err := s.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}
	return html, nil
}

// WaitFor waits up to the element timeout for selector to attach.
func (s *Session) WaitFor(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(s.opts.ElementTimeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("failed to wait for %q: %w", selector, err)
	}
	return nil
}

// Close releases the page, context, browser and driver. Every step runs even
// when an earlier one fails.
func (s *Session) Close() error {
	var errs []error

	if s.page != nil {
		if err := s.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close page: %w", err))
		}
	}

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
