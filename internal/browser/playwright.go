package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/playwright-community/playwright-go"
)

// Default viewport used when Options leaves it unset.
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800

	// defaultActionTimeoutMS bounds each page action.
	defaultActionTimeoutMS = 30000
)

// PlaywrightLauncher launches Chromium through the Playwright driver.
type PlaywrightLauncher struct {
	logger *slog.Logger
}

// NewPlaywrightLauncher creates a launcher. Driver output is discarded; the
// launcher logs lifecycle events itself.
func NewPlaywrightLauncher(logger *slog.Logger) *PlaywrightLauncher {
	return &PlaywrightLauncher{logger: logger}
}

// Start runs the Playwright driver, launches Chromium and opens one page.
// Every partially created resource is released if a later step fails.
func (l *PlaywrightLauncher) Start(ctx context.Context, opts Options) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if opts.InstallDriver {
		l.logger.Info("installing playwright driver")
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("run playwright: %w", err)
	}

	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	width, height := opts.ViewportWidth, opts.ViewportHeight
	if width <= 0 || height <= 0 {
		width, height = DefaultViewportWidth, DefaultViewportHeight
	}

	bctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: width, Height: height},
	})
	if err != nil {
		_ = b.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = b.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("create page: %w", err)
	}
	page.SetDefaultTimeout(defaultActionTimeoutMS)

	return &playwrightHandle{
		pw:      pw,
		browser: b,
		context: bctx,
		page:    &playwrightPage{page: page},
	}, nil
}

// playwrightHandle owns one driver process, browser, context and page.
type playwrightHandle struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    *playwrightPage
}

func (h *playwrightHandle) Page() Page {
	return h.page
}

// Stop closes the page, context, browser and driver in that order. It gives
// up waiting when ctx ends; the close calls keep running in the background.
func (h *playwrightHandle) Stop(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		var errs []error
		if err := h.page.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
		if err := h.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close context: %w", err))
		}
		if err := h.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		if err := h.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
		done <- errors.Join(errs...)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("stop browser: %w", ctx.Err())
	}
}

// playwrightPage adapts playwright.Page to Page.
type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) Goto(url string) error {
	if _, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (p *playwrightPage) Click(selector string) error {
	if err := p.page.Click(selector); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (p *playwrightPage) Fill(selector, value string) error {
	if err := p.page.Fill(selector, value); err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

func (p *playwrightPage) Press(selector, key string) error {
	if err := p.page.Press(selector, key); err != nil {
		return fmt.Errorf("press %s on %s: %w", key, selector, err)
	}
	return nil
}

func (p *playwrightPage) Scroll(deltaY int) error {
	if err := p.page.Mouse().Wheel(0, float64(deltaY)); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) Title() (string, error) {
	return p.page.Title()
}

func (p *playwrightPage) Text() (string, error) {
	return p.page.InnerText("body")
}
