package browser

import "context"

// Options configures a browser launch.
type Options struct {
	// Headless hides the browser window. The service defaults to a visible
	// window so operators can watch the automation.
	Headless bool

	// InstallDriver downloads the Playwright driver and browsers before the
	// first launch.
	InstallDriver bool

	// Viewport dimensions in pixels. Zero means the launcher default.
	ViewportWidth  int
	ViewportHeight int
}

// Launcher starts controllable browser instances.
type Launcher interface {
	Start(ctx context.Context, opts Options) (Handle, error)
}

// Handle is a running browser instance.
type Handle interface {
	// Page returns the page tasks drive.
	Page() Page

	// Stop shuts the browser down. It is best-effort: an error reports a
	// failed graceful stop but the handle must not be reused either way.
	Stop(ctx context.Context) error
}

// Page is the page-control surface the automation engine uses.
type Page interface {
	Goto(url string) error
	Click(selector string) error
	Fill(selector, value string) error
	Press(selector, key string) error
	Scroll(deltaY int) error
	URL() string
	Title() (string, error)
	Text() (string, error)
}
