package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Controller holds at most one live Handle. EnsureStarted and Teardown must
// be called from a single goroutine; Active may be called from any.
type Controller struct {
	launcher Launcher
	opts     Options
	logger   *slog.Logger

	handle Handle
	active atomic.Bool
}

// NewController creates a controller that launches browsers with opts.
func NewController(l Launcher, opts Options, logger *slog.Logger) *Controller {
	return &Controller{
		launcher: l,
		opts:     opts,
		logger:   logger,
	}
}

// EnsureStarted returns the live handle, launching a browser first if none
// exists.
func (c *Controller) EnsureStarted(ctx context.Context) (Handle, error) {
	if c.handle != nil {
		return c.handle, nil
	}

	start := time.Now()
	h, err := c.launcher.Start(ctx, c.opts)
	if err != nil {
		browserStartsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	browserStartsTotal.WithLabelValues("ok").Inc()
	browserStartDuration.Observe(time.Since(start).Seconds())

	c.handle = h
	c.active.Store(true)
	activeBrowsers.Inc()

	c.logger.Info("browser started",
		"headless", c.opts.Headless,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return h, nil
}

// Teardown stops the live browser, if any. The handle is cleared even when
// the graceful stop fails; the stop error is returned only so callers can
// log it.
func (c *Controller) Teardown(ctx context.Context) error {
	h := c.handle
	if h == nil {
		return nil
	}

	c.handle = nil
	c.active.Store(false)
	activeBrowsers.Dec()

	err := stopSafely(ctx, h)
	if err != nil {
		browserStopsTotal.WithLabelValues(stopFailed).Inc()
		c.logger.Warn("browser stop failed; handle discarded", "error", err)
		return err
	}

	browserStopsTotal.WithLabelValues(stopClean).Inc()
	c.logger.Info("browser stopped")
	return nil
}

// Active reports whether the controller currently holds a browser.
func (c *Controller) Active() bool {
	return c.active.Load()
}

// stopSafely calls h.Stop, converting a panic inside the browser library
// into an error.
func stopSafely(ctx context.Context, h Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stop panicked: %v", r)
		}
	}()
	return h.Stop(ctx)
}
