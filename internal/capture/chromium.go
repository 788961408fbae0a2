package capture

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"

	"schedexport/internal/export"
	appLog "schedexport/internal/log"
)

// Default capture parameters. The width must match the CSS width of the
// export page layout; the height only bounds the initial viewport since the
// page element is captured in full.
const (
	DefaultWidth      = 1600
	DefaultHeight     = 1100
	DefaultTimeoutSec = 60

	// readySelector is set by the page layout once its images have loaded.
	readySelector = `[data-ready="true"]`
)

// Options configure the headless browser.
type Options struct {
	// Width and Height are the viewport dimensions in CSS pixels. If zero,
	// DefaultWidth / DefaultHeight are used.
	Width  int
	Height int

	// Timeout bounds one page capture. If zero, DefaultTimeoutSec is used.
	Timeout time.Duration

	// ExecPath optionally points at a specific Chromium binary.
	ExecPath string
}

func (o Options) normalized() Options {
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	return o
}

// Chromium captures workspace regions (page URLs) with one shared headless
// browser. Each capture runs in its own tab, so consecutive pages never share
// a rendering surface.
type Chromium struct {
	opts Options

	browserCtx    context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc

	startOnce sync.Once
	startErr  error
}

// NewChromium prepares a browser bound to parent. Chromium itself is started
// once, by the first capture; later captures open tabs in that process.
func NewChromium(parent context.Context, opts Options) *Chromium {
	opts = opts.normalized()

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts, chromedp.WindowSize(opts.Width, opts.Height))
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	return &Chromium{
		opts:          opts,
		browserCtx:    browserCtx,
		cancelAlloc:   cancelAlloc,
		cancelBrowser: cancelBrowser,
	}
}

// start launches the browser process on first use. A failed launch is not
// retried.
func (c *Chromium) start() error {
	c.startOnce.Do(func() {
		started := time.Now()
		if err := chromedp.Run(c.browserCtx); err != nil {
			c.startErr = fmt.Errorf("capture: start browser: %w", err)
			return
		}
		appLog.Info("browser started", "elapsed", time.Since(started))
	})
	return c.startErr
}

// Close shuts the browser down.
func (c *Chromium) Close() {
	c.cancelBrowser()
	c.cancelAlloc()
}

// Capture navigates a fresh tab to region, waits until the layout reports
// data-ready="true" and returns a PNG of that element at opts.Scale device
// pixels per CSS pixel.
func (c *Chromium) Capture(ctx context.Context, region export.Region, opts export.CaptureOptions) ([]byte, error) {
	if region == "" {
		return nil, fmt.Errorf("capture: region is required")
	}
	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}
	bg, err := ParseHexColor(opts.BackgroundColor)
	if err != nil {
		return nil, err
	}
	if err := c.start(); err != nil {
		return nil, err
	}

	tabCtx, cancelTab := chromedp.NewContext(c.browserCtx)
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, c.opts.Timeout)
	defer cancelTimeout()

	// The tab hangs off the browser context; tie it to the caller as well.
	stop := context.AfterFunc(ctx, cancelTimeout)
	defer stop()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(c.opts.Width), int64(c.opts.Height), chromedp.EmulateScale(scale)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetDefaultBackgroundColorOverride().WithColor(bg).Do(ctx)
		}),
		chromedp.Navigate(string(region)),
		chromedp.WaitVisible(readySelector, chromedp.ByQuery),
		chromedp.Screenshot(readySelector, &png, chromedp.NodeVisible, chromedp.ByQuery),
	}

	started := time.Now()
	if err := chromedp.Run(tabCtx, tasks); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("capture: %w", ctx.Err())
		}
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	appLog.Debug("capture done", "region", region, "bytes", len(png), "elapsed", time.Since(started))

	return png, nil
}

// ParseHexColor parses "#rgb" or "#rrggbb" into an opaque CDP color.
// An empty string means white.
func ParseHexColor(s string) (*cdp.RGBA, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return &cdp.RGBA{R: 255, G: 255, B: 255, A: 1}, nil
	}
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return nil, fmt.Errorf("capture: bad background color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("capture: bad background color %q: %w", s, err)
	}
	return &cdp.RGBA{
		R: int64(v >> 16 & 0xff),
		G: int64(v >> 8 & 0xff),
		B: int64(v & 0xff),
		A: 1,
	}, nil
}
