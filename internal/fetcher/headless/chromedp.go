// Package headless renders archived pages to PNG screenshots with headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/adsnap/internal/ads"
)

// Defaults applied by NewChromedp.
const (
	DefaultNavigationTimeout = 4 * time.Minute
	DefaultViewportWidth     = 1280
	DefaultViewportHeight    = 800
	DefaultClipWidth         = 1280
	DefaultClipHeight        = 2400
)

// Config controls browser launch and capture geometry.
type Config struct {
	ExecPath          string
	NoSandbox         bool
	UserAgent         string
	MaxParallel       int
	NavigationTimeout time.Duration
	Settle            time.Duration
	ViewportWidth     int
	ViewportHeight    int
	ClipWidth         int
	ClipHeight        int
}

// Renderer implements ads.Renderer using chromedp. Each Open launches a fresh browser.
type Renderer struct {
	cfg    Config
	logger *zap.Logger
}

// NewChromedp creates a renderer backed by chromedp.
func NewChromedp(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.ViewportWidth < 0 || cfg.ViewportHeight < 0 || cfg.ClipWidth < 0 || cfg.ClipHeight < 0 {
		return nil, fmt.Errorf("viewport and clip dimensions must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	// Zero skips the settle pause.
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	if cfg.ViewportWidth == 0 {
		cfg.ViewportWidth = DefaultViewportWidth
	}
	if cfg.ViewportHeight == 0 {
		cfg.ViewportHeight = DefaultViewportHeight
	}
	if cfg.ClipWidth == 0 {
		cfg.ClipWidth = DefaultClipWidth
	}
	if cfg.ClipHeight == 0 {
		cfg.ClipHeight = DefaultClipHeight
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{cfg: cfg, logger: logger.Named("headless")}, nil
}

// Open launches a browser whose lifetime is bounded by ctx and by Close.
func (r *Renderer) Open(ctx context.Context) (ads.BrowserSession, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(r.cfg.ViewportWidth, r.cfg.ViewportHeight),
	)
	if r.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.cfg.ExecPath))
	}
	if r.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if r.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(r.cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	var limiter chan struct{}
	if r.cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, r.cfg.MaxParallel)
	}
	r.logger.Debug("browser session opened")
	return &session{
		cfg:           r.cfg,
		logger:        r.logger,
		limiter:       limiter,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

type session struct {
	cfg           Config
	logger        *zap.Logger
	limiter       chan struct{}
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	closeOnce     sync.Once
	closeErr      error
}

// Screenshot renders url in a dedicated tab. The tab is closed when the call returns.
func (s *session) Screenshot(ctx context.Context, url string) ([]byte, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, s.cfg.NavigationTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	var buf []byte
	start := time.Now()
	if err := chromedp.Run(taskCtx, s.tasks(url, &buf)); err != nil {
		return nil, fmt.Errorf("chromedp screenshot %s: %w", url, err)
	}
	if len(buf) == 0 {
		return nil, errors.New("chromedp screenshot returned no data")
	}
	s.logger.Debug("captured screenshot",
		zap.String("url", url),
		zap.Int("bytes", len(buf)),
		zap.Duration("duration", time.Since(start)),
	)
	return buf, nil
}

func (s *session) tasks(url string, buf *[]byte) chromedp.Tasks {
	tasks := chromedp.Tasks{
		emulation.SetDeviceMetricsOverride(int64(s.cfg.ViewportWidth), int64(s.cfg.ViewportHeight), 1, false),
	}
	if s.cfg.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(s.cfg.UserAgent))
	}
	tasks = append(tasks,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if s.cfg.Settle > 0 {
		tasks = append(tasks, chromedp.Sleep(s.cfg.Settle))
	}
	return append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
		data, err := captureParams(s.cfg).Do(ctx)
		if err != nil {
			return fmt.Errorf("capture screenshot: %w", err)
		}
		*buf = data
		return nil
	}))
}

func captureParams(cfg Config) *page.CaptureScreenshotParams {
	return page.CaptureScreenshot().
		WithFormat(page.CaptureScreenshotFormatPng).
		WithCaptureBeyondViewport(true).
		WithClip(&page.Viewport{
			X:      0,
			Y:      0,
			Width:  float64(cfg.ClipWidth),
			Height: float64(cfg.ClipHeight),
			Scale:  1,
		})
}

// Close shuts the browser down. It is safe to call more than once.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		if err := chromedp.Cancel(s.browserCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.closeErr = fmt.Errorf("close browser: %w", err)
		}
		s.browserCancel()
		s.allocCancel()
		s.logger.Debug("browser session closed")
	})
	return s.closeErr
}

func (s *session) acquire(ctx context.Context) (func(), error) {
	if s.limiter == nil {
		return func() {}, nil
	}
	select {
	case s.limiter <- struct{}{}:
		return func() { <-s.limiter }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

// forwardCancel cancels the task when parent finishes first.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
