// Package render provides the browser-rendering capability used when a
// lightweight fetch cannot get past JavaScript or anti-bot interstitials.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/newsharvest/crawld/internal/crawler"
)

// Config controls the behavior of the browser renderer.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	MaxParallel       int
}

// Browser implements crawler.Renderer using chromedp and headless Chrome.
// One Browser is shared by the single rendering-capable worker; each Render
// call opens a fresh page and releases it on every exit path.
type Browser struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewBrowser creates a renderer backed by a headless Chrome allocator.
func NewBrowser(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 60 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close releases the browser allocator.
func (b *Browser) Close() {
	b.allocCancel()
}

// Render navigates to url in a new page, waits for the document to settle,
// and returns the fully rendered HTML. A navigation that exceeds the
// configured timeout surfaces as context.DeadlineExceeded, which callers
// classify as transient.
func (b *Browser) Render(ctx context.Context, url string) (string, error) {
	if err := b.acquire(ctx); err != nil {
		return "", err
	}
	defer b.release()

	pageCtx, pageCancel := chromedp.NewContext(b.allocator)
	// Cancel closes the page on every exit path, success or not.
	defer pageCancel()

	pageCtx, cancel := context.WithTimeout(pageCtx, b.cfg.NavigationTimeout)
	defer cancel()

	start := time.Now()
	var html string
	actions := []chromedp.Action{
		b.userAgentAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(pageCtx, actions...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("render %s: navigation timed out after %s: %w",
				url, b.cfg.NavigationTimeout, context.DeadlineExceeded)
		}
		return "", fmt.Errorf("render %s: %w", url, err)
	}

	b.logger.Debug("page rendered",
		zap.String("url", url),
		zap.Duration("took", time.Since(start)),
	)
	return html, nil
}

func (b *Browser) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if b.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

// Unavailable is the renderer variant carried by lightweight-only workers.
type Unavailable struct{}

// Render always reports the missing capability.
func (Unavailable) Render(_ context.Context, _ string) (string, error) {
	return "", crawler.ErrRenderingUnavailable
}
