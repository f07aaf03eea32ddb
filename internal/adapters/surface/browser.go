package surface

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/internal/domain/ports"
	"github.com/kevin07696/subscription-checkout/pkg/observability"
)

// BrowserConfig controls the Chrome instance driven over DevTools
type BrowserConfig struct {
	// ExecPath overrides Chrome discovery when set
	ExecPath string
	// StartURL is what the application tab shows first
	StartURL     string
	Headless     bool
	WindowWidth  int
	WindowHeight int
}

// DefaultBrowserConfig returns a visible browser sized for a laptop screen
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		StartURL:     "about:blank",
		WindowWidth:  1280,
		WindowHeight: 800,
	}
}

type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// Browser opens processor documents in new Chrome tabs. The first tab is the
// application tab; redirects navigate it.
type Browser struct {
	mu          sync.Mutex
	tabs        map[target.ID]*tab
	appCtx      context.Context
	cancelAlloc context.CancelFunc
	cancelApp   context.CancelFunc
	config      BrowserConfig
	logger      ports.Logger
}

var _ ports.ExternalPaymentSurface = (*Browser)(nil)

// NewBrowser launches Chrome and opens the application tab
func NewBrowser(ctx context.Context, cfg BrowserConfig, logger ports.Logger) (*Browser, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	appCtx, cancelApp := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(appCtx, chromedp.Navigate(cfg.StartURL)); err != nil {
		cancelApp()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	b := &Browser{
		tabs:        make(map[target.ID]*tab),
		appCtx:      appCtx,
		cancelAlloc: cancelAlloc,
		cancelApp:   cancelApp,
		config:      cfg,
		logger:      logger,
	}

	chromedp.ListenBrowser(appCtx, func(ev interface{}) {
		if destroyed, ok := ev.(*target.EventTargetDestroyed); ok {
			b.markClosed(destroyed.TargetID)
		}
	})

	return b, nil
}

// Shutdown closes every tab and the browser
func (b *Browser) Shutdown() {
	b.mu.Lock()
	for _, t := range b.tabs {
		t.cancel()
	}
	b.mu.Unlock()
	b.cancelApp()
	b.cancelAlloc()
}

// DocumentURL encodes markup as a data URL Chrome can navigate to
func DocumentURL(document string) string {
	return "data:text/html;charset=utf-8;base64," + base64.StdEncoding.EncodeToString([]byte(document))
}

// OpenWithDocument creates a new tab showing the processor document
func (b *Browser) OpenWithDocument(ctx context.Context, document string) (*ports.SurfaceHandle, error) {
	tabCtx, cancel := chromedp.NewContext(b.appCtx)

	// The tab must outlive ctx; bound only the navigation
	navDone := make(chan error, 1)
	go func() {
		navDone <- chromedp.Run(tabCtx, chromedp.Navigate(DocumentURL(document)))
	}()

	var err error
	select {
	case err = <-navDone:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		observability.RecordSurfaceOpened(string(domain.SurfaceKindDocument), "blocked")
		if b.logger != nil {
			b.logger.Warn("browser refused payment tab", ports.Err(err))
		}
		return nil, domain.WrapError(domain.ErrorCodeSurfaceBlocked, "browser refused to open payment tab", err)
	}

	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		cancel()
		observability.RecordSurfaceOpened(string(domain.SurfaceKindDocument), "blocked")
		return nil, domain.NewDomainError(domain.ErrorCodeSurfaceBlocked, "browser did not report the payment tab")
	}
	id := c.Target.TargetID

	b.mu.Lock()
	b.tabs[id] = &tab{ctx: tabCtx, cancel: cancel}
	b.mu.Unlock()

	observability.RecordSurfaceOpened(string(domain.SurfaceKindDocument), "opened")
	if b.logger != nil {
		b.logger.Info("payment tab opened", ports.String("target_id", string(id)))
	}

	return &ports.SurfaceHandle{ID: string(id), OpenedAt: time.Now()}, nil
}

// OpenWithRedirect navigates the application tab to target
func (b *Browser) OpenWithRedirect(ctx context.Context, targetURL string) error {
	if targetURL == "" {
		return domain.NewDomainError(domain.ErrorCodeValidationFailed, "redirect target is empty")
	}
	if err := chromedp.Run(b.appCtx, chromedp.Navigate(targetURL)); err != nil {
		observability.RecordSurfaceOpened(string(domain.SurfaceKindRedirect), "blocked")
		return domain.WrapError(domain.ErrorCodeSurfaceBlocked, "browser failed to navigate", err)
	}
	observability.RecordSurfaceOpened(string(domain.SurfaceKindRedirect), "opened")
	return nil
}

// IsClosed reports whether the user closed the tab or the engine did.
// Destroyed-target events mark tabs closed; the target list is the fallback.
func (b *Browser) IsClosed(ctx context.Context, handle *ports.SurfaceHandle) bool {
	if handle == nil {
		return true
	}
	id := target.ID(handle.ID)

	b.mu.Lock()
	t, ok := b.tabs[id]
	closed := !ok || t.closed || t.ctx.Err() != nil
	b.mu.Unlock()
	if closed {
		return true
	}

	infos, err := chromedp.Targets(b.appCtx)
	if err != nil {
		// Browser gone
		if b.appCtx.Err() != nil {
			b.markClosed(id)
			return true
		}
		return false
	}
	for _, info := range infos {
		if info.TargetID == id {
			return false
		}
	}
	b.markClosed(id)
	return true
}

// Close closes the tab
func (b *Browser) Close(ctx context.Context, handle *ports.SurfaceHandle) error {
	if handle == nil {
		return nil
	}
	b.mu.Lock()
	t, ok := b.tabs[target.ID(handle.ID)]
	b.mu.Unlock()
	if !ok {
		return nil
	}

	// Cancelling a chromedp tab context closes its target
	t.cancel()
	b.markClosed(target.ID(handle.ID))
	return nil
}

func (b *Browser) markClosed(id target.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.tabs[id]; ok && !t.closed {
		t.closed = true
		if b.logger != nil {
			b.logger.Info("payment tab closed", ports.String("target_id", string(id)))
		}
	}
}
