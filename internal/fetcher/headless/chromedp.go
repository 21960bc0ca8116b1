// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/StamperDavid/prospect-intel/internal/scrape"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after the DOM is ready so client-side
	// rendering can finish before the page is captured.
	SettleDelay time.Duration
}

// Fetcher implements scrape.Fetcher using chromedp and headless Chrome. It is
// the promotion target for pages where the plain HTTP fetch returned a JS
// shell, so it captures only what the scrape pipeline consumes: the rendered
// DOM, the document status, and the post-redirect URL.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
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

	return &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates with a headless browser and returns the fully rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, request scrape.FetchRequest) (scrape.FetchResponse, error) {
	if err := f.acquire(ctx); err != nil {
		return scrape.FetchResponse{}, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	doc := &documentInfo{}
	chromedp.ListenTarget(taskCtx, doc.observe)

	var html string
	start := time.Now()
	err := chromedp.Run(taskCtx,
		f.prepare(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return scrape.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	status, finalURL := doc.result(request.URL)
	return scrape.FetchResponse{
		URL:          finalURL,
		StatusCode:   status,
		Headers:      http.Header{},
		Content:      []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

// prepare enables the network domain and applies the user-agent override and
// any per-request headers before navigation.
func (f *Fetcher) prepare(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			extra := network.Headers{}
			for key, values := range headers {
				if len(values) > 0 {
					extra[key] = values[0]
				}
			}
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

// documentInfo records the main document's network response as CDP events
// arrive. Subresource responses (images, scripts, xhr) are ignored.
type documentInfo struct {
	mu     sync.Mutex
	status int
	url    string
}

func (d *documentInfo) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.url = resp.Response.URL
	d.mu.Unlock()
}

// result falls back to the requested URL and a 200 status when no document
// event arrived, which happens for pages served entirely from cache.
func (d *documentInfo) result(requestURL string) (int, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, url := d.status, d.url
	if status == 0 {
		status = http.StatusOK
	}
	if url == "" {
		url = requestURL
	}
	return status, url
}
