// Package headless contains the rendered fetch mode backed by headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/quote-crawler/internal/crawler"
	"github.com/JakeFAU/quote-crawler/internal/metrics"
	"github.com/JakeFAU/quote-crawler/internal/ratelimit"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultContentWait       = 10 * time.Second
	defaultContentSelector   = "a.b-qt"
	scrollScript             = "window.scrollTo(0, document.body.scrollHeight)"
)

// DefaultBlockedHosts lists analytics and ad hosts whose requests are aborted.
var DefaultBlockedHosts = []string{
	"google-analytics",
	"googletagmanager",
	"facebook",
	"doubleclick",
	"adsense",
}

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgents        []string
	NavigationTimeout time.Duration
	// ContentWait bounds the wait for ContentSelector to become visible.
	ContentWait     time.Duration
	ContentSelector string
	ProxyServer     string
	BlockResources  bool
	BlockedHosts    []string
}

// Fetcher implements crawler.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	limiter     *ratelimit.Limiter
	logger      *zap.Logger
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// NewChromedp creates a headless fetcher backed by chromedp. The browser is
// started lazily on the first fetch.
func NewChromedp(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	cfg = withDefaults(cfg)
	if logger == nil {
		logger = zap.NewNop()
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ProxyServer != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.ProxyServer))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		slots:       slots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		limiter:     limiter,
		logger:      logger,
	}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.ContentWait <= 0 {
		cfg.ContentWait = defaultContentWait
	}
	if cfg.ContentSelector == "" {
		cfg.ContentSelector = defaultContentSelector
	}
	if cfg.BlockedHosts == nil {
		cfg.BlockedHosts = DefaultBlockedHosts
	}
	return cfg
}

// Close cancels the allocator context.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders the page, waits for the quote list, scrolls once to trigger
// lazy content, and returns the DOM. A page whose quote list never appears
// returns crawler.ErrContentNotFound unless the document status was an error.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := f.limiter.Wait(ctx, request.URL); err != nil {
		return crawler.FetchResponse{}, err
	}
	if err := f.acquire(ctx); err != nil {
		return crawler.FetchResponse{}, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)
	if f.cfg.BlockResources {
		chromedp.ListenTarget(taskCtx, f.interceptor(taskCtx))
	}

	start := time.Now()
	html, finalURL, runErr := f.runHeadless(taskCtx, request)
	status, headers, responseURL := meta.snapshotWithFallbacks(request.URL, finalURL)
	elapsed := time.Since(start)

	if err := classify(request.URL, status, runErr); err != nil {
		metrics.ObserveFetch(string(crawler.ModeRendered), request.URL, crawler.StatusCode(err), 0, elapsed)
		if errors.Is(err, crawler.ErrContentNotFound) {
			f.logger.Debug("quote list not found", zap.String("url", request.URL), zap.Duration("wait", f.cfg.ContentWait))
		}
		return crawler.FetchResponse{}, err
	}
	if status == 0 {
		status = http.StatusOK
	}
	metrics.ObserveFetch(string(crawler.ModeRendered), request.URL, status, len(html), elapsed)

	if headers == nil {
		headers = http.Header{}
	}
	return crawler.FetchResponse{
		URL:        responseURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Duration:   elapsed,
		Mode:       crawler.ModeRendered,
	}, nil
}

// classify maps the run outcome and document status to the fetch contract.
func classify(url string, status int, runErr error) error {
	statusErr := func() error {
		if status >= http.StatusBadRequest {
			return &crawler.HTTPStatusError{URL: url, StatusCode: status}
		}
		return nil
	}
	switch {
	case runErr == nil:
		return statusErr()
	case errors.Is(runErr, crawler.ErrContentNotFound):
		if err := statusErr(); err != nil {
			return err
		}
		return runErr
	default:
		return runErr
	}
}

func (f *Fetcher) runHeadless(ctx context.Context, request crawler.FetchRequest) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		f.networkSetupAction(request.Headers),
		chromedp.Navigate(request.URL),
		f.waitForContent(),
		chromedp.Evaluate(scrollScript, nil),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", finalURL, fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) waitForContent() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		waitCtx, cancel := context.WithTimeout(ctx, f.cfg.ContentWait)
		defer cancel()
		err := chromedp.WaitVisible(f.cfg.ContentSelector, chromedp.ByQuery).Do(waitCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return crawler.ErrContentNotFound
		}
		return fmt.Errorf("wait for %s: %w", f.cfg.ContentSelector, err)
	})
}

func (f *Fetcher) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.BlockResources {
			if err := fetch.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable request interception: %w", err)
			}
		}
		if ua := f.pickUserAgent(); ua != "" {
			if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// interceptor fails paused requests for heavy resources and tracker hosts and
// lets everything else continue.
func (f *Fetcher) interceptor(taskCtx context.Context) func(ev any) {
	return func(ev any) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			execCtx := cdp.WithExecutor(taskCtx, chromedp.FromContext(taskCtx).Target)
			var err error
			if f.shouldBlock(paused.ResourceType, paused.Request.URL) {
				err = fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
			} else {
				err = fetch.ContinueRequest(paused.RequestID).Do(execCtx)
			}
			if err != nil && taskCtx.Err() == nil {
				f.logger.Debug("request interception failed", zap.String("url", paused.Request.URL), zap.Error(err))
			}
		}()
	}
}

func (f *Fetcher) shouldBlock(resourceType network.ResourceType, url string) bool {
	switch resourceType {
	case network.ResourceTypeImage, network.ResourceTypeFont, network.ResourceTypeMedia, network.ResourceTypeStylesheet:
		return true
	}
	for _, host := range f.cfg.BlockedHosts {
		if host != "" && strings.Contains(url, host) {
			return true
		}
	}
	return false
}

func (f *Fetcher) pickUserAgent() string {
	switch len(f.cfg.UserAgents) {
	case 0:
		return ""
	case 1:
		return f.cfg.UserAgents[0]
	default:
		return f.cfg.UserAgents[rand.IntN(len(f.cfg.UserAgents))]
	}
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.slots == nil {
		return
	}
	select {
	case <-f.slots:
	default:
	}
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Only the first document response is the page; later ones are frames.
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

// snapshotWithFallbacks returns the captured status, headers and URL. The
// status is zero when no document response was seen.
func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	return status, headers, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		headers[key] = strings.Join(values, ", ")
	}
	return headers
}
