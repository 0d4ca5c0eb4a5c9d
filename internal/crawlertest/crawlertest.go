// Package crawlertest provides scripted fetchers, sinks and fixtures for tests
// of the crawl pipeline.
package crawlertest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/quote-crawler/internal/crawler"
)

// Page is a scripted fetch result. Err wins over Body.
type Page struct {
	Body string
	Err  error
}

// Fetcher serves scripted pages by URL. Unknown URLs return a 404 status error.
type Fetcher struct {
	mu    sync.Mutex
	pages map[string]Page
	calls []crawler.FetchRequest
	// Delay is slept (respecting the context) before every fetch.
	Delay time.Duration
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// NewFetcher returns a Fetcher serving pages.
func NewFetcher(pages map[string]Page) *Fetcher {
	if pages == nil {
		pages = map[string]Page{}
	}
	return &Fetcher{pages: pages}
}

// Set scripts the result for url.
func (f *Fetcher) Set(url string, page Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = page
}

// Fetch implements crawler.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, request)
	page, ok := f.pages[request.URL]
	f.mu.Unlock()

	if f.Delay > 0 {
		timer := time.NewTimer(f.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return crawler.FetchResponse{}, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return crawler.FetchResponse{}, err
	}
	if !ok {
		return crawler.FetchResponse{}, &crawler.HTTPStatusError{URL: request.URL, StatusCode: http.StatusNotFound}
	}
	if page.Err != nil {
		return crawler.FetchResponse{}, page.Err
	}
	return crawler.FetchResponse{
		URL:        request.URL,
		StatusCode: http.StatusOK,
		Body:       []byte(page.Body),
		Mode:       request.Mode,
	}, nil
}

// URLs returns the fetched URLs in call order.
func (f *Fetcher) URLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.URL)
	}
	return out
}

// Requests returns a copy of every fetch request in call order.
func (f *Fetcher) Requests() []crawler.FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crawler.FetchRequest(nil), f.calls...)
}

// Calls returns the number of fetches made.
func (f *Fetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Sink records pushed batches. When FailAfter > 0 the push with that 1-based
// index and every later one fail with Err.
type Sink struct {
	mu        sync.Mutex
	batches   [][]crawler.Record
	pushes    int
	FailAfter int
	Err       error
}

var _ crawler.Sink = (*Sink)(nil)

// Push implements crawler.Sink.
func (s *Sink) Push(_ context.Context, batch []crawler.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes++
	if s.FailAfter > 0 && s.pushes >= s.FailAfter {
		return s.Err
	}
	s.batches = append(s.batches, append([]crawler.Record(nil), batch...))
	return nil
}

// Records returns every stored record in push order.
func (s *Sink) Records() []crawler.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []crawler.Record
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

// Batches returns the number of stored batches.
func (s *Sink) Batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

// Clock returns a fixed instant.
type Clock struct {
	At time.Time
}

// Now implements crawler.Clock.
func (c Clock) Now() time.Time {
	return c.At
}

// IDs returns a fixed run ID.
type IDs struct {
	ID string
}

// NewID implements crawler.IDGenerator.
func (i IDs) NewID() (string, error) {
	return i.ID, nil
}

// Listing renders n quote cards whose links are /quotes/{prefix}_{i}.
func Listing(prefix string, n int) string {
	var b strings.Builder
	b.WriteString("<html><body><div id=\"quotesList\">")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b,
			`<div class="grid-item"><div><a class="b-qt" href="/quotes/%[1]s_%[2]d">Quote %[1]s number %[2]d.</a>`+
				`<a class="bq-aut" href="/authors/%[1]s-quotes">Author %[1]s</a></div></div>`,
			prefix, i)
	}
	b.WriteString("</div></body></html>")
	return b.String()
}

// Envelope wraps markup in the JSON shape served by the listing API.
func Envelope(markup string) string {
	raw, err := json.Marshal(map[string]any{"status": "ok", "content": markup})
	if err != nil {
		panic(err)
	}
	return string(raw)
}
