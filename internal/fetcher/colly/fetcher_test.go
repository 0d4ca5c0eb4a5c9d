package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/quote-crawler/internal/crawler"
	"github.com/JakeFAU/quote-crawler/internal/ratelimit"
)

func newFetcher(t *testing.T, cfg Config) *Fetcher {
	t.Helper()
	f, err := New(cfg, ratelimit.New(ratelimit.Config{}), zap.NewNop())
	require.NoError(t, err)
	return f
}

func TestFetchHTML(t *testing.T) {
	t.Parallel()

	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.UserAgent())
		if r.Header.Get("X-Requested-With") != "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<a class="b-qt" href="/q/1">Hi</a>`))
	}))
	t.Cleanup(srv.Close)

	f := newFetcher(t, Config{UserAgents: []string{"quote-agent/1.0"}, Timeout: time.Second})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/topics/love-quotes"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, crawler.ModeHTML, resp.Mode)
	require.Equal(t, `<a class="b-qt" href="/q/1">Hi</a>`, string(resp.Body))
	require.Equal(t, srv.URL+"/topics/love-quotes", resp.URL)
	require.Equal(t, "quote-agent/1.0", gotUA.Load())
}

func TestFetchAPISendsJSONHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" || r.Header.Get("X-Requested-With") != "XMLHttpRequest" {
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
		if r.URL.Query().Get("pg") != "2" || r.Header.Get("X-Trace") != "abc" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":"<p>x</p>"}`))
	}))
	t.Cleanup(srv.Close)

	f := newFetcher(t, Config{})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     srv.URL + "/topics/love-quotes?pg=2",
		Mode:    crawler.ModeAPI,
		Headers: http.Header{"X-Trace": {"abc"}},
	})
	require.NoError(t, err)
	require.Equal(t, crawler.ModeAPI, resp.Mode)
	require.JSONEq(t, `{"content":"<p>x</p>"}`, string(resp.Body))
}

func TestFetchNon2xxReturnsStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("blocked"))
	}))
	t.Cleanup(srv.Close)

	f := newFetcher(t, Config{})
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/topics/x-quotes"})
	var statusErr *crawler.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	require.Equal(t, http.StatusForbidden, crawler.StatusCode(err))
}

func TestFetchHonoursContextCancel(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	f := newFetcher(t, Config{Timeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFetchRoutesThroughProxy(t *testing.T) {
	t.Parallel()

	var proxied atomic.Int32
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Hostname() != "quotes.invalid" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		proxied.Add(1)
		_, _ = w.Write([]byte("via proxy"))
	}))
	t.Cleanup(proxySrv.Close)

	f := newFetcher(t, Config{ProxyURLs: []string{proxySrv.URL}})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "http://quotes.invalid/topics/love-quotes"})
	require.NoError(t, err)
	require.Equal(t, "via proxy", string(resp.Body))
	require.Equal(t, int32(1), proxied.Load())
}

func TestNewRejectsMalformedProxy(t *testing.T) {
	t.Parallel()

	_, err := New(Config{ProxyURLs: []string{"://bad"}}, nil, nil)
	require.Error(t, err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := newFetcher(t, Config{UserAgents: []string{"a", "b"}})
	req := crawler.FetchRequest{
		URL:     "https://example.com",
		Mode:    crawler.ModeAPI,
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result crawler.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))
	require.Equal(t, "application/json", collyReq.Headers.Get("Accept"))
	require.Contains(t, []string{"a", "b"}, collyReq.Headers.Get("User-Agent"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))
	require.Equal(t, crawler.ModeAPI, result.Mode)

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("Bad Gateway"))
	require.Equal(t, http.StatusBadGateway, crawler.StatusCode(fetchErr))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
