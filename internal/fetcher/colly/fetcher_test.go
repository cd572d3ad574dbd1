package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/spider-emissaries/internal/emissary"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", RespectRobots: true, Timeout: time.Second})
	collector := f.buildCollector(emissary.FetchRequest{URL: "https://example.com"}, time.Unix(0, 0), &emissary.FetchResponse{}, new(error))
	if collector.UserAgent != "coverage-agent" {
		t.Fatalf("expected user agent override, got %q", collector.UserAgent)
	}
	if collector.IgnoreRobotsTxt {
		t.Fatal("expected robots txt to be honored")
	}
	if !collector.AllowURLRevisit {
		t.Fatal("expected revisits to be allowed")
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := emissary.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result emissary.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	if hooks.onRequest == nil || hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	if collyReq.Headers.Get("X-Trace") != "yes" {
		t.Fatalf("expected header propagation, got %+v", collyReq.Headers)
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"text/plain"}},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://example.com"),
		},
	})
	if result.StatusCode != http.StatusCreated || string(result.Body) != "body" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ContentType() != "text/plain" {
		t.Fatalf("expected headers copied, got %+v", result.Headers)
	}

	hooks.onError(nil, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}
}

func TestFetchAgainstServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.Error(w, "gone fishing", http.StatusNotFound)
		default:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<html><body><p>" + r.Header.Get("User-Agent") + "</p></body></html>"))
		}
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "emissary-test", Timeout: 2 * time.Second})
	ctx := context.Background()

	resp, err := f.Fetch(ctx, emissary.FetchRequest{URL: srv.URL + "/page"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "emissary-test")
	require.Equal(t, "text/html; charset=utf-8", resp.ContentType())

	again, err := f.Fetch(ctx, emissary.FetchRequest{URL: srv.URL + "/page"})
	require.NoError(t, err, "the same URL can be fetched twice")
	require.Equal(t, resp.Body, again.Body)

	missing, err := f.Fetch(ctx, emissary.FetchRequest{URL: srv.URL + "/missing"})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
	require.Contains(t, string(missing.Body), "gone fishing")
}

type hostnamePolicy string

func (h hostnamePolicy) Blocked(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Hostname() == string(h)
}

func TestFetchRefusesRedirectToBlockedHost(t *testing.T) {
	t.Parallel()

	var secretHits atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/start":
			// Same listener, different host name: only the redirect target is blocked.
			target := strings.Replace(srv.URL, "127.0.0.1", "localhost", 1) + "/secret"
			http.Redirect(w, r, target, http.StatusFound)
		case "/hop":
			http.Redirect(w, r, "/page", http.StatusMovedPermanently)
		case "/secret":
			secretHits.Add(1)
			_, _ = w.Write([]byte("metadata credentials"))
		default:
			_, _ = w.Write([]byte("public page"))
		}
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: 2 * time.Second, Blocked: hostnamePolicy("localhost")})
	ctx := context.Background()

	resp, err := f.Fetch(ctx, emissary.FetchRequest{URL: srv.URL + "/start"})
	require.ErrorIs(t, err, emissary.ErrBlockedHost)
	require.Empty(t, resp.Body)
	require.Zero(t, secretHits.Load())

	resp, err = f.Fetch(ctx, emissary.FetchRequest{URL: srv.URL + "/hop"})
	require.NoError(t, err, "redirects to allowed hosts are followed")
	require.Equal(t, "public page", string(resp.Body))
	require.Equal(t, srv.URL+"/page", resp.URL)
}

func TestRedirectHandlerCapsHops(t *testing.T) {
	t.Parallel()

	handler := redirectHandler(nil)
	req := httptest.NewRequest(http.MethodGet, "https://example.com/next", nil)
	require.NoError(t, handler(req, make([]*http.Request, maxRedirects-1)))
	require.Error(t, handler(req, make([]*http.Request, maxRedirects)))
}

func TestFetchErrors(t *testing.T) {
	t.Parallel()

	f := New(Config{Timeout: time.Second})

	_, err := f.Fetch(context.Background(), emissary.FetchRequest{URL: "not a url"})
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blocked := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(blocked.Close)
	_, err = f.Fetch(ctx, emissary.FetchRequest{URL: blocked.URL})
	require.Error(t, err)
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	collyReq := &colly.Request{Headers: &http.Header{}}
	f.copyHeaders(emissary.FetchRequest{}, collyReq)
	if len(*collyReq.Headers) != 0 {
		t.Fatalf("expected no headers to be copied, got %+v", *collyReq.Headers)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
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
