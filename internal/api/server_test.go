package api

import (
	"context"
	"crypto/sha1" //nolint:gosec // labels are SHA-1 digests
	"encoding/hex"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/spider-emissaries/internal/config"
	"github.com/JakeFAU/spider-emissaries/internal/emissary"
	"github.com/JakeFAU/spider-emissaries/internal/hash/digest"
	"github.com/JakeFAU/spider-emissaries/internal/names"
	"github.com/JakeFAU/spider-emissaries/internal/storage/memory"
	"github.com/JakeFAU/spider-emissaries/internal/textmodel"
)

const (
	pageA = "p q r s t u v w\nh i j s k l m n"
	pageB = "x y z s t u v w"
)

type fakeScraper struct {
	pages map[string]string
	err   error
}

func (f *fakeScraper) Scrape(_ context.Context, url string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.pages[url], nil
}

type fakeProxy struct {
	resp emissary.FetchResponse
	err  error
	urls []string
}

func (f *fakeProxy) Fetch(_ context.Context, url string) (emissary.FetchResponse, error) {
	f.urls = append(f.urls, url)
	return f.resp, f.err
}

type unreadyStore struct {
	*memory.Store
}

func (unreadyStore) Ping(context.Context) error { return errors.New("database unavailable") }

type testEnv struct {
	server  *Server
	store   *memory.Store
	scraper *fakeScraper
	proxy   *fakeProxy
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	store := memory.NewStore()
	scraper := &fakeScraper{pages: map[string]string{
		"https://a.example": pageA,
		"https://b.example": pageB,
	}}
	hasher, err := digest.New(digest.SHA1)
	require.NoError(t, err)
	models, err := textmodel.New(textmodel.Config{StateSize: 1, SentenceTries: 100}, textmodel.Deps{
		Store:   store,
		Scraper: scraper,
		Hasher:  hasher,
	})
	require.NoError(t, err)
	proxy := &fakeProxy{}
	if cfg.Chat.DefaultLimit == 0 {
		cfg.Chat = config.ChatConfig{DefaultLimit: 2, MaxLimit: 3}
	}
	srv, err := NewServer(cfg, Deps{
		Store:  store,
		Models: models,
		Proxy:  proxy,
		Names:  names.New(rand.New(rand.NewPCG(7, 11))),
	})
	require.NoError(t, err)
	return &testEnv{server: srv, store: store, scraper: scraper, proxy: proxy}
}

func (e *testEnv) do(t *testing.T, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s)) //nolint:gosec // matches label derivation
	return hex.EncodeToString(sum[:])
}

func TestNewServerRequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := NewServer(config.Config{}, Deps{Store: memory.NewStore()})
	require.Error(t, err)
}

func TestProbes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ready"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "emissary_http_requests_total")
}

func TestReadyzReportsStoreFailure(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(config.Config{}, Deps{
		Store:  unreadyStore{Store: memory.NewStore()},
		Models: &fakeModels{},
		Proxy:  &fakeProxy{},
		Names:  names.New(nil),
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}})

	rec := env.do(t, http.MethodGet, "/api/v1/name", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/name", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/name?api_key=secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code, "probes stay open")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, msgInternalError, rec.Body.String())
}
