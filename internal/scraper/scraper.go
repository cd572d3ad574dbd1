// Package scraper fetches pages and turns them into training text. Pages
// whose probe shows little visible text are optionally re-rendered in a
// headless browser.
package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/spider-emissaries/internal/emissary"
	"github.com/JakeFAU/spider-emissaries/internal/metrics"
)

const defaultPromotionThreshold = 200

// ErrBlockedHost is returned for URLs whose host is on the blocklist.
var ErrBlockedHost = emissary.ErrBlockedHost

// Waiter throttles outbound requests per URL.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// HostPolicy decides whether a URL may be fetched at all.
type HostPolicy interface {
	Blocked(url string) bool
}

// Config controls extraction and promotion.
type Config struct {
	// Extract is text or markdown.
	Extract string
	// PromotionThreshold is the visible-text length below which a page is
	// re-rendered headlessly.
	PromotionThreshold int
}

// Deps bundles the collaborators a Scraper needs. Only Probe is required.
type Deps struct {
	Probe    emissary.Fetcher
	Headless emissary.Fetcher
	Limiter  Waiter
	Blocked  HostPolicy
	Logger   *zap.Logger
}

// StatusError reports an upstream response that cannot be scraped.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.URL, e.StatusCode)
}

// Scraper implements emissary.Scraper.
type Scraper struct {
	cfg      Config
	probe    emissary.Fetcher
	headless emissary.Fetcher
	limiter  Waiter
	blocked  HostPolicy
	extract  Extractor
	logger   *zap.Logger
}

// New builds a Scraper.
func New(cfg Config, deps Deps) (*Scraper, error) {
	if deps.Probe == nil {
		return nil, fmt.Errorf("probe fetcher is required")
	}
	extract, err := ExtractorFor(cfg.Extract)
	if err != nil {
		return nil, err
	}
	if cfg.PromotionThreshold <= 0 {
		cfg.PromotionThreshold = defaultPromotionThreshold
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		cfg:      cfg,
		probe:    deps.Probe,
		headless: deps.Headless,
		limiter:  deps.Limiter,
		blocked:  deps.Blocked,
		extract:  extract,
		logger:   logger,
	}, nil
}

// Fetch retrieves url through the limiter and probe fetcher without
// interpreting the body.
func (s *Scraper) Fetch(ctx context.Context, url string) (emissary.FetchResponse, error) {
	return s.fetchWith(ctx, s.probe, url)
}

// fetchWith checks the blocklist, waits on the limiter and then fetches url.
// The final URL is checked again so a redirect cannot land on a blocked host.
func (s *Scraper) fetchWith(ctx context.Context, f emissary.Fetcher, url string) (emissary.FetchResponse, error) {
	if s.isBlocked(url) {
		return emissary.FetchResponse{}, fmt.Errorf("fetch %s: %w", url, ErrBlockedHost)
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, url); err != nil {
			return emissary.FetchResponse{}, err
		}
	}
	resp, err := f.Fetch(ctx, s.request(url))
	if err != nil {
		return emissary.FetchResponse{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.URL != "" && resp.URL != url && s.isBlocked(resp.URL) {
		return emissary.FetchResponse{}, fmt.Errorf("fetch %s: redirected to %s: %w", url, resp.URL, ErrBlockedHost)
	}
	return resp, nil
}

func (s *Scraper) isBlocked(url string) bool {
	return s.blocked != nil && s.blocked.Blocked(url)
}

// Scrape fetches url and returns its visible text.
func (s *Scraper) Scrape(ctx context.Context, url string) (string, error) {
	resp, err := s.Fetch(ctx, url)
	if err != nil {
		metrics.ObserveScrape(url, "fetch_error", 0)
		return "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		metrics.ObserveScrape(url, "bad_status", len(resp.Body))
		return "", &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	text, err := s.textOf(resp)
	if err != nil {
		metrics.ObserveScrape(url, "extract_error", len(resp.Body))
		return "", err
	}

	if s.headless != nil && shouldPromote(resp, text, s.cfg.PromotionThreshold) {
		metrics.ObserveHeadlessPromotion()
		rendered, renderErr := s.render(ctx, url)
		switch {
		case renderErr != nil:
			s.logger.Warn("headless render failed, keeping probe text",
				zap.String("url", url), zap.Error(renderErr))
		case len(rendered) > len(text):
			text = rendered
		}
	}

	metrics.ObserveScrape(url, "success", len(resp.Body))
	s.logger.Debug("scraped page",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(resp.Body)),
		zap.Int("text_len", len(text)),
	)
	return text, nil
}

func (s *Scraper) render(ctx context.Context, url string) (string, error) {
	resp, err := s.fetchWith(ctx, s.headless, url)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return s.extract(string(resp.Body))
}

// textOf extracts HTML and passes plain text through untouched.
func (s *Scraper) textOf(resp emissary.FetchResponse) (string, error) {
	if !isHTML(resp) && strings.HasPrefix(strings.ToLower(resp.ContentType()), "text/") {
		return tidyLines(string(resp.Body)), nil
	}
	return s.extract(string(resp.Body))
}

func (s *Scraper) request(url string) emissary.FetchRequest {
	req := emissary.FetchRequest{URL: url, Headers: http.Header{}}
	req.Headers.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")
	return req
}
