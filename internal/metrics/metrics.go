// Package metrics exposes Prometheus collectors for the emissaries service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emissary_http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "emissary_http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
		[]string{"method", "route"},
	)

	scrapesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emissary_scrapes_total",
			Help: "Total number of scrapes, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	scrapedBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emissary_scraped_bytes_total",
			Help: "Total number of bytes fetched while scraping, labeled by site.",
		},
		[]string{"site"},
	)

	headlessPromotionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "emissary_headless_promotions_total",
			Help: "Total number of scrapes promoted to headless rendering.",
		},
	)

	modelsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emissary_models_total",
			Help: "Total number of model lookups, labeled by result.",
		},
		[]string{"result"},
	)

	sentencesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emissary_sentences_total",
			Help: "Total number of sentence generations, labeled by result.",
		},
		[]string{"result"},
	)

	chatStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emissary_chat_steps_total",
			Help: "Total number of chat simulator runs, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "emissary_rate_limit_delay_seconds",
			Help:    "Histogram of outbound rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)
)

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveScrape counts one scrape of site with the given outcome.
func ObserveScrape(site, outcome string, bytesFetched int) {
	sanitized := SanitizeSite(site)
	scrapesTotal.WithLabelValues(sanitized, outcome).Inc()
	if bytesFetched > 0 {
		scrapedBytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
}

// ObserveHeadlessPromotion counts a scrape that fell back to headless rendering.
func ObserveHeadlessPromotion() {
	headlessPromotionsTotal.Inc()
}

// ObserveModel counts a model lookup: created, existing, or failed.
func ObserveModel(result string) {
	modelsTotal.WithLabelValues(result).Inc()
}

// ObserveSentence counts a sentence generation: generated, empty, or failed.
func ObserveSentence(result string) {
	sentencesTotal.WithLabelValues(result).Inc()
}

// ObserveChatStep counts one simulator run.
func ObserveChatStep(outcome string) {
	chatStepsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
