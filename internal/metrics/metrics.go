// Package metrics exposes Prometheus collectors for the catalog API and the scraper service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapePagesTotal              *prometheus.CounterVec
	scrapeBytesTotal              *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	scrapeJobsTotal               *prometheus.CounterVec
	scrapeActiveWorkers           prometheus.Gauge
	scrapeRateLimitDelaysSeconds  *prometheus.HistogramVec
	signatureRejectionsTotal      *prometheus.CounterVec
	turnstileDecisionsTotal       *prometheus.CounterVec
	turnstileVerifyDurationSecond prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scrapePagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_pages_total",
				Help: "Total number of product pages scraped, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		scrapeBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		scrapeJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_total",
				Help: "Total number of scrape jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		scrapeActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		scrapeRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		signatureRejectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signed_request_rejections_total",
				Help: "Signed requests rejected by the scraper service, labeled by reason.",
			},
			[]string{"reason"},
		)

		turnstileDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_decisions_total",
				Help: "Bot-verification gate decisions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		turnstileVerifyDurationSecond = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "turnstile_verify_duration_seconds",
				Help:    "Latency of calls to the Turnstile siteverify endpoint.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)
	})
}

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
	Init()
	return promhttp.Handler()
}

// ObserveScrape increments the scraped page metrics.
func ObserveScrape(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	scrapePagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		scrapeBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	scrapeJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	scrapeActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	scrapeActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	scrapeRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveSignatureRejection counts a rejected signed request.
func ObserveSignatureRejection(reason string) {
	Init()
	signatureRejectionsTotal.WithLabelValues(reason).Inc()
}

// ObserveTurnstileDecision counts a gate decision.
func ObserveTurnstileDecision(outcome string) {
	Init()
	turnstileDecisionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveTurnstileVerify records the latency of one siteverify call.
func ObserveTurnstileVerify(duration time.Duration) {
	Init()
	turnstileVerifyDurationSecond.Observe(duration.Seconds())
}
