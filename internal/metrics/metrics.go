package metrics

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xtrntr/swappool/internal/models"
)

// HTTPMetrics records API traffic.
type HTTPMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// LedgerMetrics records ledger activity. It doubles as a pool.Emitter so
// every committed event is counted.
type LedgerMetrics struct {
	events      *prometheus.CounterVec
	volume      *prometheus.CounterVec
	settlements *prometheus.CounterVec
	trimmed     *prometheus.CounterVec
}

var (
	httpOnce     sync.Once
	httpRegistry *HTTPMetrics

	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// HTTP returns the lazily-initialised API metrics.
func HTTP() *HTTPMetrics {
	httpOnce.Do(func() {
		httpRegistry = &HTTPMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swappool",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "swappool",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swappool",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(httpRegistry.requests, httpRegistry.latency, httpRegistry.throttles)
	})
	return httpRegistry
}

// Observe records a finished request
func (m *HTTPMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle counts a rate-limited request
func (m *HTTPMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(route).Inc()
}

// Ledger returns the lazily-initialised ledger metrics.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swappool",
				Subsystem: "ledger",
				Name:      "events_total",
				Help:      "Committed ledger events by type.",
			}, []string{"type"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swappool",
				Subsystem: "ledger",
				Name:      "native_amount_total",
				Help:      "Native base units moved by ledger events, by event type and currency.",
			}, []string{"type", "currency"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swappool",
				Subsystem: "ledger",
				Name:      "settlement_updates_total",
				Help:      "Oracle settlement updates by outcome.",
			}, []string{"status"}),
			trimmed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swappool",
				Subsystem: "ledger",
				Name:      "archived_records_total",
				Help:      "Records moved to the archive by kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(ledgerRegistry.events, ledgerRegistry.volume,
			ledgerRegistry.settlements, ledgerRegistry.trimmed)
	})
	return ledgerRegistry
}

// Emit counts a committed ledger event
func (m *LedgerMetrics) Emit(_ context.Context, evt models.Event) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(evt.Type).Inc()
	if evt.Amount > 0 {
		m.volume.WithLabelValues(evt.Type, evt.Currency).Add(float64(evt.Amount))
	}
	if res, ok := evt.Payload.(*models.TrimResult); ok {
		m.trimmed.WithLabelValues("offer").Add(float64(len(res.Offers)))
		m.trimmed.WithLabelValues("swap").Add(float64(len(res.Swaps)))
	}
}

// ObserveBatch counts the outcomes of a settlement batch
func (m *LedgerMetrics) ObserveBatch(res *models.BatchResult) {
	if m == nil || res == nil {
		return
	}
	for _, o := range res.Outcomes {
		m.settlements.WithLabelValues(o.Status).Inc()
	}
}
