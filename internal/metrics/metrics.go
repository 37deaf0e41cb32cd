// Package metrics provides Prometheus instrumentation for the exchange.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersTotal counts orders accepted, partitioned by side.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flipside_orders_total",
		Help: "Total number of orders accepted",
	}, []string{"side"})

	// FillsTotal counts matched slices, partitioned by taker side.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flipside_fills_total",
		Help: "Total number of fills",
	}, []string{"side"})

	// MatchedShares tracks cumulative matched volume per market.
	MatchedShares = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flipside_matched_shares_total",
		Help: "Cumulative matched volume in shares",
	}, []string{"market_id"})

	// OrderLatency is the end-to-end placement latency, partitioned by side.
	OrderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flipside_order_latency_seconds",
		Help:    "Order placement latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// PullbacksTotal counts risk-tier crossings that shrank bot quotes.
	PullbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flipside_pullbacks_total",
		Help: "Pullback passes applied to bot quotes",
	})

	// BotExposure is the bot's current worst-case loss.
	BotExposure = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flipside_bot_exposure",
		Help: "Liquidity bot worst-case loss in money units",
	})

	// BotExposureTier is the bot's current risk tier.
	BotExposureTier = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flipside_bot_exposure_tier",
		Help: "Liquidity bot exposure tier",
	})

	// ActiveMarkets tracks the number of open markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flipside_active_markets",
		Help: "Number of currently open markets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flipside_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flipside_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flipside_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
