// Package metrics provides Prometheus instrumentation for the CLOB engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersPlaced counts accepted placements by side and resulting status.
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_orders_placed_total",
		Help: "Orders accepted, partitioned by side and resulting status",
	}, []string{"side", "status"})

	// OrdersRejected counts placements refused before any mutation.
	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_orders_rejected_total",
		Help: "Orders rejected before any state change",
	}, []string{"reason"})

	// OrdersCancelled counts cancellations by reason (user, settlement).
	OrdersCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_orders_cancelled_total",
		Help: "Resting orders cancelled",
	}, []string{"reason"})

	// TradesTotal counts fills, partitioned by taker side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_trades_total",
		Help: "Total number of fills executed",
	}, []string{"taker_side"})

	// TradeVolume tracks cumulative filled quantity per asset.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_trade_volume_total",
		Help: "Cumulative filled outcome units",
	}, []string{"asset"})

	// MatchLatency tracks time spent inside a book's critical section.
	MatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clob_match_latency_seconds",
		Help:    "Order placement latency inside the book critical section",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}, []string{"side"})

	// FeeFailures counts fee collections that failed and were skipped.
	FeeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_fee_failures_total",
		Help: "Fee collections that failed (logged, never rolled back)",
	}, []string{"kind"})

	// BookHalts counts books halted on a ledger invariant violation.
	BookHalts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clob_book_halts_total",
		Help: "Order books halted for manual reconciliation",
	})

	// JournalFailures counts store writes that failed after the fact.
	JournalFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_journal_failures_total",
		Help: "Journal writes that failed",
	}, []string{"record"})

	// Settlements counts finalized events by result (settled, cancelled).
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_settlements_total",
		Help: "Events finalized",
	}, []string{"result"})

	// ActiveEvents tracks the number of events open for trading.
	ActiveEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clob_active_events",
		Help: "Number of events currently accepting orders",
	})

	// OracleMessages counts oracle resolutions consumed by result.
	OracleMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_oracle_messages_total",
		Help: "Oracle resolution messages consumed",
	}, []string{"result"})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clob_http_request_duration_seconds",
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
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps the path label low-cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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
