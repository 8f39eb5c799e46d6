// Package metrics provides Prometheus instrumentation for the portfolio engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsTotal counts events handled by the portfolio, by kind.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_events_total",
		Help: "Total number of events handled by the portfolio",
	}, []string{"kind"})

	// EventLatency is the time a handler holds the portfolio write lock.
	EventLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_event_latency_seconds",
		Help:    "Event handling latency in seconds",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}, []string{"kind"})

	// FillsTotal counts fills applied to positions, by side.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_fills_total",
		Help: "Total number of fills applied to positions",
	}, []string{"side"})

	// FillsRejected counts fills that could not be applied, by reason.
	FillsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_fills_rejected_total",
		Help: "Fills rejected by the position tracker",
	}, []string{"reason"})

	// OpenPositions tracks the number of open positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portfolio_open_positions",
		Help: "Number of currently open positions",
	})

	// ConversionUnavailable counts values dropped from aggregates because no
	// exchange rate was available.
	ConversionUnavailable = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_conversion_unavailable_total",
		Help: "Aggregate contributions skipped for lack of an exchange rate",
	}, []string{"from", "to"})

	// QueueDepth tracks buffered events per bus topic.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "portfolio_bus_queue_depth",
		Help: "Events buffered per bus topic",
	}, []string{"topic"})

	// QueueDropped counts events dropped because a topic queue was full.
	QueueDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_bus_dropped_total",
		Help: "Events dropped because the topic queue was full",
	}, []string{"topic"})

	// WriteBehindPending tracks writes not yet copied to the durable store.
	WriteBehindPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portfolio_write_behind_pending",
		Help: "Orders and positions waiting for the durable store",
	})

	// WriteBehindFlushed counts writes copied to the durable store.
	WriteBehindFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portfolio_write_behind_flushed_total",
		Help: "Orders and positions written to the durable store",
	})

	// RiskRejections counts orders rejected by the pre-trade gate.
	RiskRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_risk_rejections_total",
		Help: "Orders rejected by the pre-trade risk gate",
	}, []string{"reason"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portfolio_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_http_request_duration_seconds",
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
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
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

// Hijack passes through to the underlying writer for WebSocket upgrades.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
