// Package metrics registers the Prometheus collectors of the api service.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamchat_http_requests_total",
			Help: "Total number of HTTP requests processed by the api service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teamchat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "teamchat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamchat_ws_events_total",
			Help: "Inbound websocket events by type and outcome.",
		},
		[]string{"event", "outcome"},
	)
	wsSlowClientsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teamchat_ws_slow_clients_total",
			Help: "Connections closed because their send buffer was full.",
		},
	)
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamchat_notifications_total",
			Help: "Persisted notifications by type.",
		},
		[]string{"type"},
	)
	notificationsSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teamchat_notifications_suppressed_total",
			Help: "Candidates dropped by notification preferences.",
		},
	)
	fanoutFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teamchat_fanout_failures_total",
			Help: "Fan-out jobs that failed or were dropped.",
		},
	)
	fanoutQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "teamchat_fanout_queue_depth",
			Help: "Pending fan-out jobs.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teamchat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	relayErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamchat_relay_errors_total",
			Help: "Redis relay publish/decode errors.",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		wsSlowClientsTotal,
		notificationsTotal,
		notificationsSuppressedTotal,
		fanoutFailuresTotal,
		fanoutQueueDepth,
		amqpPublishErrorsTotal,
		relayErrorsTotal,
	)
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working behind the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// HTTPMiddleware records request count and latency by chi route pattern.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func IncWSActive() { wsActiveConnections.Inc() }
func DecWSActive() { wsActiveConnections.Dec() }

func IncWSEvent(event, outcome string) {
	wsEventsTotal.WithLabelValues(event, outcome).Inc()
}

func IncSlowClient() { wsSlowClientsTotal.Inc() }

func IncNotification(typ string) { notificationsTotal.WithLabelValues(typ).Inc() }

func IncSuppressed() { notificationsSuppressedTotal.Inc() }

func IncFanoutFailure() { fanoutFailuresTotal.Inc() }

func SetFanoutQueueDepth(n int) { fanoutQueueDepth.Set(float64(n)) }

func IncAMQPPublishError() { amqpPublishErrorsTotal.Inc() }

func IncRelayError(op string) { relayErrorsTotal.WithLabelValues(op).Inc() }
