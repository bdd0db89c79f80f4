package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_http_requests_total",
			Help: "Total number of HTTP requests processed by the messenger service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messenger_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "messenger_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	onlineUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "messenger_online_users",
			Help: "Number of users with a registered live connection.",
		},
	)
	typingStates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "messenger_typing_states",
			Help: "Number of active typing indicators.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"event"},
	)
	protocolViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messenger_ws_protocol_violations_total",
			Help: "Total number of dropped malformed or unauthorized client events.",
		},
	)
	pushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_pushes_total",
			Help: "Total number of event pushes to live connections by outcome.",
		},
		[]string{"event", "outcome"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messenger_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		onlineUsers,
		typingStates,
		wsEventsTotal,
		protocolViolationsTotal,
		pushesTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func SetOnlineUsers(n int) {
	onlineUsers.Set(float64(n))
}

func SetTypingStates(n int) {
	typingStates.Set(float64(n))
}

func IncProtocolViolation() {
	protocolViolationsTotal.Inc()
}

// IncPush records the outcome of a push to a live connection: "sent",
// "dropped" (peer offline) or "failed" (transport error).
func IncPush(event, outcome string) {
	pushesTotal.WithLabelValues(event, outcome).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
