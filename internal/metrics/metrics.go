package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sigilix/internal/models"
)

var (
	pollTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigilix_poll_ticks_total",
			Help: "Total number of notification poll ticks by result.",
		},
		[]string{"result"},
	)
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigilix_notifications_total",
			Help: "Total number of backend notifications received by type.",
		},
		[]string{"type"},
	)
	backendCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigilix_backend_calls_total",
			Help: "Total number of backend RPC calls by method and result.",
		},
		[]string{"method", "result"},
	)
	cachedChats = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sigilix_cached_chats",
			Help: "Number of chats in the local cache.",
		},
	)
	connectedViews = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sigilix_connected_views",
			Help: "Number of connected view websockets.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		pollTicksTotal,
		notificationsTotal,
		backendCallsTotal,
		cachedChats,
		connectedViews,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObservePollTick(err error) {
	pollTicksTotal.WithLabelValues(result(err)).Inc()
}

// ObserveNotification counts a notification. Types the client does not know
// are counted as "unknown" to keep the label set bounded.
func ObserveNotification(typ models.NotificationType) {
	switch typ {
	case models.NotificationNewIncomingChat, models.NotificationNewMessage, models.NotificationChatAccepted:
		notificationsTotal.WithLabelValues(string(typ)).Inc()
	default:
		notificationsTotal.WithLabelValues("unknown").Inc()
	}
}

func ObserveBackendCall(method string, err error) {
	backendCallsTotal.WithLabelValues(method, result(err)).Inc()
}

func SetCachedChats(n int) {
	cachedChats.Set(float64(n))
}

func ViewConnected() {
	connectedViews.Inc()
}

func ViewDisconnected() {
	connectedViews.Dec()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
