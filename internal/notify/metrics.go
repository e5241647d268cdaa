package notify

import "github.com/prometheus/client_golang/prometheus"

var (
	subscribersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wa_ws_subscribers",
		Help: "Registered realtime subscribers.",
	})

	droppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_notify_dropped_total",
		Help: "Events dropped because a subscriber buffer was full.",
	}, []string{"event"})

	broadcastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_notify_broadcasts_total",
		Help: "Events broadcast by type.",
	}, []string{"event"})
)

func init() {
	prometheus.MustRegister(subscribersGauge, droppedTotal, broadcastsTotal)
}
