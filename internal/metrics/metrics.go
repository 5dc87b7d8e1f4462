package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oddsfeed"

var (
	statusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "status_transitions_total",
			Help:      "Producer recovery status transitions",
		},
		[]string{"producer", "from", "to"},
	)

	producerDown = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "producer_down",
			Help:      "1 while the producer is not in the completed state",
		},
		[]string{"producer"},
	)

	recoveryRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "requests_total",
			Help:      "Recovery requests issued, by kind and outcome",
		},
		[]string{"producer", "kind", "outcome"},
	)

	recoveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "duration_seconds",
			Help:      "Time from recovery request to completion or timeout",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"producer", "outcome"},
	)

	notificationBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "notification_backlog",
			Help:      "Notifications queued but not yet delivered to listeners",
		},
	)

	sessionMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "messages_total",
			Help:      "Feed messages received per session interest and kind",
		},
		[]string{"interest", "kind"},
	)

	decodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "decode_errors_total",
			Help:      "Frames that could not be decoded into feed messages",
		},
		[]string{"interest"},
	)
)

// RecordTransition counts a status change and updates the producer-down gauge.
func RecordTransition(producerID int, from, to string, down bool) {
	id := strconv.Itoa(producerID)
	statusTransitions.WithLabelValues(id, from, to).Inc()
	if down {
		producerDown.WithLabelValues(id).Set(1)
	} else {
		producerDown.WithLabelValues(id).Set(0)
	}
}

// RecordRecoveryRequest counts an issued recovery request. kind is "full", "after" or "event".
func RecordRecoveryRequest(producerID int, kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	recoveryRequests.WithLabelValues(strconv.Itoa(producerID), kind, outcome).Inc()
}

// ObserveRecovery records how long a finished recovery took.
func ObserveRecovery(producerID int, outcome string, d time.Duration) {
	recoveryDuration.WithLabelValues(strconv.Itoa(producerID), outcome).Observe(d.Seconds())
}

func SetNotificationBacklog(n int) {
	notificationBacklog.Set(float64(n))
}

func IncSessionMessage(interest, kind string) {
	sessionMessages.WithLabelValues(interest, kind).Inc()
}

func IncDecodeError(interest string) {
	decodeErrors.WithLabelValues(interest).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
