package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	callbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pedalport",
			Name:      "gateway_callbacks_total",
			Help:      "Gateway callbacks by provider and result.",
		},
		[]string{"provider", "result"},
	)

	idempotentReplays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pedalport",
			Name:      "reconciliation_idempotent_replays_total",
			Help:      "Gateway results that were no-ops because the booking had already left pending.",
		},
	)

	bookingsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pedalport",
			Name:      "bookings_opened_total",
			Help:      "Bookings opened with a bike hold.",
		},
	)

	holdsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pedalport",
			Name:      "holds_expired_total",
			Help:      "Pending bookings failed by the reservation-timeout sweep.",
		},
	)

	bikesReleased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pedalport",
			Name:      "bikes_released_total",
			Help:      "Bikes returned to the catalog by the lifecycle manager.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			callbacksTotal,
			idempotentReplays,
			bookingsOpened,
			holdsExpired,
			bikesReleased,
		)
	})
}

// IncCallback counts a processed callback by provider and result label.
func IncCallback(provider, result string) {
	callbacksTotal.WithLabelValues(provider, result).Inc()
}

// IncIdempotentReplay counts a duplicate gateway result.
func IncIdempotentReplay() {
	idempotentReplays.Inc()
}

// IncBookingOpened counts an opened booking.
func IncBookingOpened() {
	bookingsOpened.Inc()
}

// AddHoldsExpired counts bookings failed by the sweep.
func AddHoldsExpired(n int) {
	holdsExpired.Add(float64(n))
}

// IncBikeReleased counts a bike availability restore.
func IncBikeReleased() {
	bikesReleased.Inc()
}
