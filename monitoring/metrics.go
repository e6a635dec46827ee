package monitoring

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pendingPayments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "payments_pending_total",
			Help: "Current number of payments waiting for a provider outcome",
		},
	)

	paymentInitiations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_initiations_total",
			Help: "Total payment initiations by network and result",
		},
		[]string{"network", "result"},
	)

	callbacksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_callbacks_total",
			Help: "Total provider notifications by source and result",
		},
		[]string{"source", "result"},
	)

	callbackDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_callback_duration_seconds",
			Help:    "Time spent handling one provider notification",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	paymentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_transitions_total",
			Help: "Total payments moved into a terminal status",
		},
		[]string{"status"},
	)

	pollOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_poll_outcomes_total",
			Help: "Total status pollers by final state",
		},
		[]string{"state"},
	)

	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_notifications_total",
			Help: "Total confirmation emails by recipient kind and result",
		},
		[]string{"kind", "result"},
	)

	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_goroutines_total",
			Help: "Current number of active goroutines",
		},
	)
)

// PendingCounter reports how many payments are still pending.
type PendingCounter interface {
	CountPendingPayments(ctx context.Context) (int, error)
}

type Monitor struct {
	store    PendingCounter
	interval time.Duration
	logger   *slog.Logger
}

func NewMonitor(store PendingCounter, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{store: store, interval: interval, logger: logger}
}

// Start collects gauges every interval until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	go m.collectMetrics(ctx)
}

func (m *Monitor) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.Collect(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Collect refreshes the gauges once.
func (m *Monitor) Collect(ctx context.Context) {
	n, err := m.store.CountPendingPayments(ctx)
	if err != nil {
		m.logger.Warn("Failed to count pending payments", "error", err)
	} else {
		pendingPayments.Set(float64(n))
	}

	goroutineCount.Set(float64(runtime.NumGoroutine()))
}

func TrackInitiation(network, result string) {
	paymentInitiations.WithLabelValues(network, result).Inc()
}

func TrackCallback(source, result string, duration time.Duration) {
	callbacksReceived.WithLabelValues(source, result).Inc()
	callbackDuration.WithLabelValues(source).Observe(duration.Seconds())
}

func TrackTransition(status string) {
	paymentTransitions.WithLabelValues(status).Inc()
}

func TrackPoll(state string) {
	pollOutcomes.WithLabelValues(state).Inc()
}

func TrackNotification(kind, result string) {
	notificationsSent.WithLabelValues(kind, result).Inc()
}
