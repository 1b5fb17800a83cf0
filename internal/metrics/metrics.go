package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "salonagenda"

var (
	once sync.Once

	appointmentCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_created_total",
			Help:      "Count of appointments created by status.",
		},
		[]string{"status"},
	)

	appointmentCanceled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_canceled_total",
			Help:      "Count of appointments canceled.",
		},
	)

	appointmentDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_deleted_total",
			Help:      "Count of appointments hard-deleted.",
		},
	)

	slotConflict = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_conflict_total",
			Help:      "Count of rejected bookings by reason.",
		},
		[]string{"reason"},
	)

	stateReload = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_state_reload_total",
			Help:      "Count of booking state reloads by trigger and outcome.",
		},
		[]string{"trigger", "outcome"},
	)

	reloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "booking_state_reload_seconds",
			Help:      "Time spent loading booking state from storage.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	notificationFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failed_total",
			Help:      "Count of confirmation messages that could not be delivered.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			appointmentCreated,
			appointmentCanceled,
			appointmentDeleted,
			slotConflict,
			stateReload,
			reloadDuration,
			notificationFailed,
		)
	})
}

func IncAppointmentCreated(status string) {
	appointmentCreated.WithLabelValues(status).Inc()
}

func IncAppointmentCanceled() {
	appointmentCanceled.Inc()
}

func IncAppointmentDeleted() {
	appointmentDeleted.Inc()
}

func IncSlotConflict(reason string) {
	slotConflict.WithLabelValues(reason).Inc()
}

// Reload outcomes.
const (
	ReloadApplied   = "applied"
	ReloadStale     = "stale"
	ReloadFailed    = "failed"
	TriggerWrite    = "write"
	TriggerFeed     = "feed"
	TriggerViewSwap = "view"
)

func IncStateReload(trigger, outcome string) {
	stateReload.WithLabelValues(trigger, outcome).Inc()
}

func ObserveReload(seconds float64) {
	reloadDuration.Observe(seconds)
}

func IncNotificationFailed() {
	notificationFailed.Inc()
}
