/**
 * @description
 * Prometheus instruments for the ledger. Collectors register on the default
 * registry and are exposed by promhttp on /metrics.
 */
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
)

const namespace = "sports_ledger"

var (
	creditWithdrawals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "credit_withdrawals_total",
		Help:      "Credit withdrawals by outcome.",
	}, []string{"outcome"})

	creditHoursWithdrawn = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "credit_hours_withdrawn_total",
		Help:      "Table hours consumed from credit balances.",
	})

	entitlementConsumptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entitlement_consumptions_total",
		Help:      "Counter-tracked consumptions by kind and outcome.",
	}, []string{"kind", "outcome"})

	optimisticRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "optimistic_retries_total",
		Help:      "Version conflicts that triggered a re-read.",
	}, []string{"operation"})

	grantEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "grant_events_total",
		Help:      "Plan grants applied to holders by outcome.",
	}, []string{"outcome"})

	attendanceMarks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "attendance_marks_total",
		Help:      "Attendance requests by outcome.",
	}, []string{"outcome"})

	occurrencesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "occurrences_materialized_total",
		Help:      "Occurrences created by materialisation passes.",
	})

	materializeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "materialize_duration_seconds",
		Help:      "Duration of materialisation passes.",
		Buckets:   prometheus.DefBuckets,
	})

	purchaseEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "purchase_events_total",
		Help:      "Consumed purchase events by routing key and outcome.",
	}, []string{"routing_key", "outcome"})
)

// Outcome maps an operation error onto a low-cardinality label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, domain.ErrConcurrentUpdateConflict):
		return "conflict"
	case errors.Is(err, domain.ErrAlreadyMarked):
		return "already_marked"
	case errors.Is(err, domain.ErrNoEligibleEnrollment):
		return "no_enrollment"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrLockTimeout):
		return "lock_timeout"
	default:
		return "error"
	}
}

func ObserveWithdrawal(err error, hours float64) {
	creditWithdrawals.WithLabelValues(Outcome(err)).Inc()
	if err == nil {
		creditHoursWithdrawn.Add(hours)
	}
}

func ObserveConsumption(kind domain.Kind, err error) {
	entitlementConsumptions.WithLabelValues(string(kind), Outcome(err)).Inc()
}

func ObserveRetry(operation string) {
	optimisticRetries.WithLabelValues(operation).Inc()
}

func ObserveGrant(outcome string) {
	grantEvents.WithLabelValues(outcome).Inc()
}

func ObserveAttendance(outcome string) {
	attendanceMarks.WithLabelValues(outcome).Inc()
}

func ObserveMaterialize(created int, started time.Time) {
	occurrencesCreated.Add(float64(created))
	materializeDuration.Observe(time.Since(started).Seconds())
}

func ObservePurchaseEvent(routingKey, outcome string) {
	purchaseEvents.WithLabelValues(routingKey, outcome).Inc()
}
