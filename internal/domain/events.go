/**
 * @description
 * Event payloads exchanged over RabbitMQ. Purchase events arrive from the
 * commerce service; ledger events are published after a committed change.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlanPurchasedEvent is emitted by checkout once a plan payment settles.
type PlanPurchasedEvent struct {
	PaymentRef  string     `json:"payment_ref"`
	HolderType  string     `json:"holder_type"`
	HolderID    string     `json:"holder_id"`
	PlanID      string     `json:"plan_id"`
	PurchaserID *string    `json:"purchaser_id,omitempty"`
	OccurredAt  *time.Time `json:"occurred_at,omitempty"`
}

// PackagePurchasedEvent is emitted by checkout once a program package settles.
type PackagePurchasedEvent struct {
	PaymentRef string `json:"payment_ref"`
	UserID     string `json:"user_id"`
	ProgramID  string `json:"program_id"`
	Sessions   int    `json:"sessions"`
}

// Routing keys for ledger events.
const (
	EventEntitlementGranted     = "entitlement.granted"
	EventEntitlementConsumed    = "entitlement.consumed"
	EventCreditsWithdrawn       = "credits.withdrawn"
	EventAttendanceMarked       = "attendance.marked"
	EventOccurrencesMaterialize = "occurrences.materialized"
)

type EntitlementGrantedEvent struct {
	GrantEventID uuid.UUID `json:"grant_event_id"`
	Holder       HolderRef `json:"holder"`
	PlanID       uuid.UUID `json:"plan_id"`
	SourceRef    string    `json:"source_ref"`
	Deposits     int       `json:"deposits"`
	Timestamp    time.Time `json:"timestamp"`
}

type EntitlementConsumedEvent struct {
	Holder    HolderRef       `json:"holder"`
	Kind      Kind            `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	Remaining decimal.Decimal `json:"remaining"`
	Timestamp time.Time       `json:"timestamp"`
}

type CreditsWithdrawnEvent struct {
	UserID           uuid.UUID       `json:"user_id"`
	ActingAdminID    uuid.UUID       `json:"acting_admin_id"`
	Amount           decimal.Decimal `json:"amount"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	Slices           int             `json:"slices"`
	Timestamp        time.Time       `json:"timestamp"`
}

type AttendanceMarkedEvent struct {
	MarkID       uuid.UUID `json:"mark_id"`
	OccurrenceID uuid.UUID `json:"occurrence_id"`
	UserID       uuid.UUID `json:"user_id"`
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	MarkedBy     uuid.UUID `json:"marked_by"`
	Timestamp    time.Time `json:"timestamp"`
}

type OccurrencesMaterializedEvent struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Created     int       `json:"created"`
	Timestamp   time.Time `json:"timestamp"`
}
