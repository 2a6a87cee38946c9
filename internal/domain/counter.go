package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UsageCounter tracks how much of a counter-tracked kind a holder has used.
// Version increases on every write and guards concurrent updates.
type UsageCounter struct {
	ID             uuid.UUID       `json:"id"`
	Holder         HolderRef       `json:"holder"`
	Kind           Kind            `json:"kind"`
	AmountConsumed decimal.Decimal `json:"amount_consumed"`
	Version        int64           `json:"version"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// EntitlementUsage is the derived view of a holder's counter. Remaining is
// never stored.
type EntitlementUsage struct {
	Holder    HolderRef       `json:"holder"`
	Kind      Kind            `json:"kind"`
	Granted   decimal.Decimal `json:"granted"`
	Consumed  decimal.Decimal `json:"consumed"`
	Remaining decimal.Decimal `json:"remaining"`
}

// NewEntitlementUsage derives the remaining amount from granted and consumed.
func NewEntitlementUsage(holder HolderRef, kind Kind, granted, consumed decimal.Decimal) EntitlementUsage {
	remaining := granted.Sub(consumed)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return EntitlementUsage{
		Holder:    holder,
		Kind:      kind,
		Granted:   granted,
		Consumed:  consumed,
		Remaining: remaining,
	}
}

// CanConsume reports whether consumed+amount stays within granted.
func CanConsume(granted, consumed, amount decimal.Decimal) bool {
	return !consumed.Add(amount).GreaterThan(granted)
}
