/**
 * @description
 * Core entitlement types: the closed set of entitlement kinds, the holders that
 * can own entitlements (an individual membership or a membership group), the
 * immutable per-plan grants and the grant events that apply them to a holder.
 */
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind identifies what an entitlement unit buys.
type Kind string

const (
	KindTableHours        Kind = "TABLE_HOURS"
	KindProgramCredits    Kind = "PROGRAM_CREDITS"
	KindTournamentEntries Kind = "TOURNAMENT_ENTRIES"
)

// ParseKind normalizes raw input into a known Kind.
func ParseKind(raw string) (Kind, error) {
	kind := Kind(strings.ToUpper(strings.TrimSpace(raw)))
	if !kind.Valid() {
		return "", NewValidationError("kind", fmt.Sprintf("unknown entitlement kind %q", raw))
	}
	return kind, nil
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindTableHours, KindProgramCredits, KindTournamentEntries:
		return true
	}
	return false
}

// CounterTracked reports whether consumption of k goes through a UsageCounter.
// TABLE_HOURS are consumed through credit balances instead.
func (k Kind) CounterTracked() bool {
	return k == KindProgramCredits || k == KindTournamentEntries
}

// HolderType distinguishes individual memberships from membership groups.
type HolderType string

const (
	HolderMembership HolderType = "MEMBERSHIP"
	HolderGroup      HolderType = "GROUP"
)

// HolderRef points at the owner of a set of entitlements.
type HolderRef struct {
	Type HolderType `json:"type"`
	ID   uuid.UUID  `json:"id"`
}

// ParseHolderRef validates a holder type/id pair coming from an API or event.
func ParseHolderRef(rawType, rawID string) (HolderRef, error) {
	holderType := HolderType(strings.ToUpper(strings.TrimSpace(rawType)))
	switch holderType {
	case HolderMembership, HolderGroup:
	default:
		return HolderRef{}, NewValidationError("holder_type", fmt.Sprintf("unknown holder type %q", rawType))
	}
	id, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return HolderRef{}, NewValidationError("holder_id", "must be a valid uuid")
	}
	return HolderRef{Type: holderType, ID: id}, nil
}

func (h HolderRef) String() string {
	return string(h.Type) + ":" + h.ID.String()
}

// EntitlementGrant is an immutable amount of a kind bundled into a plan.
type EntitlementGrant struct {
	ID     uuid.UUID       `json:"id"`
	PlanID uuid.UUID       `json:"plan_id"`
	Kind   Kind            `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
}

// GrantEvent records that a plan's grants were applied to a holder once.
// SourceRef is the purchase reference and is unique.
type GrantEvent struct {
	ID        uuid.UUID `json:"id"`
	Holder    HolderRef `json:"holder"`
	PlanID    uuid.UUID `json:"plan_id"`
	SourceRef string    `json:"source_ref"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership is an individual user's plan subscription.
type Membership struct {
	ID       uuid.UUID  `json:"id"`
	UserID   uuid.UUID  `json:"user_id"`
	PlanID   uuid.UUID  `json:"plan_id"`
	GroupID  *uuid.UUID `json:"group_id,omitempty"`
	StartsAt time.Time  `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
	Active   bool       `json:"active"`
}

// IsCurrent reports whether the membership is active at the given instant.
func (m Membership) IsCurrent(at time.Time) bool {
	return isCurrent(m.Active, m.StartsAt, m.EndsAt, at)
}

// MembershipGroup pools entitlements for several members, e.g. a family plan.
type MembershipGroup struct {
	ID          uuid.UUID  `json:"id"`
	OwnerUserID uuid.UUID  `json:"owner_user_id"`
	PlanID      uuid.UUID  `json:"plan_id"`
	StartsAt    time.Time  `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	Active      bool       `json:"active"`
}

// IsCurrent reports whether the group is active at the given instant.
func (g MembershipGroup) IsCurrent(at time.Time) bool {
	return isCurrent(g.Active, g.StartsAt, g.EndsAt, at)
}

func isCurrent(active bool, startsAt time.Time, endsAt *time.Time, at time.Time) bool {
	if !active || at.Before(startsAt) {
		return false
	}
	return endsAt == nil || at.Before(*endsAt)
}

// Holder is the resolved owner behind a HolderRef.
type Holder struct {
	Ref         HolderRef
	OwnerUserID uuid.UUID
	GroupID     *uuid.UUID
	Current     bool
}

// HolderFromMembership resolves an individual membership holder.
func HolderFromMembership(m Membership, at time.Time) Holder {
	return Holder{
		Ref:         HolderRef{Type: HolderMembership, ID: m.ID},
		OwnerUserID: m.UserID,
		Current:     m.IsCurrent(at),
	}
}

// HolderFromGroup resolves a group holder; its deposits are tagged with the group.
func HolderFromGroup(g MembershipGroup, at time.Time) Holder {
	groupID := g.ID
	return Holder{
		Ref:         HolderRef{Type: HolderGroup, ID: g.ID},
		OwnerUserID: g.OwnerUserID,
		GroupID:     &groupID,
		Current:     g.IsCurrent(at),
	}
}
