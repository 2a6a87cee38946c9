/**
 * @description
 * Credit ledger types for table-rental hours. A CreditBalance row is a single
 * deposit; withdrawals drain rows oldest-first and leave one ConsumptionRecord
 * per row touched.
 */
package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreditBalance is one deposit of hours. A nil GroupID means the hours belong
// to the owner individually; otherwise they are pooled for the group.
type CreditBalance struct {
	ID             int64           `json:"id"`
	OwnerUserID    uuid.UUID       `json:"owner_user_id"`
	GroupID        *uuid.UUID      `json:"group_id,omitempty"`
	SourcePlanID   *uuid.UUID      `json:"source_plan_id,omitempty"`
	HoursRemaining decimal.Decimal `json:"hours_remaining"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ConsumptionRecord is the append-only audit row for one slice of a withdrawal.
type ConsumptionRecord struct {
	ID            int64           `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	ActingAdminID uuid.UUID       `json:"acting_admin_id"`
	CreditID      int64           `json:"credit_id"`
	GroupID       *uuid.UUID      `json:"group_id,omitempty"`
	Hours         decimal.Decimal `json:"hours"`
	CreatedAt     time.Time       `json:"created_at"`
}

// DepositRequest adds hours for an owner, optionally pooled for a group.
type DepositRequest struct {
	OwnerUserID  uuid.UUID
	GroupID      *uuid.UUID
	SourcePlanID *uuid.UUID
	Hours        decimal.Decimal
}

// WithdrawalRequest consumes hours from the user's own rows and from rows of
// the groups captured in GroupIDs.
type WithdrawalRequest struct {
	UserID        uuid.UUID
	GroupIDs      []uuid.UUID
	Amount        decimal.Decimal
	ActingAdminID uuid.UUID
}

// WithdrawalResult is returned after a committed withdrawal.
type WithdrawalResult struct {
	Consumed         decimal.Decimal     `json:"consumed"`
	RemainingBalance decimal.Decimal     `json:"remaining_balance"`
	Records          []ConsumptionRecord `json:"records"`
}

// WithdrawalSlice is the amount taken from a single balance row.
type WithdrawalSlice struct {
	CreditID int64
	GroupID  *uuid.UUID
	Hours    decimal.Decimal
}

// SortFIFO orders balances by (CreatedAt, ID) ascending.
func SortFIFO(rows []CreditBalance) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].ID < rows[j].ID
	})
}

// PlanWithdrawal walks rows in FIFO order and takes min(needed, row) from each
// until amount is covered. rows must already be locked by the caller. It
// returns ErrInsufficientBalance without a plan when the rows do not cover the
// amount. The second return value is the total of rows before the withdrawal.
func PlanWithdrawal(rows []CreditBalance, amount decimal.Decimal) ([]WithdrawalSlice, decimal.Decimal, error) {
	ordered := make([]CreditBalance, len(rows))
	copy(ordered, rows)
	SortFIFO(ordered)

	total := decimal.Zero
	for _, row := range ordered {
		if row.HoursRemaining.IsPositive() {
			total = total.Add(row.HoursRemaining)
		}
	}
	if total.LessThan(amount) {
		return nil, total, ErrInsufficientBalance
	}

	needed := amount
	var slices []WithdrawalSlice
	for _, row := range ordered {
		if !needed.IsPositive() {
			break
		}
		if !row.HoursRemaining.IsPositive() {
			continue
		}
		take := decimal.Min(needed, row.HoursRemaining)
		slices = append(slices, WithdrawalSlice{CreditID: row.ID, GroupID: row.GroupID, Hours: take})
		needed = needed.Sub(take)
	}
	return slices, total, nil
}

// CreditBelongsTo reports whether a balance row is usable by the user given the
// eligible groups.
func CreditBelongsTo(row CreditBalance, userID uuid.UUID, groupIDs []uuid.UUID) bool {
	if row.GroupID == nil {
		return row.OwnerUserID == userID
	}
	for _, id := range groupIDs {
		if id == *row.GroupID {
			return true
		}
	}
	return false
}
