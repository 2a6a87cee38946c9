/**
 * @description
 * This file defines the Repository interface, the contract for all persistence
 * operations of the entitlement ledger. The application layer depends on this
 * interface so the Postgres implementation and the in-memory backend are
 * interchangeable.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid, github.com/shopspring/decimal: identifiers and quantities.
 * - internal/domain: Contains the domain models.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
)

var (
	ErrMembershipNotFound = errors.New("membership not found")
	ErrGroupNotFound      = errors.New("membership group not found")
	ErrPlanNotFound       = errors.New("plan not found")
	ErrTemplateNotFound   = errors.New("recurrence template not found")
	ErrOccurrenceNotFound = errors.New("occurrence not found")
	ErrOccurrenceExists   = errors.New("occurrence already exists")
	ErrMarkNotFound       = errors.New("attendance mark not found")
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	ErrDuplicateGrant     = errors.New("grant event already recorded")
	ErrDuplicateEnroll    = errors.New("enrollment already exists for package purchase")
	ErrVersionConflict    = errors.New("row version changed")
)

// Repository defines the interface for database operations.
type Repository interface {
	// Holders and plans. These tables are owned by the commerce service and only read here.
	FindMembershipByID(ctx context.Context, id uuid.UUID) (*domain.Membership, error)
	FindGroupByID(ctx context.Context, id uuid.UUID) (*domain.MembershipGroup, error)
	EligibleGroupIDs(ctx context.Context, userID uuid.UUID, at time.Time) ([]uuid.UUID, error)
	ListPlanGrants(ctx context.Context, planID uuid.UUID) ([]domain.EntitlementGrant, error)

	// Grant events
	RecordGrantEvent(ctx context.Context, event *domain.GrantEvent, deposits []domain.DepositRequest) ([]domain.CreditBalance, error)
	GrantedTotal(ctx context.Context, holder domain.HolderRef, kind domain.Kind) (decimal.Decimal, error)

	// Credit ledger
	CreateCreditBalance(ctx context.Context, req domain.DepositRequest) (*domain.CreditBalance, error)
	SumCreditBalance(ctx context.Context, userID uuid.UUID, groupIDs []uuid.UUID) (decimal.Decimal, error)
	WithdrawCredits(ctx context.Context, req domain.WithdrawalRequest) (*domain.WithdrawalResult, error)
	ListConsumptionRecords(ctx context.Context, userID uuid.UUID, limit int) ([]domain.ConsumptionRecord, error)

	// Usage counters
	EnsureCounter(ctx context.Context, holder domain.HolderRef, kind domain.Kind) (*domain.UsageCounter, error)
	UpdateCounterIfVersion(ctx context.Context, counterID uuid.UUID, expectedVersion int64, consumed decimal.Decimal) (bool, error)

	// Schedule
	CreateTemplate(ctx context.Context, tmpl *domain.RecurrenceTemplate) error
	UpdateTemplateCoach(ctx context.Context, templateID uuid.UUID, coachID *uuid.UUID) error
	ListActiveTemplates(ctx context.Context) ([]domain.RecurrenceTemplate, error)
	ListOccurrenceKeys(ctx context.Context, from, to time.Time) (map[domain.OccurrenceKey]struct{}, error)
	InsertOccurrences(ctx context.Context, occurrences []domain.Occurrence) (int, error)
	FindOccurrenceByID(ctx context.Context, id uuid.UUID) (*domain.Occurrence, error)
	CancelOccurrence(ctx context.Context, id uuid.UUID) error

	// Enrollments and attendance
	CreateEnrollment(ctx context.Context, enrollment *domain.Enrollment) error
	FindEnrollmentByPurchaseRef(ctx context.Context, ref string) (*domain.Enrollment, error)
	FindEligibleEnrollment(ctx context.Context, userID, programID uuid.UUID) (*domain.Enrollment, error)
	FindAttendanceMark(ctx context.Context, occurrenceID, userID uuid.UUID) (*domain.AttendanceMark, error)
	RecordAttendance(ctx context.Context, mark *domain.AttendanceMark, expectedVersion int64) (*domain.Enrollment, error)

	Ping(ctx context.Context) error
}
