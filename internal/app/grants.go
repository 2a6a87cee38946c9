package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
	"github.com/filipilijevski/sports-booking-sub001/internal/metrics"
	"github.com/filipilijevski/sports-booking-sub001/internal/store"
)

// GrantRequest applies a purchased plan's grants to a holder.
type GrantRequest struct {
	Holder      domain.HolderRef
	PlanID      uuid.UUID
	PurchaserID *uuid.UUID
	SourceRef   string
}

// GrantResult reports what a grant created. AlreadyGranted is set when the
// source reference was applied before; nothing is written in that case.
type GrantResult struct {
	Event          *domain.GrantEvent     `json:"event,omitempty"`
	Deposits       []domain.CreditBalance `json:"deposits"`
	AlreadyGranted bool                   `json:"already_granted"`
}

// GrantEntitlements records a grant event for the holder. TABLE_HOURS grants
// become credit deposits; counter-tracked grants raise the holder's cap, which
// is derived from grant events on read.
func (s *Service) GrantEntitlements(ctx context.Context, req GrantRequest) (*GrantResult, error) {
	sourceRef := strings.TrimSpace(req.SourceRef)
	if sourceRef == "" {
		return nil, domain.NewValidationError("source_ref", "is required")
	}
	if req.PlanID == uuid.Nil {
		return nil, domain.NewValidationError("plan_id", "is required")
	}

	holder, err := s.resolveHolder(ctx, req.Holder)
	if err != nil {
		return nil, err
	}
	grants, err := s.repo.ListPlanGrants(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	owner := holder.OwnerUserID
	if holder.GroupID != nil && req.PurchaserID != nil && *req.PurchaserID != uuid.Nil {
		owner = *req.PurchaserID
	}

	planID := req.PlanID
	var (
		deposits     []domain.DepositRequest
		counterKinds []domain.Kind
	)
	for _, g := range grants {
		if !g.Amount.IsPositive() {
			continue
		}
		if g.Kind == domain.KindTableHours {
			deposits = append(deposits, domain.DepositRequest{
				OwnerUserID:  owner,
				GroupID:      holder.GroupID,
				SourcePlanID: &planID,
				Hours:        g.Amount,
			})
			continue
		}
		if g.Kind.CounterTracked() {
			counterKinds = append(counterKinds, g.Kind)
		}
	}

	event := &domain.GrantEvent{
		ID:        uuid.New(),
		Holder:    holder.Ref,
		PlanID:    req.PlanID,
		SourceRef: sourceRef,
	}
	balances, err := s.repo.RecordGrantEvent(ctx, event, deposits)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateGrant) {
			metrics.ObserveGrant("duplicate")
			s.logger.Info("grant already applied", "source_ref", sourceRef, "holder", holder.Ref.String())
			return &GrantResult{Deposits: []domain.CreditBalance{}, AlreadyGranted: true}, nil
		}
		metrics.ObserveGrant("error")
		return nil, err
	}

	for _, kind := range counterKinds {
		if _, err := s.repo.EnsureCounter(ctx, holder.Ref, kind); err != nil {
			return nil, err
		}
	}

	metrics.ObserveGrant("ok")
	s.logger.Info("entitlements granted",
		"holder", holder.Ref.String(),
		"plan_id", req.PlanID,
		"source_ref", sourceRef,
		"deposits", len(balances),
	)
	s.publish(ctx, domain.EventEntitlementGranted, domain.EntitlementGrantedEvent{
		GrantEventID: event.ID,
		Holder:       holder.Ref,
		PlanID:       req.PlanID,
		SourceRef:    sourceRef,
		Deposits:     len(balances),
		Timestamp:    time.Now().UTC(),
	})
	return &GrantResult{Event: event, Deposits: balances}, nil
}

// EnrollRequest creates an enrollment from a program package purchase.
type EnrollRequest struct {
	UserID             uuid.UUID
	ProgramID          uuid.UUID
	PackagePurchaseRef string
	Sessions           int
}

// Enroll creates an ACTIVE enrollment. A repeated purchase reference returns
// the existing enrollment and created=false.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (*domain.Enrollment, bool, error) {
	ref := strings.TrimSpace(req.PackagePurchaseRef)
	switch {
	case req.UserID == uuid.Nil:
		return nil, false, domain.NewValidationError("user_id", "is required")
	case req.ProgramID == uuid.Nil:
		return nil, false, domain.NewValidationError("program_id", "is required")
	case ref == "":
		return nil, false, domain.NewValidationError("package_purchase_ref", "is required")
	case req.Sessions <= 0:
		return nil, false, domain.NewValidationError("sessions", "must be greater than zero")
	}

	enrollment := &domain.Enrollment{
		ID:                 uuid.New(),
		UserID:             req.UserID,
		ProgramID:          req.ProgramID,
		PackagePurchaseRef: ref,
		SessionsRemaining:  req.Sessions,
		Status:             domain.EnrollmentActive,
	}
	if err := s.repo.CreateEnrollment(ctx, enrollment); err != nil {
		if errors.Is(err, store.ErrDuplicateEnroll) {
			existing, findErr := s.repo.FindEnrollmentByPurchaseRef(ctx, ref)
			if findErr != nil {
				return nil, false, findErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	s.logger.Info("enrollment created", "enrollment_id", enrollment.ID, "user_id", req.UserID, "program_id", req.ProgramID, "sessions", req.Sessions)
	return enrollment, true, nil
}
