package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
	"github.com/filipilijevski/sports-booking-sub001/internal/store"
)

func TestGrantEntitlements_DepositsHoursAndRaisesCaps(t *testing.T) {
	svc, repo, pub := newTestService(t)
	ctx := context.Background()
	m := addMembership(repo, uuid.New(), nil)
	planID := uuid.New()
	repo.AddPlan(planID,
		domain.EntitlementGrant{Kind: domain.KindTableHours, Amount: dec("4")},
		domain.EntitlementGrant{Kind: domain.KindTournamentEntries, Amount: dec("2")},
	)
	holder := domain.HolderRef{Type: domain.HolderMembership, ID: m.ID}

	result, err := svc.GrantEntitlements(ctx, GrantRequest{Holder: holder, PlanID: planID, SourceRef: "pay-1"})
	if err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	if result.AlreadyGranted {
		t.Fatal("expected a fresh grant")
	}
	if len(result.Deposits) != 1 || !result.Deposits[0].HoursRemaining.Equal(dec("4")) {
		t.Fatalf("expected a single 4 hour deposit, got %+v", result.Deposits)
	}
	if result.Deposits[0].OwnerUserID != m.UserID || result.Deposits[0].GroupID != nil {
		t.Fatalf("expected individual deposit for the member, got %+v", result.Deposits[0])
	}

	usage, err := svc.RemainingEntitlement(ctx, holder, domain.KindTournamentEntries)
	if err != nil {
		t.Fatalf("remaining failed: %v", err)
	}
	if !usage.Remaining.Equal(dec("2")) {
		t.Fatalf("expected 2 tournament entries, got %s", usage.Remaining)
	}

	if keys := pub.keys(); len(keys) != 1 || keys[0] != domain.EventEntitlementGranted {
		t.Fatalf("expected one %s event, got %v", domain.EventEntitlementGranted, keys)
	}
}

func TestGrantEntitlements_DuplicateSourceRefIsNoop(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	m := addMembership(repo, uuid.New(), nil)
	planID := uuid.New()
	repo.AddPlan(planID, domain.EntitlementGrant{Kind: domain.KindTableHours, Amount: dec("4")})
	req := GrantRequest{Holder: domain.HolderRef{Type: domain.HolderMembership, ID: m.ID}, PlanID: planID, SourceRef: "pay-dup"}

	if _, err := svc.GrantEntitlements(ctx, req); err != nil {
		t.Fatalf("first grant failed: %v", err)
	}
	second, err := svc.GrantEntitlements(ctx, req)
	if err != nil {
		t.Fatalf("second grant failed: %v", err)
	}
	if !second.AlreadyGranted {
		t.Fatal("expected AlreadyGranted on repeat")
	}
	if n := len(repo.Credits()); n != 1 {
		t.Fatalf("expected 1 credit row, got %d", n)
	}
}

func TestGrantEntitlements_GroupDepositOwnedByPurchaser(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	group := addGroup(repo, uuid.New())
	planID := uuid.New()
	repo.AddPlan(planID, domain.EntitlementGrant{Kind: domain.KindTableHours, Amount: dec("10")})
	purchaser := uuid.New()

	result, err := svc.GrantEntitlements(ctx, GrantRequest{
		Holder:      domain.HolderRef{Type: domain.HolderGroup, ID: group.ID},
		PlanID:      planID,
		PurchaserID: &purchaser,
		SourceRef:   "pay-group",
	})
	if err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	dep := result.Deposits[0]
	if dep.OwnerUserID != purchaser {
		t.Fatalf("expected purchaser %s to own the deposit, got %s", purchaser, dep.OwnerUserID)
	}
	if dep.GroupID == nil || *dep.GroupID != group.ID {
		t.Fatalf("expected deposit pooled for group %s, got %v", group.ID, dep.GroupID)
	}
}

func TestGrantEntitlements_Errors(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	m := addMembership(repo, uuid.New(), nil)
	holder := domain.HolderRef{Type: domain.HolderMembership, ID: m.ID}

	tests := []struct {
		name string
		req  GrantRequest
		want error
	}{
		{name: "missing source ref", req: GrantRequest{Holder: holder, PlanID: uuid.New()}, want: domain.ErrValidation},
		{name: "missing plan", req: GrantRequest{Holder: holder, SourceRef: "x"}, want: domain.ErrValidation},
		{name: "unknown plan", req: GrantRequest{Holder: holder, PlanID: uuid.New(), SourceRef: "x"}, want: store.ErrPlanNotFound},
		{name: "unknown membership", req: GrantRequest{Holder: domain.HolderRef{Type: domain.HolderMembership, ID: uuid.New()}, PlanID: uuid.New(), SourceRef: "x"}, want: store.ErrMembershipNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GrantEntitlements(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestEnroll_DuplicatePurchaseReturnsExisting(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	req := EnrollRequest{UserID: uuid.New(), ProgramID: uuid.New(), PackagePurchaseRef: "pkg-1", Sessions: 8}

	first, created, err := svc.Enroll(ctx, req)
	if err != nil || !created {
		t.Fatalf("expected first enrollment to be created, got created=%v err=%v", created, err)
	}
	second, created, err := svc.Enroll(ctx, req)
	if err != nil {
		t.Fatalf("second enroll failed: %v", err)
	}
	if created {
		t.Fatal("expected created=false on repeat")
	}
	if second.ID != first.ID {
		t.Fatalf("expected existing enrollment %s, got %s", first.ID, second.ID)
	}
}

func TestEnroll_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, _, err := svc.Enroll(context.Background(), EnrollRequest{UserID: uuid.New(), ProgramID: uuid.New(), PackagePurchaseRef: "pkg", Sessions: 0})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
