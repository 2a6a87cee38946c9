package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
	"github.com/filipilijevski/sports-booking-sub001/internal/store"
	"github.com/filipilijevski/sports-booking-sub001/internal/store/memory"
)

func grantProgramCredits(t *testing.T, svc *Service, repo *memory.Store, amount string) domain.HolderRef {
	t.Helper()
	m := addMembership(repo, uuid.New(), nil)
	planID := uuid.New()
	repo.AddPlan(planID, domain.EntitlementGrant{Kind: domain.KindProgramCredits, Amount: dec(amount)})
	holder := domain.HolderRef{Type: domain.HolderMembership, ID: m.ID}
	if _, err := svc.GrantEntitlements(context.Background(), GrantRequest{Holder: holder, PlanID: planID, SourceRef: "pay-" + uuid.NewString()}); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	return holder
}

func TestConsumeEntitlement_CapIsEnforced(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	holder := grantProgramCredits(t, svc, repo, "10")

	usage, err := svc.ConsumeEntitlement(ctx, holder, domain.KindProgramCredits, dec("6"))
	if err != nil {
		t.Fatalf("first consume failed: %v", err)
	}
	if !usage.Remaining.Equal(dec("4")) {
		t.Fatalf("expected 4 remaining, got %s", usage.Remaining)
	}

	_, err = svc.ConsumeEntitlement(ctx, holder, domain.KindProgramCredits, dec("6"))
	if !errors.Is(err, domain.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}

	after, err := svc.RemainingEntitlement(ctx, holder, domain.KindProgramCredits)
	if err != nil {
		t.Fatalf("remaining failed: %v", err)
	}
	if !after.Consumed.Equal(dec("6")) {
		t.Fatalf("expected consumed to stay at 6, got %s", after.Consumed)
	}
	if !after.Granted.Equal(dec("10")) {
		t.Fatalf("expected granted 10, got %s", after.Granted)
	}
}

func TestConsumeEntitlement_ExactRemainderSucceeds(t *testing.T) {
	svc, repo, _ := newTestService(t)
	holder := grantProgramCredits(t, svc, repo, "2.5")

	usage, err := svc.ConsumeEntitlement(context.Background(), holder, domain.KindProgramCredits, dec("2.5"))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !usage.Remaining.IsZero() {
		t.Fatalf("expected zero remaining, got %s", usage.Remaining)
	}
}

func TestConsumeEntitlement_Validation(t *testing.T) {
	svc, repo, _ := newTestService(t)
	holder := grantProgramCredits(t, svc, repo, "10")

	tests := []struct {
		name   string
		kind   domain.Kind
		amount decimal.Decimal
	}{
		{name: "table hours", kind: domain.KindTableHours, amount: dec("1")},
		{name: "unknown kind", kind: domain.Kind("NOPE"), amount: dec("1")},
		{name: "zero amount", kind: domain.KindProgramCredits, amount: decimal.Zero},
		{name: "negative amount", kind: domain.KindProgramCredits, amount: dec("-1")},
		{name: "three decimals", kind: domain.KindProgramCredits, amount: dec("1.005")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ConsumeEntitlement(context.Background(), holder, tt.kind, tt.amount)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestConsumeEntitlement_InactiveHolder(t *testing.T) {
	svc, repo, _ := newTestService(t)
	m := domain.Membership{ID: uuid.New(), UserID: uuid.New(), StartsAt: testNow.AddDate(0, -1, 0), Active: false}
	repo.AddMembership(m)

	_, err := svc.ConsumeEntitlement(context.Background(), domain.HolderRef{Type: domain.HolderMembership, ID: m.ID}, domain.KindProgramCredits, dec("1"))
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestConsumeEntitlement_UnknownHolder(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.ConsumeEntitlement(context.Background(), domain.HolderRef{Type: domain.HolderGroup, ID: uuid.New()}, domain.KindProgramCredits, dec("1"))
	if !errors.Is(err, store.ErrGroupNotFound) {
		t.Fatalf("expected ErrGroupNotFound, got %v", err)
	}
}

func TestConsumeEntitlement_ConcurrentConsumersNeverExceedCap(t *testing.T) {
	svc, repo, _ := newTestService(t)
	svc.retryLimit = 100
	holder := grantProgramCredits(t, svc, repo, "10")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ConsumeEntitlement(context.Background(), holder, domain.KindProgramCredits, dec("1"))
			switch {
			case err == nil:
				mu.Lock()
				successes++
				mu.Unlock()
			case errors.Is(err, domain.ErrLimitExceeded), errors.Is(err, domain.ErrConcurrentUpdateConflict):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	usage, err := svc.RemainingEntitlement(context.Background(), holder, domain.KindProgramCredits)
	if err != nil {
		t.Fatalf("remaining failed: %v", err)
	}
	if usage.Consumed.GreaterThan(dec("10")) {
		t.Fatalf("cap exceeded: consumed %s", usage.Consumed)
	}
	if !usage.Consumed.Equal(decimal.NewFromInt(int64(successes))) {
		t.Fatalf("consumed %s does not match %d successful calls", usage.Consumed, successes)
	}
}

// conflictRepo loses every version race.
type conflictRepo struct {
	store.Repository
	updates int
}

func (r *conflictRepo) UpdateCounterIfVersion(ctx context.Context, counterID uuid.UUID, expectedVersion int64, consumed decimal.Decimal) (bool, error) {
	r.updates++
	return false, nil
}

func TestConsumeEntitlement_ConflictAfterRetries(t *testing.T) {
	base, repo, _ := newTestService(t)
	holder := grantProgramCredits(t, base, repo, "10")

	stub := &conflictRepo{Repository: repo}
	svc := NewService(stub, nil, testLogger(), Options{RetryLimit: 3})
	svc.SetClock(func() time.Time { return testNow })

	_, err := svc.ConsumeEntitlement(context.Background(), holder, domain.KindProgramCredits, dec("1"))
	if !errors.Is(err, domain.ErrConcurrentUpdateConflict) {
		t.Fatalf("expected ErrConcurrentUpdateConflict, got %v", err)
	}
	if stub.updates != 3 {
		t.Fatalf("expected 3 update attempts, got %d", stub.updates)
	}
}
