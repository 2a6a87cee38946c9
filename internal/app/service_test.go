package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
	"github.com/filipilijevski/sports-booking-sub001/internal/store"
	"github.com/filipilijevski/sports-booking-sub001/internal/store/memory"
)

var testNow = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

type publishedEvent struct {
	routingKey string
	body       interface{}
}

type publisherStub struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{routingKey: routingKey, body: body})
	return nil
}

func (p *publisherStub) Close() {}

func (p *publisherStub) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.routingKey)
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestService wires a Service to a fresh in-memory store whose clock
// advances one second per read, so FIFO order follows insertion order.
func newTestService(t *testing.T) (*Service, *memory.Store, *publisherStub) {
	t.Helper()
	repo := memory.New()
	var mu sync.Mutex
	tick := testNow
	repo.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	})
	pub := &publisherStub{}
	svc := NewService(repo, pub, testLogger(), Options{Location: time.UTC})
	svc.SetClock(func() time.Time { return testNow })
	return svc, repo, pub
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func addMembership(repo *memory.Store, userID uuid.UUID, groupID *uuid.UUID) domain.Membership {
	m := domain.Membership{
		ID:       uuid.New(),
		UserID:   userID,
		PlanID:   uuid.New(),
		GroupID:  groupID,
		StartsAt: testNow.AddDate(0, -1, 0),
		Active:   true,
	}
	repo.AddMembership(m)
	return m
}

func addGroup(repo *memory.Store, ownerID uuid.UUID) domain.MembershipGroup {
	g := domain.MembershipGroup{
		ID:          uuid.New(),
		OwnerUserID: ownerID,
		PlanID:      uuid.New(),
		StartsAt:    testNow.AddDate(0, -1, 0),
		Active:      true,
	}
	repo.AddGroup(g)
	return g
}

func TestNewService_Defaults(t *testing.T) {
	svc := NewService(memory.New(), nil, nil, Options{})

	if svc.retryLimit != defaultRetryLimit {
		t.Fatalf("expected retry limit %d, got %d", defaultRetryLimit, svc.retryLimit)
	}
	if svc.maxHorizon != defaultMaxHorizonDays {
		t.Fatalf("expected max horizon %d, got %d", defaultMaxHorizonDays, svc.maxHorizon)
	}
	if svc.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", svc.Location())
	}
	if svc.exchange != defaultExchange {
		t.Fatalf("expected exchange %q, got %q", defaultExchange, svc.exchange)
	}
}

func TestWithOptimisticRetry(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	t.Run("succeeds after transient conflicts", func(t *testing.T) {
		calls := 0
		err := svc.withOptimisticRetry(ctx, "test", func() error {
			calls++
			if calls < 3 {
				return store.ErrVersionConflict
			}
			return nil
		})
		if err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if calls != 3 {
			t.Fatalf("expected 3 attempts, got %d", calls)
		}
	})

	t.Run("gives up with conflict after limit", func(t *testing.T) {
		calls := 0
		err := svc.withOptimisticRetry(ctx, "test", func() error {
			calls++
			return store.ErrVersionConflict
		})
		if !errors.Is(err, domain.ErrConcurrentUpdateConflict) {
			t.Fatalf("expected ErrConcurrentUpdateConflict, got %v", err)
		}
		if calls != defaultRetryLimit {
			t.Fatalf("expected %d attempts, got %d", defaultRetryLimit, calls)
		}
	})

	t.Run("does not retry business errors", func(t *testing.T) {
		calls := 0
		err := svc.withOptimisticRetry(ctx, "test", func() error {
			calls++
			return domain.ErrLimitExceeded
		})
		if !errors.Is(err, domain.ErrLimitExceeded) {
			t.Fatalf("expected ErrLimitExceeded, got %v", err)
		}
		if calls != 1 {
			t.Fatalf("expected a single attempt, got %d", calls)
		}
	})
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	svc, repo, pub := newTestService(t)
	pub.err = errors.New("broker down")
	userID := uuid.New()
	if _, err := repo.CreateCreditBalance(context.Background(), domain.DepositRequest{OwnerUserID: userID, Hours: dec("2")}); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	if _, err := svc.WithdrawHours(context.Background(), userID, dec("1"), uuid.New()); err != nil {
		t.Fatalf("expected withdrawal to succeed despite publish failure, got %v", err)
	}
}
