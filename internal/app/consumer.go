package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
	"github.com/filipilijevski/sports-booking-sub001/internal/metrics"
	"github.com/filipilijevski/sports-booking-sub001/internal/store"
)

// Routing keys of purchase events consumed from the commerce service.
const (
	RoutingPlanPurchased    = "plan.purchase.succeeded"
	RoutingPackagePurchased = "program_package.purchase.succeeded"
)

// PurchaseEventConsumer turns settled purchases into grants and enrollments.
type PurchaseEventConsumer struct {
	service *Service
	guard   IdempotencyGuard
	logger  *slog.Logger
	timeout time.Duration
}

func NewPurchaseEventConsumer(service *Service, guard IdempotencyGuard, logger *slog.Logger, timeout time.Duration) *PurchaseEventConsumer {
	if guard == nil {
		guard = noopIdempotencyGuard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PurchaseEventConsumer{service: service, guard: guard, logger: logger, timeout: timeout}
}

// HandlePlanPurchase applies a plan purchase. Returning false re-queues the message.
func (c *PurchaseEventConsumer) HandlePlanPurchase(body []byte) bool {
	var event domain.PlanPurchasedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error("failed to unmarshal plan purchase", "error", err)
		metrics.ObservePurchaseEvent(RoutingPlanPurchased, "malformed")
		return true
	}
	req, err := planPurchaseToGrant(event)
	if err != nil {
		c.logger.Error("invalid plan purchase event", "payment_ref", event.PaymentRef, "error", err)
		metrics.ObservePurchaseEvent(RoutingPlanPurchased, "malformed")
		return true
	}

	return c.process(RoutingPlanPurchased, "plan:"+req.SourceRef, func(ctx context.Context) error {
		_, err := c.service.GrantEntitlements(ctx, req)
		return err
	})
}

// HandlePackagePurchase creates the enrollment for a program package purchase.
func (c *PurchaseEventConsumer) HandlePackagePurchase(body []byte) bool {
	var event domain.PackagePurchasedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error("failed to unmarshal package purchase", "error", err)
		metrics.ObservePurchaseEvent(RoutingPackagePurchased, "malformed")
		return true
	}
	req, err := packagePurchaseToEnroll(event)
	if err != nil {
		c.logger.Error("invalid package purchase event", "payment_ref", event.PaymentRef, "error", err)
		metrics.ObservePurchaseEvent(RoutingPackagePurchased, "malformed")
		return true
	}

	return c.process(RoutingPackagePurchased, "package:"+req.PackagePurchaseRef, func(ctx context.Context) error {
		_, _, err := c.service.Enroll(ctx, req)
		return err
	})
}

func (c *PurchaseEventConsumer) process(routingKey, idempotencyKey string, apply func(ctx context.Context) error) bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	seen, err := c.guard.Seen(ctx, idempotencyKey)
	if err != nil {
		// Redis is an optimisation only; fall through to the database constraints.
		c.logger.Warn("idempotency lookup failed; processing anyway", "key", idempotencyKey, "error", err)
		seen = false
	}
	if seen {
		c.logger.Info("purchase event already processed; acknowledging", "key", idempotencyKey)
		metrics.ObservePurchaseEvent(routingKey, "duplicate")
		return true
	}

	if err := apply(ctx); err != nil {
		if permanentEventError(err) {
			c.logger.Error("purchase event rejected; dropping", "key", idempotencyKey, "error", err)
			metrics.ObservePurchaseEvent(routingKey, "rejected")
			return true
		}
		c.logger.Error("purchase event processing failed; re-queuing", "key", idempotencyKey, "error", err)
		metrics.ObservePurchaseEvent(routingKey, "error")
		return false
	}

	c.remember(idempotencyKey)
	metrics.ObservePurchaseEvent(routingKey, "ok")
	return true
}

// remember runs on its own deadline so an exhausted event context cannot
// drop the key; a failure only costs a database round trip on redelivery.
func (c *PurchaseEventConsumer) remember(idempotencyKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.guard.Remember(ctx, idempotencyKey); err != nil {
		c.logger.Warn("idempotency record failed", "key", idempotencyKey, "error", err)
	}
}

// permanentEventError reports errors that a redelivery cannot fix.
func permanentEventError(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, store.ErrPlanNotFound) ||
		errors.Is(err, store.ErrMembershipNotFound) ||
		errors.Is(err, store.ErrGroupNotFound)
}

func planPurchaseToGrant(event domain.PlanPurchasedEvent) (GrantRequest, error) {
	if strings.TrimSpace(event.PaymentRef) == "" {
		return GrantRequest{}, fmt.Errorf("missing payment_ref")
	}
	holder, err := domain.ParseHolderRef(event.HolderType, event.HolderID)
	if err != nil {
		return GrantRequest{}, err
	}
	planID, err := uuid.Parse(strings.TrimSpace(event.PlanID))
	if err != nil {
		return GrantRequest{}, fmt.Errorf("invalid plan_id: %w", err)
	}
	req := GrantRequest{Holder: holder, PlanID: planID, SourceRef: strings.TrimSpace(event.PaymentRef)}
	if purchaser := optionalString(event.PurchaserID); purchaser != nil {
		id, err := uuid.Parse(*purchaser)
		if err != nil {
			return GrantRequest{}, fmt.Errorf("invalid purchaser_id: %w", err)
		}
		req.PurchaserID = &id
	}
	return req, nil
}

func packagePurchaseToEnroll(event domain.PackagePurchasedEvent) (EnrollRequest, error) {
	if strings.TrimSpace(event.PaymentRef) == "" {
		return EnrollRequest{}, fmt.Errorf("missing payment_ref")
	}
	userID, err := uuid.Parse(strings.TrimSpace(event.UserID))
	if err != nil {
		return EnrollRequest{}, fmt.Errorf("invalid user_id: %w", err)
	}
	programID, err := uuid.Parse(strings.TrimSpace(event.ProgramID))
	if err != nil {
		return EnrollRequest{}, fmt.Errorf("invalid program_id: %w", err)
	}
	if event.Sessions <= 0 {
		return EnrollRequest{}, fmt.Errorf("sessions must be positive, got %d", event.Sessions)
	}
	return EnrollRequest{
		UserID:             userID,
		ProgramID:          programID,
		PackagePurchaseRef: strings.TrimSpace(event.PaymentRef),
		Sessions:           event.Sessions,
	}, nil
}

func optionalString(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
