package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
	"github.com/filipilijevski/sports-booking-sub001/internal/metrics"
	"github.com/filipilijevski/sports-booking-sub001/internal/store"
)

func validateCounterKind(kind domain.Kind) error {
	if !kind.Valid() {
		return domain.NewValidationError("kind", "unknown entitlement kind")
	}
	if !kind.CounterTracked() {
		return domain.NewValidationError("kind", "TABLE_HOURS are consumed through credit withdrawals")
	}
	return nil
}

// EnsureCounter returns the holder's counter for kind, creating it if needed.
func (s *Service) EnsureCounter(ctx context.Context, holder domain.HolderRef, kind domain.Kind) (*domain.UsageCounter, error) {
	if err := validateCounterKind(kind); err != nil {
		return nil, err
	}
	if _, err := s.resolveHolder(ctx, holder); err != nil {
		return nil, err
	}
	return s.repo.EnsureCounter(ctx, holder, kind)
}

// ConsumeEntitlement adds amount to the holder's counter if the result stays
// within the granted total. Lost version races are retried up to the
// configured limit.
func (s *Service) ConsumeEntitlement(ctx context.Context, holderRef domain.HolderRef, kind domain.Kind, amount decimal.Decimal) (*domain.EntitlementUsage, error) {
	usage, err := s.consumeEntitlement(ctx, holderRef, kind, amount)
	metrics.ObserveConsumption(kind, err)
	if err != nil {
		s.logger.Warn("entitlement consumption rejected",
			"holder", holderRef.String(),
			"kind", kind,
			"amount", amount.String(),
			"error", err,
		)
		return nil, err
	}

	s.logger.Info("entitlement consumed",
		"holder", holderRef.String(),
		"kind", kind,
		"amount", domain.FormatQuantity(amount),
		"remaining", domain.FormatQuantity(usage.Remaining),
	)
	s.publish(ctx, domain.EventEntitlementConsumed, domain.EntitlementConsumedEvent{
		Holder:    holderRef,
		Kind:      kind,
		Amount:    amount,
		Remaining: usage.Remaining,
		Timestamp: time.Now().UTC(),
	})
	return usage, nil
}

func (s *Service) consumeEntitlement(ctx context.Context, holderRef domain.HolderRef, kind domain.Kind, amount decimal.Decimal) (*domain.EntitlementUsage, error) {
	if err := validateCounterKind(kind); err != nil {
		return nil, err
	}
	if err := domain.ValidateQuantity("amount", amount); err != nil {
		return nil, err
	}

	holder, err := s.resolveHolder(ctx, holderRef)
	if err != nil {
		return nil, err
	}
	if !holder.Current {
		return nil, domain.ErrInvalidState
	}

	var usage domain.EntitlementUsage
	err = s.withOptimisticRetry(ctx, "consume_entitlement", func() error {
		counter, err := s.repo.EnsureCounter(ctx, holderRef, kind)
		if err != nil {
			return err
		}
		granted, err := s.repo.GrantedTotal(ctx, holderRef, kind)
		if err != nil {
			return err
		}
		if !domain.CanConsume(granted, counter.AmountConsumed, amount) {
			return domain.ErrLimitExceeded
		}

		consumed := counter.AmountConsumed.Add(amount)
		ok, err := s.repo.UpdateCounterIfVersion(ctx, counter.ID, counter.Version, consumed)
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrVersionConflict
		}
		usage = domain.NewEntitlementUsage(holderRef, kind, granted, consumed)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

// RemainingEntitlement derives granted, consumed and remaining for a holder.
func (s *Service) RemainingEntitlement(ctx context.Context, holderRef domain.HolderRef, kind domain.Kind) (*domain.EntitlementUsage, error) {
	if err := validateCounterKind(kind); err != nil {
		return nil, err
	}
	if _, err := s.resolveHolder(ctx, holderRef); err != nil {
		return nil, err
	}
	counter, err := s.repo.EnsureCounter(ctx, holderRef, kind)
	if err != nil {
		return nil, err
	}
	granted, err := s.repo.GrantedTotal(ctx, holderRef, kind)
	if err != nil {
		return nil, err
	}
	usage := domain.NewEntitlementUsage(holderRef, kind, granted, counter.AmountConsumed)
	return &usage, nil
}
