/**
 * @description
 * This file contains the core business logic for the entitlement ledger. The
 * Service orchestrates the repository for credit withdrawals, usage counters,
 * occurrence materialisation and attendance, and publishes ledger events after
 * each committed change.
 *
 * @dependencies
 * - internal/store: For database interactions.
 * - internal/domain: For domain models and business errors.
 * - pkg/rabbitmq: For publishing ledger events.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
	"github.com/filipilijevski/sports-booking-sub001/internal/metrics"
	"github.com/filipilijevski/sports-booking-sub001/internal/store"
	"github.com/filipilijevski/sports-booking-sub001/pkg/rabbitmq"
)

const (
	defaultRetryLimit     = 3
	defaultMaxHorizonDays = 366
	defaultExchange       = "sports.events"
)

// Options tunes the service. Zero values fall back to defaults.
type Options struct {
	Location       *time.Location
	RetryLimit     int
	MaxHorizonDays int
	Exchange       string
}

// Service provides the ledger's business operations.
type Service struct {
	repo       store.Repository
	publisher  rabbitmq.Publisher
	logger     *slog.Logger
	location   *time.Location
	retryLimit int
	maxHorizon int
	exchange   string
	now        func() time.Time
}

// NewService creates a new Service. A nil publisher disables event publishing.
func NewService(repo store.Repository, publisher rabbitmq.Publisher, logger *slog.Logger, opts Options) *Service {
	if publisher == nil {
		publisher = &rabbitmq.EventProducerFallback{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = defaultRetryLimit
	}
	if opts.MaxHorizonDays <= 0 {
		opts.MaxHorizonDays = defaultMaxHorizonDays
	}
	if opts.Exchange == "" {
		opts.Exchange = defaultExchange
	}
	return &Service{
		repo:       repo,
		publisher:  publisher,
		logger:     logger,
		location:   opts.Location,
		retryLimit: opts.RetryLimit,
		maxHorizon: opts.MaxHorizonDays,
		exchange:   opts.Exchange,
		now:        time.Now,
	}
}

// SetClock overrides the service clock.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Location is the venue time zone used for schedules.
func (s *Service) Location() *time.Location {
	return s.location
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// publish sends a ledger event after commit. Failures are logged and never
// undo the committed change.
func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if err := s.publisher.Publish(ctx, s.exchange, routingKey, body); err != nil {
		s.logger.Warn("event publish failed", "routing_key", routingKey, "error", err)
	}
}

// withOptimisticRetry re-runs fn while it reports a stale row version, up to
// the configured limit, then gives up with ErrConcurrentUpdateConflict.
func (s *Service) withOptimisticRetry(ctx context.Context, operation string, fn func() error) error {
	for attempt := 1; attempt <= s.retryLimit; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if !errors.Is(err, store.ErrVersionConflict) {
			return err
		}
		metrics.ObserveRetry(operation)
		s.logger.Debug("optimistic update lost; retrying", "operation", operation, "attempt", attempt)
	}
	return domain.ErrConcurrentUpdateConflict
}

// resolveHolder loads the membership or group behind ref.
func (s *Service) resolveHolder(ctx context.Context, ref domain.HolderRef) (domain.Holder, error) {
	if ref.ID == uuid.Nil {
		return domain.Holder{}, domain.NewValidationError("holder_id", "is required")
	}
	now := s.now()
	switch ref.Type {
	case domain.HolderMembership:
		m, err := s.repo.FindMembershipByID(ctx, ref.ID)
		if err != nil {
			return domain.Holder{}, err
		}
		return domain.HolderFromMembership(*m, now), nil
	case domain.HolderGroup:
		g, err := s.repo.FindGroupByID(ctx, ref.ID)
		if err != nil {
			return domain.Holder{}, err
		}
		return domain.HolderFromGroup(*g, now), nil
	default:
		return domain.Holder{}, domain.NewValidationError("holder_type", fmt.Sprintf("unknown holder type %q", ref.Type))
	}
}
