package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
	"github.com/filipilijevski/sports-booking-sub001/internal/metrics"
)

// CreditBalanceView is the read-only balance a user can draw on.
type CreditBalanceView struct {
	UserID           uuid.UUID       `json:"user_id"`
	Balance          decimal.Decimal `json:"balance"`
	EligibleGroupIDs []uuid.UUID     `json:"eligible_group_ids"`
}

// Deposit adds hours as a new balance row.
func (s *Service) Deposit(ctx context.Context, req domain.DepositRequest) (*domain.CreditBalance, error) {
	if req.OwnerUserID == uuid.Nil {
		return nil, domain.NewValidationError("user_id", "is required")
	}
	if err := domain.ValidateQuantity("hours", req.Hours); err != nil {
		return nil, err
	}

	balance, err := s.repo.CreateCreditBalance(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger.Info("credit deposited", "credit_id", balance.ID, "user_id", req.OwnerUserID, "hours", domain.FormatQuantity(req.Hours))
	return balance, nil
}

// BalanceOf sums the user's own rows and the rows of every group the user is
// currently eligible for. It takes no locks.
func (s *Service) BalanceOf(ctx context.Context, userID uuid.UUID) (*CreditBalanceView, error) {
	groupIDs, err := s.repo.EligibleGroupIDs(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}
	total, err := s.repo.SumCreditBalance(ctx, userID, groupIDs)
	if err != nil {
		return nil, err
	}
	if groupIDs == nil {
		groupIDs = []uuid.UUID{}
	}
	return &CreditBalanceView{UserID: userID, Balance: total, EligibleGroupIDs: groupIDs}, nil
}

// WithdrawHours consumes amount hours FIFO across the user's own rows and the
// pooled rows of eligible groups. The eligible group set is captured once, at
// the start of the call.
func (s *Service) WithdrawHours(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, actingAdminID uuid.UUID) (*domain.WithdrawalResult, error) {
	if userID == uuid.Nil {
		return nil, domain.NewValidationError("user_id", "is required")
	}
	if actingAdminID == uuid.Nil {
		return nil, domain.NewValidationError("acting_admin_id", "is required")
	}
	if err := domain.ValidateQuantity("hours", amount); err != nil {
		return nil, err
	}

	groupIDs, err := s.repo.EligibleGroupIDs(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}

	result, err := s.repo.WithdrawCredits(ctx, domain.WithdrawalRequest{
		UserID:        userID,
		GroupIDs:      groupIDs,
		Amount:        amount,
		ActingAdminID: actingAdminID,
	})
	metrics.ObserveWithdrawal(err, amount.InexactFloat64())
	if err != nil {
		s.logger.Warn("credit withdrawal rejected", "user_id", userID, "hours", domain.FormatQuantity(amount), "error", err)
		return nil, err
	}

	s.logger.Info("credit withdrawal committed",
		"user_id", userID,
		"acting_admin_id", actingAdminID,
		"hours", domain.FormatQuantity(amount),
		"slices", len(result.Records),
		"remaining", domain.FormatQuantity(result.RemainingBalance),
	)
	s.publish(ctx, domain.EventCreditsWithdrawn, domain.CreditsWithdrawnEvent{
		UserID:           userID,
		ActingAdminID:    actingAdminID,
		Amount:           amount,
		RemainingBalance: result.RemainingBalance,
		Slices:           len(result.Records),
		Timestamp:        time.Now().UTC(),
	})
	return result, nil
}

// ConsumptionHistory lists the newest consumption records for a user.
func (s *Service) ConsumptionHistory(ctx context.Context, userID uuid.UUID, limit int) ([]domain.ConsumptionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.repo.ListConsumptionRecords(ctx, userID, limit)
}
