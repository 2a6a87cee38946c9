package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
)

// CreateCreditBalance deposits hours as a new balance row.
func (r *PostgresRepository) CreateCreditBalance(ctx context.Context, req domain.DepositRequest) (*domain.CreditBalance, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	balance, err := insertCreditBalance(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return balance, nil
}

func insertCreditBalance(ctx context.Context, tx pgx.Tx, req domain.DepositRequest) (*domain.CreditBalance, error) {
	balance := &domain.CreditBalance{
		OwnerUserID:    req.OwnerUserID,
		GroupID:        req.GroupID,
		SourcePlanID:   req.SourcePlanID,
		HoursRemaining: req.Hours,
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO table_rental_credits (owner_user_id, group_id, source_plan_id, hours_remaining)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, req.OwnerUserID, req.GroupID, req.SourcePlanID, req.Hours).Scan(&balance.ID, &balance.CreatedAt)
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// SumCreditBalance is the read-only balance: own rows plus rows of the given groups.
func (r *PostgresRepository) SumCreditBalance(ctx context.Context, userID uuid.UUID, groupIDs []uuid.UUID) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(hours_remaining), 0)
		FROM table_rental_credits
		WHERE hours_remaining > 0
		  AND ((group_id IS NULL AND owner_user_id = $1) OR group_id = ANY($2::uuid[]))
	`
	var total decimal.Decimal
	if err := r.db.QueryRow(ctx, query, userID, uuidStrings(groupIDs)).Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// WithdrawCredits locks every candidate row in FIFO order, plans the slices and
// applies them in one transaction. Nothing is mutated when the locked rows do
// not cover the amount.
func (r *PostgresRepository) WithdrawCredits(ctx context.Context, req domain.WithdrawalRequest) (*domain.WithdrawalResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if r.lockTimeoutMs > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeoutMs)); err != nil {
			return nil, fmt.Errorf("set lock timeout: %w", err)
		}
	}

	rows, err := tx.Query(ctx, `
		SELECT id, owner_user_id, group_id, source_plan_id, hours_remaining, created_at
		FROM table_rental_credits
		WHERE hours_remaining > 0
		  AND ((group_id IS NULL AND owner_user_id = $1) OR group_id = ANY($2::uuid[]))
		ORDER BY created_at ASC, id ASC
		FOR UPDATE
	`, req.UserID, uuidStrings(req.GroupIDs))
	if err != nil {
		return nil, mapLockError(err)
	}

	var locked []domain.CreditBalance
	for rows.Next() {
		var b domain.CreditBalance
		if err := rows.Scan(&b.ID, &b.OwnerUserID, &b.GroupID, &b.SourcePlanID, &b.HoursRemaining, &b.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		locked = append(locked, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapLockError(err)
	}

	slices, total, err := domain.PlanWithdrawal(locked, req.Amount)
	if err != nil {
		return nil, err
	}

	result := &domain.WithdrawalResult{
		Consumed:         req.Amount,
		RemainingBalance: total.Sub(req.Amount),
		Records:          make([]domain.ConsumptionRecord, 0, len(slices)),
	}
	for _, slice := range slices {
		if _, err := tx.Exec(ctx, `
			UPDATE table_rental_credits
			SET hours_remaining = hours_remaining - $1, updated_at = NOW()
			WHERE id = $2
		`, slice.Hours, slice.CreditID); err != nil {
			return nil, fmt.Errorf("debit credit %d: %w", slice.CreditID, err)
		}

		record := domain.ConsumptionRecord{
			UserID:        req.UserID,
			ActingAdminID: req.ActingAdminID,
			CreditID:      slice.CreditID,
			GroupID:       slice.GroupID,
			Hours:         slice.Hours,
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO credit_consumptions (user_id, acting_admin_id, credit_id, group_id, hours)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at
		`, record.UserID, record.ActingAdminID, record.CreditID, record.GroupID, record.Hours).Scan(&record.ID, &record.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert consumption record: %w", err)
		}
		result.Records = append(result.Records, record)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

func mapLockError(err error) error {
	if isPgError(err, pgLockNotAvailable) {
		return fmt.Errorf("%w: %v", domain.ErrLockTimeout, err)
	}
	return err
}

// ListConsumptionRecords returns the newest audit rows for a user.
func (r *PostgresRepository) ListConsumptionRecords(ctx context.Context, userID uuid.UUID, limit int) ([]domain.ConsumptionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, acting_admin_id, credit_id, group_id, hours, created_at
		FROM credit_consumptions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.ConsumptionRecord
	for rows.Next() {
		var rec domain.ConsumptionRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ActingAdminID, &rec.CreditID, &rec.GroupID, &rec.Hours, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
