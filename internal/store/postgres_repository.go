/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It covers the holder lookups and grant events; the credit ledger, counters,
 * schedule and attendance queries live in the sibling postgres_*.go files.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
)

const (
	pgUniqueViolation  = "23505"
	pgLockNotAvailable = "55P03"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db            *pgxpool.Pool
	lockTimeoutMs int
}

// NewPostgresRepository creates a new instance of PostgresRepository. lockTimeout
// bounds how long a withdrawal waits for row locks; zero keeps the server default.
func NewPostgresRepository(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresRepository {
	return &PostgresRepository{db: db, lockTimeoutMs: int(lockTimeout.Milliseconds())}
}

var _ Repository = (*PostgresRepository)(nil)

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

// FindMembershipByID retrieves a single membership.
func (r *PostgresRepository) FindMembershipByID(ctx context.Context, id uuid.UUID) (*domain.Membership, error) {
	query := `
		SELECT id, user_id, plan_id, group_id, starts_at, ends_at, active
		FROM user_memberships
		WHERE id = $1
	`
	var m domain.Membership
	err := r.db.QueryRow(ctx, query, id).Scan(&m.ID, &m.UserID, &m.PlanID, &m.GroupID, &m.StartsAt, &m.EndsAt, &m.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, err
	}
	return &m, nil
}

// FindGroupByID retrieves a single membership group.
func (r *PostgresRepository) FindGroupByID(ctx context.Context, id uuid.UUID) (*domain.MembershipGroup, error) {
	query := `
		SELECT id, owner_user_id, plan_id, starts_at, ends_at, active
		FROM membership_groups
		WHERE id = $1
	`
	var g domain.MembershipGroup
	err := r.db.QueryRow(ctx, query, id).Scan(&g.ID, &g.OwnerUserID, &g.PlanID, &g.StartsAt, &g.EndsAt, &g.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return &g, nil
}

// EligibleGroupIDs lists the groups whose pooled credits the user may draw on:
// the user must hold a current membership in the group and the group itself
// must be current.
func (r *PostgresRepository) EligibleGroupIDs(ctx context.Context, userID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT g.id
		FROM user_memberships m
		JOIN membership_groups g ON g.id = m.group_id
		WHERE m.user_id = $1
		  AND m.active AND m.starts_at <= $2 AND (m.ends_at IS NULL OR m.ends_at > $2)
		  AND g.active AND g.starts_at <= $2 AND (g.ends_at IS NULL OR g.ends_at > $2)
		ORDER BY g.id
	`
	rows, err := r.db.Query(ctx, query, userID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListPlanGrants returns the immutable grants bundled into a plan.
func (r *PostgresRepository) ListPlanGrants(ctx context.Context, planID uuid.UUID) ([]domain.EntitlementGrant, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM plans WHERE id = $1)`, planID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrPlanNotFound
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, plan_id, kind, amount
		FROM plan_entitlement_grants
		WHERE plan_id = $1
		ORDER BY kind, id
	`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []domain.EntitlementGrant
	for rows.Next() {
		var g domain.EntitlementGrant
		var kind string
		if err := rows.Scan(&g.ID, &g.PlanID, &kind, &g.Amount); err != nil {
			return nil, err
		}
		g.Kind = domain.Kind(kind)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// RecordGrantEvent inserts the grant event and its credit deposits atomically.
// A repeated source reference returns ErrDuplicateGrant and writes nothing.
func (r *PostgresRepository) RecordGrantEvent(ctx context.Context, event *domain.GrantEvent, deposits []domain.DepositRequest) ([]domain.CreditBalance, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO entitlement_grant_events (id, holder_type, holder_id, plan_id, source_ref)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, event.ID, string(event.Holder.Type), event.Holder.ID, event.PlanID, event.SourceRef).Scan(&event.CreatedAt)
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return nil, ErrDuplicateGrant
		}
		return nil, fmt.Errorf("insert grant event: %w", err)
	}

	balances := make([]domain.CreditBalance, 0, len(deposits))
	for _, dep := range deposits {
		balance, err := insertCreditBalance(ctx, tx, dep)
		if err != nil {
			return nil, fmt.Errorf("insert grant deposit: %w", err)
		}
		balances = append(balances, *balance)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return balances, nil
}

// GrantedTotal sums the plan grants of kind over every grant event applied to holder.
func (r *PostgresRepository) GrantedTotal(ctx context.Context, holder domain.HolderRef, kind domain.Kind) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(g.amount), 0)
		FROM entitlement_grant_events e
		JOIN plan_entitlement_grants g ON g.plan_id = e.plan_id AND g.kind = $3
		WHERE e.holder_type = $1 AND e.holder_id = $2
	`
	var total decimal.Decimal
	if err := r.db.QueryRow(ctx, query, string(holder.Type), holder.ID, string(kind)).Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}
