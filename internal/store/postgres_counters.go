package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
)

// EnsureCounter returns the counter for (holder, kind), creating it with zero
// consumption on first use.
func (r *PostgresRepository) EnsureCounter(ctx context.Context, holder domain.HolderRef, kind domain.Kind) (*domain.UsageCounter, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO usage_counters (holder_type, holder_id, kind)
		VALUES ($1, $2, $3)
		ON CONFLICT (holder_type, holder_id, kind) DO NOTHING
	`, string(holder.Type), holder.ID, string(kind))
	if err != nil {
		return nil, err
	}

	counter := domain.UsageCounter{Holder: holder, Kind: kind}
	err = r.db.QueryRow(ctx, `
		SELECT id, amount_consumed, version, updated_at
		FROM usage_counters
		WHERE holder_type = $1 AND holder_id = $2 AND kind = $3
	`, string(holder.Type), holder.ID, string(kind)).Scan(&counter.ID, &counter.AmountConsumed, &counter.Version, &counter.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &counter, nil
}

// UpdateCounterIfVersion writes the new consumed amount only if nobody else
// has written since expectedVersion was read. It reports whether the write won.
func (r *PostgresRepository) UpdateCounterIfVersion(ctx context.Context, counterID uuid.UUID, expectedVersion int64, consumed decimal.Decimal) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE usage_counters
		SET amount_consumed = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
	`, consumed, counterID, expectedVersion)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
