package metrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: "ok"},
		{err: fmt.Errorf("withdraw: %w", domain.ErrInsufficientBalance), want: "insufficient_balance"},
		{err: domain.ErrLimitExceeded, want: "limit_exceeded"},
		{err: domain.NewValidationError("hours", "must be greater than zero"), want: "validation"},
		{err: domain.ErrLockTimeout, want: "lock_timeout"},
		{err: errors.New("connection reset"), want: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := Outcome(tt.err); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestObserveWithdrawal_CountsHoursOnlyOnSuccess(t *testing.T) {
	before := testutil.ToFloat64(creditHoursWithdrawn)
	ObserveWithdrawal(nil, 1.5)
	ObserveWithdrawal(domain.ErrInsufficientBalance, 4)

	if got := testutil.ToFloat64(creditHoursWithdrawn) - before; got != 1.5 {
		t.Fatalf("expected 1.5 hours recorded, got %v", got)
	}
}
