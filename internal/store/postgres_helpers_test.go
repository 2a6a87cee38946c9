package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
)

func TestMapLockError(t *testing.T) {
	lockErr := fmt.Errorf("select credits: %w", &pgconn.PgError{Code: pgLockNotAvailable, Message: "canceling statement due to lock timeout"})
	if err := mapLockError(lockErr); !errors.Is(err, domain.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}

	other := &pgconn.PgError{Code: pgUniqueViolation}
	if err := mapLockError(other); err != other {
		t.Fatalf("expected unrelated error to pass through, got %v", err)
	}
}

func TestIsPgError(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgUniqueViolation})
	if !isPgError(err, pgUniqueViolation) {
		t.Fatalf("expected wrapped unique violation to match")
	}
	if isPgError(err, pgLockNotAvailable) {
		t.Fatalf("unexpected match on a different code")
	}
	if isPgError(errors.New("plain"), pgUniqueViolation) {
		t.Fatalf("plain errors never match")
	}
}

func TestTimeOfDayPgRoundTrip(t *testing.T) {
	for _, minutes := range []int{0, 1, 9*60 + 30, 23*60 + 59} {
		tod := domain.TimeOfDayFromMinutes(minutes)
		if got := timeOfDayFromPg(timeOfDayToPg(tod)); got != tod {
			t.Fatalf("round trip of %s gave %s", tod, got)
		}
	}
}

func TestUUIDStrings(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	got := uuidStrings([]uuid.UUID{a, b})
	if len(got) != 2 || got[0] != a.String() || got[1] != b.String() {
		t.Fatalf("unexpected conversion: %v", got)
	}
	if out := uuidStrings(nil); out == nil || len(out) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", out)
	}
}
