package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
)

const enrollmentColumns = `id, user_id, program_id, package_purchase_ref, sessions_remaining, status, version, created_at`

func scanEnrollment(row pgx.Row) (*domain.Enrollment, error) {
	var (
		e      domain.Enrollment
		status string
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.ProgramID, &e.PackagePurchaseRef, &e.SessionsRemaining, &status, &e.Version, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Status = domain.EnrollmentStatus(status)
	return &e, nil
}

// CreateEnrollment inserts a new enrollment. A repeated package purchase
// reference returns ErrDuplicateEnroll.
func (r *PostgresRepository) CreateEnrollment(ctx context.Context, enrollment *domain.Enrollment) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO program_enrollments (id, user_id, program_id, package_purchase_ref, sessions_remaining, status, version)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
		RETURNING version, created_at
	`,
		enrollment.ID,
		enrollment.UserID,
		enrollment.ProgramID,
		enrollment.PackagePurchaseRef,
		enrollment.SessionsRemaining,
		string(enrollment.Status),
	).Scan(&enrollment.Version, &enrollment.CreatedAt)
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return ErrDuplicateEnroll
		}
		return err
	}
	return nil
}

// FindEnrollmentByPurchaseRef resolves the enrollment created for a package purchase.
func (r *PostgresRepository) FindEnrollmentByPurchaseRef(ctx context.Context, ref string) (*domain.Enrollment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+enrollmentColumns+` FROM program_enrollments WHERE package_purchase_ref = $1`, ref)
	e, err := scanEnrollment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, err
	}
	return e, nil
}

// FindEligibleEnrollment returns the oldest ACTIVE enrollment with sessions
// left for the program.
func (r *PostgresRepository) FindEligibleEnrollment(ctx context.Context, userID, programID uuid.UUID) (*domain.Enrollment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+enrollmentColumns+`
		FROM program_enrollments
		WHERE user_id = $1 AND program_id = $2 AND status = 'ACTIVE' AND sessions_remaining > 0
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, userID, programID)
	e, err := scanEnrollment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, err
	}
	return e, nil
}

// FindAttendanceMark retrieves the mark for (occurrence, user) if it exists.
func (r *PostgresRepository) FindAttendanceMark(ctx context.Context, occurrenceID, userID uuid.UUID) (*domain.AttendanceMark, error) {
	var m domain.AttendanceMark
	err := r.db.QueryRow(ctx, `
		SELECT id, occurrence_id, user_id, enrollment_id, marked_by, created_at
		FROM attendance_marks
		WHERE occurrence_id = $1 AND user_id = $2
	`, occurrenceID, userID).Scan(&m.ID, &m.OccurrenceID, &m.UserID, &m.EnrollmentID, &m.MarkedBy, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMarkNotFound
		}
		return nil, err
	}
	return &m, nil
}

// RecordAttendance decrements the enrollment named by mark.EnrollmentID if it
// is still at expectedVersion, then inserts the mark. Both happen in one
// transaction. A stale version returns ErrVersionConflict; a mark inserted
// concurrently for the same (occurrence, user) returns domain.ErrAlreadyMarked.
func (r *PostgresRepository) RecordAttendance(ctx context.Context, mark *domain.AttendanceMark, expectedVersion int64) (*domain.Enrollment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE program_enrollments
		SET sessions_remaining = sessions_remaining - 1,
		    status = CASE WHEN sessions_remaining - 1 <= 0 THEN 'EXHAUSTED' ELSE status END,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status = 'ACTIVE' AND sessions_remaining > 0
		RETURNING `+enrollmentColumns,
		mark.EnrollmentID, expectedVersion)
	enrollment, err := scanEnrollment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("decrement enrollment: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO attendance_marks (id, occurrence_id, user_id, enrollment_id, marked_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, mark.ID, mark.OccurrenceID, mark.UserID, mark.EnrollmentID, mark.MarkedBy).Scan(&mark.CreatedAt)
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return nil, domain.ErrAlreadyMarked
		}
		return nil, fmt.Errorf("insert attendance mark: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return enrollment, nil
}
