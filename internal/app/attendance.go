package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
	"github.com/filipilijevski/sports-booking-sub001/internal/metrics"
	"github.com/filipilijevski/sports-booking-sub001/internal/store"
)

// MarkAttendance records participant as present at occurrence and consumes
// one session from their oldest eligible enrollment. Marking twice is benign:
// the second call returns the existing mark with outcome ALREADY_MARKED and
// consumes nothing.
func (s *Service) MarkAttendance(ctx context.Context, occurrenceID, participantID, actingAdminID uuid.UUID) (*domain.AttendanceResult, error) {
	result, err := s.markAttendance(ctx, occurrenceID, participantID, actingAdminID)
	if err != nil {
		metrics.ObserveAttendance(metrics.Outcome(err))
		s.logger.Warn("attendance rejected", "occurrence_id", occurrenceID, "user_id", participantID, "error", err)
		return nil, err
	}
	metrics.ObserveAttendance(strings.ToLower(string(result.Outcome)))
	return result, nil
}

func (s *Service) markAttendance(ctx context.Context, occurrenceID, participantID, actingAdminID uuid.UUID) (*domain.AttendanceResult, error) {
	switch {
	case occurrenceID == uuid.Nil:
		return nil, domain.NewValidationError("occurrence_id", "is required")
	case participantID == uuid.Nil:
		return nil, domain.NewValidationError("participant_id", "is required")
	case actingAdminID == uuid.Nil:
		return nil, domain.NewValidationError("acting_admin_id", "is required")
	}

	occ, err := s.repo.FindOccurrenceByID(ctx, occurrenceID)
	if err != nil {
		return nil, err
	}
	if occ.Cancelled {
		return nil, domain.ErrInvalidState
	}

	if existing, err := s.repo.FindAttendanceMark(ctx, occurrenceID, participantID); err == nil {
		return alreadyMarked(existing), nil
	} else if !errors.Is(err, store.ErrMarkNotFound) {
		return nil, err
	}

	var (
		mark       *domain.AttendanceMark
		enrollment *domain.Enrollment
	)
	err = s.withOptimisticRetry(ctx, "mark_attendance", func() error {
		eligible, err := s.repo.FindEligibleEnrollment(ctx, participantID, occ.ProgramID)
		if err != nil {
			if errors.Is(err, store.ErrEnrollmentNotFound) {
				return domain.ErrNoEligibleEnrollment
			}
			return err
		}

		mark = &domain.AttendanceMark{
			ID:           uuid.New(),
			OccurrenceID: occurrenceID,
			UserID:       participantID,
			EnrollmentID: eligible.ID,
			MarkedBy:     actingAdminID,
		}
		enrollment, err = s.repo.RecordAttendance(ctx, mark, eligible.Version)
		return err
	})
	if err != nil && lostMarkRace(err) {
		// A concurrent mark of the same participant may have won the insert or
		// taken the last session; its mark is the answer.
		existing, findErr := s.repo.FindAttendanceMark(ctx, occurrenceID, participantID)
		if findErr == nil {
			return alreadyMarked(existing), nil
		}
		if !errors.Is(findErr, store.ErrMarkNotFound) {
			return nil, findErr
		}
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("attendance marked",
		"occurrence_id", occurrenceID,
		"user_id", participantID,
		"enrollment_id", enrollment.ID,
		"sessions_remaining", enrollment.SessionsRemaining,
		"enrollment_status", enrollment.Status,
	)
	s.publish(ctx, domain.EventAttendanceMarked, domain.AttendanceMarkedEvent{
		MarkID:       mark.ID,
		OccurrenceID: occurrenceID,
		UserID:       participantID,
		EnrollmentID: enrollment.ID,
		MarkedBy:     actingAdminID,
		Timestamp:    time.Now().UTC(),
	})

	remaining := enrollment.SessionsRemaining
	return &domain.AttendanceResult{
		Outcome:           domain.AttendanceMarked,
		Mark:              mark,
		SessionsRemaining: &remaining,
		EnrollmentStatus:  enrollment.Status,
	}, nil
}

func lostMarkRace(err error) bool {
	return errors.Is(err, domain.ErrAlreadyMarked) ||
		errors.Is(err, domain.ErrNoEligibleEnrollment) ||
		errors.Is(err, domain.ErrConcurrentUpdateConflict)
}

func alreadyMarked(mark *domain.AttendanceMark) *domain.AttendanceResult {
	return &domain.AttendanceResult{Outcome: domain.AttendanceAlreadyMarked, Mark: mark}
}
