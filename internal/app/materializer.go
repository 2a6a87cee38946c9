package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
	"github.com/filipilijevski/sports-booking-sub001/internal/metrics"
	"github.com/filipilijevski/sports-booking-sub001/internal/store"
)

// MaterializeWindow expands every active template over [today, today+horizonDays)
// in the venue zone and inserts the occurrences that do not exist yet.
// Existing keys, cancelled ones included, are loaded once for the whole
// window. It returns the number of occurrences created.
func (s *Service) MaterializeWindow(ctx context.Context, horizonDays int) (int, error) {
	if horizonDays <= 0 || horizonDays > s.maxHorizon {
		return 0, domain.NewValidationError("horizon_days", fmt.Sprintf("must be between 1 and %d", s.maxHorizon))
	}
	started := time.Now()
	from, to := domain.MaterializationWindow(s.now(), horizonDays, s.location)

	templates, err := s.repo.ListActiveTemplates(ctx)
	if err != nil {
		return 0, fmt.Errorf("list templates: %w", err)
	}
	existing, err := s.repo.ListOccurrenceKeys(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("list occurrence keys: %w", err)
	}

	var pending []domain.Occurrence
	for _, tmpl := range templates {
		for _, occ := range domain.ExpandTemplate(tmpl, from, to, s.location) {
			key := occ.Key()
			if _, ok := existing[key]; ok {
				continue
			}
			// Two templates of the same program landing on the same start keep the first.
			existing[key] = struct{}{}
			occ.ID = uuid.New()
			pending = append(pending, occ)
		}
	}

	created, err := s.repo.InsertOccurrences(ctx, pending)
	if err != nil {
		return 0, fmt.Errorf("insert occurrences: %w", err)
	}

	metrics.ObserveMaterialize(created, started)
	s.logger.Info("occurrences materialized",
		"window_start", from,
		"window_end", to,
		"templates", len(templates),
		"candidates", len(pending),
		"created", created,
	)
	if created > 0 {
		s.publish(ctx, domain.EventOccurrencesMaterialize, domain.OccurrencesMaterializedEvent{
			WindowStart: from,
			WindowEnd:   to,
			Created:     created,
			Timestamp:   time.Now().UTC(),
		})
	}
	return created, nil
}

// TemplateRequest describes a new weekly slot.
type TemplateRequest struct {
	ProgramID uuid.UUID
	Weekday   time.Weekday
	StartTime domain.TimeOfDay
	EndTime   domain.TimeOfDay
	CoachID   *uuid.UUID
}

// CreateTemplate registers an active recurrence template.
func (s *Service) CreateTemplate(ctx context.Context, req TemplateRequest) (*domain.RecurrenceTemplate, error) {
	switch {
	case req.ProgramID == uuid.Nil:
		return nil, domain.NewValidationError("program_id", "is required")
	case req.Weekday < time.Sunday || req.Weekday > time.Saturday:
		return nil, domain.NewValidationError("weekday", "must be between 0 (Sunday) and 6 (Saturday)")
	case !req.StartTime.Valid():
		return nil, domain.NewValidationError("start_time", "out of range")
	case !req.EndTime.Valid():
		return nil, domain.NewValidationError("end_time", "out of range")
	case req.StartTime == req.EndTime:
		return nil, domain.NewValidationError("end_time", "must differ from start_time")
	}

	tmpl := &domain.RecurrenceTemplate{
		ID:        uuid.New(),
		ProgramID: req.ProgramID,
		Weekday:   req.Weekday,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		CoachID:   req.CoachID,
		Active:    true,
	}
	if err := s.repo.CreateTemplate(ctx, tmpl); err != nil {
		return nil, err
	}
	s.logger.Info("recurrence template created", "template_id", tmpl.ID, "program_id", tmpl.ProgramID, "weekday", tmpl.Weekday.String(), "start", tmpl.StartTime.String())
	return tmpl, nil
}

// ReassignTemplateCoach changes the coach used by future materialisation
// passes. Existing occurrences keep their coach.
func (s *Service) ReassignTemplateCoach(ctx context.Context, templateID uuid.UUID, coachID *uuid.UUID) error {
	if err := s.repo.UpdateTemplateCoach(ctx, templateID, coachID); err != nil {
		return err
	}
	s.logger.Info("template coach reassigned", "template_id", templateID, "coach_id", coachID)
	return nil
}

// CancelOccurrence soft-cancels an occurrence so it is never recreated.
func (s *Service) CancelOccurrence(ctx context.Context, occurrenceID uuid.UUID) error {
	if err := s.repo.CancelOccurrence(ctx, occurrenceID); err != nil {
		return err
	}
	s.logger.Info("occurrence cancelled", "occurrence_id", occurrenceID)
	return nil
}

// OccurrenceRequest schedules a one-off occurrence outside any template.
type OccurrenceRequest struct {
	ProgramID uuid.UUID
	StartsAt  time.Time
	EndsAt    time.Time
	CoachID   *uuid.UUID
}

// ScheduleOccurrence inserts an ad-hoc occurrence under the same
// (program, start) uniqueness as materialised ones.
func (s *Service) ScheduleOccurrence(ctx context.Context, req OccurrenceRequest) (*domain.Occurrence, error) {
	switch {
	case req.ProgramID == uuid.Nil:
		return nil, domain.NewValidationError("program_id", "is required")
	case req.StartsAt.IsZero():
		return nil, domain.NewValidationError("starts_at", "is required")
	case !req.EndsAt.After(req.StartsAt):
		return nil, domain.NewValidationError("ends_at", "must be after starts_at")
	}

	occ := domain.Occurrence{
		ID:        uuid.New(),
		ProgramID: req.ProgramID,
		StartsAt:  req.StartsAt,
		EndsAt:    req.EndsAt,
		CoachID:   req.CoachID,
	}
	created, err := s.repo.InsertOccurrences(ctx, []domain.Occurrence{occ})
	if err != nil {
		return nil, err
	}
	if created == 0 {
		return nil, store.ErrOccurrenceExists
	}
	stored, err := s.repo.FindOccurrenceByID(ctx, occ.ID)
	if err != nil && !errors.Is(err, store.ErrOccurrenceNotFound) {
		return nil, err
	}
	if stored != nil {
		occ = *stored
	}
	return &occ, nil
}
