package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
)

func timeOfDayToPg(t domain.TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t.Minutes()) * int64(time.Minute/time.Microsecond), Valid: true}
}

func timeOfDayFromPg(t pgtype.Time) domain.TimeOfDay {
	return domain.TimeOfDayFromMinutes(int(t.Microseconds / int64(time.Minute/time.Microsecond)))
}

// CreateTemplate inserts a recurrence template.
func (r *PostgresRepository) CreateTemplate(ctx context.Context, tmpl *domain.RecurrenceTemplate) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO recurrence_templates (id, program_id, weekday, start_time, end_time, coach_id, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`,
		tmpl.ID,
		tmpl.ProgramID,
		int16(tmpl.Weekday),
		timeOfDayToPg(tmpl.StartTime),
		timeOfDayToPg(tmpl.EndTime),
		tmpl.CoachID,
		tmpl.Active,
	).Scan(&tmpl.CreatedAt)
}

// UpdateTemplateCoach reassigns the coach for future materialisation passes.
// Occurrences that already exist keep their coach.
func (r *PostgresRepository) UpdateTemplateCoach(ctx context.Context, templateID uuid.UUID, coachID *uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE recurrence_templates SET coach_id = $1, updated_at = NOW() WHERE id = $2
	`, coachID, templateID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// ListActiveTemplates returns all templates the materializer should expand.
func (r *PostgresRepository) ListActiveTemplates(ctx context.Context) ([]domain.RecurrenceTemplate, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, program_id, weekday, start_time, end_time, coach_id, active, created_at
		FROM recurrence_templates
		WHERE active
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []domain.RecurrenceTemplate
	for rows.Next() {
		var (
			tmpl       domain.RecurrenceTemplate
			weekday    int16
			start, end pgtype.Time
		)
		if err := rows.Scan(&tmpl.ID, &tmpl.ProgramID, &weekday, &start, &end, &tmpl.CoachID, &tmpl.Active, &tmpl.CreatedAt); err != nil {
			return nil, err
		}
		tmpl.Weekday = time.Weekday(weekday)
		tmpl.StartTime = timeOfDayFromPg(start)
		tmpl.EndTime = timeOfDayFromPg(end)
		templates = append(templates, tmpl)
	}
	return templates, rows.Err()
}

// ListOccurrenceKeys loads the natural keys of every occurrence starting in
// [from, to), cancelled ones included, in a single query.
func (r *PostgresRepository) ListOccurrenceKeys(ctx context.Context, from, to time.Time) (map[domain.OccurrenceKey]struct{}, error) {
	rows, err := r.db.Query(ctx, `
		SELECT program_id, starts_at
		FROM program_occurrences
		WHERE starts_at >= $1 AND starts_at < $2
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[domain.OccurrenceKey]struct{})
	for rows.Next() {
		var (
			programID uuid.UUID
			startsAt  time.Time
		)
		if err := rows.Scan(&programID, &startsAt); err != nil {
			return nil, err
		}
		keys[domain.NewOccurrenceKey(programID, startsAt)] = struct{}{}
	}
	return keys, rows.Err()
}

// InsertOccurrences inserts new occurrences in one batch. Rows whose key
// already exists are skipped, so concurrent passes never duplicate. It returns
// the number of rows actually inserted.
func (r *PostgresRepository) InsertOccurrences(ctx context.Context, occurrences []domain.Occurrence) (int, error) {
	if len(occurrences) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, occ := range occurrences {
		batch.Queue(`
			INSERT INTO program_occurrences (id, program_id, template_id, starts_at, ends_at, coach_id, cancelled)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (program_id, starts_at) DO NOTHING
		`, occ.ID, occ.ProgramID, occ.TemplateID, occ.StartsAt, occ.EndsAt, occ.CoachID, occ.Cancelled)
	}

	results := tx.SendBatch(ctx, batch)
	inserted := 0
	for i := range occurrences {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, fmt.Errorf("insert occurrence %d: %w", i, err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

// FindOccurrenceByID retrieves a single occurrence.
func (r *PostgresRepository) FindOccurrenceByID(ctx context.Context, id uuid.UUID) (*domain.Occurrence, error) {
	var occ domain.Occurrence
	err := r.db.QueryRow(ctx, `
		SELECT id, program_id, template_id, starts_at, ends_at, coach_id, cancelled, created_at
		FROM program_occurrences
		WHERE id = $1
	`, id).Scan(&occ.ID, &occ.ProgramID, &occ.TemplateID, &occ.StartsAt, &occ.EndsAt, &occ.CoachID, &occ.Cancelled, &occ.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOccurrenceNotFound
		}
		return nil, err
	}
	return &occ, nil
}

// CancelOccurrence soft-cancels an occurrence. The row stays so the
// materializer never recreates it.
func (r *PostgresRepository) CancelOccurrence(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE program_occurrences SET cancelled = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOccurrenceNotFound
	}
	return nil
}
