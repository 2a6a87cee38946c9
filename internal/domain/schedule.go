/**
 * @description
 * Weekly recurrence templates and the concrete occurrences expanded from them.
 * Expansion is a pure function of (template, window, zone); persistence and
 * duplicate suppression live in the materializer.
 */
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimeOfDay is a wall-clock time in the venue's zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay accepts "HH:MM".
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("time of day %q must be HH:MM", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("time of day %q: invalid hour", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("time of day %q: invalid minute", raw)
	}
	t := TimeOfDay{Hour: hour, Minute: minute}
	if !t.Valid() {
		return TimeOfDay{}, fmt.Errorf("time of day %q out of range", raw)
	}
	return t, nil
}

func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// MarshalJSON encodes the time as "HH:MM".
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.String())), nil
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	raw, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("time of day must be a string: %w", err)
	}
	parsed, err := ParseTimeOfDay(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// TimeOfDayFromMinutes is the inverse of Minutes.
func TimeOfDayFromMinutes(m int) TimeOfDay {
	return TimeOfDay{Hour: m / 60, Minute: m % 60}
}

// On combines the time of day with the calendar date of day in loc.
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, loc)
}

// RecurrenceTemplate describes a weekly slot of a program.
type RecurrenceTemplate struct {
	ID        uuid.UUID    `json:"id"`
	ProgramID uuid.UUID    `json:"program_id"`
	Weekday   time.Weekday `json:"weekday"`
	StartTime TimeOfDay    `json:"start_time"`
	EndTime   TimeOfDay    `json:"end_time"`
	CoachID   *uuid.UUID   `json:"coach_id,omitempty"`
	Active    bool         `json:"active"`
	CreatedAt time.Time    `json:"created_at"`
}

// Occurrence is a concrete dated session. Cancelled occurrences are kept so
// they are never recreated.
type Occurrence struct {
	ID         uuid.UUID  `json:"id"`
	ProgramID  uuid.UUID  `json:"program_id"`
	TemplateID *uuid.UUID `json:"template_id,omitempty"`
	StartsAt   time.Time  `json:"starts_at"`
	EndsAt     time.Time  `json:"ends_at"`
	CoachID    *uuid.UUID `json:"coach_id,omitempty"`
	Cancelled  bool       `json:"cancelled"`
	CreatedAt  time.Time  `json:"created_at"`
}

// OccurrenceKey is the natural key of an occurrence. The start is kept at
// microsecond precision, the resolution of a Postgres timestamptz.
type OccurrenceKey struct {
	ProgramID   uuid.UUID
	StartMicros int64
}

func NewOccurrenceKey(programID uuid.UUID, startsAt time.Time) OccurrenceKey {
	return OccurrenceKey{ProgramID: programID, StartMicros: startsAt.UnixMicro()}
}

func (o Occurrence) Key() OccurrenceKey {
	return NewOccurrenceKey(o.ProgramID, o.StartsAt)
}

// MaterializationWindow returns [midnight of now in loc, +horizonDays).
func MaterializationWindow(now time.Time, horizonDays int, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return from, from.AddDate(0, 0, horizonDays)
}

// ExpandTemplate lists the occurrences of t whose date falls in [from, to).
// Weeks are stepped in calendar days so DST shifts keep the wall-clock time.
// An end time at or before the start time rolls over to the next day.
func ExpandTemplate(t RecurrenceTemplate, from, to time.Time, loc *time.Location) []Occurrence {
	start := from.In(loc)
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	offset := (int(t.Weekday) - int(day.Weekday()) + 7) % 7
	day = day.AddDate(0, 0, offset)

	templateID := t.ID
	var out []Occurrence
	for ; day.Before(to); day = day.AddDate(0, 0, 7) {
		startsAt := t.StartTime.On(day, loc)
		endsAt := t.EndTime.On(day, loc)
		if !endsAt.After(startsAt) {
			endsAt = t.EndTime.On(day.AddDate(0, 0, 1), loc)
		}
		out = append(out, Occurrence{
			ProgramID:  t.ProgramID,
			TemplateID: &templateID,
			StartsAt:   startsAt,
			EndsAt:     endsAt,
			CoachID:    t.CoachID,
		})
	}
	return out
}
