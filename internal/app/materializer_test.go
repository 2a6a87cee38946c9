package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
	"github.com/filipilijevski/sports-booking-sub001/internal/store"
)

func createTemplate(t *testing.T, svc *Service, programID uuid.UUID, weekday time.Weekday) *domain.RecurrenceTemplate {
	t.Helper()
	tmpl, err := svc.CreateTemplate(context.Background(), TemplateRequest{
		ProgramID: programID,
		Weekday:   weekday,
		StartTime: domain.TimeOfDay{Hour: 18},
		EndTime:   domain.TimeOfDay{Hour: 19, Minute: 30},
	})
	if err != nil {
		t.Fatalf("create template failed: %v", err)
	}
	return tmpl
}

func TestMaterializeWindow_IsIdempotent(t *testing.T) {
	svc, repo, pub := newTestService(t)
	ctx := context.Background()
	programID := uuid.New()
	createTemplate(t, svc, programID, time.Monday)
	createTemplate(t, svc, programID, time.Wednesday)

	created, err := svc.MaterializeWindow(ctx, 14)
	if err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	if created != 4 {
		t.Fatalf("expected 4 occurrences, got %d", created)
	}

	again, err := svc.MaterializeWindow(ctx, 14)
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected second pass to create 0, got %d", again)
	}
	if n := len(repo.Occurrences()); n != 4 {
		t.Fatalf("expected 4 stored occurrences, got %d", n)
	}

	first := repo.Occurrences()[0]
	want := time.Date(2026, time.March, 2, 18, 0, 0, 0, time.UTC)
	if !first.StartsAt.Equal(want) {
		t.Fatalf("expected first occurrence at %s, got %s", want, first.StartsAt)
	}
	if !first.EndsAt.Equal(want.Add(90 * time.Minute)) {
		t.Fatalf("expected end 90 minutes later, got %s", first.EndsAt)
	}

	if keys := pub.keys(); len(keys) != 1 || keys[0] != domain.EventOccurrencesMaterialize {
		t.Fatalf("expected a single materialized event, got %v", keys)
	}
}

func TestMaterializeWindow_DoesNotRecreateCancelled(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	createTemplate(t, svc, uuid.New(), time.Tuesday)

	if _, err := svc.MaterializeWindow(ctx, 7); err != nil {
		t.Fatalf("materialize failed: %v", err)
	}
	occs := repo.Occurrences()
	if len(occs) != 1 {
		t.Fatalf("expected 1 occurrence, got %d", len(occs))
	}
	if err := svc.CancelOccurrence(ctx, occs[0].ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	created, err := svc.MaterializeWindow(ctx, 7)
	if err != nil {
		t.Fatalf("second materialize failed: %v", err)
	}
	if created != 0 {
		t.Fatalf("expected cancelled occurrence to count as present, created %d", created)
	}
	after := repo.Occurrences()
	if len(after) != 1 || !after[0].Cancelled {
		t.Fatalf("expected the single cancelled occurrence to remain, got %+v", after)
	}
}

func TestMaterializeWindow_CoachReassignmentAppliesToNewOccurrences(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	tmpl := createTemplate(t, svc, uuid.New(), time.Thursday)

	if _, err := svc.MaterializeWindow(ctx, 7); err != nil {
		t.Fatalf("materialize failed: %v", err)
	}
	coach := uuid.New()
	if err := svc.ReassignTemplateCoach(ctx, tmpl.ID, &coach); err != nil {
		t.Fatalf("reassign failed: %v", err)
	}
	if _, err := svc.MaterializeWindow(ctx, 14); err != nil {
		t.Fatalf("materialize failed: %v", err)
	}

	occs := repo.Occurrences()
	if len(occs) != 2 {
		t.Fatalf("expected 2 occurrences, got %d", len(occs))
	}
	if occs[0].CoachID != nil {
		t.Fatalf("expected existing occurrence to keep no coach, got %v", occs[0].CoachID)
	}
	if occs[1].CoachID == nil || *occs[1].CoachID != coach {
		t.Fatalf("expected new occurrence coached by %s, got %v", coach, occs[1].CoachID)
	}
}

func TestMaterializeWindow_HorizonBounds(t *testing.T) {
	svc, _, _ := newTestService(t)
	for _, days := range []int{0, -1, defaultMaxHorizonDays + 1} {
		if _, err := svc.MaterializeWindow(context.Background(), days); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("horizon %d: expected validation error, got %v", days, err)
		}
	}
}

func TestMaterializeWindow_UsesVenueTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/Toronto")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	svc, repo, _ := newTestService(t)
	svc.location = loc
	createTemplate(t, svc, uuid.New(), time.Monday)

	if _, err := svc.MaterializeWindow(context.Background(), 7); err != nil {
		t.Fatalf("materialize failed: %v", err)
	}
	occs := repo.Occurrences()
	if len(occs) != 1 {
		t.Fatalf("expected 1 occurrence, got %d", len(occs))
	}
	local := occs[0].StartsAt.In(loc)
	if local.Hour() != 18 || local.Weekday() != time.Monday {
		t.Fatalf("expected Monday 18:00 in Toronto, got %s", local)
	}
}

func TestScheduleOccurrence_RejectsDuplicateKey(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	req := OccurrenceRequest{
		ProgramID: uuid.New(),
		StartsAt:  testNow.Add(48 * time.Hour),
		EndsAt:    testNow.Add(49 * time.Hour),
	}

	if _, err := svc.ScheduleOccurrence(ctx, req); err != nil {
		t.Fatalf("first schedule failed: %v", err)
	}
	if _, err := svc.ScheduleOccurrence(ctx, req); !errors.Is(err, store.ErrOccurrenceExists) {
		t.Fatalf("expected ErrOccurrenceExists, got %v", err)
	}
}

func TestScheduleOccurrence_SubSecondStartsAreDistinct(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	programID := uuid.New()
	start := testNow.Add(48 * time.Hour)

	for _, offset := range []time.Duration{0, 250 * time.Millisecond} {
		if _, err := svc.ScheduleOccurrence(ctx, OccurrenceRequest{
			ProgramID: programID,
			StartsAt:  start.Add(offset),
			EndsAt:    start.Add(time.Hour),
		}); err != nil {
			t.Fatalf("schedule at +%s failed: %v", offset, err)
		}
	}
}

func TestCreateTemplate_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	tests := []struct {
		name string
		req  TemplateRequest
	}{
		{name: "missing program", req: TemplateRequest{Weekday: time.Monday, StartTime: domain.TimeOfDay{Hour: 9}, EndTime: domain.TimeOfDay{Hour: 10}}},
		{name: "bad weekday", req: TemplateRequest{ProgramID: uuid.New(), Weekday: time.Weekday(7), StartTime: domain.TimeOfDay{Hour: 9}, EndTime: domain.TimeOfDay{Hour: 10}}},
		{name: "bad start", req: TemplateRequest{ProgramID: uuid.New(), Weekday: time.Monday, StartTime: domain.TimeOfDay{Hour: 25}, EndTime: domain.TimeOfDay{Hour: 10}}},
		{name: "zero length", req: TemplateRequest{ProgramID: uuid.New(), Weekday: time.Monday, StartTime: domain.TimeOfDay{Hour: 9}, EndTime: domain.TimeOfDay{Hour: 9}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.CreateTemplate(context.Background(), tt.req); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
