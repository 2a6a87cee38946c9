package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func mustLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("time zone %s not available: %v", name, err)
	}
	return loc
}

func TestMaterializationWindow_StartsAtLocalMidnight(t *testing.T) {
	loc := mustLocation(t, "America/Toronto")
	now := time.Date(2026, 5, 12, 2, 30, 0, 0, time.UTC) // 22:30 on May 11 in Toronto

	from, to := MaterializationWindow(now, 7, loc)
	if from.Day() != 11 || from.Hour() != 0 || from.Location() != loc {
		t.Fatalf("expected window to start at local midnight on May 11, got %s", from)
	}
	if to.Sub(from) != 7*24*time.Hour {
		t.Fatalf("expected a 7 day window, got %s", to.Sub(from))
	}
}

func TestExpandTemplate_OneOccurrencePerWeek(t *testing.T) {
	loc := time.UTC
	tmpl := RecurrenceTemplate{
		ID:        uuid.New(),
		ProgramID: uuid.New(),
		Weekday:   time.Wednesday,
		StartTime: TimeOfDay{Hour: 18, Minute: 0},
		EndTime:   TimeOfDay{Hour: 19, Minute: 30},
	}
	from := time.Date(2026, 6, 1, 0, 0, 0, 0, loc) // Monday
	to := from.AddDate(0, 0, 21)

	got := ExpandTemplate(tmpl, from, to, loc)
	if len(got) != 3 {
		t.Fatalf("expected 3 occurrences, got %d", len(got))
	}
	wantDays := []int{3, 10, 17}
	for i, occ := range got {
		if occ.StartsAt.Weekday() != time.Wednesday || occ.StartsAt.Day() != wantDays[i] {
			t.Fatalf("occurrence %d: unexpected start %s", i, occ.StartsAt)
		}
		if occ.EndsAt.Sub(occ.StartsAt) != 90*time.Minute {
			t.Fatalf("occurrence %d: expected 90 minute duration, got %s", i, occ.EndsAt.Sub(occ.StartsAt))
		}
		if occ.TemplateID == nil || *occ.TemplateID != tmpl.ID {
			t.Fatalf("occurrence %d: expected template id to be carried", i)
		}
	}
}

func TestExpandTemplate_IncludesWindowStartDay(t *testing.T) {
	from := time.Date(2026, 6, 3, 0, 0, 0, 0, time.UTC) // Wednesday
	tmpl := RecurrenceTemplate{ProgramID: uuid.New(), Weekday: time.Wednesday, StartTime: TimeOfDay{Hour: 7}, EndTime: TimeOfDay{Hour: 8}}

	got := ExpandTemplate(tmpl, from, from.AddDate(0, 0, 1), time.UTC)
	if len(got) != 1 || got[0].StartsAt.Day() != 3 {
		t.Fatalf("expected the window start day to be included, got %+v", got)
	}
}

func TestExpandTemplate_EndBeforeStartRollsToNextDay(t *testing.T) {
	from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	tmpl := RecurrenceTemplate{
		ProgramID: uuid.New(),
		Weekday:   time.Friday,
		StartTime: TimeOfDay{Hour: 22, Minute: 0},
		EndTime:   TimeOfDay{Hour: 1, Minute: 0},
	}

	got := ExpandTemplate(tmpl, from, from.AddDate(0, 0, 7), time.UTC)
	if len(got) != 1 {
		t.Fatalf("expected 1 occurrence, got %d", len(got))
	}
	if got[0].EndsAt.Sub(got[0].StartsAt) != 3*time.Hour {
		t.Fatalf("expected end to roll to the next day, got %s -> %s", got[0].StartsAt, got[0].EndsAt)
	}
}

func TestExpandTemplate_KeepsWallClockAcrossDST(t *testing.T) {
	loc := mustLocation(t, "America/Toronto")
	// DST starts on 2026-03-08 in Toronto.
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, loc)
	tmpl := RecurrenceTemplate{ProgramID: uuid.New(), Weekday: time.Sunday, StartTime: TimeOfDay{Hour: 9, Minute: 15}, EndTime: TimeOfDay{Hour: 10, Minute: 15}}

	got := ExpandTemplate(tmpl, from, from.AddDate(0, 0, 14), loc)
	if len(got) != 2 {
		t.Fatalf("expected 2 occurrences, got %d", len(got))
	}
	for _, occ := range got {
		local := occ.StartsAt.In(loc)
		if local.Hour() != 9 || local.Minute() != 15 {
			t.Fatalf("expected 09:15 local, got %s", local)
		}
	}
	if got[1].StartsAt.Sub(got[0].StartsAt) != 7*24*time.Hour-time.Hour {
		t.Fatalf("expected the DST week to be one hour shorter, got %s", got[1].StartsAt.Sub(got[0].StartsAt))
	}
}

func TestExpandTemplate_IsDeterministic(t *testing.T) {
	from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	tmpl := RecurrenceTemplate{ProgramID: uuid.New(), Weekday: time.Tuesday, StartTime: TimeOfDay{Hour: 17}, EndTime: TimeOfDay{Hour: 18}}

	first := ExpandTemplate(tmpl, from, from.AddDate(0, 0, 28), time.UTC)
	second := ExpandTemplate(tmpl, from, from.AddDate(0, 0, 28), time.UTC)
	if len(first) != len(second) {
		t.Fatalf("expected equal expansions, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Key() != second[i].Key() {
			t.Fatalf("expansion %d differs: %+v vs %+v", i, first[i].Key(), second[i].Key())
		}
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		input   string
		want    TimeOfDay
		wantErr bool
	}{
		{input: "07:05", want: TimeOfDay{Hour: 7, Minute: 5}},
		{input: "23:59", want: TimeOfDay{Hour: 23, Minute: 59}},
		{input: "24:00", wantErr: true},
		{input: "7", wantErr: true},
		{input: "ab:10", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestTimeOfDay_JSON(t *testing.T) {
	body, err := json.Marshal(struct {
		Start TimeOfDay `json:"start"`
	}{Start: TimeOfDay{Hour: 6, Minute: 30}})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(body) != `{"start":"06:30"}` {
		t.Fatalf("unexpected encoding %s", body)
	}

	var decoded struct {
		Start TimeOfDay `json:"start"`
	}
	if err := json.Unmarshal([]byte(`{"start":"18:45"}`), &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Start != (TimeOfDay{Hour: 18, Minute: 45}) {
		t.Fatalf("unexpected decode %v", decoded.Start)
	}
	if err := json.Unmarshal([]byte(`{"start":"25:00"}`), &decoded); err == nil {
		t.Fatal("expected out of range time to fail")
	}
}

func TestOccurrenceKey_MicrosecondPrecision(t *testing.T) {
	programID := uuid.New()
	start := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

	if NewOccurrenceKey(programID, start) == NewOccurrenceKey(programID, start.Add(500*time.Millisecond)) {
		t.Fatal("starts half a second apart must have distinct keys")
	}
	if NewOccurrenceKey(programID, start) != NewOccurrenceKey(programID, start.Add(300*time.Nanosecond)) {
		t.Fatal("sub-microsecond differences must share a key")
	}
	if NewOccurrenceKey(programID, start) != NewOccurrenceKey(programID, start.In(time.FixedZone("EST", -5*3600))) {
		t.Fatal("the same instant in another zone must share a key")
	}
}
