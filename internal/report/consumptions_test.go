package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
)

func TestWriteConsumptions(t *testing.T) {
	groupID := uuid.New()
	records := []domain.ConsumptionRecord{
		{ID: 1, UserID: uuid.New(), ActingAdminID: uuid.New(), CreditID: 10, Hours: decimal.RequireFromString("3.5"), CreatedAt: time.Date(2026, 3, 2, 18, 5, 0, 0, time.UTC)},
		{ID: 2, UserID: uuid.New(), ActingAdminID: uuid.New(), CreditID: 11, GroupID: &groupID, Hours: decimal.RequireFromString("0.5"), CreatedAt: time.Date(2026, 3, 2, 18, 5, 0, 0, time.UTC)},
	}

	var buf bytes.Buffer
	if err := WriteConsumptions(&buf, records, nil); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(f.GetActiveSheetIndex()))
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "consumption_id" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][5] != "3.50" {
		t.Fatalf("expected hours 3.50, got %q", rows[1][5])
	}
	if rows[1][1] != "2026-03-02 18:05" {
		t.Fatalf("unexpected timestamp %q", rows[1][1])
	}
	if rows[2][4] != groupID.String() {
		t.Fatalf("expected group id in row 3, got %q", rows[2][4])
	}
}

func TestWriteConsumptions_EmptyHasHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteConsumptions(&buf, nil, time.UTC); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, _ := f.GetRows(f.GetSheetName(f.GetActiveSheetIndex()))
	if len(rows) != 1 {
		t.Fatalf("expected header only, got %d rows", len(rows))
	}
}
