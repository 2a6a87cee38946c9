// Package report renders ledger data as spreadsheets for front-desk staff.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
)

// ContentTypeXLSX is the media type of workbooks written by this package.
const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var consumptionHeader = []interface{}{
	"consumption_id",
	"created_at",
	"user_id",
	"credit_id",
	"group_id",
	"hours",
	"acting_admin_id",
}

// WriteConsumptions writes records as a single-sheet workbook. Timestamps are
// rendered in loc and hours keep two fractional digits.
func WriteConsumptions(w io.Writer, records []domain.ConsumptionRecord, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if err := f.SetSheetRow(sheet, "A1", &consumptionHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, rec := range records {
		groupID := ""
		if rec.GroupID != nil {
			groupID = rec.GroupID.String()
		}
		row := []interface{}{
			rec.ID,
			rec.CreatedAt.In(loc).Format("2006-01-02 15:04"),
			rec.UserID.String(),
			rec.CreditID,
			groupID,
			domain.FormatQuantity(rec.Hours),
			rec.ActingAdminID.String(),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
