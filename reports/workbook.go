package reports

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const profitSheet = "P&L"

var profitHeadings = []string{"Shipment", "Tracking No", "Revenue (USD)", "Expenses (USD)", "Profit (USD)", "Margin %"}

func (r ProfitReport) cellValues() []interface{} {
	return []interface{}{
		r.ShipmentID,
		r.TrackingNo,
		r.RevenueUSD.InexactFloat64(),
		r.ExpensesUSD.InexactFloat64(),
		r.ProfitUSD.InexactFloat64(),
		r.MarginPercent.InexactFloat64(),
	}
}

// WriteProfitWorkbook renders one row per shipment plus a totals row.
func WriteProfitWorkbook(w io.Writer, rows []ProfitReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", profitSheet); err != nil {
		return err
	}

	for i, h := range profitHeadings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(profitSheet, cell, h); err != nil {
			return err
		}
	}

	rowNo := 2
	for _, r := range rows {
		for i, v := range r.cellValues() {
			cell, err := excelize.CoordinatesToCellName(i+1, rowNo)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(profitSheet, cell, v); err != nil {
				return err
			}
		}
		rowNo++
	}

	if len(rows) > 0 {
		last := rowNo - 1
		if err := f.SetCellValue(profitSheet, fmt.Sprintf("A%d", rowNo), "TOTAL"); err != nil {
			return err
		}
		for _, col := range []string{"C", "D", "E"} {
			formula := fmt.Sprintf("SUM(%s2:%s%d)", col, col, last)
			if err := f.SetCellFormula(profitSheet, fmt.Sprintf("%s%d", col, rowNo), formula); err != nil {
				return err
			}
		}
	}

	return f.Write(w)
}
