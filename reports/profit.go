package reports

import (
	"github.com/mmdatafocus/freight_backend/models"
	"github.com/shopspring/decimal"
)

type ProfitReport struct {
	ShipmentID    string          `json:"shipmentId"`
	TrackingNo    string          `json:"trackingNo,omitempty"`
	RevenueUSD    decimal.Decimal `json:"revenueUSD"`
	ExpensesUSD   decimal.Decimal `json:"expensesUSD"`
	ProfitUSD     decimal.Decimal `json:"profitUSD"`
	MarginPercent decimal.Decimal `json:"marginPercent"`
	// Counted lists the expense ids that contributed.
	Counted []string  `json:"countedExpenses"`
	Rates   RateTable `json:"rates"`
}

var hundred = decimal.NewFromInt(100)

// ComputeProfit joins the shipment's invoice with its committed expenses.
// A missing invoice counts as zero revenue. Only APPROVED and FUNDED expenses
// are included.
func ComputeProfit(shipmentID string, invoice *models.Invoice, expenses []models.Expense, rates RateTable) (ProfitReport, error) {
	rates = rates.Snapshot()
	report := ProfitReport{
		ShipmentID:  shipmentID,
		RevenueUSD:  decimal.Zero,
		ExpensesUSD: decimal.Zero,
		Rates:       rates,
		Counted:     []string{},
	}

	if invoice != nil {
		rev, err := rates.ToUSD(invoice.Amount, invoice.Currency)
		if err != nil {
			return ProfitReport{}, err
		}
		report.RevenueUSD = rev
	}

	for _, e := range expenses {
		if e.ShipmentID != shipmentID || !e.Status.CountsTowardProfit() {
			continue
		}
		usd, err := rates.ToUSD(e.Amount, e.Currency)
		if err != nil {
			return ProfitReport{}, err
		}
		report.ExpensesUSD = report.ExpensesUSD.Add(usd)
		report.Counted = append(report.Counted, e.ID)
	}

	report.ProfitUSD = report.RevenueUSD.Sub(report.ExpensesUSD)
	report.MarginPercent = decimal.Zero
	if !report.RevenueUSD.IsZero() {
		report.MarginPercent = report.ProfitUSD.Div(report.RevenueUSD).Mul(hundred).Round(2)
	}
	report.RevenueUSD = report.RevenueUSD.Round(2)
	report.ExpensesUSD = report.ExpensesUSD.Round(2)
	report.ProfitUSD = report.ProfitUSD.Round(2)
	return report, nil
}
