package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Expense struct {
	ID              string          `json:"id"`
	ShipmentID      string          `json:"shipment_id,omitempty"`
	Title           string          `json:"title"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        Currency        `json:"currency"`
	Status          ExpenseStatus   `json:"status"`
	Region          Region          `json:"region"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	ApprovedBy      string          `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	RejectedBy      string          `json:"rejected_by,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	FundedBy        string          `json:"funded_by,omitempty"`
	FundedAt        *time.Time      `json:"funded_at,omitempty"`
	FundingBatchID  string          `json:"funding_batch_id,omitempty"`
}

type NewExpense struct {
	ShipmentID string          `json:"shipment_id"`
	Title      string          `json:"title" validate:"required,max=200"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   Currency        `json:"currency" validate:"required"`
	// Region is required for Finance/Admin submitters; Ops always use their own.
	Region Region `json:"region"`
}

func (e Expense) Clone() Expense {
	out := e
	for _, p := range []**time.Time{&out.ApprovedAt, &out.FundedAt} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	return out
}
