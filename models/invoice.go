package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is 1:1 with a shipment. Once PAYMENT_RECEIVED it is read-only.
type Invoice struct {
	ID         string          `json:"id"`
	ShipmentID string          `json:"shipment_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   Currency        `json:"currency"`
	Status     InvoiceStatus   `json:"status"`
	PaymentRef string          `json:"payment_ref,omitempty"`
	PaidAt     *time.Time      `json:"paid_at,omitempty"`
	PaidBy     string          `json:"paid_by,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	CreatedBy  string          `json:"created_by"`
}

func (i Invoice) Clone() Invoice {
	out := i
	if i.PaidAt != nil {
		t := *i.PaidAt
		out.PaidAt = &t
	}
	return out
}

func (i Invoice) IsReadOnly() bool {
	return i.Status == InvoiceStatusPaymentReceived
}
