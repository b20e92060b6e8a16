package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer records are never deleted. AccountNumber and Region are fixed at creation.
type Customer struct {
	ID              string          `json:"id"`
	AccountNumber   string          `json:"account_number"`
	Name            string          `json:"name"`
	Phone           string          `json:"phone"`
	NormalizedPhone string          `json:"normalized_phone"`
	Email           string          `json:"email,omitempty"`
	Address         string          `json:"address"`
	Region          Region          `json:"region"`
	CreatedAt       time.Time       `json:"created_at"`
	CreatedBy       string          `json:"created_by"`
	Balance         decimal.Decimal `json:"balance"`
}

type NewCustomer struct {
	Name    string `json:"name" validate:"required,max=120"`
	Phone   string `json:"phone" validate:"required"`
	Email   string `json:"email" validate:"omitempty,email"`
	Address string `json:"address" validate:"required"`
	// Region is required for Finance/Admin submitters; Ops always use their own.
	Region Region `json:"region"`
}

// UpdateCustomer holds the mutable fields. Nil means unchanged.
type UpdateCustomer struct {
	Name    *string `json:"name" validate:"omitempty,max=120"`
	Phone   *string `json:"phone"`
	Email   *string `json:"email" validate:"omitempty,email"`
	Address *string `json:"address"`
}

func (c Customer) Clone() Customer {
	return c
}
