package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Package struct {
	ID           string          `json:"id"`
	Code         string          `json:"code"`
	Description  string          `json:"description"`
	Weight       decimal.Decimal `json:"weight"`
	Volume       decimal.Decimal `json:"volume"`
	CustomerID   string          `json:"customer_id"`
	ShipmentID   string          `json:"shipment_id,omitempty"`
	WarehouseID  string          `json:"warehouse_id"`
	LocationCode string          `json:"location_code,omitempty"`
	Status       PackageStatus   `json:"status"`
	ScannedAt    time.Time       `json:"scanned_at"`
	ReceivedAt   *time.Time      `json:"received_at,omitempty"`
	ReleasedTo   string          `json:"released_to,omitempty"`
	ReleasedAt   *time.Time      `json:"released_at,omitempty"`
}

type NewPackage struct {
	Code        string          `json:"code" validate:"required,max=64"`
	Description string          `json:"description" validate:"required"`
	Weight      decimal.Decimal `json:"weight"`
	Volume      decimal.Decimal `json:"volume"`
	CustomerID  string          `json:"customer_id" validate:"required"`
	WarehouseID string          `json:"warehouse_id" validate:"required"`
}

func (p Package) Clone() Package {
	out := p
	if p.ReceivedAt != nil {
		t := *p.ReceivedAt
		out.ReceivedAt = &t
	}
	if p.ReleasedAt != nil {
		t := *p.ReleasedAt
		out.ReleasedAt = &t
	}
	return out
}

// IsTerminal reports RELEASED, after which the package is immutable.
func (p Package) IsTerminal() bool {
	return p.Status == PackageStatusReleased
}
