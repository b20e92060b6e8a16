package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type Charge struct {
	Name   string          `json:"name" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

type Pricing struct {
	Type              PricingType     `json:"pricing_type"`
	BasePrice         decimal.Decimal `json:"base_price"`
	Currency          Currency        `json:"currency"`
	AdditionalCharges []Charge        `json:"additional_charges"`
	DiscountValue     decimal.Decimal `json:"discount_value"`
	DiscountType      DiscountType    `json:"discount_type"`
	FinalTotal        decimal.Decimal `json:"final_total"`
	Notes             string          `json:"pricing_notes,omitempty"`
}

type PricingInput struct {
	Type              PricingType     `json:"pricing_type" validate:"required,oneof=flat package weight custom"`
	BasePrice         decimal.Decimal `json:"base_price"`
	Currency          Currency        `json:"currency" validate:"required"`
	AdditionalCharges []Charge        `json:"additional_charges" validate:"dive"`
	DiscountValue     decimal.Decimal `json:"discount_value"`
	DiscountType      DiscountType    `json:"discount_type" validate:"omitempty,oneof=amount percent"`
	Notes             string          `json:"pricing_notes"`
}

// Build validates the money fields and returns pricing with FinalTotal computed.
func (in PricingInput) Build() (Pricing, error) {
	if !in.Currency.IsValid() {
		return Pricing{}, errors.New("invalid currency")
	}
	if in.BasePrice.IsNegative() {
		return Pricing{}, errors.New("base price must not be negative")
	}
	for _, c := range in.AdditionalCharges {
		if c.Amount.IsNegative() {
			return Pricing{}, errors.New("additional charge must not be negative")
		}
	}
	if in.DiscountValue.IsNegative() {
		return Pricing{}, errors.New("discount must not be negative")
	}
	discountType := in.DiscountType
	if discountType == "" {
		discountType = DiscountTypeAmount
	}
	if discountType == DiscountTypePercent && in.DiscountValue.GreaterThan(hundred) {
		return Pricing{}, errors.New("percent discount must not exceed 100")
	}
	p := Pricing{
		Type:              in.Type,
		BasePrice:         in.BasePrice,
		Currency:          in.Currency,
		AdditionalCharges: append([]Charge(nil), in.AdditionalCharges...),
		DiscountValue:     in.DiscountValue,
		DiscountType:      discountType,
		Notes:             in.Notes,
	}
	p.FinalTotal = p.Compute()
	return p, nil
}

// Compute returns max(0, base + charges - discount) rounded to cents.
func (p Pricing) Compute() decimal.Decimal {
	subtotal := p.BasePrice
	for _, c := range p.AdditionalCharges {
		subtotal = subtotal.Add(c.Amount)
	}
	discount := p.DiscountValue
	if p.DiscountType == DiscountTypePercent {
		discount = subtotal.Mul(p.DiscountValue).Div(hundred)
	}
	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return total.Round(2)
}

func (p Pricing) Clone() Pricing {
	out := p
	out.AdditionalCharges = append([]Charge(nil), p.AdditionalCharges...)
	return out
}

// Shipment is the master waybill. TrackingNo never changes; pricing fields are
// frozen once PriceLocked is set.
type Shipment struct {
	ID                string         `json:"id"`
	TrackingNo        string         `json:"tracking_no"`
	Status            ShipmentStatus `json:"status"`
	ApprovalStatus    ApprovalStatus `json:"approval_status"`
	Pricing           Pricing        `json:"pricing"`
	PriceLocked       bool           `json:"price_locked"`
	PriceLockedAt     *time.Time     `json:"price_locked_at,omitempty"`
	PriceLockedBy     string         `json:"price_locked_by,omitempty"`
	OriginRegion      Region         `json:"origin_region"`
	DestinationRegion Region         `json:"destination_region"`
	CustomerID        string         `json:"customer_id"`
	PaymentStatus     PaymentStatus  `json:"payment_status"`
	PackageCount      int            `json:"package_count"`
	ManifestScanRef   string         `json:"manifest_scan_ref,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	CreatedBy         string         `json:"created_by"`
}

type NewShipment struct {
	CustomerID        string       `json:"customer_id" validate:"required"`
	OriginRegion      Region       `json:"origin_region" validate:"required"`
	DestinationRegion Region       `json:"destination_region" validate:"required"`
	Pricing           PricingInput `json:"pricing"`
}

func (s Shipment) Clone() Shipment {
	out := s
	out.Pricing = s.Pricing.Clone()
	if s.PriceLockedAt != nil {
		t := *s.PriceLockedAt
		out.PriceLockedAt = &t
	}
	return out
}

// Regions lists the regions an Ops actor may match for scoping.
func (s Shipment) Regions() []Region {
	if s.OriginRegion == s.DestinationRegion {
		return []Region{s.OriginRegion}
	}
	return []Region{s.OriginRegion, s.DestinationRegion}
}
