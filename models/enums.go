package models

import (
	"errors"
	"strings"
)

type Region string

const (
	RegionChina    Region = "CN"
	RegionTanzania Region = "TZ"
)

func (r Region) IsValid() bool {
	return r == RegionChina || r == RegionTanzania
}

// CountryCode is the libphonenumber default region for numbers entered
// without an international prefix.
func (r Region) CountryCode() string {
	return string(r)
}

func ParseRegion(s string) (Region, error) {
	r := Region(strings.ToUpper(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", errors.New("invalid region")
	}
	return r, nil
}

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyTZS Currency = "TZS"
	CurrencyCNY Currency = "CNY"
)

func (c Currency) IsValid() bool {
	switch c {
	case CurrencyUSD, CurrencyTZS, CurrencyCNY:
		return true
	}
	return false
}

type EntityType string

const (
	EntityShipment EntityType = "SHIPMENT"
	EntityPackage  EntityType = "PACKAGE"
	EntityInvoice  EntityType = "INVOICE"
	EntityExpense  EntityType = "EXPENSE"
	EntityCustomer EntityType = "CUSTOMER"
)

func (t EntityType) IsValid() bool {
	switch t {
	case EntityShipment, EntityPackage, EntityInvoice, EntityExpense, EntityCustomer:
		return true
	}
	return false
}

func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", errors.New("invalid entity type")
	}
	return t, nil
}

type ShipmentStatus string

const (
	ShipmentStatusDraft            ShipmentStatus = "DRAFT"
	ShipmentStatusApproved         ShipmentStatus = "APPROVED"
	ShipmentStatusReadyForDispatch ShipmentStatus = "READY_FOR_DISPATCH"
	ShipmentStatusInTransit        ShipmentStatus = "IN_TRANSIT"
	ShipmentStatusReceived         ShipmentStatus = "RECEIVED"
	ShipmentStatusReadyForRelease  ShipmentStatus = "READY_FOR_RELEASE"
	ShipmentStatusCompleted        ShipmentStatus = "COMPLETED"
)

// ShipmentLifecycle is the only order a shipment may move through.
var ShipmentLifecycle = []ShipmentStatus{
	ShipmentStatusDraft,
	ShipmentStatusApproved,
	ShipmentStatusReadyForDispatch,
	ShipmentStatusInTransit,
	ShipmentStatusReceived,
	ShipmentStatusReadyForRelease,
	ShipmentStatusCompleted,
}

// Rank is the position in ShipmentLifecycle, or -1 for unknown values.
func (s ShipmentStatus) Rank() int {
	for i, v := range ShipmentLifecycle {
		if v == s {
			return i
		}
	}
	return -1
}

func (s ShipmentStatus) IsValid() bool { return s.Rank() >= 0 }

type PackageStatus string

const (
	PackageStatusScanned         PackageStatus = "SCANNED"
	PackageStatusStaged          PackageStatus = "STAGED"
	PackageStatusDispatched      PackageStatus = "DISPATCHED"
	PackageStatusArrived         PackageStatus = "ARRIVED"
	PackageStatusLocated         PackageStatus = "LOCATED"
	PackageStatusReadyForRelease PackageStatus = "READY_FOR_RELEASE"
	PackageStatusReleased        PackageStatus = "RELEASED"
)

var PackageLifecycle = []PackageStatus{
	PackageStatusScanned,
	PackageStatusStaged,
	PackageStatusDispatched,
	PackageStatusArrived,
	PackageStatusLocated,
	PackageStatusReadyForRelease,
	PackageStatusReleased,
}

func (s PackageStatus) Rank() int {
	for i, v := range PackageLifecycle {
		if v == s {
			return i
		}
	}
	return -1
}

func (s PackageStatus) IsValid() bool { return s.Rank() >= 0 }

type ApprovalStatus string

const (
	ApprovalStatusDraft    ApprovalStatus = "draft"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "Unpaid"
	PaymentStatusPaid   PaymentStatus = "Paid"
)

type InvoiceStatus string

const (
	InvoiceStatusPendingPayment  InvoiceStatus = "PENDING_PAYMENT"
	InvoiceStatusPaymentReceived InvoiceStatus = "PAYMENT_RECEIVED"
)

func (s InvoiceStatus) IsValid() bool {
	return s == InvoiceStatusPendingPayment || s == InvoiceStatusPaymentReceived
}

type ExpenseStatus string

const (
	ExpenseStatusSubmitted ExpenseStatus = "SUBMITTED"
	ExpenseStatusApproved  ExpenseStatus = "APPROVED"
	ExpenseStatusRejected  ExpenseStatus = "REJECTED"
	ExpenseStatusFunded    ExpenseStatus = "FUNDED"
)

func (s ExpenseStatus) IsValid() bool {
	switch s {
	case ExpenseStatusSubmitted, ExpenseStatusApproved, ExpenseStatusRejected, ExpenseStatusFunded:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s ExpenseStatus) IsTerminal() bool {
	return s == ExpenseStatusRejected || s == ExpenseStatusFunded
}

// CountsTowardProfit reports whether the expense is committed spend.
func (s ExpenseStatus) CountsTowardProfit() bool {
	return s == ExpenseStatusApproved || s == ExpenseStatusFunded
}

type AuditEventType string

const (
	AuditShipmentCreated      AuditEventType = "SHIPMENT_CREATED"
	AuditShipmentStatusChange AuditEventType = "SHIPMENT_STATUS_CHANGE"
	AuditShipmentRejected     AuditEventType = "SHIPMENT_REJECTED"
	AuditPriceModified        AuditEventType = "PRICE_MODIFIED"
	AuditShipmentPriceLocked  AuditEventType = "SHIPMENT_PRICE_LOCKED"
	AuditPkgScanEvent         AuditEventType = "PKG_SCAN_EVENT"
	AuditPkgStatusChange      AuditEventType = "PKG_STATUS_CHANGE"
	AuditPkgLocationAssigned  AuditEventType = "PKG_LOCATION_ASSIGNED"
	AuditPkgReleased          AuditEventType = "PKG_RELEASED"
	AuditInvoiceGenerated     AuditEventType = "INVOICE_GENERATED"
	AuditPaymentConfirmed     AuditEventType = "PAYMENT_CONFIRMED"
	AuditExpenseSubmitted     AuditEventType = "EXPENSE_SUBMITTED"
	AuditExpenseApproved      AuditEventType = "EXPENSE_APPROVED"
	AuditExpenseRejected      AuditEventType = "EXPENSE_REJECTED"
	AuditFundingReleased      AuditEventType = "FUNDING_RELEASED"
	AuditCustomerCreated      AuditEventType = "CUSTOMER_CREATED"
	AuditCustomerUpdated      AuditEventType = "CUSTOMER_UPDATED"
	AuditAccessDenied         AuditEventType = "ACCESS_DENIED"
	AuditTransitionRejected   AuditEventType = "TRANSITION_REJECTED"
	AuditSecurityAlert        AuditEventType = "SECURITY_ALERT"
)

var auditEventTypes = map[AuditEventType]struct{}{
	AuditShipmentCreated:      {},
	AuditShipmentStatusChange: {},
	AuditShipmentRejected:     {},
	AuditPriceModified:        {},
	AuditShipmentPriceLocked:  {},
	AuditPkgScanEvent:         {},
	AuditPkgStatusChange:      {},
	AuditPkgLocationAssigned:  {},
	AuditPkgReleased:          {},
	AuditInvoiceGenerated:     {},
	AuditPaymentConfirmed:     {},
	AuditExpenseSubmitted:     {},
	AuditExpenseApproved:      {},
	AuditExpenseRejected:      {},
	AuditFundingReleased:      {},
	AuditCustomerCreated:      {},
	AuditCustomerUpdated:      {},
	AuditAccessDenied:         {},
	AuditTransitionRejected:   {},
	AuditSecurityAlert:        {},
}

func (t AuditEventType) IsValid() bool {
	_, ok := auditEventTypes[t]
	return ok
}

type PricingType string

const (
	PricingTypeFlat    PricingType = "flat"
	PricingTypePackage PricingType = "package"
	PricingTypeWeight  PricingType = "weight"
	PricingTypeCustom  PricingType = "custom"
)

type DiscountType string

const (
	DiscountTypeAmount  DiscountType = "amount"
	DiscountTypePercent DiscountType = "percent"
)
