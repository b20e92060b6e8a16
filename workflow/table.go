package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/freight_backend/authz"
	"github.com/mmdatafocus/freight_backend/models"
)

// check is one named precondition. fails returns "" when it holds and a
// human-readable reason otherwise.
type check[T any] struct {
	name  string
	fails func(st *T) string
}

// rule is one row of a transition table.
type rule[S ~string, T any] struct {
	from, to S
	action   authz.Action
	event    models.AuditEventType
	checks   []check[T]
	effect   func(st *T, actor models.Actor, now time.Time) []packageMove
}

type packageMove struct {
	before, after models.Package
}

func findRule[S ~string, T any](table []rule[S, T], from, to S) (rule[S, T], bool) {
	for _, r := range table {
		if r.from == from && r.to == to {
			return r, true
		}
	}
	return rule[S, T]{}, false
}

// actionFor picks the guard action for a requested target state, so the guard
// runs before the table is consulted for the current state.
func actionFor[S ~string, T any](table []rule[S, T], to S) (authz.Action, bool) {
	for _, r := range table {
		if r.to == to {
			return r.action, true
		}
	}
	return "", false
}

func (r rule[S, T]) verify(st *T, entity models.EntityType, id string) error {
	for _, c := range r.checks {
		if msg := c.fails(st); msg != "" {
			return models.PreconditionFailed(entity, id, string(r.from), string(r.to), c.name, msg)
		}
	}
	return nil
}

// Shipments.

type shipmentState struct {
	shipment  models.Shipment
	packages  []models.Package
	invoice   *models.Invoice
	warehouse *models.Warehouse
	params    Params
}

var shipmentTable = []rule[models.ShipmentStatus, shipmentState]{
	{
		from: models.ShipmentStatusDraft, to: models.ShipmentStatusApproved,
		action: authz.ActionShipmentApprove,
		checks: []check[shipmentState]{finalTotalPositive, approvalNotRejected},
		effect: approveShipment,
	},
	{
		from: models.ShipmentStatusApproved, to: models.ShipmentStatusReadyForDispatch,
		action: authz.ActionShipmentAuto,
		checks: []check[shipmentState]{allPackagesStaged},
	},
	{
		from: models.ShipmentStatusReadyForDispatch, to: models.ShipmentStatusInTransit,
		action: authz.ActionShipmentDispatch,
		checks: []check[shipmentState]{invoicePaid, allPackagesStaged},
		effect: dispatchPackages,
	},
	{
		from: models.ShipmentStatusInTransit, to: models.ShipmentStatusReceived,
		action: authz.ActionShipmentReceive,
		checks: []check[shipmentState]{manifestScanned, destinationWarehouse},
		effect: receivePackages,
	},
	{
		from: models.ShipmentStatusReceived, to: models.ShipmentStatusReadyForRelease,
		action: authz.ActionShipmentAuto,
		checks: []check[shipmentState]{allPackagesLocated},
		effect: readyPackages,
	},
	{
		from: models.ShipmentStatusReadyForRelease, to: models.ShipmentStatusCompleted,
		action: authz.ActionShipmentComplete,
		checks: []check[shipmentState]{allPackagesReleased},
	},
}

var finalTotalPositive = check[shipmentState]{
	name: "final_total_positive",
	fails: func(st *shipmentState) string {
		if !st.shipment.Pricing.FinalTotal.IsPositive() {
			return fmt.Sprintf("final total is %s, must be greater than zero", st.shipment.Pricing.FinalTotal.StringFixed(2))
		}
		return ""
	},
}

var approvalNotRejected = check[shipmentState]{
	name: "approval_not_rejected",
	fails: func(st *shipmentState) string {
		if st.shipment.ApprovalStatus == models.ApprovalStatusRejected {
			return "shipment approval was rejected"
		}
		return ""
	},
}

var allPackagesStaged = check[shipmentState]{
	name: "all_packages_staged",
	fails: func(st *shipmentState) string {
		return packagesAtLeast(st.packages, models.PackageStatusStaged, true)
	},
}

var invoicePaid = check[shipmentState]{
	name: "invoice_payment_received",
	fails: func(st *shipmentState) string {
		if st.invoice == nil {
			return "no invoice has been generated for this shipment"
		}
		if st.invoice.Status != models.InvoiceStatusPaymentReceived {
			return fmt.Sprintf("invoice %s is %s", st.invoice.ID, st.invoice.Status)
		}
		return ""
	},
}

var manifestScanned = check[shipmentState]{
	name: "manifest_scan_confirmed",
	fails: func(st *shipmentState) string {
		if strings.TrimSpace(st.params.ManifestScanRef) == "" {
			return "a manifest scan reference is required to confirm receipt"
		}
		return ""
	},
}

var destinationWarehouse = check[shipmentState]{
	name: "destination_warehouse",
	fails: func(st *shipmentState) string {
		if st.warehouse == nil {
			return "a known receiving warehouse id is required"
		}
		if st.warehouse.Region != st.shipment.DestinationRegion {
			return fmt.Sprintf("warehouse %s is in %s, shipment destination is %s",
				st.warehouse.ID, st.warehouse.Region, st.shipment.DestinationRegion)
		}
		return ""
	},
}

var allPackagesLocated = check[shipmentState]{
	name: "all_packages_located",
	fails: func(st *shipmentState) string {
		return packagesAtLeast(st.packages, models.PackageStatusLocated, false)
	},
}

var allPackagesReleased = check[shipmentState]{
	name: "all_packages_released",
	fails: func(st *shipmentState) string {
		return packagesAtLeast(st.packages, models.PackageStatusReleased, true)
	},
}

// packagesAtLeast requires a non-empty set with every package at status (exact)
// or at or beyond it.
func packagesAtLeast(pkgs []models.Package, status models.PackageStatus, exact bool) string {
	if len(pkgs) == 0 {
		return "shipment has no packages"
	}
	for _, p := range pkgs {
		if exact && p.Status != status {
			return fmt.Sprintf("package %s is %s, expected %s", p.Code, p.Status, status)
		}
		if !exact && p.Status.Rank() < status.Rank() {
			return fmt.Sprintf("package %s is %s, expected %s or later", p.Code, p.Status, status)
		}
	}
	return ""
}

func approveShipment(st *shipmentState, actor models.Actor, now time.Time) []packageMove {
	st.shipment.ApprovalStatus = models.ApprovalStatusApproved
	if !st.shipment.PriceLocked {
		st.shipment.PriceLocked = true
		st.shipment.PriceLockedAt = timePtr(now)
		st.shipment.PriceLockedBy = actor.ID
	}
	return nil
}

func movePackages(st *shipmentState, from, to models.PackageStatus, mutate func(p *models.Package)) []packageMove {
	var moves []packageMove
	for i := range st.packages {
		p := &st.packages[i]
		if p.Status != from {
			continue
		}
		before := p.Clone()
		p.Status = to
		if mutate != nil {
			mutate(p)
		}
		moves = append(moves, packageMove{before: before, after: p.Clone()})
	}
	return moves
}

func dispatchPackages(st *shipmentState, _ models.Actor, _ time.Time) []packageMove {
	return movePackages(st, models.PackageStatusStaged, models.PackageStatusDispatched, nil)
}

func receivePackages(st *shipmentState, _ models.Actor, now time.Time) []packageMove {
	st.shipment.ManifestScanRef = strings.TrimSpace(st.params.ManifestScanRef)
	warehouseID := st.warehouse.ID
	return movePackages(st, models.PackageStatusDispatched, models.PackageStatusArrived, func(p *models.Package) {
		p.WarehouseID = warehouseID
		p.ReceivedAt = timePtr(now)
	})
}

func readyPackages(st *shipmentState, _ models.Actor, _ time.Time) []packageMove {
	return movePackages(st, models.PackageStatusLocated, models.PackageStatusReadyForRelease, nil)
}

// Packages.

type packageState struct {
	pkg       models.Package
	warehouse models.Warehouse
	shipment  *models.Shipment
	previous  *models.Shipment // left behind when an unstaged package is restaged elsewhere
	params    Params
}

var packageTable = []rule[models.PackageStatus, packageState]{
	{
		from: models.PackageStatusScanned, to: models.PackageStatusStaged,
		action: authz.ActionPackageStage, event: models.AuditPkgStatusChange,
		checks: []check[packageState]{shipmentAssigned, shipmentOpenForStaging, previousShipmentOpen},
		effect: linkPackage,
	},
	{
		from: models.PackageStatusStaged, to: models.PackageStatusScanned,
		action: authz.ActionPackageUnstage, event: models.AuditPkgStatusChange,
		checks: []check[packageState]{shipmentLinked, shipmentOpenForStaging},
	},
	{
		from: models.PackageStatusStaged, to: models.PackageStatusDispatched,
		action: authz.ActionPackageDispatch, event: models.AuditPkgStatusChange,
		checks: []check[packageState]{shipmentLinked, parentAtLeast(models.ShipmentStatusInTransit)},
	},
	{
		from: models.PackageStatusDispatched, to: models.PackageStatusArrived,
		action: authz.ActionPackageArrive, event: models.AuditPkgStatusChange,
		checks: []check[packageState]{shipmentLinked, parentAtLeast(models.ShipmentStatusReceived)},
	},
	{
		from: models.PackageStatusArrived, to: models.PackageStatusLocated,
		action: authz.ActionPackageLocate, event: models.AuditPkgLocationAssigned,
		checks: []check[packageState]{locationCodeGiven},
		effect: assignLocation,
	},
	{
		from: models.PackageStatusLocated, to: models.PackageStatusReadyForRelease,
		action: authz.ActionPackageReady, event: models.AuditPkgStatusChange,
		checks: []check[packageState]{shipmentLinked, parentAtLeast(models.ShipmentStatusReceived)},
	},
	{
		from: models.PackageStatusLocated, to: models.PackageStatusReleased,
		action: authz.ActionPackageRelease, event: models.AuditPkgReleased,
		checks: []check[packageState]{receiverGiven, shipmentLinked, shipmentReleasable},
		effect: releasePackage,
	},
	{
		from: models.PackageStatusReadyForRelease, to: models.PackageStatusReleased,
		action: authz.ActionPackageRelease, event: models.AuditPkgReleased,
		checks: []check[packageState]{receiverGiven, shipmentLinked, shipmentReleasable},
		effect: releasePackage,
	},
}

var shipmentAssigned = check[packageState]{
	name: "shipment_assigned",
	fails: func(st *packageState) string {
		if st.shipment == nil {
			return "a shipment id is required to stage a package"
		}
		if st.pkg.ShipmentID != "" && st.pkg.ShipmentID != st.shipment.ID && st.previous == nil {
			return fmt.Sprintf("package is on shipment %s", st.pkg.ShipmentID)
		}
		return ""
	},
}

var previousShipmentOpen = check[packageState]{
	name: "previous_shipment_open",
	fails: func(st *packageState) string {
		s := st.previous
		if s == nil {
			return ""
		}
		if s.Status != models.ShipmentStatusDraft && s.Status != models.ShipmentStatusApproved {
			return fmt.Sprintf("package is held by shipment %s which is %s", s.TrackingNo, s.Status)
		}
		return ""
	},
}

var shipmentLinked = check[packageState]{
	name: "shipment_linked",
	fails: func(st *packageState) string {
		if st.shipment == nil {
			return "package is not linked to a shipment"
		}
		return ""
	},
}

var shipmentOpenForStaging = check[packageState]{
	name: "shipment_open_for_staging",
	fails: func(st *packageState) string {
		s := st.shipment
		if s == nil {
			return "package is not linked to a shipment"
		}
		if s.Status != models.ShipmentStatusDraft && s.Status != models.ShipmentStatusApproved {
			return fmt.Sprintf("shipment %s is %s, staging needs DRAFT or APPROVED", s.TrackingNo, s.Status)
		}
		if s.ApprovalStatus == models.ApprovalStatusRejected {
			return fmt.Sprintf("shipment %s was rejected", s.TrackingNo)
		}
		return ""
	},
}

func parentAtLeast(status models.ShipmentStatus) check[packageState] {
	return check[packageState]{
		name: "shipment_" + strings.ToLower(string(status)),
		fails: func(st *packageState) string {
			if st.shipment == nil {
				return "package is not linked to a shipment"
			}
			if st.shipment.Status.Rank() < status.Rank() {
				return fmt.Sprintf("shipment %s is %s, expected %s", st.shipment.TrackingNo, st.shipment.Status, status)
			}
			return ""
		},
	}
}

var locationCodeGiven = check[packageState]{
	name: "location_code",
	fails: func(st *packageState) string {
		if strings.TrimSpace(st.params.LocationCode) == "" {
			return "a non-empty location code is required"
		}
		return ""
	},
}

var receiverGiven = check[packageState]{
	name: "receiver_identity",
	fails: func(st *packageState) string {
		if strings.TrimSpace(st.params.ReceiverRef) == "" {
			return "a receiver identity reference is required at release"
		}
		return ""
	},
}

var shipmentReleasable = check[packageState]{
	name: "shipment_releasable",
	fails: func(st *packageState) string {
		s := st.shipment
		if s.Status != models.ShipmentStatusReadyForRelease && s.Status != models.ShipmentStatusReceived {
			return fmt.Sprintf("shipment %s is %s, release needs RECEIVED or READY_FOR_RELEASE", s.TrackingNo, s.Status)
		}
		return ""
	},
}

func linkPackage(st *packageState, _ models.Actor, _ time.Time) []packageMove {
	st.pkg.ShipmentID = st.shipment.ID
	return nil
}

func assignLocation(st *packageState, _ models.Actor, _ time.Time) []packageMove {
	st.pkg.LocationCode = strings.TrimSpace(st.params.LocationCode)
	return nil
}

func releasePackage(st *packageState, _ models.Actor, now time.Time) []packageMove {
	st.pkg.ReleasedTo = strings.TrimSpace(st.params.ReceiverRef)
	st.pkg.ReleasedAt = timePtr(now)
	return nil
}

// Invoices.

type invoiceState struct {
	invoice  models.Invoice
	shipment models.Shipment
	params   Params
}

var invoiceTable = []rule[models.InvoiceStatus, invoiceState]{
	{
		from: models.InvoiceStatusPendingPayment, to: models.InvoiceStatusPaymentReceived,
		action: authz.ActionInvoicePay, event: models.AuditPaymentConfirmed,
		checks: []check[invoiceState]{paymentRefGiven, exactAmount},
		effect: confirmPayment,
	},
}

var paymentRefGiven = check[invoiceState]{
	name: "payment_reference",
	fails: func(st *invoiceState) string {
		if strings.TrimSpace(st.params.PaymentRef) == "" {
			return "a payment reference is required"
		}
		return ""
	},
}

var exactAmount = check[invoiceState]{
	name: "exact_amount",
	fails: func(st *invoiceState) string {
		if st.params.Amount == nil {
			return "the paid amount is required"
		}
		if !st.params.Amount.Equal(st.invoice.Amount) {
			return fmt.Sprintf("paid amount %s does not equal invoice amount %s; partial payments are not supported",
				st.params.Amount.String(), st.invoice.Amount.String())
		}
		return ""
	},
}

func confirmPayment(st *invoiceState, actor models.Actor, now time.Time) []packageMove {
	st.invoice.PaymentRef = strings.TrimSpace(st.params.PaymentRef)
	st.invoice.PaidAt = timePtr(now)
	st.invoice.PaidBy = actor.ID
	st.shipment.PaymentStatus = models.PaymentStatusPaid
	return nil
}

// Expenses.

type expenseState struct {
	expense models.Expense
	params  Params
	batchID string
}

var expenseTable = []rule[models.ExpenseStatus, expenseState]{
	{
		from: models.ExpenseStatusSubmitted, to: models.ExpenseStatusApproved,
		action: authz.ActionExpenseApprove, event: models.AuditExpenseApproved,
		effect: approveExpense,
	},
	{
		from: models.ExpenseStatusSubmitted, to: models.ExpenseStatusRejected,
		action: authz.ActionExpenseReject, event: models.AuditExpenseRejected,
		checks: []check[expenseState]{rejectionReasonGiven},
		effect: rejectExpense,
	},
	{
		// Listed so funding before approval names the missing approval instead
		// of reading as an unknown transition.
		from: models.ExpenseStatusSubmitted, to: models.ExpenseStatusFunded,
		action: authz.ActionExpenseFund, event: models.AuditFundingReleased,
		checks: []check[expenseState]{adminApproved},
	},
	{
		from: models.ExpenseStatusApproved, to: models.ExpenseStatusFunded,
		action: authz.ActionExpenseFund, event: models.AuditFundingReleased,
		checks: []check[expenseState]{adminApproved},
		effect: fundExpense,
	},
}

var rejectionReasonGiven = check[expenseState]{
	name: "rejection_reason",
	fails: func(st *expenseState) string {
		if strings.TrimSpace(st.params.Reason) == "" {
			return "a rejection reason is required"
		}
		return ""
	},
}

var adminApproved = check[expenseState]{
	name: "admin_approval",
	fails: func(st *expenseState) string {
		if st.expense.Status != models.ExpenseStatusApproved {
			return fmt.Sprintf("expense is %s, funding requires prior admin approval", st.expense.Status)
		}
		return ""
	},
}

func approveExpense(st *expenseState, actor models.Actor, now time.Time) []packageMove {
	st.expense.ApprovedBy = actor.ID
	st.expense.ApprovedAt = timePtr(now)
	return nil
}

func rejectExpense(st *expenseState, actor models.Actor, _ time.Time) []packageMove {
	st.expense.RejectedBy = actor.ID
	st.expense.RejectionReason = strings.TrimSpace(st.params.Reason)
	return nil
}

func fundExpense(st *expenseState, actor models.Actor, now time.Time) []packageMove {
	st.expense.FundedBy = actor.ID
	st.expense.FundedAt = timePtr(now)
	st.expense.FundingBatchID = st.batchID
	return nil
}
