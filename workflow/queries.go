package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mmdatafocus/freight_backend/audit"
	"github.com/mmdatafocus/freight_backend/authz"
	"github.com/mmdatafocus/freight_backend/models"
	"github.com/mmdatafocus/freight_backend/reports"
	"github.com/shopspring/decimal"
)

// QueryVisible lists every entity of the given type the actor may see. It
// never fails on scoping; out-of-region records are simply absent.
func (e *Engine) QueryVisible(ctx context.Context, entityType models.EntityType, actor models.Actor) ([]any, error) {
	if actor.Role == nil {
		return nil, &models.TransitionError{Kind: models.KindUnauthorized, Entity: entityType, Message: "actor has no role"}
	}
	var out []any
	switch entityType {
	case models.EntityShipment:
		for _, v := range e.VisibleShipments(actor) {
			out = append(out, v)
		}
	case models.EntityPackage:
		for _, v := range e.VisiblePackages(actor) {
			out = append(out, v)
		}
	case models.EntityInvoice:
		for _, v := range e.VisibleInvoices(actor) {
			out = append(out, v)
		}
	case models.EntityExpense:
		for _, v := range e.VisibleExpenses(actor) {
			out = append(out, v)
		}
	case models.EntityCustomer:
		for _, v := range e.VisibleCustomers(actor) {
			out = append(out, v)
		}
	default:
		return nil, invalidInput(entityType, "", fmt.Sprintf("unknown entity type %q", entityType), nil)
	}
	if out == nil {
		out = []any{}
	}
	return out, nil
}

func (e *Engine) VisibleShipments(actor models.Actor) []models.Shipment {
	out := []models.Shipment{}
	for _, s := range e.store.Shipments() {
		if authz.CanSeeShipment(actor, s) {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) VisiblePackages(actor models.Actor) []models.Package {
	regions := e.warehouseRegions()
	out := []models.Package{}
	for _, p := range e.store.Packages() {
		if authz.CanSeePackage(actor, regions[p.WarehouseID]) {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) VisibleInvoices(actor models.Actor) []models.Invoice {
	out := []models.Invoice{}
	for _, inv := range e.store.Invoices() {
		sh, err := e.store.Shipment(inv.ShipmentID)
		if err != nil {
			continue
		}
		if authz.CanSeeInvoice(actor, sh) {
			out = append(out, inv)
		}
	}
	return out
}

func (e *Engine) VisibleExpenses(actor models.Actor) []models.Expense {
	out := []models.Expense{}
	for _, ex := range e.store.Expenses() {
		if authz.CanSeeExpense(actor, ex) {
			out = append(out, ex)
		}
	}
	return out
}

func (e *Engine) VisibleCustomers(actor models.Actor) []models.Customer {
	out := []models.Customer{}
	for _, c := range e.store.Customers() {
		if authz.CanSeeCustomer(actor, c) {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) warehouseRegions() map[string]models.Region {
	whs := e.store.Warehouses()
	out := make(map[string]models.Region, len(whs))
	for _, w := range whs {
		out[w.ID] = w.Region
	}
	return out
}

// GetAuditTrail is the Admin read of the audit log.
func (e *Engine) GetAuditTrail(ctx context.Context, actor models.Actor, f audit.Filter) (entries []audit.Entry, err error) {
	ctx, span := e.startSpan(ctx, "GetAuditTrail", actorAttrs(actor)...)
	defer func() { endSpan(span, err) }()

	target := authz.Target{EntityType: f.EntityType, EntityID: f.EntityID}
	if err := e.guard(ctx, actor, authz.ActionAuditRead, true, target, true); err != nil {
		return nil, err
	}
	return e.log.Query(f)
}

// VerifyIntegrity recomputes the chain. A broken chain halts further writes
// until an operator resumes the log.
func (e *Engine) VerifyIntegrity(ctx context.Context) audit.Report {
	_, span := e.startSpan(ctx, "VerifyIntegrity")
	report := e.log.Verify()
	var err error
	if !report.Valid {
		err = models.NewError(models.KindIntegrityViolation, "", "", fmt.Sprintf("chain broken at index %d", *report.FirstBadIndex))
	}
	endSpan(span, err)
	return report
}

// ComputeProfitReport is the per-shipment P&L in USD.
func (e *Engine) ComputeProfitReport(ctx context.Context, actor models.Actor, shipmentID string) (rep reports.ProfitReport, err error) {
	ctx, span := e.startSpan(ctx, "ComputeProfitReport", actorAttrs(actor)...)
	defer func() { endSpan(span, err) }()

	sh, err := e.store.Shipment(shipmentID)
	if err != nil {
		return reports.ProfitReport{}, notFound(models.EntityShipment, shipmentID)
	}
	if err := e.guard(ctx, actor, authz.ActionReportProfit, true, authz.ShipmentTarget(sh), true); err != nil {
		return reports.ProfitReport{}, err
	}
	return e.profitFor(sh)
}

// ProfitReports covers every shipment, ordered by tracking number.
func (e *Engine) ProfitReports(ctx context.Context, actor models.Actor) (out []reports.ProfitReport, err error) {
	ctx, span := e.startSpan(ctx, "ProfitReports", actorAttrs(actor)...)
	defer func() { endSpan(span, err) }()

	if err := e.guard(ctx, actor, authz.ActionReportProfit, true, authz.Target{EntityType: models.EntityShipment}, true); err != nil {
		return nil, err
	}
	shipments := e.store.Shipments()
	sort.Slice(shipments, func(i, j int) bool { return shipments[i].TrackingNo < shipments[j].TrackingNo })
	out = make([]reports.ProfitReport, 0, len(shipments))
	for _, sh := range shipments {
		rep, err := e.profitFor(sh)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, nil
}

func (e *Engine) profitFor(sh models.Shipment) (reports.ProfitReport, error) {
	var invoice *models.Invoice
	if inv, err := e.store.InvoiceForShipment(sh.ID); err == nil {
		invoice = &inv
	}
	rep, err := reports.ComputeProfit(sh.ID, invoice, e.store.ExpensesForShipment(sh.ID), e.rates)
	if err != nil {
		return reports.ProfitReport{}, invalidInput(models.EntityShipment, sh.ID, err.Error(), err)
	}
	rep.TrackingNo = sh.TrackingNo
	return rep, nil
}

// Dashboard is the summary behind the console landing page, scoped to what
// the actor can see.
type Dashboard struct {
	Region                   models.Region                 `json:"region,omitempty"`
	ShipmentsByStatus        map[models.ShipmentStatus]int `json:"shipmentsByStatus"`
	PackagesByStatus         map[models.PackageStatus]int  `json:"packagesByStatus"`
	PendingInvoices          int                           `json:"pendingInvoices"`
	OutstandingUSD           decimal.Decimal               `json:"outstandingUSD"`
	ExpensesAwaitingApproval int                           `json:"expensesAwaitingApproval"`
	ExpensesAwaitingFunding  int                           `json:"expensesAwaitingFunding"`
	GeneratedAt              time.Time                     `json:"generatedAt"`
}

func (e *Engine) DashboardSnapshot(ctx context.Context, actor models.Actor) (d Dashboard, err error) {
	ctx, span := e.startSpan(ctx, "DashboardSnapshot", actorAttrs(actor)...)
	defer func() { endSpan(span, err) }()

	if err := e.guard(ctx, actor, authz.ActionReportDashboard, true, authz.Target{}, true); err != nil {
		return Dashboard{}, err
	}
	d = Dashboard{
		Region:            actor.Region(),
		ShipmentsByStatus: map[models.ShipmentStatus]int{},
		PackagesByStatus:  map[models.PackageStatus]int{},
		OutstandingUSD:    decimal.Zero,
		GeneratedAt:       e.now(),
	}
	for _, s := range e.VisibleShipments(actor) {
		d.ShipmentsByStatus[s.Status]++
	}
	for _, p := range e.VisiblePackages(actor) {
		d.PackagesByStatus[p.Status]++
	}
	for _, inv := range e.VisibleInvoices(actor) {
		if inv.Status != models.InvoiceStatusPendingPayment {
			continue
		}
		d.PendingInvoices++
		usd, err := e.rates.ToUSD(inv.Amount, inv.Currency)
		if err != nil {
			return Dashboard{}, invalidInput(models.EntityInvoice, inv.ID, err.Error(), err)
		}
		d.OutstandingUSD = d.OutstandingUSD.Add(usd)
	}
	d.OutstandingUSD = d.OutstandingUSD.Round(2)
	for _, ex := range e.VisibleExpenses(actor) {
		switch ex.Status {
		case models.ExpenseStatusSubmitted:
			d.ExpensesAwaitingApproval++
		case models.ExpenseStatusApproved:
			d.ExpensesAwaitingFunding++
		}
	}
	return d, nil
}
