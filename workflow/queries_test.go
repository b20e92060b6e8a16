package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/freight_backend/audit"
	"github.com/mmdatafocus/freight_backend/models"
	"github.com/shopspring/decimal"
)

func TestVisibility_OpsChinaNeverSeesDomesticTanzania(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cn := f.customer("+8613800138000")
	f.shipment(cn.ID, 100)

	tz, err := f.engine.CreateCustomer(ctx, opsTZ, models.NewCustomer{Name: "Mwanza Hardware", Phone: "0712 345 678", Address: "Mwanza"}, false)
	if err != nil {
		t.Fatalf("create TZ customer: %v", err)
	}
	if tz.Region != models.RegionTanzania || tz.NormalizedPhone != "+255712345678" {
		t.Fatalf("unexpected TZ customer: %+v", tz)
	}
	domestic, err := f.engine.CreateShipment(ctx, opsTZ, models.NewShipment{
		CustomerID:        tz.ID,
		OriginRegion:      models.RegionTanzania,
		DestinationRegion: models.RegionTanzania,
		Pricing:           models.PricingInput{Type: models.PricingTypeFlat, BasePrice: decimal.NewFromInt(50), Currency: models.CurrencyTZS},
	})
	if err != nil {
		t.Fatalf("create domestic shipment: %v", err)
	}

	for _, s := range f.engine.VisibleShipments(opsCN) {
		if s.ID == domestic.ID {
			t.Fatalf("OPS_CHINA can see TZ->TZ shipment %s", s.TrackingNo)
		}
	}
	if got := len(f.engine.VisibleShipments(opsTZ)); got != 2 {
		t.Fatalf("OPS_TANZANIA should see the export and the domestic shipment, got %d", got)
	}
	if got := len(f.engine.VisibleShipments(finance)); got != 2 {
		t.Fatalf("finance sees everything, got %d", got)
	}

	customers, err := f.engine.QueryVisible(ctx, models.EntityCustomer, opsCN)
	if err != nil {
		t.Fatalf("query customers: %v", err)
	}
	if len(customers) != 1 || customers[0].(models.Customer).ID != cn.ID {
		t.Fatalf("OPS_CHINA must only see CN customers, got %+v", customers)
	}

	_, err = f.transition(opsCN, models.EntityShipment, domestic.ID, "SHIPPED_SOMEWHERE", Params{})
	expectKind(t, err, models.KindUnauthorized)

	_, err = f.engine.QueryVisible(ctx, "WAREHOUSE", admin)
	expectKind(t, err, models.KindInvalidInput)
	_, err = f.engine.QueryVisible(ctx, models.EntityShipment, models.Actor{ID: "anon"})
	expectKind(t, err, models.KindUnauthorized)
}

func TestVisibility_PackagesFollowTheirWarehouse(t *testing.T) {
	f := newFixture(t)
	c := f.customer("+8613800138000")
	f.pkg("PKG-1", c.ID)

	if got := len(f.engine.VisiblePackages(opsCN)); got != 1 {
		t.Fatalf("expected CN ops to see the GZ package, got %d", got)
	}
	if got := len(f.engine.VisiblePackages(opsTZ)); got != 0 {
		t.Fatalf("expected TZ ops to see no GZ package, got %d", got)
	}
}

func TestGetAuditTrail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.customer("+8613800138000")
	sh := f.shipment(c.ID, 100)
	f.mustTransition(admin, models.EntityShipment, sh.ID, string(models.ShipmentStatusApproved), Params{})

	_, err := f.engine.GetAuditTrail(ctx, opsCN, audit.Filter{EntityID: sh.ID})
	expectKind(t, err, models.KindUnauthorized)

	entries, err := f.engine.GetAuditTrail(ctx, admin, audit.Filter{EntityID: sh.ID})
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected created and approved entries, got %d", len(entries))
	}
	if entries[0].Seq < entries[1].Seq || entries[0].EventType != models.AuditShipmentStatusChange {
		t.Fatalf("expected newest first, got %s then %s", entries[0].EventType, entries[1].EventType)
	}

	_, err = f.engine.GetAuditTrail(ctx, admin, audit.Filter{From: f.now.Add(-100 * 24 * time.Hour), To: f.now})
	expectKind(t, err, models.KindInvalidInput)
}

func TestComputeProfitReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sh, _ := f.paidShipment("PKG-1")

	submit := func(amount int64, cur models.Currency) models.Expense {
		t.Helper()
		ex, err := f.engine.SubmitExpense(ctx, opsCN, models.NewExpense{ShipmentID: sh.ID, Title: "Port fees", Amount: decimal.NewFromInt(amount), Currency: cur})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		return ex
	}
	e1 := submit(1000, models.CurrencyUSD)
	e2 := submit(3960, models.CurrencyCNY)
	submit(999, models.CurrencyUSD)

	f.mustTransition(admin, models.EntityExpense, e1.ID, string(models.ExpenseStatusApproved), Params{})
	f.mustTransition(admin, models.EntityExpense, e2.ID, string(models.ExpenseStatusApproved), Params{})
	if _, _, err := f.engine.FundExpenses(ctx, finance, []string{e2.ID}); err != nil {
		t.Fatalf("fund: %v", err)
	}

	_, err := f.engine.ComputeProfitReport(ctx, opsCN, sh.ID)
	expectKind(t, err, models.KindUnauthorized)

	rep, err := f.engine.ComputeProfitReport(ctx, finance, sh.ID)
	if err != nil {
		t.Fatalf("profit: %v", err)
	}
	if !rep.RevenueUSD.Equal(decimal.NewFromInt(4500)) || !rep.ExpensesUSD.Equal(decimal.NewFromInt(1550)) {
		t.Fatalf("expected 4500 revenue and 1550 expenses, got %s / %s", rep.RevenueUSD, rep.ExpensesUSD)
	}
	if !rep.ProfitUSD.Equal(decimal.NewFromInt(2950)) || !rep.MarginPercent.Equal(decimal.RequireFromString("65.56")) {
		t.Fatalf("expected 2950 profit at 65.56%%, got %s at %s", rep.ProfitUSD, rep.MarginPercent)
	}
	if len(rep.Counted) != 2 || rep.TrackingNo != sh.TrackingNo {
		t.Fatalf("unexpected report: %+v", rep)
	}

	all, err := f.engine.ProfitReports(ctx, admin)
	if err != nil || len(all) != 1 {
		t.Fatalf("expected one report row, got %d (%v)", len(all), err)
	}
}

func TestDashboardSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.customer("+8613800138000")
	sh := f.shipment(c.ID, 4500)
	f.pkg("PKG-1", c.ID)
	f.mustTransition(admin, models.EntityShipment, sh.ID, string(models.ShipmentStatusApproved), Params{})
	if _, err := f.engine.GenerateInvoice(ctx, finance, sh.ID); err != nil {
		t.Fatalf("invoice: %v", err)
	}
	if _, err := f.engine.SubmitExpense(ctx, opsCN, models.NewExpense{Title: "Tape", Amount: decimal.NewFromInt(5), Currency: models.CurrencyUSD}); err != nil {
		t.Fatalf("expense: %v", err)
	}

	d, err := f.engine.DashboardSnapshot(ctx, finance)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.ShipmentsByStatus[models.ShipmentStatusApproved] != 1 || d.PackagesByStatus[models.PackageStatusScanned] != 1 {
		t.Fatalf("unexpected counts: %+v", d)
	}
	if d.PendingInvoices != 1 || !d.OutstandingUSD.Equal(decimal.NewFromInt(4500)) || d.ExpensesAwaitingApproval != 1 {
		t.Fatalf("unexpected finance figures: %+v", d)
	}

	tzView, err := f.engine.DashboardSnapshot(ctx, opsTZ)
	if err != nil {
		t.Fatalf("dashboard tz: %v", err)
	}
	if tzView.Region != models.RegionTanzania || tzView.PackagesByStatus[models.PackageStatusScanned] != 0 || tzView.ExpensesAwaitingApproval != 0 {
		t.Fatalf("TZ view leaked CN records: %+v", tzView)
	}
}
