package workflow

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mmdatafocus/freight_backend/models"
	"github.com/shopspring/decimal"
)

func TestLifecycle_ToCompleted(t *testing.T) {
	f := newFixture(t)
	sh, pkgs := f.paidShipment("PKG-A", "PKG-B")
	if sh.Status != models.ShipmentStatusReadyForDispatch {
		t.Fatalf("expected approval with all packages staged to cascade, got %s", sh.Status)
	}
	if !sh.PriceLocked || sh.PaymentStatus != models.PaymentStatusPaid {
		t.Fatalf("expected locked and paid shipment, got locked=%v payment=%s", sh.PriceLocked, sh.PaymentStatus)
	}

	res := f.mustTransition(opsCN, models.EntityShipment, sh.ID, string(models.ShipmentStatusInTransit), Params{})
	if len(res.Cascaded) != 2 {
		t.Fatalf("expected both packages dispatched with the shipment, got %+v", res.Cascaded)
	}
	for _, p := range pkgs {
		if got := f.reloadPackage(p.ID).Status; got != models.PackageStatusDispatched {
			t.Fatalf("package %s: expected DISPATCHED, got %s", p.Code, got)
		}
	}

	f.mustTransition(opsTZ, models.EntityShipment, sh.ID, string(models.ShipmentStatusReceived),
		Params{ManifestScanRef: "MAN-7781", WarehouseID: warehouseDAR})
	for _, p := range pkgs {
		got := f.reloadPackage(p.ID)
		if got.Status != models.PackageStatusArrived || got.WarehouseID != warehouseDAR || got.ReceivedAt == nil {
			t.Fatalf("package %s not received at destination: %+v", p.Code, got)
		}
	}

	f.mustTransition(opsTZ, models.EntityPackage, pkgs[0].ID, string(models.PackageStatusLocated), Params{LocationCode: "A-01"})
	if got := f.reloadShipment(sh.ID).Status; got != models.ShipmentStatusReceived {
		t.Fatalf("shipment must wait for every package to be located, got %s", got)
	}
	res = f.mustTransition(opsTZ, models.EntityPackage, pkgs[1].ID, string(models.PackageStatusLocated), Params{LocationCode: "A-02"})
	if got := f.reloadShipment(sh.ID).Status; got != models.ShipmentStatusReadyForRelease {
		t.Fatalf("expected cascade to READY_FOR_RELEASE, got %s (%+v)", got, res.Cascaded)
	}

	for _, p := range pkgs {
		f.mustTransition(opsTZ, models.EntityPackage, p.ID, string(models.PackageStatusReleased), Params{ReceiverRef: "NIDA-19900101"})
	}
	f.mustTransition(opsTZ, models.EntityShipment, sh.ID, string(models.ShipmentStatusCompleted), Params{})

	if got := f.reloadShipment(sh.ID).Status; got != models.ShipmentStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got)
	}
	if r := f.engine.VerifyIntegrity(context.Background()); !r.Valid {
		t.Fatalf("expected intact audit chain after full lifecycle, got %+v", r)
	}
}

func TestTransition_EveryStatusChangeIsAuditedInOrder(t *testing.T) {
	f := newFixture(t)
	c := f.customer("+8613800138000")
	sh := f.shipment(c.ID, 900)
	p := f.pkg("PKG-1", c.ID)
	f.stage(p.ID, sh.ID)

	before := f.log.Len()
	res := f.mustTransition(admin, models.EntityShipment, sh.ID, string(models.ShipmentStatusApproved), Params{})

	if len(res.Cascaded) != 1 || res.Cascaded[0].To != string(models.ShipmentStatusReadyForDispatch) {
		t.Fatalf("expected a single cascade to READY_FOR_DISPATCH, got %+v", res.Cascaded)
	}
	if len(res.AuditEntryIDs) != 2 || f.log.Len() != before+2 {
		t.Fatalf("expected 2 audit entries, got ids=%v len delta=%d", res.AuditEntryIDs, f.log.Len()-before)
	}

	entries := f.log.Entries()[before:]
	if entries[0].ActorID != admin.ID || entries[0].EventType != models.AuditShipmentStatusChange {
		t.Fatalf("first entry must be the admin approval, got %+v", entries[0])
	}
	if entries[1].ActorID != models.SystemActor.ID || entries[1].Seq != entries[0].Seq+1 {
		t.Fatalf("cascade entry must follow the trigger and be attributed to the system, got %+v", entries[1])
	}
	var after models.Shipment
	if err := json.Unmarshal(entries[1].Payload.After, &after); err != nil {
		t.Fatalf("decode after: %v", err)
	}
	if after.Status != models.ShipmentStatusReadyForDispatch {
		t.Fatalf("cascade entry must carry the new state, got %s", after.Status)
	}
}

func TestTransition_DispatchUnpaidFailsEvenForAdmin(t *testing.T) {
	f := newFixture(t)
	c := f.customer("+8613800138000")
	sh := f.shipment(c.ID, 1200)
	p := f.pkg("PKG-1", c.ID)
	f.stage(p.ID, sh.ID)
	f.mustTransition(admin, models.EntityShipment, sh.ID, string(models.ShipmentStatusApproved), Params{})

	_, err := f.transition(admin, models.EntityShipment, sh.ID, string(models.ShipmentStatusInTransit), Params{})
	te := expectKind(t, err, models.KindPreconditionNotMet)
	if te.Precondition != "invoice_payment_received" {
		t.Fatalf("expected the unpaid invoice to be named, got %q", te.Precondition)
	}

	last := f.lastEntry()
	if last.EventType != models.AuditTransitionRejected {
		t.Fatalf("expected TRANSITION_REJECTED, got %s", last.EventType)
	}
	var meta map[string]any
	if err := json.Unmarshal(last.Payload.Metadata, &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if meta["precondition"] != "invoice_payment_received" {
		t.Fatalf("expected precondition in metadata, got %v", meta)
	}
	if got := f.reloadShipment(sh.ID).Status; got != models.ShipmentStatusReadyForDispatch {
		t.Fatalf("rejected dispatch must not move the shipment, got %s", got)
	}
}

func TestTransition_SkipRaisesSecurityAlert(t *testing.T) {
	f := newFixture(t)
	c := f.customer("+8613800138000")
	sh := f.shipment(c.ID, 500)

	_, err := f.transition(admin, models.EntityShipment, sh.ID, string(models.ShipmentStatusInTransit), Params{})
	expectKind(t, err, models.KindInvalidTransition)
	if last := f.lastEntry(); last.EventType != models.AuditSecurityAlert || last.ActorID != admin.ID {
		t.Fatalf("expected SECURITY_ALERT for a skip, got %s by %s", last.EventType, last.ActorID)
	}
	if got := f.reloadShipment(sh.ID).Status; got != models.ShipmentStatusDraft {
		t.Fatalf("shipment moved on rejected skip: %s", got)
	}
}

func TestTransition_BackwardRaisesSecurityAlert(t *testing.T) {
	f := newFixture(t)
	c := f.customer("+8613800138000")
	sh := f.shipment(c.ID, 500)
	f.mustTransition(admin, models.EntityShipment, sh.ID, string(models.ShipmentStatusApproved), Params{})

	_, err := f.transition(admin, models.EntityShipment, sh.ID, string(models.ShipmentStatusDraft), Params{})
	expectKind(t, err, models.KindInvalidTransition)
	if last := f.lastEntry(); last.EventType != models.AuditSecurityAlert {
		t.Fatalf("expected SECURITY_ALERT for a backward move, got %s", last.EventType)
	}
}

func TestTransition_AutoStatesAreSystemOnly(t *testing.T) {
	f := newFixture(t)
	c := f.customer("+8613800138000")
	sh := f.shipment(c.ID, 500)
	f.mustTransition(admin, models.EntityShipment, sh.ID, string(models.ShipmentStatusApproved), Params{})

	_, err := f.transition(admin, models.EntityShipment, sh.ID, string(models.ShipmentStatusReadyForDispatch), Params{})
	expectKind(t, err, models.KindUnauthorized)
	if last := f.lastEntry(); last.EventType != models.AuditAccessDenied {
		t.Fatalf("expected ACCESS_DENIED, got %s", last.EventType)
	}
}

func TestTransition_RegionScopedOps(t *testing.T) {
	f := newFixture(t)
	sh, _ := f.paidShipment("PKG-1")

	_, err := f.transition(opsTZ, models.EntityShipment, sh.ID, string(models.ShipmentStatusInTransit), Params{})
	expectKind(t, err, models.KindUnauthorized)

	f.mustTransition(opsCN, models.EntityShipment, sh.ID, string(models.ShipmentStatusInTransit), Params{})
	_, err = f.transition(opsCN, models.EntityShipment, sh.ID, string(models.ShipmentStatusReceived),
		Params{ManifestScanRef: "MAN-1", WarehouseID: warehouseDAR})
	expectKind(t, err, models.KindUnauthorized)
	if got := f.reloadShipment(sh.ID).Status; got != models.ShipmentStatusInTransit {
		t.Fatalf("denied receive moved the shipment to %s", got)
	}
}

func TestTransition_ReceiveNeedsManifestAndDestinationWarehouse(t *testing.T) {
	f := newFixture(t)
	sh, _ := f.paidShipment("PKG-1")
	f.mustTransition(opsCN, models.EntityShipment, sh.ID, string(models.ShipmentStatusInTransit), Params{})

	_, err := f.transition(opsTZ, models.EntityShipment, sh.ID, string(models.ShipmentStatusReceived), Params{WarehouseID: warehouseDAR})
	if te := expectKind(t, err, models.KindPreconditionNotMet); te.Precondition != "manifest_scan_confirmed" {
		t.Fatalf("expected manifest precondition, got %q", te.Precondition)
	}
	_, err = f.transition(opsTZ, models.EntityShipment, sh.ID, string(models.ShipmentStatusReceived), Params{ManifestScanRef: "MAN-1", WarehouseID: warehouseGZ})
	if te := expectKind(t, err, models.KindPreconditionNotMet); te.Precondition != "destination_warehouse" {
		t.Fatalf("expected destination warehouse precondition, got %q", te.Precondition)
	}
}

func TestCascade_OnlyWhenEveryPackageStaged(t *testing.T) {
	f := newFixture(t)
	c := f.customer("+8613800138000")
	sh := f.shipment(c.ID, 700)
	p1 := f.pkg("PKG-1", c.ID)
	p2 := f.pkg("PKG-2", c.ID)
	f.stage(p1.ID, sh.ID)
	f.stage(p2.ID, sh.ID)

	f.mustTransition(opsCN, models.EntityPackage, p2.ID, string(models.PackageStatusScanned), Params{})
	if got := f.reloadPackage(p2.ID).ShipmentID; got != sh.ID {
		t.Fatalf("unstaged package must stay linked, got %q", got)
	}

	res := f.mustTransition(admin, models.EntityShipment, sh.ID, string(models.ShipmentStatusApproved), Params{})
	if len(res.Cascaded) != 0 {
		t.Fatalf("cascade fired with an unstaged package: %+v", res.Cascaded)
	}
	if got := f.reloadShipment(sh.ID).Status; got != models.ShipmentStatusApproved {
		t.Fatalf("expected APPROVED, got %s", got)
	}

	res = f.mustTransition(opsCN, models.EntityPackage, p2.ID, string(models.PackageStatusStaged), Params{})
	if len(res.Cascaded) != 1 || res.Cascaded[0].EntityType != models.EntityShipment {
		t.Fatalf("expected restaging the last package to cascade, got %+v", res.Cascaded)
	}
	if got := f.reloadShipment(sh.ID); got.Status != models.ShipmentStatusReadyForDispatch || got.PackageCount != 2 {
		t.Fatalf("expected READY_FOR_DISPATCH with 2 packages, got %s/%d", got.Status, got.PackageCount)
	}
}

func TestEvaluateShipmentCascade(t *testing.T) {
	approved := models.Shipment{Status: models.ShipmentStatusApproved, ApprovalStatus: models.ApprovalStatusApproved}
	received := models.Shipment{Status: models.ShipmentStatusReceived, ApprovalStatus: models.ApprovalStatusApproved}
	pkg := func(s models.PackageStatus) models.Package { return models.Package{Status: s} }

	cases := []struct {
		name string
		s    models.Shipment
		pkgs []models.Package
		want models.ShipmentStatus
		ok   bool
	}{
		{"empty set never cascades", approved, nil, "", false},
		{"all staged", approved, []models.Package{pkg(models.PackageStatusStaged), pkg(models.PackageStatusStaged)}, models.ShipmentStatusReadyForDispatch, true},
		{"one scanned", approved, []models.Package{pkg(models.PackageStatusStaged), pkg(models.PackageStatusScanned)}, "", false},
		{"draft shipment", models.Shipment{Status: models.ShipmentStatusDraft}, []models.Package{pkg(models.PackageStatusStaged)}, "", false},
		{"all located", received, []models.Package{pkg(models.PackageStatusLocated), pkg(models.PackageStatusReleased)}, models.ShipmentStatusReadyForRelease, true},
		{"one arrived", received, []models.Package{pkg(models.PackageStatusLocated), pkg(models.PackageStatusArrived)}, "", false},
	}
	for _, tc := range cases {
		got, ok := EvaluateShipmentCascade(tc.s, tc.pkgs)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("%s: expected (%q,%v), got (%q,%v)", tc.name, tc.want, tc.ok, got, ok)
		}
	}
}

func TestTransition_StagingUnknownShipment(t *testing.T) {
	f := newFixture(t)
	c := f.customer("+8613800138000")
	p := f.pkg("PKG-1", c.ID)

	_, err := f.transition(opsCN, models.EntityPackage, p.ID, string(models.PackageStatusStaged), Params{ShipmentID: "missing"})
	expectKind(t, err, models.KindNotFound)
	_, err = f.transition(opsCN, models.EntityPackage, p.ID, string(models.PackageStatusStaged), Params{})
	if te := expectKind(t, err, models.KindPreconditionNotMet); te.Precondition != "shipment_assigned" {
		t.Fatalf("expected shipment_assigned, got %q", te.Precondition)
	}
}

func TestTransition_PaymentMustMatchInvoice(t *testing.T) {
	f := newFixture(t)
	c := f.customer("+8613800138000")
	sh := f.shipment(c.ID, 4500)
	f.mustTransition(admin, models.EntityShipment, sh.ID, string(models.ShipmentStatusApproved), Params{})
	inv, err := f.engine.GenerateInvoice(context.Background(), finance, sh.ID)
	if err != nil {
		t.Fatalf("generate invoice: %v", err)
	}

	partial := inv.Amount.Sub(decimal.NewFromInt(500))
	_, err = f.transition(finance, models.EntityInvoice, inv.ID, string(models.InvoiceStatusPaymentReceived), Params{PaymentRef: "TT-1", Amount: &partial})
	if te := expectKind(t, err, models.KindPreconditionNotMet); te.Precondition != "exact_amount" {
		t.Fatalf("expected exact_amount, got %q", te.Precondition)
	}
	_, err = f.transition(opsCN, models.EntityInvoice, inv.ID, string(models.InvoiceStatusPaymentReceived), Params{PaymentRef: "TT-1", Amount: &inv.Amount})
	expectKind(t, err, models.KindUnauthorized)

	res := f.mustTransition(finance, models.EntityInvoice, inv.ID, string(models.InvoiceStatusPaymentReceived), Params{PaymentRef: "TT-1", Amount: &inv.Amount})
	if len(res.AuditEntryIDs) != 1 || len(res.Cascaded) != 1 || res.Cascaded[0].To != string(models.PaymentStatusPaid) {
		t.Fatalf("expected one PAYMENT_CONFIRMED entry flipping payment status, got %+v", res)
	}
	_, err = f.transition(finance, models.EntityInvoice, inv.ID, string(models.InvoiceStatusPendingPayment), Params{})
	expectKind(t, err, models.KindInvalidTransition)
}
