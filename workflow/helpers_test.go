package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmdatafocus/freight_backend/audit"
	"github.com/mmdatafocus/freight_backend/models"
	"github.com/mmdatafocus/freight_backend/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	opsCN   = models.Actor{ID: "u-ops-cn", Name: "Li Wei", Role: models.OpsRole{Region: models.RegionChina}}
	opsTZ   = models.Actor{ID: "u-ops-tz", Name: "Neema", Role: models.OpsRole{Region: models.RegionTanzania}}
	finance = models.Actor{ID: "u-fin", Name: "Baraka", Role: models.FinanceRole{}}
	admin   = models.Actor{ID: "u-admin", Name: "Asha", Role: models.AdminRole{}}
)

const (
	warehouseGZ  = "WH-GZ-01"
	warehouseDAR = "WH-DAR-01"
)

// switchSink fails every append while fail is set.
type switchSink struct {
	audit.MemorySink
	fail atomic.Bool
}

func (s *switchSink) Append(ctx context.Context, entries []audit.Entry) error {
	if s.fail.Load() {
		return errors.New("audit storage unavailable")
	}
	return s.MemorySink.Append(ctx, entries)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fixture struct {
	t      *testing.T
	engine *Engine
	log    *audit.Log
	sink   *switchSink
	now    time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{t: t, sink: &switchSink{}, now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	logger := quietLogger()

	var n atomic.Int64
	ids := func() string { return fmt.Sprintf("id-%04d", n.Add(1)) }

	f.log = audit.NewLog(f.sink, audit.WithClock(clock), audit.WithLogger(logger))
	base := []Option{WithClock(clock), WithIDGenerator(ids), WithLogger(logger)}
	f.engine = NewEngine(store.NewMemoryStore(), f.log, append(base, opts...)...)
	return f
}

func (f *fixture) customer(phone string) models.Customer {
	f.t.Helper()
	c, err := f.engine.CreateCustomer(context.Background(), opsCN, models.NewCustomer{
		Name:    "Juma Traders",
		Phone:   phone,
		Address: "Kariakoo, Dar es Salaam",
	}, false)
	if err != nil {
		f.t.Fatalf("create customer: %v", err)
	}
	return c
}

func (f *fixture) shipment(customerID string, total int64) models.Shipment {
	f.t.Helper()
	sh, err := f.engine.CreateShipment(context.Background(), opsCN, models.NewShipment{
		CustomerID:        customerID,
		OriginRegion:      models.RegionChina,
		DestinationRegion: models.RegionTanzania,
		Pricing: models.PricingInput{
			Type:      models.PricingTypeFlat,
			BasePrice: decimal.NewFromInt(total),
			Currency:  models.CurrencyUSD,
		},
	})
	if err != nil {
		f.t.Fatalf("create shipment: %v", err)
	}
	return sh
}

func (f *fixture) pkg(code, customerID string) models.Package {
	f.t.Helper()
	p, err := f.engine.RegisterPackage(context.Background(), opsCN, models.NewPackage{
		Code:        code,
		Description: "Spare parts",
		Weight:      decimal.NewFromInt(12),
		Volume:      decimal.RequireFromString("0.4"),
		CustomerID:  customerID,
		WarehouseID: warehouseGZ,
	})
	if err != nil {
		f.t.Fatalf("register package %s: %v", code, err)
	}
	return p
}

func (f *fixture) transition(actor models.Actor, entity models.EntityType, id, target string, params Params) (*TransitionResult, error) {
	return f.engine.AttemptTransition(context.Background(), TransitionRequest{
		EntityType: entity,
		EntityID:   id,
		Target:     target,
		Actor:      actor,
		Params:     params,
	})
}

func (f *fixture) mustTransition(actor models.Actor, entity models.EntityType, id, target string, params Params) *TransitionResult {
	f.t.Helper()
	res, err := f.transition(actor, entity, id, target, params)
	if err != nil {
		f.t.Fatalf("%s %s -> %s: %v", entity, id, target, err)
	}
	return res
}

func (f *fixture) stage(pkgID, shipmentID string) *TransitionResult {
	f.t.Helper()
	return f.mustTransition(opsCN, models.EntityPackage, pkgID, string(models.PackageStatusStaged), Params{ShipmentID: shipmentID})
}

// paidShipment returns an approved, invoiced and paid shipment holding the
// given packages, all staged.
func (f *fixture) paidShipment(codes ...string) (models.Shipment, []models.Package) {
	f.t.Helper()
	c := f.customer("+8613800138000")
	sh := f.shipment(c.ID, 4500)
	var pkgs []models.Package
	for _, code := range codes {
		p := f.pkg(code, c.ID)
		f.stage(p.ID, sh.ID)
		pkgs = append(pkgs, p)
	}
	f.mustTransition(admin, models.EntityShipment, sh.ID, string(models.ShipmentStatusApproved), Params{})
	inv, err := f.engine.GenerateInvoice(context.Background(), finance, sh.ID)
	if err != nil {
		f.t.Fatalf("generate invoice: %v", err)
	}
	amount := inv.Amount
	f.mustTransition(finance, models.EntityInvoice, inv.ID, string(models.InvoiceStatusPaymentReceived), Params{PaymentRef: "TT-001", Amount: &amount})
	return f.reloadShipment(sh.ID), pkgs
}

func (f *fixture) reloadShipment(id string) models.Shipment {
	f.t.Helper()
	sh, err := f.engine.Store().Shipment(id)
	if err != nil {
		f.t.Fatalf("reload shipment: %v", err)
	}
	return sh
}

func (f *fixture) reloadPackage(id string) models.Package {
	f.t.Helper()
	p, err := f.engine.Store().Package(id)
	if err != nil {
		f.t.Fatalf("reload package: %v", err)
	}
	return p
}

func (f *fixture) lastEntry() audit.Entry {
	f.t.Helper()
	entries := f.log.Entries()
	if len(entries) == 0 {
		f.t.Fatalf("audit log is empty")
	}
	return entries[len(entries)-1]
}

func expectKind(t *testing.T, err error, kind models.ErrorKind) *models.TransitionError {
	t.Helper()
	var te *models.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected %s, got %v", kind, err)
	}
	if te.Kind != kind {
		t.Fatalf("expected %s, got %s: %v", kind, te.Kind, err)
	}
	return te
}
