package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/freight_backend/models"
	"github.com/mmdatafocus/freight_backend/utils"
	"github.com/shopspring/decimal"
)

func seedShipment(t *testing.T, s *MemoryStore) models.Shipment {
	t.Helper()
	sh := models.Shipment{
		ID:                "s-1",
		TrackingNo:        s.NextTrackingNumber(),
		Status:            models.ShipmentStatusDraft,
		OriginRegion:      models.RegionChina,
		DestinationRegion: models.RegionTanzania,
		CreatedAt:         time.Now(),
	}
	cs := NewChangeset()
	cs.PutShipment(sh)
	if err := s.Apply(context.Background(), cs, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return sh
}

func TestApply_CommitFailureWritesNothing(t *testing.T) {
	s := NewMemoryStore()
	sh := seedShipment(t, s)

	sh.Status = models.ShipmentStatusApproved
	cs := NewChangeset()
	cs.PutShipment(sh)
	cs.PutPackage(models.Package{ID: "p-1", Code: "PKG-1", ShipmentID: sh.ID, Status: models.PackageStatusStaged})

	hookErr := errors.New("audit sink down")
	if err := s.Apply(context.Background(), cs, func() error { return hookErr }); !errors.Is(err, hookErr) {
		t.Fatalf("expected hook error, got %v", err)
	}

	got, _ := s.Shipment(sh.ID)
	if got.Status != models.ShipmentStatusDraft {
		t.Fatalf("shipment written despite failed commit: %s", got.Status)
	}
	if _, err := s.Package("p-1"); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("package written despite failed commit")
	}
}

func TestApply_InvoiceUniquePerShipment(t *testing.T) {
	s := NewMemoryStore()
	sh := seedShipment(t, s)

	cs := NewChangeset()
	cs.PutInvoice(models.Invoice{ID: "i-1", ShipmentID: sh.ID, Amount: decimal.NewFromInt(10)})
	if err := s.Apply(context.Background(), cs, nil); err != nil {
		t.Fatalf("first invoice: %v", err)
	}

	called := false
	cs = NewChangeset()
	cs.PutInvoice(models.Invoice{ID: "i-2", ShipmentID: sh.ID})
	err := s.Apply(context.Background(), cs, func() error { called = true; return nil })
	if !errors.Is(err, ErrUniqueViolation) {
		t.Fatalf("expected unique violation, got %v", err)
	}
	if called {
		t.Fatalf("commit hook must not run when the changeset is rejected")
	}
}

func TestApply_ReleasedPackageIsImmutable(t *testing.T) {
	s := NewMemoryStore()
	p := models.Package{ID: "p-1", Code: "PKG-1", Status: models.PackageStatusReleased}
	cs := NewChangeset()
	cs.PutPackage(p)
	if err := s.Apply(context.Background(), cs, nil); err != nil {
		t.Fatal(err)
	}
	p.LocationCode = "A-01"
	cs = NewChangeset()
	cs.PutPackage(p)
	if err := s.Apply(context.Background(), cs, nil); !errors.Is(err, ErrImmutableField) {
		t.Fatalf("expected immutable error, got %v", err)
	}
}

func TestApply_TrackingNumberImmutable(t *testing.T) {
	s := NewMemoryStore()
	sh := seedShipment(t, s)
	sh.TrackingNo = "SHP-0"
	cs := NewChangeset()
	cs.PutShipment(sh)
	if err := s.Apply(context.Background(), cs, nil); !errors.Is(err, ErrImmutableField) {
		t.Fatalf("expected immutable error, got %v", err)
	}
}

func TestReads_ReturnCopies(t *testing.T) {
	s := NewMemoryStore()
	sh := seedShipment(t, s)

	got, _ := s.Shipment(sh.ID)
	got.Status = models.ShipmentStatusCompleted
	again, _ := s.Shipment(sh.ID)
	if again.Status != models.ShipmentStatusDraft {
		t.Fatalf("caller mutation leaked into store")
	}
}

func TestCustomersByPhone_AllowsForcedDuplicates(t *testing.T) {
	s := NewMemoryStore()
	cs := NewChangeset()
	cs.PutCustomer(models.Customer{ID: "c-1", AccountNumber: s.NextAccountNumber(), NormalizedPhone: "+255712345678", Region: models.RegionTanzania})
	cs.PutCustomer(models.Customer{ID: "c-2", AccountNumber: s.NextAccountNumber(), NormalizedPhone: "+255712345678", Region: models.RegionTanzania})
	if err := s.Apply(context.Background(), cs, nil); err != nil {
		t.Fatal(err)
	}
	if got := s.CustomersByPhone("+255712345678"); len(got) != 2 {
		t.Fatalf("expected 2 customers on phone, got %d", len(got))
	}
	if c, _ := s.Customer("c-1"); c.AccountNumber != "ST-10001" {
		t.Fatalf("expected ST-10001, got %s", c.AccountNumber)
	}
}

func TestApply_CancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Apply(ctx, NewChangeset(), nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewMemoryStore_SeedsWarehouses(t *testing.T) {
	s := NewMemoryStore()
	w, err := s.Warehouse("WH-DAR-01")
	if err != nil || w.Region != models.RegionTanzania {
		t.Fatalf("expected DAR warehouse in TZ, got %+v %v", w, err)
	}
}
