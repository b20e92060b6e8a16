package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mmdatafocus/freight_backend/models"
	"github.com/mmdatafocus/freight_backend/utils"
)

const (
	accountNumberBase  = 10000
	trackingNumberBase = 88000
)

// MemoryStore is the single authoritative copy of every entity. Records go in
// and come out as clones; callers never hold a pointer into the maps.
type MemoryStore struct {
	mu sync.RWMutex

	warehouses map[string]models.Warehouse
	customers  map[string]models.Customer
	packages   map[string]models.Package
	shipments  map[string]models.Shipment
	invoices   map[string]models.Invoice
	expenses   map[string]models.Expense

	invoiceByShipment  map[string]string
	customersByPhone   map[string][]string
	packageByCode      map[string]string
	shipmentByTracking map[string]string
	accountNumbers     map[string]string

	accountSeq  int
	trackingSeq int
}

func NewMemoryStore(warehouses ...models.Warehouse) *MemoryStore {
	s := &MemoryStore{
		warehouses:         make(map[string]models.Warehouse),
		customers:          make(map[string]models.Customer),
		packages:           make(map[string]models.Package),
		shipments:          make(map[string]models.Shipment),
		invoices:           make(map[string]models.Invoice),
		expenses:           make(map[string]models.Expense),
		invoiceByShipment:  make(map[string]string),
		customersByPhone:   make(map[string][]string),
		packageByCode:      make(map[string]string),
		shipmentByTracking: make(map[string]string),
		accountNumbers:     make(map[string]string),
	}
	if len(warehouses) == 0 {
		warehouses = models.DefaultWarehouses()
	}
	for _, w := range warehouses {
		s.warehouses[w.ID] = w
	}
	return s
}

// NextAccountNumber reserves the next customer account number (ST-10001, ...).
// Numbers of rolled-back creations are not reused.
func (s *MemoryStore) NextAccountNumber() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountSeq++
	return fmt.Sprintf("ST-%d", accountNumberBase+s.accountSeq)
}

// NextTrackingNumber reserves the next master waybill number.
func (s *MemoryStore) NextTrackingNumber() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackingSeq++
	return fmt.Sprintf("SHP-%d", trackingNumberBase+s.trackingSeq)
}

func (s *MemoryStore) Warehouse(id string) (models.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.warehouses[id]
	if !ok {
		return models.Warehouse{}, utils.ErrorRecordNotFound
	}
	return w, nil
}

func (s *MemoryStore) Warehouses() []models.Warehouse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Warehouse, 0, len(s.warehouses))
	for _, w := range s.warehouses {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) Customer(id string) (models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return models.Customer{}, utils.ErrorRecordNotFound
	}
	return c.Clone(), nil
}

// CustomersByPhone returns every customer sharing the normalized phone.
func (s *MemoryStore) CustomersByPhone(normalized string) []models.Customer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.customersByPhone[normalized]
	out := make([]models.Customer, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.customers[id].Clone())
	}
	return out
}

func (s *MemoryStore) Customers() []models.Customer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountNumber < out[j].AccountNumber })
	return out
}

func (s *MemoryStore) Package(id string) (models.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.packages[id]
	if !ok {
		return models.Package{}, utils.ErrorRecordNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) PackageByCode(code string) (models.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.packageByCode[code]
	if !ok {
		return models.Package{}, utils.ErrorRecordNotFound
	}
	return s.packages[id].Clone(), nil
}

func (s *MemoryStore) PackagesForShipment(shipmentID string) []models.Package {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Package
	for _, p := range s.packages {
		if p.ShipmentID == shipmentID {
			out = append(out, p.Clone())
		}
	}
	sortPackages(out)
	return out
}

func (s *MemoryStore) Packages() []models.Package {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Package, 0, len(s.packages))
	for _, p := range s.packages {
		out = append(out, p.Clone())
	}
	sortPackages(out)
	return out
}

func (s *MemoryStore) Shipment(id string) (models.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shipments[id]
	if !ok {
		return models.Shipment{}, utils.ErrorRecordNotFound
	}
	return sh.Clone(), nil
}

func (s *MemoryStore) ShipmentByTracking(trackingNo string) (models.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.shipmentByTracking[trackingNo]
	if !ok {
		return models.Shipment{}, utils.ErrorRecordNotFound
	}
	return s.shipments[id].Clone(), nil
}

func (s *MemoryStore) Shipments() []models.Shipment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Shipment, 0, len(s.shipments))
	for _, sh := range s.shipments {
		out = append(out, sh.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackingNo < out[j].TrackingNo })
	return out
}

func (s *MemoryStore) Invoice(id string) (models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return models.Invoice{}, utils.ErrorRecordNotFound
	}
	return inv.Clone(), nil
}

func (s *MemoryStore) InvoiceForShipment(shipmentID string) (models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.invoiceByShipment[shipmentID]
	if !ok {
		return models.Invoice{}, utils.ErrorRecordNotFound
	}
	return s.invoices[id].Clone(), nil
}

func (s *MemoryStore) Invoices() []models.Invoice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		out = append(out, inv.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *MemoryStore) Expense(id string) (models.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.expenses[id]
	if !ok {
		return models.Expense{}, utils.ErrorRecordNotFound
	}
	return e.Clone(), nil
}

func (s *MemoryStore) ExpensesForShipment(shipmentID string) []models.Expense {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Expense
	for _, e := range s.expenses {
		if e.ShipmentID == shipmentID {
			out = append(out, e.Clone())
		}
	}
	sortExpenses(out)
	return out
}

func (s *MemoryStore) Expenses() []models.Expense {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Expense, 0, len(s.expenses))
	for _, e := range s.expenses {
		out = append(out, e.Clone())
	}
	sortExpenses(out)
	return out
}

// Apply writes every record staged in cs as one unit. commit runs first while
// the write lock is held; if it fails nothing is written. The engine passes
// the audit append as commit, so an entity change never exists without its
// audit entry.
func (s *MemoryStore) Apply(ctx context.Context, cs *Changeset, commit func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUnique(cs); err != nil {
		return err
	}
	if commit != nil {
		if err := commit(); err != nil {
			return err
		}
	}

	for _, c := range cs.customers {
		s.putCustomer(c)
	}
	for _, sh := range cs.shipments {
		s.shipments[sh.ID] = sh.Clone()
		s.shipmentByTracking[sh.TrackingNo] = sh.ID
	}
	for _, p := range cs.packages {
		s.packages[p.ID] = p.Clone()
		s.packageByCode[p.Code] = p.ID
	}
	for _, inv := range cs.invoices {
		s.invoices[inv.ID] = inv.Clone()
		s.invoiceByShipment[inv.ShipmentID] = inv.ID
	}
	for _, e := range cs.expenses {
		s.expenses[e.ID] = e.Clone()
	}
	return nil
}

func (s *MemoryStore) putCustomer(c models.Customer) {
	if prev, ok := s.customers[c.ID]; ok && prev.NormalizedPhone != c.NormalizedPhone {
		ids := s.customersByPhone[prev.NormalizedPhone]
		for i, id := range ids {
			if id == c.ID {
				s.customersByPhone[prev.NormalizedPhone] = append(ids[:i:i], ids[i+1:]...)
				break
			}
		}
		s.customersByPhone[c.NormalizedPhone] = append(s.customersByPhone[c.NormalizedPhone], c.ID)
	} else if !ok {
		s.customersByPhone[c.NormalizedPhone] = append(s.customersByPhone[c.NormalizedPhone], c.ID)
	}
	s.customers[c.ID] = c.Clone()
	s.accountNumbers[c.AccountNumber] = c.ID
}

// checkUnique enforces the identity indices. Phone numbers are not unique:
// an Admin may force a duplicate.
func (s *MemoryStore) checkUnique(cs *Changeset) error {
	for _, inv := range cs.invoices {
		if id, ok := s.invoiceByShipment[inv.ShipmentID]; ok && id != inv.ID {
			return fmt.Errorf("%w: shipment %s already has invoice %s", ErrUniqueViolation, inv.ShipmentID, id)
		}
	}
	for _, p := range cs.packages {
		if id, ok := s.packageByCode[p.Code]; ok && id != p.ID {
			return fmt.Errorf("%w: package code %s already used by %s", ErrUniqueViolation, p.Code, id)
		}
	}
	for _, sh := range cs.shipments {
		if id, ok := s.shipmentByTracking[sh.TrackingNo]; ok && id != sh.ID {
			return fmt.Errorf("%w: tracking number %s already used by %s", ErrUniqueViolation, sh.TrackingNo, id)
		}
		if prev, ok := s.shipments[sh.ID]; ok && prev.TrackingNo != sh.TrackingNo {
			return fmt.Errorf("%w: tracking number of %s is immutable", ErrImmutableField, sh.ID)
		}
	}
	for _, c := range cs.customers {
		if id, ok := s.accountNumbers[c.AccountNumber]; ok && id != c.ID {
			return fmt.Errorf("%w: account number %s already used by %s", ErrUniqueViolation, c.AccountNumber, id)
		}
		if prev, ok := s.customers[c.ID]; ok && (prev.AccountNumber != c.AccountNumber || prev.Region != c.Region) {
			return fmt.Errorf("%w: account number and region of %s are immutable", ErrImmutableField, c.ID)
		}
	}
	for _, p := range cs.packages {
		if prev, ok := s.packages[p.ID]; ok && prev.IsTerminal() {
			return fmt.Errorf("%w: package %s is released", ErrImmutableField, p.ID)
		}
	}
	for _, inv := range cs.invoices {
		if prev, ok := s.invoices[inv.ID]; ok && prev.IsReadOnly() {
			return fmt.Errorf("%w: invoice %s is paid", ErrImmutableField, inv.ID)
		}
	}
	return nil
}

func sortPackages(ps []models.Package) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Code < ps[j].Code })
}

func sortExpenses(es []models.Expense) {
	sort.Slice(es, func(i, j int) bool {
		if !es[i].CreatedAt.Equal(es[j].CreatedAt) {
			return es[i].CreatedAt.Before(es[j].CreatedAt)
		}
		return es[i].ID < es[j].ID
	})
}
