package store

import (
	"errors"

	"github.com/mmdatafocus/freight_backend/models"
)

var (
	ErrUniqueViolation = errors.New("unique constraint violated")
	ErrImmutableField  = errors.New("immutable field changed")
)

// Changeset collects the records written by one command. Later puts of the
// same id replace earlier ones so a cascade can stage a record twice.
type Changeset struct {
	customers []models.Customer
	shipments []models.Shipment
	packages  []models.Package
	invoices  []models.Invoice
	expenses  []models.Expense
}

func NewChangeset() *Changeset {
	return &Changeset{}
}

func (cs *Changeset) PutCustomer(c models.Customer) {
	for i := range cs.customers {
		if cs.customers[i].ID == c.ID {
			cs.customers[i] = c.Clone()
			return
		}
	}
	cs.customers = append(cs.customers, c.Clone())
}

func (cs *Changeset) PutShipment(s models.Shipment) {
	for i := range cs.shipments {
		if cs.shipments[i].ID == s.ID {
			cs.shipments[i] = s.Clone()
			return
		}
	}
	cs.shipments = append(cs.shipments, s.Clone())
}

func (cs *Changeset) PutPackage(p models.Package) {
	for i := range cs.packages {
		if cs.packages[i].ID == p.ID {
			cs.packages[i] = p.Clone()
			return
		}
	}
	cs.packages = append(cs.packages, p.Clone())
}

func (cs *Changeset) PutInvoice(inv models.Invoice) {
	for i := range cs.invoices {
		if cs.invoices[i].ID == inv.ID {
			cs.invoices[i] = inv.Clone()
			return
		}
	}
	cs.invoices = append(cs.invoices, inv.Clone())
}

func (cs *Changeset) PutExpense(e models.Expense) {
	for i := range cs.expenses {
		if cs.expenses[i].ID == e.ID {
			cs.expenses[i] = e.Clone()
			return
		}
	}
	cs.expenses = append(cs.expenses, e.Clone())
}
