package authz

import "github.com/mmdatafocus/freight_backend/models"

func ShipmentTarget(s models.Shipment) Target {
	return Target{
		EntityType:  models.EntityShipment,
		EntityID:    s.ID,
		Origin:      s.OriginRegion,
		Destination: s.DestinationRegion,
	}
}

// PackageTarget scopes a package by the region of the warehouse holding it.
func PackageTarget(p models.Package, warehouseRegion models.Region) Target {
	return Target{EntityType: models.EntityPackage, EntityID: p.ID, Regions: []models.Region{warehouseRegion}}
}

func ExpenseTarget(e models.Expense) Target {
	return Target{EntityType: models.EntityExpense, EntityID: e.ID, Regions: []models.Region{e.Region}}
}

func CustomerTarget(c models.Customer) Target {
	return Target{EntityType: models.EntityCustomer, EntityID: c.ID, Regions: []models.Region{c.Region}}
}

// InvoiceTarget scopes an invoice by its shipment's route.
func InvoiceTarget(inv models.Invoice, s models.Shipment) Target {
	return Target{
		EntityType:  models.EntityInvoice,
		EntityID:    inv.ID,
		Origin:      s.OriginRegion,
		Destination: s.DestinationRegion,
	}
}

func isGlobal(actor models.Actor) bool {
	r := roleOf(actor.Role)
	return r == finance || r == admin || r == system
}

func inRegion(actor models.Actor, regions ...models.Region) bool {
	if isGlobal(actor) {
		return true
	}
	if roleOf(actor.Role) != ops {
		return false
	}
	for _, r := range regions {
		if r == actor.Region() {
			return true
		}
	}
	return false
}

func CanSeeShipment(actor models.Actor, s models.Shipment) bool {
	return inRegion(actor, s.OriginRegion, s.DestinationRegion)
}

func CanSeePackage(actor models.Actor, warehouseRegion models.Region) bool {
	return inRegion(actor, warehouseRegion)
}

func CanSeeExpense(actor models.Actor, e models.Expense) bool {
	return inRegion(actor, e.Region)
}

func CanSeeCustomer(actor models.Actor, c models.Customer) bool {
	return inRegion(actor, c.Region)
}

// CanSeeInvoice follows the shipment: Ops see invoices on routes they serve.
func CanSeeInvoice(actor models.Actor, s models.Shipment) bool {
	return CanSeeShipment(actor, s)
}
