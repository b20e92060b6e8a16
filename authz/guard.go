package authz

import (
	"fmt"

	"github.com/mmdatafocus/freight_backend/models"
)

type Action string

const (
	ActionShipmentCreate        Action = "shipment.create"
	ActionShipmentApprove       Action = "shipment.approve"
	ActionShipmentDispatch      Action = "shipment.dispatch"
	ActionShipmentReceive       Action = "shipment.receive"
	ActionShipmentComplete      Action = "shipment.complete"
	ActionShipmentReject        Action = "shipment.reject"
	ActionShipmentPriceUpdate   Action = "shipment.price.update"
	ActionShipmentPriceLock     Action = "shipment.price.lock"
	ActionShipmentPriceOverride Action = "shipment.price.override"
	ActionShipmentAuto          Action = "shipment.auto"

	ActionPackageScan     Action = "package.scan"
	ActionPackageStage    Action = "package.stage"
	ActionPackageUnstage  Action = "package.unstage"
	ActionPackageDispatch Action = "package.dispatch"
	ActionPackageArrive   Action = "package.arrive"
	ActionPackageLocate   Action = "package.locate"
	ActionPackageReady    Action = "package.ready"
	ActionPackageRelease  Action = "package.release"

	ActionInvoiceGenerate Action = "invoice.generate"
	ActionInvoicePay      Action = "invoice.pay"

	ActionExpenseSubmit  Action = "expense.submit"
	ActionExpenseApprove Action = "expense.approve"
	ActionExpenseReject  Action = "expense.reject"
	ActionExpenseFund    Action = "expense.fund"

	ActionCustomerCreate      Action = "customer.create"
	ActionCustomerCreateForce Action = "customer.create.force"
	ActionCustomerUpdate      Action = "customer.update"

	ActionAuditRead       Action = "audit.read"
	ActionReportProfit    Action = "report.profit"
	ActionReportDashboard Action = "report.dashboard"
)

type roleSet uint8

const (
	ops roleSet = 1 << iota
	finance
	admin
	system
)

func roleOf(r models.Role) roleSet {
	switch r.(type) {
	case models.OpsRole:
		return ops
	case models.FinanceRole:
		return finance
	case models.AdminRole:
		return admin
	case models.SystemRole:
		return system
	}
	return 0
}

// Scope says which of the target's regions an Ops actor must hold.
type Scope int

const (
	// ScopeAny matches any region the target is tagged with.
	ScopeAny Scope = iota
	ScopeOrigin
	ScopeDestination
)

type permission struct {
	roles roleSet
	scope Scope
}

var permissions = map[Action]permission{
	ActionShipmentCreate:        {roles: ops | admin},
	ActionShipmentApprove:       {roles: admin},
	ActionShipmentDispatch:      {roles: ops | admin, scope: ScopeOrigin},
	ActionShipmentReceive:       {roles: ops | admin, scope: ScopeDestination},
	ActionShipmentComplete:      {roles: ops | admin, scope: ScopeDestination},
	ActionShipmentReject:        {roles: admin},
	ActionShipmentPriceUpdate:   {roles: ops | admin, scope: ScopeOrigin},
	ActionShipmentPriceLock:     {roles: ops | admin, scope: ScopeOrigin},
	ActionShipmentPriceOverride: {roles: admin},
	ActionShipmentAuto:          {roles: system},

	ActionPackageScan:     {roles: ops | admin},
	ActionPackageStage:    {roles: ops | admin},
	ActionPackageUnstage:  {roles: ops | admin},
	ActionPackageDispatch: {roles: system},
	ActionPackageArrive:   {roles: system},
	ActionPackageLocate:   {roles: ops | admin},
	ActionPackageReady:    {roles: ops | admin | system},
	ActionPackageRelease:  {roles: ops | admin},

	ActionInvoiceGenerate: {roles: finance | admin},
	ActionInvoicePay:      {roles: finance | admin},

	ActionExpenseSubmit:  {roles: ops | finance | admin},
	ActionExpenseApprove: {roles: admin},
	ActionExpenseReject:  {roles: admin},
	ActionExpenseFund:    {roles: finance},

	ActionCustomerCreate:      {roles: ops | admin},
	ActionCustomerCreateForce: {roles: admin},
	ActionCustomerUpdate:      {roles: admin},

	ActionAuditRead:       {roles: admin},
	ActionReportProfit:    {roles: finance | admin},
	ActionReportDashboard: {roles: ops | finance | admin},
}

// Target carries the region tags of the entity being acted on. Origin and
// Destination are only set for shipments; Regions covers everything else.
type Target struct {
	EntityType  models.EntityType
	EntityID    string
	Regions     []models.Region
	Origin      models.Region
	Destination models.Region
}

// Authorize is read-only and takes no locks. A nil error means allowed.
func Authorize(actor models.Actor, action Action, target Target) error {
	perm, ok := permissions[action]
	if !ok {
		return deny(target, action, "unknown action")
	}
	role := roleOf(actor.Role)
	if role == 0 {
		return deny(target, action, "actor has no role")
	}
	if perm.roles&role == 0 {
		return deny(target, action, fmt.Sprintf("role %s may not perform %s", actor.RoleName(), action))
	}
	if role != ops {
		return nil
	}

	region := actor.Region()
	switch perm.scope {
	case ScopeOrigin:
		if target.Origin != "" && target.Origin != region {
			return deny(target, action, fmt.Sprintf("origin region %s does not match actor region %s", target.Origin, region))
		}
	case ScopeDestination:
		if target.Destination != "" && target.Destination != region {
			return deny(target, action, fmt.Sprintf("destination region %s does not match actor region %s", target.Destination, region))
		}
	}
	regions := target.regions()
	if len(regions) == 0 {
		return nil
	}
	for _, r := range regions {
		if r == region {
			return nil
		}
	}
	return deny(target, action, fmt.Sprintf("entity is outside actor region %s", region))
}

// Allowed reports whether the role may perform action on some entity at all,
// ignoring region scoping.
func Allowed(actor models.Actor, action Action) bool {
	perm, ok := permissions[action]
	return ok && perm.roles&roleOf(actor.Role) != 0
}

func (t Target) regions() []models.Region {
	out := append([]models.Region(nil), t.Regions...)
	if t.Origin != "" {
		out = append(out, t.Origin)
	}
	if t.Destination != "" && t.Destination != t.Origin {
		out = append(out, t.Destination)
	}
	return out
}

func deny(target Target, action Action, reason string) error {
	return &models.TransitionError{
		Kind:     models.KindUnauthorized,
		Entity:   target.EntityType,
		EntityID: target.EntityID,
		Message:  fmt.Sprintf("%s denied: %s", action, reason),
	}
}
