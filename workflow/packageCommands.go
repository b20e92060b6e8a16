package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmdatafocus/freight_backend/audit"
	"github.com/mmdatafocus/freight_backend/authz"
	"github.com/mmdatafocus/freight_backend/models"
	"github.com/mmdatafocus/freight_backend/utils"
)

// RegisterPackage records a scanned package at a warehouse. It is not linked
// to a shipment until it is staged.
func (e *Engine) RegisterPackage(ctx context.Context, actor models.Actor, in models.NewPackage) (p models.Package, err error) {
	ctx, span := e.startSpan(ctx, "RegisterPackage", actorAttrs(actor)...)
	defer func() { endSpan(span, err) }()

	if err := utils.ValidateStruct(in); err != nil {
		return models.Package{}, validationError(models.EntityPackage, "", err)
	}
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	if in.Weight.IsNegative() || in.Volume.IsNegative() {
		return models.Package{}, invalidInput(models.EntityPackage, "", "weight and volume must not be negative", nil)
	}
	wh, err := e.store.Warehouse(in.WarehouseID)
	if err != nil {
		return models.Package{}, notFound(models.EntityPackage, in.WarehouseID)
	}
	target := authz.Target{EntityType: models.EntityPackage, Regions: []models.Region{wh.Region}}
	if err := e.guard(ctx, actor, authz.ActionPackageScan, true, target, true); err != nil {
		return models.Package{}, err
	}
	if _, err := e.store.Customer(in.CustomerID); err != nil {
		return models.Package{}, notFound(models.EntityCustomer, in.CustomerID)
	}

	release, err := e.lock(ctx, models.EntityPackage, code, lockKey("package-code", code))
	if err != nil {
		return models.Package{}, err
	}
	defer release()

	if existing, err := e.store.PackageByCode(code); err == nil {
		dup := &models.TransitionError{
			Kind:     models.KindDuplicateEntity,
			Entity:   models.EntityPackage,
			EntityID: existing.ID,
			Message:  fmt.Sprintf("package code %s was already scanned", code),
		}
		return models.Package{}, e.recordRejection(ctx, rejection{actor: actor, entity: models.EntityPackage, id: existing.ID, err: dup})
	}

	p = models.Package{
		ID:          e.newID(),
		Code:        code,
		Description: strings.TrimSpace(in.Description),
		Weight:      in.Weight,
		Volume:      in.Volume,
		CustomerID:  in.CustomerID,
		WarehouseID: wh.ID,
		Status:      models.PackageStatusScanned,
		ScannedAt:   e.now(),
	}
	t := newTxn()
	t.cs.PutPackage(p)
	t.record(audit.Draft{
		Actor:      actor,
		EventType:  models.AuditPkgScanEvent,
		EntityType: models.EntityPackage,
		EntityID:   p.ID,
		Action:     fmt.Sprintf("Package %s scanned at %s", p.Code, wh.Code),
		After:      p,
		Metadata:   map[string]any{"warehouse_id": wh.ID, "region": wh.Region},
	})
	if _, err := e.commit(ctx, t); err != nil {
		return models.Package{}, err
	}
	return p, nil
}
