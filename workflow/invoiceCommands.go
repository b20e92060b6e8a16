package workflow

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/freight_backend/audit"
	"github.com/mmdatafocus/freight_backend/authz"
	"github.com/mmdatafocus/freight_backend/models"
)

// GenerateInvoice issues the single invoice of an approved shipment for its
// final total. A second invoice for the same shipment is a DuplicateEntity.
func (e *Engine) GenerateInvoice(ctx context.Context, actor models.Actor, shipmentID string) (inv models.Invoice, err error) {
	ctx, span := e.startSpan(ctx, "GenerateInvoice", actorAttrs(actor)...)
	defer func() { endSpan(span, err) }()

	sh, err := e.store.Shipment(shipmentID)
	if err != nil {
		return models.Invoice{}, notFound(models.EntityShipment, shipmentID)
	}
	target := authz.Target{EntityType: models.EntityInvoice, Origin: sh.OriginRegion, Destination: sh.DestinationRegion}
	if err := e.guard(ctx, actor, authz.ActionInvoiceGenerate, true, target, true); err != nil {
		return models.Invoice{}, err
	}

	release, err := e.lock(ctx, models.EntityShipment, sh.ID, lockKey("shipment", sh.ID))
	if err != nil {
		return models.Invoice{}, err
	}
	defer release()

	if sh, err = e.store.Shipment(shipmentID); err != nil {
		return models.Invoice{}, notFound(models.EntityShipment, shipmentID)
	}
	if existing, err := e.store.InvoiceForShipment(sh.ID); err == nil {
		dup := &models.TransitionError{
			Kind:     models.KindDuplicateEntity,
			Entity:   models.EntityInvoice,
			EntityID: existing.ID,
			Message:  fmt.Sprintf("shipment %s already has invoice %s", sh.TrackingNo, existing.ID),
		}
		return models.Invoice{}, e.recordRejection(ctx, rejection{actor: actor, entity: models.EntityInvoice, id: existing.ID, err: dup})
	}
	if sh.ApprovalStatus != models.ApprovalStatusApproved {
		err := models.PreconditionFailed(models.EntityShipment, sh.ID, string(sh.Status), "", "shipment_approved",
			fmt.Sprintf("shipment approval is %s", sh.ApprovalStatus))
		return models.Invoice{}, e.failPrecondition(ctx, actor, models.EntityShipment, sh.ID, "", "", err)
	}
	if !sh.Pricing.FinalTotal.IsPositive() {
		err := models.PreconditionFailed(models.EntityShipment, sh.ID, string(sh.Status), "", "final_total_positive",
			"final total must be greater than zero")
		return models.Invoice{}, e.failPrecondition(ctx, actor, models.EntityShipment, sh.ID, "", "", err)
	}

	inv = models.Invoice{
		ID:         e.newID(),
		ShipmentID: sh.ID,
		Amount:     sh.Pricing.FinalTotal,
		Currency:   sh.Pricing.Currency,
		Status:     models.InvoiceStatusPendingPayment,
		CreatedAt:  e.now(),
		CreatedBy:  actor.ID,
	}
	t := newTxn()
	t.cs.PutInvoice(inv)
	t.record(audit.Draft{
		Actor:      actor,
		EventType:  models.AuditInvoiceGenerated,
		EntityType: models.EntityInvoice,
		EntityID:   inv.ID,
		Action:     fmt.Sprintf("Invoice for %s issued at %s %s", sh.TrackingNo, inv.Amount.StringFixed(2), inv.Currency),
		After:      inv,
		Metadata:   map[string]any{"shipment_id": sh.ID},
	})
	if _, err := e.commit(ctx, t); err != nil {
		return models.Invoice{}, err
	}
	return inv, nil
}
