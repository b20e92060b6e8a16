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

func (e *Engine) CreateShipment(ctx context.Context, actor models.Actor, in models.NewShipment) (sh models.Shipment, err error) {
	ctx, span := e.startSpan(ctx, "CreateShipment", actorAttrs(actor)...)
	defer func() { endSpan(span, err) }()

	if err := utils.ValidateStruct(in); err != nil {
		return models.Shipment{}, validationError(models.EntityShipment, "", err)
	}
	if !in.OriginRegion.IsValid() || !in.DestinationRegion.IsValid() {
		return models.Shipment{}, invalidInput(models.EntityShipment, "", "origin and destination must be CN or TZ", nil)
	}
	target := authz.Target{EntityType: models.EntityShipment, Origin: in.OriginRegion, Destination: in.DestinationRegion}
	if err := e.guard(ctx, actor, authz.ActionShipmentCreate, true, target, true); err != nil {
		return models.Shipment{}, err
	}
	if _, err := e.store.Customer(in.CustomerID); err != nil {
		return models.Shipment{}, notFound(models.EntityCustomer, in.CustomerID)
	}
	pricing, err := in.Pricing.Build()
	if err != nil {
		return models.Shipment{}, invalidInput(models.EntityShipment, "", err.Error(), err)
	}

	sh = models.Shipment{
		ID:                e.newID(),
		TrackingNo:        e.store.NextTrackingNumber(),
		Status:            models.ShipmentStatusDraft,
		ApprovalStatus:    models.ApprovalStatusDraft,
		Pricing:           pricing,
		OriginRegion:      in.OriginRegion,
		DestinationRegion: in.DestinationRegion,
		CustomerID:        in.CustomerID,
		PaymentStatus:     models.PaymentStatusUnpaid,
		CreatedAt:         e.now(),
		CreatedBy:         actor.ID,
	}
	t := newTxn()
	t.cs.PutShipment(sh)
	t.record(audit.Draft{
		Actor:      actor,
		EventType:  models.AuditShipmentCreated,
		EntityType: models.EntityShipment,
		EntityID:   sh.ID,
		Action:     fmt.Sprintf("Shipment %s created %s -> %s", sh.TrackingNo, sh.OriginRegion, sh.DestinationRegion),
		After:      sh,
	})
	if _, err := e.commit(ctx, t); err != nil {
		return models.Shipment{}, err
	}
	return sh, nil
}

// mutateShipment runs fn on a locked, freshly read shipment and commits what
// it stages. Precondition failures from fn are audited.
func (e *Engine) mutateShipment(ctx context.Context, actor models.Actor, action authz.Action, id string, fn func(st *shipmentState, t *txn) error) (models.Shipment, error) {
	sh, err := e.store.Shipment(id)
	if err != nil {
		return models.Shipment{}, notFound(models.EntityShipment, id)
	}
	if err := e.guard(ctx, actor, action, true, authz.ShipmentTarget(sh), true); err != nil {
		return models.Shipment{}, err
	}
	release, err := e.lock(ctx, models.EntityShipment, id, lockKey("shipment", id))
	if err != nil {
		return models.Shipment{}, err
	}
	defer release()

	if sh, err = e.store.Shipment(id); err != nil {
		return models.Shipment{}, notFound(models.EntityShipment, id)
	}
	st := e.loadShipmentState(sh, Params{})
	t := newTxn()
	if err := fn(st, t); err != nil {
		if models.KindOf(err) == models.KindPreconditionNotMet {
			return models.Shipment{}, e.failPrecondition(ctx, actor, models.EntityShipment, id, "", "", err)
		}
		return models.Shipment{}, err
	}
	t.cs.PutShipment(st.shipment)
	if _, err := e.commit(ctx, t); err != nil {
		return models.Shipment{}, err
	}
	return st.shipment, nil
}

func shipmentPrecondition(sh models.Shipment, name, msg string) error {
	return models.PreconditionFailed(models.EntityShipment, sh.ID, string(sh.Status), "", name, msg)
}

// UpdateShipmentPricing replaces the pricing of a DRAFT shipment whose price
// is not locked yet.
func (e *Engine) UpdateShipmentPricing(ctx context.Context, actor models.Actor, id string, in models.PricingInput) (sh models.Shipment, err error) {
	ctx, span := e.startSpan(ctx, "UpdateShipmentPricing", actorAttrs(actor)...)
	defer func() { endSpan(span, err) }()

	if err := utils.ValidateStruct(in); err != nil {
		return models.Shipment{}, validationError(models.EntityShipment, id, err)
	}
	return e.mutateShipment(ctx, actor, authz.ActionShipmentPriceUpdate, id, func(st *shipmentState, t *txn) error {
		if st.shipment.PriceLocked {
			return shipmentPrecondition(st.shipment, "price_unlocked", "pricing is locked; only an admin override may change it")
		}
		if st.shipment.Status != models.ShipmentStatusDraft {
			return shipmentPrecondition(st.shipment, "shipment_draft", fmt.Sprintf("shipment is %s, pricing changes need DRAFT", st.shipment.Status))
		}
		pricing, err := in.Build()
		if err != nil {
			return invalidInput(models.EntityShipment, id, err.Error(), err)
		}
		before := st.shipment.Pricing.Clone()
		st.shipment.Pricing = pricing
		t.record(audit.Draft{
			Actor:      actor,
			EventType:  models.AuditPriceModified,
			EntityType: models.EntityShipment,
			EntityID:   id,
			Action:     fmt.Sprintf("Pricing of %s changed to %s %s", st.shipment.TrackingNo, pricing.FinalTotal.StringFixed(2), pricing.Currency),
			Before:     before,
			After:      pricing,
			Metadata:   map[string]any{"bypass": false},
		})
		return nil
	})
}

// LockShipmentPrice freezes the pricing ahead of approval.
func (e *Engine) LockShipmentPrice(ctx context.Context, actor models.Actor, id string) (sh models.Shipment, err error) {
	ctx, span := e.startSpan(ctx, "LockShipmentPrice", actorAttrs(actor)...)
	defer func() { endSpan(span, err) }()

	return e.mutateShipment(ctx, actor, authz.ActionShipmentPriceLock, id, func(st *shipmentState, t *txn) error {
		if st.shipment.PriceLocked {
			return shipmentPrecondition(st.shipment, "price_unlocked", "pricing is already locked")
		}
		if !st.shipment.Pricing.FinalTotal.IsPositive() {
			return shipmentPrecondition(st.shipment, "final_total_positive", "final total must be greater than zero")
		}
		before := st.shipment.Clone()
		st.shipment.PriceLocked = true
		st.shipment.PriceLockedAt = timePtr(e.now())
		st.shipment.PriceLockedBy = actor.ID
		t.record(audit.Draft{
			Actor:      actor,
			EventType:  models.AuditShipmentPriceLocked,
			EntityType: models.EntityShipment,
			EntityID:   id,
			Action:     fmt.Sprintf("Pricing of %s locked at %s %s", st.shipment.TrackingNo, st.shipment.Pricing.FinalTotal.StringFixed(2), st.shipment.Pricing.Currency),
			Before:     before,
			After:      st.shipment.Clone(),
		})
		return nil
	})
}

// OverrideShipmentPricing is the Admin bypass of the price lock. It is refused
// once an invoice exists, since the invoice amount is fixed at generation.
func (e *Engine) OverrideShipmentPricing(ctx context.Context, actor models.Actor, id string, in models.PricingInput, reason string) (sh models.Shipment, err error) {
	ctx, span := e.startSpan(ctx, "OverrideShipmentPricing", actorAttrs(actor)...)
	defer func() { endSpan(span, err) }()

	if err := utils.ValidateStruct(in); err != nil {
		return models.Shipment{}, validationError(models.EntityShipment, id, err)
	}
	reason = strings.TrimSpace(reason)
	return e.mutateShipment(ctx, actor, authz.ActionShipmentPriceOverride, id, func(st *shipmentState, t *txn) error {
		if reason == "" {
			return invalidInput(models.EntityShipment, id, "an override reason is required", nil)
		}
		if st.invoice != nil {
			return shipmentPrecondition(st.shipment, "no_invoice", fmt.Sprintf("invoice %s already issued for this shipment", st.invoice.ID))
		}
		pricing, err := in.Build()
		if err != nil {
			return invalidInput(models.EntityShipment, id, err.Error(), err)
		}
		before := st.shipment.Pricing.Clone()
		st.shipment.Pricing = pricing
		t.record(audit.Draft{
			Actor:      actor,
			EventType:  models.AuditPriceModified,
			EntityType: models.EntityShipment,
			EntityID:   id,
			Action:     fmt.Sprintf("Admin override of %s pricing to %s %s", st.shipment.TrackingNo, pricing.FinalTotal.StringFixed(2), pricing.Currency),
			Before:     before,
			After:      pricing,
			Metadata: map[string]any{
				"bypass":       true,
				"reason":       reason,
				"price_locked": st.shipment.PriceLocked,
			},
		})
		return nil
	})
}

// RejectShipment refuses approval of a DRAFT shipment. The shipment stays
// DRAFT and can no longer be approved or staged.
func (e *Engine) RejectShipment(ctx context.Context, actor models.Actor, id, reason string) (sh models.Shipment, err error) {
	ctx, span := e.startSpan(ctx, "RejectShipment", actorAttrs(actor)...)
	defer func() { endSpan(span, err) }()

	reason = strings.TrimSpace(reason)
	return e.mutateShipment(ctx, actor, authz.ActionShipmentReject, id, func(st *shipmentState, t *txn) error {
		if reason == "" {
			return invalidInput(models.EntityShipment, id, "a rejection reason is required", nil)
		}
		if st.shipment.Status != models.ShipmentStatusDraft || st.shipment.ApprovalStatus != models.ApprovalStatusDraft {
			return shipmentPrecondition(st.shipment, "pending_approval",
				fmt.Sprintf("shipment is %s with approval %s", st.shipment.Status, st.shipment.ApprovalStatus))
		}
		before := st.shipment.Clone()
		st.shipment.ApprovalStatus = models.ApprovalStatusRejected
		t.record(audit.Draft{
			Actor:      actor,
			EventType:  models.AuditShipmentRejected,
			EntityType: models.EntityShipment,
			EntityID:   id,
			Action:     fmt.Sprintf("Shipment %s rejected", st.shipment.TrackingNo),
			Before:     before,
			After:      st.shipment.Clone(),
			Metadata:   map[string]any{"reason": reason},
		})
		return nil
	})
}
