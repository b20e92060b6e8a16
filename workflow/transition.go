package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmdatafocus/freight_backend/audit"
	"github.com/mmdatafocus/freight_backend/authz"
	"github.com/mmdatafocus/freight_backend/models"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// Params carries the inputs some transitions need. Unused fields are ignored.
type Params struct {
	ShipmentID      string           `json:"shipmentId,omitempty"`
	LocationCode    string           `json:"locationCode,omitempty"`
	ReceiverRef     string           `json:"receiverRef,omitempty"`
	PaymentRef      string           `json:"paymentRef,omitempty"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	ManifestScanRef string           `json:"manifestScanRef,omitempty"`
	WarehouseID     string           `json:"warehouseId,omitempty"`
	Reason          string           `json:"reason,omitempty"`
}

type TransitionRequest struct {
	EntityType models.EntityType
	EntityID   string
	Target     string
	Actor      models.Actor
	Params     Params
}

// StateChange is one field moving between two values. Field is "status"
// except for the payment flag flipped on a shipment by a paid invoice.
type StateChange struct {
	EntityType models.EntityType `json:"entityType"`
	EntityID   string            `json:"entityId"`
	Field      string            `json:"field"`
	From       string            `json:"from"`
	To         string            `json:"to"`
}

type TransitionResult struct {
	EntityType    models.EntityType `json:"entityType"`
	EntityID      string            `json:"entityId"`
	From          string            `json:"from"`
	To            string            `json:"to"`
	Cascaded      []StateChange     `json:"cascaded,omitempty"`
	AuditEntryIDs []string          `json:"auditEntryIds"`
}

func statusChange(entity models.EntityType, id, from, to string) StateChange {
	return StateChange{EntityType: entity, EntityID: id, Field: "status", From: from, To: to}
}

func newResult(changes []StateChange, entries []audit.Entry) *TransitionResult {
	primary := changes[0]
	res := &TransitionResult{
		EntityType: primary.EntityType,
		EntityID:   primary.EntityID,
		From:       primary.From,
		To:         primary.To,
		Cascaded:   changes[1:],
	}
	for _, e := range entries {
		res.AuditEntryIDs = append(res.AuditEntryIDs, e.ID)
	}
	return res
}

// AttemptTransition moves one entity to req.Target. The guard runs first and
// a denial never reaches the table; any blocked attempt is audited.
func (e *Engine) AttemptTransition(ctx context.Context, req TransitionRequest) (res *TransitionResult, err error) {
	ctx, span := e.startSpan(ctx, "AttemptTransition", append(actorAttrs(req.Actor),
		attribute.String("entity.type", string(req.EntityType)),
		attribute.String("entity.id", req.EntityID),
		attribute.String("target", req.Target))...)
	defer func() { endSpan(span, err) }()

	req.Target = strings.ToUpper(strings.TrimSpace(req.Target))
	if req.EntityID == "" || req.Target == "" {
		return nil, invalidInput(req.EntityType, req.EntityID, "entity id and target state are required", nil)
	}

	switch req.EntityType {
	case models.EntityShipment:
		return e.transitionShipment(ctx, req)
	case models.EntityPackage:
		return e.transitionPackage(ctx, req)
	case models.EntityInvoice:
		return e.transitionInvoice(ctx, req)
	case models.EntityExpense:
		return e.transitionExpense(ctx, req)
	case models.EntityCustomer:
		return nil, invalidInput(req.EntityType, req.EntityID, "customers have no status lifecycle", nil)
	}
	return nil, invalidInput(req.EntityType, req.EntityID, fmt.Sprintf("unknown entity type %q", req.EntityType), nil)
}

// guard authorizes the action for a known target state. For targets no table
// row reaches, the actor must at least be able to see the entity; the table
// lookup then reports the invalid transition.
func (e *Engine) guard(ctx context.Context, actor models.Actor, action authz.Action, known bool, target authz.Target, visible bool) error {
	var err error
	if known {
		err = authz.Authorize(actor, action, target)
	} else if !visible {
		err = &models.TransitionError{
			Kind:     models.KindUnauthorized,
			Entity:   target.EntityType,
			EntityID: target.EntityID,
			Message:  "entity is outside the actor's region",
		}
	}
	if err != nil {
		return e.recordRejection(ctx, rejection{actor: actor, entity: target.EntityType, id: target.EntityID, err: err})
	}
	return nil
}

func (e *Engine) rejectInvalid(ctx context.Context, actor models.Actor, entity models.EntityType, id, from, to string, fromRank, toRank int) error {
	msg := fmt.Sprintf("no transition from %s to %s", from, to)
	switch {
	case toRank < 0:
		msg = fmt.Sprintf("unknown target state %s", to)
	case from == to:
		msg = fmt.Sprintf("already %s", from)
	case toRank < fromRank:
		msg = fmt.Sprintf("backward transition from %s to %s is never allowed", from, to)
	}
	err := &models.TransitionError{
		Kind:     models.KindInvalidTransition,
		Entity:   entity,
		EntityID: id,
		From:     from,
		To:       to,
		Message:  msg,
	}
	return e.recordRejection(ctx, rejection{
		actor:  actor,
		entity: entity,
		id:     id,
		from:   from,
		to:     to,
		alert:  isSecurityJump(fromRank, toRank),
		err:    err,
	})
}

func (e *Engine) failPrecondition(ctx context.Context, actor models.Actor, entity models.EntityType, id, from, to string, err error) error {
	return e.recordRejection(ctx, rejection{actor: actor, entity: entity, id: id, from: from, to: to, err: err})
}

// Shipments. A shipment's packages and invoice are only written while the
// shipment key is held, so the shipment key alone guards the whole aggregate.

func (e *Engine) transitionShipment(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	sh, err := e.store.Shipment(req.EntityID)
	if err != nil {
		return nil, notFound(models.EntityShipment, req.EntityID)
	}
	target := models.ShipmentStatus(req.Target)
	action, known := actionFor(shipmentTable, target)
	if err := e.guard(ctx, req.Actor, action, known, authz.ShipmentTarget(sh), authz.CanSeeShipment(req.Actor, sh)); err != nil {
		return nil, err
	}

	release, err := e.lock(ctx, models.EntityShipment, sh.ID, lockKey("shipment", sh.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	sh, err = e.store.Shipment(sh.ID)
	if err != nil {
		return nil, notFound(models.EntityShipment, req.EntityID)
	}
	r, ok := findRule(shipmentTable, sh.Status, target)
	if !ok {
		return nil, e.rejectInvalid(ctx, req.Actor, models.EntityShipment, sh.ID, string(sh.Status), string(target), sh.Status.Rank(), target.Rank())
	}

	st := e.loadShipmentState(sh, req.Params)
	if err := r.verify(st, models.EntityShipment, sh.ID); err != nil {
		return nil, e.failPrecondition(ctx, req.Actor, models.EntityShipment, sh.ID, string(r.from), string(r.to), err)
	}

	t := newTxn()
	changes := e.applyShipmentRule(st, r, req.Actor, t)
	changes = append(changes, e.cascade(st, t)...)

	entries, err := e.commit(ctx, t)
	if err != nil {
		return nil, err
	}
	return newResult(changes, entries), nil
}

func (e *Engine) loadShipmentState(sh models.Shipment, params Params) *shipmentState {
	st := &shipmentState{
		shipment: sh,
		packages: e.store.PackagesForShipment(sh.ID),
		params:   params,
	}
	if inv, err := e.store.InvoiceForShipment(sh.ID); err == nil {
		st.invoice = &inv
	}
	if id := strings.TrimSpace(params.WarehouseID); id != "" {
		if wh, err := e.store.Warehouse(id); err == nil {
			st.warehouse = &wh
		}
	}
	return st
}

// applyShipmentRule stages the shipment move, its package effects and their
// audit entries. The shipment entry comes first.
func (e *Engine) applyShipmentRule(st *shipmentState, r rule[models.ShipmentStatus, shipmentState], actor models.Actor, t *txn) []StateChange {
	now := e.now()
	before := st.shipment.Clone()
	st.shipment.Status = r.to

	var moves []packageMove
	if r.effect != nil {
		moves = r.effect(st, actor, now)
	}
	t.cs.PutShipment(st.shipment)

	meta := map[string]any{"auto": actor.IsSystem()}
	if !before.PriceLocked && st.shipment.PriceLocked {
		meta["price_locked"] = true
	}
	if len(moves) > 0 {
		meta["cascaded_packages"] = len(moves)
	}
	t.record(audit.Draft{
		Actor:      actor,
		EventType:  models.AuditShipmentStatusChange,
		EntityType: models.EntityShipment,
		EntityID:   st.shipment.ID,
		Action:     fmt.Sprintf("Shipment %s %s -> %s", st.shipment.TrackingNo, before.Status, r.to),
		Before:     before,
		After:      st.shipment.Clone(),
		Metadata:   meta,
	})

	changes := []StateChange{statusChange(models.EntityShipment, st.shipment.ID, string(before.Status), string(r.to))}
	for _, m := range moves {
		t.cs.PutPackage(m.after)
		t.record(audit.Draft{
			Actor:      models.SystemActor,
			EventType:  models.AuditPkgStatusChange,
			EntityType: models.EntityPackage,
			EntityID:   m.after.ID,
			Action:     fmt.Sprintf("Package %s %s -> %s with shipment %s", m.after.Code, m.before.Status, m.after.Status, st.shipment.TrackingNo),
			Before:     m.before,
			After:      m.after,
			Metadata:   map[string]any{"cascade": true, "shipment_id": st.shipment.ID},
		})
		changes = append(changes, statusChange(models.EntityPackage, m.after.ID, string(m.before.Status), string(m.after.Status)))
	}
	return changes
}

// cascade applies every system transition the current package set allows.
func (e *Engine) cascade(st *shipmentState, t *txn) []StateChange {
	var changes []StateChange
	for range models.ShipmentLifecycle {
		target, ok := EvaluateShipmentCascade(st.shipment, st.packages)
		if !ok {
			break
		}
		r, found := findRule(shipmentTable, st.shipment.Status, target)
		if !found || r.verify(st, models.EntityShipment, st.shipment.ID) != nil {
			break
		}
		changes = append(changes, e.applyShipmentRule(st, r, models.SystemActor, t)...)
	}
	return changes
}

// Packages. Writes lock the package and every shipment the move touches.

func (e *Engine) transitionPackage(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	pkg, err := e.store.Package(req.EntityID)
	if err != nil {
		return nil, notFound(models.EntityPackage, req.EntityID)
	}
	wh, err := e.store.Warehouse(pkg.WarehouseID)
	if err != nil {
		return nil, notFound(models.EntityPackage, pkg.ID)
	}
	target := models.PackageStatus(req.Target)
	action, known := actionFor(packageTable, target)
	if err := e.guard(ctx, req.Actor, action, known, authz.PackageTarget(pkg, wh.Region), authz.CanSeePackage(req.Actor, wh.Region)); err != nil {
		return nil, err
	}

	linkedID := pkg.ShipmentID
	shipmentID := linkedID
	if requested := strings.TrimSpace(req.Params.ShipmentID); requested != "" && target == models.PackageStatusStaged {
		shipmentID = requested
	}
	previousID := ""
	if linkedID != "" && linkedID != shipmentID {
		previousID = linkedID
	}
	if err := e.guardStagingShipments(ctx, req.Actor, target, pkg.ID, shipmentID, previousID); err != nil {
		return nil, err
	}

	keys := []string{lockKey("package", pkg.ID)}
	if shipmentID != "" {
		keys = append(keys, lockKey("shipment", shipmentID))
	}
	if previousID != "" {
		keys = append(keys, lockKey("shipment", previousID))
	}
	release, err := e.lock(ctx, models.EntityPackage, pkg.ID, keys...)
	if err != nil {
		return nil, err
	}
	defer release()

	pkg, err = e.store.Package(pkg.ID)
	if err != nil {
		return nil, notFound(models.EntityPackage, req.EntityID)
	}
	if pkg.ShipmentID != linkedID {
		return nil, &models.TransitionError{
			Kind:     models.KindConcurrentModification,
			Entity:   models.EntityPackage,
			EntityID: pkg.ID,
			Message:  "package was staged onto another shipment concurrently",
		}
	}

	r, ok := findRule(packageTable, pkg.Status, target)
	if !ok {
		return nil, e.rejectInvalid(ctx, req.Actor, models.EntityPackage, pkg.ID, string(pkg.Status), string(target), pkg.Status.Rank(), target.Rank())
	}

	st := &packageState{pkg: pkg, warehouse: wh, params: req.Params}
	if shipmentID != "" {
		sh, err := e.store.Shipment(shipmentID)
		if err != nil {
			return nil, notFound(models.EntityShipment, shipmentID)
		}
		st.shipment = &sh
	}
	if previousID != "" {
		prev, err := e.store.Shipment(previousID)
		if err != nil {
			return nil, notFound(models.EntityShipment, previousID)
		}
		st.previous = &prev
	}
	if err := r.verify(st, models.EntityPackage, pkg.ID); err != nil {
		return nil, e.failPrecondition(ctx, req.Actor, models.EntityPackage, pkg.ID, string(r.from), string(r.to), err)
	}

	t := newTxn()
	changes := e.applyPackageRule(st, r, req.Actor, t)
	entries, err := e.commit(ctx, t)
	if err != nil {
		return nil, err
	}
	return newResult(changes, entries), nil
}

// applyPackageRule stages the package move and re-evaluates the parent
// shipment against the package set as it will be after this change.
func (e *Engine) applyPackageRule(st *packageState, r rule[models.PackageStatus, packageState], actor models.Actor, t *txn) []StateChange {
	now := e.now()
	before := st.pkg.Clone()
	st.pkg.Status = r.to
	if r.effect != nil {
		r.effect(st, actor, now)
	}
	t.cs.PutPackage(st.pkg)

	meta := map[string]any{}
	if st.shipment != nil {
		meta["shipment_id"] = st.shipment.ID
	}
	var affected []*shipmentState
	if st.previous != nil && st.pkg.ShipmentID != st.previous.ID {
		prev := st.previous.Clone()
		if prev.PackageCount > 0 {
			prev.PackageCount--
		}
		t.cs.PutShipment(prev)
		meta["previous_shipment_id"] = prev.ID
		affected = append(affected, e.shipmentStateFor(prev, removePackage(e.store.PackagesForShipment(prev.ID), st.pkg.ID)))
	}
	if st.shipment != nil {
		sh := st.shipment.Clone()
		if before.ShipmentID != st.pkg.ShipmentID && st.pkg.ShipmentID == sh.ID {
			sh.PackageCount++
			meta["shipment_package_count"] = sh.PackageCount
			t.cs.PutShipment(sh)
		}
		affected = append(affected, e.shipmentStateFor(sh, replacePackage(e.store.PackagesForShipment(sh.ID), st.pkg)))
	}

	t.record(audit.Draft{
		Actor:      actor,
		EventType:  r.event,
		EntityType: models.EntityPackage,
		EntityID:   st.pkg.ID,
		Action:     fmt.Sprintf("Package %s %s -> %s", st.pkg.Code, before.Status, r.to),
		Before:     before,
		After:      st.pkg.Clone(),
		Metadata:   meta,
	})

	changes := []StateChange{statusChange(models.EntityPackage, st.pkg.ID, string(before.Status), string(r.to))}
	for _, sst := range affected {
		changes = append(changes, e.cascade(sst, t)...)
	}
	return changes
}

func (e *Engine) shipmentStateFor(sh models.Shipment, pkgs []models.Package) *shipmentState {
	sst := &shipmentState{shipment: sh, packages: pkgs}
	if inv, err := e.store.InvoiceForShipment(sh.ID); err == nil {
		sst.invoice = &inv
	}
	return sst
}

// guardStagingShipments requires Ops to serve the route of every shipment a
// staging move writes to.
func (e *Engine) guardStagingShipments(ctx context.Context, actor models.Actor, target models.PackageStatus, pkgID string, ids ...string) error {
	if target != models.PackageStatusStaged && target != models.PackageStatusScanned {
		return nil
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		sh, err := e.store.Shipment(id)
		if err != nil || authz.CanSeeShipment(actor, sh) {
			continue
		}
		return e.recordRejection(ctx, rejection{actor: actor, entity: models.EntityPackage, id: pkgID, err: &models.TransitionError{
			Kind:     models.KindUnauthorized,
			Entity:   models.EntityPackage,
			EntityID: pkgID,
			Message:  fmt.Sprintf("shipment %s is outside the actor's region", sh.TrackingNo),
		}})
	}
	return nil
}

func replacePackage(pkgs []models.Package, p models.Package) []models.Package {
	for i := range pkgs {
		if pkgs[i].ID == p.ID {
			pkgs[i] = p.Clone()
			return pkgs
		}
	}
	return append(pkgs, p.Clone())
}

func removePackage(pkgs []models.Package, id string) []models.Package {
	out := pkgs[:0]
	for _, p := range pkgs {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

// Invoices.

func invoiceRank(s models.InvoiceStatus) int {
	switch s {
	case models.InvoiceStatusPendingPayment:
		return 0
	case models.InvoiceStatusPaymentReceived:
		return 1
	}
	return -1
}

func (e *Engine) transitionInvoice(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	inv, err := e.store.Invoice(req.EntityID)
	if err != nil {
		return nil, notFound(models.EntityInvoice, req.EntityID)
	}
	sh, err := e.store.Shipment(inv.ShipmentID)
	if err != nil {
		return nil, notFound(models.EntityShipment, inv.ShipmentID)
	}
	target := models.InvoiceStatus(req.Target)
	action, known := actionFor(invoiceTable, target)
	if err := e.guard(ctx, req.Actor, action, known, authz.InvoiceTarget(inv, sh), authz.CanSeeInvoice(req.Actor, sh)); err != nil {
		return nil, err
	}

	release, err := e.lock(ctx, models.EntityInvoice, inv.ID, lockKey("invoice", inv.ID), lockKey("shipment", sh.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	if inv, err = e.store.Invoice(inv.ID); err != nil {
		return nil, notFound(models.EntityInvoice, req.EntityID)
	}
	if sh, err = e.store.Shipment(sh.ID); err != nil {
		return nil, notFound(models.EntityShipment, inv.ShipmentID)
	}
	r, ok := findRule(invoiceTable, inv.Status, target)
	if !ok {
		return nil, e.rejectInvalid(ctx, req.Actor, models.EntityInvoice, inv.ID, string(inv.Status), string(target), invoiceRank(inv.Status), invoiceRank(target))
	}
	st := &invoiceState{invoice: inv, shipment: sh, params: req.Params}
	if err := r.verify(st, models.EntityInvoice, inv.ID); err != nil {
		return nil, e.failPrecondition(ctx, req.Actor, models.EntityInvoice, inv.ID, string(r.from), string(r.to), err)
	}

	beforeInv := st.invoice.Clone()
	beforePayment := st.shipment.PaymentStatus
	st.invoice.Status = r.to
	r.effect(st, req.Actor, e.now())

	t := newTxn()
	t.cs.PutInvoice(st.invoice)
	t.cs.PutShipment(st.shipment)
	t.record(audit.Draft{
		Actor:      req.Actor,
		EventType:  r.event,
		EntityType: models.EntityInvoice,
		EntityID:   st.invoice.ID,
		Action:     fmt.Sprintf("Payment %s confirmed for shipment %s", st.invoice.PaymentRef, st.shipment.TrackingNo),
		Before:     beforeInv,
		After:      st.invoice.Clone(),
		Metadata: map[string]any{
			"payment_ref": st.invoice.PaymentRef,
			"shipment_id": st.shipment.ID,
			"shipment_payment_status": map[string]models.PaymentStatus{
				"before": beforePayment,
				"after":  st.shipment.PaymentStatus,
			},
		},
	})

	entries, err := e.commit(ctx, t)
	if err != nil {
		return nil, err
	}
	changes := []StateChange{
		statusChange(models.EntityInvoice, inv.ID, string(r.from), string(r.to)),
		{EntityType: models.EntityShipment, EntityID: sh.ID, Field: "payment_status", From: string(beforePayment), To: string(st.shipment.PaymentStatus)},
	}
	return newResult(changes, entries), nil
}

// Expenses.

func (e *Engine) transitionExpense(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	ex, err := e.store.Expense(req.EntityID)
	if err != nil {
		return nil, notFound(models.EntityExpense, req.EntityID)
	}
	target := models.ExpenseStatus(req.Target)
	action, known := actionFor(expenseTable, target)
	if err := e.guard(ctx, req.Actor, action, known, authz.ExpenseTarget(ex), authz.CanSeeExpense(req.Actor, ex)); err != nil {
		return nil, err
	}

	release, err := e.lock(ctx, models.EntityExpense, ex.ID, lockKey("expense", ex.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	if ex, err = e.store.Expense(ex.ID); err != nil {
		return nil, notFound(models.EntityExpense, req.EntityID)
	}
	st := &expenseState{expense: ex, params: req.Params, batchID: e.newID()}
	if err := e.checkExpense(ctx, req.Actor, st, target); err != nil {
		return nil, err
	}

	t := newTxn()
	change := e.applyExpenseRule(st, target, req.Actor, t)
	entries, err := e.commit(ctx, t)
	if err != nil {
		return nil, err
	}
	return newResult([]StateChange{change}, entries), nil
}

func (e *Engine) checkExpense(ctx context.Context, actor models.Actor, st *expenseState, target models.ExpenseStatus) error {
	ex := st.expense
	r, ok := findRule(expenseTable, ex.Status, target)
	if !ok {
		err := &models.TransitionError{
			Kind:     models.KindInvalidTransition,
			Entity:   models.EntityExpense,
			EntityID: ex.ID,
			From:     string(ex.Status),
			To:       string(target),
			Message:  fmt.Sprintf("no transition from %s to %s", ex.Status, target),
		}
		if ex.Status.IsTerminal() {
			err.Message = fmt.Sprintf("expense is %s, which is terminal", ex.Status)
		}
		return e.recordRejection(ctx, rejection{actor: actor, entity: models.EntityExpense, id: ex.ID, from: string(ex.Status), to: string(target), err: err})
	}
	if err := r.verify(st, models.EntityExpense, ex.ID); err != nil {
		return e.failPrecondition(ctx, actor, models.EntityExpense, ex.ID, string(r.from), string(r.to), err)
	}
	return nil
}

func (e *Engine) applyExpenseRule(st *expenseState, target models.ExpenseStatus, actor models.Actor, t *txn) StateChange {
	r, _ := findRule(expenseTable, st.expense.Status, target)
	before := st.expense.Clone()
	st.expense.Status = r.to
	if r.effect != nil {
		r.effect(st, actor, e.now())
	}
	t.cs.PutExpense(st.expense)

	meta := map[string]any{"region": st.expense.Region}
	if st.expense.FundingBatchID != "" {
		meta["funding_batch_id"] = st.expense.FundingBatchID
	}
	if st.expense.RejectionReason != "" {
		meta["reason"] = st.expense.RejectionReason
	}
	t.record(audit.Draft{
		Actor:      actor,
		EventType:  r.event,
		EntityType: models.EntityExpense,
		EntityID:   st.expense.ID,
		Action:     fmt.Sprintf("Expense %q %s -> %s", st.expense.Title, before.Status, r.to),
		Before:     before,
		After:      st.expense.Clone(),
		Metadata:   meta,
	})
	return statusChange(models.EntityExpense, st.expense.ID, string(before.Status), string(r.to))
}
