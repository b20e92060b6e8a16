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

func (e *Engine) SubmitExpense(ctx context.Context, actor models.Actor, in models.NewExpense) (ex models.Expense, err error) {
	ctx, span := e.startSpan(ctx, "SubmitExpense", actorAttrs(actor)...)
	defer func() { endSpan(span, err) }()

	region, err := submissionRegion(actor, in.Region, models.EntityExpense)
	if err != nil {
		return models.Expense{}, err
	}
	target := authz.Target{EntityType: models.EntityExpense, Regions: []models.Region{region}}
	if err := e.guard(ctx, actor, authz.ActionExpenseSubmit, true, target, true); err != nil {
		return models.Expense{}, err
	}
	if err := utils.ValidateStruct(in); err != nil {
		return models.Expense{}, validationError(models.EntityExpense, "", err)
	}
	if !in.Amount.IsPositive() {
		return models.Expense{}, invalidInput(models.EntityExpense, "", "amount must be greater than zero", nil)
	}
	if !in.Currency.IsValid() {
		return models.Expense{}, invalidInput(models.EntityExpense, "", fmt.Sprintf("unsupported currency %q", in.Currency), nil)
	}
	shipmentID := strings.TrimSpace(in.ShipmentID)
	if shipmentID != "" {
		sh, err := e.store.Shipment(shipmentID)
		if err != nil {
			return models.Expense{}, notFound(models.EntityShipment, shipmentID)
		}
		if !authz.CanSeeShipment(actor, sh) {
			return models.Expense{}, e.guard(ctx, actor, authz.ActionExpenseSubmit, false, authz.ShipmentTarget(sh), false)
		}
	}

	ex = models.Expense{
		ID:         e.newID(),
		ShipmentID: shipmentID,
		Title:      strings.TrimSpace(in.Title),
		Amount:     in.Amount,
		Currency:   in.Currency,
		Status:     models.ExpenseStatusSubmitted,
		Region:     region,
		CreatedBy:  actor.ID,
		CreatedAt:  e.now(),
	}
	t := newTxn()
	t.cs.PutExpense(ex)
	t.record(audit.Draft{
		Actor:      actor,
		EventType:  models.AuditExpenseSubmitted,
		EntityType: models.EntityExpense,
		EntityID:   ex.ID,
		Action:     fmt.Sprintf("Expense %q submitted for %s %s", ex.Title, ex.Amount.StringFixed(2), ex.Currency),
		After:      ex,
		Metadata:   map[string]any{"region": ex.Region},
	})
	if _, err := e.commit(ctx, t); err != nil {
		return models.Expense{}, err
	}
	return ex, nil
}

// FundExpenses releases funding for a batch. Every expense must be APPROVED;
// the first one that is not aborts the whole batch and nothing is funded.
func (e *Engine) FundExpenses(ctx context.Context, actor models.Actor, ids []string) (funded []models.Expense, batchID string, err error) {
	ctx, span := e.startSpan(ctx, "FundExpenses", actorAttrs(actor)...)
	defer func() { endSpan(span, err) }()

	if err := e.guard(ctx, actor, authz.ActionExpenseFund, true, authz.Target{EntityType: models.EntityExpense}, true); err != nil {
		return nil, "", err
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, "", invalidInput(models.EntityExpense, "", "at least one expense id is required", nil)
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		if _, err := e.store.Expense(id); err != nil {
			return nil, "", notFound(models.EntityExpense, id)
		}
		keys[i] = lockKey("expense", id)
	}
	release, err := e.lock(ctx, models.EntityExpense, strings.Join(ids, ","), keys...)
	if err != nil {
		return nil, "", err
	}
	defer release()

	batchID = e.newID()
	states := make([]*expenseState, len(ids))
	for i, id := range ids {
		ex, err := e.store.Expense(id)
		if err != nil {
			return nil, "", notFound(models.EntityExpense, id)
		}
		st := &expenseState{expense: ex, batchID: batchID}
		if err := e.checkExpense(ctx, actor, st, models.ExpenseStatusFunded); err != nil {
			return nil, "", err
		}
		states[i] = st
	}

	t := newTxn()
	for _, st := range states {
		e.applyExpenseRule(st, models.ExpenseStatusFunded, actor, t)
		funded = append(funded, st.expense.Clone())
	}
	if _, err := e.commit(ctx, t); err != nil {
		return nil, "", err
	}
	e.logger.WithField("module", "workflow").
		WithField("funding_batch_id", batchID).
		WithField("count", len(funded)).
		WithField("correlation_id", correlationID(ctx)).
		Info("funding released")
	return funded, batchID, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
