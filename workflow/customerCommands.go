package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmdatafocus/freight_backend/audit"
	"github.com/mmdatafocus/freight_backend/authz"
	"github.com/mmdatafocus/freight_backend/models"
	"github.com/mmdatafocus/freight_backend/utils"
	"github.com/shopspring/decimal"
)

func validationError(entity models.EntityType, id string, err error) error {
	fields := utils.ProcessValidationErrors(err)
	if len(fields) == 0 {
		return invalidInput(entity, id, err.Error(), err)
	}
	return invalidInput(entity, id, fmt.Sprintf("invalid fields: %v", fields), err)
}

// submissionRegion is the region a new customer or expense is tagged with.
// Ops default to their own region; global roles must name one.
func submissionRegion(actor models.Actor, requested models.Region, entity models.EntityType) (models.Region, error) {
	if own := actor.Region(); own != "" {
		requested = own
	}
	if !requested.IsValid() {
		return "", invalidInput(entity, "", "a region (CN or TZ) is required", nil)
	}
	return requested, nil
}

func accountNumbers(cs []models.Customer) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.AccountNumber
	}
	return out
}

// CreateCustomer registers a customer. A phone number already on file is a
// DuplicateEntity for every actor unless an Admin passes force, in which case
// the creation is audited as an override of the listed accounts.
func (e *Engine) CreateCustomer(ctx context.Context, actor models.Actor, in models.NewCustomer, force bool) (c models.Customer, err error) {
	ctx, span := e.startSpan(ctx, "CreateCustomer", actorAttrs(actor)...)
	defer func() { endSpan(span, err) }()

	region, err := submissionRegion(actor, in.Region, models.EntityCustomer)
	if err != nil {
		return models.Customer{}, err
	}
	target := authz.Target{EntityType: models.EntityCustomer, Regions: []models.Region{region}}
	if err := e.guard(ctx, actor, authz.ActionCustomerCreate, true, target, true); err != nil {
		return models.Customer{}, err
	}
	if force {
		if err := e.guard(ctx, actor, authz.ActionCustomerCreateForce, true, target, true); err != nil {
			return models.Customer{}, err
		}
	}
	if err := utils.ValidateStruct(in); err != nil {
		return models.Customer{}, validationError(models.EntityCustomer, "", err)
	}
	phone, err := utils.NormalizePhone(in.Phone, region.CountryCode())
	if err != nil {
		return models.Customer{}, invalidInput(models.EntityCustomer, "", "phone number is not valid", err)
	}

	release, err := e.lock(ctx, models.EntityCustomer, phone, lockKey("customer-phone", phone))
	if err != nil {
		return models.Customer{}, err
	}
	defer release()

	existing := e.store.CustomersByPhone(phone)
	if len(existing) > 0 && !force {
		dup := &models.TransitionError{
			Kind:    models.KindDuplicateEntity,
			Entity:  models.EntityCustomer,
			Message: fmt.Sprintf("phone %s is already registered to %s", phone, strings.Join(accountNumbers(existing), ", ")),
		}
		return models.Customer{}, e.recordRejection(ctx, rejection{actor: actor, entity: models.EntityCustomer, err: dup})
	}

	c = models.Customer{
		ID:              e.newID(),
		AccountNumber:   e.store.NextAccountNumber(),
		Name:            strings.TrimSpace(in.Name),
		Phone:           strings.TrimSpace(in.Phone),
		NormalizedPhone: phone,
		Email:           strings.TrimSpace(in.Email),
		Address:         strings.TrimSpace(in.Address),
		Region:          region,
		CreatedAt:       e.now(),
		CreatedBy:       actor.ID,
		Balance:         decimal.Zero,
	}
	meta := map[string]any{"forced": false}
	if force && len(existing) > 0 {
		meta = map[string]any{"forced": true, "overridden": accountNumbers(existing)}
	}

	t := newTxn()
	t.cs.PutCustomer(c)
	t.record(audit.Draft{
		Actor:      actor,
		EventType:  models.AuditCustomerCreated,
		EntityType: models.EntityCustomer,
		EntityID:   c.ID,
		Action:     fmt.Sprintf("Customer %s (%s) created", c.AccountNumber, c.Name),
		After:      c,
		Metadata:   meta,
	})
	if _, err := e.commit(ctx, t); err != nil {
		return models.Customer{}, err
	}
	return c, nil
}

// UpdateCustomer changes the mutable fields. Account number and region never
// change.
func (e *Engine) UpdateCustomer(ctx context.Context, actor models.Actor, id string, in models.UpdateCustomer) (c models.Customer, err error) {
	ctx, span := e.startSpan(ctx, "UpdateCustomer", actorAttrs(actor)...)
	defer func() { endSpan(span, err) }()

	c, err = e.store.Customer(id)
	if err != nil {
		return models.Customer{}, notFound(models.EntityCustomer, id)
	}
	if err := e.guard(ctx, actor, authz.ActionCustomerUpdate, true, authz.CustomerTarget(c), true); err != nil {
		return models.Customer{}, err
	}
	if err := utils.ValidateStruct(in); err != nil {
		return models.Customer{}, validationError(models.EntityCustomer, id, err)
	}

	keys := []string{lockKey("customer", id)}
	phone := c.NormalizedPhone
	if in.Phone != nil {
		phone, err = utils.NormalizePhone(*in.Phone, c.Region.CountryCode())
		if err != nil {
			return models.Customer{}, invalidInput(models.EntityCustomer, id, "phone number is not valid", err)
		}
		keys = append(keys, lockKey("customer-phone", phone))
	}
	release, err := e.lock(ctx, models.EntityCustomer, id, keys...)
	if err != nil {
		return models.Customer{}, err
	}
	defer release()

	c, err = e.store.Customer(id)
	if err != nil {
		return models.Customer{}, notFound(models.EntityCustomer, id)
	}
	before := c.Clone()

	if in.Phone != nil && phone != c.NormalizedPhone {
		for _, other := range e.store.CustomersByPhone(phone) {
			if other.ID != c.ID {
				dup := &models.TransitionError{
					Kind:     models.KindDuplicateEntity,
					Entity:   models.EntityCustomer,
					EntityID: id,
					Message:  fmt.Sprintf("phone %s is already registered to %s", phone, other.AccountNumber),
				}
				return models.Customer{}, e.recordRejection(ctx, rejection{actor: actor, entity: models.EntityCustomer, id: id, err: dup})
			}
		}
		c.Phone = strings.TrimSpace(*in.Phone)
		c.NormalizedPhone = phone
	}
	if in.Name != nil {
		c.Name = strings.TrimSpace(*in.Name)
	}
	if in.Email != nil {
		c.Email = strings.TrimSpace(*in.Email)
	}
	if in.Address != nil {
		c.Address = strings.TrimSpace(*in.Address)
	}
	if c.Name == "" || c.Address == "" {
		return models.Customer{}, invalidInput(models.EntityCustomer, id, "name and address must not be empty", nil)
	}

	t := newTxn()
	t.cs.PutCustomer(c)
	t.record(audit.Draft{
		Actor:      actor,
		EventType:  models.AuditCustomerUpdated,
		EntityType: models.EntityCustomer,
		EntityID:   c.ID,
		Action:     fmt.Sprintf("Customer %s updated", c.AccountNumber),
		Before:     before,
		After:      c,
	})
	if _, err := e.commit(ctx, t); err != nil {
		return models.Customer{}, err
	}
	return c, nil
}
