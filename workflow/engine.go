package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/freight_backend/audit"
	"github.com/mmdatafocus/freight_backend/config"
	"github.com/mmdatafocus/freight_backend/models"
	"github.com/mmdatafocus/freight_backend/reports"
	"github.com/mmdatafocus/freight_backend/store"
	"github.com/mmdatafocus/freight_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Engine is the only writer of the entity store. Every command follows the
// same order: authorize, lock, re-read, check the table, stage the changes,
// then commit the changeset with its audit entries as one unit.
type Engine struct {
	store     *store.MemoryStore
	log       *audit.Log
	locker    Locker
	publisher Publisher
	logger    *logrus.Logger
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string
	rates     reports.RateTable
}

type Option func(*Engine)

func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithLogger(l *logrus.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

func WithRates(r reports.RateTable) Option {
	return func(e *Engine) { e.rates = r }
}

func NewEngine(st *store.MemoryStore, log *audit.Log, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		log:       log,
		locker:    NewMemoryLocker(),
		publisher: NoopPublisher{},
		logger:    config.GetLogger(),
		tracer:    otel.Tracer("github.com/mmdatafocus/freight_backend/workflow"),
		now:       time.Now,
		newID:     uuid.NewString,
		rates:     reports.DefaultRates(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Store() *store.MemoryStore { return e.store }

func (e *Engine) AuditLog() *audit.Log { return e.log }

// txn is the unit of work of one command: the records to write and the
// audit entries that make them committed.
type txn struct {
	cs     *store.Changeset
	drafts []audit.Draft
}

func newTxn() *txn {
	return &txn{cs: store.NewChangeset()}
}

func (t *txn) record(d audit.Draft) {
	t.drafts = append(t.drafts, d)
}

// commit appends the audit entries and applies the changeset together. If the
// append fails the store is not touched.
func (e *Engine) commit(ctx context.Context, t *txn) ([]audit.Entry, error) {
	var entries []audit.Entry
	err := e.store.Apply(ctx, t.cs, func() error {
		var err error
		entries, err = e.log.AppendBatch(ctx, t.drafts...)
		return err
	})
	if err != nil {
		return nil, e.storeError(err)
	}
	e.publisher.Publish(ctx, entries)
	return entries, nil
}

func (e *Engine) storeError(err error) error {
	var te *models.TransitionError
	switch {
	case errors.As(err, &te):
		return te
	case errors.Is(err, store.ErrUniqueViolation):
		return &models.TransitionError{Kind: models.KindDuplicateEntity, Message: err.Error(), Cause: err}
	case errors.Is(err, store.ErrImmutableField):
		return &models.TransitionError{Kind: models.KindInvalidTransition, Message: err.Error(), Cause: err}
	}
	return fmt.Errorf("commit: %w", err)
}

// lock takes every key or fails with ConcurrentModification.
func (e *Engine) lock(ctx context.Context, entity models.EntityType, id string, keys ...string) (func(), error) {
	release, err := e.locker.TryLock(ctx, keys...)
	if err == nil {
		return release, nil
	}
	if errors.Is(err, ErrLockNotObtained) {
		e.logger.WithFields(logrus.Fields{
			"module":         "workflow",
			"entity_type":    entity,
			"entity_id":      id,
			"correlation_id": correlationID(ctx),
		}).Info("entity lock contention")
		return nil, &models.TransitionError{
			Kind:     models.KindConcurrentModification,
			Entity:   entity,
			EntityID: id,
			Message:  "another transition on this entity is in progress",
		}
	}
	return nil, fmt.Errorf("lock %s %s: %w", entity, id, err)
}

func notFound(entity models.EntityType, id string) error {
	return &models.TransitionError{
		Kind:     models.KindNotFound,
		Entity:   entity,
		EntityID: id,
		Message:  fmt.Sprintf("%s %s not found", entity, id),
		Cause:    utils.ErrorRecordNotFound,
	}
}

func invalidInput(entity models.EntityType, id, msg string, cause error) error {
	return &models.TransitionError{Kind: models.KindInvalidInput, Entity: entity, EntityID: id, Message: msg, Cause: cause}
}

// isSecurityJump flags backward moves and jumps over more than one state.
func isSecurityJump(fromRank, toRank int) bool {
	if fromRank < 0 || toRank < 0 {
		return false
	}
	return toRank < fromRank || toRank-fromRank-1 > 1
}

type rejection struct {
	actor    models.Actor
	entity   models.EntityType
	id       string
	from, to string
	alert    bool
	err      error
}

// recordRejection audits a blocked attempt. Denials become ACCESS_DENIED,
// suspicious jumps SECURITY_ALERT, everything else TRANSITION_REJECTED. A
// failure to audit is logged; the caller still gets the original error.
func (e *Engine) recordRejection(ctx context.Context, r rejection) error {
	kind := models.KindOf(r.err)
	event := models.AuditTransitionRejected
	switch {
	case kind == models.KindUnauthorized:
		event = models.AuditAccessDenied
	case r.alert:
		event = models.AuditSecurityAlert
	}

	meta := map[string]any{
		"error_kind": kind,
		"reason":     r.err.Error(),
	}
	if r.from != "" || r.to != "" {
		meta["attempted"] = map[string]string{"from": r.from, "to": r.to}
	}
	var te *models.TransitionError
	if errors.As(r.err, &te) && te.Precondition != "" {
		meta["precondition"] = te.Precondition
	}

	entries, err := e.log.AppendBatch(ctx, audit.Draft{
		Actor:      r.actor,
		EventType:  event,
		EntityType: r.entity,
		EntityID:   r.id,
		Action:     fmt.Sprintf("blocked %s %s: %s", r.entity, r.id, kind),
		Metadata:   meta,
	})
	if err != nil {
		config.LogError(e.logger, "workflow", "recordRejection", "audit append", meta, err)
		return r.err
	}

	if event == models.AuditSecurityAlert {
		e.logger.WithFields(logrus.Fields{
			"module":         "workflow",
			"security_alert": true,
			"actor_id":       r.actor.ID,
			"actor_role":     r.actor.RoleName(),
			"entity_type":    r.entity,
			"entity_id":      r.id,
			"from":           r.from,
			"to":             r.to,
			"correlation_id": correlationID(ctx),
		}).Warn("suspicious state jump attempted")
	}
	e.publisher.Publish(ctx, entries)
	return r.err
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "workflow."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(models.KindOf(err)))
	}
	span.End()
}

func actorAttrs(actor models.Actor) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("actor.id", actor.ID),
		attribute.String("actor.role", actor.RoleName()),
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func correlationID(ctx context.Context) string {
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	return cid
}
