package models

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorKind string

const (
	KindUnauthorized           ErrorKind = "Unauthorized"
	KindInvalidTransition      ErrorKind = "InvalidTransition"
	KindPreconditionNotMet     ErrorKind = "PreconditionNotMet"
	KindConcurrentModification ErrorKind = "ConcurrentModification"
	KindDuplicateEntity        ErrorKind = "DuplicateEntity"
	KindIntegrityViolation     ErrorKind = "IntegrityViolation"
	KindNotFound               ErrorKind = "NotFound"
	KindInvalidInput           ErrorKind = "InvalidInput"
)

// Sentinels for errors.Is. Every *TransitionError unwraps to the one matching its Kind.
var (
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrPreconditionNotMet     = errors.New("precondition not met")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrDuplicateEntity        = errors.New("duplicate entity")
	ErrIntegrityViolation     = errors.New("audit integrity violation")
	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
)

var kindSentinels = map[ErrorKind]error{
	KindUnauthorized:           ErrUnauthorized,
	KindInvalidTransition:      ErrInvalidTransition,
	KindPreconditionNotMet:     ErrPreconditionNotMet,
	KindConcurrentModification: ErrConcurrentModification,
	KindDuplicateEntity:        ErrDuplicateEntity,
	KindIntegrityViolation:     ErrIntegrityViolation,
	KindNotFound:               ErrNotFound,
	KindInvalidInput:           ErrInvalidInput,
}

// TransitionError is returned by every engine command. Precondition names the
// specific rule that failed so callers never see a generic failure.
type TransitionError struct {
	Kind         ErrorKind  `json:"kind"`
	Entity       EntityType `json:"entity_type,omitempty"`
	EntityID     string     `json:"entity_id,omitempty"`
	From         string     `json:"from,omitempty"`
	To           string     `json:"to,omitempty"`
	Precondition string     `json:"precondition,omitempty"`
	Message      string     `json:"message"`
	Cause        error      `json:"-"`
}

func (e *TransitionError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Entity != "" {
		fmt.Fprintf(&b, " %s %s", e.Entity, e.EntityID)
	}
	if e.From != "" || e.To != "" {
		fmt.Fprintf(&b, " (%s -> %s)", e.From, e.To)
	}
	if e.Precondition != "" {
		fmt.Fprintf(&b, " [%s]", e.Precondition)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *TransitionError) Unwrap() []error {
	errs := []error{kindSentinels[e.Kind]}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func NewError(kind ErrorKind, entity EntityType, id string, message string) *TransitionError {
	return &TransitionError{Kind: kind, Entity: entity, EntityID: id, Message: message}
}

func PreconditionFailed(entity EntityType, id, from, to, precondition, message string) *TransitionError {
	return &TransitionError{
		Kind:         KindPreconditionNotMet,
		Entity:       entity,
		EntityID:     id,
		From:         from,
		To:           to,
		Precondition: precondition,
		Message:      message,
	}
}

// KindOf extracts the kind of err, "" when err is not a TransitionError.
func KindOf(err error) ErrorKind {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ""
}
