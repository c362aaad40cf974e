package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadySigned is soft: callers treat it as a successful no-op.
	ErrAlreadySigned            = errors.New("signature already recorded")
	ErrConcurrentRevisionExists = errors.New("a pending revision request already exists for this bordereau")
	ErrApproverNotOnDocument    = errors.New("company is not an approver of this revision request")
	ErrAlreadyDecided           = errors.New("revision request already decided")
	ErrUnknownType              = errors.New("unknown bordereau type")
	ErrRevisionAuthorMismatch   = errors.New("only the authoring company can cancel a revision request")
	ErrLinkedIntoParent         = errors.New("bordereau is linked into a parent bordereau")
	ErrPropagationDepthExceeded = errors.New("relation chain too deep")
)

// InvalidTransitionError reports a step the status graph does not allow.
type InvalidTransitionError struct {
	Type    BsdType
	From    Status
	Trigger string
	Reason  string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("invalid transition for %s: %s from status %s", e.Type, e.Trigger, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// MissingFieldsError lists the required fields that are absent or invalid.
type MissingFieldsError struct {
	Fields []Field
}

func (e *MissingFieldsError) Error() string {
	return "missing or invalid required fields: " + joinFields(e.Fields)
}

type UnauthorizedSignerError struct {
	Signature SignatureType
	Expected  []string
}

func (e *UnauthorizedSignerError) Error() string {
	return fmt.Sprintf("not authorized to sign %s on behalf of %s", e.Signature, strings.Join(e.Expected, ", "))
}

// RevisionNotAllowedError reports a revision that the document's status forbids.
type RevisionNotAllowedError struct {
	Status Status
	Reason string
}

func (e *RevisionNotAllowedError) Error() string {
	return fmt.Sprintf("revision not allowed in status %s: %s", e.Status, e.Reason)
}

type InvalidRevisionError struct {
	Reason string
}

func (e *InvalidRevisionError) Error() string {
	return "invalid revision request: " + e.Reason
}

type IncompatibleLinkError struct {
	Kind    RelationKind
	ChildID string
	Reason  string
}

func (e *IncompatibleLinkError) Error() string {
	if e.ChildID == "" {
		return fmt.Sprintf("incompatible %s link: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("incompatible %s link for %s: %s", e.Kind, e.ChildID, e.Reason)
}

// LockedFieldsError lists fields that a signature or a parent relation made read-only.
type LockedFieldsError struct {
	Fields []Field
}

func (e *LockedFieldsError) Error() string {
	return "fields are locked: " + joinFields(e.Fields)
}

type InvalidFieldError struct {
	Field  Field
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid field %s: %s", e.Field, e.Reason)
}

// ForbiddenError reports an actor acting outside the companies it belongs to.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return "forbidden: " + e.Reason
}

// InvariantViolationError is fatal: the surrounding transaction must abort.
type InvariantViolationError struct {
	Reason string
}

func (e *InvariantViolationError) Error() string {
	return "invariant violation: " + e.Reason
}

func joinFields(fields []Field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = string(f)
	}
	return strings.Join(parts, ", ")
}
