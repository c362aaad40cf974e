package lifecycle

import (
	"slices"
	"time"
)

// RevisionStatus is shared by revision requests and their approvals.
type RevisionStatus string

const (
	RevisionPending  RevisionStatus = "PENDING"
	RevisionAccepted RevisionStatus = "ACCEPTED"
	RevisionRefused  RevisionStatus = "REFUSED"
	RevisionCanceled RevisionStatus = "CANCELED"
)

// AutoApprovalComment marks approvals granted on behalf of a linked party.
const AutoApprovalComment = "Auto approval"

type Approval struct {
	ApproverOrgID string         `json:"approverOrgId"`
	Status        RevisionStatus `json:"status"`
	Comment       string         `json:"comment,omitempty"`
	DecidedAt     *time.Time     `json:"decidedAt,omitempty"`
}

// RevisionRequest is a proposed post-signature change that every other
// stakeholder must approve.
type RevisionRequest struct {
	ID             string         `json:"id"`
	BordereauID    string         `json:"bordereauId"`
	AuthoringOrgID string         `json:"authoringOrgId"`
	Changes        Changes        `json:"changes"`
	Comment        string         `json:"comment,omitempty"`
	Status         RevisionStatus `json:"status"`
	Approvals      []Approval     `json:"approvals"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

func (r *RevisionRequest) IsCancellation() bool {
	v, ok := r.Changes[FieldIsCanceled].(bool)
	return ok && v
}

func (r *RevisionRequest) approval(orgID string) *Approval {
	for i := range r.Approvals {
		if r.Approvals[i].ApproverOrgID == orgID {
			return &r.Approvals[i]
		}
	}
	return nil
}

func (r *RevisionRequest) pending() int {
	n := 0
	for _, a := range r.Approvals {
		if a.Status == RevisionPending {
			n++
		}
	}
	return n
}

// Approvers returns every distinct company on b except the author, in role order.
func Approvers(b *Bordereau, authorOrgID string) []string {
	var out []string
	for _, s := range b.Stakeholders() {
		if s.OrgID != authorOrgID && !slices.Contains(out, s.OrgID) {
			out = append(out, s.OrgID)
		}
	}
	return out
}

// revisableStatus rejects documents that cannot be revised at all.
func revisableStatus(b *Bordereau) error {
	switch {
	case b.IsCanceled || b.Status == StatusCanceled:
		return &RevisionNotAllowedError{Status: b.Status, Reason: "bordereau is canceled"}
	case b.Status == StatusRefused:
		return &RevisionNotAllowedError{Status: b.Status, Reason: "bordereau was refused"}
	case b.IsDraft || len(b.Signatures) == 0:
		return &RevisionNotAllowedError{Status: b.Status, Reason: "bordereau is not signed yet and can still be edited"}
	}
	return nil
}

// validateContent checks the proposed changes against b.
func validateContent(b *Bordereau, changes Changes) error {
	if len(changes) == 0 {
		return &InvalidRevisionError{Reason: "no change proposed"}
	}
	if v, ok := changes[FieldIsCanceled]; ok {
		flag, isBool := v.(bool)
		if !isBool {
			return &InvalidRevisionError{Reason: "isCanceled must be a boolean"}
		}
		if flag && len(changes) > 1 {
			return &InvalidRevisionError{Reason: "a cancellation cannot carry other changes"}
		}
		if !flag && len(changes) == 1 {
			return &InvalidRevisionError{Reason: "no change proposed"}
		}
		if flag {
			g, err := GraphFor(b.Type)
			if err != nil {
				return err
			}
			if !g.Cancellable(b.Status) {
				return &RevisionNotAllowedError{Status: b.Status, Reason: "bordereau can no longer be canceled"}
			}
			return nil
		}
	}
	for _, f := range changes.Fields() {
		if f == FieldIsCanceled {
			continue
		}
		def, ok := fieldDefs[f]
		if !ok || !def.revisable {
			return &InvalidRevisionError{Reason: string(f) + " cannot be revised"}
		}
		if def.tempOnly && !b.hasTempStorage() {
			return &InvalidRevisionError{Reason: "bordereau has no temporary storage"}
		}
		if f == FieldOperationCode {
			if _, _, linked := b.Parent(); linked {
				return &InvalidRevisionError{Reason: "the operation of a linked bordereau follows its parent"}
			}
		}
	}
	// Dry run on a copy so a request never carries undecodable values.
	trial := b.clone()
	if err := ApplyChanges(trial, withoutCancel(changes)); err != nil {
		return &InvalidRevisionError{Reason: err.Error()}
	}
	if v, ok := changes[FieldOperationCode]; ok {
		if code, _ := v.(string); !IsValidOperationCode(code) {
			return &InvalidRevisionError{Reason: "unknown operation code"}
		}
	}
	return nil
}

func withoutCancel(changes Changes) Changes {
	out := make(Changes, len(changes))
	for f, v := range changes {
		if f != FieldIsCanceled {
			out[f] = v
		}
	}
	return out
}

// NewRevisionRequest validates a revision proposal and builds it with one
// PENDING approval per approver. hasPending tells whether another request
// is already pending on b.
func NewRevisionRequest(b *Bordereau, authorOrgID string, changes Changes, comment string, hasPending bool, now time.Time) (*RevisionRequest, error) {
	if hasPending {
		return nil, ErrConcurrentRevisionExists
	}
	if err := revisableStatus(b); err != nil {
		return nil, err
	}
	if !b.IsStakeholder(authorOrgID) {
		return nil, &ForbiddenError{Reason: "authoring company is not on the bordereau"}
	}
	if err := validateContent(b, changes); err != nil {
		return nil, err
	}
	r := &RevisionRequest{
		BordereauID:    b.ID,
		AuthoringOrgID: authorOrgID,
		Changes:        changes,
		Comment:        comment,
		Status:         RevisionPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, orgID := range Approvers(b, authorOrgID) {
		r.Approvals = append(r.Approvals, Approval{ApproverOrgID: orgID, Status: RevisionPending})
	}
	if len(r.Approvals) == 0 {
		r.Status = RevisionAccepted
	}
	return r, nil
}

// Decide records the approver's decision. settled is true when the request
// left PENDING as a result; the caller then applies an ACCEPTED request.
func (r *RevisionRequest) Decide(b *Bordereau, orgID string, accept bool, comment string, now time.Time) (settled bool, err error) {
	if r.Status != RevisionPending {
		return false, ErrAlreadyDecided
	}
	a := r.approval(orgID)
	if a == nil {
		return false, ErrApproverNotOnDocument
	}
	if a.Status != RevisionPending {
		return false, ErrAlreadyDecided
	}
	r.UpdatedAt = now
	if !accept {
		a.Status, a.Comment, a.DecidedAt = RevisionRefused, comment, &now
		r.Status = RevisionRefused
		for i := range r.Approvals {
			if r.Approvals[i].Status == RevisionPending {
				r.Approvals[i].Status = RevisionCanceled
				r.Approvals[i].DecidedAt = &now
			}
		}
		return true, nil
	}

	a.Status, a.Comment, a.DecidedAt = RevisionAccepted, comment, &now
	// Emitter and eco-organisme answer for each other.
	emitter, eco := b.Emitter.OrgID(), orgIDOf(b.EcoOrganisme)
	if eco != "" && (orgID == emitter || orgID == eco) {
		for _, other := range []string{emitter, eco} {
			if o := r.approval(other); o != nil && o.Status == RevisionPending {
				o.Status, o.Comment, o.DecidedAt = RevisionAccepted, AutoApprovalComment, &now
			}
		}
	}
	if r.pending() > 0 {
		return false, nil
	}
	r.Status = RevisionAccepted
	return true, nil
}

// Cancel withdraws a PENDING request on behalf of its author.
func (r *RevisionRequest) Cancel(orgID string, now time.Time) error {
	if r.Status != RevisionPending {
		return ErrAlreadyDecided
	}
	if orgID != r.AuthoringOrgID {
		return ErrRevisionAuthorMismatch
	}
	r.Status = RevisionCanceled
	r.UpdatedAt = now
	for i := range r.Approvals {
		if r.Approvals[i].Status == RevisionPending {
			r.Approvals[i].Status = RevisionCanceled
			r.Approvals[i].DecidedAt = &now
		}
	}
	return nil
}

// ApplyRevision writes an ACCEPTED request onto b. For a cancellation it
// returns the children that must be released from b.
func ApplyRevision(b *Bordereau, r *RevisionRequest) (release []string, err error) {
	if r.Status != RevisionAccepted {
		return nil, &InvariantViolationError{Reason: "applying a revision request that is " + string(r.Status)}
	}
	if r.pending() > 0 {
		return nil, &InvariantViolationError{Reason: "accepted revision request still has pending approvals"}
	}
	if r.IsCancellation() {
		g, err := GraphFor(b.Type)
		if err != nil {
			return nil, err
		}
		if !g.Cancellable(b.Status) {
			return nil, &RevisionNotAllowedError{Status: b.Status, Reason: "bordereau can no longer be canceled"}
		}
		release = slices.Concat(b.Grouping, b.Forwarding, b.Synthesizing)
		b.IsCanceled = true
		b.Status = StatusCanceled
		return release, nil
	}
	if err := ApplyChanges(b, withoutCancel(r.Changes)); err != nil {
		return nil, err
	}
	if _, revised := r.Changes[FieldOperationCode]; revised && IsFinalOperationCode(b.Operation.Code) {
		b.Operation.NoTraceability = false
	}
	ReconcileAll(b)
	if err := Refresh(b); err != nil {
		return nil, &InvariantViolationError{Reason: "revised bordereau has no consistent status: " + err.Error()}
	}
	return nil, nil
}

// clone copies b deeply enough for dry runs on its fields.
func (b *Bordereau) clone() *Bordereau {
	c := *b
	c.Transporters = slices.Clone(b.Transporters)
	c.Signatures = slices.Clone(b.Signatures)
	if b.TemporaryStorage != nil {
		ts := *b.TemporaryStorage
		c.TemporaryStorage = &ts
	}
	for _, p := range []**Company{&c.EcoOrganisme, &c.Worker, &c.Trader, &c.Broker, &c.Operation.NextDestination} {
		if *p != nil {
			cp := **p
			*p = &cp
		}
	}
	return &c
}
