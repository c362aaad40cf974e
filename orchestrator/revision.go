package orchestrator

import (
	"context"

	"github.com/MTES-MCT/trackdechets-sub032/lifecycle"
	"github.com/MTES-MCT/trackdechets-sub032/repository"
	"github.com/google/uuid"
)

// RevisionProposal is what an authoring company asks to change.
type RevisionProposal struct {
	AuthoringOrgID string            `json:"authoringOrgId"`
	Changes        lifecycle.Changes `json:"content"`
	Comment        string            `json:"comment"`
}

func forbiddenFor(orgID string) error {
	return &lifecycle.ForbiddenError{Reason: "actor does not belong to company " + orgID}
}

// CreateRevisionRequest opens a revision on a signed bordereau. A request
// with nobody left to approve it is applied at once.
func (o *Orchestrator) CreateRevisionRequest(ctx context.Context, actor lifecycle.Actor, bordereauID string, p RevisionProposal) (*lifecycle.RevisionRequest, error) {
	if !actor.BelongsTo(p.AuthoringOrgID) {
		return nil, forbiddenFor(p.AuthoringOrgID)
	}
	var r *lifecycle.RevisionRequest
	err := o.run(ctx, "createRevisionRequest", actor, func(u *unit) error {
		b, err := u.tx.LockBordereau(bordereauID)
		if err != nil {
			return err
		}
		pending, err := u.tx.HasPendingRevision(b.ID)
		if err != nil {
			return err
		}
		if r, err = lifecycle.NewRevisionRequest(b, p.AuthoringOrgID, p.Changes, p.Comment, pending, u.now); err != nil {
			return err
		}
		r.ID = uuid.NewString()
		if err := u.tx.CreateRevision(r); err != nil {
			return err
		}
		data := revisionData{RevisionRequestID: r.ID, Status: r.Status, OrgID: r.AuthoringOrgID, Fields: r.Changes.Fields()}
		if err := u.emit(b.ID, EventRevisionRequestCreated, data); err != nil {
			return err
		}
		if r.Status != lifecycle.RevisionAccepted {
			return nil
		}
		return o.applyRevision(u, b, r)
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("Revision request created", "bsd", bordereauID, "op", "createRevisionRequest", "request", r.ID, "status", r.Status)
	return r, nil
}

// ApproveRevisionRequest records one approver's decision. The last
// acceptance applies the request.
func (o *Orchestrator) ApproveRevisionRequest(ctx context.Context, actor lifecycle.Actor, requestID, orgID string, accept bool, comment string) (*lifecycle.RevisionRequest, error) {
	if !actor.BelongsTo(orgID) {
		return nil, forbiddenFor(orgID)
	}
	var r *lifecycle.RevisionRequest
	err := o.run(ctx, "approveRevisionRequest", actor, func(u *unit) error {
		var err error
		if r, err = u.tx.LockRevision(requestID); err != nil {
			return err
		}
		b, err := u.tx.LockBordereau(r.BordereauID)
		if err != nil {
			return err
		}
		settled, err := r.Decide(b, orgID, accept, comment, u.now)
		if err != nil {
			return err
		}
		if err := u.tx.SaveRevision(r); err != nil {
			return err
		}
		if !settled {
			return nil
		}
		data := revisionData{RevisionRequestID: r.ID, Status: r.Status, OrgID: orgID}
		if r.Status == lifecycle.RevisionRefused {
			return u.emit(b.ID, EventRevisionRequestRefused, data)
		}
		if err := u.emit(b.ID, EventRevisionRequestAccepted, data); err != nil {
			return err
		}
		return o.applyRevision(u, b, r)
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("Revision request decided", "bsd", r.BordereauID, "op", "approveRevisionRequest", "request", r.ID, "org", orgID, "accept", accept, "status", r.Status)
	return r, nil
}

// CancelRevisionRequest withdraws a pending request on behalf of its author.
func (o *Orchestrator) CancelRevisionRequest(ctx context.Context, actor lifecycle.Actor, requestID, orgID string) (*lifecycle.RevisionRequest, error) {
	if !actor.BelongsTo(orgID) {
		return nil, forbiddenFor(orgID)
	}
	var r *lifecycle.RevisionRequest
	err := o.run(ctx, "cancelRevisionRequest", actor, func(u *unit) error {
		var err error
		if r, err = u.tx.LockRevision(requestID); err != nil {
			return err
		}
		if err := r.Cancel(orgID, u.now); err != nil {
			return err
		}
		if err := u.tx.SaveRevision(r); err != nil {
			return err
		}
		return u.emit(r.BordereauID, EventRevisionRequestCanceled, revisionData{RevisionRequestID: r.ID, Status: r.Status, OrgID: orgID})
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RevisionRequests lists the requests of a bordereau, oldest first.
func (o *Orchestrator) RevisionRequests(ctx context.Context, bordereauID string) ([]*lifecycle.RevisionRequest, error) {
	var out []*lifecycle.RevisionRequest
	err := o.repo.InTx(ctx, func(tx *repository.Tx) error {
		if _, err := tx.GetBordereau(bordereauID); err != nil {
			return err
		}
		var err error
		out, err = tx.RevisionsFor(bordereauID)
		return err
	})
	return out, err
}

// applyRevision writes an accepted request onto b. A cancellation releases
// the children first; a revised final operation reaches the children.
func (o *Orchestrator) applyRevision(u *unit, b *lifecycle.Bordereau, r *lifecycle.RevisionRequest) error {
	from := b.Status
	release, err := lifecycle.ApplyRevision(b, r)
	if err != nil {
		return err
	}
	if err := o.release(u, b, release); err != nil {
		return err
	}
	b.UpdatedAt = u.now
	if err := u.tx.SaveBordereau(b); err != nil {
		return err
	}
	data := revisionData{RevisionRequestID: r.ID, Status: r.Status, Fields: r.Changes.Fields()}
	if err := u.emit(b.ID, EventRevisionRequestApplied, data); err != nil {
		return err
	}
	if b.Status != from {
		if err := u.emit(b.ID, EventBsdUpdated, updateData{Status: b.Status, Fields: r.Changes.Fields(), Reason: "revision " + r.ID}); err != nil {
			return err
		}
	}
	if _, revised := r.Changes[lifecycle.FieldOperationCode]; !revised || !lifecycle.IsFinalOperationCode(b.Operation.Code) {
		return nil
	}
	return o.propagate(u, b, lifecycle.SignatureOperation, 0)
}
