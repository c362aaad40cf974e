package orchestrator

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/MTES-MCT/trackdechets-sub032/lifecycle"
	"github.com/MTES-MCT/trackdechets-sub032/repository"
	"github.com/MTES-MCT/trackdechets-sub032/repository/models"
)

// CreateRequest describes a new draft bordereau.
type CreateRequest struct {
	Type        lifecycle.BsdType `json:"type"`
	IsSynthesis bool              `json:"isSynthesis"`
	Changes     lifecycle.Changes `json:"fields"`
}

// SignRequest is the caller's part of a signature, with optional field
// changes recorded in the same step (a reception quantity, an operation code).
type SignRequest struct {
	Type         lifecycle.SignatureType `json:"type"`
	Author       string                  `json:"author"`
	Date         time.Time               `json:"date"`
	SecurityCode string                  `json:"securityCode,omitempty"`
	Changes      lifecycle.Changes       `json:"fields,omitempty"`
}

func (o *Orchestrator) Create(ctx context.Context, actor lifecycle.Actor, req CreateRequest) (*lifecycle.Bordereau, error) {
	g, err := lifecycle.GraphFor(req.Type)
	if err != nil {
		return nil, err
	}
	var b *lifecycle.Bordereau
	err = o.run(ctx, "create", actor, func(u *unit) error {
		b = &lifecycle.Bordereau{
			ID:          lifecycle.NewID(req.Type, u.now),
			Type:        req.Type,
			Status:      g.Initial(),
			IsDraft:     true,
			IsSynthesis: req.IsSynthesis,
			CreatedAt:   u.now,
			UpdatedAt:   u.now,
		}
		if err := lifecycle.CheckEditable(b, req.Changes); err != nil {
			return err
		}
		if err := lifecycle.ApplyChanges(b, req.Changes); err != nil {
			return err
		}
		if err := requireParty(actor, b); err != nil {
			return err
		}
		lifecycle.ReconcileAll(b)
		if err := u.tx.CreateBordereau(b); err != nil {
			return err
		}
		return u.emit(b.ID, EventBsdCreated, statusData{Type: b.Type, Status: b.Status})
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("Bordereau created", "bsd", b.ID, "op", "create", "status", b.Status)
	return b, nil
}

func (o *Orchestrator) Get(ctx context.Context, id string) (*lifecycle.Bordereau, error) {
	var b *lifecycle.Bordereau
	err := o.repo.InTx(ctx, func(tx *repository.Tx) error {
		var err error
		b, err = tx.GetBordereau(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Events returns the event stream of a bordereau.
func (o *Orchestrator) Events(ctx context.Context, id string) ([]models.Event, error) {
	return o.repo.Events(ctx, id)
}

// Update edits a bordereau outside of any signature.
func (o *Orchestrator) Update(ctx context.Context, actor lifecycle.Actor, id string, changes lifecycle.Changes) (*lifecycle.Bordereau, error) {
	var b *lifecycle.Bordereau
	err := o.run(ctx, "update", actor, func(u *unit) error {
		var err error
		if b, err = u.tx.LockBordereau(id); err != nil {
			return err
		}
		if err := requireParty(actor, b); err != nil {
			return err
		}
		if len(changes) == 0 {
			return nil
		}
		if err := lifecycle.CheckEditable(b, changes); err != nil {
			return err
		}
		if err := lifecycle.ApplyChanges(b, changes); err != nil {
			return err
		}
		// Editing may not remove the actor's own company from the document.
		if err := requireParty(actor, b); err != nil {
			return err
		}
		lifecycle.ReconcileAll(b)
		b.UpdatedAt = u.now
		if err := u.tx.SaveBordereau(b); err != nil {
			return err
		}
		return u.emit(b.ID, EventBsdUpdated, updateData{Status: b.Status, Fields: changes.Fields()})
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Finalize seals a draft.
func (o *Orchestrator) Finalize(ctx context.Context, actor lifecycle.Actor, id string) (*Outcome, error) {
	var out *Outcome
	err := o.run(ctx, "finalize", actor, func(u *unit) error {
		b, err := u.tx.LockBordereau(id)
		if err != nil {
			return err
		}
		res, err := lifecycle.Seal(b, actor)
		if err != nil {
			return err
		}
		out = &Outcome{Bordereau: b, From: res.From, To: res.To, NoOp: res.NoOp}
		if res.NoOp {
			return nil
		}
		lifecycle.ApplySeal(b, res)
		b.UpdatedAt = u.now
		if err := u.tx.SaveBordereau(b); err != nil {
			return err
		}
		return u.emit(b.ID, EventBsdSealed, statusData{Type: b.Type, From: res.From, Status: res.To})
	})
	if err != nil {
		return nil, err
	}
	o.logOutcome("finalize", out)
	return out, nil
}

// Sign records one signature and propagates its effect to linked bordereaux.
// Signing twice is a no-op, including when a concurrent request won the race.
func (o *Orchestrator) Sign(ctx context.Context, actor lifecycle.Actor, id string, req SignRequest) (*Outcome, error) {
	var out *Outcome
	err := o.run(ctx, "sign", actor, func(u *unit) error {
		b, err := u.tx.LockBordereau(id)
		if err != nil {
			return err
		}
		creds, err := credentials(u.tx, b, req.SecurityCode)
		if err != nil {
			return err
		}
		date := req.Date
		if date.IsZero() {
			date = u.now
		}
		sr := lifecycle.SignRequest{Type: req.Type, Author: req.Author, Date: date}

		res, err := lifecycle.Sign(b, sr, actor, creds)
		if err == nil && res.NoOp {
			out = &Outcome{Bordereau: b, From: b.Status, To: b.Status, NoOp: true}
			return nil
		}
		if len(req.Changes) > 0 {
			if err := lifecycle.CheckEditable(b, req.Changes); err != nil {
				return err
			}
			if err := lifecycle.ApplyChanges(b, req.Changes); err != nil {
				return err
			}
			lifecycle.ReconcileAll(b)
			res, err = lifecycle.Sign(b, sr, actor, creds)
		}
		if err != nil {
			return err
		}

		lifecycle.Apply(b, res)
		b.UpdatedAt = u.now
		if err := u.tx.InsertSignature(b.ID, *res.Signature); err != nil {
			return err
		}
		if err := u.tx.SaveBordereau(b); err != nil {
			return err
		}
		if err := u.emit(b.ID, EventBsdSigned, signedData{Signature: *res.Signature, From: res.From, Status: res.To, Effects: res.Effects}); err != nil {
			return err
		}
		if res.Effects.ReachesChildren() {
			if err := o.propagate(u, b, req.Type, 0); err != nil {
				return err
			}
		}
		out = &Outcome{Bordereau: b, From: res.From, To: res.To}
		return nil
	})
	if errors.Is(err, lifecycle.ErrAlreadySigned) {
		b, err := o.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return &Outcome{Bordereau: b, From: b.Status, To: b.Status, NoOp: true}, nil
	}
	if err != nil {
		return nil, err
	}
	o.logOutcome("sign", out)
	return out, nil
}

// Reseal declares the second leg of a temp-stored BSDD. changes carry the
// temporary storage fields filled in by the temp storer.
func (o *Orchestrator) Reseal(ctx context.Context, actor lifecycle.Actor, id string, changes lifecycle.Changes) (*Outcome, error) {
	var out *Outcome
	err := o.run(ctx, "reseal", actor, func(u *unit) error {
		b, err := u.tx.LockBordereau(id)
		if err != nil {
			return err
		}
		if len(changes) > 0 {
			if err := lifecycle.CheckEditable(b, changes); err != nil {
				return err
			}
			if err := lifecycle.ApplyChanges(b, changes); err != nil {
				return err
			}
		}
		res, err := lifecycle.Reseal(b, actor)
		if err != nil {
			return err
		}
		out = &Outcome{Bordereau: b, From: res.From, To: res.To, NoOp: res.NoOp}
		if res.NoOp {
			return nil
		}
		lifecycle.ApplyReseal(b, res, u.now)
		b.UpdatedAt = u.now
		if err := u.tx.SaveBordereau(b); err != nil {
			return err
		}
		return u.emit(b.ID, EventBsdResealed, statusData{Type: b.Type, From: res.From, Status: res.To})
	})
	if err != nil {
		return nil, err
	}
	o.logOutcome("reseal", out)
	return out, nil
}

// Delete removes a bordereau after releasing its children.
func (o *Orchestrator) Delete(ctx context.Context, actor lifecycle.Actor, id string) error {
	return o.run(ctx, "delete", actor, func(u *unit) error {
		b, err := u.tx.LockBordereau(id)
		if err != nil {
			return err
		}
		if err := requireParty(actor, b); err != nil {
			return err
		}
		if err := lifecycle.CheckDeletable(b); err != nil {
			return err
		}
		if err := o.release(u, b, slices.Concat(b.Grouping, b.Forwarding, b.Synthesizing)); err != nil {
			return err
		}
		if err := u.tx.DeleteBordereau(b.ID); err != nil {
			return err
		}
		return u.emit(b.ID, EventBsdDeleted, statusData{Type: b.Type, Status: b.Status})
	})
}

func (o *Orchestrator) logOutcome(op string, out *Outcome) {
	if out == nil || out.NoOp {
		return
	}
	o.logger.Info("Lifecycle step committed", "bsd", out.Bordereau.ID, "op", op, "from", out.From, "status", out.To)
}
