// Package orchestrator runs every lifecycle operation as one transaction:
// load and lock, validate, transition, propagate to linked bordereaux,
// persist, append events, commit, then hand the events to the publisher.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/MTES-MCT/trackdechets-sub032/lifecycle"
	"github.com/MTES-MCT/trackdechets-sub032/repository"
	"github.com/MTES-MCT/trackdechets-sub032/repository/models"
	cmtlog "github.com/cometbft/cometbft/libs/log"
)

// DefaultMaxDepth bounds propagation through nested relations.
const DefaultMaxDepth = 8

// Publisher receives committed events. It returns a reference to the
// publication: a ledger transaction hash, or an empty string when the
// events were only handed over locally. Either way they count as published.
type Publisher interface {
	Publish(ctx context.Context, events []models.Event) (string, error)
}

type Orchestrator struct {
	repo      *repository.Repository
	publisher Publisher
	logger    cmtlog.Logger
	now       func() time.Time
	maxDepth  int
}

func New(repo *repository.Repository, publisher Publisher, logger cmtlog.Logger) *Orchestrator {
	return &Orchestrator{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		maxDepth:  DefaultMaxDepth,
	}
}

// Outcome is the result of a lifecycle operation on one bordereau.
type Outcome struct {
	Bordereau *lifecycle.Bordereau `json:"bordereau"`
	From      lifecycle.Status     `json:"from"`
	To        lifecycle.Status     `json:"to"`
	NoOp      bool                 `json:"noOp"`
}

// unit is the state of one running operation.
type unit struct {
	tx     *repository.Tx
	actor  lifecycle.Actor
	now    time.Time
	events []models.Event
}

func (u *unit) emit(streamID, eventType string, data any) error {
	e, err := u.tx.AppendEvent(streamID, eventType, u.actor.ID, data)
	if err != nil {
		return err
	}
	u.events = append(u.events, *e)
	return nil
}

// run executes fn in a transaction and publishes its events once committed.
func (o *Orchestrator) run(ctx context.Context, op string, actor lifecycle.Actor, fn func(u *unit) error) error {
	var events []models.Event
	err := o.repo.InTx(ctx, func(tx *repository.Tx) error {
		u := &unit{tx: tx, actor: actor, now: o.now()}
		if err := fn(u); err != nil {
			return err
		}
		events = u.events
		return nil
	})
	if err != nil {
		o.logRejection(op, actor, err)
		return err
	}
	o.publish(ctx, events)
	return nil
}

func (o *Orchestrator) logRejection(op string, actor lifecycle.Actor, err error) {
	var violation *lifecycle.InvariantViolationError
	var repoErr *repository.RepositoryError
	switch {
	case errors.As(err, &violation):
		o.logger.Error("Invariant violation, transaction aborted", "op", op, "actor", actor.ID, "err", err)
	case errors.As(err, &repoErr) && !repository.IsNotFound(err):
		o.logger.Error("Storage failure", "op", op, "actor", actor.ID, "err", err)
	default:
		o.logger.Info("Operation rejected", "op", op, "actor", actor.ID, "err", err)
	}
}

// publish never fails the operation: the events are committed and stay
// unpublished until a later attempt.
func (o *Orchestrator) publish(ctx context.Context, events []models.Event) {
	if o.publisher == nil || len(events) == 0 {
		return
	}
	ref, err := o.publisher.Publish(ctx, events)
	if err != nil {
		o.logger.Error("Publishing events failed", "events", len(events), "err", err)
		return
	}
	ids := make([]uint, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	if err := o.repo.MarkPublished(ctx, ids, ref); err != nil {
		o.logger.Error("Recording publication failed", "ledger_tx", ref, "err", err)
	}
}

// RepublishPending publishes events left unpublished by earlier failures.
func (o *Orchestrator) RepublishPending(ctx context.Context, batch int) (int, error) {
	events, err := o.repo.UnpublishedEvents(ctx, batch)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 || o.publisher == nil {
		return 0, nil
	}
	o.publish(ctx, events)
	return len(events), nil
}

// credentials loads the registry entries of every company on b.
func credentials(tx *repository.Tx, b *lifecycle.Bordereau, securityCode string) (lifecycle.Credentials, error) {
	var orgIDs []string
	for _, s := range b.Stakeholders() {
		orgIDs = append(orgIDs, s.OrgID)
	}
	return tx.Credentials(orgIDs, securityCode)
}

func requireParty(actor lifecycle.Actor, b *lifecycle.Bordereau) error {
	if !actor.IsPartyTo(b) {
		return &lifecycle.ForbiddenError{Reason: "actor is not a party to bordereau " + b.ID}
	}
	return nil
}
