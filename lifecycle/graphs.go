package lifecycle

func to(s Status) edge {
	return edge{resolve: func(*Bordereau, Trigger) (Status, error) { return s, nil }}
}

func guarded(guard func(b *Bordereau, t Trigger) string, e edge) edge {
	e.guard = guard
	return e
}

func notDraft(b *Bordereau, _ Trigger) string {
	if b.IsDraft {
		return "bordereau is still a draft"
	}
	return ""
}

func notSynthesis(b *Bordereau, _ Trigger) string {
	if b.IsSynthesis {
		return "a synthesis has no emission step"
	}
	return ""
}

// receptionOutcome maps the recorded acceptation of a RECEPTION to a status.
// accepted is the status a full acceptation reaches on this type.
func receptionOutcome(accepted Status) edge {
	return edge{resolve: func(b *Bordereau, t Trigger) (Status, error) {
		switch t.Acceptation {
		case AcceptationRefused:
			return StatusRefused, nil
		case AcceptationPartiallyRefused:
			if err := requirePartialQuantities(b, t.Segment); err != nil {
				return "", err
			}
			return StatusReceived, nil
		case AcceptationAccepted:
			return accepted, nil
		}
		return StatusReceived, nil
	}}
}

// acceptationOutcome resolves an explicit ACCEPTATION signature.
func acceptationOutcome(accepted, partial Status) edge {
	return edge{resolve: func(b *Bordereau, t Trigger) (Status, error) {
		switch t.Acceptation {
		case AcceptationRefused:
			return StatusRefused, nil
		case AcceptationPartiallyRefused:
			if err := requirePartialQuantities(b, t.Segment); err != nil {
				return "", err
			}
			return partial, nil
		case AcceptationAccepted:
			return accepted, nil
		}
		return "", &MissingFieldsError{Fields: []Field{receptionField(b, t.Segment, FieldAcceptationStatus, FieldTempAcceptationStatus)}}
	}}
}

func requirePartialQuantities(b *Bordereau, segment int) error {
	r := b.receptionAt(segment)
	var missing []Field
	if !r.QuantityReceived.Valid {
		missing = append(missing, receptionField(b, segment, FieldQuantityReceived, FieldTempQuantityReceived))
	}
	if !r.QuantityRefused.Valid {
		missing = append(missing, receptionField(b, segment, FieldQuantityRefused, FieldTempQuantityRefused))
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}

// operationOutcome resolves an OPERATION signature from the operation code.
func operationOutcome(awaiting Status) edge {
	return edge{resolve: func(b *Bordereau, _ Trigger) (Status, error) {
		if awaiting != "" && IsGroupementCode(b.Operation.Code) {
			return awaiting, nil
		}
		return StatusProcessed, nil
	}}
}

func notRefused(b *Bordereau, t Trigger) string {
	if b.receptionAt(t.Segment).AcceptationStatus == AcceptationRefused {
		return "refused waste cannot be processed"
	}
	return ""
}

func bsddGraph() *StatusGraph {
	g := newGraph(TypeBSDD, StatusDraft)
	g.awaiting = StatusAwaitingGroup
	g.linked = StatusGrouped
	g.signatures = []SignatureType{
		SignatureEmission, SignatureTransport, SignatureReception, SignatureAcceptation,
		SignatureTempStorer, SignatureOperation,
	}

	reception := edge{resolve: func(b *Bordereau, t Trigger) (Status, error) {
		if t.Segment == 0 && b.hasTempStorage() {
			switch t.Acceptation {
			case AcceptationRefused:
				return StatusRefused, nil
			case AcceptationAccepted:
				return StatusTempStorerAccepted, nil
			case AcceptationPartiallyRefused:
				if err := requirePartialQuantities(b, t.Segment); err != nil {
					return "", err
				}
			}
			return StatusTempStored, nil
		}
		return receptionOutcome(StatusAccepted).resolve(b, t)
	}}
	operation := guarded(notRefused, edge{resolve: func(b *Bordereau, _ Trigger) (Status, error) {
		op := b.Operation
		switch {
		case op.NoTraceability:
			return StatusNoTraceability, nil
		case !IsFinalOperationCode(op.Code) && op.NextDestination != nil && op.NextDestination.IsForeign():
			return StatusFollowedWithPnttd, nil
		case IsGroupementCode(op.Code):
			return StatusAwaitingGroup, nil
		}
		return StatusProcessed, nil
	}})
	tempAcceptation := acceptationOutcome(StatusTempStorerAccepted, StatusTempStorerAccepted)
	hasTempStorage := func(b *Bordereau, _ Trigger) string {
		if !b.hasTempStorage() {
			return "bordereau has no temporary storage"
		}
		return ""
	}

	g.on(StatusDraft, ActionSeal, to(StatusSealed)).
		on(StatusSealed, SignatureEmission, to(StatusSignedByProducer)).
		on(StatusSignedByProducer, SignatureTransport, to(StatusSent)).
		on(StatusSent, SignatureTransport, to(StatusSent)).
		on(StatusSent, SignatureReception, reception).
		on(StatusTempStored, SignatureAcceptation, tempAcceptation).
		on(StatusTempStorerAccepted, ActionReseal, guarded(hasTempStorage, to(StatusResealed))).
		on(StatusResealed, SignatureTempStorer, to(StatusSignedByTempStorer)).
		on(StatusSignedByTempStorer, SignatureTransport, to(StatusResent)).
		on(StatusResent, SignatureReception, reception).
		on(StatusReceived, SignatureAcceptation, acceptationOutcome(StatusAccepted, StatusAccepted)).
		on(StatusReceived, SignatureOperation, operation).
		on(StatusAccepted, SignatureOperation, operation)

	for _, s := range []Status{
		StatusSignedByProducer, StatusSent, StatusTempStored, StatusTempStorerAccepted,
		StatusResealed, StatusSignedByTempStorer, StatusResent,
	} {
		g.cancellable[s] = true
	}
	return g
}

func bsdaGraph() *StatusGraph {
	g := newGraph(TypeBSDA, StatusInitial)
	g.awaiting = StatusAwaitingChild
	g.signatures = []SignatureType{SignatureEmission, SignatureWork, SignatureTransport, SignatureReception, SignatureOperation}

	noWorker := func(b *Bordereau, _ Trigger) string {
		if b.Worker != nil && b.Worker.OrgID() != "" {
			return "the worker must sign before transport"
		}
		return ""
	}
	hasWorker := func(b *Bordereau, _ Trigger) string {
		if b.Worker == nil || b.Worker.OrgID() == "" {
			return "bordereau has no worker"
		}
		return ""
	}

	g.on(StatusInitial, ActionSeal, to(StatusInitial)).
		on(StatusInitial, SignatureEmission, guarded(notDraft, to(StatusSignedByProducer))).
		on(StatusSignedByProducer, SignatureWork, guarded(hasWorker, to(StatusSignedByWorker))).
		on(StatusSignedByProducer, SignatureTransport, guarded(noWorker, to(StatusSent))).
		on(StatusSignedByWorker, SignatureTransport, to(StatusSent)).
		on(StatusSent, SignatureTransport, to(StatusSent)).
		on(StatusSent, SignatureReception, receptionOutcome(StatusReceived)).
		on(StatusReceived, SignatureOperation, guarded(notRefused, operationOutcome(StatusAwaitingChild)))

	for _, s := range []Status{StatusSignedByProducer, StatusSignedByWorker, StatusSent} {
		g.cancellable[s] = true
	}
	return g
}

func bsdasriGraph() *StatusGraph {
	g := newGraph(TypeBSDASRI, StatusInitial)
	g.awaiting = StatusAwaitingGroup
	g.signatures = []SignatureType{SignatureEmission, SignatureTransport, SignatureReception, SignatureOperation}

	synthesisOnly := func(b *Bordereau, _ Trigger) string {
		if !b.IsSynthesis {
			return "emission must be signed before transport"
		}
		if b.IsDraft {
			return "bordereau is still a draft"
		}
		return ""
	}

	g.on(StatusInitial, ActionSeal, to(StatusInitial)).
		on(StatusInitial, SignatureEmission, guarded(func(b *Bordereau, t Trigger) string {
			if r := notSynthesis(b, t); r != "" {
				return r
			}
			return notDraft(b, t)
		}, to(StatusSignedByProducer))).
		on(StatusInitial, SignatureTransport, guarded(synthesisOnly, to(StatusSent))).
		on(StatusSignedByProducer, SignatureTransport, to(StatusSent)).
		on(StatusSent, SignatureTransport, to(StatusSent)).
		on(StatusSent, SignatureReception, receptionOutcome(StatusReceived)).
		on(StatusReceived, SignatureOperation, guarded(notRefused, operationOutcome(StatusAwaitingGroup)))

	for _, s := range []Status{StatusSignedByProducer, StatusSent} {
		g.cancellable[s] = true
	}
	return g
}

func bsvhuGraph() *StatusGraph {
	g := newGraph(TypeBSVHU, StatusInitial)
	g.signatures = []SignatureType{SignatureEmission, SignatureTransport, SignatureReception, SignatureOperation}

	g.on(StatusInitial, ActionSeal, to(StatusInitial)).
		on(StatusInitial, SignatureEmission, guarded(notDraft, to(StatusSignedByProducer))).
		on(StatusSignedByProducer, SignatureTransport, to(StatusSent)).
		on(StatusSent, SignatureTransport, to(StatusSent)).
		on(StatusSent, SignatureReception, receptionOutcome(StatusReceived)).
		on(StatusReceived, SignatureOperation, guarded(notRefused, operationOutcome("")))

	for _, s := range []Status{StatusSignedByProducer, StatusSent} {
		g.cancellable[s] = true
	}
	return g
}

func bsffGraph() *StatusGraph {
	g := newGraph(TypeBSFF, StatusInitial)
	g.awaiting = StatusIntermediatelyProcessed
	g.signatures = []SignatureType{SignatureEmission, SignatureTransport, SignatureReception, SignatureAcceptation, SignatureOperation}

	operation := guarded(notRefused, operationOutcome(StatusIntermediatelyProcessed))
	g.on(StatusInitial, ActionSeal, to(StatusInitial)).
		on(StatusInitial, SignatureEmission, guarded(notDraft, to(StatusSignedByEmitter))).
		on(StatusSignedByEmitter, SignatureTransport, to(StatusSent)).
		on(StatusSent, SignatureTransport, to(StatusSent)).
		on(StatusSent, SignatureReception, receptionOutcome(StatusAccepted)).
		on(StatusReceived, SignatureAcceptation, acceptationOutcome(StatusAccepted, StatusPartiallyRefused)).
		on(StatusReceived, SignatureOperation, operation).
		on(StatusAccepted, SignatureOperation, operation).
		on(StatusPartiallyRefused, SignatureOperation, operation)

	for _, s := range []Status{StatusSignedByEmitter, StatusSent} {
		g.cancellable[s] = true
	}
	return g
}

func bspaohGraph() *StatusGraph {
	g := newGraph(TypeBSPAOH, StatusInitial)
	g.signatures = []SignatureType{
		SignatureEmission, SignatureTransport, SignatureDelivery, SignatureReception,
		SignatureAcceptation, SignatureOperation,
	}

	delivered := func(b *Bordereau, _ Trigger) string {
		if !b.HasSignatureOfType(SignatureDelivery) {
			return "the transporter must sign the delivery first"
		}
		return ""
	}
	notDelivered := func(b *Bordereau, _ Trigger) string {
		if b.HasSignatureOfType(SignatureDelivery) {
			return "transport is already delivered"
		}
		return ""
	}

	operation := guarded(notRefused, operationOutcome(""))
	g.on(StatusInitial, ActionSeal, to(StatusInitial)).
		on(StatusInitial, SignatureEmission, guarded(notDraft, to(StatusSignedByProducer))).
		on(StatusSignedByProducer, SignatureTransport, to(StatusSent)).
		on(StatusSent, SignatureTransport, guarded(notDelivered, to(StatusSent))).
		on(StatusSent, SignatureDelivery, to(StatusSent)).
		on(StatusSent, SignatureReception, guarded(delivered, receptionOutcome(StatusReceived))).
		on(StatusReceived, SignatureAcceptation, acceptationOutcome(StatusReceived, StatusPartiallyRefused)).
		on(StatusReceived, SignatureOperation, operation).
		on(StatusPartiallyRefused, SignatureOperation, operation)

	for _, s := range []Status{StatusSignedByProducer, StatusSent} {
		g.cancellable[s] = true
	}
	return g
}
