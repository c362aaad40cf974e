package lifecycle

import "fmt"

// DeriveStatus recomputes the status of b from its signatures and recorded
// outcomes by replaying them through the status graph, then applying the
// cancellation and parent-relation overlays.
func DeriveStatus(b *Bordereau) (Status, error) {
	g, err := GraphFor(b.Type)
	if err != nil {
		return "", err
	}
	status := g.initial
	if !b.IsDraft {
		if status, err = g.Next(b, status, SealTrigger()); err != nil {
			return "", err
		}
	}
	resealed := b.TemporaryStorage != nil && b.TemporaryStorage.ResealedAt != nil
	for _, s := range b.Signatures {
		if s.Type == SignatureTempStorer && status == StatusTempStorerAccepted && resealed {
			status = StatusResealed
		}
		// Guards look at the whole document, so replay only resolves edges.
		e, ok := g.edges[edgeKey{from: status, step: string(s.Type)}]
		if !ok {
			return "", &InvariantViolationError{Reason: fmt.Sprintf("%s signature recorded in status %s", s.Type, status)}
		}
		if status, err = e.resolve(b, SignTrigger(s.Type, s.Segment, s.Acceptation)); err != nil {
			return "", err
		}
	}
	if status == StatusTempStorerAccepted && resealed {
		status = StatusResealed
	}
	return overlay(g, b, status), nil
}

func overlay(g *StatusGraph, b *Bordereau, status Status) Status {
	switch {
	case b.IsCanceled:
		return StatusCanceled
	case b.ParentFinalizedAt != nil && status == g.awaiting:
		return StatusProcessed
	case b.GroupedInID != "" && status == g.awaiting && g.linked != "":
		return g.linked
	}
	return status
}

// Refresh sets b.Status to its derived value.
func Refresh(b *Bordereau) error {
	s, err := DeriveStatus(b)
	if err != nil {
		return err
	}
	b.Status = s
	return nil
}
