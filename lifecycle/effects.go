package lifecycle

import "slices"

// EffectKind names a consequence of a transition beyond the new status.
type EffectKind string

const (
	// EffectReconcileQuantities recomputes the accepted quantity of the signed reception.
	EffectReconcileQuantities EffectKind = "RECONCILE_QUANTITIES"
	// EffectReleaseChildren returns grouped or forwarded children to their awaiting status.
	EffectReleaseChildren EffectKind = "RELEASE_CHILDREN"
	// EffectFinalizeChildren carries a final operation down to the children.
	EffectFinalizeChildren EffectKind = "FINALIZE_CHILDREN"
	// EffectReplayOnChildren repeats a synthesis reception or operation on each child.
	EffectReplayOnChildren EffectKind = "REPLAY_ON_CHILDREN"
)

// SideEffect is one consequence of a transition. Children lists the linked
// bordereaux it reaches, if any.
type SideEffect struct {
	Kind     EffectKind `json:"kind"`
	Children []string   `json:"children,omitempty"`
}

type Effects []SideEffect

func (es Effects) Has(k EffectKind) bool {
	return slices.ContainsFunc(es, func(e SideEffect) bool { return e.Kind == k })
}

// ReachesChildren reports whether the transition must be propagated to
// linked bordereaux.
func (es Effects) ReachesChildren() bool {
	return slices.ContainsFunc(es, func(e SideEffect) bool { return len(e.Children) > 0 })
}

// effectsOf lists what taking trigger t to status next implies for b.
func effectsOf(b *Bordereau, t Trigger, next Status) Effects {
	if t.Action != ActionSign {
		return nil
	}
	var out Effects
	switch t.Signature {
	case SignatureReception, SignatureAcceptation:
		out = append(out, SideEffect{Kind: EffectReconcileQuantities})
	}
	if len(b.Synthesizing) > 0 && (t.Signature == SignatureReception || t.Signature == SignatureOperation) {
		out = append(out, SideEffect{Kind: EffectReplayOnChildren, Children: slices.Clone(b.Synthesizing)})
	}
	if linked := slices.Concat(b.Forwarding, b.Grouping); len(linked) > 0 {
		switch {
		case next == StatusRefused:
			out = append(out, SideEffect{Kind: EffectReleaseChildren, Children: linked})
		case t.Signature == SignatureOperation && finalStatuses[next]:
			out = append(out, SideEffect{Kind: EffectFinalizeChildren, Children: linked})
		}
	}
	return out
}
