package lifecycle

import (
	"slices"
	"time"
)

// RelationKind is how a parent bordereau takes over its children.
type RelationKind string

const (
	RelationForwarding   RelationKind = "FORWARDING"
	RelationGrouping     RelationKind = "GROUPING"
	RelationSynthesizing RelationKind = "SYNTHESIZING"
)

func (k RelationKind) Valid() bool {
	switch k {
	case RelationForwarding, RelationGrouping, RelationSynthesizing:
		return true
	}
	return false
}

var relationTypes = map[RelationKind][]BsdType{
	RelationForwarding:   {TypeBSDA, TypeBSFF, TypeBSDASRI},
	RelationGrouping:     {TypeBSDD, TypeBSDA, TypeBSFF, TypeBSDASRI},
	RelationSynthesizing: {TypeBSDASRI},
}

// sameWasteCode lists the types whose linked documents must share a waste code.
var sameWasteCode = map[BsdType]bool{TypeBSDA: true, TypeBSFF: true, TypeBSDASRI: true}

// ValidateLink checks that children can be linked under parent. ancestors
// are the ids above parent in the relation graph.
func ValidateLink(kind RelationKind, parent *Bordereau, children []*Bordereau, ancestors []string) error {
	fail := func(childID, reason string) error {
		return &IncompatibleLinkError{Kind: kind, ChildID: childID, Reason: reason}
	}
	if !kind.Valid() {
		return fail("", "unknown relation kind")
	}
	if !slices.Contains(relationTypes[kind], parent.Type) {
		return fail("", string(parent.Type)+" does not support this relation")
	}
	if len(children) == 0 {
		return fail("", "no child given")
	}
	if kind == RelationForwarding && (len(children) > 1 || len(parent.Forwarding) > 0) {
		return fail("", "a bordereau forwards exactly one bordereau")
	}
	if kind == RelationSynthesizing && !parent.IsSynthesis {
		return fail("", "parent is not a synthesis")
	}
	if kind != RelationSynthesizing && parent.IsSynthesis {
		return fail("", "a synthesis can only synthesize")
	}
	if parent.IsCanceled || len(parent.Signatures) > 0 {
		return fail("", "parent is already signed")
	}
	for _, other := range parent.Children() {
		for _, c := range children {
			if slices.Contains(other, c.ID) {
				return fail(c.ID, "already linked to this parent")
			}
		}
	}
	if existing := parent.Children(); len(existing) > 0 {
		if _, ok := existing[kind]; !ok {
			return fail("", "parent already links bordereaux with another relation")
		}
	}

	g, err := GraphFor(parent.Type)
	if err != nil {
		return err
	}
	for _, c := range children {
		switch {
		case c.ID == parent.ID || slices.Contains(ancestors, c.ID):
			return fail(c.ID, "link would create a cycle")
		case c.Type != parent.Type:
			return fail(c.ID, "child is a "+string(c.Type))
		case c.IsCanceled:
			return fail(c.ID, "child is canceled")
		}
		if _, p, linked := c.Parent(); linked {
			return fail(c.ID, "child is already linked into "+p)
		}
		if kind == RelationSynthesizing {
			if c.IsSynthesis {
				return fail(c.ID, "a synthesis cannot be synthesized")
			}
			if c.Status != StatusSent {
				return fail(c.ID, "child must be "+string(StatusSent))
			}
			last, ok := lastSignedTransporter(c, 0)
			if !ok || len(parent.Transporters) == 0 || last.Company.OrgID() != parent.Transporters[0].Company.OrgID() {
				return fail(c.ID, "child is not held by the synthesis transporter")
			}
		} else {
			if c.Status != g.awaiting {
				return fail(c.ID, "child must be "+string(g.awaiting))
			}
			if c.FinalDestination().OrgID() != parent.Emitter.OrgID() {
				return fail(c.ID, "parent emitter is not the child's destination")
			}
		}
		if sameWasteCode[parent.Type] {
			if parent.Waste.Code != "" && c.Waste.Code != parent.Waste.Code {
				return fail(c.ID, "waste code differs from parent")
			}
			if c.Waste.Code != children[0].Waste.Code {
				return fail(c.ID, "waste codes differ between children")
			}
		}
	}
	return nil
}

// Attach links children under parent. It assumes ValidateLink passed.
func Attach(kind RelationKind, parent *Bordereau, children []*Bordereau) {
	for _, c := range children {
		switch kind {
		case RelationForwarding:
			c.ForwardedInID = parent.ID
			parent.Forwarding = append(parent.Forwarding, c.ID)
		case RelationGrouping:
			c.GroupedInID = parent.ID
			parent.Grouping = append(parent.Grouping, c.ID)
		case RelationSynthesizing:
			c.SynthesizedInID = parent.ID
			parent.Synthesizing = append(parent.Synthesizing, c.ID)
		}
		c.Status = overlay(graphs[c.Type], c, c.Status)
	}
}

// Detach removes child from parent and restores the child's own status.
func Detach(parent, child *Bordereau) error {
	remove := func(ids []string) []string {
		return slices.DeleteFunc(ids, func(id string) bool { return id == child.ID })
	}
	parent.Forwarding = remove(parent.Forwarding)
	parent.Grouping = remove(parent.Grouping)
	parent.Synthesizing = remove(parent.Synthesizing)
	child.ForwardedInID, child.GroupedInID, child.SynthesizedInID = "", "", ""
	return Refresh(child)
}

// CanUnlink allows removing a child while the parent is unsigned.
func CanUnlink(parent, child *Bordereau) error {
	kind, p, linked := child.Parent()
	if !linked || p != parent.ID {
		return &IncompatibleLinkError{Kind: kind, ChildID: child.ID, Reason: "not linked to " + parent.ID}
	}
	if len(parent.Signatures) > 0 {
		return &IncompatibleLinkError{Kind: kind, ChildID: child.ID, Reason: "parent is already signed"}
	}
	return nil
}

// Propagation is what a parent's step did to one child.
type Propagation struct {
	Child    *Bordereau
	Released bool
}

// finalStatuses end the traceability of a bordereau and its children.
var finalStatuses = map[Status]bool{
	StatusProcessed:         true,
	StatusNoTraceability:    true,
	StatusFollowedWithPnttd: true,
}

// Propagate carries the outcome of the parent's latest step down to its
// children. Only children that changed are returned.
func Propagate(parent *Bordereau, children []*Bordereau, step SignatureType, now time.Time) ([]Propagation, error) {
	var out []Propagation
	for _, c := range children {
		kind, p, linked := c.Parent()
		if !linked || p != parent.ID {
			continue
		}
		changed, released, err := propagateOne(kind, parent, c, step, now)
		if err != nil {
			return nil, err
		}
		if changed {
			out = append(out, Propagation{Child: c, Released: released})
		}
	}
	return out, nil
}

func propagateOne(kind RelationKind, parent, c *Bordereau, step SignatureType, now time.Time) (changed, released bool, err error) {
	if kind == RelationSynthesizing {
		changed, err = propagateSynthesis(parent, c, step, now)
		return changed, false, err
	}
	switch {
	case parent.Status == StatusRefused:
		if err := Detach(parent, c); err != nil {
			return false, false, err
		}
		return true, true, nil
	case step == SignatureOperation && finalStatuses[parent.Status]:
		c.ParentFinalizedAt = &now
		return true, false, Refresh(c)
	}
	return false, false, nil
}

// propagateSynthesis replays the synthesis reception and operation on a child.
func propagateSynthesis(parent, c *Bordereau, step SignatureType, now time.Time) (bool, error) {
	g, err := GraphFor(c.Type)
	if err != nil {
		return false, err
	}
	sig := Signature{Type: step, Author: parent.ID, ViaParentID: parent.ID, Date: now}
	switch step {
	case SignatureReception:
		acceptation := parent.Reception.AcceptationStatus
		if acceptation == AcceptationPartiallyRefused {
			// The synthesis refusal cannot be split between children.
			acceptation = ""
		}
		c.Reception.AcceptationStatus = acceptation
		c.Reception.RefusalReason = parent.Reception.RefusalReason
		if !c.Reception.QuantityReceived.Valid {
			c.Reception.QuantityReceived = c.Waste.Quantity
		}
		sig.Acceptation = acceptation
		sig.OrgID = parent.Destination.OrgID()
	case SignatureOperation:
		c.Operation.Code = parent.Operation.Code
		c.Operation.Mode = parent.Operation.Mode
		c.Operation.Description = parent.Operation.Description
		sig.OrgID = parent.Destination.OrgID()
	default:
		return false, nil
	}
	key := sig.Key()
	if c.HasSignature(key) {
		return false, nil
	}
	trigger := SignTrigger(step, 0, sig.Acceptation)
	next, err := g.Next(c, c.Status, trigger)
	if err != nil {
		return false, err
	}
	Apply(c, &Result{From: c.Status, To: next, Signature: &sig, Effects: effectsOf(c, trigger, next)})
	return true, nil
}
