package orchestrator

import (
	"context"
	"slices"

	"github.com/MTES-MCT/trackdechets-sub032/lifecycle"
)

// Link groups, forwards or synthesizes children under parent.
func (o *Orchestrator) Link(ctx context.Context, actor lifecycle.Actor, parentID string, kind lifecycle.RelationKind, childIDs []string) (*lifecycle.Bordereau, error) {
	if !kind.Valid() {
		return nil, &lifecycle.IncompatibleLinkError{Kind: kind, Reason: "unknown relation kind"}
	}
	var parent *lifecycle.Bordereau
	err := o.run(ctx, "link", actor, func(u *unit) error {
		var err error
		if parent, err = u.tx.LockBordereau(parentID); err != nil {
			return err
		}
		if err := requireParty(actor, parent); err != nil {
			return err
		}
		if slices.Contains(childIDs, parentID) {
			return &lifecycle.IncompatibleLinkError{Kind: kind, ChildID: parentID, Reason: "a bordereau cannot be linked into itself"}
		}
		children, err := u.tx.LockBordereaux(childIDs)
		if err != nil {
			return err
		}
		ancestors, err := u.tx.Ancestors(parent.ID)
		if err != nil {
			return err
		}
		if err := lifecycle.ValidateLink(kind, parent, children, ancestors); err != nil {
			return err
		}
		lifecycle.Attach(kind, parent, children)
		if err := u.tx.Link(kind, parent.ID, childIDs); err != nil {
			return err
		}
		data := linkData{Kind: kind, ParentID: parent.ID, ChildIDs: childIDs}
		for _, c := range children {
			c.UpdatedAt = u.now
			if err := u.tx.SaveBordereau(c); err != nil {
				return err
			}
			if err := u.emit(c.ID, EventBsdLinked, data); err != nil {
				return err
			}
		}
		return u.emit(parent.ID, EventBsdLinked, data)
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("Bordereaux linked", "bsd", parent.ID, "op", "link", "kind", kind, "children", len(childIDs))
	return parent, nil
}

// Unlink removes one child from an unsigned parent.
func (o *Orchestrator) Unlink(ctx context.Context, actor lifecycle.Actor, parentID, childID string) (*lifecycle.Bordereau, error) {
	var child *lifecycle.Bordereau
	err := o.run(ctx, "unlink", actor, func(u *unit) error {
		parent, err := u.tx.LockBordereau(parentID)
		if err != nil {
			return err
		}
		if err := requireParty(actor, parent); err != nil {
			return err
		}
		if child, err = u.tx.LockBordereau(childID); err != nil {
			return err
		}
		if err := lifecycle.CanUnlink(parent, child); err != nil {
			return err
		}
		return o.release(u, parent, []string{childID})
	})
	if err != nil {
		return nil, err
	}
	return o.Get(ctx, child.ID)
}

// release detaches children from parent and returns them to their own status.
func (o *Orchestrator) release(u *unit, parent *lifecycle.Bordereau, childIDs []string) error {
	if len(childIDs) == 0 {
		return nil
	}
	children, err := u.tx.LockBordereaux(childIDs)
	if err != nil {
		return err
	}
	for _, c := range children {
		kind, _, _ := c.Parent()
		if err := lifecycle.Detach(parent, c); err != nil {
			return err
		}
		if err := o.saveReleased(u, parent, c, kind); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) saveReleased(u *unit, parent, c *lifecycle.Bordereau, kind lifecycle.RelationKind) error {
	if err := u.tx.Unlink(c.ID); err != nil {
		return err
	}
	c.UpdatedAt = u.now
	if err := u.tx.SaveBordereau(c); err != nil {
		return err
	}
	data := linkData{Kind: kind, ParentID: parent.ID, ChildIDs: []string{c.ID}}
	if err := u.emit(c.ID, EventBsdUnlinked, data); err != nil {
		return err
	}
	return u.emit(parent.ID, EventBsdUnlinked, data)
}

// propagate carries a parent's step down the relation tree. A child that
// reaches a final status passes it on to its own children.
func (o *Orchestrator) propagate(u *unit, parent *lifecycle.Bordereau, step lifecycle.SignatureType, depth int) error {
	ids := slices.Concat(parent.Forwarding, parent.Grouping, parent.Synthesizing)
	if len(ids) == 0 {
		return nil
	}
	if depth >= o.maxDepth {
		return lifecycle.ErrPropagationDepthExceeded
	}
	children, err := u.tx.LockBordereaux(ids)
	if err != nil {
		return err
	}
	kinds := make(map[string]lifecycle.RelationKind, len(children))
	signed := make(map[string]int, len(children))
	for _, c := range children {
		kinds[c.ID], _, _ = c.Parent()
		signed[c.ID] = len(c.Signatures)
	}
	props, err := lifecycle.Propagate(parent, children, step, u.now)
	if err != nil {
		return err
	}
	for _, p := range props {
		c := p.Child
		if p.Released {
			if err := o.saveReleased(u, parent, c, kinds[c.ID]); err != nil {
				return err
			}
			continue
		}
		for _, s := range c.Signatures[signed[c.ID]:] {
			if err := u.tx.InsertSignature(c.ID, s); err != nil {
				return err
			}
		}
		c.UpdatedAt = u.now
		if err := u.tx.SaveBordereau(c); err != nil {
			return err
		}
		if err := u.emit(c.ID, EventBsdUpdated, updateData{Status: c.Status, Reason: "propagated from " + parent.ID}); err != nil {
			return err
		}
		if err := o.propagate(u, c, step, depth+1); err != nil {
			return err
		}
	}
	return nil
}
