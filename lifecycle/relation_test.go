package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// regroupement returns an unsigned bordereau emitted by the collector the
// awaitingGroup children were delivered to.
func regroupement(bt BsdType) *Bordereau {
	p := newBordereau(bt)
	p.Emitter = collector
	p.Destination = incinerator
	return p
}

func linkable(t *testing.T, kind RelationKind, parent *Bordereau, children ...*Bordereau) error {
	t.Helper()
	return ValidateLink(kind, parent, children, nil)
}

func TestGroupingThenParentFinalOperation(t *testing.T) {
	c1, c2 := awaitingGroup(t, TypeBSDD), awaitingGroup(t, TypeBSDD)
	parent := regroupement(TypeBSDD)

	require.NoError(t, linkable(t, RelationGrouping, parent, c1, c2))
	Attach(RelationGrouping, parent, []*Bordereau{c1, c2})

	assert.Equal(t, StatusGrouped, c1.Status)
	assert.Equal(t, []string{c1.ID, c2.ID}, parent.Grouping)
	assert.Equal(t, parent.ID, c2.GroupedInID)

	seal(t, parent)
	sign(t, parent, SignatureEmission, collector)
	sign(t, parent, SignatureTransport, carrier)
	receive(t, parent, AcceptationAccepted, "20", "")
	props, err := Propagate(parent, []*Bordereau{c1, c2}, SignatureReception, testNow)
	require.NoError(t, err)
	assert.Empty(t, props)

	parent.Operation.Code = "R 1"
	sign(t, parent, SignatureOperation, incinerator)
	require.Equal(t, StatusProcessed, parent.Status)

	props, err = Propagate(parent, []*Bordereau{c1, c2}, SignatureOperation, testNow)
	require.NoError(t, err)
	require.Len(t, props, 2)
	for _, p := range props {
		assert.False(t, p.Released)
		assert.Equal(t, StatusProcessed, p.Child.Status)
		assert.NotNil(t, p.Child.ParentFinalizedAt)
	}

	status, err := DeriveStatus(c1)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, status)
}

func TestParentAwaitingGroupLeavesChildrenGrouped(t *testing.T) {
	child := awaitingGroup(t, TypeBSDD)
	parent := regroupement(TypeBSDD)
	Attach(RelationGrouping, parent, []*Bordereau{child})
	seal(t, parent)
	sign(t, parent, SignatureEmission, collector)
	sign(t, parent, SignatureTransport, carrier)
	receive(t, parent, AcceptationAccepted, "10", "")
	parent.Operation.Code = "D 15"
	sign(t, parent, SignatureOperation, incinerator)

	props, err := Propagate(parent, []*Bordereau{child}, SignatureOperation, testNow)

	require.NoError(t, err)
	assert.Empty(t, props)
	assert.Equal(t, StatusGrouped, child.Status)
}

func TestLinkRejectsCycles(t *testing.T) {
	child := awaitingGroup(t, TypeBSDD)
	parent := regroupement(TypeBSDD)

	err := ValidateLink(RelationGrouping, parent, []*Bordereau{child}, []string{child.ID})
	var incompatible *IncompatibleLinkError
	require.ErrorAs(t, err, &incompatible)
	assert.Equal(t, child.ID, incompatible.ChildID)

	assert.ErrorAs(t, linkable(t, RelationGrouping, parent, parent), &incompatible)
}

func TestForwardingIsOneToOne(t *testing.T) {
	c1, c2 := awaitingGroup(t, TypeBSDA), awaitingGroup(t, TypeBSDA)
	parent := regroupement(TypeBSDA)
	var incompatible *IncompatibleLinkError

	assert.ErrorAs(t, linkable(t, RelationForwarding, parent, c1, c2), &incompatible)

	require.NoError(t, linkable(t, RelationForwarding, parent, c1))
	Attach(RelationForwarding, parent, []*Bordereau{c1})
	assert.Equal(t, StatusAwaitingChild, c1.Status)
	assert.ErrorAs(t, linkable(t, RelationForwarding, parent, c2), &incompatible)
}

func TestLinkRejectsIncompatibleChildren(t *testing.T) {
	var incompatible *IncompatibleLinkError

	t.Run("not awaiting", func(t *testing.T) {
		assert.ErrorAs(t, linkable(t, RelationGrouping, regroupement(TypeBSDD), sentBordereau(t, TypeBSDD)), &incompatible)
	})
	t.Run("other type", func(t *testing.T) {
		assert.ErrorAs(t, linkable(t, RelationGrouping, regroupement(TypeBSDA), awaitingGroup(t, TypeBSDASRI)), &incompatible)
	})
	t.Run("unsupported type", func(t *testing.T) {
		assert.ErrorAs(t, linkable(t, RelationForwarding, regroupement(TypeBSDD), awaitingGroup(t, TypeBSDD)), &incompatible)
	})
	t.Run("parent emitter is not the destination", func(t *testing.T) {
		p := regroupement(TypeBSDD)
		p.Emitter = incinerator
		assert.ErrorAs(t, linkable(t, RelationGrouping, p, awaitingGroup(t, TypeBSDD)), &incompatible)
	})
	t.Run("waste code differs", func(t *testing.T) {
		c := awaitingGroup(t, TypeBSDA)
		c.Waste.Code = "17 06 01*"
		assert.ErrorAs(t, linkable(t, RelationGrouping, regroupement(TypeBSDA), c), &incompatible)
	})
	t.Run("parent already signed", func(t *testing.T) {
		p := regroupement(TypeBSDD)
		seal(t, p)
		sign(t, p, SignatureEmission, collector)
		assert.ErrorAs(t, linkable(t, RelationGrouping, p, awaitingGroup(t, TypeBSDD)), &incompatible)
	})
	t.Run("child already linked", func(t *testing.T) {
		c := awaitingGroup(t, TypeBSDD)
		Attach(RelationGrouping, regroupement(TypeBSDD), []*Bordereau{c})
		assert.ErrorAs(t, linkable(t, RelationGrouping, regroupement(TypeBSDD), c), &incompatible)
	})
}

func TestRefusedParentReleasesChildren(t *testing.T) {
	child := awaitingGroup(t, TypeBSDD)
	parent := regroupement(TypeBSDD)
	Attach(RelationGrouping, parent, []*Bordereau{child})
	seal(t, parent)
	sign(t, parent, SignatureEmission, collector)
	sign(t, parent, SignatureTransport, carrier)
	receive(t, parent, AcceptationRefused, "10", "")
	require.Equal(t, StatusRefused, parent.Status)

	props, err := Propagate(parent, []*Bordereau{child}, SignatureReception, testNow)

	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.True(t, props[0].Released)
	assert.Empty(t, child.GroupedInID)
	assert.Empty(t, parent.Grouping)
	assert.Equal(t, StatusAwaitingGroup, child.Status)
}

func TestUnlinkOnlyBeforeParentSignature(t *testing.T) {
	child := awaitingGroup(t, TypeBSDD)
	parent := regroupement(TypeBSDD)
	Attach(RelationGrouping, parent, []*Bordereau{child})

	require.NoError(t, CanUnlink(parent, child))
	require.NoError(t, Detach(parent, child))
	assert.Equal(t, StatusAwaitingGroup, child.Status)

	var incompatible *IncompatibleLinkError
	assert.ErrorAs(t, CanUnlink(parent, child), &incompatible)

	Attach(RelationGrouping, parent, []*Bordereau{child})
	seal(t, parent)
	sign(t, parent, SignatureEmission, collector)
	assert.ErrorAs(t, CanUnlink(parent, child), &incompatible)
}

func synthesis(t *testing.T) (*Bordereau, *Bordereau) {
	t.Helper()
	child := sentBordereau(t, TypeBSDASRI)
	parent := newBordereau(TypeBSDASRI)
	parent.IsSynthesis = true
	parent.Destination = incinerator
	require.NoError(t, linkable(t, RelationSynthesizing, parent, child))
	Attach(RelationSynthesizing, parent, []*Bordereau{child})
	return parent, child
}

func TestSynthesisDrivesChildren(t *testing.T) {
	parent, child := synthesis(t)
	assert.Equal(t, StatusSent, child.Status)

	var invalid *InvalidTransitionError
	assert.ErrorAs(t, trySign(child, SignatureReception, collector), &invalid)

	seal(t, parent)
	sign(t, parent, SignatureTransport, carrier)
	require.Equal(t, StatusSent, parent.Status)

	receive(t, parent, AcceptationAccepted, "10", "")
	props, err := Propagate(parent, []*Bordereau{child}, SignatureReception, testNow)
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, StatusReceived, child.Status)
	assert.Equal(t, "10", child.Reception.QuantityAccepted.Decimal.String())

	last := child.Signatures[len(child.Signatures)-1]
	assert.Equal(t, parent.ID, last.ViaParentID)
	assert.Equal(t, incinerator.Siret, last.OrgID)

	props, err = Propagate(parent, []*Bordereau{child}, SignatureReception, testNow)
	require.NoError(t, err)
	assert.Empty(t, props)

	parent.Operation.Code = "D 10"
	sign(t, parent, SignatureOperation, incinerator)
	_, err = Propagate(parent, []*Bordereau{child}, SignatureOperation, testNow)
	require.NoError(t, err)
	assert.Equal(t, "D 10", child.Operation.Code)
	assert.Equal(t, StatusProcessed, child.Status)

	status, err := DeriveStatus(child)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, status)
}

func TestSynthesisRequiresHeldChildren(t *testing.T) {
	child := sentBordereau(t, TypeBSDASRI)
	parent := newBordereau(TypeBSDASRI)
	parent.IsSynthesis = true
	parent.Transporters[0].Company = carrier2

	var incompatible *IncompatibleLinkError
	assert.ErrorAs(t, linkable(t, RelationSynthesizing, parent, child), &incompatible)

	parent.Transporters[0].Company = carrier
	parent.IsSynthesis = false
	assert.ErrorAs(t, linkable(t, RelationSynthesizing, parent, child), &incompatible)
}
