package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionReportsEffects(t *testing.T) {
	b := sentBordereau(t, TypeBSDD)
	b.Reception.AcceptationStatus = AcceptationAccepted

	next, effects, err := Transition(b, SignTrigger(SignatureReception, 0, AcceptationAccepted))

	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, next)
	assert.True(t, effects.Has(EffectReconcileQuantities))
	assert.False(t, effects.ReachesChildren())
}

func TestSealHasNoEffects(t *testing.T) {
	b := newBordereau(TypeBSDD)
	_, effects, err := Transition(b, SealTrigger())
	require.NoError(t, err)
	assert.Empty(t, effects)
}

func TestGroupedParentEffects(t *testing.T) {
	c1, c2 := awaitingGroup(t, TypeBSDD), awaitingGroup(t, TypeBSDD)
	parent := regroupement(TypeBSDD)
	Attach(RelationGrouping, parent, []*Bordereau{c1, c2})
	seal(t, parent)

	res := sign(t, parent, SignatureEmission, collector)
	assert.Empty(t, res.Effects)
	res = sign(t, parent, SignatureTransport, carrier)
	assert.False(t, res.Effects.ReachesChildren())

	receive(t, parent, AcceptationAccepted, "20", "")
	parent.Operation.Code = "R 1"
	res = sign(t, parent, SignatureOperation, incinerator)

	require.True(t, res.Effects.ReachesChildren())
	assert.Equal(t, Effects{{Kind: EffectFinalizeChildren, Children: []string{c1.ID, c2.ID}}}, res.Effects)
}

func TestGroupedParentAwaitingGroupDoesNotFinalize(t *testing.T) {
	child := awaitingGroup(t, TypeBSDD)
	parent := regroupement(TypeBSDD)
	Attach(RelationGrouping, parent, []*Bordereau{child})
	seal(t, parent)
	sign(t, parent, SignatureEmission, collector)
	sign(t, parent, SignatureTransport, carrier)
	receive(t, parent, AcceptationAccepted, "10", "")
	parent.Operation.Code = "D 15"

	res := sign(t, parent, SignatureOperation, incinerator)

	assert.False(t, res.Effects.Has(EffectFinalizeChildren))
	assert.False(t, res.Effects.ReachesChildren())
}

func TestRefusedParentEffects(t *testing.T) {
	child := awaitingGroup(t, TypeBSDD)
	parent := regroupement(TypeBSDD)
	Attach(RelationGrouping, parent, []*Bordereau{child})
	seal(t, parent)
	sign(t, parent, SignatureEmission, collector)
	sign(t, parent, SignatureTransport, carrier)
	parent.Reception.AcceptationStatus = AcceptationRefused
	parent.Reception.QuantityReceived = dec("10")
	parent.Reception.RefusalReason = "non conforme"

	res := sign(t, parent, SignatureReception, parent.Destination)

	require.Equal(t, StatusRefused, parent.Status)
	assert.True(t, res.Effects.Has(EffectReconcileQuantities))
	assert.True(t, res.Effects.Has(EffectReleaseChildren))
	assert.True(t, res.Effects.ReachesChildren())
}

func TestSynthesisEffects(t *testing.T) {
	parent, child := synthesis(t)
	seal(t, parent)

	res := sign(t, parent, SignatureTransport, carrier)
	assert.False(t, res.Effects.ReachesChildren())

	parent.Reception.AcceptationStatus = AcceptationAccepted
	parent.Reception.QuantityReceived = dec("10")
	res = sign(t, parent, SignatureReception, parent.Destination)

	assert.True(t, res.Effects.Has(EffectReconcileQuantities))
	assert.Equal(t, []string{child.ID}, res.Effects[1].Children)
	assert.Equal(t, EffectReplayOnChildren, res.Effects[1].Kind)
}
