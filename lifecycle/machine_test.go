package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphForUnknownType(t *testing.T) {
	_, err := GraphFor("BSXX")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestOperationBeforeReceptionIsRejected(t *testing.T) {
	for _, bt := range AllTypes {
		t.Run(string(bt), func(t *testing.T) {
			b := sentBordereau(t, bt)
			b.Operation.Code = "R 1"

			err := trySign(b, SignatureOperation, b.Destination)

			var invalid *InvalidTransitionError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, StatusSent, invalid.From)
			assert.Equal(t, StatusSent, b.Status)
		})
	}
}

func TestEmissionRequiresFinalizedDocument(t *testing.T) {
	for _, bt := range AllTypes {
		t.Run(string(bt), func(t *testing.T) {
			b := newBordereau(bt)
			err := trySign(b, SignatureEmission, producer)
			var invalid *InvalidTransitionError
			require.ErrorAs(t, err, &invalid)

			seal(t, b)
			assert.False(t, b.IsDraft)
			sign(t, b, SignatureEmission, producer)
			if bt == TypeBSFF {
				assert.Equal(t, StatusSignedByEmitter, b.Status)
			} else {
				assert.Equal(t, StatusSignedByProducer, b.Status)
			}
		})
	}
}

func TestSealMovesBsddToSealed(t *testing.T) {
	b := newBordereau(TypeBSDD)
	seal(t, b)
	assert.Equal(t, StatusSealed, b.Status)

	res, err := Seal(b, actorOf(producer.OrgID()))
	require.NoError(t, err)
	assert.True(t, res.NoOp)
}

func TestSealRequiresCreationFields(t *testing.T) {
	b := newBordereau(TypeBSVHU)
	b.Destination = Company{}

	_, err := Seal(b, actorOf(producer.OrgID()))

	var missing *MissingFieldsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []Field{FieldDestination}, missing.Fields)
}

func TestReceptionOutcomes(t *testing.T) {
	cases := []struct {
		bt          BsdType
		acceptation AcceptationStatus
		want        Status
	}{
		{TypeBSDD, AcceptationAccepted, StatusAccepted},
		{TypeBSDD, AcceptationRefused, StatusRefused},
		{TypeBSDD, AcceptationPartiallyRefused, StatusReceived},
		{TypeBSDD, "", StatusReceived},
		{TypeBSFF, AcceptationAccepted, StatusAccepted},
		{TypeBSDA, AcceptationAccepted, StatusReceived},
		{TypeBSDA, AcceptationRefused, StatusRefused},
		{TypeBSVHU, AcceptationPartiallyRefused, StatusReceived},
		{TypeBSPAOH, AcceptationAccepted, StatusReceived},
		{TypeBSDASRI, AcceptationRefused, StatusRefused},
	}
	for _, tc := range cases {
		t.Run(string(tc.bt)+"/"+string(tc.acceptation), func(t *testing.T) {
			b := sentBordereau(t, tc.bt)
			receive(t, b, tc.acceptation, "15", "7")
			assert.Equal(t, tc.want, b.Status)
		})
	}
}

func TestPartialRefusalNeedsBothQuantities(t *testing.T) {
	b := sentBordereau(t, TypeBSDD)
	b.Reception = Reception{AcceptationStatus: AcceptationPartiallyRefused, QuantityReceived: dec("15"), RefusalReason: "fuite"}

	err := trySign(b, SignatureReception, collector)

	var missing *MissingFieldsError
	require.ErrorAs(t, err, &missing)
	assert.Contains(t, missing.Fields, FieldQuantityRefused)
	assert.Equal(t, StatusSent, b.Status)
}

func TestPartialRefusalThenAcceptation(t *testing.T) {
	b := sentBordereau(t, TypeBSFF)
	receive(t, b, AcceptationPartiallyRefused, "15", "7")
	require.Equal(t, StatusReceived, b.Status)
	assert.Equal(t, "8", b.Reception.QuantityAccepted.Decimal.String())

	sign(t, b, SignatureAcceptation, collector)
	assert.Equal(t, StatusPartiallyRefused, b.Status)
}

func TestRefusedWasteCannotBeProcessed(t *testing.T) {
	b := sentBordereau(t, TypeBSDD)
	receive(t, b, AcceptationRefused, "10", "")
	b.Operation.Code = "R 1"

	err := trySign(b, SignatureOperation, collector)

	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StatusRefused, invalid.From)
}

func TestOperationOutcomes(t *testing.T) {
	cases := []struct {
		name string
		bt   BsdType
		op   Operation
		want Status
	}{
		{"bsdd final", TypeBSDD, Operation{Code: "R 1"}, StatusProcessed},
		{"bsdd groupement", TypeBSDD, Operation{Code: "R 13"}, StatusAwaitingGroup},
		{"bsdd compact code", TypeBSDD, Operation{Code: "D13"}, StatusAwaitingGroup},
		{"bsdd no traceability", TypeBSDD, Operation{Code: "R 13", NoTraceability: true}, StatusNoTraceability},
		{"bsdd abroad", TypeBSDD, Operation{Code: "D 13", NextDestination: &foreignPlant}, StatusFollowedWithPnttd},
		{"bsdd final abroad", TypeBSDD, Operation{Code: "R 1", NextDestination: &foreignPlant}, StatusProcessed},
		{"bsda groupement", TypeBSDA, Operation{Code: "R 13"}, StatusAwaitingChild},
		{"bsff groupement", TypeBSFF, Operation{Code: "R 12"}, StatusIntermediatelyProcessed},
		{"bsdasri groupement", TypeBSDASRI, Operation{Code: "R 12"}, StatusAwaitingGroup},
		{"bsvhu groupement", TypeBSVHU, Operation{Code: "R 12"}, StatusProcessed},
		{"bspaoh", TypeBSPAOH, Operation{Code: "R 1"}, StatusProcessed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := sentBordereau(t, tc.bt)
			receive(t, b, AcceptationAccepted, "10", "")
			b.Operation = tc.op
			require.NoError(t, normalize(b))
			sign(t, b, SignatureOperation, b.Destination)
			assert.Equal(t, tc.want, b.Status)
		})
	}
}

func TestNoTraceabilityRequiresGroupementCode(t *testing.T) {
	b := sentBordereau(t, TypeBSDD)
	receive(t, b, AcceptationAccepted, "10", "")
	b.Operation = Operation{Code: "R 1", NoTraceability: true}

	err := trySign(b, SignatureOperation, collector)

	var missing *MissingFieldsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []Field{FieldNoTraceability}, missing.Fields)
}

func TestBsdaWorkerSignsBeforeTransport(t *testing.T) {
	b := newBordereau(TypeBSDA)
	b.Worker = &worker
	seal(t, b)
	sign(t, b, SignatureEmission, producer)

	err := trySign(b, SignatureTransport, carrier)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	sign(t, b, SignatureWork, worker)
	assert.Equal(t, StatusSignedByWorker, b.Status)
	sign(t, b, SignatureTransport, carrier)
	assert.Equal(t, StatusSent, b.Status)
}

func TestBspaohReceptionRequiresDelivery(t *testing.T) {
	b := sentBordereau(t, TypeBSPAOH)
	b.Reception = Reception{AcceptationStatus: AcceptationAccepted, QuantityReceived: dec("1")}

	err := trySign(b, SignatureReception, collector)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	sign(t, b, SignatureDelivery, carrier)
	assert.Equal(t, StatusSent, b.Status)
	sign(t, b, SignatureReception, collector)
	assert.Equal(t, StatusReceived, b.Status)
}

func TestSynthesisSkipsEmission(t *testing.T) {
	b := newBordereau(TypeBSDASRI)
	b.IsSynthesis = true
	b.Emitter = carrier
	seal(t, b)

	err := trySign(b, SignatureEmission, carrier)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	sign(t, b, SignatureTransport, carrier)
	assert.Equal(t, StatusSent, b.Status)
}

func tempStorageBordereau(t *testing.T) *Bordereau {
	t.Helper()
	b := newBordereau(TypeBSDD)
	require.NoError(t, ApplyChanges(b, Changes{FieldRecipientIsTempStorage: true}))
	require.NotNil(t, b.TemporaryStorage)
	seal(t, b)
	sign(t, b, SignatureEmission, producer)
	sign(t, b, SignatureTransport, carrier)
	return b
}

func TestTempStorageFlow(t *testing.T) {
	b := tempStorageBordereau(t)

	require.NoError(t, ApplyChanges(b, Changes{
		FieldTempQuantityReceived: "10",
	}))
	sign(t, b, SignatureReception, collector)
	require.Equal(t, StatusTempStored, b.Status)

	require.NoError(t, ApplyChanges(b, Changes{FieldTempAcceptationStatus: "ACCEPTED"}))
	sign(t, b, SignatureAcceptation, collector)
	require.Equal(t, StatusTempStorerAccepted, b.Status)
	assert.Equal(t, "10", b.TemporaryStorage.Reception.QuantityAccepted.Decimal.String())

	_, err := Reseal(b, actorOf(collector.OrgID()))
	var missing *MissingFieldsError
	require.ErrorAs(t, err, &missing)

	require.NoError(t, ApplyChanges(b, Changes{
		FieldTempDestination: map[string]any{"siret": incinerator.Siret, "name": incinerator.Name},
		FieldTempTransporter: map[string]any{"company": map[string]any{"siret": carrier2.Siret, "name": carrier2.Name}},
	}))
	_, err = Reseal(b, actorOf(carrier.OrgID()))
	var unauthorized *UnauthorizedSignerError
	require.ErrorAs(t, err, &unauthorized)

	res, err := Reseal(b, actorOf(collector.OrgID()))
	require.NoError(t, err)
	ApplyReseal(b, res, testNow)
	require.Equal(t, StatusResealed, b.Status)

	sign(t, b, SignatureTempStorer, collector)
	require.Equal(t, StatusSignedByTempStorer, b.Status)

	// The second leg belongs to the temp storage transporter.
	err = trySign(b, SignatureTransport, carrier)
	require.ErrorAs(t, err, &unauthorized)
	sign(t, b, SignatureTransport, carrier2)
	require.Equal(t, StatusResent, b.Status)

	b.Reception = Reception{AcceptationStatus: AcceptationAccepted, QuantityReceived: dec("9.5")}
	err = trySign(b, SignatureReception, collector)
	require.ErrorAs(t, err, &unauthorized)
	sign(t, b, SignatureReception, incinerator)
	require.Equal(t, StatusAccepted, b.Status)

	b.Operation.Code = "R 1"
	sign(t, b, SignatureOperation, incinerator)
	assert.Equal(t, StatusProcessed, b.Status)

	derived, err := DeriveStatus(b)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, derived)
}

func TestDeriveStatusFollowsLiveTransitions(t *testing.T) {
	b := newBordereau(TypeBSDD)
	b.Transporters = append(b.Transporters, Transporter{Number: 2, Company: carrier2})
	check := func() {
		t.Helper()
		derived, err := DeriveStatus(b)
		require.NoError(t, err)
		assert.Equal(t, b.Status, derived)
	}
	check()
	seal(t, b)
	check()
	sign(t, b, SignatureEmission, producer)
	check()
	sign(t, b, SignatureTransport, carrier)
	check()
	sign(t, b, SignatureTransport, carrier2)
	check()
	receive(t, b, AcceptationPartiallyRefused, "15", "7")
	check()
	sign(t, b, SignatureAcceptation, collector)
	check()
	b.Operation.Code = "R 13"
	sign(t, b, SignatureOperation, collector)
	check()
	assert.Equal(t, StatusAwaitingGroup, b.Status)
}

func TestDeriveStatusDetectsImpossibleHistory(t *testing.T) {
	b := newBordereau(TypeBSVHU)
	b.IsDraft = false
	b.Signatures = []Signature{{Type: SignatureOperation, Date: testNow}}

	_, err := DeriveStatus(b)

	var violation *InvariantViolationError
	assert.True(t, errors.As(err, &violation))
}

func TestDeriveStatusCanceledOverlay(t *testing.T) {
	b := sentBordereau(t, TypeBSDA)
	b.IsCanceled = true
	s, err := DeriveStatus(b)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, s)
}

func TestTransitionDoesNotMutate(t *testing.T) {
	b := sentBordereau(t, TypeBSVHU)
	before := len(b.Signatures)
	_, _, err := Transition(b, SignTrigger(SignatureReception, 0, AcceptationAccepted))
	require.NoError(t, err)
	assert.Equal(t, StatusSent, b.Status)
	assert.Len(t, b.Signatures, before)
}
