package lifecycle

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	testNow = time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC)

	producer     = Company{Siret: "11111111100011", Name: "Garage Dupont", Address: "1 rue de la Paix"}
	carrier      = Company{Siret: "22222222200022", Name: "Transports Martin"}
	carrier2     = Company{Siret: "33333333300033", Name: "Fret Ferroviaire"}
	collector    = Company{Siret: "44444444400044", Name: "Centre de tri"}
	incinerator  = Company{Siret: "55555555500055", Name: "Incinérateur"}
	ecoOrg       = Company{Siret: "66666666600066", Name: "Eco-Organisme"}
	worker       = Company{Siret: "77777777700077", Name: "Désamiantage SA"}
	foreignPlant = Company{VatNumber: "BE0123456789", Name: "Usine Belge", Country: "BE"}
)

func dec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func actorOf(orgIDs ...string) Actor {
	return Actor{ID: "user-1", Name: "Jean Dupont", OrgIDs: orgIDs}
}

// newBordereau returns a finalizable draft of type t.
func newBordereau(t BsdType) *Bordereau {
	g, err := GraphFor(t)
	if err != nil {
		panic(err)
	}
	return &Bordereau{
		ID:           NewID(t, testNow),
		Type:         t,
		Status:       g.Initial(),
		IsDraft:      true,
		Emitter:      producer,
		Destination:  collector,
		Transporters: []Transporter{{Number: 1, Company: carrier, Plate: "AB-123-CD"}},
		Waste:        Waste{Code: "16 01 03", Description: "Pneus", Quantity: dec("10")},
	}
}

func seal(t *testing.T, b *Bordereau) {
	t.Helper()
	res, err := Seal(b, actorOf(b.Emitter.OrgID()))
	require.NoError(t, err)
	ApplySeal(b, res)
}

func sign(t *testing.T, b *Bordereau, st SignatureType, org Company) *Result {
	t.Helper()
	res, err := Sign(b, SignRequest{Type: st, Date: testNow}, actorOf(org.OrgID()), Credentials{})
	require.NoError(t, err)
	Apply(b, res)
	return res
}

func trySign(b *Bordereau, st SignatureType, org Company) error {
	res, err := Sign(b, SignRequest{Type: st, Date: testNow}, actorOf(org.OrgID()), Credentials{})
	if err == nil {
		Apply(b, res)
	}
	return err
}

// sentBordereau is sealed, emitted and taken over by the first transporter.
func sentBordereau(t *testing.T, bt BsdType) *Bordereau {
	t.Helper()
	b := newBordereau(bt)
	seal(t, b)
	sign(t, b, SignatureEmission, producer)
	sign(t, b, SignatureTransport, carrier)
	require.Equal(t, StatusSent, b.Status)
	return b
}

// receive records a reception verdict and signs it as the destination.
func receive(t *testing.T, b *Bordereau, acceptation AcceptationStatus, received, refused string) {
	t.Helper()
	b.Reception.AcceptationStatus = acceptation
	b.Reception.QuantityReceived = dec(received)
	if refused != "" {
		b.Reception.QuantityRefused = dec(refused)
	}
	if acceptation == AcceptationRefused || acceptation == AcceptationPartiallyRefused {
		b.Reception.RefusalReason = "non conforme"
	}
	if b.Type == TypeBSPAOH && !b.HasSignatureOfType(SignatureDelivery) {
		sign(t, b, SignatureDelivery, carrier)
	}
	sign(t, b, SignatureReception, b.Destination)
}

// awaitingGroup drives a bordereau to its awaiting status with an R 13 operation.
func awaitingGroup(t *testing.T, bt BsdType) *Bordereau {
	t.Helper()
	b := sentBordereau(t, bt)
	receive(t, b, AcceptationAccepted, "10", "")
	b.Operation.Code = "R 13"
	sign(t, b, SignatureOperation, b.Destination)
	g, _ := GraphFor(bt)
	require.Equal(t, g.Awaiting(), b.Status)
	return b
}
