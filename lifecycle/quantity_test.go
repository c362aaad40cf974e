package lifecycle

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcile(t *testing.T) {
	null := decimal.NullDecimal{}
	cases := []struct {
		name     string
		status   AcceptationStatus
		received decimal.NullDecimal
		refused  decimal.NullDecimal
		accepted string
		refusedQ string
		nilOut   bool
	}{
		{name: "accepted", status: AcceptationAccepted, received: dec("10"), accepted: "10", refusedQ: "0"},
		{name: "accepted ignores refused", status: AcceptationAccepted, received: dec("10"), refused: dec("3"), accepted: "10", refusedQ: "0"},
		{name: "refused", status: AcceptationRefused, received: dec("10"), accepted: "0", refusedQ: "10"},
		{name: "partial", status: AcceptationPartiallyRefused, received: dec("15"), refused: dec("7"), accepted: "8", refusedQ: "7"},
		{name: "partial decimals", status: AcceptationPartiallyRefused, received: dec("15.56"), refused: dec("7.987"), accepted: "7.573", refusedQ: "7.987"},
		{name: "partial rounds to six places", status: AcceptationPartiallyRefused, received: dec("1.0000004"), refused: dec("0"), accepted: "1", refusedQ: "0"},
		{name: "partial without refused", status: AcceptationPartiallyRefused, received: dec("15"), refused: null, nilOut: true},
		{name: "refused above received", status: AcceptationPartiallyRefused, received: dec("5"), refused: dec("7"), nilOut: true},
		{name: "nothing received", status: AcceptationAccepted, received: null, nilOut: true},
		{name: "no verdict", status: "", received: dec("10"), nilOut: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := Reconcile(tc.status, tc.received, tc.refused)
			if tc.nilOut {
				assert.Nil(t, q)
				return
			}
			require.NotNil(t, q)
			assert.True(t, q.Accepted.Equal(decimal.RequireFromString(tc.accepted)), "accepted %s", q.Accepted)
			require.True(t, q.Refused.Valid)
			assert.True(t, q.Refused.Decimal.Equal(decimal.RequireFromString(tc.refusedQ)), "refused %s", q.Refused.Decimal)
		})
	}
}

func TestReconcilePartialSumsToReceived(t *testing.T) {
	for _, pair := range [][2]string{{"15", "7"}, {"0.5", "0.5"}, {"12.345678", "0.000001"}, {"1000", "999.99"}} {
		q := Reconcile(AcceptationPartiallyRefused, dec(pair[0]), dec(pair[1]))
		require.NotNil(t, q)
		sum := q.Accepted.Add(q.Refused.Decimal)
		assert.True(t, sum.Equal(decimal.RequireFromString(pair[0])), "%s + %s", q.Accepted, q.Refused.Decimal)
		assert.False(t, q.Accepted.IsNegative())
	}
}

func TestReconcileLegacy(t *testing.T) {
	q := ReconcileLegacy(AcceptationPartiallyRefused, dec("15"), decimal.NullDecimal{})
	require.NotNil(t, q)
	assert.True(t, q.Accepted.Equal(decimal.NewFromInt(15)))
	assert.False(t, q.Refused.Valid)

	assert.Nil(t, Reconcile(AcceptationPartiallyRefused, dec("15"), decimal.NullDecimal{}))
}

func TestReconcileAllUsesLegacyFlag(t *testing.T) {
	b := newBordereau(TypeBSDD)
	b.Reception = Reception{AcceptationStatus: AcceptationPartiallyRefused, QuantityReceived: dec("4")}

	ReconcileAll(b)
	assert.False(t, b.Reception.QuantityAccepted.Valid)

	b.LegacyQuantities = true
	ReconcileAll(b)
	require.True(t, b.Reception.QuantityAccepted.Valid)
	assert.Equal(t, "4", b.Reception.QuantityAccepted.Decimal.String())
}
