package lifecycle

import "github.com/shopspring/decimal"

// QuantityPrecision is the number of decimals kept on reconciled quantities.
const QuantityPrecision = 6

// Quantities is the outcome of a reconciliation, in tonnes.
type Quantities struct {
	Accepted decimal.Decimal
	// Refused is null only for legacy documents.
	Refused decimal.NullDecimal
}

// Reconcile derives the accepted and refused quantities from a reception.
// It returns nil when the inputs do not determine them.
func Reconcile(status AcceptationStatus, received, refused decimal.NullDecimal) *Quantities {
	if !received.Valid {
		return nil
	}
	r := received.Decimal
	switch status {
	case AcceptationAccepted:
		return &Quantities{Accepted: round(r), Refused: nullOf(decimal.Zero)}
	case AcceptationRefused:
		return &Quantities{Accepted: decimal.Zero, Refused: nullOf(round(r))}
	case AcceptationPartiallyRefused:
		if !refused.Valid || refused.Decimal.IsNegative() || refused.Decimal.GreaterThan(r) {
			return nil
		}
		return &Quantities{
			Accepted: round(r.Sub(refused.Decimal)),
			Refused:  nullOf(round(refused.Decimal)),
		}
	}
	return nil
}

// ReconcileLegacy reads documents created before refused quantities were
// mandatory: a partial refusal with no refused quantity counts the whole
// received quantity as accepted and leaves the refused quantity null.
func ReconcileLegacy(status AcceptationStatus, received, refused decimal.NullDecimal) *Quantities {
	if status == AcceptationPartiallyRefused && received.Valid && !refused.Valid {
		return &Quantities{Accepted: round(received.Decimal)}
	}
	return Reconcile(status, received, refused)
}

// reconcileReception stores the accepted quantity on r, or clears it.
func reconcileReception(r *Reception, legacy bool) {
	reconcile := Reconcile
	if legacy {
		reconcile = ReconcileLegacy
	}
	q := reconcile(r.AcceptationStatus, r.QuantityReceived, r.QuantityRefused)
	if q == nil {
		r.QuantityAccepted = decimal.NullDecimal{}
		return
	}
	r.QuantityAccepted = nullOf(q.Accepted)
}

// ReconcileAll recomputes accepted quantities on every reception of b.
func ReconcileAll(b *Bordereau) {
	reconcileReception(&b.Reception, b.LegacyQuantities)
	if b.TemporaryStorage != nil {
		reconcileReception(&b.TemporaryStorage.Reception, b.LegacyQuantities)
	}
}

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityPrecision)
}

func nullOf(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
