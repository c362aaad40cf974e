package lifecycle

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
)

// Field is the dotted path of an editable bordereau field.
type Field string

const (
	FieldEmitter                  Field = "emitter.company"
	FieldEcoOrganisme             Field = "ecoOrganisme.company"
	FieldWorker                   Field = "worker.company"
	FieldTrader                   Field = "trader.company"
	FieldBroker                   Field = "broker.company"
	FieldTransporters             Field = "transporters"
	FieldDestination              Field = "destination.company"
	FieldDestinationCap           Field = "destination.cap"
	FieldPlannedOperationCode     Field = "destination.plannedOperationCode"
	FieldRecipientIsTempStorage   Field = "destination.isTempStorage"
	FieldWasteCode                Field = "waste.code"
	FieldWasteDescription         Field = "waste.description"
	FieldWasteADR                 Field = "waste.adr"
	FieldWastePop                 Field = "waste.pop"
	FieldWasteQuantity            Field = "waste.quantity"
	FieldAcceptationStatus        Field = "destination.reception.acceptationStatus"
	FieldRefusalReason            Field = "destination.reception.refusalReason"
	FieldQuantityReceived         Field = "destination.reception.quantityReceived"
	FieldQuantityRefused          Field = "destination.reception.quantityRefused"
	FieldOperationCode            Field = "destination.operation.code"
	FieldOperationMode            Field = "destination.operation.mode"
	FieldOperationDescription     Field = "destination.operation.description"
	FieldNoTraceability           Field = "destination.operation.noTraceability"
	FieldNextDestination          Field = "destination.operation.nextDestination"
	FieldTempDestination          Field = "temporaryStorage.destination.company"
	FieldTempDestinationCap       Field = "temporaryStorage.destination.cap"
	FieldTempPlannedOperationCode Field = "temporaryStorage.destination.plannedOperationCode"
	FieldTempTransporter          Field = "temporaryStorage.transporter"
	FieldTempAcceptationStatus    Field = "temporaryStorage.reception.acceptationStatus"
	FieldTempRefusalReason        Field = "temporaryStorage.reception.refusalReason"
	FieldTempQuantityReceived     Field = "temporaryStorage.reception.quantityReceived"
	FieldTempQuantityRefused      Field = "temporaryStorage.reception.quantityRefused"

	// FieldIsCanceled only appears in revision requests.
	FieldIsCanceled Field = "isCanceled"
)

// Changes maps fields to their new JSON-compatible values.
type Changes map[Field]any

// Fields returns the changed fields in a stable order.
func (c Changes) Fields() []Field {
	out := make([]Field, 0, len(c))
	for f := range c {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type fieldDef struct {
	target    func(b *Bordereau) any
	revisable bool
	tempOnly  bool
}

func tempStorage(b *Bordereau) *TemporaryStorage {
	if b.TemporaryStorage == nil {
		b.TemporaryStorage = &TemporaryStorage{}
	}
	return b.TemporaryStorage
}

// transportersTarget replaces the whole list rather than merging into it.
func transportersTarget(b *Bordereau) any {
	b.Transporters = nil
	return &b.Transporters
}

var fieldDefs = map[Field]fieldDef{
	FieldEmitter:                  {target: func(b *Bordereau) any { return &b.Emitter }},
	FieldEcoOrganisme:             {target: func(b *Bordereau) any { return &b.EcoOrganisme }},
	FieldWorker:                   {target: func(b *Bordereau) any { return &b.Worker }},
	FieldTrader:                   {target: func(b *Bordereau) any { return &b.Trader }, revisable: true},
	FieldBroker:                   {target: func(b *Bordereau) any { return &b.Broker }, revisable: true},
	FieldTransporters:             {target: transportersTarget},
	FieldDestination:              {target: func(b *Bordereau) any { return &b.Destination }},
	FieldDestinationCap:           {target: func(b *Bordereau) any { return &b.DestinationCap }, revisable: true},
	FieldPlannedOperationCode:     {target: func(b *Bordereau) any { return &b.PlannedOperationCode }},
	FieldRecipientIsTempStorage:   {target: func(b *Bordereau) any { return &b.RecipientIsTempStorage }},
	FieldWasteCode:                {target: func(b *Bordereau) any { return &b.Waste.Code }, revisable: true},
	FieldWasteDescription:         {target: func(b *Bordereau) any { return &b.Waste.Description }, revisable: true},
	FieldWasteADR:                 {target: func(b *Bordereau) any { return &b.Waste.ADR }},
	FieldWastePop:                 {target: func(b *Bordereau) any { return &b.Waste.Pop }, revisable: true},
	FieldWasteQuantity:            {target: func(b *Bordereau) any { return &b.Waste.Quantity }, revisable: true},
	FieldAcceptationStatus:        {target: func(b *Bordereau) any { return &b.Reception.AcceptationStatus }},
	FieldRefusalReason:            {target: func(b *Bordereau) any { return &b.Reception.RefusalReason }, revisable: true},
	FieldQuantityReceived:         {target: func(b *Bordereau) any { return &b.Reception.QuantityReceived }, revisable: true},
	FieldQuantityRefused:          {target: func(b *Bordereau) any { return &b.Reception.QuantityRefused }, revisable: true},
	FieldOperationCode:            {target: func(b *Bordereau) any { return &b.Operation.Code }, revisable: true},
	FieldOperationMode:            {target: func(b *Bordereau) any { return &b.Operation.Mode }, revisable: true},
	FieldOperationDescription:     {target: func(b *Bordereau) any { return &b.Operation.Description }, revisable: true},
	FieldNoTraceability:           {target: func(b *Bordereau) any { return &b.Operation.NoTraceability }},
	FieldNextDestination:          {target: func(b *Bordereau) any { return &b.Operation.NextDestination }},
	FieldTempDestination:          {target: func(b *Bordereau) any { return &tempStorage(b).Destination }, revisable: true, tempOnly: true},
	FieldTempDestinationCap:       {target: func(b *Bordereau) any { return &tempStorage(b).DestinationCap }, revisable: true, tempOnly: true},
	FieldTempPlannedOperationCode: {target: func(b *Bordereau) any { return &tempStorage(b).PlannedOperationCode }, tempOnly: true},
	FieldTempTransporter:          {target: func(b *Bordereau) any { return &tempStorage(b).Transporter }, tempOnly: true},
	FieldTempAcceptationStatus:    {target: func(b *Bordereau) any { return &tempStorage(b).Reception.AcceptationStatus }, tempOnly: true},
	FieldTempRefusalReason:        {target: func(b *Bordereau) any { return &tempStorage(b).Reception.RefusalReason }, tempOnly: true},
	FieldTempQuantityReceived:     {target: func(b *Bordereau) any { return &tempStorage(b).Reception.QuantityReceived }, revisable: true, tempOnly: true},
	FieldTempQuantityRefused:      {target: func(b *Bordereau) any { return &tempStorage(b).Reception.QuantityRefused }, tempOnly: true},
}

// IsRevisable reports whether f may appear in a revision request.
func IsRevisable(f Field) bool {
	return f == FieldIsCanceled || fieldDefs[f].revisable
}

// ApplyChanges decodes every change into b. It validates value shapes only;
// locks and statuses are checked by the callers.
func ApplyChanges(b *Bordereau, changes Changes) error {
	for _, f := range changes.Fields() {
		def, ok := fieldDefs[f]
		if !ok {
			return &InvalidFieldError{Field: f, Reason: "unknown field"}
		}
		if def.tempOnly && b.Type != TypeBSDD {
			return &InvalidFieldError{Field: f, Reason: "temporary storage only exists on BSDD"}
		}
		raw, err := json.Marshal(changes[f])
		if err != nil {
			return &InvalidFieldError{Field: f, Reason: err.Error()}
		}
		if err := json.Unmarshal(raw, def.target(b)); err != nil {
			return &InvalidFieldError{Field: f, Reason: err.Error()}
		}
	}
	return normalize(b)
}

// normalize keeps derived shapes consistent after edits.
func normalize(b *Bordereau) error {
	for i := range b.Transporters {
		b.Transporters[i].Number = i + 1
	}
	if b.RecipientIsTempStorage && b.Type == TypeBSDD {
		tempStorage(b)
	}
	if b.Operation.Code != "" {
		b.Operation.Code = NormalizeOperationCode(b.Operation.Code)
	}
	for _, r := range []*Reception{&b.Reception, receptionOrNil(b.TemporaryStorage)} {
		if r != nil && !r.AcceptationStatus.Valid() {
			return &InvalidFieldError{Field: FieldAcceptationStatus, Reason: fmt.Sprintf("unknown acceptation status %q", r.AcceptationStatus)}
		}
	}
	return nil
}

func receptionOrNil(ts *TemporaryStorage) *Reception {
	if ts == nil {
		return nil
	}
	return &ts.Reception
}

type requirement struct {
	field Field
	ok    func(b *Bordereau, segment int) bool
}

func companyPresent(c *Company) bool {
	return c != nil && c.OrgID() != "" && c.Name != ""
}

var (
	reqEmitter = requirement{FieldEmitter, func(b *Bordereau, _ int) bool {
		return companyPresent(&b.Emitter)
	}}
	reqDestination = requirement{FieldDestination, func(b *Bordereau, _ int) bool {
		return companyPresent(&b.Destination)
	}}
	reqWasteCode = requirement{FieldWasteCode, func(b *Bordereau, _ int) bool {
		return b.Waste.Code != ""
	}}
	reqWasteQuantity = requirement{FieldWasteQuantity, func(b *Bordereau, _ int) bool {
		return b.Waste.Quantity.Valid && b.Waste.Quantity.Decimal.IsPositive()
	}}
	reqWasteADR = requirement{FieldWasteADR, func(b *Bordereau, _ int) bool {
		return !IsDangerousWasteCode(b.Waste.Code) || b.Waste.ADR != ""
	}}
	reqTempDestination = requirement{FieldTempDestination, func(b *Bordereau, _ int) bool {
		return !b.RecipientIsTempStorage || (b.TemporaryStorage != nil && companyPresent(&b.TemporaryStorage.Destination))
	}}
	reqWorker = requirement{FieldWorker, func(b *Bordereau, _ int) bool {
		return companyPresent(b.Worker)
	}}
	reqTransporter = requirement{FieldTransporters, func(b *Bordereau, segment int) bool {
		t, ok := nextTransporter(b, segment)
		return ok && companyPresent(&t.Company)
	}}
	reqSynthesisTransporter = requirement{FieldTransporters, func(b *Bordereau, _ int) bool {
		return !b.IsSynthesis || (len(b.Transporters) > 0 && companyPresent(&b.Transporters[0].Company))
	}}
	reqOperationCode = requirement{FieldOperationCode, func(b *Bordereau, _ int) bool {
		return IsValidOperationCode(b.Operation.Code)
	}}
	reqNoTraceability = requirement{FieldNoTraceability, func(b *Bordereau, _ int) bool {
		return !b.Operation.NoTraceability || IsGroupementCode(b.Operation.Code)
	}}
)

func receptionField(b *Bordereau, segment int, main, temp Field) Field {
	if segment == 0 && b.hasTempStorage() {
		return temp
	}
	return main
}

// receptionRequirements checks the reception of the signing segment.
// withVerdict also requires the acceptation status itself.
func receptionRequirements(b *Bordereau, segment int, withVerdict bool) []Field {
	r := b.receptionAt(segment)
	var missing []Field
	if !r.QuantityReceived.Valid || r.QuantityReceived.Decimal.IsNegative() {
		missing = append(missing, receptionField(b, segment, FieldQuantityReceived, FieldTempQuantityReceived))
	}
	if withVerdict && r.AcceptationStatus == "" {
		missing = append(missing, receptionField(b, segment, FieldAcceptationStatus, FieldTempAcceptationStatus))
	}
	switch r.AcceptationStatus {
	case AcceptationRefused, AcceptationPartiallyRefused:
		if r.RefusalReason == "" {
			missing = append(missing, receptionField(b, segment, FieldRefusalReason, FieldTempRefusalReason))
		}
	}
	if r.AcceptationStatus == AcceptationPartiallyRefused {
		refused := r.QuantityRefused
		if !refused.Valid || refused.Decimal.IsNegative() ||
			(r.QuantityReceived.Valid && refused.Decimal.GreaterThan(r.QuantityReceived.Decimal)) {
			missing = append(missing, receptionField(b, segment, FieldQuantityRefused, FieldTempQuantityRefused))
		}
	}
	return missing
}

func sealRequirements(b *Bordereau) []requirement {
	if b.IsSynthesis {
		return []requirement{reqSynthesisTransporter, reqDestination, reqWasteCode}
	}
	return []requirement{reqEmitter, reqDestination, reqWasteCode}
}

func signatureRequirements(b *Bordereau, st SignatureType) []requirement {
	switch st {
	case SignatureEmission:
		reqs := []requirement{reqEmitter, reqDestination, reqWasteCode, reqWasteQuantity}
		if b.Type == TypeBSDD {
			reqs = append(reqs, reqWasteADR)
		}
		return reqs
	case SignatureWork:
		return []requirement{reqWorker}
	case SignatureTransport:
		return []requirement{reqTransporter}
	case SignatureOperation:
		return []requirement{reqOperationCode, reqNoTraceability}
	case SignatureTempStorer:
		return []requirement{reqTempDestination}
	}
	return nil
}

// MissingForSeal returns the fields that block finalization.
func MissingForSeal(b *Bordereau) []Field {
	return check(b, 0, sealRequirements(b))
}

// MissingForSignature returns the fields that block a signature of type st
// on the given segment.
func MissingForSignature(b *Bordereau, st SignatureType, segment int) []Field {
	missing := check(b, segment, signatureRequirements(b, st))
	switch st {
	case SignatureReception:
		missing = append(missing, receptionRequirements(b, segment, false)...)
	case SignatureAcceptation:
		missing = append(missing, receptionRequirements(b, segment, true)...)
	}
	return missing
}

func check(b *Bordereau, segment int, reqs []requirement) []Field {
	var missing []Field
	for _, r := range reqs {
		if !r.ok(b, segment) && !slices.Contains(missing, r.field) {
			missing = append(missing, r.field)
		}
	}
	return missing
}

// lockedBy lists the fields frozen by an existing signature.
func lockedBy(b *Bordereau, s Signature) []Field {
	switch s.Type {
	case SignatureEmission:
		return []Field{
			FieldEmitter, FieldEcoOrganisme, FieldWorker, FieldDestination, FieldDestinationCap,
			FieldPlannedOperationCode, FieldRecipientIsTempStorage, FieldTrader, FieldBroker,
			FieldWasteCode, FieldWasteDescription, FieldWasteADR, FieldWastePop, FieldWasteQuantity,
		}
	case SignatureWork:
		return []Field{FieldWorker}
	case SignatureTransport:
		// Main segment legs are checked one by one in keepsSignedLegs.
		if s.Segment == 1 {
			return []Field{FieldTempTransporter}
		}
		return nil
	case SignatureReception, SignatureAcceptation:
		fields := []Field{receptionField(b, s.Segment, FieldQuantityReceived, FieldTempQuantityReceived)}
		if s.Type == SignatureAcceptation || s.Acceptation != "" {
			fields = append(fields,
				receptionField(b, s.Segment, FieldAcceptationStatus, FieldTempAcceptationStatus),
				receptionField(b, s.Segment, FieldRefusalReason, FieldTempRefusalReason),
				receptionField(b, s.Segment, FieldQuantityRefused, FieldTempQuantityRefused),
			)
		}
		return fields
	case SignatureOperation:
		return []Field{FieldOperationCode, FieldOperationMode, FieldOperationDescription, FieldNoTraceability, FieldNextDestination}
	case SignatureTempStorer:
		return []Field{FieldTempDestination, FieldTempDestinationCap, FieldTempPlannedOperationCode}
	}
	return nil
}

// parentDriven lists fields a parent relation owns on its children.
var parentDriven = []Field{
	FieldTransporters, FieldAcceptationStatus, FieldRefusalReason, FieldQuantityReceived,
	FieldQuantityRefused, FieldOperationCode, FieldOperationMode, FieldOperationDescription,
	FieldNoTraceability, FieldNextDestination,
}

// LockedFields returns every field that can no longer be edited directly.
func LockedFields(b *Bordereau) map[Field]bool {
	locked := map[Field]bool{}
	for _, s := range b.Signatures {
		for _, f := range lockedBy(b, s) {
			locked[f] = true
		}
	}
	if _, _, linked := b.Parent(); linked {
		for _, f := range parentDriven {
			locked[f] = true
		}
	}
	return locked
}

// keepsSignedLegs reports whether a new transporter list leaves every leg
// that already signed TRANSPORT in place and unchanged. Unsigned legs may be
// added, removed or replaced.
func keepsSignedLegs(b *Bordereau, value any) (bool, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return false, &InvalidFieldError{Field: FieldTransporters, Reason: err.Error()}
	}
	var proposed []Transporter
	if err := json.Unmarshal(raw, &proposed); err != nil {
		return false, &InvalidFieldError{Field: FieldTransporters, Reason: err.Error()}
	}
	for i, leg := range b.Transporters {
		if !b.HasSignature(SignatureKey{Type: SignatureTransport, TransporterNumber: leg.Number}) {
			continue
		}
		if i >= len(proposed) {
			return false, nil
		}
		p := proposed[i]
		p.Number = leg.Number
		if p != leg {
			return false, nil
		}
	}
	return true, nil
}
