package lifecycle

import (
	"crypto/subtle"
	"time"
)

// Credentials is what the company directory knows about the parties, plus
// the security code supplied with the request, if any.
type Credentials struct {
	SecurityCode  string
	SecurityCodes map[string]string
	EcoOrganismes map[string]bool
}

func (c Credentials) codeMatches(orgID string) bool {
	want, ok := c.SecurityCodes[orgID]
	if !ok || want == "" || c.SecurityCode == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(c.SecurityCode)) == 1
}

// Authorization is the company a signature is given for.
type Authorization struct {
	OrgID    string
	SignedBy SignatureAuthor
}

// nextTransporter returns the first transporter of the segment that has not signed.
func nextTransporter(b *Bordereau, segment int) (Transporter, bool) {
	for _, t := range b.transportersAt(segment) {
		key := SignatureKey{Type: SignatureTransport, Segment: segment, TransporterNumber: t.Number}
		if !b.HasSignature(key) {
			return t, true
		}
	}
	return Transporter{}, false
}

// lastSignedTransporter returns the transporter that signed last on the segment.
func lastSignedTransporter(b *Bordereau, segment int) (Transporter, bool) {
	var last Transporter
	found := false
	for _, t := range b.transportersAt(segment) {
		if b.HasSignature(SignatureKey{Type: SignatureTransport, Segment: segment, TransporterNumber: t.Number}) {
			last, found = t, true
		}
	}
	return last, found
}

// transportedBy reports a transporter retrying its own, already recorded,
// signature while the next leg is still unsigned.
func transportedBy(b *Bordereau, next SignatureKey, actor Actor) bool {
	var nextOrg string
	for _, t := range b.transportersAt(next.Segment) {
		if t.Number == next.TransporterNumber {
			nextOrg = t.Company.OrgID()
		}
	}
	if actor.BelongsTo(nextOrg) {
		return false
	}
	for _, t := range b.transportersAt(next.Segment) {
		key := SignatureKey{Type: SignatureTransport, Segment: next.Segment, TransporterNumber: t.Number}
		if b.HasSignature(key) && actor.BelongsTo(t.Company.OrgID()) {
			return true
		}
	}
	return false
}

// SignatureIdentity resolves the identity the next signature of type st
// would have. done is true when every signature of that identity space is
// already present.
func SignatureIdentity(b *Bordereau, st SignatureType) (key SignatureKey, done bool) {
	key = SignatureKey{Type: st}
	switch st {
	case SignatureTransport, SignatureDelivery, SignatureReception, SignatureAcceptation:
		key.Segment = b.segment()
	}
	if st == SignatureTransport {
		t, ok := nextTransporter(b, key.Segment)
		if !ok {
			transporters := b.transportersAt(key.Segment)
			if len(transporters) == 0 {
				key.TransporterNumber = 1
				return key, false
			}
			key.TransporterNumber = transporters[len(transporters)-1].Number
			return key, true
		}
		key.TransporterNumber = t.Number
		return key, false
	}
	return key, b.HasSignature(key)
}

// signerCandidates lists the companies allowed to give a signature of type st.
func signerCandidates(b *Bordereau, st SignatureType, segment int, creds Credentials) []Authorization {
	var out []Authorization
	add := func(orgID string, by SignatureAuthor) {
		if orgID != "" {
			out = append(out, Authorization{OrgID: orgID, SignedBy: by})
		}
	}
	switch st {
	case SignatureEmission:
		add(b.Emitter.OrgID(), AuthorEmitter)
		if eco := orgIDOf(b.EcoOrganisme); eco != "" && creds.EcoOrganismes[eco] {
			add(eco, AuthorEcoOrganisme)
		}
	case SignatureWork:
		add(orgIDOf(b.Worker), "")
	case SignatureTransport:
		if t, ok := nextTransporter(b, segment); ok {
			add(t.Company.OrgID(), "")
		}
	case SignatureDelivery:
		if t, ok := lastSignedTransporter(b, segment); ok {
			add(t.Company.OrgID(), "")
		}
	case SignatureReception, SignatureAcceptation:
		add(b.receivingCompany(segment).OrgID(), "")
	case SignatureOperation:
		add(b.FinalDestination().OrgID(), "")
	case SignatureTempStorer:
		add(b.Destination.OrgID(), "")
	}
	return out
}

// CanSign checks that actor may sign st on b, either as a member of the
// expected company or by supplying that company's security code.
func CanSign(b *Bordereau, st SignatureType, segment int, actor Actor, creds Credentials) (Authorization, error) {
	candidates := signerCandidates(b, st, segment, creds)
	for _, c := range candidates {
		if actor.BelongsTo(c.OrgID) {
			return c, nil
		}
	}
	for _, c := range candidates {
		if creds.codeMatches(c.OrgID) {
			return c, nil
		}
	}
	expected := make([]string, len(candidates))
	for i, c := range candidates {
		expected[i] = c.OrgID
	}
	return Authorization{}, &UnauthorizedSignerError{Signature: st, Expected: expected}
}

// checkRetry accepts a repeated signature of type st only from an actor who
// could have given it: a member of a company that signed it, or of a company
// still allowed to, directly or through its security code.
func checkRetry(b *Bordereau, st SignatureType, segment int, actor Actor, creds Credentials) error {
	var orgIDs []string
	for _, s := range b.Signatures {
		if s.Type == st && s.Segment == segment && s.OrgID != "" {
			orgIDs = append(orgIDs, s.OrgID)
		}
	}
	for _, c := range signerCandidates(b, st, segment, creds) {
		orgIDs = append(orgIDs, c.OrgID)
	}
	for _, orgID := range orgIDs {
		if actor.BelongsTo(orgID) || creds.codeMatches(orgID) {
			return nil
		}
	}
	return &UnauthorizedSignerError{Signature: st, Expected: orgIDs}
}

// parentDrivenSignatures are given by a synthesis on behalf of its children.
var parentDrivenSignatures = map[SignatureType]bool{
	SignatureTransport:   true,
	SignatureReception:   true,
	SignatureAcceptation: true,
	SignatureOperation:   true,
}

// SignRequest carries the caller's part of a signature.
type SignRequest struct {
	Type   SignatureType
	Author string
	Date   time.Time
}

// Result is a computed, not yet applied, lifecycle step.
type Result struct {
	From      Status
	To        Status
	NoOp      bool
	Signature *Signature
	Effects   Effects
}

// Sign validates a signature of b and computes the resulting status. It
// checks idempotency first, then the status graph, the signer and the
// required fields. b is not modified; use Apply.
func Sign(b *Bordereau, req SignRequest, actor Actor, creds Credentials) (*Result, error) {
	g, err := GraphFor(b.Type)
	if err != nil {
		return nil, err
	}
	key, done := SignatureIdentity(b, req.Type)
	if done {
		if err := checkRetry(b, req.Type, key.Segment, actor, creds); err != nil {
			return nil, err
		}
		return &Result{From: b.Status, To: b.Status, NoOp: true}, nil
	}
	if req.Type == SignatureTransport && transportedBy(b, key, actor) {
		return &Result{From: b.Status, To: b.Status, NoOp: true}, nil
	}
	if b.IsCanceled {
		return nil, &InvalidTransitionError{Type: b.Type, From: b.Status, Trigger: string(req.Type), Reason: "bordereau is canceled"}
	}
	if b.SynthesizedInID != "" && parentDrivenSignatures[req.Type] {
		return nil, &InvalidTransitionError{
			Type: b.Type, From: b.Status, Trigger: string(req.Type),
			Reason: "driven by synthesis " + b.SynthesizedInID,
		}
	}

	trigger := SignTrigger(req.Type, key.Segment, "")
	if req.Type == SignatureReception || req.Type == SignatureAcceptation {
		trigger.Acceptation = b.receptionAt(key.Segment).AcceptationStatus
	}
	if err := g.Accepts(b, b.Status, trigger); err != nil {
		return nil, err
	}
	auth, err := CanSign(b, req.Type, key.Segment, actor, creds)
	if err != nil {
		return nil, err
	}
	if missing := MissingForSignature(b, req.Type, key.Segment); len(missing) > 0 {
		return nil, &MissingFieldsError{Fields: missing}
	}
	next, err := g.Next(b, b.Status, trigger)
	if err != nil {
		return nil, err
	}
	effects := effectsOf(b, trigger, next)

	author := req.Author
	if author == "" {
		author = actor.Name
	}
	return &Result{
		From:    b.Status,
		To:      next,
		Effects: effects,
		Signature: &Signature{
			Type:              key.Type,
			Segment:           key.Segment,
			TransporterNumber: key.TransporterNumber,
			Author:            author,
			OrgID:             auth.OrgID,
			SignedBy:          auth.SignedBy,
			Acceptation:       trigger.Acceptation,
			Date:              req.Date,
		},
	}, nil
}

// Apply records a computed step on b.
func Apply(b *Bordereau, res *Result) {
	if res == nil || res.NoOp {
		return
	}
	b.Status = res.To
	if res.Signature != nil {
		b.Signatures = append(b.Signatures, *res.Signature)
		if res.Effects.Has(EffectReconcileQuantities) {
			reconcileReception(b.receptionAt(res.Signature.Segment), b.LegacyQuantities)
		}
	}
}

// Seal finalizes a draft: DRAFT to SEALED for BSDD, isDraft cleared for the others.
func Seal(b *Bordereau, actor Actor) (*Result, error) {
	if !b.IsDraft {
		return &Result{From: b.Status, To: b.Status, NoOp: true}, nil
	}
	if !actor.IsPartyTo(b) {
		return nil, &ForbiddenError{Reason: "actor is not a party to the bordereau"}
	}
	if missing := MissingForSeal(b); len(missing) > 0 {
		return nil, &MissingFieldsError{Fields: missing}
	}
	next, _, err := Transition(b, SealTrigger())
	if err != nil {
		return nil, err
	}
	return &Result{From: b.Status, To: next}, nil
}

// ApplySeal records a computed finalization.
func ApplySeal(b *Bordereau, res *Result) {
	if res.NoOp {
		return
	}
	b.IsDraft = false
	b.Status = res.To
}

// Reseal lets a BSDD temp storer declare the second leg once the waste is accepted.
func Reseal(b *Bordereau, actor Actor) (*Result, error) {
	if b.TemporaryStorage != nil && b.TemporaryStorage.ResealedAt != nil {
		return &Result{From: b.Status, To: b.Status, NoOp: true}, nil
	}
	if !actor.BelongsTo(b.Destination.OrgID()) {
		return nil, &UnauthorizedSignerError{Signature: SignatureTempStorer, Expected: []string{b.Destination.OrgID()}}
	}
	next, _, err := Transition(b, ResealTrigger())
	if err != nil {
		return nil, err
	}
	if missing := check(b, 0, []requirement{reqTempDestination}); len(missing) > 0 {
		return nil, &MissingFieldsError{Fields: missing}
	}
	return &Result{From: b.Status, To: next}, nil
}

// ApplyReseal records a computed reseal.
func ApplyReseal(b *Bordereau, res *Result, now time.Time) {
	if res.NoOp {
		return
	}
	b.Status = res.To
	tempStorage(b).ResealedAt = &now
}

// CheckEditable rejects changes that touch locked or unknown fields.
func CheckEditable(b *Bordereau, changes Changes) error {
	if b.IsCanceled {
		return &InvalidTransitionError{Type: b.Type, From: b.Status, Trigger: "UPDATE", Reason: "bordereau is canceled"}
	}
	locked := LockedFields(b)
	var rejected []Field
	for _, f := range changes.Fields() {
		if _, ok := fieldDefs[f]; !ok {
			return &InvalidFieldError{Field: f, Reason: "unknown field"}
		}
		if locked[f] {
			rejected = append(rejected, f)
			continue
		}
		if f == FieldTransporters {
			ok, err := keepsSignedLegs(b, changes[f])
			if err != nil {
				return err
			}
			if !ok {
				rejected = append(rejected, f)
			}
		}
	}
	if len(rejected) > 0 {
		return &LockedFieldsError{Fields: rejected}
	}
	return nil
}

// CheckDeletable allows deletion until a signature other than EMISSION exists.
func CheckDeletable(b *Bordereau) error {
	for _, s := range b.Signatures {
		if s.Type != SignatureEmission {
			return &InvalidTransitionError{Type: b.Type, From: b.Status, Trigger: "DELETE", Reason: string(s.Type) + " already signed"}
		}
	}
	if _, parent, linked := b.Parent(); linked {
		return &InvalidTransitionError{Type: b.Type, From: b.Status, Trigger: "DELETE", Reason: ErrLinkedIntoParent.Error() + " " + parent}
	}
	return nil
}
