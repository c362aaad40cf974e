package lifecycle

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// BsdType is the bordereau family. It selects the status graph.
type BsdType string

const (
	TypeBSDD    BsdType = "BSDD"
	TypeBSDA    BsdType = "BSDA"
	TypeBSDASRI BsdType = "BSDASRI"
	TypeBSVHU   BsdType = "BSVHU"
	TypeBSFF    BsdType = "BSFF"
	TypeBSPAOH  BsdType = "BSPAOH"
)

// AllTypes lists every supported bordereau family.
var AllTypes = []BsdType{TypeBSDD, TypeBSDA, TypeBSDASRI, TypeBSVHU, TypeBSFF, TypeBSPAOH}

func (t BsdType) Valid() bool {
	return slices.Contains(AllTypes, t)
}

// Status is the lifecycle position of a bordereau.
type Status string

const (
	StatusDraft                   Status = "DRAFT"
	StatusInitial                 Status = "INITIAL"
	StatusSealed                  Status = "SEALED"
	StatusSignedByProducer        Status = "SIGNED_BY_PRODUCER"
	StatusSignedByEmitter         Status = "SIGNED_BY_EMITTER"
	StatusSignedByWorker          Status = "SIGNED_BY_WORKER"
	StatusSent                    Status = "SENT"
	StatusReceived                Status = "RECEIVED"
	StatusAccepted                Status = "ACCEPTED"
	StatusRefused                 Status = "REFUSED"
	StatusPartiallyRefused        Status = "PARTIALLY_REFUSED"
	StatusProcessed               Status = "PROCESSED"
	StatusNoTraceability          Status = "NO_TRACEABILITY"
	StatusAwaitingGroup           Status = "AWAITING_GROUP"
	StatusAwaitingChild           Status = "AWAITING_CHILD"
	StatusIntermediatelyProcessed Status = "INTERMEDIATELY_PROCESSED"
	StatusGrouped                 Status = "GROUPED"
	StatusFollowedWithPnttd       Status = "FOLLOWED_WITH_PNTTD"
	StatusTempStored              Status = "TEMP_STORED"
	StatusTempStorerAccepted      Status = "TEMP_STORER_ACCEPTED"
	StatusResealed                Status = "RESEALED"
	StatusSignedByTempStorer      Status = "SIGNED_BY_TEMP_STORER"
	StatusResent                  Status = "RESENT"
	StatusCanceled                Status = "CANCELED"
)

// SignatureType names a lifecycle step that a party attests to.
type SignatureType string

const (
	SignatureEmission    SignatureType = "EMISSION"
	SignatureWork        SignatureType = "WORK"
	SignatureTransport   SignatureType = "TRANSPORT"
	SignatureDelivery    SignatureType = "DELIVERY"
	SignatureReception   SignatureType = "RECEPTION"
	SignatureAcceptation SignatureType = "ACCEPTATION"
	SignatureOperation   SignatureType = "OPERATION"
	SignatureTempStorer  SignatureType = "SIGNED_BY_TEMP_STORER"
)

// AcceptationStatus is the destination's verdict on the received waste.
type AcceptationStatus string

const (
	AcceptationAccepted         AcceptationStatus = "ACCEPTED"
	AcceptationRefused          AcceptationStatus = "REFUSED"
	AcceptationPartiallyRefused AcceptationStatus = "PARTIALLY_REFUSED"
)

func (a AcceptationStatus) Valid() bool {
	switch a {
	case "", AcceptationAccepted, AcceptationRefused, AcceptationPartiallyRefused:
		return true
	}
	return false
}

// SignatureAuthor records on whose behalf an EMISSION signature was given.
type SignatureAuthor string

const (
	AuthorEmitter      SignatureAuthor = "EMITTER"
	AuthorEcoOrganisme SignatureAuthor = "ECO_ORGANISME"
)

// Company identifies a party by SIRET (French) or VAT number (foreign).
type Company struct {
	Siret     string `json:"siret,omitempty"`
	VatNumber string `json:"vatNumber,omitempty"`
	Name      string `json:"name,omitempty"`
	Address   string `json:"address,omitempty"`
	Contact   string `json:"contact,omitempty"`
	Mail      string `json:"mail,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Country   string `json:"country,omitempty"`
}

// OrgID returns the identifier used for authorization and approvals.
func (c Company) OrgID() string {
	if c.Siret != "" {
		return c.Siret
	}
	return c.VatNumber
}

func (c Company) IsForeign() bool {
	return c.Country != "" && c.Country != "FR"
}

func orgIDOf(c *Company) string {
	if c == nil {
		return ""
	}
	return c.OrgID()
}

// Transporter is one leg of a (possibly multi-modal) transport.
type Transporter struct {
	Number        int     `json:"number"`
	Company       Company `json:"company"`
	Plate         string  `json:"plate,omitempty"`
	TransportMode string  `json:"transportMode,omitempty"`
}

type Waste struct {
	Code        string              `json:"code,omitempty"`
	Description string              `json:"description,omitempty"`
	ADR         string              `json:"adr,omitempty"`
	Pop         bool                `json:"pop"`
	Quantity    decimal.NullDecimal `json:"quantity"`
}

// Reception holds what a destination recorded when the waste arrived.
// Quantities are in tonnes.
type Reception struct {
	AcceptationStatus AcceptationStatus   `json:"acceptationStatus,omitempty"`
	RefusalReason     string              `json:"refusalReason,omitempty"`
	QuantityReceived  decimal.NullDecimal `json:"quantityReceived"`
	QuantityRefused   decimal.NullDecimal `json:"quantityRefused"`
	QuantityAccepted  decimal.NullDecimal `json:"quantityAccepted"`
}

type Operation struct {
	Code            string   `json:"code,omitempty"`
	Mode            string   `json:"mode,omitempty"`
	Description     string   `json:"description,omitempty"`
	NoTraceability  bool     `json:"noTraceability"`
	NextDestination *Company `json:"nextDestination,omitempty"`
}

// TemporaryStorage is the second leg of a BSDD routed through a temp storer.
// The first leg's destination is the temp storer itself.
type TemporaryStorage struct {
	Destination          Company     `json:"destination"`
	DestinationCap       string      `json:"destinationCap,omitempty"`
	PlannedOperationCode string      `json:"plannedOperationCode,omitempty"`
	Transporter          Transporter `json:"transporter"`
	Reception            Reception   `json:"reception"`
	ResealedAt           *time.Time  `json:"resealedAt,omitempty"`
}

// Signature is an immutable attestation. Its identity is the triple
// (type, segment, transporter number).
type Signature struct {
	Type              SignatureType     `json:"type"`
	Segment           int               `json:"segment"`
	TransporterNumber int               `json:"transporterNumber"`
	Author            string            `json:"author"`
	OrgID             string            `json:"orgId"`
	SignedBy          SignatureAuthor   `json:"signedBy,omitempty"`
	Acceptation       AcceptationStatus `json:"acceptation,omitempty"`
	ViaParentID       string            `json:"viaParentId,omitempty"`
	Date              time.Time         `json:"date"`
}

type SignatureKey struct {
	Type              SignatureType
	Segment           int
	TransporterNumber int
}

func (s Signature) Key() SignatureKey {
	return SignatureKey{Type: s.Type, Segment: s.Segment, TransporterNumber: s.TransporterNumber}
}

// Bordereau is the tracking document snapshot the engine works on.
type Bordereau struct {
	ID               string    `json:"id"`
	Type             BsdType   `json:"type"`
	Status           Status    `json:"status"`
	IsDraft          bool      `json:"isDraft"`
	IsCanceled       bool      `json:"isCanceled"`
	IsSynthesis      bool      `json:"isSynthesis"`
	LegacyQuantities bool      `json:"legacyQuantities"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`

	Emitter      Company       `json:"emitter"`
	EcoOrganisme *Company      `json:"ecoOrganisme,omitempty"`
	Worker       *Company      `json:"worker,omitempty"`
	Trader       *Company      `json:"trader,omitempty"`
	Broker       *Company      `json:"broker,omitempty"`
	Transporters []Transporter `json:"transporters"`

	Destination            Company           `json:"destination"`
	DestinationCap         string            `json:"destinationCap,omitempty"`
	PlannedOperationCode   string            `json:"plannedOperationCode,omitempty"`
	RecipientIsTempStorage bool              `json:"recipientIsTempStorage"`
	TemporaryStorage       *TemporaryStorage `json:"temporaryStorage,omitempty"`

	Waste     Waste     `json:"waste"`
	Reception Reception `json:"reception"`
	Operation Operation `json:"operation"`

	Signatures []Signature `json:"signatures"`

	ForwardedInID   string   `json:"forwardedInId,omitempty"`
	GroupedInID     string   `json:"groupedInId,omitempty"`
	SynthesizedInID string   `json:"synthesizedInId,omitempty"`
	Forwarding      []string `json:"forwarding,omitempty"`
	Grouping        []string `json:"grouping,omitempty"`
	Synthesizing    []string `json:"synthesizing,omitempty"`

	// ParentFinalizedAt is set when the grouping or forwarding parent
	// reached a final operation.
	ParentFinalizedAt *time.Time `json:"parentFinalizedAt,omitempty"`
}

func (b *Bordereau) HasSignature(key SignatureKey) bool {
	for _, s := range b.Signatures {
		if s.Key() == key {
			return true
		}
	}
	return false
}

// HasSignatureOfType reports whether any signature of type t exists, on any segment.
func (b *Bordereau) HasSignatureOfType(t SignatureType) bool {
	for _, s := range b.Signatures {
		if s.Type == t {
			return true
		}
	}
	return false
}

// segment is 1 once the temp storer has signed, 0 otherwise.
func (b *Bordereau) segment() int {
	if b.Type == TypeBSDD && b.HasSignatureOfType(SignatureTempStorer) {
		return 1
	}
	return 0
}

func (b *Bordereau) hasTempStorage() bool {
	return b.Type == TypeBSDD && b.RecipientIsTempStorage && b.TemporaryStorage != nil
}

// receptionAt returns the reception recorded on the given segment.
// Segment 0 of a temp-storage BSDD is the temp storer's reception.
func (b *Bordereau) receptionAt(segment int) *Reception {
	if segment == 0 && b.hasTempStorage() {
		return &b.TemporaryStorage.Reception
	}
	return &b.Reception
}

// ActiveReception is the reception the next RECEPTION or ACCEPTATION
// signature applies to.
func (b *Bordereau) ActiveReception() *Reception {
	return b.receptionAt(b.segment())
}

// transportersAt returns the transport legs of a segment.
func (b *Bordereau) transportersAt(segment int) []Transporter {
	if segment == 1 {
		if b.TemporaryStorage == nil {
			return nil
		}
		t := b.TemporaryStorage.Transporter
		t.Number = 1
		return []Transporter{t}
	}
	return b.Transporters
}

// receivingCompany is who signs RECEPTION and ACCEPTATION on a segment.
func (b *Bordereau) receivingCompany(segment int) Company {
	if segment == 1 && b.TemporaryStorage != nil {
		return b.TemporaryStorage.Destination
	}
	return b.Destination
}

// FinalDestination is the company that performs the treatment operation.
func (b *Bordereau) FinalDestination() Company {
	if b.hasTempStorage() {
		return b.TemporaryStorage.Destination
	}
	return b.Destination
}

// Children returns the ids linked under this bordereau, with their relation kind.
func (b *Bordereau) Children() map[RelationKind][]string {
	out := map[RelationKind][]string{}
	if len(b.Forwarding) > 0 {
		out[RelationForwarding] = b.Forwarding
	}
	if len(b.Grouping) > 0 {
		out[RelationGrouping] = b.Grouping
	}
	if len(b.Synthesizing) > 0 {
		out[RelationSynthesizing] = b.Synthesizing
	}
	return out
}

// Parent returns the relation linking this bordereau to its parent, if any.
func (b *Bordereau) Parent() (RelationKind, string, bool) {
	switch {
	case b.ForwardedInID != "":
		return RelationForwarding, b.ForwardedInID, true
	case b.GroupedInID != "":
		return RelationGrouping, b.GroupedInID, true
	case b.SynthesizedInID != "":
		return RelationSynthesizing, b.SynthesizedInID, true
	}
	return "", "", false
}

// Role is the capacity in which a company appears on a bordereau.
type Role string

const (
	RoleEmitter                Role = "EMITTER"
	RoleEcoOrganisme           Role = "ECO_ORGANISME"
	RoleWorker                 Role = "WORKER"
	RoleTransporter            Role = "TRANSPORTER"
	RoleDestination            Role = "DESTINATION"
	RoleTempStorageDestination Role = "TEMP_STORAGE_DESTINATION"
	RoleTrader                 Role = "TRADER"
	RoleBroker                 Role = "BROKER"
)

type Stakeholder struct {
	Role  Role
	OrgID string
}

// Stakeholders lists every company present on the bordereau, in role order.
// A company may appear under several roles.
func (b *Bordereau) Stakeholders() []Stakeholder {
	var out []Stakeholder
	add := func(r Role, id string) {
		if id != "" {
			out = append(out, Stakeholder{Role: r, OrgID: id})
		}
	}
	add(RoleEmitter, b.Emitter.OrgID())
	add(RoleEcoOrganisme, orgIDOf(b.EcoOrganisme))
	add(RoleWorker, orgIDOf(b.Worker))
	for _, t := range b.Transporters {
		add(RoleTransporter, t.Company.OrgID())
	}
	add(RoleDestination, b.Destination.OrgID())
	if b.hasTempStorage() {
		add(RoleTempStorageDestination, b.TemporaryStorage.Destination.OrgID())
		add(RoleTransporter, b.TemporaryStorage.Transporter.Company.OrgID())
	}
	add(RoleTrader, orgIDOf(b.Trader))
	add(RoleBroker, orgIDOf(b.Broker))
	return out
}

// IsStakeholder reports whether orgID appears on the bordereau under any role.
func (b *Bordereau) IsStakeholder(orgID string) bool {
	for _, s := range b.Stakeholders() {
		if s.OrgID == orgID {
			return true
		}
	}
	return false
}

// Actor is the authenticated user performing an operation.
type Actor struct {
	ID     string
	Name   string
	OrgIDs []string
}

func (a Actor) BelongsTo(orgID string) bool {
	return orgID != "" && slices.Contains(a.OrgIDs, orgID)
}

// IsPartyTo reports whether the actor belongs to any company on b.
func (a Actor) IsPartyTo(b *Bordereau) bool {
	for _, s := range b.Stakeholders() {
		if a.BelongsTo(s.OrgID) {
			return true
		}
	}
	return false
}
