package lifecycle

import "fmt"

// Action is what drives a transition.
type Action string

const (
	ActionSeal   Action = "SEAL"
	ActionReseal Action = "RESEAL"
	ActionSign   Action = "SIGN"
)

// Trigger is the input of the status graph. For signatures it carries
// the segment and the acceptation outcome recorded with it.
type Trigger struct {
	Action      Action
	Signature   SignatureType
	Segment     int
	Acceptation AcceptationStatus
}

func SealTrigger() Trigger   { return Trigger{Action: ActionSeal} }
func ResealTrigger() Trigger { return Trigger{Action: ActionReseal} }

func SignTrigger(st SignatureType, segment int, acceptation AcceptationStatus) Trigger {
	return Trigger{Action: ActionSign, Signature: st, Segment: segment, Acceptation: acceptation}
}

func (t Trigger) String() string {
	if t.Action == ActionSign {
		return string(t.Signature)
	}
	return string(t.Action)
}

func (t Trigger) step() string {
	if t.Action == ActionSign {
		return string(t.Signature)
	}
	return string(t.Action)
}

type edgeKey struct {
	from Status
	step string
}

// edge guards a transition and resolves its target status. Resolvers only
// read outcome fields, never b.Status, so the graph can replay history.
type edge struct {
	guard   func(b *Bordereau, t Trigger) string
	resolve func(b *Bordereau, t Trigger) (Status, error)
}

// StatusGraph is the transition table of one bordereau type.
type StatusGraph struct {
	bsdType BsdType
	initial Status
	edges   map[edgeKey]edge
	// awaiting is the status of a document waiting for a follow-up bordereau.
	awaiting Status
	// linked replaces awaiting once the document is grouped, when the type has one.
	linked      Status
	cancellable map[Status]bool
	signatures  []SignatureType
}

func newGraph(t BsdType, initial Status) *StatusGraph {
	return &StatusGraph{bsdType: t, initial: initial, edges: map[edgeKey]edge{}, cancellable: map[Status]bool{}}
}

func (g *StatusGraph) on(from Status, step any, e edge) *StatusGraph {
	key := edgeKey{from: from, step: fmt.Sprint(step)}
	g.edges[key] = e
	return g
}

func (g *StatusGraph) Type() BsdType   { return g.bsdType }
func (g *StatusGraph) Initial() Status { return g.initial }

// Signatures lists the signature types this graph knows about.
func (g *StatusGraph) Signatures() []SignatureType { return g.signatures }

// Cancellable reports whether a revision may cancel a document in status s.
func (g *StatusGraph) Cancellable(s Status) bool { return g.cancellable[s] }

// Awaiting is the status of a document ready to be grouped or forwarded.
func (g *StatusGraph) Awaiting() Status { return g.awaiting }

// Accepts reports whether the trigger is allowed from status from, and why not.
func (g *StatusGraph) Accepts(b *Bordereau, from Status, t Trigger) error {
	e, ok := g.edges[edgeKey{from: from, step: t.step()}]
	if !ok {
		return &InvalidTransitionError{Type: g.bsdType, From: from, Trigger: t.String()}
	}
	if e.guard != nil {
		if reason := e.guard(b, t); reason != "" {
			return &InvalidTransitionError{Type: g.bsdType, From: from, Trigger: t.String(), Reason: reason}
		}
	}
	return nil
}

// Next returns the status reached from status from on trigger t.
func (g *StatusGraph) Next(b *Bordereau, from Status, t Trigger) (Status, error) {
	if err := g.Accepts(b, from, t); err != nil {
		return "", err
	}
	return g.edges[edgeKey{from: from, step: t.step()}].resolve(b, t)
}

var graphs = map[BsdType]*StatusGraph{
	TypeBSDD:    bsddGraph(),
	TypeBSDA:    bsdaGraph(),
	TypeBSDASRI: bsdasriGraph(),
	TypeBSVHU:   bsvhuGraph(),
	TypeBSFF:    bsffGraph(),
	TypeBSPAOH:  bspaohGraph(),
}

// GraphFor selects the status graph of a bordereau type.
func GraphFor(t BsdType) (*StatusGraph, error) {
	g, ok := graphs[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return g, nil
}

// Transition computes the status reached by b on trigger t, with the side
// effects that step implies, without modifying b.
func Transition(b *Bordereau, t Trigger) (Status, Effects, error) {
	g, err := GraphFor(b.Type)
	if err != nil {
		return "", nil, err
	}
	next, err := g.Next(b, b.Status, t)
	if err != nil {
		return "", nil, err
	}
	return next, effectsOf(b, t, next), nil
}
