package orchestrator

import "github.com/MTES-MCT/trackdechets-sub032/lifecycle"

// Event types of the lifecycle stream
const (
	EventBsdCreated              = "BsdCreated"
	EventBsdUpdated              = "BsdUpdated"
	EventBsdSealed               = "BsdSealed"
	EventBsdSigned               = "BsdSigned"
	EventBsdResealed             = "BsdResealed"
	EventBsdDeleted              = "BsdDeleted"
	EventBsdLinked               = "BsdLinked"
	EventBsdUnlinked             = "BsdUnlinked"
	EventRevisionRequestCreated  = "RevisionRequestCreated"
	EventRevisionRequestAccepted = "RevisionRequestAccepted"
	EventRevisionRequestRefused  = "RevisionRequestRefused"
	EventRevisionRequestCanceled = "RevisionRequestCanceled"
	EventRevisionRequestApplied  = "RevisionRequestApplied"
)

type statusData struct {
	Type   lifecycle.BsdType `json:"type"`
	From   lifecycle.Status  `json:"from,omitempty"`
	Status lifecycle.Status  `json:"status"`
}

type updateData struct {
	Status lifecycle.Status  `json:"status"`
	Fields []lifecycle.Field `json:"fields,omitempty"`
	Reason string            `json:"reason,omitempty"`
}

type signedData struct {
	Signature lifecycle.Signature `json:"signature"`
	From      lifecycle.Status    `json:"from"`
	Status    lifecycle.Status    `json:"status"`
	Effects   lifecycle.Effects   `json:"effects,omitempty"`
}

type linkData struct {
	Kind     lifecycle.RelationKind `json:"kind"`
	ParentID string                 `json:"parentId"`
	ChildIDs []string               `json:"childIds"`
}

type revisionData struct {
	RevisionRequestID string                   `json:"revisionRequestId"`
	Status            lifecycle.RevisionStatus `json:"status"`
	OrgID             string                   `json:"orgId,omitempty"`
	Fields            []lifecycle.Field        `json:"fields,omitempty"`
}
