package models

import (
	"time"

	"gorm.io/datatypes"
)

// RevisionRequest is a proposed change to a signed bordereau
type RevisionRequest struct {
	ID          string `gorm:"column:revision_request_id;primaryKey;type:varchar(50)"`
	BordereauID string `gorm:"column:bordereau_id;type:varchar(40);index;not null"`
	// Set to BordereauID while the request is pending: at most one pending
	// request per bordereau.
	PendingBordereauID *string           `gorm:"column:pending_bordereau_id;type:varchar(40);uniqueIndex"`
	AuthoringOrgID     string            `gorm:"column:authoring_org_id;type:varchar(20);not null"`
	Changes            datatypes.JSONMap `gorm:"column:changes"`
	Comment            string            `gorm:"column:comment;type:text"`
	Status             string            `gorm:"column:status;type:varchar(20);not null"`
	CreatedAt          time.Time         `gorm:"column:created_at"`
	UpdatedAt          time.Time         `gorm:"column:updated_at"`

	// Relationships
	Approvals []RevisionRequestApproval `gorm:"foreignKey:RevisionRequestID"`
}

// RevisionRequestApproval is the decision of one approving company
type RevisionRequestApproval struct {
	ID                uint       `gorm:"column:approval_id;primaryKey;autoIncrement"`
	RevisionRequestID string     `gorm:"column:revision_request_id;type:varchar(50);uniqueIndex:idx_approval_org;not null"`
	ApproverOrgID     string     `gorm:"column:approver_org_id;type:varchar(20);uniqueIndex:idx_approval_org;not null"`
	Position          int        `gorm:"column:position;not null"`
	Status            string     `gorm:"column:status;type:varchar(20);not null"`
	Comment           string     `gorm:"column:comment;type:text"`
	DecidedAt         *time.Time `gorm:"column:decided_at"`
}
