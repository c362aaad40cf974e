package models

import "time"

// Signature records one lifecycle signature. Its identity
// (bordereau, type, segment, transporter number) is unique, so a signature
// can never be recorded twice.
type Signature struct {
	ID                uint      `gorm:"column:signature_id;primaryKey;autoIncrement"`
	BordereauID       string    `gorm:"column:bordereau_id;type:varchar(40);uniqueIndex:idx_signature_identity;not null"`
	Type              string    `gorm:"column:type;type:varchar(30);uniqueIndex:idx_signature_identity;not null"`
	Segment           int       `gorm:"column:segment;uniqueIndex:idx_signature_identity;not null"`
	TransporterNumber int       `gorm:"column:transporter_number;uniqueIndex:idx_signature_identity;not null"`
	Author            string    `gorm:"column:author;type:varchar(100)"`
	OrgID             string    `gorm:"column:org_id;type:varchar(20);index"`
	SignedBy          string    `gorm:"column:signed_by;type:varchar(20)"`
	Acceptation       string    `gorm:"column:acceptation;type:varchar(20)"`
	ViaParentID       *string   `gorm:"column:via_parent_id;type:varchar(40)"`
	SignedAt          time.Time `gorm:"column:signed_at;not null"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
}
