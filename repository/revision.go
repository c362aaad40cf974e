package repository

import (
	"errors"

	"github.com/MTES-MCT/trackdechets-sub032/lifecycle"
	"github.com/MTES-MCT/trackdechets-sub032/repository/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// HasPendingRevision reports whether a PENDING request exists on the bordereau.
func (tx *Tx) HasPendingRevision(bordereauID string) (bool, error) {
	var count int64
	err := tx.db.Model(&models.RevisionRequest{}).
		Where("bordereau_id = ? AND status = ?", bordereauID, string(lifecycle.RevisionPending)).
		Count(&count).Error
	if err != nil {
		return false, translate(err, "RevisionRequest", bordereauID)
	}
	return count > 0, nil
}

// CreateRevision stores a request with its approvals. The pending-request
// unique index turns a concurrent second request into
// lifecycle.ErrConcurrentRevisionExists.
func (tx *Tx) CreateRevision(r *lifecycle.RevisionRequest) error {
	m := fromRevision(r)
	if err := tx.db.Omit(clause.Associations).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return lifecycle.ErrConcurrentRevisionExists
		}
		return translate(err, "RevisionRequest", r.ID)
	}
	if len(m.Approvals) > 0 {
		if err := tx.db.Create(&m.Approvals).Error; err != nil {
			return translate(err, "RevisionRequestApproval", r.ID)
		}
	}
	return nil
}

// LockRevision loads a request and locks it until the transaction ends.
func (tx *Tx) LockRevision(id string) (*lifecycle.RevisionRequest, error) {
	var m models.RevisionRequest
	err := tx.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("revision_request_id = ?", id).
		First(&m).Error
	if err != nil {
		return nil, translate(err, "RevisionRequest", id)
	}
	if err := tx.db.Where("revision_request_id = ?", id).Order("position").Find(&m.Approvals).Error; err != nil {
		return nil, translate(err, "RevisionRequestApproval", id)
	}
	return toRevision(&m), nil
}

// SaveRevision writes the request status and every approval decision.
func (tx *Tx) SaveRevision(r *lifecycle.RevisionRequest) error {
	m := fromRevision(r)
	err := tx.db.Model(&models.RevisionRequest{}).
		Where("revision_request_id = ?", r.ID).
		Updates(map[string]any{
			"status":               m.Status,
			"pending_bordereau_id": m.PendingBordereauID,
			"updated_at":           m.UpdatedAt,
		}).Error
	if err != nil {
		return translate(err, "RevisionRequest", r.ID)
	}
	for _, a := range m.Approvals {
		err := tx.db.Model(&models.RevisionRequestApproval{}).
			Where("revision_request_id = ? AND approver_org_id = ?", r.ID, a.ApproverOrgID).
			Updates(map[string]any{
				"status":     a.Status,
				"comment":    a.Comment,
				"decided_at": a.DecidedAt,
			}).Error
		if err != nil {
			return translate(err, "RevisionRequestApproval", r.ID)
		}
	}
	return nil
}

// RevisionsFor lists the requests of a bordereau, oldest first.
func (tx *Tx) RevisionsFor(bordereauID string) ([]*lifecycle.RevisionRequest, error) {
	var rows []models.RevisionRequest
	err := tx.db.Preload("Approvals", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("bordereau_id = ?", bordereauID).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, translate(err, "RevisionRequest", bordereauID)
	}
	out := make([]*lifecycle.RevisionRequest, len(rows))
	for i := range rows {
		out[i] = toRevision(&rows[i])
	}
	return out, nil
}
