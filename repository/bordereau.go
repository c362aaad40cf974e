package repository

import (
	"errors"
	"slices"

	"github.com/MTES-MCT/trackdechets-sub032/lifecycle"
	"github.com/MTES-MCT/trackdechets-sub032/repository/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxAncestry bounds the walk up the relation graph.
const maxAncestry = 64

// LockBordereau loads a bordereau and locks its row until the transaction ends.
func (tx *Tx) LockBordereau(id string) (*lifecycle.Bordereau, error) {
	return tx.loadBordereau(id, true)
}

// GetBordereau loads a bordereau without locking it.
func (tx *Tx) GetBordereau(id string) (*lifecycle.Bordereau, error) {
	return tx.loadBordereau(id, false)
}

// LockBordereaux locks several bordereaux in id order and returns them in
// the requested order.
func (tx *Tx) LockBordereaux(ids []string) ([]*lifecycle.Bordereau, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	byID := make(map[string]*lifecycle.Bordereau, len(ids))
	for _, id := range slices.Compact(sorted) {
		b, err := tx.LockBordereau(id)
		if err != nil {
			return nil, err
		}
		byID[id] = b
	}
	out := make([]*lifecycle.Bordereau, len(ids))
	for i, id := range ids {
		out[i] = byID[id]
	}
	return out, nil
}

func (tx *Tx) loadBordereau(id string, lock bool) (*lifecycle.Bordereau, error) {
	query := tx.db
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var m models.Bordereau
	if err := query.Where("bordereau_id = ?", id).First(&m).Error; err != nil {
		return nil, translate(err, "Bordereau", id)
	}
	if err := tx.db.Where("bordereau_id = ?", id).Order("number").Find(&m.Transporters).Error; err != nil {
		return nil, translate(err, "Transporter", id)
	}
	if err := tx.db.Where("bordereau_id = ?", id).Order("signature_id").Find(&m.Signatures).Error; err != nil {
		return nil, translate(err, "Signature", id)
	}
	var relations []models.Relation
	err := tx.db.Where("child_id = ? OR parent_id = ?", id, id).Order("position").Find(&relations).Error
	if err != nil {
		return nil, translate(err, "Relation", id)
	}

	b, err := toBordereau(&m, relations)
	if err != nil {
		return nil, &RepositoryError{Code: ErrCodeDatabase, Message: "Corrupted bordereau row", Detail: err.Error()}
	}
	return b, nil
}

func (tx *Tx) CreateBordereau(b *lifecycle.Bordereau) error {
	m, err := fromBordereau(b)
	if err != nil {
		return &RepositoryError{Code: ErrCodeDatabase, Message: "Failed to encode bordereau", Detail: err.Error()}
	}
	if err := tx.db.Omit(clause.Associations).Create(m).Error; err != nil {
		return translate(err, "Bordereau", b.ID)
	}
	if len(m.Transporters) > 0 {
		if err := tx.db.Create(&m.Transporters).Error; err != nil {
			return translate(err, "Transporter", b.ID)
		}
	}
	b.CreatedAt, b.UpdatedAt = m.CreatedAt, m.UpdatedAt
	return nil
}

// SaveBordereau writes every field and replaces the transporter list.
func (tx *Tx) SaveBordereau(b *lifecycle.Bordereau) error {
	m, err := fromBordereau(b)
	if err != nil {
		return &RepositoryError{Code: ErrCodeDatabase, Message: "Failed to encode bordereau", Detail: err.Error()}
	}
	if err := tx.db.Omit(clause.Associations).Save(m).Error; err != nil {
		return translate(err, "Bordereau", b.ID)
	}
	if err := tx.db.Where("bordereau_id = ?", b.ID).Delete(&models.Transporter{}).Error; err != nil {
		return translate(err, "Transporter", b.ID)
	}
	if len(m.Transporters) > 0 {
		if err := tx.db.Create(&m.Transporters).Error; err != nil {
			return translate(err, "Transporter", b.ID)
		}
	}
	b.UpdatedAt = m.UpdatedAt
	return nil
}

// DeleteBordereau removes a bordereau with its transporters, signatures,
// relations and revision requests. Its event stream is kept.
func (tx *Tx) DeleteBordereau(id string) error {
	var requestIDs []string
	if err := tx.db.Model(&models.RevisionRequest{}).Where("bordereau_id = ?", id).Pluck("revision_request_id", &requestIDs).Error; err != nil {
		return translate(err, "RevisionRequest", id)
	}
	if len(requestIDs) > 0 {
		if err := tx.db.Where("revision_request_id IN ?", requestIDs).Delete(&models.RevisionRequestApproval{}).Error; err != nil {
			return translate(err, "RevisionRequestApproval", id)
		}
		if err := tx.db.Where("revision_request_id IN ?", requestIDs).Delete(&models.RevisionRequest{}).Error; err != nil {
			return translate(err, "RevisionRequest", id)
		}
	}
	if err := tx.db.Where("child_id = ? OR parent_id = ?", id, id).Delete(&models.Relation{}).Error; err != nil {
		return translate(err, "Relation", id)
	}
	if err := tx.db.Where("bordereau_id = ?", id).Delete(&models.Signature{}).Error; err != nil {
		return translate(err, "Signature", id)
	}
	if err := tx.db.Where("bordereau_id = ?", id).Delete(&models.Transporter{}).Error; err != nil {
		return translate(err, "Transporter", id)
	}
	res := tx.db.Where("bordereau_id = ?", id).Delete(&models.Bordereau{})
	if res.Error != nil {
		return translate(res.Error, "Bordereau", id)
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, "Bordereau", id)
	}
	return nil
}

// InsertSignature records a signature. A signature with the same identity
// already recorded yields lifecycle.ErrAlreadySigned.
func (tx *Tx) InsertSignature(bordereauID string, s lifecycle.Signature) error {
	m := fromSignature(bordereauID, s)
	if err := tx.db.Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return lifecycle.ErrAlreadySigned
		}
		return translate(err, "Signature", bordereauID)
	}
	return nil
}

// Link records children under parent after the ones already linked.
func (tx *Tx) Link(kind lifecycle.RelationKind, parentID string, childIDs []string) error {
	var count int64
	if err := tx.db.Model(&models.Relation{}).Where("parent_id = ?", parentID).Count(&count).Error; err != nil {
		return translate(err, "Relation", parentID)
	}
	for i, childID := range childIDs {
		rel := models.Relation{ChildID: childID, ParentID: parentID, Kind: string(kind), Position: int(count) + i}
		if err := tx.db.Create(&rel).Error; err != nil {
			return translate(err, "Relation", childID)
		}
	}
	return nil
}

func (tx *Tx) Unlink(childID string) error {
	if err := tx.db.Where("child_id = ?", childID).Delete(&models.Relation{}).Error; err != nil {
		return translate(err, "Relation", childID)
	}
	return nil
}

// Ancestors returns the ids above id in the relation graph, nearest first.
func (tx *Tx) Ancestors(id string) ([]string, error) {
	var out []string
	current := id
	for range maxAncestry {
		var rel models.Relation
		err := tx.db.Where("child_id = ?", current).Limit(1).Find(&rel).Error
		if err != nil {
			return nil, translate(err, "Relation", current)
		}
		if rel.ParentID == "" {
			return out, nil
		}
		if slices.Contains(out, rel.ParentID) {
			return nil, &lifecycle.InvariantViolationError{Reason: "relation cycle above " + id}
		}
		out = append(out, rel.ParentID)
		current = rel.ParentID
	}
	return nil, lifecycle.ErrPropagationDepthExceeded
}

// Credentials collects what the company registry knows about orgIDs.
func (tx *Tx) Credentials(orgIDs []string, securityCode string) (lifecycle.Credentials, error) {
	creds := lifecycle.Credentials{
		SecurityCode:  securityCode,
		SecurityCodes: map[string]string{},
		EcoOrganismes: map[string]bool{},
	}
	if len(orgIDs) == 0 {
		return creds, nil
	}
	var companies []models.Company
	if err := tx.db.Where("org_id IN ?", orgIDs).Find(&companies).Error; err != nil {
		return creds, translate(err, "Company", "*")
	}
	for _, c := range companies {
		if c.SecurityCode != "" {
			creds.SecurityCodes[c.OrgID] = c.SecurityCode
		}
		if c.IsEcoOrganisme {
			creds.EcoOrganismes[c.OrgID] = true
		}
	}
	return creds, nil
}
