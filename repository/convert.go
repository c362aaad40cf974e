package repository

import (
	"encoding/json"

	"github.com/MTES-MCT/trackdechets-sub032/lifecycle"
	"github.com/MTES-MCT/trackdechets-sub032/repository/models"
	"gorm.io/datatypes"
)

// parties holds the optional companies stored in one JSON column.
type parties struct {
	EcoOrganisme *lifecycle.Company `json:"ecoOrganisme,omitempty"`
	Worker       *lifecycle.Company `json:"worker,omitempty"`
	Trader       *lifecycle.Company `json:"trader,omitempty"`
	Broker       *lifecycle.Company `json:"broker,omitempty"`
}

func companyInfo(c lifecycle.Company) models.CompanyInfo {
	return models.CompanyInfo{
		Siret:     c.Siret,
		VatNumber: c.VatNumber,
		Name:      c.Name,
		Address:   c.Address,
		Contact:   c.Contact,
		Mail:      c.Mail,
		Phone:     c.Phone,
		Country:   c.Country,
	}
}

func company(c models.CompanyInfo) lifecycle.Company {
	return lifecycle.Company{
		Siret:     c.Siret,
		VatNumber: c.VatNumber,
		Name:      c.Name,
		Address:   c.Address,
		Contact:   c.Contact,
		Mail:      c.Mail,
		Phone:     c.Phone,
		Country:   c.Country,
	}
}

func toJSON(v any) (datatypes.JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func fromJSON(raw datatypes.JSON, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// fromBordereau maps a bordereau onto its row, transporters included.
// Signatures are inserted one by one and never rewritten.
func fromBordereau(b *lifecycle.Bordereau) (*models.Bordereau, error) {
	p, err := toJSON(parties{EcoOrganisme: b.EcoOrganisme, Worker: b.Worker, Trader: b.Trader, Broker: b.Broker})
	if err != nil {
		return nil, err
	}
	ts, err := toJSON(b.TemporaryStorage)
	if err != nil {
		return nil, err
	}
	next, err := toJSON(b.Operation.NextDestination)
	if err != nil {
		return nil, err
	}

	m := &models.Bordereau{
		ID:                     b.ID,
		Type:                   string(b.Type),
		Status:                 string(b.Status),
		IsDraft:                b.IsDraft,
		IsCanceled:             b.IsCanceled,
		IsSynthesis:            b.IsSynthesis,
		LegacyQuantities:       b.LegacyQuantities,
		Emitter:                companyInfo(b.Emitter),
		Parties:                p,
		Destination:            companyInfo(b.Destination),
		DestinationCap:         b.DestinationCap,
		PlannedOperationCode:   b.PlannedOperationCode,
		RecipientIsTempStorage: b.RecipientIsTempStorage,
		TemporaryStorage:       ts,
		WasteCode:              b.Waste.Code,
		WasteDescription:       b.Waste.Description,
		WasteADR:               b.Waste.ADR,
		WastePop:               b.Waste.Pop,
		WasteQuantity:          b.Waste.Quantity,
		AcceptationStatus:      string(b.Reception.AcceptationStatus),
		RefusalReason:          b.Reception.RefusalReason,
		QuantityReceived:       b.Reception.QuantityReceived,
		QuantityRefused:        b.Reception.QuantityRefused,
		QuantityAccepted:       b.Reception.QuantityAccepted,
		OperationCode:          b.Operation.Code,
		OperationMode:          b.Operation.Mode,
		OperationDescription:   b.Operation.Description,
		NoTraceability:         b.Operation.NoTraceability,
		NextDestination:        next,
		ParentFinalizedAt:      b.ParentFinalizedAt,
		CreatedAt:              b.CreatedAt,
		UpdatedAt:              b.UpdatedAt,
	}
	for _, t := range b.Transporters {
		m.Transporters = append(m.Transporters, models.Transporter{
			BordereauID:   b.ID,
			Number:        t.Number,
			Company:       companyInfo(t.Company),
			Plate:         t.Plate,
			TransportMode: t.TransportMode,
		})
	}
	return m, nil
}

func fromSignature(bordereauID string, s lifecycle.Signature) models.Signature {
	m := models.Signature{
		BordereauID:       bordereauID,
		Type:              string(s.Type),
		Segment:           s.Segment,
		TransporterNumber: s.TransporterNumber,
		Author:            s.Author,
		OrgID:             s.OrgID,
		SignedBy:          string(s.SignedBy),
		Acceptation:       string(s.Acceptation),
		SignedAt:          s.Date,
	}
	if s.ViaParentID != "" {
		m.ViaParentID = &s.ViaParentID
	}
	return m
}

func toSignature(m models.Signature) lifecycle.Signature {
	s := lifecycle.Signature{
		Type:              lifecycle.SignatureType(m.Type),
		Segment:           m.Segment,
		TransporterNumber: m.TransporterNumber,
		Author:            m.Author,
		OrgID:             m.OrgID,
		SignedBy:          lifecycle.SignatureAuthor(m.SignedBy),
		Acceptation:       lifecycle.AcceptationStatus(m.Acceptation),
		Date:              m.SignedAt,
	}
	if m.ViaParentID != nil {
		s.ViaParentID = *m.ViaParentID
	}
	return s
}

// toBordereau rebuilds a bordereau from its row and the relations it takes
// part in, as child or as parent.
func toBordereau(m *models.Bordereau, relations []models.Relation) (*lifecycle.Bordereau, error) {
	b := &lifecycle.Bordereau{
		ID:                     m.ID,
		Type:                   lifecycle.BsdType(m.Type),
		Status:                 lifecycle.Status(m.Status),
		IsDraft:                m.IsDraft,
		IsCanceled:             m.IsCanceled,
		IsSynthesis:            m.IsSynthesis,
		LegacyQuantities:       m.LegacyQuantities,
		CreatedAt:              m.CreatedAt,
		UpdatedAt:              m.UpdatedAt,
		Emitter:                company(m.Emitter),
		Destination:            company(m.Destination),
		DestinationCap:         m.DestinationCap,
		PlannedOperationCode:   m.PlannedOperationCode,
		RecipientIsTempStorage: m.RecipientIsTempStorage,
		Waste: lifecycle.Waste{
			Code:        m.WasteCode,
			Description: m.WasteDescription,
			ADR:         m.WasteADR,
			Pop:         m.WastePop,
			Quantity:    m.WasteQuantity,
		},
		Reception: lifecycle.Reception{
			AcceptationStatus: lifecycle.AcceptationStatus(m.AcceptationStatus),
			RefusalReason:     m.RefusalReason,
			QuantityReceived:  m.QuantityReceived,
			QuantityRefused:   m.QuantityRefused,
			QuantityAccepted:  m.QuantityAccepted,
		},
		Operation: lifecycle.Operation{
			Code:           m.OperationCode,
			Mode:           m.OperationMode,
			Description:    m.OperationDescription,
			NoTraceability: m.NoTraceability,
		},
		ParentFinalizedAt: m.ParentFinalizedAt,
	}

	var p parties
	if err := fromJSON(m.Parties, &p); err != nil {
		return nil, err
	}
	b.EcoOrganisme, b.Worker, b.Trader, b.Broker = p.EcoOrganisme, p.Worker, p.Trader, p.Broker
	if err := fromJSON(m.TemporaryStorage, &b.TemporaryStorage); err != nil {
		return nil, err
	}
	if err := fromJSON(m.NextDestination, &b.Operation.NextDestination); err != nil {
		return nil, err
	}

	for _, t := range m.Transporters {
		b.Transporters = append(b.Transporters, lifecycle.Transporter{
			Number:        t.Number,
			Company:       company(t.Company),
			Plate:         t.Plate,
			TransportMode: t.TransportMode,
		})
	}
	for _, s := range m.Signatures {
		b.Signatures = append(b.Signatures, toSignature(s))
	}

	for _, rel := range relations {
		kind := lifecycle.RelationKind(rel.Kind)
		if rel.ChildID == m.ID {
			switch kind {
			case lifecycle.RelationForwarding:
				b.ForwardedInID = rel.ParentID
			case lifecycle.RelationGrouping:
				b.GroupedInID = rel.ParentID
			case lifecycle.RelationSynthesizing:
				b.SynthesizedInID = rel.ParentID
			}
			continue
		}
		switch kind {
		case lifecycle.RelationForwarding:
			b.Forwarding = append(b.Forwarding, rel.ChildID)
		case lifecycle.RelationGrouping:
			b.Grouping = append(b.Grouping, rel.ChildID)
		case lifecycle.RelationSynthesizing:
			b.Synthesizing = append(b.Synthesizing, rel.ChildID)
		}
	}
	return b, nil
}

func fromRevision(r *lifecycle.RevisionRequest) *models.RevisionRequest {
	m := &models.RevisionRequest{
		ID:             r.ID,
		BordereauID:    r.BordereauID,
		AuthoringOrgID: r.AuthoringOrgID,
		Changes:        datatypes.JSONMap{},
		Comment:        r.Comment,
		Status:         string(r.Status),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.Status == lifecycle.RevisionPending {
		m.PendingBordereauID = &m.BordereauID
	}
	for f, v := range r.Changes {
		m.Changes[string(f)] = v
	}
	for i, a := range r.Approvals {
		m.Approvals = append(m.Approvals, models.RevisionRequestApproval{
			RevisionRequestID: r.ID,
			ApproverOrgID:     a.ApproverOrgID,
			Position:          i,
			Status:            string(a.Status),
			Comment:           a.Comment,
			DecidedAt:         a.DecidedAt,
		})
	}
	return m
}

func toRevision(m *models.RevisionRequest) *lifecycle.RevisionRequest {
	r := &lifecycle.RevisionRequest{
		ID:             m.ID,
		BordereauID:    m.BordereauID,
		AuthoringOrgID: m.AuthoringOrgID,
		Changes:        lifecycle.Changes{},
		Comment:        m.Comment,
		Status:         lifecycle.RevisionStatus(m.Status),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	for k, v := range m.Changes {
		r.Changes[lifecycle.Field(k)] = v
	}
	for _, a := range m.Approvals {
		r.Approvals = append(r.Approvals, lifecycle.Approval{
			ApproverOrgID: a.ApproverOrgID,
			Status:        lifecycle.RevisionStatus(a.Status),
			Comment:       a.Comment,
			DecidedAt:     a.DecidedAt,
		})
	}
	return r
}
