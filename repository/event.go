package repository

import (
	"context"
	"encoding/json"

	"github.com/MTES-MCT/trackdechets-sub032/repository/models"
)

// AppendEvent writes one event to the stream of streamID.
func (tx *Tx) AppendEvent(streamID, eventType, actorID string, data any) (*models.Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, &RepositoryError{Code: ErrCodeDatabase, Message: "Failed to encode event data", Detail: err.Error()}
	}
	e := models.Event{StreamID: streamID, Type: eventType, ActorID: actorID, Data: raw}
	if err := tx.db.Create(&e).Error; err != nil {
		return nil, translate(err, "Event", streamID)
	}
	return &e, nil
}

// Events returns the stream of streamID in write order.
func (r *Repository) Events(ctx context.Context, streamID string) ([]models.Event, error) {
	var events []models.Event
	err := r.db.WithContext(ctx).Where("stream_id = ?", streamID).Order("event_id").Find(&events).Error
	if err != nil {
		return nil, translate(err, "Event", streamID)
	}
	return events, nil
}

// UnpublishedEvents returns events not yet acknowledged by the ledger, oldest first.
func (r *Repository) UnpublishedEvents(ctx context.Context, limit int) ([]models.Event, error) {
	var events []models.Event
	err := r.db.WithContext(ctx).Where("ledger_tx IS NULL").Order("event_id").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, translate(err, "Event", "unpublished")
	}
	return events, nil
}

// MarkPublished records events as published. ledgerTx is the ledger
// transaction hash, empty for events published without a ledger.
func (r *Repository) MarkPublished(ctx context.Context, ids []uint, ledgerTx string) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&models.Event{}).
		Where("event_id IN ?", ids).
		Update("ledger_tx", ledgerTx).Error
	if err != nil {
		return translate(err, "Event", "publish")
	}
	return nil
}
