package app

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MTES-MCT/trackdechets-sub032/repository/models"
)

// LedgerTx is one ledger transaction: the events committed by a single
// lifecycle operation.
type LedgerTx struct {
	OriginNodeID string        `json:"originNodeId"`
	Events       []LedgerEvent `json:"events"`
}

type LedgerEvent struct {
	ID        uint            `json:"id"`
	StreamID  string          `json:"streamId"`
	Type      string          `json:"type"`
	ActorID   string          `json:"actorId"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

func NewLedgerTx(nodeID string, events []models.Event) LedgerTx {
	tx := LedgerTx{OriginNodeID: nodeID, Events: make([]LedgerEvent, len(events))}
	for i, e := range events {
		tx.Events[i] = LedgerEvent{
			ID:        e.ID,
			StreamID:  e.StreamID,
			Type:      e.Type,
			ActorID:   e.ActorID,
			Data:      json.RawMessage(e.Data),
			CreatedAt: e.CreatedAt.UTC(),
		}
	}
	return tx
}

// Validate rejects batches the ledger cannot index.
func (tx *LedgerTx) Validate() error {
	if len(tx.Events) == 0 {
		return errors.New("empty event batch")
	}
	for i, e := range tx.Events {
		if e.ID == 0 || e.StreamID == "" || e.Type == "" {
			return fmt.Errorf("event %d: id, stream and type are required", i)
		}
	}
	return nil
}

func decodeTx(raw []byte) (*LedgerTx, error) {
	var tx LedgerTx
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("parsing ledger tx: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return &tx, nil
}

// TxID is the hex SHA-256 of the raw transaction, the same hash CometBFT
// reports for a broadcast transaction.
func TxID(raw []byte) string {
	hash := sha256.Sum256(raw)
	return hex.EncodeToString(hash[:])
}

func eventKey(streamID string, id uint) []byte {
	return fmt.Appendf(nil, "event:%s:%020d", streamID, id)
}

func streamPrefix(streamID string) []byte {
	return []byte("event:" + streamID + ":")
}
