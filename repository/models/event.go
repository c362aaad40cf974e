package models

import (
	"time"

	"gorm.io/datatypes"
)

// Event is one entry of the lifecycle event stream, written in the same
// transaction as the mutation it describes.
type Event struct {
	ID        uint           `gorm:"column:event_id;primaryKey;autoIncrement" json:"id"`
	StreamID  string         `gorm:"column:stream_id;type:varchar(50);index;not null" json:"streamId"`
	Type      string         `gorm:"column:type;type:varchar(40);not null" json:"type"`
	ActorID   string         `gorm:"column:actor_id;type:varchar(50)" json:"actorId"`
	Data      datatypes.JSON `gorm:"column:data" json:"data"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	LedgerTx  *string        `gorm:"column:ledger_tx;type:varchar(66)" json:"ledgerTx,omitempty"` // Null until published, empty without a ledger
}
