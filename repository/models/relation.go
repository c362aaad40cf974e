package models

import "time"

// Relation links a child bordereau to the parent that forwards, groups or
// synthesizes it. A child has at most one parent.
type Relation struct {
	ChildID   string    `gorm:"column:child_id;primaryKey;type:varchar(40)"`
	ParentID  string    `gorm:"column:parent_id;type:varchar(40);index;not null"`
	Kind      string    `gorm:"column:kind;type:varchar(20);not null"`
	Position  int       `gorm:"column:position;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
