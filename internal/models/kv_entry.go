package models

import (
	"time"

	"gorm.io/datatypes"
)

// KVEntry stores one JSON value of the key-value protocol.
type KVEntry struct {
	Key   string         `gorm:"type:text;primaryKey"` // Namespaced key, e.g. group:{id}.
	Value datatypes.JSON `gorm:"not null"`             // JSON encoded record.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName pins the table name.
func (KVEntry) TableName() string { return "kv_entries" }
