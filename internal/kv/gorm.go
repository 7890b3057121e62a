package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tipidbuddy/tipidbuddy-server/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists values in the kv_entries table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Get loads the value stored under key.
func (s *GormStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("kv gorm: not initialized")
	}
	var row models.KVEntry
	errFind := s.db.WithContext(ctx).Where("key = ?", key).Take(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get", key, errFind)
	}
	return []byte(row.Value), nil
}

// Set upserts the value stored under key.
func (s *GormStore) Set(ctx context.Context, key string, value []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("kv gorm: not initialized")
	}
	now := time.Now().UTC()
	record := models.KVEntry{
		Key:       key,
		Value:     datatypes.JSON(value),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&record).Error; err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

// Delete removes key.
func (s *GormStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("kv gorm: not initialized")
	}
	if err := s.db.WithContext(ctx).Where("key = ?", key).Delete(&models.KVEntry{}).Error; err != nil {
		return unavailable("delete", key, err)
	}
	return nil
}
