package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Prefix namespaces every key written by the application
const Prefix = "vai-na-lista:"

// entry is one cached value
type entry struct {
	Key       string    `gorm:"primaryKey;size:255"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (entry) TableName() string { return "cache_entries" }

// Store is the local key-value cache. Values are stored as JSON.
type Store struct {
	db *gorm.DB
}

// New creates a cache on db and makes sure its table exists
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate cache table: %w", err)
	}
	return &Store{db: db}, nil
}

// Set stores value under key
func (s *Store) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value %s: %w", key, err)
	}
	row := entry{Key: Prefix + key, Value: string(data)}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save cache value %s: %w", key, err)
	}
	return nil
}

// Get decodes the value stored under key into target. It reports false
// when the key is absent.
func (s *Store) Get(ctx context.Context, key string, target interface{}) (bool, error) {
	var row entry
	err := s.db.WithContext(ctx).Where("key = ?", Prefix+key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cache value %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(row.Value), target); err != nil {
		return false, fmt.Errorf("failed to decode cache value %s: %w", key, err)
	}
	return true, nil
}

// GetAs returns the value stored under key as a T
func GetAs[T any](ctx context.Context, s *Store, key string) (T, bool, error) {
	var v T
	found, err := s.Get(ctx, key, &v)
	return v, found, err
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("key = ?", Prefix+key).Delete(&entry{}).Error; err != nil {
		return fmt.Errorf("failed to remove cache value %s: %w", key, err)
	}
	return nil
}

// Keys returns the application keys without their prefix
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var rows []entry
	if err := s.db.WithContext(ctx).Select("key").Where("key LIKE ?", Prefix+"%").Order("key").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, strings.TrimPrefix(row.Key, Prefix))
	}
	return keys, nil
}

// RemoveOwned deletes every key of uid, that is every key ending in "/"+uid,
// and returns how many were removed
func (s *Store) RemoveOwned(ctx context.Context, uid string) (int, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		if !strings.HasSuffix(key, "/"+uid) {
			continue
		}
		if err := s.Remove(ctx, key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
