package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linkshelf/storefront/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RefreshDBConfigSnapshot reloads all settings from the database into the in-memory snapshot.
// It must run at startup before the relying party is built.
func RefreshDBConfigSnapshot(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var rows []models.Setting
	if errFind := db.WithContext(ctx).
		Select("key", "value", "updated_at").
		Order("key ASC").
		Find(&rows).Error; errFind != nil {
		return fmt.Errorf("settings: load: %w", errFind)
	}

	values := make(map[string]json.RawMessage, len(rows))
	newest := time.Time{}
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		values[key] = row.Value
		if updated := row.UpdatedAt.UTC(); updated.After(newest) {
			newest = updated
		}
	}

	StoreDBConfig(newest, values)
	return nil
}

// Put upserts a single setting. The snapshot is not refreshed.
func Put(ctx context.Context, db *gorm.DB, key string, value any) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("settings: empty key")
	}
	raw, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("settings: encode %s: %w", key, errMarshal)
	}
	row := models.Setting{Key: key, Value: raw, UpdatedAt: time.Now().UTC()}
	if errSave := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error; errSave != nil {
		return fmt.Errorf("settings: save %s: %w", key, errSave)
	}
	return nil
}
