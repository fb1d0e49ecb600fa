package models

import (
	"encoding/json"
	"time"
)

// Setting is a runtime override stored in the database, keyed by name.
// Values are JSON so strings and string lists share one column.
type Setting struct {
	Key       string          `gorm:"type:varchar(255);primaryKey"`
	Value     json.RawMessage `gorm:"type:jsonb"`
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime"`
}
