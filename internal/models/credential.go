package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Credential is a WebAuthn public-key credential registered by an admin.
type Credential struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.
	AdminID uint64 `gorm:"not null;index"`           // Owning admin.

	CredentialID string `gorm:"type:varchar(1024);not null;uniqueIndex"` // Base64url raw credential ID.
	PublicKey    []byte `gorm:"not null"`                                // COSE-encoded public key.
	SignCount    uint32 `gorm:"type:bigint;not null;default:0"`          // Last accepted signature counter.

	Transports      datatypes.JSON // Transport hints as a JSON string array.
	DeviceName      string         `gorm:"type:varchar(100);not null"`
	AttestationType string         `gorm:"type:varchar(64)"`
	AAGUID          []byte
	BackupEligible  bool `gorm:"not null;default:false"`
	BackupState     bool `gorm:"not null;default:false"`

	LastUsedAt *time.Time // Last successful authentication with this credential.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName keeps credentials grouped with the admin tables.
func (Credential) TableName() string {
	return "admin_credentials"
}

// TransportList decodes the stored transport hints.
func (c Credential) TransportList() []string {
	if len(c.Transports) == 0 {
		return []string{}
	}
	var out []string
	if errUnmarshal := json.Unmarshal(c.Transports, &out); errUnmarshal != nil || out == nil {
		return []string{}
	}
	return out
}
