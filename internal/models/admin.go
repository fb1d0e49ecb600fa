package models

import (
	"strings"
	"time"
)

// Admin roles.
const (
	// RoleAdmin is the default role for provisioned admins.
	RoleAdmin = "admin"
	// RoleOwner marks the storefront owner.
	RoleOwner = "owner"
)

// ChallengeKind identifies which ceremony issued a pending challenge.
type ChallengeKind string

// Challenge kinds.
const (
	// ChallengeRegistration is issued by register/options.
	ChallengeRegistration ChallengeKind = "registration"
	// ChallengeAuthentication is issued by authenticate/options.
	ChallengeAuthentication ChallengeKind = "authentication"
)

// Admin represents an administrator account stored in the database.
type Admin struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email string `gorm:"type:varchar(254);not null;uniqueIndex"` // Trimmed, lowercase login email.
	Name  string `gorm:"type:varchar(100);not null"`             // Display name.
	Role  string `gorm:"type:varchar(32);not null;default:'admin'"`

	Active bool `gorm:"not null;default:true"` // Whether the admin can sign in.

	LastLoginAt *time.Time // Last successful passkey authentication.

	// Outstanding WebAuthn challenge. Written and cleared as a unit; read through ActiveChallenge.
	Challenge          *string    `gorm:"type:text"`
	ChallengeKind      *string    `gorm:"type:varchar(32)"`
	ChallengeExpiresAt *time.Time `gorm:"index"`

	Credentials []Credential `gorm:"foreignKey:AdminID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// PendingChallenge is a challenge that has been issued and has not yet expired.
type PendingChallenge struct {
	Value     string
	Kind      ChallengeKind
	ExpiresAt time.Time
}

// ActiveChallenge returns the admin's outstanding challenge if both the value and
// the expiry are present and the expiry is strictly after now.
func (a Admin) ActiveChallenge(now time.Time) (PendingChallenge, bool) {
	if a.Challenge == nil || a.ChallengeExpiresAt == nil {
		return PendingChallenge{}, false
	}
	value := strings.TrimSpace(*a.Challenge)
	if value == "" {
		return PendingChallenge{}, false
	}
	if !a.ChallengeExpiresAt.After(now) {
		return PendingChallenge{}, false
	}
	kind := ChallengeKind("")
	if a.ChallengeKind != nil {
		kind = ChallengeKind(*a.ChallengeKind)
	}
	return PendingChallenge{Value: value, Kind: kind, ExpiresAt: *a.ChallengeExpiresAt}, true
}

// HasChallengeState reports whether any challenge column is set, expired or not.
func (a Admin) HasChallengeState() bool {
	return a.Challenge != nil || a.ChallengeKind != nil || a.ChallengeExpiresAt != nil
}
