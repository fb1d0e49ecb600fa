package models

import "time"

// Invite lets a specific email provision a new admin account.
type Invite struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Email     string  `gorm:"type:varchar(254);not null;index"`
	TokenHash string  `gorm:"type:text;not null"` // bcrypt hash of the invite token.
	Role      string  `gorm:"type:varchar(32);not null;default:'admin'"`
	CreatedBy *uint64 // Admin that issued the invite.

	ExpiresAt time.Time `gorm:"not null"`
	UsedAt    *time.Time

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

// TableName keeps invites grouped with the admin tables.
func (Invite) TableName() string {
	return "admin_invites"
}

// Usable reports whether the invite is unused and unexpired at now.
func (i Invite) Usable(now time.Time) bool {
	return i.UsedAt == nil && i.ExpiresAt.After(now)
}
