// Package session keeps server-side admin sessions so that logout and account
// deactivation take effect before the cookie expires.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidSession is returned when a session cannot be stored.
var ErrInvalidSession = errors.New("session: invalid session")

// Session is an authenticated admin session.
type Session struct {
	ID        string    `json:"id"`
	AdminID   uint64    `json:"admin_id"`
	UserAgent string    `json:"user_agent,omitempty"`
	IP        string    `json:"ip,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Store persists sessions.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, bool, error)
	Delete(ctx context.Context, id string) error
}

// New builds a session for an admin with a random ID.
func New(adminID uint64, ttl time.Duration, now time.Time) Session {
	now = now.UTC()
	return Session{
		ID:        uuid.NewString(),
		AdminID:   adminID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func validate(s Session) error {
	if s.ID == "" || s.AdminID == 0 || s.ExpiresAt.IsZero() {
		return ErrInvalidSession
	}
	return nil
}
