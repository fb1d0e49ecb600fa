package security

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWT validation errors.
var (
	// ErrInvalidToken indicates a token is malformed or fails validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken indicates a token has expired.
	ErrExpiredToken = errors.New("token expired")
)

// SessionClaims are carried by the admin session cookie.
type SessionClaims struct {
	SessionID string `json:"sid"`
	AdminID   uint64 `json:"admin_id"`
	jwt.RegisteredClaims
}

// GenerateSessionToken signs a session cookie token for the given server-side session.
func GenerateSessionToken(secret, sessionID string, adminID uint64, expiry time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("security: empty session secret")
	}
	now := time.Now().UTC()
	claims := SessionClaims{
		SessionID: sessionID,
		AdminID:   adminID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseSessionToken validates a session cookie token and returns its claims.
func ParseSessionToken(secret, tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.SessionID == "" || claims.AdminID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
