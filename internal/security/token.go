package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"
)

// inviteTokenPrefix marks invite tokens so they are recognisable in support requests.
const inviteTokenPrefix = "inv_"

// bcryptCost defines the bcrypt work factor.
const bcryptCost = 12

// GenerateInviteToken creates a new random invite token.
func GenerateInviteToken() (string, error) {
	secret := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return "", fmt.Errorf("generate invite token: %w", err)
	}
	return inviteTokenPrefix + base64.RawURLEncoding.EncodeToString(secret), nil
}

// GenerateRandomString returns a hex-encoded random string of the given length.
func GenerateRandomString(length int) (string, error) {
	buf := make([]byte, (length+1)/2)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("generate random string: %w", err)
	}
	return hex.EncodeToString(buf)[:length], nil
}

// HashInviteToken hashes an invite token using bcrypt.
func HashInviteToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckInviteToken compares a bcrypt hash with a plaintext invite token.
func CheckInviteToken(hash, token string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}
