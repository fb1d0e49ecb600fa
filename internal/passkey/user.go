package passkey

import (
	"encoding/base64"
	"encoding/binary"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/linkshelf/storefront/internal/models"
)

// adminUser adapts an admin and its stored credentials to webauthn.User.
type adminUser struct {
	id          uint64
	email       string
	name        string
	credentials []webauthn.Credential
}

// WebAuthnID returns the admin ID as an 8-byte big-endian handle.
func (u adminUser) WebAuthnID() []byte {
	return adminHandle(u.id)
}

// WebAuthnName returns the admin email.
func (u adminUser) WebAuthnName() string {
	return u.email
}

// WebAuthnDisplayName returns the admin name, falling back to the email.
func (u adminUser) WebAuthnDisplayName() string {
	if strings.TrimSpace(u.name) == "" {
		return u.email
	}
	return u.name
}

// WebAuthnCredentials returns the admin's registered credentials.
func (u adminUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func adminHandle(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

func newAdminUser(admin models.Admin, stored []models.Credential) adminUser {
	user := adminUser{
		id:          admin.ID,
		email:       admin.Email,
		name:        admin.Name,
		credentials: make([]webauthn.Credential, 0, len(stored)),
	}
	for _, cred := range stored {
		converted, ok := toWebAuthnCredential(cred)
		if !ok {
			continue
		}
		user.credentials = append(user.credentials, converted)
	}
	return user
}

// toWebAuthnCredential rebuilds the library credential from a stored row.
func toWebAuthnCredential(cred models.Credential) (webauthn.Credential, bool) {
	rawID, errDecode := decodeCredentialID(cred.CredentialID)
	if errDecode != nil || len(rawID) == 0 {
		return webauthn.Credential{}, false
	}
	transports := make([]protocol.AuthenticatorTransport, 0)
	for _, t := range cred.TransportList() {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return webauthn.Credential{
		ID:              rawID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: cred.BackupEligible,
			BackupState:    cred.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    cred.AAGUID,
			SignCount: cred.SignCount,
		},
	}, true
}

// encodeCredentialID renders a raw credential ID for storage.
func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCredentialID(encoded string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(encoded), "="))
}
