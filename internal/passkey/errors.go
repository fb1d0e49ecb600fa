package passkey

import (
	"errors"
	"fmt"
)

// Kind classifies a passkey error so the transport can choose a status code.
type Kind int

// Error kinds.
const (
	// KindValidation is malformed or missing input.
	KindValidation Kind = iota + 1
	// KindNotFound is an unknown admin or credential.
	KindNotFound
	// KindForbidden is a disabled account or a refused provisioning.
	KindForbidden
	// KindState is a missing or expired challenge, or another client-actionable state problem.
	KindState
	// KindVerification is a failed ceremony verification.
	KindVerification
	// KindUnauthorized is a missing or invalid session.
	KindUnauthorized
	// KindInternal is an unexpected failure.
	KindInternal
)

// String returns the metric label for the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindState:
		return "state"
	case KindVerification:
		return "verification"
	case KindUnauthorized:
		return "unauthorized"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is returned by every Service operation. Message is safe to show to clients;
// Err carries the underlying cause and is only exposed outside production.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// internalMessage is the client-facing text for every internal error.
const internalMessage = "Internal server error"

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func validationError(message string) *Error {
	return newError(KindValidation, message, nil)
}

func internalError(err error) *Error {
	return newError(KindInternal, internalMessage, err)
}

// AsError extracts a passkey error. Unknown errors are reported as internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pkErr *Error
	if errors.As(err, &pkErr) {
		return pkErr
	}
	return internalError(err)
}

// Client-facing messages shared by the ceremonies and the transport.
const (
	MsgAdminNotFound         = "Admin not found"
	MsgAccountDisabled       = "Account is disabled"
	MsgNoCredentials         = "No security keys registered for this account"
	MsgCredentialNotFound    = "Credential not found"
	MsgCredentialRequired    = "Credential is required"
	MsgLastCredential        = "Cannot delete your only security key"
	MsgRegistrationExpired   = "Registration challenge not found or expired"
	MsgAuthenticationExpired = "Authentication challenge not found or expired"
	MsgRegistrationFailed    = "Registration verification failed"
	MsgAuthenticationFailed  = "Authentication failed"
	MsgCredentialExists      = "Security key is already registered"
	MsgInviteInvalid         = "Invite is invalid or has expired"
	MsgInviteRequired        = "An invite is required to register"
	MsgSignInToAddKey        = "Sign in to add another security key"
	MsgUnauthorized          = "Authentication required"
)
