package passkey

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// Input limits.
const (
	MaxEmailLength      = 254
	MaxDeviceNameLength = 100
	DefaultDeviceName   = "Security Key"
)

// Email validation messages.
const (
	MsgEmailRequired  = "Email is required"
	MsgEmailNotString = "Email must be a string"
	MsgEmailTooLong   = "Email must be at most 254 characters"
	MsgEmailInvalid   = "Invalid email format"
)

var validate = validator.New()

// NormalizeEmail validates an email of any JSON type and returns it trimmed and lowercased.
// The JSON type is checked before any string handling.
func NormalizeEmail(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", validationError(MsgEmailRequired)
	}
	if trimmed[0] != '"' {
		return "", validationError(MsgEmailNotString)
	}
	var value string
	if errUnmarshal := json.Unmarshal(trimmed, &value); errUnmarshal != nil {
		return "", validationError(MsgEmailNotString)
	}
	return NormalizeEmailString(value)
}

// NormalizeEmailString applies the email rules to a value already known to be a string.
func NormalizeEmailString(value string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(value))
	if email == "" {
		return "", validationError(MsgEmailRequired)
	}
	if utf8.RuneCountInString(email) > MaxEmailLength {
		return "", validationError(MsgEmailTooLong)
	}
	if errVar := validate.Var(email, "email"); errVar != nil {
		return "", validationError(MsgEmailInvalid)
	}
	return email, nil
}

// deviceNameStripped lists characters removed from device labels.
const deviceNameStripped = "<>\"'`&;\\"

// SanitizeDeviceName trims, strips markup-significant and control characters,
// collapses whitespace and caps the label length. Empty results get DefaultDeviceName.
func SanitizeDeviceName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune(deviceNameStripped, r) {
			return -1
		}
		return r
	}, name)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if utf8.RuneCountInString(cleaned) > MaxDeviceNameLength {
		cleaned = strings.TrimSpace(string([]rune(cleaned)[:MaxDeviceNameLength]))
	}
	if cleaned == "" {
		return DefaultDeviceName
	}
	return cleaned
}

// nameFromEmail derives a display name from the local part of an email.
func nameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	local = strings.TrimSpace(local)
	if local == "" {
		return email
	}
	if utf8.RuneCountInString(local) > 100 {
		local = string([]rune(local)[:100])
	}
	return local
}
