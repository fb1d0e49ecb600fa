package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/linkshelf/storefront/internal/passkey"
	log "github.com/sirupsen/logrus"
)

// Context keys set by the session middleware.
const (
	ContextAdminID      = "adminID"
	ContextSessionID    = "sessionID"
	ContextAdminProfile = "adminProfile"
)

// msgInvalidBody is returned when a request body is not a JSON object of the expected shape.
const msgInvalidBody = "Invalid request body"

// readAdminIDFromContext returns the admin ID from request context.
func readAdminIDFromContext(c *gin.Context) (uint64, bool) {
	value, ok := c.Get(ContextAdminID)
	if !ok {
		return 0, false
	}
	id, ok := value.(uint64)
	return id, ok && id != 0
}

// readSessionIDFromContext returns the session ID from request context.
func readSessionIDFromContext(c *gin.Context) (string, bool) {
	value, ok := c.Get(ContextSessionID)
	if !ok {
		return "", false
	}
	id, ok := value.(string)
	return id, ok && id != ""
}

// bindStrictJSON decodes the body into dst, rejecting unknown fields and trailing
// data, then runs the binding validator. An empty body decodes as an empty object.
func bindStrictJSON(c *gin.Context, dst any) error {
	if c.Request.Body != nil {
		decoder := json.NewDecoder(c.Request.Body)
		decoder.DisallowUnknownFields()
		if errDecode := decoder.Decode(dst); errDecode != nil && !errors.Is(errDecode, io.EOF) {
			return errDecode
		}
		if _, errTrailing := decoder.Token(); !errors.Is(errTrailing, io.EOF) {
			return errors.New("unexpected data after JSON body")
		}
	}
	if binding.Validator == nil {
		return nil
	}
	return binding.Validator.ValidateStruct(dst)
}

// bindErrorMessage turns a binding failure into a client-safe message.
func bindErrorMessage(err error) string {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return "Request body too large"
	}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		fe := validationErrs[0]
		field := lowerFirst(fe.Field())
		switch fe.Tag() {
		case "required":
			return fmt.Sprintf("%s is required", field)
		case "max":
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		default:
			return fmt.Sprintf("%s is invalid", field)
		}
	}
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return "Unknown field " + field
	}
	return msgInvalidBody
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// errorResponder renders passkey errors as JSON.
type errorResponder struct {
	production bool
}

// bindFailed renders a request decoding or validation failure.
func (r errorResponder) bindFailed(c *gin.Context, err error) {
	status := http.StatusBadRequest
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		status = http.StatusRequestEntityTooLarge
	}
	body := gin.H{"error": bindErrorMessage(err)}
	if !r.production {
		body["details"] = err.Error()
	}
	c.AbortWithStatusJSON(status, body)
}

// fail renders err. verificationStatus is the status used for failed ceremony verification.
func (r errorResponder) fail(c *gin.Context, err error, verificationStatus int) {
	pkErr := passkey.AsError(err)
	status := statusForKind(pkErr.Kind, verificationStatus)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error("admin auth request failed")
	}
	body := gin.H{"error": pkErr.Message}
	if !r.production && pkErr.Err != nil {
		body["details"] = pkErr.Err.Error()
	}
	c.AbortWithStatusJSON(status, body)
}

func statusForKind(kind passkey.Kind, verificationStatus int) int {
	switch kind {
	case passkey.KindValidation, passkey.KindState:
		return http.StatusBadRequest
	case passkey.KindNotFound:
		return http.StatusNotFound
	case passkey.KindForbidden:
		return http.StatusForbidden
	case passkey.KindUnauthorized:
		return http.StatusUnauthorized
	case passkey.KindVerification:
		if verificationStatus == 0 {
			return http.StatusBadRequest
		}
		return verificationStatus
	default:
		return http.StatusInternalServerError
	}
}
