package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/linkshelf/storefront/internal/passkey"
)

// CredentialHandler manages the signed-in admin's security keys.
type CredentialHandler struct {
	service *passkey.Service
	errors  errorResponder
}

// NewCredentialHandler constructs a CredentialHandler.
func NewCredentialHandler(service *passkey.Service, production bool) *CredentialHandler {
	return &CredentialHandler{service: service, errors: errorResponder{production: production}}
}

type renameCredentialRequest struct {
	DeviceName string `json:"deviceName" binding:"required,max=100"`
}

// List returns the admin's credentials without key material.
func (h *CredentialHandler) List(c *gin.Context) {
	adminID, ok := readAdminIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": passkey.MsgUnauthorized})
		return
	}
	creds, err := h.service.ListCredentials(c.Request.Context(), adminID)
	if err != nil {
		h.errors.fail(c, err, 0)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credentials": creds})
}

// Delete removes one of the admin's credentials. The last credential cannot be removed.
func (h *CredentialHandler) Delete(c *gin.Context) {
	adminID, ok := readAdminIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": passkey.MsgUnauthorized})
		return
	}
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid credential id"})
		return
	}
	if err := h.service.DeleteCredential(c.Request.Context(), adminID, id); err != nil {
		h.errors.fail(c, err, 0)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Rename relabels one of the admin's credentials.
func (h *CredentialHandler) Rename(c *gin.Context) {
	adminID, ok := readAdminIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": passkey.MsgUnauthorized})
		return
	}
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid credential id"})
		return
	}
	var body renameCredentialRequest
	if errBind := bindStrictJSON(c, &body); errBind != nil {
		h.errors.bindFailed(c, errBind)
		return
	}
	label, err := h.service.RenameCredential(c.Request.Context(), adminID, id, body.DeviceName)
	if err != nil {
		h.errors.fail(c, err, 0)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deviceName": label})
}
