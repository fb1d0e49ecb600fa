package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/linkshelf/storefront/internal/config"
	"github.com/linkshelf/storefront/internal/passkey"
	"github.com/linkshelf/storefront/internal/session"
	log "github.com/sirupsen/logrus"
)

// AuthHandler handles session endpoints for signed-in admins.
type AuthHandler struct {
	service  *passkey.Service
	sessions session.Store
	cfg      config.SessionConfig
	errors   errorResponder
	secure   bool
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(service *passkey.Service, sessions session.Store, cfg config.SessionConfig, production bool) *AuthHandler {
	return &AuthHandler{
		service:  service,
		sessions: sessions,
		cfg:      cfg,
		errors:   errorResponder{production: production},
		secure:   production,
	}
}

// Me returns the signed-in admin's profile.
func (h *AuthHandler) Me(c *gin.Context) {
	if value, ok := c.Get(ContextAdminProfile); ok {
		if profile, okProfile := value.(passkey.AdminProfile); okProfile {
			c.JSON(http.StatusOK, gin.H{"admin": profile})
			return
		}
	}
	adminID, ok := readAdminIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": passkey.MsgUnauthorized})
		return
	}
	profile, err := h.service.Profile(c.Request.Context(), adminID)
	if err != nil {
		h.errors.fail(c, err, 0)
		return
	}
	c.JSON(http.StatusOK, gin.H{"admin": profile})
}

// Logout revokes the current session and clears the cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	if sessionID, ok := readSessionIDFromContext(c); ok {
		if errDelete := h.sessions.Delete(c.Request.Context(), sessionID); errDelete != nil {
			log.WithError(errDelete).Error("delete admin session failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
	}
	setSessionCookie(c, h.cfg.CookieName, "", 0, h.secure)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type createInviteRequest struct {
	Email json.RawMessage `json:"email"`
	Role  string          `json:"role" binding:"max=32"`
}

// CreateInvite issues a single-use invite. The token is only returned here.
func (h *AuthHandler) CreateInvite(c *gin.Context) {
	adminID, ok := readAdminIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": passkey.MsgUnauthorized})
		return
	}
	var body createInviteRequest
	if errBind := bindStrictJSON(c, &body); errBind != nil {
		h.errors.bindFailed(c, errBind)
		return
	}
	invite, err := h.service.CreateInvite(c.Request.Context(), adminID, body.Email, body.Role)
	if err != nil {
		h.errors.fail(c, err, 0)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"invite": invite})
}
