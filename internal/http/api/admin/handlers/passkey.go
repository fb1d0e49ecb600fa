package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/linkshelf/storefront/internal/config"
	"github.com/linkshelf/storefront/internal/passkey"
	"github.com/linkshelf/storefront/internal/security"
	"github.com/linkshelf/storefront/internal/session"
	log "github.com/sirupsen/logrus"
)

// PasskeyHandler serves the registration and authentication ceremonies.
type PasskeyHandler struct {
	service  *passkey.Service
	sessions session.Store
	cfg      config.SessionConfig
	errors   errorResponder
	secure   bool
	now      func() time.Time
}

// NewPasskeyHandler constructs a PasskeyHandler. Session cookies are marked Secure in production.
func NewPasskeyHandler(service *passkey.Service, sessions session.Store, cfg config.SessionConfig, production bool) *PasskeyHandler {
	return &PasskeyHandler{
		service:  service,
		sessions: sessions,
		cfg:      cfg,
		errors:   errorResponder{production: production},
		secure:   production,
		now:      time.Now,
	}
}

type registerOptionsRequest struct {
	Email       json.RawMessage `json:"email"`
	InviteToken string          `json:"inviteToken" binding:"max=128"`
}

type registerVerifyRequest struct {
	Email      json.RawMessage `json:"email"`
	Credential json.RawMessage `json:"credential" binding:"required"`
	DeviceName string          `json:"deviceName" binding:"max=100"`
}

type authenticateOptionsRequest struct {
	Email json.RawMessage `json:"email"`
}

type authenticateVerifyRequest struct {
	Email      json.RawMessage `json:"email"`
	Credential json.RawMessage `json:"credential" binding:"required"`
}

// RegisterOptions issues registration options. A signed-in admin may add keys to their own account.
func (h *PasskeyHandler) RegisterOptions(c *gin.Context) {
	var body registerOptionsRequest
	if errBind := bindStrictJSON(c, &body); errBind != nil {
		h.errors.bindFailed(c, errBind)
		return
	}
	actorID, _ := readAdminIDFromContext(c)

	creation, err := h.service.BeginRegistration(c.Request.Context(), passkey.BeginRegistrationInput{
		Email:        body.Email,
		InviteToken:  body.InviteToken,
		ActorAdminID: actorID,
	})
	if err != nil {
		h.errors.fail(c, err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, creation.Response)
}

// RegisterVerify completes a registration ceremony.
func (h *PasskeyHandler) RegisterVerify(c *gin.Context) {
	var body registerVerifyRequest
	if errBind := bindStrictJSON(c, &body); errBind != nil {
		h.errors.bindFailed(c, errBind)
		return
	}

	err := h.service.FinishRegistration(c.Request.Context(), passkey.FinishRegistrationInput{
		Email:      body.Email,
		Credential: body.Credential,
		DeviceName: body.DeviceName,
	})
	if err != nil {
		h.errors.fail(c, err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

// AuthenticateOptions issues authentication options scoped to the admin's credentials.
func (h *PasskeyHandler) AuthenticateOptions(c *gin.Context) {
	var body authenticateOptionsRequest
	if errBind := bindStrictJSON(c, &body); errBind != nil {
		h.errors.bindFailed(c, errBind)
		return
	}

	assertion, err := h.service.BeginAuthentication(c.Request.Context(), body.Email)
	if err != nil {
		h.errors.fail(c, err, http.StatusUnauthorized)
		return
	}
	c.JSON(http.StatusOK, assertion.Response)
}

// AuthenticateVerify completes an authentication ceremony and opens a session.
func (h *PasskeyHandler) AuthenticateVerify(c *gin.Context) {
	var body authenticateVerifyRequest
	if errBind := bindStrictJSON(c, &body); errBind != nil {
		h.errors.bindFailed(c, errBind)
		return
	}

	profile, err := h.service.FinishAuthentication(c.Request.Context(), passkey.FinishAuthenticationInput{
		Email:      body.Email,
		Credential: body.Credential,
	})
	if err != nil {
		h.errors.fail(c, err, http.StatusUnauthorized)
		return
	}

	sess := session.New(profile.ID, h.cfg.TTL, h.now())
	sess.UserAgent = c.Request.UserAgent()
	sess.IP = c.ClientIP()
	if errCreate := h.sessions.Create(c.Request.Context(), sess); errCreate != nil {
		log.WithError(errCreate).WithField("admin_id", profile.ID).Error("create admin session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	token, errToken := security.GenerateSessionToken(h.cfg.Secret, sess.ID, profile.ID, h.cfg.TTL)
	if errToken != nil {
		log.WithError(errToken).Error("sign admin session token failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	setSessionCookie(c, h.cfg.CookieName, token, h.cfg.TTL, h.secure)
	c.JSON(http.StatusOK, gin.H{"verified": true, "admin": profile})
}

// setSessionCookie writes the session cookie. A non-positive ttl expires it.
func setSessionCookie(c *gin.Context, name, value string, ttl time.Duration, secure bool) {
	maxAge := int(ttl / time.Second)
	if ttl <= 0 {
		maxAge = -1
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(name, value, maxAge, "/", "", secure, true)
}
