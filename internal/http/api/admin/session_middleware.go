package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/linkshelf/storefront/internal/http/api/admin/handlers"
	"github.com/linkshelf/storefront/internal/passkey"
	"github.com/linkshelf/storefront/internal/security"
	"github.com/linkshelf/storefront/internal/session"
	log "github.com/sirupsen/logrus"
)

// sessionAuthenticator resolves the admin behind the session cookie.
type sessionAuthenticator struct {
	service    *passkey.Service
	sessions   session.Store
	secret     string
	cookieName string
	now        func() time.Time
}

var errNoSession = errors.New("no admin session")

// resolve validates the cookie token, the server-side session and the admin's status.
func (a *sessionAuthenticator) resolve(c *gin.Context) (session.Session, passkey.AdminProfile, error) {
	token, errCookie := c.Cookie(a.cookieName)
	if errCookie != nil || token == "" {
		return session.Session{}, passkey.AdminProfile{}, errNoSession
	}
	claims, errParse := security.ParseSessionToken(a.secret, token)
	if errParse != nil {
		return session.Session{}, passkey.AdminProfile{}, errNoSession
	}

	sess, found, errGet := a.sessions.Get(c.Request.Context(), claims.SessionID)
	if errGet != nil {
		return session.Session{}, passkey.AdminProfile{}, errGet
	}
	if !found || sess.AdminID != claims.AdminID || sess.Expired(a.now()) {
		return session.Session{}, passkey.AdminProfile{}, errNoSession
	}

	profile, errProfile := a.service.Profile(c.Request.Context(), sess.AdminID)
	if errProfile != nil {
		if pkErr := passkey.AsError(errProfile); pkErr.Kind == passkey.KindForbidden {
			if errDelete := a.sessions.Delete(c.Request.Context(), sess.ID); errDelete != nil {
				log.WithError(errDelete).Warn("revoke session of disabled admin failed")
			}
		}
		return session.Session{}, passkey.AdminProfile{}, errProfile
	}
	return sess, profile, nil
}

func setSessionContext(c *gin.Context, sess session.Session, profile passkey.AdminProfile) {
	c.Set(handlers.ContextAdminID, profile.ID)
	c.Set(handlers.ContextSessionID, sess.ID)
	c.Set(handlers.ContextAdminProfile, profile)
}

// requireSession rejects requests without a valid session for an active admin.
func (a *sessionAuthenticator) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, profile, err := a.resolve(c)
		if err != nil {
			abortSession(c, err)
			return
		}
		setSessionContext(c, sess, profile)
		c.Next()
	}
}

// optionalSession attaches the session when one is present and valid, and otherwise
// lets the request continue anonymously.
func (a *sessionAuthenticator) optionalSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, profile, err := a.resolve(c)
		if err == nil {
			setSessionContext(c, sess, profile)
		} else if !errors.Is(err, errNoSession) {
			log.WithError(err).Debug("ignoring unusable admin session")
		}
		c.Next()
	}
}

func abortSession(c *gin.Context, err error) {
	if errors.Is(err, errNoSession) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": passkey.MsgUnauthorized})
		return
	}
	pkErr := passkey.AsError(err)
	switch pkErr.Kind {
	case passkey.KindForbidden:
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": pkErr.Message})
	case passkey.KindUnauthorized:
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": passkey.MsgUnauthorized})
	default:
		log.WithError(err).Error("admin session middleware error")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
