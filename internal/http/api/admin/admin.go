package admin

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/linkshelf/storefront/internal/config"
	"github.com/linkshelf/storefront/internal/http/api/admin/handlers"
	"github.com/linkshelf/storefront/internal/passkey"
	"github.com/linkshelf/storefront/internal/session"
	"gorm.io/gorm"
)

// Deps carries what the admin routes need.
type Deps struct {
	DB         *gorm.DB
	Service    *passkey.Service
	Sessions   session.Store
	Session    config.SessionConfig
	Production bool
}

// RegisterAdminRoutes registers the admin passkey API, health check and metrics.
func RegisterAdminRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.Service == nil || deps.Sessions == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/metrics", handlers.Metrics())

	auth := &sessionAuthenticator{
		service:    deps.Service,
		sessions:   deps.Sessions,
		secret:     deps.Session.Secret,
		cookieName: deps.Session.CookieName,
		now:        time.Now,
	}

	group := r.Group("/api/admin/auth")

	passkeyHandler := handlers.NewPasskeyHandler(deps.Service, deps.Sessions, deps.Session, deps.Production)
	group.POST("/register/options", auth.optionalSession(), passkeyHandler.RegisterOptions)
	group.POST("/register/verify", passkeyHandler.RegisterVerify)
	group.POST("/authenticate/options", passkeyHandler.AuthenticateOptions)
	group.POST("/authenticate/verify", passkeyHandler.AuthenticateVerify)

	authed := group.Group("")
	authed.Use(auth.requireSession())

	credentialHandler := handlers.NewCredentialHandler(deps.Service, deps.Production)
	authed.GET("/credentials", credentialHandler.List)
	authed.DELETE("/credentials/:id", credentialHandler.Delete)
	authed.PATCH("/credentials/:id", credentialHandler.Rename)

	authHandler := handlers.NewAuthHandler(deps.Service, deps.Sessions, deps.Session, deps.Production)
	authed.GET("/me", authHandler.Me)
	authed.POST("/logout", authHandler.Logout)
	authed.POST("/invites", authHandler.CreateInvite)
}
