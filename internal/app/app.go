package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/linkshelf/storefront/internal/config"
	"github.com/linkshelf/storefront/internal/db"
	adminhttp "github.com/linkshelf/storefront/internal/http"
	"github.com/linkshelf/storefront/internal/http/api/admin"
	"github.com/linkshelf/storefront/internal/logging"
	"github.com/linkshelf/storefront/internal/passkey"
	"github.com/linkshelf/storefront/internal/security"
	"github.com/linkshelf/storefront/internal/session"
	"github.com/linkshelf/storefront/internal/settings"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// devSecretLength is the length of the random session secret generated in development.
const devSecretLength = 48

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	conn, err := db.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(conn) }()
	if errMigrate := db.Migrate(conn.WithContext(ctx)); errMigrate != nil {
		return errMigrate
	}
	log.Info("database migrated")
	return nil
}

// RunServer boots the admin API and the challenge janitor and blocks until ctx is
// cancelled or either of them fails.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	logCloser, errLog := logging.Setup(cfg)
	if errLog != nil {
		return errLog
	}
	defer func() { _ = logCloser.Close() }()

	if errSecret := ensureSessionSecret(&cfg); errSecret != nil {
		return errSecret
	}

	conn, err := db.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(conn) }()
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errRefresh := settings.RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
		return fmt.Errorf("load settings: %w", errRefresh)
	}

	rp := security.ResolveRelyingParty(cfg.WebAuthn)
	webAuthn, errWebAuthn := security.NewWebAuthn(cfg.WebAuthn)
	if errWebAuthn != nil {
		return fmt.Errorf("configure webauthn: %w", errWebAuthn)
	}
	log.WithFields(log.Fields{"rp_id": rp.ID, "origins": rp.Origins}).Info("webauthn relying party configured")

	sessions, closeSessions, errSessions := openSessionStore(ctx, cfg.Redis)
	if errSessions != nil {
		return errSessions
	}
	defer closeSessions()

	service := passkey.NewService(conn, webAuthn, passkey.Options{
		RPID:          rp.ID,
		ChallengeTTL:  cfg.WebAuthn.ChallengeTTL,
		RequireInvite: cfg.Registration.RequireInvite,
		InviteTTL:     cfg.Registration.InviteTTL,
	})
	janitor := passkey.NewJanitor(service.Store(), cfg.Janitor.Interval)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newEngine(cfg, conn, service, sessions),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return janitor.Run(groupCtx)
	})
	group.Go(func() error {
		log.Infof("admin API listening on %s (env=%s)", cfg.HTTP.Addr, cfg.Env)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", errServe)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down admin API")
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

// newEngine builds the gin engine with the admin routes mounted.
func newEngine(cfg config.AppConfig, conn *gorm.DB, service *passkey.Service, sessions session.Store) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), adminhttp.AccessLogMiddleware(), adminhttp.BodyLimitMiddleware(adminhttp.MaxBodyBytes))
	admin.RegisterAdminRoutes(engine, admin.Deps{
		DB:         conn,
		Service:    service,
		Sessions:   sessions,
		Session:    cfg.Session,
		Production: cfg.IsProduction(),
	})
	return engine
}

// openSessionStore connects to Redis when configured and otherwise keeps sessions in memory.
func openSessionStore(ctx context.Context, cfg config.RedisConfig) (session.Store, func(), error) {
	if cfg.Addr == "" {
		log.Warn("redis not configured, admin sessions are kept in memory")
		return session.NewMemoryStore(), func() {}, nil
	}
	client, err := session.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	log.Infof("admin sessions stored in redis at %s", cfg.Addr)
	return session.NewRedisStore(client), func() { _ = client.Close() }, nil
}

// ensureSessionSecret generates a throwaway secret in development. Production
// configs without a secret are rejected by config validation.
func ensureSessionSecret(cfg *config.AppConfig) error {
	if cfg.Session.Secret != "" {
		return nil
	}
	if cfg.IsProduction() {
		return errors.New("session secret is required in production")
	}
	secret, err := security.GenerateRandomString(devSecretLength)
	if err != nil {
		return fmt.Errorf("generate session secret: %w", err)
	}
	cfg.Session.Secret = secret
	log.Warn("session.secret not set, using a random secret; sessions will not survive a restart")
	return nil
}
