// Command server runs the storefront admin passkey API.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/linkshelf/storefront/internal/app"
	"github.com/linkshelf/storefront/internal/config"
	log "github.com/sirupsen/logrus"
)

func main() {
	var (
		configPath  string
		migrateOnly bool
	)
	flag.StringVar(&configPath, "config", "", "path to config.yaml (defaults to $WRITABLE_PATH/config.yaml or ./config.yaml)")
	flag.BoolVar(&migrateOnly, "migrate-only", false, "run database migrations and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if migrateOnly {
		if errMigrate := app.Migrate(ctx, cfg); errMigrate != nil {
			log.WithError(errMigrate).Fatal("migrate")
		}
		return
	}
	if errRun := app.RunServer(ctx, cfg); errRun != nil {
		log.WithError(errRun).Fatal("server stopped")
	}
}
