package main

import (
	"context"
	"errors"
	"flag"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/sirupsen/logrus"

	"github.com/technosupport/license-server/internal/config"
	"github.com/technosupport/license-server/internal/data"
	"github.com/technosupport/license-server/internal/data/migrations"
)

func main() {
	upCmd := flag.Bool("up", false, "Run all up migrations")
	downCmd := flag.Bool("down", false, "Rollback all migrations")
	stepsCmd := flag.Int("steps", 0, "Run +/- steps")
	forceCmd := flag.Int("force", -1, "Force the schema version and clear the dirty flag")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := config.NewLogger(cfg.Log).WithField("service", "migrator")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := data.Open(ctx, cfg.Database.DSN(), 2, 1, 0)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("database unavailable")
	}
	defer db.Close()

	m, err := migrations.New(db)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize migrate")
	}

	start := time.Now()
	switch {
	case *upCmd:
		log.Info("running up migrations")
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.WithError(err).Fatal("migration up failed")
		}
	case *downCmd:
		log.Info("running down migrations")
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.WithError(err).Fatal("migration down failed")
		}
	case *stepsCmd != 0:
		log.WithField("steps", *stepsCmd).Info("running migration steps")
		if err := m.Steps(*stepsCmd); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.WithError(err).Fatal("migration steps failed")
		}
	case *forceCmd >= 0:
		if err := m.Force(*forceCmd); err != nil {
			log.WithError(err).Fatal("force version failed")
		}
	default:
		log.Info("no command specified; use -up, -down, -steps or -force")
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Info("no migrations applied")
	case err != nil:
		log.WithError(err).Error("read schema version")
	default:
		log.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("current schema version")
	}
	log.WithField("duration", time.Since(start).String()).Info("done")
}
